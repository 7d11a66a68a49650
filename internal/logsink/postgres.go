package logsink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const defaultPostgresTable = "relay_logs"

// Postgres appends lines to a table keyed by a serial id.
type Postgres struct {
	db    *sql.DB
	table string
}

type PostgresOption func(*Postgres)

func WithPostgresTable(table string) PostgresOption {
	return func(p *Postgres) {
		if t := strings.TrimSpace(table); t != "" {
			p.table = t
		}
	}
}

// OpenPostgres opens a pgx-backed *sql.DB for dsn and verifies connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("logsink: postgres dsn must not be empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("logsink: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("logsink: ping postgres: %w", err)
	}
	return db, nil
}

func NewPostgres(db *sql.DB, opts ...PostgresOption) (*Postgres, error) {
	if db == nil {
		return nil, errors.New("logsink: db must not be nil")
	}
	p := &Postgres{db: db, table: defaultPostgresTable}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// EnsureSchema creates the log table when it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id          BIGSERIAL PRIMARY KEY,
    line        TEXT NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, quoteIdentifier(p.table))
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("logsink: postgres EnsureSchema: %w", err)
	}
	return nil
}

func (p *Postgres) Record(ctx context.Context, line string) error {
	query := fmt.Sprintf("INSERT INTO %s (line) VALUES ($1)", quoteIdentifier(p.table))
	if _, err := p.db.ExecContext(ctx, query, line); err != nil {
		return fmt.Errorf("logsink: postgres Record: %w", err)
	}
	return nil
}

func (p *Postgres) ReadAll(ctx context.Context) (Contents, error) {
	query := fmt.Sprintf("SELECT line FROM %s ORDER BY id", quoteIdentifier(p.table))
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return Contents{}, fmt.Errorf("logsink: postgres ReadAll: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	lines := []string{}
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return Contents{}, fmt.Errorf("logsink: postgres ReadAll scan: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return Contents{}, fmt.Errorf("logsink: postgres ReadAll rows: %w", err)
	}
	return LinesOf(lines), nil
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
