// Package logsink holds the relay's append-only diagnostic log. Every sink
// keeps lines in arrival order and never drops or rewrites them.
package logsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Sink is an append-only store of log lines.
type Sink interface {
	Record(ctx context.Context, line string) error
	ReadAll(ctx context.Context) (Contents, error)
}

// Contents is the full sink contents. Line-oriented sinks fill Lines; the
// file sink returns its raw text instead and sets IsRaw.
type Contents struct {
	Lines []string
	Raw   string
	IsRaw bool
}

// LinesOf returns Contents holding the given lines.
func LinesOf(lines []string) Contents {
	return Contents{Lines: lines}
}

// RawText returns Contents holding unsplit text.
func RawText(s string) Contents {
	return Contents{Raw: s, IsRaw: true}
}

// MarshalJSON encodes raw contents as a JSON string and line contents as a
// JSON array (never null).
func (c Contents) MarshalJSON() ([]byte, error) {
	if c.IsRaw {
		return json.Marshal(c.Raw)
	}
	if c.Lines == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Lines)
}

// Recorder writes lines to a Sink and mirrors each one to the console
// logger. A failed sink write is reported on the console and otherwise
// swallowed: the log is diagnostic and must not fail a request.
type Recorder struct {
	sink   Sink
	name   string
	logger *slog.Logger
}

func NewRecorder(sink Sink, name string, logger *slog.Logger) (*Recorder, error) {
	if sink == nil {
		return nil, errors.New("logsink: sink must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "unknown"
	}
	return &Recorder{sink: sink, name: name, logger: logger}, nil
}

func (r *Recorder) Record(ctx context.Context, line string) {
	r.logger.InfoContext(ctx, line, "sink", r.name)
	if err := r.sink.Record(ctx, line); err != nil {
		r.logger.WarnContext(ctx, "log sink write failed", "sink", r.name, "err", err)
	}
}

func (r *Recorder) Recordf(ctx context.Context, format string, args ...any) {
	r.Record(ctx, fmt.Sprintf(format, args...))
}

func (r *Recorder) ReadAll(ctx context.Context) (Contents, error) {
	return r.sink.ReadAll(ctx)
}
