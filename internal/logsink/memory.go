package logsink

import (
	"context"
	"sync"
)

// Memory keeps lines for the lifetime of the process.
type Memory struct {
	mu    sync.RWMutex
	lines []string
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(_ context.Context, line string) error {
	m.mu.Lock()
	m.lines = append(m.lines, line)
	m.mu.Unlock()
	return nil
}

// ReadAll returns a copy of every recorded line.
func (m *Memory) ReadAll(_ context.Context) (Contents, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.lines))
	copy(out, m.lines)
	return LinesOf(out), nil
}
