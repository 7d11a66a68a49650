package logsink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// File appends lines to a flat text file opened in append mode. The file is
// never rotated or truncated.
type File struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// OpenFile opens (or creates) path for appending.
func OpenFile(path string) (*File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("logsink: file path must not be empty")
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logsink: open %q: %w", path, err)
	}
	return &File{path: path, f: f}, nil
}

func (s *File) Record(_ context.Context, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("logsink: file is closed")
	}
	if _, err := s.f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("logsink: append %q: %w", s.path, err)
	}
	return nil
}

// ReadAll returns the raw file text, newlines included.
func (s *File) ReadAll(_ context.Context) (Contents, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, err := os.ReadFile(s.path)
	if err != nil {
		return Contents{}, fmt.Errorf("logsink: read %q: %w", s.path, err)
	}
	return RawText(string(buf)), nil
}

func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}
