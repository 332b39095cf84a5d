package listener

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/modoterra/logrelay/pkg/codec"
	"github.com/modoterra/logrelay/pkg/core"
)

// File appends entries to a file as JSON lines.
type File struct {
	name string
	path string
	mu   sync.Mutex
	f    *os.File
}

// NewFile opens (creating if needed) the file and its parent directories.
func NewFile(name, path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &File{name: name, path: path, f: f}, nil
}

func (l *File) Name() string { return l.name }

// Path returns the file being written.
func (l *File) Path() string { return l.path }

func (l *File) Deliver(_ context.Context, e *core.LogEntry) error {
	data, err := codec.EncodeJSON(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return fmt.Errorf("file listener %s is closed", l.name)
	}
	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", l.path, err)
	}
	return nil
}

// Close closes the underlying file.
func (l *File) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
