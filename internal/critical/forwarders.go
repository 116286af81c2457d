package critical

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dnyoussef/hooklog/internal/model"
	"github.com/dnyoussef/hooklog/internal/store"
)

// FileForwarder appends critical entries to a dedicated file, one per line.
type FileForwarder struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// NewFileForwarder appends to dir/name. The file is opened on first use.
func NewFileForwarder(dir, name string) *FileForwarder {
	return &FileForwarder{path: filepath.Join(dir, name)}
}

func (f *FileForwarder) Name() string { return "critical-file" }

// Path returns the file being appended to.
func (f *FileForwarder) Path() string { return f.path }

func (f *FileForwarder) Forward(ctx context.Context, _ *model.LogEntry, formatted []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.file == nil {
		if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
			return err
		}
		file, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open %s: %w", f.path, err)
		}
		f.file = file
	}
	line := make([]byte, len(formatted)+1)
	copy(line, formatted)
	line[len(formatted)] = '\n'
	_, err := f.file.Write(line)
	return err
}

func (f *FileForwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

// StoreForwarder records critical entries in the embedded store.
type StoreForwarder struct {
	st *store.Store
}

func NewStoreForwarder(st *store.Store) *StoreForwarder {
	return &StoreForwarder{st: st}
}

func (f *StoreForwarder) Name() string { return "critical-store" }

func (f *StoreForwarder) Forward(ctx context.Context, entry *model.LogEntry, formatted []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return f.st.Put(entry, formatted)
}

// Close closes the underlying store.
func (f *StoreForwarder) Close() error { return f.st.Close() }
