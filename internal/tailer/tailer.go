// Package tailer follows log files as they grow and decodes each appended
// line into an entry.
package tailer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/dnyoussef/hooklog/internal/model"
	"github.com/dnyoussef/hooklog/internal/parser"
	"github.com/dnyoussef/hooklog/internal/query"
	"github.com/dnyoussef/hooklog/internal/watcher"
	"github.com/fsnotify/fsnotify"
)

// Options configures a Tailer.
type Options struct {
	// FromStart reads files found at start-up from the beginning instead of
	// from their end. Checkpointed offsets take precedence.
	FromStart bool
	// Matcher drops entries that do not match. Nil keeps everything.
	Matcher *query.Matcher
}

// Tailer reads newly appended lines from watched files and emits entries.
type Tailer struct {
	mu     sync.Mutex
	files  map[string]*trackedFile
	out    chan model.LogEntry
	ckpt   *Checkpoint
	events <-chan watcher.Event
	watch  *watcher.Watcher
	dec    *parser.Decoder
	opts   Options
}

type trackedFile struct {
	path    string
	file    *os.File
	reader  *bufio.Reader
	offset  int64  // bytes consumed as complete lines
	partial []byte // trailing bytes without a newline yet
}

// New creates a Tailer that reads events from the given Watcher.
func New(w *watcher.Watcher, ckpt *Checkpoint, opts Options) *Tailer {
	return &Tailer{
		files:  make(map[string]*trackedFile),
		out:    make(chan model.LogEntry, 512),
		ckpt:   ckpt,
		events: w.Events,
		watch:  w,
		dec:    parser.NewDecoder(),
		opts:   opts,
	}
}

// Entries returns the channel decoded entries are sent on. It is closed when
// Start returns.
func (t *Tailer) Entries() <-chan model.LogEntry {
	return t.out
}

// Start processes watcher events until ctx is cancelled.
func (t *Tailer) Start(ctx context.Context) {
	defer close(t.out)

	for _, p := range t.watch.Paths() {
		t.openFile(p, t.opts.FromStart)
		t.readNewLines(ctx, p)
	}

	saveTicker := time.NewTicker(5 * time.Second)
	defer saveTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.saveCheckpoint()
			t.closeAll()
			return

		case ev, ok := <-t.events:
			if !ok {
				t.saveCheckpoint()
				t.closeAll()
				return
			}
			t.handleEvent(ctx, ev)

		case <-saveTicker.C:
			t.saveCheckpoint()
		}
	}
}

func (t *Tailer) handleEvent(ctx context.Context, ev watcher.Event) {
	switch {
	case ev.Op.Has(fsnotify.Create):
		// A new day's file or the fresh file after a rotation.
		t.closeFile(ev.Path)
		t.ckpt.Delete(ev.Path)
		t.openFile(ev.Path, true)
		t.readNewLines(ctx, ev.Path)

	case ev.Op.Has(fsnotify.Write):
		t.readNewLines(ctx, ev.Path)

	case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
		// Drain what was appended before the file moved away.
		t.readNewLines(ctx, ev.Path)
		t.closeFile(ev.Path)
		t.ckpt.Delete(ev.Path)
	}
}

// openFile starts tracking path at its checkpointed offset, or at the start
// or end of the file.
func (t *Tailer) openFile(path string, fromStart bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.files[path]; exists {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("cannot open %s: %v", path, err)
		}
		return
	}

	var offset int64
	if saved, ok := t.ckpt.Get(path); ok {
		offset = saved
		if info, err := f.Stat(); err == nil && info.Size() < saved {
			offset = 0 // truncated since the checkpoint
		}
	} else if !fromStart {
		offset, _ = f.Seek(0, io.SeekEnd)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		log.Printf("cannot seek %s: %v", path, err)
		f.Close()
		return
	}

	t.files[path] = &trackedFile{
		path:   path,
		file:   f,
		reader: bufio.NewReader(f),
		offset: offset,
	}
}

// readNewLines reads from the last offset to EOF and emits complete lines.
func (t *Tailer) readNewLines(ctx context.Context, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tf, ok := t.files[path]
	if !ok {
		return
	}

	for {
		chunk, err := tf.reader.ReadBytes('\n')
		if len(chunk) > 0 {
			if chunk[len(chunk)-1] != '\n' {
				tf.partial = append(tf.partial, chunk...)
			} else {
				line := chunk
				if len(tf.partial) > 0 {
					line = append(tf.partial, chunk...)
					tf.partial = nil
				}
				tf.offset += int64(len(line))
				t.emit(ctx, bytes.TrimSpace(line))
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("read error on %s: %v", path, err)
			}
			break
		}
	}
	t.ckpt.Set(path, tf.offset)
}

func (t *Tailer) emit(ctx context.Context, line []byte) {
	entry, ok := t.dec.DecodeMatching(line, t.opts.Matcher)
	if !ok {
		return
	}
	select {
	case t.out <- entry:
	case <-ctx.Done():
	}
}

func (t *Tailer) closeFile(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tf, ok := t.files[path]; ok {
		tf.file.Close()
		delete(t.files, path)
	}
}

func (t *Tailer) saveCheckpoint() {
	if err := t.ckpt.Save(); err != nil {
		log.Printf("checkpoint save failed: %v", err)
	}
}

func (t *Tailer) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for path, tf := range t.files {
		tf.file.Close()
		delete(t.files, path)
	}
}
