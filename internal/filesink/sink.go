// Package filesink appends serialized entries to one file per day and
// rotates, compresses and prunes those files.
//
// Appends are handed to a single worker goroutine through a bounded queue,
// so entries reach disk in the order Write was called while the caller only
// ever waits for queue space, and never longer than WriteTimeout.
package filesink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dnyoussef/hooklog/internal/metrics"
	"github.com/dnyoussef/hooklog/internal/model"
	"github.com/dnyoussef/hooklog/internal/output"
)

// Defaults applied by New for unset options.
const (
	DefaultBase         = "hooks"
	DefaultQueueSize    = 1024
	DefaultWriteTimeout = 250 * time.Millisecond
	dateLayout          = "2006-01-02"
)

var (
	// ErrClosed is returned by operations on a closed sink.
	ErrClosed = errors.New("filesink: closed")
	// ErrQueueFull is reported when an entry is dropped because the write
	// queue stayed full for longer than WriteTimeout.
	ErrQueueFull = errors.New("filesink: write queue full, entry dropped")
)

// Options configures a Sink.
type Options struct {
	Dir  string
	Base string
	// MaxSize is the size in bytes at or above which the active file is
	// rotated before the next append. Zero disables size rotation.
	MaxSize int64
	// MaxFiles is the number of non-active files kept. Zero keeps all.
	MaxFiles int
	// MaxAge deletes non-active files older than this. Zero disables.
	MaxAge   time.Duration
	Compress bool

	QueueSize    int
	WriteTimeout time.Duration

	Now      func() time.Time
	Reporter output.Reporter
}

// RotationStats summarises one rotation pass.
type RotationStats struct {
	Rotated    int   `json:"rotated_files"`
	Compressed int   `json:"compressed_files"`
	Deleted    int   `json:"deleted_files"`
	BytesFreed int64 `json:"bytes_freed"`
}

func (s *RotationStats) add(o RotationStats) {
	s.Rotated += o.Rotated
	s.Compressed += o.Compressed
	s.Deleted += o.Deleted
	s.BytesFreed += o.BytesFreed
}

type rotateResult struct {
	stats RotationStats
	err   error
}

// job is one unit of work for the writer goroutine. Exactly one field is set.
type job struct {
	data   []byte
	flush  chan struct{}
	rotate chan rotateResult
}

// Sink is the persistent file transport.
type Sink struct {
	opts Options

	// mu guards the active file handle and path.
	mu   sync.Mutex
	file *os.File
	path string

	// qmu guards closed and the jobs channel against send-after-close.
	qmu    sync.RWMutex
	closed bool
	jobs   chan job
	done   chan struct{}
}

// New creates the log directory and starts the writer goroutine.
func New(opts Options) (*Sink, error) {
	if opts.Dir == "" {
		return nil, errors.New("filesink: Options.Dir is required")
	}
	if opts.Base == "" {
		opts.Base = DefaultBase
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Reporter == nil {
		opts.Reporter = output.Discard
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	s := &Sink{
		opts: opts,
		jobs: make(chan job, opts.QueueSize),
		done: make(chan struct{}),
	}
	s.path = s.pathFor(opts.Now())
	go s.run()
	return s, nil
}

// Dir returns the directory holding the log files.
func (s *Sink) Dir() string { return s.opts.Dir }

// Base returns the file base name.
func (s *Sink) Base() string { return s.opts.Base }

// ActivePath returns the path currently receiving appends.
func (s *Sink) ActivePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Write queues formatted for appending. It drops the entry when the queue
// stays full for longer than WriteTimeout.
func (s *Sink) Write(_ *model.LogEntry, formatted []byte) error {
	line := make([]byte, len(formatted)+1)
	copy(line, formatted)
	line[len(formatted)] = '\n'
	return s.enqueue(context.Background(), job{data: line})
}

// Flush waits until every previously queued write has been appended.
func (s *Sink) Flush(ctx context.Context) error {
	ch := make(chan struct{})
	if err := s.enqueue(ctx, job{flush: ch}); err != nil {
		return err
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Rotate rotates the active file if it is non-empty, compresses any
// uncompressed rotated files, and applies count and age retention.
func (s *Sink) Rotate(ctx context.Context) (RotationStats, error) {
	ch := make(chan rotateResult, 1)
	if err := s.enqueue(ctx, job{rotate: ch}); err != nil {
		return RotationStats{}, err
	}
	select {
	case res := <-ch:
		return res.stats, res.err
	case <-ctx.Done():
		return RotationStats{}, ctx.Err()
	}
}

// Close drains the queue and closes the active file.
func (s *Sink) Close() error {
	s.qmu.Lock()
	if s.closed {
		s.qmu.Unlock()
		return nil
	}
	s.closed = true
	close(s.jobs)
	s.qmu.Unlock()

	<-s.done
	return nil
}

func (s *Sink) enqueue(ctx context.Context, j job) error {
	s.qmu.RLock()
	defer s.qmu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	select {
	case s.jobs <- j:
		return nil
	default:
	}

	timer := time.NewTimer(s.opts.WriteTimeout)
	defer timer.Stop()
	select {
	case s.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		if j.data != nil {
			metrics.IncDropped("file")
			s.opts.Reporter.Report("file", ErrQueueFull)
		}
		return ErrQueueFull
	}
}

func (s *Sink) run() {
	defer close(s.done)
	defer s.closeFile()

	for j := range s.jobs {
		switch {
		case j.data != nil:
			s.append(j.data)
		case j.flush != nil:
			s.sync()
			close(j.flush)
		case j.rotate != nil:
			stats, err := s.rotateOnDemand()
			j.rotate <- rotateResult{stats: stats, err: err}
		}
	}
}

// append performs one write: switch day if needed, rotate if over size,
// then append to whatever file is current.
func (s *Sink) append(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.switchDay()

	if s.opts.MaxSize > 0 && s.activeSize() >= s.opts.MaxSize {
		if _, err := s.rotateActive(); err != nil {
			s.opts.Reporter.Report("file", err)
		}
		if _, err := s.prune(); err != nil {
			s.opts.Reporter.Report("file", err)
		}
	}

	if err := s.ensureOpen(); err != nil {
		s.opts.Reporter.Report("file", err)
		return
	}
	if _, err := s.file.Write(data); err != nil {
		s.opts.Reporter.Report("file", fmt.Errorf("append %s: %w", s.path, err))
	}
}

func (s *Sink) rotateOnDemand() (RotationStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.switchDay()

	var stats RotationStats
	var errs []error
	if s.activeSize() > 0 {
		st, err := s.rotateActive()
		stats.add(st)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if s.opts.Compress {
		st, err := s.compressRotated()
		stats.add(st)
		if err != nil {
			errs = append(errs, err)
		}
	}
	st, err := s.prune()
	stats.add(st)
	if err != nil {
		errs = append(errs, err)
	}
	return stats, errors.Join(errs...)
}

// switchDay moves the active reference to today's file. Nothing is moved on
// disk; the previous file simply stops receiving appends.
func (s *Sink) switchDay() {
	want := s.pathFor(s.opts.Now())
	if want == s.path {
		return
	}
	s.closeFileLocked()
	s.path = want
}

// pathFor names the active file by the UTC date, matching entry timestamps.
func (s *Sink) pathFor(t time.Time) string {
	return filepath.Join(s.opts.Dir, s.opts.Base+"-"+t.UTC().Format(dateLayout)+".log")
}

func (s *Sink) activeSize() int64 {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func (s *Sink) ensureOpen() error {
	if s.file != nil {
		return nil
	}
	if err := os.MkdirAll(s.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	s.file = f
	return nil
}

func (s *Sink) sync() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		if err := s.file.Sync(); err != nil {
			s.opts.Reporter.Report("file", err)
		}
	}
}

func (s *Sink) closeFile() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeFileLocked()
}

func (s *Sink) closeFileLocked() {
	if s.file == nil {
		return
	}
	if err := s.file.Close(); err != nil {
		s.opts.Reporter.Report("file", err)
	}
	s.file = nil
}
