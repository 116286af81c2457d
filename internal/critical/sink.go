// Package critical forwards ERROR and FATAL entries to durable side channels
// without blocking the caller.
package critical

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dnyoussef/hooklog/internal/metrics"
	"github.com/dnyoussef/hooklog/internal/model"
	"github.com/dnyoussef/hooklog/internal/output"
	"github.com/panjf2000/ants/v2"
)

// Defaults applied by New for unset options.
const (
	DefaultWorkers = 4
	DefaultTimeout = 2 * time.Second
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("critical: closed")

// Forwarder delivers one critical entry somewhere durable. Implementations
// must honor ctx.
type Forwarder interface {
	Name() string
	Forward(ctx context.Context, entry *model.LogEntry, formatted []byte) error
}

// Options configures a Sink.
type Options struct {
	Workers  int
	Timeout  time.Duration
	Reporter output.Reporter
}

// Sink hands each critical entry to every forwarder on a bounded worker pool.
// Forwarder failures, timeouts and pool overload are reported and swallowed.
type Sink struct {
	pool       *ants.Pool
	forwarders []Forwarder
	timeout    time.Duration
	reporter   output.Reporter

	// mu guards closed and the in-flight count. idle is closed whenever
	// pending drops to zero and replaced when work starts again.
	mu      sync.Mutex
	closed  bool
	pending int
	idle    chan struct{}
}

// New starts the worker pool.
func New(opts Options, forwarders ...Forwarder) (*Sink, error) {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Reporter == nil {
		opts.Reporter = output.Discard
	}

	s := &Sink{
		forwarders: forwarders,
		timeout:    opts.Timeout,
		reporter:   opts.Reporter,
		idle:       make(chan struct{}),
	}
	close(s.idle)
	pool, err := ants.NewPool(opts.Workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(v any) {
			s.reporter.Report("critical", fmt.Errorf("forwarder panic: %v", v))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("critical: create pool: %w", err)
	}
	s.pool = pool
	return s, nil
}

// Write schedules entry for forwarding when its level is ERROR or FATAL.
// It never waits for the forwarders.
func (s *Sink) Write(entry *model.LogEntry, formatted []byte) error {
	if !entry.Level.Critical() || len(s.forwarders) == 0 {
		return nil
	}
	if !s.acquire(len(s.forwarders)) {
		return ErrClosed
	}

	e := *entry
	data := append([]byte(nil), formatted...)
	for _, f := range s.forwarders {
		f := f
		err := s.pool.Submit(func() {
			defer s.release()
			s.forward(f, &e, data)
		})
		if err != nil {
			s.release()
			metrics.IncDropped("critical")
			s.reporter.Report("critical", fmt.Errorf("%s: %w", f.Name(), err))
		}
	}
	return nil
}

func (s *Sink) forward(f Forwarder, e *model.LogEntry, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := f.Forward(ctx, e, data); err != nil {
		s.reporter.Report("critical", fmt.Errorf("%s: %w", f.Name(), err))
	}
}

// acquire registers n forwards unless the sink is closed.
func (s *Sink) acquire(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.pending == 0 {
		s.idle = make(chan struct{})
	}
	s.pending += n
	return true
}

func (s *Sink) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending--
	if s.pending == 0 {
		close(s.idle)
	}
}

func (s *Sink) idleCh() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

// Flush waits for in-flight forwards to finish.
func (s *Sink) Flush(ctx context.Context) error {
	select {
	case <-s.idleCh():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for in-flight forwards, releases the pool and closes any
// forwarder that implements io.Closer.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	idle := s.idle
	s.mu.Unlock()

	<-idle
	errs := []error{s.pool.ReleaseTimeout(s.timeout)}
	for _, f := range s.forwarders {
		if c, ok := f.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
