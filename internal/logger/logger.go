// Package logger is the structured logging facade. A root Logger owns the
// sinks; derived loggers share them and differ only in the context they
// carry.
package logger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"sync"
	"time"

	"github.com/dnyoussef/hooklog/internal/config"
	"github.com/dnyoussef/hooklog/internal/correlation"
	"github.com/dnyoussef/hooklog/internal/critical"
	"github.com/dnyoussef/hooklog/internal/filesink"
	"github.com/dnyoussef/hooklog/internal/hub"
	"github.com/dnyoussef/hooklog/internal/memory"
	"github.com/dnyoussef/hooklog/internal/metrics"
	"github.com/dnyoussef/hooklog/internal/model"
	"github.com/dnyoussef/hooklog/internal/output"
	"github.com/dnyoussef/hooklog/internal/store"
)

var (
	// ErrFileSinkDisabled is returned by Rotate when the file transport is off.
	ErrFileSinkDisabled = errors.New("logger: file transport disabled")
	// ErrMemoryDisabled is returned by QueryLogs when the memory transport is off.
	ErrMemoryDisabled = errors.New("logger: memory transport disabled")
)

// Sink receives every emitted entry together with its serialized form.
type Sink interface {
	Write(entry *model.LogEntry, formatted []byte) error
}

// Correlator hands out correlation identifiers for stable keys.
type Correlator interface {
	GetOrCreate(key string) string
}

type namedSink struct {
	name string
	sink Sink
}

// core is the state shared by a root logger and everything derived from it.
type core struct {
	cfg          config.Config
	level        model.Level
	includeStack bool
	now          func() time.Time
	correlator   Correlator
	reporter     output.Reporter

	console  *output.Console
	file     *filesink.Sink
	memory   *memory.Index
	critical *critical.Sink
	store    *store.Store
	stream   *hub.Hub

	// mu orders timestamp assignment and fan-out so that entries reach every
	// sink in timestamp order.
	mu    sync.Mutex
	last  time.Time
	sinks []namedSink

	closeOnce sync.Once
	closeErr  error
}

// Logger emits structured entries. It is safe for concurrent use.
type Logger struct {
	core *core
	ctx  Context
}

type options struct {
	consoleWriter io.Writer
	now           func() time.Time
	correlator    Correlator
	stream        *hub.Hub
	forwarders    []critical.Forwarder
}

// Option customizes New.
type Option func(*options)

// WithConsoleWriter sends console output to w instead of stdout.
func WithConsoleWriter(w io.Writer) Option {
	return func(o *options) { o.consoleWriter = w }
}

// WithClock overrides the time source used for entry timestamps and file
// naming.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithCorrelator injects the correlation allocator used by WithCorrelationKey.
func WithCorrelator(c Correlator) Option {
	return func(o *options) { o.correlator = c }
}

// WithStream publishes every emitted entry to h.
func WithStream(h *hub.Hub) Option {
	return func(o *options) { o.stream = h }
}

// WithForwarders adds critical forwarders beyond critical.log and the store.
func WithForwarders(f ...critical.Forwarder) Option {
	return func(o *options) { o.forwarders = append(o.forwarders, f...) }
}

// New builds a root logger and opens the sinks enabled in cfg.
func New(cfg config.Config, opts ...Option) (*Logger, error) {
	o := options{consoleWriter: os.Stdout, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.correlator == nil {
		o.correlator = correlation.NewRegistry()
	}
	cfg.Normalize()

	c := &core{
		cfg:          cfg,
		level:        cfg.MinLevel(),
		includeStack: cfg.IncludeStack,
		now:          o.now,
		correlator:   o.correlator,
		reporter:     output.Discard,
		stream:       o.stream,
	}

	if cfg.Enabled(config.TransportConsole) {
		c.console = output.NewConsole(o.consoleWriter, cfg.PrettyPrint)
		c.reporter = c.console
		c.sinks = append(c.sinks, namedSink{config.TransportConsole, c.console})
	}
	if cfg.Enabled(config.TransportFile) {
		fs, err := filesink.New(filesink.Options{
			Dir:          cfg.File.Directory,
			Base:         cfg.File.Filename,
			MaxSize:      cfg.File.MaxSizeBytes(),
			MaxFiles:     cfg.File.MaxFiles,
			MaxAge:       cfg.File.MaxAge(),
			Compress:     cfg.File.Compress,
			QueueSize:    cfg.File.QueueSize,
			WriteTimeout: cfg.File.WriteTimeout,
			Now:          o.now,
			Reporter:     c.reporter,
		})
		if err != nil {
			return nil, err
		}
		c.file = fs
		c.sinks = append(c.sinks, namedSink{config.TransportFile, fs})
	}
	if cfg.Enabled(config.TransportMemory) {
		c.memory = memory.New(cfg.Memory.Capacity)
		c.sinks = append(c.sinks, namedSink{config.TransportMemory, c.memory})
	}
	if cfg.Enabled(config.TransportDatabase) {
		if err := c.openCritical(o.forwarders); err != nil {
			c.close()
			return nil, err
		}
		c.sinks = append(c.sinks, namedSink{"critical", c.critical})
	}
	if c.stream != nil {
		c.sinks = append(c.sinks, namedSink{"stream", c.stream})
	}

	return &Logger{core: c}, nil
}

func (c *core) openCritical(extra []critical.Forwarder) error {
	dir := c.cfg.File.Directory
	if dir == "" {
		dir = "."
	}
	forwarders := []critical.Forwarder{critical.NewFileForwarder(dir, c.cfg.Critical.Filename)}
	if c.cfg.Critical.StoreDir != "" {
		st, err := store.Open(store.Options{Dir: c.cfg.Critical.StoreDir})
		if err != nil {
			return err
		}
		c.store = st
		forwarders = append(forwarders, critical.NewStoreForwarder(st))
	}
	forwarders = append(forwarders, extra...)

	cs, err := critical.New(critical.Options{
		Workers:  c.cfg.Critical.Workers,
		Timeout:  c.cfg.Critical.Timeout,
		Reporter: c.reporter,
	}, forwarders...)
	if err != nil {
		if c.store != nil {
			c.store.Close()
		}
		return err
	}
	c.critical = cs
	return nil
}

// Level returns the severity threshold.
func (l *Logger) Level() model.Level { return l.core.level }

// ShouldLog reports whether an entry at level would be emitted.
func (l *Logger) ShouldLog(level model.Level) bool {
	return level >= l.core.level
}

// Config returns the normalized configuration the logger was built from.
func (l *Logger) Config() config.Config { return l.core.cfg }

// Store returns the critical entry store, or nil when not configured.
func (l *Logger) Store() *store.Store { return l.core.store }

// Log emits an entry at level. It returns the entry and true, or a zero
// entry and false when level is below the threshold. It never panics and
// never returns an error.
func (l *Logger) Log(level model.Level, msg string, ctx ...Context) (model.LogEntry, bool) {
	return l.log(level, msg, ctx)
}

func (l *Logger) Debug(msg string, ctx ...Context) model.LogEntry {
	e, _ := l.log(model.LevelDebug, msg, ctx)
	return e
}

func (l *Logger) Info(msg string, ctx ...Context) model.LogEntry {
	e, _ := l.log(model.LevelInfo, msg, ctx)
	return e
}

func (l *Logger) Warn(msg string, ctx ...Context) model.LogEntry {
	e, _ := l.log(model.LevelWarn, msg, ctx)
	return e
}

func (l *Logger) Error(msg string, ctx ...Context) model.LogEntry {
	e, _ := l.log(model.LevelError, msg, ctx)
	return e
}

// Fatal emits a FATAL entry. It does not exit the process.
func (l *Logger) Fatal(msg string, ctx ...Context) model.LogEntry {
	e, _ := l.log(model.LevelFatal, msg, ctx)
	return e
}

func (l *Logger) log(level model.Level, msg string, ctx []Context) (entry model.LogEntry, ok bool) {
	if !l.ShouldLog(level) {
		return model.LogEntry{}, false
	}
	defer func() {
		if r := recover(); r != nil {
			l.core.reporter.Report("logger", fmt.Errorf("recovered while logging %q: %v", msg, r))
		}
	}()

	merged := l.ctx
	for _, c := range ctx {
		merged = merge(merged, c)
	}
	entry = l.build(level, msg, merged)
	if !l.core.emit(&entry) {
		return entry, false
	}
	return entry.Clone(), true
}

// build turns merged context into an entry. The timestamp is assigned by emit.
func (l *Logger) build(level model.Level, msg string, c Context) model.LogEntry {
	exec := c.Execution
	if exec.CorrelationID == "" {
		exec.CorrelationID = correlation.New()
	}
	var rbac *model.RBACDecision
	if c.RBAC != nil {
		r := *c.RBAC
		rbac = &r
	}
	return model.LogEntry{
		Level:     level,
		Message:   msg,
		Agent:     model.DefaultAgent(c.Agent),
		Execution: exec,
		Metrics:   unionMetrics(c.Metrics, nil),
		RBAC:      rbac,
		// Skip build, log and the Log or wrapper frame.
		Error:    errorInfo(c.Err, l.core.includeStack, 3),
		Quality:  maps.Clone(c.Quality),
		Metadata: maps.Clone(c.Metadata),
	}
}

// emit stamps, serializes and fans out entry. It reports false only when the
// entry could not be serialized even after sanitizing.
func (c *core) emit(entry *model.LogEntry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().UTC()
	if ts.Before(c.last) {
		ts = c.last
	}
	c.last = ts
	entry.Timestamp = ts

	formatted, err := json.Marshal(entry)
	if err != nil {
		// Only Quality and Metadata carry arbitrary values.
		var q, m bool
		entry.Quality, q = sanitizeAny(entry.Quality)
		entry.Metadata, m = sanitizeAny(entry.Metadata)
		if q || m {
			c.reporter.Report("logger", fmt.Errorf("serialize entry %q: replaced unserializable values: %w", entry.Message, err))
			formatted, err = json.Marshal(entry)
		}
	}
	if err != nil {
		c.reporter.Report("logger", fmt.Errorf("serialize entry: %w", err))
		return false
	}

	metrics.IncEntries(entry.Level.String())
	for _, s := range c.sinks {
		if err := s.sink.Write(entry, formatted); err != nil && !errors.Is(err, filesink.ErrQueueFull) {
			c.reporter.Report(s.name, err)
		}
	}
	return true
}

// WithAgent returns a logger that attributes entries to agent.
func (l *Logger) WithAgent(agent model.AgentContext) *Logger {
	return l.WithContext(Context{Agent: agent})
}

// WithCorrelationID returns a logger that stamps entries with id.
func (l *Logger) WithCorrelationID(id string) *Logger {
	return l.WithContext(Context{Execution: model.ExecutionContext{CorrelationID: id}})
}

// WithCorrelationKey binds the correlation id the allocator holds for key.
func (l *Logger) WithCorrelationKey(key string) *Logger {
	return l.WithCorrelationID(l.core.correlator.GetOrCreate(key))
}

// WithMetrics returns a logger whose entries carry m merged with their own
// metrics.
func (l *Logger) WithMetrics(m model.Metrics) *Logger {
	return l.WithContext(Context{Metrics: m})
}

// WithContext returns a logger carrying c merged over the current context.
func (l *Logger) WithContext(c Context) *Logger {
	return &Logger{core: l.core, ctx: merge(l.ctx, c)}
}

// QueryLogs filters the memory index.
func (l *Logger) QueryLogs(f model.Filter) ([]model.LogEntry, error) {
	if l.core.memory == nil {
		return nil, ErrMemoryDisabled
	}
	return l.core.memory.Query(f)
}

// GetStats summarises the memory index.
func (l *Logger) GetStats() memory.Stats {
	if l.core.memory == nil {
		return memory.Stats{ByLevel: map[string]int{}, ByAgent: map[string]int{}}
	}
	return l.core.memory.Stats()
}

// ClearMemory empties the memory index. Files are untouched.
func (l *Logger) ClearMemory() {
	if l.core.memory != nil {
		l.core.memory.Clear()
	}
}

// Rotate forces a rotation and retention pass on the file sink.
func (l *Logger) Rotate(ctx context.Context) (filesink.RotationStats, error) {
	if l.core.file == nil {
		return filesink.RotationStats{}, ErrFileSinkDisabled
	}
	return l.core.file.Rotate(ctx)
}

// Flush waits until queued file appends and critical forwards complete.
func (l *Logger) Flush(ctx context.Context) error {
	var errs []error
	if l.core.file != nil {
		errs = append(errs, l.core.file.Flush(ctx))
	}
	if l.core.critical != nil {
		errs = append(errs, l.core.critical.Flush(ctx))
	}
	return errors.Join(errs...)
}

// Close drains and closes every sink. Calling Close on any logger sharing
// the same root closes them all; later calls are no-ops.
func (l *Logger) Close() error {
	return l.core.close()
}

func (c *core) close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if c.file != nil {
			errs = append(errs, c.file.Close())
		}
		if c.critical != nil {
			errs = append(errs, c.critical.Close())
		} else if c.store != nil {
			errs = append(errs, c.store.Close())
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
