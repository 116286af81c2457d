// Package archive reads, filters and exports the files written by the file
// sink, including rotated and compressed ones.
package archive

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dnyoussef/hooklog/internal/filesink"
	"github.com/dnyoussef/hooklog/internal/model"
	"github.com/dnyoussef/hooklog/internal/parser"
	"github.com/dnyoussef/hooklog/internal/query"
	"github.com/klauspost/compress/gzip"
)

var (
	ErrNotFound          = errors.New("log file not found")
	ErrInvalidName       = errors.New("invalid log file name")
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

const (
	// ExportLimit caps the number of entries an export or trace reads per file.
	ExportLimit = 10000
	// DefaultCriticalFile is the name of the ERROR/FATAL side file.
	DefaultCriticalFile = "critical.log"

	maxLineSize = 4 << 20
)

// Archive gives read access to a log directory.
type Archive struct {
	dir      string
	base     string
	critical string
	now      func() time.Time
	dec      *parser.Decoder
}

// Option configures an Archive.
type Option func(*Archive)

// WithCriticalFile overrides the critical side file name.
func WithCriticalFile(name string) Option {
	return func(a *Archive) { a.critical = name }
}

// WithClock overrides the clock used to locate the current day's file.
func WithClock(now func() time.Time) Option {
	return func(a *Archive) { a.now = now }
}

// New opens the archive rooted at dir for files named <base>-*.log.
func New(dir, base string, opts ...Option) *Archive {
	if base == "" {
		base = filesink.DefaultBase
	}
	a := &Archive{
		dir:      dir,
		base:     base,
		critical: DefaultCriticalFile,
		now:      time.Now,
		dec:      parser.NewDecoder(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CurrentFile returns the name of today's log file.
func (a *Archive) CurrentFile() string {
	return a.base + "-" + a.now().UTC().Format("2006-01-02") + ".log"
}

// Files lists the base-named log files plus the critical file, if present.
func (a *Archive) Files() ([]filesink.FileInfo, error) {
	files, err := filesink.ListFiles(a.dir, a.base)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(filepath.Join(a.dir, a.critical)); err == nil && !info.IsDir() {
		files = append(files, filesink.FileInfo{
			Name:     a.critical,
			Path:     filepath.Join(a.dir, a.critical),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	return files, nil
}

// Read returns entries from one file that match f, skipping the first offset
// matches and returning at most f's limit. Malformed lines are skipped.
func (a *Archive) Read(name string, f model.Filter, offset int) ([]model.LogEntry, error) {
	m, err := query.Compile(f)
	if err != nil {
		return nil, err
	}
	return a.read(name, m, offset, m.Limit())
}

func (a *Archive) read(name string, m *query.Matcher, offset, limit int) ([]model.LogEntry, error) {
	path, err := a.resolve(name)
	if err != nil {
		return nil, err
	}
	rc, err := open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	if offset < 0 {
		offset = 0
	}
	out := []model.LogEntry{}
	skipped := 0

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		entry, ok := a.dec.DecodeMatching(line, m)
		if !ok {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, entry)
		if len(out) >= limit {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("read %s: %w", name, err)
	}
	return out, nil
}

// resolve maps a bare file name to a path inside the archive directory.
func (a *Archive) resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	path := filepath.Join(a.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return path, nil
}

type multiCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var errs []error
	for _, c := range m.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// open returns a reader over path, decompressing .gz files.
func open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	return &multiCloser{Reader: zr, closers: []io.Closer{zr, f}}, nil
}

// Trace returns every entry carrying correlationID across all files,
// ordered by timestamp. Unreadable files are skipped.
func (a *Archive) Trace(correlationID string) ([]model.LogEntry, int, error) {
	files, err := a.Files()
	if err != nil {
		return nil, 0, err
	}
	m := query.MustCompile(model.Filter{CorrelationID: correlationID})

	all := []model.LogEntry{}
	for _, f := range files {
		entries, err := a.read(f.Name, m, 0, ExportLimit)
		if err != nil {
			continue
		}
		all = append(all, entries...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return all, len(files), nil
}

// RecentErrors returns ERROR and FATAL entries since the given instant from
// the critical file and today's file, newest first.
func (a *Archive) RecentErrors(since time.Time, limit int) ([]model.LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	m := query.MustCompile(model.Filter{Level: model.LevelError.String(), StartTime: since})

	var all []model.LogEntry
	for _, name := range []string{a.critical, a.CurrentFile()} {
		entries, err := a.read(name, m, 0, ExportLimit)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		all = append(all, entries...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	if all == nil {
		all = []model.LogEntry{}
	}
	return all, nil
}

// Stats summarises the archive: file inventory plus level and agent counts
// for today's file.
type Stats struct {
	TotalFiles    int                  `json:"total_files"`
	TotalSize     int64                `json:"total_size_bytes"`
	RecentEntries int                  `json:"recent_entries"`
	ByLevel       map[string]int       `json:"by_level"`
	ByAgent       map[string]int       `json:"by_agent"`
	Files         []filesink.FileInfo `json:"files"`
}

// Stats computes archive statistics.
func (a *Archive) Stats() (Stats, error) {
	files, err := a.Files()
	if err != nil {
		return Stats{}, err
	}
	s := Stats{
		TotalFiles: len(files),
		ByLevel:    map[string]int{},
		ByAgent:    map[string]int{},
		Files:      files,
	}
	for _, f := range files {
		s.TotalSize += f.Size
	}

	recent, err := a.Read(a.CurrentFile(), model.Filter{Limit: 1000}, 0)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Stats{}, err
	}
	s.RecentEntries = len(recent)
	for _, e := range recent {
		s.ByLevel[e.Level.String()]++
		s.ByAgent[e.AgentName()]++
	}
	return s, nil
}
