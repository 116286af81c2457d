// Package store keeps ERROR and FATAL entries in an embedded Pebble database
// so they survive rotation and pruning of the plain log files.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/dnyoussef/hooklog/internal/model"
)

// FsyncMode defines durability behavior for writes.
type FsyncMode int

const (
	// FsyncInterval lets Pebble coalesce WAL syncs within SyncInterval.
	FsyncInterval FsyncMode = iota
	// FsyncAlways syncs the WAL on every Put.
	FsyncAlways
	// FsyncNever leaves syncing to Pebble.
	FsyncNever
)

var (
	prefix    = []byte("crit/")
	prefixEnd = []byte("crit0") // '0' sorts right after '/'

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
)

// Options configures the store.
type Options struct {
	// Dir is the Pebble database directory.
	Dir          string
	Fsync        FsyncMode
	SyncInterval time.Duration
	// PebbleOptions allows advanced tuning. Nil uses defaults.
	PebbleOptions *pebble.Options
}

// Store is a time-ordered log of critical entries.
type Store struct {
	db     *pebble.DB
	sync   bool
	seq    atomic.Uint64
	closed atomic.Bool
}

// Open creates or opens the database in opts.Dir.
func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("store: Options.Dir is required")
	}
	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}
	if opts.Fsync == FsyncInterval {
		interval := opts.SyncInterval
		if interval <= 0 {
			interval = 5 * time.Millisecond
		}
		po.WALMinSyncInterval = func() time.Duration { return interval }
	}

	db, err := pebble.Open(opts.Dir, po)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", opts.Dir, err)
	}
	s := &Store{db: db, sync: opts.Fsync == FsyncAlways}
	s.seq.Store(uint64(time.Now().UnixNano()))
	return s, nil
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// key is crit/<unix nanos BE><sequence BE>, so iteration order is time order
// and entries sharing a timestamp keep insertion order.
func (s *Store) key(ts time.Time) []byte {
	k := make([]byte, 0, len(prefix)+16)
	k = append(k, prefix...)
	k = binary.BigEndian.AppendUint64(k, uint64(ts.UnixNano()))
	return binary.BigEndian.AppendUint64(k, s.seq.Add(1))
}

func timeKey(ts time.Time) []byte {
	k := make([]byte, 0, len(prefix)+8)
	k = append(k, prefix...)
	return binary.BigEndian.AppendUint64(k, uint64(ts.UnixNano()))
}

// Put stores the serialized form of entry.
func (s *Store) Put(entry *model.LogEntry, formatted []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if formatted == nil {
		var err error
		if formatted, err = json.Marshal(entry); err != nil {
			return err
		}
	}
	opt := pebble.NoSync
	if s.sync {
		opt = pebble.Sync
	}
	return s.db.Set(s.key(entry.Timestamp), formatted, opt)
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(limit int) ([]model.LogEntry, error) {
	if limit <= 0 {
		limit = model.DefaultLimit
	}
	return s.scan(prefix, prefixEnd, limit, true)
}

// Range returns entries with start <= timestamp < end, oldest first.
// A zero end means no upper bound.
func (s *Store) Range(start, end time.Time) ([]model.LogEntry, error) {
	lower := prefix
	if !start.IsZero() {
		lower = timeKey(start)
	}
	upper := prefixEnd
	if !end.IsZero() {
		upper = timeKey(end)
	}
	return s.scan(lower, upper, 0, false)
}

func (s *Store) scan(lower, upper []byte, limit int, reverse bool) ([]model.LogEntry, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	out := []model.LogEntry{}
	valid := it.First()
	if reverse {
		valid = it.Last()
	}
	for ; valid; valid = step(it, reverse) {
		var e model.LogEntry
		if err := json.Unmarshal(it.Value(), &e); err != nil {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, it.Error()
}

func step(it *pebble.Iterator, reverse bool) bool {
	if reverse {
		return it.Prev()
	}
	return it.Next()
}
