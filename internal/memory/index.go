// Package memory keeps a bounded, insertion-ordered tail of recent entries
// that can be queried synchronously.
package memory

import (
	"sync"

	"github.com/dnyoussef/hooklog/internal/model"
	"github.com/dnyoussef/hooklog/internal/query"
)

// DefaultCapacity is the number of entries retained when none is configured.
const DefaultCapacity = 1000

// Stats is a point-in-time tally of the buffered entries.
type Stats struct {
	Total   int            `json:"total"`
	ByLevel map[string]int `json:"by_level"`
	ByAgent map[string]int `json:"by_agent"`
}

// Index is a fixed-capacity ring buffer. Once full, each insert evicts the
// oldest entry.
type Index struct {
	mu    sync.RWMutex
	buf   []model.LogEntry
	head  int // position of the oldest entry
	count int
}

// New creates an Index holding at most capacity entries.
func New(capacity int) *Index {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Index{buf: make([]model.LogEntry, capacity)}
}

// Capacity returns the maximum number of retained entries.
func (x *Index) Capacity() int { return len(x.buf) }

// Len returns the number of retained entries.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.count
}

// Add appends a copy of e, evicting the oldest entry when at capacity.
func (x *Index) Add(e model.LogEntry) {
	e = e.Clone()
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.count < len(x.buf) {
		x.buf[(x.head+x.count)%len(x.buf)] = e
		x.count++
		return
	}
	x.buf[x.head] = e
	x.head = (x.head + 1) % len(x.buf)
}

// Write lets the index act as a logger sink.
func (x *Index) Write(e *model.LogEntry, _ []byte) error {
	x.Add(*e)
	return nil
}

// Query returns copies of the most recent matches in chronological order,
// capped at the filter's limit.
func (x *Index) Query(f model.Filter) ([]model.LogEntry, error) {
	m, err := query.Compile(f)
	if err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	var out []model.LogEntry
	for i := 0; i < x.count; i++ {
		e := &x.buf[(x.head+i)%len(x.buf)]
		if m.Match(e) {
			out = append(out, e.Clone())
		}
	}
	out = query.Tail(out, m.Limit())
	if out == nil {
		out = []model.LogEntry{}
	}
	return out, nil
}

// Stats tallies the buffered entries by level and agent name.
func (x *Index) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()

	s := Stats{
		Total:   x.count,
		ByLevel: make(map[string]int),
		ByAgent: make(map[string]int),
	}
	for i := 0; i < x.count; i++ {
		e := &x.buf[(x.head+i)%len(x.buf)]
		s.ByLevel[e.Level.String()]++
		s.ByAgent[e.AgentName()]++
	}
	return s
}

// Clear drops every buffered entry.
func (x *Index) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()
	for i := range x.buf {
		x.buf[i] = model.LogEntry{}
	}
	x.head = 0
	x.count = 0
}
