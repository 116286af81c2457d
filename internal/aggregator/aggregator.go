// Package aggregator keeps lifetime counters over the live entry stream:
// per-level and per-agent counts, throughput and accumulated cost.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/dnyoussef/hooklog/internal/model"
)

const epsWindow = 5 * time.Second

// Stats holds a point-in-time snapshot of aggregated metrics.
type Stats struct {
	Uptime      string           `json:"uptime"`
	TotalEvents int64            `json:"total_events"`
	EPS         float64          `json:"eps"`
	LevelCounts map[string]int64 `json:"level_counts"`
	AgentCounts map[string]int64 `json:"agent_counts"`
	TotalCost   float64          `json:"total_cost"`
	TotalTokens float64          `json:"total_tokens"`
	DroppedLogs int64            `json:"dropped_logs"`
}

// Aggregator consumes a hub subscription and computes running metrics.
// Unlike the memory index these counters are never evicted.
type Aggregator struct {
	mu          sync.RWMutex
	startTime   time.Time
	totalEvents int64
	levelCounts map[string]int64
	agentCounts map[string]int64
	cost        float64
	tokens      float64
	window      []time.Time // arrival times within epsWindow
	dropped     func() int64
	entries     <-chan model.LogEntry
	now         func() time.Time
}

// New creates an Aggregator that reads from the given hub subscriber channel.
// droppedFn reports the hub's dropped-entry counter.
func New(entries <-chan model.LogEntry, droppedFn func() int64) *Aggregator {
	if droppedFn == nil {
		droppedFn = func() int64 { return 0 }
	}
	return &Aggregator{
		startTime:   time.Now(),
		levelCounts: make(map[string]int64),
		agentCounts: make(map[string]int64),
		dropped:     droppedFn,
		entries:     entries,
		now:         time.Now,
	}
}

// Snapshot returns the current metrics.
func (a *Aggregator) Snapshot() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	levels := make(map[string]int64, len(a.levelCounts))
	for k, v := range a.levelCounts {
		levels[k] = v
	}
	agents := make(map[string]int64, len(a.agentCounts))
	for k, v := range a.agentCounts {
		agents[k] = v
	}

	cutoff := a.now().Add(-epsWindow)
	var recent int
	for _, t := range a.window {
		if t.After(cutoff) {
			recent++
		}
	}

	return Stats{
		Uptime:      time.Since(a.startTime).Truncate(time.Second).String(),
		TotalEvents: a.totalEvents,
		EPS:         float64(recent) / epsWindow.Seconds(),
		LevelCounts: levels,
		AgentCounts: agents,
		TotalCost:   a.cost,
		TotalTokens: a.tokens,
		DroppedLogs: a.dropped(),
	}
}

// Start consumes entries until ctx is cancelled or the channel closes.
func (a *Aggregator) Start(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-a.entries:
			if !ok {
				return
			}
			a.record(entry)
		case <-ticker.C:
			a.prune()
		}
	}
}

func (a *Aggregator) record(entry model.LogEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalEvents++
	a.levelCounts[entry.Level.String()]++
	a.agentCounts[entry.AgentName()]++
	a.cost += entry.Metrics[model.MetricCost]
	a.tokens += entry.Metrics[model.MetricTokensUsed]
	a.window = append(a.window, a.now())
}

// prune drops arrival times older than the EPS window.
func (a *Aggregator) prune() {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := a.now().Add(-epsWindow)
	i := 0
	for _, t := range a.window {
		if t.After(cutoff) {
			a.window[i] = t
			i++
		}
	}
	a.window = a.window[:i]
}
