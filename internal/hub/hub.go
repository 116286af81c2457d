// Package hub fans live entries out to streaming consumers such as websocket
// clients, the aggregator and the follow command.
package hub

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/dnyoussef/hooklog/internal/metrics"
	"github.com/dnyoussef/hooklog/internal/model"
)

const (
	subscriberBuffer = 1024
	inputBuffer      = 4096
)

// Hub receives entries and broadcasts them to all subscribers.
type Hub struct {
	input       chan model.LogEntry
	mu          sync.RWMutex
	subscribers []chan model.LogEntry
	dropped     atomic.Int64
	stopped     atomic.Bool
}

// New creates a Hub. Call Start to begin broadcasting.
func New() *Hub {
	return &Hub{input: make(chan model.LogEntry, inputBuffer)}
}

// Publish queues entry for broadcast without blocking. It returns false when
// the input buffer is full or the hub has stopped.
func (h *Hub) Publish(entry model.LogEntry) bool {
	if h.stopped.Load() {
		return false
	}
	select {
	case h.input <- entry:
		return true
	default:
		h.dropped.Add(1)
		metrics.IncDropped("stream")
		return false
	}
}

// Write makes the hub usable as a logger sink.
func (h *Hub) Write(entry *model.LogEntry, _ []byte) error {
	h.Publish(*entry)
	return nil
}

// Subscribe returns a buffered channel that will receive every entry.
// The channel is closed when the hub stops or on Unsubscribe.
func (h *Hub) Subscribe() <-chan model.LogEntry {
	ch := make(chan model.LogEntry, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped.Load() {
		close(ch)
		return ch
	}
	h.subscribers = append(h.subscribers, ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (h *Hub) Unsubscribe(sub <-chan model.LogEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, ch := range h.subscribers {
		if ch == sub {
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Dropped returns the total number of entries dropped because the input
// buffer or a consumer was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Start broadcasts queued entries until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-h.input:
			h.broadcast(entry)
		}
	}
}

// broadcast sends an entry to all subscribers.
// If a subscriber's channel is full, the entry is dropped for that subscriber.
func (h *Hub) broadcast(entry model.LogEntry) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subscribers {
		select {
		case ch <- entry:
		default:
			n := h.dropped.Add(1)
			metrics.IncDropped("stream")
			if n%subscriberBuffer == 1 {
				log.Printf("hub: dropped entry for slow consumer (total dropped: %d)", n)
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped.Store(true)
	for _, ch := range h.subscribers {
		close(ch)
	}
	h.subscribers = nil
}
