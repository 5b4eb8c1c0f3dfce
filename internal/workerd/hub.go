package workerd

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmylchreest/moshr/pkg/workerd/rpc"
)

const subscriberBuffer = 256

type hubSub struct {
	channels map[string]bool
	events   chan rpc.Event
}

// Hub broadcasts worker events to every connected Events stream.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*hubSub
	nextID  uint64
	dropped atomic.Int64
	now     func() time.Time
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*hubSub), now: time.Now}
}

// Subscribe registers interest in channels (all when empty). The returned
// function unregisters and closes the event channel.
func (h *Hub) Subscribe(channels []string) (<-chan rpc.Event, func()) {
	sub := &hubSub{events: make(chan rpc.Event, subscriberBuffer)}
	if len(channels) > 0 {
		sub.channels = make(map[string]bool, len(channels))
		for _, c := range channels {
			sub.channels[c] = true
		}
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	return sub.events, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.events)
		})
	}
}

// Publish delivers ev without blocking. Subscribers with a full buffer miss it.
func (h *Hub) Publish(ev rpc.Event) {
	if ev.Time.IsZero() {
		ev.Time = h.now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.channels != nil && !sub.channels[ev.Channel] {
			continue
		}
		select {
		case sub.events <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Progress publishes a progress event for a job of kind.
func (h *Hub) Progress(kind, jobID string, p rpc.Progress) {
	h.Publish(rpc.Event{Channel: rpc.ProgressChannel(kind), JobID: jobID, Progress: &p})
}

// Log publishes a log line for a job of kind.
func (h *Hub) Log(kind, jobID, line string) {
	h.Publish(rpc.Event{Channel: rpc.LogChannel(kind), JobID: jobID, Line: line})
}

// Subscribers returns the number of connected streams.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns the number of events lost to slow subscribers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
