package events

import (
	"sync"
	"sync/atomic"
)

const defaultSubscriberBuffer = 64

// Filter selects the events delivered to a subscriber. A nil filter accepts
// everything.
type Filter func(Event) bool

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Hub is an Emitter that relays events to live subscribers. Slow subscribers
// never block emission; events that do not fit in a subscriber's buffer are
// dropped and counted.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	nextID  uint64
	buffer  int
	dropped atomic.Uint64
}

// NewHub constructs a hub whose subscribers buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{subs: make(map[uint64]*subscriber), buffer: buffer}
}

// Subscribe registers a new subscriber. The returned cancel function removes
// the subscription and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(filter Filter) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, h.buffer), filter: filter}
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Emit implements the Emitter interface.
func (h *Hub) Emit(evt Event) {
	if h == nil || evt == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.filter != nil && !sub.filter(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many events were discarded because a subscriber buffer
// was full.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }
