// Package eventbus is the in-process ordered event log. Appends assign
// strictly increasing ids starting at 1; a bounded ring holds the tail
// for cursor polling, and push subscribers receive every event appended
// after they subscribe, in id order, outside the bus lock.
package eventbus

import (
	"fmt"
	"sync"
	"time"

	"clawgate/internal/claw"
)

const (
	// DefaultCapacity bounds the in-memory ring.
	DefaultCapacity = 1000
	// bootstrapCount is how many trailing events a cursor-less poll returns.
	bootstrapCount = 3
)

// PollResult is the outcome of one cursor poll.
type PollResult struct {
	Events     []claw.Event `json:"events"`
	NextCursor int64        `json:"next_cursor"`
}

type subscriber struct {
	id int64
	fn func(claw.Event)
}

// Bus is the event bus. The zero value is not usable; use New.
type Bus struct {
	mu         sync.Mutex
	ring       []claw.Event
	lastID     int64
	cap        int
	subs       []subscriber
	nextSub    int64
	nowFunc    func() time.Time
	pending    []claw.Event
	delivering bool
}

// New builds a bus with the given ring capacity (DefaultCapacity if <= 0).
func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{cap: capacity, nowFunc: time.Now}
}

// Append validates the event type, assigns the next id, inserts at the
// tail, trims the head past capacity, and queues the event for delivery.
// Delivery happens outside the lock, but a single drainer works the
// queue in id order, so every subscriber sees appends in the same order
// ids were assigned even when Append races on multiple goroutines.
// Subscriber callbacks must hand off to their own queues; a slow
// callback delays later events but never deadlocks the bus.
func (b *Bus) Append(eventType, adapter string, payload map[string]string) (claw.Event, error) {
	if !claw.KnownEventType(eventType) {
		return claw.Event{}, fmt.Errorf("unknown event type %q", eventType)
	}
	if payload == nil {
		payload = map[string]string{}
	}

	b.mu.Lock()
	b.lastID++
	evt := claw.Event{
		ID:         b.lastID,
		Type:       eventType,
		Adapter:    adapter,
		ObservedAt: b.nowFunc(),
		Payload:    payload,
	}
	b.ring = append(b.ring, evt)
	if len(b.ring) > b.cap {
		b.ring = b.ring[len(b.ring)-b.cap:]
	}
	b.pending = append(b.pending, evt)
	if b.delivering {
		// Another Append is draining; it will pick this event up.
		b.mu.Unlock()
		return evt, nil
	}
	b.delivering = true
	b.drainLocked()
	return evt, nil
}

// drainLocked delivers queued events in order. Called with b.mu held
// and b.delivering set; returns with the lock released.
func (b *Bus) drainLocked() {
	for len(b.pending) > 0 {
		evt := b.pending[0]
		b.pending = b.pending[1:]
		subs := make([]subscriber, len(b.subs))
		copy(subs, b.subs)
		b.mu.Unlock()

		for _, s := range subs {
			s.fn(evt)
		}
		b.mu.Lock()
	}
	b.delivering = false
	b.mu.Unlock()
}

// Poll returns every ringed event with id > since, or the last few when
// since is negative (bootstrap). NextCursor is the id of the last
// returned event, or since when nothing qualified.
func (b *Bus) Poll(since int64) PollResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if since < 0 {
		start := len(b.ring) - bootstrapCount
		if start < 0 {
			start = 0
		}
		events := append([]claw.Event{}, b.ring[start:]...)
		next := since
		if len(events) > 0 {
			next = events[len(events)-1].ID
		}
		return PollResult{Events: events, NextCursor: next}
	}

	events := make([]claw.Event, 0)
	for _, evt := range b.ring {
		if evt.ID > since {
			events = append(events, evt)
		}
	}
	next := since
	if len(events) > 0 {
		next = events[len(events)-1].ID
	}
	return PollResult{Events: events, NextCursor: next}
}

// Replay returns the ringed events with id > after, for SSE catch-up.
func (b *Bus) Replay(after int64) []claw.Event {
	return b.Poll(after).Events
}

// LastID returns the most recently assigned id.
func (b *Bus) LastID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastID
}

// Subscribe registers fn for every subsequent append and returns an
// unsubscribe handle.
func (b *Bus) Subscribe(fn func(claw.Event)) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	b.subs = append(b.subs, subscriber{id: b.nextSub, fn: fn})
	return b.nextSub
}

// Unsubscribe removes the handle; unknown handles are a no-op.
func (b *Bus) Unsubscribe(handle int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == handle {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}
