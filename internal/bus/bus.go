// Package bus fans test telemetry out to connected observers.
package bus

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/torosent/loadpilot/internal/obs"
)

// Event names on the wire.
const (
	EventConnected = "connected"
	EventUpdate    = "test_update"
	EventCompleted = "test_completed"
	EventFailed    = "test_failed"
	EventStopped   = "test_stopped"
)

// Event is one telemetry message. Terminal events (completed/failed/stopped)
// are emitted exactly once per test id and are never dropped.
type Event struct {
	Name   string `json:"event"`
	TestID string `json:"test_id,omitempty"`
	Data   any    `json:"data"`
}

// Terminal reports whether the event ends its test's stream.
func (e Event) Terminal() bool {
	switch e.Name {
	case EventCompleted, EventFailed, EventStopped:
		return true
	}
	return false
}

// ErrClosed is returned by Subscriber.Next after Unsubscribe.
var ErrClosed = errors.New("subscriber closed")

// Subscriber is one observer's bounded outbox. When the outbox is full the
// oldest non-terminal event is evicted; terminal events always land.
type Subscriber struct {
	id     string
	max    int
	mu     sync.Mutex
	testID string
	queue  []Event
	notify chan struct{}
	closed bool
}

// SetFilter narrows the subscription to a single test id ("" means all).
func (s *Subscriber) SetFilter(testID string) {
	s.mu.Lock()
	s.testID = testID
	s.mu.Unlock()
}

func (s *Subscriber) matches(ev Event) bool {
	return s.testID == "" || ev.TestID == "" || s.testID == ev.TestID
}

// push enqueues ev, applying the eviction policy. Returns the number of
// events dropped to make room.
func (s *Subscriber) push(ev Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.matches(ev) {
		return 0
	}

	dropped := 0
	if len(s.queue) >= s.max {
		evicted := false
		for i, queued := range s.queue {
			if !queued.Terminal() {
				s.queue = append(s.queue[:i], s.queue[i+1:]...)
				evicted = true
				dropped++
				break
			}
		}
		if !evicted && !ev.Terminal() {
			// Outbox holds only terminal events; shed the tick instead.
			return 1
		}
	}

	s.queue = append(s.queue, ev)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Next blocks until an event is available or ctx ends.
func (s *Subscriber) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Event{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.notify:
		}
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Bus is the process-wide publisher. Delivery per test id is FIFO to every
// observer of that id; publishing never blocks.
type Bus struct {
	log    *zap.Logger
	outbox int

	mu   sync.RWMutex
	subs map[string]*Subscriber
}

func New(outbox int, log *zap.Logger) *Bus {
	if outbox <= 0 {
		outbox = 64
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log, outbox: outbox, subs: make(map[string]*Subscriber)}
}

// Subscribe registers an observer. An empty testID follows all tests.
func (b *Bus) Subscribe(id, testID string) *Subscriber {
	sub := &Subscriber{
		id:     id,
		max:    b.outbox,
		testID: testID,
		notify: make(chan struct{}, 1),
	}
	b.mu.Lock()
	if prev, ok := b.subs[id]; ok {
		prev.close()
	}
	b.subs[id] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes an observer; its pending Next call returns ErrClosed.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Publish fans the event out to every matching subscriber.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if dropped := sub.push(ev); dropped > 0 {
			obs.EventsDropped.Add(float64(dropped))
			b.log.Debug("outbox full, evicted progress events",
				zap.String("subscriber", sub.id),
				zap.String("test_id", ev.TestID),
				zap.Int("dropped", dropped))
		}
	}
}
