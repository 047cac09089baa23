// Package eventbus implements the EventBus (§4.8): an in-process
// broadcast channel per subscriber, a fixed-size replay ring for
// Last-Event-Id reconnection, and three priority classes with distinct
// backpressure behavior.
//
// Grounded on the teacher's goroutine/fan-out idiom (the worker/grapher
// composition pattern of one broadcasting owner plus many short-lived
// consumer goroutines); the teacher has no pub/sub primitive of its own,
// so the channel/ring shape here is built directly from §4.8 and §5's
// backpressure rules.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fortemi/core/internal/model"
)

// Priority classes control how Publish behaves under subscriber
// backpressure.
type Priority string

const (
	Critical Priority = "critical" // never dropped, never coalesced
	Normal   Priority = "normal"   // dropped on severe lag, subscriber notified
	Low      Priority = "low"      // coalescable within CoalesceWindow
)

const (
	DefaultCapacity     = 256
	DefaultReplayBuffer = 1024
	DefaultCoalesce     = 500 * time.Millisecond
)

var (
	droppedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fortemi",
		Subsystem: "eventbus",
		Name:      "dropped_total",
		Help:      "Events dropped due to subscriber backpressure, by priority.",
	}, []string{"priority"})

	resyncRequired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fortemi",
		Subsystem: "eventbus",
		Name:      "resync_required_total",
		Help:      "Subscriptions that missed the replay ring and required a resync.",
	})
)

func init() {
	prometheus.MustRegister(droppedEvents, resyncRequired)
}

// Filter narrows which events a subscriber receives.
type Filter struct {
	EventTypePrefix string
	Memory          string
	EntityID        string
}

func (f Filter) matches(e model.Event) bool {
	if f.EventTypePrefix != "" && !hasPrefix(e.EventType, f.EventTypePrefix) {
		return false
	}
	if f.Memory != "" && e.Memory != f.Memory {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	return true
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Subscription is a consumer's mailbox. Events arrive on C in published
// order; a nil/closed C means the subscription has been torn down.
type Subscription struct {
	ID     uuid.UUID
	C      chan model.Event
	filter Filter
	done   chan struct{}

	mu     sync.Mutex
	lagged bool
}

// Bus is the EventBus: owns the replay ring and every live subscriber
// mailbox. Safe for concurrent Publish/Subscribe/Unsubscribe.
type Bus struct {
	mu             sync.Mutex
	subs           map[uuid.UUID]*Subscription
	ring           *ring
	capacity       int
	coalesceWindow time.Duration
	coalescer      *coalescer
}

func New(capacity, replayBuffer int, coalesceWindow time.Duration) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if replayBuffer <= 0 {
		replayBuffer = DefaultReplayBuffer
	}
	if coalesceWindow <= 0 {
		coalesceWindow = DefaultCoalesce
	}
	b := &Bus{
		subs:           map[uuid.UUID]*Subscription{},
		ring:           newRing(replayBuffer),
		capacity:       capacity,
		coalesceWindow: coalesceWindow,
	}
	b.coalescer = newCoalescer(coalesceWindow, b.deliver)
	return b
}

// Publish broadcasts evt to every matching subscriber, after recording it
// in the replay ring, applying the priority class's backpressure policy.
func (b *Bus) Publish(ctx context.Context, evt model.Event, priority Priority) {
	if evt.EventID == uuid.Nil {
		evt.EventID = uuid.New()
	}
	b.ring.append(evt)

	if priority == Low {
		b.coalescer.submit(evt)
		return
	}
	b.deliver(ctx, evt, priority)
}

func (b *Bus) deliver(ctx context.Context, evt model.Event, priority Priority) {
	b.mu.Lock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.filter.matches(evt) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		switch priority {
		case Critical:
			b.sendBlocking(ctx, s, evt)
		default:
			b.sendBestEffort(s, evt, priority)
		}
	}
}

// sendBlocking guarantees Critical events are never dropped: it blocks
// until the subscriber's mailbox has room or ctx is done.
func (b *Bus) sendBlocking(ctx context.Context, s *Subscription, evt model.Event) {
	select {
	case s.C <- evt:
	case <-ctx.Done():
	}
}

// sendBestEffort drops Normal and Low events on a full mailbox, marking the
// subscriber lagged and delivering a lagged notification as soon as the
// mailbox has room (bounded so a dead subscriber can't leak goroutines).
func (b *Bus) sendBestEffort(s *Subscription, evt model.Event, priority Priority) {
	select {
	case s.C <- evt:
		return
	default:
	}

	label := "normal"
	if priority == Low {
		label = "low"
	}
	droppedEvents.WithLabelValues(label).Inc()

	s.mu.Lock()
	alreadyLagged := s.lagged
	s.lagged = true
	s.mu.Unlock()
	if alreadyLagged {
		return
	}

	lagEvt := model.Event{
		EventID:    uuid.New(),
		EventType:  "events.lagged",
		OccurredAt: evt.OccurredAt,
		Memory:     evt.Memory,
		Payload:    model.Metadata{"count": 1},
	}
	go func() {
		select {
		case s.C <- lagEvt:
		case <-s.done:
		case <-time.After(2 * time.Second):
		}
	}()
}

// Subscribe registers a new consumer. If lastEventID is non-nil and
// still within the replay ring's retention, every event published since
// is replayed before Subscribe returns; if the id has aged out, a
// resync_required envelope is the first thing delivered.
func (b *Bus) Subscribe(filter Filter, lastEventID *uuid.UUID) *Subscription {
	sub := &Subscription{ID: uuid.New(), C: make(chan model.Event, b.capacity), filter: filter, done: make(chan struct{})}

	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()

	if lastEventID != nil {
		replay, ok := b.ring.since(*lastEventID)
		if !ok {
			resyncRequired.Inc()
			sub.C <- model.Event{EventID: uuid.New(), EventType: "resync_required", Memory: filter.Memory}
		} else {
			for _, e := range replay {
				if filter.matches(e) {
					b.sendBestEffort(sub, e, Normal)
				}
			}
		}
	}

	return sub
}

// Unsubscribe tears down a subscription. The mailbox channel itself is
// never closed — a concurrent lag-notification goroutine (sendBestEffort)
// may still hold a send reference to it, and closing a channel someone
// else might send on panics. done stops that goroutine; the channel is
// left for the garbage collector once both sides drop it.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub.ID)
	b.mu.Unlock()
	close(sub.done)
}
