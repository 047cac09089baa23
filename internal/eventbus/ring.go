package eventbus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/fortemi/core/internal/model"
)

// ring is a fixed-capacity circular buffer of recently published events,
// used to serve Last-Event-Id replay without re-querying the store.
type ring struct {
	mu       sync.Mutex
	buf      []model.Event
	next     int
	filled   bool
	capacity int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]model.Event, capacity), capacity: capacity}
}

func (r *ring) append(e model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.filled = true
	}
}

// since returns every event published after id, oldest first, and false
// if id has already aged out of the ring (or was never seen) — the
// caller must then issue resync_required.
func (r *ring) since(id uuid.UUID) ([]model.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ordered := r.orderedLocked()
	for i, e := range ordered {
		if e.EventID == id {
			out := make([]model.Event, len(ordered)-i-1)
			copy(out, ordered[i+1:])
			return out, true
		}
	}
	return nil, false
}

// orderedLocked returns the ring's contents oldest-first. Caller must
// hold r.mu.
func (r *ring) orderedLocked() []model.Event {
	if !r.filled {
		out := make([]model.Event, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]model.Event, r.capacity)
	copy(out, r.buf[r.next:])
	copy(out[r.capacity-r.next:], r.buf[:r.next])
	return out
}
