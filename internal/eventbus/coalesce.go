package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/fortemi/core/internal/model"
)

// coalesceKey groups Low-priority events that should collapse into one
// delivery if they arrive within the same window, keyed by job_id+type
// per §4.8.
func coalesceKey(e model.Event) string {
	jobID, _ := e.Payload["job_id"].(string)
	return jobID + "|" + e.EventType
}

// coalescer delays Low-priority events by window, replacing any pending
// event under the same key with the latest one, and flushes the most
// recent version once the window elapses.
type coalescer struct {
	mu      sync.Mutex
	window  time.Duration
	pending map[string]*pendingEvent
	flush   func(ctx context.Context, e model.Event, priority Priority)
}

type pendingEvent struct {
	event model.Event
	timer *time.Timer
}

func newCoalescer(window time.Duration, flush func(ctx context.Context, e model.Event, priority Priority)) *coalescer {
	return &coalescer{window: window, pending: map[string]*pendingEvent{}, flush: flush}
}

func (c *coalescer) submit(e model.Event) {
	key := coalesceKey(e)

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.pending[key]; ok {
		existing.event = e
		return
	}

	pe := &pendingEvent{event: e}
	pe.timer = time.AfterFunc(c.window, func() {
		c.mu.Lock()
		final := c.pending[key].event
		delete(c.pending, key)
		c.mu.Unlock()
		c.flush(context.Background(), final, Low)
	})
	c.pending[key] = pe
}
