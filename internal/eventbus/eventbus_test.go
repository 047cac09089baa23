package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fortemi/core/internal/model"
)

func TestCriticalEventAlwaysDelivered(t *testing.T) {
	b := New(1, 16, 10*time.Millisecond)
	sub := b.Subscribe(Filter{}, nil)
	defer b.Unsubscribe(sub)

	// Deliver and drain one Critical event through the 1-slot mailbox,
	// then check a second Critical publish still arrives.
	b.Publish(context.Background(), model.Event{EventType: "note.created"}, Critical)
	<-sub.C

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b.Publish(ctx, model.Event{EventType: "note.created"}, Critical)

	select {
	case <-sub.C:
	case <-time.After(time.Second):
		t.Fatal("critical event was dropped")
	}
}

func TestNormalEventDroppedOnFullMailboxNotifiesLag(t *testing.T) {
	b := New(1, 16, 10*time.Millisecond)
	sub := b.Subscribe(Filter{}, nil)
	defer b.Unsubscribe(sub)

	b.Publish(context.Background(), model.Event{EventType: "a"}, Normal)
	b.Publish(context.Background(), model.Event{EventType: "b"}, Normal) // mailbox full, dropped

	first := <-sub.C
	require.Equal(t, "a", first.EventType)

	select {
	case lag := <-sub.C:
		require.Equal(t, "events.lagged", lag.EventType)
	case <-time.After(time.Second):
		t.Fatal("expected a lagged notification after a dropped normal event")
	}
}

func TestLowPriorityCoalescesWithinWindow(t *testing.T) {
	b := New(16, 16, 30*time.Millisecond)
	sub := b.Subscribe(Filter{}, nil)
	defer b.Unsubscribe(sub)

	ctx := context.Background()
	b.Publish(ctx, model.Event{EventType: "job.progress", Payload: model.Metadata{"job_id": "j1", "pct": 10}}, Low)
	b.Publish(ctx, model.Event{EventType: "job.progress", Payload: model.Metadata{"job_id": "j1", "pct": 50}}, Low)
	b.Publish(ctx, model.Event{EventType: "job.progress", Payload: model.Metadata{"job_id": "j1", "pct": 90}}, Low)

	select {
	case e := <-sub.C:
		pct, _ := e.Payload["pct"].(int)
		require.Equal(t, 90, pct, "only the latest coalesced update should be delivered")
	case <-time.After(time.Second):
		t.Fatal("coalesced event never delivered")
	}

	select {
	case e := <-sub.C:
		t.Fatalf("unexpected extra delivery: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeReplaysSinceLastEventID(t *testing.T) {
	b := New(16, 16, 10*time.Millisecond)
	ctx := context.Background()

	first := model.Event{EventID: uuid.New(), EventType: "note.created"}
	b.Publish(ctx, first, Critical)
	second := model.Event{EventID: uuid.New(), EventType: "note.revised"}
	b.Publish(ctx, second, Critical)

	lastID := first.EventID
	sub := b.Subscribe(Filter{}, &lastID)
	defer b.Unsubscribe(sub)

	select {
	case e := <-sub.C:
		require.Equal(t, second.EventID, e.EventID)
	case <-time.After(time.Second):
		t.Fatal("expected replay of event published after last_event_id")
	}
}

func TestSubscribeResyncRequiredOnUnknownLastEventID(t *testing.T) {
	b := New(16, 4, 10*time.Millisecond)
	unknown := uuid.New()
	sub := b.Subscribe(Filter{}, &unknown)
	defer b.Unsubscribe(sub)

	select {
	case e := <-sub.C:
		require.Equal(t, "resync_required", e.EventType)
	case <-time.After(time.Second):
		t.Fatal("expected resync_required envelope")
	}
}

func TestFilterByEventTypePrefix(t *testing.T) {
	b := New(16, 16, 10*time.Millisecond)
	sub := b.Subscribe(Filter{EventTypePrefix: "note."}, nil)
	defer b.Unsubscribe(sub)

	ctx := context.Background()
	b.Publish(ctx, model.Event{EventType: "job.completed"}, Critical)
	b.Publish(ctx, model.Event{EventType: "note.created"}, Critical)

	select {
	case e := <-sub.C:
		require.Equal(t, "note.created", e.EventType)
	case <-time.After(time.Second):
		t.Fatal("expected only the note.* event to be delivered")
	}
}
