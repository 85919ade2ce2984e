package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("doc.", 10)
	defer unsub()

	b.Publish(Event{Kind: "doc.changed", Path: "users/u1", Timestamp: time.Now()})

	select {
	case evt := <-ch:
		if evt.Kind != "doc.changed" {
			t.Errorf("got kind %q, want doc.changed", evt.Kind)
		}
		if evt.Path != "users/u1" {
			t.Errorf("got path %q, want users/u1", evt.Path)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestTopicFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("outbox.", 10)
	defer unsub()

	b.Publish(Event{Kind: "doc.changed"})
	b.Publish(Event{Kind: "outbox.sent"})

	select {
	case evt := <-ch:
		if evt.Kind != "outbox.sent" {
			t.Errorf("got kind %q, want outbox.sent", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// Ensure the doc event was not delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected: no more events.
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 10)
	unsub()

	b.Publish(Event{Kind: "session.status_changed"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
		// Expected.
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("doc.", 1)
	defer unsub()

	// Fill buffer.
	b.Publish(Event{Kind: "doc.changed", Path: "users/a"})
	// This should be dropped (non-blocking).
	b.Publish(Event{Kind: "doc.changed", Path: "users/b"})

	evt := <-ch
	if evt.Path != "users/a" {
		t.Errorf("got %q, want users/a", evt.Path)
	}
}
