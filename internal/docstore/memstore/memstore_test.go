package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/driftchat/drift/internal/bus"
	"github.com/driftchat/drift/internal/docstore"
)

func testStore() *Memory {
	return New(bus.New())
}

func TestSetAndGet(t *testing.T) {
	s := testStore()
	ctx := context.Background()

	if err := s.Set(ctx, "users/u1", map[string]any{"displayName": "Alice"}); err != nil {
		t.Fatal(err)
	}

	doc, err := s.Get(ctx, "users/u1")
	if err != nil {
		t.Fatal(err)
	}
	if !doc.Exists {
		t.Fatal("doc should exist")
	}
	if doc.ID != "u1" {
		t.Errorf("ID = %q, want u1", doc.ID)
	}
	if docstore.AsString(doc.Data["displayName"]) != "Alice" {
		t.Errorf("displayName = %v", doc.Data["displayName"])
	}

	missing, err := s.Get(ctx, "users/nope")
	if err != nil {
		t.Fatal(err)
	}
	if missing.Exists {
		t.Error("missing doc reported as existing")
	}
}

func TestCreateConflict(t *testing.T) {
	s := testStore()
	ctx := context.Background()

	if err := s.Create(ctx, "conversations/c1", map[string]any{"type": "direct"}); err != nil {
		t.Fatal(err)
	}
	err := s.Create(ctx, "conversations/c1", map[string]any{"type": "direct"})
	if !errors.Is(err, docstore.ErrAlreadyExists) {
		t.Errorf("second create = %v, want ErrAlreadyExists", err)
	}
}

func TestMergeMissing(t *testing.T) {
	s := testStore()
	err := s.Merge(context.Background(), "users/ghost", map[string]any{"status": "online"})
	if !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("merge missing = %v, want ErrNotFound", err)
	}
}

func TestServerTimestampMonotonic(t *testing.T) {
	s := testStore()
	ctx := context.Background()

	var prev int64
	for i := 0; i < 5; i++ {
		path := "conversations/c1/messages/m" + string(rune('a'+i))
		if err := s.Set(ctx, path, map[string]any{"timestamp": docstore.ServerTimestamp}); err != nil {
			t.Fatal(err)
		}
		doc, _ := s.Get(ctx, path)
		ts := docstore.AsInt64(doc.Data["timestamp"])
		if ts == 0 {
			t.Fatal("server timestamp not resolved")
		}
		if ts < prev {
			t.Fatalf("timestamp went backwards: %d < %d", ts, prev)
		}
		prev = ts
	}
}

func TestArrayUnionAndRemove(t *testing.T) {
	s := testStore()
	ctx := context.Background()

	if err := s.Set(ctx, "conversations/c1", map[string]any{"participants": []any{"a", "b"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Merge(ctx, "conversations/c1", map[string]any{"participants": docstore.ArrayUnion("b", "c")}); err != nil {
		t.Fatal(err)
	}
	doc, _ := s.Get(ctx, "conversations/c1")
	if got := docstore.AsStringSlice(doc.Data["participants"]); len(got) != 3 {
		t.Errorf("participants after union = %v, want 3 entries", got)
	}

	if err := s.Merge(ctx, "conversations/c1", map[string]any{"participants": docstore.ArrayRemove("a")}); err != nil {
		t.Fatal(err)
	}
	doc, _ = s.Get(ctx, "conversations/c1")
	got := docstore.AsStringSlice(doc.Data["participants"])
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("participants after remove = %v, want [b c]", got)
	}
}

func TestIncrement(t *testing.T) {
	s := testStore()
	ctx := context.Background()

	if err := s.Set(ctx, "users/u1/conversations/c1", map[string]any{"muted": false}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := s.Merge(ctx, "users/u1/conversations/c1", map[string]any{"unreadCount": docstore.Increment(1)}); err != nil {
			t.Fatal(err)
		}
	}
	doc, _ := s.Get(ctx, "users/u1/conversations/c1")
	if got := docstore.AsInt64(doc.Data["unreadCount"]); got != 3 {
		t.Errorf("unreadCount = %d, want 3", got)
	}
}

func TestListOrderAndTieBreak(t *testing.T) {
	s := testStore()
	ctx := context.Background()

	// Equal timestamps: insertion order must break the tie.
	for i, id := range []string{"m1", "m2", "m3"} {
		ts := int64(100)
		if id == "m3" {
			ts = 50
		}
		if err := s.Set(ctx, "conversations/c1/messages/"+id, map[string]any{"timestamp": ts, "n": i}); err != nil {
			t.Fatal(err)
		}
	}

	docs, err := s.List(ctx, "conversations/c1/messages", docstore.Query{OrderBy: "timestamp"})
	if err != nil {
		t.Fatal(err)
	}
	got := []string{docs[0].ID, docs[1].ID, docs[2].ID}
	want := []string{"m3", "m1", "m2"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ascending order = %v, want %v", got, want)
		}
	}

	desc, err := s.List(ctx, "conversations/c1/messages", docstore.Query{OrderBy: "timestamp", Descending: true, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(desc) != 2 || desc[0].ID != "m2" || desc[1].ID != "m1" {
		t.Errorf("descending window = %v", []string{desc[0].ID, desc[1].ID})
	}
}

func TestBatchAtomicity(t *testing.T) {
	s := testStore()
	ctx := context.Background()

	if err := s.Set(ctx, "conversations/c1", map[string]any{"type": "direct"}); err != nil {
		t.Fatal(err)
	}

	// A failing create must abort every other write in the batch.
	b := s.Batch()
	b.Set("users/u1/conversations/c1", map[string]any{"unreadCount": 0})
	b.Create("conversations/c1", map[string]any{"type": "direct"})
	err := b.Commit(ctx)
	if !errors.Is(err, docstore.ErrAlreadyExists) {
		t.Fatalf("commit = %v, want ErrAlreadyExists", err)
	}

	doc, _ := s.Get(ctx, "users/u1/conversations/c1")
	if doc.Exists {
		t.Error("batch write leaked despite failed commit")
	}
}

func TestWatchDeliversAndTearsDown(t *testing.T) {
	s := testStore()
	ctx := context.Background()

	ch, cancel := s.Watch("users/u1", 8)

	if err := s.Set(ctx, "users/u1", map[string]any{"status": "online"}); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-ch:
		if c.Path != "users/u1" {
			t.Errorf("change path = %q", c.Path)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for change")
	}

	// Out-of-scope writes are filtered.
	if err := s.Set(ctx, "users/u2", map[string]any{"status": "online"}); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-ch:
		t.Errorf("unexpected change: %v", c)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	if err := s.Set(ctx, "users/u1", map[string]any{"status": "away"}); err != nil {
		t.Fatal(err)
	}
	select {
	case c, ok := <-ch:
		if ok {
			t.Errorf("received change after teardown: %v", c)
		}
	case <-time.After(50 * time.Millisecond):
	}
}
