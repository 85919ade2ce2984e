package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/driftchat/drift/internal/bus"
	"github.com/driftchat/drift/internal/docstore"
	"github.com/driftchat/drift/internal/docstore/memstore"
	"github.com/driftchat/drift/internal/model"
	"go.uber.org/zap"
)

func testRegistry() (*Registry, docstore.Store) {
	s := memstore.New(bus.New())
	return New(s, zap.NewNop()), s
}

func TestGetOrCreateDirectOrderIndependent(t *testing.T) {
	r, _ := testRegistry()
	ctx := context.Background()

	ab, err := r.GetOrCreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	ba, err := r.GetOrCreateDirect(ctx, "bob", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if ab != ba {
		t.Errorf("ids differ: %q vs %q", ab, ba)
	}
}

func TestGetOrCreateDirectIdempotent(t *testing.T) {
	r, s := testRegistry()
	ctx := context.Background()

	cid1, err := r.GetOrCreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	cid2, err := r.GetOrCreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if cid1 != cid2 {
		t.Fatalf("ids differ: %q vs %q", cid1, cid2)
	}

	convs, err := s.List(ctx, model.ConversationsCollection, docstore.Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Errorf("got %d conversations, want exactly 1", len(convs))
	}
	for _, uid := range []string{"alice", "bob"} {
		ms, err := s.List(ctx, model.MembershipsCollection(uid), docstore.Query{})
		if err != nil {
			t.Fatal(err)
		}
		if len(ms) != 1 {
			t.Errorf("user %s has %d membership records, want exactly 1", uid, len(ms))
		}
	}
}

func TestGetOrCreateDirectValidation(t *testing.T) {
	r, _ := testRegistry()
	ctx := context.Background()

	if _, err := r.GetOrCreateDirect(ctx, "", "bob"); !errors.Is(err, docstore.ErrInvalidArgument) {
		t.Errorf("empty user: err = %v", err)
	}
	if _, err := r.GetOrCreateDirect(ctx, "alice", "alice"); !errors.Is(err, docstore.ErrInvalidArgument) {
		t.Errorf("same user twice: err = %v", err)
	}
}

func TestCreateGroup(t *testing.T) {
	r, s := testRegistry()
	ctx := context.Background()

	cid, err := r.CreateGroup(ctx, "u1", []string{"u2", "u3"}, "Team", "", "")
	if err != nil {
		t.Fatal(err)
	}

	conv, err := r.Get(ctx, cid)
	if err != nil {
		t.Fatal(err)
	}
	if conv == nil {
		t.Fatal("group missing")
	}
	if conv.Type != model.ConversationGroup {
		t.Errorf("type = %q, want group", conv.Type)
	}
	if conv.Name != "Team" {
		t.Errorf("name = %q", conv.Name)
	}
	if len(conv.Participants) != 3 {
		t.Fatalf("participants = %v, want 3 including creator", conv.Participants)
	}

	for _, uid := range []string{"u1", "u2", "u3"} {
		doc, err := s.Get(ctx, model.MembershipPath(uid, cid))
		if err != nil {
			t.Fatal(err)
		}
		m := model.MembershipFromDoc(doc)
		if m == nil {
			t.Fatalf("membership record for %s missing", uid)
		}
		if m.UnreadCount != 0 {
			t.Errorf("unreadCount for %s = %d, want 0", uid, m.UnreadCount)
		}
	}
}

func TestCreateGroupDeduplicatesCreator(t *testing.T) {
	r, _ := testRegistry()

	cid, err := r.CreateGroup(context.Background(), "u1", []string{"u1", "u2"}, "Team", "", "")
	if err != nil {
		t.Fatal(err)
	}
	conv, _ := r.Get(context.Background(), cid)
	if len(conv.Participants) != 2 {
		t.Errorf("participants = %v, want creator listed once", conv.Participants)
	}
}

func TestAddThenRemoveParticipant(t *testing.T) {
	r, s := testRegistry()
	ctx := context.Background()

	cid, err := r.CreateGroup(ctx, "u1", []string{"u2"}, "Team", "", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := r.AddParticipant(ctx, cid, "u3", "u1"); err != nil {
		t.Fatal(err)
	}
	// Adding twice is a no-op.
	if err := r.AddParticipant(ctx, cid, "u3", "u1"); err != nil {
		t.Fatal(err)
	}
	if err := r.RemoveParticipant(ctx, cid, "u3", "u1"); err != nil {
		t.Fatal(err)
	}

	conv, _ := r.Get(ctx, cid)
	for _, p := range conv.Participants {
		if p == "u3" {
			t.Error("u3 still in participants after removal")
		}
	}

	doc, _ := s.Get(ctx, model.MembershipPath("u3", cid))
	m := model.MembershipFromDoc(doc)
	if m == nil || !m.Archived {
		t.Errorf("membership = %+v, want archived", m)
	}

	// Exactly two system messages, added then removed, in that order.
	msgs, err := s.List(ctx, model.MessagesCollection(cid), docstore.Query{OrderBy: "timestamp"})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 system messages", len(msgs))
	}
	first := model.MessageFromDoc(cid, msgs[0])
	second := model.MessageFromDoc(cid, msgs[1])
	if first.Type != model.MessageSystem || first.SenderID != model.SystemSenderID {
		t.Errorf("first message = %+v, want system", first)
	}
	if first.Text != "u1 added u3 to the conversation" {
		t.Errorf("first text = %q", first.Text)
	}
	if second.Text != "u1 removed u3 from the conversation" {
		t.Errorf("second text = %q", second.Text)
	}
}

func TestRemoveParticipantAbsentIsNoop(t *testing.T) {
	r, s := testRegistry()
	ctx := context.Background()

	cid, _ := r.CreateGroup(ctx, "u1", []string{"u2"}, "Team", "", "")
	if err := r.RemoveParticipant(ctx, cid, "stranger", "u1"); err != nil {
		t.Fatal(err)
	}
	msgs, _ := s.List(ctx, model.MessagesCollection(cid), docstore.Query{})
	if len(msgs) != 0 {
		t.Errorf("no-op removal appended %d messages", len(msgs))
	}
}

func TestUpdateMembershipMarkRead(t *testing.T) {
	r, s := testRegistry()
	ctx := context.Background()

	cid, _ := r.GetOrCreateDirect(ctx, "alice", "bob")
	// Simulate unread activity.
	if err := s.Merge(ctx, model.MembershipPath("bob", cid), map[string]any{
		"unreadCount": docstore.Increment(4),
	}); err != nil {
		t.Fatal(err)
	}

	if err := r.UpdateMembership(ctx, "bob", cid, MembershipPatch{MarkRead: true}); err != nil {
		t.Fatal(err)
	}
	doc, _ := s.Get(ctx, model.MembershipPath("bob", cid))
	m := model.MembershipFromDoc(doc)
	if m.UnreadCount != 0 {
		t.Errorf("unreadCount = %d, want 0 after mark read", m.UnreadCount)
	}
	if m.LastRead == 0 {
		t.Error("lastRead not stamped")
	}
}

func TestListForUserOrderAndDanglingDrop(t *testing.T) {
	r, s := testRegistry()
	ctx := context.Background()

	cid1, _ := r.GetOrCreateDirect(ctx, "alice", "bob")
	time.Sleep(2 * time.Millisecond)
	cid2, _ := r.CreateGroup(ctx, "alice", []string{"carol"}, "Team", "", "")

	// A membership whose conversation is gone must be dropped silently.
	if err := s.Set(ctx, model.MembershipPath("alice", "ghost"), map[string]any{
		"conversationId": "ghost",
		"userId":         "alice",
		"unreadCount":    int64(0),
		"updatedAt":      docstore.ServerTimestamp,
	}); err != nil {
		t.Fatal(err)
	}

	views, err := r.ListForUser(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 2 {
		t.Fatalf("got %d views, want 2 (dangling dropped)", len(views))
	}
	// Most recently updated first.
	if views[0].ID != cid2 || views[1].ID != cid1 {
		t.Errorf("order = [%s %s], want [%s %s]", views[0].ID, views[1].ID, cid2, cid1)
	}
}

func TestSubscribeForUserPushesFullList(t *testing.T) {
	r, _ := testRegistry()
	ctx := context.Background()

	cid, err := r.GetOrCreateDirect(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var last []model.ConversationView
	calls := 0
	cancel, err := r.SubscribeForUser(ctx, "alice", func(views []model.ConversationView) {
		mu.Lock()
		defer mu.Unlock()
		last = views
		calls++
	})
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	mu.Lock()
	if calls != 1 || len(last) != 1 || last[0].ID != cid {
		t.Fatalf("initial push: calls=%d views=%v", calls, last)
	}
	mu.Unlock()

	// A membership change triggers a full recompute.
	muted := true
	if err := r.UpdateMembership(ctx, "alice", cid, MembershipPatch{Muted: &muted}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		ok := calls >= 2 && len(last) == 1 && last[0].Membership.Muted
		mu.Unlock()
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no recomputed push after membership change")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubscribeForUserCancelConcurrent(t *testing.T) {
	r, _ := testRegistry()
	ctx := context.Background()

	if _, err := r.GetOrCreateDirect(ctx, "alice", "bob"); err != nil {
		t.Fatal(err)
	}
	cancel, err := r.SubscribeForUser(ctx, "alice", func([]model.ConversationView) {})
	if err != nil {
		t.Fatal(err)
	}

	// The teardown must tolerate racing callers; a double close panics.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cancel()
		}()
	}
	wg.Wait()
}

func TestFindDirectWith(t *testing.T) {
	r, _ := testRegistry()
	ctx := context.Background()

	cid, _ := r.GetOrCreateDirect(ctx, "alice", "bob")
	_, _ = r.CreateGroup(ctx, "alice", []string{"bob"}, "Both of us", "", "")

	got, err := r.FindDirectWith(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if got != cid {
		t.Errorf("got %q, want %q (group must not match)", got, cid)
	}

	got, err = r.FindDirectWith(ctx, "alice", "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("got %q, want empty for no match", got)
	}
}

func TestSearchFiltersByNameAndDescription(t *testing.T) {
	r, _ := testRegistry()
	ctx := context.Background()

	_, _ = r.CreateGroup(ctx, "alice", []string{"bob"}, "Platform Team", "infra chat", "")
	_, _ = r.CreateGroup(ctx, "alice", []string{"bob"}, "Random", "watercooler", "")

	got, err := r.Search(ctx, "alice", "platform", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "Platform Team" {
		t.Errorf("search = %+v", got)
	}

	got, err = r.Search(ctx, "alice", "watercooler", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "Random" {
		t.Errorf("description search = %+v", got)
	}

	got, err = r.Search(ctx, "alice", "nothing-here", 10)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("no-match search = %v, want empty non-nil", got)
	}
}
