package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/driftchat/drift/internal/bus"
	"github.com/driftchat/drift/internal/docstore"
	"github.com/driftchat/drift/internal/docstore/memstore"
	"github.com/driftchat/drift/internal/model"
	"go.uber.org/zap"
)

func strptr(s string) *string { return &s }

func testDirectory() *Directory {
	return New(memstore.New(bus.New()), zap.NewNop())
}

func TestUpsertCreatesThenMerges(t *testing.T) {
	d := testDirectory()
	ctx := context.Background()

	err := d.Upsert(ctx, "u1", ProfilePatch{
		Email:       strptr("alice@example.com"),
		DisplayName: strptr("Alice"),
	}, false)
	if err != nil {
		t.Fatal(err)
	}

	p, err := d.GetByID(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if p == nil {
		t.Fatal("profile missing after upsert")
	}
	if p.CreatedAt == 0 || p.UpdatedAt == 0 {
		t.Error("createdAt/updatedAt not stamped")
	}
	if p.Status != model.StatusOffline {
		t.Errorf("status = %q, want offline without touchPresence", p.Status)
	}

	// Merge keeps untouched fields.
	if err := d.Upsert(ctx, "u1", ProfilePatch{Bio: strptr("hi")}, false); err != nil {
		t.Fatal(err)
	}
	p, _ = d.GetByID(ctx, "u1")
	if p.DisplayName != "Alice" || p.Bio != "hi" {
		t.Errorf("merged profile = %+v", p)
	}
	if p.CreatedAt == 0 {
		t.Error("createdAt lost on merge")
	}
}

func TestUpsertTouchPresenceForcesOnline(t *testing.T) {
	d := testDirectory()
	ctx := context.Background()

	if err := d.Upsert(ctx, "u1", ProfilePatch{DisplayName: strptr("Alice")}, true); err != nil {
		t.Fatal(err)
	}
	p, _ := d.GetByID(ctx, "u1")
	if p.Status != model.StatusOnline {
		t.Errorf("status = %q, want online", p.Status)
	}
	if p.LastSeen == 0 {
		t.Error("lastSeen not stamped")
	}
}

func TestUpsertRejectsMalformedEmail(t *testing.T) {
	d := testDirectory()
	err := d.Upsert(context.Background(), "u1", ProfilePatch{Email: strptr("not-an-email")}, false)
	if !errors.Is(err, docstore.ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestGetByIDMissing(t *testing.T) {
	d := testDirectory()
	p, err := d.GetByID(context.Background(), "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if p != nil {
		t.Errorf("got %+v, want nil", p)
	}
}

func TestSearch(t *testing.T) {
	d := testDirectory()
	ctx := context.Background()

	users := map[string][2]string{
		"u1": {"Alice Smith", "alice@example.com"},
		"u2": {"Bob Jones", "bob@example.com"},
		"u3": {"alicia keys", "ak@example.com"},
	}
	for uid, v := range users {
		if err := d.Upsert(ctx, uid, ProfilePatch{DisplayName: strptr(v[0]), Email: strptr(v[1])}, false); err != nil {
			t.Fatal(err)
		}
	}

	// Case-insensitive substring over displayName and email, caller excluded.
	got, err := d.Search(ctx, "ALIC", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].UID != "u3" {
		t.Errorf("search result = %+v, want only u3", got)
	}

	// Email matches too.
	got, err = d.Search(ctx, "bob@", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].UID != "u2" {
		t.Errorf("search result = %+v, want only u2", got)
	}
}

func TestSearchNoMatchReturnsEmptyNotNil(t *testing.T) {
	d := testDirectory()
	got, err := d.Search(context.Background(), "nobody", "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("result is nil, want empty slice")
	}
	if len(got) != 0 {
		t.Errorf("result = %+v, want empty", got)
	}
}

func TestListAllExcept(t *testing.T) {
	d := testDirectory()
	ctx := context.Background()
	for _, uid := range []string{"u1", "u2", "u3"} {
		if err := d.Upsert(ctx, uid, ProfilePatch{DisplayName: strptr(uid)}, false); err != nil {
			t.Fatal(err)
		}
	}
	got, err := d.ListAllExcept(ctx, "u2")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d profiles, want 2", len(got))
	}
	for _, p := range got {
		if p.UID == "u2" {
			t.Error("caller not excluded")
		}
	}
}
