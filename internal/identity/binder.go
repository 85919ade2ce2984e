package identity

import (
	"context"
	"sync"

	"github.com/driftchat/drift/internal/directory"
	"github.com/driftchat/drift/internal/model"
	"github.com/driftchat/drift/internal/presence"
	"github.com/driftchat/drift/internal/status"
	"go.uber.org/zap"
)

// Binder reacts to auth-state transitions: sign-in binds the directory
// record and marks the user online; sign-out marks them offline. Everything
// else (subscriptions held by views) is torn down by the owners of those
// views.
type Binder struct {
	directory *directory.Directory
	presence  *presence.Tracker
	machine   *status.Machine
	logger    *zap.Logger

	mu      sync.Mutex
	lastUID string
}

// NewBinder creates a binder.
func NewBinder(d *directory.Directory, p *presence.Tracker, m *status.Machine, logger *zap.Logger) *Binder {
	return &Binder{directory: d, presence: p, machine: m, logger: logger}
}

// Run subscribes to the provider and returns a teardown.
func (b *Binder) Run(ctx context.Context, provider Provider) func() {
	return provider.OnStateChange(func(id *Identity) {
		if id != nil {
			b.handleSignIn(ctx, id)
		} else {
			b.handleSignOut(ctx)
		}
	})
}

func (b *Binder) handleSignIn(ctx context.Context, id *Identity) {
	// A sign-in arriving over a live session replaces it; the previous user
	// goes offline before the new one binds.
	b.mu.Lock()
	prev := b.lastUID
	b.mu.Unlock()
	if prev != "" && prev != id.UID {
		if err := b.presence.SetStatus(ctx, prev, model.StatusOffline); err != nil {
			b.logger.Warn("offline status write failed",
				zap.String("uid", prev), zap.Error(err))
		}
	}

	_ = b.machine.Transition(status.Binding)

	patch := directory.ProfilePatch{
		Email:       &id.Email,
		DisplayName: &id.DisplayName,
	}
	if id.PhotoURL != "" {
		patch.PhotoURL = &id.PhotoURL
	}
	// touchPresence: signing in is the one profile write that marks the
	// user online.
	if err := b.directory.Upsert(ctx, id.UID, patch, true); err != nil {
		b.logger.Error("profile bind failed", zap.String("uid", id.UID), zap.Error(err))
		_ = b.machine.Transition(status.Degraded)
		return
	}
	b.mu.Lock()
	b.lastUID = id.UID
	b.mu.Unlock()
	_ = b.machine.Transition(status.Ready)
	b.logger.Info("session bound", zap.String("uid", id.UID))
}

func (b *Binder) handleSignOut(ctx context.Context) {
	b.mu.Lock()
	uid := b.lastUID
	b.lastUID = ""
	b.mu.Unlock()
	if uid != "" {
		if err := b.presence.SetStatus(ctx, uid, model.StatusOffline); err != nil {
			b.logger.Warn("offline status write failed",
				zap.String("uid", uid), zap.Error(err))
		}
	}
	_ = b.machine.Transition(status.SignedOut)
	b.logger.Info("session unbound")
}
