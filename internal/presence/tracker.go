// Package presence maintains each user's online/away/offline status on their
// directory record and fans changes out to subscribers.
package presence

import (
	"context"
	"fmt"

	"github.com/driftchat/drift/internal/docstore"
	"github.com/driftchat/drift/internal/model"
	"go.uber.org/zap"
)

// Tracker writes and observes presence state. A client sets its own status
// to online on session start, away on visibility loss and offline on clean
// shutdown; nothing detects a client that vanished without one.
type Tracker struct {
	store  docstore.Store
	logger *zap.Logger
}

// NewTracker creates a tracker over the given store.
func NewTracker(store docstore.Store, logger *zap.Logger) *Tracker {
	return &Tracker{store: store, logger: logger}
}

// SetStatus sets the user's status and refreshes lastSeen. The change is
// visible to every subscriber of that user's record.
func (t *Tracker) SetStatus(ctx context.Context, userID string, status model.Status) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", docstore.ErrInvalidArgument)
	}
	if !model.ValidStatus(status) {
		return fmt.Errorf("%w: unknown status %q", docstore.ErrInvalidArgument, status)
	}
	err := t.store.Merge(ctx, model.UserPath(userID), map[string]any{
		"status":    string(status),
		"lastSeen":  docstore.ServerTimestamp,
		"updatedAt": docstore.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("set status for %s: %w", userID, err)
	}
	t.logger.Debug("presence updated",
		zap.String("user_id", userID),
		zap.String("status", string(status)))
	return nil
}

// Subscribe invokes fn with the user's current record immediately and again
// on every future change; a missing record is delivered as nil. The returned
// teardown stops delivery and must be called when the owning view goes away.
func (t *Tracker) Subscribe(ctx context.Context, userID string, fn func(*model.UserProfile)) (func(), error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", docstore.ErrInvalidArgument)
	}
	path := model.UserPath(userID)

	changes, cancel := t.store.Watch(path, 16)

	doc, err := t.store.Get(ctx, path)
	if err != nil {
		cancel()
		return nil, err
	}
	fn(model.ProfileFromDoc(doc))

	go func() {
		for range changes {
			doc, err := t.store.Get(ctx, path)
			if err != nil {
				t.logger.Warn("presence re-read failed",
					zap.String("user_id", userID), zap.Error(err))
				continue
			}
			fn(model.ProfileFromDoc(doc))
		}
	}()

	return cancel, nil
}
