// Package directory manages user profile records: create-or-merge writes,
// lookups and the unindexed substring search the contact picker uses.
package directory

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/driftchat/drift/internal/docstore"
	"github.com/driftchat/drift/internal/model"
	"go.uber.org/zap"
)

// Directory is the user profile service over the document store.
type Directory struct {
	store  docstore.Store
	logger *zap.Logger
}

// New creates a directory over the given store.
func New(store docstore.Store, logger *zap.Logger) *Directory {
	return &Directory{store: store, logger: logger}
}

// ProfilePatch carries the fields an upsert may write. Nil pointers are left
// untouched on merge.
type ProfilePatch struct {
	Email       *string
	DisplayName *string
	PhotoURL    *string
	Bio         *string
	PhoneNumber *string
}

// Upsert creates the profile if absent (stamping createdAt) or merges the
// patch into it, always stamping updatedAt. When touchPresence is set the
// write also refreshes lastSeen and forces status to online; the session
// binder passes true so that signing in marks the user online, while plain
// profile edits pass false and leave presence alone.
func (d *Directory) Upsert(ctx context.Context, uid string, patch ProfilePatch, touchPresence bool) error {
	if uid == "" {
		return fmt.Errorf("%w: empty uid", docstore.ErrInvalidArgument)
	}
	if patch.Email != nil && *patch.Email != "" {
		if _, err := mail.ParseAddress(*patch.Email); err != nil {
			return fmt.Errorf("%w: malformed email %q", docstore.ErrInvalidArgument, *patch.Email)
		}
	}

	fields := map[string]any{
		"updatedAt": docstore.ServerTimestamp,
	}
	if patch.Email != nil {
		fields["email"] = *patch.Email
	}
	if patch.DisplayName != nil {
		fields["displayName"] = *patch.DisplayName
	}
	if patch.PhotoURL != nil {
		fields["photoURL"] = *patch.PhotoURL
	}
	if patch.Bio != nil {
		fields["bio"] = *patch.Bio
	}
	if patch.PhoneNumber != nil {
		fields["phoneNumber"] = *patch.PhoneNumber
	}
	if touchPresence {
		fields["lastSeen"] = docstore.ServerTimestamp
		fields["status"] = string(model.StatusOnline)
	}

	path := model.UserPath(uid)
	doc, err := d.store.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", uid, err)
	}
	if doc.Exists {
		if err := d.store.Merge(ctx, path, fields); err != nil {
			return fmt.Errorf("merge profile %s: %w", uid, err)
		}
		return nil
	}

	fields["uid"] = uid
	fields["createdAt"] = docstore.ServerTimestamp
	if _, ok := fields["status"]; !ok {
		fields["status"] = string(model.StatusOffline)
	}
	if _, ok := fields["lastSeen"]; !ok {
		fields["lastSeen"] = docstore.ServerTimestamp
	}
	if err := d.store.Set(ctx, path, fields); err != nil {
		return fmt.Errorf("create profile %s: %w", uid, err)
	}
	d.logger.Info("profile created", zap.String("uid", uid))
	return nil
}

// GetByID returns the profile, or nil when no record exists.
func (d *Directory) GetByID(ctx context.Context, uid string) (*model.UserProfile, error) {
	if uid == "" {
		return nil, fmt.Errorf("%w: empty uid", docstore.ErrInvalidArgument)
	}
	doc, err := d.store.Get(ctx, model.UserPath(uid))
	if err != nil {
		return nil, err
	}
	return model.ProfileFromDoc(doc), nil
}

// Search scans the full directory for a case-insensitive substring match
// over display name and email, excluding the caller. There is no index; the
// scan is linear in directory size. The result is never nil.
func (d *Directory) Search(ctx context.Context, term, excludeUID string) ([]model.UserProfile, error) {
	needle := strings.ToLower(term)
	docs, err := d.store.List(ctx, model.UsersCollection, docstore.Query{})
	if err != nil {
		return nil, err
	}
	out := make([]model.UserProfile, 0)
	for _, doc := range docs {
		p := model.ProfileFromDoc(doc)
		if p == nil || p.UID == excludeUID {
			continue
		}
		if strings.Contains(strings.ToLower(p.DisplayName), needle) ||
			strings.Contains(strings.ToLower(p.Email), needle) {
			out = append(out, *p)
		}
	}
	return out, nil
}

// ListAllExcept returns every profile except the given user's.
func (d *Directory) ListAllExcept(ctx context.Context, uid string) ([]model.UserProfile, error) {
	docs, err := d.store.List(ctx, model.UsersCollection, docstore.Query{})
	if err != nil {
		return nil, err
	}
	out := make([]model.UserProfile, 0, len(docs))
	for _, doc := range docs {
		p := model.ProfileFromDoc(doc)
		if p == nil || p.UID == uid {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}
