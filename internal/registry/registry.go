// Package registry creates and looks up conversations, keeps the two copies
// of membership state in sync (the conversation's participant list and each
// member's private membership record) and serves the live conversation list.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/driftchat/drift/internal/docstore"
	"github.com/driftchat/drift/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry is the conversation service over the document store.
type Registry struct {
	store  docstore.Store
	logger *zap.Logger
}

// New creates a registry over the given store.
func New(store docstore.Store, logger *zap.Logger) *Registry {
	return &Registry{store: store, logger: logger}
}

// GetOrCreateDirect returns the deterministic direct conversation between
// two users, creating it together with both membership records in one atomic
// batch when absent. The create is conditional, so racing callers for the
// same pair converge on a single conversation.
func (r *Registry) GetOrCreateDirect(ctx context.Context, userA, userB string) (string, error) {
	if userA == "" || userB == "" {
		return "", fmt.Errorf("%w: empty user id", docstore.ErrInvalidArgument)
	}
	if userA == userB {
		return "", fmt.Errorf("%w: direct conversation needs two distinct users", docstore.ErrInvalidArgument)
	}

	cid := model.DirectConversationID(userA, userB)
	doc, err := r.store.Get(ctx, model.ConversationPath(cid))
	if err != nil {
		return "", fmt.Errorf("lookup direct conversation: %w", err)
	}
	if doc.Exists {
		return cid, nil
	}

	pair := []string{userA, userB}
	if pair[0] > pair[1] {
		pair[0], pair[1] = pair[1], pair[0]
	}

	b := r.store.Batch()
	b.Create(model.ConversationPath(cid), map[string]any{
		"id":           cid,
		"type":         string(model.ConversationDirect),
		"participants": []any{pair[0], pair[1]},
		"createdBy":    userA,
		"createdAt":    docstore.ServerTimestamp,
		"updatedAt":    docstore.ServerTimestamp,
	})
	for _, uid := range pair {
		b.Set(model.MembershipPath(uid, cid), freshMembershipFields(uid, cid))
	}
	if err := b.Commit(ctx); err != nil {
		if errors.Is(err, docstore.ErrAlreadyExists) {
			// Another client created it between the lookup and the commit.
			return cid, nil
		}
		return "", fmt.Errorf("create direct conversation: %w", err)
	}
	r.logger.Info("direct conversation created", zap.String("conversation_id", cid))
	return cid, nil
}

// CreateGroup allocates a fresh conversation with participants
// members ∪ {creator} and one membership record per participant, written as
// one atomic batch so partial failure cannot leave membership records
// missing.
func (r *Registry) CreateGroup(ctx context.Context, creatorID string, memberIDs []string, name, description, photoURL string) (string, error) {
	if creatorID == "" {
		return "", fmt.Errorf("%w: empty creator id", docstore.ErrInvalidArgument)
	}
	if name == "" {
		return "", fmt.Errorf("%w: group needs a name", docstore.ErrInvalidArgument)
	}

	seen := map[string]bool{creatorID: true}
	participants := []string{creatorID}
	for _, uid := range memberIDs {
		if uid == "" || seen[uid] {
			continue
		}
		seen[uid] = true
		participants = append(participants, uid)
	}

	cid := uuid.New().String()
	raw := make([]any, len(participants))
	for i, p := range participants {
		raw[i] = p
	}

	b := r.store.Batch()
	b.Create(model.ConversationPath(cid), map[string]any{
		"id":           cid,
		"type":         string(model.ConversationGroup),
		"name":         name,
		"description":  description,
		"photoURL":     photoURL,
		"participants": raw,
		"createdBy":    creatorID,
		"createdAt":    docstore.ServerTimestamp,
		"updatedAt":    docstore.ServerTimestamp,
	})
	for _, uid := range participants {
		b.Set(model.MembershipPath(uid, cid), freshMembershipFields(uid, cid))
	}
	if err := b.Commit(ctx); err != nil {
		return "", fmt.Errorf("create group: %w", err)
	}
	r.logger.Info("group created",
		zap.String("conversation_id", cid),
		zap.Int("participants", len(participants)))
	return cid, nil
}

// AddParticipant appends the user to the conversation, creates their
// membership record and logs a system message. No-op when already a member.
// The three writes run sequentially without compensation; a failure midway
// is surfaced but not rolled back.
func (r *Registry) AddParticipant(ctx context.Context, conversationID, userID, actorID string) error {
	conv, err := r.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("conversation %s: %w", conversationID, docstore.ErrNotFound)
	}
	if contains(conv.Participants, userID) {
		return nil
	}

	if err := r.store.Merge(ctx, model.ConversationPath(conversationID), map[string]any{
		"participants": docstore.ArrayUnion(userID),
		"updatedAt":    docstore.ServerTimestamp,
	}); err != nil {
		return fmt.Errorf("add participant: %w", err)
	}
	if err := r.store.Set(ctx, model.MembershipPath(userID, conversationID), freshMembershipFields(userID, conversationID)); err != nil {
		return fmt.Errorf("create membership: %w", err)
	}
	return r.appendSystemMessage(ctx, conversationID,
		fmt.Sprintf("%s added %s to the conversation", actorID, userID))
}

// RemoveParticipant removes the user from the participant list, logs a
// system message and archives their membership record so history is
// retained. No-op when the user is not a participant.
func (r *Registry) RemoveParticipant(ctx context.Context, conversationID, userID, actorID string) error {
	conv, err := r.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv == nil {
		return fmt.Errorf("conversation %s: %w", conversationID, docstore.ErrNotFound)
	}
	if !contains(conv.Participants, userID) {
		return nil
	}

	if err := r.store.Merge(ctx, model.ConversationPath(conversationID), map[string]any{
		"participants": docstore.ArrayRemove(userID),
		"updatedAt":    docstore.ServerTimestamp,
	}); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	if err := r.appendSystemMessage(ctx, conversationID,
		fmt.Sprintf("%s removed %s from the conversation", actorID, userID)); err != nil {
		return err
	}
	if err := r.store.Merge(ctx, model.MembershipPath(userID, conversationID), map[string]any{
		"archived":  true,
		"updatedAt": docstore.ServerTimestamp,
	}); err != nil {
		return fmt.Errorf("archive membership: %w", err)
	}
	return nil
}

// MembershipPatch carries the per-user view settings UpdateMembership may
// change. MarkRead stamps lastRead with the server clock and clears the
// unread count.
type MembershipPatch struct {
	Muted      *bool
	Archived   *bool
	CustomName *string
	MarkRead   bool
}

// UpdateMembership merges the patch into the user's membership record,
// stamping updatedAt.
func (r *Registry) UpdateMembership(ctx context.Context, userID, conversationID string, patch MembershipPatch) error {
	fields := map[string]any{
		"updatedAt": docstore.ServerTimestamp,
	}
	if patch.Muted != nil {
		fields["muted"] = *patch.Muted
	}
	if patch.Archived != nil {
		fields["archived"] = *patch.Archived
	}
	if patch.CustomName != nil {
		fields["customName"] = *patch.CustomName
	}
	if patch.MarkRead {
		fields["lastRead"] = docstore.ServerTimestamp
		fields["unreadCount"] = int64(0)
	}
	if err := r.store.Merge(ctx, model.MembershipPath(userID, conversationID), fields); err != nil {
		return fmt.Errorf("update membership: %w", err)
	}
	return nil
}

// Get returns the conversation, or nil when it does not exist.
func (r *Registry) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: empty conversation id", docstore.ErrInvalidArgument)
	}
	doc, err := r.store.Get(ctx, model.ConversationPath(conversationID))
	if err != nil {
		return nil, err
	}
	return model.ConversationFromDoc(doc), nil
}

// ListForUser resolves the user's membership records against their
// conversations, ordered by updatedAt descending. A membership whose
// conversation fails to resolve is silently dropped from the result.
func (r *Registry) ListForUser(ctx context.Context, userID string) ([]model.ConversationView, error) {
	return r.resolveMemberships(ctx, userID, docstore.Query{OrderBy: "updatedAt", Descending: true})
}

// ListRecent returns the user's n most recently active conversations.
func (r *Registry) ListRecent(ctx context.Context, userID string, n int) ([]model.ConversationView, error) {
	if n <= 0 {
		n = 5
	}
	return r.resolveMemberships(ctx, userID, docstore.Query{OrderBy: "updatedAt", Descending: true, Limit: n})
}

// ListGroups returns the group conversations the user belongs to.
func (r *Registry) ListGroups(ctx context.Context, userID string) ([]model.Conversation, error) {
	views, err := r.resolveMemberships(ctx, userID, docstore.Query{})
	if err != nil {
		return nil, err
	}
	out := make([]model.Conversation, 0, len(views))
	for _, v := range views {
		if v.Type == model.ConversationGroup {
			out = append(out, v.Conversation)
		}
	}
	return out, nil
}

// SubscribeForUser is the live version of ListForUser: the full join is
// recomputed and pushed to fn, complete (not a diff), once immediately and
// again after every underlying change. The teardown must be called when the
// owning view is discarded.
func (r *Registry) SubscribeForUser(ctx context.Context, userID string, fn func([]model.ConversationView)) (func(), error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", docstore.ErrInvalidArgument)
	}

	memberships, cancelMemberships := r.store.Watch(model.MembershipsCollection(userID), 64)
	conversations, cancelConversations := r.store.Watch(model.ConversationsCollection, 64)

	push := func() {
		views, err := r.ListForUser(ctx, userID)
		if err != nil {
			r.logger.Warn("conversation list re-read failed",
				zap.String("user_id", userID), zap.Error(err))
			return
		}
		fn(views)
	}
	push()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case _, ok := <-memberships:
				if !ok {
					return
				}
				push()
			case _, ok := <-conversations:
				if !ok {
					return
				}
				push()
			case <-done:
				return
			}
		}
	}()

	var stop sync.Once
	return func() {
		stop.Do(func() {
			cancelMemberships()
			cancelConversations()
			close(done)
		})
	}, nil
}

// FindDirectWith scans the current user's memberships for a direct
// conversation containing the other user. Returns "" when none exists.
// Linear in membership count; fine at contact-list scale.
func (r *Registry) FindDirectWith(ctx context.Context, currentUserID, otherUserID string) (string, error) {
	docs, err := r.store.List(ctx, model.MembershipsCollection(currentUserID), docstore.Query{})
	if err != nil {
		return "", err
	}
	for _, doc := range docs {
		m := model.MembershipFromDoc(doc)
		if m == nil {
			continue
		}
		conv, err := r.Get(ctx, m.ConversationID)
		if err != nil || conv == nil {
			continue
		}
		if conv.Type == model.ConversationDirect && contains(conv.Participants, otherUserID) {
			return conv.ID, nil
		}
	}
	return "", nil
}

// Search filters the user's conversations by case-insensitive substring
// match on name and description. Only the first maxResults membership
// records are scanned; truncation happens before filtering, so matches
// beyond that window are missed.
func (r *Registry) Search(ctx context.Context, userID, term string, maxResults int) ([]model.ConversationView, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	views, err := r.resolveMemberships(ctx, userID, docstore.Query{Limit: maxResults})
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(term)
	out := make([]model.ConversationView, 0)
	for _, v := range views {
		if strings.Contains(strings.ToLower(v.Name), needle) ||
			strings.Contains(strings.ToLower(v.Description), needle) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *Registry) resolveMemberships(ctx context.Context, userID string, q docstore.Query) ([]model.ConversationView, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", docstore.ErrInvalidArgument)
	}
	docs, err := r.store.List(ctx, model.MembershipsCollection(userID), q)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	out := make([]model.ConversationView, 0, len(docs))
	for _, doc := range docs {
		m := model.MembershipFromDoc(doc)
		if m == nil {
			continue
		}
		conv, err := r.Get(ctx, m.ConversationID)
		if err != nil {
			r.logger.Warn("conversation resolve failed",
				zap.String("conversation_id", m.ConversationID), zap.Error(err))
			continue
		}
		if conv == nil {
			// Dangling membership reference: dropped, not surfaced.
			continue
		}
		out = append(out, model.ConversationView{Conversation: *conv, Membership: *m})
	}
	return out, nil
}

func (r *Registry) appendSystemMessage(ctx context.Context, conversationID, text string) error {
	mid := uuid.New().String()
	err := r.store.Set(ctx, model.MessagePath(conversationID, mid), map[string]any{
		"text":      text,
		"senderId":  model.SystemSenderID,
		"type":      string(model.MessageSystem),
		"timestamp": docstore.ServerTimestamp,
		"readBy":    []any{},
		"status":    string(model.MessageSent),
	})
	if err != nil {
		return fmt.Errorf("append system message: %w", err)
	}
	return nil
}

func freshMembershipFields(userID, conversationID string) map[string]any {
	return map[string]any{
		"conversationId": conversationID,
		"userId":         userID,
		"unreadCount":    int64(0),
		"muted":          false,
		"archived":       false,
		"lastRead":       docstore.ServerTimestamp,
		"updatedAt":      docstore.ServerTimestamp,
	}
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}
