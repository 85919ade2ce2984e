// Package messages owns the append-only ordered message log of each
// conversation and the windowed live subscription over it.
package messages

import (
	"context"
	"fmt"

	"github.com/driftchat/drift/internal/docstore"
	"github.com/driftchat/drift/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the message service over the document store.
type Store struct {
	store  docstore.Store
	logger *zap.Logger
}

// New creates a message store.
func New(store docstore.Store, logger *zap.Logger) *Store {
	return &Store{store: store, logger: logger}
}

// AppendInput describes a text message to append.
type AppendInput struct {
	ConversationID string
	Text           string
	SenderID       string
	SenderName     string
	SenderPhotoURL string
}

// Append writes a text message with a server-assigned timestamp. The same
// atomic batch denormalizes the lastMessage preview onto the conversation,
// bumps updatedAt on every participant's membership so the conversation
// floats in each list, and increments every other participant's unread
// count, so the counters cannot drift from the log. Returns the new
// message id.
func (s *Store) Append(ctx context.Context, in AppendInput) (string, error) {
	if in.ConversationID == "" {
		return "", fmt.Errorf("%w: empty conversation id", docstore.ErrInvalidArgument)
	}
	if in.SenderID == "" {
		return "", fmt.Errorf("%w: empty sender id", docstore.ErrInvalidArgument)
	}

	convDoc, err := s.store.Get(ctx, model.ConversationPath(in.ConversationID))
	if err != nil {
		return "", fmt.Errorf("resolve conversation: %w", err)
	}
	conv := model.ConversationFromDoc(convDoc)
	if conv == nil {
		return "", fmt.Errorf("conversation %s: %w", in.ConversationID, docstore.ErrNotFound)
	}

	mid := uuid.New().String()
	b := s.store.Batch()
	b.Set(model.MessagePath(in.ConversationID, mid), map[string]any{
		"text":           in.Text,
		"senderId":       in.SenderID,
		"senderName":     in.SenderName,
		"senderPhotoURL": in.SenderPhotoURL,
		"timestamp":      docstore.ServerTimestamp,
		"type":           string(model.MessageText),
		"readBy":         []any{in.SenderID},
		"status":         string(model.MessageSent),
	})
	b.Merge(model.ConversationPath(in.ConversationID), map[string]any{
		"lastMessage": map[string]any{
			"text":      in.Text,
			"senderId":  in.SenderID,
			"timestamp": docstore.ServerTimestamp,
		},
		"updatedAt": docstore.ServerTimestamp,
	})
	for _, uid := range conv.Participants {
		patch := map[string]any{
			"updatedAt": docstore.ServerTimestamp,
		}
		if uid != in.SenderID {
			patch["unreadCount"] = docstore.Increment(1)
		}
		b.Merge(model.MembershipPath(uid, in.ConversationID), patch)
	}
	if err := b.Commit(ctx); err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}
	s.logger.Debug("message appended",
		zap.String("conversation_id", in.ConversationID),
		zap.String("message_id", mid))
	return mid, nil
}

// MarkRead records that the user has read the message, transitioning its
// status. ReadBy and Status are the only mutable parts of a message.
func (s *Store) MarkRead(ctx context.Context, conversationID, messageID, userID string) error {
	if conversationID == "" || messageID == "" || userID == "" {
		return fmt.Errorf("%w: conversation, message and user ids required", docstore.ErrInvalidArgument)
	}
	err := s.store.Merge(ctx, model.MessagePath(conversationID, messageID), map[string]any{
		"readBy": docstore.ArrayUnion(userID),
		"status": string(model.MessageRead),
	})
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// Snapshot is one delivery of a message window. Observers treat each
// delivery as a full replacement of their view, never a patch.
type Snapshot struct {
	ConversationID string          `json:"conversationId"`
	Messages       []model.Message `json:"messages"`
	Loading        bool            `json:"loading"`
	Err            error           `json:"-"`
}

// SubscribeRecent delivers the most recent limit messages in ascending
// timestamp order, immediately and again on every change to the window. An
// empty conversation id is the valid "nothing selected" state: one empty,
// not-loading snapshot is delivered and the subscription is inert. The
// teardown must be called when the view goes away.
func (s *Store) SubscribeRecent(ctx context.Context, conversationID string, limit int, fn func(Snapshot)) (func(), error) {
	if conversationID == "" {
		fn(Snapshot{Messages: []model.Message{}, Loading: false})
		return func() {}, nil
	}
	if limit <= 0 {
		limit = 50
	}

	collection := model.MessagesCollection(conversationID)
	changes, cancel := s.store.Watch(collection, 64)

	read := func() Snapshot {
		// The store serves the newest window descending; reverse to
		// ascending before delivery.
		docs, err := s.store.List(ctx, collection, docstore.Query{
			OrderBy:    "timestamp",
			Descending: true,
			Limit:      limit,
		})
		if err != nil {
			return Snapshot{ConversationID: conversationID, Messages: []model.Message{}, Err: err}
		}
		msgs := make([]model.Message, 0, len(docs))
		for i := len(docs) - 1; i >= 0; i-- {
			if m := model.MessageFromDoc(conversationID, docs[i]); m != nil {
				msgs = append(msgs, *m)
			}
		}
		return Snapshot{ConversationID: conversationID, Messages: msgs}
	}

	fn(read())

	go func() {
		for range changes {
			snap := read()
			if snap.Err != nil {
				s.logger.Warn("message window re-read failed",
					zap.String("conversation_id", conversationID), zap.Error(snap.Err))
			}
			fn(snap)
		}
	}()

	return cancel, nil
}
