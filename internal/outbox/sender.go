// Package outbox drains queued message sends against the remote store with
// bounded retry. Write failures otherwise surface straight to the caller;
// message sends are the one hot path that gets retried, since a transient
// remote failure there is user-visible text lost.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/driftchat/drift/internal/bus"
	"github.com/driftchat/drift/internal/docstore"
	"github.com/driftchat/drift/internal/messages"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Appender is the interface for appending messages to the store.
type Appender interface {
	Append(ctx context.Context, in messages.AppendInput) (string, error)
}

// Sender drains the queue and appends messages, retrying transient remote
// failures with exponential backoff.
type Sender struct {
	appender Appender
	bus      *bus.Bus
	logger   *zap.Logger

	queue  chan entry
	cancel context.CancelFunc

	maxAttempts int
	baseBackoff time.Duration
}

type entry struct {
	clientID string
	input    messages.AppendInput
}

// NewSender creates a sender over the given appender.
func NewSender(appender Appender, b *bus.Bus, logger *zap.Logger) *Sender {
	return &Sender{
		appender:    appender,
		bus:         b,
		logger:      logger,
		queue:       make(chan entry, 256),
		maxAttempts: 3,
		baseBackoff: 250 * time.Millisecond,
	}
}

// Enqueue accepts a message for asynchronous delivery and returns a client
// id to correlate the outcome events with. The caller does not block on the
// remote write; the result arrives as an outbox.sent or outbox.failed event.
func (s *Sender) Enqueue(in messages.AppendInput) string {
	clientID := uuid.New().String()
	s.queue <- entry{clientID: clientID, input: in}
	return clientID
}

// Start begins draining the queue.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	for {
		select {
		case e := <-s.queue:
			s.deliver(ctx, e)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) deliver(ctx context.Context, e entry) {
	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.baseBackoff << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
		}

		messageID, err := s.appender.Append(ctx, e.input)
		if err == nil {
			s.bus.Publish(bus.Event{
				Kind:      "outbox.sent",
				Timestamp: time.Now(),
				Payload: Result{
					ClientID:       e.clientID,
					MessageID:      messageID,
					ConversationID: e.input.ConversationID,
				},
			})
			return
		}
		lastErr = err

		// Invalid input or a vanished conversation never heals on retry.
		if errors.Is(err, docstore.ErrInvalidArgument) || errors.Is(err, docstore.ErrNotFound) {
			break
		}
		if !docstore.IsRemote(err) {
			break
		}
		s.logger.Warn("send attempt failed, retrying",
			zap.String("client_id", e.clientID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	s.logger.Error("send failed",
		zap.String("client_id", e.clientID),
		zap.Error(lastErr))
	s.bus.Publish(bus.Event{
		Kind:      "outbox.failed",
		Timestamp: time.Now(),
		Payload: Result{
			ClientID:       e.clientID,
			ConversationID: e.input.ConversationID,
			Error:          lastErr.Error(),
		},
	})
}

// Result is the payload of outbox.sent and outbox.failed events.
type Result struct {
	ClientID       string `json:"clientId"`
	MessageID      string `json:"messageId,omitempty"`
	ConversationID string `json:"conversationId"`
	Error          string `json:"error,omitempty"`
}
