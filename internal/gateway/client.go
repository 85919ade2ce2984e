package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driftchat/drift/internal/identity"
	"github.com/driftchat/drift/internal/messages"
	"github.com/driftchat/drift/internal/model"
	"github.com/driftchat/drift/internal/outbox"
)

const (
	writeTimeout = 10 * time.Second
	outBuffer    = 64
)

// client is one websocket connection bound to a signed-in user. All frames
// go out through a single writer goroutine; subscription callbacks only ever
// enqueue.
type client struct {
	g    *Gateway
	conn *websocket.Conn
	id   identity.Identity

	out  chan any
	done chan struct{}

	mu              sync.Mutex
	cancelMessages  func()
	presenceWatches map[string]func()
	teardowns       []func()
}

func newClient(g *Gateway, conn *websocket.Conn, id identity.Identity) *client {
	return &client{
		g:               g,
		conn:            conn,
		id:              id,
		out:             make(chan any, outBuffer),
		done:            make(chan struct{}),
		presenceWatches: make(map[string]func()),
	}
}

// push enqueues a frame for the writer, giving up when the connection is
// shutting down.
func (c *client) push(frame any) {
	select {
	case c.out <- frame:
	case <-c.done:
	}
}

// run services the connection until the client disconnects or ctx ends.
func (c *client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.teardown()

	go c.writeLoop(ctx)

	// Every connection gets the conversation list pushed and the send
	// outcomes of its queued messages.
	cancelConvs, err := c.g.registry.SubscribeForUser(ctx, c.id.UID, func(views []model.ConversationView) {
		c.push(conversationsFrame{Type: "conversations", Conversations: views})
	})
	if err != nil {
		c.g.logger.Error("conversation subscription failed", zap.String("uid", c.id.UID), zap.Error(err))
		return
	}
	c.addTeardown(cancelConvs)
	c.addTeardown(c.watchOutbox())

	c.readLoop(ctx)
}

func (c *client) readLoop(ctx context.Context) {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			close(c.done)
			return
		}
		var cmd command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.push(errorFrame{Type: "error", Message: "malformed frame"})
			continue
		}
		c.dispatch(ctx, cmd)
	}
}

func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case frame := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(frame); err != nil {
				c.g.logger.Warn("push failed", zap.String("uid", c.id.UID), zap.Error(err))
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *client) dispatch(ctx context.Context, cmd command) {
	switch cmd.Op {
	case "select":
		c.selectConversation(ctx, cmd.ConversationID)
	case "send":
		clientID := c.g.outbox.Enqueue(messages.AppendInput{
			ConversationID: cmd.ConversationID,
			SenderID:       c.id.UID,
			SenderName:     c.id.DisplayName,
			SenderPhotoURL: c.id.PhotoURL,
			Text:           cmd.Text,
		})
		c.push(ackFrame{Type: "queued", ClientID: clientID})
	case "status":
		if err := c.g.presence.SetStatus(ctx, c.id.UID, model.Status(cmd.Status)); err != nil {
			c.fail(cmd.Op, err)
		}
	case "mark_read":
		if err := c.g.messages.MarkRead(ctx, cmd.ConversationID, cmd.MessageID, c.id.UID); err != nil {
			c.fail(cmd.Op, err)
		}
	case "create_direct":
		cid, err := c.g.registry.GetOrCreateDirect(ctx, c.id.UID, cmd.UserID)
		if err != nil {
			c.fail(cmd.Op, err)
			return
		}
		c.push(conversationFrame{Type: "conversation", ConversationID: cid})
	case "create_group":
		cid, err := c.g.registry.CreateGroup(ctx, c.id.UID, cmd.MemberIDs, cmd.Name, cmd.Description, cmd.PhotoURL)
		if err != nil {
			c.fail(cmd.Op, err)
			return
		}
		c.push(conversationFrame{Type: "conversation", ConversationID: cid})
	case "search_users":
		users, err := c.g.directory.Search(ctx, cmd.Term, c.id.UID)
		if err != nil {
			c.fail(cmd.Op, err)
			return
		}
		c.push(usersFrame{Type: "users", Users: users})
	case "search_conversations":
		views, err := c.g.registry.Search(ctx, c.id.UID, cmd.Term, c.g.searchLimit)
		if err != nil {
			c.fail(cmd.Op, err)
			return
		}
		c.push(searchFrame{Type: "search", Term: cmd.Term, Conversations: views})
	case "watch_presence":
		c.watchPresence(ctx, cmd.UserID)
	default:
		c.push(errorFrame{Type: "error", Op: cmd.Op, Message: "unknown op"})
	}
}

// selectConversation swaps the live message window to the given conversation.
// An empty id deselects.
func (c *client) selectConversation(ctx context.Context, conversationID string) {
	cancel, err := c.g.messages.SubscribeRecent(ctx, conversationID, c.g.window, func(snap messages.Snapshot) {
		frame := messagesFrame{
			Type:           "messages",
			ConversationID: snap.ConversationID,
			Messages:       snap.Messages,
			Loading:        snap.Loading,
		}
		if snap.Err != nil {
			frame.Error = snap.Err.Error()
		}
		c.push(frame)
	})
	if err != nil {
		c.fail("select", err)
		return
	}

	c.mu.Lock()
	prev := c.cancelMessages
	c.cancelMessages = cancel
	c.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func (c *client) watchPresence(ctx context.Context, userID string) {
	c.mu.Lock()
	_, watching := c.presenceWatches[userID]
	c.mu.Unlock()
	if watching || userID == "" {
		return
	}

	cancel, err := c.g.presence.Subscribe(ctx, userID, func(profile *model.UserProfile) {
		c.push(presenceFrame{Type: "presence", UserID: userID, User: profile})
	})
	if err != nil {
		c.fail("watch_presence", err)
		return
	}
	c.mu.Lock()
	c.presenceWatches[userID] = cancel
	c.mu.Unlock()
}

// watchOutbox forwards send outcomes to the client. The forwarder exits with
// the connection; unsubscribing alone would leave it parked on an open
// channel.
func (c *client) watchOutbox() func() {
	events, unsub := c.g.bus.Subscribe("outbox.", outBuffer)
	go func() {
		for {
			select {
			case evt := <-events:
				res, ok := evt.Payload.(outbox.Result)
				if !ok {
					continue
				}
				frame := sendResultFrame{
					ClientID:       res.ClientID,
					MessageID:      res.MessageID,
					ConversationID: res.ConversationID,
					Error:          res.Error,
				}
				if evt.Kind == "outbox.sent" {
					frame.Type = "sent"
				} else {
					frame.Type = "send_failed"
				}
				c.push(frame)
			case <-c.done:
				return
			}
		}
	}()
	return unsub
}

func (c *client) fail(op string, err error) {
	c.g.logger.Warn("command failed", zap.String("op", op), zap.String("uid", c.id.UID), zap.Error(err))
	c.push(errorFrame{Type: "error", Op: op, Message: err.Error()})
}

func (c *client) addTeardown(fn func()) {
	c.mu.Lock()
	c.teardowns = append(c.teardowns, fn)
	c.mu.Unlock()
}

func (c *client) teardown() {
	c.mu.Lock()
	fns := c.teardowns
	c.teardowns = nil
	if c.cancelMessages != nil {
		fns = append(fns, c.cancelMessages)
		c.cancelMessages = nil
	}
	for _, cancel := range c.presenceWatches {
		fns = append(fns, cancel)
	}
	c.presenceWatches = map[string]func(){}
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
