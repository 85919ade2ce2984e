package gateway

import "github.com/driftchat/drift/internal/model"

// command is a client-to-daemon frame. Op selects the operation; the other
// fields are its arguments.
type command struct {
	Op             string   `json:"op"`
	ConversationID string   `json:"conversationId,omitempty"`
	MessageID      string   `json:"messageId,omitempty"`
	UserID         string   `json:"userId,omitempty"`
	Status         string   `json:"status,omitempty"`
	Text           string   `json:"text,omitempty"`
	Term           string   `json:"term,omitempty"`
	Name           string   `json:"name,omitempty"`
	Description    string   `json:"description,omitempty"`
	PhotoURL       string   `json:"photoURL,omitempty"`
	MemberIDs      []string `json:"memberIds,omitempty"`
}

// conversationsFrame pushes the full conversation list; each update replaces
// the previous one at the client.
type conversationsFrame struct {
	Type          string                   `json:"type"`
	Conversations []model.ConversationView `json:"conversations"`
}

// messagesFrame pushes the live message window of the selected conversation.
type messagesFrame struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId"`
	Messages       []model.Message `json:"messages"`
	Loading        bool            `json:"loading"`
	Error          string          `json:"error,omitempty"`
}

// presenceFrame pushes a watched user's profile, nil User meaning the user
// has no directory record.
type presenceFrame struct {
	Type   string             `json:"type"`
	UserID string             `json:"userId"`
	User   *model.UserProfile `json:"user"`
}

// usersFrame answers a user search.
type usersFrame struct {
	Type  string              `json:"type"`
	Users []model.UserProfile `json:"users"`
}

// searchFrame answers a conversation search.
type searchFrame struct {
	Type          string                   `json:"type"`
	Term          string                   `json:"term"`
	Conversations []model.ConversationView `json:"conversations"`
}

// conversationFrame answers create_direct and create_group.
type conversationFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
}

// sendResultFrame reports the outcome of a queued send, correlated by the
// client id returned in the ack.
type sendResultFrame struct {
	Type           string `json:"type"`
	ClientID       string `json:"clientId"`
	MessageID      string `json:"messageId,omitempty"`
	ConversationID string `json:"conversationId"`
	Error          string `json:"error,omitempty"`
}

// ackFrame acknowledges a send command with the client id to correlate
// sendResultFrame against.
type ackFrame struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

// errorFrame reports a failed command.
type errorFrame struct {
	Type    string `json:"type"`
	Op      string `json:"op,omitempty"`
	Message string `json:"message"`
}
