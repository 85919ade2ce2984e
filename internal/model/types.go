// Package model holds the chat domain records persisted in the document
// store and the views assembled from them. All timestamps are server-assigned
// unix milliseconds.
package model

// Status is a user's presence status. It is a local-intent signal only:
// there is no server-side liveness detection, so a crashed client leaves its
// last status behind.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// ValidStatus reports whether s is one of the known presence states.
func ValidStatus(s Status) bool {
	return s == StatusOnline || s == StatusAway || s == StatusOffline
}

// UserProfile is the directory record at users/{uid}. Created on first
// authentication, mutated on every status change and profile edit, never
// deleted.
type UserProfile struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoURL,omitempty"`
	Bio         string `json:"bio,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Status      Status `json:"status"`
	LastSeen    int64  `json:"lastSeen"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
}

// ConversationType distinguishes deterministic two-party chats from groups.
type ConversationType string

const (
	ConversationDirect ConversationType = "direct"
	ConversationGroup  ConversationType = "group"
)

// LastMessage is the denormalized preview cached on the conversation.
type LastMessage struct {
	Text      string `json:"text"`
	SenderID  string `json:"senderId"`
	Timestamp int64  `json:"timestamp"`
}

// Conversation is the record at conversations/{cid}. Membership lives both
// here (Participants) and in each member's membership record; the registry
// keeps the two in sync.
type Conversation struct {
	ID           string           `json:"id"`
	Type         ConversationType `json:"type"`
	Name         string           `json:"name,omitempty"`
	Description  string           `json:"description,omitempty"`
	PhotoURL     string           `json:"photoURL,omitempty"`
	Participants []string         `json:"participants"`
	LastMessage  *LastMessage     `json:"lastMessage,omitempty"`
	CreatedBy    string           `json:"createdBy"`
	CreatedAt    int64            `json:"createdAt"`
	UpdatedAt    int64            `json:"updatedAt"`
}

// Membership is the per-user view state at users/{uid}/conversations/{cid}.
type Membership struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	UnreadCount    int64  `json:"unreadCount"`
	Muted          bool   `json:"muted"`
	Archived       bool   `json:"archived"`
	LastRead       int64  `json:"lastRead"`
	CustomName     string `json:"customName,omitempty"`
	UpdatedAt      int64  `json:"updatedAt"`
}

// ConversationView joins a conversation with the viewing user's membership.
type ConversationView struct {
	Conversation
	Membership Membership `json:"membership"`
}

// MessageType classifies log entries. System messages record membership
// events and share the log with user messages.
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageFile   MessageType = "file"
	MessageVoice  MessageType = "voice"
	MessageSystem MessageType = "system"
)

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
)

// SystemSenderID authors membership-event messages.
const SystemSenderID = "system"

// Message is the record at conversations/{cid}/messages/{mid}. Immutable
// once created except for ReadBy and Status transitions.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	Text           string        `json:"text"`
	SenderID       string        `json:"senderId"`
	SenderName     string        `json:"senderName"`
	SenderPhotoURL string        `json:"senderPhotoURL,omitempty"`
	Timestamp      int64         `json:"timestamp"`
	Type           MessageType   `json:"type"`
	ReadBy         []string      `json:"readBy"`
	Status         MessageStatus `json:"status"`
}
