package model

import "github.com/driftchat/drift/internal/docstore"

// Decoders from raw store documents. Writes stay close to the services that
// own them; reads are shared, so they live here.

// ProfileFromDoc maps a users/{uid} document. Returns nil when the document
// does not exist.
func ProfileFromDoc(doc docstore.Doc) *UserProfile {
	if !doc.Exists {
		return nil
	}
	d := doc.Data
	return &UserProfile{
		UID:         doc.ID,
		Email:       docstore.AsString(d["email"]),
		DisplayName: docstore.AsString(d["displayName"]),
		PhotoURL:    docstore.AsString(d["photoURL"]),
		Bio:         docstore.AsString(d["bio"]),
		PhoneNumber: docstore.AsString(d["phoneNumber"]),
		Status:      Status(docstore.AsString(d["status"])),
		LastSeen:    docstore.AsInt64(d["lastSeen"]),
		CreatedAt:   docstore.AsInt64(d["createdAt"]),
		UpdatedAt:   docstore.AsInt64(d["updatedAt"]),
	}
}

// ConversationFromDoc maps a conversations/{cid} document.
func ConversationFromDoc(doc docstore.Doc) *Conversation {
	if !doc.Exists {
		return nil
	}
	d := doc.Data
	c := &Conversation{
		ID:           doc.ID,
		Type:         ConversationType(docstore.AsString(d["type"])),
		Name:         docstore.AsString(d["name"]),
		Description:  docstore.AsString(d["description"]),
		PhotoURL:     docstore.AsString(d["photoURL"]),
		Participants: docstore.AsStringSlice(d["participants"]),
		CreatedBy:    docstore.AsString(d["createdBy"]),
		CreatedAt:    docstore.AsInt64(d["createdAt"]),
		UpdatedAt:    docstore.AsInt64(d["updatedAt"]),
	}
	if lm := docstore.AsMap(d["lastMessage"]); lm != nil {
		c.LastMessage = &LastMessage{
			Text:      docstore.AsString(lm["text"]),
			SenderID:  docstore.AsString(lm["senderId"]),
			Timestamp: docstore.AsInt64(lm["timestamp"]),
		}
	}
	return c
}

// MembershipFromDoc maps a users/{uid}/conversations/{cid} document.
func MembershipFromDoc(doc docstore.Doc) *Membership {
	if !doc.Exists {
		return nil
	}
	d := doc.Data
	return &Membership{
		UserID:         docstore.AsString(d["userId"]),
		ConversationID: docstore.AsString(d["conversationId"]),
		UnreadCount:    docstore.AsInt64(d["unreadCount"]),
		Muted:          docstore.AsBool(d["muted"]),
		Archived:       docstore.AsBool(d["archived"]),
		LastRead:       docstore.AsInt64(d["lastRead"]),
		CustomName:     docstore.AsString(d["customName"]),
		UpdatedAt:      docstore.AsInt64(d["updatedAt"]),
	}
}

// MessageFromDoc maps a conversations/{cid}/messages/{mid} document.
func MessageFromDoc(cid string, doc docstore.Doc) *Message {
	if !doc.Exists {
		return nil
	}
	d := doc.Data
	return &Message{
		ID:             doc.ID,
		ConversationID: cid,
		Text:           docstore.AsString(d["text"]),
		SenderID:       docstore.AsString(d["senderId"]),
		SenderName:     docstore.AsString(d["senderName"]),
		SenderPhotoURL: docstore.AsString(d["senderPhotoURL"]),
		Timestamp:      docstore.AsInt64(d["timestamp"]),
		Type:           MessageType(docstore.AsString(d["type"])),
		ReadBy:         docstore.AsStringSlice(d["readBy"]),
		Status:         MessageStatus(docstore.AsString(d["status"])),
	}
}
