package model

import (
	"sort"
	"strings"
)

// Document path layout, fixed for interop with the store described in the
// package comment of docstore.

const (
	// UsersCollection holds profile documents.
	UsersCollection = "users"
	// ConversationsCollection holds conversation metadata documents.
	ConversationsCollection = "conversations"
)

// UserPath returns users/{uid}.
func UserPath(uid string) string {
	return UsersCollection + "/" + uid
}

// ConversationPath returns conversations/{cid}.
func ConversationPath(cid string) string {
	return ConversationsCollection + "/" + cid
}

// MessagesCollection returns conversations/{cid}/messages.
func MessagesCollection(cid string) string {
	return ConversationPath(cid) + "/messages"
}

// MessagePath returns conversations/{cid}/messages/{mid}.
func MessagePath(cid, mid string) string {
	return MessagesCollection(cid) + "/" + mid
}

// MembershipsCollection returns users/{uid}/conversations.
func MembershipsCollection(uid string) string {
	return UserPath(uid) + "/conversations"
}

// MembershipPath returns users/{uid}/conversations/{cid}.
func MembershipPath(uid, cid string) string {
	return MembershipsCollection(uid) + "/" + cid
}

// DirectConversationID derives the deterministic id of the direct
// conversation between two users. The id is uniquely determined by the pair
// regardless of argument order.
func DirectConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return "direct_" + strings.Join(pair, "_")
}
