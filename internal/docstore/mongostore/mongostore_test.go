package mongostore

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/driftchat/drift/internal/docstore"
)

func TestMergeUpdateOperators(t *testing.T) {
	update := mergeUpdate(map[string]any{
		"status":       "online",
		"lastSeen":     docstore.ServerTimestamp,
		"unreadCount":  docstore.Increment(2),
		"participants": docstore.ArrayUnion("u3"),
		"readBy":       docstore.ArrayRemove("u1"),
		"lastMessage": map[string]any{
			"text":      "hi",
			"timestamp": docstore.ServerTimestamp,
		},
	}, 1234)

	set := update["$set"].(bson.M)
	if set["d.status"] != "online" {
		t.Errorf("$set d.status = %v", set["d.status"])
	}
	if set["d.lastSeen"] != int64(1234) {
		t.Errorf("$set d.lastSeen = %v, want stamp", set["d.lastSeen"])
	}
	if set["d.lastMessage.text"] != "hi" {
		t.Errorf("nested map not flattened: %v", set)
	}
	if set["d.lastMessage.timestamp"] != int64(1234) {
		t.Errorf("nested server timestamp = %v", set["d.lastMessage.timestamp"])
	}

	inc := update["$inc"].(bson.M)
	if inc["d.unreadCount"] != int64(2) {
		t.Errorf("$inc = %v", inc)
	}

	addToSet := update["$addToSet"].(bson.M)
	if _, ok := addToSet["d.participants"]; !ok {
		t.Errorf("$addToSet missing participants: %v", addToSet)
	}

	pull := update["$pull"].(bson.M)
	if _, ok := pull["d.readBy"]; !ok {
		t.Errorf("$pull missing readBy: %v", pull)
	}
}

func TestMergeUpdateEmpty(t *testing.T) {
	update := mergeUpdate(map[string]any{}, 1)
	if _, ok := update["$set"]; !ok {
		t.Error("empty merge must still produce a valid update document")
	}
}

func TestNormalizeValue(t *testing.T) {
	got := normalizeMap(bson.M{
		"name": "Ana",
		"nested": bson.D{
			{Key: "a", Value: int32(1)},
		},
		"arr": primitive.A{"x", bson.M{"y": "z"}},
	})

	nested, ok := got["nested"].(map[string]any)
	if !ok {
		t.Fatalf("nested type = %T", got["nested"])
	}
	if docstore.AsInt64(nested["a"]) != 1 {
		t.Errorf("nested a = %v", nested["a"])
	}
	arr, ok := got["arr"].([]any)
	if !ok || len(arr) != 2 {
		t.Fatalf("arr = %v", got["arr"])
	}
	if _, ok := arr[1].(map[string]any); !ok {
		t.Errorf("arr[1] type = %T", arr[1])
	}
}
