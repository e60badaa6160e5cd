package user

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
)

// TestFriendEntryBlobShape pins the legacy blob keys. Existing rows store friendship entries as
// [{"Username": ..., "Id": ...}]; changing the casing would orphan every friendship.
func TestFriendEntryBlobShape(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	raw, err := json.Marshal(friendEntry{Username: "bob", ID: id})
	if err != nil {
		t.Fatalf("marshal friend entry: %v", err)
	}

	var keys map[string]any
	if err := json.Unmarshal(raw, &keys); err != nil {
		t.Fatalf("unmarshal friend entry: %v", err)
	}
	if _, ok := keys["Username"]; !ok {
		t.Error("blob missing Username key")
	}
	if _, ok := keys["Id"]; !ok {
		t.Error("blob missing Id key")
	}

	var decoded friendEntry
	if err := json.Unmarshal([]byte(`{"Username":"bob","Id":"`+id.String()+`"}`), &decoded); err != nil {
		t.Fatalf("decode legacy blob entry: %v", err)
	}
	if decoded.Username != "bob" || decoded.ID != id {
		t.Errorf("decoded = %+v, want bob/%s", decoded, id)
	}
}

func TestFriendJSONKeys(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(Friend{Username: "bob", ConversationID: uuid.New(), UnreadMessages: 2})
	if err != nil {
		t.Fatalf("marshal friend: %v", err)
	}

	var keys map[string]any
	if err := json.Unmarshal(raw, &keys); err != nil {
		t.Fatalf("unmarshal friend: %v", err)
	}
	for _, want := range []string{"username", "conversationId", "lastMessage", "unreadMessages"} {
		if _, ok := keys[want]; !ok {
			t.Errorf("friend JSON missing %q key", want)
		}
	}
}
