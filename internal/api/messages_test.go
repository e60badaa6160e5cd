package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Lif-Platforms/New-Ringer-Server/internal/message"
)

// fakeMessageRepo implements message.Repository with a scripted page.
type fakeMessageRepo struct {
	page       []message.Message
	unread     int
	bulkViewed []string
}

func (r *fakeMessageRepo) Insert(context.Context, message.InsertParams) (uuid.UUID, time.Time, error) {
	return uuid.Nil, time.Time{}, nil
}
func (r *fakeMessageRepo) Page(context.Context, uuid.UUID, int, string) ([]message.Message, int, error) {
	page := make([]message.Message, len(r.page))
	copy(page, r.page)
	return page, r.unread, nil
}
func (r *fakeMessageRepo) Get(context.Context, uuid.UUID) (*message.Message, error) {
	return nil, message.ErrNotFound
}
func (r *fakeMessageRepo) MarkViewed(context.Context, uuid.UUID) error { return nil }
func (r *fakeMessageRepo) MarkViewedBulk(_ context.Context, author string, _ uuid.UUID, _ int) error {
	r.bulkViewed = append(r.bulkViewed, author)
	return nil
}
func (r *fakeMessageRepo) Expired(context.Context) ([]message.ExpiredRef, error) { return nil, nil }
func (r *fakeMessageRepo) DeleteExpired(context.Context) error                   { return nil }

func TestLoadMessages(t *testing.T) {
	t.Parallel()

	convID := uuid.New()
	convs := &fakeConversationRepo{members: map[uuid.UUID][]string{convID: {"alice", "bob"}}}

	// The repository returns newest-first; the handler flips to chronological.
	msgs := &fakeMessageRepo{
		page: []message.Message{
			{Author: "bob", Content: "second", ConversationID: convID, MessageID: uuid.New()},
			{Author: "alice", Content: "first", ConversationID: convID, MessageID: uuid.New()},
		},
		unread: 1,
	}

	handler := NewMessagesHandler(convs, msgs, zerolog.Nop())
	app := fiber.New()
	app.Get("/messages/v1/load/:conversationID", asIdentity("alice"), handler.LoadMessages)

	resp, body := doJSON(t, app, http.MethodGet, "/messages/v1/load/"+convID.String(), "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var result struct {
		Data loadMessagesResponse `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("unmarshal load result: %v", err)
	}

	if result.Data.ConversationName != "bob" {
		t.Errorf("conversation_name = %q, want bob (the counterpart)", result.Data.ConversationName)
	}
	if result.Data.UnreadMessages != 1 {
		t.Errorf("unread_messages = %d, want 1", result.Data.UnreadMessages)
	}
	if len(result.Data.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(result.Data.Messages))
	}
	if result.Data.Messages[0].Content != "first" || result.Data.Messages[1].Content != "second" {
		t.Errorf("messages out of chronological order: %q then %q",
			result.Data.Messages[0].Content, result.Data.Messages[1].Content)
	}

	// Loading marks the counterpart's share of the page as viewed.
	if len(msgs.bulkViewed) != 1 || msgs.bulkViewed[0] != "bob" {
		t.Errorf("bulkViewed = %v, want [bob]", msgs.bulkViewed)
	}
}

func TestLoadMessagesNonMember(t *testing.T) {
	t.Parallel()

	convID := uuid.New()
	convs := &fakeConversationRepo{members: map[uuid.UUID][]string{convID: {"alice", "bob"}}}
	msgs := &fakeMessageRepo{}

	handler := NewMessagesHandler(convs, msgs, zerolog.Nop())
	app := fiber.New()
	app.Get("/messages/v1/load/:conversationID", asIdentity("carol"), handler.LoadMessages)

	resp, _ := doJSON(t, app, http.MethodGet, "/messages/v1/load/"+convID.String(), "")
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if len(msgs.bulkViewed) != 0 {
		t.Error("bulk view mark ran for a non-member")
	}
}

func TestLoadMessagesUnknownConversation(t *testing.T) {
	t.Parallel()

	handler := NewMessagesHandler(&fakeConversationRepo{}, &fakeMessageRepo{}, zerolog.Nop())
	app := fiber.New()
	app.Get("/messages/v1/load/:conversationID", asIdentity("alice"), handler.LoadMessages)

	resp, _ := doJSON(t, app, http.MethodGet, "/messages/v1/load/"+uuid.NewString(), "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestLoadMessagesBadOffset(t *testing.T) {
	t.Parallel()

	convID := uuid.New()
	convs := &fakeConversationRepo{members: map[uuid.UUID][]string{convID: {"alice", "bob"}}}

	handler := NewMessagesHandler(convs, &fakeMessageRepo{}, zerolog.Nop())
	app := fiber.New()
	app.Get("/messages/v1/load/:conversationID", asIdentity("alice"), handler.LoadMessages)

	resp, _ := doJSON(t, app, http.MethodGet, "/messages/v1/load/"+convID.String()+"?offset=-3", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
