package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Lif-Platforms/New-Ringer-Server/internal/conversation"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/registry"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/user"
)

// asIdentity returns middleware that injects a fixed authenticated identity, standing in for RequireAuth.
func asIdentity(identity string) fiber.Handler {
	return func(c fiber.Ctx) error {
		c.Locals("identity", identity)
		return c.Next()
	}
}

// fakeTokenRepo implements pushtoken.Repository, recording calls.
type fakeTokenRepo struct {
	registered   map[string]string
	unregistered []string
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{registered: make(map[string]string)}
}

func (r *fakeTokenRepo) Register(_ context.Context, token, account string) error {
	r.registered[token] = account
	return nil
}
func (r *fakeTokenRepo) Unregister(_ context.Context, token string) error {
	r.unregistered = append(r.unregistered, token)
	return nil
}
func (r *fakeTokenRepo) Tokens(context.Context, string) ([]string, error) { return nil, nil }

// fakeUserRepo implements user.Repository over static data.
type fakeUserRepo struct {
	friends map[string][]user.Friend
	results []string
}

func (r *fakeUserRepo) CreateIfMissing(context.Context, string) error { return nil }
func (r *fakeUserRepo) GetFriends(_ context.Context, account string) ([]user.Friend, error) {
	return r.friends[account], nil
}
func (r *fakeUserRepo) FriendUsernames(_ context.Context, account string) ([]string, error) {
	var names []string
	for _, f := range r.friends[account] {
		names = append(names, f.Username)
	}
	return names, nil
}
func (r *fakeUserRepo) UnreadCount(context.Context, string) (int, error) { return 0, nil }
func (r *fakeUserRepo) Search(context.Context, string) ([]string, error) {
	return r.results, nil
}

// fakeConversationRepo implements conversation.Repository.
type fakeConversationRepo struct {
	members map[uuid.UUID][]string
	removed []uuid.UUID
}

func (r *fakeConversationRepo) GetMembers(_ context.Context, id uuid.UUID) ([]string, error) {
	members, ok := r.members[id]
	if !ok {
		return nil, conversation.ErrNotFound
	}
	return members, nil
}
func (r *fakeConversationRepo) Remove(_ context.Context, id uuid.UUID, requester string) error {
	members, ok := r.members[id]
	if !ok {
		return conversation.ErrNotFound
	}
	for _, m := range members {
		if m == requester {
			r.removed = append(r.removed, id)
			delete(r.members, id)
			return nil
		}
	}
	return conversation.ErrNoPermission
}

// recordingHandle implements registry.Handle for broadcast assertions.
type recordingHandle struct {
	identity string
	payloads [][]byte
}

func (h *recordingHandle) Identity() string { return h.identity }
func (h *recordingHandle) Enqueue(p []byte) bool {
	h.payloads = append(h.payloads, p)
	return true
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return resp, payload
}

func TestRootProbe(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/", NewRootHandler().Probe)

	resp, body := doJSON(t, app, http.MethodGet, "/", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var probe struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		t.Fatalf("unmarshal probe: %v", err)
	}
	if probe.Name != "Ringer Server" {
		t.Errorf("name = %q, want Ringer Server", probe.Name)
	}
}

func TestNotificationsRegister(t *testing.T) {
	t.Parallel()

	repo := newFakeTokenRepo()
	handler := NewNotificationsHandler(repo, zerolog.Nop())

	app := fiber.New()
	app.Post("/notifications/v1/register", asIdentity("alice"), handler.Register)
	app.Post("/notifications/v1/unregister", handler.Unregister)

	resp, _ := doJSON(t, app, http.MethodPost, "/notifications/v1/register", `{"push-token":"tok-1"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("register status = %d, want 200", resp.StatusCode)
	}
	if repo.registered["tok-1"] != "alice" {
		t.Errorf("registered = %v, want tok-1 -> alice", repo.registered)
	}

	resp, _ = doJSON(t, app, http.MethodPost, "/notifications/v1/register", `{}`)
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("register without token status = %d, want 400", resp.StatusCode)
	}

	resp, _ = doJSON(t, app, http.MethodPost, "/notifications/v1/unregister", `{"push-token":"tok-1"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("unregister status = %d, want 200", resp.StatusCode)
	}
	if len(repo.unregistered) != 1 || repo.unregistered[0] != "tok-1" {
		t.Errorf("unregistered = %v, want [tok-1]", repo.unregistered)
	}
}

func TestUserSearch(t *testing.T) {
	t.Parallel()

	handler := NewUserHandler(&fakeUserRepo{results: []string{"alice", "alyce"}}, zerolog.Nop())

	app := fiber.New()
	app.Get("/user/v1/search", asIdentity("bob"), handler.Search)

	resp, body := doJSON(t, app, http.MethodGet, "/user/v1/search?user=alice", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var result struct {
		Data []string `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("unmarshal search result: %v", err)
	}
	if len(result.Data) != 2 {
		t.Errorf("results = %v, want 2 accounts", result.Data)
	}

	resp, _ = doJSON(t, app, http.MethodGet, "/user/v1/search", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("missing query status = %d, want 400", resp.StatusCode)
	}
}

func TestGetFriendsIncludesPresence(t *testing.T) {
	t.Parallel()

	users := &fakeUserRepo{friends: map[string][]user.Friend{
		"alice": {
			{Username: "bob", ConversationID: uuid.New(), UnreadMessages: 2},
			{Username: "carol", ConversationID: uuid.New()},
		},
	}}
	reg := registry.New()
	reg.Attach(&recordingHandle{identity: "bob"})

	handler := NewFriendsHandler(users, reg, zerolog.Nop())
	app := fiber.New()
	app.Get("/friends/v1/get_friends", asIdentity("alice"), handler.GetFriends)

	resp, body := doJSON(t, app, http.MethodGet, "/friends/v1/get_friends", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var result struct {
		Data []friendWithPresence `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("unmarshal friends: %v", err)
	}
	if len(result.Data) != 2 {
		t.Fatalf("friends = %d, want 2", len(result.Data))
	}
	if !result.Data[0].Online {
		t.Error("bob online = false, want true (attached handle)")
	}
	if result.Data[1].Online {
		t.Error("carol online = true, want false")
	}
	if result.Data[0].UnreadMessages != 2 {
		t.Errorf("bob unread = %d, want 2", result.Data[0].UnreadMessages)
	}
}

func TestRemoveConversation(t *testing.T) {
	t.Parallel()

	convID := uuid.New()
	convs := &fakeConversationRepo{members: map[uuid.UUID][]string{convID: {"alice", "bob"}}}

	reg := registry.New()
	bob := &recordingHandle{identity: "bob"}
	reg.Attach(bob)

	handler := NewConversationsHandler(convs, reg, zerolog.Nop())
	app := fiber.New()
	app.Delete("/conversations/v1/remove/:conversationID", asIdentity("alice"), handler.RemoveConversation)

	resp, _ := doJSON(t, app, http.MethodDelete, "/conversations/v1/remove/"+convID.String(), "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if len(convs.removed) != 1 || convs.removed[0] != convID {
		t.Errorf("removed = %v, want [%s]", convs.removed, convID)
	}

	if len(bob.payloads) != 1 {
		t.Fatalf("bob received %d events, want 1", len(bob.payloads))
	}
	var event struct {
		EventType string `json:"eventType"`
		Data      struct {
			ConversationID string `json:"conversationId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(bob.payloads[0], &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.EventType != "REMOVE_CONVERSATION" || event.Data.ConversationID != convID.String() {
		t.Errorf("event = %+v, want REMOVE_CONVERSATION for %s", event, convID)
	}
}

func TestRemoveConversationNonMember(t *testing.T) {
	t.Parallel()

	convID := uuid.New()
	convs := &fakeConversationRepo{members: map[uuid.UUID][]string{convID: {"alice", "bob"}}}

	handler := NewConversationsHandler(convs, registry.New(), zerolog.Nop())
	app := fiber.New()
	app.Delete("/conversations/v1/remove/:conversationID", asIdentity("carol"), handler.RemoveConversation)

	resp, _ := doJSON(t, app, http.MethodDelete, "/conversations/v1/remove/"+convID.String(), "")
	if resp.StatusCode != fiber.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if len(convs.removed) != 0 {
		t.Error("conversation was removed despite non-member requester")
	}
}

func TestRemoveConversationUnknown(t *testing.T) {
	t.Parallel()

	handler := NewConversationsHandler(&fakeConversationRepo{}, registry.New(), zerolog.Nop())
	app := fiber.New()
	app.Delete("/conversations/v1/remove/:conversationID", asIdentity("alice"), handler.RemoveConversation)

	resp, _ := doJSON(t, app, http.MethodDelete, "/conversations/v1/remove/"+uuid.NewString(), "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
