// Package liveupdates runs the per-session protocol engine behind /v1/live-updates: header authentication on open,
// a framed request/response loop, and event broadcasts through the session registry.
package liveupdates

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Lif-Platforms/New-Ringer-Server/internal/authclient"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/config"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/conversation"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/message"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/push"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/registry"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/user"
)

// handlerTimeout bounds each handler's persistence work.
const handlerTimeout = 10 * time.Second

// handlerFunc processes one decoded request frame on a session.
type handlerFunc func(c *Client, requestID string, body json.RawMessage)

// Hub owns the live-updates protocol: it authenticates new sessions, attaches them to the registry, dispatches their
// request frames, and fans out the presence changes the registry reports.
type Hub struct {
	registry      *registry.Registry
	verifier      *authclient.Verifier
	users         user.Repository
	conversations conversation.Repository
	messages      message.Repository
	push          *push.Dispatcher
	handlers      map[string]handlerFunc
	log           zerolog.Logger

	sendBuffer int
	rateCount  int
	rateWindow time.Duration
}

// NewHub creates the hub and installs its presence hooks on the registry.
func NewHub(
	reg *registry.Registry,
	verifier *authclient.Verifier,
	users user.Repository,
	conversations conversation.Repository,
	messages message.Repository,
	pushDispatcher *push.Dispatcher,
	cfg *config.Config,
	logger zerolog.Logger,
) *Hub {
	h := &Hub{
		registry:      reg,
		verifier:      verifier,
		users:         users,
		conversations: conversations,
		messages:      messages,
		push:          pushDispatcher,
		log:           logger.With().Str("component", "liveupdates").Logger(),
		sendBuffer:    cfg.LiveSendBuffer,
		rateCount:     cfg.RateLimitWSCount,
		rateWindow:    time.Duration(cfg.RateLimitWSWindowSeconds) * time.Second,
	}
	h.handlers = map[string]handlerFunc{
		"SEND_MESSAGE": h.handleSendMessage,
		"VIEW_MESSAGE": h.handleViewMessage,
		"USER_TYPING":  h.handleUserTyping,
	}
	reg.OnPresenceChange(
		func(identity string) { h.notifyPresence(identity, true) },
		func(identity string) { h.notifyPresence(identity, false) },
	)
	return h
}

// ServeWebSocket authenticates the upgraded connection with the headers captured before the upgrade and, on success,
// attaches it to the registry and runs its pumps. It blocks until the session ends.
func (h *Hub) ServeWebSocket(conn *websocket.Conn, username, token string) {
	if username == "" || token == "" {
		closeWithCode(conn, websocket.ClosePolicyViolation, "username and token headers are required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	status, err := h.verifier.Verify(ctx, username, token)
	cancel()
	if err != nil {
		h.log.Warn().Err(err).Msg("Auth service unreachable during session open")
		closeWithCode(conn, websocket.CloseInternalServerErr, "authentication unavailable")
		return
	}
	if status != authclient.StatusValid {
		closeWithCode(conn, websocket.ClosePolicyViolation, "invalid credentials")
		return
	}

	client := newClient(h, conn, username)
	h.registry.Attach(client)
	h.log.Info().Str("identity", username).Int("sessions", h.registry.Count()).Msg("Live session attached")

	go client.writePump()
	client.readPump()
}

// detach removes a session from the registry. Called from the read pump on session end; the registry makes a second
// detach (after a failed broadcast) a no-op.
func (h *Hub) detach(c *Client) {
	h.registry.Detach(c)
	h.log.Debug().Str("identity", c.identity).Msg("Live session detached")
}

// dispatch routes one request frame to its handler. Unknown request types get a 400 response.
func (h *Hub) dispatch(c *Client, req Request) {
	handler, ok := h.handlers[req.RequestType]
	if !ok {
		c.respond(req.RequestID, 400, fmt.Sprintf("Unknown requestType: %s", req.RequestType))
		return
	}
	handler(c, req.RequestID, req.Body)
}

// notifyPresence broadcasts a PRESENCE_CHANGE to every friend of the identity. Failures are logged and swallowed;
// presence is eventually consistent.
func (h *Hub) notifyPresence(identity string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	friends, err := h.users.FriendUsernames(ctx, identity)
	if err != nil {
		h.log.Warn().Err(err).Str("identity", identity).Msg("Failed to load friends for presence broadcast")
		return
	}
	if len(friends) == 0 {
		return
	}

	frame, err := NewEventFrame(EventPresenceChange, PresenceChangeData{User: identity, Online: online})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build presence event")
		return
	}
	h.registry.Broadcast(friends, frame)
}

// sendMessageBody is the SEND_MESSAGE request body. Pointer fields distinguish absent keys from zero values.
type sendMessageBody struct {
	ConversationID string  `json:"conversationId"`
	Text           *string `json:"text"`
	MessageType    *string `json:"messageType"`
	GifURL         *string `json:"gifURL"`
	SelfDestruct   *int    `json:"selfDestructMinutes"`
}

func (h *Hub) handleSendMessage(c *Client, requestID string, body json.RawMessage) {
	var req sendMessageBody
	if err := json.Unmarshal(body, &req); err != nil {
		c.respond(requestID, 400, "Invalid request body.")
		return
	}
	if req.ConversationID == "" {
		c.respond(requestID, 400, "Missing request field: conversationId")
		return
	}
	if req.Text == nil {
		c.respond(requestID, 400, "Missing request field: text")
		return
	}
	if req.MessageType != nil && *req.MessageType != message.TypeGIF {
		c.respond(requestID, 400, "Invalid message type.")
		return
	}
	if req.SelfDestruct != nil && *req.SelfDestruct < 1 {
		c.respond(requestID, 400, "Invalid self-destruct value.")
		return
	}

	conversationID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		c.respond(requestID, 404, "Conversation not found!")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	members, err := h.conversations.GetMembers(ctx, conversationID)
	if err != nil {
		h.respondRepoError(c, requestID, err, "Conversation not found!")
		return
	}
	if !slices.Contains(members, c.identity) {
		c.respond(requestID, 403, "You are not a member of this conversation.")
		return
	}

	messageID, sendTime, err := h.messages.Insert(ctx, message.InsertParams{
		Author:         c.identity,
		ConversationID: conversationID,
		Content:        *req.Text,
		MessageType:    req.MessageType,
		GifURL:         req.GifURL,
		SelfDestruct:   req.SelfDestruct,
	})
	if err != nil {
		h.respondRepoError(c, requestID, err, "Conversation not found!")
		return
	}

	c.respond(requestID, 200, "Message sent!")

	recipients := slices.DeleteFunc(slices.Clone(members), func(m string) bool { return m == c.identity })

	var msgType, gifURL string
	if req.MessageType != nil {
		msgType = *req.MessageType
	}
	if req.GifURL != nil {
		gifURL = *req.GifURL
	}

	frame, err := NewEventFrame(EventNewMessage, NewMessageData{
		ConversationID: req.ConversationID,
		Message: EventMessage{
			Author:   c.identity,
			Text:     *req.Text,
			ID:       messageID.String(),
			Type:     msgType,
			GifURL:   gifURL,
			SendTime: sendTime,
		},
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build new message event")
		return
	}
	h.registry.Broadcast(recipients, frame)

	// Offline recipients get a push notification instead. Runs off the session loop so badge computation never
	// delays the next request.
	go h.notifyOffline(recipients, c.identity, *req.Text, req.ConversationID)
}

// notifyOffline enqueues a push notification for every recipient with no live session.
func (h *Hub) notifyOffline(recipients []string, author, text, conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	for _, p := range h.registry.PresenceOf(recipients) {
		if p.Online {
			continue
		}

		notification := push.Notification{
			Title:   author,
			Body:    text,
			Data:    map[string]any{"conversationId": conversationID},
			Account: p.Identity,
		}
		if unread, err := h.users.UnreadCount(ctx, p.Identity); err != nil {
			h.log.Warn().Err(err).Str("identity", p.Identity).Msg("Failed to compute badge count")
		} else {
			notification.Badge = &unread
		}
		h.push.Enqueue(notification)
	}
}

// viewMessageBody is the VIEW_MESSAGE request body.
type viewMessageBody struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

func (h *Hub) handleViewMessage(c *Client, requestID string, body json.RawMessage) {
	var req viewMessageBody
	if err := json.Unmarshal(body, &req); err != nil {
		c.respond(requestID, 400, "Invalid request body.")
		return
	}
	if req.ConversationID == "" {
		c.respond(requestID, 400, "Missing required field: conversationId")
		return
	}
	if req.MessageID == "" {
		c.respond(requestID, 400, "Missing required field: messageId")
		return
	}

	conversationID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		c.respond(requestID, 404, "Conversation not found")
		return
	}
	messageID, err := uuid.Parse(req.MessageID)
	if err != nil {
		c.respond(requestID, 404, "Message not found in this conversation")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	members, err := h.conversations.GetMembers(ctx, conversationID)
	if err != nil {
		h.respondRepoError(c, requestID, err, "Conversation not found")
		return
	}
	if !slices.Contains(members, c.identity) {
		c.respond(requestID, 403, "You are not a member of this conversation")
		return
	}

	msg, err := h.messages.Get(ctx, messageID)
	if err != nil {
		h.respondRepoError(c, requestID, err, "Message not found in this conversation")
		return
	}
	if msg.ConversationID != conversationID {
		c.respond(requestID, 404, "Message not found in this conversation")
		return
	}
	if msg.Author == c.identity {
		c.respond(requestID, 403, "You cannot view your own message")
		return
	}

	if err := h.messages.MarkViewed(ctx, messageID); err != nil {
		h.respondRepoError(c, requestID, err, "Message not found in this conversation")
		return
	}

	c.respond(requestID, 200, "Message marked as viewed")
}

// userTypingBody is the USER_TYPING request body.
type userTypingBody struct {
	ConversationID string `json:"conversationId"`
	IsTyping       *bool  `json:"isTyping"`
}

func (h *Hub) handleUserTyping(c *Client, requestID string, body json.RawMessage) {
	var req userTypingBody
	if err := json.Unmarshal(body, &req); err != nil {
		c.respond(requestID, 400, "Invalid request body.")
		return
	}
	if req.ConversationID == "" {
		c.respond(requestID, 400, "Missing field: conversationId")
		return
	}
	if req.IsTyping == nil {
		c.respond(requestID, 400, "Missing field: isTyping")
		return
	}

	conversationID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		c.respond(requestID, 404, "Conversation not found.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	members, err := h.conversations.GetMembers(ctx, conversationID)
	if err != nil {
		h.respondRepoError(c, requestID, err, "Conversation not found.")
		return
	}
	if !slices.Contains(members, c.identity) {
		c.respond(requestID, 403, "You are not a member of this conversation.")
		return
	}

	targets := slices.DeleteFunc(slices.Clone(members), func(m string) bool { return m == c.identity })

	frame, err := NewEventFrame(EventUserTyping, UserTypingData{
		ConversationID: req.ConversationID,
		User:           c.identity,
		IsTyping:       *req.IsTyping,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build typing event")
		c.respond(requestID, 500, "Internal server error")
		return
	}
	h.registry.Broadcast(targets, frame)

	c.respond(requestID, 200, "")
}

// respondRepoError maps repository errors onto the response taxonomy: the known not-found sentinels become 404,
// anything else is a 500.
func (h *Hub) respondRepoError(c *Client, requestID string, err error, notFoundMessage string) {
	switch {
	case isNotFound(err):
		c.respond(requestID, 404, notFoundMessage)
	default:
		h.log.Error().Err(err).Str("identity", c.identity).Msg("Live update handler failed")
		c.respond(requestID, 500, "Internal server error")
	}
}

// Shutdown closes every attached session with a Going Away status.
func (h *Hub) Shutdown() {
	for _, handle := range h.registry.Snapshot() {
		client, ok := handle.(*Client)
		if !ok {
			continue
		}
		h.registry.Detach(client)
		client.closeSend()
		client.closeWithCode(websocket.CloseGoingAway, "server shutting down")
	}
	h.log.Info().Msg("Live updates hub shut down")
}

func closeWithCode(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}
