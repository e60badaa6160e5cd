package api

import (
	"errors"
	"fmt"
	"slices"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Lif-Platforms/New-Ringer-Server/internal/apierrors"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/friendrequest"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/httputil"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/liveupdates"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/push"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/registry"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/user"
)

// RequestsHandler serves the friend request endpoints.
type RequestsHandler struct {
	requests friendrequest.Repository
	users    user.Repository
	registry *registry.Registry
	push     *push.Dispatcher
	log      zerolog.Logger
}

// NewRequestsHandler creates a new friend requests handler.
func NewRequestsHandler(
	requests friendrequest.Repository,
	users user.Repository,
	reg *registry.Registry,
	pushDispatcher *push.Dispatcher,
	logger zerolog.Logger,
) *RequestsHandler {
	return &RequestsHandler{
		requests: requests,
		users:    users,
		registry: reg,
		push:     pushDispatcher,
		log:      logger,
	}
}

// GetRequests handles GET /friend_requests/v1/get_requests.
func (h *RequestsHandler) GetRequests(c fiber.Ctx) error {
	identity, ok := identityFromLocals(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	requests, err := h.requests.ListIncoming(c, identity)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "requests").Msg("list incoming requests failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Internal server error.")
	}
	return httputil.Success(c, requests)
}

// OutgoingRequests handles GET /friend_requests/v1/outgoing_requests.
func (h *RequestsHandler) OutgoingRequests(c fiber.Ctx) error {
	identity, ok := identityFromLocals(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	requests, err := h.requests.ListOutgoing(c, identity)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "requests").Msg("list outgoing requests failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Internal server error.")
	}
	return httputil.Success(c, requests)
}

// addFriendBody is the AddFriend request body.
type addFriendBody struct {
	Recipient string  `json:"recipient"`
	Message   *string `json:"message"`
}

// AddFriend handles POST /friend_requests/v1/add_friend. The semantic direction is always sender (the caller) to
// recipient.
func (h *RequestsHandler) AddFriend(c fiber.Ctx) error {
	identity, ok := identityFromLocals(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	var body addFriendBody
	if err := c.Bind().Body(&body); err != nil || body.Recipient == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid request body. Missing 'recipient'.")
	}
	if body.Recipient == identity {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "You cannot send a friend request to yourself.")
	}

	friends, err := h.users.FriendUsernames(c, identity)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "requests").Msg("load friends failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Internal server error.")
	}
	if slices.Contains(friends, body.Recipient) {
		return httputil.Fail(c, fiber.StatusConflict, apierrors.Conflict, "Already friends with this user.")
	}

	if _, err := h.requests.Create(c, identity, body.Recipient, body.Message); err != nil {
		switch {
		case errors.Is(err, friendrequest.ErrRecipientNotFound):
			return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, "User not found.")
		case errors.Is(err, friendrequest.ErrAlreadyRequested):
			return httputil.Fail(c, fiber.StatusConflict, apierrors.Conflict,
				"You already have an outgoing friend request to this user.")
		default:
			h.log.Error().Err(err).Str("handler", "requests").Msg("create request failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Internal server error.")
		}
	}

	// Offline recipients hear about the request through a push notification.
	if !h.registry.IsPresent(body.Recipient) {
		h.push.Enqueue(push.Notification{
			Title:   identity,
			Body:    fmt.Sprintf("%s sent you a friend request!", identity),
			Data:    map[string]any{},
			Account: body.Recipient,
		})
	}

	return httputil.Success(c, fiber.Map{"status": "Ok"})
}

// requestIDBody is the body shared by AcceptRequest and DenyRequest.
type requestIDBody struct {
	RequestID string `json:"request_id"`
}

// AcceptRequest handles POST /friend_requests/v1/accept_request. Accepting creates the friendship and its conversation
// in one transaction, then notifies the original sender.
func (h *RequestsHandler) AcceptRequest(c fiber.Ctx) error {
	identity, ok := identityFromLocals(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	var body requestIDBody
	if err := c.Bind().Body(&body); err != nil || body.RequestID == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid request body. Missing 'request_id'.")
	}

	requestID, err := uuid.Parse(body.RequestID)
	if err != nil {
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, "Request not found.")
	}

	result, err := h.requests.Accept(c, requestID, identity)
	if err != nil {
		return h.mapRequestError(c, err, "accept")
	}

	// Tell the sender their request was accepted (on every live session they have).
	frame, err := liveupdates.NewEventFrame(liveupdates.EventFriendRequestAccept, liveupdates.FriendRequestAcceptData{
		User:           identity,
		ConversationID: result.ConversationID.String(),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build friend request accept event")
	} else {
		h.registry.Broadcast([]string{result.Sender}, frame)
	}

	senderPresence := h.registry.IsPresent(result.Sender)
	if !senderPresence {
		h.push.Enqueue(push.Notification{
			Title:   identity,
			Body:    fmt.Sprintf("%s accepted your friend request", identity),
			Data:    map[string]any{},
			Account: result.Sender,
		})
	}

	return httputil.Success(c, fiber.Map{
		"name":            result.Sender,
		"conversation_id": result.ConversationID,
		"sender_presence": senderPresence,
	})
}

// DenyRequest handles POST /friend_requests/v1/deny_request.
func (h *RequestsHandler) DenyRequest(c fiber.Ctx) error {
	identity, ok := identityFromLocals(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	var body requestIDBody
	if err := c.Bind().Body(&body); err != nil || body.RequestID == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid request body. Missing 'request_id'.")
	}

	requestID, err := uuid.Parse(body.RequestID)
	if err != nil {
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, "Request not found.")
	}

	if err := h.requests.Deny(c, requestID, identity); err != nil {
		return h.mapRequestError(c, err, "deny")
	}

	return httputil.Success(c, fiber.Map{"status": "Request Denied!"})
}

// mapRequestError converts friend request repository errors to HTTP responses.
func (h *RequestsHandler) mapRequestError(c fiber.Ctx, err error, action string) error {
	switch {
	case errors.Is(err, friendrequest.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, "Request not found.")
	case errors.Is(err, friendrequest.ErrNoPermission):
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions,
			fmt.Sprintf("You cannot %s this request.", action))
	default:
		h.log.Error().Err(err).Str("handler", "requests").Msg("request operation failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Internal server error.")
	}
}
