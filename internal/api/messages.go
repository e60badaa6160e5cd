package api

import (
	"errors"
	"slices"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Lif-Platforms/New-Ringer-Server/internal/apierrors"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/conversation"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/httputil"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/message"
)

// MessagesHandler serves the conversation history endpoint.
type MessagesHandler struct {
	conversations conversation.Repository
	messages      message.Repository
	log           zerolog.Logger
}

// NewMessagesHandler creates a new messages handler.
func NewMessagesHandler(conversations conversation.Repository, messages message.Repository, logger zerolog.Logger) *MessagesHandler {
	return &MessagesHandler{conversations: conversations, messages: messages, log: logger}
}

// loadMessagesResponse is the LoadMessages payload. The conversation name is the counterpart member, which depends on
// who is loading.
type loadMessagesResponse struct {
	ConversationName string            `json:"conversation_name"`
	ConversationID   uuid.UUID         `json:"conversation_id"`
	UnreadMessages   int               `json:"unread_messages"`
	Messages         []message.Message `json:"messages"`
}

// LoadMessages handles GET /messages/v1/load/:conversationID. It returns one history page in chronological order and
// marks the counterpart's share of that page as viewed, which also arms self-destruct deadlines.
func (h *MessagesHandler) LoadMessages(c fiber.Ctx) error {
	identity, ok := identityFromLocals(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	conversationID, err := uuid.Parse(c.Params("conversationID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, "Conversation Not Found")
	}

	offset, err := strconv.Atoi(c.Query("offset", "0"))
	if err != nil || offset < 0 {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid offset parameter")
	}

	members, err := h.conversations.GetMembers(c, conversationID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, "Conversation Not Found")
		}
		h.log.Error().Err(err).Str("handler", "messages").Msg("get members failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Internal Server Error")
	}

	if !slices.Contains(members, identity) {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions,
			"You are not a member of this conversation")
	}

	page, unread, err := h.messages.Page(c, conversationID, offset, identity)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "messages").Msg("load page failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Internal Server Error")
	}
	slices.Reverse(page)

	counterpart := members[0]
	if counterpart == identity {
		counterpart = members[1]
	}

	// Loading a page is reading it: the counterpart's messages in this window become viewed, and their
	// self-destruct deadlines start counting.
	if err := h.messages.MarkViewedBulk(c, counterpart, conversationID, offset); err != nil {
		h.log.Error().Err(err).Str("handler", "messages").Msg("bulk view mark failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Internal Server Error")
	}

	return httputil.Success(c, loadMessagesResponse{
		ConversationName: counterpart,
		ConversationID:   conversationID,
		UnreadMessages:   unread,
		Messages:         page,
	})
}
