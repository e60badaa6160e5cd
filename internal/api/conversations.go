package api

import (
	"errors"
	"slices"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Lif-Platforms/New-Ringer-Server/internal/apierrors"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/conversation"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/httputil"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/liveupdates"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/registry"
)

// ConversationsHandler serves the conversation removal endpoint.
type ConversationsHandler struct {
	conversations conversation.Repository
	registry      *registry.Registry
	log           zerolog.Logger
}

// NewConversationsHandler creates a new conversations handler.
func NewConversationsHandler(conversations conversation.Repository, reg *registry.Registry, logger zerolog.Logger) *ConversationsHandler {
	return &ConversationsHandler{conversations: conversations, registry: reg, log: logger}
}

// RemoveConversation handles DELETE /conversations/v1/remove/:conversationID. Removal cascades to messages and both
// friendship entries; the other member's live sessions hear about it afterwards.
func (h *ConversationsHandler) RemoveConversation(c fiber.Ctx) error {
	identity, ok := identityFromLocals(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	conversationID, err := uuid.Parse(c.Params("conversationID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, "Conversation Not Found")
	}

	// Members must be captured before removal; the cascade erases them.
	members, err := h.conversations.GetMembers(c, conversationID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, "Conversation Not Found")
		}
		h.log.Error().Err(err).Str("handler", "conversations").Msg("get members failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Internal Server Error!")
	}

	if err := h.conversations.Remove(c, conversationID, identity); err != nil {
		switch {
		case errors.Is(err, conversation.ErrNotFound):
			return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, "Conversation Not Found")
		case errors.Is(err, conversation.ErrNoPermission):
			return httputil.Fail(c, fiber.StatusForbidden, apierrors.MissingPermissions, "No Permission!")
		default:
			h.log.Error().Err(err).Str("handler", "conversations").Msg("remove failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Internal Server Error!")
		}
	}

	targets := slices.DeleteFunc(slices.Clone(members), func(m string) bool { return m == identity })

	frame, err := liveupdates.NewEventFrame(liveupdates.EventRemoveConversation, liveupdates.RemoveConversationData{
		ConversationID: conversationID.String(),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to build remove conversation event")
	} else {
		h.registry.Broadcast(targets, frame)
	}

	return httputil.Success(c, fiber.Map{"status": "Conversation Removed!"})
}
