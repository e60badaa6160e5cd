package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Lif-Platforms/New-Ringer-Server/internal/apierrors"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/httputil"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/registry"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/user"
)

// FriendsHandler serves the friends list endpoint.
type FriendsHandler struct {
	users    user.Repository
	registry *registry.Registry
	log      zerolog.Logger
}

// NewFriendsHandler creates a new friends handler.
func NewFriendsHandler(users user.Repository, reg *registry.Registry, logger zerolog.Logger) *FriendsHandler {
	return &FriendsHandler{users: users, registry: reg, log: logger}
}

// friendWithPresence is one friends-list entry joined with live presence.
type friendWithPresence struct {
	Username       string    `json:"username"`
	ConversationID uuid.UUID `json:"conversationId"`
	LastMessage    *string   `json:"lastMessage"`
	UnreadMessages int       `json:"unreadMessages"`
	Online         bool      `json:"online"`
}

// GetFriends handles GET /friends/v1/get_friends. It returns the caller's friendship list with unread counts, last
// message previews, and each friend's presence.
func (h *FriendsHandler) GetFriends(c fiber.Ctx) error {
	identity, ok := identityFromLocals(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	friends, err := h.users.GetFriends(c, identity)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "friends").Msg("get friends failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Internal server error.")
	}

	usernames := make([]string, len(friends))
	for i := range friends {
		usernames[i] = friends[i].Username
	}
	presence := h.registry.PresenceOf(usernames)

	result := make([]friendWithPresence, len(friends))
	for i := range friends {
		result[i] = friendWithPresence{
			Username:       friends[i].Username,
			ConversationID: friends[i].ConversationID,
			LastMessage:    friends[i].LastMessage,
			UnreadMessages: friends[i].UnreadMessages,
			Online:         presence[i].Online,
		}
	}

	return httputil.Success(c, result)
}
