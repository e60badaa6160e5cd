package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/Lif-Platforms/New-Ringer-Server/internal/apierrors"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/httputil"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/user"
)

// UserHandler serves the user search endpoint.
type UserHandler struct {
	users user.Repository
	log   zerolog.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(users user.Repository, logger zerolog.Logger) *UserHandler {
	return &UserHandler{users: users, log: logger}
}

// Search handles GET /user/v1/search?user=Q. Matching is phonetic so near-miss spellings still find the account.
func (h *UserHandler) Search(c fiber.Ctx) error {
	query := c.Query("user")
	if query == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "No search query provided.")
	}

	accounts, err := h.users.Search(c, query)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "user").Msg("user search failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Internal server error.")
	}
	if accounts == nil {
		accounts = []string{}
	}

	return httputil.Success(c, accounts)
}
