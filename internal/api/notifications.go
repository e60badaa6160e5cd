package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/Lif-Platforms/New-Ringer-Server/internal/apierrors"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/httputil"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/pushtoken"
)

// NotificationsHandler serves the device push registration endpoints.
type NotificationsHandler struct {
	tokens pushtoken.Repository
	log    zerolog.Logger
}

// NewNotificationsHandler creates a new notifications handler.
func NewNotificationsHandler(tokens pushtoken.Repository, logger zerolog.Logger) *NotificationsHandler {
	return &NotificationsHandler{tokens: tokens, log: logger}
}

// pushTokenBody carries the device token. The hyphenated key is the mobile client's wire format.
type pushTokenBody struct {
	PushToken string `json:"push-token"`
}

// Register handles POST /notifications/v1/register. Re-registering an existing token refreshes its expiry.
func (h *NotificationsHandler) Register(c fiber.Ctx) error {
	identity, ok := identityFromLocals(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Missing user identity")
	}

	var body pushTokenBody
	if err := c.Bind().Body(&body); err != nil || body.PushToken == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid request body. Missing 'push-token'.")
	}

	if err := h.tokens.Register(c, body.PushToken, identity); err != nil {
		h.log.Error().Err(err).Str("handler", "notifications").Msg("register push token failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Internal server error.")
	}

	return httputil.Success(c, fiber.Map{"status": "Ok"})
}

// Unregister handles POST /notifications/v1/unregister. The route is unauthenticated: a signed-out device must still
// be able to stop its own notifications, and the token itself is the capability.
func (h *NotificationsHandler) Unregister(c fiber.Ctx) error {
	var body pushTokenBody
	if err := c.Bind().Body(&body); err != nil || body.PushToken == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "Invalid request body. Missing 'push-token'.")
	}

	if err := h.tokens.Unregister(c, body.PushToken); err != nil {
		h.log.Error().Err(err).Str("handler", "notifications").Msg("unregister push token failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Internal server error.")
	}

	return httputil.Success(c, fiber.Map{"status": "Ok"})
}
