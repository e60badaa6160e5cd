package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/Lif-Platforms/New-Ringer-Server/internal/apierrors"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/authclient"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/httputil"
)

// RequireAuth returns Fiber middleware that verifies the username and token headers against the external auth service
// and stores the identity in c.Locals("identity").
func RequireAuth(verifier *authclient.Verifier, logger zerolog.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		username := c.Get("username")
		token := c.Get("token")

		if username == "" || token == "" {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError,
				`"username" and "token" headers are required.`)
		}

		status, err := verifier.Verify(c, username, token)
		if err != nil {
			logger.Error().Err(err).Msg("Auth service unreachable")
			return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Internal server error.")
		}

		switch status {
		case authclient.StatusValid:
			c.Locals("identity", username)
			return c.Next()
		case authclient.StatusSuspended:
			return httputil.Fail(c, fiber.StatusForbidden, apierrors.AccountSuspended, "Account suspended.")
		default:
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorised, "Invalid username or token.")
		}
	}
}

// identityFromLocals returns the authenticated identity stored by RequireAuth.
func identityFromLocals(c fiber.Ctx) (string, bool) {
	identity, ok := c.Locals("identity").(string)
	return identity, ok && identity != ""
}
