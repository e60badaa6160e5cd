package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/Lif-Platforms/New-Ringer-Server/internal/apierrors"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/gif"
	"github.com/Lif-Platforms/New-Ringer-Server/internal/httputil"
)

// GifsHandler proxies GIF search to the external provider.
type GifsHandler struct {
	gifs *gif.Client
	log  zerolog.Logger
}

// NewGifsHandler creates a new GIF search handler.
func NewGifsHandler(gifs *gif.Client, logger zerolog.Logger) *GifsHandler {
	return &GifsHandler{gifs: gifs, log: logger}
}

// Search handles GET /gifs/v1/search?search=Q. The provider's JSON response is passed through untouched.
func (h *GifsHandler) Search(c fiber.Ctx) error {
	query := c.Query("search")
	if query == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "No search query provided.")
	}

	body, err := h.gifs.Search(c, query)
	if err != nil {
		h.log.Error().Err(err).Str("handler", "gifs").Msg("gif search failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "Internal server error.")
	}

	c.Set("Content-Type", "application/json")
	return c.Send(body)
}
