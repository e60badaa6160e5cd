package api

import (
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/Lif-Platforms/New-Ringer-Server/internal/liveupdates"
)

// LiveUpdatesHandler serves the WebSocket upgrade endpoint for live updates.
type LiveUpdatesHandler struct {
	hub *liveupdates.Hub
}

// NewLiveUpdatesHandler creates a new live updates handler.
func NewLiveUpdatesHandler(hub *liveupdates.Hub) *LiveUpdatesHandler {
	return &LiveUpdatesHandler{hub: hub}
}

// Upgrade handles GET /v1/live-updates. It upgrades the HTTP connection to a WebSocket and hands it to the Hub.
// Credential headers are captured before the upgrade because the HTTP context is gone once the socket takes over;
// verification itself happens inside the Hub so the close codes of the live protocol apply.
func (h *LiveUpdatesHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	username := c.Get("username")
	token := c.Get("token")

	return websocket.New(func(conn *websocket.Conn) {
		h.hub.ServeWebSocket(conn.Conn, username, token)
	})(c)
}
