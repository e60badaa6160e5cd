package api

import "github.com/gofiber/fiber/v3"

// Version is the server release, overridden at build time via ldflags.
var Version = "dev"

// RootHandler serves the unauthenticated version probe.
type RootHandler struct{}

// NewRootHandler creates a new root handler.
func NewRootHandler() *RootHandler {
	return &RootHandler{}
}

// Probe handles GET /. It identifies the server and its release to clients and load balancer checks.
func (h *RootHandler) Probe(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"name":    "Ringer Server",
		"version": Version,
	})
}
