package handlers

import (
	"context"

	"ohtalk/server/internal/apperr"
	ws "ohtalk/server/internal/websocket"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// WebSocketUpgrade checks if the request should be upgraded to WebSocket
func (h *Handler) WebSocketUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return c.Status(fiber.StatusUpgradeRequired).JSON(Response{
		Success: false,
		Status:  fiber.StatusUpgradeRequired,
		Message: "WebSocket upgrade required",
	})
}

// WebSocketHandler serves one connection until it closes
func (h *Handler) WebSocketHandler(ctx context.Context) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		// Set by the auth middleware before the upgrade
		userID, _ := conn.Locals("userID").(string)
		username, _ := conn.Locals("username").(string)

		client := ws.NewClient(userID, username, conn, h.hub, h.router)
		h.hub.Register(client)

		go client.WritePump()
		client.ReadPump(ctx) // Blocks until the connection closes
	}
}

// GetWebSocketStats returns hub occupancy
func (h *Handler) GetWebSocketStats(c *fiber.Ctx) error {
	if h.hub == nil {
		return h.fail(c, apperr.Internal("WebSocket hub not initialized", nil))
	}
	return respond(c, fiber.StatusOK, "WebSocket stats", h.hub.Stats())
}

// Health probes the configured dependencies
func (h *Handler) Health(c *fiber.Ctx) error {
	checks := make(map[string]string, len(h.deps))
	healthy := true
	for name, dep := range h.deps {
		if err := dep.Ping(c.UserContext()); err != nil {
			h.log.Warn("Health check failed", "dependency", name, "error", err)
			checks[name] = "down"
			healthy = false
			continue
		}
		checks[name] = "up"
	}

	if !healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(Response{
			Success: false, Status: fiber.StatusServiceUnavailable, Message: "Degraded", Data: checks,
		})
	}
	return respond(c, fiber.StatusOK, "ok", checks)
}
