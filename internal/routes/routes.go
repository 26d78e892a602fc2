package routes

import (
	"context"
	"time"

	"ohtalk/server/internal/handlers"
	"ohtalk/server/internal/middleware"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// Options configures the protected surface
type Options struct {
	JWTSecret       []byte
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// SetupRoutes configures all application routes. ctx bounds websocket sessions.
func SetupRoutes(ctx context.Context, app *fiber.App, h *handlers.Handler, opts Options) {
	auth := middleware.Auth(opts.JWTSecret)

	api := app.Group("/api")

	// Health check (public)
	api.Get("/health", h.Health)

	protect := []fiber.Handler{auth}
	if opts.RateLimitMax > 0 {
		protect = append(protect, middleware.RateLimiter(opts.RateLimitMax, opts.RateLimitWindow))
	}

	// Room routes
	rooms := api.Group("/chatrooms", protect...)
	rooms.Post("/", h.CreateRoom)
	rooms.Get("/", h.ListRooms)
	rooms.Patch("/:roomId", h.RenameRoom)
	rooms.Post("/:roomId/members", h.AddMembers)
	rooms.Delete("/:roomId/members/me", h.LeaveRoom)
	rooms.Put("/:roomId/members/me/notification", h.SetNotification)

	// Message routes
	chat := api.Group("/chat", protect...)
	chat.Post("/chatrooms/:roomId/messages", h.SendMessage)
	chat.Get("/chatrooms/:roomId/messages", h.GetMessages)
	chat.Post("/chatrooms/:roomId/read", h.MarkRead)
	chat.Delete("/chatrooms/:roomId/messages/:messageId", h.DeleteMessage)
	chat.Patch("/chatrooms/:roomId/messages/:messageId", h.EditMessage)
	chat.Get("/chatrooms/:roomId/search", h.SearchMessages)
	chat.Post("/messages/forward", h.ForwardMessage)

	// WebSocket stats (protected, for debugging)
	api.Group("/ws", protect...).Get("/stats", h.GetWebSocketStats)

	// WebSocket route (protected)
	app.Get("/ws", auth, h.WebSocketUpgrade, websocket.New(h.WebSocketHandler(ctx)))
}
