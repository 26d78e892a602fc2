package handlers

import (
	"context"
	"errors"
	"log/slog"

	"ohtalk/server/internal/apperr"
	"ohtalk/server/internal/chat"
	ws "ohtalk/server/internal/websocket"

	"github.com/gofiber/fiber/v2"
)

// Pinger reports whether a backing service is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the HTTP surface of the chat core
type Handler struct {
	chat   *chat.Service
	hub    *ws.Hub
	router *ws.Router
	deps   map[string]Pinger
	log    *slog.Logger
}

// New builds the handlers. deps are probed by the health check.
func New(svc *chat.Service, hub *ws.Hub, router *ws.Router, deps map[string]Pinger, log *slog.Logger) *Handler {
	return &Handler{chat: svc, hub: hub, router: router, deps: deps, log: log}
}

// Response is the envelope of every JSON reply
type Response struct {
	Success bool   `json:"success"`
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func respond(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(Response{Success: true, Status: status, Message: message, Data: data})
}

func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status := apperr.Status(err)
	if status >= fiber.StatusInternalServerError {
		h.log.Error("Request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(Response{Success: false, Status: status, Message: apperr.Message(err)})
}

// ErrorHandler renders errors escaping handlers, including fiber routing errors, in the envelope
func ErrorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(Response{Success: false, Status: fe.Code, Message: fe.Message})
		}
		log.Error("Unhandled error", "method", c.Method(), "path", c.Path(), "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(Response{
			Success: false, Status: fiber.StatusInternalServerError, Message: apperr.Message(err),
		})
	}
}
