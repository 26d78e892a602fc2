package handlers

import (
	"strconv"

	"ohtalk/server/internal/apperr"
	"ohtalk/server/internal/chat"
	"ohtalk/server/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
)

// AddMembersRequest represents add members request body
type AddMembersRequest struct {
	UserIDs []string `json:"userIds"`
}

// CreateRoom creates a GROUP room or opens the DIRECT room with one other user
func (h *Handler) CreateRoom(c *fiber.Ctx) error {
	var req chat.CreateRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, apperr.BadRequest("Invalid request body"))
	}

	room, err := h.chat.Rooms.CreateRoom(c.UserContext(), middleware.GetUserID(c), req)
	if err != nil {
		return h.fail(c, err)
	}
	return respond(c, fiber.StatusCreated, "Chat room created", room.ToResponse())
}

// ListRooms lists the caller's rooms, most recently active first
func (h *Handler) ListRooms(c *fiber.Ctx) error {
	rooms, err := h.chat.Rooms.ListRoomsForUser(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return respond(c, fiber.StatusOK, "Chat rooms retrieved", rooms)
}

// RenameRoom renames a GROUP room
func (h *Handler) RenameRoom(c *fiber.Ctx) error {
	room, err := h.chat.Rooms.RenameRoom(c.UserContext(), middleware.GetUserID(c), c.Params("roomId"), c.Query("newName"))
	if err != nil {
		return h.fail(c, err)
	}
	return respond(c, fiber.StatusOK, "Chat room renamed", room.ToResponse())
}

// AddMembers invites users into a GROUP room
func (h *Handler) AddMembers(c *fiber.Ctx) error {
	var req AddMembersRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, apperr.BadRequest("Invalid request body"))
	}

	added, err := h.chat.Rooms.AddMembers(c.UserContext(), middleware.GetUserID(c), c.Params("roomId"), req.UserIDs)
	if err != nil {
		return h.fail(c, err)
	}
	return respond(c, fiber.StatusOK, "Members added", fiber.Map{"addedUserIds": lo.Ternary(added == nil, []string{}, added)})
}

// LeaveRoom removes the caller from the room
func (h *Handler) LeaveRoom(c *fiber.Ctx) error {
	if _, err := h.chat.Rooms.Leave(c.UserContext(), c.Params("roomId"), middleware.GetUserID(c)); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SetNotification toggles notifications for the caller's membership
func (h *Handler) SetNotification(c *fiber.Ctx) error {
	enabled, err := strconv.ParseBool(c.Query("notificationEnabled"))
	if err != nil {
		return h.fail(c, apperr.BadRequest("notificationEnabled must be true or false"))
	}
	if err := h.chat.Rooms.SetNotification(c.UserContext(), c.Params("roomId"), middleware.GetUserID(c), enabled); err != nil {
		return h.fail(c, err)
	}
	return respond(c, fiber.StatusOK, "Notification setting updated", fiber.Map{"notificationEnabled": enabled})
}
