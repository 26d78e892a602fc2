package handlers

import (
	"time"

	"ohtalk/server/internal/apperr"
	"ohtalk/server/internal/chat"
	"ohtalk/server/internal/middleware"
	"ohtalk/server/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/samber/lo"
)

// ForwardRequest represents forward request body
type ForwardRequest struct {
	TargetRoomIDs []string `json:"targetRoomIds"`
}

// EditRequest is the optional body of an edit when newContent is not in the query
type EditRequest struct {
	Content string `json:"content"`
}

// SendMessage posts a message to the room in the path
func (h *Handler) SendMessage(c *fiber.Ctx) error {
	var req chat.SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, apperr.BadRequest("Invalid request body"))
	}
	req.RoomID = c.Params("roomId")

	msg, err := h.chat.Messages.Send(c.UserContext(), middleware.GetUserID(c), req)
	if err != nil {
		return h.fail(c, err)
	}
	return respond(c, fiber.StatusCreated, "Message sent", msg)
}

// GetMessages pages through a room, newest first. before is an RFC3339 cursor.
func (h *Handler) GetMessages(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	roomID := c.Params("roomId")
	limit := c.QueryInt("limit", 0)

	var (
		messages []models.MessageResponse
		err      error
	)
	if raw := c.Query("before"); raw != "" {
		before, perr := time.Parse(time.RFC3339Nano, raw)
		if perr != nil {
			return h.fail(c, apperr.BadRequest("before must be an RFC3339 timestamp"))
		}
		messages, err = h.chat.Messages.ListBefore(c.UserContext(), userID, roomID, before, limit)
	} else {
		messages, err = h.chat.Messages.ListRecent(c.UserContext(), userID, roomID, limit)
	}
	if err != nil {
		return h.fail(c, err)
	}
	return respond(c, fiber.StatusOK, "Messages retrieved", messages)
}

// MarkRead records that the caller read a message of the room
func (h *Handler) MarkRead(c *fiber.Ctx) error {
	messageID := c.Query("messageId")
	if messageID == "" {
		return h.fail(c, apperr.BadRequest("messageId is required"))
	}

	result, err := h.chat.Reads.MarkRead(c.UserContext(), c.Params("roomId"), messageID, middleware.GetUserID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return respond(c, fiber.StatusOK, "Message marked as read", result)
}

// DeleteMessage soft deletes the caller's own message
func (h *Handler) DeleteMessage(c *fiber.Ctx) error {
	err := h.chat.Messages.SoftDelete(c.UserContext(), c.Params("roomId"), c.Params("messageId"), middleware.GetUserID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// EditMessage replaces the content of the caller's own message
func (h *Handler) EditMessage(c *fiber.Ctx) error {
	content := c.Query("newContent")
	if content == "" && len(c.Body()) > 0 {
		var req EditRequest
		if err := c.BodyParser(&req); err != nil {
			return h.fail(c, apperr.BadRequest("Invalid request body"))
		}
		content = req.Content
	}

	msg, err := h.chat.Messages.Edit(c.UserContext(), c.Params("roomId"), c.Params("messageId"), content, middleware.GetUserID(c))
	if err != nil {
		return h.fail(c, err)
	}
	return respond(c, fiber.StatusOK, "Message updated", msg)
}

// SearchMessages finds messages of the room containing the query
func (h *Handler) SearchMessages(c *fiber.Ctx) error {
	messages, err := h.chat.Messages.Search(c.UserContext(), middleware.GetUserID(c), c.Params("roomId"), c.Query("query"), c.QueryInt("limit", 0))
	if err != nil {
		return h.fail(c, err)
	}
	return respond(c, fiber.StatusOK, "Messages retrieved", messages)
}

// ForwardMessage copies a message into other rooms and returns the new message ids
func (h *Handler) ForwardMessage(c *fiber.Ctx) error {
	messageID := c.Query("messageId")
	if messageID == "" {
		return h.fail(c, apperr.BadRequest("messageId is required"))
	}
	var req ForwardRequest
	if err := c.BodyParser(&req); err != nil {
		return h.fail(c, apperr.BadRequest("Invalid request body"))
	}

	forwarded, err := h.chat.Messages.Forward(c.UserContext(), messageID, req.TargetRoomIDs, middleware.GetUserID(c))
	if err != nil {
		return h.fail(c, err)
	}
	ids := lo.Map(forwarded, func(m models.MessageResponse, _ int) string { return m.ID })
	return respond(c, fiber.StatusOK, "Message forwarded", ids)
}
