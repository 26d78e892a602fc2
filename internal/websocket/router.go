package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"ohtalk/server/internal/apperr"
	"ohtalk/server/internal/chat"
	"ohtalk/server/internal/models"
)

// Rooms is the membership check needed before subscribing
type Rooms interface {
	Member(ctx context.Context, roomID, userID string) (models.Member, error)
}

// Messages sends chat messages on behalf of a connection
type Messages interface {
	Send(ctx context.Context, senderID string, req chat.SendMessageRequest) (models.MessageResponse, error)
}

// Router executes inbound frames
type Router struct {
	hub       *Hub
	rooms     Rooms
	messages  Messages
	publisher chat.Publisher
	log       *slog.Logger
}

// NewRouter wires inbound frame handling. Notices go through publisher so every instance sees them.
func NewRouter(hub *Hub, rooms Rooms, messages Messages, publisher chat.Publisher, log *slog.Logger) *Router {
	return &Router{hub: hub, rooms: rooms, messages: messages, publisher: publisher, log: log}
}

// Handle decodes and executes one inbound frame. Failures are reported to the client only.
func (r *Router) Handle(ctx context.Context, c *Client, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.reject(c, apperr.BadRequest("malformed frame"))
		return
	}

	var err error
	switch frame.Type {
	case FrameSendMessage:
		err = r.sendMessage(ctx, c, frame.Payload)
	case FrameJoin:
		err = r.join(ctx, c, frame.Payload)
	case FrameLeave:
		err = r.leave(ctx, c, frame.Payload)
	case FrameTyping:
		err = r.typing(ctx, c, frame.Payload)
	default:
		err = apperr.BadRequest("unknown frame type %q", frame.Type)
	}
	if err != nil {
		r.reject(c, err)
	}
}

func (r *Router) sendMessage(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req chat.SendMessageRequest
	if err := decode(payload, &req); err != nil {
		return err
	}
	msg, err := r.messages.Send(ctx, c.UserID, req)
	if err != nil {
		return err
	}
	c.SendFrame(Frame{Type: FrameReceipt, Payload: map[string]string{"messageId": msg.ID, "chatRoomId": msg.RoomID}})
	return nil
}

func (r *Router) join(ctx context.Context, c *Client, payload json.RawMessage) error {
	var p RoomPayload
	if err := decodeRoom(payload, &p); err != nil {
		return err
	}
	if _, err := r.rooms.Member(ctx, p.RoomID, c.UserID); err != nil {
		return err
	}
	r.hub.Subscribe(c, p.RoomID)
	r.notice(ctx, c, p.RoomID, fmt.Sprintf("%s joined the chat room", c.Username))
	return nil
}

func (r *Router) leave(ctx context.Context, c *Client, payload json.RawMessage) error {
	var p RoomPayload
	if err := decodeRoom(payload, &p); err != nil {
		return err
	}
	if !r.hub.Subscribed(c, p.RoomID) {
		return nil
	}
	r.hub.Unsubscribe(c, p.RoomID)
	r.notice(ctx, c, p.RoomID, fmt.Sprintf("%s left the chat room", c.Username))
	return nil
}

func (r *Router) typing(ctx context.Context, c *Client, payload json.RawMessage) error {
	var p TypingPayload
	if err := decode(payload, &p); err != nil {
		return err
	}
	if !r.hub.Subscribed(c, p.RoomID) {
		return apperr.Forbidden("join the chat room before sending typing events")
	}
	typing := p.Typing
	r.publish(ctx, chat.Event{Type: chat.EventTyping, RoomID: p.RoomID, Payload: chat.NoticePayload{
		UserID: c.UserID, Username: c.Username, Typing: &typing,
	}})
	return nil
}

func (r *Router) notice(ctx context.Context, c *Client, roomID, content string) {
	r.publish(ctx, chat.Event{Type: chat.EventSystemNotice, RoomID: roomID, Payload: chat.NoticePayload{
		UserID: c.UserID, Username: c.Username, Content: content,
	}})
}

func (r *Router) publish(ctx context.Context, event chat.Event) {
	event.Timestamp = time.Now().UTC()
	if err := r.publisher.Publish(ctx, event); err != nil {
		r.log.Warn("Failed to publish event", "type", event.Type, "chatRoomId", event.RoomID, "error", err)
	}
}

func (r *Router) reject(c *Client, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		r.log.Error("Frame handling failed", "userId", c.UserID, "error", err)
	}
	c.SendFrame(Frame{Type: FrameError, Payload: ErrorPayload{
		Code:    apperr.KindOf(err).String(),
		Message: apperr.Message(err),
		At:      time.Now().UTC(),
	}})
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return apperr.BadRequest("payload is required")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return apperr.BadRequest("malformed payload")
	}
	return nil
}

func decodeRoom(payload json.RawMessage, p *RoomPayload) error {
	if err := decode(payload, p); err != nil {
		return err
	}
	if p.RoomID == "" {
		return apperr.BadRequest("roomId is required")
	}
	return nil
}
