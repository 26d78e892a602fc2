package websocket

import (
	"encoding/json"
	"time"
)

// Inbound frame types
const (
	FrameSendMessage = "chat.sendMessage"
	FrameJoin        = "chat.join"
	FrameLeave       = "chat.leave"
	FrameTyping      = "chat.typing"
)

// Outbound frame types
const (
	FrameMessage = "message"
	FrameReceipt = "receipt"
	FrameError   = "error"
)

// Frame is what travels over the socket in both directions
type Frame struct {
	Type        string `json:"type"`
	Destination string `json:"destination,omitempty"`
	Payload     any    `json:"payload"`
}

// inboundFrame defers payload decoding until the type is known
type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// RoomPayload targets a room
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

// TypingPayload toggles the typing indicator
type TypingPayload struct {
	RoomID string `json:"roomId"`
	Typing bool   `json:"typing"`
}

// ErrorPayload is sent back to the client that caused it
type ErrorPayload struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	At      time.Time `json:"timestamp"`
}
