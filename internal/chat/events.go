package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EventType names what happened in a room
type EventType string

const (
	EventMessageCreated EventType = "MESSAGE_CREATED"
	EventMessageUpdated EventType = "MESSAGE_UPDATED"
	EventMessageDeleted EventType = "MESSAGE_DELETED"
	EventMessageRead    EventType = "MESSAGE_READ"
	EventMembersAdded   EventType = "MEMBERS_ADDED"
	EventMemberLeft     EventType = "MEMBER_LEFT"
	EventRoomRenamed    EventType = "ROOM_RENAMED"
	EventSystemNotice   EventType = "SYSTEM"
	EventTyping         EventType = "TYPING"
)

// Event is broadcast to every subscriber of a room topic
type Event struct {
	Type      EventType `json:"type"`
	RoomID    string    `json:"chatRoomId"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Destination is the topic the event is delivered on
func (e Event) Destination() string {
	if e.Type == EventTyping {
		return TypingTopic(e.RoomID)
	}
	return RoomTopic(e.RoomID)
}

func RoomTopic(roomID string) string {
	return fmt.Sprintf("/topic/chatroom/%s", roomID)
}

func TypingTopic(roomID string) string {
	return fmt.Sprintf("/topic/chatroom/%s/typing", roomID)
}

// Publisher is the fan-out gateway boundary
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// ReadPayload is the payload of MESSAGE_READ
type ReadPayload struct {
	MessageID   string `json:"messageId"`
	UserID      string `json:"userId"`
	UnreadCount int    `json:"unreadCount"`
}

// MembershipPayload is the payload of MEMBERS_ADDED and MEMBER_LEFT
type MembershipPayload struct {
	UserIDs     []string `json:"userIds"`
	NewOwner    string   `json:"newOwnerId,omitempty"`
	RoomDeleted bool     `json:"roomDeleted,omitempty"`
}

// Membership returns the membership payload of the event. Events received from the relay carry
// a decoded JSON object instead of the typed payload, so both forms are accepted.
func (e Event) Membership() (MembershipPayload, bool) {
	if e.Type != EventMembersAdded && e.Type != EventMemberLeft {
		return MembershipPayload{}, false
	}
	switch p := e.Payload.(type) {
	case MembershipPayload:
		return p, true
	case *MembershipPayload:
		if p == nil {
			return MembershipPayload{}, false
		}
		return *p, true
	}
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return MembershipPayload{}, false
	}
	var p MembershipPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return MembershipPayload{}, false
	}
	return p, true
}

// NoticePayload is the payload of SYSTEM and TYPING events
type NoticePayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Content  string `json:"content,omitempty"`
	Typing   *bool  `json:"typing,omitempty"`
}
