package models

import (
	"sort"
	"strings"
	"time"
)

// RoomType is either a 1:1 conversation or a named group
type RoomType string

const (
	RoomDirect RoomType = "DIRECT"
	RoomGroup  RoomType = "GROUP"
)

// Valid reports whether t is a known room type
func (t RoomType) Valid() bool {
	return t == RoomDirect || t == RoomGroup
}

// Role of a member inside a room
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleMember Role = "MEMBER"
)

// Room represents a chat room
type Room struct {
	ID        string    `json:"chatRoomId" db:"id"`
	Name      *string   `json:"name" db:"name"`
	Type      RoomType  `json:"type" db:"type"`
	DirectKey *string   `json:"-" db:"direct_key"` // Null for group rooms
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// DisplayName returns the room name or an empty string
func (r *Room) DisplayName() string {
	if r.Name == nil {
		return ""
	}
	return *r.Name
}

// DirectPairKey builds the order-independent key identifying the DIRECT room between two users.
func DirectPairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

// Member represents a user's membership in a room
type Member struct {
	RoomID              string    `json:"chatRoomId" db:"room_id"`
	UserID              string    `json:"userId" db:"user_id"`
	Role                Role      `json:"role" db:"role"`
	NotificationEnabled bool      `json:"notificationEnabled" db:"notification_enabled"`
	LastReadMessageID   *string   `json:"lastReadMessageId,omitempty" db:"last_read_message_id"`
	JoinedAt            time.Time `json:"joinedAt" db:"joined_at"`
	JoinSeq             int64     `json:"-" db:"join_seq"`
}

// JoinedBefore orders members by join time, falling back to insertion sequence.
func (m *Member) JoinedBefore(other Member) bool {
	if !m.JoinedAt.Equal(other.JoinedAt) {
		return m.JoinedAt.Before(other.JoinedAt)
	}
	return m.JoinSeq < other.JoinSeq
}

// RoomResponse is returned on room creation
type RoomResponse struct {
	ID        string    `json:"chatRoomId"`
	Name      *string   `json:"name"`
	Type      RoomType  `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

// ToResponse converts Room to RoomResponse
func (r *Room) ToResponse() RoomResponse {
	return RoomResponse{
		ID:        r.ID,
		Name:      r.Name,
		Type:      r.Type,
		CreatedAt: r.CreatedAt,
	}
}

// RoomMemberResponse is a member as seen in room listings
type RoomMemberResponse struct {
	UserID              string  `json:"userId"`
	Username            string  `json:"username"`
	ProfileImageURL     *string `json:"profileImageUrl,omitempty"`
	Role                Role    `json:"role"`
	NotificationEnabled bool    `json:"notificationEnabled"`
}

// RoomSummary is one entry of a user's room list
type RoomSummary struct {
	ID                  string               `json:"chatRoomId"`
	Name                *string              `json:"name"`
	Type                RoomType             `json:"type"`
	Members             []RoomMemberResponse `json:"members"`
	UnreadCount         int                  `json:"unreadCount"`
	LastMessage         *MessageResponse     `json:"lastMessage"`
	NotificationEnabled bool                 `json:"notificationEnabled"`
	CreatedAt           time.Time            `json:"createdAt"`
	UpdatedAt           time.Time            `json:"updatedAt"`
}

// LastActivity is the time used to order room lists
func (s *RoomSummary) LastActivity() time.Time {
	if s.LastMessage != nil {
		return s.LastMessage.CreatedAt
	}
	return s.CreatedAt
}
