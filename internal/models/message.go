package models

import "time"

// MessageType classifies message content. IMAGE and FILE messages carry the URL of an
// already uploaded object as their content; uploads happen outside this service.
type MessageType string

const (
	MessageText   MessageType = "TEXT"
	MessageImage  MessageType = "IMAGE"
	MessageFile   MessageType = "FILE"
	MessageSystem MessageType = "SYSTEM"
)

// MessageState is ACTIVE until the sender deletes the message
type MessageState string

const (
	MessageActive  MessageState = "ACTIVE"
	MessageDeleted MessageState = "DELETED"
)

// DeletedPlaceholder replaces the content of a deleted message when rendered
const DeletedPlaceholder = "This message has been deleted."

// Message represents a chat message
type Message struct {
	ID               string       `json:"id" db:"id"`
	Seq              int64        `json:"-" db:"seq"`
	RoomID           string       `json:"chatRoomId" db:"room_id"`
	SenderID         string       `json:"senderId" db:"sender_id"`
	Content          string       `json:"content" db:"content"` // Empty once deleted
	Type             MessageType  `json:"type" db:"type"`
	ReplyToID        *string      `json:"replyToMessageId,omitempty" db:"reply_to_id"`
	MentionedUserIDs []string     `json:"mentionedUserIds" db:"mentioned_user_ids"`
	State            MessageState `json:"state" db:"state"`
	Edited           bool         `json:"isEdited" db:"edited"`
	CreatedAt        time.Time    `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time    `json:"updatedAt" db:"updated_at"`
}

// IsDeleted reports whether the message was soft deleted
func (m *Message) IsDeleted() bool {
	return m.State == MessageDeleted
}

// Body is the content shown to clients
func (m *Message) Body() string {
	if m.IsDeleted() {
		return DeletedPlaceholder
	}
	return m.Content
}

// After reports whether m was posted after other
func (m *Message) After(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.After(other.CreatedAt)
	}
	return m.Seq > other.Seq
}

// EditableBy reports whether userID may edit or delete the message
func (m *Message) EditableBy(userID string) bool {
	return m.SenderID == userID && !m.IsDeleted()
}

// MessagePreview is the quoted part of a reply
type MessagePreview struct {
	ID             string `json:"messageId"`
	SenderID       string `json:"senderId"`
	SenderNickname string `json:"senderNickname"`
	PreviewContent string `json:"previewContent"`
}

// MessageResponse includes sender information and the derived unread count
type MessageResponse struct {
	ID               string          `json:"messageId"`
	RoomID           string          `json:"chatRoomId"`
	SenderID         string          `json:"senderId"`
	SenderNickname   string          `json:"senderNickname"`
	SenderProfileURL *string         `json:"senderProfileUrl,omitempty"`
	Content          string          `json:"content"`
	Type             MessageType     `json:"type"`
	IsDeleted        bool            `json:"isDeleted"`
	IsEdited         bool            `json:"isEdited"`
	ReplyToID        *string         `json:"replyToMessageId,omitempty"`
	ReplyTo          *MessagePreview `json:"replyToMessage,omitempty"`
	MentionedUserIDs []string        `json:"mentionedUserIds"`
	UnreadCount      int             `json:"unreadCount"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// ReadReceipt records that a user has read a message
type ReadReceipt struct {
	MessageID string    `json:"messageId" db:"message_id"`
	UserID    string    `json:"userId" db:"user_id"`
	ReadAt    time.Time `json:"readAt" db:"read_at"`
}
