package chat

import (
	"ohtalk/server/internal/models"

	"github.com/samber/lo"
)

// Mapper turns stored rows into client responses
type Mapper struct {
	PreviewLength int
}

// Message renders msg with its sender, optional reply target and unread count.
func (m Mapper) Message(msg models.Message, users map[string]models.User, replies map[string]models.Message, unread int) models.MessageResponse {
	sender := users[msg.SenderID]
	resp := models.MessageResponse{
		ID:               msg.ID,
		RoomID:           msg.RoomID,
		SenderID:         msg.SenderID,
		SenderNickname:   sender.Username,
		SenderProfileURL: sender.ProfileImageURL,
		Content:          msg.Body(),
		Type:             msg.Type,
		IsDeleted:        msg.IsDeleted(),
		IsEdited:         msg.Edited,
		ReplyToID:        msg.ReplyToID,
		MentionedUserIDs: lo.Ternary(msg.MentionedUserIDs == nil, []string{}, msg.MentionedUserIDs),
		UnreadCount:      unread,
		CreatedAt:        msg.CreatedAt,
		UpdatedAt:        msg.UpdatedAt,
	}
	if msg.ReplyToID != nil {
		if reply, ok := replies[*msg.ReplyToID]; ok {
			replySender := users[reply.SenderID]
			resp.ReplyTo = &models.MessagePreview{
				ID:             reply.ID,
				SenderID:       reply.SenderID,
				SenderNickname: replySender.Username,
				PreviewContent: m.preview(reply.Body()),
			}
		}
	}
	return resp
}

func (m Mapper) preview(content string) string {
	runes := []rune(content)
	if len(runes) <= m.PreviewLength {
		return content
	}
	return string(runes[:m.PreviewLength]) + "..."
}

// Member renders a room member
func (m Mapper) Member(member models.Member, user models.User) models.RoomMemberResponse {
	return models.RoomMemberResponse{
		UserID:              member.UserID,
		Username:            user.Username,
		ProfileImageURL:     user.ProfileImageURL,
		Role:                member.Role,
		NotificationEnabled: member.NotificationEnabled,
	}
}
