package chat

import (
	"context"
	"strings"
	"time"

	"ohtalk/server/internal/apperr"
	"ohtalk/server/internal/models"
	"ohtalk/server/internal/store"

	"github.com/samber/lo"
)

// MessageStore owns message lifecycle and the paged views of a room
type MessageStore struct {
	*deps
	reads *ReadTracker
}

// Send persists a message from a current member and marks it read by the sender.
func (m *MessageStore) Send(ctx context.Context, senderID string, req SendMessageRequest) (models.MessageResponse, error) {
	if err := validateRequest(req); err != nil {
		return models.MessageResponse{}, err
	}
	if err := m.validateContent(req.Content); err != nil {
		return models.MessageResponse{}, err
	}

	var resp models.MessageResponse
	err := m.store.WithTx(ctx, func(q store.Queries) error {
		if _, err := q.LockRoom(ctx, req.RoomID); err != nil {
			return lookup(err, apperr.NotFound("chat room not found"))
		}
		if err := requireUser(ctx, q, senderID); err != nil {
			return err
		}
		if err := requireMember(ctx, q, req.RoomID, senderID); err != nil {
			return err
		}
		if req.ReplyToMessageID != nil {
			target, err := q.GetMessage(ctx, *req.ReplyToMessageID)
			if err := lookup(err, apperr.NotFound("reply target message not found")); err != nil {
				return err
			}
			if target.RoomID != req.RoomID {
				return apperr.NotFound("reply target message not found")
			}
		}

		now := m.now()
		msg := models.Message{
			RoomID:           req.RoomID,
			SenderID:         senderID,
			Content:          req.Content,
			Type:             lo.Ternary(req.Type == "", models.MessageText, req.Type),
			ReplyToID:        req.ReplyToMessageID,
			MentionedUserIDs: lo.Uniq(req.MentionedUserIDs),
			State:            models.MessageActive,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		var err error
		resp, err = m.post(ctx, q, msg)
		return err
	})
	if err != nil {
		return models.MessageResponse{}, classify(err)
	}

	m.publish(ctx, Event{Type: EventMessageCreated, RoomID: resp.RoomID, Payload: resp})
	return resp, nil
}

// post inserts msg, records the sender's receipt and renders the stored row.
func (m *MessageStore) post(ctx context.Context, q store.Queries, msg models.Message) (models.MessageResponse, error) {
	if err := q.InsertMessage(ctx, &msg); err != nil {
		return models.MessageResponse{}, lookup(err, apperr.NotFound("chat room not found"))
	}
	if _, err := markRead(ctx, q, msg, msg.SenderID, msg.CreatedAt); err != nil {
		return models.MessageResponse{}, err
	}
	rendered, err := render(ctx, m.deps, q, []models.Message{msg})
	if err != nil {
		return models.MessageResponse{}, dbErr(err)
	}
	return rendered[0], nil
}

// ListRecent returns the newest messages of a room, newest first.
func (m *MessageStore) ListRecent(ctx context.Context, requesterID, roomID string, limit int) ([]models.MessageResponse, error) {
	return m.list(ctx, requesterID, store.MessageQuery{RoomID: roomID, Limit: m.pageLimit(limit)})
}

// ListBefore returns messages created strictly before the cursor, newest first.
func (m *MessageStore) ListBefore(ctx context.Context, requesterID, roomID string, before time.Time, limit int) ([]models.MessageResponse, error) {
	return m.list(ctx, requesterID, store.MessageQuery{RoomID: roomID, Before: &before, Limit: m.pageLimit(limit)})
}

// Search matches keyword case-insensitively against non-deleted messages.
func (m *MessageStore) Search(ctx context.Context, requesterID, roomID, keyword string, limit int) ([]models.MessageResponse, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, apperr.BadRequest("keyword must not be blank")
	}
	return m.list(ctx, requesterID, store.MessageQuery{RoomID: roomID, Keyword: keyword, Limit: m.pageLimit(limit)})
}

func (m *MessageStore) list(ctx context.Context, requesterID string, query store.MessageQuery) ([]models.MessageResponse, error) {
	if _, err := m.store.GetRoom(ctx, query.RoomID); err != nil {
		return nil, lookup(err, apperr.NotFound("chat room not found"))
	}
	if err := requireMember(ctx, m.store, query.RoomID, requesterID); err != nil {
		return nil, err
	}
	messages, err := m.store.ListMessages(ctx, query)
	if err != nil {
		return nil, dbErr(err)
	}
	rendered, err := render(ctx, m.deps, m.store, messages)
	if err != nil {
		return nil, dbErr(err)
	}
	return rendered, nil
}

// Edit replaces the content of an active message. Only the sender may edit.
// A non-empty roomID additionally requires the message to belong to that room.
func (m *MessageStore) Edit(ctx context.Context, roomID, messageID, newContent, requesterID string) (models.MessageResponse, error) {
	if err := m.validateContent(newContent); err != nil {
		return models.MessageResponse{}, err
	}

	var resp models.MessageResponse
	err := m.store.WithTx(ctx, func(q store.Queries) error {
		msg, err := ownMessage(ctx, q, roomID, messageID, requesterID, "edit")
		if err != nil {
			return err
		}
		msg.Content = newContent
		msg.Edited = true
		msg.UpdatedAt = m.now()
		if err := q.UpdateMessage(ctx, msg); err != nil {
			return lookup(err, apperr.NotFound("message not found"))
		}
		rendered, err := render(ctx, m.deps, q, []models.Message{msg})
		if err != nil {
			return dbErr(err)
		}
		resp = rendered[0]
		return nil
	})
	if err != nil {
		return models.MessageResponse{}, classify(err)
	}

	m.publish(ctx, Event{Type: EventMessageUpdated, RoomID: resp.RoomID, Payload: resp})
	return resp, nil
}

// SoftDelete hides the content of a message while keeping its row and receipts.
func (m *MessageStore) SoftDelete(ctx context.Context, roomID, messageID, requesterID string) error {
	var msg models.Message
	err := m.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		msg, err = ownMessage(ctx, q, roomID, messageID, requesterID, "delete")
		if err != nil {
			return err
		}
		msg.State = models.MessageDeleted
		msg.Content = ""
		msg.UpdatedAt = m.now()
		return lookup(q.UpdateMessage(ctx, msg), apperr.NotFound("message not found"))
	})
	if err != nil {
		return classify(err)
	}

	m.publish(ctx, Event{Type: EventMessageDeleted, RoomID: msg.RoomID, Payload: map[string]string{
		"messageId":  msg.ID,
		"chatRoomId": msg.RoomID,
	}})
	return nil
}

func ownMessage(ctx context.Context, q store.Queries, roomID, messageID, requesterID, action string) (models.Message, error) {
	msg, err := q.GetMessage(ctx, messageID)
	if err := lookup(err, apperr.NotFound("message not found")); err != nil {
		return models.Message{}, err
	}
	if roomID != "" && msg.RoomID != roomID {
		return models.Message{}, apperr.NotFound("message not found")
	}
	if msg.SenderID != requesterID {
		return models.Message{}, apperr.Forbidden("only the sender can %s this message", action)
	}
	if !msg.EditableBy(requesterID) {
		return models.Message{}, apperr.Forbidden("cannot %s a deleted message", action)
	}
	return msg, nil
}

// Forward copies a message into each target room, all or nothing.
// The requester must be a member of the source room and of every target.
func (m *MessageStore) Forward(ctx context.Context, messageID string, targetRoomIDs []string, requesterID string) ([]models.MessageResponse, error) {
	targetRoomIDs = lo.Uniq(lo.Compact(targetRoomIDs))
	if len(targetRoomIDs) == 0 {
		return nil, apperr.BadRequest("targetChatRoomIds must not be empty")
	}

	var forwarded []models.MessageResponse
	err := m.store.WithTx(ctx, func(q store.Queries) error {
		source, err := q.GetMessage(ctx, messageID)
		if err := lookup(err, apperr.NotFound("message not found")); err != nil {
			return err
		}
		if source.IsDeleted() {
			return apperr.BadRequest("cannot forward a deleted message")
		}
		if err := requireUser(ctx, q, requesterID); err != nil {
			return err
		}
		if err := requireMember(ctx, q, source.RoomID, requesterID); err != nil {
			return err
		}

		for _, roomID := range targetRoomIDs {
			if _, err := q.LockRoom(ctx, roomID); err != nil {
				return lookup(err, apperr.NotFound("chat room %s not found", roomID))
			}
			if err := requireMember(ctx, q, roomID, requesterID); err != nil {
				return err
			}
			now := m.now()
			resp, err := m.post(ctx, q, models.Message{
				RoomID:    roomID,
				SenderID:  requesterID,
				Content:   source.Content,
				Type:      source.Type,
				State:     models.MessageActive,
				CreatedAt: now,
				UpdatedAt: now,
			})
			if err != nil {
				return err
			}
			forwarded = append(forwarded, resp)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	for _, resp := range forwarded {
		m.publish(ctx, Event{Type: EventMessageCreated, RoomID: resp.RoomID, Payload: resp})
	}
	return forwarded, nil
}

func requireUser(ctx context.Context, q store.Queries, userID string) error {
	users, err := q.FindUsers(ctx, []string{userID})
	if err != nil {
		return dbErr(err)
	}
	if len(users) == 0 {
		return apperr.NotFound("user not found")
	}
	return nil
}

// render attaches senders, reply previews and unread counts to messages of one or more rooms.
func render(ctx context.Context, d *deps, q store.Queries, messages []models.Message) ([]models.MessageResponse, error) {
	if len(messages) == 0 {
		return []models.MessageResponse{}, nil
	}

	replyIDs := lo.Uniq(lo.FilterMap(messages, func(msg models.Message, _ int) (string, bool) {
		return lo.FromPtr(msg.ReplyToID), msg.ReplyToID != nil
	}))
	replyRows, err := q.GetMessages(ctx, replyIDs)
	if err != nil {
		return nil, err
	}
	replies := lo.KeyBy(replyRows, func(msg models.Message) string { return msg.ID })

	senderIDs := lo.Uniq(append(
		lo.Map(messages, func(msg models.Message, _ int) string { return msg.SenderID }),
		lo.Map(replyRows, func(msg models.Message, _ int) string { return msg.SenderID })...,
	))
	users, err := q.FindUsers(ctx, senderIDs)
	if err != nil {
		return nil, err
	}
	byID := lo.KeyBy(users, func(u models.User) string { return u.ID })

	memberCounts := map[string]int{}
	out := make([]models.MessageResponse, 0, len(messages))
	for _, msg := range messages {
		members, ok := memberCounts[msg.RoomID]
		if !ok {
			if members, err = q.CountMembers(ctx, msg.RoomID); err != nil {
				return nil, err
			}
			memberCounts[msg.RoomID] = members
		}
		readers, err := q.CountMemberReceipts(ctx, msg.RoomID, msg.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, d.mapper.Message(msg, byID, replies, max(members-readers, 0)))
	}
	return out, nil
}
