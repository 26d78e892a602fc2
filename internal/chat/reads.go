package chat

import (
	"context"
	"errors"
	"time"

	"ohtalk/server/internal/apperr"
	"ohtalk/server/internal/models"
	"ohtalk/server/internal/store"
)

// ReadTracker records per-user read receipts and the per-member read pointer
type ReadTracker struct {
	*deps
}

// ReadResult is the outcome of MarkRead
type ReadResult struct {
	MessageID   string `json:"messageId"`
	RoomID      string `json:"chatRoomId"`
	UnreadCount int    `json:"unreadCount"`
	Recorded    bool   `json:"recorded"` // False when the user had already read the message
}

// MarkRead records that userID read the message. Repeated calls are no-ops apart from
// advancing the read pointer. A non-empty roomID requires the message to belong to it.
func (t *ReadTracker) MarkRead(ctx context.Context, roomID, messageID, userID string) (ReadResult, error) {
	var result ReadResult
	err := t.store.WithTx(ctx, func(q store.Queries) error {
		msg, err := q.GetMessage(ctx, messageID)
		if err := lookup(err, apperr.NotFound("message not found")); err != nil {
			return err
		}
		if roomID != "" && msg.RoomID != roomID {
			return apperr.NotFound("message not found")
		}
		if err := requireMember(ctx, q, msg.RoomID, userID); err != nil {
			return err
		}

		recorded, err := markRead(ctx, q, msg, userID, t.now())
		if err != nil {
			return err
		}
		members, err := q.CountMembers(ctx, msg.RoomID)
		if err != nil {
			return dbErr(err)
		}
		readers, err := q.CountMemberReceipts(ctx, msg.RoomID, msg.ID)
		if err != nil {
			return dbErr(err)
		}
		result = ReadResult{MessageID: msg.ID, RoomID: msg.RoomID, UnreadCount: max(members-readers, 0), Recorded: recorded}
		return nil
	})
	if err != nil {
		return ReadResult{}, classify(err)
	}

	if result.Recorded {
		t.publish(ctx, Event{Type: EventMessageRead, RoomID: result.RoomID, Payload: ReadPayload{
			MessageID:   result.MessageID,
			UserID:      userID,
			UnreadCount: result.UnreadCount,
		}})
	}
	return result, nil
}

// markRead inserts the receipt at most once and moves the member's read pointer forward to msg.
func markRead(ctx context.Context, q store.Queries, msg models.Message, userID string, at time.Time) (bool, error) {
	recorded, err := q.InsertReceipt(ctx, models.ReadReceipt{MessageID: msg.ID, UserID: userID, ReadAt: at})
	if err != nil {
		return false, lookup(err, apperr.NotFound("message not found"))
	}

	member, err := q.GetMember(ctx, msg.RoomID, userID)
	if err != nil {
		return false, lookup(err, apperr.Forbidden("not a member of this chat room"))
	}
	if member.LastReadMessageID != nil {
		if *member.LastReadMessageID == msg.ID {
			return recorded, nil
		}
		current, err := q.GetMessage(ctx, *member.LastReadMessageID)
		switch {
		case err == nil:
			if !msg.After(current) {
				return recorded, nil
			}
		case !errors.Is(err, store.ErrNotFound):
			return false, dbErr(err)
		}
	}
	if err := q.SetLastRead(ctx, msg.RoomID, userID, msg.ID); err != nil {
		return false, dbErr(err)
	}
	return recorded, nil
}

// CountReaders returns how many users have read the message
func (t *ReadTracker) CountReaders(ctx context.Context, messageID string) (int, error) {
	if _, err := t.store.GetMessage(ctx, messageID); err != nil {
		return 0, lookup(err, apperr.NotFound("message not found"))
	}
	n, err := t.store.CountReceipts(ctx, messageID)
	if err != nil {
		return 0, dbErr(err)
	}
	return n, nil
}

// HasRead reports whether userID has read the message
func (t *ReadTracker) HasRead(ctx context.Context, messageID, userID string) (bool, error) {
	if _, err := t.store.GetMessage(ctx, messageID); err != nil {
		return false, lookup(err, apperr.NotFound("message not found"))
	}
	ok, err := t.store.HasReceipt(ctx, messageID, userID)
	if err != nil {
		return false, dbErr(err)
	}
	return ok, nil
}
