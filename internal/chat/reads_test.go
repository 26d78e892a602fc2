package chat_test

import (
	"context"
	"testing"

	"ohtalk/server/internal/apperr"
	"ohtalk/server/internal/chat"

	"github.com/stretchr/testify/require"
)

func TestMarkRead_IsIdempotent(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	ctx := context.Background()
	room := f.group(t, "A", "Team", "B", "C")
	msg := f.send(t, room.ID, "A", "hi")

	first, err := f.svc.Reads.MarkRead(ctx, room.ID, msg.ID, "B")
	require.NoError(t, err)
	require.True(t, first.Recorded)

	second, err := f.svc.Reads.MarkRead(ctx, room.ID, msg.ID, "B")
	require.NoError(t, err)
	require.False(t, second.Recorded)
	require.Equal(t, first.UnreadCount, second.UnreadCount)

	readers, err := f.svc.Reads.CountReaders(ctx, msg.ID)
	require.NoError(t, err)
	require.Equal(t, 2, readers)

	reads := 0
	for _, typ := range f.pub.types() {
		if typ == chat.EventMessageRead {
			reads++
		}
	}
	require.Equal(t, 1, reads)
}

func TestMarkRead_PointerOnlyMovesForward(t *testing.T) {
	f := newFixture(t, "A", "B")
	ctx := context.Background()
	room := f.group(t, "A", "Team", "B")
	older := f.send(t, room.ID, "A", "one")
	newer := f.send(t, room.ID, "A", "two")

	_, err := f.svc.Reads.MarkRead(ctx, room.ID, newer.ID, "B")
	require.NoError(t, err)
	_, err = f.svc.Reads.MarkRead(ctx, room.ID, older.ID, "B")
	require.NoError(t, err)

	member, err := f.store.GetMember(ctx, room.ID, "B")
	require.NoError(t, err)
	require.Equal(t, newer.ID, *member.LastReadMessageID)

	rooms, err := f.svc.Rooms.ListRoomsForUser(ctx, "B")
	require.NoError(t, err)
	require.Zero(t, rooms[0].UnreadCount)
}

func TestMarkRead_Rejections(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	ctx := context.Background()
	room := f.group(t, "A", "Team", "B")
	msg := f.send(t, room.ID, "A", "hi")

	_, err := f.svc.Reads.MarkRead(ctx, room.ID, msg.ID, "C")
	require.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.Reads.MarkRead(ctx, room.ID, "nope", "B")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.Reads.MarkRead(ctx, "elsewhere", msg.ID, "B")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.svc.Reads.CountReaders(ctx, "nope")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.Reads.HasRead(ctx, "nope", "A")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	read, err := f.svc.Reads.HasRead(ctx, msg.ID, "B")
	require.NoError(t, err)
	require.False(t, read)
}
