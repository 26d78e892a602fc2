package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"ohtalk/server/internal/models"
	"ohtalk/server/internal/store"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func seedRoom(t *testing.T, s *Store, key *string) models.Room {
	t.Helper()
	room := models.Room{Type: models.RoomGroup, Name: lo.ToPtr("Team"), DirectKey: key, CreatedAt: time.Now()}
	require.NoError(t, s.CreateRoom(context.Background(), &room))
	return room
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := New()
	room := seedRoom(t, s, nil)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(q store.Queries) error {
		req.NoError(q.AddMember(ctx, &models.Member{RoomID: room.ID, UserID: "u1", Role: models.RoleOwner}))
		return boom
	})

	req.ErrorIs(err, boom)
	count, err := s.CountMembers(ctx, room.ID)
	req.NoError(err)
	req.Zero(count)
}

func TestCreateRoom_DirectKeyIsUnique(t *testing.T) {
	req := require.New(t)
	s := New()
	key := models.DirectPairKey("b", "a")

	seedRoom(t, s, &key)
	second := models.Room{Type: models.RoomDirect, DirectKey: &key}

	req.ErrorIs(s.CreateRoom(context.Background(), &second), store.ErrConflict)
}

func TestDeleteRoom_CascadesAndFreesDirectKey(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := New()
	key := models.DirectPairKey("a", "b")
	room := seedRoom(t, s, &key)

	req.NoError(s.AddMember(ctx, &models.Member{RoomID: room.ID, UserID: "a"}))
	msg := models.Message{RoomID: room.ID, SenderID: "a", Content: "hi", CreatedAt: time.Now()}
	req.NoError(s.InsertMessage(ctx, &msg))
	_, err := s.InsertReceipt(ctx, models.ReadReceipt{MessageID: msg.ID, UserID: "a"})
	req.NoError(err)

	req.NoError(s.DeleteRoom(ctx, room.ID))

	_, err = s.GetMessage(ctx, msg.ID)
	req.ErrorIs(err, store.ErrNotFound)
	_, err = s.FindDirectRoom(ctx, key)
	req.ErrorIs(err, store.ErrNotFound)
	count, err := s.CountReceipts(ctx, msg.ID)
	req.NoError(err)
	req.Zero(count)
}

func TestListMessages_NewestFirstWithCursorAndKeyword(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := New()
	room := seedRoom(t, s, nil)
	at := time.Now().UTC()

	for i, content := range []string{"Hello there", "general kenobi", "HELLO again"} {
		m := models.Message{RoomID: room.ID, SenderID: "a", Content: content, CreatedAt: at.Add(time.Duration(i) * time.Minute)}
		req.NoError(s.InsertMessage(ctx, &m))
	}

	all, err := s.ListMessages(ctx, store.MessageQuery{RoomID: room.ID, Limit: 10})
	req.NoError(err)
	req.Equal([]string{"HELLO again", "general kenobi", "Hello there"}, lo.Map(all, func(m models.Message, _ int) string { return m.Content }))

	before := at.Add(2 * time.Minute)
	older, err := s.ListMessages(ctx, store.MessageQuery{RoomID: room.ID, Before: &before, Limit: 1})
	req.NoError(err)
	req.Len(older, 1)
	req.Equal("general kenobi", older[0].Content)

	hits, err := s.ListMessages(ctx, store.MessageQuery{RoomID: room.ID, Keyword: "hello", Limit: 10})
	req.NoError(err)
	req.Len(hits, 2)
}

func TestInsertReceipt_AtMostOncePerPair(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := New()
	room := seedRoom(t, s, nil)
	msg := models.Message{RoomID: room.ID, SenderID: "a", Content: "hi"}
	req.NoError(s.InsertMessage(ctx, &msg))

	inserted, err := s.InsertReceipt(ctx, models.ReadReceipt{MessageID: msg.ID, UserID: "b"})
	req.NoError(err)
	req.True(inserted)

	inserted, err = s.InsertReceipt(ctx, models.ReadReceipt{MessageID: msg.ID, UserID: "b"})
	req.NoError(err)
	req.False(inserted)

	count, err := s.CountReceipts(ctx, msg.ID)
	req.NoError(err)
	req.Equal(1, count)
}
