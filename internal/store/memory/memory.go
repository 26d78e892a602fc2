// Package memory is an in-process Persistence Gateway used in development mode and tests.
// Transactions run against a copy of the state that replaces the live state on commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ohtalk/server/internal/models"
	"ohtalk/server/internal/store"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type state struct {
	users      map[string]models.User
	rooms      map[string]models.Room
	directKeys map[string]string         // direct key -> room id
	members    map[string]models.Member  // "roomID:userID" -> member
	messages   map[string]models.Message // by message id
	receipts   map[string]models.ReadReceipt
	joinSeq    int64
	msgSeq     int64
}

func newState() *state {
	return &state{
		users:      make(map[string]models.User),
		rooms:      make(map[string]models.Room),
		directKeys: make(map[string]string),
		members:    make(map[string]models.Member),
		messages:   make(map[string]models.Message),
		receipts:   make(map[string]models.ReadReceipt),
	}
}

func (s *state) clone() *state {
	c := &state{
		users:      make(map[string]models.User, len(s.users)),
		rooms:      make(map[string]models.Room, len(s.rooms)),
		directKeys: make(map[string]string, len(s.directKeys)),
		members:    make(map[string]models.Member, len(s.members)),
		messages:   make(map[string]models.Message, len(s.messages)),
		receipts:   make(map[string]models.ReadReceipt, len(s.receipts)),
		joinSeq:    s.joinSeq,
		msgSeq:     s.msgSeq,
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.rooms {
		c.rooms[k] = v
	}
	for k, v := range s.directKeys {
		c.directKeys[k] = v
	}
	for k, v := range s.members {
		c.members[k] = v
	}
	for k, v := range s.messages {
		v.MentionedUserIDs = append([]string(nil), v.MentionedUserIDs...)
		c.messages[k] = v
	}
	for k, v := range s.receipts {
		c.receipts[k] = v
	}
	return c
}

func memberKey(roomID, userID string) string {
	return fmt.Sprintf("%s:%s", roomID, userID)
}

// Store is a mutex-guarded in-memory implementation of store.Store
type Store struct {
	mu   sync.RWMutex
	data *state
}

var _ store.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{data: newState()}
}

// PutUser registers a user in the directory. The user directory is owned elsewhere;
// this is how dev mode and tests seed it.
func (s *Store) PutUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.users[user.ID] = user
}

// WithTx runs fn against a private copy of the state and publishes it if fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	draft := s.data.clone()
	if err := fn(&view{st: draft}); err != nil {
		return err
	}
	s.data = draft
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() {}

func (s *Store) read() *view {
	return &view{st: s.data}
}

// view implements store.Queries over a state without locking; callers hold the lock.
type view struct {
	st *state
}

func (v *view) FindUsers(_ context.Context, ids []string) ([]models.User, error) {
	users := make([]models.User, 0, len(ids))
	for _, id := range lo.Uniq(ids) {
		if u, ok := v.st.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}

func (v *view) CreateRoom(_ context.Context, room *models.Room) error {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	if room.DirectKey != nil {
		if _, taken := v.st.directKeys[*room.DirectKey]; taken {
			return store.ErrConflict
		}
		v.st.directKeys[*room.DirectKey] = room.ID
	}
	v.st.rooms[room.ID] = *room
	return nil
}

func (v *view) GetRoom(_ context.Context, roomID string) (models.Room, error) {
	room, ok := v.st.rooms[roomID]
	if !ok {
		return models.Room{}, store.ErrNotFound
	}
	return room, nil
}

func (v *view) LockRoom(ctx context.Context, roomID string) (models.Room, error) {
	return v.GetRoom(ctx, roomID)
}

func (v *view) FindDirectRoom(ctx context.Context, directKey string) (models.Room, error) {
	roomID, ok := v.st.directKeys[directKey]
	if !ok {
		return models.Room{}, store.ErrNotFound
	}
	return v.GetRoom(ctx, roomID)
}

func (v *view) RenameRoom(_ context.Context, roomID, name string, at time.Time) error {
	room, ok := v.st.rooms[roomID]
	if !ok {
		return store.ErrNotFound
	}
	room.Name = &name
	room.UpdatedAt = at
	v.st.rooms[roomID] = room
	return nil
}

// DeleteRoom removes the room with its members, messages and receipts.
func (v *view) DeleteRoom(_ context.Context, roomID string) error {
	room, ok := v.st.rooms[roomID]
	if !ok {
		return store.ErrNotFound
	}
	if room.DirectKey != nil {
		delete(v.st.directKeys, *room.DirectKey)
	}
	delete(v.st.rooms, roomID)
	for key, m := range v.st.members {
		if m.RoomID == roomID {
			delete(v.st.members, key)
		}
	}
	for id, msg := range v.st.messages {
		if msg.RoomID != roomID {
			continue
		}
		delete(v.st.messages, id)
		for key, r := range v.st.receipts {
			if r.MessageID == id {
				delete(v.st.receipts, key)
			}
		}
	}
	return nil
}

func (v *view) AddMember(_ context.Context, member *models.Member) error {
	if _, ok := v.st.rooms[member.RoomID]; !ok {
		return store.ErrNotFound
	}
	key := memberKey(member.RoomID, member.UserID)
	if _, exists := v.st.members[key]; exists {
		return store.ErrConflict
	}
	v.st.joinSeq++
	member.JoinSeq = v.st.joinSeq
	v.st.members[key] = *member
	return nil
}

func (v *view) GetMember(_ context.Context, roomID, userID string) (models.Member, error) {
	m, ok := v.st.members[memberKey(roomID, userID)]
	if !ok {
		return models.Member{}, store.ErrNotFound
	}
	return m, nil
}

func (v *view) ListMembers(_ context.Context, roomID string) ([]models.Member, error) {
	members := lo.Filter(lo.Values(v.st.members), func(m models.Member, _ int) bool {
		return m.RoomID == roomID
	})
	sort.Slice(members, func(i, j int) bool {
		return members[i].JoinedBefore(members[j])
	})
	return members, nil
}

func (v *view) ListMembershipsForUser(_ context.Context, userID string) ([]models.Member, error) {
	members := lo.Filter(lo.Values(v.st.members), func(m models.Member, _ int) bool {
		return m.UserID == userID
	})
	sort.Slice(members, func(i, j int) bool {
		return members[i].JoinedBefore(members[j])
	})
	return members, nil
}

func (v *view) CountMembers(ctx context.Context, roomID string) (int, error) {
	members, err := v.ListMembers(ctx, roomID)
	return len(members), err
}

func (v *view) RemoveMember(_ context.Context, roomID, userID string) error {
	key := memberKey(roomID, userID)
	if _, ok := v.st.members[key]; !ok {
		return store.ErrNotFound
	}
	delete(v.st.members, key)
	return nil
}

func (v *view) updateMember(roomID, userID string, fn func(m *models.Member)) error {
	key := memberKey(roomID, userID)
	m, ok := v.st.members[key]
	if !ok {
		return store.ErrNotFound
	}
	fn(&m)
	v.st.members[key] = m
	return nil
}

func (v *view) UpdateMemberRole(_ context.Context, roomID, userID string, role models.Role) error {
	return v.updateMember(roomID, userID, func(m *models.Member) { m.Role = role })
}

func (v *view) SetNotification(_ context.Context, roomID, userID string, enabled bool) error {
	return v.updateMember(roomID, userID, func(m *models.Member) { m.NotificationEnabled = enabled })
}

func (v *view) SetLastRead(_ context.Context, roomID, userID, messageID string) error {
	return v.updateMember(roomID, userID, func(m *models.Member) { m.LastReadMessageID = &messageID })
}

func (v *view) InsertMessage(_ context.Context, message *models.Message) error {
	if _, ok := v.st.rooms[message.RoomID]; !ok {
		return store.ErrNotFound
	}
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	v.st.msgSeq++
	message.Seq = v.st.msgSeq
	stored := *message
	stored.MentionedUserIDs = append([]string(nil), message.MentionedUserIDs...)
	v.st.messages[message.ID] = stored
	return nil
}

func (v *view) GetMessage(_ context.Context, messageID string) (models.Message, error) {
	m, ok := v.st.messages[messageID]
	if !ok {
		return models.Message{}, store.ErrNotFound
	}
	return m, nil
}

func (v *view) GetMessages(_ context.Context, ids []string) ([]models.Message, error) {
	var messages []models.Message
	for _, id := range lo.Uniq(ids) {
		if m, ok := v.st.messages[id]; ok {
			messages = append(messages, m)
		}
	}
	return messages, nil
}

func (v *view) UpdateMessage(_ context.Context, message models.Message) error {
	if _, ok := v.st.messages[message.ID]; !ok {
		return store.ErrNotFound
	}
	v.st.messages[message.ID] = message
	return nil
}

func (v *view) roomMessagesNewestFirst(roomID string) []models.Message {
	messages := lo.Filter(lo.Values(v.st.messages), func(m models.Message, _ int) bool {
		return m.RoomID == roomID
	})
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].After(messages[j])
	})
	return messages
}

func (v *view) ListMessages(_ context.Context, q store.MessageQuery) ([]models.Message, error) {
	keyword := strings.ToLower(q.Keyword)
	var page []models.Message
	for _, m := range v.roomMessagesNewestFirst(q.RoomID) {
		if q.Limit > 0 && len(page) == q.Limit {
			break
		}
		if q.Before != nil && !m.CreatedAt.Before(*q.Before) {
			continue
		}
		if keyword != "" && (m.IsDeleted() || !strings.Contains(strings.ToLower(m.Content), keyword)) {
			continue
		}
		page = append(page, m)
	}
	return page, nil
}

func (v *view) LastMessage(_ context.Context, roomID string) (models.Message, error) {
	messages := v.roomMessagesNewestFirst(roomID)
	if len(messages) == 0 {
		return models.Message{}, store.ErrNotFound
	}
	return messages[0], nil
}

func (v *view) CountMessagesAfter(_ context.Context, roomID string, afterID *string, excludeSender string) (int, error) {
	var pointer *models.Message
	if afterID != nil {
		if m, ok := v.st.messages[*afterID]; ok {
			pointer = &m
		}
	}
	return lo.CountBy(v.roomMessagesNewestFirst(roomID), func(m models.Message) bool {
		if m.SenderID == excludeSender {
			return false
		}
		return pointer == nil || m.After(*pointer)
	}), nil
}

func receiptKey(messageID, userID string) string {
	return fmt.Sprintf("%s:%s", messageID, userID)
}

func (v *view) InsertReceipt(_ context.Context, receipt models.ReadReceipt) (bool, error) {
	if _, ok := v.st.messages[receipt.MessageID]; !ok {
		return false, store.ErrNotFound
	}
	key := receiptKey(receipt.MessageID, receipt.UserID)
	if _, exists := v.st.receipts[key]; exists {
		return false, nil
	}
	v.st.receipts[key] = receipt
	return true, nil
}

func (v *view) HasReceipt(_ context.Context, messageID, userID string) (bool, error) {
	_, ok := v.st.receipts[receiptKey(messageID, userID)]
	return ok, nil
}

func (v *view) CountReceipts(_ context.Context, messageID string) (int, error) {
	return lo.CountBy(lo.Values(v.st.receipts), func(r models.ReadReceipt) bool {
		return r.MessageID == messageID
	}), nil
}

func (v *view) CountMemberReceipts(_ context.Context, roomID, messageID string) (int, error) {
	return lo.CountBy(lo.Values(v.st.receipts), func(r models.ReadReceipt) bool {
		if r.MessageID != messageID {
			return false
		}
		_, member := v.st.members[memberKey(roomID, r.UserID)]
		return member
	}), nil
}
