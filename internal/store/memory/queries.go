package memory

import (
	"context"
	"time"

	"ohtalk/server/internal/models"
	"ohtalk/server/internal/store"
)

// Non-transactional access: reads share the lock, writes take it exclusively.

func (s *Store) FindUsers(ctx context.Context, ids []string) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().FindUsers(ctx, ids)
}

func (s *Store) CreateRoom(ctx context.Context, room *models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().CreateRoom(ctx, room)
}

func (s *Store) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetRoom(ctx, roomID)
}

func (s *Store) LockRoom(ctx context.Context, roomID string) (models.Room, error) {
	return s.GetRoom(ctx, roomID)
}

func (s *Store) FindDirectRoom(ctx context.Context, directKey string) (models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().FindDirectRoom(ctx, directKey)
}

func (s *Store) RenameRoom(ctx context.Context, roomID, name string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().RenameRoom(ctx, roomID, name, at)
}

func (s *Store) DeleteRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().DeleteRoom(ctx, roomID)
}

func (s *Store) AddMember(ctx context.Context, member *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().AddMember(ctx, member)
}

func (s *Store) GetMember(ctx context.Context, roomID, userID string) (models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetMember(ctx, roomID, userID)
}

func (s *Store) ListMembers(ctx context.Context, roomID string) ([]models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListMembers(ctx, roomID)
}

func (s *Store) ListMembershipsForUser(ctx context.Context, userID string) ([]models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListMembershipsForUser(ctx, userID)
}

func (s *Store) CountMembers(ctx context.Context, roomID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().CountMembers(ctx, roomID)
}

func (s *Store) RemoveMember(ctx context.Context, roomID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().RemoveMember(ctx, roomID, userID)
}

func (s *Store) UpdateMemberRole(ctx context.Context, roomID, userID string, role models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateMemberRole(ctx, roomID, userID, role)
}

func (s *Store) SetNotification(ctx context.Context, roomID, userID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().SetNotification(ctx, roomID, userID, enabled)
}

func (s *Store) SetLastRead(ctx context.Context, roomID, userID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().SetLastRead(ctx, roomID, userID, messageID)
}

func (s *Store) InsertMessage(ctx context.Context, message *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().InsertMessage(ctx, message)
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetMessage(ctx, messageID)
}

func (s *Store) GetMessages(ctx context.Context, ids []string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetMessages(ctx, ids)
}

func (s *Store) UpdateMessage(ctx context.Context, message models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateMessage(ctx, message)
}

func (s *Store) ListMessages(ctx context.Context, q store.MessageQuery) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListMessages(ctx, q)
}

func (s *Store) LastMessage(ctx context.Context, roomID string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().LastMessage(ctx, roomID)
}

func (s *Store) CountMessagesAfter(ctx context.Context, roomID string, afterID *string, excludeSender string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().CountMessagesAfter(ctx, roomID, afterID, excludeSender)
}

func (s *Store) InsertReceipt(ctx context.Context, receipt models.ReadReceipt) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().InsertReceipt(ctx, receipt)
}

func (s *Store) HasReceipt(ctx context.Context, messageID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().HasReceipt(ctx, messageID, userID)
}

func (s *Store) CountReceipts(ctx context.Context, messageID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().CountReceipts(ctx, messageID)
}

func (s *Store) CountMemberReceipts(ctx context.Context, roomID, messageID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().CountMemberReceipts(ctx, roomID, messageID)
}
