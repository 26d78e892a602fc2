// Package store defines the Persistence Gateway the chat services run against.
package store

import (
	"context"
	"errors"
	"time"

	"ohtalk/server/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a uniqueness constraint rejects a write
	ErrConflict = errors.New("store: conflict")
)

// MessageQuery selects a page of messages in a room, newest first.
type MessageQuery struct {
	RoomID  string
	Before  *time.Time // Only messages created strictly before this instant
	Keyword string     // Case-insensitive substring filter; deleted messages never match
	Limit   int
}

// Queries is the set of reads and writes available both inside and outside a transaction.
type Queries interface {
	FindUsers(ctx context.Context, ids []string) ([]models.User, error)

	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, roomID string) (models.Room, error)
	// LockRoom loads a room and holds a write lock on it until the transaction ends.
	LockRoom(ctx context.Context, roomID string) (models.Room, error)
	FindDirectRoom(ctx context.Context, directKey string) (models.Room, error)
	RenameRoom(ctx context.Context, roomID, name string, at time.Time) error
	DeleteRoom(ctx context.Context, roomID string) error

	AddMember(ctx context.Context, member *models.Member) error
	GetMember(ctx context.Context, roomID, userID string) (models.Member, error)
	// ListMembers returns members ordered by join time.
	ListMembers(ctx context.Context, roomID string) ([]models.Member, error)
	ListMembershipsForUser(ctx context.Context, userID string) ([]models.Member, error)
	CountMembers(ctx context.Context, roomID string) (int, error)
	RemoveMember(ctx context.Context, roomID, userID string) error
	UpdateMemberRole(ctx context.Context, roomID, userID string, role models.Role) error
	SetNotification(ctx context.Context, roomID, userID string, enabled bool) error
	SetLastRead(ctx context.Context, roomID, userID, messageID string) error

	InsertMessage(ctx context.Context, message *models.Message) error
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	GetMessages(ctx context.Context, ids []string) ([]models.Message, error)
	UpdateMessage(ctx context.Context, message models.Message) error
	ListMessages(ctx context.Context, q MessageQuery) ([]models.Message, error)
	LastMessage(ctx context.Context, roomID string) (models.Message, error)
	// CountMessagesAfter counts messages in the room newer than afterID (all when nil)
	// that were not sent by excludeSender.
	CountMessagesAfter(ctx context.Context, roomID string, afterID *string, excludeSender string) (int, error)

	// InsertReceipt stores a receipt; inserted is false when one already existed.
	InsertReceipt(ctx context.Context, receipt models.ReadReceipt) (inserted bool, err error)
	HasReceipt(ctx context.Context, messageID, userID string) (bool, error)
	CountReceipts(ctx context.Context, messageID string) (int, error)
	// CountMemberReceipts counts receipts of messageID held by current members of roomID.
	CountMemberReceipts(ctx context.Context, roomID, messageID string) (int, error)
}

// Store is the Persistence Gateway. WithTx runs fn atomically; fn's error rolls back.
type Store interface {
	Queries
	WithTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
	Close()
}
