// Package postgres implements the Persistence Gateway on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ohtalk/server/internal/models"
	"ohtalk/server/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is a store.Store backed by a pgx pool
type Store struct {
	*queries
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New wraps an open pool
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: &queries{db: pool}, pool: pool}
}

// WithTx runs fn inside a single transaction
func (s *Store) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(context.Background())

	if err := fn(&queries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

type queries struct {
	db dbtx
}

// translate maps pgx errors onto the store sentinels
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

func expectOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q *queries) FindUsers(ctx context.Context, ids []string) ([]models.User, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, username, profile_image_url FROM users WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.ProfileImageURL); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

const roomColumns = `id, name, type, direct_key, created_at, updated_at`

func scanRoom(row pgx.Row) (models.Room, error) {
	var r models.Room
	err := row.Scan(&r.ID, &r.Name, &r.Type, &r.DirectKey, &r.CreatedAt, &r.UpdatedAt)
	return r, translate(err)
}

func (q *queries) CreateRoom(ctx context.Context, room *models.Room) error {
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO chat_rooms (id, name, type, direct_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, room.ID, room.Name, room.Type, room.DirectKey, room.CreatedAt, room.UpdatedAt)
	return translate(err)
}

func (q *queries) GetRoom(ctx context.Context, roomID string) (models.Room, error) {
	return scanRoom(q.db.QueryRow(ctx, `SELECT `+roomColumns+` FROM chat_rooms WHERE id = $1`, roomID))
}

func (q *queries) LockRoom(ctx context.Context, roomID string) (models.Room, error) {
	return scanRoom(q.db.QueryRow(ctx, `SELECT `+roomColumns+` FROM chat_rooms WHERE id = $1 FOR UPDATE`, roomID))
}

func (q *queries) FindDirectRoom(ctx context.Context, directKey string) (models.Room, error) {
	return scanRoom(q.db.QueryRow(ctx, `SELECT `+roomColumns+` FROM chat_rooms WHERE direct_key = $1`, directKey))
}

func (q *queries) RenameRoom(ctx context.Context, roomID, name string, at time.Time) error {
	return expectOne(q.db.Exec(ctx, `UPDATE chat_rooms SET name = $1, updated_at = $2 WHERE id = $3`, name, at, roomID))
}

// DeleteRoom relies on ON DELETE CASCADE for members, messages and receipts
func (q *queries) DeleteRoom(ctx context.Context, roomID string) error {
	return expectOne(q.db.Exec(ctx, `DELETE FROM chat_rooms WHERE id = $1`, roomID))
}

const memberColumns = `room_id, user_id, role, notification_enabled, last_read_message_id, joined_at, join_seq`

func scanMembers(rows pgx.Rows, err error) ([]models.Member, error) {
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.RoomID, &m.UserID, &m.Role, &m.NotificationEnabled,
			&m.LastReadMessageID, &m.JoinedAt, &m.JoinSeq); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (q *queries) AddMember(ctx context.Context, member *models.Member) error {
	err := q.db.QueryRow(ctx, `
		INSERT INTO chat_room_members (room_id, user_id, role, notification_enabled, joined_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING join_seq
	`, member.RoomID, member.UserID, member.Role, member.NotificationEnabled, member.JoinedAt).Scan(&member.JoinSeq)
	return translate(err)
}

func (q *queries) GetMember(ctx context.Context, roomID, userID string) (models.Member, error) {
	var m models.Member
	err := q.db.QueryRow(ctx, `
		SELECT `+memberColumns+` FROM chat_room_members WHERE room_id = $1 AND user_id = $2
	`, roomID, userID).Scan(&m.RoomID, &m.UserID, &m.Role, &m.NotificationEnabled,
		&m.LastReadMessageID, &m.JoinedAt, &m.JoinSeq)
	return m, translate(err)
}

func (q *queries) ListMembers(ctx context.Context, roomID string) ([]models.Member, error) {
	return scanMembers(q.db.Query(ctx, `
		SELECT `+memberColumns+` FROM chat_room_members
		WHERE room_id = $1
		ORDER BY joined_at ASC, join_seq ASC
	`, roomID))
}

func (q *queries) ListMembershipsForUser(ctx context.Context, userID string) ([]models.Member, error) {
	return scanMembers(q.db.Query(ctx, `
		SELECT `+memberColumns+` FROM chat_room_members
		WHERE user_id = $1
		ORDER BY joined_at ASC, join_seq ASC
	`, userID))
}

func (q *queries) CountMembers(ctx context.Context, roomID string) (int, error) {
	var count int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM chat_room_members WHERE room_id = $1`, roomID).Scan(&count)
	return count, translate(err)
}

func (q *queries) RemoveMember(ctx context.Context, roomID, userID string) error {
	return expectOne(q.db.Exec(ctx, `DELETE FROM chat_room_members WHERE room_id = $1 AND user_id = $2`, roomID, userID))
}

func (q *queries) UpdateMemberRole(ctx context.Context, roomID, userID string, role models.Role) error {
	return expectOne(q.db.Exec(ctx, `
		UPDATE chat_room_members SET role = $1 WHERE room_id = $2 AND user_id = $3
	`, role, roomID, userID))
}

func (q *queries) SetNotification(ctx context.Context, roomID, userID string, enabled bool) error {
	return expectOne(q.db.Exec(ctx, `
		UPDATE chat_room_members SET notification_enabled = $1 WHERE room_id = $2 AND user_id = $3
	`, enabled, roomID, userID))
}

func (q *queries) SetLastRead(ctx context.Context, roomID, userID, messageID string) error {
	return expectOne(q.db.Exec(ctx, `
		UPDATE chat_room_members SET last_read_message_id = $1 WHERE room_id = $2 AND user_id = $3
	`, messageID, roomID, userID))
}

const messageColumns = `id, seq, room_id, sender_id, content, type, reply_to_id, mentioned_user_ids, state, edited, created_at, updated_at`

func scanMessage(row pgx.Row) (models.Message, error) {
	var m models.Message
	err := row.Scan(&m.ID, &m.Seq, &m.RoomID, &m.SenderID, &m.Content, &m.Type, &m.ReplyToID,
		&m.MentionedUserIDs, &m.State, &m.Edited, &m.CreatedAt, &m.UpdatedAt)
	return m, translate(err)
}

func scanMessages(rows pgx.Rows, err error) ([]models.Message, error) {
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (q *queries) InsertMessage(ctx context.Context, message *models.Message) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.MentionedUserIDs == nil {
		message.MentionedUserIDs = []string{}
	}
	err := q.db.QueryRow(ctx, `
		INSERT INTO messages (id, room_id, sender_id, content, type, reply_to_id, mentioned_user_ids, state, edited, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING seq
	`, message.ID, message.RoomID, message.SenderID, message.Content, message.Type, message.ReplyToID,
		message.MentionedUserIDs, message.State, message.Edited, message.CreatedAt, message.UpdatedAt).
		Scan(&message.Seq)
	return translate(err)
}

func (q *queries) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	return scanMessage(q.db.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, messageID))
}

func (q *queries) GetMessages(ctx context.Context, ids []string) ([]models.Message, error) {
	return scanMessages(q.db.Query(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ANY($1)`, ids))
}

func (q *queries) UpdateMessage(ctx context.Context, message models.Message) error {
	return expectOne(q.db.Exec(ctx, `
		UPDATE messages SET content = $1, state = $2, edited = $3, updated_at = $4 WHERE id = $5
	`, message.Content, message.State, message.Edited, message.UpdatedAt, message.ID))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (q *queries) ListMessages(ctx context.Context, mq store.MessageQuery) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE room_id = $1`
	args := []any{mq.RoomID}

	if mq.Before != nil {
		args = append(args, *mq.Before)
		query += fmt.Sprintf(" AND created_at < $%d", len(args))
	}
	if mq.Keyword != "" {
		args = append(args, "%"+likeEscaper.Replace(mq.Keyword)+"%")
		query += fmt.Sprintf(" AND state = 'ACTIVE' AND content ILIKE $%d", len(args))
	}
	query += " ORDER BY created_at DESC, seq DESC"
	if mq.Limit > 0 {
		args = append(args, mq.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return scanMessages(q.db.Query(ctx, query, args...))
}

func (q *queries) LastMessage(ctx context.Context, roomID string) (models.Message, error) {
	return scanMessage(q.db.QueryRow(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE room_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT 1
	`, roomID))
}

func (q *queries) CountMessagesAfter(ctx context.Context, roomID string, afterID *string, excludeSender string) (int, error) {
	var count int
	var err error
	if afterID == nil {
		err = q.db.QueryRow(ctx, `
			SELECT COUNT(*) FROM messages WHERE room_id = $1 AND sender_id <> $2
		`, roomID, excludeSender).Scan(&count)
	} else {
		err = q.db.QueryRow(ctx, `
			SELECT COUNT(*) FROM messages m, messages p
			WHERE p.id = $2
			  AND m.room_id = $1
			  AND m.sender_id <> $3
			  AND (m.created_at, m.seq) > (p.created_at, p.seq)
		`, roomID, *afterID, excludeSender).Scan(&count)
	}
	return count, translate(err)
}

func (q *queries) InsertReceipt(ctx context.Context, receipt models.ReadReceipt) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		INSERT INTO read_receipts (message_id, user_id, read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id, user_id) DO NOTHING
	`, receipt.MessageID, receipt.UserID, receipt.ReadAt)
	if err != nil {
		return false, translate(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *queries) HasReceipt(ctx context.Context, messageID, userID string) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM read_receipts WHERE message_id = $1 AND user_id = $2)
	`, messageID, userID).Scan(&exists)
	return exists, translate(err)
}

func (q *queries) CountReceipts(ctx context.Context, messageID string) (int, error) {
	var count int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM read_receipts WHERE message_id = $1`, messageID).Scan(&count)
	return count, translate(err)
}

func (q *queries) CountMemberReceipts(ctx context.Context, roomID, messageID string) (int, error) {
	var count int
	err := q.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM read_receipts r
		INNER JOIN chat_room_members m ON m.room_id = $1 AND m.user_id = r.user_id
		WHERE r.message_id = $2
	`, roomID, messageID).Scan(&count)
	return count, translate(err)
}
