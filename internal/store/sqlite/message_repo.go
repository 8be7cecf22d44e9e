package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"inboxsync/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}
	m.SentAt = m.SentAt.UTC()
	if m.Type == "" {
		m.Type = domain.MessageText
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := r.db.ExecContext(ctx, query,
		m.ID,
		m.ConversationID,
		m.SenderID,
		m.ReceiverID,
		m.Content,
		string(m.Type),
		m.SentAt,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, conversationID, readerID string) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var lastRead sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT last_read_at
		FROM conversation_members
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, readerID).Scan(&lastRead)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get last_read_at: %w", err)
	}

	query := `
		SELECT id
		FROM messages
		WHERE conversation_id = ? AND sender_id <> ? AND is_deleted = 0
	`
	args := []any{conversationID, readerID}
	if lastRead.Valid {
		query += " AND created_at > ?"
		args = append(args, lastRead.Time.UTC())
	}
	query += " ORDER BY created_at ASC"

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan unread: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversation_members
		SET unread_count = 0, last_read_at = ?
		WHERE conversation_id = ? AND user_id = ?
	`, time.Now().UTC(), conversationID, readerID); err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

func (r *MessageRepo) IncrementUnread(ctx context.Context, conversationID, exceptUserID string) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE conversation_members
		SET unread_count = unread_count + 1
		WHERE conversation_id = ? AND user_id <> ?
	`, conversationID, exceptUserID); err != nil {
		return fmt.Errorf("increment unread: %w", err)
	}
	return nil
}

const messageColumns = `id, conversation_id, sender_id, receiver_id, content, type, is_edited, created_at`

func scanMessage(row scanner) (*domain.Message, error) {
	var (
		m   domain.Message
		typ string
	)
	if err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.SenderID,
		&m.ReceiverID,
		&m.Content,
		&typ,
		&m.Edited,
		&m.SentAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	m.Type = domain.MessageType(typ)
	return &m, nil
}

// GetByID returns a message that has not been deleted.
func (r *MessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ? AND is_deleted = 0`, id)
	return scanMessage(row)
}

// Latest returns the newest live message of a conversation.
func (r *MessageRepo) Latest(ctx context.Context, conversationID string) (*domain.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = ? AND is_deleted = 0
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, conversationID)
	return scanMessage(row)
}

func (r *MessageRepo) UpdateContent(ctx context.Context, id, content string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages
		SET content = ?, is_edited = 1
		WHERE id = ? AND is_deleted = 0
	`, content, id)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SoftDelete marks a message deleted and takes it off the unread counter of
// every member who had not read it yet. It returns those members.
func (r *MessageRepo) SoftDelete(ctx context.Context, id string) ([]string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var (
		convID, senderID string
		createdAt        time.Time
	)
	err = tx.QueryRowContext(ctx, `
		SELECT conversation_id, sender_id, created_at
		FROM messages
		WHERE id = ? AND is_deleted = 0
	`, id).Scan(&convID, &senderID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT user_id
		FROM conversation_members
		WHERE conversation_id = ? AND user_id <> ? AND unread_count > 0
			AND (last_read_at IS NULL OR last_read_at < ?)
	`, convID, senderID, createdAt.UTC())
	if err != nil {
		return nil, fmt.Errorf("list unread members: %w", err)
	}
	var affected []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan member: %w", err)
		}
		affected = append(affected, uid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list unread members: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE messages SET is_deleted = 1 WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}
	for _, uid := range affected {
		if _, err := tx.ExecContext(ctx, `
			UPDATE conversation_members
			SET unread_count = unread_count - 1
			WHERE conversation_id = ? AND user_id = ?
		`, convID, uid); err != nil {
			return nil, fmt.Errorf("decrement unread: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return affected, nil
}
