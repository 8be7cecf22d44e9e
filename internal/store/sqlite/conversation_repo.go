package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"inboxsync/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

func (r *ConversationRepo) Create(ctx context.Context, c *domain.Conversation, memberIDs []string) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()
	var p domain.Product
	if c.Product != nil {
		p = *c.Product
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, is_group, product_id, product_title, product_thumbnail_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.IsGroup, p.ID, p.Title, p.ThumbnailURL, c.CreatedAt, c.UpdatedAt); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	for _, uid := range memberIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO conversation_members (user_id, conversation_id)
			VALUES (?, ?)
		`, uid, c.ID); err != nil {
			return fmt.Errorf("insert member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// FindDirect returns the one-to-one conversation between two users about
// productID ("" for none).
func (r *ConversationRepo) FindDirect(ctx context.Context, userA, userB, productID string) (*domain.Conversation, error) {
	return r.scanConversation(ctx, `
		SELECT c.id, c.is_group, c.product_id, c.product_title, c.product_thumbnail_url, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_members m1 ON m1.conversation_id = c.id AND m1.user_id = ?
		JOIN conversation_members m2 ON m2.conversation_id = c.id AND m2.user_id = ?
		WHERE c.is_group = 0 AND c.product_id = ?
		LIMIT 1
	`, userA, userB, productID)
}

func (r *ConversationRepo) scanConversation(ctx context.Context, query string, args ...any) (*domain.Conversation, error) {
	c := &domain.Conversation{}
	var p domain.Product
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&c.ID,
		&c.IsGroup,
		&p.ID,
		&p.Title,
		&p.ThumbnailURL,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if p.ID != "" {
		c.Product = &p
	}
	return c, nil
}

// summarySelect joins each membership row of the requesting user with the
// conversation, its first other member and its latest live message.
const summarySelect = `
	SELECT c.id, c.is_group, c.product_id, c.product_title, c.product_thumbnail_url, c.updated_at,
		me.unread_count,
		COALESCE(o.id, ''), COALESCE(o.username, ''), COALESCE(o.display_name, ''), COALESCE(o.avatar_url, ''),
		m.id, m.content, m.type, m.sender_id, m.created_at
	FROM conversation_members me
	JOIN conversations c ON c.id = me.conversation_id
	LEFT JOIN users o ON o.id = (
		SELECT om.user_id FROM conversation_members om
		WHERE om.conversation_id = c.id AND om.user_id <> me.user_id
		ORDER BY om.user_id
		LIMIT 1
	)
	LEFT JOIN messages m ON m.id = (
		SELECT lm.id FROM messages lm
		WHERE lm.conversation_id = c.id AND lm.is_deleted = 0
		ORDER BY lm.created_at DESC, lm.rowid DESC
		LIMIT 1
	)
`

func summaryOrder(sort string) string {
	switch sort {
	case "unread":
		return ` ORDER BY me.unread_count DESC, c.updated_at DESC, c.id`
	case "alphabetical":
		return ` ORDER BY LOWER(CASE WHEN o.display_name <> '' THEN o.display_name ELSE o.username END) ASC, c.updated_at DESC, c.id`
	default:
		return ` ORDER BY c.updated_at DESC, c.id`
	}
}

func (r *ConversationRepo) ListSummaries(ctx context.Context, userID string, offset, limit int, sort string) ([]domain.ConversationSummary, error) {
	query := summarySelect + ` WHERE me.user_id = ? AND me.hidden = 0` + summaryOrder(sort) + ` LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	res := make([]domain.ConversationSummary, 0, limit)
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r *ConversationRepo) GetSummary(ctx context.Context, conversationID, userID string) (*domain.ConversationSummary, error) {
	row := r.db.QueryRowContext(ctx, summarySelect+` WHERE me.user_id = ? AND c.id = ?`, userID, conversationID)
	s, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (domain.ConversationSummary, error) {
	var (
		s       domain.ConversationSummary
		p       domain.Product
		other   domain.User
		msgID   sql.NullString
		content sql.NullString
		typ     sql.NullString
		sender  sql.NullString
		sentAt  sql.NullTime
	)
	if err := row.Scan(
		&s.ID,
		&s.IsGroup,
		&p.ID,
		&p.Title,
		&p.ThumbnailURL,
		&s.UpdatedAt,
		&s.UnreadCount,
		&other.ID,
		&other.Username,
		&other.DisplayName,
		&other.AvatarURL,
		&msgID,
		&content,
		&typ,
		&sender,
		&sentAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s, err
		}
		return s, fmt.Errorf("scan summary: %w", err)
	}

	s.OtherParticipant = other.Participant()
	if p.ID != "" {
		s.AssociatedProduct = &p
	}
	if msgID.Valid {
		s.LastMessage = &domain.LastMessage{
			ID:       msgID.String,
			Content:  content.String,
			Type:     domain.MessageType(typ.String),
			SenderID: sender.String,
			SentAt:   sentAt.Time,
		}
	}
	return s, nil
}

func (r *ConversationRepo) MemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id
		FROM conversation_members
		WHERE conversation_id = ?
		ORDER BY user_id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ConversationRepo) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1
		FROM conversation_members
		WHERE conversation_id = ? AND user_id = ?
	`, conversationID, userID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is member: %w", err)
	}
	return true, nil
}

func (r *ConversationRepo) HideForUser(ctx context.Context, userID string, conversationIDs []string) ([]string, error) {
	if len(conversationIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(conversationIDs)), ",")
	args := make([]any, 0, len(conversationIDs)+1)
	args = append(args, userID)
	for _, id := range conversationIDs {
		args = append(args, id)
	}

	rows, err := r.db.QueryContext(ctx, `
		UPDATE conversation_members
		SET hidden = 1, unread_count = 0
		WHERE user_id = ? AND hidden = 0 AND conversation_id IN (`+placeholders+`)
		RETURNING conversation_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("hide conversations: %w", err)
	}
	defer rows.Close()

	var hidden []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan hidden: %w", err)
		}
		hidden = append(hidden, id)
	}
	return hidden, rows.Err()
}

func (r *ConversationRepo) Touch(ctx context.Context, conversationID string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET updated_at = ? WHERE id = ? AND updated_at < ?
	`, at.UTC(), conversationID, at.UTC()); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE conversation_members SET hidden = 0 WHERE conversation_id = ?
	`, conversationID); err != nil {
		return fmt.Errorf("unhide conversation: %w", err)
	}
	return tx.Commit()
}
