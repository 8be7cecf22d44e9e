package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]*User, error)
}

// ConversationRepository defines persistence operations for conversations
// and the per-user membership rows that back an inbox.
type ConversationRepository interface {
	Create(ctx context.Context, c *Conversation, memberIDs []string) error
	FindDirect(ctx context.Context, userA, userB string, productID string) (*Conversation, error)
	ListSummaries(ctx context.Context, userID string, offset, limit int, sort string) ([]ConversationSummary, error)
	GetSummary(ctx context.Context, conversationID, userID string) (*ConversationSummary, error)
	MemberIDs(ctx context.Context, conversationID string) ([]string, error)
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
	// HideForUser removes conversations from one member's inbox until the
	// next message arrives. It returns the ids that were actually hidden.
	HideForUser(ctx context.Context, userID string, conversationIDs []string) ([]string, error)
	// Touch records activity: updatedAt moves to at and the conversation
	// reappears in every member's inbox.
	Touch(ctx context.Context, conversationID string, at time.Time) error
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	// MarkRead clears the reader's unread counter and returns the ids of the
	// messages that were unread.
	MarkRead(ctx context.Context, conversationID, readerID string) ([]string, error)
	IncrementUnread(ctx context.Context, conversationID, exceptUserID string) error
	// GetByID and Latest never return deleted messages.
	GetByID(ctx context.Context, id string) (*Message, error)
	Latest(ctx context.Context, conversationID string) (*Message, error)
	UpdateContent(ctx context.Context, id, content string) error
	// SoftDelete returns the members whose unread counter dropped.
	SoftDelete(ctx context.Context, id string) ([]string, error)
}
