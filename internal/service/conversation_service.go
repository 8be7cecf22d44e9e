package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"inboxsync/internal/domain"
	"inboxsync/internal/event"
)

const (
	DefaultPageSize = 25
	MaxPageSize     = 100
	MaxBulkDelete   = 100
)

type ConversationService struct {
	conversations domain.ConversationRepository
	users         domain.UserRepository
	notifier      Notifier
	logger        *slog.Logger
	now           func() time.Time
}

func NewConversationService(
	conversations domain.ConversationRepository,
	users domain.UserRepository,
	notifier Notifier,
	logger *slog.Logger,
) *ConversationService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationService{
		conversations: conversations,
		users:         users,
		notifier:      notifier,
		logger:        logger.With("component", "conversation_service"),
		now:           time.Now,
	}
}

// Page is one page of a user's inbox.
type Page struct {
	Conversations []domain.ConversationSummary
	HasMore       bool
}

// List returns page (1-based) of the user's inbox in the given order.
func (s *ConversationService) List(ctx context.Context, userID string, page, limit int, sort string) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	switch sort {
	case "", "recent", "unread", "alphabetical":
	default:
		return nil, fmt.Errorf("unknown sort %q: %w", sort, domain.ErrInvalidInput)
	}

	// One extra row tells whether another page exists.
	rows, err := s.conversations.ListSummaries(ctx, userID, (page-1)*limit, limit+1, sort)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	p := &Page{Conversations: rows}
	if len(rows) > limit {
		p.Conversations = rows[:limit]
		p.HasMore = true
	}
	if p.Conversations == nil {
		p.Conversations = []domain.ConversationSummary{}
	}
	return p, nil
}

type ConversationCreateInput struct {
	ParticipantID string
	Product       *domain.Product
}

// Create opens a direct conversation with another user, or returns the
// existing one for the same pair and product. created reports which.
func (s *ConversationService) Create(
	ctx context.Context,
	in ConversationCreateInput,
	creatorID string,
) (summary *domain.ConversationSummary, created bool, err error) {
	if in.ParticipantID == "" || in.ParticipantID == creatorID {
		return nil, false, fmt.Errorf("a different participant is required: %w", domain.ErrInvalidInput)
	}
	if in.Product != nil && strings.TrimSpace(in.Product.ID) == "" {
		return nil, false, fmt.Errorf("product id is required: %w", domain.ErrInvalidInput)
	}
	if _, err := s.users.GetByID(ctx, in.ParticipantID); err != nil {
		return nil, false, fmt.Errorf("participant: %w", err)
	}

	productID := ""
	if in.Product != nil {
		productID = in.Product.ID
	}
	existing, err := s.conversations.FindDirect(ctx, creatorID, in.ParticipantID, productID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("find conversation: %w", err)
	}
	if existing != nil {
		summary, err := s.conversations.GetSummary(ctx, existing.ID, creatorID)
		if err != nil {
			return nil, false, fmt.Errorf("get summary: %w", err)
		}
		return summary, false, nil
	}

	now := s.now()
	conv := &domain.Conversation{
		Product:   in.Product,
		CreatedAt: now,
		UpdatedAt: now,
	}
	members := []string{creatorID, in.ParticipantID}
	if err := s.conversations.Create(ctx, conv, members); err != nil {
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}

	// Every member sees the conversation from their own side.
	for _, member := range members {
		sum, err := s.conversations.GetSummary(ctx, conv.ID, member)
		if err != nil {
			return nil, false, fmt.Errorf("get summary: %w", err)
		}
		if member == creatorID {
			summary = sum
		}
		notify(s.notifier, s.logger, []string{member}, event.ConversationCreated, conv.ID,
			event.ConversationCreatedPayload{Conversation: *sum})
	}
	return summary, true, nil
}

// BulkDelete hides the conversations from the user's inbox. Ids the user is
// not a member of are ignored. It returns the ids that were hidden.
func (s *ConversationService) BulkDelete(ctx context.Context, userID string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("no conversations given: %w", domain.ErrInvalidInput)
	}
	if len(ids) > MaxBulkDelete {
		return nil, fmt.Errorf("at most %d conversations per request: %w", MaxBulkDelete, domain.ErrInvalidInput)
	}
	hidden, err := s.conversations.HideForUser(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("hide conversations: %w", err)
	}
	s.logger.Info("conversations deleted", "user_id", userID, "requested", len(ids), "deleted", len(hidden))
	return hidden, nil
}

// HideOne serves a conversationDeleted emitted by one of the user's
// sessions. It reports whether the conversation was visible before.
func (s *ConversationService) HideOne(ctx context.Context, userID, convID string) (bool, error) {
	ok, err := s.conversations.IsMember(ctx, convID, userID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, domain.ErrForbidden
	}
	hidden, err := s.conversations.HideForUser(ctx, userID, []string{convID})
	if err != nil {
		return false, err
	}
	return len(hidden) > 0, nil
}
