package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"inboxsync/internal/domain"
	"inboxsync/internal/event"
)

const MaxMessageLength = 5000

type MessageService struct {
	conversations domain.ConversationRepository
	messages      domain.MessageRepository
	notifier      Notifier
	logger        *slog.Logger
	now           func() time.Time
}

func NewMessageService(
	conversations domain.ConversationRepository,
	messages domain.MessageRepository,
	notifier Notifier,
	logger *slog.Logger,
) *MessageService {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageService{
		conversations: conversations,
		messages:      messages,
		notifier:      notifier,
		logger:        logger.With("component", "message_service"),
		now:           time.Now,
	}
}

type SendMessageInput struct {
	Content string
	Type    domain.MessageType
}

func (s *MessageService) requireMember(ctx context.Context, convID, userID string) ([]string, error) {
	members, err := s.conversations.MemberIDs(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("conversation members: %w", err)
	}
	if len(members) == 0 {
		return nil, domain.ErrNotFound
	}
	for _, id := range members {
		if id == userID {
			return members, nil
		}
	}
	return nil, domain.ErrForbidden
}

// Send stores a message and pushes newMessage to every member. The
// conversation reappears in inboxes that had hidden it.
func (s *MessageService) Send(ctx context.Context, senderID, convID string, in SendMessageInput) (*domain.Message, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, fmt.Errorf("message content is required: %w", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, fmt.Errorf("message longer than %d characters: %w", MaxMessageLength, domain.ErrInvalidInput)
	}
	if in.Type == "" {
		in.Type = domain.MessageText
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("unknown message type %q: %w", in.Type, domain.ErrInvalidInput)
	}

	members, err := s.requireMember(ctx, convID, senderID)
	if err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ConversationID: convID,
		Content:        content,
		Type:           in.Type,
		SenderID:       senderID,
		SentAt:         s.now(),
	}
	if rest := others(members, senderID); len(rest) == 1 {
		msg.ReceiverID = rest[0]
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}
	if err := s.messages.IncrementUnread(ctx, convID, senderID); err != nil {
		return nil, fmt.Errorf("increment unread: %w", err)
	}
	if err := s.conversations.Touch(ctx, convID, msg.SentAt); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}

	notify(s.notifier, s.logger, members, event.NewMessage, convID, event.NewMessagePayload{Message: *msg})
	return msg, nil
}

// MarkRead clears the reader's unread counter. The reader's sessions get
// messagesRead so their inbox rows follow.
func (s *MessageService) MarkRead(ctx context.Context, readerID, convID string) ([]string, error) {
	ids, err := s.messages.MarkRead(ctx, convID, readerID)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	if len(ids) == 0 {
		return ids, nil
	}
	notify(s.notifier, s.logger, []string{readerID}, event.MessagesRead, convID,
		event.MessagesReadPayload{MessageIDs: ids, ReaderID: readerID})
	return ids, nil
}

// Typing relays a typing indicator to the other members.
func (s *MessageService) Typing(ctx context.Context, userID, convID string, isTyping bool) error {
	members, err := s.requireMember(ctx, convID, userID)
	if err != nil {
		return err
	}
	notify(s.notifier, s.logger, others(members, userID), event.UserTyping, convID,
		event.UserTypingPayload{UserID: userID, IsTyping: isTyping})
	return nil
}

// ownMessage loads a live message of convID sent by callerID.
func (s *MessageService) ownMessage(ctx context.Context, callerID, convID, messageID string) (*domain.Message, []string, error) {
	members, err := s.requireMember(ctx, convID, callerID)
	if err != nil {
		return nil, nil, err
	}
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, nil, fmt.Errorf("get message: %w", err)
	}
	if msg.ConversationID != convID {
		return nil, nil, fmt.Errorf("get message: %w", domain.ErrNotFound)
	}
	if msg.SenderID != callerID {
		return nil, nil, domain.ErrForbidden
	}
	return msg, members, nil
}

// isLatest reports whether messageID is the newest live message of convID.
func (s *MessageService) isLatest(ctx context.Context, convID, messageID string) (bool, error) {
	latest, err := s.messages.Latest(ctx, convID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("latest message: %w", err)
	}
	return latest.ID == messageID, nil
}

// Edit replaces the content of one of the caller's messages. When it is the
// newest message every member gets a conversationUpdated patch with the new
// preview.
func (s *MessageService) Edit(ctx context.Context, callerID, convID, messageID, content string) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("message content is required: %w", domain.ErrInvalidInput)
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return nil, fmt.Errorf("message longer than %d characters: %w", MaxMessageLength, domain.ErrInvalidInput)
	}

	msg, members, err := s.ownMessage(ctx, callerID, convID, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.messages.UpdateContent(ctx, messageID, content); err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}
	msg.Content = content
	msg.Edited = true

	latest, err := s.isLatest(ctx, convID, messageID)
	if err != nil {
		return nil, err
	}
	if latest {
		preview := msg.Preview()
		notify(s.notifier, s.logger, members, event.ConversationUpdated, convID,
			event.ConversationUpdatedPayload{LastMessage: &preview})
	}
	return msg, nil
}

// Delete removes one of the caller's messages for everyone. Members get
// messageDeleted, carrying the replacement preview when the deleted message
// was the newest, and members whose unread counter dropped get
// newUnreadCount.
func (s *MessageService) Delete(ctx context.Context, callerID, convID, messageID string) error {
	_, members, err := s.ownMessage(ctx, callerID, convID, messageID)
	if err != nil {
		return err
	}
	wasLatest, err := s.isLatest(ctx, convID, messageID)
	if err != nil {
		return err
	}
	affected, err := s.messages.SoftDelete(ctx, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}

	payload := event.MessageDeletedPayload{MessageID: messageID}
	if wasLatest {
		next, err := s.messages.Latest(ctx, convID)
		switch {
		case err == nil:
			preview := next.Preview()
			payload.LastMessage = &preview
		case !errors.Is(err, domain.ErrNotFound):
			return fmt.Errorf("latest message: %w", err)
		}
	}
	notify(s.notifier, s.logger, members, event.MessageDeleted, convID, payload)

	for _, uid := range affected {
		sum, err := s.conversations.GetSummary(ctx, convID, uid)
		if err != nil {
			s.logger.Warn("unread count after delete", "conversation_id", convID, "user_id", uid, "error", err)
			continue
		}
		notify(s.notifier, s.logger, []string{uid}, event.NewUnreadCount, convID,
			event.NewUnreadCountPayload{Count: sum.UnreadCount})
	}
	return nil
}
