// Package event defines the envelopes exchanged over the push channel.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"inboxsync/internal/domain"
)

// Type identifies the kind of an envelope.
type Type string

// Server → client event types. ConversationDeleted may also be emitted by a
// client to propagate an optimistic delete to the user's other sessions.
const (
	NewMessage          Type = "newMessage"
	ConversationUpdated Type = "conversationUpdated"
	ConversationDeleted Type = "conversationDeleted"
	MessagesRead        Type = "messagesRead"
	ConversationCreated Type = "conversationCreated"
	UserTyping          Type = "userTyping"
	UserOnlineStatus    Type = "userOnlineStatus"
	NewUnreadCount      Type = "newUnreadCount"
	MessageDeleted      Type = "messageDeleted"
	Error               Type = "error"
)

// Known reports whether t is one of the inbox event types.
func (t Type) Known() bool {
	switch t {
	case NewMessage, ConversationUpdated, ConversationDeleted, MessagesRead,
		ConversationCreated, UserTyping, UserOnlineStatus, NewUnreadCount, MessageDeleted:
		return true
	}
	return false
}

// Global reports whether events of type t carry no conversation id.
func (t Type) Global() bool {
	return t == UserOnlineStatus
}

// Envelope is the base frame for every push-channel message.
type Envelope struct {
	Type           Type            `json:"type"`
	ConversationID string          `json:"conversationId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Timestamp      int64           `json:"ts,omitempty"`
}

// Decode unmarshals the payload into v. An absent payload leaves v untouched.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// New creates an envelope with the current timestamp.
func New(t Type, conversationID string, payload any) (Envelope, error) {
	env := Envelope{
		Type:           t,
		ConversationID: conversationID,
		Timestamp:      time.Now().UnixMilli(),
	}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	env.Payload = data
	return env, nil
}

// --- payloads ---

type NewMessagePayload struct {
	Message domain.Message `json:"message"`
}

type ConversationUpdatedPayload = domain.ConversationPatch

type MessagesReadPayload struct {
	MessageIDs []string `json:"messageIds"`
	ReaderID   string   `json:"readerId,omitempty"`
}

type ConversationCreatedPayload struct {
	Conversation domain.ConversationSummary `json:"conversation"`
}

type UserTypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type UserOnlineStatusPayload struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

type NewUnreadCountPayload struct {
	Count int `json:"count"`
}

// MessageDeletedPayload optionally carries the message that becomes the
// conversation's preview once the deleted one is gone.
type MessageDeletedPayload struct {
	MessageID   string              `json:"messageId"`
	LastMessage *domain.LastMessage `json:"lastMessage,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
