// Package router classifies push-channel envelopes and applies them to the
// inbox store and presence maps.
package router

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"time"

	"inboxsync/internal/domain"
	"inboxsync/internal/event"
	"inboxsync/internal/inbox"
)

const DefaultCollapseWindow = 500 * time.Millisecond

var errNoConversation = errors.New("missing conversationId")

// Store is the subset of the inbox store the router writes to.
type Store interface {
	ApplyNewMessage(msg domain.Message) inbox.Outcome
	ApplyConversationUpdate(id string, patch domain.ConversationPatch) bool
	ApplyConversationCreated(entry domain.ConversationSummary) bool
	ApplyMessagesRead(id string, messageIDs []string) bool
	ApplyUnreadCountSet(id string, count int) bool
	ApplyMessageDeleted(id, messageID string, replacement *domain.LastMessage) bool
	Remove(id string) bool
}

// Refresher schedules a deferred snapshot refresh.
type Refresher interface {
	Trigger()
}

type Options struct {
	CollapseWindow time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

type handler func(env event.Envelope) error

type seen struct {
	typ     event.Type
	payload []byte
	at      time.Time
}

// Router dispatches envelopes through a table keyed by event type.
type Router struct {
	store    Store
	presence *inbox.Presence
	refresh  Refresher
	window   time.Duration
	now      func() time.Time
	logger   *slog.Logger
	handlers map[event.Type]handler

	mu   sync.Mutex
	last map[string]seen
}

func New(store Store, presence *inbox.Presence, refresh Refresher, opts Options) *Router {
	if opts.CollapseWindow <= 0 {
		opts.CollapseWindow = DefaultCollapseWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r := &Router{
		store:    store,
		presence: presence,
		refresh:  refresh,
		window:   opts.CollapseWindow,
		now:      opts.Now,
		logger:   opts.Logger.With("component", "router"),
		last:     make(map[string]seen),
	}
	r.handlers = map[event.Type]handler{
		event.NewMessage:          r.onNewMessage,
		event.ConversationUpdated: r.onConversationUpdated,
		event.ConversationDeleted: r.onConversationDeleted,
		event.MessagesRead:        r.onMessagesRead,
		event.ConversationCreated: r.onConversationCreated,
		event.UserTyping:          r.onUserTyping,
		event.UserOnlineStatus:    r.onUserOnlineStatus,
		event.NewUnreadCount:      r.onNewUnreadCount,
		event.MessageDeleted:      r.onMessageDeleted,
		event.Error:               r.onError,
	}
	return r
}

// Handle applies one envelope. Unknown types, malformed payloads and
// duplicates are logged and dropped; Handle never fails.
func (r *Router) Handle(env event.Envelope) {
	h, ok := r.handlers[env.Type]
	if !ok {
		r.logger.Debug("ignoring unknown event", "type", env.Type)
		return
	}
	if r.duplicate(env) {
		r.logger.Debug("collapsed duplicate event", "type", env.Type, "conversation_id", env.ConversationID)
		return
	}
	if err := h(env); err != nil {
		r.logger.Warn("dropping event", "type", env.Type, "conversation_id", env.ConversationID, "error", err)
	}
}

// duplicate reports whether the previous envelope for the same conversation
// had the same type and payload and arrived within the window. Any other
// envelope for that conversation in between resets the window, so a repeated
// state-setting event still applies once the state has moved on. Envelopes
// without a conversation are keyed by type.
func (r *Router) duplicate(env event.Envelope) bool {
	key := env.ConversationID
	if key == "" {
		key = "|" + string(env.Type)
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	for k, s := range r.last {
		if now.Sub(s.at) >= r.window {
			delete(r.last, k)
		}
	}
	if prev, ok := r.last[key]; ok && prev.typ == env.Type && bytes.Equal(prev.payload, env.Payload) {
		return true
	}
	r.last[key] = seen{typ: env.Type, payload: bytes.Clone(env.Payload), at: now}
	return false
}

func conversationID(env event.Envelope) (string, error) {
	if env.ConversationID == "" {
		return "", errNoConversation
	}
	return env.ConversationID, nil
}

func (r *Router) onNewMessage(env event.Envelope) error {
	var p event.NewMessagePayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	msg := p.Message
	if msg.ConversationID == "" {
		msg.ConversationID = env.ConversationID
	}
	if msg.ConversationID == "" {
		return errNoConversation
	}
	if r.presence != nil && msg.SenderID != "" {
		r.presence.SetTyping(msg.ConversationID, msg.SenderID, false)
	}

	switch r.store.ApplyNewMessage(msg) {
	case inbox.Missing:
		r.logger.Debug("message for unknown conversation, scheduling refresh", "conversation_id", msg.ConversationID)
		if r.refresh != nil {
			r.refresh.Trigger()
		}
	case inbox.Collapsed:
		r.logger.Debug("collapsed message", "conversation_id", msg.ConversationID, "message_id", msg.ID)
	}
	return nil
}

func (r *Router) onConversationUpdated(env event.Envelope) error {
	id, err := conversationID(env)
	if err != nil {
		return err
	}
	var patch event.ConversationUpdatedPayload
	if err := env.Decode(&patch); err != nil {
		return err
	}
	r.store.ApplyConversationUpdate(id, patch)
	return nil
}

func (r *Router) onConversationDeleted(env event.Envelope) error {
	id, err := conversationID(env)
	if err != nil {
		return err
	}
	r.store.Remove(id)
	if r.presence != nil {
		r.presence.Forget(id)
	}
	return nil
}

func (r *Router) onMessagesRead(env event.Envelope) error {
	id, err := conversationID(env)
	if err != nil {
		return err
	}
	var p event.MessagesReadPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	r.store.ApplyMessagesRead(id, p.MessageIDs)
	return nil
}

func (r *Router) onConversationCreated(env event.Envelope) error {
	var p event.ConversationCreatedPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	if p.Conversation.ID == "" {
		p.Conversation.ID = env.ConversationID
	}
	if p.Conversation.ID == "" {
		return errNoConversation
	}
	r.store.ApplyConversationCreated(p.Conversation)
	return nil
}

func (r *Router) onUserTyping(env event.Envelope) error {
	id, err := conversationID(env)
	if err != nil {
		return err
	}
	var p event.UserTypingPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	if r.presence != nil {
		r.presence.SetTyping(id, p.UserID, p.IsTyping)
	}
	return nil
}

func (r *Router) onUserOnlineStatus(env event.Envelope) error {
	var p event.UserOnlineStatusPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	if r.presence != nil && p.UserID != "" {
		r.presence.SetOnline(p.UserID, p.IsOnline)
	}
	return nil
}

func (r *Router) onNewUnreadCount(env event.Envelope) error {
	var p event.NewUnreadCountPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	if env.ConversationID == "" {
		// global badge total
		return nil
	}
	r.store.ApplyUnreadCountSet(env.ConversationID, p.Count)
	return nil
}

func (r *Router) onMessageDeleted(env event.Envelope) error {
	id, err := conversationID(env)
	if err != nil {
		return err
	}
	var p event.MessageDeletedPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	r.store.ApplyMessageDeleted(id, p.MessageID, p.LastMessage)
	return nil
}

func (r *Router) onError(env event.Envelope) error {
	var p event.ErrorPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	r.logger.Warn("server reported error", "code", p.Code, "message", p.Message)
	return nil
}
