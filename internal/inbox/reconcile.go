// Package inbox holds the canonical conversation list and the reconcile
// operations that are the only way to change it.
package inbox

import (
	"inboxsync/internal/domain"
)

// List is the canonical, most-recent-first list of conversation summaries.
//
// Every function in this file treats its input as immutable and returns a
// new list. An id that is not present is always a no-op.
type List []domain.ConversationSummary

// Index returns the position of id, or -1.
func (l List) Index(id string) int {
	for i := range l {
		if l[i].ID == id {
			return i
		}
	}
	return -1
}

func (l List) clone() List {
	out := make(List, len(l))
	copy(out, l)
	return out
}

// insertOrdered places s before the first entry that is strictly older.
func insertOrdered(l List, s domain.ConversationSummary) List {
	pos := len(l)
	for i := range l {
		if l[i].UpdatedAt.Before(s.UpdatedAt) {
			pos = i
			break
		}
	}
	out := make(List, 0, len(l)+1)
	out = append(out, l[:pos]...)
	out = append(out, s)
	return append(out, l[pos:]...)
}

func insertFront(l List, s domain.ConversationSummary) List {
	out := make(List, 0, len(l)+1)
	out = append(out, s)
	return append(out, l...)
}

func removeAt(l List, i int) List {
	out := make(List, 0, len(l)-1)
	out = append(out, l[:i]...)
	return append(out, l[i+1:]...)
}

func clampUnread(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// UpsertFromSnapshot inserts the items whose id is absent and not rejected by
// skip. Entries already present are never overwritten.
func UpsertFromSnapshot(l List, items []domain.ConversationSummary, skip func(id string) bool) (List, int) {
	inserted := 0
	out := l
	for _, it := range items {
		if it.ID == "" || out.Index(it.ID) >= 0 {
			continue
		}
		if skip != nil && skip(it.ID) {
			continue
		}
		it = it.Clone()
		it.UnreadCount = clampUnread(it.UnreadCount)
		out = insertOrdered(out, it)
		inserted++
	}
	return out, inserted
}

// ApplyNewMessage records msg on its conversation and promotes it to the
// front. The second result is false when the conversation is unknown.
func ApplyNewMessage(l List, msg domain.Message, currentUserID string) (List, bool) {
	idx := l.Index(msg.ConversationID)
	if idx < 0 {
		return l, false
	}
	s := l[idx]
	preview := msg.Preview()
	if s.LastMessage == nil || !preview.SentAt.Before(s.LastMessage.SentAt) {
		s.LastMessage = &preview
	}
	if receivedBy(msg, currentUserID) {
		s.UnreadCount++
	}
	if msg.SentAt.After(s.UpdatedAt) {
		s.UpdatedAt = msg.SentAt
	}
	return insertFront(removeAt(l, idx), s), true
}

// receivedBy reports whether msg counts as unread for the given user. Without
// an explicit receiver every message not sent by the user counts.
func receivedBy(msg domain.Message, userID string) bool {
	if msg.ReceiverID != "" {
		return msg.ReceiverID == userID
	}
	return msg.SenderID != userID
}

// ApplyConversationUpdate shallow-merges patch into the conversation. A
// changed updatedAt moves the entry to keep recency order.
func ApplyConversationUpdate(l List, id string, p domain.ConversationPatch) (List, bool) {
	idx := l.Index(id)
	if idx < 0 {
		return l, false
	}
	s := l[idx]
	if p.OtherParticipant != nil {
		s.OtherParticipant = *p.OtherParticipant
	}
	if p.LastMessage != nil {
		lm := *p.LastMessage
		s.LastMessage = &lm
	}
	if p.UnreadCount != nil {
		s.UnreadCount = clampUnread(*p.UnreadCount)
	}
	if p.AssociatedProduct != nil {
		prod := *p.AssociatedProduct
		s.AssociatedProduct = &prod
	}
	if p.IsGroup != nil {
		s.IsGroup = *p.IsGroup
	}
	if p.UpdatedAt != nil && !p.UpdatedAt.Equal(s.UpdatedAt) {
		s.UpdatedAt = *p.UpdatedAt
		return insertOrdered(removeAt(l, idx), s), true
	}
	out := l.clone()
	out[idx] = s
	return out, true
}

// ApplyConversationCreated inserts entry at the front unless the id is
// already known, in which case the existing entry wins.
func ApplyConversationCreated(l List, entry domain.ConversationSummary) (List, bool) {
	if entry.ID == "" || l.Index(entry.ID) >= 0 {
		return l, false
	}
	entry = entry.Clone()
	entry.UnreadCount = clampUnread(entry.UnreadCount)
	return insertFront(l, entry), true
}

// ApplyMessagesRead lowers the unread counter by the number of read messages.
func ApplyMessagesRead(l List, id string, messageIDs []string) (List, bool) {
	idx := l.Index(id)
	if idx < 0 {
		return l, false
	}
	out := l.clone()
	out[idx].UnreadCount = clampUnread(out[idx].UnreadCount - len(messageIDs))
	return out, true
}

// ApplyUnreadCountSet sets the unread counter to count, clamped at zero.
func ApplyUnreadCountSet(l List, id string, count int) (List, bool) {
	idx := l.Index(id)
	if idx < 0 {
		return l, false
	}
	out := l.clone()
	out[idx].UnreadCount = clampUnread(count)
	return out, true
}

// ApplyMessageDeleted replaces the preview when the deleted message is the
// conversation's last message. replacement may be nil.
func ApplyMessageDeleted(l List, id, messageID string, replacement *domain.LastMessage) (List, bool) {
	idx := l.Index(id)
	if idx < 0 {
		return l, false
	}
	lm := l[idx].LastMessage
	if lm == nil || lm.ID != messageID {
		return l, false
	}
	out := l.clone()
	if replacement != nil {
		r := *replacement
		out[idx].LastMessage = &r
	} else {
		out[idx].LastMessage = nil
	}
	return out, true
}

// RemoveMany drops every listed id and returns the ids that were present.
func RemoveMany(l List, ids []string) (List, []string) {
	if len(ids) == 0 {
		return l, nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	out := make(List, 0, len(l))
	var removed []string
	for _, s := range l {
		if _, ok := drop[s.ID]; ok {
			removed = append(removed, s.ID)
			continue
		}
		out = append(out, s)
	}
	if removed == nil {
		return l, nil
	}
	return out, removed
}
