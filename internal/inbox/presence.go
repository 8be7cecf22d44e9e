package inbox

import (
	"sort"
	"sync"
)

// Presence holds transient per-conversation typing state and per-user online
// state. It is never reconciled against snapshots and is lost on teardown.
type Presence struct {
	mu     sync.RWMutex
	typing map[string]map[string]struct{}
	online map[string]bool
}

func NewPresence() *Presence {
	return &Presence{
		typing: make(map[string]map[string]struct{}),
		online: make(map[string]bool),
	}
}

func (p *Presence) SetTyping(conversationID, userID string, typing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	users := p.typing[conversationID]
	if typing {
		if users == nil {
			users = make(map[string]struct{})
			p.typing[conversationID] = users
		}
		users[userID] = struct{}{}
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(p.typing, conversationID)
	}
}

// Typing returns the ids of users currently typing in the conversation.
func (p *Presence) Typing(conversationID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	users := p.typing[conversationID]
	out := make([]string, 0, len(users))
	for id := range users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (p *Presence) SetOnline(userID string, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if online {
		p.online[userID] = true
		return
	}
	delete(p.online, userID)
}

func (p *Presence) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.online[userID]
}

// Forget drops the typing state of a removed conversation.
func (p *Presence) Forget(conversationID string) {
	p.mu.Lock()
	delete(p.typing, conversationID)
	p.mu.Unlock()
}

// Reset clears everything, e.g. after the push channel drops.
func (p *Presence) Reset() {
	p.mu.Lock()
	p.typing = make(map[string]map[string]struct{})
	p.online = make(map[string]bool)
	p.mu.Unlock()
}
