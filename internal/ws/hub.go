package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"inboxsync/internal/event"
)

const writeWait = 10 * time.Second

// Peer is one live connection. Writes are serialized per connection.
type Peer struct {
	UserID string
	conn   *websocket.Conn
	mu     sync.Mutex
}

func (p *Peer) send(env event.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return p.conn.WriteJSON(env)
}

func (p *Peer) close(code int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	_ = p.conn.Close()
}

// Hub manages active WebSocket connections keyed by user ID and provides
// helper methods to push envelopes to one or more users.
type Hub struct {
	mu     sync.RWMutex
	peers  map[string]map[*Peer]struct{}
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		peers:  make(map[string]map[*Peer]struct{}),
		logger: logger.With("component", "ws_hub"),
	}
}

// Register adds a connection for the given user. first reports whether it
// is the user's only connection.
func (h *Hub) Register(userID string, conn *websocket.Conn) (p *Peer, first bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p = &Peer{UserID: userID, conn: conn}
	if h.peers[userID] == nil {
		h.peers[userID] = make(map[*Peer]struct{})
		first = true
	}
	h.peers[userID][p] = struct{}{}
	return p, first
}

// Unregister removes a connection. last reports whether the user has no
// connection left.
func (h *Hub) Unregister(p *Peer) (last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	peers, ok := h.peers[p.UserID]
	if !ok {
		return false
	}
	if _, ok := peers[p]; !ok {
		return false
	}
	delete(peers, p)
	if len(peers) == 0 {
		delete(h.peers, p.UserID)
		return true
	}
	return false
}

// Online reports whether the user has at least one live connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers[userID]) > 0
}

// Users returns the ids of every connected user.
func (h *Hub) Users() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.peers))
	for id := range h.peers {
		out = append(out, id)
	}
	return out
}

func (h *Hub) targets(userIDs []string, skip *Peer) []*Peer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*Peer
	for _, uid := range userIDs {
		for p := range h.peers[uid] {
			if p != skip {
				out = append(out, p)
			}
		}
	}
	return out
}

func (h *Hub) deliver(peers []*Peer, env event.Envelope) {
	for _, p := range peers {
		if err := p.send(env); err != nil {
			// The read loop of a broken connection unregisters it.
			h.logger.Debug("push failed", "user_id", p.UserID, "type", env.Type, "error", err)
			_ = p.conn.Close()
		}
	}
}

// Notify sends env to all active connections of the given users.
func (h *Hub) Notify(userIDs []string, env event.Envelope) {
	h.deliver(h.targets(userIDs, nil), env)
}

// NotifySiblings sends env to the user's connections other than from.
func (h *Hub) NotifySiblings(from *Peer, env event.Envelope) {
	h.deliver(h.targets([]string{from.UserID}, from), env)
}

// BroadcastAll sends env to every connected user except exceptUserID.
func (h *Hub) BroadcastAll(env event.Envelope, exceptUserID string) {
	var ids []string
	for _, id := range h.Users() {
		if id != exceptUserID {
			ids = append(ids, id)
		}
	}
	h.Notify(ids, env)
}

// CloseAll closes every connection with a going-away frame.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	var all []*Peer
	for _, peers := range h.peers {
		for p := range peers {
			all = append(all, p)
		}
	}
	h.mu.RUnlock()
	for _, p := range all {
		p.close(websocket.CloseGoingAway, "server shutting down")
	}
}
