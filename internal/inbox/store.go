package inbox

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"inboxsync/internal/domain"
)

// DefaultCollapseWindow is how long an applied message suppresses equal or
// older messages for the same conversation.
const DefaultCollapseWindow = 500 * time.Millisecond

// Outcome reports what ApplyNewMessage did.
type Outcome int

const (
	Applied Outcome = iota
	Collapsed
	// Missing means the conversation is unknown; the caller should schedule a
	// deferred refresh rather than fabricate a summary.
	Missing
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Collapsed:
		return "collapsed"
	case Missing:
		return "missing"
	}
	return "unknown"
}

// pendingTombstone marks a removal that has not been confirmed remotely yet.
const pendingTombstone = math.MaxUint64

type appliedMessage struct {
	messageID string
	sentAt    time.Time
	appliedAt time.Time
}

// StoreOptions configures a Store.
type StoreOptions struct {
	CurrentUserID  string
	CollapseWindow time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

// Store owns the canonical list. Every mutation runs under one lock, so two
// mutations never interleave, and every change bumps Version.
type Store struct {
	mu         sync.Mutex
	list       List
	version    uint64
	tombstones map[string]uint64
	fetches    map[uint64]int
	recent     map[string]appliedMessage
	me         string

	window time.Duration
	now    func() time.Time
	logger *slog.Logger

	subMu  sync.Mutex
	subs   map[int]chan struct{}
	nextID int
}

func NewStore(opts StoreOptions) *Store {
	if opts.CollapseWindow <= 0 {
		opts.CollapseWindow = DefaultCollapseWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		tombstones: make(map[string]uint64),
		fetches:    make(map[uint64]int),
		recent:     make(map[string]appliedMessage),
		me:         opts.CurrentUserID,
		window:     opts.CollapseWindow,
		now:        opts.Now,
		logger:     opts.Logger.With("component", "inbox"),
		subs:       make(map[int]chan struct{}),
	}
}

// SetCurrentUser sets the id used to decide whether a message is unread.
func (s *Store) SetCurrentUser(id string) {
	s.mu.Lock()
	s.me = id
	s.mu.Unlock()
}

// Version increases on every change of the list and on every removal.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Snapshot returns a deep copy of the canonical list.
func (s *Store) Snapshot() []domain.ConversationSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ConversationSummary, len(s.list))
	for i := range s.list {
		out[i] = s.list[i].Clone()
	}
	return out
}

// Get returns a copy of one conversation.
func (s *Store) Get(id string) (domain.ConversationSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.list.Index(id)
	if idx < 0 {
		return domain.ConversationSummary{}, false
	}
	return s.list[idx].Clone(), true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

// Subscribe returns a channel that receives a signal after changes. Signals
// coalesce: a slow reader sees one pending signal, not one per change.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// commit must be called with s.mu held.
func (s *Store) commit(next List) {
	s.list = next
	s.version++
	s.subMu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.subMu.Unlock()
}

// BeginSnapshot opens a fetch and returns the Version it starts from.
// Tombstones newer than the oldest open fetch survive until it ends through
// MergeSnapshot or EndSnapshot.
func (s *Store) BeginSnapshot() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches[s.version]++
	return s.version
}

// EndSnapshot closes a fetch whose page is discarded.
func (s *Store) EndSnapshot(since uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(since)
}

func (s *Store) endLocked(since uint64) {
	if n := s.fetches[since]; n > 1 {
		s.fetches[since] = n - 1
	} else {
		delete(s.fetches, since)
	}
}

// MergeSnapshot inserts the absent items of a fetched page. since is the
// Version observed when the fetch started: ids removed after that point are
// not resurrected. Tombstones older than both since and every open fetch are
// forgotten.
func (s *Store) MergeSnapshot(items []domain.ConversationSummary, since uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, n := UpsertFromSnapshot(s.list, items, func(id string) bool {
		v, ok := s.tombstones[id]
		return ok && v > since
	})
	s.endLocked(since)
	floor := since
	for open := range s.fetches {
		if open < floor {
			floor = open
		}
	}
	for id, v := range s.tombstones {
		if v <= floor {
			delete(s.tombstones, id)
		}
	}
	if n > 0 {
		s.commit(next)
	}
	s.logger.Debug("snapshot merged", "items", len(items), "inserted", n, "since", since)
	return n
}

// ApplyNewMessage applies msg unless an equal-or-newer message for the same
// conversation was applied within the collapse window.
func (s *Store) ApplyNewMessage(msg domain.Message) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if msg.SentAt.IsZero() {
		msg.SentAt = now
	}
	s.pruneRecent(now)
	if prev, ok := s.recent[msg.ConversationID]; ok && now.Sub(prev.appliedAt) < s.window {
		if prev.messageID == msg.ID || !prev.sentAt.Before(msg.SentAt) {
			return Collapsed
		}
	}

	next, ok := ApplyNewMessage(s.list, msg, s.me)
	if !ok {
		return Missing
	}
	s.recent[msg.ConversationID] = appliedMessage{messageID: msg.ID, sentAt: msg.SentAt, appliedAt: now}
	s.commit(next)
	return Applied
}

func (s *Store) pruneRecent(now time.Time) {
	for id, a := range s.recent {
		if now.Sub(a.appliedAt) >= s.window {
			delete(s.recent, id)
		}
	}
}

func (s *Store) apply(next List, ok bool) bool {
	if ok {
		s.commit(next)
	}
	return ok
}

func (s *Store) ApplyConversationUpdate(id string, patch domain.ConversationPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(ApplyConversationUpdate(s.list, id, patch))
}

// ApplyConversationCreated inserts entry at the front if absent. A created
// event also lifts a previous tombstone for the same id.
func (s *Store) ApplyConversationCreated(entry domain.ConversationSummary) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := ApplyConversationCreated(s.list, entry)
	if ok {
		delete(s.tombstones, entry.ID)
	}
	return s.apply(next, ok)
}

func (s *Store) ApplyMessagesRead(id string, messageIDs []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(ApplyMessagesRead(s.list, id, messageIDs))
}

func (s *Store) ApplyUnreadCountSet(id string, count int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(ApplyUnreadCountSet(s.list, id, count))
}

func (s *Store) ApplyMessageDeleted(id, messageID string, replacement *domain.LastMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(ApplyMessageDeleted(s.list, id, messageID, replacement))
}

// Remove drops one conversation.
func (s *Store) Remove(id string) bool {
	return s.RemoveMany([]string{id}) == 1
}

// RemoveMany drops the given conversations and tombstones them so that a
// snapshot fetched before the removal cannot bring them back.
func (s *Store) RemoveMany(ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(ids, false)
}

// RemovePending removes ids ahead of remote confirmation. Their tombstones
// hold against every snapshot until Settle is called.
func (s *Store) RemovePending(ids []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(ids, true)
}

func (s *Store) removeLocked(ids []string, pending bool) int {
	next, removed := RemoveMany(s.list, ids)
	if removed != nil {
		s.commit(next)
	} else {
		// unknown ids still need a mark newer than any in-flight fetch
		s.version++
	}
	mark := s.version
	if pending {
		mark = pendingTombstone
	}
	for _, id := range ids {
		s.tombstones[id] = mark
		delete(s.recent, id)
	}
	return len(removed)
}

// Settle resolves pending removals. Confirmed ids keep an ordinary tombstone;
// rejected ids lose theirs so the next refresh can restore them.
func (s *Store) Settle(ids []string, confirmed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if s.tombstones[id] != pendingTombstone {
			continue
		}
		if confirmed {
			s.tombstones[id] = s.version
		} else {
			delete(s.tombstones, id)
		}
	}
}
