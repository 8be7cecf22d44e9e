package inbox

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inboxsync/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore() (*Store, *fakeClock) {
	clk := &fakeClock{now: t0.Add(time.Hour)}
	return NewStore(StoreOptions{CurrentUserID: "me", Now: clk.Now}), clk
}

func storeIDs(s *Store) []string {
	snap := s.Snapshot()
	out := make([]string, len(snap))
	for i := range snap {
		out[i] = snap[i].ID
	}
	return out
}

func TestStoreNewMessageCollapse(t *testing.T) {
	s, clk := newTestStore()
	s.MergeSnapshot([]domain.ConversationSummary{summary("a", t0)}, s.Version())

	msg := domain.Message{ID: "m1", ConversationID: "a", SenderID: "p-a", SentAt: t0.Add(time.Minute)}
	assert.Equal(t, Applied, s.ApplyNewMessage(msg))
	v := s.Version()

	clk.Advance(100 * time.Millisecond)
	assert.Equal(t, Collapsed, s.ApplyNewMessage(msg))
	assert.Equal(t, v, s.Version())

	older := msg
	older.ID = "m0"
	older.SentAt = t0
	assert.Equal(t, Collapsed, s.ApplyNewMessage(older))

	got, _ := s.Get("a")
	assert.Equal(t, 1, got.UnreadCount)

	clk.Advance(500 * time.Millisecond)
	assert.Equal(t, Applied, s.ApplyNewMessage(msg))
	got, _ = s.Get("a")
	assert.Equal(t, 2, got.UnreadCount)
}

func TestStoreNewerMessageInsideWindowApplies(t *testing.T) {
	s, clk := newTestStore()
	s.MergeSnapshot([]domain.ConversationSummary{summary("a", t0)}, 0)

	assert.Equal(t, Applied, s.ApplyNewMessage(domain.Message{ID: "m1", ConversationID: "a", SenderID: "x", SentAt: t0.Add(time.Second)}))
	clk.Advance(10 * time.Millisecond)
	assert.Equal(t, Applied, s.ApplyNewMessage(domain.Message{ID: "m2", ConversationID: "a", SenderID: "x", SentAt: t0.Add(2 * time.Second)}))

	got, _ := s.Get("a")
	assert.Equal(t, "m2", got.LastMessage.ID)
	assert.Equal(t, 2, got.UnreadCount)
}

func TestStoreUndatedMessagesInsideWindowApply(t *testing.T) {
	s, clk := newTestStore()
	s.MergeSnapshot([]domain.ConversationSummary{summary("a", t0)}, 0)

	assert.Equal(t, Applied, s.ApplyNewMessage(domain.Message{ID: "m1", ConversationID: "a", SenderID: "x"}))
	clk.Advance(10 * time.Millisecond)
	assert.Equal(t, Applied, s.ApplyNewMessage(domain.Message{ID: "m2", ConversationID: "a", SenderID: "x"}))
	assert.Equal(t, Collapsed, s.ApplyNewMessage(domain.Message{ID: "m2", ConversationID: "a", SenderID: "x"}))

	got, _ := s.Get("a")
	assert.Equal(t, "m2", got.LastMessage.ID)
	assert.Equal(t, 2, got.UnreadCount)
}

func TestStoreNewMessageMissing(t *testing.T) {
	s, _ := newTestStore()
	assert.Equal(t, Missing, s.ApplyNewMessage(domain.Message{ID: "m1", ConversationID: "ghost"}))
	assert.Zero(t, s.Len())
}

func TestStoreDeleteBeatsLateSnapshot(t *testing.T) {
	s, _ := newTestStore()

	since := s.Version()
	page := []domain.ConversationSummary{summary("a", t0), summary("b", t0.Add(time.Minute))}
	s.MergeSnapshot(page, since)
	require.Equal(t, []string{"b", "a"}, storeIDs(s))

	// a duplicate page requested before the delete arrives afterwards
	lateSince := s.Version()
	assert.True(t, s.Remove("a"))
	assert.Zero(t, s.MergeSnapshot(page, lateSince))
	assert.Equal(t, []string{"b"}, storeIDs(s))

	// a fetch issued after the delete may bring it back
	assert.Equal(t, 1, s.MergeSnapshot(page, s.Version()))
	assert.Equal(t, []string{"b", "a"}, storeIDs(s))
}

func TestStoreTombstoneOutlivesNewerMerge(t *testing.T) {
	s, _ := newTestStore()
	page := []domain.ConversationSummary{summary("a", t0)}

	older := s.BeginSnapshot()
	s.Remove("a")
	newer := s.BeginSnapshot()
	assert.Zero(t, s.MergeSnapshot(nil, newer))

	// the older fetch is still open, so the tombstone must hold
	assert.Zero(t, s.MergeSnapshot(page, older))
	assert.Zero(t, s.Len())

	// with nothing open a fresh fetch may restore it
	assert.Equal(t, 1, s.MergeSnapshot(page, s.BeginSnapshot()))
}

func TestStoreEndSnapshotReleasesFloor(t *testing.T) {
	s, _ := newTestStore()
	older := s.BeginSnapshot()
	s.Remove("a")
	s.EndSnapshot(older)

	newer := s.BeginSnapshot()
	assert.Zero(t, s.MergeSnapshot(nil, newer))
	// tombstone at or below the merged fetch is gone, so an old page restores "a"
	assert.Equal(t, 1, s.MergeSnapshot([]domain.ConversationSummary{summary("a", t0)}, older))
}

func TestStoreDeleteOfUnknownIDStillBlocksInflightPage(t *testing.T) {
	s, _ := newTestStore()
	since := s.Version()
	assert.False(t, s.Remove("a"))
	assert.Zero(t, s.MergeSnapshot([]domain.ConversationSummary{summary("a", t0)}, since))
}

func TestStoreCreatedLiftsTombstone(t *testing.T) {
	s, _ := newTestStore()
	s.MergeSnapshot([]domain.ConversationSummary{summary("a", t0)}, 0)
	since := s.Version()
	s.Remove("a")

	assert.True(t, s.ApplyConversationCreated(summary("a", t0.Add(time.Hour))))
	s.Remove("a")
	assert.Zero(t, s.MergeSnapshot([]domain.ConversationSummary{summary("a", t0)}, since))
}

func TestStorePendingRemoval(t *testing.T) {
	s, _ := newTestStore()
	s.MergeSnapshot([]domain.ConversationSummary{summary("a", t0), summary("b", t0)}, 0)

	assert.Equal(t, 2, s.RemovePending([]string{"a", "b"}))
	assert.Zero(t, s.Len())

	// pending tombstones hold even against fetches issued later
	assert.Zero(t, s.MergeSnapshot([]domain.ConversationSummary{summary("a", t0)}, s.Version()))

	s.Settle([]string{"a", "b"}, false)
	assert.Equal(t, 2, s.MergeSnapshot([]domain.ConversationSummary{summary("a", t0), summary("b", t0)}, s.Version()))
}

func TestStorePendingRemovalConfirmed(t *testing.T) {
	s, _ := newTestStore()
	s.MergeSnapshot([]domain.ConversationSummary{summary("a", t0)}, 0)
	before := s.Version()
	s.RemovePending([]string{"a"})
	s.Settle([]string{"a"}, true)

	assert.Zero(t, s.MergeSnapshot([]domain.ConversationSummary{summary("a", t0)}, before))
	assert.Equal(t, 1, s.MergeSnapshot([]domain.ConversationSummary{summary("a", t0)}, s.Version()))
}

func TestStoreSubscribeCoalesces(t *testing.T) {
	s, _ := newTestStore()
	ch, cancel := s.Subscribe()
	defer cancel()

	s.MergeSnapshot([]domain.ConversationSummary{summary("a", t0)}, 0)
	s.ApplyUnreadCountSet("a", 3)
	s.ApplyUnreadCountSet("missing", 3)

	select {
	case <-ch:
	default:
		t.Fatal("expected a change signal")
	}
	select {
	case <-ch:
		t.Fatal("signals should coalesce")
	default:
	}

	cancel()
	s.ApplyUnreadCountSet("a", 1)
	select {
	case <-ch:
		t.Fatal("cancelled subscription must not be signalled")
	default:
	}
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	s, _ := newTestStore()
	c := summary("a", t0)
	c.LastMessage = &domain.LastMessage{ID: "m1", Content: "x"}
	s.MergeSnapshot([]domain.ConversationSummary{c}, 0)

	snap := s.Snapshot()
	snap[0].LastMessage.Content = "mutated"
	snap[0].UnreadCount = 99

	got, _ := s.Get("a")
	assert.Equal(t, "x", got.LastMessage.Content)
	assert.Zero(t, got.UnreadCount)
}

// Random interleavings of merges and events must keep ids unique and unread
// counters non-negative.
func TestStoreInvariantsUnderRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s, clk := newTestStore()
	idsPool := []string{"a", "b", "c", "d", "e"}
	pick := func() string { return idsPool[rng.Intn(len(idsPool))] }

	for i := 0; i < 2000; i++ {
		clk.Advance(time.Duration(rng.Intn(300)) * time.Millisecond)
		id := pick()
		switch rng.Intn(8) {
		case 0:
			var page []domain.ConversationSummary
			for j := 0; j < 3; j++ {
				c := summary(pick(), t0.Add(time.Duration(rng.Intn(1000))*time.Second))
				c.UnreadCount = rng.Intn(5) - 2
				page = append(page, c)
			}
			since := s.Version()
			if back := uint64(rng.Intn(3)); back <= since {
				since -= back
			}
			s.MergeSnapshot(page, since)
		case 1:
			s.ApplyNewMessage(domain.Message{
				ID:             fmt.Sprintf("m%d", i),
				ConversationID: id,
				SenderID:       pick(),
				SentAt:         clk.Now(),
			})
		case 2:
			s.ApplyMessagesRead(id, make([]string, rng.Intn(6)))
		case 3:
			s.ApplyUnreadCountSet(id, rng.Intn(10)-5)
		case 4:
			s.ApplyConversationCreated(summary(id, clk.Now()))
		case 5:
			s.Remove(id)
		case 6:
			n := rng.Intn(4) - 2
			s.ApplyConversationUpdate(id, domain.ConversationPatch{UnreadCount: &n})
		case 7:
			s.RemoveMany([]string{pick(), pick()})
		}

		seen := map[string]bool{}
		for _, c := range s.Snapshot() {
			require.False(t, seen[c.ID], "duplicate id %s at step %d", c.ID, i)
			seen[c.ID] = true
			require.GreaterOrEqual(t, c.UnreadCount, 0)
		}
	}
}
