package inbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inboxsync/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func summary(id string, updated time.Time) domain.ConversationSummary {
	return domain.ConversationSummary{
		ID:               id,
		OtherParticipant: domain.Participant{ID: "p-" + id, DisplayName: "User " + id},
		UpdatedAt:        updated,
	}
}

func ids(l List) []string {
	out := make([]string, len(l))
	for i := range l {
		out[i] = l[i].ID
	}
	return out
}

func TestUpsertFromSnapshotOrdersByRecency(t *testing.T) {
	l, n := UpsertFromSnapshot(nil, []domain.ConversationSummary{
		summary("a", t0),
		summary("b", t0.Add(time.Minute)),
		summary("c", t0.Add(-time.Minute)),
	}, nil)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"b", "a", "c"}, ids(l))
}

func TestUpsertFromSnapshotNeverOverwrites(t *testing.T) {
	existing := summary("a", t0)
	existing.UnreadCount = 4
	l := List{existing}

	stale := summary("a", t0.Add(-time.Hour))
	stale.UnreadCount = 0
	out, n := UpsertFromSnapshot(l, []domain.ConversationSummary{stale, stale}, nil)

	assert.Zero(t, n)
	require.Len(t, out, 1)
	assert.Equal(t, 4, out[0].UnreadCount)
	assert.True(t, out[0].UpdatedAt.Equal(t0))
}

func TestUpsertFromSnapshotSkipsAndClamps(t *testing.T) {
	neg := summary("b", t0)
	neg.UnreadCount = -3
	out, n := UpsertFromSnapshot(nil, []domain.ConversationSummary{summary("a", t0), neg, {ID: ""}},
		func(id string) bool { return id == "a" })
	assert.Equal(t, 1, n)
	require.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)
	assert.Zero(t, out[0].UnreadCount)
}

func TestApplyNewMessagePromotes(t *testing.T) {
	l := List{summary("b", t0.Add(time.Minute)), summary("a", t0)}
	sent := t0.Add(2 * time.Minute)

	out, ok := ApplyNewMessage(l, domain.Message{
		ID: "m1", ConversationID: "a", Content: "hello", SenderID: "p-a", ReceiverID: "me", SentAt: sent,
	}, "me")

	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, ids(out))
	assert.Equal(t, 1, out[0].UnreadCount)
	require.NotNil(t, out[0].LastMessage)
	assert.Equal(t, "hello", out[0].LastMessage.Content)
	assert.Equal(t, domain.MessageText, out[0].LastMessage.Type)
	assert.True(t, out[0].UpdatedAt.Equal(sent))
	assert.Equal(t, []string{"b", "a"}, ids(l), "input list must not change")
}

func TestApplyNewMessageUnreadOnlyForReceiver(t *testing.T) {
	l := List{summary("a", t0)}

	out, _ := ApplyNewMessage(l, domain.Message{ConversationID: "a", SenderID: "me", SentAt: t0.Add(time.Second)}, "me")
	assert.Zero(t, out[0].UnreadCount)

	out, _ = ApplyNewMessage(out, domain.Message{ConversationID: "a", SenderID: "x", ReceiverID: "other", SentAt: t0.Add(2 * time.Second)}, "me")
	assert.Zero(t, out[0].UnreadCount)

	out, _ = ApplyNewMessage(out, domain.Message{ConversationID: "a", SenderID: "x", SentAt: t0.Add(3 * time.Second)}, "me")
	assert.Equal(t, 1, out[0].UnreadCount)
}

func TestApplyNewMessageOlderKeepsPreview(t *testing.T) {
	s := summary("a", t0)
	s.LastMessage = &domain.LastMessage{ID: "new", SentAt: t0}
	out, ok := ApplyNewMessage(List{s}, domain.Message{ID: "old", ConversationID: "a", SenderID: "x", SentAt: t0.Add(-time.Minute)}, "me")
	require.True(t, ok)
	assert.Equal(t, "new", out[0].LastMessage.ID)
	assert.True(t, out[0].UpdatedAt.Equal(t0))
	assert.Equal(t, 1, out[0].UnreadCount)
}

func TestApplyNewMessageUnknown(t *testing.T) {
	l := List{summary("a", t0)}
	out, ok := ApplyNewMessage(l, domain.Message{ConversationID: "zzz"}, "me")
	assert.False(t, ok)
	assert.Equal(t, l, out)
}

func TestApplyConversationUpdate(t *testing.T) {
	l := List{summary("b", t0.Add(time.Minute)), summary("a", t0)}
	unread := -2
	title := domain.Product{ID: "p1", Title: "Lamp"}

	out, ok := ApplyConversationUpdate(l, "a", domain.ConversationPatch{UnreadCount: &unread, AssociatedProduct: &title})
	require.True(t, ok)
	assert.Equal(t, []string{"b", "a"}, ids(out))
	assert.Zero(t, out[1].UnreadCount)
	assert.Equal(t, "Lamp", out[1].AssociatedProduct.Title)
	assert.Nil(t, l[1].AssociatedProduct)

	later := t0.Add(time.Hour)
	out, ok = ApplyConversationUpdate(out, "a", domain.ConversationPatch{UpdatedAt: &later})
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, ids(out))

	_, ok = ApplyConversationUpdate(out, "nope", domain.ConversationPatch{UnreadCount: &unread})
	assert.False(t, ok)
}

func TestApplyConversationCreatedFirstWriterWins(t *testing.T) {
	existing := summary("a", t0)
	existing.UnreadCount = 2
	l := List{summary("b", t0.Add(time.Hour)), existing}

	out, ok := ApplyConversationCreated(l, summary("a", t0.Add(2*time.Hour)))
	assert.False(t, ok)
	assert.Equal(t, l, out)

	out, ok = ApplyConversationCreated(l, summary("c", t0.Add(-time.Hour)))
	assert.True(t, ok)
	assert.Equal(t, []string{"c", "b", "a"}, ids(out))
}

func TestUnreadCountersClamp(t *testing.T) {
	s := summary("a", t0)
	s.UnreadCount = 2
	l := List{s}

	out, ok := ApplyMessagesRead(l, "a", []string{"1", "2", "3"})
	require.True(t, ok)
	assert.Zero(t, out[0].UnreadCount)

	out, ok = ApplyUnreadCountSet(out, "a", -5)
	require.True(t, ok)
	assert.Zero(t, out[0].UnreadCount)

	out, _ = ApplyUnreadCountSet(out, "a", 7)
	assert.Equal(t, 7, out[0].UnreadCount)

	_, ok = ApplyMessagesRead(out, "missing", []string{"1"})
	assert.False(t, ok)
}

func TestApplyMessageDeleted(t *testing.T) {
	s := summary("a", t0)
	s.LastMessage = &domain.LastMessage{ID: "m2", Content: "second"}
	l := List{s}

	out, ok := ApplyMessageDeleted(l, "a", "m1", nil)
	assert.False(t, ok)
	assert.Equal(t, "m2", out[0].LastMessage.ID)

	repl := &domain.LastMessage{ID: "m1", Content: "first"}
	out, ok = ApplyMessageDeleted(l, "a", "m2", repl)
	require.True(t, ok)
	assert.Equal(t, "first", out[0].LastMessage.Content)

	out, ok = ApplyMessageDeleted(l, "a", "m2", nil)
	require.True(t, ok)
	assert.Nil(t, out[0].LastMessage)
}

func TestRemoveMany(t *testing.T) {
	l := List{summary("a", t0), summary("b", t0), summary("c", t0)}
	out, removed := RemoveMany(l, []string{"c", "a", "zzz"})
	assert.Equal(t, []string{"b"}, ids(out))
	assert.ElementsMatch(t, []string{"a", "c"}, removed)

	out, removed = RemoveMany(l, []string{"zzz"})
	assert.Nil(t, removed)
	assert.Len(t, out, 3)
}
