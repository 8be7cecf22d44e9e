package service_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inboxsync/internal/domain"
	"inboxsync/internal/event"
	"inboxsync/internal/security"
	"inboxsync/internal/service"
	"inboxsync/internal/store/sqlite"
)

type delivery struct {
	to  []string
	env event.Envelope
}

type recordingNotifier struct {
	mu  sync.Mutex
	out []delivery
}

func (n *recordingNotifier) Notify(userIDs []string, env event.Envelope) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.out = append(n.out, delivery{to: append([]string(nil), userIDs...), env: env})
}

func (n *recordingNotifier) take() []delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.out
	n.out = nil
	return out
}

type inboxFixture struct {
	convs *service.ConversationService
	msgs  *service.MessageService
	users *service.UserService
	note  *recordingNotifier
	me    *domain.User
	alice *domain.User
	bob   *domain.User
}

func newInbox(t *testing.T) *inboxFixture {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })

	userRepo := sqlite.NewUserRepo(db)
	convRepo := sqlite.NewConversationRepo(db)
	msgRepo := sqlite.NewMessageRepo(db)

	f := &inboxFixture{note: &recordingNotifier{}}
	f.convs = service.NewConversationService(convRepo, userRepo, f.note, nil)
	f.msgs = service.NewMessageService(convRepo, msgRepo, f.note, nil)
	f.users = service.NewUserService(userRepo)

	mk := func(name, display string) *domain.User {
		u := &domain.User{Username: name, DisplayName: display, HashedPassword: "x"}
		require.NoError(t, userRepo.Create(context.Background(), u))
		return u
	}
	f.me, f.alice, f.bob = mk("me", "Me"), mk("alice", "Alice"), mk("bob", "Bob")
	return f
}

func (f *inboxFixture) open(t *testing.T, with *domain.User) string {
	t.Helper()
	sum, created, err := f.convs.Create(context.Background(), service.ConversationCreateInput{ParticipantID: with.ID}, f.me.ID)
	require.NoError(t, err)
	require.True(t, created)
	return sum.ID
}

func TestCreateConversation(t *testing.T) {
	f := newInbox(t)
	ctx := context.Background()

	sum, created, err := f.convs.Create(ctx, service.ConversationCreateInput{
		ParticipantID: f.alice.ID,
		Product:       &domain.Product{ID: "p1", Title: "Bike"},
	}, f.me.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, f.alice.ID, sum.OtherParticipant.ID)
	require.NotNil(t, sum.AssociatedProduct)
	assert.Equal(t, "Bike", sum.AssociatedProduct.Title)

	sent := f.note.take()
	require.Len(t, sent, 2)
	for _, d := range sent {
		assert.Equal(t, event.ConversationCreated, d.env.Type)
		var p event.ConversationCreatedPayload
		require.NoError(t, d.env.Decode(&p))
		require.Len(t, d.to, 1)
		assert.NotEqual(t, d.to[0], p.Conversation.OtherParticipant.ID, "each member sees the other side")
	}

	again, created, err := f.convs.Create(ctx, service.ConversationCreateInput{
		ParticipantID: f.alice.ID,
		Product:       &domain.Product{ID: "p1", Title: "Bike"},
	}, f.me.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, sum.ID, again.ID)
	assert.Empty(t, f.note.take())

	_, _, err = f.convs.Create(ctx, service.ConversationCreateInput{ParticipantID: f.me.ID}, f.me.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, _, err = f.convs.Create(ctx, service.ConversationCreateInput{ParticipantID: "missing"}, f.me.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListPagination(t *testing.T) {
	f := newInbox(t)
	ctx := context.Background()
	f.open(t, f.alice)
	f.open(t, f.bob)

	page, err := f.convs.List(ctx, f.me.ID, 1, 1, "recent")
	require.NoError(t, err)
	assert.Len(t, page.Conversations, 1)
	assert.True(t, page.HasMore)

	page, err = f.convs.List(ctx, f.me.ID, 2, 1, "recent")
	require.NoError(t, err)
	assert.Len(t, page.Conversations, 1)
	assert.False(t, page.HasMore)

	page, err = f.convs.List(ctx, f.me.ID, 3, 1, "")
	require.NoError(t, err)
	assert.NotNil(t, page.Conversations)
	assert.Empty(t, page.Conversations)

	_, err = f.convs.List(ctx, f.me.ID, 1, 10, "sideways")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSendMessage(t *testing.T) {
	f := newInbox(t)
	ctx := context.Background()
	convID := f.open(t, f.alice)
	f.note.take()

	msg, err := f.msgs.Send(ctx, f.alice.ID, convID, service.SendMessageInput{Content: "  hi  "})
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, domain.MessageText, msg.Type)
	assert.Equal(t, f.me.ID, msg.ReceiverID)

	sent := f.note.take()
	require.Len(t, sent, 1)
	assert.Equal(t, event.NewMessage, sent[0].env.Type)
	assert.Equal(t, convID, sent[0].env.ConversationID)
	assert.ElementsMatch(t, []string{f.me.ID, f.alice.ID}, sent[0].to)

	page, err := f.convs.List(ctx, f.me.ID, 1, 10, "recent")
	require.NoError(t, err)
	require.Len(t, page.Conversations, 1)
	assert.Equal(t, 1, page.Conversations[0].UnreadCount)
	require.NotNil(t, page.Conversations[0].LastMessage)
	assert.Equal(t, "hi", page.Conversations[0].LastMessage.Content)

	_, err = f.msgs.Send(ctx, f.bob.ID, convID, service.SendMessageInput{Content: "hey"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.msgs.Send(ctx, f.alice.ID, "missing", service.SendMessageInput{Content: "hey"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.msgs.Send(ctx, f.alice.ID, convID, service.SendMessageInput{Content: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.msgs.Send(ctx, f.alice.ID, convID, service.SendMessageInput{Content: "x", Type: "hologram"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBulkDeleteAndReappear(t *testing.T) {
	f := newInbox(t)
	ctx := context.Background()
	a := f.open(t, f.alice)
	b := f.open(t, f.bob)

	hidden, err := f.convs.BulkDelete(ctx, f.me.ID, []string{a, b, "unknown"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, hidden)

	page, err := f.convs.List(ctx, f.me.ID, 1, 10, "recent")
	require.NoError(t, err)
	assert.Empty(t, page.Conversations)

	// The other side keeps its copy.
	page, err = f.convs.List(ctx, f.alice.ID, 1, 10, "recent")
	require.NoError(t, err)
	assert.Len(t, page.Conversations, 1)

	time.Sleep(5 * time.Millisecond)
	_, err = f.msgs.Send(ctx, f.alice.ID, a, service.SendMessageInput{Content: "still there?"})
	require.NoError(t, err)

	page, err = f.convs.List(ctx, f.me.ID, 1, 10, "recent")
	require.NoError(t, err)
	require.Len(t, page.Conversations, 1)
	assert.Equal(t, a, page.Conversations[0].ID)

	_, err = f.convs.BulkDelete(ctx, f.me.ID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestMarkReadAndTyping(t *testing.T) {
	f := newInbox(t)
	ctx := context.Background()
	convID := f.open(t, f.alice)

	for _, text := range []string{"one", "two"} {
		_, err := f.msgs.Send(ctx, f.alice.ID, convID, service.SendMessageInput{Content: text})
		require.NoError(t, err)
	}
	f.note.take()

	ids, err := f.msgs.MarkRead(ctx, f.me.ID, convID)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	sent := f.note.take()
	require.Len(t, sent, 1)
	assert.Equal(t, event.MessagesRead, sent[0].env.Type)
	assert.Equal(t, []string{f.me.ID}, sent[0].to)

	ids, err = f.msgs.MarkRead(ctx, f.me.ID, convID)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, f.note.take(), "nothing new to report")

	require.NoError(t, f.msgs.Typing(ctx, f.me.ID, convID, true))
	sent = f.note.take()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{f.alice.ID}, sent[0].to)
	var p event.UserTypingPayload
	require.NoError(t, sent[0].env.Decode(&p))
	assert.Equal(t, f.me.ID, p.UserID)
	assert.True(t, p.IsTyping)

	assert.ErrorIs(t, f.msgs.Typing(ctx, f.bob.ID, convID, true), domain.ErrForbidden)
}

func TestEditAndDeleteMessage(t *testing.T) {
	f := newInbox(t)
	ctx := context.Background()
	convID := f.open(t, f.alice)
	other := f.open(t, f.bob)

	var sent []*domain.Message
	for _, text := range []string{"one", "two"} {
		m, err := f.msgs.Send(ctx, f.alice.ID, convID, service.SendMessageInput{Content: text})
		require.NoError(t, err)
		sent = append(sent, m)
	}
	mine, err := f.msgs.Send(ctx, f.me.ID, other, service.SendMessageInput{Content: "to bob"})
	require.NoError(t, err)
	f.note.take()

	_, err = f.msgs.Edit(ctx, f.me.ID, convID, sent[1].ID, "hijack")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.msgs.Edit(ctx, f.me.ID, convID, mine.ID, "wrong thread")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.msgs.Edit(ctx, f.alice.ID, convID, sent[1].ID, "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	// an older message changes no preview
	edited, err := f.msgs.Edit(ctx, f.alice.ID, convID, sent[0].ID, "one, fixed")
	require.NoError(t, err)
	assert.True(t, edited.Edited)
	assert.Empty(t, f.note.take())

	_, err = f.msgs.Edit(ctx, f.alice.ID, convID, sent[1].ID, "two, fixed")
	require.NoError(t, err)
	notes := f.note.take()
	require.Len(t, notes, 1)
	assert.Equal(t, event.ConversationUpdated, notes[0].env.Type)
	assert.ElementsMatch(t, []string{f.me.ID, f.alice.ID}, notes[0].to)
	var patch event.ConversationUpdatedPayload
	require.NoError(t, notes[0].env.Decode(&patch))
	require.NotNil(t, patch.LastMessage)
	assert.Equal(t, "two, fixed", patch.LastMessage.Content)

	assert.ErrorIs(t, f.msgs.Delete(ctx, f.bob.ID, convID, sent[1].ID), domain.ErrForbidden)

	require.NoError(t, f.msgs.Delete(ctx, f.alice.ID, convID, sent[1].ID))
	notes = f.note.take()
	require.Len(t, notes, 2)
	assert.Equal(t, event.MessageDeleted, notes[0].env.Type)
	var del event.MessageDeletedPayload
	require.NoError(t, notes[0].env.Decode(&del))
	assert.Equal(t, sent[1].ID, del.MessageID)
	require.NotNil(t, del.LastMessage)
	assert.Equal(t, sent[0].ID, del.LastMessage.ID)
	assert.Equal(t, "one, fixed", del.LastMessage.Content)

	assert.Equal(t, event.NewUnreadCount, notes[1].env.Type)
	assert.Equal(t, []string{f.me.ID}, notes[1].to)
	var unread event.NewUnreadCountPayload
	require.NoError(t, notes[1].env.Decode(&unread))
	assert.Equal(t, 1, unread.Count)

	assert.ErrorIs(t, f.msgs.Delete(ctx, f.alice.ID, convID, sent[1].ID), domain.ErrNotFound)

	// once read, deleting the last message touches no counter
	_, err = f.msgs.MarkRead(ctx, f.me.ID, convID)
	require.NoError(t, err)
	f.note.take()
	require.NoError(t, f.msgs.Delete(ctx, f.alice.ID, convID, sent[0].ID))
	notes = f.note.take()
	require.Len(t, notes, 1)
	del = event.MessageDeletedPayload{}
	require.NoError(t, notes[0].env.Decode(&del))
	assert.Nil(t, del.LastMessage)

	page, err := f.convs.List(ctx, f.me.ID, 1, 10, "recent")
	require.NoError(t, err)
	for _, c := range page.Conversations {
		if c.ID == convID {
			assert.Nil(t, c.LastMessage)
			assert.Zero(t, c.UnreadCount)
		}
	}
}

func TestDirectory(t *testing.T) {
	f := newInbox(t)
	ctx := context.Background()
	f.open(t, f.alice)

	dir, err := f.users.Directory(ctx, f.me.ID)
	require.NoError(t, err)
	assert.Len(t, dir, 2)
	for _, p := range dir {
		assert.NotEqual(t, f.me.ID, p.ID)
	}
}

func TestSeedDemo(t *testing.T) {
	ctx := context.Background()
	note := &recordingNotifier{}
	hasher := security.NewPasswordHasher(4)
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, sqlite.Migrate(db))
	t.Cleanup(func() { db.Close() })

	users := sqlite.NewUserRepo(db)
	convRepo := sqlite.NewConversationRepo(db)
	auth := service.NewAuthService(users, security.NewTokenService("s", time.Hour), hasher)
	convs := service.NewConversationService(convRepo, users, note, nil)
	msgs := service.NewMessageService(convRepo, sqlite.NewMessageRepo(db), note, nil)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, service.SeedDemo(ctx, auth, convs, msgs, logger))
	require.NoError(t, service.SeedDemo(ctx, auth, convs, msgs, logger), "seeding twice is a no-op")

	resp, err := auth.Login(ctx, service.LoginInput{Username: "me", Password: service.DemoPassword})
	require.NoError(t, err)
	page, err := convs.List(ctx, resp.User.ID, 1, 10, "recent")
	require.NoError(t, err)
	assert.Len(t, page.Conversations, 3)

	unread := 0
	for _, c := range page.Conversations {
		unread += c.UnreadCount
	}
	assert.Equal(t, 4, unread)
}
