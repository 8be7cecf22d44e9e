package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inboxsync/internal/domain"
)

func TestNewAndDecode(t *testing.T) {
	sent := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	env, err := New(NewMessage, "c1", NewMessagePayload{Message: domain.Message{
		ID: "m1", ConversationID: "c1", Content: "hi", SenderID: "u2", SentAt: sent,
	}})
	require.NoError(t, err)
	assert.Equal(t, NewMessage, env.Type)
	assert.Equal(t, "c1", env.ConversationID)
	assert.NotZero(t, env.Timestamp)

	var p NewMessagePayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, "m1", p.Message.ID)
	assert.True(t, p.Message.SentAt.Equal(sent))
}

func TestDecodeEmptyPayload(t *testing.T) {
	env, err := New(ConversationDeleted, "c1", nil)
	require.NoError(t, err)

	var p MessagesReadPayload
	assert.NoError(t, env.Decode(&p))
	assert.Nil(t, p.MessageIDs)
}

func TestDecodeMalformed(t *testing.T) {
	env := Envelope{Type: MessagesRead, Payload: []byte(`{"messageIds":3}`)}
	var p MessagesReadPayload
	assert.Error(t, env.Decode(&p))
}

func TestTypeClassification(t *testing.T) {
	assert.True(t, NewMessage.Known())
	assert.False(t, Type("bogus").Known())
	assert.False(t, Error.Known())
	assert.True(t, UserOnlineStatus.Global())
	assert.False(t, NewUnreadCount.Global())
}
