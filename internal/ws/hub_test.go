package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHubRegistration(t *testing.T) {
	h := NewHub(nil)

	a1, first := h.Register("a", nil)
	assert.True(t, first)
	a2, first := h.Register("a", nil)
	assert.False(t, first)
	_, first = h.Register("b", nil)
	assert.True(t, first)

	assert.ElementsMatch(t, []string{"a", "b"}, h.Users())
	assert.Len(t, h.targets([]string{"a"}, nil), 2)
	assert.Equal(t, []*Peer{a2}, h.targets([]string{"a"}, a1))

	assert.False(t, h.Unregister(a1))
	assert.False(t, h.Unregister(a1), "second unregister is a no-op")
	assert.True(t, h.Online("a"))
	assert.True(t, h.Unregister(a2))
	assert.False(t, h.Online("a"))
	assert.Empty(t, h.targets([]string{"a", "nobody"}, nil))
}
