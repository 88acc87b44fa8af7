package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionManagerOnlineStatus(t *testing.T) {
	m := NewSessionManager()
	phone := &Session{ID: "s1", UserID: "alice"}
	laptop := &Session{ID: "s2", UserID: "alice"}

	assert.True(t, m.Register(phone), "first session brings the user online")
	assert.False(t, m.Register(laptop))
	assert.Equal(t, 2, m.CountUserSessions("alice"))
	assert.False(t, m.IsUserOnline("bob"))

	assert.False(t, m.Unregister("s1"))
	assert.True(t, m.IsUserOnline("alice"))
	assert.True(t, m.Unregister("s2"), "last session takes the user offline")
	assert.False(t, m.IsUserOnline("alice"))
	assert.False(t, m.Unregister("s2"))
}
