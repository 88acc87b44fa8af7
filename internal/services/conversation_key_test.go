package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationKeyIsCommutative(t *testing.T) {
	pairs := [][2]string{
		{"alice", "bob"},
		{"b", "a"},
		{"0c6f-41", "0c6f-4"},
		{"Zed", "adam"},
	}
	for _, p := range pairs {
		assert.Equal(t, ConversationKey(p[0], p[1]), ConversationKey(p[1], p[0]))
	}
	assert.Equal(t, "alice_bob", ConversationKey("bob", "alice"))
}

func TestConversationKeyIsCollisionFree(t *testing.T) {
	ids := []string{"a", "b", "ab", "a-b", "ba", "u1", "u10", "u1-0"}
	seen := make(map[string][2]string)
	for i, a := range ids {
		for _, b := range ids[i+1:] {
			key := ConversationKey(a, b)
			if prev, ok := seen[key]; ok {
				t.Fatalf("%v and %v share key %q", [2]string{a, b}, prev, key)
			}
			seen[key] = [2]string{a, b}

			x, y, ok := keyMembers(key)
			require.True(t, ok)
			assert.ElementsMatch(t, []string{a, b}, []string{x, y})
		}
	}
}

func TestConversationKeyRejectsBadInput(t *testing.T) {
	assert.Panics(t, func() { ConversationKey("a", "a") })
	assert.Panics(t, func() { ConversationKey("", "b") })
	assert.Panics(t, func() { ConversationKey("a", "") })
}

func TestValidUserID(t *testing.T) {
	assert.NoError(t, ValidUserID("3f2c9a4e-7b1d-4c55-9d1e-2a6f0b8c1d22"))
	for _, bad := range []string{"", "a_b", "a/b", "a.b", "a#b", "a$b", "a[b", "a]b"} {
		assert.ErrorIs(t, ValidUserID(bad), ErrInvalidUserID, bad)
	}
}
