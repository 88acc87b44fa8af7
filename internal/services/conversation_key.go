package services

import (
	"fmt"
	"strings"

	"chat-sync/internal/realtime"
)

// KeySeparator joins the two participant ids of a conversation key. User ids
// never contain it, which keeps keys collision free.
const KeySeparator = "_"

// ValidUserID reports whether id can take part in a conversation key and be
// used as a store path segment.
func ValidUserID(id string) error {
	if id == "" || strings.Contains(id, KeySeparator) || realtime.ValidSegment(id) != nil {
		return fmt.Errorf("%w: %q", ErrInvalidUserID, id)
	}
	return nil
}

// ConversationKey returns the canonical key of the conversation between a and
// b: ConversationKey(a, b) == ConversationKey(b, a). Calling it with an empty
// id or with a == b is a programming error and panics.
func ConversationKey(a, b string) string {
	if a == "" || b == "" || a == b {
		panic(fmt.Sprintf("services: conversation key needs two distinct ids, got %q and %q", a, b))
	}
	if b < a {
		a, b = b, a
	}
	return a + KeySeparator + b
}

// keyMembers splits a conversation key back into its two ids.
func keyMembers(key string) (string, string, bool) {
	a, b, ok := strings.Cut(key, KeySeparator)
	if !ok || a == "" || b == "" || strings.Contains(b, KeySeparator) {
		return "", "", false
	}
	return a, b, true
}

func conversationPath(key string) string { return realtime.Join("messages", key) }

func messagePath(key, id string) string { return realtime.Join("messages", key, id) }

func indexPath(self, peer string) string { return realtime.Join("conversations", self, peer) }

func profilePath(id string) string { return realtime.Join("users", id) }

func accountPath(id string) string { return realtime.Join("accounts", id) }
