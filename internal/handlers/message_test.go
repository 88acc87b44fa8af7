package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"chat-sync/internal/models"
	"chat-sync/internal/realtime"
	"chat-sync/internal/services"

	"github.com/gofiber/websocket/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder stands in for the socket.
type recorder struct {
	mu   sync.Mutex
	sent []models.WSMessage
}

func (r *recorder) SendJSON(payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, payload.(models.WSMessage))
	return nil
}

func (r *recorder) lastOf(event string) (models.WSMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].Event == event {
			return r.sent[i], true
		}
	}
	return models.WSMessage{}, false
}

type harness struct {
	store *realtime.Tree
	chat  *services.ChatService
	users *services.UserService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := realtime.NewMemory(nil)
	t.Cleanup(func() { store.Close() })
	users := services.NewUserService(store, "test-secret", time.Hour, time.Second)
	chat := services.NewChatService(store, services.ChatOptions{OpTimeout: time.Second, Directory: users})
	return &harness{store: store, chat: chat, users: users}
}

func (h *harness) session(t *testing.T, user string) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	s := NewSession(user+"-session", user, user, rec, h.chat, h.users)
	t.Cleanup(s.Close)
	return s, rec
}

func event(t *testing.T, s *Session, msg models.WSMessage) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	s.HandleMessage(websocket.TextMessage, raw)
}

func TestSessionConversationFlow(t *testing.T) {
	h := newHarness(t)
	alice, aliceOut := h.session(t, "alice")
	bob, bobOut := h.session(t, "bob")

	event(t, alice, models.WSMessage{Event: "open", Peer: "bob"})
	event(t, alice, models.WSMessage{Event: "send", Text: "Hi"})

	require.Eventually(t, func() bool {
		m, ok := aliceOut.lastOf("messages")
		return ok && len(m.Messages) == 1
	}, 2*time.Second, 5*time.Millisecond)
	m, _ := aliceOut.lastOf("messages")
	assert.Equal(t, "bob", m.Peer)
	assert.True(t, m.Messages[0].IsYourMessage)
	assert.False(t, m.Messages[0].Read)
	require.NotNil(t, m.OtherUser)
	assert.Equal(t, services.NameUnknown, m.OtherUser.Name)

	event(t, bob, models.WSMessage{Event: "open", Peer: "alice"})
	require.Eventually(t, func() bool {
		m, ok := aliceOut.lastOf("messages")
		return ok && len(m.Messages) == 1 && m.Messages[0].Read
	}, 2*time.Second, 5*time.Millisecond)

	id := m.Messages[0].ID
	event(t, alice, models.WSMessage{Event: "edit", ID: id, Text: "Hello"})
	require.Eventually(t, func() bool {
		m, ok := bobOut.lastOf("messages")
		return ok && len(m.Messages) == 1 && m.Messages[0].Text == "Hello" && m.Messages[0].Edited
	}, 2*time.Second, 5*time.Millisecond)

	event(t, bob, models.WSMessage{Event: "delete", ID: id})
	e, ok := bobOut.lastOf("error")
	require.True(t, ok)
	assert.Equal(t, services.ErrNotMessageOwner.Error(), e.Error)

	event(t, alice, models.WSMessage{Event: "delete", ID: id})
	require.Eventually(t, func() bool {
		m, ok := bobOut.lastOf("messages")
		return ok && len(m.Messages) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSessionRosterAndDeleteConversation(t *testing.T) {
	h := newHarness(t)
	_, err := h.chat.Send(context.Background(), services.SendInput{From: "bob", To: "alice", Content: "ping"})
	require.NoError(t, err)
	_, err = h.chat.Send(context.Background(), services.SendInput{From: "alice", To: "carol", Content: "pong"})
	require.NoError(t, err)

	alice, out := h.session(t, "alice")
	event(t, alice, models.WSMessage{Event: "roster", Filter: "unread"})
	require.Eventually(t, func() bool {
		r, ok := out.lastOf("roster")
		return ok && len(r.Roster) == 1 && r.Roster[0].PeerID == "bob"
	}, 2*time.Second, 5*time.Millisecond)

	event(t, alice, models.WSMessage{Event: "roster", Filter: "all"})
	require.Eventually(t, func() bool {
		r, ok := out.lastOf("roster")
		return ok && r.Filter == "all" && len(r.Roster) == 2
	}, 2*time.Second, 5*time.Millisecond)

	event(t, alice, models.WSMessage{Event: "delete_conversation", Peer: "bob"})
	require.Eventually(t, func() bool {
		r, ok := out.lastOf("roster")
		return ok && len(r.Roster) == 1 && r.Roster[0].PeerID == "carol"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSessionRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	alice, out := h.session(t, "alice")

	alice.HandleMessage(websocket.TextMessage, []byte("{not json"))
	e, ok := out.lastOf("error")
	require.True(t, ok)
	assert.Equal(t, "invalid message", e.Error)

	event(t, alice, models.WSMessage{Event: "open", Peer: "alice"})
	e, _ = out.lastOf("error")
	assert.Equal(t, services.ErrSelfConversation.Error(), e.Error)

	event(t, alice, models.WSMessage{Event: "send", Peer: "bob", Text: "  "})
	e, _ = out.lastOf("error")
	assert.Equal(t, services.ErrInvalidMessage.Error(), e.Error)
}

func TestClosedSessionWritesNothing(t *testing.T) {
	h := newHarness(t)
	alice, out := h.session(t, "alice")
	alice.Close()

	event(t, alice, models.WSMessage{Event: "send", Peer: "bob", Text: "too late"})
	e, ok := out.lastOf("error")
	require.True(t, ok)
	assert.Equal(t, "could not save, try again", e.Error)

	snap, err := h.store.Get(context.Background(), "/messages")
	require.NoError(t, err)
	assert.False(t, snap.Exists())
}
