package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamOrdersByTimestampThenID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := ConversationKey("alice", "bob")
	for id, ts := range map[string]int{"m2": 5, "m1": 5, "m9": 1} {
		require.NoError(t, f.store.Write(ctx, messagePath(key, id), map[string]any{
			"senderId": "alice", "receiverId": "bob", "content": id, "timestamp": ts,
		}))
	}

	var v views
	st, err := f.chat.OpenStream(key, "alice", v.handlers())
	require.NoError(t, err)
	defer st.Close()

	require.Eventually(t, func() bool {
		last, ok := v.last()
		return ok && len(last.Messages) == 3
	}, waitFor, 5*time.Millisecond)
	last, _ := v.last()
	assert.Equal(t, []string{"m9", "m1", "m2"}, ids(last.Messages))
	assert.Equal(t, last.Messages, st.Current().Messages)
}

func TestSnapshotApplicationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.send(t, "alice", "bob", "one")
	f.clock.Advance(time.Second)
	f.send(t, "bob", "alice", "two")

	snap, err := f.store.Get(ctx, conversationPath(ConversationKey("alice", "bob")))
	require.NoError(t, err)
	first := conversationMessages(snap, f.chat.logger)
	second := conversationMessages(snap, f.chat.logger)
	assert.Equal(t, first, second)
	assert.Len(t, first, 2)
}

func TestStreamSkipsUndecodableRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := ConversationKey("alice", "bob")
	f.send(t, "alice", "bob", "fine")
	require.NoError(t, f.store.Write(ctx, messagePath(key, "junk"), map[string]any{"timestamp": "soon"}))
	require.NoError(t, f.store.Write(ctx, messagePath(key, "stub"), map[string]any{"read": true}))

	snap, err := f.store.Get(ctx, conversationPath(key))
	require.NoError(t, err)
	msgs := conversationMessages(snap, f.chat.logger)
	require.Len(t, msgs, 1)
	assert.Equal(t, "fine", msgs[0].Content)
}

func TestOpenStreamRejectsOutsiders(t *testing.T) {
	f := newFixture(t)
	_, err := f.chat.OpenStream(ConversationKey("alice", "bob"), "carol", StreamHandlers{})
	require.ErrorIs(t, err, ErrInvalidUserID)
	_, err = f.chat.OpenConversation("alice", "alice", StreamHandlers{})
	require.ErrorIs(t, err, ErrSelfConversation)
}

// Alice writes to Bob; Bob opening the conversation marks it read for both.
func TestReadFlowBetweenTwoViewers(t *testing.T) {
	f := newFixture(t)
	m := f.send(t, "alice", "bob", "Hi")

	var aliceViews views
	alice, err := f.chat.OpenConversation("alice", "bob", aliceViews.handlers())
	require.NoError(t, err)
	defer alice.Close()

	require.Eventually(t, func() bool {
		last, ok := aliceViews.last()
		return ok && len(last.Messages) == 1 && last.Messages[0].Unread()
	}, waitFor, 5*time.Millisecond, "the sender's own view never acknowledges")

	var bobViews views
	bob, err := f.chat.OpenConversation("bob", "alice", bobViews.handlers())
	require.NoError(t, err)
	defer bob.Close()

	require.Eventually(t, func() bool {
		got := f.stored(t, "alice", "bob", m.ID)
		return got.Read != nil && *got.Read
	}, waitFor, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		last, ok := aliceViews.last()
		return ok && len(last.Messages) == 1 && !last.Messages[0].Unread()
	}, waitFor, 5*time.Millisecond)

	// more traffic does not bring the flag back
	f.clock.Advance(time.Second)
	f.send(t, "alice", "bob", "Still there?")
	require.Eventually(t, func() bool {
		last, ok := bobViews.last()
		return ok && len(last.Messages) == 2 && !last.Messages[0].Unread() && !last.Messages[1].Unread()
	}, waitFor, 5*time.Millisecond)
	got := f.stored(t, "alice", "bob", m.ID)
	assert.Equal(t, "Hi", got.Content)
	assert.True(t, *got.Read)
}

// A 10 second message outlives 9 seconds and is gone after the next sweep
// past its deadline.
func TestEphemeralMessageLifecycle(t *testing.T) {
	f := newFixture(t)
	m, err := f.chat.Send(context.Background(), SendInput{From: "alice", To: "bob", Content: "secret", ExpiresIn: 10 * time.Second})
	require.NoError(t, err)

	var v views
	st, err := f.chat.OpenConversation("bob", "alice", v.handlers())
	require.NoError(t, err)
	defer st.Close()

	require.Eventually(t, func() bool {
		last, ok := v.last()
		return ok && len(last.Messages) == 1
	}, waitFor, 5*time.Millisecond)

	f.clock.Advance(9 * time.Second)
	time.Sleep(50 * time.Millisecond)
	f.stored(t, "alice", "bob", m.ID)
	assert.Equal(t, time.Second, st.Current().Messages[0].Remaining(f.clock.Now()))

	f.clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		last, _ := v.last()
		return len(last.Messages) == 0
	}, waitFor, 5*time.Millisecond)
	_, err = f.chat.Message(context.Background(), "alice", "bob", m.ID)
	require.ErrorIs(t, err, ErrMessageNotFound)
}

func TestStreamReportsLostSyncAndRecovers(t *testing.T) {
	f := newFixture(t)
	b := &breakable{Store: f.store}
	chat := NewChatService(b, ChatOptions{OpTimeout: time.Second, Now: f.clock.Now})

	var v views
	st, err := chat.OpenConversation("alice", "bob", v.handlers())
	require.NoError(t, err)
	defer st.Close()
	require.Eventually(t, func() bool { _, ok := v.last(); return ok }, waitFor, 5*time.Millisecond)

	b.breakAll(errors.New("feed down"))

	require.Eventually(t, func() bool {
		states := v.syncStates()
		return len(states) == 2 && states[0].Lost && !states[1].Lost
	}, waitFor, 10*time.Millisecond)
	assert.ErrorIs(t, v.syncStates()[0].Err, ErrListener)

	f.send(t, "bob", "alice", "back online")
	require.Eventually(t, func() bool {
		last, _ := v.last()
		return len(last.Messages) == 1
	}, waitFor, 5*time.Millisecond)
}

func TestStreamCloseStopsCallbacks(t *testing.T) {
	f := newFixture(t)
	var v views
	st, err := f.chat.OpenConversation("alice", "bob", v.handlers())
	require.NoError(t, err)
	require.Eventually(t, func() bool { _, ok := v.last(); return ok }, waitFor, 5*time.Millisecond)

	st.Close()
	st.Close()
	before, _ := v.last()
	f.send(t, "bob", "alice", "anyone?")
	time.Sleep(50 * time.Millisecond)
	after, _ := v.last()
	assert.Equal(t, before.Revision, after.Revision)
}

func TestHistoryDoesNotAcknowledge(t *testing.T) {
	f := newFixture(t)
	m := f.send(t, "alice", "bob", "hi")

	msgs, err := f.chat.History(context.Background(), "bob", "alice")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, m.ID, msgs[0].ID)
	assert.True(t, f.stored(t, "alice", "bob", m.ID).Unread())
}
