package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chat-sync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rosterViews struct {
	mu   sync.Mutex
	list []RosterView
}

func (r *rosterViews) onView(v RosterView) {
	r.mu.Lock()
	r.list = append(r.list, v)
	r.mu.Unlock()
}

func (r *rosterViews) last() RosterView {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) == 0 {
		return RosterView{}
	}
	return r.list[len(r.list)-1]
}

func (r *rosterViews) peers() []string {
	var out []string
	for _, e := range r.last().Entries {
		out = append(out, e.PeerID)
	}
	return out
}

func (f *fixture) openRoster(t *testing.T, self string) (*Roster, *rosterViews) {
	t.Helper()
	var rv rosterViews
	r, err := f.chat.OpenRoster(self, f.users, rv.onView)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r, &rv
}

func TestRosterSummaries(t *testing.T) {
	f := newFixture(t)
	f.profile(t, "bob", "Bob")
	f.profile(t, "carol", "Carol")

	f.send(t, "bob", "alice", "b1")
	f.clock.Advance(time.Second)
	f.send(t, "bob", "alice", "b2")
	f.clock.Advance(time.Second)
	f.send(t, "alice", "carol", "c1")
	f.send(t, "bob", "carol", "not mine")

	_, rv := f.openRoster(t, "alice")
	base := newClock().Now().UnixMilli()

	require.Eventually(t, func() bool {
		v := rv.last()
		if len(v.Entries) != 2 {
			return false
		}
		return v.Entries[0].DisplayName == "Carol" && v.Entries[1].DisplayName == "Bob"
	}, waitFor, 5*time.Millisecond)

	assert.Equal(t, []models.ConversationSummary{
		{PeerID: "carol", DisplayName: "Carol", LastTimestamp: base + 2000, UnreadCount: 0},
		{PeerID: "bob", DisplayName: "Bob", LastTimestamp: base + 1000, UnreadCount: 2},
	}, rv.last().Entries)

	unread := Filter(rv.last().Entries, models.RosterUnread)
	require.Len(t, unread, 1)
	assert.Equal(t, "bob", unread[0].PeerID)
	entries := rv.last().Entries
	assert.Equal(t, entries, Filter(entries, models.RosterAll))
}

func TestRosterAdmitsIndexOnlyPeers(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Write(context.Background(), indexPath("alice", "dave"), true))

	_, rv := f.openRoster(t, "alice")
	require.Eventually(t, func() bool {
		v := rv.last()
		return len(v.Entries) == 1 && v.Entries[0].DisplayName == NameUnknown
	}, waitFor, 5*time.Millisecond)
	e := rv.last().Entries[0]
	assert.Equal(t, "dave", e.PeerID)
	assert.Zero(t, e.LastTimestamp)
	assert.Zero(t, e.UnreadCount)
}

func TestRosterTiesBreakOnPeerID(t *testing.T) {
	entries := []models.ConversationSummary{
		{PeerID: "zed", LastTimestamp: 5},
		{PeerID: "amy", LastTimestamp: 5},
		{PeerID: "bob", LastTimestamp: 9},
	}
	sortSummaries(entries)
	assert.Equal(t, "bob", entries[0].PeerID)
	assert.Equal(t, "amy", entries[1].PeerID)
	assert.Equal(t, "zed", entries[2].PeerID)
}

// slowDirectory holds lookups until released.
type slowDirectory struct {
	release chan struct{}
	calls   sync.Map
}

func (d *slowDirectory) DisplayName(ctx context.Context, id string) (string, bool, error) {
	n, _ := d.calls.LoadOrStore(id, new(int))
	*n.(*int)++
	select {
	case <-d.release:
		return "Name of " + id, true, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

func TestRosterShowsPlaceholderUntilNameResolves(t *testing.T) {
	f := newFixture(t)
	f.send(t, "bob", "alice", "hi")
	dir := &slowDirectory{release: make(chan struct{})}

	var rv rosterViews
	r, err := f.chat.OpenRoster("alice", dir, rv.onView)
	require.NoError(t, err)
	defer r.Close()

	require.Eventually(t, func() bool {
		v := rv.last()
		return len(v.Entries) == 1 && v.Entries[0].DisplayName == NamePending
	}, waitFor, 5*time.Millisecond)

	// later changes do not start a second lookup
	f.send(t, "bob", "alice", "again")
	require.Eventually(t, func() bool {
		v := rv.last()
		return len(v.Entries) == 1 && v.Entries[0].UnreadCount == 2
	}, waitFor, 5*time.Millisecond)

	close(dir.release)
	require.Eventually(t, func() bool {
		return rv.last().Entries[0].DisplayName == "Name of bob"
	}, waitFor, 5*time.Millisecond)
	n, _ := dir.calls.Load("bob")
	assert.Equal(t, 1, *n.(*int))
}

// Bob deletes the conversation; it disappears from both rosters.
func TestRosterDeleteIsSymmetric(t *testing.T) {
	f := newFixture(t)
	f.profile(t, "alice", "Alice")
	f.profile(t, "bob", "Bob")
	f.send(t, "alice", "bob", "hello")

	_, aliceRoster := f.openRoster(t, "alice")
	bob, bobRoster := f.openRoster(t, "bob")
	for _, rv := range []*rosterViews{aliceRoster, bobRoster} {
		rv := rv
		require.Eventually(t, func() bool { return len(rv.last().Entries) == 1 }, waitFor, 5*time.Millisecond)
	}

	require.NoError(t, bob.Delete(context.Background(), "alice"))

	require.Eventually(t, func() bool { return len(bobRoster.last().Entries) == 0 }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(aliceRoster.last().Entries) == 0 }, waitFor, 5*time.Millisecond)
	assert.Empty(t, aliceRoster.peers())
}

func TestRosterSyncLost(t *testing.T) {
	f := newFixture(t)
	b := &breakable{Store: f.store}
	chat := NewChatService(b, ChatOptions{OpTimeout: time.Second})

	var rv rosterViews
	r, err := chat.OpenRoster("alice", nil, rv.onView)
	require.NoError(t, err)
	defer r.Close()
	require.Eventually(t, func() bool { return rv.last().Revision >= 2 }, waitFor, 5*time.Millisecond)

	b.breakAll(errors.New("feed down"))
	require.Eventually(t, func() bool { return rv.last().SyncLost }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return !rv.last().SyncLost }, waitFor, 10*time.Millisecond)
}

func TestConversationsOneShot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.profile(t, "bob", "Bob")
	f.send(t, "bob", "alice", "hi")
	require.NoError(t, f.store.Write(ctx, indexPath("alice", "ghost"), true))

	entries, err := f.chat.Conversations(ctx, "alice", f.users)
	require.NoError(t, err)
	assert.Equal(t, []models.ConversationSummary{
		{PeerID: "bob", DisplayName: "Bob", LastTimestamp: f.clock.Now().UnixMilli(), UnreadCount: 1},
		{PeerID: "ghost", DisplayName: NameUnknown},
	}, entries)
}
