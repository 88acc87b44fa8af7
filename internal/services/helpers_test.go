package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"chat-sync/internal/models"
	"chat-sync/internal/realtime"

	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.UnixMilli(1_700_000_000_000)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store *realtime.Tree
	chat  *ChatService
	users *UserService
	clock *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := realtime.NewMemory(nil)
	t.Cleanup(func() { store.Close() })
	c := newClock()
	users := NewUserService(store, "test-secret", time.Hour, time.Second)
	chat := NewChatService(store, ChatOptions{
		OpTimeout:     time.Second,
		SweepInterval: 10 * time.Millisecond,
		Directory:     users,
		Now:           c.Now,
	})
	return &fixture{store: store, chat: chat, users: users, clock: c}
}

func (f *fixture) send(t *testing.T, from, to, text string) models.Message {
	t.Helper()
	m, err := f.chat.Send(context.Background(), SendInput{From: from, To: to, Content: text})
	require.NoError(t, err)
	return m
}

func (f *fixture) stored(t *testing.T, from, to, id string) models.Message {
	t.Helper()
	m, err := f.chat.Message(context.Background(), from, to, id)
	require.NoError(t, err)
	return m
}

func (f *fixture) profile(t *testing.T, id, name string) {
	t.Helper()
	require.NoError(t, f.store.Write(context.Background(), profilePath(id), models.Profile{Name: name, Email: id + "@example.com"}))
}

// views collects published stream views.
type views struct {
	mu   sync.Mutex
	list []StreamView
	sync []SyncState
}

func (v *views) onView(sv StreamView) {
	v.mu.Lock()
	v.list = append(v.list, sv)
	v.mu.Unlock()
}

func (v *views) onSync(s SyncState) {
	v.mu.Lock()
	v.sync = append(v.sync, s)
	v.mu.Unlock()
}

func (v *views) handlers() StreamHandlers {
	return StreamHandlers{OnView: v.onView, OnSync: v.onSync}
}

func (v *views) last() (StreamView, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.list) == 0 {
		return StreamView{}, false
	}
	return v.list[len(v.list)-1], true
}

func (v *views) syncStates() []SyncState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]SyncState(nil), v.sync...)
}

func ids(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

// breakable lets tests fail live subscriptions the way a lost change feed does.
type breakable struct {
	realtime.Store
	mu   sync.Mutex
	subs []brokenSub
}

type brokenSub struct {
	sub     *realtime.Subscription
	onError func(error)
}

func (b *breakable) Subscribe(path string, onSnapshot func(realtime.Snapshot), onError func(error)) (*realtime.Subscription, error) {
	sub, err := b.Store.Subscribe(path, onSnapshot, onError)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.subs = append(b.subs, brokenSub{sub: sub, onError: onError})
	b.mu.Unlock()
	return sub, nil
}

func (b *breakable) breakAll(err error) {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, s := range subs {
		s.sub.Unsubscribe()
		s.onError(err)
	}
}
