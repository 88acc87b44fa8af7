package realtime

import (
	"context"
	"sync"
)

// hub fans change notifications out to the subscriptions they concern.
type hub struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*Subscription]struct{})}
}

func (h *hub) add(s *Subscription) {
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
}

func (h *hub) remove(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

func (h *hub) changed(paths ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		for _, p := range paths {
			if related(s.path, p) {
				s.notify()
				break
			}
		}
	}
}

// failAll terminates every live subscription with err.
func (h *hub) failAll(err error) {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*Subscription]struct{})
	h.mu.Unlock()
	for s := range subs {
		s.fail(err)
	}
}

func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Subscription is a live listener on one path.
type Subscription struct {
	tree       *Tree
	path       string
	onSnapshot func(Snapshot)
	onError    func(error)

	ctx    context.Context
	cancel context.CancelFunc
	kick   chan struct{}
	errc   chan error
	once   sync.Once
}

func newSubscription(t *Tree, path string, onSnapshot func(Snapshot), onError func(error)) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscription{
		tree:       t,
		path:       path,
		onSnapshot: onSnapshot,
		onError:    onError,
		ctx:        ctx,
		cancel:     cancel,
		kick:       make(chan struct{}, 1),
		errc:       make(chan error, 1),
	}
}

func (s *Subscription) Path() string { return s.path }

// Unsubscribe detaches the listener. No snapshot is delivered once it returns,
// except one already being handed to the callback.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.tree.hub.remove(s)
		s.cancel()
	})
}

// notify coalesces: a pending kick already guarantees a fresh read.
func (s *Subscription) notify() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Subscription) fail(err error) {
	select {
	case s.errc <- err:
	default:
	}
}

func (s *Subscription) run() {
	defer s.Unsubscribe()
	if !s.deliver() {
		return
	}
	for {
		select {
		case <-s.ctx.Done():
			return
		case err := <-s.errc:
			if s.onError != nil && s.ctx.Err() == nil {
				s.onError(err)
			}
			return
		case <-s.kick:
			if !s.deliver() {
				return
			}
		}
	}
}

func (s *Subscription) deliver() bool {
	snap, err := s.tree.Get(s.ctx, s.path)
	if s.ctx.Err() != nil {
		return false
	}
	if err != nil {
		if s.onError != nil {
			s.onError(err)
		}
		return false
	}
	select {
	case err := <-s.errc:
		if s.onError != nil {
			s.onError(err)
		}
		return false
	default:
	}
	if s.onSnapshot != nil {
		s.onSnapshot(snap)
	}
	return true
}
