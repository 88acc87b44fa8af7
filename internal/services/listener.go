package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"chat-sync/internal/realtime"

	"github.com/cenkalti/backoff/v4"
)

// listener keeps one subscription alive. After a failure it reports the loss
// and resubscribes with backoff until stopped; the backoff resets on the next
// snapshot. Callbacks run on the subscription goroutine, one at a time, and
// never after stop returns. stop must not be called from a callback.
type listener struct {
	store      realtime.Store
	path       string
	onSnapshot func(realtime.Snapshot)
	onLost     func(error)
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	deliverMu sync.Mutex

	mu     sync.Mutex
	sub    *realtime.Subscription
	bo     backoff.BackOff
	closed bool
}

func newResubscribeBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func startListener(store realtime.Store, path string, onSnapshot func(realtime.Snapshot), onLost func(error), logger *slog.Logger) (*listener, error) {
	ctx, cancel := context.WithCancel(context.Background())
	l := &listener{
		store:      store,
		path:       path,
		onSnapshot: onSnapshot,
		onLost:     onLost,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		bo:         newResubscribeBackOff(),
	}
	if err := l.subscribe(); err != nil {
		cancel()
		return nil, err
	}
	return l, nil
}

func (l *listener) subscribe() error {
	sub, err := l.store.Subscribe(l.path, l.deliver, l.fail)
	if err != nil {
		return err
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		sub.Unsubscribe()
		return realtime.ErrClosed
	}
	l.sub = sub
	l.mu.Unlock()
	return nil
}

func (l *listener) deliver(snap realtime.Snapshot) {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.bo.Reset()
	l.mu.Unlock()
	l.onSnapshot(snap)
}

func (l *listener) fail(err error) {
	l.deliverMu.Lock()
	defer l.deliverMu.Unlock()
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.sub = nil
	l.wg.Add(1)
	l.mu.Unlock()

	l.logger.Warn("listener_lost", "path", l.path, "error", err)
	if l.onLost != nil {
		l.onLost(err)
	}
	go l.resubscribe()
}

func (l *listener) resubscribe() {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		wait := l.bo.NextBackOff()
		l.mu.Unlock()

		t := time.NewTimer(wait)
		select {
		case <-l.ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		err := l.subscribe()
		if err == nil {
			l.logger.Info("listener_resubscribed", "path", l.path)
			return
		}
		if errors.Is(err, realtime.ErrClosed) {
			return
		}
		l.logger.Warn("listener_resubscribe_failed", "path", l.path, "error", err, "wait", wait)
	}
}

func (l *listener) stop() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	sub := l.sub
	l.sub = nil
	l.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	l.cancel()
	l.deliverMu.Lock()
	l.deliverMu.Unlock()
	l.wg.Wait()
}
