// Package realtime is the hierarchical, listen-able document store the chat
// model is written against. Values are JSON trees addressed by slash paths;
// listeners receive the complete current subtree after every change.
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrInvalidPath  = errors.New("realtime: invalid path")
	ErrOverlap      = errors.New("realtime: overlapping update paths")
	ErrClosed       = errors.New("realtime: store closed")
	ErrListenerLost = errors.New("realtime: change feed lost")
)

// Store is the push/listen API of the realtime database.
type Store interface {
	// Write creates or replaces the subtree at path. A nil value deletes it.
	Write(ctx context.Context, path string, value any) error
	// Update applies several writes atomically. Nil values delete.
	Update(ctx context.Context, values map[string]any) error
	// Push appends value under prefix with a generated, time-ordered id.
	Push(ctx context.Context, prefix string, value any) (string, error)
	// Remove deletes the subtree at path. Removing an absent path is not an error.
	Remove(ctx context.Context, path string) error
	Get(ctx context.Context, path string) (Snapshot, error)
	// Subscribe delivers the current subtree at path now and after every change
	// under or above it, until Unsubscribe or a backend failure (onError).
	Subscribe(path string, onSnapshot func(Snapshot), onError func(error)) (*Subscription, error)
	Close() error
}

// NewID returns a push id. Ids sort in creation order.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

type leaf struct {
	path string
	raw  []byte
}

type backend interface {
	apply(ctx context.Context, p plan) error
	read(ctx context.Context, path string) ([]leaf, error)
	close() error
}

// notifier is implemented by backends whose change feed comes from outside
// the process; the tree then leaves notification to the backend.
type notifier interface {
	listen(ctx context.Context, h *hub)
}

// Tree implements Store over a leaf backend.
type Tree struct {
	backend backend
	hub     *hub
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newTree(b backend, logger *slog.Logger) *Tree {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tree{backend: b, hub: newHub(), logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	if n, ok := b.(notifier); ok {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			n.listen(ctx, t.hub)
		}()
	}
	return t
}

func (t *Tree) Write(ctx context.Context, path string, value any) error {
	return t.Update(ctx, map[string]any{path: value})
}

func (t *Tree) Update(ctx context.Context, values map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := buildPlan(values)
	if err != nil {
		return err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return ErrClosed
	}
	if err := t.backend.apply(ctx, p); err != nil {
		return err
	}
	if _, external := t.backend.(notifier); !external {
		t.hub.changed(p.changed...)
	}
	return nil
}

func (t *Tree) Push(ctx context.Context, prefix string, value any) (string, error) {
	id := NewID()
	if err := t.Write(ctx, Join(prefix, id), value); err != nil {
		return "", err
	}
	return id, nil
}

func (t *Tree) Remove(ctx context.Context, path string) error {
	return t.Write(ctx, path, nil)
}

func (t *Tree) Get(ctx context.Context, path string) (Snapshot, error) {
	clean, err := Clean(path)
	if err != nil {
		return Snapshot{}, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return Snapshot{}, ErrClosed
	}
	leaves, err := t.backend.read(ctx, clean)
	if err != nil {
		return Snapshot{}, err
	}
	return assemble(clean, leaves)
}

func (t *Tree) Subscribe(path string, onSnapshot func(Snapshot), onError func(error)) (*Subscription, error) {
	clean, err := Clean(path)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	s := newSubscription(t, clean, onSnapshot, onError)
	t.hub.add(s)
	go s.run()
	return s, nil
}

// Close fails every live subscription with ErrClosed and releases the backend.
func (t *Tree) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	t.hub.failAll(ErrClosed)
	return t.backend.close()
}
