package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chat-sync/internal/metrics"
	"chat-sync/internal/models"
	"chat-sync/internal/realtime"
)

// ReadAcker marks messages addressed to the viewer as read. Each message is
// acknowledged at most once per acker; writes are fire-and-forget and only
// ever touch the read leaf.
type ReadAcker struct {
	store   realtime.Store
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	issued map[string]struct{}
	wg     sync.WaitGroup
}

func NewReadAcker(store realtime.Store, timeout time.Duration, logger *slog.Logger) *ReadAcker {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ReadAcker{
		store:   store,
		timeout: timeout,
		logger:  logger,
		issued:  make(map[string]struct{}),
	}
}

// Ack issues a read write for every unread message in msgs addressed to self
// and returns how many were issued.
func (a *ReadAcker) Ack(key, self string, msgs []models.Message) int {
	var todo []string
	a.mu.Lock()
	for _, m := range msgs {
		if m.ReceiverID != self || !m.Unread() {
			continue
		}
		if _, done := a.issued[m.ID]; done {
			continue
		}
		a.issued[m.ID] = struct{}{}
		todo = append(todo, m.ID)
	}
	a.wg.Add(len(todo))
	a.mu.Unlock()

	for _, id := range todo {
		go a.write(key, id)
	}
	return len(todo)
}

func (a *ReadAcker) write(key, id string) {
	defer a.wg.Done()
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.store.Write(ctx, realtime.Join(messagePath(key, id), "read"), true); err != nil {
		metrics.StoreWriteFailuresTotal.WithLabelValues("read_ack").Inc()
		a.logger.Warn("read_ack_failed", "conversation", key, "id", id, "error", err)
		return
	}
	metrics.ReadAcksTotal.Inc()
}

// Wait blocks until every issued write has finished.
func (a *ReadAcker) Wait() {
	a.wg.Wait()
}
