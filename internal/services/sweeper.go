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

// Sweeper deletes ephemeral messages of one conversation once their deadline
// has passed. It keeps the ids it already asked the store to remove until the
// messages drop out of the view, so a failed removal is tried again on a
// later tick and a successful one is not repeated.
type Sweeper struct {
	store    realtime.Store
	key      string
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
}

func NewSweeper(store realtime.Store, key string, interval, timeout time.Duration, now func() time.Time, logger *slog.Logger) *Sweeper {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sweeper{
		store:    store,
		key:      key,
		interval: interval,
		timeout:  timeout,
		now:      now,
		logger:   logger,
		pending:  make(map[string]struct{}),
	}
}

// Run sweeps the messages returned by source every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, source func() []models.Message) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx, source())
		}
	}
}

// Sweep is one tick: it removes every expired message of msgs that is not
// already pending and returns the ids it removed.
func (s *Sweeper) Sweep(ctx context.Context, msgs []models.Message) []string {
	now := s.now()
	var due []string

	s.mu.Lock()
	present := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		present[m.ID] = struct{}{}
	}
	for id := range s.pending {
		if _, ok := present[id]; !ok {
			delete(s.pending, id)
		}
	}
	for _, m := range msgs {
		if !m.Expired(now) {
			continue
		}
		if _, ok := s.pending[m.ID]; ok {
			continue
		}
		s.pending[m.ID] = struct{}{}
		due = append(due, m.ID)
	}
	s.mu.Unlock()

	var removed []string
	for _, id := range due {
		opCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := s.store.Remove(opCtx, messagePath(s.key, id))
		cancel()
		if err != nil {
			s.mu.Lock()
			delete(s.pending, id)
			s.mu.Unlock()
			metrics.StoreWriteFailuresTotal.WithLabelValues("sweep").Inc()
			s.logger.Warn("sweeper_delete_failed", "conversation", s.key, "id", id, "error", err)
			continue
		}
		metrics.ExpiredRemovedTotal.Inc()
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		s.logger.Debug("sweeper_removed", "conversation", s.key, "count", len(removed))
	}
	return removed
}
