package realtime

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrying retries the idempotent operations of the wrapped store with bounded
// exponential backoff. Push is passed through untouched: replaying it would
// append a second record.
type Retrying struct {
	Store
	maxRetries uint64
	initial    time.Duration
	logger     *slog.Logger
}

func NewRetrying(s Store, maxRetries uint64, initial time.Duration, logger *slog.Logger) *Retrying {
	if logger == nil {
		logger = slog.Default()
	}
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	return &Retrying{Store: s, maxRetries: maxRetries, initial: initial, logger: logger}
}

func (r *Retrying) Write(ctx context.Context, path string, value any) error {
	return r.retry(ctx, "write", path, func() error { return r.Store.Write(ctx, path, value) })
}

func (r *Retrying) Update(ctx context.Context, values map[string]any) error {
	return r.retry(ctx, "update", "", func() error { return r.Store.Update(ctx, values) })
}

func (r *Retrying) Remove(ctx context.Context, path string) error {
	return r.retry(ctx, "remove", path, func() error { return r.Store.Remove(ctx, path) })
}

func (r *Retrying) Get(ctx context.Context, path string) (Snapshot, error) {
	var snap Snapshot
	err := r.retry(ctx, "get", path, func() error {
		var err error
		snap, err = r.Store.Get(ctx, path)
		return err
	})
	return snap, err
}

func (r *Retrying) retry(ctx context.Context, op, path string, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.initial
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, r.maxRetries), ctx)

	attempt := func() error {
		err := fn()
		if err != nil && permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("realtime_op_retry", "op", op, "path", path, "error", err, "wait", wait)
	}
	return backoff.RetryNotify(attempt, b, notify)
}

func permanent(err error) bool {
	return errors.Is(err, ErrInvalidPath) ||
		errors.Is(err, ErrOverlap) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
