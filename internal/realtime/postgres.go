package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	postgresTable   = "rt_nodes"
	postgresChannel = "rt_changes"
)

// postgresBackend stores leaves in one table and publishes changed paths with
// NOTIFY; every process sharing the database sees every other's writes.
type postgresBackend struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres prepares the leaf table and starts the LISTEN loop. The pool
// stays owned by the caller.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*Tree, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ddl := `CREATE TABLE IF NOT EXISTS ` + postgresTable + ` (
		path  TEXT PRIMARY KEY,
		value JSONB NOT NULL
	)`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("realtime: create %s: %w", postgresTable, err)
	}
	return newTree(&postgresBackend{pool: pool, logger: logger}, logger), nil
}

func subtreePrefix(path string) string {
	if path == "/" {
		return "/"
	}
	return path + "/"
}

func (p *postgresBackend) apply(ctx context.Context, pl plan) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, c := range pl.clears {
		batch.Queue(`DELETE FROM `+postgresTable+` WHERE path = $1 OR left(path, length($2)) = $2`, c, subtreePrefix(c))
	}
	if len(pl.ancestors) > 0 {
		batch.Queue(`DELETE FROM `+postgresTable+` WHERE path = ANY($1)`, pl.ancestors)
	}
	for _, l := range pl.puts {
		batch.Queue(`INSERT INTO `+postgresTable+` (path, value) VALUES ($1, $2::jsonb)
			ON CONFLICT (path) DO UPDATE SET value = EXCLUDED.value`, l.path, string(l.raw))
	}
	for _, c := range pl.changed {
		batch.Queue(`SELECT pg_notify($1, $2)`, postgresChannel, c)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *postgresBackend) read(ctx context.Context, path string) ([]leaf, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT path, value::text FROM `+postgresTable+` WHERE path = $1 OR left(path, length($2)) = $2 ORDER BY path`,
		path, subtreePrefix(path))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leaf
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out = append(out, leaf{path: k, raw: []byte(v)})
	}
	return out, rows.Err()
}

// listen holds one pooled connection on LISTEN and reconnects with backoff.
// While disconnected, live subscriptions are failed so their owners resubscribe.
func (p *postgresBackend) listen(ctx context.Context, h *hub) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	op := func() error {
		conn, err := p.pool.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			h.failAll(fmt.Errorf("%w: %v", ErrListenerLost, err))
			return err
		}
		defer func() {
			_, _ = conn.Exec(context.Background(), "UNLISTEN *")
			conn.Release()
		}()
		if _, err := conn.Exec(ctx, "LISTEN "+postgresChannel); err != nil {
			h.failAll(fmt.Errorf("%w: %v", ErrListenerLost, err))
			return err
		}
		p.logger.Info("realtime_listener_connected", "channel", postgresChannel)
		b.Reset()
		// notifications sent while nobody was listening are lost; re-read everything
		h.changed("/")
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				h.failAll(fmt.Errorf("%w: %v", ErrListenerLost, err))
				return err
			}
			h.changed(n.Payload)
		}
	}
	notify := func(err error, wait time.Duration) {
		p.logger.Warn("realtime_listener_retry", "error", err, "wait", wait)
	}
	err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Error("realtime_listener_stopped", "error", err)
	}
}

func (p *postgresBackend) close() error { return nil }
