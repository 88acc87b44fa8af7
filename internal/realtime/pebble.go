package realtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/pebble"
)

// pebbleBackend keeps one key per leaf path, so a subtree is a key range.
type pebbleBackend struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) an embedded store under dir.
func OpenPebble(dir string, logger *slog.Logger) (*Tree, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("realtime: open pebble %s: %w", dir, err)
	}
	return newTree(&pebbleBackend{db: db}, logger), nil
}

// subtreeBounds covers path and everything below it. Keys between the two
// bounds that are neither are filtered by within.
func subtreeBounds(path string) ([]byte, []byte) {
	if path == "/" {
		return []byte("/"), []byte("0")
	}
	return []byte(path), []byte(path + "0")
}

func (p *pebbleBackend) apply(_ context.Context, pl plan) error {
	b := p.db.NewBatch()
	defer b.Close()
	for _, c := range pl.clears {
		if err := p.clear(b, c); err != nil {
			return err
		}
	}
	for _, a := range pl.ancestors {
		if err := b.Delete([]byte(a), nil); err != nil {
			return err
		}
	}
	for _, l := range pl.puts {
		if err := b.Set([]byte(l.path), l.raw, nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

func (p *pebbleBackend) clear(b *pebble.Batch, path string) error {
	lower, upper := subtreeBounds(path)
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		k := string(iter.Key())
		if !within(path, k) {
			continue
		}
		if err := b.Delete([]byte(k), nil); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (p *pebbleBackend) read(_ context.Context, path string) ([]leaf, error) {
	lower, upper := subtreeBounds(path)
	iter, err := p.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []leaf
	for iter.First(); iter.Valid(); iter.Next() {
		k := string(iter.Key())
		if !within(path, k) {
			continue
		}
		v := make([]byte, len(iter.Value()))
		copy(v, iter.Value())
		out = append(out, leaf{path: k, raw: v})
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *pebbleBackend) close() error {
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}
