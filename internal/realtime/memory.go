package realtime

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

type memoryBackend struct {
	mu     sync.RWMutex
	leaves map[string][]byte
}

// NewMemory returns a process-local store.
func NewMemory(logger *slog.Logger) *Tree {
	return newTree(&memoryBackend{leaves: make(map[string][]byte)}, logger)
}

func (m *memoryBackend) apply(_ context.Context, p plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range p.clears {
		for k := range m.leaves {
			if within(c, k) {
				delete(m.leaves, k)
			}
		}
	}
	for _, a := range p.ancestors {
		delete(m.leaves, a)
	}
	for _, l := range p.puts {
		m.leaves[l.path] = l.raw
	}
	return nil
}

func (m *memoryBackend) read(_ context.Context, path string) ([]leaf, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []leaf
	for k, v := range m.leaves {
		if within(path, k) {
			out = append(out, leaf{path: k, raw: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}

func (m *memoryBackend) close() error { return nil }
