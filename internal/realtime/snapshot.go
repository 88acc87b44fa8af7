package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Snapshot is an immutable view of the subtree at a path.
type Snapshot struct {
	path  string
	value any
}

func (s Snapshot) Path() string { return s.path }

// Key is the last path segment, "" for the root.
func (s Snapshot) Key() string { return lastSegment(s.path) }

func (s Snapshot) Exists() bool { return s.value != nil }

// Value is the raw tree: map[string]any for objects, json.Number, string,
// bool or []any for leaves, nil when absent.
func (s Snapshot) Value() any { return s.value }

func (s Snapshot) Child(name string) Snapshot {
	child := Snapshot{path: Join(s.path, name)}
	if m, ok := s.value.(map[string]any); ok {
		child.value = m[name]
	}
	return child
}

// Children returns the direct children ordered by key.
func (s Snapshot) Children() []Snapshot {
	m, ok := s.value.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		out = append(out, Snapshot{path: Join(s.path, k), value: m[k]})
	}
	return out
}

// Decode unmarshals the subtree into v the way encoding/json would.
func (s Snapshot) Decode(v any) error {
	raw, err := json.Marshal(s.value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func assemble(path string, leaves []leaf) (Snapshot, error) {
	snap := Snapshot{path: path}
	for _, l := range leaves {
		if !within(path, l.path) {
			continue
		}
		val, err := decodeLeaf(l.raw)
		if err != nil {
			return Snapshot{}, fmt.Errorf("realtime: decode %s: %w", l.path, err)
		}
		rel := relative(path, l.path)
		if len(rel) == 0 {
			snap.value = val
			continue
		}
		root, ok := snap.value.(map[string]any)
		if !ok {
			root = make(map[string]any)
			snap.value = root
		}
		node := root
		for _, seg := range rel[:len(rel)-1] {
			next, ok := node[seg].(map[string]any)
			if !ok {
				next = make(map[string]any)
				node[seg] = next
			}
			node = next
		}
		node[rel[len(rel)-1]] = val
	}
	return snap, nil
}

func decodeLeaf(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
