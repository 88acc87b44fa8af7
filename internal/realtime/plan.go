package realtime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// plan is one atomic mutation of the leaf set.
type plan struct {
	// clears are subtrees removed before puts are applied.
	clears []string
	// ancestors are exact leaf paths removed because a write now nests under them.
	ancestors []string
	puts      []leaf
	changed   []string
}

func buildPlan(values map[string]any) (plan, error) {
	var p plan
	paths := make([]string, 0, len(values))
	cleaned := make(map[string]any, len(values))
	for raw, v := range values {
		clean, err := Clean(raw)
		if err != nil {
			return plan{}, err
		}
		if _, dup := cleaned[clean]; dup {
			return plan{}, fmt.Errorf("%w: %s", ErrOverlap, clean)
		}
		cleaned[clean] = v
		paths = append(paths, clean)
	}
	sort.Strings(paths)
	for i := 1; i < len(paths); i++ {
		if within(paths[i-1], paths[i]) {
			return plan{}, fmt.Errorf("%w: %s and %s", ErrOverlap, paths[i-1], paths[i])
		}
	}

	seen := make(map[string]bool)
	for _, path := range paths {
		leaves, err := flatten(path, cleaned[path])
		if err != nil {
			return plan{}, err
		}
		p.clears = append(p.clears, path)
		p.puts = append(p.puts, leaves...)
		p.changed = append(p.changed, path)
		for _, a := range ancestorsOf(path) {
			if !seen[a] {
				seen[a] = true
				p.ancestors = append(p.ancestors, a)
			}
		}
	}
	return p, nil
}

func ancestorsOf(path string) []string {
	var out []string
	for {
		i := strings.LastIndexByte(path, '/')
		if i <= 0 {
			return out
		}
		path = path[:i]
		out = append(out, path)
	}
}

// flatten turns value into leaves under path. Objects recurse, empty objects
// and nulls produce nothing, every other JSON value is one leaf.
func flatten(path string, value any) ([]leaf, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("realtime: encode %s: %w", path, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("realtime: encode %s: %w", path, err)
	}
	var out []leaf
	if err := collect(path, tree, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func collect(path string, v any, out *[]leaf) error {
	switch node := v.(type) {
	case nil:
		return nil
	case map[string]any:
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := ValidSegment(k); err != nil {
				return fmt.Errorf("key %q under %s: %w", k, path, err)
			}
			if err := collect(Join(path, k), node[k], out); err != nil {
				return err
			}
		}
		return nil
	default:
		raw, err := json.Marshal(node)
		if err != nil {
			return err
		}
		*out = append(*out, leaf{path: path, raw: raw})
		return nil
	}
}
