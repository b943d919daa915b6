// ABOUTME: Snapshot folding: applying changes to a nested map by dotted path
// ABOUTME: Fold always works on a deep copy so callers' snapshots stay immutable

package change

import (
	"maps"
	"strings"
)

// Snapshot is the resolved state of a budget at one version
type Snapshot = map[string]any

// Apply returns a copy of base with every change folded in order
func Apply(base Snapshot, changes ...Change) Snapshot {
	out := Clone(base)
	for _, c := range changes {
		if c.IsRemoval() {
			deletePath(out, c.Field)
			continue
		}
		setPath(out, c.Field, cloneValue(c.NewValue))
	}
	return out
}

// Lookup reads a dotted path
func Lookup(s Snapshot, field string) (any, bool) {
	var cur any = s
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Clone deep-copies a snapshot
func Clone(s Snapshot) Snapshot {
	if s == nil {
		return Snapshot{}
	}
	return cloneValue(s).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case map[string]string:
		return maps.Clone(t)
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	default:
		return v
	}
}

func setPath(s Snapshot, field string, v any) {
	parts := strings.Split(field, ".")
	cur := s
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

func deletePath(s Snapshot, field string) {
	parts := strings.Split(field, ".")
	cur := s
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, parts[len(parts)-1])
}
