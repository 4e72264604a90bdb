// Package diff compares name-keyed snapshots.
package diff

import (
	"encoding/json"
	"reflect"
	"sort"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// MapResult is the difference between two name-keyed maps.
// Changed holds the old value of every key whose value differs.
type MapResult[V any] struct {
	Added   []string     `json:"added"`
	Removed []string     `json:"removed"`
	Changed map[string]V `json:"changed"`
}

// Empty reports whether nothing differs
func (r MapResult[V]) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Changed) == 0
}

// ChangedKeys returns the changed keys in sorted order
func (r MapResult[V]) ChangedKeys() []string {
	return sortedKeys(r.Changed)
}

// Maps compares old against new using eq for values present on both sides
func Maps[V any](old, new map[string]V, eq func(a, b V) bool) MapResult[V] {
	res := MapResult[V]{
		Added:   []string{},
		Removed: []string{},
		Changed: map[string]V{},
	}

	for k, ov := range old {
		nv, ok := new[k]
		if !ok {
			res.Removed = append(res.Removed, k)
			continue
		}
		if !eq(ov, nv) {
			res.Changed[k] = ov
		}
	}
	for k := range new {
		if _, ok := old[k]; !ok {
			res.Added = append(res.Added, k)
		}
	}

	sort.Strings(res.Added)
	sort.Strings(res.Removed)
	return res
}

// Versions compares two name→version maps
func Versions(old, new map[string]int) MapResult[int] {
	return Maps(old, new, func(a, b int) bool { return a == b })
}

// RowResult is the difference between two row sets keyed by one column.
// Added keys exist only in dst, Removed only in src; Changed lists the
// differing column names per key.
type RowResult struct {
	Added   []string            `json:"added"`
	Removed []string            `json:"removed"`
	Changed map[string][]string `json:"changed"`
}

// Empty reports whether nothing differs
func (r RowResult) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Changed) == 0
}

// Rows compares two row sets keyed by key, ignoring the listed columns.
// Rows without the key column are skipped; the last row wins on duplicate keys.
func Rows(src, dst []map[string]any, key string, ignore ...string) RowResult {
	skip := make(map[string]bool, len(ignore)+1)
	for _, c := range ignore {
		skip[c] = true
	}
	skip[key] = true

	index := func(rows []map[string]any) map[string]map[string]any {
		out := make(map[string]map[string]any, len(rows))
		for _, r := range rows {
			k, ok := r[key]
			if !ok || k == nil {
				continue
			}
			out[toKey(k)] = r
		}
		return out
	}

	srcIdx, dstIdx := index(src), index(dst)
	keyed := Maps(srcIdx, dstIdx, func(a, b map[string]any) bool {
		return len(changedColumns(a, b, skip)) == 0
	})

	res := RowResult{
		Added:   keyed.Added,
		Removed: keyed.Removed,
		Changed: map[string][]string{},
	}

	for _, k := range keyed.ChangedKeys() {
		res.Changed[k] = changedColumns(srcIdx[k], dstIdx[k], skip)
	}
	return res
}

func changedColumns(a, b map[string]any, skip map[string]bool) []string {
	cols := map[string]bool{}
	for c := range a {
		cols[c] = true
	}
	for c := range b {
		cols[c] = true
	}

	var changed []string
	for c := range cols {
		if skip[c] {
			continue
		}
		if !Equal(a[c], b[c]) {
			changed = append(changed, c)
		}
	}
	sort.Strings(changed)
	return changed
}

// Equal reports deep structural equality of JSON-like values.
// Raw JSON strings and []byte are compared as documents, so key order and
// whitespace do not matter.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	ab, aok := asJSON(a)
	bb, bok := asJSON(b)
	if aok && bok {
		return jsonpatch.Equal(ab, bb)
	}

	return reflect.DeepEqual(a, b)
}

func asJSON(v any) ([]byte, bool) {
	switch t := v.(type) {
	case json.RawMessage:
		return t, json.Valid(t)
	case []byte:
		return t, json.Valid(t)
	case string:
		return nil, false
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, false
		}
		return b, true
	}
}

func toKey(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
