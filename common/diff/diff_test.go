package diff

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionsReflexive(t *testing.T) {
	for _, m := range []map[string]int{
		{},
		{"a": 1},
		{"a": 1, "b": 7, "c": 3},
	} {
		res := Versions(m, m)
		assert.True(t, res.Empty())
		assert.Equal(t, []string{}, res.Added)
		assert.Equal(t, []string{}, res.Removed)
		assert.Equal(t, map[string]int{}, res.Changed)
	}
}

func TestVersionsClassifies(t *testing.T) {
	old := map[string]int{"keep": 1, "bump": 3, "gone": 2}
	new := map[string]int{"keep": 1, "bump": 4, "fresh": 1, "alsofresh": 9}

	res := Versions(old, new)
	assert.Equal(t, []string{"alsofresh", "fresh"}, res.Added)
	assert.Equal(t, []string{"gone"}, res.Removed)
	assert.Equal(t, map[string]int{"bump": 3}, res.Changed)
	assert.Equal(t, []string{"bump"}, res.ChangedKeys())
}

func TestEqualIsStructural(t *testing.T) {
	assert.True(t, Equal(json.RawMessage(`{"a":1,"b":[1,2]}`), json.RawMessage(`{ "b":[1,2], "a":1 }`)))
	assert.True(t, Equal(map[string]any{"a": 1}, json.RawMessage(`{"a":1}`)))
	assert.True(t, Equal(int64(3), float64(3)))
	assert.True(t, Equal("x", "x"))
	assert.True(t, Equal(nil, nil))

	assert.False(t, Equal(json.RawMessage(`{"a":1}`), json.RawMessage(`{"a":2}`)))
	assert.False(t, Equal([]any{1, 2}, []any{2, 1}))
	assert.False(t, Equal("x", nil))
	assert.False(t, Equal("1", 1))
}

func TestRows(t *testing.T) {
	src := []map[string]any{
		{"id": 1, "name": "a", "flow_id": "f1", "desc": "A"},
		{"id": 2, "name": "b", "flow_id": "f2", "desc": "B"},
		{"id": 3, "name": "c", "flow_id": "f3", "desc": "C"},
	}
	dst := []map[string]any{
		{"id": 10, "name": "a", "flow_id": "f1", "desc": "A"},
		{"id": 20, "name": "b", "flow_id": "f9", "desc": "B2"},
		{"id": 40, "name": "d", "flow_id": "f4", "desc": "D"},
	}

	res := Rows(src, dst, "name", "id")
	assert.Equal(t, []string{"d"}, res.Added)
	assert.Equal(t, []string{"c"}, res.Removed)
	assert.Equal(t, map[string][]string{"b": {"desc", "flow_id"}}, res.Changed)

	assert.True(t, Rows(src, src, "name").Empty())
}

func TestRowsNestedValues(t *testing.T) {
	src := []map[string]any{{"name": "a", "cfg": map[string]any{"x": []any{1.0, 2.0}}}}
	dst := []map[string]any{{"name": "a", "cfg": json.RawMessage(`{"x":[1,2]}`)}}

	assert.True(t, Rows(src, dst, "name").Empty())
}
