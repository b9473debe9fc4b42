package pipefile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operon-io/operon/pkg/op"
)

func newExpressions(t *testing.T) *Expressions {
	t.Helper()
	e, err := NewExpressions()
	require.NoError(t, err)
	return e
}

func TestFilterLowersComparison(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want op.Compare
	}{
		{
			name: "field left",
			src:  `item.age >= 30`,
			want: op.Compare{Field: "age", Op: op.CmpGte, Value: int64(30)},
		},
		{
			name: "field right flips",
			src:  `30 <= item.age`,
			want: op.Compare{Field: "age", Op: op.CmpGte, Value: int64(30)},
		},
		{
			name: "equality",
			src:  `item.name == "ada"`,
			want: op.Compare{Field: "name", Op: op.CmpEq, Value: "ada"},
		},
		{
			name: "nested field",
			src:  `item.meta.tag != "x"`,
			want: op.Compare{Field: "meta.tag", Op: op.CmpNe, Value: "x"},
		},
		{
			name: "index with constant key",
			src:  `item["words"] > 10`,
			want: op.Compare{Field: "words", Op: op.CmpGt, Value: int64(10)},
		},
		{
			name: "membership",
			src:  `item.kind in ["draft", "note"]`,
			want: op.Compare{Field: "kind", Op: op.CmpIn, Value: []any{"draft", "note"}},
		},
	}

	e := newExpressions(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := e.Filter(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, pred)
		})
	}
}

func TestFilterLowersConjunction(t *testing.T) {
	e := newExpressions(t)
	pred, err := e.Filter(`item.age >= 30 && item.name == "ada"`)
	require.NoError(t, err)

	and, ok := pred.(op.And)
	require.True(t, ok)
	require.Len(t, and, 2)
	assert.Equal(t, op.Compare{Field: "age", Op: op.CmpGte, Value: int64(30)}, and[0])
	assert.Equal(t, op.Compare{Field: "name", Op: op.CmpEq, Value: "ada"}, and[1])
}

func TestFilterKeepsProgramForm(t *testing.T) {
	tests := []struct {
		name string
		src  string
		item map[string]any
		want bool
	}{
		{
			name: "disjunction",
			src:  `item.age > 40 || item.age < 5`,
			item: map[string]any{"age": 3},
			want: true,
		},
		{
			name: "function call",
			src:  `item.name.startsWith("a")`,
			item: map[string]any{"name": "ada"},
			want: true,
		},
		{
			name: "field to field",
			src:  `item.a == item.b`,
			item: map[string]any{"a": 1, "b": 2},
			want: false,
		},
	}

	e := newExpressions(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := e.Filter(tt.src)
			require.NoError(t, err)

			fn, ok := pred.(op.Func)
			require.True(t, ok, "expression should stay in program form")
			got, err := fn(tt.item)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFilterRejectsNonBool(t *testing.T) {
	e := newExpressions(t)
	pred, err := e.Filter(`item.age`)
	require.NoError(t, err)

	fn, ok := pred.(op.Func)
	require.True(t, ok)
	_, err = fn(map[string]any{"age": 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a bool")
}

func TestFilterCompileError(t *testing.T) {
	e := newExpressions(t)
	_, err := e.Filter(`item..age >`)
	require.Error(t, err)
}

func TestMapper(t *testing.T) {
	e := newExpressions(t)
	fn, err := e.Mapper(`item.age * 2`)
	require.NoError(t, err)

	got, err := fn(map[string]any{"age": 3}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got)
}

func TestMapperOrdinal(t *testing.T) {
	e := newExpressions(t)
	fn, err := e.Mapper(`ordinal`)
	require.NoError(t, err)

	got, err := fn(map[string]any{}, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got)
}

func TestReducer(t *testing.T) {
	e := newExpressions(t)
	fn, err := e.Reducer(`acc + item.age`)
	require.NoError(t, err)

	acc, err := fn(int64(10), map[string]any{"age": 25})
	require.NoError(t, err)
	assert.Equal(t, int64(35), acc)
}

func TestTransformer(t *testing.T) {
	e := newExpressions(t)
	fn, err := e.Transformer(`items.size()`)
	require.NoError(t, err)

	got, err := fn([]any{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)
}

func TestTransformerUnwrapsLists(t *testing.T) {
	e := newExpressions(t)
	fn, err := e.Transformer(`[items.size(), items[0]]`)
	require.NoError(t, err)

	got, err := fn([]any{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(2), "a"}, got)
}

func TestEvalError(t *testing.T) {
	e := newExpressions(t)
	fn, err := e.Mapper(`item.missing.deep`)
	require.NoError(t, err)

	_, err = fn(map[string]any{}, 0)
	require.Error(t, err)
}
