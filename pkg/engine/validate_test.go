package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operon-io/operon/pkg/op"
)

// bindTarget is a name-only target for composition tests; it cannot
// execute anything.
type bindTarget struct{ name string }

func (t *bindTarget) Name() string { return t.name }

func TestValidate_EmptyPipeline(t *testing.T) {
	err := Validate(nil)
	require.Error(t, err)

	ve, ok := AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, 0, ve.Index)
	assert.Contains(t, ve.Message, "empty")
}

func TestValidate_InProcessFirstFails(t *testing.T) {
	cases := []struct {
		name string
		n    op.Node
	}{
		{"filter", op.NewFilter(op.Gt("age", 30))},
		{"map", op.NewMap(func(item any, _ int) (any, error) { return item, nil })},
		{"reduce", op.NewReduce(func(acc, _ any) (any, error) { return acc, nil }, 0)},
		{"transform", op.NewTransform(func(items []any) (any, error) { return items, nil })},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.n)
			require.Error(t, err)

			ve, ok := AsValidationError(err)
			require.True(t, ok)
			assert.Equal(t, 0, ve.Index)
			assert.Contains(t, ve.Message, "first operation")
		})
	}
}

func TestValidate_BoundInProcessFails(t *testing.T) {
	tgt := &bindTarget{name: "a"}
	n := &op.Pipeline{
		First:  op.Bind(op.NewReadAll[person](), tgt),
		Second: op.Bind(op.NewFilter(op.Gt("age", 30)), tgt),
	}

	err := Validate(n)
	require.Error(t, err)

	ve, ok := AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, 1, ve.Index)
	assert.Contains(t, ve.Message, "must not be bound")
}

func TestValidate_UnboundStorageFails(t *testing.T) {
	cases := []struct {
		name string
		o    op.Operation
	}{
		{"read", op.NewReadAll[person]()},
		{"update", op.NewUpdate[person](nil, op.Fields{"age": 1})},
		{"delete", op.NewDelete[person](nil)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.o)
			require.Error(t, err)

			ve, ok := AsValidationError(err)
			require.True(t, ok)
			assert.Equal(t, 0, ve.Index)
			assert.Contains(t, ve.Message, "requires a target")
		})
	}
}

func TestValidate_UnboundCreate(t *testing.T) {
	t.Run("with data passes", func(t *testing.T) {
		n := op.Compose(
			op.NewCreate[person](person{Name: "ada", Age: 36}),
			op.NewFilter(op.Gt("age", 30)),
		)
		assert.NoError(t, Validate(n))
	})

	t.Run("after another step passes", func(t *testing.T) {
		n := &op.Pipeline{
			First:  op.Bind(op.NewReadAll[person](), &bindTarget{name: "a"}),
			Second: op.NewCreate[person](),
		}
		assert.NoError(t, Validate(n))
	})

	t.Run("first and empty fails", func(t *testing.T) {
		err := Validate(op.NewCreate[person]())
		require.Error(t, err)

		ve, ok := AsValidationError(err)
		require.True(t, ok)
		assert.Equal(t, 0, ve.Index)
		assert.Contains(t, ve.Message, "no data and no previous result")
	})
}

func TestValidate_Switch(t *testing.T) {
	a, b := &bindTarget{name: "a"}, &bindTarget{name: "b"}
	read := op.NewReadAll[person]()
	create := op.NewCreate[person]()

	full := func() *op.Switch {
		return &op.Switch{Source: read, SourceTarget: a, Next: create, NextTarget: b}
	}

	t.Run("complete passes", func(t *testing.T) {
		assert.NoError(t, Validate(full()))
	})

	cases := []struct {
		name string
		mod  func(*op.Switch)
		want string
	}{
		{"missing source", func(s *op.Switch) { s.Source = nil }, "no source operation"},
		{"missing source target", func(s *op.Switch) { s.SourceTarget = nil }, "no source target"},
		{"missing next", func(s *op.Switch) { s.Next = nil }, "next operation"},
		{"missing next target", func(s *op.Switch) { s.NextTarget = nil }, "target for its next"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := full()
			tc.mod(s)
			err := Validate(s)
			require.Error(t, err)

			ve, ok := AsValidationError(err)
			require.True(t, ok)
			assert.Contains(t, ve.Message, tc.want)
		})
	}

	t.Run("in-process next fails", func(t *testing.T) {
		s := full()
		s.Next = op.NewFilter(op.Gt("age", 30))
		err := Validate(s)
		require.Error(t, err)

		ve, ok := AsValidationError(err)
		require.True(t, ok)
		assert.Contains(t, ve.Message, "must not be bound")
	})
}

func TestValidate_BoundSubPipelinePasses(t *testing.T) {
	tgt := &bindTarget{name: "a"}
	inner := op.Compose(op.NewReadAll[person](), op.NewFilter(op.Gte("age", 30)))
	assert.NoError(t, Validate(op.Bind(inner, tgt)))
}

func TestValidate_BoundWithoutTargetFails(t *testing.T) {
	err := Validate(&op.Bound{Op: op.NewReadAll[person]()})
	require.Error(t, err)

	ve, ok := AsValidationError(err)
	require.True(t, ok)
	assert.Contains(t, ve.Message, "no target")
}

func TestValidate_NilStepFails(t *testing.T) {
	n := &op.Pipeline{First: nil, Second: op.NewReadAll[person]()}
	err := Validate(n)
	require.Error(t, err)

	ve, ok := AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, 0, ve.Index)
	assert.Contains(t, ve.Message, "nil step")
}

func TestValidate_ChainedPipelinePasses(t *testing.T) {
	tgt := &bindTarget{name: "a"}
	n := op.Chain(tgt,
		op.NewCreate[person](person{Name: "ada", Age: 36}),
		op.NewReadAll[person](),
		op.NewFilter(op.Gte("age", 30)),
		op.NewReduce(func(acc, item any) (any, error) { return acc, nil }, 0),
	)
	assert.NoError(t, Validate(n))
}
