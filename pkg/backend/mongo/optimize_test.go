package mongo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/operon-io/operon/pkg/engine"
	"github.com/operon-io/operon/pkg/index"
	"github.com/operon-io/operon/pkg/op"
)

func TestStore_Optimize(t *testing.T) {
	s := &Store{}
	read := op.NewReadAll[person]()
	filter := op.NewFilter(op.Lt("age", 40))

	t.Run("read and filter fold into one query", func(t *testing.T) {
		plan, err := s.Optimize([]op.Operation{read, filter})
		require.NoError(t, err)
		assert.Equal(t, engine.PlanStorage, plan.Mode)

		require.Len(t, plan.Compiled, 1)
		folded := plan.Compiled[0].(op.Read)
		nq := folded.Index.(index.NativeQuery)
		assert.Equal(t, bson.M{"data.age": bson.M{"$lt": 40}}, nq.Query)
	})

	t.Run("indexed read conjoins with filters", func(t *testing.T) {
		indexed := op.NewRead[person](index.Params{"name": "ada"})
		plan, err := s.Optimize([]op.Operation{indexed, filter})
		require.NoError(t, err)

		require.Len(t, plan.Compiled, 1)
		nq := plan.Compiled[0].(op.Read).Index.(index.NativeQuery)
		assert.Equal(t, bson.M{"$and": []bson.M{
			{"data.name": "ada"},
			{"data.age": bson.M{"$lt": 40}},
		}}, nq.Query)
	})

	t.Run("terminal fields update folds into one write", func(t *testing.T) {
		update := op.NewUpdate[person](nil, op.Fields{"age": 1})
		plan, err := s.Optimize([]op.Operation{read, filter, update})
		require.NoError(t, err)
		assert.Equal(t, engine.PlanStorage, plan.Mode)

		require.Len(t, plan.Compiled, 1)
		folded := plan.Compiled[0].(op.Update)
		assert.Equal(t, op.Fields{"age": 1}, folded.Patch)
		assert.Equal(t, bson.M{"data.age": bson.M{"$lt": 40}},
			folded.Index.(index.NativeQuery).Query)
	})

	t.Run("terminal delete folds into one write", func(t *testing.T) {
		plan, err := s.Optimize([]op.Operation{read, filter, op.NewDelete[person](nil)})
		require.NoError(t, err)
		require.Len(t, plan.Compiled, 1)
		_, ok := plan.Compiled[0].(op.Delete)
		assert.True(t, ok)
	})

	t.Run("indexed update stays separate", func(t *testing.T) {
		update := op.NewUpdate[person](index.Params{"name": "x"}, op.Fields{"age": 1})
		plan, err := s.Optimize([]op.Operation{read, update})
		require.NoError(t, err)
		assert.Equal(t, engine.PlanStorage, plan.Mode)
		assert.Empty(t, plan.Compiled)
	})

	t.Run("or predicate splits instead of folding", func(t *testing.T) {
		orFilter := op.NewFilter(op.Or{op.Eq("name", "ada"), op.Eq("name", "lin")})
		plan, err := s.Optimize([]op.Operation{read, orFilter})
		require.NoError(t, err)
		assert.Equal(t, engine.PlanHybrid, plan.Mode)
		assert.Empty(t, plan.Compiled)
		assert.Len(t, plan.Remaining, 1)
	})
}
