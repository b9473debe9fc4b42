package mongo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/operon-io/operon/pkg/index"
	"github.com/operon-io/operon/pkg/op"
)

type person struct {
	Name string `bson:"name"`
	Age  int    `bson:"age"`
}

func TestQueryOperator(t *testing.T) {
	cases := []struct {
		cmp  op.CompareOp
		want string
	}{
		{op.CmpEq, "$eq"},
		{op.CmpNe, "$ne"},
		{op.CmpGt, "$gt"},
		{op.CmpGte, "$gte"},
		{op.CmpLt, "$lt"},
		{op.CmpLte, "$lte"},
		{op.CmpIn, "$in"},
	}
	for _, tc := range cases {
		got, err := queryOperator(tc.cmp)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestCompilePredicate(t *testing.T) {
	filter, err := compilePredicate(op.Eq("name", "ada"))
	require.NoError(t, err)
	assert.Equal(t, bson.M{"data.name": bson.M{"$eq": "ada"}}, filter)

	filter, err = compilePredicate(op.And{op.Gte("age", 18), op.Lt("age", 65)})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"$and": []bson.M{
		{"data.age": bson.M{"$gte": 18}},
		{"data.age": bson.M{"$lt": 65}},
	}}, filter)

	filter, err = compilePredicate(nil)
	require.NoError(t, err)
	assert.Empty(t, filter)

	filter, err = compilePredicate(op.And{})
	require.NoError(t, err)
	assert.Empty(t, filter)
}

func TestCompilePredicate_In(t *testing.T) {
	filter, err := compilePredicate(op.Compare{
		Field: "tier",
		Op:    op.CmpIn,
		Value: []string{"gold", "silver"},
	})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"data.tier": bson.M{"$in": []string{"gold", "silver"}}}, filter)

	_, err = compilePredicate(op.Compare{Field: "tier", Op: op.CmpIn, Value: "gold"})
	assert.Error(t, err)
}

func TestCompilePredicate_StaysInProcess(t *testing.T) {
	_, err := compilePredicate(op.Or{op.Eq("name", "ada")})
	assert.ErrorContains(t, err, "does not push down")

	_, err = compilePredicate(op.Func(func(any) (bool, error) { return true, nil }))
	assert.ErrorContains(t, err, "does not push down")

	_, err = compilePredicate(op.Compare{Field: "", Op: op.CmpEq, Value: 1})
	assert.ErrorContains(t, err, "without a field")
}

func TestCompileIndexFilter(t *testing.T) {
	filter, err := compileIndexFilter(nil)
	require.NoError(t, err)
	assert.Empty(t, filter)

	filter, err = compileIndexFilter(index.Params{"name": "ada", "age": 36})
	require.NoError(t, err)
	assert.Equal(t, bson.M{"data.name": "ada", "data.age": 36}, filter)

	native := bson.M{"data.age": bson.M{"$gt": 40}}
	filter, err = compileIndexFilter(index.NewNativeQuery(native))
	require.NoError(t, err)
	assert.Equal(t, native, filter)

	_, err = compileIndexFilter(index.NewNativeQuery("age > ?", 40))
	assert.ErrorContains(t, err, "bson.M filter")

	_, err = compileIndexFilter(index.NewNativeQuery(native, 1))
	assert.ErrorContains(t, err, "args are not used")

	_, err = compileIndexFilter(index.NewVector([]float32{1, 0}))
	assert.ErrorContains(t, err, "does not compile")
}

func TestScopedFilter(t *testing.T) {
	got := scopedFilter("person", bson.M{"data.age": bson.M{"$lt": 40}})
	assert.Equal(t, bson.M{
		"collection": "person",
		"data.age":   bson.M{"$lt": 40},
	}, got)

	assert.Equal(t, bson.M{"collection": "person"}, scopedFilter("person", bson.M{}))
}

func TestMergeFilters(t *testing.T) {
	a := bson.M{"data.age": bson.M{"$lt": 40}}
	b := bson.M{"data.name": bson.M{"$eq": "ada"}}

	assert.Equal(t, bson.M{}, mergeFilters())
	assert.Equal(t, a, mergeFilters(a, bson.M{}))
	assert.Equal(t, bson.M{"$and": []bson.M{a, b}}, mergeFilters(a, b))
}

func TestMatchItemFilter(t *testing.T) {
	s := &Store{}
	raw, err := s.marshalData(person{Name: "ada", Age: 36})
	require.NoError(t, err)

	filter, err := matchItemFilter("person", raw)
	require.NoError(t, err)

	assert.Len(t, filter, 3)
	assert.Equal(t, "person", filter["collection"])
	assert.Equal(t, raw.Lookup("name"), filter["data.name"])
	assert.Equal(t, raw.Lookup("age"), filter["data.age"])
}
