package registry

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operon-io/operon/pkg/index"
)

type person struct {
	Name string
	Age  int
}

type personRow struct {
	ID   string
	Name string
	Age  int
}

type personDoc struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func identity(v any) (any, error) { return v, nil }

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New()
	require.NoError(t, r.Register(Registration{
		UserType:    reflect.TypeFor[person](),
		StorageType: reflect.TypeFor[personRow](),
		ToStorage:   identity,
		FromStorage: identity,
	}))
	return r
}

func TestRegisterValidation(t *testing.T) {
	r := New()
	err := r.Register(Registration{UserType: reflect.TypeFor[person]()})
	require.Error(t, err)

	err = r.Register(Registration{
		UserType:    reflect.TypeFor[person](),
		StorageType: reflect.TypeFor[personRow](),
		ToStorage:   identity,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both directions")
}

func TestRegisterRejectsDuplicatePair(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Register(Registration{
		UserType:    reflect.TypeFor[person](),
		StorageType: reflect.TypeFor[personRow](),
		ToStorage:   identity,
		FromStorage: identity,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestLookupSingleMatch(t *testing.T) {
	r := newTestRegistry(t)

	reg, err := r.ForUserType(reflect.TypeFor[person](), nil)
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeFor[personRow](), reg.StorageType)

	reg, err = r.ForStorageType(reflect.TypeFor[personRow](), nil)
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeFor[person](), reg.UserType)
}

func TestLookupAmbiguity(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(Registration{
		UserType:    reflect.TypeFor[person](),
		StorageType: reflect.TypeFor[personDoc](),
		ToStorage:   identity,
		FromStorage: identity,
	}))

	// Without a disambiguator the lookup must fail and name every candidate.
	_, err := r.ForUserType(reflect.TypeFor[person](), nil)
	require.Error(t, err)
	var amb *AmbiguityError
	require.ErrorAs(t, err, &amb)
	assert.Len(t, amb.Candidates, 2)
	assert.Contains(t, err.Error(), "personRow")
	assert.Contains(t, err.Error(), "personDoc")

	// With the storage type the lookup is exact.
	reg, err := r.ForUserType(reflect.TypeFor[person](), reflect.TypeFor[personDoc]())
	require.NoError(t, err)
	assert.Equal(t, reflect.TypeFor[personDoc](), reg.StorageType)
}

func TestLookupNoMapping(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.ForUserType(reflect.TypeFor[personDoc](), nil)
	require.ErrorIs(t, err, ErrNoMapping)

	_, err = r.ForUserType(reflect.TypeFor[person](), reflect.TypeFor[personDoc]())
	require.ErrorIs(t, err, ErrNoMapping)
}

func TestRegisterIndexAndBuild(t *testing.T) {
	r := newTestRegistry(t)
	pt := reflect.TypeFor[person]()

	require.NoError(t, r.RegisterIndex(pt, "by_age", func(args map[string]any) (index.Index, error) {
		return index.Params{"age": args["age"]}, nil
	}))
	require.NoError(t, r.RegisterIndex(pt, "by_name", func(args map[string]any) (index.Index, error) {
		return index.Params{"name": args["name"]}, nil
	}))

	err := r.RegisterIndex(pt, "by_age", func(map[string]any) (index.Index, error) { return nil, nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	idx, err := r.Index(pt, "by_age", map[string]any{"age": 30})
	require.NoError(t, err)
	assert.Equal(t, index.Params{"age": 30}, idx)

	_, err = r.Index(pt, "by_tier", nil)
	require.ErrorIs(t, err, ErrNoMapping)

	assert.Equal(t, []string{"by_age", "by_name"}, r.IndexNames(pt))
	assert.Empty(t, r.IndexNames(reflect.TypeFor[personDoc]()))
}

func TestTypeByName(t *testing.T) {
	r := newTestRegistry(t)

	got, ok := r.TypeByName("person")
	require.True(t, ok)
	assert.Equal(t, reflect.TypeFor[person](), got)

	_, ok = r.TypeByName("ghost")
	assert.False(t, ok)
}

func TestRegisterMapping(t *testing.T) {
	r := New()
	require.NoError(t, RegisterMapping(r,
		func(p person) (personRow, error) {
			return personRow{ID: p.Name, Name: p.Name, Age: p.Age}, nil
		},
		func(row personRow) (person, error) {
			return person{Name: row.Name, Age: row.Age}, nil
		},
	))

	reg, err := r.ForUserType(reflect.TypeFor[person](), nil)
	require.NoError(t, err)

	stored, err := reg.ToStorage(person{Name: "bo", Age: 30})
	require.NoError(t, err)
	assert.Equal(t, personRow{ID: "bo", Name: "bo", Age: 30}, stored)

	back, err := reg.FromStorage(stored)
	require.NoError(t, err)
	assert.Equal(t, person{Name: "bo", Age: 30}, back)

	_, err = reg.ToStorage(42)
	require.Error(t, err)
}
