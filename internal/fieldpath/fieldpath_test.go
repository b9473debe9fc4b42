package fieldpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	type inner struct {
		City string `json:"city"`
	}
	type outer struct {
		Name    string `json:"name"`
		Address inner  `json:"address"`
	}

	tests := []struct {
		name string
		item any
		path string
		want any
		ok   bool
	}{
		{"map top level", map[string]any{"age": 30}, "age", 30, true},
		{"map nested", map[string]any{"a": map[string]any{"b": "c"}}, "a.b", "c", true},
		{"struct by name", outer{Name: "bo"}, "Name", "bo", true},
		{"struct by json tag", outer{Name: "bo"}, "name", "bo", true},
		{"struct nested by tag", outer{Address: inner{City: "Oslo"}}, "address.city", "Oslo", true},
		{"pointer deref", &outer{Name: "bo"}, "name", "bo", true},
		{"missing segment", map[string]any{"a": 1}, "b", nil, false},
		{"missing nested segment", map[string]any{"a": 1}, "a.b", nil, false},
		{"nil item", nil, "a", nil, false},
		{"empty segment", map[string]any{"a": 1}, "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Lookup(tt.item, tt.path)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	c, err := Compare(1, 2.0)
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	c, err = Compare(int64(5), uint8(5))
	require.NoError(t, err)
	assert.Zero(t, c)

	c, err = Compare("b", "a")
	require.NoError(t, err)
	assert.Equal(t, 1, c)

	_, err = Compare("a", 1)
	require.Error(t, err)
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(30, float64(30)))
	assert.True(t, Equal("x", "x"))
	assert.True(t, Equal(true, true))
	assert.False(t, Equal(true, false))
	assert.True(t, Equal([]int{1, 2}, []int{1, 2}))
	assert.False(t, Equal(1, "1"))
}
