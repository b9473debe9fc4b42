package index

import (
	"sort"

	"github.com/operon-io/operon/internal/fieldpath"
)

// Params locates items whose fields equal the given values. Every
// entry must match. Keys are field paths, so nested fields work with
// dotted notation.
type Params map[string]any

func (Params) Kind() Kind    { return KindParams }
func (Params) searchIndex() {}

// Matches reports whether item satisfies every parameter. Numeric
// values compare across integer and float representations.
func (p Params) Matches(item any) bool {
	for field, want := range p {
		got, ok := fieldpath.Lookup(item, field)
		if !ok {
			return false
		}
		if !fieldpath.Equal(got, want) {
			return false
		}
	}
	return true
}

// Fields returns the parameter names in sorted order. Backends use
// the stable order when compiling the index to a query.
func (p Params) Fields() []string {
	fields := make([]string, 0, len(p))
	for f := range p {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}
