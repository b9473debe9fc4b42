package index

// NativeQuery carries a query in a backend's own language: a SQL
// statement with bind arguments, a document filter, an object listing
// expression. It is opaque to the engine and never optimized; the
// backend it reaches must understand Query or fail with a typed error.
type NativeQuery struct {
	Query any
	Args  []any
}

// NewNativeQuery wraps a backend-specific query and its arguments.
func NewNativeQuery(query any, args ...any) NativeQuery {
	return NativeQuery{Query: query, Args: args}
}

func (NativeQuery) Kind() Kind    { return KindNativeQuery }
func (NativeQuery) searchIndex() {}
