// Package index defines the search index descriptors that storage
// operations carry. An index tells a backend how to locate items: by
// parameter equality, by direct address, by a query in the backend's
// native language, or by vector similarity.
//
// Index is a sealed interface. The only implementations are Params,
// Path, NativeQuery and Vector; backends exhaustively switch on these
// four and return a typed error for anything they do not support.
package index

// Index describes how a backend locates items for a Read, Update or
// Delete operation. A nil Index on a Read means the full collection.
type Index interface {
	// Kind identifies the concrete variant without a type switch.
	Kind() Kind

	// searchIndex seals the interface.
	searchIndex()
}

// Kind enumerates the index variants.
type Kind int

const (
	KindParams Kind = iota
	KindPath
	KindNativeQuery
	KindVector
)

func (k Kind) String() string {
	switch k {
	case KindParams:
		return "params"
	case KindPath:
		return "path"
	case KindNativeQuery:
		return "native_query"
	case KindVector:
		return "vector"
	default:
		return "unknown"
	}
}

// Factory builds an Index from loosely typed arguments. Factories are
// registered per data type under a name and invoked by callers that
// only know the index by name, such as pipeline files.
type Factory func(args map[string]any) (Index, error)
