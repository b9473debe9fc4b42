package op

import (
	"reflect"

	"github.com/operon-io/operon/pkg/index"
)

// Kind identifies an operation variant.
type Kind int

const (
	KindCreate Kind = iota
	KindRead
	KindUpdate
	KindDelete
	KindFilter
	KindMap
	KindReduce
	KindTransform
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindRead:
		return "read"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	case KindFilter:
		return "filter"
	case KindMap:
		return "map"
	case KindReduce:
		return "reduce"
	case KindTransform:
		return "transform"
	default:
		return "unknown"
	}
}

// Operation is a single pipeline step. Operations do not know how to
// execute themselves; targets do. Sealed: the eight kinds defined in
// this package are the only implementations.
type Operation interface {
	Node

	Kind() Kind

	// NeedsTarget reports whether the operation reads or writes
	// storage and therefore must reach a target to execute.
	NeedsTarget() bool

	// NeedsPrevious reports whether execution consumes the previous
	// step's result. Update and Delete report true in pipeline mode,
	// when the index or patch is missing and the items to touch come
	// from the previous step.
	NeedsPrevious() bool

	operation()
}

// Late defers a Create data element until execution time. The
// function receives the previous step's result and returns the value
// to persist.
type Late func(prev any) (any, error)

// Create persists data. The executor merges the previous step's
// result ahead of the explicit Data slice, so a Create fed by a Read
// writes both what was read and what it carries itself. Elements of
// Data may be Late values.
//
// Type may be nil for a Create assembled from a previous result; the
// target then derives the storage type from the items themselves.
type Create struct {
	Type reflect.Type
	Data []any
}

// NewCreate builds a Create for the given user type.
func NewCreate[T any](data ...any) Create {
	return Create{Type: reflect.TypeFor[T](), Data: data}
}

// NewCreateFor builds a Create when the type is only known at run
// time, as when loaded from a pipeline file.
func NewCreateFor(t reflect.Type, data ...any) Create {
	return Create{Type: t, Data: data}
}

func (Create) Kind() Kind          { return KindCreate }
func (Create) NeedsTarget() bool   { return true }
func (Create) NeedsPrevious() bool { return false }
func (Create) operation()          {}
func (Create) node()               {}

// Read fetches items. A nil Index reads the whole collection; a Path
// index yields the single addressed item rather than a list.
type Read struct {
	Type  reflect.Type
	Index index.Index
}

// NewRead builds a Read locating items through idx.
func NewRead[T any](idx index.Index) Read {
	return Read{Type: reflect.TypeFor[T](), Index: idx}
}

// NewReadAll builds a Read over the whole collection.
func NewReadAll[T any]() Read {
	return Read{Type: reflect.TypeFor[T]()}
}

// NewReadFor builds a Read when the type is only known at run time.
func NewReadFor(t reflect.Type, idx index.Index) Read {
	return Read{Type: t, Index: idx}
}

func (Read) Kind() Kind          { return KindRead }
func (Read) NeedsTarget() bool   { return true }
func (Read) NeedsPrevious() bool { return false }
func (Read) operation()          {}
func (Read) node()               {}

// Update changes matched items. With both Index and Patch set it is
// self-contained. In pipeline mode either is nil: a nil Index takes
// the items from the previous step, a nil Patch writes the previous
// step's items back as they are.
type Update struct {
	Type  reflect.Type
	Index index.Index
	Patch Patch
}

// NewUpdate builds an Update applying patch to the items located by
// idx. Pass nil for either to consume the previous step's result.
func NewUpdate[T any](idx index.Index, patch Patch) Update {
	return Update{Type: reflect.TypeFor[T](), Index: idx, Patch: patch}
}

// NewUpdateFor builds an Update when the type is only known at run time.
func NewUpdateFor(t reflect.Type, idx index.Index, patch Patch) Update {
	return Update{Type: t, Index: idx, Patch: patch}
}

func (Update) Kind() Kind        { return KindUpdate }
func (Update) NeedsTarget() bool { return true }
func (u Update) NeedsPrevious() bool {
	return u.Index == nil || u.Patch == nil
}
func (Update) operation() {}
func (Update) node()      {}

// Delete removes matched items. A nil Index is pipeline mode: the
// items to remove come from the previous step.
type Delete struct {
	Type  reflect.Type
	Index index.Index
}

// NewDelete builds a Delete for the items located by idx. Pass nil to
// delete the previous step's items.
func NewDelete[T any](idx index.Index) Delete {
	return Delete{Type: reflect.TypeFor[T](), Index: idx}
}

// NewDeleteFor builds a Delete when the type is only known at run time.
func NewDeleteFor(t reflect.Type, idx index.Index) Delete {
	return Delete{Type: t, Index: idx}
}

func (Delete) Kind() Kind        { return KindDelete }
func (Delete) NeedsTarget() bool { return true }
func (d Delete) NeedsPrevious() bool {
	return d.Index == nil
}
func (Delete) operation() {}
func (Delete) node()      {}

// Filter keeps the items of the previous result that satisfy the
// predicate. Applied to a single item it yields the item or nil.
type Filter struct {
	Predicate Predicate
}

// NewFilter builds a Filter over the given predicate.
func NewFilter(p Predicate) Filter {
	return Filter{Predicate: p}
}

func (Filter) Kind() Kind          { return KindFilter }
func (Filter) NeedsTarget() bool   { return false }
func (Filter) NeedsPrevious() bool { return true }
func (Filter) operation()          {}
func (Filter) node()               {}

// Mapper transforms one item. The ordinal is the item's position in
// the previous result; a single non-list item maps with ordinal 0.
type Mapper func(item any, ordinal int) (any, error)

// Map applies the mapper to every item of the previous result.
type Map struct {
	Fn Mapper
}

// NewMap builds a Map over the given mapper.
func NewMap(fn Mapper) Map {
	return Map{Fn: fn}
}

func (Map) Kind() Kind          { return KindMap }
func (Map) NeedsTarget() bool   { return false }
func (Map) NeedsPrevious() bool { return true }
func (Map) operation()          {}
func (Map) node()               {}

// Reducer folds one item into the accumulator.
type Reducer func(acc, item any) (any, error)

// Reduce folds the previous result into a single value starting from
// Initial. A single non-list item folds once.
type Reduce struct {
	Fn      Reducer
	Initial any
}

// NewReduce builds a Reduce folding with fn from initial.
func NewReduce(fn Reducer, initial any) Reduce {
	return Reduce{Fn: fn, Initial: initial}
}

func (Reduce) Kind() Kind          { return KindReduce }
func (Reduce) NeedsTarget() bool   { return false }
func (Reduce) NeedsPrevious() bool { return true }
func (Reduce) operation()          {}
func (Reduce) node()               {}

// Transformer reshapes the whole previous result at once.
type Transformer func(items []any) (any, error)

// Transform hands the previous result to the transformer as a list.
// A single non-list item arrives wrapped in a one-element list.
type Transform struct {
	Fn Transformer
}

// NewTransform builds a Transform over the given transformer.
func NewTransform(fn Transformer) Transform {
	return Transform{Fn: fn}
}

func (Transform) Kind() Kind          { return KindTransform }
func (Transform) NeedsTarget() bool   { return false }
func (Transform) NeedsPrevious() bool { return true }
func (Transform) operation()          {}
func (Transform) node()               {}
