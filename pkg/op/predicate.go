package op

import (
	"fmt"
	"reflect"

	"github.com/operon-io/operon/internal/fieldpath"
)

// Predicate is the condition a Filter applies. Sealed: Compare, And,
// Or and Func are the only implementations. The structured variants
// can be compiled to backend queries; Func is opaque and always runs
// in process.
type Predicate interface {
	predicate()
}

// CompareOp enumerates the comparison operators of a Compare.
type CompareOp int

const (
	CmpEq CompareOp = iota
	CmpNe
	CmpGt
	CmpGte
	CmpLt
	CmpLte
	CmpIn
)

func (o CompareOp) String() string {
	switch o {
	case CmpEq:
		return "eq"
	case CmpNe:
		return "ne"
	case CmpGt:
		return "gt"
	case CmpGte:
		return "gte"
	case CmpLt:
		return "lt"
	case CmpLte:
		return "lte"
	case CmpIn:
		return "in"
	default:
		return "unknown"
	}
}

// Compare tests one field against a value.
type Compare struct {
	Field string
	Op    CompareOp
	Value any
}

func (Compare) predicate() {}

// And is satisfied when every child predicate is. An empty And is
// always satisfied.
type And []Predicate

func (And) predicate() {}

// Or is satisfied when any child predicate is. An empty Or is never
// satisfied.
type Or []Predicate

func (Or) predicate() {}

// Func wraps an arbitrary predicate function. It never compiles to a
// backend query.
type Func func(item any) (bool, error)

func (Func) predicate() {}

// Comparison builders.

func Eq(field string, v any) Compare  { return Compare{Field: field, Op: CmpEq, Value: v} }
func Ne(field string, v any) Compare  { return Compare{Field: field, Op: CmpNe, Value: v} }
func Gt(field string, v any) Compare  { return Compare{Field: field, Op: CmpGt, Value: v} }
func Gte(field string, v any) Compare { return Compare{Field: field, Op: CmpGte, Value: v} }
func Lt(field string, v any) Compare  { return Compare{Field: field, Op: CmpLt, Value: v} }
func Lte(field string, v any) Compare { return Compare{Field: field, Op: CmpLte, Value: v} }

// In tests field membership in values.
func In(field string, values ...any) Compare {
	return Compare{Field: field, Op: CmpIn, Value: values}
}

// Eval applies the predicate to one item. A Compare over a field the
// item does not carry is false, not an error; comparing incompatible
// value types is an error.
func Eval(p Predicate, item any) (bool, error) {
	switch pt := p.(type) {
	case Compare:
		return evalCompare(pt, item)
	case And:
		for _, child := range pt {
			ok, err := Eval(child, item)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case Or:
		for _, child := range pt {
			ok, err := Eval(child, item)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case Func:
		if pt == nil {
			return false, fmt.Errorf("nil predicate func")
		}
		return pt(item)
	case nil:
		return false, fmt.Errorf("nil predicate")
	default:
		return false, fmt.Errorf("unsupported predicate %T", p)
	}
}

func evalCompare(c Compare, item any) (bool, error) {
	got, ok := fieldpath.Lookup(item, c.Field)
	if !ok {
		return false, nil
	}
	switch c.Op {
	case CmpEq:
		return fieldpath.Equal(got, c.Value), nil
	case CmpNe:
		return !fieldpath.Equal(got, c.Value), nil
	case CmpIn:
		return evalIn(got, c.Value)
	case CmpGt, CmpGte, CmpLt, CmpLte:
		cmp, err := fieldpath.Compare(got, c.Value)
		if err != nil {
			return false, fmt.Errorf("field %q: %w", c.Field, err)
		}
		switch c.Op {
		case CmpGt:
			return cmp > 0, nil
		case CmpGte:
			return cmp >= 0, nil
		case CmpLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	default:
		return false, fmt.Errorf("unsupported comparison %v", c.Op)
	}
}

func evalIn(got, values any) (bool, error) {
	rv := reflect.ValueOf(values)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return false, fmt.Errorf("in comparison requires a list, got %T", values)
	}
	for i := 0; i < rv.Len(); i++ {
		if fieldpath.Equal(got, rv.Index(i).Interface()) {
			return true, nil
		}
	}
	return false, nil
}

// Compilable reports whether the predicate translates to a backend
// query under the given operator support. Compare needs a non-empty
// field and a supported operator, And needs every child compilable.
// Or and Func never compile; they stay in process.
func Compilable(p Predicate, supports func(CompareOp) bool) bool {
	switch pt := p.(type) {
	case Compare:
		return pt.Field != "" && supports(pt.Op)
	case And:
		if len(pt) == 0 {
			return false
		}
		for _, child := range pt {
			if !Compilable(child, supports) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
