package engine

import (
	"fmt"
	"reflect"

	"github.com/operon-io/operon/pkg/op"
)

// asItems normalizes a previous result into a list of items. Slices
// of any element type count as lists except []byte, which is one
// value. The bool is false for scalars.
func asItems(prev Result) ([]any, bool) {
	switch pv := prev.(type) {
	case nil:
		return nil, false
	case []any:
		return pv, true
	case []byte:
		return nil, false
	case string:
		return nil, false
	}
	rv := reflect.ValueOf(prev)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

// pairItems unwraps a result of Pairs to the created items. A list
// that does not start with a Pair passes through unchanged; a list
// mixing Pairs with plain items is malformed.
func pairItems(items []any) ([]any, error) {
	if len(items) == 0 {
		return items, nil
	}
	if _, ok := items[0].(Pair); !ok {
		return items, nil
	}
	out := make([]any, len(items))
	for i, item := range items {
		p, ok := item.(Pair)
		if !ok {
			return nil, NewBadResultError("previous result mixes address pairs with plain items")
		}
		out[i] = p.Item
	}
	return out, nil
}

// mergeCreate resolves a Create against the previous result: previous
// items come first, then the explicit data. Late elements are invoked
// with the previous result. A scalar previous result contributes one
// item; a Pair result contributes only the item halves. Both sides
// empty is a legitimate no-op Create.
func mergeCreate(c op.Create, prev Result) (op.Create, error) {
	var prevItems []any
	if prev != nil {
		if items, isList := asItems(prev); isList {
			extracted, err := pairItems(items)
			if err != nil {
				return op.Create{}, err
			}
			prevItems = extracted
		} else {
			prevItems = []any{prev}
		}
	}

	data := make([]any, 0, len(prevItems)+len(c.Data))
	data = append(data, prevItems...)
	for _, d := range c.Data {
		if late, ok := d.(op.Late); ok {
			v, err := late(prev)
			if err != nil {
				return op.Create{}, fmt.Errorf("late create data: %w", err)
			}
			data = append(data, v)
			continue
		}
		data = append(data, d)
	}
	return op.Create{Type: c.Type, Data: data}, nil
}

// executeInProcess runs one operation without a target. Storage
// operations land here only unbound: Create degrades to a merge that
// passes the combined data through, the rest are contract errors.
func executeInProcess(o op.Operation, prev Result) (Result, error) {
	switch ot := o.(type) {
	case op.Create:
		merged, err := mergeCreate(ot, prev)
		if err != nil {
			return nil, err
		}
		return merged.Data, nil
	case op.Read:
		return nil, NewUnboundError("read")
	case op.Update:
		return nil, NewUnboundError("update")
	case op.Delete:
		return nil, NewUnboundError("delete")
	case op.Filter:
		return filterInProcess(ot, prev)
	case op.Map:
		return mapInProcess(ot, prev)
	case op.Reduce:
		return reduceInProcess(ot, prev)
	case op.Transform:
		return transformInProcess(ot, prev)
	default:
		return nil, NewBadPlanError(fmt.Sprintf("cannot execute %s in process", o.Kind()))
	}
}

func filterInProcess(f op.Filter, prev Result) (Result, error) {
	if prev == nil {
		return nil, NewNeedsPreviousError("filter")
	}
	if items, isList := asItems(prev); isList {
		out := make([]any, 0, len(items))
		for _, item := range items {
			keep, err := op.Eval(f.Predicate, item)
			if err != nil {
				return nil, fmt.Errorf("filter: %w", err)
			}
			if keep {
				out = append(out, item)
			}
		}
		return out, nil
	}
	ok, err := op.Eval(f.Predicate, prev)
	if err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	if ok {
		return prev, nil
	}
	return nil, nil
}

func mapInProcess(m op.Map, prev Result) (Result, error) {
	if prev == nil {
		return nil, NewNeedsPreviousError("map")
	}
	if m.Fn == nil {
		return nil, fmt.Errorf("map: nil mapper")
	}
	if items, isList := asItems(prev); isList {
		out := make([]any, len(items))
		for i, item := range items {
			v, err := m.Fn(item, i)
			if err != nil {
				return nil, fmt.Errorf("map item %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	}
	return m.Fn(prev, 0)
}

func reduceInProcess(r op.Reduce, prev Result) (Result, error) {
	if prev == nil {
		return nil, NewNeedsPreviousError("reduce")
	}
	if r.Fn == nil {
		return nil, fmt.Errorf("reduce: nil reducer")
	}
	acc := r.Initial
	if items, isList := asItems(prev); isList {
		for i, item := range items {
			v, err := r.Fn(acc, item)
			if err != nil {
				return nil, fmt.Errorf("reduce item %d: %w", i, err)
			}
			acc = v
		}
		return acc, nil
	}
	return r.Fn(acc, prev)
}

func transformInProcess(t op.Transform, prev Result) (Result, error) {
	if prev == nil {
		return nil, NewNeedsPreviousError("transform")
	}
	if t.Fn == nil {
		return nil, fmt.Errorf("transform: nil transformer")
	}
	items, isList := asItems(prev)
	if !isList {
		items = []any{prev}
	}
	return t.Fn(items)
}
