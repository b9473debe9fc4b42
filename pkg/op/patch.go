package op

import (
	"fmt"
	"reflect"
	"strings"
)

// Patch describes how an Update changes a matched item. Sealed: the
// implementations are Fields, which merges values in, and Apply, which
// replaces the item with a function's result. Fields can be pushed
// down to a backend; Apply always runs in process.
type Patch interface {
	patch()
}

// Fields merges the given values into each matched item. Keys name
// top-level fields; struct fields match on the Go name first, then on
// the json tag.
type Fields map[string]any

func (Fields) patch() {}

// Apply replaces each matched item with the function's result.
type Apply func(item any) (any, error)

func (Apply) patch() {}

// ApplyPatch produces the patched form of item. The original is never
// mutated: maps are copied, structs are rebuilt.
func ApplyPatch(p Patch, item any) (any, error) {
	switch pt := p.(type) {
	case Fields:
		return pt.applyTo(item)
	case Apply:
		if pt == nil {
			return nil, fmt.Errorf("nil apply patch")
		}
		return pt(item)
	case nil:
		return nil, fmt.Errorf("nil patch")
	default:
		return nil, fmt.Errorf("unsupported patch %T", p)
	}
}

func (f Fields) applyTo(item any) (any, error) {
	if m, ok := item.(map[string]any); ok {
		out := make(map[string]any, len(m)+len(f))
		for k, v := range m {
			out[k] = v
		}
		for k, v := range f {
			out[k] = v
		}
		return out, nil
	}

	rv := reflect.ValueOf(item)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, fmt.Errorf("cannot patch nil %T", item)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("cannot patch %T with fields", item)
	}

	out := reflect.New(rv.Type()).Elem()
	out.Set(rv)
	for name, val := range f {
		fv, ok := findField(out, name)
		if !ok {
			return nil, fmt.Errorf("no field %q on %s", name, rv.Type())
		}
		if err := setField(fv, val); err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
	}
	return out.Interface(), nil
}

func findField(rv reflect.Value, name string) (reflect.Value, bool) {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.IsExported() && f.Name == name {
			return rv.Field(i), true
		}
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == name {
			return rv.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setField assigns val into fv, converting across numeric kinds so
// values decoded from JSON as float64 land in integer fields.
func setField(fv reflect.Value, val any) error {
	if val == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}
	vv := reflect.ValueOf(val)
	if vv.Type().AssignableTo(fv.Type()) {
		fv.Set(vv)
		return nil
	}
	if vv.Type().ConvertibleTo(fv.Type()) && isNumeric(vv.Kind()) && isNumeric(fv.Kind()) {
		fv.Set(vv.Convert(fv.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", val, fv.Type())
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}
