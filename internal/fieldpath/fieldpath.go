// Package fieldpath resolves dotted field paths against arbitrary
// runtime values. Items flowing through a pipeline are typically
// map[string]any decoded from JSON or user-defined structs; both are
// navigated with the same path syntax ("age", "address.city").
package fieldpath

import (
	"reflect"
	"strings"
)

// Lookup resolves path against item. The second return is false when
// any segment of the path is missing. Struct fields match on the Go
// field name first, then on the json tag.
func Lookup(item any, path string) (any, bool) {
	cur := item
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, false
		}
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func step(v any, seg string) (any, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		mv := rv.MapIndex(reflect.ValueOf(seg))
		if !mv.IsValid() {
			return nil, false
		}
		return mv.Interface(), true
	case reflect.Struct:
		return structField(rv, seg)
	default:
		return nil, false
	}
}

func structField(rv reflect.Value, seg string) (any, bool) {
	t := rv.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if f.Name == seg {
			return rv.Field(i).Interface(), true
		}
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "" {
			continue
		}
		if name, _, _ := strings.Cut(tag, ","); name == seg {
			return rv.Field(i).Interface(), true
		}
	}
	return nil, false
}
