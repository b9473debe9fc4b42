package op

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/operon-io/operon/pkg/index"
)

// Canonical returns a deterministic byte encoding of the node. Two
// structurally equal pipelines encode identically: map keys are
// sorted, strings are NFC normalized, and every variant carries a
// distinct tag. Function values encode by identity, so encodings that
// involve functions are only stable within one process.
func Canonical(n Node) []byte {
	return appendNode(nil, n)
}

func appendNode(buf []byte, n Node) []byte {
	switch nt := n.(type) {
	case nil:
		return append(buf, 'N')
	case *Pipeline:
		buf = append(buf, 'P')
		buf = appendNode(buf, nt.First)
		return appendNode(buf, nt.Second)
	case *Bound:
		buf = append(buf, 'B')
		buf = appendTarget(buf, nt.Target)
		return appendNode(buf, nt.Op)
	case *Switch:
		buf = append(buf, 'S')
		buf = appendTarget(buf, nt.SourceTarget)
		buf = appendTarget(buf, nt.NextTarget)
		buf = appendNode(buf, nt.Source)
		return appendNode(buf, nt.Next)
	case Operation:
		return appendOperation(buf, nt)
	default:
		return appendString(buf, fmt.Sprintf("?%T", n))
	}
}

func appendOperation(buf []byte, o Operation) []byte {
	buf = append(buf, 'O', byte(o.Kind()))
	switch ot := o.(type) {
	case Create:
		buf = appendType(buf, ot.Type)
		buf = binary.AppendUvarint(buf, uint64(len(ot.Data)))
		for _, d := range ot.Data {
			buf = appendValue(buf, d)
		}
		return buf
	case Read:
		buf = appendType(buf, ot.Type)
		return appendIndex(buf, ot.Index)
	case Update:
		buf = appendType(buf, ot.Type)
		buf = appendIndex(buf, ot.Index)
		return appendPatch(buf, ot.Patch)
	case Delete:
		buf = appendType(buf, ot.Type)
		return appendIndex(buf, ot.Index)
	case Filter:
		return appendPredicate(buf, ot.Predicate)
	case Map:
		return appendFunc(buf, ot.Fn)
	case Reduce:
		buf = appendFunc(buf, ot.Fn)
		return appendValue(buf, ot.Initial)
	case Transform:
		return appendFunc(buf, ot.Fn)
	default:
		return buf
	}
}

func appendIndex(buf []byte, idx index.Index) []byte {
	switch it := idx.(type) {
	case nil:
		return append(buf, '0')
	case index.Params:
		buf = append(buf, 'p')
		keys := it.Fields()
		buf = binary.AppendUvarint(buf, uint64(len(keys)))
		for _, k := range keys {
			buf = appendString(buf, k)
			buf = appendValue(buf, it[k])
		}
		return buf
	case index.Path:
		buf = append(buf, 'a')
		return appendString(buf, string(it))
	case index.NativeQuery:
		buf = append(buf, 'n')
		buf = appendValue(buf, it.Query)
		buf = binary.AppendUvarint(buf, uint64(len(it.Args)))
		for _, a := range it.Args {
			buf = appendValue(buf, a)
		}
		return buf
	case index.Vector:
		buf = append(buf, 'v')
		buf = appendString(buf, it.Text)
		buf = binary.AppendUvarint(buf, uint64(len(it.Query)))
		for _, f := range it.Query {
			buf = binary.BigEndian.AppendUint32(buf, math.Float32bits(f))
		}
		buf = binary.AppendUvarint(buf, uint64(it.Limit))
		return binary.BigEndian.AppendUint32(buf, math.Float32bits(it.Threshold))
	default:
		return appendString(buf, fmt.Sprintf("?%T", idx))
	}
}

func appendPredicate(buf []byte, p Predicate) []byte {
	switch pt := p.(type) {
	case nil:
		return append(buf, '0')
	case Compare:
		buf = append(buf, 'c', byte(pt.Op))
		buf = appendString(buf, pt.Field)
		return appendValue(buf, pt.Value)
	case And:
		buf = append(buf, 'A')
		buf = binary.AppendUvarint(buf, uint64(len(pt)))
		for _, child := range pt {
			buf = appendPredicate(buf, child)
		}
		return buf
	case Or:
		buf = append(buf, 'R')
		buf = binary.AppendUvarint(buf, uint64(len(pt)))
		for _, child := range pt {
			buf = appendPredicate(buf, child)
		}
		return buf
	case Func:
		buf = append(buf, 'F')
		return appendFunc(buf, pt)
	default:
		return appendString(buf, fmt.Sprintf("?%T", p))
	}
}

func appendPatch(buf []byte, p Patch) []byte {
	switch pt := p.(type) {
	case nil:
		return append(buf, '0')
	case Fields:
		buf = append(buf, 'f')
		keys := make([]string, 0, len(pt))
		for k := range pt {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf = binary.AppendUvarint(buf, uint64(len(keys)))
		for _, k := range keys {
			buf = appendString(buf, k)
			buf = appendValue(buf, pt[k])
		}
		return buf
	case Apply:
		buf = append(buf, 'g')
		return appendFunc(buf, pt)
	default:
		return appendString(buf, fmt.Sprintf("?%T", p))
	}
}

func appendTarget(buf []byte, t Target) []byte {
	if t == nil {
		return append(buf, '0')
	}
	buf = append(buf, 't')
	return appendString(buf, t.Name())
}

func appendType(buf []byte, t reflect.Type) []byte {
	if t == nil {
		return appendString(buf, "")
	}
	return appendString(buf, t.String())
}

// appendValue encodes an arbitrary value through JSON, which already
// sorts map keys. Values JSON cannot express, like the functions in
// Late data elements, encode by identity instead.
func appendValue(buf []byte, v any) []byte {
	if v == nil {
		return appendString(buf, "null")
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Func {
		return appendFunc(buf, v)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return appendString(buf, fmt.Sprintf("!%T", v))
	}
	return appendString(buf, string(b))
}

func appendFunc(buf []byte, fn any) []byte {
	if fn == nil {
		return append(buf, '0')
	}
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return append(buf, '0')
	}
	buf = append(buf, '@')
	return binary.AppendUvarint(buf, uint64(rv.Pointer()))
}

func appendString(buf []byte, s string) []byte {
	n := norm.NFC.String(s)
	buf = binary.AppendUvarint(buf, uint64(len(n)))
	return append(buf, n...)
}
