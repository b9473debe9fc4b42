package pipefile

import (
	"strings"

	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"

	"github.com/operon-io/operon/pkg/op"
)

var comparisons = map[string]op.CompareOp{
	operators.Equals:        op.CmpEq,
	operators.NotEquals:     op.CmpNe,
	operators.Greater:       op.CmpGt,
	operators.GreaterEquals: op.CmpGte,
	operators.Less:          op.CmpLt,
	operators.LessEquals:    op.CmpLte,
}

// flipped mirrors a comparison when the field sits on the right.
var flipped = map[op.CompareOp]op.CompareOp{
	op.CmpEq:  op.CmpEq,
	op.CmpNe:  op.CmpNe,
	op.CmpGt:  op.CmpLt,
	op.CmpGte: op.CmpLte,
	op.CmpLt:  op.CmpGt,
	op.CmpLte: op.CmpGte,
}

// loweredPredicate turns a checked filter expression into the portable
// predicate form when it is conjunctions of comparisons between an
// item field and a constant. Anything else keeps its program form.
func loweredPredicate(e celast.Expr) (op.Predicate, bool) {
	if e.Kind() != celast.CallKind {
		return nil, false
	}
	call := e.AsCall()
	fn := call.FunctionName()
	args := call.Args()

	switch {
	case fn == operators.LogicalAnd && len(args) == 2:
		left, ok := loweredPredicate(args[0])
		if !ok {
			return nil, false
		}
		right, ok := loweredPredicate(args[1])
		if !ok {
			return nil, false
		}
		return op.And{left, right}, true

	case fn == operators.In && len(args) == 2:
		field, ok := fieldPath(args[0])
		if !ok {
			return nil, false
		}
		values, ok := literalValue(args[1])
		if !ok {
			return nil, false
		}
		if _, isList := values.([]any); !isList {
			return nil, false
		}
		return op.Compare{Field: field, Op: op.CmpIn, Value: values}, true

	default:
		cmp, ok := comparisons[fn]
		if !ok || len(args) != 2 {
			return nil, false
		}
		if field, ok := fieldPath(args[0]); ok {
			value, ok := literalValue(args[1])
			if !ok {
				return nil, false
			}
			return op.Compare{Field: field, Op: cmp, Value: value}, true
		}
		field, ok := fieldPath(args[1])
		if !ok {
			return nil, false
		}
		value, ok := literalValue(args[0])
		if !ok {
			return nil, false
		}
		return op.Compare{Field: field, Op: flipped[cmp], Value: value}, true
	}
}

// fieldPath resolves a select chain rooted at item to a dotted path.
// Indexing with a constant string key counts as a segment.
func fieldPath(e celast.Expr) (string, bool) {
	segments, ok := pathSegments(e)
	if !ok || len(segments) == 0 {
		return "", false
	}
	return strings.Join(segments, "."), true
}

func pathSegments(e celast.Expr) ([]string, bool) {
	switch e.Kind() {
	case celast.IdentKind:
		if e.AsIdent() != "item" {
			return nil, false
		}
		return nil, true
	case celast.SelectKind:
		sel := e.AsSelect()
		if sel.IsTestOnly() {
			return nil, false
		}
		prefix, ok := pathSegments(sel.Operand())
		if !ok {
			return nil, false
		}
		return append(prefix, sel.FieldName()), true
	case celast.CallKind:
		call := e.AsCall()
		if call.FunctionName() != operators.Index || len(call.Args()) != 2 {
			return nil, false
		}
		prefix, ok := pathSegments(call.Args()[0])
		if !ok {
			return nil, false
		}
		key, ok := literalValue(call.Args()[1])
		if !ok {
			return nil, false
		}
		s, ok := key.(string)
		if !ok {
			return nil, false
		}
		return append(prefix, s), true
	default:
		return nil, false
	}
}

// literalValue extracts a constant: one literal or a list of them.
func literalValue(e celast.Expr) (any, bool) {
	switch e.Kind() {
	case celast.LiteralKind:
		return e.AsLiteral().Value(), true
	case celast.ListKind:
		list := e.AsList()
		out := make([]any, 0, list.Size())
		for _, el := range list.Elements() {
			v, ok := literalValue(el)
			if !ok {
				return nil, false
			}
			out = append(out, v)
		}
		return out, true
	default:
		return nil, false
	}
}
