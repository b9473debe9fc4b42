package pipefile

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"

	"github.com/operon-io/operon/pkg/op"
)

// Expressions compiles the CEL expression strings a pipefile embeds.
// A filter whose checked form is comparisons and conjunctions over
// item fields lowers to the portable predicate form, which backends
// can push down; everything else evaluates through the compiled
// program in process.
type Expressions struct {
	filter    *cel.Env
	mapper    *cel.Env
	reducer   *cel.Env
	transform *cel.Env
}

func NewExpressions() (*Expressions, error) {
	filter, err := cel.NewEnv(
		cel.Variable("item", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("build filter env: %w", err)
	}
	mapper, err := filter.Extend(cel.Variable("ordinal", cel.IntType))
	if err != nil {
		return nil, fmt.Errorf("build map env: %w", err)
	}
	reducer, err := filter.Extend(cel.Variable("acc", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("build reduce env: %w", err)
	}
	transform, err := cel.NewEnv(
		cel.Variable("items", cel.ListType(cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("build transform env: %w", err)
	}
	return &Expressions{filter: filter, mapper: mapper, reducer: reducer, transform: transform}, nil
}

func compileIn(env *cel.Env, src string) (cel.Program, *cel.Ast, error) {
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, nil, fmt.Errorf("compile %q: %w", src, issues.Err())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, nil, fmt.Errorf("program %q: %w", src, err)
	}
	return prg, ast, nil
}

// Filter compiles a boolean expression over item.
func (e *Expressions) Filter(src string) (op.Predicate, error) {
	prg, ast, err := compileIn(e.filter, src)
	if err != nil {
		return nil, err
	}
	if pred, ok := loweredPredicate(ast.NativeRep().Expr()); ok {
		return pred, nil
	}
	return op.Func(func(item any) (bool, error) {
		out, _, err := prg.Eval(map[string]any{"item": item})
		if err != nil {
			return false, fmt.Errorf("filter %q: %w", src, err)
		}
		b, ok := out.Value().(bool)
		if !ok {
			return false, fmt.Errorf("filter %q is not a bool: %T", src, out.Value())
		}
		return b, nil
	}), nil
}

// Mapper compiles an expression over item and ordinal.
func (e *Expressions) Mapper(src string) (op.Mapper, error) {
	prg, _, err := compileIn(e.mapper, src)
	if err != nil {
		return nil, err
	}
	return func(item any, ordinal int) (any, error) {
		out, _, err := prg.Eval(map[string]any{"item": item, "ordinal": ordinal})
		if err != nil {
			return nil, fmt.Errorf("map %q: %w", src, err)
		}
		return nativeValue(out), nil
	}, nil
}

// Reducer compiles an expression over acc and item.
func (e *Expressions) Reducer(src string) (op.Reducer, error) {
	prg, _, err := compileIn(e.reducer, src)
	if err != nil {
		return nil, err
	}
	return func(acc, item any) (any, error) {
		out, _, err := prg.Eval(map[string]any{"acc": acc, "item": item})
		if err != nil {
			return nil, fmt.Errorf("reduce %q: %w", src, err)
		}
		return nativeValue(out), nil
	}, nil
}

// Transformer compiles an expression over the whole items list.
func (e *Expressions) Transformer(src string) (op.Transformer, error) {
	prg, _, err := compileIn(e.transform, src)
	if err != nil {
		return nil, err
	}
	return func(items []any) (any, error) {
		out, _, err := prg.Eval(map[string]any{"items": items})
		if err != nil {
			return nil, fmt.Errorf("transform %q: %w", src, err)
		}
		return nativeValue(out), nil
	}, nil
}

// nativeValue unwraps a CEL result to plain Go values. Lists the
// expression builds come back holding ref.Val elements and unwrap
// one by one.
func nativeValue(v ref.Val) any {
	if lister, ok := v.(traits.Lister); ok {
		out := []any{}
		it := lister.Iterator()
		for it.HasNext() == types.True {
			out = append(out, nativeValue(it.Next()))
		}
		return out
	}
	return v.Value()
}
