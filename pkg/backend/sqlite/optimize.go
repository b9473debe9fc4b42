package sqlite

import (
	"strings"

	"github.com/operon-io/operon/pkg/engine"
	"github.com/operon-io/operon/pkg/index"
	"github.com/operon-io/operon/pkg/op"
)

// Optimize plans an operation sequence for this store. Every
// comparison operator pushes down, and a fully-pushable
// read-filter-write chain folds into a single operation carrying the
// compiled WHERE clause, so one statement does the work of the whole
// chain.
func (s *Store) Optimize(ops []op.Operation) (*engine.Plan, error) {
	plan, err := engine.PlanOps(ops, Supports)
	if err != nil {
		return nil, err
	}
	if plan.Mode == engine.PlanStorage {
		if compiled, ok := foldPushed(plan.Pushed); ok {
			plan.Compiled = compiled
		}
	}
	return plan, nil
}

// foldPushed rewrites [read, filters..., terminal write] into one
// operation whose index is the compiled conjunction of the read's
// index and every filter. The terminal is a pipeline-form fields
// update or delete; an indexed write is independent of the read and
// stays separate. Sequences that do not compile fold nowhere and run
// step by step instead.
func foldPushed(ops []op.Operation) ([]op.Operation, bool) {
	if len(ops) < 2 {
		return nil, false
	}
	read, ok := ops[0].(op.Read)
	if !ok || read.Type == nil {
		return nil, false
	}
	where, args, err := compileIndex(read.Index)
	if err != nil {
		return nil, false
	}

	rest := ops[1:]
	var terminal op.Operation
	if n := len(rest); n > 0 {
		switch last := rest[n-1].(type) {
		case op.Update:
			if _, isFields := last.Patch.(op.Fields); isFields && last.Index == nil {
				terminal = last
				rest = rest[:n-1]
			}
		case op.Delete:
			if last.Index == nil {
				terminal = last
				rest = rest[:n-1]
			}
		}
	}

	frags := []string{where}
	for _, o := range rest {
		f, ok := o.(op.Filter)
		if !ok {
			return nil, false
		}
		sql, fargs, err := compilePredicate(f.Predicate)
		if err != nil {
			return nil, false
		}
		frags = append(frags, sql)
		args = append(args, fargs...)
	}

	folded := index.NewNativeQuery(strings.Join(frags, " AND "), args...)
	switch t := terminal.(type) {
	case op.Update:
		return []op.Operation{op.NewUpdateFor(read.Type, folded, t.Patch)}, true
	case op.Delete:
		return []op.Operation{op.NewDeleteFor(read.Type, folded)}, true
	default:
		if len(rest) == 0 {
			return nil, false
		}
		return []op.Operation{op.NewReadFor(read.Type, folded)}, true
	}
}
