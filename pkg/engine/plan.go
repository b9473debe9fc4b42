package engine

import (
	"fmt"

	"github.com/operon-io/operon/pkg/op"
)

// PlanMode says where a planned sequence executes.
type PlanMode int

const (
	// PlanStorage pushes every operation into the target.
	PlanStorage PlanMode = iota

	// PlanHybrid pushes a prefix into the target and runs the rest in
	// process on the prefix's result.
	PlanHybrid

	// PlanInProcess pushes nothing; the sequence runs step by step
	// through the generic execution path.
	PlanInProcess
)

func (m PlanMode) String() string {
	switch m {
	case PlanStorage:
		return "storage"
	case PlanHybrid:
		return "hybrid"
	case PlanInProcess:
		return "in_process"
	default:
		return "unknown"
	}
}

// Plan is a target's execution strategy for an operation sequence.
// Pushed holds the operations the target takes, as written. Compiled,
// when set, is the executable form the target prefers: typically a
// Read with trailing filters folded into one native query. Remaining
// runs in process after the pushed part.
type Plan struct {
	Mode      PlanMode
	Pushed    []op.Operation
	Compiled  []op.Operation
	Remaining []op.Operation
}

// pushed returns the operations to execute on the target, preferring
// the compiled form.
func (p *Plan) pushed() []op.Operation {
	if len(p.Compiled) > 0 {
		return p.Compiled
	}
	return p.Pushed
}

// OpsForPlanning flattens a pipeline into the bare operation list a
// planner works on. Bound steps unwrap, nested bound pipelines
// flatten through, and a switch is rejected: it spans targets, so no
// single target can plan across it.
func OpsForPlanning(n op.Node) ([]op.Operation, error) {
	var out []op.Operation
	for _, step := range op.Flatten(n) {
		switch st := step.(type) {
		case *op.Bound:
			inner, err := OpsForPlanning(st.Op)
			if err != nil {
				return nil, err
			}
			out = append(out, inner...)
		case *op.Switch:
			return nil, NewBadPlanError("a target switch cannot be planned for a single target")
		case op.Operation:
			out = append(out, st)
		default:
			return nil, NewBadPlanError(fmt.Sprintf("cannot plan step %T", step))
		}
	}
	return out, nil
}

// PlanOps is the planning algorithm targets share, parameterized by
// which comparisons the target's query language supports. It splits
// the sequence at the first operation that cannot be pushed down:
//
//   - Read and Delete always push;
//   - Create pushes when it carries its own data and no previous
//     result feeds it;
//   - Update pushes when its patch is a Fields patch and, standing
//     mid-sequence, consumes the pushed prefix's result in storage;
//   - Filter pushes when its predicate compiles for the target;
//   - Map, Reduce and Transform never push.
//
// An empty suffix is a storage plan. A suffix opening with a pipeline
// mode Update or Delete cannot be split away from the prefix feeding
// it, so the whole sequence stays on the generic path. A non-empty
// prefix makes a hybrid plan only when a Read anchors it; a prefix
// with nothing to query from, like a bare Create, gains nothing over
// running as written, so the plan is in-process. No prefix at all is
// in-process too.
func PlanOps(ops []op.Operation, supports func(op.CompareOp) bool) (*Plan, error) {
	if len(ops) == 0 {
		return nil, NewBadPlanError("cannot plan an empty operation sequence")
	}

	split := len(ops)
	for i, o := range ops {
		if !pushable(o, i > 0, supports) {
			split = i
			break
		}
	}
	prefix, suffix := ops[:split], ops[split:]

	if len(suffix) == 0 {
		return &Plan{Mode: PlanStorage, Pushed: ops}, nil
	}
	if len(prefix) > 0 && consumesPrefix(suffix[0]) {
		return &Plan{Mode: PlanInProcess, Remaining: ops}, nil
	}
	if len(prefix) > 0 && hasRead(prefix) {
		return &Plan{Mode: PlanHybrid, Pushed: prefix, Remaining: suffix}, nil
	}
	return &Plan{Mode: PlanInProcess, Remaining: ops}, nil
}

func hasRead(ops []op.Operation) bool {
	for _, o := range ops {
		if o.Kind() == op.KindRead {
			return true
		}
	}
	return false
}

func pushable(o op.Operation, hasPrevious bool, supports func(op.CompareOp) bool) bool {
	switch ot := o.(type) {
	case op.Read:
		return true
	case op.Delete:
		return true
	case op.Create:
		return !hasPrevious && len(ot.Data) > 0
	case op.Update:
		if _, isFields := ot.Patch.(op.Fields); !isFields {
			return false
		}
		if hasPrevious {
			return true
		}
		return ot.Index != nil
	case op.Filter:
		return op.Compilable(ot.Predicate, supports)
	default:
		return false
	}
}

// consumesPrefix reports whether the operation is a pipeline mode
// Update or Delete: it takes its items from the step before it and
// must stay in the same transaction as that step.
func consumesPrefix(o op.Operation) bool {
	switch o.Kind() {
	case op.KindUpdate, op.KindDelete:
		return o.NeedsPrevious()
	default:
		return false
	}
}
