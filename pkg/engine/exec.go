package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/operon-io/operon/pkg/op"
)

// Executor runs validated pipelines. Contiguous operations bound to
// the same target share one transaction scope; in-process operations
// run between scopes on the accumulated result; a switch bridges two
// targets with a scope on each side. Results thread through units in
// order. There is no rollback across units: an aborted unit stops the
// run and everything committed before it stays committed.
type Executor struct {
	log   *slog.Logger
	cache *PlanCache
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Executor) { e.log = log }
}

// WithPlanCache shares a plan cache between executors.
func WithPlanCache(c *PlanCache) Option {
	return func(e *Executor) { e.cache = c }
}

// New returns an Executor with a private plan cache and the default
// logger.
func New(opts ...Option) *Executor {
	e := &Executor{
		log:   slog.Default(),
		cache: NewPlanCache(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute validates and runs a pipeline, returning the final result.
func (e *Executor) Execute(ctx context.Context, n op.Node) (Result, error) {
	res, _, err := e.ExecuteTrace(ctx, n)
	return res, err
}

// ExecuteTrace runs a pipeline and reports per-unit outcomes. The
// trace is returned even when execution fails; units after the
// aborted one stay pending.
func (e *Executor) ExecuteTrace(ctx context.Context, n op.Node) (Result, *Trace, error) {
	if err := Validate(n); err != nil {
		return nil, nil, err
	}

	units, err := buildUnits(op.Flatten(n))
	if err != nil {
		return nil, nil, err
	}

	trace := &Trace{Digest: op.Digest(n)}
	for _, u := range units {
		trace.add(u.traceTarget(), u.kinds())
	}

	var result Result
	for i, u := range units {
		ut := &trace.Units[i]
		ut.State = UnitRunning
		e.log.Debug("executing unit",
			"digest", trace.Digest,
			"unit", i,
			"target", ut.Target,
			"kinds", ut.Kinds)

		result, err = e.executeUnit(ctx, u, result)
		if err != nil {
			ut.State = UnitAborted
			ut.Err = err
			return nil, trace, err
		}
		ut.State = UnitCommitted
	}
	return result, trace, nil
}

type unitKind int

const (
	unitGroup unitKind = iota
	unitInProcess
	unitPlanned
	unitSwitch
)

// unit is one execution step after grouping: a run of same-target
// operations, a single in-process operation, a bound sub-pipeline to
// plan as a whole, or a target switch.
type unit struct {
	kind unitKind

	target Target
	ops    []op.Operation

	inProc op.Operation

	digest string

	sw         *op.Switch
	srcTarget  Target
	nextTarget Target
}

func (u unit) traceTarget() string {
	switch u.kind {
	case unitGroup, unitPlanned:
		return u.target.Name()
	case unitSwitch:
		return u.srcTarget.Name() + ">" + u.nextTarget.Name()
	default:
		return ""
	}
}

func (u unit) kinds() []op.Kind {
	switch u.kind {
	case unitGroup, unitPlanned:
		kinds := make([]op.Kind, len(u.ops))
		for i, o := range u.ops {
			kinds[i] = o.Kind()
		}
		return kinds
	case unitSwitch:
		return []op.Kind{u.sw.Source.Kind(), u.sw.Next.Kind()}
	default:
		return []op.Kind{u.inProc.Kind()}
	}
}

// buildUnits groups a flattened pipeline into execution units.
// Contiguous storage operations bound to the same target coalesce
// into one unit; anything else closes the open group. An operation
// bound to a target it cannot use, such as a bound Filter, runs in
// process and the binding is ignored.
func buildUnits(steps []op.Node) ([]unit, error) {
	var units []unit
	var open *unit
	flush := func() {
		if open != nil {
			units = append(units, *open)
			open = nil
		}
	}

	for _, step := range steps {
		switch st := step.(type) {
		case *op.Bound:
			t, err := executorTarget(st.Target)
			if err != nil {
				return nil, err
			}
			switch inner := st.Op.(type) {
			case *op.Pipeline:
				ops, err := OpsForPlanning(inner)
				if err != nil {
					return nil, err
				}
				flush()
				units = append(units, unit{
					kind:   unitPlanned,
					target: t,
					ops:    ops,
					digest: op.Digest(st),
				})
			case op.Operation:
				if !inner.NeedsTarget() {
					flush()
					units = append(units, unit{kind: unitInProcess, inProc: inner})
					continue
				}
				if open != nil && open.target == t {
					open.ops = append(open.ops, inner)
					continue
				}
				flush()
				open = &unit{kind: unitGroup, target: t, ops: []op.Operation{inner}}
			default:
				return nil, NewBadPlanError(fmt.Sprintf("bound step wraps %T", st.Op))
			}
		case *op.Switch:
			srcT, err := executorTarget(st.SourceTarget)
			if err != nil {
				return nil, err
			}
			nextT, err := executorTarget(st.NextTarget)
			if err != nil {
				return nil, err
			}
			flush()
			units = append(units, unit{kind: unitSwitch, sw: st, srcTarget: srcT, nextTarget: nextT})
		case op.Operation:
			flush()
			units = append(units, unit{kind: unitInProcess, inProc: st})
		default:
			return nil, NewBadPlanError(fmt.Sprintf("cannot execute step %T", step))
		}
	}
	flush()
	return units, nil
}

// executorTarget narrows a composition target to an executable one.
func executorTarget(t op.Target) (Target, error) {
	if t == nil {
		return nil, NewBadPlanError("bound step has no target")
	}
	et, ok := t.(Target)
	if !ok {
		return nil, NewBadPlanError(fmt.Sprintf("target %q cannot execute operations", t.Name()))
	}
	return et, nil
}

func (e *Executor) executeUnit(ctx context.Context, u unit, prev Result) (Result, error) {
	switch u.kind {
	case unitGroup:
		return e.executeSeq(ctx, u.target, u.ops, prev)
	case unitInProcess:
		return executeInProcess(u.inProc, prev)
	case unitPlanned:
		return e.executePlanned(ctx, u, prev)
	case unitSwitch:
		return e.executeSwitch(ctx, u, prev)
	default:
		return nil, NewBadPlanError("unknown execution unit")
	}
}

// executePlanned runs a bound sub-pipeline as one unit on its target.
// When the target plans, the planned form replaces the written one:
// a storage plan executes the compiled operations, a hybrid plan
// executes the pushed prefix then the remainder, and an in-process
// plan falls back to the written sequence. Everything runs inside a
// single transaction scope either way.
func (e *Executor) executePlanned(ctx context.Context, u unit, prev Result) (Result, error) {
	seq := u.ops
	if opt, ok := u.target.(Optimizer); ok {
		plan, err := e.planFor(opt, u.target.Name(), u.digest, u.ops)
		if err != nil {
			return nil, err
		}
		if plan.Mode != PlanInProcess {
			pushed := plan.pushed()
			seq = make([]op.Operation, 0, len(pushed)+len(plan.Remaining))
			seq = append(seq, pushed...)
			seq = append(seq, plan.Remaining...)
			e.log.Debug("using plan",
				"target", u.target.Name(),
				"mode", plan.Mode,
				"pushed", len(pushed),
				"remaining", len(plan.Remaining))
		}
	}
	return e.executeSeq(ctx, u.target, seq, prev)
}

func (e *Executor) planFor(opt Optimizer, target, digest string, ops []op.Operation) (*Plan, error) {
	if plan, ok := e.cache.Get(digest, target); ok {
		return plan, nil
	}
	plan, err := opt.Optimize(ops)
	if err != nil {
		return nil, err
	}
	e.cache.Put(digest, target, plan)
	return plan, nil
}

// executeSeq runs operations against one target inside a single
// transaction scope, threading results. In-process operations in the
// sequence run between storage calls without leaving the scope.
func (e *Executor) executeSeq(ctx context.Context, target Target, seq []op.Operation, prev Result) (Result, error) {
	out := prev
	err := target.Transaction(ctx, func(ctx context.Context, tx Tx) error {
		res := prev
		for _, o := range seq {
			var err error
			res, err = e.executeOpInTx(ctx, tx, o, res)
			if err != nil {
				return err
			}
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// executeOpInTx runs one operation inside an open transaction. A
// Create is merged with the previous result before it reaches the
// target, so targets always see fully resolved data. Cursor results
// drain before returning: a cursor is not valid outside the scope
// that produced it.
func (e *Executor) executeOpInTx(ctx context.Context, tx Tx, o op.Operation, prev Result) (Result, error) {
	if !o.NeedsTarget() {
		return executeInProcess(o, prev)
	}

	var res Result
	var err error
	switch ot := o.(type) {
	case op.Create:
		merged, mergeErr := mergeCreate(ot, prev)
		if mergeErr != nil {
			return nil, mergeErr
		}
		res, err = tx.Execute(ctx, merged, nil)
	case op.Update:
		if ot.NeedsPrevious() && prev == nil {
			return nil, NewNeedsPreviousError("update")
		}
		if ot.NeedsPrevious() {
			res, err = tx.Execute(ctx, ot, prev)
		} else {
			res, err = tx.Execute(ctx, ot, nil)
		}
	case op.Delete:
		if ot.NeedsPrevious() && prev == nil {
			return nil, NewNeedsPreviousError("delete")
		}
		if ot.NeedsPrevious() {
			res, err = tx.Execute(ctx, ot, prev)
		} else {
			res, err = tx.Execute(ctx, ot, nil)
		}
	default:
		res, err = tx.Execute(ctx, o, nil)
	}
	if err != nil {
		return nil, err
	}

	if cur, ok := res.(Cursor); ok {
		items, drainErr := Drain(ctx, cur)
		if drainErr != nil {
			return nil, drainErr
		}
		return items, nil
	}
	return res, nil
}

// executeSwitch bridges two targets: the source operation runs in its
// own scope on the source target, then its result feeds the next
// operation in a fresh scope on the next target. The two scopes are
// independent; a failure on the next target does not undo the source.
func (e *Executor) executeSwitch(ctx context.Context, u unit, prev Result) (Result, error) {
	srcRes, err := e.executeSeq(ctx, u.srcTarget, []op.Operation{u.sw.Source}, prev)
	if err != nil {
		return nil, fmt.Errorf("switch source on %q: %w", u.srcTarget.Name(), err)
	}
	res, err := e.executeSeq(ctx, u.nextTarget, []op.Operation{u.sw.Next}, srcRes)
	if err != nil {
		return nil, fmt.Errorf("switch next on %q: %w", u.nextTarget.Name(), err)
	}
	return res, nil
}
