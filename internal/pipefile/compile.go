package pipefile

import (
	"fmt"
	"reflect"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/token"

	"github.com/operon-io/operon/pkg/index"
	"github.com/operon-io/operon/pkg/op"
)

// CompileError is a pipefile element that does not compile.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// documentType keys the collection pipefile items land in. Pipefiles
// are schemaless: every item is a plain map document, and separate
// data sets live on separate targets.
var documentType = reflect.TypeOf(map[string]any{})

// Compile turns a loaded pipefile into an executable node. Storage
// steps bind to the named targets; unknown names fail here rather
// than at execution.
func Compile(v cue.Value, targets map[string]op.Target) (op.Node, error) {
	exprs, err := NewExpressions()
	if err != nil {
		return nil, err
	}
	c := &compiler{targets: targets, exprs: exprs}
	return c.pipeline(v)
}

type compiler struct {
	targets map[string]op.Target
	exprs   *Expressions
}

func (c *compiler) pipeline(v cue.Value) (op.Node, error) {
	pv := v.LookupPath(cue.ParsePath("pipeline"))
	if !pv.Exists() {
		return nil, &CompileError{Field: "pipeline", Message: "pipeline is required", Pos: v.Pos()}
	}

	defaultTarget := ""
	if tv := pv.LookupPath(cue.ParsePath("target")); tv.Exists() {
		s, err := tv.String()
		if err != nil {
			return nil, &CompileError{Field: "pipeline.target", Message: "target must be a string", Pos: tv.Pos()}
		}
		defaultTarget = s
	}

	stepsVal := pv.LookupPath(cue.ParsePath("steps"))
	if !stepsVal.Exists() {
		return nil, &CompileError{Field: "pipeline.steps", Message: "steps is required", Pos: pv.Pos()}
	}
	iter, err := stepsVal.List()
	if err != nil {
		return nil, &CompileError{Field: "pipeline.steps", Message: "steps must be a list", Pos: stepsVal.Pos()}
	}

	g := grouper{}
	count := 0
	for i := 0; iter.Next(); i++ {
		operation, target, err := c.step(iter.Value(), i, defaultTarget)
		if err != nil {
			return nil, err
		}
		g.add(operation, target)
		count++
	}
	if count == 0 {
		return nil, &CompileError{Field: "pipeline.steps", Message: "pipeline has no steps", Pos: stepsVal.Pos()}
	}
	return g.node(), nil
}

// grouper assembles compiled steps into the pipeline tree. Contiguous
// steps on one target, including the in-process steps between them,
// become a single bound sub-pipeline so the target can plan the whole
// run; everything else composes step by step.
type grouper struct {
	nodes     []op.Node
	run       []op.Node
	runTarget op.Target
}

func (g *grouper) add(operation op.Operation, target op.Target) {
	switch {
	case target == nil && operation.NeedsTarget():
		// Unbound create: merges its data in process.
		g.flush()
		g.nodes = append(g.nodes, operation)
	case target == nil:
		if g.runTarget != nil {
			g.run = append(g.run, operation)
			return
		}
		g.nodes = append(g.nodes, operation)
	case target == g.runTarget:
		g.run = append(g.run, operation)
	default:
		g.flush()
		g.runTarget = target
		g.run = []op.Node{operation}
	}
}

func (g *grouper) flush() {
	if len(g.run) == 0 {
		return
	}
	g.nodes = append(g.nodes, op.Bind(op.Compose(g.run...), g.runTarget))
	g.run = nil
	g.runTarget = nil
}

func (g *grouper) node() op.Node {
	g.flush()
	return op.Compose(g.nodes...)
}

func (c *compiler) step(v cue.Value, i int, defaultTarget string) (op.Operation, op.Target, error) {
	field := fmt.Sprintf("steps[%d]", i)

	targetName := defaultTarget
	if tv := v.LookupPath(cue.ParsePath("target")); tv.Exists() {
		s, err := tv.String()
		if err != nil {
			return nil, nil, &CompileError{Field: field + ".target", Message: "target must be a string", Pos: tv.Pos()}
		}
		targetName = s
	}

	var operation op.Operation
	var err error
	switch {
	case v.LookupPath(cue.ParsePath("create")).Exists():
		operation, err = c.create(v.LookupPath(cue.ParsePath("create")), field+".create")
	case v.LookupPath(cue.ParsePath("read")).Exists():
		operation, err = c.read(v.LookupPath(cue.ParsePath("read")), field+".read")
	case v.LookupPath(cue.ParsePath("update")).Exists():
		operation, err = c.update(v.LookupPath(cue.ParsePath("update")), field+".update")
	case v.LookupPath(cue.ParsePath("delete")).Exists():
		operation, err = c.delete(v.LookupPath(cue.ParsePath("delete")), field+".delete")
	case v.LookupPath(cue.ParsePath("filter")).Exists():
		operation, err = c.filterStep(v.LookupPath(cue.ParsePath("filter")), field+".filter")
	case v.LookupPath(cue.ParsePath("map")).Exists():
		operation, err = c.mapStep(v.LookupPath(cue.ParsePath("map")), field+".map")
	case v.LookupPath(cue.ParsePath("reduce")).Exists():
		operation, err = c.reduceStep(v.LookupPath(cue.ParsePath("reduce")), field+".reduce")
	case v.LookupPath(cue.ParsePath("transform")).Exists():
		operation, err = c.transformStep(v.LookupPath(cue.ParsePath("transform")), field+".transform")
	default:
		return nil, nil, &CompileError{Field: field, Message: "step declares no operation", Pos: v.Pos()}
	}
	if err != nil {
		return nil, nil, err
	}

	if !operation.NeedsTarget() {
		return operation, nil, nil
	}
	if targetName == "" {
		if _, ok := operation.(op.Create); ok {
			return operation, nil, nil
		}
		return nil, nil, &CompileError{Field: field + ".target", Message: "storage step needs a target", Pos: v.Pos()}
	}
	target, ok := c.targets[targetName]
	if !ok {
		return nil, nil, &CompileError{Field: field + ".target", Message: fmt.Sprintf("unknown target %q", targetName), Pos: v.Pos()}
	}
	return operation, target, nil
}

func (c *compiler) create(v cue.Value, field string) (op.Operation, error) {
	var items []map[string]any
	if dv := v.LookupPath(cue.ParsePath("data")); dv.Exists() {
		if err := dv.Decode(&items); err != nil {
			return nil, &CompileError{Field: field + ".data", Message: err.Error(), Pos: dv.Pos()}
		}
	}
	data := make([]any, len(items))
	for i, m := range items {
		data[i] = m
	}
	return op.NewCreateFor(documentType, data...), nil
}

func (c *compiler) read(v cue.Value, field string) (op.Operation, error) {
	idx, err := c.index(v, field)
	if err != nil {
		return nil, err
	}
	return op.NewReadFor(documentType, idx), nil
}

func (c *compiler) update(v cue.Value, field string) (op.Operation, error) {
	idx, err := c.index(v, field)
	if err != nil {
		return nil, err
	}
	fv := v.LookupPath(cue.ParsePath("fields"))
	if !fv.Exists() {
		return nil, &CompileError{Field: field + ".fields", Message: "update needs a fields patch", Pos: v.Pos()}
	}
	var m map[string]any
	if err := fv.Decode(&m); err != nil {
		return nil, &CompileError{Field: field + ".fields", Message: err.Error(), Pos: fv.Pos()}
	}
	return op.NewUpdateFor(documentType, idx, op.Fields(m)), nil
}

func (c *compiler) delete(v cue.Value, field string) (op.Operation, error) {
	idx, err := c.index(v, field)
	if err != nil {
		return nil, err
	}
	return op.NewDeleteFor(documentType, idx), nil
}

func (c *compiler) filterStep(v cue.Value, field string) (op.Operation, error) {
	src, err := v.String()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "filter must be an expression string", Pos: v.Pos()}
	}
	pred, err := c.exprs.Filter(src)
	if err != nil {
		return nil, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	return op.NewFilter(pred), nil
}

func (c *compiler) mapStep(v cue.Value, field string) (op.Operation, error) {
	src, err := v.String()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "map must be an expression string", Pos: v.Pos()}
	}
	fn, err := c.exprs.Mapper(src)
	if err != nil {
		return nil, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	return op.NewMap(fn), nil
}

func (c *compiler) reduceStep(v cue.Value, field string) (op.Operation, error) {
	ev := v.LookupPath(cue.ParsePath("expr"))
	if !ev.Exists() {
		return nil, &CompileError{Field: field + ".expr", Message: "reduce needs an expr", Pos: v.Pos()}
	}
	src, err := ev.String()
	if err != nil {
		return nil, &CompileError{Field: field + ".expr", Message: "expr must be an expression string", Pos: ev.Pos()}
	}
	fn, err := c.exprs.Reducer(src)
	if err != nil {
		return nil, &CompileError{Field: field + ".expr", Message: err.Error(), Pos: ev.Pos()}
	}

	var initial any
	if iv := v.LookupPath(cue.ParsePath("initial")); iv.Exists() {
		if err := iv.Decode(&initial); err != nil {
			return nil, &CompileError{Field: field + ".initial", Message: err.Error(), Pos: iv.Pos()}
		}
	}
	return op.NewReduce(fn, initial), nil
}

func (c *compiler) transformStep(v cue.Value, field string) (op.Operation, error) {
	src, err := v.String()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "transform must be an expression string", Pos: v.Pos()}
	}
	fn, err := c.exprs.Transformer(src)
	if err != nil {
		return nil, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	return op.NewTransform(fn), nil
}

// index parses the optional index descriptor on a storage step:
// params, path, native (with optional args), or vector.
func (c *compiler) index(v cue.Value, field string) (index.Index, error) {
	if pv := v.LookupPath(cue.ParsePath("params")); pv.Exists() {
		var m map[string]any
		if err := pv.Decode(&m); err != nil {
			return nil, &CompileError{Field: field + ".params", Message: err.Error(), Pos: pv.Pos()}
		}
		return index.Params(m), nil
	}
	if pv := v.LookupPath(cue.ParsePath("path")); pv.Exists() {
		s, err := pv.String()
		if err != nil {
			return nil, &CompileError{Field: field + ".path", Message: "path must be a string", Pos: pv.Pos()}
		}
		return index.Path(s), nil
	}
	if nv := v.LookupPath(cue.ParsePath("native")); nv.Exists() {
		var query any
		if err := nv.Decode(&query); err != nil {
			return nil, &CompileError{Field: field + ".native", Message: err.Error(), Pos: nv.Pos()}
		}
		var args []any
		if av := v.LookupPath(cue.ParsePath("args")); av.Exists() {
			if err := av.Decode(&args); err != nil {
				return nil, &CompileError{Field: field + ".args", Message: err.Error(), Pos: av.Pos()}
			}
		}
		return index.NewNativeQuery(query, args...), nil
	}
	if vv := v.LookupPath(cue.ParsePath("vector")); vv.Exists() {
		qv := vv.LookupPath(cue.ParsePath("query"))
		if !qv.Exists() {
			return nil, &CompileError{Field: field + ".vector.query", Message: "vector needs a query", Pos: vv.Pos()}
		}
		var q []float32
		if err := qv.Decode(&q); err != nil {
			return nil, &CompileError{Field: field + ".vector.query", Message: err.Error(), Pos: qv.Pos()}
		}
		var opts []index.VectorOption
		if lv := vv.LookupPath(cue.ParsePath("limit")); lv.Exists() {
			n, err := lv.Int64()
			if err != nil {
				return nil, &CompileError{Field: field + ".vector.limit", Message: "limit must be an int", Pos: lv.Pos()}
			}
			opts = append(opts, index.WithLimit(int(n)))
		}
		if tv := vv.LookupPath(cue.ParsePath("threshold")); tv.Exists() {
			f, err := tv.Float64()
			if err != nil {
				return nil, &CompileError{Field: field + ".vector.threshold", Message: "threshold must be a number", Pos: tv.Pos()}
			}
			opts = append(opts, index.WithThreshold(float32(f)))
		}
		return index.NewVector(q, opts...), nil
	}
	return nil, nil
}
