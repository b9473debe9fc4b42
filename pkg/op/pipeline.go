package op

// Target is where a bound step executes. The concrete targets live in
// the backend packages; this package only needs their identity.
type Target interface {
	Name() string
}

// Node is a vertex of the pipeline tree. Sealed: the implementations
// are the eight operations, *Pipeline, *Bound and *Switch.
type Node interface {
	node()
}

// Pipeline composes two nodes executed left to right. Composition is
// left associative, so a chain of Then calls nests in First and the
// newest step is always Second.
type Pipeline struct {
	First  Node
	Second Node
}

func (*Pipeline) node() {}

// Bound attaches a step to the target that executes it. Op is an
// Operation, or a *Pipeline handed to the target as one unit so the
// target can plan it as a whole.
type Bound struct {
	Op     Node
	Target Target
}

func (*Bound) node() {}

// Switch hands a result across targets: Source runs on SourceTarget
// and its result feeds Next on NextTarget. Then synthesizes a Switch
// when two adjacent steps are bound to different targets.
type Switch struct {
	Source       Operation
	SourceTarget Target
	Next         Operation
	NextTarget   Target
}

func (*Switch) node() {}

// Then composes two nodes. Beyond building the tree it applies the
// binding rules:
//
//   - a bound step followed by an unbound storage operation binds the
//     second to the same target;
//   - in-process operations are never auto-bound;
//   - two single operations bound to different targets become one
//     Switch carrying the result across.
//
// Targets compare by identity, not by name.
func Then(a, b Node) Node {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	ab, ok := a.(*Bound)
	if !ok {
		return &Pipeline{First: a, Second: b}
	}
	switch bn := b.(type) {
	case *Bound:
		if ab.Target == bn.Target {
			return &Pipeline{First: a, Second: b}
		}
		src, srcIsOp := ab.Op.(Operation)
		next, nextIsOp := bn.Op.(Operation)
		if srcIsOp && nextIsOp {
			return &Switch{
				Source:       src,
				SourceTarget: ab.Target,
				Next:         next,
				NextTarget:   bn.Target,
			}
		}
		return &Pipeline{First: a, Second: b}
	default:
		if bop, ok := b.(Operation); ok && bop.NeedsTarget() {
			return &Pipeline{First: a, Second: &Bound{Op: bop, Target: ab.Target}}
		}
		return &Pipeline{First: a, Second: b}
	}
}

// Compose folds Then over the nodes left to right. Nil nodes are
// skipped; composing nothing yields nil.
func Compose(nodes ...Node) Node {
	var out Node
	for _, n := range nodes {
		out = Then(out, n)
	}
	return out
}

// Bind attaches n to t. An operation or pipeline is wrapped, a bound
// step is rebound, and a switch keeps its source side but hands the
// result to t instead.
func Bind(n Node, t Target) Node {
	switch nt := n.(type) {
	case nil:
		return nil
	case *Bound:
		return &Bound{Op: nt.Op, Target: t}
	case *Switch:
		return &Switch{
			Source:       nt.Source,
			SourceTarget: nt.SourceTarget,
			Next:         nt.Next,
			NextTarget:   t,
		}
	default:
		return &Bound{Op: n, Target: t}
	}
}

// Chain binds every storage operation to t and composes the result.
// In-process operations stay unbound.
func Chain(t Target, ops ...Operation) Node {
	var out Node
	for _, o := range ops {
		if o.NeedsTarget() {
			out = Then(out, Bind(o, t))
		} else {
			out = Then(out, o)
		}
	}
	return out
}

// Flatten returns the tree's leaves in execution order. Leaves are
// operations, bound steps and switches; only Pipeline nodes recurse.
func Flatten(n Node) []Node {
	if n == nil {
		return nil
	}
	var out []Node
	var walk func(Node)
	walk = func(m Node) {
		if p, ok := m.(*Pipeline); ok {
			walk(p.First)
			walk(p.Second)
			return
		}
		out = append(out, m)
	}
	walk(n)
	return out
}
