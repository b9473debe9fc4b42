package engine

import "github.com/operon-io/operon/pkg/op"

// UnitState tracks one execution unit through its lifecycle. A unit
// moves Pending to Running, then to Committed on success or Aborted
// on error; there are no other transitions.
type UnitState int

const (
	UnitPending UnitState = iota
	UnitRunning
	UnitCommitted
	UnitAborted
)

func (s UnitState) String() string {
	switch s {
	case UnitPending:
		return "pending"
	case UnitRunning:
		return "running"
	case UnitCommitted:
		return "committed"
	case UnitAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// UnitTrace records how one execution unit fared. Target is empty for
// in-process units; a switch unit names both targets as
// "source>next".
type UnitTrace struct {
	Target string
	Kinds  []op.Kind
	State  UnitState
	Err    error
}

// Trace records a whole execution: the pipeline's digest and one
// entry per unit in execution order. Units after an aborted one stay
// pending; nothing rolls back across units.
type Trace struct {
	Digest string
	Units  []UnitTrace
}

func (t *Trace) add(target string, kinds []op.Kind) *UnitTrace {
	t.Units = append(t.Units, UnitTrace{Target: target, Kinds: kinds, State: UnitPending})
	return &t.Units[len(t.Units)-1]
}
