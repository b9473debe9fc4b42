package engine

import (
	"fmt"

	"github.com/operon-io/operon/pkg/op"
)

// Validate checks a pipeline's structure before execution and fails
// fast on the first defect. The rules, over the flattened step list:
//
//   - an in-process operation cannot be the first step, it would have
//     no previous result;
//   - an in-process operation must not be bound to a target;
//   - a storage operation must be bound, except a Create that either
//     carries data or stands after another step and so receives a
//     previous result to persist;
//   - a switch must carry a source, a next operation, and both
//     targets.
//
// Update and Delete in pipeline mode still count as storage
// operations here: they need a binding, and whether they receive a
// previous result is the executor's concern.
func Validate(n op.Node) error {
	steps := op.Flatten(n)
	if len(steps) == 0 {
		return &ValidationError{Index: 0, Message: "empty pipeline"}
	}
	for i, step := range steps {
		if err := validateStep(step, i); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step op.Node, idx int) error {
	var (
		inner     op.Node
		hasTarget bool
	)

	switch st := step.(type) {
	case nil:
		return &ValidationError{Index: idx, Message: "nil step"}
	case *op.Bound:
		if st.Target == nil {
			return &ValidationError{Index: idx, Message: "bound step has no target"}
		}
		inner = st.Op
		hasTarget = true
	case *op.Switch:
		if st.Source == nil {
			return &ValidationError{Index: idx, Message: "switch has no source operation"}
		}
		if st.SourceTarget == nil {
			return &ValidationError{Index: idx, Message: "switch has no source target"}
		}
		if st.Next == nil {
			return &ValidationError{Index: idx, Message: "switch must name a next operation"}
		}
		if st.NextTarget == nil {
			return &ValidationError{Index: idx, Message: "switch must name a target for its next operation"}
		}
		inner = st.Next
		hasTarget = true
	default:
		inner = step
	}

	operation, ok := inner.(op.Operation)
	if !ok {
		// A bound sub-pipeline is handed to its target as one unit
		// and validated there.
		if _, isPipe := inner.(*op.Pipeline); isPipe && hasTarget {
			return nil
		}
		return &ValidationError{Index: idx, Message: fmt.Sprintf("unsupported step %T", inner)}
	}

	inProcess := !operation.NeedsTarget()

	if inProcess && idx == 0 {
		return &ValidationError{
			Index:   idx,
			Message: fmt.Sprintf("%s requires a previous result but is the first operation", operation.Kind()),
		}
	}
	if inProcess && hasTarget {
		return &ValidationError{
			Index:   idx,
			Message: fmt.Sprintf("%s executes in process and must not be bound to a target; remove the binding", operation.Kind()),
		}
	}

	if operation.NeedsTarget() && !hasTarget {
		if c, isCreate := operation.(op.Create); isCreate {
			if idx > 0 || len(c.Data) > 0 {
				return nil
			}
			return &ValidationError{
				Index:   idx,
				Message: "create has no data and no previous result; provide data or feed it from an earlier step",
			}
		}
		return &ValidationError{
			Index:   idx,
			Message: fmt.Sprintf("%s requires a target; bind it with Bind or Chain", operation.Kind()),
		}
	}
	return nil
}
