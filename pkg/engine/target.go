package engine

import (
	"context"

	"github.com/operon-io/operon/pkg/op"
)

// Result is whatever a pipeline step produced: a list of items, a
// single item, a scalar, or a list of Pairs from an object store
// create.
type Result = any

// Pair couples a created item with the storage address it landed at.
// Object targets return one Pair per item from Create; when a Create
// consumes such a result downstream, only the items carry over.
type Pair struct {
	Item    any
	Address string
}

// Cursor streams items from a Read. A cursor is only valid inside the
// transaction scope that produced it; the executor drains cursors
// before the scope closes.
type Cursor interface {
	// Next returns the next item. The bool is false when the cursor
	// is exhausted.
	Next(ctx context.Context) (any, bool, error)
	Close() error
}

// Drain materializes a cursor into a slice and closes it.
func Drain(ctx context.Context, c Cursor) ([]any, error) {
	defer c.Close()
	var items []any
	for {
		item, ok, err := c.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return items, nil
		}
		items = append(items, item)
	}
}

// Tx executes operations inside one transaction scope.
type Tx interface {
	Execute(ctx context.Context, operation op.Operation, prev Result) (Result, error)
}

// Target executes storage operations. Transaction runs fn within one
// atomic scope: a nil return commits, an error aborts. The Tx handle
// must not be retained past fn. Targets without native transactions
// run fn against a per-call scope and document the weaker guarantee.
type Target interface {
	op.Target

	Transaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Optimizer is implemented by targets that can plan an operation
// sequence, pushing work into the store instead of executing step by
// step.
type Optimizer interface {
	Optimize(ops []op.Operation) (*Plan, error)
}
