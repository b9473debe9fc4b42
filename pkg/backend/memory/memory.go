// Package memory provides an in-memory storage target. It exists for
// tests and small working sets: full transaction semantics through
// copy-on-write snapshots, every index variant except Path, and a
// planner, with no I/O underneath.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/operon-io/operon/internal/fieldpath"
	"github.com/operon-io/operon/pkg/engine"
	"github.com/operon-io/operon/pkg/index"
	"github.com/operon-io/operon/pkg/op"
)

// Store is an in-memory target keyed by item type. Items are treated
// as immutable values: updates replace them with patched copies, so a
// snapshot only needs to copy the collection slices.
type Store struct {
	name        string
	vectorField string

	mu          sync.Mutex
	collections map[string][]any
}

// Option configures a Store.
type Option func(*Store)

// WithVectorField names the dotted path holding each item's embedding
// ([]float32). Without it, vector reads are unsupported.
func WithVectorField(field string) Option {
	return func(s *Store) { s.vectorField = field }
}

// New returns an empty store.
func New(name string, opts ...Option) *Store {
	s := &Store{
		name:        name,
		collections: make(map[string][]any),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Name() string { return s.name }

// Seed inserts items directly, outside any transaction. Collections
// derive from each item's type.
func (s *Store) Seed(items ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		coll := collectionName(reflect.TypeOf(item))
		s.collections[coll] = append(s.collections[coll], item)
	}
}

// Items returns a copy of a type's collection, for assertions.
func (s *Store) Items(t reflect.Type) []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.collections[collectionName(t)]...)
}

// Transaction runs fn against a snapshot-backed scope. An error from
// fn restores the pre-transaction state.
func (s *Store) Transaction(ctx context.Context, fn func(context.Context, engine.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshotLocked()
	if err := fn(ctx, &memTx{store: s}); err != nil {
		s.collections = snapshot
		return err
	}
	return nil
}

func (s *Store) snapshotLocked() map[string][]any {
	snap := make(map[string][]any, len(s.collections))
	for coll, items := range s.collections {
		snap[coll] = append([]any(nil), items...)
	}
	return snap
}

// Optimize plans with the shared splitter; the in-memory evaluator
// handles every comparison, and a fully pushed read with trailing
// filters folds into one native predicate query.
func (s *Store) Optimize(ops []op.Operation) (*engine.Plan, error) {
	plan, err := engine.PlanOps(ops, func(op.CompareOp) bool { return true })
	if err != nil {
		return nil, err
	}
	if plan.Mode == engine.PlanStorage {
		plan.Compiled = foldReadFilters(plan.Pushed)
	}
	return plan, nil
}

// foldReadFilters rewrites [Read, Filter...] into a single Read with
// the conjoined predicate as its native query. Any other shape is
// left alone.
func foldReadFilters(ops []op.Operation) []op.Operation {
	if len(ops) < 2 {
		return nil
	}
	read, ok := ops[0].(op.Read)
	if !ok || read.Index != nil {
		return nil
	}
	preds := make(op.And, 0, len(ops)-1)
	for _, o := range ops[1:] {
		f, ok := o.(op.Filter)
		if !ok {
			return nil
		}
		preds = append(preds, f.Predicate)
	}
	return []op.Operation{
		op.NewReadFor(read.Type, index.NewNativeQuery(op.Predicate(preds))),
	}
}

type memTx struct {
	store *Store
}

func (tx *memTx) Execute(ctx context.Context, operation op.Operation, prev engine.Result) (engine.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch ot := operation.(type) {
	case op.Create:
		return tx.store.createLocked(ot)
	case op.Read:
		return tx.store.readLocked(ot)
	case op.Update:
		return tx.store.updateLocked(ot, prev)
	case op.Delete:
		return tx.store.deleteLocked(ot, prev)
	default:
		return nil, engine.NewBadPlanError(fmt.Sprintf("memory target cannot execute %s", operation.Kind()))
	}
}

func (s *Store) createLocked(c op.Create) (engine.Result, error) {
	if len(c.Data) == 0 {
		return []any{}, nil
	}
	coll, err := collectionFor(c.Type, c.Data)
	if err != nil {
		return nil, err
	}
	s.collections[coll] = append(s.collections[coll], c.Data...)
	return append([]any(nil), c.Data...), nil
}

func (s *Store) readLocked(r op.Read) (engine.Result, error) {
	if r.Type == nil {
		return nil, engine.NewBadPlanError("read carries no type")
	}
	coll := s.collections[collectionName(r.Type)]

	switch idx := r.Index.(type) {
	case nil:
		return append([]any(nil), coll...), nil
	case index.Params:
		out := make([]any, 0, len(coll))
		for _, item := range coll {
			if idx.Matches(item) {
				out = append(out, item)
			}
		}
		return out, nil
	case index.NativeQuery:
		pred, ok := idx.Query.(op.Predicate)
		if !ok {
			return nil, engine.NewBadPlanError(fmt.Sprintf("memory native query must be a predicate, got %T", idx.Query))
		}
		out := make([]any, 0, len(coll))
		for _, item := range coll {
			keep, err := op.Eval(pred, item)
			if err != nil {
				return nil, fmt.Errorf("native query: %w", err)
			}
			if keep {
				out = append(out, item)
			}
		}
		return out, nil
	case index.Vector:
		return s.vectorReadLocked(coll, idx)
	default:
		return nil, engine.NewUnsupportedIndexError(s.name, idx.Kind().String())
	}
}

func (s *Store) vectorReadLocked(coll []any, v index.Vector) (engine.Result, error) {
	if s.vectorField == "" {
		return nil, engine.NewUnsupportedIndexError(s.name, index.KindVector.String())
	}
	candidates := make([][]float32, len(coll))
	for i, item := range coll {
		raw, ok := fieldpath.Lookup(item, s.vectorField)
		if !ok {
			continue
		}
		if vec, ok := raw.([]float32); ok {
			candidates[i] = vec
		}
	}
	matches := v.Rank(candidates)
	out := make([]any, len(matches))
	for i, m := range matches {
		out[i] = coll[m.Ordinal]
	}
	return out, nil
}

func (s *Store) updateLocked(u op.Update, prev engine.Result) (engine.Result, error) {
	if u.Patch == nil {
		return nil, engine.NewBadPlanError("update carries no patch")
	}
	if u.NeedsPrevious() || prev != nil {
		if prev == nil {
			return nil, engine.NewNeedsPreviousError("update")
		}
		return s.updateFedLocked(u, prev)
	}
	if u.Type == nil {
		return nil, engine.NewBadPlanError("update carries no type")
	}

	coll := collectionName(u.Type)
	items := s.collections[coll]
	var updated []any
	for i, item := range items {
		match, err := s.indexMatches(u.Index, item)
		if err != nil {
			return nil, err
		}
		if !match {
			continue
		}
		patched, err := op.ApplyPatch(u.Patch, item)
		if err != nil {
			return nil, err
		}
		items[i] = patched
		updated = append(updated, patched)
	}
	return updated, nil
}

// updateFedLocked patches the items fed by the previous step and
// replaces their stored equivalents, matching by value.
func (s *Store) updateFedLocked(u op.Update, prev engine.Result) (engine.Result, error) {
	fed, isList := asItemList(prev)
	if !isList {
		fed = []any{prev}
	}
	out := make([]any, 0, len(fed))
	for _, item := range fed {
		patched, err := op.ApplyPatch(u.Patch, item)
		if err != nil {
			return nil, err
		}
		s.replaceLocked(item, patched)
		out = append(out, patched)
	}
	return out, nil
}

func (s *Store) deleteLocked(d op.Delete, prev engine.Result) (engine.Result, error) {
	if d.NeedsPrevious() || prev != nil {
		if prev == nil {
			return nil, engine.NewNeedsPreviousError("delete")
		}
		fed, isList := asItemList(prev)
		if !isList {
			fed = []any{prev}
		}
		for _, item := range fed {
			s.removeLocked(item)
		}
		return append([]any(nil), fed...), nil
	}
	if d.Type == nil {
		return nil, engine.NewBadPlanError("delete carries no type")
	}

	coll := collectionName(d.Type)
	items := s.collections[coll]
	kept := items[:0:0]
	var deleted []any
	for _, item := range items {
		match, err := s.indexMatches(d.Index, item)
		if err != nil {
			return nil, err
		}
		if match {
			deleted = append(deleted, item)
		} else {
			kept = append(kept, item)
		}
	}
	s.collections[coll] = kept
	return deleted, nil
}

func (s *Store) indexMatches(idx index.Index, item any) (bool, error) {
	switch it := idx.(type) {
	case index.Params:
		return it.Matches(item), nil
	case index.NativeQuery:
		pred, ok := it.Query.(op.Predicate)
		if !ok {
			return false, engine.NewBadPlanError(fmt.Sprintf("memory native query must be a predicate, got %T", it.Query))
		}
		return op.Eval(pred, item)
	default:
		return false, engine.NewUnsupportedIndexError(s.name, idx.Kind().String())
	}
}

func (s *Store) replaceLocked(old, patched any) {
	coll := collectionName(reflect.TypeOf(old))
	items := s.collections[coll]
	for i, item := range items {
		if reflect.DeepEqual(item, old) {
			items[i] = patched
			return
		}
	}
}

func (s *Store) removeLocked(old any) {
	coll := collectionName(reflect.TypeOf(old))
	items := s.collections[coll]
	for i, item := range items {
		if reflect.DeepEqual(item, old) {
			s.collections[coll] = append(items[:i:i], items[i+1:]...)
			return
		}
	}
}

func collectionFor(t reflect.Type, items []any) (string, error) {
	if t != nil {
		return collectionName(t), nil
	}
	if len(items) > 0 {
		return collectionName(reflect.TypeOf(items[0])), nil
	}
	return "", engine.NewBadPlanError("create carries no type and no data")
}

func collectionName(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

func asItemList(v any) ([]any, bool) {
	switch pv := v.(type) {
	case nil:
		return nil, false
	case []any:
		return pv, true
	case []byte:
		return nil, false
	case string:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}
