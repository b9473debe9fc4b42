package mongo

import (
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/operon-io/operon/pkg/index"
	"github.com/operon-io/operon/pkg/op"
)

// Supports reports which comparisons push down. Every operator maps to
// a query operator.
func Supports(op.CompareOp) bool { return true }

func queryOperator(o op.CompareOp) (string, error) {
	switch o {
	case op.CmpEq:
		return "$eq", nil
	case op.CmpNe:
		return "$ne", nil
	case op.CmpGt:
		return "$gt", nil
	case op.CmpGte:
		return "$gte", nil
	case op.CmpLt:
		return "$lt", nil
	case op.CmpLte:
		return "$lte", nil
	case op.CmpIn:
		return "$in", nil
	default:
		return "", fmt.Errorf("unsupported comparison %s", o)
	}
}

// compilePredicate translates a predicate to a filter document. Item
// fields sit under the data subdocument.
func compilePredicate(p op.Predicate) (bson.M, error) {
	switch pred := p.(type) {
	case nil:
		return bson.M{}, nil
	case op.Compare:
		if pred.Field == "" {
			return nil, fmt.Errorf("comparison without a field")
		}
		mop, err := queryOperator(pred.Op)
		if err != nil {
			return nil, err
		}
		if pred.Op == op.CmpIn {
			rv := reflect.ValueOf(pred.Value)
			if !rv.IsValid() || rv.Kind() != reflect.Slice {
				return nil, fmt.Errorf("in comparison requires a slice of values, got %T", pred.Value)
			}
		}
		return bson.M{"data." + pred.Field: bson.M{mop: pred.Value}}, nil
	case op.And:
		if len(pred) == 0 {
			return bson.M{}, nil
		}
		parts := make([]bson.M, 0, len(pred))
		for _, child := range pred {
			part, err := compilePredicate(child)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		}
		return bson.M{"$and": parts}, nil
	default:
		return nil, fmt.Errorf("predicate %T does not push down; filter in process", p)
	}
}

// compileIndexFilter translates a selection index to a filter
// document. Path and Vector indexes are handled before this point.
func compileIndexFilter(idx index.Index) (bson.M, error) {
	switch it := idx.(type) {
	case nil:
		return bson.M{}, nil
	case index.Params:
		filter := bson.M{}
		for _, field := range it.Fields() {
			filter["data."+field] = it[field]
		}
		return filter, nil
	case index.NativeQuery:
		q, ok := it.Query.(bson.M)
		if !ok {
			return nil, fmt.Errorf("native query must be a bson.M filter, got %T", it.Query)
		}
		if len(it.Args) > 0 {
			return nil, fmt.Errorf("native query args are not used here; embed values in the filter document")
		}
		return q, nil
	default:
		return nil, fmt.Errorf("index kind %s does not compile to a query", idx.Kind())
	}
}

// scopedFilter combines a compiled filter with the collection
// discriminator.
func scopedFilter(coll string, filter bson.M) bson.M {
	scoped := bson.M{"collection": coll}
	for k, v := range filter {
		scoped[k] = v
	}
	return scoped
}

// mergeFilters conjoins several filter documents into one.
func mergeFilters(filters ...bson.M) bson.M {
	parts := make([]bson.M, 0, len(filters))
	for _, f := range filters {
		if len(f) > 0 {
			parts = append(parts, f)
		}
	}
	switch len(parts) {
	case 0:
		return bson.M{}
	case 1:
		return parts[0]
	default:
		return bson.M{"$and": parts}
	}
}

// matchItemFilter matches the stored document equal to item, field by
// field. Fed writes use it to correlate items that carry no row id.
func matchItemFilter(coll string, data bson.Raw) (bson.M, error) {
	elements, err := data.Elements()
	if err != nil {
		return nil, fmt.Errorf("inspect item document: %w", err)
	}
	filter := bson.M{"collection": coll}
	for _, el := range elements {
		filter["data."+el.Key()] = el.Value()
	}
	return filter, nil
}
