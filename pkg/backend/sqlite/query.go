package sqlite

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/operon-io/operon/pkg/index"
	"github.com/operon-io/operon/pkg/op"
)

// The compiler turns predicates and indexes into WHERE fragments over
// the records table. All values are parameterized, never interpolated;
// field names are interpolated into json_extract paths and therefore
// validated against a strict allowlist first.

// Supports reports which comparisons push down. The JSON1 compiler
// handles all of them.
func Supports(op.CompareOp) bool { return true }

var fieldSegment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// jsonColumn renders the json_extract expression for a dotted field
// path, rejecting anything that could escape the path literal.
func jsonColumn(field string) (string, error) {
	if field == "" {
		return "", fmt.Errorf("empty field path")
	}
	for _, seg := range strings.Split(field, ".") {
		if !fieldSegment.MatchString(seg) {
			return "", fmt.Errorf("field path %q is not a plain dotted identifier", field)
		}
	}
	return fmt.Sprintf("json_extract(data, '$.%s')", field), nil
}

// compilePredicate compiles a predicate to a WHERE fragment.
// Returns (sql, params, error).
func compilePredicate(p op.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case nil:
		return "1 = 1", nil, nil // Always true
	case op.Compare:
		return compileCompare(pred)
	case op.And:
		return compileAnd(pred)
	default:
		return "", nil, fmt.Errorf("predicate %T does not push down; filter in process", p)
	}
}

func compileCompare(c op.Compare) (string, []any, error) {
	col, err := jsonColumn(c.Field)
	if err != nil {
		return "", nil, err
	}

	switch c.Op {
	case op.CmpEq:
		return col + " = ?", []any{c.Value}, nil
	case op.CmpNe:
		return col + " <> ?", []any{c.Value}, nil
	case op.CmpGt:
		return col + " > ?", []any{c.Value}, nil
	case op.CmpGte:
		return col + " >= ?", []any{c.Value}, nil
	case op.CmpLt:
		return col + " < ?", []any{c.Value}, nil
	case op.CmpLte:
		return col + " <= ?", []any{c.Value}, nil
	case op.CmpIn:
		return compileIn(col, c.Value)
	default:
		return "", nil, fmt.Errorf("unsupported comparison %s", c.Op)
	}
}

func compileIn(col string, values any) (string, []any, error) {
	rv := reflect.ValueOf(values)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return "", nil, fmt.Errorf("in comparison requires a slice of values, got %T", values)
	}
	if rv.Len() == 0 {
		return "1 = 0", nil, nil // Nothing is in the empty set
	}
	placeholders := make([]string, rv.Len())
	params := make([]any, rv.Len())
	for i := range placeholders {
		placeholders[i] = "?"
		params[i] = rv.Index(i).Interface()
	}
	return fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")), params, nil
}

func compileAnd(and op.And) (string, []any, error) {
	if len(and) == 0 {
		return "1 = 1", nil, nil // Always true (vacuous truth)
	}

	var sqlParts []string
	var allParams []any
	for _, pred := range and {
		sql, params, err := compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		sqlParts = append(sqlParts, sql)
		allParams = append(allParams, params...)
	}
	return "(" + strings.Join(sqlParts, " AND ") + ")", allParams, nil
}

// compileIndex compiles a selection index to a WHERE fragment. Path
// and Vector indexes are handled before this point.
func compileIndex(idx index.Index) (string, []any, error) {
	switch it := idx.(type) {
	case nil:
		return "1 = 1", nil, nil
	case index.Params:
		if len(it) == 0 {
			return "1 = 1", nil, nil
		}
		var sqlParts []string
		var allParams []any
		for _, field := range it.Fields() {
			col, err := jsonColumn(field)
			if err != nil {
				return "", nil, err
			}
			sqlParts = append(sqlParts, col+" = ?")
			allParams = append(allParams, it[field])
		}
		return "(" + strings.Join(sqlParts, " AND ") + ")", allParams, nil
	case index.NativeQuery:
		frag, ok := it.Query.(string)
		if !ok {
			return "", nil, fmt.Errorf("native query must be a WHERE fragment string, got %T", it.Query)
		}
		return "(" + frag + ")", it.Args, nil
	default:
		return "", nil, fmt.Errorf("index kind %s does not compile to a query", idx.Kind())
	}
}

// stableOrderKey is appended to every SELECT so results are
// deterministic. COLLATE BINARY pins text ordering across SQLite
// versions.
const stableOrderKey = " ORDER BY id ASC COLLATE BINARY"

// selectSQL builds the standard record selection for a collection and
// WHERE fragment.
func selectSQL(where string) string {
	return "SELECT id, data FROM records WHERE collection = ? AND " + where + stableOrderKey
}
