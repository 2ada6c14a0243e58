package persistence

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	apperrors "reelkit.io/reelkit/internal/pkg/errors"
)

// Filter is one (column, operator, value) triple.
type Filter struct {
	Column string
	Op     string
	Value  any
}

// Where builds a Filter.
func Where(column, op string, value any) Filter {
	return Filter{Column: column, Op: op, Value: value}
}

// Query selects rows of one entity type. Filters and Equal are joined with
// AND; Equal is applied in column order so the generated SQL is stable.
type Query struct {
	Filters []Filter
	Equal   map[string]any
	Limit   int
}

// Q starts a query from filters.
func Q(filters ...Filter) Query {
	return Query{Filters: filters}
}

// ByID selects a single id.
func ByID(id string) Query {
	return Query{Equal: map[string]any{"id": id}}
}

// Eq returns a copy of q with an added equality filter.
func (q Query) Eq(column string, value any) Query {
	eq := make(map[string]any, len(q.Equal)+1)
	for k, v := range q.Equal {
		eq[k] = v
	}
	eq[column] = value
	q.Equal = eq
	return q
}

// WithLimit returns a copy of q limited to n rows; n <= 0 means no limit.
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// allowedOps is the operator whitelist. CONTAINS matches one element of a
// structured column.
var allowedOps = map[string]bool{
	"=": true, "!=": true, "<>": true,
	"<": true, "<=": true, ">": true, ">=": true,
	"LIKE": true, "NOT LIKE": true,
	"IN": true, "NOT IN": true,
	"CONTAINS": true,
}

type defaultMarker struct{}

// Default, used as a filter value, matches rows whose column holds the
// field's declared default (as opposed to NULL, which matches absent values).
var Default = defaultMarker{}

// anchor keeps archived tombstones (status NULL) out of every load and lets
// clauses be appended uniformly.
const anchor = "(status IS NOT NULL)"

type whereBuilder struct {
	schema  *Schema
	clauses []string
	params  []any
}

func (b *whereBuilder) bind(v any) string {
	b.params = append(b.params, normalizeParam(v))
	return fmt.Sprintf("$%d", len(b.params))
}

func (b *whereBuilder) add(f Filter) error {
	if !b.schema.known(f.Column) {
		return apperrors.ErrInvalidFilterf(b.schema.Table, f.Column)
	}
	op := strings.ToUpper(strings.Join(strings.Fields(f.Op), " "))
	if op == "==" {
		op = "="
	}
	if !allowedOps[op] {
		return apperrors.BadRequest(apperrors.CodeInvalidFilter,
			fmt.Sprintf("unsupported operator %q on %s.%s", f.Op, b.schema.Table, f.Column))
	}
	col := f.Column
	negated := op == "!=" || op == "<>" || op == "NOT IN"

	if f.Value == Default {
		field, ok := b.schema.Field(col)
		if !ok {
			return apperrors.BadRequest(apperrors.CodeInvalidFilter,
				fmt.Sprintf("column %s.%s has no default", b.schema.Table, col))
		}
		def, err := encodeField(field, field.zero())
		if err != nil {
			return err
		}
		cmp := "IS NOT DISTINCT FROM"
		if negated {
			cmp = "IS DISTINCT FROM"
		}
		b.clauses = append(b.clauses, fmt.Sprintf("(%s IS NOT NULL AND %s %s %s)", col, col, cmp, b.bind(def)))
		return nil
	}
	if f.Value == nil {
		if negated {
			b.clauses = append(b.clauses, col+" IS NOT NULL")
		} else {
			b.clauses = append(b.clauses, col+" IS NULL")
		}
		return nil
	}

	switch op {
	case "IN", "NOT IN":
		items, ok := listItems(f.Value)
		if !ok {
			return apperrors.BadRequest(apperrors.CodeInvalidFilter,
				fmt.Sprintf("%s on %s.%s needs a list value", op, b.schema.Table, col))
		}
		if len(items) == 0 {
			if op == "IN" {
				b.clauses = append(b.clauses, "1 = 0")
			} else {
				b.clauses = append(b.clauses, "1 = 1")
			}
			return nil
		}
		ph := make([]string, len(items))
		for i, it := range items {
			ph[i] = b.bind(it)
		}
		b.clauses = append(b.clauses, fmt.Sprintf("%s %s (%s)", col, op, strings.Join(ph, ", ")))
	case "CONTAINS":
		needle, err := canonicalJSON(normalizeParam(f.Value))
		if err != nil {
			return err
		}
		b.clauses = append(b.clauses, fmt.Sprintf("CAST(%s AS TEXT) LIKE %s", col, b.bind("%"+needle+"%")))
	default:
		b.clauses = append(b.clauses, fmt.Sprintf("%s %s %s", col, op, b.bind(f.Value)))
	}
	return nil
}

func listItems(v any) ([]any, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// where renders the WHERE clause (including the status anchor) for q.
func (s *Schema) where(q Query) (string, []any, error) {
	b := &whereBuilder{schema: s}
	for _, f := range q.Filters {
		if err := b.add(f); err != nil {
			return "", nil, err
		}
	}
	keys := make([]string, 0, len(q.Equal))
	for k := range q.Equal {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := b.add(Filter{Column: k, Op: "=", Value: q.Equal[k]}); err != nil {
			return "", nil, err
		}
	}

	clause := "WHERE " + anchor
	if len(b.clauses) > 0 {
		clause += " AND " + strings.Join(b.clauses, " AND ")
	}
	return clause, b.params, nil
}

// BuildSelect renders the SELECT statement for q with its parameters.
func (s *Schema) BuildSelect(q Query) (string, []any, error) {
	where, params, err := s.where(q)
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf(`SELECT %s FROM "%s" %s`, strings.Join(s.Columns(), ", "), s.Table, where)
	if q.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return sql, params, nil
}

// BuildCount renders a COUNT(*) over the rows q selects. Limit is ignored.
func (s *Schema) BuildCount(q Query) (string, []any, error) {
	where, params, err := s.where(q)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf(`SELECT COUNT(*) FROM "%s" %s`, s.Table, where), params, nil
}
