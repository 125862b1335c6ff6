// Package builder is the fluent front-end of the query compiler.
//
// A Builder wraps an immutable queryir.State. Every mutator returns a new
// Builder and leaves the receiver untouched, so a partially built query can
// be reused as a template:
//
//	base := f.Table("events").Select("id", "kind")
//	recent := base.Where("ts", queryir.OpGte, since)
//	errorsOnly := recent.Where("kind", queryir.OpEq, "error")
//
// Construction failures are sticky. The first invalid call records its error
// (see Err) and keeps the previous state; later calls are no-ops, and
// ToSQL, Execute and Stream return the recorded error.
package builder

import (
	"errors"
	"regexp"

	"github.com/roach88/hq/internal/filter"
	"github.com/roach88/hq/internal/queryir"
	"github.com/roach88/hq/internal/querysql"
	"github.com/roach88/hq/internal/schema"
)

// Builder accumulates clauses for one SELECT statement.
type Builder struct {
	f     *Factory
	state queryir.State
	err   error
}

// Err returns the first construction error, if any.
func (b Builder) Err() error { return b.err }

// State returns the accumulated query state.
func (b Builder) State() queryir.State { return b.state }

// Table returns the base table.
func (b Builder) Table() string { return b.state.Table }

// with applies fn unless an error is already recorded. On failure the
// state is left as it was.
func (b Builder) with(fn func(s queryir.State) (queryir.State, error)) Builder {
	if b.err != nil {
		return b
	}
	s, err := fn(b.state)
	if err != nil {
		b.err = err
		return b
	}
	b.state = s
	return b
}

// Select appends columns or expressions to the select list.
func (b Builder) Select(cols ...string) Builder {
	return b.with(func(s queryir.State) (queryir.State, error) {
		for _, c := range cols {
			if _, _, err := b.columnType(c); err != nil {
				return s, err
			}
		}
		return s.AddSelect(cols...), nil
	})
}

// Distinct switches to SELECT DISTINCT.
func (b Builder) Distinct() Builder {
	return b.with(func(s queryir.State) (queryir.State, error) {
		return s.WithDistinct(), nil
	})
}

// Where appends "column op value" joined with AND.
func (b Builder) Where(column string, op queryir.Operator, value any) Builder {
	return b.where(queryir.And, column, op, value)
}

// OrWhere appends "column op value" joined with OR.
func (b Builder) OrWhere(column string, op queryir.Operator, value any) Builder {
	return b.where(queryir.Or, column, op, value)
}

func (b Builder) where(conj queryir.Conjunction, column string, op queryir.Operator, value any) Builder {
	return b.with(func(s queryir.State) (queryir.State, error) {
		cond, err := queryir.NewCondition(column, op, value, conj)
		if err != nil {
			return s, err
		}
		if err := b.checkCondition(cond); err != nil {
			return s, err
		}
		return s.AddWhere(cond), nil
	})
}

// WhereRaw appends a raw boolean expression with ? placeholders, joined
// with AND.
func (b Builder) WhereRaw(expr string, params ...any) Builder {
	return b.whereRaw(queryir.And, expr, params)
}

// OrWhereRaw is WhereRaw joined with OR.
func (b Builder) OrWhereRaw(expr string, params ...any) Builder {
	return b.whereRaw(queryir.Or, expr, params)
}

func (b Builder) whereRaw(conj queryir.Conjunction, expr string, params []any) Builder {
	return b.with(func(s queryir.State) (queryir.State, error) {
		if n := queryir.CountPlaceholders(expr); n != len(params) {
			return s, queryir.NewConstructionError(queryir.ErrCodePlaceholderMismatch,
				"raw expression has %d placeholder(s) but %d parameter(s)", n, len(params))
		}
		return s.AddWhere(queryir.RawExpr{
			Expression:  expr,
			Parameters:  append([]any(nil), params...),
			Conjunction: conj,
		}), nil
	})
}

// WhereGroup parenthesizes the conditions added by fn and joins the group
// with AND. fn receives an empty builder scoped to the same table and
// joins; only its where clauses are used. A group with no conditions is
// skipped.
func (b Builder) WhereGroup(fn func(Builder) Builder) Builder {
	return b.whereGroup(queryir.And, fn)
}

// OrWhereGroup is WhereGroup joined with OR.
func (b Builder) OrWhereGroup(fn func(Builder) Builder) Builder {
	return b.whereGroup(queryir.Or, fn)
}

func (b Builder) whereGroup(conj queryir.Conjunction, fn func(Builder) Builder) Builder {
	return b.with(func(s queryir.State) (queryir.State, error) {
		scope := Builder{f: b.f, state: queryir.State{Table: s.Table, Joins: s.Joins}}
		inner := fn(scope)
		if inner.err != nil {
			return s, inner.err
		}
		if len(inner.state.Where) == 0 {
			return s, nil
		}
		return s.AddWhere(wrapGroup(conj, inner.state.Where)...), nil
	})
}

func wrapGroup(conj queryir.Conjunction, items []queryir.WhereItem) []queryir.WhereItem {
	out := make([]queryir.WhereItem, 0, len(items)+2)
	out = append(out, queryir.GroupStart{Conjunction: conj})
	out = append(out, items...)
	return append(out, queryir.GroupEnd{})
}

// ApplyCrossFilter appends the conditions of a filter tree, joined with
// AND. The tree is parenthesized when the builder already has where
// clauses or its root operator is OR, so clauses added later cannot bind
// into it. A TopN recorded on the root group adds ORDER BY and LIMIT.
func (b Builder) ApplyCrossFilter(g filter.Group) Builder {
	return b.with(func(s queryir.State) (queryir.State, error) {
		items, err := filter.Flatten(g)
		if err != nil {
			return s, err
		}
		for _, item := range items {
			if cond, ok := item.(queryir.Condition); ok {
				if err := b.checkCondition(cond); err != nil {
					return s, err
				}
			}
		}
		if len(items) > 0 {
			if len(s.Where) > 0 || g.Operator == queryir.Or {
				items = wrapGroup(queryir.And, items)
			}
			s = s.AddWhere(items...)
		}
		if g.OrderBy != nil {
			if _, _, err := b.columnType(g.OrderBy.Column); err != nil {
				return s, err
			}
			s = s.AddOrderBy(*g.OrderBy)
		}
		if g.Limit != nil {
			s = s.WithLimit(*g.Limit)
		}
		return s, nil
	})
}

// ToSQL renders the query with every parameter inlined as a literal.
func (b Builder) ToSQL() (string, error) {
	if b.err != nil {
		return "", b.err
	}
	return querysql.Inline(b.state)
}

// ToSQLWithParams renders the query with ? placeholders and returns the
// parameters in placeholder order.
func (b Builder) ToSQLWithParams() (string, []any, error) {
	if b.err != nil {
		return "", nil, b.err
	}
	return querysql.Compile(b.state)
}

var (
	identPattern     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	qualifiedPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)$`)
	aliasPattern     = regexp.MustCompile(`(?i)\sAS\s+([A-Za-z_][A-Za-z0-9_]*)\s*$`)
)

// columnType resolves a column reference against the schema. known is
// false when there is nothing to check: no schema, an expression, or a
// qualifier that names no declared table (a CTE, for instance).
func (b Builder) columnType(col string) (t schema.ColumnType, known bool, err error) {
	sch := b.f.schema
	if sch == nil {
		return t, false, nil
	}

	if m := qualifiedPattern.FindStringSubmatch(col); m != nil {
		table := b.resolveQualifier(m[1])
		if table == "" || !sch.HasTable(table) {
			return t, false, nil
		}
		t, ok := sch.Lookup(table, m[2])
		if !ok {
			return t, false, unknownColumn(table, m[2])
		}
		return t, true, nil
	}

	if !identPattern.MatchString(col) || b.isSelectAlias(col) {
		return t, false, nil
	}
	checked := false
	for _, table := range b.sourceTables() {
		if !sch.HasTable(table) {
			continue
		}
		checked = true
		if t, ok := sch.Lookup(table, col); ok {
			return t, true, nil
		}
	}
	if !checked {
		return t, false, nil
	}
	return t, false, unknownColumn(b.state.Table, col)
}

// checkCondition validates the column and, when its type is declared, the
// value.
func (b Builder) checkCondition(c queryir.Condition) error {
	t, known, err := b.columnType(c.Column)
	if err != nil || !known {
		return err
	}
	if err := filter.ValidateValue(t, c.Operator, c.Value); err != nil {
		var ve *filter.ValidationError
		if errors.As(err, &ve) && ve.Column == "" {
			ve.Column = c.Column
		}
		return err
	}
	return nil
}

// isSelectAlias reports whether name is introduced by "expr AS name" in
// the select list, so ORDER BY and GROUP BY may refer to it.
func (b Builder) isSelectAlias(name string) bool {
	for _, item := range b.state.Select {
		if m := aliasPattern.FindStringSubmatch(item); m != nil && m[1] == name {
			return true
		}
	}
	return false
}

func (b Builder) sourceTables() []string {
	tables := make([]string, 0, len(b.state.Joins)+1)
	tables = append(tables, b.state.Table)
	for _, j := range b.state.Joins {
		tables = append(tables, j.Table)
	}
	return tables
}

// resolveQualifier maps a table name or join alias to a table name.
func (b Builder) resolveQualifier(q string) string {
	if q == b.state.Table {
		return q
	}
	for _, j := range b.state.Joins {
		if j.Alias == q || (j.Alias == "" && j.Table == q) {
			return j.Table
		}
	}
	return ""
}

func unknownColumn(table, column string) error {
	return &queryir.ConstructionError{
		Code:    queryir.ErrCodeUnknownColumn,
		Message: "column is not declared in the schema",
		Table:   table,
		Column:  column,
	}
}
