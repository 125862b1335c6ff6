package builder

import (
	"fmt"
	"strings"

	"github.com/roach88/hq/internal/queryir"
	"github.com/roach88/hq/internal/relations"
)

// Join adds "typ JOIN table ON left = right". An unqualified right column
// is qualified with table; an unqualified left column with the base table.
func (b Builder) Join(typ queryir.JoinType, table, leftColumn, rightColumn string) Builder {
	return b.JoinAs(typ, table, "", leftColumn, rightColumn)
}

// InnerJoin is Join with INNER.
func (b Builder) InnerJoin(table, leftColumn, rightColumn string) Builder {
	return b.Join(queryir.InnerJoin, table, leftColumn, rightColumn)
}

// LeftJoin is Join with LEFT.
func (b Builder) LeftJoin(table, leftColumn, rightColumn string) Builder {
	return b.Join(queryir.LeftJoin, table, leftColumn, rightColumn)
}

// RightJoin is Join with RIGHT.
func (b Builder) RightJoin(table, leftColumn, rightColumn string) Builder {
	return b.Join(queryir.RightJoin, table, leftColumn, rightColumn)
}

// FullJoin is Join with FULL.
func (b Builder) FullJoin(table, leftColumn, rightColumn string) Builder {
	return b.Join(queryir.FullJoin, table, leftColumn, rightColumn)
}

// JoinAs is Join with an alias for the joined table. The alias qualifies
// an unqualified right column.
func (b Builder) JoinAs(typ queryir.JoinType, table, alias, leftColumn, rightColumn string) Builder {
	return b.with(func(s queryir.State) (queryir.State, error) {
		if typ == "" {
			typ = queryir.InnerJoin
		}
		if !typ.Valid() {
			return s, &queryir.ConstructionError{
				Code:    queryir.ErrCodeInvalidJoin,
				Message: fmt.Sprintf("unknown join type %q", typ),
				Table:   table,
			}
		}
		if table == "" || leftColumn == "" || rightColumn == "" {
			return s, queryir.NewConstructionError(queryir.ErrCodeInvalidJoin,
				"join needs a table and both columns")
		}
		if b.f.schema != nil && !b.f.schema.HasTable(table) {
			return s, &queryir.ConstructionError{
				Code:    queryir.ErrCodeUnknownTable,
				Message: "joined table is not declared in the schema",
				Table:   table,
			}
		}
		right := table
		if alias != "" {
			right = alias
		}
		return s.AddJoin(queryir.JoinClause{
			Table:       table,
			Alias:       alias,
			Type:        typ,
			LeftColumn:  qualify(s.Table, leftColumn),
			RightColumn: qualify(right, rightColumn),
		}), nil
	})
}

// WithRelation appends the joins of a registered relationship. Unknown
// names fail with RELATIONSHIP_NOT_FOUND and add nothing.
func (b Builder) WithRelation(name string, overrides ...relations.Override) Builder {
	return b.with(func(s queryir.State) (queryir.State, error) {
		if b.f.relations == nil {
			return s, queryir.NewConstructionError(queryir.ErrCodeRelationshipNotFound,
				"relationship %q not found: no registry configured", name)
		}
		joins, err := b.f.relations.Resolve(name, overrides...)
		if err != nil {
			return s, err
		}
		return s.AddJoin(joins...), nil
	})
}

// GroupBy appends GROUP BY columns or expressions.
func (b Builder) GroupBy(cols ...string) Builder {
	return b.with(func(s queryir.State) (queryir.State, error) {
		for _, c := range cols {
			if _, _, err := b.columnType(c); err != nil {
				return s, err
			}
		}
		return s.AddGroupBy(cols...), nil
	})
}

// Having appends a HAVING expression joined with AND.
func (b Builder) Having(expr string, params ...any) Builder {
	return b.having(queryir.And, expr, params)
}

// OrHaving appends a HAVING expression joined with OR.
func (b Builder) OrHaving(expr string, params ...any) Builder {
	return b.having(queryir.Or, expr, params)
}

func (b Builder) having(conj queryir.Conjunction, expr string, params []any) Builder {
	return b.with(func(s queryir.State) (queryir.State, error) {
		if n := queryir.CountPlaceholders(expr); n != len(params) {
			return s, queryir.NewConstructionError(queryir.ErrCodePlaceholderMismatch,
				"having has %d placeholder(s) but %d parameter(s)", n, len(params))
		}
		return s.AddHaving(queryir.Having{
			Expression:  expr,
			Parameters:  append([]any(nil), params...),
			Conjunction: conj,
		}), nil
	})
}

// OrderBy appends an ORDER BY term. An empty direction means ASC.
func (b Builder) OrderBy(column string, dir queryir.Direction) Builder {
	return b.with(func(s queryir.State) (queryir.State, error) {
		if dir == "" {
			dir = queryir.Asc
		}
		if dir != queryir.Asc && dir != queryir.Desc {
			return s, &queryir.ConstructionError{
				Code:    queryir.ErrCodeInvalidOperator,
				Message: fmt.Sprintf("unknown sort direction %q", dir),
				Column:  column,
			}
		}
		if _, _, err := b.columnType(column); err != nil {
			return s, err
		}
		return s.AddOrderBy(queryir.OrderBy{Column: column, Direction: dir}), nil
	})
}

// Limit sets LIMIT; n must not be negative.
func (b Builder) Limit(n int) Builder {
	return b.with(func(s queryir.State) (queryir.State, error) {
		if n < 0 {
			return s, queryir.NewConstructionError(queryir.ErrCodeInvalidLimit, "negative limit %d", n)
		}
		return s.WithLimit(n), nil
	})
}

// Offset sets OFFSET; n must not be negative.
func (b Builder) Offset(n int) Builder {
	return b.with(func(s queryir.State) (queryir.State, error) {
		if n < 0 {
			return s, queryir.NewConstructionError(queryir.ErrCodeInvalidLimit, "negative offset %d", n)
		}
		return s.WithOffset(n), nil
	})
}

// WithCTE adds "name AS (sub)" to the WITH prefix. sub's parameters are
// bound ahead of the outer query's.
func (b Builder) WithCTE(name string, sub Builder) Builder {
	return b.with(func(s queryir.State) (queryir.State, error) {
		sql, params, err := sub.ToSQLWithParams()
		if err != nil {
			return s, fmt.Errorf("cte %s: %w", name, err)
		}
		return s.AddCTE(queryir.CTE{Name: name, SQL: sql, Parameters: params}), nil
	})
}

// WithCTERaw adds a CTE from SQL text with ? placeholders.
func (b Builder) WithCTERaw(name, sql string, params ...any) Builder {
	return b.with(func(s queryir.State) (queryir.State, error) {
		if n := queryir.CountPlaceholders(sql); n != len(params) {
			return s, queryir.NewConstructionError(queryir.ErrCodePlaceholderMismatch,
				"cte %s has %d placeholder(s) but %d parameter(s)", name, n, len(params))
		}
		return s.AddCTE(queryir.CTE{Name: name, SQL: sql, Parameters: append([]any(nil), params...)}), nil
	})
}

// Union appends "UNION sub".
func (b Builder) Union(sub Builder) Builder {
	return b.union(sub, false)
}

// UnionAll appends "UNION ALL sub".
func (b Builder) UnionAll(sub Builder) Builder {
	return b.union(sub, true)
}

func (b Builder) union(sub Builder, all bool) Builder {
	return b.with(func(s queryir.State) (queryir.State, error) {
		sql, params, err := sub.ToSQLWithParams()
		if err != nil {
			return s, fmt.Errorf("union: %w", err)
		}
		return s.AddUnion(queryir.Union{SQL: sql, Parameters: params, All: all}), nil
	})
}

// Settings merges engine settings into the query. Settings are sent to the
// transport and folded into the cache key; they are not rendered as SQL.
func (b Builder) Settings(settings map[string]any) Builder {
	return b.with(func(s queryir.State) (queryir.State, error) {
		return s.WithSettings(settings), nil
	})
}

// Sum selects SUM(column) AS alias. The default alias is column_sum.
func (b Builder) Sum(column string, alias ...string) Builder {
	return b.aggregate("SUM", column, alias)
}

// Count selects COUNT(column) AS alias. Count("*") defaults to the alias
// "count".
func (b Builder) Count(column string, alias ...string) Builder {
	return b.aggregate("COUNT", column, alias)
}

// Avg selects AVG(column) AS alias.
func (b Builder) Avg(column string, alias ...string) Builder {
	return b.aggregate("AVG", column, alias)
}

// Min selects MIN(column) AS alias.
func (b Builder) Min(column string, alias ...string) Builder {
	return b.aggregate("MIN", column, alias)
}

// Max selects MAX(column) AS alias.
func (b Builder) Max(column string, alias ...string) Builder {
	return b.aggregate("MAX", column, alias)
}

func (b Builder) aggregate(fn, column string, alias []string) Builder {
	return b.with(func(s queryir.State) (queryir.State, error) {
		if column != "*" {
			if _, _, err := b.columnType(column); err != nil {
				return s, err
			}
		}
		name := defaultAlias(fn, column)
		if len(alias) > 0 && alias[0] != "" {
			name = alias[0]
		}
		return s.AddSelect(fmt.Sprintf("%s(%s) AS %s", fn, column, name)), nil
	})
}

func defaultAlias(fn, column string) string {
	fn = strings.ToLower(fn)
	if column == "*" {
		return fn
	}
	return strings.ReplaceAll(column, ".", "_") + "_" + fn
}

func qualify(table, column string) string {
	if strings.Contains(column, ".") {
		return column
	}
	return table + "." + column
}

