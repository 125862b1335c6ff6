package queryir

import (
	"maps"
	"slices"
)

// State is the accumulated configuration of a single SELECT statement.
//
// State has value semantics: the With*/Add* methods copy before appending,
// so a State handed out earlier is never affected by later calls.
// Fields are exported for rendering and inspection; callers that build
// States by hand must treat the slices as read-only.
type State struct {
	Table    string
	Select   []string
	Where    []WhereItem
	Joins    []JoinClause
	GroupBy  []string
	Having   []Having
	OrderBy  []OrderBy
	Limit    *int
	Offset   *int
	Distinct bool
	CTEs     []CTE
	Unions   []Union
	Settings map[string]any
}

// NewState returns an empty State selecting from table.
func NewState(table string) State {
	return State{Table: table}
}

// AddSelect appends select columns or expressions.
func (s State) AddSelect(cols ...string) State {
	s.Select = appendCopy(s.Select, cols...)
	return s
}

// AddWhere appends WHERE items.
func (s State) AddWhere(items ...WhereItem) State {
	s.Where = appendCopy(s.Where, items...)
	return s
}

// AddJoin appends JOIN clauses.
func (s State) AddJoin(joins ...JoinClause) State {
	s.Joins = appendCopy(s.Joins, joins...)
	return s
}

// AddGroupBy appends GROUP BY columns.
func (s State) AddGroupBy(cols ...string) State {
	s.GroupBy = appendCopy(s.GroupBy, cols...)
	return s
}

// AddHaving appends a HAVING expression.
func (s State) AddHaving(h Having) State {
	h.Parameters = slices.Clone(h.Parameters)
	s.Having = appendCopy(s.Having, h)
	return s
}

// AddOrderBy appends ORDER BY terms.
func (s State) AddOrderBy(terms ...OrderBy) State {
	s.OrderBy = appendCopy(s.OrderBy, terms...)
	return s
}

// WithLimit sets LIMIT.
func (s State) WithLimit(n int) State {
	s.Limit = &n
	return s
}

// WithOffset sets OFFSET.
func (s State) WithOffset(n int) State {
	s.Offset = &n
	return s
}

// WithDistinct sets SELECT DISTINCT.
func (s State) WithDistinct() State {
	s.Distinct = true
	return s
}

// AddCTE appends a WITH subquery.
func (s State) AddCTE(c CTE) State {
	c.Parameters = slices.Clone(c.Parameters)
	s.CTEs = appendCopy(s.CTEs, c)
	return s
}

// AddUnion appends a UNION branch.
func (s State) AddUnion(u Union) State {
	u.Parameters = slices.Clone(u.Parameters)
	s.Unions = appendCopy(s.Unions, u)
	return s
}

// WithSettings merges engine settings; later keys win.
func (s State) WithSettings(settings map[string]any) State {
	merged := maps.Clone(s.Settings)
	if merged == nil {
		merged = make(map[string]any, len(settings))
	}
	maps.Copy(merged, settings)
	s.Settings = merged
	return s
}

// Parameters returns all positional parameters in rendering order:
// CTEs, WHERE, HAVING, UNION branches.
func (s State) Parameters() []any {
	params := []any{}
	for _, c := range s.CTEs {
		params = append(params, c.Parameters...)
	}
	for _, item := range s.Where {
		switch w := item.(type) {
		case Condition:
			params = append(params, w.Params()...)
		case RawExpr:
			params = append(params, w.Parameters...)
		}
	}
	for _, h := range s.Having {
		params = append(params, h.Parameters...)
	}
	for _, u := range s.Unions {
		params = append(params, u.Parameters...)
	}
	return params
}

// appendCopy appends to a fresh backing array so the receiver's slice is
// never shared with the result.
func appendCopy[T any](dst []T, items ...T) []T {
	out := make([]T, 0, len(dst)+len(items))
	out = append(out, dst...)
	return append(out, items...)
}
