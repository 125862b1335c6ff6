package querysql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/hq/internal/queryir"
)

// Placeholder is the positional parameter marker emitted in parameterized SQL.
const Placeholder = "?"

// Compile renders a State as parameterized SQL.
//
// The returned SQL contains one ? per parameter, in the same left-to-right
// order as the returned parameter slice. Clause order is fixed:
//
//	[WITH ...] SELECT [DISTINCT] cols FROM table [JOIN ...] [WHERE ...]
//	[GROUP BY ...] [HAVING ...] [ORDER BY ...] [LIMIT n] [OFFSET n] [UNION ...]
//
// Compile is deterministic: the same State always yields byte-identical output.
func Compile(s queryir.State) (string, []any, error) {
	r := &renderer{params: []any{}}
	if err := r.render(s); err != nil {
		return "", nil, err
	}
	return r.sb.String(), r.params, nil
}

// Inline renders a State with every parameter replaced by its literal.
// Substituting the parameters of Compile into its placeholders in order
// reproduces Inline exactly.
func Inline(s queryir.State) (string, error) {
	r := &renderer{inline: true}
	if err := r.render(s); err != nil {
		return "", err
	}
	return r.sb.String(), nil
}

// Substitute replaces ? placeholders in sql with literals of params, in order.
// Placeholders inside quoted strings, quoted identifiers and comments are
// left alone.
func Substitute(sql string, params []any) (string, error) {
	if n := queryir.CountPlaceholders(sql); n != len(params) {
		return "", queryir.NewConstructionError(queryir.ErrCodePlaceholderMismatch,
			"sql has %d placeholder(s) but %d parameter(s)", n, len(params))
	}
	var sb strings.Builder
	last, i := 0, 0
	queryir.ScanPlaceholders(sql, func(offset int) {
		sb.WriteString(sql[last:offset])
		sb.WriteString(FormatLiteral(params[i]))
		i++
		last = offset + 1
	})
	sb.WriteString(sql[last:])
	return sb.String(), nil
}

// renderer accumulates SQL text and, in parameterized mode, parameters.
type renderer struct {
	sb     strings.Builder
	params []any
	inline bool
}

// bind emits one value as either a placeholder or a literal.
func (r *renderer) bind(v any) {
	if r.inline {
		r.sb.WriteString(FormatLiteral(v))
		return
	}
	r.sb.WriteString(Placeholder)
	r.params = append(r.params, v)
}

// fragment emits SQL that already contains ? placeholders for params.
func (r *renderer) fragment(sql string, params []any) error {
	if r.inline {
		out, err := Substitute(sql, params)
		if err != nil {
			return err
		}
		r.sb.WriteString(out)
		return nil
	}
	if n := queryir.CountPlaceholders(sql); n != len(params) {
		return queryir.NewConstructionError(queryir.ErrCodePlaceholderMismatch,
			"fragment %q has %d placeholder(s) but %d parameter(s)", sql, n, len(params))
	}
	r.sb.WriteString(sql)
	r.params = append(r.params, params...)
	return nil
}

func (r *renderer) render(s queryir.State) error {
	if err := queryir.Validate(s); err != nil {
		return fmt.Errorf("compile: %w", err)
	}

	if err := r.renderCTEs(s.CTEs); err != nil {
		return err
	}

	r.sb.WriteString("SELECT ")
	if s.Distinct {
		r.sb.WriteString("DISTINCT ")
	}
	if len(s.Select) == 0 {
		r.sb.WriteString("*")
	} else {
		r.sb.WriteString(strings.Join(s.Select, ", "))
	}
	r.sb.WriteString(" FROM ")
	r.sb.WriteString(s.Table)

	r.renderJoins(s.Joins)

	if len(s.Where) > 0 {
		r.sb.WriteString(" WHERE ")
		if err := r.renderWhere(s.Where); err != nil {
			return err
		}
	}

	if len(s.GroupBy) > 0 {
		r.sb.WriteString(" GROUP BY ")
		r.sb.WriteString(strings.Join(s.GroupBy, ", "))
	}

	if len(s.Having) > 0 {
		r.sb.WriteString(" HAVING ")
		for i, h := range s.Having {
			if i > 0 {
				r.writeConjunction(h.Conjunction)
			}
			if err := r.fragment(h.Expression, h.Parameters); err != nil {
				return err
			}
		}
	}

	if len(s.OrderBy) > 0 {
		r.sb.WriteString(" ORDER BY ")
		for i, o := range s.OrderBy {
			if i > 0 {
				r.sb.WriteString(", ")
			}
			r.sb.WriteString(o.Column)
			dir := o.Direction
			if dir == "" {
				dir = queryir.Asc
			}
			r.sb.WriteString(" " + string(dir))
		}
	}

	if s.Limit != nil {
		r.sb.WriteString(" LIMIT " + strconv.Itoa(*s.Limit))
	}
	if s.Offset != nil {
		r.sb.WriteString(" OFFSET " + strconv.Itoa(*s.Offset))
	}

	for _, u := range s.Unions {
		if u.All {
			r.sb.WriteString(" UNION ALL ")
		} else {
			r.sb.WriteString(" UNION ")
		}
		if err := r.fragment(u.SQL, u.Parameters); err != nil {
			return err
		}
	}

	return nil
}

func (r *renderer) renderCTEs(ctes []queryir.CTE) error {
	if len(ctes) == 0 {
		return nil
	}
	r.sb.WriteString("WITH ")
	for i, c := range ctes {
		if i > 0 {
			r.sb.WriteString(", ")
		}
		r.sb.WriteString(c.Name + " AS (")
		if err := r.fragment(c.SQL, c.Parameters); err != nil {
			return err
		}
		r.sb.WriteString(")")
	}
	r.sb.WriteString(" ")
	return nil
}

func (r *renderer) renderJoins(joins []queryir.JoinClause) {
	for _, j := range joins {
		typ := j.Type
		if typ == "" {
			typ = queryir.InnerJoin
		}
		r.sb.WriteString(" " + string(typ) + " JOIN " + j.Table)
		if j.Alias != "" {
			r.sb.WriteString(" AS " + j.Alias)
		}
		r.sb.WriteString(" ON " + j.LeftColumn + " = " + j.RightColumn)
	}
}

// renderWhere is a single linear scan over the marker list. needConj is
// false at the start of every scope so the first item never gets a
// leading AND/OR.
func (r *renderer) renderWhere(items []queryir.WhereItem) error {
	needConj := false
	for _, item := range items {
		switch w := item.(type) {
		case queryir.GroupStart:
			if needConj {
				r.writeConjunction(w.Conjunction)
			}
			r.sb.WriteString("(")
			needConj = false
		case queryir.GroupEnd:
			r.sb.WriteString(")")
			needConj = true
		case queryir.Condition:
			if needConj {
				r.writeConjunction(w.Conjunction)
			}
			r.renderCondition(w)
			needConj = true
		case queryir.RawExpr:
			if needConj {
				r.writeConjunction(w.Conjunction)
			}
			if err := r.fragment(w.Expression, w.Parameters); err != nil {
				return err
			}
			needConj = true
		default:
			return fmt.Errorf("compile: unsupported where item %T", item)
		}
	}
	return nil
}

func (r *renderer) renderCondition(c queryir.Condition) {
	r.sb.WriteString(c.Column + " " + c.Operator.SQL() + " ")
	params := c.Params()

	switch {
	case c.Operator.IsList():
		r.sb.WriteString("(")
		for i, p := range params {
			if i > 0 {
				r.sb.WriteString(", ")
			}
			r.bind(p)
		}
		r.sb.WriteString(")")
	case c.Operator == queryir.OpBetween:
		r.bind(params[0])
		r.sb.WriteString(" AND ")
		r.bind(params[1])
	default:
		r.bind(params[0])
	}
}

func (r *renderer) writeConjunction(c queryir.Conjunction) {
	if c == "" {
		c = queryir.And
	}
	r.sb.WriteString(" " + string(c) + " ")
}
