package queryir

import (
	"fmt"
	"strings"
)

// Validate checks the structural invariants of a State:
//  1. A table is set
//  2. GroupStart/GroupEnd markers are balanced and never close an unopened scope
//  3. No group is empty
//  4. Raw expressions, HAVING entries, CTEs and UNION branches carry exactly
//     as many parameters as they have ? placeholders
//
// States produced by the builder always pass; Validate guards States that
// were assembled by hand. Validate is a pure function with no side effects.
func Validate(s State) error {
	v := &validator{}
	v.validateState(s)
	if len(v.problems) == 0 {
		return nil
	}
	return &ConstructionError{
		Code:    v.code,
		Message: strings.Join(v.problems, "; "),
		Table:   s.Table,
	}
}

// validator accumulates problems during traversal.
// The code of the first problem wins.
type validator struct {
	code     ErrorCode
	problems []string
}

func (v *validator) addProblem(code ErrorCode, format string, args ...any) {
	if len(v.problems) == 0 {
		v.code = code
	}
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validateState(s State) {
	if s.Table == "" {
		v.addProblem(ErrCodeUnknownTable, "no table selected")
	}

	v.validateWhere(s.Where)

	for _, h := range s.Having {
		v.checkPlaceholders("having", h.Expression, h.Parameters)
	}
	for _, c := range s.CTEs {
		v.checkPlaceholders("cte "+c.Name, c.SQL, c.Parameters)
	}
	for i, u := range s.Unions {
		v.checkPlaceholders(fmt.Sprintf("union[%d]", i), u.SQL, u.Parameters)
	}
	if s.Limit != nil && *s.Limit < 0 {
		v.addProblem(ErrCodeInvalidLimit, "negative limit %d", *s.Limit)
	}
	if s.Offset != nil && *s.Offset < 0 {
		v.addProblem(ErrCodeInvalidLimit, "negative offset %d", *s.Offset)
	}
}

// validateWhere walks the marker list tracking depth.
func (v *validator) validateWhere(items []WhereItem) {
	depth := 0
	emptyScope := false
	for i, item := range items {
		switch w := item.(type) {
		case GroupStart:
			depth++
			emptyScope = true
		case GroupEnd:
			if depth == 0 {
				v.addProblem(ErrCodeUnbalancedGroup, "group end at position %d closes no group", i)
				continue
			}
			if emptyScope {
				v.addProblem(ErrCodeUnbalancedGroup, "empty group ending at position %d", i)
			}
			depth--
			emptyScope = false
		case Condition:
			emptyScope = false
			if !w.Operator.Valid() {
				v.addProblem(ErrCodeInvalidOperator, "unknown operator %q on %s", w.Operator, w.Column)
			}
			list, isList := w.Value.([]any)
			if w.Operator.IsList() && (!isList || len(list) == 0) {
				v.addProblem(ErrCodeEmptyInList, "%s on %s needs a non-empty []any", w.Operator, w.Column)
			}
			if w.Operator == OpBetween && (!isList || len(list) != 2) {
				v.addProblem(ErrCodeInvalidBetween, "between on %s needs a [low, high] pair", w.Column)
			}
		case RawExpr:
			emptyScope = false
			v.checkPlaceholders("raw where", w.Expression, w.Parameters)
		default:
			v.addProblem(ErrCodeInvalidOperator, "unknown where item %T", item)
		}
	}
	if depth != 0 {
		v.addProblem(ErrCodeUnbalancedGroup, "%d group(s) left open", depth)
	}
}

func (v *validator) checkPlaceholders(what, sql string, params []any) {
	if n := CountPlaceholders(sql); n != len(params) {
		v.addProblem(ErrCodePlaceholderMismatch, "%s has %d placeholder(s) but %d parameter(s)", what, n, len(params))
	}
}

// CountPlaceholders counts ? placeholders outside quoted literals and identifiers.
func CountPlaceholders(sql string) int {
	n := 0
	ScanPlaceholders(sql, func(int) { n++ })
	return n
}

// ScanPlaceholders calls fn with the byte offset of every ? that is not inside
// a '...' string, a "..." or `...` identifier, or a -- comment. Quotes are
// escaped by doubling; backslash has no special meaning.
func ScanPlaceholders(sql string, fn func(offset int)) {
	var quote byte
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if quote != 0 {
			// A doubled quote closes and reopens the literal.
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '-':
			if i+1 < len(sql) && sql[i+1] == '-' {
				for i < len(sql) && sql[i] != '\n' {
					i++
				}
			}
		case '?':
			fn(i)
		}
	}
}
