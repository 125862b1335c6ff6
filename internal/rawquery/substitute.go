// Package rawquery runs hand-written SQL: it substitutes :name placeholders
// with literals and coerces result columns the transport returns loosely
// typed.
package rawquery

import (
	"sort"
	"strings"

	"github.com/roach88/hq/internal/querysql"
)

// placeholder is one :name occurrence in the source SQL.
type placeholder struct {
	name       string
	start, end int
}

// Placeholders returns the distinct placeholder names in sql in order of
// first appearance, without the leading colon.
func Placeholders(sql string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, p := range scan(sql) {
		if !seen[p.name] {
			seen[p.name] = true
			names = append(names, p.name)
		}
	}
	return names
}

// Substitute replaces every :name placeholder in sql with the literal of
// params[name]. Keys may be given with or without the leading colon.
//
// Every placeholder must have a value and every value must be used; both
// checks run before anything is substituted. A repeated placeholder gets
// the same literal each time. Placeholders inside quoted text or comments
// and PostgreSQL-style ::casts are left alone.
func Substitute(sql string, params map[string]any) (string, error) {
	values := make(map[string]any, len(params))
	for k, v := range params {
		values[strings.TrimPrefix(k, ":")] = v
	}

	found := scan(sql)
	used := make(map[string]bool, len(found))
	var missing []string
	for _, p := range found {
		if used[p.name] {
			continue
		}
		used[p.name] = true
		if _, ok := values[p.name]; !ok {
			missing = append(missing, ":"+p.name)
		}
	}
	if len(missing) > 0 {
		return "", &SubstitutionError{Code: ErrCodeMissingParameter, Names: missing}
	}

	var unused []string
	for k := range values {
		if !used[k] {
			unused = append(unused, k)
		}
	}
	if len(unused) > 0 {
		sort.Strings(unused)
		return "", &SubstitutionError{Code: ErrCodeUnusedParameter, Names: unused}
	}

	literals := make(map[string]string, len(values))
	for k, v := range values {
		literals[k] = querysql.FormatLiteral(v)
	}

	var sb strings.Builder
	last := 0
	for _, p := range found {
		sb.WriteString(sql[last:p.start])
		sb.WriteString(literals[p.name])
		last = p.end
	}
	sb.WriteString(sql[last:])
	return sb.String(), nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// scan finds placeholders outside '...', "..." and `...` quoting and
// outside -- comments. Quotes inside a literal are doubled.
func scan(sql string) []placeholder {
	var out []placeholder
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
		case ':':
			if i+1 < len(sql) && sql[i+1] == ':' {
				// ::cast
				i++
				continue
			}
			if i > 0 && isIdentPart(sql[i-1]) {
				continue
			}
			if i+1 < len(sql) && isIdentStart(sql[i+1]) {
				j := i + 1
				for j < len(sql) && isIdentPart(sql[j]) {
					j++
				}
				out = append(out, placeholder{name: sql[i+1 : j], start: i, end: j})
				i = j - 1
			}
		}
	}
	return out
}
