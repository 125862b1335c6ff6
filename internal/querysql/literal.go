package querysql

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DateTimeLayout is used when inlining time.Time values.
const DateTimeLayout = "2006-01-02 15:04:05.999999999"

// FormatLiteral renders a parameter as a SQL literal.
//
//   - nil → NULL
//   - strings, []byte, fmt.Stringer → single-quoted, ' doubled
//   - numbers and booleans → bare
//   - time.Time → quoted 'YYYY-MM-DD hh:mm:ss[.fraction]'
//   - slices and arrays → [a, b, ...]
//   - maps → map(k1, v1, ...) with keys in sorted order
func FormatLiteral(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return QuoteString(val)
	case []byte:
		return QuoteString(string(val))
	case bool:
		if val {
			return "true"
		}
		return "false"
	case json.Number:
		return val.String()
	case time.Time:
		return QuoteString(val.Format(DateTimeLayout))
	case float64:
		return formatFloat(val, 64)
	case float32:
		return formatFloat(float64(val), 32)
	case fmt.Stringer:
		return QuoteString(val.String())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return "NULL"
		}
		return FormatLiteral(rv.Elem().Interface())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return formatFloat(rv.Float(), 64)
	case reflect.Bool:
		return FormatLiteral(rv.Bool())
	case reflect.String:
		return QuoteString(rv.String())
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = FormatLiteral(rv.Index(i).Interface())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case reflect.Map:
		type kv struct{ k, v string }
		pairs := make([]kv, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			pairs = append(pairs, kv{FormatLiteral(iter.Key().Interface()), FormatLiteral(iter.Value().Interface())})
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].k < pairs[j].k })
		parts := make([]string, 0, 2*len(pairs))
		for _, p := range pairs {
			parts = append(parts, p.k, p.v)
		}
		return "map(" + strings.Join(parts, ", ") + ")"
	}

	return QuoteString(fmt.Sprint(v))
}

// QuoteString single-quotes s as a standard SQL string: ' is doubled and
// backslashes are kept as they are.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', -1, bits)
}
