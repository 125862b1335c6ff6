package rawquery

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"github.com/roach88/hq/internal/transport"
)

// Hint names the Go type a result column should be coerced to.
type Hint string

const (
	HintNumber  Hint = "number"
	HintBoolean Hint = "boolean"
	HintString  Hint = "string"
)

// CoerceRows returns copies of rows with hinted columns converted.
//
// Conversion is best effort: a value that cannot become a finite number or
// a recognized boolean token (0, 1, "0", "1", "true", "false") is kept as
// is. NULL stays NULL. Columns without a hint are copied untouched.
func CoerceRows(rows []transport.Row, hints map[string]Hint) []transport.Row {
	out := make([]transport.Row, len(rows))
	for i, row := range rows {
		coerced := make(transport.Row, len(row))
		for col, v := range row {
			if hint, ok := hints[col]; ok {
				v = Coerce(v, hint)
			}
			coerced[col] = v
		}
		out[i] = coerced
	}
	return out
}

// Coerce converts a single value according to hint.
func Coerce(v any, hint Hint) any {
	if v == nil {
		return nil
	}
	switch hint {
	case HintNumber:
		return toNumber(v)
	case HintBoolean:
		return toBoolean(v)
	case HintString:
		if _, ok := v.(string); ok {
			return v
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return v
		}
		return s
	}
	return v
}

func toNumber(v any) any {
	switch n := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return v
	case json.Number:
		return parseNumber(n.String(), v)
	case string:
		return parseNumber(strings.TrimSpace(n), v)
	case []byte:
		return parseNumber(strings.TrimSpace(string(n)), v)
	}

	f, err := cast.ToFloat64E(v)
	if err != nil || !isFinite(f) {
		return v
	}
	return f
}

// parseNumber prefers exact integers so 64-bit values survive.
func parseNumber(s string, original any) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return u
	}
	f, err := cast.ToFloat64E(s)
	if err != nil || !isFinite(f) {
		return original
	}
	return f
}

func toBoolean(v any) any {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch b {
		case "1", "true":
			return true
		case "0", "false":
			return false
		}
		return v
	}

	f, err := cast.ToFloat64E(v)
	if err != nil {
		return v
	}
	switch f {
	case 1:
		return true
	case 0:
		return false
	}
	return v
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
