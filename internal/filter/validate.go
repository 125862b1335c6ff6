package filter

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/hq/internal/queryir"
	"github.com/roach88/hq/internal/schema"
)

// dateLayouts are the textual forms accepted for Date and DateTime columns.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339,
	time.RFC3339Nano,
}

// ValidateValue checks a filter value against a column type.
//
// List operators and between validate every element; pattern operators
// require a string. NULL is accepted only by nullable types.
func ValidateValue(t schema.ColumnType, op queryir.Operator, value any) error {
	fail := func(v any, reason string) error {
		return &ValidationError{Type: t.String(), Value: v, Reason: reason}
	}

	switch {
	case op.IsList() || op == queryir.OpBetween:
		list, ok := queryir.ToList(value)
		if !ok {
			return fail(value, fmt.Sprintf("%s expects a list", op))
		}
		for _, v := range list {
			if reason := checkValue(t, v); reason != "" {
				return fail(v, reason)
			}
		}
		return nil
	case op.IsPattern():
		if _, ok := value.(string); !ok {
			return fail(value, fmt.Sprintf("%s expects a string pattern", op))
		}
		return nil
	}

	if reason := checkValue(t, value); reason != "" {
		return fail(value, reason)
	}
	return nil
}

// checkValue returns an empty string when v fits t, otherwise the reason.
func checkValue(t schema.ColumnType, v any) string {
	if v == nil {
		if t.IsNullable() {
			return ""
		}
		return "NULL is not allowed for a non-nullable column"
	}

	base := t.Base()
	switch base.Kind {
	case schema.KindInt:
		i, ok := integerValue(v)
		if !ok {
			return "expected an integer"
		}
		if base.Unsigned && i < 0 {
			return "expected a non-negative integer"
		}
	case schema.KindFloat, schema.KindDecimal:
		if _, ok := numberValue(v); !ok {
			return "expected a number"
		}
	case schema.KindString:
		if !isText(v) {
			return "expected a string"
		}
	case schema.KindFixedString:
		if !isText(v) {
			return "expected a string"
		}
		if n := textLen(v); n > base.Length {
			return fmt.Sprintf("length %d exceeds FixedString(%d)", n, base.Length)
		}
	case schema.KindUUID:
		switch u := v.(type) {
		case uuid.UUID:
		case string:
			if _, err := uuid.Parse(u); err != nil {
				return "expected a UUID"
			}
		default:
			return "expected a UUID"
		}
	case schema.KindBool:
		switch b := v.(type) {
		case bool:
		default:
			if i, ok := integerValue(b); !ok || (i != 0 && i != 1) {
				return "expected a boolean"
			}
		}
	case schema.KindDate, schema.KindDateTime:
		if !isTemporal(v) {
			return "expected a date or time"
		}
	case schema.KindEnum:
		switch e := v.(type) {
		case string:
			if !base.HasLabel(e) {
				return fmt.Sprintf("%q is not a declared enum label", e)
			}
		default:
			code, ok := integerValue(e)
			if !ok {
				return "expected an enum label or code"
			}
			if !hasCode(base, code) {
				return fmt.Sprintf("%d is not a declared enum code", code)
			}
		}
	case schema.KindArray:
		rv := reflect.ValueOf(v)
		if (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) || isText(v) {
			return "expected an array"
		}
		if base.Elem == nil {
			return ""
		}
		for i := 0; i < rv.Len(); i++ {
			if reason := checkValue(*base.Elem, rv.Index(i).Interface()); reason != "" {
				return fmt.Sprintf("element %d: %s", i, reason)
			}
		}
	case schema.KindMap:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Map {
			return "expected a map"
		}
		iter := rv.MapRange()
		for iter.Next() {
			if base.Key != nil {
				if reason := checkValue(*base.Key, iter.Key().Interface()); reason != "" {
					return "map key: " + reason
				}
			}
			if base.Elem != nil {
				if reason := checkValue(*base.Elem, iter.Value().Interface()); reason != "" {
					return "map value: " + reason
				}
			}
		}
	}
	return ""
}

func integerValue(v any) (int64, bool) {
	if n, ok := v.(json.Number); ok {
		i, err := n.Int64()
		return i, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return math.MaxInt64, true
		}
		return int64(u), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f != math.Trunc(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}

func numberValue(v any) (float64, bool) {
	if n, ok := v.(json.Number); ok {
		f, err := strconv.ParseFloat(n.String(), 64)
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func isText(v any) bool {
	switch v.(type) {
	case string, []byte:
		return true
	}
	return false
}

func textLen(v any) int {
	switch s := v.(type) {
	case string:
		return len(s)
	case []byte:
		return len(s)
	}
	return 0
}

func isTemporal(v any) bool {
	switch t := v.(type) {
	case time.Time:
		return true
	case string:
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, t); err == nil {
				return true
			}
		}
		return false
	}
	// Unix timestamps.
	_, ok := integerValue(v)
	return ok
}

func hasCode(t schema.ColumnType, code int64) bool {
	for _, v := range t.Values {
		if int64(v.Code) == code {
			return true
		}
	}
	return false
}
