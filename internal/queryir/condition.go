package queryir

import (
	"cmp"
	"reflect"
	"time"
)

// NewCondition builds a Condition, normalizing list and between values.
//
// List operators accept any slice or array and store it as []any; the list
// must not be empty. Between accepts exactly two elements in [low, high]
// order; when both bounds are comparable (numbers, strings, times) low must
// not exceed high.
func NewCondition(column string, op Operator, value any, conj Conjunction) (Condition, error) {
	if !op.Valid() {
		return Condition{}, &ConstructionError{
			Code:    ErrCodeInvalidOperator,
			Message: "unknown operator " + string(op),
			Column:  column,
		}
	}

	cond := Condition{Column: column, Operator: op, Value: value, Conjunction: conj}

	switch {
	case op.IsList():
		list, ok := ToList(value)
		if !ok {
			return Condition{}, &ConstructionError{
				Code:    ErrCodeEmptyInList,
				Message: string(op) + " requires a slice value",
				Column:  column,
			}
		}
		if len(list) == 0 {
			return Condition{}, &ConstructionError{
				Code:    ErrCodeEmptyInList,
				Message: string(op) + " requires at least one value",
				Column:  column,
			}
		}
		cond.Value = list
	case op == OpBetween:
		pair, ok := ToList(value)
		if !ok || len(pair) != 2 {
			return Condition{}, &ConstructionError{
				Code:    ErrCodeInvalidBetween,
				Message: "between requires a [low, high] pair",
				Column:  column,
			}
		}
		if c, comparable := compareBounds(pair[0], pair[1]); comparable && c > 0 {
			return Condition{}, &ConstructionError{
				Code:    ErrCodeInvalidBetween,
				Message: "between bounds are out of order (low > high)",
				Column:  column,
			}
		}
		cond.Value = pair
	}

	return cond, nil
}

// ToList converts any slice or array (except []byte) to []any.
func ToList(v any) ([]any, bool) {
	if list, ok := v.([]any); ok {
		return append([]any(nil), list...), true
	}
	if _, isBytes := v.([]byte); isBytes {
		return nil, false
	}
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

// compareBounds compares two between bounds of the same family.
func compareBounds(a, b any) (int, bool) {
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb), true
		}
		return 0, false
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return cmp.Compare(sa, sb), true
		}
		return 0, false
	}
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return cmp.Compare(fa, fb), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
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
