package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the native family of a column type.
type Kind int

const (
	KindUnknown Kind = iota
	KindInt
	KindFloat
	KindDecimal
	KindDate
	KindDateTime
	KindString
	KindFixedString
	KindUUID
	KindBool
	KindEnum
	KindArray
	KindNullable
	KindLowCardinality
	KindMap
)

var kindNames = map[Kind]string{
	KindUnknown:        "Unknown",
	KindInt:            "Int",
	KindFloat:          "Float",
	KindDecimal:        "Decimal",
	KindDate:           "Date",
	KindDateTime:       "DateTime",
	KindString:         "String",
	KindFixedString:    "FixedString",
	KindUUID:           "UUID",
	KindBool:           "Bool",
	KindEnum:           "Enum",
	KindArray:          "Array",
	KindNullable:       "Nullable",
	KindLowCardinality: "LowCardinality",
	KindMap:            "Map",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ColumnType describes a column's native type as declared by the schema.
//
// Wrapper kinds (Array, Nullable, LowCardinality, Map) carry their inner
// types in Elem (and Key for Map). ColumnType values are treated as
// immutable once constructed; Parse always returns fresh values.
type ColumnType struct {
	Kind Kind

	// Bits is the width for Int/Float kinds and the storage width for Enum (8 or 16).
	Bits     int
	Unsigned bool

	// Precision is the decimal precision, or the sub-second precision of DateTime64.
	Precision int
	Scale     int

	// Length is the byte length of a FixedString.
	Length int

	// Wide marks Date32 and DateTime64.
	Wide     bool
	Timezone string

	// Values lists enum labels in declaration order.
	Values []EnumValue

	Elem *ColumnType
	Key  *ColumnType
}

// EnumValue is a single label = code pair of an Enum8/Enum16 type.
type EnumValue struct {
	Label string
	Code  int
}

// DefaultType is the fallback type used when a column is not declared.
var DefaultType = ColumnType{Kind: KindString}

// IsNullable reports whether NULL is an acceptable value for the type.
// LowCardinality(Nullable(T)) counts as nullable.
func (t ColumnType) IsNullable() bool {
	switch t.Kind {
	case KindNullable:
		return true
	case KindLowCardinality:
		return t.Elem != nil && t.Elem.IsNullable()
	default:
		return false
	}
}

// Base strips Nullable and LowCardinality wrappers.
func (t ColumnType) Base() ColumnType {
	for (t.Kind == KindNullable || t.Kind == KindLowCardinality) && t.Elem != nil {
		t = *t.Elem
	}
	return t
}

// IsNumeric reports whether the base type is an integer, float or decimal.
func (t ColumnType) IsNumeric() bool {
	switch t.Base().Kind {
	case KindInt, KindFloat, KindDecimal:
		return true
	}
	return false
}

// IsStringLike reports whether the base type accepts string values verbatim.
func (t ColumnType) IsStringLike() bool {
	switch t.Base().Kind {
	case KindString, KindFixedString, KindUUID, KindEnum:
		return true
	}
	return false
}

// HasLabel reports whether an Enum type declares label.
func (t ColumnType) HasLabel(label string) bool {
	for _, v := range t.Base().Values {
		if v.Label == label {
			return true
		}
	}
	return false
}

// String renders the type in ClickHouse notation.
func (t ColumnType) String() string {
	switch t.Kind {
	case KindInt:
		if t.Unsigned {
			return fmt.Sprintf("UInt%d", t.Bits)
		}
		return fmt.Sprintf("Int%d", t.Bits)
	case KindFloat:
		return fmt.Sprintf("Float%d", t.Bits)
	case KindDecimal:
		return fmt.Sprintf("Decimal(%d, %d)", t.Precision, t.Scale)
	case KindDate:
		if t.Wide {
			return "Date32"
		}
		return "Date"
	case KindDateTime:
		var args []string
		name := "DateTime"
		if t.Wide {
			name = "DateTime64"
			args = append(args, strconv.Itoa(t.Precision))
		}
		if t.Timezone != "" {
			args = append(args, "'"+t.Timezone+"'")
		}
		if len(args) == 0 {
			return name
		}
		return name + "(" + strings.Join(args, ", ") + ")"
	case KindString:
		return "String"
	case KindFixedString:
		return fmt.Sprintf("FixedString(%d)", t.Length)
	case KindUUID:
		return "UUID"
	case KindBool:
		return "Bool"
	case KindEnum:
		parts := make([]string, len(t.Values))
		for i, v := range t.Values {
			parts[i] = fmt.Sprintf("'%s' = %d", v.Label, v.Code)
		}
		return fmt.Sprintf("Enum%d(%s)", t.Bits, strings.Join(parts, ", "))
	case KindArray, KindNullable, KindLowCardinality:
		inner := "?"
		if t.Elem != nil {
			inner = t.Elem.String()
		}
		return t.Kind.String() + "(" + inner + ")"
	case KindMap:
		key, val := "?", "?"
		if t.Key != nil {
			key = t.Key.String()
		}
		if t.Elem != nil {
			val = t.Elem.String()
		}
		return "Map(" + key + ", " + val + ")"
	default:
		return "Unknown"
	}
}

// MustParse is like Parse but panics on error.
// Use only in tests or for compile-time constant type strings.
func MustParse(s string) ColumnType {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Parse reads a ClickHouse type string such as "Nullable(Int32)",
// "DateTime64(3, 'UTC')" or "Map(String, Array(UInt8))".
func Parse(s string) (ColumnType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ColumnType{}, fmt.Errorf("empty type")
	}

	name, args, err := splitTypeName(s)
	if err != nil {
		return ColumnType{}, err
	}

	switch name {
	case "Int8", "Int16", "Int32", "Int64", "Int128", "Int256":
		bits, _ := strconv.Atoi(strings.TrimPrefix(name, "Int"))
		return ColumnType{Kind: KindInt, Bits: bits}, nil
	case "UInt8", "UInt16", "UInt32", "UInt64", "UInt128", "UInt256":
		bits, _ := strconv.Atoi(strings.TrimPrefix(name, "UInt"))
		return ColumnType{Kind: KindInt, Bits: bits, Unsigned: true}, nil
	case "Float32", "Float64":
		bits, _ := strconv.Atoi(strings.TrimPrefix(name, "Float"))
		return ColumnType{Kind: KindFloat, Bits: bits}, nil
	case "Decimal":
		return parseDecimal(s, args)
	case "Decimal32", "Decimal64", "Decimal128", "Decimal256":
		if len(args) != 1 {
			return ColumnType{}, fmt.Errorf("%s: expected scale argument", s)
		}
		scale, err := strconv.Atoi(args[0])
		if err != nil {
			return ColumnType{}, fmt.Errorf("%s: invalid scale: %w", s, err)
		}
		precision := map[string]int{"Decimal32": 9, "Decimal64": 18, "Decimal128": 38, "Decimal256": 76}[name]
		return ColumnType{Kind: KindDecimal, Precision: precision, Scale: scale}, nil
	case "Date":
		return ColumnType{Kind: KindDate}, nil
	case "Date32":
		return ColumnType{Kind: KindDate, Wide: true}, nil
	case "DateTime":
		t := ColumnType{Kind: KindDateTime}
		if len(args) > 1 {
			return ColumnType{}, fmt.Errorf("%s: too many arguments", s)
		}
		if len(args) == 1 {
			t.Timezone = unquote(args[0])
		}
		return t, nil
	case "DateTime64":
		if len(args) < 1 || len(args) > 2 {
			return ColumnType{}, fmt.Errorf("%s: expected precision argument", s)
		}
		precision, err := strconv.Atoi(args[0])
		if err != nil {
			return ColumnType{}, fmt.Errorf("%s: invalid precision: %w", s, err)
		}
		t := ColumnType{Kind: KindDateTime, Wide: true, Precision: precision}
		if len(args) == 2 {
			t.Timezone = unquote(args[1])
		}
		return t, nil
	case "String":
		return ColumnType{Kind: KindString}, nil
	case "FixedString":
		if len(args) != 1 {
			return ColumnType{}, fmt.Errorf("%s: expected length argument", s)
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return ColumnType{}, fmt.Errorf("%s: invalid length", s)
		}
		return ColumnType{Kind: KindFixedString, Length: n}, nil
	case "UUID":
		return ColumnType{Kind: KindUUID}, nil
	case "Bool", "Boolean":
		return ColumnType{Kind: KindBool}, nil
	case "Enum8", "Enum16":
		return parseEnum(s, name, args)
	case "Array", "Nullable", "LowCardinality":
		if len(args) != 1 {
			return ColumnType{}, fmt.Errorf("%s: expected exactly one inner type", s)
		}
		inner, err := Parse(args[0])
		if err != nil {
			return ColumnType{}, fmt.Errorf("%s: %w", name, err)
		}
		kind := map[string]Kind{"Array": KindArray, "Nullable": KindNullable, "LowCardinality": KindLowCardinality}[name]
		return ColumnType{Kind: kind, Elem: &inner}, nil
	case "Map":
		if len(args) != 2 {
			return ColumnType{}, fmt.Errorf("%s: expected key and value types", s)
		}
		key, err := Parse(args[0])
		if err != nil {
			return ColumnType{}, fmt.Errorf("Map key: %w", err)
		}
		val, err := Parse(args[1])
		if err != nil {
			return ColumnType{}, fmt.Errorf("Map value: %w", err)
		}
		return ColumnType{Kind: KindMap, Key: &key, Elem: &val}, nil
	default:
		return ColumnType{}, fmt.Errorf("unsupported column type %q", s)
	}
}

func parseDecimal(s string, args []string) (ColumnType, error) {
	if len(args) < 1 || len(args) > 2 {
		return ColumnType{}, fmt.Errorf("%s: expected precision and optional scale", s)
	}
	precision, err := strconv.Atoi(args[0])
	if err != nil {
		return ColumnType{}, fmt.Errorf("%s: invalid precision: %w", s, err)
	}
	scale := 0
	if len(args) == 2 {
		if scale, err = strconv.Atoi(args[1]); err != nil {
			return ColumnType{}, fmt.Errorf("%s: invalid scale: %w", s, err)
		}
	}
	if scale > precision {
		return ColumnType{}, fmt.Errorf("%s: scale exceeds precision", s)
	}
	return ColumnType{Kind: KindDecimal, Precision: precision, Scale: scale}, nil
}

func parseEnum(s, name string, args []string) (ColumnType, error) {
	if len(args) == 0 {
		return ColumnType{}, fmt.Errorf("%s: enum without values", s)
	}
	bits := 8
	if name == "Enum16" {
		bits = 16
	}
	t := ColumnType{Kind: KindEnum, Bits: bits}
	for i, arg := range args {
		label, code, found := strings.Cut(arg, "=")
		if !found {
			// Implicit codes start at 1, matching ClickHouse.
			t.Values = append(t.Values, EnumValue{Label: unquote(arg), Code: i + 1})
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(code))
		if err != nil {
			return ColumnType{}, fmt.Errorf("%s: invalid enum code %q", s, code)
		}
		t.Values = append(t.Values, EnumValue{Label: unquote(label), Code: n})
	}
	return t, nil
}

// splitTypeName splits "Name(a, b)" into "Name" and its top-level arguments.
func splitTypeName(s string) (string, []string, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return s, nil, nil
	}
	if !strings.HasSuffix(s, ")") {
		return "", nil, fmt.Errorf("unbalanced parentheses in %q", s)
	}
	name := strings.TrimSpace(s[:open])
	args, err := splitTopLevel(s[open+1 : len(s)-1])
	if err != nil {
		return "", nil, fmt.Errorf("%q: %w", s, err)
	}
	return name, args, nil
}

// splitTopLevel splits on commas that are outside parentheses and quotes.
func splitTopLevel(s string) ([]string, error) {
	var (
		args  []string
		depth int
		quote bool
		start int
	)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' && quote:
			i++
		case c == '\'':
			quote = !quote
		case quote:
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses")
			}
		case c == ',' && depth == 0:
			args = append(args, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	if depth != 0 || quote {
		return nil, fmt.Errorf("unbalanced parentheses or quotes")
	}
	if last := strings.TrimSpace(s[start:]); last != "" || len(args) > 0 {
		args = append(args, last)
	}
	return args, nil
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return strings.ReplaceAll(s[1:len(s)-1], `\'`, `'`)
	}
	return s
}
