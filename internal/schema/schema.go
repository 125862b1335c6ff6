package schema

import (
	"fmt"
	"sort"
)

// Schema maps table names to their declared column types.
//
// A Schema is supplied once per builder factory and never mutated after
// construction; all accessors return copies or values.
type Schema struct {
	tables map[string]map[string]ColumnType
}

// New creates a Schema from already-parsed column types.
// The input maps are copied.
func New(tables map[string]map[string]ColumnType) *Schema {
	s := &Schema{tables: make(map[string]map[string]ColumnType, len(tables))}
	for table, cols := range tables {
		copied := make(map[string]ColumnType, len(cols))
		for col, t := range cols {
			copied[col] = t
		}
		s.tables[table] = copied
	}
	return s
}

// FromDefinitions parses ClickHouse type strings into a Schema.
//
// Example:
//
//	schema.FromDefinitions(map[string]map[string]string{
//	    "events": {"id": "UInt64", "user": "Nullable(String)"},
//	})
func FromDefinitions(defs map[string]map[string]string) (*Schema, error) {
	tables := make(map[string]map[string]ColumnType, len(defs))
	for _, table := range sortedKeys(defs) {
		cols := defs[table]
		parsed := make(map[string]ColumnType, len(cols))
		for _, col := range sortedKeys(cols) {
			t, err := Parse(cols[col])
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", table, col, err)
			}
			parsed[col] = t
		}
		tables[table] = parsed
	}
	return &Schema{tables: tables}, nil
}

// HasTable reports whether the table is declared.
func (s *Schema) HasTable(table string) bool {
	if s == nil {
		return false
	}
	_, ok := s.tables[table]
	return ok
}

// Lookup resolves a column's declared type.
func (s *Schema) Lookup(table, column string) (ColumnType, bool) {
	if s == nil {
		return ColumnType{}, false
	}
	cols, ok := s.tables[table]
	if !ok {
		return ColumnType{}, false
	}
	t, ok := cols[column]
	return t, ok
}

// TypeOf resolves a column's type, falling back to DefaultType when the
// column is not declared.
func (s *Schema) TypeOf(table, column string) ColumnType {
	if t, ok := s.Lookup(table, column); ok {
		return t
	}
	return DefaultType
}

// Tables returns the declared table names in sorted order.
func (s *Schema) Tables() []string {
	if s == nil {
		return nil
	}
	return sortedKeys(s.tables)
}

// Columns returns the declared column names of a table in sorted order.
func (s *Schema) Columns(table string) []string {
	if s == nil {
		return nil
	}
	return sortedKeys(s.tables[table])
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
