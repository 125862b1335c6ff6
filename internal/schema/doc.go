// Package schema is the column/type registry consulted by the query builder.
//
// A Schema maps table → column → ColumnType. Column types are parsed from
// ClickHouse notation (Int32, Nullable(String), Array(LowCardinality(String)),
// Map(String, UInt64), DateTime64(3, 'UTC'), Enum8('a' = 1), ...) and are
// immutable once constructed.
//
// Schemas can be built in code (New, FromDefinitions) or loaded from YAML or
// CUE files (LoadFile). Lookup is the only behavior: Lookup reports whether a
// column is declared, TypeOf falls back to DefaultType when it is not.
package schema
