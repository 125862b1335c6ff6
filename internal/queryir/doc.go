// Package queryir holds the query state accumulated by the fluent builder.
//
// ARCHITECTURE:
//
//	[builder.Builder] → [queryir.State] → [querysql renderer] → SQL + parameters
//
// State is a value object. Every With*/Add* method returns a new State and
// never writes through to the receiver's slices or maps, so a partially
// built State can be reused as a template by any number of callers.
//
// WHERE CLAUSE MODEL:
//
// The WHERE clause is a linear list of sealed WhereItem variants:
//
//	Condition   column <op> value
//	RawExpr     free-form expression with ? placeholders
//	GroupStart  opens a nested boolean scope "("
//	GroupEnd    closes it ")"
//
// Nesting is expressed by balanced GroupStart/GroupEnd markers rather than a
// tree, which keeps rendering to a single linear scan. Each item carries the
// conjunction that joins it to its predecessor; the renderer ignores the
// conjunction of the first item in any scope.
//
// WhereItem is a sealed interface using the marker method pattern. Only
// types in this package implement it, which lets the renderer switch
// exhaustively.
//
// PARAMETER ORDER:
//
// Parameters are owned by the fragments that introduce them (conditions,
// raw expressions, HAVING entries, CTEs, UNION branches). State.Parameters
// returns them in rendering order: CTEs, WHERE, HAVING, UNION.
package queryir
