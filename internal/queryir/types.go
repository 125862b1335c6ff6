package queryir

// Operator is a comparison operator usable in a Condition.
type Operator string

const (
	OpEq          Operator = "eq"
	OpNeq         Operator = "neq"
	OpGt          Operator = "gt"
	OpGte         Operator = "gte"
	OpLt          Operator = "lt"
	OpLte         Operator = "lte"
	OpLike        Operator = "like"
	OpNotLike     Operator = "notLike"
	OpILike       Operator = "ilike"
	OpIn          Operator = "in"
	OpNotIn       Operator = "notIn"
	OpGlobalIn    Operator = "globalIn"
	OpGlobalNotIn Operator = "globalNotIn"
	OpBetween     Operator = "between"
)

var operatorSQL = map[Operator]string{
	OpEq:          "=",
	OpNeq:         "!=",
	OpGt:          ">",
	OpGte:         ">=",
	OpLt:          "<",
	OpLte:         "<=",
	OpLike:        "LIKE",
	OpNotLike:     "NOT LIKE",
	OpILike:       "ILIKE",
	OpIn:          "IN",
	OpNotIn:       "NOT IN",
	OpGlobalIn:    "GLOBAL IN",
	OpGlobalNotIn: "GLOBAL NOT IN",
	OpBetween:     "BETWEEN",
}

// Valid reports whether the operator is known.
func (o Operator) Valid() bool {
	_, ok := operatorSQL[o]
	return ok
}

// SQL returns the SQL keyword or symbol for the operator.
func (o Operator) SQL() string {
	return operatorSQL[o]
}

// IsList reports whether the operator takes a value list that is spread
// into one parameter per element.
func (o Operator) IsList() bool {
	switch o {
	case OpIn, OpNotIn, OpGlobalIn, OpGlobalNotIn:
		return true
	}
	return false
}

// IsPattern reports whether the operator takes a LIKE pattern.
func (o Operator) IsPattern() bool {
	return o == OpLike || o == OpNotLike || o == OpILike
}

// Conjunction joins a WHERE or HAVING item to its predecessor.
type Conjunction string

const (
	And Conjunction = "AND"
	Or  Conjunction = "OR"
)

// JoinType is the SQL join kind.
type JoinType string

const (
	InnerJoin JoinType = "INNER"
	LeftJoin  JoinType = "LEFT"
	RightJoin JoinType = "RIGHT"
	FullJoin  JoinType = "FULL"
)

// Valid reports whether the join type is known.
func (j JoinType) Valid() bool {
	switch j {
	case InnerJoin, LeftJoin, RightJoin, FullJoin:
		return true
	}
	return false
}

// Direction is an ORDER BY direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// WhereItem is one entry of the linear WHERE list.
//
// This is a sealed interface - only Condition, RawExpr, GroupStart and
// GroupEnd implement it.
type WhereItem interface {
	whereItem() // Marker method - seals interface to this package
}

// Condition is a column <op> value leaf.
//
// Value is normalized by NewCondition: list operators hold []any, between
// holds a two-element []any{low, high}, every other operator holds the
// scalar as given.
type Condition struct {
	Column      string
	Operator    Operator
	Value       any
	Conjunction Conjunction
}

func (Condition) whereItem() {}

// Params returns the positional parameters the condition contributes.
func (c Condition) Params() []any {
	if c.Operator.IsList() || c.Operator == OpBetween {
		list, _ := c.Value.([]any)
		return append([]any(nil), list...)
	}
	return []any{c.Value}
}

// RawExpr is a free-form boolean expression with ? placeholders.
type RawExpr struct {
	Expression  string
	Parameters  []any
	Conjunction Conjunction
}

func (RawExpr) whereItem() {}

// GroupStart opens a nested scope. Its Conjunction joins the whole group
// to whatever precedes it.
type GroupStart struct {
	Conjunction Conjunction
}

func (GroupStart) whereItem() {}

// GroupEnd closes the innermost open scope.
type GroupEnd struct{}

func (GroupEnd) whereItem() {}

// JoinClause is one rendered JOIN.
// RightColumn is always qualified (table.column or alias.column).
type JoinClause struct {
	Type        JoinType
	Table       string
	LeftColumn  string
	RightColumn string
	Alias       string
}

// OrderBy is one ORDER BY term.
type OrderBy struct {
	Column    string
	Direction Direction
}

// Having is one HAVING expression with ? placeholders.
type Having struct {
	Expression  string
	Parameters  []any
	Conjunction Conjunction
}

// CTE is a named subquery emitted in the WITH prefix.
// SQL uses ? placeholders bound to Parameters.
type CTE struct {
	Name       string
	SQL        string
	Parameters []any
}

// Union is a UNION [ALL] branch appended after the main query.
type Union struct {
	All        bool
	SQL        string
	Parameters []any
}
