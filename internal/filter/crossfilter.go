package filter

import (
	"fmt"

	"github.com/roach88/hq/internal/queryir"
	"github.com/roach88/hq/internal/schema"
)

// Node is an element of a filter tree.
//
// This is a sealed interface: only Condition and Group implement it.
type Node interface {
	filterNode()
}

// Condition is a leaf predicate.
type Condition struct {
	Column   string
	Operator queryir.Operator
	Value    any
}

func (Condition) filterNode() {}

// Group combines nodes under one boolean operator. OrderBy and Limit are
// set by TopN and only take effect on the root group.
type Group struct {
	Operator   queryir.Conjunction
	Conditions []Node
	OrderBy    *queryir.OrderBy
	Limit      *int
}

func (Group) filterNode() {}

// CrossFilter accumulates a filter tree independently of a query builder,
// typically from UI state, and is later applied to a builder.
//
// When a schema is attached every value is validated against the column's
// declared type as it is added. CrossFilter is not safe for concurrent use.
type CrossFilter struct {
	table  string
	schema *schema.Schema
	root   Group
}

// Option configures a CrossFilter.
type Option func(*CrossFilter)

// WithSchema enables value validation against s.
func WithSchema(s *schema.Schema) Option {
	return func(f *CrossFilter) { f.schema = s }
}

// WithOperator sets the root group's operator (AND by default).
func WithOperator(op queryir.Conjunction) Option {
	return func(f *CrossFilter) { f.root.Operator = op }
}

// New creates an empty CrossFilter for table.
func New(table string, opts ...Option) *CrossFilter {
	f := &CrossFilter{table: table, root: Group{Operator: queryir.And}}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Table returns the table the filter's columns belong to.
func (f *CrossFilter) Table() string {
	return f.table
}

// Add appends a condition to the root group.
func (f *CrossFilter) Add(c Condition) error {
	normalized, err := f.checkCondition(c)
	if err != nil {
		return err
	}
	f.root.Conditions = append(f.root.Conditions, normalized)
	return nil
}

// AddGroup nests nodes under op as a single child of the root group.
// An empty group is ignored.
func (f *CrossFilter) AddGroup(nodes []Node, op queryir.Conjunction) error {
	g, err := f.checkGroup(Group{Operator: op, Conditions: nodes})
	if err != nil {
		return err
	}
	if len(g.Conditions) == 0 {
		return nil
	}
	f.root.Conditions = append(f.root.Conditions, g)
	return nil
}

// TopN orders the result by column and keeps the first n rows. It adds no
// predicate.
func (f *CrossFilter) TopN(column string, n int, dir queryir.Direction) error {
	if n <= 0 {
		return queryir.NewConstructionError(queryir.ErrCodeInvalidLimit, "top-n count must be positive, got %d", n)
	}
	if dir == "" {
		dir = queryir.Desc
	}
	if dir != queryir.Asc && dir != queryir.Desc {
		return queryir.NewConstructionError(queryir.ErrCodeInvalidOperator, "unknown sort direction %q", dir)
	}
	f.root.OrderBy = &queryir.OrderBy{Column: column, Direction: dir}
	f.root.Limit = &n
	return nil
}

// Conditions returns a snapshot of the root group. Later changes to the
// CrossFilter do not affect a returned snapshot.
func (f *CrossFilter) Conditions() Group {
	return cloneGroup(f.root)
}

// Reset removes every condition and any top-n setting.
func (f *CrossFilter) Reset() {
	f.root = Group{Operator: f.root.Operator}
}

func (f *CrossFilter) checkCondition(c Condition) (Condition, error) {
	qc, err := queryir.NewCondition(c.Column, c.Operator, c.Value, queryir.And)
	if err != nil {
		return Condition{}, err
	}
	if f.schema != nil && f.schema.HasTable(f.table) {
		t, ok := f.schema.Lookup(f.table, c.Column)
		if !ok {
			return Condition{}, &queryir.ConstructionError{
				Code:    queryir.ErrCodeUnknownColumn,
				Message: "column is not declared",
				Table:   f.table,
				Column:  c.Column,
			}
		}
		if err := ValidateValue(t, c.Operator, qc.Value); err != nil {
			if ve, ok := err.(*ValidationError); ok {
				ve.Column = c.Column
			}
			return Condition{}, err
		}
	}
	return Condition{Column: c.Column, Operator: c.Operator, Value: qc.Value}, nil
}

func (f *CrossFilter) checkGroup(g Group) (Group, error) {
	if g.Operator != queryir.And && g.Operator != queryir.Or {
		return Group{}, queryir.NewConstructionError(queryir.ErrCodeInvalidOperator, "unknown group operator %q", g.Operator)
	}
	out := Group{Operator: g.Operator}
	for _, n := range g.Conditions {
		switch node := n.(type) {
		case Condition:
			c, err := f.checkCondition(node)
			if err != nil {
				return Group{}, err
			}
			out.Conditions = append(out.Conditions, c)
		case Group:
			child, err := f.checkGroup(node)
			if err != nil {
				return Group{}, err
			}
			if len(child.Conditions) > 0 {
				out.Conditions = append(out.Conditions, child)
			}
		default:
			return Group{}, fmt.Errorf("filter: unsupported node %T", n)
		}
	}
	return out, nil
}

// Flatten converts a group's contents into the builder's marker-based
// where list. Members of g are joined by g.Operator; nested groups become
// GroupStart/GroupEnd pairs. Empty nested groups are dropped.
func Flatten(g Group) ([]queryir.WhereItem, error) {
	var items []queryir.WhereItem
	conj := g.Operator
	if conj == "" {
		conj = queryir.And
	}
	for _, n := range g.Conditions {
		switch node := n.(type) {
		case Condition:
			c, err := queryir.NewCondition(node.Column, node.Operator, node.Value, conj)
			if err != nil {
				return nil, err
			}
			items = append(items, c)
		case Group:
			inner, err := Flatten(node)
			if err != nil {
				return nil, err
			}
			if len(inner) == 0 {
				continue
			}
			items = append(items, queryir.GroupStart{Conjunction: conj})
			items = append(items, inner...)
			items = append(items, queryir.GroupEnd{})
		default:
			return nil, fmt.Errorf("filter: unsupported node %T", n)
		}
	}
	return items, nil
}

func cloneGroup(g Group) Group {
	out := Group{Operator: g.Operator}
	if g.OrderBy != nil {
		ob := *g.OrderBy
		out.OrderBy = &ob
	}
	if g.Limit != nil {
		n := *g.Limit
		out.Limit = &n
	}
	if g.Conditions != nil {
		out.Conditions = make([]Node, len(g.Conditions))
	}
	for i, n := range g.Conditions {
		switch node := n.(type) {
		case Condition:
			if list, ok := node.Value.([]any); ok {
				node.Value = append([]any(nil), list...)
			}
			out.Conditions[i] = node
		case Group:
			out.Conditions[i] = cloneGroup(node)
		}
	}
	return out
}
