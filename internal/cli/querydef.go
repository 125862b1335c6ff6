package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/hq/internal/builder"
	"github.com/roach88/hq/internal/queryir"
	"github.com/roach88/hq/internal/relations"
)

// DefinitionError reports an unreadable or malformed query definition.
type DefinitionError struct {
	Path    string
	Message string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("query definition %s: %s", e.Path, e.Message)
}

// QueryDef is a query described in YAML:
//
//	table: events
//	select: [kind]
//	aggregates:
//	  - {func: count, column: "*"}
//	where:
//	  - {column: ts, op: gte, value: "2024-01-01"}
//	  - or: true
//	    group:
//	      - {column: kind, op: eq, value: click}
//	      - {column: kind, op: eq, value: view}
//	group_by: [kind]
//	order_by:
//	  - {column: count, dir: desc}
//	limit: 10
type QueryDef struct {
	Table      string               `yaml:"table"`
	Select     []string             `yaml:"select"`
	Distinct   bool                 `yaml:"distinct"`
	Aggregates []AggregateDef       `yaml:"aggregates"`
	Relations  map[string][]PathDef `yaml:"relations"`
	With       []RelationUse        `yaml:"with"`
	Joins      []JoinDef            `yaml:"joins"`
	Where      []WhereDef           `yaml:"where"`
	GroupBy    []string             `yaml:"group_by"`
	Having     []RawDef             `yaml:"having"`
	OrderBy    []OrderDef           `yaml:"order_by"`
	Limit      *int                 `yaml:"limit"`
	Offset     *int                 `yaml:"offset"`
	Settings   map[string]any       `yaml:"settings"`
	Tags       []string             `yaml:"tags"`
}

// AggregateDef is one of sum, count, avg, min, max.
type AggregateDef struct {
	Func   string `yaml:"func"`
	Column string `yaml:"column"`
	Alias  string `yaml:"alias"`
}

// PathDef is one hop of a declared relationship.
type PathDef struct {
	From  string           `yaml:"from"`
	To    string           `yaml:"to"`
	Left  string           `yaml:"left"`
	Right string           `yaml:"right"`
	Type  queryir.JoinType `yaml:"type"`
	Alias string           `yaml:"alias"`
}

// RelationUse applies a relationship declared under relations.
type RelationUse struct {
	Name  string           `yaml:"name"`
	Type  queryir.JoinType `yaml:"type"`
	Alias string           `yaml:"alias"`
}

// JoinDef is an explicit join.
type JoinDef struct {
	Table string           `yaml:"table"`
	Alias string           `yaml:"alias"`
	Left  string           `yaml:"left"`
	Right string           `yaml:"right"`
	Type  queryir.JoinType `yaml:"type"`
}

// WhereDef is a condition, a raw expression or a nested group. Or joins
// it to the previous entry with OR instead of AND.
type WhereDef struct {
	Column string           `yaml:"column"`
	Op     queryir.Operator `yaml:"op"`
	Value  any              `yaml:"value"`
	Raw    string           `yaml:"raw"`
	Params []any            `yaml:"params"`
	Group  []WhereDef       `yaml:"group"`
	Or     bool             `yaml:"or"`
}

// RawDef is an expression with ? placeholders.
type RawDef struct {
	Expr   string `yaml:"expr"`
	Params []any  `yaml:"params"`
	Or     bool   `yaml:"or"`
}

// OrderDef is one ORDER BY term.
type OrderDef struct {
	Column string            `yaml:"column"`
	Dir    queryir.Direction `yaml:"dir"`
}

// LoadQueryDef reads a query definition file.
func LoadQueryDef(path string) (*QueryDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &DefinitionError{Path: path, Message: err.Error()}
	}
	var def QueryDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &DefinitionError{Path: path, Message: err.Error()}
	}
	if err := def.Validate(); err != nil {
		return nil, &DefinitionError{Path: path, Message: err.Error()}
	}
	return &def, nil
}

// Validate checks the parts of a definition the builder does not.
func (d *QueryDef) Validate() error {
	if d.Table == "" {
		return errors.New("table is required")
	}
	for _, a := range d.Aggregates {
		if _, ok := aggregates[a.Func]; !ok {
			return fmt.Errorf("unknown aggregate function %q", a.Func)
		}
	}
	return nil
}

// Registry returns the relationships declared in the definition.
func (d *QueryDef) Registry() (*relations.Registry, error) {
	reg := relations.NewRegistry()
	for name, defs := range d.Relations {
		paths := make([]relations.Path, len(defs))
		for i, p := range defs {
			paths[i] = relations.Path{
				From: p.From, To: p.To,
				LeftColumn: p.Left, RightColumn: p.Right,
				Type: p.Type, Alias: p.Alias,
			}
		}
		if err := reg.DefineChain(name, paths); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Build applies the definition to a builder from f. Construction errors
// are reported through the returned Builder's Err.
func (d *QueryDef) Build(f *builder.Factory) (builder.Builder, error) {
	if err := d.Validate(); err != nil {
		return builder.Builder{}, err
	}
	b := f.Table(d.Table)
	if len(d.Select) > 0 {
		b = b.Select(d.Select...)
	}
	if d.Distinct {
		b = b.Distinct()
	}
	for _, a := range d.Aggregates {
		b = aggregates[a.Func](b, a.Column, a.Alias)
	}
	for _, r := range d.With {
		b = b.WithRelation(r.Name, relations.Override{Type: r.Type, Alias: r.Alias})
	}
	for _, j := range d.Joins {
		b = b.JoinAs(j.Type, j.Table, j.Alias, j.Left, j.Right)
	}
	b = applyWhere(b, d.Where)
	if len(d.GroupBy) > 0 {
		b = b.GroupBy(d.GroupBy...)
	}
	for _, h := range d.Having {
		if h.Or {
			b = b.OrHaving(h.Expr, h.Params...)
		} else {
			b = b.Having(h.Expr, h.Params...)
		}
	}
	for _, o := range d.OrderBy {
		b = b.OrderBy(o.Column, queryir.Direction(strings.ToUpper(string(o.Dir))))
	}
	if d.Limit != nil {
		b = b.Limit(*d.Limit)
	}
	if d.Offset != nil {
		b = b.Offset(*d.Offset)
	}
	if len(d.Settings) > 0 {
		b = b.Settings(d.Settings)
	}
	return b, nil
}

var aggregates = map[string]func(b builder.Builder, column string, alias ...string) builder.Builder{
	"sum":   builder.Builder.Sum,
	"count": builder.Builder.Count,
	"avg":   builder.Builder.Avg,
	"min":   builder.Builder.Min,
	"max":   builder.Builder.Max,
}

func applyWhere(b builder.Builder, defs []WhereDef) builder.Builder {
	for _, w := range defs {
		switch {
		case len(w.Group) > 0:
			group := w.Group
			fn := func(g builder.Builder) builder.Builder { return applyWhere(g, group) }
			if w.Or {
				b = b.OrWhereGroup(fn)
			} else {
				b = b.WhereGroup(fn)
			}
		case w.Raw != "":
			if w.Or {
				b = b.OrWhereRaw(w.Raw, w.Params...)
			} else {
				b = b.WhereRaw(w.Raw, w.Params...)
			}
		default:
			if w.Or {
				b = b.OrWhere(w.Column, w.Op, w.Value)
			} else {
				b = b.Where(w.Column, w.Op, w.Value)
			}
		}
	}
	return b
}
