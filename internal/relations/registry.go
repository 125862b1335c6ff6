// Package relations holds named, reusable join paths.
//
// A Registry is created once and passed to the builder factory; there is no
// process-wide registry. Names are unique: redefining a name is an error.
package relations

import (
	"sort"
	"strings"
	"sync"

	"github.com/roach88/hq/internal/queryir"
)

// Path is one hop of a join: From.LeftColumn = To.RightColumn.
type Path struct {
	From        string
	To          string
	LeftColumn  string
	RightColumn string
	Type        queryir.JoinType
	Alias       string
}

// Override replaces the join type and/or alias of a relationship for one
// use. Empty fields keep the registered values.
type Override struct {
	Type  queryir.JoinType
	Alias string
}

// Registry maps relationship names to one or more join paths.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	paths map[string][]Path
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{paths: make(map[string][]Path)}
}

// Define registers a single-path relationship.
func (r *Registry) Define(name string, p Path) error {
	return r.DefineChain(name, []Path{p})
}

// DefineChain registers an ordered chain of paths under one name.
func (r *Registry) DefineChain(name string, paths []Path) error {
	if len(paths) == 0 {
		return queryir.NewConstructionError(queryir.ErrCodeEmptyChain, "relationship %q has no paths", name)
	}
	for i, p := range paths {
		if p.To == "" || p.LeftColumn == "" || p.RightColumn == "" {
			return queryir.NewConstructionError(queryir.ErrCodeInvalidJoin,
				"relationship %q path %d needs a target table and both join columns", name, i)
		}
		if p.Type != "" && !p.Type.Valid() {
			return queryir.NewConstructionError(queryir.ErrCodeInvalidJoin,
				"relationship %q path %d has unknown join type %q", name, i, p.Type)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.paths[name]; exists {
		return queryir.NewConstructionError(queryir.ErrCodeDuplicateRelationship, "relationship %q is already defined", name)
	}
	r.paths[name] = append([]Path(nil), paths...)
	return nil
}

// Get returns a copy of the paths registered under name.
func (r *Registry) Get(name string) ([]Path, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths, ok := r.paths[name]
	if !ok {
		return nil, false
	}
	return append([]Path(nil), paths...), true
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.paths[name]
	return ok
}

// Remove deletes name. It reports whether the name was registered.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.paths[name]
	delete(r.paths, name)
	return ok
}

// Clear removes every relationship.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = make(map[string][]Path)
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.paths))
	for name := range r.paths {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve turns a relationship into join clauses, one per path in chain
// order. An override's Type applies to every path; its Alias applies to the
// last path, which is the table the caller selects from.
func (r *Registry) Resolve(name string, overrides ...Override) ([]queryir.JoinClause, error) {
	paths, ok := r.Get(name)
	if !ok {
		return nil, queryir.NewConstructionError(queryir.ErrCodeRelationshipNotFound, "relationship %q is not defined", name)
	}

	var ov Override
	for _, o := range overrides {
		if o.Type != "" {
			ov.Type = o.Type
		}
		if o.Alias != "" {
			ov.Alias = o.Alias
		}
	}
	if ov.Type != "" && !ov.Type.Valid() {
		return nil, queryir.NewConstructionError(queryir.ErrCodeInvalidJoin, "unknown join type %q", ov.Type)
	}

	joins := make([]queryir.JoinClause, len(paths))
	for i, p := range paths {
		typ := p.Type
		if ov.Type != "" {
			typ = ov.Type
		}
		if typ == "" {
			typ = queryir.InnerJoin
		}
		alias := p.Alias
		if i == len(paths)-1 && ov.Alias != "" {
			alias = ov.Alias
		}
		joins[i] = queryir.JoinClause{
			Type:        typ,
			Table:       p.To,
			LeftColumn:  qualify(p.From, p.LeftColumn),
			RightColumn: qualify(rightQualifier(p.To, alias), p.RightColumn),
			Alias:       alias,
		}
	}
	return joins, nil
}

func rightQualifier(table, alias string) string {
	if alias != "" {
		return alias
	}
	return table
}

// qualify prefixes column with table unless it is already qualified.
func qualify(table, column string) string {
	if table == "" || strings.Contains(column, ".") {
		return column
	}
	return table + "." + column
}
