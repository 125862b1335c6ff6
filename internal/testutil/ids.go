package testutil

// FixedQueryID returns the same query ID every time.
//
// This keeps logged and recorded query IDs stable across test runs.
// Thread-safety: FixedQueryID is stateless and safe for concurrent use.
type FixedQueryID struct {
	id string
}

// NewFixedQueryID creates a generator for id. An empty id becomes
// "test-query-default".
func NewFixedQueryID(id string) *FixedQueryID {
	if id == "" {
		id = "test-query-default"
	}
	return &FixedQueryID{id: id}
}

// Generate returns the fixed ID.
func (g *FixedQueryID) Generate() string {
	return g.id
}
