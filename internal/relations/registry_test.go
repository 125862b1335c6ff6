package relations

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hq/internal/queryir"
)

func ordersToCustomers() Path {
	return Path{From: "orders", To: "customers", LeftColumn: "customer_id", RightColumn: "id"}
}

func TestRegistry_DefineAndResolve(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Define("customer", ordersToCustomers()))

	assert.True(t, r.Has("customer"))
	joins, err := r.Resolve("customer")
	require.NoError(t, err)
	assert.Equal(t, []queryir.JoinClause{{
		Type:        queryir.InnerJoin,
		Table:       "customers",
		LeftColumn:  "orders.customer_id",
		RightColumn: "customers.id",
	}}, joins)
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Define("customer", ordersToCustomers()))

	err := r.Define("customer", Path{From: "orders", To: "people", LeftColumn: "customer_id", RightColumn: "id"})
	assert.True(t, queryir.HasCode(err, queryir.ErrCodeDuplicateRelationship))

	paths, ok := r.Get("customer")
	require.True(t, ok)
	assert.Equal(t, "customers", paths[0].To, "first definition must survive")
}

func TestRegistry_EmptyChain(t *testing.T) {
	r := NewRegistry()
	err := r.DefineChain("nothing", nil)
	assert.True(t, queryir.HasCode(err, queryir.ErrCodeEmptyChain))
	assert.False(t, r.Has("nothing"))
}

func TestRegistry_InvalidPath(t *testing.T) {
	r := NewRegistry()
	assert.True(t, queryir.HasCode(r.Define("x", Path{From: "a", To: "b"}), queryir.ErrCodeInvalidJoin))

	p := ordersToCustomers()
	p.Type = "SIDEWAYS"
	assert.True(t, queryir.HasCode(r.Define("y", p), queryir.ErrCodeInvalidJoin))
}

func TestRegistry_UnknownName(t *testing.T) {
	_, err := NewRegistry().Resolve("missing")
	require.Error(t, err)
	assert.True(t, queryir.HasCode(err, queryir.ErrCodeRelationshipNotFound))
	assert.Contains(t, err.Error(), "missing")
}

func TestRegistry_ChainWithOverrides(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.DefineChain("customer_region", []Path{
		ordersToCustomers(),
		{From: "customers", To: "regions", LeftColumn: "region_id", RightColumn: "id", Type: queryir.LeftJoin},
	}))

	joins, err := r.Resolve("customer_region")
	require.NoError(t, err)
	require.Len(t, joins, 2)
	assert.Equal(t, queryir.InnerJoin, joins[0].Type)
	assert.Equal(t, queryir.LeftJoin, joins[1].Type)
	assert.Equal(t, "customers.region_id", joins[1].LeftColumn)

	joins, err = r.Resolve("customer_region", Override{Type: queryir.FullJoin, Alias: "rg"})
	require.NoError(t, err)
	assert.Equal(t, queryir.FullJoin, joins[0].Type)
	assert.Equal(t, queryir.FullJoin, joins[1].Type)
	assert.Empty(t, joins[0].Alias)
	assert.Equal(t, "rg", joins[1].Alias)
	assert.Equal(t, "rg.id", joins[1].RightColumn)

	_, err = r.Resolve("customer_region", Override{Type: "NATURAL"})
	assert.True(t, queryir.HasCode(err, queryir.ErrCodeInvalidJoin))
}

func TestRegistry_QualifiedColumnsAreKept(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Define("c", Path{From: "o", To: "c", LeftColumn: "o2.cid", RightColumn: "c.id"}))
	joins, err := r.Resolve("c")
	require.NoError(t, err)
	assert.Equal(t, "o2.cid", joins[0].LeftColumn)
	assert.Equal(t, "c.id", joins[0].RightColumn)
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Define("customer", ordersToCustomers()))
	paths, _ := r.Get("customer")
	paths[0].To = "mutated"

	again, _ := r.Get("customer")
	assert.Equal(t, "customers", again[0].To)
}

func TestRegistry_RemoveClearNames(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Define("b", ordersToCustomers()))
	require.NoError(t, r.Define("a", ordersToCustomers()))
	assert.Equal(t, []string{"a", "b"}, r.Names())

	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	assert.Equal(t, []string{"b"}, r.Names())

	r.Clear()
	assert.Empty(t, r.Names())
	require.NoError(t, r.Define("b", ordersToCustomers()), "cleared names can be reused")
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Define("customer", ordersToCustomers()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, err := r.Resolve("customer")
				assert.NoError(t, err)
				_ = r.Names()
			}
		}()
	}
	wg.Wait()
}
