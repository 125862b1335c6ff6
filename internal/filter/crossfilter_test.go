package filter

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hq/internal/queryir"
	"github.com/roach88/hq/internal/schema"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.FromDefinitions(map[string]map[string]string{
		"orders": {
			"id":         "UInt64",
			"amount":     "Decimal(18, 2)",
			"discount":   "Nullable(Float64)",
			"status":     "Enum8('new' = 1, 'paid' = 2)",
			"customer":   "UUID",
			"country":    "LowCardinality(String)",
			"code":       "FixedString(2)",
			"created_at": "DateTime",
			"tags":       "Array(String)",
			"attrs":      "Map(String, UInt32)",
			"is_test":    "Bool",
		},
	})
	require.NoError(t, err)
	return s
}

func TestCrossFilter_ValidatesAgainstSchema(t *testing.T) {
	s := testSchema(t)

	testCases := []struct {
		name  string
		cond  Condition
		valid bool
	}{
		{"int", Condition{"id", queryir.OpEq, 42}, true},
		{"string for int", Condition{"id", queryir.OpEq, "42"}, false},
		{"negative for unsigned", Condition{"id", queryir.OpEq, -1}, false},
		{"whole float for int", Condition{"id", queryir.OpGt, 3.0}, true},
		{"fraction for int", Condition{"id", queryir.OpGt, 3.5}, false},
		{"null for non-nullable", Condition{"amount", queryir.OpEq, nil}, false},
		{"null for nullable", Condition{"discount", queryir.OpEq, nil}, true},
		{"string for nullable float", Condition{"discount", queryir.OpEq, "0.1"}, false},
		{"enum label", Condition{"status", queryir.OpEq, "paid"}, true},
		{"enum code", Condition{"status", queryir.OpEq, 1}, true},
		{"unknown enum label", Condition{"status", queryir.OpEq, "shipped"}, false},
		{"uuid string", Condition{"customer", queryir.OpEq, "0191e8a4-7c3b-7f00-8000-000000000001"}, true},
		{"uuid value", Condition{"customer", queryir.OpEq, uuid.New()}, true},
		{"bad uuid", Condition{"customer", queryir.OpEq, "nope"}, false},
		{"low cardinality string", Condition{"country", queryir.OpIn, []string{"DE", "FR"}}, true},
		{"list element mismatch", Condition{"id", queryir.OpIn, []any{1, "two"}}, false},
		{"fixed string too long", Condition{"code", queryir.OpEq, "USA"}, false},
		{"datetime string", Condition{"created_at", queryir.OpGte, "2024-01-01 00:00:00"}, true},
		{"datetime between", Condition{"created_at", queryir.OpBetween, []string{"2024-01-01", "2024-02-01"}}, true},
		{"bad datetime", Condition{"created_at", queryir.OpGte, "yesterday"}, false},
		{"array", Condition{"tags", queryir.OpEq, []string{"a"}}, true},
		{"array element mismatch", Condition{"tags", queryir.OpEq, []int{1}}, false},
		{"map", Condition{"attrs", queryir.OpEq, map[string]uint32{"k": 1}}, true},
		{"map value mismatch", Condition{"attrs", queryir.OpEq, map[string]string{"k": "v"}}, false},
		{"bool", Condition{"is_test", queryir.OpEq, true}, true},
		{"bool as int", Condition{"is_test", queryir.OpEq, 1}, true},
		{"like needs string", Condition{"country", queryir.OpLike, 5}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := New("orders", WithSchema(s))
			err := f.Add(tc.cond)
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "got %v", err)
		})
	}
}

func TestCrossFilter_ValidationErrorNamesColumn(t *testing.T) {
	f := New("orders", WithSchema(testSchema(t)))
	err := f.Add(Condition{"amount", queryir.OpEq, "lots"})

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "amount", ve.Column)
	assert.Equal(t, "Decimal(18, 2)", ve.Type)
	assert.Equal(t, "lots", ve.Value)
}

func TestCrossFilter_UnknownColumn(t *testing.T) {
	f := New("orders", WithSchema(testSchema(t)))
	err := f.Add(Condition{"nope", queryir.OpEq, 1})
	assert.True(t, queryir.HasCode(err, queryir.ErrCodeUnknownColumn))
}

func TestCrossFilter_NoSchemaSkipsValidation(t *testing.T) {
	f := New("orders")
	require.NoError(t, f.Add(Condition{"id", queryir.OpEq, "not a number"}))
	require.NoError(t, f.Add(Condition{"anything", queryir.OpEq, nil}))
	assert.Len(t, f.Conditions().Conditions, 2)
}

func TestCrossFilter_StructuralErrors(t *testing.T) {
	f := New("orders")
	assert.True(t, queryir.HasCode(f.Add(Condition{"id", queryir.OpIn, []int{}}), queryir.ErrCodeEmptyInList))
	assert.True(t, queryir.HasCode(f.Add(Condition{"id", queryir.OpBetween, []int{5, 1}}), queryir.ErrCodeInvalidBetween))
	assert.True(t, queryir.HasCode(f.AddGroup(nil, "XOR"), queryir.ErrCodeInvalidOperator))
	assert.Empty(t, f.Conditions().Conditions)
}

func TestCrossFilter_SnapshotIsIsolated(t *testing.T) {
	f := New("orders")
	require.NoError(t, f.Add(Condition{"id", queryir.OpIn, []any{1, 2}}))
	require.NoError(t, f.AddGroup([]Node{
		Condition{"status", queryir.OpEq, "new"},
		Condition{"status", queryir.OpEq, "paid"},
	}, queryir.Or))
	require.NoError(t, f.TopN("amount", 5, queryir.Desc))

	snap := f.Conditions()

	require.NoError(t, f.Add(Condition{"country", queryir.OpEq, "DE"}))
	require.NoError(t, f.TopN("id", 1, queryir.Asc))
	snap.Conditions[0].(Condition).Value.([]any)[0] = 99

	assert.Len(t, snap.Conditions, 2)
	assert.Equal(t, "amount", snap.OrderBy.Column)
	assert.Equal(t, 5, *snap.Limit)

	fresh := f.Conditions()
	assert.Len(t, fresh.Conditions, 3)
	assert.Equal(t, []any{1, 2}, fresh.Conditions[0].(Condition).Value)
	assert.Equal(t, 1, *fresh.Limit)
}

func TestCrossFilter_EmptyGroupIsIgnored(t *testing.T) {
	f := New("orders")
	require.NoError(t, f.AddGroup([]Node{Group{Operator: queryir.And}}, queryir.Or))
	assert.Empty(t, f.Conditions().Conditions)
}

func TestCrossFilter_TopN(t *testing.T) {
	f := New("orders")
	assert.True(t, queryir.HasCode(f.TopN("amount", 0, queryir.Desc), queryir.ErrCodeInvalidLimit))

	require.NoError(t, f.TopN("amount", 3, ""))
	g := f.Conditions()
	assert.Equal(t, queryir.OrderBy{Column: "amount", Direction: queryir.Desc}, *g.OrderBy)
	assert.Equal(t, 3, *g.Limit)
	assert.Empty(t, g.Conditions)

	f.Reset()
	assert.Nil(t, f.Conditions().Limit)
}

func TestFlatten(t *testing.T) {
	f := New("orders")
	require.NoError(t, f.Add(Condition{"a", queryir.OpEq, 1}))
	require.NoError(t, f.AddGroup([]Node{
		Condition{"b", queryir.OpEq, 2},
		Group{Operator: queryir.And, Conditions: []Node{
			Condition{"c", queryir.OpEq, 3},
			Condition{"d", queryir.OpEq, 4},
		}},
	}, queryir.Or))

	items, err := Flatten(f.Conditions())
	require.NoError(t, err)

	assert.Equal(t, []queryir.WhereItem{
		queryir.Condition{Column: "a", Operator: queryir.OpEq, Value: 1, Conjunction: queryir.And},
		queryir.GroupStart{Conjunction: queryir.And},
		queryir.Condition{Column: "b", Operator: queryir.OpEq, Value: 2, Conjunction: queryir.Or},
		queryir.GroupStart{Conjunction: queryir.Or},
		queryir.Condition{Column: "c", Operator: queryir.OpEq, Value: 3, Conjunction: queryir.And},
		queryir.Condition{Column: "d", Operator: queryir.OpEq, Value: 4, Conjunction: queryir.And},
		queryir.GroupEnd{},
		queryir.GroupEnd{},
	}, items)
	assert.NoError(t, queryir.Validate(queryir.NewState("orders").AddWhere(items...)))
}
