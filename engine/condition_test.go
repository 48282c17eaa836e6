package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/flow"
)

func conditionConfig(preds ...map[string]any) map[string]any {
	items := make([]any, len(preds))
	for i, p := range preds {
		items[i] = p
	}
	return map[string]any{"conditions": items}
}

func TestConditionTruthTable(t *testing.T) {
	ctx := flow.NewContext()
	ctx.SetOverride("age", float64(20))
	ctx.SetOverride("name", "Ada")
	ctx.SetOverride("tags", []any{"beta", "vip"})
	ctx.SetOverride("empty", nil)

	tests := []struct {
		name  string
		pred  map[string]any
		index int
	}{
		{"greater_than passes", map[string]any{"field": "age", "operator": "greater_than", "value": 18}, 0},
		{"greater_than fails", map[string]any{"field": "age", "operator": "greater_than", "value": 21}, 1},
		{"less_than passes", map[string]any{"field": "age", "operator": "less_than", "value": 30}, 0},
		{"less_than fails", map[string]any{"field": "age", "operator": "less_than", "value": 20}, 1},
		{"equals string", map[string]any{"field": "name", "operator": "equals", "value": "Ada"}, 0},
		{"equals numeric across types", map[string]any{"field": "age", "operator": "equals", "value": 20}, 0},
		{"not_equals", map[string]any{"field": "name", "operator": "not_equals", "value": "Bob"}, 0},
		{"contains substring", map[string]any{"field": "name", "operator": "contains", "value": "Ad"}, 0},
		{"contains list element", map[string]any{"field": "tags", "operator": "contains", "value": "vip"}, 0},
		{"contains misses", map[string]any{"field": "tags", "operator": "contains", "value": "free"}, 1},
		{"is_null on nil value", map[string]any{"field": "empty", "operator": "is_null"}, 0},
		{"is_null on missing key", map[string]any{"field": "ghost", "operator": "is_null"}, 0},
		{"is_not_null", map[string]any{"field": "name", "operator": "is_not_null"}, 0},
		{"is_not_null fails on missing", map[string]any{"field": "ghost", "operator": "is_not_null"}, 1},
		{"unknown operator fails predicate", map[string]any{"field": "age", "operator": "between", "value": 5}, 1},
		{"non numeric comparison fails predicate", map[string]any{"field": "name", "operator": "greater_than", "value": 3}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := evalCondition(conditionConfig(tt.pred), ctx)
			require.Equal(t, flow.ResultSuccess, res.Status)
			assert.Equal(t, tt.index, res.OutputIndex)
		})
	}
}

func TestConditionANDSemantics(t *testing.T) {
	ctx := flow.NewContext()
	ctx.SetOverride("age", float64(20))
	ctx.SetOverride("country", "DE")

	res := evalCondition(conditionConfig(
		map[string]any{"field": "age", "operator": "greater_than", "value": 18},
		map[string]any{"field": "country", "operator": "equals", "value": "DE"},
	), ctx)
	assert.Equal(t, 0, res.OutputIndex)

	res = evalCondition(conditionConfig(
		map[string]any{"field": "age", "operator": "greater_than", "value": 18},
		map[string]any{"field": "country", "operator": "equals", "value": "FR"},
	), ctx)
	assert.Equal(t, 1, res.OutputIndex)
}

func TestConditionEmptyPredicateListPassesVacuously(t *testing.T) {
	res := evalCondition(map[string]any{}, flow.NewContext())
	require.Equal(t, flow.ResultSuccess, res.Status)
	assert.Equal(t, 0, res.OutputIndex)

	res = evalCondition(conditionConfig(), flow.NewContext())
	require.Equal(t, flow.ResultSuccess, res.Status)
	assert.Equal(t, 0, res.OutputIndex)
}

func TestConditionMalformedConfigFails(t *testing.T) {
	res := evalCondition(map[string]any{"conditions": "not a list"}, flow.NewContext())
	assert.Equal(t, flow.ResultFailure, res.Status)
	assert.False(t, res.Retryable)
}
