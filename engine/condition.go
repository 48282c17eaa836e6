package engine

import (
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/meikuraledutech/flow"
)

// Condition operators supported by the builder.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpContains    = "contains"
	OpIsNull      = "is_null"
	OpIsNotNull   = "is_not_null"
)

type predicate struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// evalCondition evaluates a condition node's predicate list with AND
// semantics: output index 0 (true branch) if every predicate passes,
// else 1. An empty list passes vacuously so a condition without
// predicates never strands a workflow.
func evalCondition(config map[string]any, view flow.ContextView) flow.NodeResult {
	preds, err := decodePredicates(config)
	if err != nil {
		return flow.Failure(fmt.Sprintf("condition config: %v", err), false)
	}
	for _, p := range preds {
		if !p.eval(view) {
			return flow.Branch(1)
		}
	}
	return flow.Branch(0)
}

func decodePredicates(config map[string]any) ([]predicate, error) {
	raw, ok := config["conditions"]
	if !ok {
		return nil, nil
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var preds []predicate
	if err := json.Unmarshal(buf, &preds); err != nil {
		return nil, err
	}
	return preds, nil
}

func (p predicate) eval(view flow.ContextView) bool {
	actual, present := view.Get(p.Field)

	switch p.Operator {
	case OpIsNull:
		return !present || actual == nil
	case OpIsNotNull:
		return present && actual != nil
	case OpEquals:
		return valuesEqual(actual, p.Value)
	case OpNotEquals:
		return !valuesEqual(actual, p.Value)
	case OpGreaterThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(p.Value)
		return aok && bok && a > b
	case OpLessThan:
		a, aok := toFloat(actual)
		b, bok := toFloat(p.Value)
		return aok && bok && a < b
	case OpContains:
		if items, ok := actual.([]any); ok {
			for _, item := range items {
				if valuesEqual(item, p.Value) {
					return true
				}
			}
			return false
		}
		return strings.Contains(flow.Stringify(actual), flow.Stringify(p.Value))
	default:
		// Unknown operators fail the predicate rather than the run.
		return false
	}
}

// valuesEqual compares numerically when both sides coerce to numbers,
// otherwise by string form, matching how submission values arrive as
// loosely typed JSON.
func valuesEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return flow.Stringify(a) == flow.Stringify(b)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
