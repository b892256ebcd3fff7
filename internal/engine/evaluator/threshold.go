package evaluator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/complyscan/complyscan/internal/engine/adapter"
	"github.com/complyscan/complyscan/internal/engine/rules"
)

// defaultEpsilon is used for "==" comparisons when the rule does not
// configure its own tolerance. Never compare floats directly.
var defaultEpsilon = decimal.NewFromFloat(0.01)

// Threshold compares a single record field against a configured bound.
// Stateless, O(1) per record.
type Threshold struct{}

func (Threshold) Class() rules.Class { return rules.ClassThreshold }

func (Threshold) Evaluate(ctx context.Context, rule rules.Rule, records []adapter.EvaluationRecord) ([]RawMatch, error) {
	var matches []RawMatch
	for _, record := range records {
		value, ok := fieldValue(record, rule.Params.Field)
		if !ok {
			continue
		}
		if !compare(value, rule.Params.Operator, rule.Params.Threshold, rule.Params.Epsilon) {
			continue
		}
		matches = append(matches, RawMatch{
			RuleID:   rule.ID,
			RecordID: record.ID,
			EntityID: record.EntityID,
			Table:    record.Table,
			Observed: value,
			Limit:    rule.Params.Threshold,
			Params: map[string]string{
				"field":     rule.Params.Field,
				"operator":  rule.Params.Operator,
				"threshold": rule.Params.Threshold.String(),
			},
			Evidence: []string{
				fmt.Sprintf("record %s: %s = %s, configured limit %s %s",
					record.ID, rule.Params.Field, value.String(), rule.Params.Operator, rule.Params.Threshold.String()),
			},
		})
	}
	return matches, nil
}

func compare(value decimal.Decimal, operator string, bound, epsilon decimal.Decimal) bool {
	switch operator {
	case ">":
		return value.GreaterThan(bound)
	case ">=":
		return value.GreaterThanOrEqual(bound)
	case "==":
		eps := epsilon
		if eps.IsZero() {
			eps = defaultEpsilon
		}
		return value.Sub(bound).Abs().LessThanOrEqual(eps)
	default:
		return false
	}
}
