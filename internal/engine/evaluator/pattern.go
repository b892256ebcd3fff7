package evaluator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/complyscan/complyscan/internal/engine/adapter"
	"github.com/complyscan/complyscan/internal/engine/rules"
)

// Pattern flags structuring (amounts kept just below a reporting
// threshold) and exact round-amount transactions. Per-record and
// stateless; same-entity frequency sub-checks belong to the velocity
// evaluator and are never duplicated here.
type Pattern struct{}

func (Pattern) Class() rules.Class { return rules.ClassPattern }

func (Pattern) Evaluate(ctx context.Context, rule rules.Rule, records []adapter.EvaluationRecord) ([]RawMatch, error) {
	var matches []RawMatch
	for _, record := range records {
		if !record.HasAmount {
			continue
		}
		if match, ok := matchStructuring(rule, record); ok {
			matches = append(matches, match)
			continue
		}
		if match, ok := matchRoundAmount(rule, record); ok {
			matches = append(matches, match)
		}
	}
	return matches, nil
}

func matchStructuring(rule rules.Rule, record adapter.EvaluationRecord) (RawMatch, bool) {
	reporting := rule.Params.ReportingThreshold
	if !reporting.IsPositive() {
		return RawMatch{}, false
	}
	low := reporting.Mul(decimal.NewFromFloat(rule.Params.BandLow))
	high := reporting.Mul(decimal.NewFromFloat(rule.Params.BandHigh))
	if record.Amount.LessThan(low) || record.Amount.GreaterThan(high) {
		return RawMatch{}, false
	}
	return RawMatch{
		RuleID:   rule.ID,
		RecordID: record.ID,
		EntityID: record.EntityID,
		Table:    record.Table,
		Observed: record.Amount,
		Limit:    reporting,
		Params: map[string]string{
			"pattern":             "structuring",
			"reporting_threshold": reporting.String(),
			"band_low":            low.String(),
			"band_high":           high.String(),
		},
		Evidence: []string{
			fmt.Sprintf("record %s: amount %s falls within %s-%s, just below the %s reporting threshold",
				record.ID, record.Amount.String(), low.String(), high.String(), reporting.String()),
		},
	}, true
}

// matchRoundAmount rounds to the currency's minor-unit precision before
// the equality test; this is the one place equality is exact rather than
// epsilon-based.
func matchRoundAmount(rule rules.Rule, record adapter.EvaluationRecord) (RawMatch, bool) {
	unit := rule.Params.RoundUnit
	if !unit.IsPositive() {
		return RawMatch{}, false
	}
	amount := record.Amount.Round(2)
	if amount.LessThan(unit) || !amount.Mod(unit).IsZero() {
		return RawMatch{}, false
	}
	return RawMatch{
		RuleID:   rule.ID,
		RecordID: record.ID,
		EntityID: record.EntityID,
		Table:    record.Table,
		Observed: amount,
		Limit:    unit,
		Params: map[string]string{
			"pattern":    "round_amount",
			"round_unit": unit.String(),
		},
		Evidence: []string{
			fmt.Sprintf("record %s: amount %s is an exact multiple of %s",
				record.ID, amount.String(), unit.String()),
		},
	}, true
}
