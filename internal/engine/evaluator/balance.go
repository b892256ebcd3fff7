package evaluator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/complyscan/complyscan/internal/engine/adapter"
	"github.com/complyscan/complyscan/internal/engine/rules"
)

// BuiltinNegativeBalanceRuleID identifies matches from the engine's own
// negative-balance invariant check, which runs on every scan whether or
// not any balance rule is configured.
const BuiltinNegativeBalanceRuleID = "builtin:negative_balance"

// Balance checks ledger consistency: old balance minus amount must equal
// the new balance within epsilon, and a balance drained exactly to zero
// by a significant amount is flagged as a drain indicator.
type Balance struct{}

func (Balance) Class() rules.Class { return rules.ClassBalance }

func (Balance) Evaluate(ctx context.Context, rule rules.Rule, records []adapter.EvaluationRecord) ([]RawMatch, error) {
	epsilon := rule.Params.Epsilon
	if epsilon.IsZero() {
		epsilon = defaultEpsilon
	}

	var matches []RawMatch
	for _, record := range records {
		if !record.HasBalances || !record.HasAmount {
			continue
		}

		expected := record.OldBalance.Sub(record.Amount)
		drift := expected.Sub(record.NewBalance).Abs()
		if drift.GreaterThan(epsilon) {
			matches = append(matches, RawMatch{
				RuleID:   rule.ID,
				RecordID: record.ID,
				EntityID: record.EntityID,
				Table:    record.Table,
				Observed: drift,
				Limit:    epsilon,
				Params: map[string]string{
					"check":       "balance_mismatch",
					"old_balance": record.OldBalance.String(),
					"amount":      record.Amount.String(),
					"new_balance": record.NewBalance.String(),
					"epsilon":     epsilon.String(),
				},
				Evidence: []string{
					fmt.Sprintf("record %s: expected balance %s (old %s - amount %s) but found %s, drift %s",
						record.ID, expected.String(), record.OldBalance.String(),
						record.Amount.String(), record.NewBalance.String(), drift.String()),
				},
			})
			continue
		}

		if record.NewBalance.IsZero() && record.Amount.GreaterThan(rule.Params.MinSignificant) && record.Amount.IsPositive() {
			matches = append(matches, RawMatch{
				RuleID:   rule.ID,
				RecordID: record.ID,
				EntityID: record.EntityID,
				Table:    record.Table,
				Observed: record.Amount,
				Limit:    rule.Params.MinSignificant,
				Params: map[string]string{
					"check":           "account_drain",
					"amount":          record.Amount.String(),
					"min_significant": rule.Params.MinSignificant.String(),
				},
				Evidence: []string{
					fmt.Sprintf("record %s: account drained to zero by a single %s movement",
						record.ID, record.Amount.String()),
				},
			})
		}
	}
	return matches, nil
}

// BuiltinBalanceChecks runs the engine's invariant checks that need no
// configured rule. A negative balance is never policy-compliant, so every
// record with new balance below zero yields exactly one match.
func BuiltinBalanceChecks(records []adapter.EvaluationRecord) []RawMatch {
	var matches []RawMatch
	for _, record := range records {
		if !record.HasBalances || !record.NewBalance.IsNegative() {
			continue
		}
		matches = append(matches, RawMatch{
			RuleID:   BuiltinNegativeBalanceRuleID,
			RecordID: record.ID,
			EntityID: record.EntityID,
			Table:    record.Table,
			Builtin:  true,
			Observed: record.NewBalance,
			Limit:    decimal.Zero,
			Params: map[string]string{
				"check":       "negative_balance",
				"new_balance": record.NewBalance.String(),
			},
			Evidence: []string{
				fmt.Sprintf("record %s: balance went negative (%s)", record.ID, record.NewBalance.String()),
			},
		})
	}
	return matches
}
