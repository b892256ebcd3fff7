// Package evaluator implements the per-class condition evaluators and
// the registry that dispatches rules to them. Evaluators are stateless
// between calls; everything they need arrives as arguments.
package evaluator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/complyscan/complyscan/internal/engine/adapter"
	"github.com/complyscan/complyscan/internal/engine/rules"
)

// RawMatch is the transient output of one evaluator firing on one
// record. The violation builder consumes it immediately.
type RawMatch struct {
	RuleID   string
	RecordID string
	EntityID string
	Table    string

	// Builtin marks the engine's own invariant checks (negative balance),
	// which fire independently of any configured rule.
	Builtin bool

	// Observed and Limit hold the value that triggered the match and the
	// configured bound, used for confidence scaling.
	Observed decimal.Decimal
	Limit    decimal.Decimal

	// WindowCount is set by velocity matches.
	WindowCount int

	// Params records the matched parameter values for the explanation.
	Params map[string]string

	// Evidence holds human-readable evidence fragments.
	Evidence []string
}

// Evaluator evaluates one rule class against a batch of records.
type Evaluator interface {
	Class() rules.Class
	Evaluate(ctx context.Context, rule rules.Rule, records []adapter.EvaluationRecord) ([]RawMatch, error)
}

// Registry dispatches rules to their class evaluator. Tagged-variant
// dispatch keeps the evaluators independently testable.
type Registry struct {
	evaluators map[rules.Class]Evaluator
}

// NewRegistry returns a registry wired with the four built-in evaluators.
func NewRegistry() *Registry {
	r := &Registry{evaluators: make(map[rules.Class]Evaluator)}
	r.Register(&Threshold{})
	r.Register(&Pattern{})
	r.Register(&Velocity{})
	r.Register(&Balance{})
	return r
}

func (r *Registry) Register(e Evaluator) {
	r.evaluators[e.Class()] = e
}

// Evaluate runs the rule's class evaluator over the records.
func (r *Registry) Evaluate(ctx context.Context, rule rules.Rule, records []adapter.EvaluationRecord) ([]RawMatch, error) {
	e, ok := r.evaluators[rule.Class]
	if !ok {
		return nil, fmt.Errorf("no evaluator registered for class %q", rule.Class)
	}
	return e.Evaluate(ctx, rule, records)
}

// fieldValue resolves a rule's field reference against a record. "amount"
// resolves to the canonical amount; anything else falls back to the
// attribute map.
func fieldValue(record adapter.EvaluationRecord, field string) (decimal.Decimal, bool) {
	switch field {
	case "amount", "":
		if record.HasAmount {
			return record.Amount, true
		}
		return decimal.Decimal{}, false
	case "old_balance":
		if record.HasBalances {
			return record.OldBalance, true
		}
		return decimal.Decimal{}, false
	case "new_balance":
		if record.HasBalances {
			return record.NewBalance, true
		}
		return decimal.Decimal{}, false
	default:
		raw, ok := record.Attributes[field]
		if !ok {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	}
}
