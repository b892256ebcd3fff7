// Package rules defines the normalized compliance rule model consumed by
// the evaluation engine. Rules are produced by the rule-extraction
// collaborator; the engine only ever reads them.
package rules

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/complyscan/complyscan/pkg/errors"
)

// Class identifies the evaluator a rule dispatches to.
type Class string

const (
	ClassThreshold Class = "threshold"
	ClassPattern   Class = "pattern"
	ClassVelocity  Class = "velocity"
	ClassBalance   Class = "balance"
)

// Severity levels, ordered low to critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight returns the numeric scoring weight for a severity.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 100
	case SeverityHigh:
		return 75
	case SeverityMedium:
		return 50
	case SeverityLow:
		return 25
	default:
		return 50
	}
}

// Valid reports whether the severity is one of the known levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Params carries the class-specific rule parameters. Only the fields
// relevant to the rule's class are consulted.
type Params struct {
	// Threshold rules
	Field     string          `json:"field,omitempty"`
	Operator  string          `json:"operator,omitempty"` // ">", ">=", "=="
	Threshold decimal.Decimal `json:"threshold,omitempty"`

	// Pattern (structuring / round-number) rules
	ReportingThreshold decimal.Decimal `json:"reporting_threshold,omitempty"`
	BandLow            float64         `json:"band_low,omitempty"`  // fraction of reporting threshold
	BandHigh           float64         `json:"band_high,omitempty"` // fraction of reporting threshold
	RoundUnit          decimal.Decimal `json:"round_unit,omitempty"`

	// Velocity rules
	Window   time.Duration   `json:"window,omitempty"`
	MaxCount int             `json:"max_count,omitempty"`
	MaxSum   decimal.Decimal `json:"max_sum,omitempty"`

	// Balance-consistency rules
	Epsilon        decimal.Decimal `json:"epsilon,omitempty"`
	MinSignificant decimal.Decimal `json:"min_significant,omitempty"`
}

// Rule is a normalized compliance rule. Rules are immutable once
// published; a new version supersedes rather than mutates the old.
type Rule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Class       Class     `json:"class"`
	Table       string    `json:"table"` // entity/table scope, empty means all tables
	Description string    `json:"description"`
	Params      Params    `json:"params"`
	Severity    Severity  `json:"severity"`
	Active      bool      `json:"active"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks that the rule's parameters are structurally consistent
// with its class. A failing rule is excluded from the active set for the
// scan; validation never aborts the batch.
func (r Rule) Validate() error {
	if r.ID == "" {
		return errors.InvalidRule("rule has no id")
	}
	if !r.Severity.Valid() {
		return errors.InvalidRule("rule %s: unknown severity %q", r.ID, r.Severity)
	}

	switch r.Class {
	case ClassThreshold:
		if r.Params.Field == "" {
			return errors.InvalidRule("rule %s: threshold rule missing field", r.ID)
		}
		switch r.Params.Operator {
		case ">", ">=", "==":
		default:
			return errors.InvalidRule("rule %s: threshold rule has unsupported operator %q", r.ID, r.Params.Operator)
		}
		if r.Params.Threshold.IsZero() && r.Params.Operator != "==" {
			return errors.InvalidRule("rule %s: threshold rule missing threshold value", r.ID)
		}
	case ClassPattern:
		hasBand := r.Params.ReportingThreshold.IsPositive()
		hasRound := r.Params.RoundUnit.IsPositive()
		if !hasBand && !hasRound {
			return errors.InvalidRule("rule %s: pattern rule needs a reporting threshold band or a round unit", r.ID)
		}
		if hasBand {
			if r.Params.BandLow <= 0 || r.Params.BandHigh <= r.Params.BandLow || r.Params.BandHigh > 1 {
				return errors.InvalidRule("rule %s: pattern rule band [%v, %v] is not a valid fraction range", r.ID, r.Params.BandLow, r.Params.BandHigh)
			}
		}
	case ClassVelocity:
		if r.Params.Window <= 0 {
			return errors.InvalidRule("rule %s: velocity rule missing time window", r.ID)
		}
		if r.Params.MaxCount <= 0 && !r.Params.MaxSum.IsPositive() {
			return errors.InvalidRule("rule %s: velocity rule needs a count or sum limit", r.ID)
		}
	case ClassBalance:
		if r.Params.Epsilon.IsNegative() {
			return errors.InvalidRule("rule %s: balance rule epsilon must not be negative", r.ID)
		}
	default:
		return errors.InvalidRule("rule %s: unknown class %q", r.ID, r.Class)
	}

	return nil
}
