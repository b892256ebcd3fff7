package violation

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/complyscan/complyscan/internal/engine/adapter"
	"github.com/complyscan/complyscan/internal/engine/evaluator"
	"github.com/complyscan/complyscan/internal/engine/rules"
)

// BuiltinNegativeBalanceRule backs matches from the engine's own
// negative-balance invariant check. Always critical, never configurable.
var BuiltinNegativeBalanceRule = rules.Rule{
	ID:          evaluator.BuiltinNegativeBalanceRuleID,
	Name:        "Negative Balance Invariant",
	Class:       rules.ClassBalance,
	Description: "An account balance must never go below zero.",
	Severity:    rules.SeverityCritical,
	Active:      true,
	Version:     1,
}

// Confidence scaling: threshold and velocity rules start at the baseline
// and reach the ceiling once the observed value exceeds the limit by
// fullConfidenceOvershoot (a 50% overshoot scores 99).
const (
	confidenceBaseline       = 70
	confidenceCeiling        = 99
	fullConfidenceOvershoot  = 0.5
	structuringConfidence    = 85
	roundAmountConfidence    = 70
	logicViolationConfidence = 99
)

// classMultipliers weight the risk score by rule class, ledger-integrity
// findings weighing heaviest.
var classMultipliers = map[rules.Class]float64{
	rules.ClassThreshold: 1.2,
	rules.ClassPattern:   1.4,
	rules.ClassVelocity:  1.3,
	rules.ClassBalance:   1.5,
}

// categories groups violations for reporting.
var categories = map[rules.Class]string{
	rules.ClassThreshold: "Transaction Monitoring",
	rules.ClassPattern:   "Structuring & Patterns",
	rules.ClassVelocity:  "Velocity & Frequency",
	rules.ClassBalance:   "Ledger Integrity",
}

// Builder converts raw matches into violations. Explanation assembly is
// pure templating over the match, rule, and record; there is no
// generative component, so identical inputs yield identical output.
type Builder struct{}

func NewBuilder() *Builder {
	return &Builder{}
}

// Build materializes a violation from one raw match. The epoch and
// detection time come from the scan context; they never influence the
// explanation text.
func (b *Builder) Build(match evaluator.RawMatch, rule rules.Rule, record adapter.EvaluationRecord, epoch string, detectedAt time.Time) *Violation {
	severity := rule.Severity
	if rule.Class == rules.ClassBalance {
		// Ledger inconsistencies are logic violations, not statistical
		// findings; they are critical regardless of rule configuration.
		severity = rules.SeverityCritical
	}

	confidence := b.confidence(match, rule)
	v := &Violation{
		ID:          uuid.New(),
		RuleID:      match.RuleID,
		RecordID:    match.RecordID,
		EntityID:    match.EntityID,
		Table:       match.Table,
		Severity:    severity,
		Confidence:  confidence,
		RiskScore:   b.riskScore(match, rule, severity),
		Category:    categories[rule.Class],
		Description: b.description(match, rule),
		Explanation: b.explain(match, rule, record),
		Status:      StatusPending,
		History: []Transition{{
			Status:    StatusPending,
			Actor:     "system",
			Timestamp: detectedAt,
		}},
		Epoch:      epoch,
		DetectedAt: detectedAt,
		LastSeen:   detectedAt,
	}
	return v
}

func (b *Builder) confidence(match evaluator.RawMatch, rule rules.Rule) int {
	switch rule.Class {
	case rules.ClassBalance:
		return logicViolationConfidence
	case rules.ClassPattern:
		if match.Params["pattern"] == "structuring" {
			return structuringConfidence
		}
		return roundAmountConfidence
	case rules.ClassThreshold, rules.ClassVelocity:
		return scaledConfidence(match.Observed, match.Limit)
	default:
		return confidenceBaseline
	}
}

// scaledConfidence is monotonically non-decreasing in the distance past
// the limit.
func scaledConfidence(observed, limit decimal.Decimal) int {
	if !limit.IsPositive() {
		return confidenceCeiling
	}
	overshoot, _ := observed.Sub(limit).Div(limit).Float64()
	if overshoot < 0 {
		overshoot = 0
	}
	fraction := overshoot / fullConfidenceOvershoot
	if fraction > 1 {
		fraction = 1
	}
	return confidenceBaseline + int(math.Round(fraction*(confidenceCeiling-confidenceBaseline)))
}

// riskScore follows the severity-weight model: severity weight times a
// class multiplier times a logarithmic count factor, capped at 100.
func (b *Builder) riskScore(match evaluator.RawMatch, rule rules.Rule, severity rules.Severity) float64 {
	multiplier, ok := classMultipliers[rule.Class]
	if !ok {
		multiplier = 1.0
	}
	count := match.WindowCount
	if count < 1 {
		count = 1
	}
	countFactor := 1 + math.Log10(float64(count))*0.1
	score := severity.Weight() * multiplier * countFactor
	if score > 100 {
		score = 100
	}
	return math.Round(score*100) / 100
}

func (b *Builder) description(match evaluator.RawMatch, rule rules.Rule) string {
	switch rule.Class {
	case rules.ClassThreshold:
		return fmt.Sprintf("%s: observed %s against limit %s on record %s",
			rule.Name, match.Observed.String(), match.Limit.String(), match.RecordID)
	case rules.ClassPattern:
		if match.Params["pattern"] == "structuring" {
			return fmt.Sprintf("%s: amount %s kept just below the %s reporting threshold on record %s",
				rule.Name, match.Observed.String(), match.Limit.String(), match.RecordID)
		}
		return fmt.Sprintf("%s: round amount %s on record %s", rule.Name, match.Observed.String(), match.RecordID)
	case rules.ClassVelocity:
		return fmt.Sprintf("%s: entity %s reached %d events in window ending at record %s",
			rule.Name, match.EntityID, match.WindowCount, match.RecordID)
	case rules.ClassBalance:
		return fmt.Sprintf("%s: %s on record %s", rule.Name, match.Params["check"], match.RecordID)
	default:
		return fmt.Sprintf("%s on record %s", rule.Name, match.RecordID)
	}
}

func (b *Builder) explain(match evaluator.RawMatch, rule rules.Rule, record adapter.EvaluationRecord) Explanation {
	dataPoints := []string{
		fmt.Sprintf("record_id=%s", record.ID),
		fmt.Sprintf("entity_id=%s", record.EntityID),
		fmt.Sprintf("table=%s", record.Table),
		fmt.Sprintf("timestamp=%s", record.Timestamp.UTC().Format(time.RFC3339)),
	}
	if record.HasAmount {
		dataPoints = append(dataPoints, fmt.Sprintf("amount=%s", record.Amount.String()))
	}
	if record.HasBalances {
		dataPoints = append(dataPoints,
			fmt.Sprintf("old_balance=%s", record.OldBalance.String()),
			fmt.Sprintf("new_balance=%s", record.NewBalance.String()))
	}

	keys := make([]string, 0, len(match.Params))
	for key := range match.Params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		dataPoints = append(dataPoints, fmt.Sprintf("%s=%s", key, match.Params[key]))
	}

	remediation := remediationSteps(rule.Class, match.Params["check"])
	recommendation := ""
	if len(remediation) > 0 {
		recommendation = remediation[0]
	}

	return Explanation{
		RuleTriggered:  fmt.Sprintf("%s (%s) v%d: %s", rule.Name, rule.ID, rule.Version, rule.Description),
		DataPoints:     dataPoints,
		Reasoning:      reasoning(match, rule),
		Evidence:       append([]string(nil), match.Evidence...),
		Recommendation: recommendation,
		Remediation:    remediation,
	}
}

func reasoning(match evaluator.RawMatch, rule rules.Rule) string {
	switch rule.Class {
	case rules.ClassThreshold:
		return fmt.Sprintf("The record's %s value %s satisfies the rule condition %s %s, so the transaction exceeds the policy limit.",
			match.Params["field"], match.Observed.String(), match.Params["operator"], match.Params["threshold"])
	case rules.ClassPattern:
		if match.Params["pattern"] == "structuring" {
			return fmt.Sprintf("The amount %s sits inside the %s-%s band immediately below the %s reporting threshold, which is the signature of structuring.",
				match.Observed.String(), match.Params["band_low"], match.Params["band_high"], match.Params["reporting_threshold"])
		}
		return fmt.Sprintf("The amount %s is an exact multiple of %s; repeated round amounts are a known laundering indicator.",
			match.Observed.String(), match.Params["round_unit"])
	case rules.ClassVelocity:
		return fmt.Sprintf("Within the %s window the entity accumulated %s events (sum %s), exceeding the configured velocity limit.",
			match.Params["window"], match.Params["window_count"], match.Params["window_sum"])
	case rules.ClassBalance:
		switch match.Params["check"] {
		case "negative_balance":
			return "The resulting balance is below zero. No compliant sequence of transactions can produce a negative balance, so this is a certain ledger violation."
		case "account_drain":
			return "A single movement reduced the account balance exactly to zero, which matches the account-drain indicator."
		default:
			return "The ledger identity old_balance - amount = new_balance does not hold within the configured tolerance."
		}
	default:
		return "The record matched the rule's configured condition."
	}
}

func remediationSteps(class rules.Class, check string) []string {
	switch class {
	case rules.ClassThreshold:
		return []string{
			"Verify the transaction against the customer's expected activity profile",
			"File the applicable regulatory report if the amount is confirmed",
			"Review the account for related transactions in the surrounding period",
		}
	case rules.ClassPattern:
		return []string{
			"Review the entity's recent transactions for further sub-threshold amounts",
			"Aggregate the flagged amounts and compare against the reporting threshold",
			"Escalate to the compliance team if the pattern repeats",
		}
	case rules.ClassVelocity:
		return []string{
			"Review the entity's transaction history over the flagged window",
			"Confirm whether the activity burst matches a legitimate business event",
			"Apply temporary velocity limits to the entity if unexplained",
		}
	case rules.ClassBalance:
		if check == "negative_balance" {
			return []string{
				"Freeze the affected account pending reconciliation",
				"Reconcile the ledger entries that produced the negative balance",
				"Audit the posting pipeline for the defect that allowed the overdraft",
			}
		}
		return []string{
			"Reconcile the account ledger around the flagged record",
			"Verify the posting order and amounts of the surrounding transactions",
			"Escalate to the bookkeeping team if the drift persists",
		}
	default:
		return []string{
			"Review the violation details with the compliance team",
			"Document the finding and create a remediation plan",
		}
	}
}
