// Package violation defines the persistent, reviewable Violation entity
// and the builder that materializes it from raw evaluator matches.
package violation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/complyscan/complyscan/internal/engine/rules"
)

// Status is the review-workflow state of a violation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusEscalated Status = "escalated"
)

// Open reports whether the violation still awaits a final disposition.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusEscalated
}

// Transition is one entry in a violation's status history.
type Transition struct {
	Status    Status    `json:"status"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Comment   string    `json:"comment,omitempty"`
}

// Explanation is the deterministic, fully templated justification for a
// violation. Identical inputs always produce identical explanations.
type Explanation struct {
	RuleTriggered  string   `json:"rule_triggered"`
	DataPoints     []string `json:"data_points"`
	Reasoning      string   `json:"reasoning"`
	Evidence       []string `json:"evidence"`
	Recommendation string   `json:"recommendation"`
	Remediation    []string `json:"remediation"`
}

// Violation is a confirmed rule match under human review. It is never
// deleted, only status-transitioned, so the audit trail stays complete.
type Violation struct {
	ID         uuid.UUID      `json:"id"`
	RuleID     string         `json:"rule_id"`
	RecordID   string         `json:"record_id"`
	EntityID   string         `json:"entity_id"`
	Table      string         `json:"table"`
	Severity   rules.Severity `json:"severity"`
	Confidence int            `json:"confidence"` // 0-100
	RiskScore  float64        `json:"risk_score"` // 0-100
	Category   string         `json:"category"`

	Description string      `json:"description"`
	Explanation Explanation `json:"explanation"`

	Status  Status       `json:"status"`
	History []Transition `json:"history"`

	Epoch          string    `json:"epoch"`
	DetectedAt     time.Time `json:"detected_at"`
	LastSeen       time.Time `json:"last_seen"`
	ReconfirmCount int       `json:"reconfirm_count"`
}

// Filter selects violations for listing.
type Filter struct {
	Severity rules.Severity
	Status   Status
	Table    string
	RuleID   string
	Limit    int
}

// Store persists violations. InsertIfAbsent is the single point that
// upholds the at-most-one-open-violation-per-(rule,record) invariant, so
// it must behave atomically under concurrent partitions.
type Store interface {
	// InsertIfAbsent stores v unless an open violation for the same
	// (rule, record) pair already exists. When one exists, its LastSeen
	// and ReconfirmCount are updated and it is returned with
	// created=false.
	InsertIfAbsent(ctx context.Context, v *Violation) (created bool, existing *Violation, err error)

	Get(ctx context.Context, id uuid.UUID) (*Violation, error)
	Update(ctx context.Context, v *Violation) error
	List(ctx context.Context, filter Filter) ([]*Violation, int, error)
}
