// Package review implements the human-disposition state machine for
// violations. Every transition carries an actor, is serialized per
// violation, and emits exactly one audit event.
package review

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/complyscan/complyscan/internal/engine/audit"
	"github.com/complyscan/complyscan/internal/engine/rules"
	"github.com/complyscan/complyscan/internal/engine/violation"
	"github.com/complyscan/complyscan/pkg/errors"
	"github.com/complyscan/complyscan/pkg/metrics"
)

// Decision is a reviewer's disposition of a violation.
type Decision string

const (
	DecisionApprove  Decision = "approve"
	DecisionReject   Decision = "reject"
	DecisionEscalate Decision = "escalate"
)

// Level is a reviewer's authority level. Higher levels may decide
// anything a lower level may.
type Level string

const (
	LevelDataSteward       Level = "l1_data_steward"
	LevelComplianceTeam    Level = "l2_compliance_team"
	LevelComplianceOfficer Level = "l3_compliance_officer"
	LevelExecutive         Level = "l4_executive"
)

var levelRank = map[Level]int{
	LevelDataSteward:       1,
	LevelComplianceTeam:    2,
	LevelComplianceOfficer: 3,
	LevelExecutive:         4,
}

// requiredLevel is the minimum authority needed to approve or reject a
// violation of the given severity. Escalation is open to any level.
var requiredLevel = map[rules.Severity]Level{
	rules.SeverityLow:      LevelDataSteward,
	rules.SeverityMedium:   LevelDataSteward,
	rules.SeverityHigh:     LevelComplianceTeam,
	rules.SeverityCritical: LevelComplianceOfficer,
}

// Request is one review action against a violation. Level is optional;
// when empty the caller is trusted to have performed its own authority
// check (collaborators that do not model reviewer levels).
type Request struct {
	ViolationID uuid.UUID
	Decision    Decision
	Actor       string
	Level       Level
	Comment     string
}

// Workflow applies review decisions. Transitions are atomic: the status,
// history, and audit emission land together or not at all.
type Workflow struct {
	store   violation.Store
	audit   *audit.Log
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewWorkflow(store violation.Store, auditLog *audit.Log, m *metrics.Metrics, logger *zap.Logger) *Workflow {
	if m == nil {
		m = metrics.NewNop()
	}
	return &Workflow{
		store:   store,
		audit:   auditLog,
		metrics: m,
		logger:  logger,
		locks:   make(map[uuid.UUID]*sync.Mutex),
	}
}

// Review applies one decision and returns the violation's new status.
func (w *Workflow) Review(ctx context.Context, req Request) (violation.Status, error) {
	if req.Actor == "" {
		return "", errors.InvalidTransition("review requires an actor identity")
	}

	lock := w.violationLock(req.ViolationID)
	lock.Lock()
	defer lock.Unlock()

	current, err := w.store.Get(ctx, req.ViolationID)
	if err != nil {
		return "", err
	}

	next, err := nextStatus(current.Status, req.Decision)
	if err != nil {
		return "", err
	}

	if err := w.checkAuthority(current.Severity, req); err != nil {
		return "", err
	}

	prior := *current
	now := time.Now().UTC()
	current.Status = next
	current.History = append(current.History, violation.Transition{
		Status:    next,
		Actor:     req.Actor,
		Timestamp: now,
		Comment:   req.Comment,
	})

	if err := w.store.Update(ctx, current); err != nil {
		return "", err
	}

	if _, err := w.audit.Record(ctx, req.Actor, audit.EventReviewTransition, current.ID.String(), map[string]any{
		"decision": string(req.Decision),
		"from":     string(prior.Status),
		"to":       string(next),
		"level":    string(req.Level),
		"comment":  req.Comment,
	}); err != nil {
		// Roll the store back so the transition is all-or-nothing.
		if restoreErr := w.store.Update(ctx, &prior); restoreErr != nil {
			w.logger.Error("failed to restore violation after audit failure",
				zap.String("violation_id", current.ID.String()),
				zap.Error(restoreErr))
		}
		return "", err
	}

	w.metrics.ReviewTransitions.WithLabelValues(string(req.Decision)).Inc()
	w.logger.Info("violation reviewed",
		zap.String("violation_id", current.ID.String()),
		zap.String("decision", string(req.Decision)),
		zap.String("actor", req.Actor),
		zap.String("status", string(next)))

	return next, nil
}

// nextStatus validates the transition. Only pending and escalated
// violations accept decisions; approved and rejected are terminal.
func nextStatus(current violation.Status, decision Decision) (violation.Status, error) {
	if !current.Open() {
		return "", errors.InvalidTransition("violation is already %s and cannot be transitioned", current)
	}

	switch decision {
	case DecisionApprove:
		return violation.StatusApproved, nil
	case DecisionReject:
		return violation.StatusRejected, nil
	case DecisionEscalate:
		if current == violation.StatusEscalated {
			return "", errors.InvalidTransition("violation is already escalated")
		}
		return violation.StatusEscalated, nil
	default:
		return "", errors.InvalidTransition("unknown decision %q", decision)
	}
}

func (w *Workflow) checkAuthority(severity rules.Severity, req Request) error {
	if req.Level == "" || req.Decision == DecisionEscalate {
		return nil
	}
	rank, ok := levelRank[req.Level]
	if !ok {
		return errors.InvalidTransition("unknown reviewer level %q", req.Level)
	}
	if need := levelRank[requiredLevel[severity]]; rank < need {
		return errors.InvalidTransition("level %s may not decide %s violations", req.Level, severity)
	}
	return nil
}

func (w *Workflow) violationLock(id uuid.UUID) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	lock, ok := w.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		w.locks[id] = lock
	}
	return lock
}

// Stats summarizes review activity for reporting.
type Stats struct {
	Total        int     `json:"total"`
	Pending      int     `json:"pending"`
	Approved     int     `json:"approved"`
	Rejected     int     `json:"rejected"`
	Escalated    int     `json:"escalated"`
	ApprovalRate float64 `json:"approval_rate"`
}

// Statistics computes disposition counts over the store.
func (w *Workflow) Statistics(ctx context.Context) (Stats, error) {
	all, total, err := w.store.List(ctx, violation.Filter{})
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{Total: total}
	for _, v := range all {
		switch v.Status {
		case violation.StatusPending:
			stats.Pending++
		case violation.StatusApproved:
			stats.Approved++
		case violation.StatusRejected:
			stats.Rejected++
		case violation.StatusEscalated:
			stats.Escalated++
		}
	}
	if decided := stats.Approved + stats.Rejected; decided > 0 {
		stats.ApprovalRate = float64(stats.Approved) / float64(decided) * 100
	}
	return stats, nil
}
