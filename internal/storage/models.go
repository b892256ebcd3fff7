// Package storage provides the database-backed violation and audit
// stores. Models are indexed for the engine's three contract access
// patterns: (rule, record) pair lookup, status, and timestamp range.
package storage

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/complyscan/complyscan/internal/engine/audit"
	"github.com/complyscan/complyscan/internal/engine/rules"
	"github.com/complyscan/complyscan/internal/engine/violation"
)

// ViolationModel is the database row for a violation. Explanation and
// history are stored as JSON text so the model works on both sqlite and
// postgres.
type ViolationModel struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)"`
	RuleID         string    `gorm:"type:varchar(100);index:idx_violations_pair"`
	RecordID       string    `gorm:"type:varchar(255);index:idx_violations_pair"`
	EntityID       string    `gorm:"type:varchar(255);index"`
	TableName_     string    `gorm:"column:table_name;type:varchar(200);index"`
	Severity       string    `gorm:"type:varchar(20);index"`
	Confidence     int       ``
	RiskScore      float64   ``
	Category       string    `gorm:"type:varchar(100)"`
	Description    string    `gorm:"type:text"`
	Explanation    string    `gorm:"type:text"`
	Status         string    `gorm:"type:varchar(20);index"`
	History        string    `gorm:"type:text"`
	Epoch          string    `gorm:"type:varchar(36)"`
	DetectedAt     time.Time `gorm:"index"`
	LastSeen       time.Time ``
	ReconfirmCount int       ``
	CreatedAt      time.Time `gorm:"autoCreateTime"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for ViolationModel
func (ViolationModel) TableName() string {
	return "violations"
}

func toViolationModel(v *violation.Violation) (*ViolationModel, error) {
	explanation, err := json.Marshal(v.Explanation)
	if err != nil {
		return nil, err
	}
	history, err := json.Marshal(v.History)
	if err != nil {
		return nil, err
	}
	return &ViolationModel{
		ID:             v.ID.String(),
		RuleID:         v.RuleID,
		RecordID:       v.RecordID,
		EntityID:       v.EntityID,
		TableName_:     v.Table,
		Severity:       string(v.Severity),
		Confidence:     v.Confidence,
		RiskScore:      v.RiskScore,
		Category:       v.Category,
		Description:    v.Description,
		Explanation:    string(explanation),
		Status:         string(v.Status),
		History:        string(history),
		Epoch:          v.Epoch,
		DetectedAt:     v.DetectedAt,
		LastSeen:       v.LastSeen,
		ReconfirmCount: v.ReconfirmCount,
	}, nil
}

func (m *ViolationModel) toEntity() (*violation.Violation, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	var explanation violation.Explanation
	if m.Explanation != "" {
		if err := json.Unmarshal([]byte(m.Explanation), &explanation); err != nil {
			return nil, err
		}
	}
	var history []violation.Transition
	if m.History != "" {
		if err := json.Unmarshal([]byte(m.History), &history); err != nil {
			return nil, err
		}
	}
	return &violation.Violation{
		ID:             id,
		RuleID:         m.RuleID,
		RecordID:       m.RecordID,
		EntityID:       m.EntityID,
		Table:          m.TableName_,
		Severity:       rules.Severity(m.Severity),
		Confidence:     m.Confidence,
		RiskScore:      m.RiskScore,
		Category:       m.Category,
		Description:    m.Description,
		Explanation:    explanation,
		Status:         violation.Status(m.Status),
		History:        history,
		Epoch:          m.Epoch,
		DetectedAt:     m.DetectedAt,
		LastSeen:       m.LastSeen,
		ReconfirmCount: m.ReconfirmCount,
	}, nil
}

// AuditEventModel is the database row for an audit event. Rows are only
// ever inserted.
type AuditEventModel struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)"`
	Seq       int64     `gorm:"uniqueIndex"`
	Timestamp time.Time `gorm:"index"`
	Actor     string    `gorm:"type:varchar(100);index"`
	EventType string    `gorm:"type:varchar(50);index"`
	SubjectID string    `gorm:"type:varchar(255);index"`
	Payload   string    `gorm:"type:text"`
	Hash      string    `gorm:"type:varchar(64)"`
	PrevHash  string    `gorm:"type:varchar(64)"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for AuditEventModel
func (AuditEventModel) TableName() string {
	return "audit_events"
}

func toAuditModel(event *audit.Event) (*AuditEventModel, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, err
	}
	return &AuditEventModel{
		ID:        event.ID.String(),
		Seq:       event.Seq,
		Timestamp: event.Timestamp,
		Actor:     event.Actor,
		EventType: string(event.Type),
		SubjectID: event.SubjectID,
		Payload:   string(payload),
		Hash:      event.Hash,
		PrevHash:  event.PrevHash,
	}, nil
}

func (m *AuditEventModel) toEntity() (audit.Event, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return audit.Event{}, err
	}
	var payload map[string]any
	if m.Payload != "" && m.Payload != "null" {
		if err := json.Unmarshal([]byte(m.Payload), &payload); err != nil {
			return audit.Event{}, err
		}
	}
	return audit.Event{
		ID:        id,
		Seq:       m.Seq,
		Timestamp: m.Timestamp,
		Actor:     m.Actor,
		Type:      audit.EventType(m.EventType),
		SubjectID: m.SubjectID,
		Payload:   payload,
		Hash:      m.Hash,
		PrevHash:  m.PrevHash,
	}, nil
}
