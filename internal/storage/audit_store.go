package storage

import (
	"context"

	"gorm.io/gorm"

	"github.com/complyscan/complyscan/internal/engine/audit"
	"github.com/complyscan/complyscan/pkg/errors"
)

// AuditStore is the gorm-backed append-only audit event store.
type AuditStore struct {
	db *gorm.DB
}

var _ audit.Store = (*AuditStore)(nil)

func NewAuditStore(db *gorm.DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) Append(ctx context.Context, event *audit.Event) error {
	model, err := toAuditModel(event)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *AuditStore) Last(ctx context.Context) (*audit.Event, error) {
	var model AuditEventModel
	err := s.db.WithContext(ctx).Order("seq DESC").First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	event, err := model.toEntity()
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (s *AuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	query := s.db.WithContext(ctx).Model(&AuditEventModel{}).Order("seq ASC")
	if !filter.From.IsZero() {
		query = query.Where("timestamp >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("timestamp <= ?", filter.To)
	}
	if filter.SubjectID != "" {
		query = query.Where("subject_id = ?", filter.SubjectID)
	}
	if filter.Actor != "" {
		query = query.Where("actor = ?", filter.Actor)
	}
	if len(filter.Types) > 0 {
		types := make([]string, 0, len(filter.Types))
		for _, t := range filter.Types {
			types = append(types, string(t))
		}
		query = query.Where("event_type IN ?", types)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var models []AuditEventModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]audit.Event, 0, len(models))
	for i := range models {
		event, err := models[i].toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, nil
}
