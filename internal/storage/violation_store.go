package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/complyscan/complyscan/internal/engine/violation"
	"github.com/complyscan/complyscan/pkg/errors"
)

// ViolationStore is the gorm-backed violation store.
type ViolationStore struct {
	db *gorm.DB
}

var _ violation.Store = (*ViolationStore)(nil)

func NewViolationStore(db *gorm.DB) *ViolationStore {
	return &ViolationStore{db: db}
}

// Migrate creates or updates the backing tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&ViolationModel{}, &AuditEventModel{})
}

// InsertIfAbsent inserts v unless an open violation for the same
// (rule, record) pair exists, in which case the existing one is
// reconfirmed. The row lock on the existing pair makes the check-then-act
// atomic under concurrent partitions.
func (s *ViolationStore) InsertIfAbsent(ctx context.Context, v *violation.Violation) (bool, *violation.Violation, error) {
	var (
		created bool
		out     *violation.Violation
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ViolationModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("rule_id = ? AND record_id = ? AND status IN ?",
				v.RuleID, v.RecordID, []string{string(violation.StatusPending), string(violation.StatusEscalated)}).
			First(&existing).Error

		switch {
		case err == nil:
			existing.LastSeen = v.LastSeen
			existing.ReconfirmCount++
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
			entity, err := existing.toEntity()
			if err != nil {
				return err
			}
			out = entity
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			model, err := toViolationModel(v)
			if err != nil {
				return err
			}
			if err := tx.Create(model).Error; err != nil {
				return err
			}
			created = true
			out = v
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return false, nil, fmt.Errorf("insert violation: %w", err)
	}
	return created, out, nil
}

func (s *ViolationStore) Get(ctx context.Context, id uuid.UUID) (*violation.Violation, error) {
	var model ViolationModel
	err := s.db.WithContext(ctx).Where("id = ?", id.String()).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFound("violation %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return model.toEntity()
}

func (s *ViolationStore) Update(ctx context.Context, v *violation.Violation) error {
	model, err := toViolationModel(v)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&ViolationModel{}).
		Where("id = ?", model.ID).
		Updates(map[string]any{
			"status":          model.Status,
			"history":         model.History,
			"last_seen":       model.LastSeen,
			"reconfirm_count": model.ReconfirmCount,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.NotFound("violation %s not found", v.ID)
	}
	return nil
}

func (s *ViolationStore) List(ctx context.Context, filter violation.Filter) ([]*violation.Violation, int, error) {
	query := s.db.WithContext(ctx).Model(&ViolationModel{})
	if filter.Severity != "" {
		query = query.Where("severity = ?", string(filter.Severity))
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.Table != "" {
		query = query.Where("table_name = ?", filter.Table)
	}
	if filter.RuleID != "" {
		query = query.Where("rule_id = ?", filter.RuleID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.Order("risk_score DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var models []ViolationModel
	if err := query.Find(&models).Error; err != nil {
		return nil, 0, err
	}

	out := make([]*violation.Violation, 0, len(models))
	for i := range models {
		entity, err := models[i].toEntity()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, entity)
	}
	return out, int(total), nil
}
