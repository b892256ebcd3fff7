package storage

import (
	"context"

	"gorm.io/gorm"
)

const defaultFetchLimit = 1000

// SQLRecordSource streams raw rows from the configured database, one
// table at a time. It stands in for the external connector collaborator
// when the monitored data lives in a reachable SQL database.
type SQLRecordSource struct {
	db     *gorm.DB
	tables []string
}

func NewSQLRecordSource(db *gorm.DB, tables []string) *SQLRecordSource {
	return &SQLRecordSource{db: db, tables: tables}
}

func (s *SQLRecordSource) Tables(ctx context.Context) ([]string, error) {
	return append([]string(nil), s.tables...), nil
}

func (s *SQLRecordSource) Fetch(ctx context.Context, table string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = defaultFetchLimit
	}
	var rows []map[string]any
	err := s.db.WithContext(ctx).Table(table).Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
