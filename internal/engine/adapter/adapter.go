// Package adapter canonicalizes heterogeneous source rows into the
// evaluation record consumed by the condition evaluators. Per-source
// field mappings live in the table schema, never in the evaluators.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/complyscan/complyscan/internal/engine/audit"
	"github.com/complyscan/complyscan/pkg/errors"
)

// Unknown is the sentinel for string fields the source row did not carry.
const Unknown = "unknown"

// TableSchema maps a source table's column names onto the canonical
// record fields. Empty mapping entries mean the table has no such column.
type TableSchema struct {
	Table           string `mapstructure:"table" json:"table"`
	IDField         string `mapstructure:"id_field" json:"id_field"`
	EntityField     string `mapstructure:"entity_field" json:"entity_field"`
	TimestampField  string `mapstructure:"timestamp_field" json:"timestamp_field"`
	AmountField     string `mapstructure:"amount_field" json:"amount_field"`
	OldBalanceField string `mapstructure:"old_balance_field" json:"old_balance_field"`
	NewBalanceField string `mapstructure:"new_balance_field" json:"new_balance_field"`
	TypeField       string `mapstructure:"type_field" json:"type_field"`
}

// EvaluationRecord is the canonical view of one source row. It is
// immutable within a scan.
type EvaluationRecord struct {
	ID          string
	EntityID    string
	Table       string
	Timestamp   time.Time
	Amount      decimal.Decimal
	HasAmount   bool
	OldBalance  decimal.Decimal
	NewBalance  decimal.Decimal
	HasBalances bool
	TxType      string
	Attributes  map[string]string
}

// Adapter converts raw rows into evaluation records. Rows missing the
// mandatory id or timestamp are dropped and logged as skipped_record
// audit events; everything else degrades to sentinels.
type Adapter struct {
	auditLog *audit.Log
	logger   *zap.Logger
}

func New(auditLog *audit.Log, logger *zap.Logger) *Adapter {
	return &Adapter{auditLog: auditLog, logger: logger}
}

// Adapt canonicalizes one raw row. The returned error carries the
// Adapter kind when the row had to be dropped.
func (a *Adapter) Adapt(ctx context.Context, row map[string]any, schema TableSchema) (EvaluationRecord, error) {
	record := EvaluationRecord{
		Table:      schema.Table,
		EntityID:   Unknown,
		TxType:     Unknown,
		Attributes: make(map[string]string),
	}

	record.ID = stringField(row, schema.IDField)
	if record.ID == "" {
		return EvaluationRecord{}, a.skip(ctx, schema.Table, row, "missing record id")
	}

	ts, ok := timeField(row, schema.TimestampField)
	if !ok {
		return EvaluationRecord{}, a.skip(ctx, schema.Table, row, "missing or unparseable timestamp")
	}
	record.Timestamp = ts

	if entity := stringField(row, schema.EntityField); entity != "" {
		record.EntityID = entity
	}
	if txType := stringField(row, schema.TypeField); txType != "" {
		record.TxType = txType
	}

	if amount, ok := decimalField(row, schema.AmountField); ok {
		record.Amount = amount
		record.HasAmount = true
	}

	oldBal, okOld := decimalField(row, schema.OldBalanceField)
	newBal, okNew := decimalField(row, schema.NewBalanceField)
	if okOld && okNew {
		record.OldBalance = oldBal
		record.NewBalance = newBal
		record.HasBalances = true
	}

	mapped := map[string]bool{
		schema.IDField:         true,
		schema.EntityField:     true,
		schema.TimestampField:  true,
		schema.AmountField:     true,
		schema.OldBalanceField: true,
		schema.NewBalanceField: true,
		schema.TypeField:       true,
	}
	for key, value := range row {
		if mapped[key] {
			continue
		}
		record.Attributes[key] = fmt.Sprintf("%v", value)
	}

	return record, nil
}

func (a *Adapter) skip(ctx context.Context, table string, row map[string]any, reason string) error {
	a.logger.Debug("dropping row", zap.String("table", table), zap.String("reason", reason))
	if a.auditLog != nil {
		if _, err := a.auditLog.Record(ctx, audit.ActorSystem, audit.EventSkippedRecord, table, map[string]any{
			"reason": reason,
			"table":  table,
		}); err != nil {
			a.logger.Warn("failed to audit skipped record", zap.Error(err))
		}
	}
	return errors.Adapter("row in %s dropped: %s", table, reason)
}

func stringField(row map[string]any, field string) string {
	if field == "" {
		return ""
	}
	value, ok := row[field]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func timeField(row map[string]any, field string) (time.Time, bool) {
	if field == "" {
		return time.Time{}, false
	}
	value, ok := row[field]
	if !ok || value == nil {
		return time.Time{}, false
	}
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts, true
			}
		}
		return time.Time{}, false
	case int64:
		return time.Unix(v, 0).UTC(), true
	case int:
		return time.Unix(int64(v), 0).UTC(), true
	case float64:
		return time.Unix(int64(v), 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

func decimalField(row map[string]any, field string) (decimal.Decimal, bool) {
	if field == "" {
		return decimal.Decimal{}, false
	}
	value, ok := row[field]
	if !ok || value == nil {
		return decimal.Decimal{}, false
	}
	switch v := value.(type) {
	case decimal.Decimal:
		return v, true
	case float64:
		return decimal.NewFromFloat(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	default:
		return decimal.Decimal{}, false
	}
}
