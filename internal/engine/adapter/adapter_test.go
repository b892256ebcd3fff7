package adapter

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/complyscan/complyscan/internal/engine/audit"
	"github.com/complyscan/complyscan/pkg/errors"
)

var testSchema = TableSchema{
	Table:           "transactions",
	IDField:         "tx_id",
	EntityField:     "account_id",
	TimestampField:  "created_at",
	AmountField:     "amount",
	OldBalanceField: "balance_before",
	NewBalanceField: "balance_after",
	TypeField:       "tx_type",
}

func newTestAdapter(t *testing.T) (*Adapter, *audit.MemoryStore) {
	t.Helper()
	store := audit.NewMemoryStore()
	return New(audit.NewLog(store, zap.NewNop()), zap.NewNop()), store
}

func TestAdaptFullRow(t *testing.T) {
	a, _ := newTestAdapter(t)

	record, err := a.Adapt(context.Background(), map[string]any{
		"tx_id":          "tx-1",
		"account_id":     "acct-9",
		"created_at":     "2026-03-01T12:00:00Z",
		"amount":         1500.25,
		"balance_before": "5000",
		"balance_after":  "3499.75",
		"tx_type":        "withdrawal",
		"channel":        "mobile",
	}, testSchema)

	require.NoError(t, err)
	assert.Equal(t, "tx-1", record.ID)
	assert.Equal(t, "acct-9", record.EntityID)
	assert.Equal(t, "transactions", record.Table)
	assert.Equal(t, "withdrawal", record.TxType)
	assert.True(t, record.HasAmount)
	assert.True(t, record.Amount.Equal(decimal.NewFromFloat(1500.25)))
	assert.True(t, record.HasBalances)
	assert.True(t, record.OldBalance.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, "mobile", record.Attributes["channel"])
}

func TestAdaptDropsRowWithoutID(t *testing.T) {
	a, store := newTestAdapter(t)

	_, err := a.Adapt(context.Background(), map[string]any{
		"created_at": "2026-03-01T12:00:00Z",
		"amount":     100,
	}, testSchema)

	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindAdapter))

	events, err := store.Query(context.Background(), audit.Filter{
		Types: []audit.EventType{audit.EventSkippedRecord},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "transactions", events[0].SubjectID)
}

func TestAdaptDropsRowWithBadTimestamp(t *testing.T) {
	a, store := newTestAdapter(t)

	_, err := a.Adapt(context.Background(), map[string]any{
		"tx_id":      "tx-2",
		"created_at": "yesterday-ish",
	}, testSchema)

	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindAdapter))

	events, _ := store.Query(context.Background(), audit.Filter{})
	assert.Len(t, events, 1)
}

func TestAdaptSentinelsForMissingOptionalFields(t *testing.T) {
	a, store := newTestAdapter(t)

	record, err := a.Adapt(context.Background(), map[string]any{
		"tx_id":      "tx-3",
		"created_at": int64(1767225600),
	}, testSchema)

	require.NoError(t, err)
	assert.Equal(t, Unknown, record.EntityID)
	assert.Equal(t, Unknown, record.TxType)
	assert.False(t, record.HasAmount)
	assert.False(t, record.HasBalances)

	// Degrading to sentinels is not a skip.
	events, _ := store.Query(context.Background(), audit.Filter{})
	assert.Empty(t, events)
}

func TestAdaptRequiresBothBalanceColumns(t *testing.T) {
	a, _ := newTestAdapter(t)

	record, err := a.Adapt(context.Background(), map[string]any{
		"tx_id":          "tx-4",
		"created_at":     "2026-03-01T12:00:00Z",
		"balance_before": 100.0,
	}, testSchema)

	require.NoError(t, err)
	assert.False(t, record.HasBalances)
}

func TestTimeFieldFormats(t *testing.T) {
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value any
	}{
		{"rfc3339", "2026-03-01T12:00:00Z"},
		{"sql datetime", "2026-03-01 12:00:00"},
		{"unix int64", want.Unix()},
		{"unix float", float64(want.Unix())},
		{"native time", want},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, ok := timeField(map[string]any{"ts": tt.value}, "ts")
			require.True(t, ok)
			assert.True(t, ts.Equal(want))
		})
	}
}

func TestDecimalFieldParsing(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
		ok    bool
	}{
		{"string", "1234.56", "1234.56", true},
		{"float", 99.5, "99.5", true},
		{"int", 42, "42", true},
		{"garbage", "not-a-number", "", false},
		{"nil", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ok := decimalField(map[string]any{"v": tt.value}, "v")
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, d.String())
			}
		})
	}
}
