package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyscan/complyscan/internal/engine/adapter"
	"github.com/complyscan/complyscan/internal/engine/rules"
)

func amountRecord(id, entity string, amount float64) adapter.EvaluationRecord {
	return adapter.EvaluationRecord{
		ID:        id,
		EntityID:  entity,
		Table:     "transactions",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Amount:    decimal.NewFromFloat(amount),
		HasAmount: true,
	}
}

func thresholdRule(operator string, bound float64) rules.Rule {
	return rules.Rule{
		ID:       "r-threshold",
		Name:     "Large Transaction",
		Class:    rules.ClassThreshold,
		Severity: rules.SeverityHigh,
		Active:   true,
		Params: rules.Params{
			Field:     "amount",
			Operator:  operator,
			Threshold: decimal.NewFromFloat(bound),
		},
	}
}

func TestThresholdOperators(t *testing.T) {
	tests := []struct {
		name     string
		operator string
		bound    float64
		amount   float64
		want     bool
	}{
		{"gt above", ">", 10000, 15450, true},
		{"gt equal", ">", 10000, 10000, false},
		{"gt below", ">", 10000, 9999.99, false},
		{"gte equal", ">=", 10000, 10000, true},
		{"gte below", ">=", 10000, 9999.99, false},
		{"eq exact", "==", 500, 500, true},
		{"eq within default epsilon", "==", 500, 500.005, true},
		{"eq outside default epsilon", "==", 500, 500.02, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := thresholdRule(tt.operator, tt.bound)
			matches, err := Threshold{}.Evaluate(context.Background(), rule,
				[]adapter.EvaluationRecord{amountRecord("tx-1", "acct-1", tt.amount)})
			require.NoError(t, err)
			if tt.want {
				require.Len(t, matches, 1)
				assert.Equal(t, "tx-1", matches[0].RecordID)
				assert.Equal(t, "r-threshold", matches[0].RuleID)
			} else {
				assert.Empty(t, matches)
			}
		})
	}
}

func TestThresholdConfiguredEpsilon(t *testing.T) {
	rule := thresholdRule("==", 500)
	rule.Params.Epsilon = decimal.NewFromFloat(0.5)

	matches, err := Threshold{}.Evaluate(context.Background(), rule,
		[]adapter.EvaluationRecord{amountRecord("tx-1", "acct-1", 500.4)})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestThresholdSkipsRecordsWithoutField(t *testing.T) {
	record := adapter.EvaluationRecord{
		ID:        "tx-1",
		EntityID:  "acct-1",
		Timestamp: time.Now(),
	}
	matches, err := Threshold{}.Evaluate(context.Background(), thresholdRule(">", 100),
		[]adapter.EvaluationRecord{record})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestThresholdAttributeField(t *testing.T) {
	record := amountRecord("tx-1", "acct-1", 10)
	record.Attributes = map[string]string{"fee": "250"}

	rule := thresholdRule(">", 100)
	rule.Params.Field = "fee"

	matches, err := Threshold{}.Evaluate(context.Background(), rule,
		[]adapter.EvaluationRecord{record})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.True(t, matches[0].Observed.Equal(decimal.NewFromInt(250)))
}
