package violation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyscan/complyscan/internal/engine/rules"
	"github.com/complyscan/complyscan/pkg/errors"
)

func pendingViolation(ruleID, recordID string) *Violation {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &Violation{
		ID:         uuid.New(),
		RuleID:     ruleID,
		RecordID:   recordID,
		EntityID:   "acct-1",
		Table:      "transactions",
		Severity:   rules.SeverityHigh,
		Confidence: 90,
		RiskScore:  75,
		Status:     StatusPending,
		History:    []Transition{{Status: StatusPending, Actor: "system", Timestamp: now}},
		DetectedAt: now,
		LastSeen:   now,
	}
}

func TestInsertIfAbsentDeduplicatesOpenPair(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := pendingViolation("r-1", "tx-1")
	created, stored, err := store.InsertIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, first.ID, stored.ID)

	duplicate := pendingViolation("r-1", "tx-1")
	duplicate.LastSeen = first.LastSeen.Add(time.Hour)
	created, existing, err := store.InsertIfAbsent(ctx, duplicate)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, existing.ID)
	assert.Equal(t, 1, existing.ReconfirmCount)
	assert.Equal(t, duplicate.LastSeen, existing.LastSeen)

	_, total, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestInsertIfAbsentAllowsNewAfterClosure(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := pendingViolation("r-1", "tx-1")
	_, _, err := store.InsertIfAbsent(ctx, first)
	require.NoError(t, err)

	closed, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	closed.Status = StatusRejected
	require.NoError(t, store.Update(ctx, closed))

	// The pair is no longer open, so a fresh sighting opens a new case.
	second := pendingViolation("r-1", "tx-1")
	created, stored, err := store.InsertIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, stored.ID)
}

func TestInsertIfAbsentConcurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	createdCount := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, _, err := store.InsertIfAbsent(ctx, pendingViolation("r-1", "tx-1"))
			assert.NoError(t, err)
			createdCount <- created
		}()
	}
	wg.Wait()
	close(createdCount)

	creates := 0
	for created := range createdCount {
		if created {
			creates++
		}
	}
	assert.Equal(t, 1, creates)
}

func TestGetNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestListFiltersAndOrdering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i, risk := range []float64{40, 95, 60} {
		v := pendingViolation("r-1", fmt.Sprintf("tx-%d", i))
		v.RiskScore = risk
		if i == 1 {
			v.Severity = rules.SeverityCritical
		}
		_, _, err := store.InsertIfAbsent(ctx, v)
		require.NoError(t, err)
	}

	all, total, err := store.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, all, 3)
	assert.Equal(t, 95.0, all[0].RiskScore)
	assert.Equal(t, 60.0, all[1].RiskScore)
	assert.Equal(t, 40.0, all[2].RiskScore)

	critical, total, err := store.List(ctx, Filter{Severity: rules.SeverityCritical})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, critical, 1)

	limited, total, err := store.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, limited, 2)
}

func TestStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	v := pendingViolation("r-1", "tx-1")
	_, _, err := store.InsertIfAbsent(ctx, v)
	require.NoError(t, err)

	got, err := store.Get(ctx, v.ID)
	require.NoError(t, err)
	got.Status = StatusApproved
	got.History = append(got.History, Transition{Status: StatusApproved, Actor: "x"})

	again, err := store.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, again.Status)
	assert.Len(t, again.History, 1)
}
