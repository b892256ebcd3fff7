package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/complyscan/complyscan/internal/engine/adapter"
	"github.com/complyscan/complyscan/internal/engine/audit"
	"github.com/complyscan/complyscan/internal/engine/evaluator"
	"github.com/complyscan/complyscan/internal/engine/review"
	"github.com/complyscan/complyscan/internal/engine/rules"
	"github.com/complyscan/complyscan/internal/engine/scan"
	"github.com/complyscan/complyscan/internal/engine/violation"
)

type memorySource map[string][]map[string]any

func (s memorySource) Tables(ctx context.Context) ([]string, error) {
	tables := make([]string, 0, len(s))
	for table := range s {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	return tables, nil
}

func (s memorySource) Fetch(ctx context.Context, table string, limit int) ([]map[string]any, error) {
	return s[table], nil
}

type testEnv struct {
	router     *gin.Engine
	violations *violation.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	auditLog := audit.NewLog(audit.NewMemoryStore(), zap.NewNop())
	violations := violation.NewMemoryStore()

	ruleSet := []rules.Rule{{
		ID:       "r-threshold",
		Name:     "Large Transaction",
		Class:    rules.ClassThreshold,
		Severity: rules.SeverityHigh,
		Active:   true,
		Version:  1,
		Params: rules.Params{
			Field:     "amount",
			Operator:  ">",
			Threshold: decimal.NewFromInt(10000),
		},
	}}

	source := memorySource{"transactions": {
		{
			"tx_id":      "tx-1",
			"account_id": "acct-1",
			"created_at": "2026-03-01T12:00:00Z",
			"amount":     15450.0,
		},
	}}

	orchestrator := scan.NewOrchestrator(scan.Config{
		Loader: rules.NewLoader(rules.StaticSource(ruleSet), zap.NewNop()),
		Source: source,
		Schemas: map[string]adapter.TableSchema{
			"transactions": {
				Table:          "transactions",
				IDField:        "tx_id",
				EntityField:    "account_id",
				TimestampField: "created_at",
				AmountField:    "amount",
			},
		},
		Adapter:  adapter.New(auditLog, zap.NewNop()),
		Registry: evaluator.NewRegistry(),
		Builder:  violation.NewBuilder(),
		Store:    violations,
		AuditLog: auditLog,
		Logger:   zap.NewNop(),
	})

	workflow := review.NewWorkflow(violations, auditLog, nil, zap.NewNop())

	router := gin.New()
	NewHandler(orchestrator, violations, workflow, auditLog, zap.NewNop()).RegisterRoutes(router)

	return &testEnv{router: router, violations: violations}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) runScan(t *testing.T) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/scan", map[string]any{})
	require.Equal(t, http.StatusOK, w.Code)
}

func (e *testEnv) firstViolationID(t *testing.T) uuid.UUID {
	t.Helper()
	all, _, err := e.violations.List(context.Background(), violation.Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, all)
	return all[0].ID
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestScanEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/scan", map[string]any{})
	require.Equal(t, http.StatusOK, w.Code)

	var result scan.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.ViolationsFound)
	assert.NotEmpty(t, result.ScanID)

	w = env.do(t, http.MethodGet, "/api/v1/scans", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Scans []scan.Result `json:"scans"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	assert.Len(t, history.Scans, 1)
}

func TestListAndGetViolations(t *testing.T) {
	env := newTestEnv(t)
	env.runScan(t)

	w := env.do(t, http.MethodGet, "/api/v1/violations?severity=high", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Violations []violation.Violation `json:"violations"`
		Total      int                   `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Equal(t, 1, listing.Total)
	require.Len(t, listing.Violations, 1)

	w = env.do(t, http.MethodGet, "/api/v1/violations?severity=critical", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.Equal(t, 0, listing.Total)

	id := env.firstViolationID(t)
	w = env.do(t, http.MethodGet, "/api/v1/violations/"+id.String(), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/violations/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/violations/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReviewEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.runScan(t)
	id := env.firstViolationID(t)
	path := fmt.Sprintf("/api/v1/violations/%s/review", id)

	w := env.do(t, http.MethodPost, path, map[string]any{
		"decision": "approve",
		"actor":    "admin",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		NewStatus string `json:"new_status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "approved", resp.NewStatus)

	// Deciding an already-approved violation conflicts.
	w = env.do(t, http.MethodPost, path, map[string]any{
		"decision": "reject",
		"actor":    "admin",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	// Missing actor fails request binding.
	w = env.do(t, http.MethodPost, path, map[string]any{"decision": "approve"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/violations/%s/review", uuid.NewString()), map[string]any{
		"decision": "approve",
		"actor":    "admin",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReviewStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.runScan(t)
	id := env.firstViolationID(t)

	w := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/violations/%s/review", id), map[string]any{
		"decision": "approve",
		"actor":    "admin",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/review/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats review.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Approved)
}

func TestAuditEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.runScan(t)

	w := env.do(t, http.MethodGet, "/api/v1/audit?type=violation_detected", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Events []audit.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 1)
	assert.Equal(t, audit.EventViolationDetected, resp.Events[0].Type)

	w = env.do(t, http.MethodGet, "/api/v1/audit?from=garbage", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
