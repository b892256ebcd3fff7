// Package api exposes the engine over REST for the dashboard and
// reporting collaborators.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/complyscan/complyscan/internal/engine/audit"
	"github.com/complyscan/complyscan/internal/engine/review"
	"github.com/complyscan/complyscan/internal/engine/rules"
	"github.com/complyscan/complyscan/internal/engine/scan"
	"github.com/complyscan/complyscan/internal/engine/violation"
	"github.com/complyscan/complyscan/pkg/errors"
)

// Handler provides the REST endpoints for the compliance engine.
type Handler struct {
	orchestrator *scan.Orchestrator
	violations   violation.Store
	workflow     *review.Workflow
	auditLog     *audit.Log
	logger       *zap.Logger
}

func NewHandler(orchestrator *scan.Orchestrator, violations violation.Store, workflow *review.Workflow, auditLog *audit.Log, logger *zap.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		violations:   violations,
		workflow:     workflow,
		auditLog:     auditLog,
		logger:       logger,
	}
}

// RegisterRoutes registers all engine API routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.GET("/health", h.HealthCheck)
		api.GET("/ready", h.ReadinessCheck)

		api.POST("/scan", h.RunScan)
		api.GET("/scans", h.ScanHistory)

		violations := api.Group("/violations")
		{
			violations.GET("", h.ListViolations)
			violations.GET("/:id", h.GetViolation)
			violations.POST("/:id/review", h.ReviewViolation)
		}

		api.GET("/review/stats", h.ReviewStats)
		api.GET("/audit", h.GetAuditLog)
	}
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().UTC()})
}

func (h *Handler) ReadinessCheck(c *gin.Context) {
	if _, _, err := h.violations.List(c.Request.Context(), violation.Filter{Limit: 1}); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

type runScanRequest struct {
	Tables  []string `json:"tables"`
	RuleIDs []string `json:"rule_ids"`
	Limit   int      `json:"limit"`
	Workers int      `json:"workers"`
}

func (h *Handler) RunScan(c *gin.Context) {
	var req runScanRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.orchestrator.Run(c.Request.Context(), scan.Options{
		Tables:  req.Tables,
		RuleIDs: req.RuleIDs,
		Limit:   req.Limit,
		Workers: req.Workers,
	})
	if err != nil {
		h.logger.Error("scan failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) ScanHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scans": h.orchestrator.History()})
}

func (h *Handler) ListViolations(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	filter := violation.Filter{
		Severity: rules.Severity(c.Query("severity")),
		Status:   violation.Status(c.Query("status")),
		Table:    c.Query("table"),
		RuleID:   c.Query("rule_id"),
		Limit:    limit,
	}

	violations, total, err := h.violations.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list violations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"violations": violations, "total": total})
}

func (h *Handler) GetViolation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid violation id"})
		return
	}

	v, err := h.violations.Get(c.Request.Context(), id)
	if err != nil {
		if errors.IsKind(err, errors.KindNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, v)
}

type reviewRequest struct {
	Decision string `json:"decision" binding:"required"`
	Actor    string `json:"actor" binding:"required"`
	Level    string `json:"level"`
	Comment  string `json:"comment"`
}

func (h *Handler) ReviewViolation(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid violation id"})
		return
	}

	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	newStatus, err := h.workflow.Review(c.Request.Context(), review.Request{
		ViolationID: id,
		Decision:    review.Decision(req.Decision),
		Actor:       req.Actor,
		Level:       review.Level(req.Level),
		Comment:     req.Comment,
	})
	if err != nil {
		switch {
		case errors.IsKind(err, errors.KindNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.IsKind(err, errors.KindInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.logger.Error("review failed", zap.String("violation_id", id.String()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"new_status": newStatus})
}

func (h *Handler) ReviewStats(c *gin.Context) {
	stats, err := h.workflow.Statistics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetAuditLog(c *gin.Context) {
	filter := audit.Filter{
		SubjectID: c.Query("subject_id"),
		Actor:     c.Query("actor"),
		Limit:     200,
	}
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = parsed
	}
	if raw := c.Query("type"); raw != "" {
		filter.Types = []audit.EventType{audit.EventType(raw)}
	}
	if raw := c.Query("from"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from timestamp"})
			return
		}
		filter.From = ts
	}
	if raw := c.Query("to"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to timestamp"})
			return
		}
		filter.To = ts
	}

	events, err := h.auditLog.Query(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
