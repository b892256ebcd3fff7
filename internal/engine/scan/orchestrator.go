// Package scan orchestrates rule evaluation over data partitions and
// materializes violations. A scan fans out one unit of work per table
// partition; an entity's timeline never spans two concurrent units, so
// sliding-window evaluation stays correct.
package scan

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/complyscan/complyscan/internal/engine/adapter"
	"github.com/complyscan/complyscan/internal/engine/audit"
	"github.com/complyscan/complyscan/internal/engine/evaluator"
	"github.com/complyscan/complyscan/internal/engine/rules"
	"github.com/complyscan/complyscan/internal/engine/violation"
	"github.com/complyscan/complyscan/pkg/errors"
	"github.com/complyscan/complyscan/pkg/metrics"
)

// RecordSource streams raw rows from the database connector collaborator.
type RecordSource interface {
	Tables(ctx context.Context) ([]string, error)
	Fetch(ctx context.Context, table string, limit int) ([]map[string]any, error)
}

// Claimer lets concurrent engine replicas claim a (rule, record) pair
// before materializing a violation. The violation store remains the
// authority; the claimer only short-circuits duplicate builds.
type Claimer interface {
	Claim(ctx context.Context, key string) (bool, error)
}

// Options selects what a scan covers.
type Options struct {
	Tables  []string
	RuleIDs []string
	Limit   int // max rows fetched per table, 0 means source default
	Workers int
}

// Context is the explicit per-scan state passed to every evaluation; the
// engine keeps no ambient scan globals.
type Context struct {
	ScanID    string
	Epoch     string
	StartedAt time.Time
}

// Result is the scan summary returned to the caller and kept in history.
type Result struct {
	ScanID           string                 `json:"scan_id"`
	StartedAt        time.Time              `json:"started_at"`
	CompletedAt      time.Time              `json:"completed_at"`
	TablesScanned    []string               `json:"tables_scanned"`
	RulesChecked     int                    `json:"rules_checked"`
	RulesExcluded    int                    `json:"rules_excluded"`
	RecordsEvaluated int                    `json:"records_evaluated"`
	SkippedRecords   int                    `json:"skipped_records"`
	MatchesFound     int                    `json:"matches_found"`
	ViolationsFound  int                    `json:"violations_found"`
	Reconfirmed      int                    `json:"reconfirmed"`
	BySeverity       map[string]int         `json:"by_severity"`
	Errors           []string               `json:"errors,omitempty"`
	Violations       []*violation.Violation `json:"violations,omitempty"`
}

// Orchestrator runs scans.
type Orchestrator struct {
	loader       *rules.Loader
	source       RecordSource
	schemas      map[string]adapter.TableSchema
	adapter      *adapter.Adapter
	registry     *evaluator.Registry
	builder      *violation.Builder
	store        violation.Store
	auditLog     *audit.Log
	claimer      Claimer
	metrics      *metrics.Metrics
	logger       *zap.Logger
	fetchTimeout time.Duration
	workers      int
	fetchLimit   int

	historyMu sync.Mutex
	history   []Result
}

// Config wires an orchestrator.
type Config struct {
	Loader       *rules.Loader
	Source       RecordSource
	Schemas      map[string]adapter.TableSchema
	Adapter      *adapter.Adapter
	Registry     *evaluator.Registry
	Builder      *violation.Builder
	Store        violation.Store
	AuditLog     *audit.Log
	Claimer      Claimer
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
	FetchTimeout time.Duration
	Workers      int // default worker count when a scan request does not set one
	FetchLimit   int // default per-table row limit, 0 defers to the source
}

func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Orchestrator{
		loader:       cfg.Loader,
		source:       cfg.Source,
		schemas:      cfg.Schemas,
		adapter:      cfg.Adapter,
		registry:     cfg.Registry,
		builder:      cfg.Builder,
		store:        cfg.Store,
		auditLog:     cfg.AuditLog,
		claimer:      cfg.Claimer,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		fetchTimeout: cfg.FetchTimeout,
		workers:      cfg.Workers,
		fetchLimit:   cfg.FetchLimit,
	}
}

// Run executes one scan. Partition failures are isolated into
// Result.Errors; the scan itself only fails when rules or tables cannot
// be enumerated at all.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	scanCtx := Context{
		ScanID:    uuid.New().String(),
		StartedAt: time.Now().UTC(),
	}
	scanCtx.Epoch = scanCtx.ScanID

	activeRules, excluded, err := o.loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	activeRules = filterRules(activeRules, opts.RuleIDs)

	tables, err := o.resolveTables(ctx, opts.Tables)
	if err != nil {
		return nil, fmt.Errorf("resolve tables: %w", err)
	}

	o.metrics.ScansTotal.Inc()
	o.recordAudit(ctx, audit.EventScanStarted, scanCtx.ScanID, map[string]any{
		"tables": tables,
		"rules":  len(activeRules),
	})

	result := &Result{
		ScanID:        scanCtx.ScanID,
		StartedAt:     scanCtx.StartedAt,
		RulesChecked:  len(activeRules),
		RulesExcluded: len(excluded),
		BySeverity:    make(map[string]int),
	}
	for _, err := range excluded {
		result.Errors = append(result.Errors, err.Error())
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = o.workers
	}
	if workers > len(tables) {
		workers = len(tables)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = o.fetchLimit
	}

	var (
		resultMu sync.Mutex
		wg       sync.WaitGroup
		tableCh  = make(chan string)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for table := range tableCh {
				partial, err := o.scanTable(ctx, scanCtx, table, activeRules, limit)
				resultMu.Lock()
				if err != nil {
					o.metrics.PartitionFailures.Inc()
					result.Errors = append(result.Errors, errors.Partition("table %s: %v", table, err).Error())
					o.recordAudit(ctx, audit.EventPartitionFailed, table, map[string]any{
						"scan_id": scanCtx.ScanID,
						"error":   err.Error(),
					})
				} else {
					result.TablesScanned = append(result.TablesScanned, table)
					mergeResult(result, partial)
				}
				resultMu.Unlock()
			}
		}()
	}

	for _, table := range tables {
		if ctx.Err() != nil {
			break
		}
		tableCh <- table
	}
	close(tableCh)
	wg.Wait()

	if ctx.Err() != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("scan cancelled: %v", ctx.Err()))
	}

	sort.Strings(result.TablesScanned)
	result.CompletedAt = time.Now().UTC()
	o.metrics.ScanDuration.Observe(result.CompletedAt.Sub(result.StartedAt).Seconds())

	o.recordAudit(ctx, audit.EventScanCompleted, scanCtx.ScanID, map[string]any{
		"tables_scanned":   result.TablesScanned,
		"violations_found": result.ViolationsFound,
		"reconfirmed":      result.Reconfirmed,
		"errors":           len(result.Errors),
	})

	o.appendHistory(result)

	o.logger.Info("scan completed",
		zap.String("scan_id", scanCtx.ScanID),
		zap.Int("tables", len(result.TablesScanned)),
		zap.Int("violations", result.ViolationsFound),
		zap.Int("reconfirmed", result.Reconfirmed),
		zap.Int("errors", len(result.Errors)))

	return result, nil
}

// scanTable is one partition: fetch, adapt, evaluate, materialize.
func (o *Orchestrator) scanTable(ctx context.Context, scanCtx Context, table string, activeRules []rules.Rule, limit int) (*Result, error) {
	schema, ok := o.schemas[table]
	if !ok {
		return nil, fmt.Errorf("no schema mapping configured for table %s", table)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	rows, err := o.source.Fetch(fetchCtx, table, limit)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}

	partial := &Result{BySeverity: make(map[string]int)}

	records := make([]adapter.EvaluationRecord, 0, len(rows))
	for _, row := range rows {
		record, err := o.adapter.Adapt(ctx, row, schema)
		if err != nil {
			partial.SkippedRecords++
			o.metrics.RecordsSkipped.Inc()
			continue
		}
		records = append(records, record)
	}
	partial.RecordsEvaluated = len(records)
	o.metrics.RecordsEvaluated.Add(float64(len(records)))

	// Built-in invariant checks run whether or not any rule is configured.
	matches := evaluator.BuiltinBalanceChecks(records)

	for _, rule := range activeRules {
		if ctx.Err() != nil {
			break
		}
		if rule.Table != "" && rule.Table != table {
			continue
		}
		ruleMatches, err := o.registry.Evaluate(ctx, rule, records)
		if err != nil {
			o.logger.Warn("rule evaluation failed",
				zap.String("rule_id", rule.ID),
				zap.String("table", table),
				zap.Error(err))
			continue
		}
		o.metrics.MatchesTotal.WithLabelValues(string(rule.Class)).Add(float64(len(ruleMatches)))
		matches = append(matches, ruleMatches...)
	}
	partial.MatchesFound = len(matches)

	ruleByID := make(map[string]rules.Rule, len(activeRules))
	for _, rule := range activeRules {
		ruleByID[rule.ID] = rule
	}
	recordByID := make(map[string]adapter.EvaluationRecord, len(records))
	for _, record := range records {
		recordByID[record.ID] = record
	}

	for _, match := range matches {
		rule := violation.BuiltinNegativeBalanceRule
		if !match.Builtin {
			rule = ruleByID[match.RuleID]
		}
		o.materialize(ctx, scanCtx, partial, match, rule, recordByID[match.RecordID])
	}

	return partial, nil
}

// materialize builds the violation and inserts it, downgrading duplicate
// inserts to reconfirms. Each violation is fully built before the store
// sees it, so cancellation never leaves a half-built entity behind.
func (o *Orchestrator) materialize(ctx context.Context, scanCtx Context, partial *Result, match evaluator.RawMatch, rule rules.Rule, record adapter.EvaluationRecord) {
	if o.claimer != nil {
		claimed, err := o.claimer.Claim(ctx, match.RuleID+"|"+match.RecordID)
		if err != nil {
			o.logger.Warn("claim check failed, falling back to store dedup", zap.Error(err))
		} else if !claimed {
			// Another replica holds the claim and will materialize the
			// pair; skip the build entirely.
			o.logger.Debug("pair already claimed",
				zap.String("rule_id", match.RuleID),
				zap.String("record_id", match.RecordID))
			return
		}
	}

	built := o.builder.Build(match, rule, record, scanCtx.Epoch, time.Now().UTC())
	created, existing, err := o.store.InsertIfAbsent(ctx, built)
	if err != nil {
		o.logger.Error("failed to store violation",
			zap.String("rule_id", match.RuleID),
			zap.String("record_id", match.RecordID),
			zap.Error(err))
		return
	}

	if created {
		partial.ViolationsFound++
		partial.BySeverity[string(built.Severity)]++
		partial.Violations = append(partial.Violations, existing)
		o.metrics.ViolationsTotal.WithLabelValues(string(built.Severity)).Inc()
		o.recordAudit(ctx, audit.EventViolationDetected, existing.ID.String(), map[string]any{
			"scan_id":   scanCtx.ScanID,
			"rule_id":   match.RuleID,
			"record_id": match.RecordID,
			"severity":  string(built.Severity),
		})
		return
	}

	partial.Reconfirmed++
	o.metrics.Reconfirmed.Inc()
	o.recordAudit(ctx, audit.EventReconfirmed, existing.ID.String(), map[string]any{
		"scan_id":   scanCtx.ScanID,
		"rule_id":   match.RuleID,
		"record_id": match.RecordID,
	})
}

func (o *Orchestrator) resolveTables(ctx context.Context, requested []string) ([]string, error) {
	available, err := o.source.Tables(ctx)
	if err != nil {
		return nil, err
	}
	if len(requested) == 0 {
		return available, nil
	}
	availableSet := make(map[string]bool, len(available))
	for _, table := range available {
		availableSet[table] = true
	}
	var tables []string
	for _, table := range requested {
		if !availableSet[table] {
			o.logger.Warn("requested table not found, skipping", zap.String("table", table))
			continue
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func (o *Orchestrator) recordAudit(ctx context.Context, eventType audit.EventType, subject string, payload map[string]any) {
	if _, err := o.auditLog.Record(ctx, audit.ActorSystem, eventType, subject, payload); err != nil {
		o.logger.Warn("failed to record audit event",
			zap.String("type", string(eventType)),
			zap.Error(err))
	}
}

func (o *Orchestrator) appendHistory(result *Result) {
	summary := *result
	summary.Violations = nil
	o.historyMu.Lock()
	o.history = append(o.history, summary)
	o.historyMu.Unlock()
}

// History returns summaries of past scans, most recent last.
func (o *Orchestrator) History() []Result {
	o.historyMu.Lock()
	defer o.historyMu.Unlock()
	return append([]Result(nil), o.history...)
}

func filterRules(all []rules.Rule, ids []string) []rules.Rule {
	if len(ids) == 0 {
		return all
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []rules.Rule
	for _, rule := range all {
		if want[rule.ID] {
			out = append(out, rule)
		}
	}
	return out
}

func mergeResult(dst, src *Result) {
	dst.RecordsEvaluated += src.RecordsEvaluated
	dst.SkippedRecords += src.SkippedRecords
	dst.MatchesFound += src.MatchesFound
	dst.ViolationsFound += src.ViolationsFound
	dst.Reconfirmed += src.Reconfirmed
	dst.Violations = append(dst.Violations, src.Violations...)
	for severity, count := range src.BySeverity {
		dst.BySeverity[severity] += count
	}
}
