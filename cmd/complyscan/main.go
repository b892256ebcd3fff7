package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/complyscan/complyscan/internal/api"
	"github.com/complyscan/complyscan/internal/config"
	"github.com/complyscan/complyscan/internal/engine/adapter"
	"github.com/complyscan/complyscan/internal/engine/audit"
	"github.com/complyscan/complyscan/internal/engine/evaluator"
	"github.com/complyscan/complyscan/internal/engine/review"
	"github.com/complyscan/complyscan/internal/engine/rules"
	"github.com/complyscan/complyscan/internal/engine/scan"
	"github.com/complyscan/complyscan/internal/engine/violation"
	"github.com/complyscan/complyscan/internal/messaging"
	"github.com/complyscan/complyscan/internal/storage"
	"github.com/complyscan/complyscan/pkg/logger"
	"github.com/complyscan/complyscan/pkg/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "complyscan: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	auditLog := audit.NewLog(storage.NewAuditStore(db), log)
	if cfg.Kafka.Enabled {
		publisher := messaging.NewAuditPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		defer publisher.Close()
		auditLog.SetPublisher(publisher)
		log.Info("audit events mirrored to kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}

	var ruleSource rules.Source
	switch {
	case cfg.Rules.SourceURL != "":
		ruleSource = rules.NewHTTPSource(cfg.Rules.SourceURL, cfg.Rules.Timeout)
	case cfg.Rules.File != "":
		ruleSource = rules.NewFileSource(cfg.Rules.File)
	default:
		log.Warn("no rule source configured, scans will only run built-in checks")
		ruleSource = rules.StaticSource(nil)
	}

	violationStore := storage.NewViolationStore(db)

	var claimer scan.Claimer
	if cfg.Redis.Enabled {
		redisClaimer := storage.NewRedisClaimer(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.ClaimTTL)
		defer redisClaimer.Close()
		claimer = redisClaimer
		log.Info("redis claim cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	registry := prometheus.NewRegistry()
	engineMetrics := metrics.New(registry)

	tableNames := make([]string, 0, len(cfg.Tables))
	for _, schema := range cfg.Tables {
		tableNames = append(tableNames, schema.Table)
	}

	orchestrator := scan.NewOrchestrator(scan.Config{
		Loader:       rules.NewLoader(ruleSource, log),
		Source:       storage.NewSQLRecordSource(db, tableNames),
		Schemas:      cfg.Schemas(),
		Adapter:      adapter.New(auditLog, log),
		Registry:     evaluator.NewRegistry(),
		Builder:      violation.NewBuilder(),
		Store:        violationStore,
		AuditLog:     auditLog,
		Claimer:      claimer,
		Metrics:      engineMetrics,
		Logger:       log,
		FetchTimeout: cfg.Scan.FetchTimeout,
		Workers:      cfg.Scan.Workers,
		FetchLimit:   cfg.Scan.Limit,
	})

	workflow := review.NewWorkflow(violationStore, auditLog, engineMetrics, log)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	handler := api.NewHandler(orchestrator, violationStore, workflow, auditLog, log)
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
