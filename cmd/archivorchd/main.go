package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/archivorch/orchestrator/core/audit"
	"github.com/archivorch/orchestrator/core/blobstore"
	"github.com/archivorch/orchestrator/core/chassis"
	"github.com/archivorch/orchestrator/core/config"
	"github.com/archivorch/orchestrator/core/data"
	"github.com/archivorch/orchestrator/core/events"
	"github.com/archivorch/orchestrator/core/jobs"
	"github.com/archivorch/orchestrator/core/pipeline"
	"github.com/archivorch/orchestrator/core/presence"
	"github.com/archivorch/orchestrator/core/store"
	"github.com/archivorch/orchestrator/httpapi"
	"github.com/archivorch/orchestrator/ingest"
)

func main() {
	logger := setupLogger()
	logger.Info("archive orchestrator starting")

	cfg := config.FromEnv()

	// 1. Database.
	db, err := data.OpenDB(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.DBPath)

	if err := store.InitSchema(db); err != nil {
		logger.Error("failed to init schema", "error", err)
		os.Exit(1)
	}

	q, err := jobs.NewQueue(db)
	if err != nil {
		logger.Error("failed to init jobs queue", "error", err)
		os.Exit(1)
	}

	// 2. Store layer.
	archives := store.NewArchives(db)
	records := store.NewRecords(db)
	pages := store.NewPages(db)
	attachments := store.NewAttachments(db)
	pageTexts := store.NewPageTexts(db)
	pageEntities := store.NewPageEntities(db)
	pipelineEvents := store.NewPipelineEvents(db)

	if _, err := archives.List(); err != nil {
		logger.Error("failed to reach archives table", "error", err)
		os.Exit(1)
	}

	// 3. Blob storage.
	blobs, err := blobstore.New(cfg.BlobRoot)
	if err != nil {
		logger.Error("failed to init blob store", "error", err)
		os.Exit(1)
	}
	scratchDir := filepath.Join(cfg.BlobRoot, ".scratch")
	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		logger.Error("failed to create scratch dir", "error", err)
		os.Exit(1)
	}

	// 4. Event hub, presence tables, pipeline.
	hub := events.NewHub()
	workerPresence := presence.NewTable(cfg.WorkerTTL)
	scraperPresence := presence.NewScraperTable(cfg.ScraperTTL)

	pl := pipeline.New(db, q, records, pages, attachments, pageTexts, pipelineEvents, hub)
	ing := ingest.New(db, records, pages, attachments, pageTexts, pipelineEvents, pl, blobs)

	logger.Info("services initialized")

	// 5. Context for daemon and background loops.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 6. Audit engine: resets stale claims, retries failed jobs, advances
	// stuck records and backfills missing terminal events on a timer.
	auditEngine := audit.New(logger, cfg.AuditInterval, cfg.StaleClaimAfter, cfg.StuckIngestAfter,
		cfg.MaxJobAttempts, q, records, pipelineEvents, ing, pl)
	go auditEngine.Start(ctx)
	logger.Info("audit engine started", "interval", cfg.AuditInterval)

	// 7. HTTP API surface.
	api := httpapi.New(logger, records, pages, attachments, pageTexts, pageEntities, pipelineEvents,
		q, pl, ing, blobs, hub, workerPresence, scraperPresence, cfg.ProcessorToken, scratchDir)

	server := chassis.NewServer(logger, cfg.HTTPAddr, cfg.QUICAddr)
	if err := server.RegisterService("orchestrator", api); err != nil {
		logger.Error("failed to register orchestrator service", "error", err)
		os.Exit(1)
	}
	logger.Info("orchestrator service registered on chassis")

	go func() {
		logger.Info("starting server", "http", cfg.HTTPAddr, "quic", cfg.QUICAddr)
		if err := server.Start(ctx); err != nil {
			logger.Error("server crashed", "error", err)
			os.Exit(1)
		}
	}()

	// 8. Graceful shutdown.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("server ready, waiting for signals")
	<-sigChan
	logger.Info("shutdown signal received")
	cancel()

	if err := server.Stop(context.Background()); err != nil {
		logger.Error("error during shutdown", "error", err)
	}

	logger.Info("archive orchestrator stopped cleanly")
}

func setupLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
