// Package audit implements the orchestrator's self-healing periodic sweep.
// It runs the same state-machine checks the stage-completion hook uses, so a
// crashed worker or a dropped completion notification never permanently
// wedges a record or a job.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/archivorch/orchestrator/core/jobs"
	"github.com/archivorch/orchestrator/core/pipeline"
	"github.com/archivorch/orchestrator/core/store"
	"github.com/archivorch/orchestrator/ingest"
)

// backfillScanLimit bounds how many complete records pass 8 inspects per
// sweep. Complete records accumulate without bound, but a missing
// translation-completed event is a one-time backfill, not a recurring
// condition, so scanning the most recent slice each sweep converges.
const backfillScanLimit = 200

// Engine periodically reconciles job and record state. Every pass is
// idempotent: running the same pass twice in a row on settled state is a
// no-op.
type Engine struct {
	logger   *slog.Logger
	interval time.Duration

	staleClaimAfter time.Duration
	stuckIngestAfter time.Duration
	maxJobAttempts  int

	jobs    *jobs.Queue
	records *store.Records
	events  *store.PipelineEvents
	ingest  *ingest.Service
	pipeline *pipeline.Service
}

// New constructs an audit Engine.
func New(logger *slog.Logger, interval, staleClaimAfter, stuckIngestAfter time.Duration, maxJobAttempts int, q *jobs.Queue, records *store.Records, pipelineEvents *store.PipelineEvents, ing *ingest.Service, pl *pipeline.Service) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger: logger, interval: interval,
		staleClaimAfter: staleClaimAfter, stuckIngestAfter: stuckIngestAfter,
		maxJobAttempts: maxJobAttempts,
		jobs: q, records: records, events: pipelineEvents, ingest: ing, pipeline: pl,
	}
}

// Start runs the sweep on a ticker until ctx is cancelled. It runs once
// immediately so a freshly started orchestrator doesn't wait a full interval
// before reconciling state left over from its previous run.
func (e *Engine) Start(ctx context.Context) {
	e.runOnce(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runOnce(ctx)
		}
	}
}

// runOnce executes every pass, logging but not aborting on a single pass's
// error so one failing pass doesn't block the others.
func (e *Engine) runOnce(ctx context.Context) {
	start := time.Now()
	e.logger.Info("audit sweep starting")

	if err := e.passResetStaleClaimed(); err != nil {
		e.logger.Error("audit pass failed", "pass", "reset_stale_claimed", "error", err)
	}
	if err := e.passRetryFailed(); err != nil {
		e.logger.Error("audit pass failed", "pass", "retry_failed", "error", err)
	}
	if err := e.passAdvanceStuckIngesting(); err != nil {
		e.logger.Error("audit pass failed", "pass", "stuck_ingesting", "error", err)
	}
	if err := e.passAdvanceStatus(store.StatusOCRPending); err != nil {
		e.logger.Error("audit pass failed", "pass", "ocr_pending", "error", err)
	}
	if err := e.passAdvanceStatus(store.StatusOCRDone); err != nil {
		e.logger.Error("audit pass failed", "pass", "ocr_done", "error", err)
	}
	if err := e.passAdvanceStatus(store.StatusPDFPending); err != nil {
		e.logger.Error("audit pass failed", "pass", "pdf_pending", "error", err)
	}
	if err := e.passAdvanceStatus(store.StatusPDFDone); err != nil {
		e.logger.Error("audit pass failed", "pass", "pdf_done", "error", err)
	}
	if err := e.passAdvanceStatus(store.StatusTranslating); err != nil {
		e.logger.Error("audit pass failed", "pass", "translating", "error", err)
	}
	if err := e.passBackfillTranslationEvents(); err != nil {
		e.logger.Error("audit pass failed", "pass", "backfill_translation_events", "error", err)
	}

	e.logger.Info("audit sweep finished", "duration", time.Since(start))
}

// passResetStaleClaimed requeues jobs a worker claimed but never finished,
// guarding against a worker that crashed mid-job.
func (e *Engine) passResetStaleClaimed() error {
	cutoff := time.Now().Add(-e.staleClaimAfter)
	n, err := e.jobs.ResetStaleClaimed(cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		e.logger.Warn("reset stale claimed jobs", "count", n, "cutoff", cutoff)
	}
	return nil
}

// passRetryFailed gives jobs below the attempt cap another chance. Jobs at
// or above the cap are left failed permanently.
func (e *Engine) passRetryFailed() error {
	n, err := e.jobs.RetryFailed(e.maxJobAttempts)
	if err != nil {
		return err
	}
	if n > 0 {
		e.logger.Warn("retried failed jobs", "count", n, "maxAttempts", e.maxJobAttempts)
	}
	return nil
}

// passAdvanceStuckIngesting finds records that have sat in ingesting past
// stuckIngestAfter without a scraper ever calling complete-ingest, and runs
// complete-ingest on their behalf.
func (e *Engine) passAdvanceStuckIngesting() error {
	recs, err := e.records.List(store.ListFilter{Status: store.StatusIngesting, Limit: 200})
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-e.stuckIngestAfter)
	for _, rec := range recs {
		if rec.UpdatedAt.After(cutoff) {
			continue
		}
		if _, err := e.ingest.CompleteIngest(rec.ID); err != nil {
			e.logger.Error("audit: failed to auto-complete stuck ingest", "recordId", rec.ID, "error", err)
			continue
		}
		e.logger.Info("audit: auto-completed stuck ingest", "recordId", rec.ID)
	}
	return nil
}

// passAdvanceStatus re-runs Advance for every record currently sitting in
// status. A record only needs this if its stage-completion hook was never
// delivered (a crashed worker, a dropped job) or ran before the condition it
// depends on became true; Advance re-derives the check from current state
// either way, so this is always safe to re-run.
func (e *Engine) passAdvanceStatus(status store.RecordStatus) error {
	recs, err := e.records.List(store.ListFilter{Status: status, Limit: 200})
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := e.pipeline.Advance(rec.ID); err != nil {
			e.logger.Error("audit: advance failed", "recordId", rec.ID, "status", status, "error", err)
		}
	}
	return nil
}

// passBackfillTranslationEvents catches records that reached complete
// without ever logging translation/completed — e.g. via the pages=0
// bypass, or a version of the hook that predates the event.
func (e *Engine) passBackfillTranslationEvents() error {
	recs, err := e.records.List(store.ListFilter{Status: store.StatusComplete, Limit: backfillScanLimit})
	if err != nil {
		return err
	}

	for _, rec := range recs {
		has, err := e.events.HasEvent(rec.ID, "translation", "completed")
		if err != nil {
			return err
		}
		if has {
			continue
		}
		pending, err := e.jobs.PendingForRecord(rec.ID, "translate_%")
		if err != nil {
			return err
		}
		if pending {
			continue
		}
		if err := e.events.LogDirect(rec.ID, "translation", "completed", "backfilled by audit"); err != nil {
			return err
		}
		e.logger.Info("audit: backfilled translation-completed event", "recordId", rec.ID)
	}
	return nil
}
