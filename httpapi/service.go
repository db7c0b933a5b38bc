// Package httpapi wires the orchestrator's three HTTP surfaces — ingest
// (scrapers), processor (workers) and catalog (the UI) — onto a shared chi
// router.
package httpapi

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/archivorch/orchestrator/core/blobstore"
	"github.com/archivorch/orchestrator/core/events"
	"github.com/archivorch/orchestrator/core/jobs"
	"github.com/archivorch/orchestrator/core/pipeline"
	"github.com/archivorch/orchestrator/core/presence"
	"github.com/archivorch/orchestrator/core/store"
	"github.com/archivorch/orchestrator/ingest"
)

// Service implements chassis.Service, mounting every HTTP route the
// orchestrator exposes.
type Service struct {
	logger *slog.Logger

	Records      *store.Records
	Pages        *store.Pages
	Attachments  *store.Attachments
	PageTexts    *store.PageTexts
	PageEntities *store.PageEntities
	Events       *store.PipelineEvents
	Jobs         *jobs.Queue
	Pipeline     *pipeline.Service
	Ingest       *ingest.Service
	Blobs        *blobstore.Store
	Hub          *events.Hub

	WorkerPresence  *presence.Table
	ScraperPresence *presence.ScraperTable

	ProcessorToken string
	ScratchDir     string
}

// New constructs the httpapi Service.
func New(logger *slog.Logger, records *store.Records, pages *store.Pages, attachments *store.Attachments,
	pageTexts *store.PageTexts, pageEntities *store.PageEntities, pipelineEvents *store.PipelineEvents,
	q *jobs.Queue, pl *pipeline.Service, ing *ingest.Service, blobs *blobstore.Store, hub *events.Hub,
	workerPresence *presence.Table, scraperPresence *presence.ScraperTable, processorToken, scratchDir string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger: logger,
		Records: records, Pages: pages, Attachments: attachments, PageTexts: pageTexts,
		PageEntities: pageEntities, Events: pipelineEvents, Jobs: q, Pipeline: pl, Ingest: ing,
		Blobs: blobs, Hub: hub, WorkerPresence: workerPresence, ScraperPresence: scraperPresence,
		ProcessorToken: processorToken, ScratchDir: scratchDir,
	}
}

// RegisterHTTP mounts the ingest, processor and catalog surfaces.
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Route("/ingest", s.registerIngest)

	r.Route("/processor", func(pr chi.Router) {
		pr.Use(s.authProcessor)
		s.registerProcessor(pr)
	})

	s.registerCatalog(r)
}
