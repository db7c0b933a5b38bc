// Package pipeline implements the job service's stage-completion logic: the
// post-stage fan-out that auto-enqueues dependent work, and the single
// Advance function shared by the completion hook and the audit engine so
// the two paths can never diverge.
package pipeline

import (
	"database/sql"
	"strings"

	"github.com/archivorch/orchestrator/core/data"
	"github.com/archivorch/orchestrator/core/events"
	"github.com/archivorch/orchestrator/core/jobs"
	"github.com/archivorch/orchestrator/core/store"
)

// Job kinds the core knows how to route post-completion fan-out for. Their
// payload schemas are owned by the workers, not the core.
const (
	KindOCRPagePaddle     = "ocr_page_paddle"
	KindBuildSearchablePDF = "build_searchable_pdf"
	KindTranslatePage     = "translate_page"
	KindTranslateRecord   = "translate_record"
	KindEmbedRecord       = "embed_record"
	KindExtractEntities   = "extract_entities"
)

// Service wraps the job queue with the event-hub publishes and
// stage-completion hook the spec layers on top of plain enqueue/claim.
type Service struct {
	db       *sql.DB
	Jobs     *jobs.Queue
	Records  *store.Records
	Pages    *store.Pages
	Attachments *store.Attachments
	PageTexts *store.PageTexts
	Events   *store.PipelineEvents
	Hub      *events.Hub
}

// New constructs a pipeline Service over the given store and job queue.
func New(db *sql.DB, q *jobs.Queue, records *store.Records, pages *store.Pages, attachments *store.Attachments, pageTexts *store.PageTexts, pipelineEvents *store.PipelineEvents, hub *events.Hub) *Service {
	return &Service{
		db: db, Jobs: q, Records: records, Pages: pages,
		Attachments: attachments, PageTexts: pageTexts, Events: pipelineEvents, Hub: hub,
	}
}

// Enqueue inserts a job and publishes both fan-out signals: a worker
// wake-up and a UI pipeline-change event.
func (s *Service) Enqueue(kind string, recordID, pageID *int64, payload string) (data.UUID, error) {
	id, err := s.Jobs.Enqueue(kind, recordID, pageID, payload)
	if err != nil {
		return data.UUID{}, err
	}
	s.Hub.PublishJob(kind)
	s.Hub.PublishRecord(events.UIEvent{Action: "pipeline", Kind: kind, Status: string(jobs.StatusPending)})
	return id, nil
}

// Claim delegates to the job queue; claiming carries no fan-out of its own.
func (s *Service) Claim(kind string) (*jobs.Job, error) {
	return s.Jobs.Claim(kind)
}

// Complete marks a job completed, publishes the pipeline-change event, then
// runs the stage-completion hook. Hook failures are logged by the caller,
// not rolled back into the completion commit — the spec treats post-commit
// side effects as best-effort.
func (s *Service) Complete(jobID data.UUID, resultPayload *string) error {
	job, err := s.Jobs.Get(jobID)
	if err != nil {
		return err
	}
	if err := s.Jobs.Complete(jobID, resultPayload); err != nil {
		return err
	}
	s.Hub.PublishRecord(events.UIEvent{Action: "pipeline", Kind: job.Kind, Status: string(jobs.StatusCompleted)})
	return s.stageCompletionHook(job)
}

// Fail marks a job failed and publishes the pipeline-change event. The
// audit engine, not this call, decides whether it is retried.
func (s *Service) Fail(jobID data.UUID, errMsg string) error {
	job, err := s.Jobs.Get(jobID)
	if err != nil {
		return err
	}
	if err := s.Jobs.Fail(jobID, errMsg); err != nil {
		return err
	}
	s.Hub.PublishRecord(events.UIEvent{Action: "pipeline", Kind: job.Kind, Status: string(jobs.StatusFailed)})
	return nil
}

// stageCompletionHook dispatches a just-completed job to the relevant
// completion check, per §4.3's kind routing.
func (s *Service) stageCompletionHook(job *jobs.Job) error {
	relevant := strings.HasPrefix(job.Kind, "ocr_page_") ||
		job.Kind == KindBuildSearchablePDF ||
		job.Kind == KindTranslatePage || job.Kind == KindTranslateRecord

	if !relevant || job.RecordID == nil {
		return nil
	}
	return s.Advance(*job.RecordID)
}
