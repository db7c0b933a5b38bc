package pipeline

import (
	"database/sql"
	"testing"

	"github.com/archivorch/orchestrator/core/data"
	"github.com/archivorch/orchestrator/core/events"
	"github.com/archivorch/orchestrator/core/jobs"
	"github.com/archivorch/orchestrator/core/store"
)

type testEnv struct {
	db          *sql.DB
	jobs        *jobs.Queue
	records     *store.Records
	pages       *store.Pages
	attachments *store.Attachments
	pageTexts   *store.PageTexts
	pipeEvents  *store.PipelineEvents
	svc         *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := data.OpenDB(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.InitSchema(db); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	q, err := jobs.NewQueue(db)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}

	env := &testEnv{
		db:          db,
		jobs:        q,
		records:     store.NewRecords(db),
		pages:       store.NewPages(db),
		attachments: store.NewAttachments(db),
		pageTexts:   store.NewPageTexts(db),
		pipeEvents:  store.NewPipelineEvents(db),
	}
	env.svc = New(db, q, env.records, env.pages, env.attachments, env.pageTexts, env.pipeEvents, events.NewHub())
	return env
}

func (e *testEnv) seedArchive(t *testing.T) int64 {
	t.Helper()
	res, err := e.db.Exec(`INSERT INTO archives (name, country) VALUES (?, ?)`, "Archives Nationales", "FR")
	if err != nil {
		t.Fatalf("seed archive: %v", err)
	}
	id, _ := res.LastInsertId()
	return id
}

// seedRecordWithPages creates a record with n pages, each backed by a
// page_image attachment, left in ocr_pending (the state Advance expects to
// start from after ingest).
func (e *testEnv) seedRecordWithPages(t *testing.T, n int, lang *string) (*store.Record, []int64) {
	t.Helper()
	archiveID := e.seedArchive(t)
	rec, _, err := e.records.Upsert(store.UpsertInput{
		ArchiveID: archiveID, SourceSystem: "siv", SourceRecordID: "rec-1", Lang: lang,
	})
	if err != nil {
		t.Fatalf("upsert record: %v", err)
	}

	var pageIDs []int64
	err = data.RunTransaction(e.db, func(tx *sql.Tx) error {
		for i := 1; i <= n; i++ {
			attID, err := e.attachments.Create(tx, rec.ID, store.RolePageImage, "p.jpg", "sha", "image/jpeg", 1)
			if err != nil {
				return err
			}
			pageID, err := e.pages.Upsert(tx, rec.ID, i, attID, "", nil, nil)
			if err != nil {
				return err
			}
			pageIDs = append(pageIDs, pageID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed pages: %v", err)
	}

	moved, err := e.records.TransitionStatus(rec.ID, store.StatusIngesting, store.StatusOCRPending)
	if err != nil || !moved {
		t.Fatalf("move to ocr_pending: moved=%v err=%v", moved, err)
	}
	rec, err = e.records.Get(rec.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	return rec, pageIDs
}

func TestAdvanceStaysPutWhenOCRIncomplete(t *testing.T) {
	env := newTestEnv(t)
	rec, pageIDs := env.seedRecordWithPages(t, 2, nil)

	if _, err := env.pageTexts.CreateDirect(pageIDs[0], "paddleocr", nil, "hello", nil); err != nil {
		t.Fatalf("create page text: %v", err)
	}

	if err := env.svc.Advance(rec.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	got, err := env.records.Get(rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.StatusOCRPending {
		t.Fatalf("status = %v, want %v (one page still untexted)", got.Status, store.StatusOCRPending)
	}
}

func TestAdvanceRunsPostOCRFanoutAndStopsAtPDFPending(t *testing.T) {
	env := newTestEnv(t)
	rec, pageIDs := env.seedRecordWithPages(t, 2, nil)

	for _, pid := range pageIDs {
		if _, err := env.pageTexts.CreateDirect(pid, "paddleocr", nil, "hello", nil); err != nil {
			t.Fatalf("create page text: %v", err)
		}
	}

	if err := env.svc.Advance(rec.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	got, err := env.records.Get(rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.StatusPDFPending {
		t.Fatalf("status = %v, want %v", got.Status, store.StatusPDFPending)
	}

	hasPDFJob, err := env.jobs.HasJobOfKind(rec.ID, KindBuildSearchablePDF)
	if err != nil {
		t.Fatalf("has pdf job: %v", err)
	}
	if !hasPDFJob {
		t.Fatal("expected a build_searchable_pdf job to be enqueued")
	}

	hasTranslateRecordJob, err := env.jobs.HasJobOfKind(rec.ID, KindTranslateRecord)
	if err != nil {
		t.Fatalf("has translate_record job: %v", err)
	}
	if !hasTranslateRecordJob {
		t.Fatal("expected a translate_record job to be enqueued")
	}

	for _, pid := range pageIDs {
		pageID := pid
		pending, err := env.jobs.PendingForRecord(rec.ID, "translate_page")
		if err != nil {
			t.Fatalf("pending for record: %v", err)
		}
		_ = pageID
		if !pending {
			t.Fatal("expected translate_page jobs for a non-english record")
		}
		break
	}

	has, err := env.pipeEvents.HasEvent(rec.ID, "pdf_build", "started")
	if err != nil {
		t.Fatalf("has event: %v", err)
	}
	if !has {
		t.Fatal("expected a pdf_build/started pipeline event")
	}
}

func TestAdvanceSkipsPageTranslationForEnglishRecords(t *testing.T) {
	env := newTestEnv(t)
	en := "en"
	rec, pageIDs := env.seedRecordWithPages(t, 1, &en)

	if _, err := env.pageTexts.CreateDirect(pageIDs[0], "paddleocr", nil, "hello", nil); err != nil {
		t.Fatalf("create page text: %v", err)
	}
	if err := env.svc.Advance(rec.ID); err != nil {
		t.Fatalf("advance: %v", err)
	}

	has, err := env.jobs.HasJobOfKind(rec.ID, KindTranslatePage)
	if err != nil {
		t.Fatalf("has translate_page job: %v", err)
	}
	if has {
		t.Fatal("an english-language record should not get page translation jobs")
	}
}

func TestAdvanceDrivesThroughPDFAndTranslationToComplete(t *testing.T) {
	env := newTestEnv(t)
	en := "en"
	rec, pageIDs := env.seedRecordWithPages(t, 1, &en)

	if _, err := env.pageTexts.CreateDirect(pageIDs[0], "paddleocr", nil, "hello", nil); err != nil {
		t.Fatalf("create page text: %v", err)
	}
	if err := env.svc.Advance(rec.ID); err != nil {
		t.Fatalf("advance after ocr: %v", err)
	}

	// Still needs a searchable_pdf attachment and the translate_record job
	// to complete before the record can reach "complete".
	got, _ := env.records.Get(rec.ID)
	if got.Status != store.StatusPDFPending {
		t.Fatalf("status = %v, want %v", got.Status, store.StatusPDFPending)
	}

	if _, err := env.attachments.CreateDirect(rec.ID, store.RoleSearchablePDF, "r.pdf", "sha-pdf", "application/pdf", 10); err != nil {
		t.Fatalf("create searchable pdf: %v", err)
	}

	translateJob, err := env.jobs.Claim(KindTranslateRecord)
	if err != nil {
		t.Fatalf("claim translate_record: %v", err)
	}
	if translateJob == nil {
		t.Fatal("expected a claimable translate_record job")
	}
	if err := env.jobs.Complete(translateJob.ID, nil); err != nil {
		t.Fatalf("complete translate_record: %v", err)
	}

	if err := env.svc.Advance(rec.ID); err != nil {
		t.Fatalf("advance after pdf+translation: %v", err)
	}

	got, err = env.records.Get(rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.StatusComplete {
		t.Fatalf("status = %v, want %v", got.Status, store.StatusComplete)
	}
	if got.PDFAttachmentID == nil {
		t.Fatal("expected pdf_attachment_id to be set")
	}

	has, err := env.pipeEvents.HasEvent(rec.ID, "translation", "completed")
	if err != nil {
		t.Fatalf("has event: %v", err)
	}
	if !has {
		t.Fatal("expected a translation/completed pipeline event")
	}
}

func TestCompleteRunsStageCompletionHookOnlyForRelevantKinds(t *testing.T) {
	env := newTestEnv(t)
	rec, pageIDs := env.seedRecordWithPages(t, 1, nil)

	jobID, err := env.svc.Enqueue(KindOCRPagePaddle, &rec.ID, &pageIDs[0], "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := env.jobs.Claim(KindOCRPagePaddle); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if _, err := env.pageTexts.CreateDirect(pageIDs[0], "paddleocr", nil, "hello", nil); err != nil {
		t.Fatalf("create page text: %v", err)
	}

	if err := env.svc.Complete(jobID, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, err := env.records.Get(rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.StatusPDFPending {
		t.Fatalf("status after ocr completion hook = %v, want %v", got.Status, store.StatusPDFPending)
	}
}

func TestFailPublishesWithoutAdvancing(t *testing.T) {
	env := newTestEnv(t)
	rec, pageIDs := env.seedRecordWithPages(t, 1, nil)

	jobID, err := env.svc.Enqueue(KindOCRPagePaddle, &rec.ID, &pageIDs[0], "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := env.jobs.Claim(KindOCRPagePaddle); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := env.svc.Fail(jobID, "ocr crashed"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	got, err := env.records.Get(rec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != store.StatusOCRPending {
		t.Fatalf("status after a failed job = %v, want unchanged %v", got.Status, store.StatusOCRPending)
	}
}
