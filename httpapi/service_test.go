package httpapi

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/archivorch/orchestrator/core/blobstore"
	"github.com/archivorch/orchestrator/core/data"
	"github.com/archivorch/orchestrator/core/events"
	"github.com/archivorch/orchestrator/core/jobs"
	"github.com/archivorch/orchestrator/core/pipeline"
	"github.com/archivorch/orchestrator/core/presence"
	"github.com/archivorch/orchestrator/core/store"
	"github.com/archivorch/orchestrator/ingest"
)

type testEnv struct {
	db  *sql.DB
	svc *Service
	r   chi.Router
}

func newTestEnv(t *testing.T, processorToken string) *testEnv {
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

	records := store.NewRecords(db)
	pages := store.NewPages(db)
	attachments := store.NewAttachments(db)
	pageTexts := store.NewPageTexts(db)
	pageEntities := store.NewPageEntities(db)
	pipeEvents := store.NewPipelineEvents(db)

	hub := events.NewHub()
	pl := pipeline.New(db, q, records, pages, attachments, pageTexts, pipeEvents, hub)
	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("new blobstore: %v", err)
	}
	ing := ingest.New(db, records, pages, attachments, pageTexts, pipeEvents, pl, blobs)

	logger := slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
	svc := New(logger, records, pages, attachments, pageTexts, pageEntities, pipeEvents, q, pl, ing, blobs, hub,
		presence.NewTable(time.Minute), presence.NewScraperTable(time.Minute), processorToken, t.TempDir())

	r := chi.NewRouter()
	svc.RegisterHTTP(r)

	return &testEnv{db: db, svc: svc, r: r}
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

func (e *testEnv) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	return w
}

func TestUpsertRecordRejectsMissingFields(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(http.MethodPost, "/ingest/records", []byte(`{"archiveId":1}`), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusBadRequest, w.Body.String())
	}
}

func TestUpsertRecordSucceedsAndTouchesScraperPresence(t *testing.T) {
	env := newTestEnv(t, "")
	archiveID := env.seedArchive(t)

	body, _ := json.Marshal(map[string]any{
		"archiveId": archiveID, "sourceSystem": "siv", "sourceRecordId": "r1", "title": "First",
	})
	w := env.do(http.MethodPost, "/ingest/records", body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	alive := env.svc.ScraperPresence.Alive()
	if len(alive) != 1 || alive[0].SourceSystem != "siv" || alive[0].RecordsIngested != 1 {
		t.Fatalf("scraper presence = %+v, want one siv entry with 1 record", alive)
	}
}

func TestIngestStatusNotFound(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(http.MethodGet, "/ingest/status/siv/does-not-exist", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusNotFound, w.Body.String())
	}
}

func TestAttachPageMultipartUpload(t *testing.T) {
	env := newTestEnv(t, "")
	archiveID := env.seedArchive(t)
	rec, err := env.svc.Ingest.UpsertRecord(store.UpsertInput{ArchiveID: archiveID, SourceSystem: "siv", SourceRecordID: "r2"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "p1.jpg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	part.Write([]byte("fake jpeg bytes"))
	mw.WriteField("seq", "1")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/ingest/records/"+itoa(rec.ID)+"/pages", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	got, err := env.svc.Records.Get(rec.ID)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.PageCount != 1 {
		t.Fatalf("page count = %d, want 1", got.PageCount)
	}
}

func TestProcessorSurfaceRequiresBearerToken(t *testing.T) {
	env := newTestEnv(t, "secret-token")

	w := env.do(http.MethodPost, "/processor/jobs/claim", []byte(`{"kind":"ocr_page_paddle"}`), nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w = env.do(http.MethodPost, "/processor/jobs/claim", []byte(`{"kind":"ocr_page_paddle"}`),
		map[string]string{"Authorization": "Bearer wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status with wrong token = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w = env.do(http.MethodPost, "/processor/jobs/claim", []byte(`{"kind":"ocr_page_paddle"}`),
		map[string]string{"Authorization": "Bearer secret-token"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status with correct token = %d, want %d: %s", w.Code, http.StatusNoContent, w.Body.String())
	}
}

func TestAuthProcessorTouchesWorkerPresence(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(http.MethodPost, "/processor/jobs/claim", []byte(`{"kind":"ocr_page_paddle"}`),
		map[string]string{"X-Worker-Id": "worker-1", "X-Worker-Kinds": "ocr_page_paddle,translate_page"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNoContent)
	}

	alive := env.svc.WorkerPresence.Alive()
	if len(alive) != 1 || alive[0].WorkerID != "worker-1" {
		t.Fatalf("worker presence = %+v, want one worker-1 entry", alive)
	}
}

func TestClaimCompleteJobRoundTrip(t *testing.T) {
	env := newTestEnv(t, "")
	archiveID := env.seedArchive(t)
	rec, err := env.svc.Ingest.UpsertRecord(store.UpsertInput{ArchiveID: archiveID, SourceSystem: "siv", SourceRecordID: "r3"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := env.svc.Pipeline.Enqueue(pipeline.KindOCRPagePaddle, &rec.ID, nil, ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	w := env.do(http.MethodPost, "/processor/jobs/claim", []byte(`{"kind":"ocr_page_paddle"}`), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("claim status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var job jobs.Job
	if err := json.Unmarshal(w.Body.Bytes(), &job); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}

	w = env.do(http.MethodPost, "/processor/jobs/"+job.ID.String()+"/complete", []byte(`{}`), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("complete status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	got, err := env.svc.Jobs.Get(job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != jobs.StatusCompleted {
		t.Fatalf("status = %v, want %v", got.Status, jobs.StatusCompleted)
	}
}

func TestFailJobMarksJobFailed(t *testing.T) {
	env := newTestEnv(t, "")
	archiveID := env.seedArchive(t)
	rec, err := env.svc.Ingest.UpsertRecord(store.UpsertInput{ArchiveID: archiveID, SourceSystem: "siv", SourceRecordID: "r4"})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	jobID, err := env.svc.Pipeline.Enqueue(pipeline.KindOCRPagePaddle, &rec.ID, nil, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := env.svc.Jobs.Claim(pipeline.KindOCRPagePaddle); err != nil {
		t.Fatalf("claim: %v", err)
	}

	w := env.do(http.MethodPost, "/processor/jobs/"+jobID.String()+"/fail", []byte(`{"error":"boom"}`), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	got, err := env.svc.Jobs.Get(jobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != jobs.StatusFailed || got.Error != "boom" {
		t.Fatalf("job = %+v, want failed/boom", got)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(http.MethodGet, "/search", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestListRecordsReturnsEmptyInitially(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(http.MethodGet, "/records", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}
	var resp struct {
		Records []store.Record `json:"records"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Records) != 0 {
		t.Fatalf("records = %d, want 0", len(resp.Records))
	}
}

func itoa(id int64) string {
	return fmt.Sprintf("%d", id)
}
