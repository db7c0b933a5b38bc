package httpapi

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/archivorch/orchestrator/core/apierr"
	"github.com/archivorch/orchestrator/core/blobstore"
	"github.com/archivorch/orchestrator/core/events"
	"github.com/archivorch/orchestrator/core/store"
)

// allowedOCRArtifactExtensions whitelists the OCR artifact formats workers
// upload. The upload's stored path is always server-generated from the page
// id, never from the client-supplied filename, so this only gates content
// type, not path safety.
var allowedOCRArtifactExtensions = map[string]bool{
	"hocr": true,
	"xml":  true,
	"json": true,
	"txt":  true,
}

func ocrArtifactExtension(filename string) (string, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filepath.Base(filename)), "."))
	if !allowedOCRArtifactExtensions[ext] {
		return "", apierr.InvalidInput("unsupported artifact extension %q", ext)
	}
	return ext, nil
}

func (s *Service) registerProcessor(r chi.Router) {
	r.Get("/jobs/events", s.handleWorkerEvents)
	r.Post("/jobs/claim", s.handleClaimJob)
	r.Post("/jobs/{jobId}/complete", s.handleCompleteJob)
	r.Post("/jobs/{jobId}/fail", s.handleFailJob)
	r.Get("/pages/{pageId}/image", s.handlePageImage)
	r.Post("/ocr/{pageId}", s.handlePostOCR)
	r.Post("/ocr/{pageId}/artifact", s.handlePostOCRArtifact)
	r.Post("/records/{id}/searchable-pdf", s.handlePostSearchablePDF)
	r.Post("/entities/{pageId}", s.handlePostEntities)
}

// handleWorkerEvents implements the worker stream's subscribe contract: an
// id-keyed subscription a reconnect supersedes, scoped to the kinds the
// worker declares it handles.
func (s *Service) handleWorkerEvents(w http.ResponseWriter, r *http.Request) {
	workerID := r.Header.Get("X-Worker-Id")
	if workerID == "" {
		writeError(w, s.logger, apierr.InvalidInput("X-Worker-Id header is required"))
		return
	}
	kinds := splitCommaHeader(r.Header.Get("X-Worker-Kinds"))

	ch, done := s.Hub.SubscribeWorker(workerID, kinds)
	defer s.Hub.UnsubscribeWorker(workerID, ch)

	frames := make(chan events.Frame)
	go func() {
		defer close(frames)
		for {
			select {
			case f, ok := <-ch:
				if !ok {
					return
				}
				frames <- f
			case <-done:
				return
			case <-r.Context().Done():
				return
			}
		}
	}()

	if err := events.Serve(w, r, frames); err != nil {
		s.logger.Warn("worker stream ended", "workerId", workerID, "error", err)
	}
}

type claimJobRequest struct {
	Kind string `json:"kind"`
}

func (s *Service) handleClaimJob(w http.ResponseWriter, r *http.Request) {
	var req claimJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if req.Kind == "" {
		writeError(w, s.logger, apierr.InvalidInput("kind is required"))
		return
	}

	job, err := s.Pipeline.Claim(req.Kind)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type completeJobRequest struct {
	Result *string `json:"result,omitempty"`
}

func (s *Service) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseUUIDParam(r, "jobId")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req completeJobRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, s.logger, err)
			return
		}
	}

	if err := s.Pipeline.Complete(jobID, req.Result); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

type failJobRequest struct {
	Error string `json:"error"`
}

func (s *Service) handleFailJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseUUIDParam(r, "jobId")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req failJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.Pipeline.Fail(jobID, req.Error); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "failed"})
}

func (s *Service) handlePageImage(w http.ResponseWriter, r *http.Request) {
	pageID, err := parseIDParam(r, "pageId")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.streamPageAttachment(w, r, pageID)
}

func (s *Service) streamPageAttachment(w http.ResponseWriter, r *http.Request, pageID int64) {
	page, err := s.Pages.Get(pageID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if page.AttachmentID == nil {
		writeError(w, s.logger, apierr.NotFound("page %d has no image attachment", pageID))
		return
	}
	att, err := s.Attachments.Get(*page.AttachmentID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.streamAttachment(w, r, att)
}

func (s *Service) streamAttachment(w http.ResponseWriter, r *http.Request, att *store.Attachment) {
	f, err := s.Blobs.Open(att.Path)
	if err != nil {
		writeError(w, s.logger, apierr.Wrap(apierr.KindInternal, "failed to open blob", err))
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", att.Mime)
	http.ServeContent(w, r, att.Path, att.CreatedAt, f)
}

type postOCRRequest struct {
	Engine     string   `json:"engine"`
	Confidence *float64 `json:"confidence,omitempty"`
	TextRaw    string   `json:"textRaw"`
	HOCR       *string  `json:"hocr,omitempty"`
}

func (s *Service) handlePostOCR(w http.ResponseWriter, r *http.Request) {
	pageID, err := parseIDParam(r, "pageId")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req postOCRRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if req.Engine == "" {
		writeError(w, s.logger, apierr.InvalidInput("engine is required"))
		return
	}
	if _, err := s.Pages.Get(pageID); err != nil {
		writeError(w, s.logger, err)
		return
	}

	id, err := s.PageTexts.CreateDirect(pageID, req.Engine, req.Confidence, req.TextRaw, req.HOCR)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Service) handlePostOCRArtifact(w http.ResponseWriter, r *http.Request) {
	pageID, err := parseIDParam(r, "pageId")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	page, err := s.Pages.Get(pageID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, s.logger, apierr.InvalidInput("malformed multipart body: %v", err))
		return
	}
	file, header, err := r.FormFile("artifact")
	if err != nil {
		writeError(w, s.logger, apierr.InvalidInput("missing artifact part: %v", err))
		return
	}
	defer file.Close()

	ext, err := ocrArtifactExtension(header.Filename)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	relPath := blobstore.OCRArtifactPath(page.RecordID, page.ID, ext)
	sha, size, err := s.Blobs.Write(relPath, file)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	mime := header.Header.Get("Content-Type")
	id, err := s.Attachments.CreateDirect(page.RecordID, store.RoleOCRArtifact, relPath, sha, mime, size)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Service) handlePostSearchablePDF(w http.ResponseWriter, r *http.Request) {
	recordID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if _, err := s.Records.Get(recordID); err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := r.ParseMultipartForm(200 << 20); err != nil {
		writeError(w, s.logger, apierr.InvalidInput("malformed multipart body: %v", err))
		return
	}
	file, _, err := r.FormFile("pdf")
	if err != nil {
		writeError(w, s.logger, apierr.InvalidInput("missing pdf part: %v", err))
		return
	}
	defer file.Close()

	relPath := blobstore.SearchablePDFPath(recordID)
	sha, size, err := s.Blobs.Write(relPath, file)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	id, err := s.Attachments.CreateDirect(recordID, store.RoleSearchablePDF, relPath, sha, "application/pdf", size)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.Pipeline.Advance(recordID); err != nil {
		s.logger.Error("advance after searchable-pdf upload failed", "recordId", recordID, "error", err)
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

type entityHit struct {
	Label      string   `json:"label"`
	Value      string   `json:"value"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type postEntitiesRequest struct {
	Hits []entityHit `json:"hits"`
}

func (s *Service) handlePostEntities(w http.ResponseWriter, r *http.Request) {
	pageID, err := parseIDParam(r, "pageId")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if _, err := s.Pages.Get(pageID); err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req postEntitiesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	hits := make([]store.PageEntity, len(req.Hits))
	for i, h := range req.Hits {
		hits[i] = store.PageEntity{PageID: pageID, Label: h.Label, Value: h.Value, Confidence: h.Confidence}
	}
	if err := s.PageEntities.CreateBatch(pageID, hits); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int{"count": len(hits)})
}
