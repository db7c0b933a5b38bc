package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/archivorch/orchestrator/core/apierr"
	"github.com/archivorch/orchestrator/core/store"
)

func (s *Service) registerIngest(r chi.Router) {
	r.Post("/records", s.handleUpsertRecord)
	r.Post("/records/{id}/pages", s.handleAttachPage)
	r.Post("/records/{id}/pdf", s.handleAttachOriginalPDF)
	r.Post("/records/{id}/text-pdf", s.handleAttachTextPDF)
	r.Post("/records/{id}/repair", s.handleRepair)
	r.Post("/records/{id}/complete", s.handleCompleteIngest)
	r.Delete("/records/{id}", s.handleDeleteRecord)
	r.Get("/status/{sourceSystem}/{sourceRecordId}", s.handleIngestStatus)
}

type upsertRecordRequest struct {
	ArchiveID      int64   `json:"archiveId"`
	SourceSystem   string  `json:"sourceSystem"`
	SourceRecordID string  `json:"sourceRecordId"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	DateRange      string  `json:"dateRange"`
	Lang           *string `json:"lang,omitempty"`
	MetadataLang   *string `json:"metadataLang,omitempty"`
}

func (s *Service) handleUpsertRecord(w http.ResponseWriter, r *http.Request) {
	var req upsertRecordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if req.SourceSystem == "" || req.SourceRecordID == "" {
		writeError(w, s.logger, apierr.InvalidInput("sourceSystem and sourceRecordId are required"))
		return
	}

	rec, err := s.Ingest.UpsertRecord(store.UpsertInput{
		ArchiveID: req.ArchiveID, SourceSystem: req.SourceSystem, SourceRecordID: req.SourceRecordID,
		Title: req.Title, Description: req.Description, DateRange: req.DateRange,
		Lang: req.Lang, MetadataLang: req.MetadataLang,
	})
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if s.ScraperPresence != nil {
		s.ScraperPresence.Heartbeat(req.SourceSystem, 1, 0)
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Service) handleAttachPage(w http.ResponseWriter, r *http.Request) {
	recordID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, s.logger, apierr.InvalidInput("malformed multipart body: %v", err))
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, s.logger, apierr.InvalidInput("missing image part: %v", err))
		return
	}
	defer file.Close()

	var seq int
	var width, height *int
	var label string
	if meta := r.FormValue("metadata"); meta != "" {
		var m struct {
			Seq    int    `json:"seq"`
			Label  string `json:"label"`
			Width  *int   `json:"width"`
			Height *int   `json:"height"`
		}
		if err := json.Unmarshal([]byte(meta), &m); err != nil {
			writeError(w, s.logger, apierr.InvalidInput("malformed metadata part: %v", err))
			return
		}
		seq, label, width, height = m.Seq, m.Label, m.Width, m.Height
	}
	if seq == 0 {
		var err error
		seq, err = parseSeqField(r)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
	}

	page, err := s.Ingest.AttachPage(recordID, seq, file, label, width, height)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if s.ScraperPresence != nil {
		if rec, rerr := s.Records.Get(recordID); rerr == nil {
			s.ScraperPresence.Heartbeat(rec.SourceSystem, 0, 1)
		}
	}
	writeJSON(w, http.StatusCreated, page)
}

func (s *Service) handleAttachOriginalPDF(w http.ResponseWriter, r *http.Request) {
	recordID, err := parseIDParam(r, "id")
	if err != nil {
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

	att, err := s.Ingest.AttachOriginalPDF(recordID, file)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

// handleAttachTextPDF implements the born-digital PDF bypass. pdfext needs a
// local file path for poppler-utils, so the upload is spooled to a scratch
// file before processing and removed afterward either way.
func (s *Service) handleAttachTextPDF(w http.ResponseWriter, r *http.Request) {
	recordID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := r.ParseMultipartForm(110 << 20); err != nil {
		writeError(w, s.logger, apierr.InvalidInput("malformed multipart body: %v", err))
		return
	}
	file, _, err := r.FormFile("pdf")
	if err != nil {
		writeError(w, s.logger, apierr.InvalidInput("missing pdf part: %v", err))
		return
	}
	defer file.Close()

	workDir, err := os.MkdirTemp(s.ScratchDir, "text-pdf-*")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	defer os.RemoveAll(workDir)

	localPath := filepath.Join(workDir, "upload.pdf")
	dst, err := os.Create(localPath)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	written, err := io.CopyN(dst, file, 100<<20+1)
	dst.Close()
	if err != nil && err != io.EOF {
		writeError(w, s.logger, err)
		return
	}
	if written > 100<<20 {
		writeError(w, s.logger, apierr.InvalidInput("pdf exceeds 100 MiB limit"))
		return
	}

	pages, err := s.Ingest.AttachTextPDF(recordID, localPath, workDir)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"recordId":   recordID,
		"pages":      pages,
		"ocrSkipped": true,
	})
}

func (s *Service) handleRepair(w http.ResponseWriter, r *http.Request) {
	recordID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	rec, err := s.Ingest.Repair(recordID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	pages, err := s.Pages.ListByRecord(recordID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	seqs := make([]int, len(pages))
	for i, p := range pages {
		seqs[i] = p.Seq
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": rec, "pageSeqs": seqs})
}

func (s *Service) handleCompleteIngest(w http.ResponseWriter, r *http.Request) {
	recordID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	rec, err := s.Ingest.CompleteIngest(recordID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Service) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	recordID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if err := s.Ingest.Delete(recordID); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	sourceSystem := chi.URLParam(r, "sourceSystem")
	sourceRecordID := chi.URLParam(r, "sourceRecordId")

	rec, err := s.Records.GetBySource(sourceSystem, sourceRecordID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
