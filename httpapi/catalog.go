package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/archivorch/orchestrator/core/apierr"
	"github.com/archivorch/orchestrator/core/events"
	"github.com/archivorch/orchestrator/core/store"
)

func (s *Service) registerCatalog(r chi.Router) {
	r.Get("/records", s.handleListRecords)
	r.Get("/records/{id}", s.handleGetRecord)
	r.Get("/records/{id}/pages", s.handleListPages)
	r.Get("/records/events", s.handleUIEvents)
	r.Get("/records/{id}/pdf", s.handleRecordPDF)
	r.Get("/files/{attachmentId}", s.handleFile)
	r.Get("/search", s.handleSearch)
}

func (s *Service) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.ListFilter{
		Status:    store.RecordStatus(q.Get("status")),
		ArchiveID: parseInt64Query(q, "archiveId"),
		Limit:     int(parseInt64Query(q, "limit")),
		Offset:    int(parseInt64Query(q, "offset")),
	}

	recs, err := s.Records.List(f)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs})
}

func (s *Service) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	recordID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	rec, err := s.Records.Get(recordID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Service) handleListPages(w http.ResponseWriter, r *http.Request) {
	recordID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	pages, err := s.Pages.ListByRecord(recordID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

// handleUIEvents implements the UI stream's subscribe contract. Unlike the
// worker stream, UI subscriptions are anonymous: each connection gets its
// own id, with no reconnect-supersedes-prior semantics.
func (s *Service) handleUIEvents(w http.ResponseWriter, r *http.Request) {
	id, ch := s.Hub.SubscribeUI()
	defer s.Hub.UnsubscribeUI(id)

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
			case <-r.Context().Done():
				return
			}
		}
	}()

	if err := events.Serve(w, r, frames); err != nil {
		s.logger.Warn("ui stream ended", "error", err)
	}
}

func (s *Service) handleRecordPDF(w http.ResponseWriter, r *http.Request) {
	recordID, err := parseIDParam(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	att, err := s.Attachments.LatestByRole(recordID, store.RoleSearchablePDF)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if att == nil {
		writeError(w, s.logger, apierr.NotFound("record %d has no searchable pdf yet", recordID))
		return
	}
	s.streamAttachment(w, r, att)
}

func (s *Service) handleFile(w http.ResponseWriter, r *http.Request) {
	attachmentID, err := parseIDParam(r, "attachmentId")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	att, err := s.Attachments.Get(attachmentID)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.streamAttachment(w, r, att)
}

func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	keyword := q.Get("q")
	if keyword == "" {
		writeError(w, s.logger, apierr.InvalidInput("q is required"))
		return
	}
	archiveID := parseInt64Query(q, "archiveId")
	limit := int(parseInt64Query(q, "limit"))

	recs, total, err := s.Records.Search(keyword, archiveID, limit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs, "count": total})
}

func parseInt64Query(q map[string][]string, key string) int64 {
	v := q[key]
	if len(v) == 0 || v[0] == "" {
		return 0
	}
	n, err := strconv.ParseInt(v[0], 10, 64)
	if err != nil {
		return 0
	}
	return n
}
