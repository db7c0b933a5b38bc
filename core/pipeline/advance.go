package pipeline

import (
	"database/sql"
	"fmt"

	"github.com/archivorch/orchestrator/core/data"
	"github.com/archivorch/orchestrator/core/events"
	"github.com/archivorch/orchestrator/core/store"
)

// Advance pushes recordID as far through the state machine as it can
// legally go right now, re-checking after every transition it makes. Both
// the stage-completion hook and every audit pass call this (or the checks
// it's built from) so the two paths never diverge, per the design note that
// a single shared function should own "how far can this record legally
// advance."
func (s *Service) Advance(recordID int64) error {
	for i := 0; i < 8; i++ {
		rec, err := s.Records.Get(recordID)
		if err != nil {
			return err
		}

		var moved bool
		var stepErr error

		switch rec.Status {
		case store.StatusOCRPending:
			moved, stepErr = s.ocrCompletionCheck(recordID)
		case store.StatusOCRDone:
			moved, stepErr = s.runPostOCRFanoutIfNeeded(recordID)
		case store.StatusPDFPending:
			moved, stepErr = s.pdfCompletionCheck(recordID)
		case store.StatusPDFDone:
			moved, stepErr = s.pdfDoneCheck(recordID)
		case store.StatusTranslating:
			moved, stepErr = s.translationCompletionCheck(recordID)
		default:
			return nil
		}
		if stepErr != nil {
			return stepErr
		}
		if !moved {
			return nil
		}
	}
	return nil
}

// ocrCompletionCheck implements §4.3.1: if every page of the record now has
// a page_text row, transition ocr_pending -> ocr_done and fire post-OCR
// fan-out.
func (s *Service) ocrCompletionCheck(recordID int64) (bool, error) {
	remaining, err := s.Pages.CountWithoutText(recordID)
	if err != nil {
		return false, err
	}
	if remaining != 0 {
		return false, nil
	}

	moved, err := s.Records.TransitionStatus(recordID, store.StatusOCRPending, store.StatusOCRDone)
	if err != nil || !moved {
		return false, err
	}

	if err := s.Events.LogDirect(recordID, "ocr", "completed", ""); err != nil {
		return false, err
	}
	if _, err := s.postOCRFanout(recordID); err != nil {
		return false, err
	}
	return true, nil
}

// runPostOCRFanoutIfNeeded backs audit pass 4: an ocr_done record with no
// build_searchable_pdf job never got its fan-out, so run it again.
func (s *Service) runPostOCRFanoutIfNeeded(recordID int64) (bool, error) {
	has, err := s.Jobs.HasJobOfKind(recordID, KindBuildSearchablePDF)
	if err != nil {
		return false, err
	}
	if has {
		return false, nil
	}
	return s.postOCRFanout(recordID)
}

// postOCRFanout implements §4.3.4: enqueue the PDF-build and translation
// jobs that follow OCR completion, then transition ocr_done -> pdf_pending.
func (s *Service) postOCRFanout(recordID int64) (bool, error) {
	rec, err := s.Records.Get(recordID)
	if err != nil {
		return false, err
	}

	pages, err := s.Pages.ListByRecord(recordID)
	if err != nil {
		return false, err
	}

	if _, err := s.Enqueue(KindBuildSearchablePDF, &recordID, nil, ""); err != nil {
		return false, err
	}

	metadataPayload := ""
	if rec.MetadataLang != nil {
		metadataPayload = fmt.Sprintf(`{"lang":%q}`, *rec.MetadataLang)
	}
	if _, err := s.Enqueue(KindTranslateRecord, &recordID, nil, metadataPayload); err != nil {
		return false, err
	}

	pageJobs := 0
	if rec.Lang == nil || *rec.Lang != "en" {
		for _, pg := range pages {
			pageID := pg.ID
			if _, err := s.Enqueue(KindTranslatePage, &recordID, &pageID, ""); err != nil {
				return false, err
			}
			pageJobs++
		}
	}

	moved, err := s.Records.TransitionStatus(recordID, store.StatusOCRDone, store.StatusPDFPending)
	if err != nil {
		return false, err
	}
	if moved {
		if err := s.Events.LogDirect(recordID, "pdf_build", "started", ""); err != nil {
			return false, err
		}
		if err := s.Events.LogDirect(recordID, "translation", "started", fmt.Sprintf("%d page jobs enqueued", pageJobs)); err != nil {
			return false, err
		}
	}
	return true, nil
}

// pdfCompletionCheck implements §4.3.2: when a searchable_pdf attachment
// exists, link it to the record and transition pdf_pending -> pdf_done.
// Advance's loop then runs pdfDoneCheck to see whether translation is also
// already done.
func (s *Service) pdfCompletionCheck(recordID int64) (bool, error) {
	att, err := s.Attachments.LatestByRole(recordID, store.RoleSearchablePDF)
	if err != nil {
		return false, err
	}
	if att == nil {
		return false, nil
	}

	var moved bool
	err = data.RunTransaction(s.db, func(tx *sql.Tx) error {
		if err := s.Records.SetPDFAttachment(tx, recordID, &att.ID); err != nil {
			return err
		}
		res, err := tx.Exec(`
			UPDATE records SET status = ? WHERE id = ? AND status = ?
		`, store.StatusPDFDone, recordID, store.StatusPDFPending)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		moved = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if !moved {
		return false, nil
	}
	return true, nil
}

// pdfDoneCheck implements steps 2-3 of §4.3.2 for a record already in
// pdf_done: move to translating if translation is still outstanding,
// otherwise straight to complete.
func (s *Service) pdfDoneCheck(recordID int64) (bool, error) {
	pending, err := s.Jobs.PendingForRecord(recordID, "translate_%")
	if err != nil {
		return false, err
	}

	if pending {
		moved, err := s.Records.TransitionStatus(recordID, store.StatusPDFDone, store.StatusTranslating)
		return moved, err
	}

	moved, err := s.Records.TransitionStatus(recordID, store.StatusPDFDone, store.StatusComplete)
	if err != nil || !moved {
		return moved, err
	}
	if err := s.Events.LogDirect(recordID, "translation", "completed", ""); err != nil {
		return false, err
	}
	s.Hub.PublishRecord(events.UIEvent{ID: recordID, Action: "updated"})
	return true, nil
}

// translationCompletionCheck implements §4.3.3: once no translate_page or
// translate_record job for the record is still pending or claimed, finish.
// A failed translate job counts as finished here.
func (s *Service) translationCompletionCheck(recordID int64) (bool, error) {
	pending, err := s.Jobs.PendingForRecord(recordID, "translate_%")
	if err != nil {
		return false, err
	}
	if pending {
		return false, nil
	}

	moved, err := s.Records.TransitionStatus(recordID, store.StatusTranslating, store.StatusComplete)
	if err != nil || !moved {
		return false, err
	}
	if err := s.Events.LogDirect(recordID, "translation", "completed", ""); err != nil {
		return false, err
	}
	s.Hub.PublishRecord(events.UIEvent{ID: recordID, Action: "updated"})
	return true, nil
}
