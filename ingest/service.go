// Package ingest implements the orchestrator's ingest surface: creating and
// updating records, attaching pages and PDFs, and kicking off the pipeline.
package ingest

import (
	"bytes"
	"database/sql"
	"fmt"
	"io"

	"github.com/archivorch/orchestrator/core/apierr"
	"github.com/archivorch/orchestrator/core/blobstore"
	"github.com/archivorch/orchestrator/core/data"
	"github.com/archivorch/orchestrator/core/pdfext"
	"github.com/archivorch/orchestrator/core/pipeline"
	"github.com/archivorch/orchestrator/core/store"
)

// Service implements the ingest surface's operations.
type Service struct {
	db       *sql.DB
	Records  *store.Records
	Pages    *store.Pages
	Attachments *store.Attachments
	PageTexts *store.PageTexts
	Events   *store.PipelineEvents
	Pipeline *pipeline.Service
	Blobs    *blobstore.Store
}

// New constructs an ingest Service.
func New(db *sql.DB, records *store.Records, pages *store.Pages, attachments *store.Attachments, pageTexts *store.PageTexts, pipelineEvents *store.PipelineEvents, pl *pipeline.Service, blobs *blobstore.Store) *Service {
	return &Service{
		db: db, Records: records, Pages: pages, Attachments: attachments,
		PageTexts: pageTexts, Events: pipelineEvents, Pipeline: pl, Blobs: blobs,
	}
}

// UpsertRecord creates or merges a record by (source_system,
// source_record_id). On create it logs ingest/started.
func (s *Service) UpsertRecord(in store.UpsertInput) (*store.Record, error) {
	rec, created, err := s.Records.Upsert(in)
	if err != nil {
		return nil, err
	}
	if created {
		if err := s.Events.LogDirect(rec.ID, "ingest", "started", ""); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// AttachPage stores a page image at its deterministic path and creates the
// Page + Attachment rows for it.
func (s *Service) AttachPage(recordID int64, seq int, imageBytes io.Reader, label string, width, height *int) (*store.Page, error) {
	if seq <= 0 {
		return nil, apierr.InvalidInput("page seq must be positive, got %d", seq)
	}
	if _, err := s.Records.Get(recordID); err != nil {
		return nil, err
	}

	relPath := blobstore.PageImagePath(recordID, seq)
	sha, size, err := s.Blobs.Write(relPath, imageBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to write page image: %w", err)
	}

	var page *store.Page
	err = data.RunTransaction(s.db, func(tx *sql.Tx) error {
		attachmentID, err := s.Attachments.Create(tx, recordID, store.RolePageImage, relPath, sha, "image/jpeg", size)
		if err != nil {
			return err
		}
		pageID, err := s.Pages.Upsert(tx, recordID, seq, attachmentID, label, width, height)
		if err != nil {
			return err
		}
		if err := s.Records.RecomputePageCount(tx, recordID); err != nil {
			return err
		}
		if err := s.Records.IncrementAttachmentCount(tx, recordID); err != nil {
			return err
		}
		page = &store.Page{ID: pageID, RecordID: recordID, Seq: seq, AttachmentID: &attachmentID, Label: label, Width: width, Height: height}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// AttachOriginalPDF stores the record's original PDF and points
// pdf_attachment_id at it.
func (s *Service) AttachOriginalPDF(recordID int64, pdfBytes io.Reader) (*store.Attachment, error) {
	if _, err := s.Records.Get(recordID); err != nil {
		return nil, err
	}

	relPath := blobstore.OriginalPDFPath(recordID)
	sha, size, err := s.Blobs.Write(relPath, pdfBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to write original pdf: %w", err)
	}

	var att *store.Attachment
	err = data.RunTransaction(s.db, func(tx *sql.Tx) error {
		id, err := s.Attachments.Create(tx, recordID, store.RoleOriginalPDF, relPath, sha, "application/pdf", size)
		if err != nil {
			return err
		}
		if err := s.Records.SetPDFAttachment(tx, recordID, &id); err != nil {
			return err
		}
		if err := s.Records.IncrementAttachmentCount(tx, recordID); err != nil {
			return err
		}
		att = &store.Attachment{ID: id, RecordID: recordID, Role: store.RoleOriginalPDF, Path: relPath, SHA256: sha, Mime: "application/pdf", ByteSize: size}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return att, nil
}

// AttachTextPDF implements the born-digital PDF bypass: rasterize each page,
// extract its embedded text, and pre-populate page_text so complete-ingest
// skips OCR for this record.
func (s *Service) AttachTextPDF(recordID int64, localPDFPath, workDir string) (int, error) {
	if _, err := s.Records.Get(recordID); err != nil {
		return 0, err
	}

	pages, err := pdfext.ExtractAll(localPDFPath, workDir)
	if err != nil {
		return 0, apierr.InvalidInput("failed to process pdf: %v", err)
	}

	for _, pg := range pages {
		relPath := blobstore.PageImagePath(recordID, pg.Seq)
		sha, size, err := s.Blobs.Write(relPath, bytes.NewReader(pg.ImageJPEG))
		if err != nil {
			return 0, fmt.Errorf("failed to write rasterized page %d: %w", pg.Seq, err)
		}

		confidence := 1.0
		err = data.RunTransaction(s.db, func(tx *sql.Tx) error {
			attachmentID, err := s.Attachments.Create(tx, recordID, store.RolePageImage, relPath, sha, "image/jpeg", size)
			if err != nil {
				return err
			}
			pageID, err := s.Pages.Upsert(tx, recordID, pg.Seq, attachmentID, "", nil, nil)
			if err != nil {
				return err
			}
			if _, err := s.PageTexts.Create(tx, pageID, "pdfbox-equivalent", &confidence, pg.Text, nil); err != nil {
				return err
			}
			if err := s.Records.RecomputePageCount(tx, recordID); err != nil {
				return err
			}
			return s.Records.IncrementAttachmentCount(tx, recordID)
		})
		if err != nil {
			return 0, err
		}
	}

	return len(pages), nil
}

// CompleteIngest enqueues OCR for any page lacking text and transitions the
// record onward. Calling it twice is a no-op the second time because a
// record that has already left ingesting is returned unchanged.
func (s *Service) CompleteIngest(recordID int64) (*store.Record, error) {
	rec, err := s.Records.Get(recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status != store.StatusIngesting {
		return rec, nil
	}

	if rec.PageCount == 0 {
		if moved, err := s.Records.TransitionStatus(recordID, store.StatusIngesting, store.StatusOCRDone); err != nil {
			return nil, err
		} else if moved {
			if err := s.Events.LogDirect(recordID, "ingest", "completed", ""); err != nil {
				return nil, err
			}
			if err := s.Pipeline.Advance(recordID); err != nil {
				return nil, err
			}
		}
		return s.Records.Get(recordID)
	}

	untexted, err := s.Pages.IDsWithoutText(recordID)
	if err != nil {
		return nil, err
	}

	if len(untexted) == 0 {
		moved, err := s.Records.TransitionStatus(recordID, store.StatusIngesting, store.StatusOCRDone)
		if err != nil {
			return nil, err
		}
		if moved {
			if err := s.Events.LogDirect(recordID, "ingest", "completed", ""); err != nil {
				return nil, err
			}
			if err := s.Pipeline.Advance(recordID); err != nil {
				return nil, err
			}
		}
		return s.Records.Get(recordID)
	}

	payload := ""
	if rec.Lang != nil {
		payload = fmt.Sprintf(`{"lang":%q}`, *rec.Lang)
	}
	for _, pageID := range untexted {
		pid := pageID
		if _, err := s.Pipeline.Enqueue(pipeline.KindOCRPagePaddle, &recordID, &pid, payload); err != nil {
			return nil, err
		}
	}

	moved, err := s.Records.TransitionStatus(recordID, store.StatusIngesting, store.StatusOCRPending)
	if err != nil {
		return nil, err
	}
	if moved {
		if err := s.Events.LogDirect(recordID, "ingest", "completed", ""); err != nil {
			return nil, err
		}
		if err := s.Events.LogDirect(recordID, "ocr", "started", ""); err != nil {
			return nil, err
		}
	}

	return s.Records.Get(recordID)
}

// Repair resets a non-complete record to ingesting, keeping existing pages and
// page_text, so the caller can add/replace pages and call CompleteIngest
// again.
func (s *Service) Repair(recordID int64) (*store.Record, error) {
	if err := s.Records.Repair(recordID); err != nil {
		return nil, err
	}
	return s.Records.Get(recordID)
}

// Delete removes a record and its blob-store files.
func (s *Service) Delete(recordID int64) error {
	if err := s.Records.Delete(recordID); err != nil {
		return err
	}
	return s.Blobs.DeleteRecordTree(recordID)
}
