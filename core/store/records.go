package store

import (
	"database/sql"
	"time"

	"github.com/archivorch/orchestrator/core/apierr"
	"github.com/archivorch/orchestrator/core/data"
)

// RecordStatus is a position in the record lifecycle. Only the transitions
// enumerated by the pipeline package are legal; Records.TransitionStatus
// enforces that by conditioning the update on the expected prior status.
type RecordStatus string

const (
	StatusIngesting  RecordStatus = "ingesting"
	StatusOCRPending RecordStatus = "ocr_pending"
	StatusOCRDone    RecordStatus = "ocr_done"
	StatusPDFPending RecordStatus = "pdf_pending"
	StatusPDFDone    RecordStatus = "pdf_done"
	StatusTranslating RecordStatus = "translating"
	StatusComplete   RecordStatus = "complete"
)

// Record is one archival document.
type Record struct {
	ID              int64        `json:"id"`
	ArchiveID       int64        `json:"archiveId"`
	SourceSystem    string       `json:"sourceSystem"`
	SourceRecordID  string       `json:"sourceRecordId"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	DateRange       string       `json:"dateRange"`
	Lang            *string      `json:"lang,omitempty"`
	MetadataLang    *string      `json:"metadataLang,omitempty"`
	Status          RecordStatus `json:"status"`
	PageCount       int          `json:"pageCount"`
	AttachmentCount int          `json:"attachmentCount"`
	PDFAttachmentID *int64       `json:"pdfAttachmentId,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// UpsertInput carries the scraper-supplied fields for Records.Upsert.
type UpsertInput struct {
	ArchiveID      int64
	SourceSystem   string
	SourceRecordID string
	Title          string
	Description    string
	DateRange      string
	Lang           *string
	MetadataLang   *string
}

// Records provides transactional access to the records table.
type Records struct {
	db *sql.DB
}

func NewRecords(db *sql.DB) *Records { return &Records{db: db} }

// Upsert creates a record by (source_system, source_record_id) or merges
// fields into the existing one. Status is never demoted by an update: only
// creation sets it, to ingesting.
func (r *Records) Upsert(in UpsertInput) (*Record, bool, error) {
	if err := validateLangCode(in.Lang); err != nil {
		return nil, false, err
	}
	if err := validateLangCode(in.MetadataLang); err != nil {
		return nil, false, err
	}

	var rec *Record
	created := false

	err := data.RunTransaction(r.db, func(tx *sql.Tx) error {
		row := tx.QueryRow(`
			SELECT id FROM records WHERE source_system = ? AND source_record_id = ?
		`, in.SourceSystem, in.SourceRecordID)

		var id int64
		err := row.Scan(&id)
		switch {
		case err == sql.ErrNoRows:
			now := time.Now()
			res, err := tx.Exec(`
				INSERT INTO records (
					archive_id, source_system, source_record_id, title, description,
					date_range, lang, metadata_lang, status, created_at, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, in.ArchiveID, in.SourceSystem, in.SourceRecordID, in.Title, in.Description,
				in.DateRange, in.Lang, in.MetadataLang, StatusIngesting, now.Unix(), now.Unix())
			if err != nil {
				return err
			}
			id, err = res.LastInsertId()
			if err != nil {
				return err
			}
			created = true

		case err != nil:
			return err

		default:
			now := time.Now()
			_, err = tx.Exec(`
				UPDATE records SET
					title = ?, description = ?, date_range = ?, lang = ?, metadata_lang = ?,
					updated_at = ?
				WHERE id = ?
			`, in.Title, in.Description, in.DateRange, in.Lang, in.MetadataLang, now.Unix(), id)
			if err != nil {
				return err
			}
		}

		row = tx.QueryRow(recordSelectCols+` FROM records WHERE id = ?`, id)
		rec, err = scanRecord(row)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return rec, created, nil
}

const recordSelectCols = `
	SELECT id, archive_id, source_system, source_record_id, title, description, date_range,
		lang, metadata_lang, status, page_count, attachment_count, pdf_attachment_id,
		created_at, updated_at`

// Get fetches a record by id.
func (r *Records) Get(id int64) (*Record, error) {
	row := r.db.QueryRow(recordSelectCols+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFound("record %d not found", id)
	}
	return rec, err
}

// GetBySource fetches a record by its natural key.
func (r *Records) GetBySource(sourceSystem, sourceRecordID string) (*Record, error) {
	row := r.db.QueryRow(recordSelectCols+` FROM records WHERE source_system = ? AND source_record_id = ?`,
		sourceSystem, sourceRecordID)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFound("record %s/%s not found", sourceSystem, sourceRecordID)
	}
	return rec, err
}

// ListFilter narrows List's results.
type ListFilter struct {
	Status    RecordStatus
	ArchiveID int64
	Limit     int
	Offset    int
}

// List returns records matching filter, newest first.
func (r *Records) List(f ListFilter) ([]Record, error) {
	query := recordSelectCols + ` FROM records WHERE 1=1`
	var args []any

	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.ArchiveID != 0 {
		query += ` AND archive_id = ?`
		args = append(args, f.ArchiveID)
	}
	query += ` ORDER BY created_at DESC`

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer data.SafeClose(rows, "list records")

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// Search runs a keyword query against the FTS5 shadow of title/description.
func (r *Records) Search(keyword string, archiveID int64, limit int) ([]Record, int, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := recordSelectCols + `
		FROM records
		WHERE id IN (SELECT rowid FROM records_fts WHERE records_fts MATCH ?)`
	countQuery := `SELECT COUNT(*) FROM records
		WHERE id IN (SELECT rowid FROM records_fts WHERE records_fts MATCH ?)`
	args := []any{keyword}
	countArgs := []any{keyword}

	if archiveID != 0 {
		query += ` AND archive_id = ?`
		countQuery += ` AND archive_id = ?`
		args = append(args, archiveID)
		countArgs = append(countArgs, archiveID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	var total int
	if err := r.db.QueryRow(countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer data.SafeClose(rows, "search records")

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *rec)
	}
	return out, total, rows.Err()
}

// TransitionStatus performs the spec's conditional update: it only applies
// if the row's current status still matches from. Returns whether the
// transition actually took effect, never an error for a no-op.
func (r *Records) TransitionStatus(id int64, from, to RecordStatus) (bool, error) {
	res, err := data.ExecWithRetry(r.db, `
		UPDATE records SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, to, time.Now().Unix(), id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ForceStatus sets status unconditionally, bypassing the conditional update
// that TransitionStatus performs.
func (r *Records) ForceStatus(id int64, to RecordStatus) error {
	_, err := data.ExecWithRetry(r.db, `
		UPDATE records SET status = ?, updated_at = ? WHERE id = ?
	`, to, time.Now().Unix(), id)
	return err
}

// RecomputePageCount sets page_count to the actual number of Page rows.
func (r *Records) RecomputePageCount(tx *sql.Tx, recordID int64) error {
	_, err := tx.Exec(`
		UPDATE records SET page_count = (
			SELECT COUNT(*) FROM pages WHERE record_id = ?
		), updated_at = ?
		WHERE id = ?
	`, recordID, time.Now().Unix(), recordID)
	return err
}

// IncrementAttachmentCount bumps attachment_count by one inside tx.
func (r *Records) IncrementAttachmentCount(tx *sql.Tx, recordID int64) error {
	_, err := tx.Exec(`
		UPDATE records SET attachment_count = attachment_count + 1, updated_at = ? WHERE id = ?
	`, time.Now().Unix(), recordID)
	return err
}

// SetPDFAttachment sets or clears (nil) the record's pdf_attachment_id.
func (r *Records) SetPDFAttachment(tx *sql.Tx, recordID int64, attachmentID *int64) error {
	_, err := tx.Exec(`
		UPDATE records SET pdf_attachment_id = ?, updated_at = ? WHERE id = ?
	`, attachmentID, time.Now().Unix(), recordID)
	return err
}

// Repair resets a non-terminal record to ingesting and clears its PDF link,
// keeping pages and their page_text rows.
func (r *Records) Repair(id int64) error {
	return data.RunTransaction(r.db, func(tx *sql.Tx) error {
		var status RecordStatus
		err := tx.QueryRow(`SELECT status FROM records WHERE id = ?`, id).Scan(&status)
		if err == sql.ErrNoRows || (err == nil && status == StatusComplete) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := r.SetPDFAttachment(tx, id, nil); err != nil {
			return err
		}
		_, err = tx.Exec(`
			UPDATE records SET status = ?, updated_at = ? WHERE id = ?
		`, StatusIngesting, time.Now().Unix(), id)
		return err
	})
}

// Delete removes a record. pdf_attachment_id must be nulled first to break
// the record<->attachment cycle; pages, attachments, jobs and page_text
// cascade via foreign keys.
func (r *Records) Delete(id int64) error {
	return data.RunTransaction(r.db, func(tx *sql.Tx) error {
		if err := r.SetPDFAttachment(tx, id, nil); err != nil {
			return err
		}
		res, err := tx.Exec(`DELETE FROM records WHERE id = ?`, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return apierr.NotFound("record %d not found", id)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var lang, metadataLang sql.NullString
	var pdfAttachmentID sql.NullInt64
	var createdAtUnix, updatedAtUnix int64

	err := row.Scan(
		&rec.ID, &rec.ArchiveID, &rec.SourceSystem, &rec.SourceRecordID, &rec.Title,
		&rec.Description, &rec.DateRange, &lang, &metadataLang, &rec.Status,
		&rec.PageCount, &rec.AttachmentCount, &pdfAttachmentID, &createdAtUnix, &updatedAtUnix,
	)
	if err != nil {
		return nil, err
	}

	if lang.Valid {
		rec.Lang = &lang.String
	}
	if metadataLang.Valid {
		rec.MetadataLang = &metadataLang.String
	}
	if pdfAttachmentID.Valid {
		rec.PDFAttachmentID = &pdfAttachmentID.Int64
	}
	rec.CreatedAt = time.Unix(createdAtUnix, 0)
	rec.UpdatedAt = time.Unix(updatedAtUnix, 0)

	return &rec, nil
}

func validateLangCode(code *string) error {
	if code == nil {
		return nil
	}
	if len(*code) != 2 {
		return apierr.InvalidInput("language code %q must be 2 characters", *code)
	}
	return nil
}
