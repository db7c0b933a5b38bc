package store

import (
	"database/sql"

	"github.com/archivorch/orchestrator/core/apierr"
	"github.com/archivorch/orchestrator/core/data"
)

// Page is one scanned leaf within a record.
type Page struct {
	ID           int64   `json:"id"`
	RecordID     int64   `json:"recordId"`
	Seq          int     `json:"seq"`
	AttachmentID *int64  `json:"attachmentId,omitempty"`
	Label        string  `json:"label"`
	Width        *int    `json:"width,omitempty"`
	Height       *int    `json:"height,omitempty"`
	SourceURL    string  `json:"sourceUrl"`
}

// Pages provides access to the pages table.
type Pages struct {
	db *sql.DB
}

func NewPages(db *sql.DB) *Pages { return &Pages{db: db} }

// Upsert creates or replaces the page at (recordID, seq) inside tx, pointing
// it at attachmentID. Re-attaching the same seq overwrites metadata and the
// attachment reference.
func (p *Pages) Upsert(tx *sql.Tx, recordID int64, seq int, attachmentID int64, label string, width, height *int) (int64, error) {
	row := tx.QueryRow(`SELECT id FROM pages WHERE record_id = ? AND seq = ?`, recordID, seq)
	var id int64
	err := row.Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.Exec(`
			INSERT INTO pages (record_id, seq, attachment_id, label, width, height)
			VALUES (?, ?, ?, ?, ?, ?)
		`, recordID, seq, attachmentID, label, width, height)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	case err != nil:
		return 0, err
	default:
		_, err = tx.Exec(`
			UPDATE pages SET attachment_id = ?, label = ?, width = ?, height = ? WHERE id = ?
		`, attachmentID, label, width, height, id)
		return id, err
	}
}

// Get fetches a page by id.
func (p *Pages) Get(id int64) (*Page, error) {
	row := p.db.QueryRow(`
		SELECT id, record_id, seq, attachment_id, label, width, height, source_url
		FROM pages WHERE id = ?
	`, id)
	page, err := scanPage(row)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFound("page %d not found", id)
	}
	return page, err
}

// ListByRecord returns every page of a record, ordered by seq.
func (p *Pages) ListByRecord(recordID int64) ([]Page, error) {
	rows, err := p.db.Query(`
		SELECT id, record_id, seq, attachment_id, label, width, height, source_url
		FROM pages WHERE record_id = ? ORDER BY seq
	`, recordID)
	if err != nil {
		return nil, err
	}
	defer data.SafeClose(rows, "list pages")

	var out []Page
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *page)
	}
	return out, rows.Err()
}

// CountWithoutText returns the number of pages in recordID with no page_text
// row, used to decide whether OCR is complete.
func (p *Pages) CountWithoutText(recordID int64) (int, error) {
	var n int
	err := p.db.QueryRow(`
		SELECT COUNT(*) FROM pages pg
		WHERE pg.record_id = ? AND NOT EXISTS (
			SELECT 1 FROM page_text pt WHERE pt.page_id = pg.id
		)
	`, recordID).Scan(&n)
	return n, err
}

// IDsWithoutText returns the ids of pages in recordID lacking a page_text
// row, used to decide which pages still need an OCR job.
func (p *Pages) IDsWithoutText(recordID int64) ([]int64, error) {
	rows, err := p.db.Query(`
		SELECT pg.id FROM pages pg
		WHERE pg.record_id = ? AND NOT EXISTS (
			SELECT 1 FROM page_text pt WHERE pt.page_id = pg.id
		)
		ORDER BY pg.seq
	`, recordID)
	if err != nil {
		return nil, err
	}
	defer data.SafeClose(rows, "list untexted pages")

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanPage(row rowScanner) (*Page, error) {
	var pg Page
	var attachmentID sql.NullInt64
	var width, height sql.NullInt64

	if err := row.Scan(&pg.ID, &pg.RecordID, &pg.Seq, &attachmentID, &pg.Label, &width, &height, &pg.SourceURL); err != nil {
		return nil, err
	}
	if attachmentID.Valid {
		pg.AttachmentID = &attachmentID.Int64
	}
	if width.Valid {
		w := int(width.Int64)
		pg.Width = &w
	}
	if height.Valid {
		h := int(height.Int64)
		pg.Height = &h
	}
	return &pg, nil
}
