package store

import (
	"database/sql"
	"time"

	"github.com/archivorch/orchestrator/core/data"
)

// PageText is OCR (or born-digital extraction) output for one page. A page
// may carry several rows; the best one is the highest-confidence row, with
// a null confidence treated as lowest.
type PageText struct {
	ID         int64     `json:"id"`
	PageID     int64     `json:"pageId"`
	Engine     string    `json:"engine"`
	Confidence *float64  `json:"confidence,omitempty"`
	TextRaw    string    `json:"textRaw"`
	TextEN     *string   `json:"textEn,omitempty"`
	HOCR       *string   `json:"hocr,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PageTexts provides access to the page_text table.
type PageTexts struct {
	db *sql.DB
}

func NewPageTexts(db *sql.DB) *PageTexts { return &PageTexts{db: db} }

// Create inserts a page_text row inside tx.
func (p *PageTexts) Create(tx *sql.Tx, pageID int64, engine string, confidence *float64, textRaw string, hocr *string) (int64, error) {
	res, err := tx.Exec(`
		INSERT INTO page_text (page_id, engine, confidence, text_raw, hocr, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, pageID, engine, confidence, textRaw, hocr, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CreateDirect inserts a page_text row outside of any caller-managed
// transaction, for the processor surface's OCR-result endpoint.
func (p *PageTexts) CreateDirect(pageID int64, engine string, confidence *float64, textRaw string, hocr *string) (int64, error) {
	res, err := data.ExecWithRetry(p.db, `
		INSERT INTO page_text (page_id, engine, confidence, text_raw, hocr, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, pageID, engine, confidence, textRaw, hocr, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Best returns the highest-confidence page_text row for pageID, treating a
// null confidence as lowest. Returns nil if the page has no text yet.
func (p *PageTexts) Best(pageID int64) (*PageText, error) {
	row := p.db.QueryRow(`
		SELECT id, page_id, engine, confidence, text_raw, text_en, hocr, created_at
		FROM page_text WHERE page_id = ?
		ORDER BY COALESCE(confidence, -1) DESC, created_at DESC
		LIMIT 1
	`, pageID)

	var pt PageText
	var confidence sql.NullFloat64
	var textEN, hocr sql.NullString
	var createdAtUnix int64

	err := row.Scan(&pt.ID, &pt.PageID, &pt.Engine, &confidence, &pt.TextRaw, &textEN, &hocr, &createdAtUnix)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if confidence.Valid {
		pt.Confidence = &confidence.Float64
	}
	if textEN.Valid {
		pt.TextEN = &textEN.String
	}
	if hocr.Valid {
		pt.HOCR = &hocr.String
	}
	pt.CreatedAt = time.Unix(createdAtUnix, 0)

	return &pt, nil
}

// SetTranslation stores the English translation for a page's best page_text
// row, used by the translate_page worker callback.
func (p *PageTexts) SetTranslation(pageTextID int64, textEN string) error {
	_, err := data.ExecWithRetry(p.db, `UPDATE page_text SET text_en = ? WHERE id = ?`, textEN, pageTextID)
	return err
}
