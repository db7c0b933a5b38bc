package store

import (
	"database/sql"
	"time"

	"github.com/archivorch/orchestrator/core/data"
)

// PageEntity is one named-entity hit a worker extracted from a page's text.
type PageEntity struct {
	ID         int64     `json:"id"`
	PageID     int64     `json:"pageId"`
	Label      string    `json:"label"`
	Value      string    `json:"value"`
	Confidence *float64  `json:"confidence,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PageEntities provides access to the page_entities table.
type PageEntities struct {
	db *sql.DB
}

func NewPageEntities(db *sql.DB) *PageEntities { return &PageEntities{db: db} }

// CreateBatch inserts the hits a worker reported for a page in one
// transaction.
func (e *PageEntities) CreateBatch(pageID int64, hits []PageEntity) error {
	return data.RunTransaction(e.db, func(tx *sql.Tx) error {
		now := time.Now().Unix()
		for _, h := range hits {
			if _, err := tx.Exec(`
				INSERT INTO page_entities (page_id, label, value, confidence, created_at)
				VALUES (?, ?, ?, ?, ?)
			`, pageID, h.Label, h.Value, h.Confidence, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListByPage returns every entity hit recorded for pageID.
func (e *PageEntities) ListByPage(pageID int64) ([]PageEntity, error) {
	rows, err := e.db.Query(`
		SELECT id, page_id, label, value, confidence, created_at
		FROM page_entities WHERE page_id = ? ORDER BY id
	`, pageID)
	if err != nil {
		return nil, err
	}
	defer data.SafeClose(rows, "list page entities")

	var out []PageEntity
	for rows.Next() {
		var pe PageEntity
		var confidence sql.NullFloat64
		var createdAtUnix int64
		if err := rows.Scan(&pe.ID, &pe.PageID, &pe.Label, &pe.Value, &confidence, &createdAtUnix); err != nil {
			return nil, err
		}
		if confidence.Valid {
			pe.Confidence = &confidence.Float64
		}
		pe.CreatedAt = time.Unix(createdAtUnix, 0)
		out = append(out, pe)
	}
	return out, rows.Err()
}
