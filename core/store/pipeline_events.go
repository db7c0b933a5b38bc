package store

import (
	"database/sql"
	"time"

	"github.com/archivorch/orchestrator/core/data"
)

// PipelineEvent is an append-only audit-log row recording a stage
// transition. Never mutated or deleted except by record cascade.
type PipelineEvent struct {
	ID        int64     `json:"id"`
	RecordID  int64     `json:"recordId"`
	Stage     string    `json:"stage"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// PipelineEvents provides access to the pipeline_events table.
type PipelineEvents struct {
	db *sql.DB
}

func NewPipelineEvents(db *sql.DB) *PipelineEvents { return &PipelineEvents{db: db} }

// Log appends a pipeline event inside tx.
func (p *PipelineEvents) Log(tx *sql.Tx, recordID int64, stage, event, detail string) error {
	_, err := tx.Exec(`
		INSERT INTO pipeline_events (record_id, stage, event, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, recordID, stage, event, detail, time.Now().Unix())
	return err
}

// LogDirect appends a pipeline event outside of any caller-managed
// transaction, for call sites that don't already hold one.
func (p *PipelineEvents) LogDirect(recordID int64, stage, event, detail string) error {
	_, err := data.ExecWithRetry(p.db, `
		INSERT INTO pipeline_events (record_id, stage, event, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, recordID, stage, event, detail, time.Now().Unix())
	return err
}

// HasEvent reports whether recordID has a pipeline event matching
// stage/event, used by the audit's backfill pass.
func (p *PipelineEvents) HasEvent(recordID int64, stage, event string) (bool, error) {
	var n int
	err := p.db.QueryRow(`
		SELECT COUNT(*) FROM pipeline_events WHERE record_id = ? AND stage = ? AND event = ?
	`, recordID, stage, event).Scan(&n)
	return n > 0, err
}

// ListByRecord returns every pipeline event for a record, oldest first.
func (p *PipelineEvents) ListByRecord(recordID int64) ([]PipelineEvent, error) {
	rows, err := p.db.Query(`
		SELECT id, record_id, stage, event, detail, created_at
		FROM pipeline_events WHERE record_id = ? ORDER BY created_at ASC
	`, recordID)
	if err != nil {
		return nil, err
	}
	defer data.SafeClose(rows, "list pipeline events")

	var out []PipelineEvent
	for rows.Next() {
		var ev PipelineEvent
		var createdAtUnix int64
		if err := rows.Scan(&ev.ID, &ev.RecordID, &ev.Stage, &ev.Event, &ev.Detail, &createdAtUnix); err != nil {
			return nil, err
		}
		ev.CreatedAt = time.Unix(createdAtUnix, 0)
		out = append(out, ev)
	}
	return out, rows.Err()
}
