// Package jobs implements the orchestrator's job queue: enqueue, atomic
// claim, complete and fail, backed by SQLite.
package jobs

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/archivorch/orchestrator/core/data"
)

// Status is a job's position in its lifecycle: pending -> claimed ->
// {completed | failed}.
type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is a unit of work routed to an external worker process. RecordID and
// PageID are nullable: some kinds (e.g. translate_record) target a record as
// a whole rather than a single page.
type Job struct {
	ID         data.UUID
	Kind       string
	RecordID   *int64
	PageID     *int64
	Payload    string
	Status     Status
	Attempts   int
	Error      string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Queue is the SQLite-backed job store.
type Queue struct {
	db *sql.DB
}

// NewQueue wraps db, creating the jobs table if it doesn't already exist.
func NewQueue(db *sql.DB) (*Queue, error) {
	schema := `
		CREATE TABLE IF NOT EXISTS jobs (
			id BLOB PRIMARY KEY,
			kind TEXT NOT NULL,
			record_id INTEGER,
			page_id INTEGER,
			payload TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			started_at INTEGER,
			finished_at INTEGER,
			FOREIGN KEY (record_id) REFERENCES records(id) ON DELETE CASCADE,
			FOREIGN KEY (page_id) REFERENCES pages(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_status_kind ON jobs(status, kind, created_at);
		CREATE INDEX IF NOT EXISTS idx_jobs_record ON jobs(record_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create jobs schema: %w", err)
	}
	return &Queue{db: db}, nil
}

// Enqueue inserts a pending job of the given kind. recordID and pageID may
// be nil. Returns the new job's id.
func (q *Queue) Enqueue(kind string, recordID, pageID *int64, payload string) (data.UUID, error) {
	id := data.NewUUID()
	_, err := data.ExecWithRetry(q.db, `
		INSERT INTO jobs (id, kind, record_id, page_id, payload, status, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`, id, kind, recordID, pageID, payload, StatusPending, time.Now().Unix())
	if err != nil {
		return data.UUID{}, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return id, nil
}

// Claim selects the oldest pending job of kind and flips it to claimed,
// incrementing attempts and stamping started_at. It reads the candidate row's
// id first and updates that exact row by primary key inside the same
// transaction, so the claimed row is always the one just read, never a row
// picked up again afterward by a non-unique predicate such as started_at
// (which only has one-second resolution and can match more than one row
// claimed in the same wall-clock second). Returns (nil, nil) when nothing is
// pending.
func (q *Queue) Claim(kind string) (*Job, error) {
	now := time.Now()

	var claimed *Job
	err := data.RunTransaction(q.db, func(tx *sql.Tx) error {
		var id data.UUID
		err := tx.QueryRow(`
			SELECT id FROM jobs
			WHERE status = ? AND kind = ?
			ORDER BY created_at ASC
			LIMIT 1
		`, StatusPending, kind).Scan(&id)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}

		res, err := tx.Exec(`
			UPDATE jobs SET status = ?, attempts = attempts + 1, started_at = ?
			WHERE id = ? AND status = ?
		`, StatusClaimed, now.Unix(), id, StatusPending)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}

		row := tx.QueryRow(`
			SELECT id, kind, record_id, page_id, payload, status, attempts, error,
				created_at, started_at, finished_at
			FROM jobs WHERE id = ?
		`, id)

		job, err := scanJob(row)
		if err != nil {
			return err
		}
		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Complete marks a job completed. If resultPayload is non-nil, it replaces
// the job's payload (the opaque result workers hand back).
func (q *Queue) Complete(jobID data.UUID, resultPayload *string) error {
	now := time.Now()
	if resultPayload != nil {
		_, err := data.ExecWithRetry(q.db, `
			UPDATE jobs SET status = ?, payload = ?, finished_at = ? WHERE id = ?
		`, StatusCompleted, *resultPayload, now.Unix(), jobID)
		return err
	}
	_, err := data.ExecWithRetry(q.db, `
		UPDATE jobs SET status = ?, finished_at = ? WHERE id = ?
	`, StatusCompleted, now.Unix(), jobID)
	return err
}

// Fail marks a job failed with a human-readable error. The audit engine
// decides whether it's eligible for retry based on attempts.
func (q *Queue) Fail(jobID data.UUID, errMsg string) error {
	now := time.Now()
	_, err := data.ExecWithRetry(q.db, `
		UPDATE jobs SET status = ?, error = ?, finished_at = ? WHERE id = ?
	`, StatusFailed, errMsg, now.Unix(), jobID)
	return err
}

// Get fetches a job by id.
func (q *Queue) Get(jobID data.UUID) (*Job, error) {
	row := q.db.QueryRow(`
		SELECT id, kind, record_id, page_id, payload, status, attempts, error,
			created_at, started_at, finished_at
		FROM jobs WHERE id = ?
	`, jobID)
	return scanJob(row)
}

// PendingForRecord reports whether any job for recordID whose kind matches
// the SQL LIKE pattern kindLike is not yet in a terminal state (completed
// and failed both count as terminal), used by the pipeline's stage-completion
// checks ("any translate_* job still outstanding?").
func (q *Queue) PendingForRecord(recordID int64, kindLike string) (bool, error) {
	var n int
	err := q.db.QueryRow(`
		SELECT COUNT(*) FROM jobs
		WHERE record_id = ? AND kind LIKE ? AND status NOT IN (?, ?)
	`, recordID, kindLike, StatusCompleted, StatusFailed).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HasJobOfKind reports whether any job of the exact kind exists for
// recordID, regardless of status.
func (q *Queue) HasJobOfKind(recordID int64, kind string) (bool, error) {
	var n int
	err := q.db.QueryRow(`
		SELECT COUNT(*) FROM jobs WHERE record_id = ? AND kind = ?
	`, recordID, kind).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HasCompletedJobOfKind reports whether a completed job of the exact kind
// exists for recordID.
func (q *Queue) HasCompletedJobOfKind(recordID int64, kind string) (bool, error) {
	var n int
	err := q.db.QueryRow(`
		SELECT COUNT(*) FROM jobs WHERE record_id = ? AND kind = ? AND status = ?
	`, recordID, kind, StatusCompleted).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ResetStaleClaimed resets any job claimed before cutoff back to pending,
// clearing started_at but preserving attempts. Used by the audit engine's
// stale-claim pass.
func (q *Queue) ResetStaleClaimed(cutoff time.Time) (int64, error) {
	res, err := data.ExecWithRetry(q.db, `
		UPDATE jobs SET status = ?, started_at = NULL
		WHERE status = ? AND started_at < ?
	`, StatusPending, StatusClaimed, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RetryFailed resets failed jobs with attempts below maxAttempts back to
// pending, clearing error and finished_at. Jobs at or above maxAttempts stay
// failed permanently.
func (q *Queue) RetryFailed(maxAttempts int) (int64, error) {
	res, err := data.ExecWithRetry(q.db, `
		UPDATE jobs SET status = ?, error = '', finished_at = NULL
		WHERE status = ? AND attempts < ?
	`, StatusPending, StatusFailed, maxAttempts)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var job Job
	var recordID, pageID sql.NullInt64
	var createdAtUnix int64
	var startedAtUnix, finishedAtUnix sql.NullInt64

	err := row.Scan(
		&job.ID, &job.Kind, &recordID, &pageID, &job.Payload, &job.Status,
		&job.Attempts, &job.Error, &createdAtUnix, &startedAtUnix, &finishedAtUnix,
	)
	if err != nil {
		return nil, err
	}

	if recordID.Valid {
		job.RecordID = &recordID.Int64
	}
	if pageID.Valid {
		job.PageID = &pageID.Int64
	}
	job.CreatedAt = time.Unix(createdAtUnix, 0)
	if startedAtUnix.Valid {
		t := time.Unix(startedAtUnix.Int64, 0)
		job.StartedAt = &t
	}
	if finishedAtUnix.Valid {
		t := time.Unix(finishedAtUnix.Int64, 0)
		job.FinishedAt = &t
	}

	return &job, nil
}
