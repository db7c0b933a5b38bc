package jobs

import (
	"testing"
	"time"

	"github.com/archivorch/orchestrator/core/data"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	db, err := data.OpenDB(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// jobs.record_id/page_id reference records/pages, which this package
	// doesn't own; create minimal stand-ins so foreign keys resolve, seeded
	// with id 1 for tests that enqueue record-scoped jobs.
	if _, err := db.Exec(`CREATE TABLE records (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("create records stub: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE pages (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("create pages stub: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO records (id) VALUES (1)`); err != nil {
		t.Fatalf("seed records stub: %v", err)
	}

	q, err := NewQueue(db)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q
}

func TestEnqueueClaim(t *testing.T) {
	q := newTestQueue(t)

	if job, err := q.Claim("ocr_page_paddle"); err != nil || job != nil {
		t.Fatalf("claim on empty queue = (%v, %v), want (nil, nil)", job, err)
	}

	id, err := q.Enqueue("ocr_page_paddle", nil, nil, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := q.Claim("ocr_page_paddle")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil {
		t.Fatal("claim returned nil job")
	}
	if job.ID != id {
		t.Fatalf("claimed id = %v, want %v", job.ID, id)
	}
	if job.Status != StatusClaimed {
		t.Fatalf("status = %v, want %v", job.Status, StatusClaimed)
	}
	if job.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", job.Attempts)
	}

	// A second claim of the same kind must not see the now-claimed job.
	if job2, err := q.Claim("ocr_page_paddle"); err != nil || job2 != nil {
		t.Fatalf("second claim = (%v, %v), want (nil, nil)", job2, err)
	}
}

func TestClaimMultipleJobsOfSameKindWithinOneSecond(t *testing.T) {
	q := newTestQueue(t)

	const n = 5
	enqueued := make(map[data.UUID]bool, n)
	for i := 0; i < n; i++ {
		id, err := q.Enqueue("ocr_page_paddle", nil, nil, "")
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		enqueued[id] = true
	}

	// All five claims below land on the same wall-clock second (they run
	// back-to-back in a unit test), which is exactly the window where a
	// started_at-keyed re-fetch could return the same row twice.
	claimed := make(map[data.UUID]bool, n)
	for i := 0; i < n; i++ {
		job, err := q.Claim("ocr_page_paddle")
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if job == nil {
			t.Fatalf("claim %d returned nil job", i)
		}
		if claimed[job.ID] {
			t.Fatalf("job %v claimed more than once", job.ID)
		}
		claimed[job.ID] = true
		if !enqueued[job.ID] {
			t.Fatalf("claimed id %v was never enqueued", job.ID)
		}
	}
	if len(claimed) != n {
		t.Fatalf("claimed %d distinct jobs, want %d", len(claimed), n)
	}

	if job, err := q.Claim("ocr_page_paddle"); err != nil || job != nil {
		t.Fatalf("claim after queue drained = (%v, %v), want (nil, nil)", job, err)
	}
}

func TestClaimIsKindScoped(t *testing.T) {
	q := newTestQueue(t)

	if _, err := q.Enqueue("translate_page", nil, nil, ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := q.Claim("ocr_page_paddle")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job != nil {
		t.Fatalf("claimed job of wrong kind: %+v", job)
	}
}

func TestCompleteAndFail(t *testing.T) {
	q := newTestQueue(t)

	id, _ := q.Enqueue("translate_page", nil, nil, "")
	if _, err := q.Claim("translate_page"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	result := "ok"
	if err := q.Complete(id, &result); err != nil {
		t.Fatalf("complete: %v", err)
	}
	job, err := q.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != StatusCompleted {
		t.Fatalf("status = %v, want %v", job.Status, StatusCompleted)
	}
	if job.Payload != result {
		t.Fatalf("payload = %q, want %q", job.Payload, result)
	}

	id2, _ := q.Enqueue("translate_page", nil, nil, "")
	q.Claim("translate_page")
	if err := q.Fail(id2, "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	job2, err := q.Get(id2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job2.Status != StatusFailed || job2.Error != "boom" {
		t.Fatalf("job2 = %+v, want failed/boom", job2)
	}
}

func TestResetStaleClaimed(t *testing.T) {
	q := newTestQueue(t)

	id, _ := q.Enqueue("ocr_page_paddle", nil, nil, "")
	if _, err := q.Claim("ocr_page_paddle"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	n, err := q.ResetStaleClaimed(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("reset stale: %v", err)
	}
	if n != 1 {
		t.Fatalf("reset count = %d, want 1", n)
	}

	job, err := q.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != StatusPending {
		t.Fatalf("status after reset = %v, want %v", job.Status, StatusPending)
	}
	if job.StartedAt != nil {
		t.Fatalf("started_at should be cleared, got %v", job.StartedAt)
	}
}

func TestRetryFailedRespectsMaxAttempts(t *testing.T) {
	q := newTestQueue(t)

	id, _ := q.Enqueue("ocr_page_paddle", nil, nil, "")
	for i := 0; i < 3; i++ {
		q.Claim("ocr_page_paddle")
		q.Fail(id, "boom")
	}

	job, _ := q.Get(id)
	if job.Attempts != 3 {
		t.Fatalf("attempts = %d, want 3", job.Attempts)
	}

	n, err := q.RetryFailed(3)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("retried %d jobs at max attempts, want 0", n)
	}

	n, err = q.RetryFailed(4)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("retried %d jobs below max attempts, want 1", n)
	}
	job, _ = q.Get(id)
	if job.Status != StatusPending || job.Error != "" {
		t.Fatalf("job after retry = %+v, want pending with no error", job)
	}
}

func TestPendingForRecord(t *testing.T) {
	q := newTestQueue(t)
	recordID := int64(1)
	if _, err := q.Enqueue("translate_page", &recordID, nil, ""); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pending, err := q.PendingForRecord(recordID, "translate_%")
	if err != nil {
		t.Fatalf("pending for record: %v", err)
	}
	if !pending {
		t.Fatal("expected pending translate job")
	}

	job, _ := q.Claim("translate_page")
	q.Complete(job.ID, nil)

	pending, err = q.PendingForRecord(recordID, "translate_%")
	if err != nil {
		t.Fatalf("pending for record: %v", err)
	}
	if pending {
		t.Fatal("expected no pending translate job after completion")
	}
}
