package presence

import (
	"testing"
	"time"
)

func TestTableAliveEvictsExpired(t *testing.T) {
	tbl := NewTable(10 * time.Millisecond)
	tbl.Touch("worker-1", []string{"ocr_page_paddle"})

	alive := tbl.Alive()
	if len(alive) != 1 {
		t.Fatalf("alive = %d, want 1", len(alive))
	}

	time.Sleep(20 * time.Millisecond)

	alive = tbl.Alive()
	if len(alive) != 0 {
		t.Fatalf("alive after ttl = %d, want 0", len(alive))
	}
}

func TestTableTouchReplacesKinds(t *testing.T) {
	tbl := NewTable(time.Minute)
	tbl.Touch("worker-1", []string{"ocr_page_paddle"})
	tbl.Touch("worker-1", []string{"translate_page", "translate_record"})

	alive := tbl.Alive()
	if len(alive) != 1 {
		t.Fatalf("alive = %d, want 1", len(alive))
	}
	if len(alive[0].Kinds) != 2 {
		t.Fatalf("kinds = %v, want 2 entries", alive[0].Kinds)
	}
}

func TestTableCountByKind(t *testing.T) {
	tbl := NewTable(time.Minute)
	tbl.Touch("worker-1", []string{"ocr_page_paddle", "translate_page"})
	tbl.Touch("worker-2", []string{"ocr_page_paddle"})

	counts := tbl.CountByKind()
	if counts["ocr_page_paddle"] != 2 {
		t.Fatalf("ocr_page_paddle count = %d, want 2", counts["ocr_page_paddle"])
	}
	if counts["translate_page"] != 1 {
		t.Fatalf("translate_page count = %d, want 1", counts["translate_page"])
	}
}

func TestScraperTableHeartbeatAccumulates(t *testing.T) {
	tbl := NewScraperTable(time.Minute)
	tbl.Heartbeat("siv", 3, 12)
	tbl.Heartbeat("siv", 2, 8)

	alive := tbl.Alive()
	if len(alive) != 1 {
		t.Fatalf("alive = %d, want 1", len(alive))
	}
	if alive[0].RecordsIngested != 5 || alive[0].PagesIngested != 20 {
		t.Fatalf("counters = %+v, want 5/20", alive[0])
	}
}

func TestScraperTableAliveEvictsExpired(t *testing.T) {
	tbl := NewScraperTable(10 * time.Millisecond)
	tbl.Heartbeat("siv", 1, 1)

	time.Sleep(20 * time.Millisecond)

	if alive := tbl.Alive(); len(alive) != 0 {
		t.Fatalf("alive after ttl = %d, want 0", len(alive))
	}
}
