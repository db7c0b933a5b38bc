// Package presence tracks liveness of external callers — workers and
// scrapers — via a heartbeat-refreshed, TTL-evicting table. Nothing in the
// routing layer gates on presence; it exists purely for the UI dashboard.
package presence

import (
	"sync"
	"time"
)

// WorkerEntry is one worker's declared capabilities and last-seen time.
type WorkerEntry struct {
	WorkerID string
	Kinds    []string
	LastSeen time.Time
}

// ScraperEntry is one scraper's declared source system, counters and
// last-seen time.
type ScraperEntry struct {
	SourceSystem    string
	RecordsIngested int64
	PagesIngested   int64
	LastSeen        time.Time
}

// Table is a concurrent, TTL-evicting map of worker presence entries.
type Table struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]WorkerEntry
}

// NewTable constructs a presence Table with the given liveness TTL.
func NewTable(ttl time.Duration) *Table {
	return &Table{ttl: ttl, entries: make(map[string]WorkerEntry)}
}

// Touch refreshes workerID's entry, replacing its declared kinds.
func (t *Table) Touch(workerID string, kinds []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[workerID] = WorkerEntry{WorkerID: workerID, Kinds: kinds, LastSeen: time.Now()}
}

// Alive returns every entry last seen within the TTL, evicting expired ones
// as it goes.
func (t *Table) Alive() []WorkerEntry {
	cutoff := time.Now().Add(-t.ttl)

	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]WorkerEntry, 0, len(t.entries))
	for id, e := range t.entries {
		if e.LastSeen.Before(cutoff) {
			delete(t.entries, id)
			continue
		}
		out = append(out, e)
	}
	return out
}

// CountByKind returns, for every kind any alive worker declares, the number
// of alive workers advertising it.
func (t *Table) CountByKind() map[string]int {
	counts := make(map[string]int)
	for _, e := range t.Alive() {
		for _, k := range e.Kinds {
			counts[k]++
		}
	}
	return counts
}

// ScraperTable is a concurrent, TTL-evicting map of scraper presence
// entries, parallel to Table but keyed by source system and carrying
// ingestion counters instead of job kinds.
type ScraperTable struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]ScraperEntry
}

// NewScraperTable constructs a ScraperTable with the given liveness TTL.
func NewScraperTable(ttl time.Duration) *ScraperTable {
	return &ScraperTable{ttl: ttl, entries: make(map[string]ScraperEntry)}
}

// Heartbeat refreshes sourceSystem's entry, adding the given deltas to its
// running counters.
func (t *ScraperTable) Heartbeat(sourceSystem string, recordsDelta, pagesDelta int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entries[sourceSystem]
	e.SourceSystem = sourceSystem
	e.RecordsIngested += recordsDelta
	e.PagesIngested += pagesDelta
	e.LastSeen = time.Now()
	t.entries[sourceSystem] = e
}

// Alive returns every scraper entry last seen within the TTL, evicting
// expired ones as it goes.
func (t *ScraperTable) Alive() []ScraperEntry {
	cutoff := time.Now().Add(-t.ttl)

	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ScraperEntry, 0, len(t.entries))
	for id, e := range t.entries {
		if e.LastSeen.Before(cutoff) {
			delete(t.entries, id)
			continue
		}
		out = append(out, e)
	}
	return out
}
