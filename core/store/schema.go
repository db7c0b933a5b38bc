// Package store is the orchestrator's persistence layer: archives, records,
// pages, attachments, page text and the append-only pipeline event log.
// Everything outside of the jobs queue (see core/jobs) lives here.
package store

import (
	"database/sql"
	"fmt"
)

// InitSchema creates every table the store needs, idempotently.
func InitSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS archives (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			country TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			archive_id INTEGER NOT NULL REFERENCES archives(id),
			source_system TEXT NOT NULL,
			source_record_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			date_range TEXT NOT NULL DEFAULT '',
			lang TEXT,
			metadata_lang TEXT,
			status TEXT NOT NULL DEFAULT 'ingesting',
			page_count INTEGER NOT NULL DEFAULT 0,
			attachment_count INTEGER NOT NULL DEFAULT 0,
			pdf_attachment_id INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (source_system, source_record_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_status ON records(status)`,
		`CREATE INDEX IF NOT EXISTS idx_records_archive ON records(archive_id)`,
		`CREATE TABLE IF NOT EXISTS pages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			record_id INTEGER NOT NULL REFERENCES records(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			attachment_id INTEGER,
			label TEXT NOT NULL DEFAULT '',
			width INTEGER,
			height INTEGER,
			source_url TEXT NOT NULL DEFAULT '',
			UNIQUE (record_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS attachments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			record_id INTEGER NOT NULL REFERENCES records(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			path TEXT NOT NULL,
			sha256 TEXT NOT NULL,
			mime TEXT NOT NULL DEFAULT '',
			byte_size INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attachments_record_role ON attachments(record_id, role)`,
		`CREATE TABLE IF NOT EXISTS page_text (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			page_id INTEGER NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
			engine TEXT NOT NULL,
			confidence REAL,
			text_raw TEXT NOT NULL DEFAULT '',
			text_en TEXT,
			hocr TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_page_text_page ON page_text(page_id)`,
		`CREATE TABLE IF NOT EXISTS pipeline_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			record_id INTEGER NOT NULL REFERENCES records(id) ON DELETE CASCADE,
			stage TEXT NOT NULL,
			event TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pipeline_events_record ON pipeline_events(record_id)`,
		`CREATE TABLE IF NOT EXISTS page_entities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			page_id INTEGER NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
			label TEXT NOT NULL,
			value TEXT NOT NULL,
			confidence REAL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_page_entities_page ON page_entities(page_id)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(
			title, description, content='records', content_rowid='id'
		)`,
		`CREATE TRIGGER IF NOT EXISTS records_fts_insert AFTER INSERT ON records BEGIN
			INSERT INTO records_fts(rowid, title, description) VALUES (new.id, new.title, new.description);
		END`,
		`CREATE TRIGGER IF NOT EXISTS records_fts_update AFTER UPDATE ON records BEGIN
			INSERT INTO records_fts(records_fts, rowid, title, description) VALUES ('delete', old.id, old.title, old.description);
			INSERT INTO records_fts(rowid, title, description) VALUES (new.id, new.title, new.description);
		END`,
		`CREATE TRIGGER IF NOT EXISTS records_fts_delete AFTER DELETE ON records BEGIN
			INSERT INTO records_fts(records_fts, rowid, title, description) VALUES ('delete', old.id, old.title, old.description);
		END`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
