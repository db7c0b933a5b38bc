package store

import (
	"database/sql"
	"time"

	"github.com/archivorch/orchestrator/core/apierr"
	"github.com/archivorch/orchestrator/core/data"
)

// AttachmentRole tags what an attachment's bytes represent.
type AttachmentRole string

const (
	RolePageImage    AttachmentRole = "page_image"
	RoleOriginalPDF  AttachmentRole = "original_pdf"
	RoleSearchablePDF AttachmentRole = "searchable_pdf"
	RoleOCRArtifact  AttachmentRole = "ocr_artifact"
)

// Attachment is a blob reference: path in the blob store plus integrity and
// content metadata.
type Attachment struct {
	ID        int64          `json:"id"`
	RecordID  int64          `json:"recordId"`
	Role      AttachmentRole `json:"role"`
	Path      string         `json:"path"`
	SHA256    string         `json:"sha256"`
	Mime      string         `json:"mime"`
	ByteSize  int64          `json:"byteSize"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Attachments provides access to the attachments table.
type Attachments struct {
	db *sql.DB
}

func NewAttachments(db *sql.DB) *Attachments { return &Attachments{db: db} }

// Create inserts an attachment row inside tx.
func (a *Attachments) Create(tx *sql.Tx, recordID int64, role AttachmentRole, path, sha256 string, mime string, byteSize int64) (int64, error) {
	res, err := tx.Exec(`
		INSERT INTO attachments (record_id, role, path, sha256, mime, byte_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, recordID, role, path, sha256, mime, byteSize, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CreateDirect inserts an attachment row outside of any caller-managed
// transaction, for processor endpoints that don't also touch the record row
// in the same commit.
func (a *Attachments) CreateDirect(recordID int64, role AttachmentRole, path, sha256 string, mime string, byteSize int64) (int64, error) {
	res, err := data.ExecWithRetry(a.db, `
		INSERT INTO attachments (record_id, role, path, sha256, mime, byte_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, recordID, role, path, sha256, mime, byteSize, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Get fetches an attachment by id.
func (a *Attachments) Get(id int64) (*Attachment, error) {
	row := a.db.QueryRow(`
		SELECT id, record_id, role, path, sha256, mime, byte_size, created_at
		FROM attachments WHERE id = ?
	`, id)
	att, err := scanAttachment(row)
	if err == sql.ErrNoRows {
		return nil, apierr.NotFound("attachment %d not found", id)
	}
	return att, err
}

// LatestByRole returns the most recently created attachment of role for
// recordID, or nil if none exists.
func (a *Attachments) LatestByRole(recordID int64, role AttachmentRole) (*Attachment, error) {
	row := a.db.QueryRow(`
		SELECT id, record_id, role, path, sha256, mime, byte_size, created_at
		FROM attachments WHERE record_id = ? AND role = ?
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, recordID, role)
	att, err := scanAttachment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return att, err
}

func scanAttachment(row rowScanner) (*Attachment, error) {
	var att Attachment
	var createdAtUnix int64
	err := row.Scan(&att.ID, &att.RecordID, &att.Role, &att.Path, &att.SHA256, &att.Mime, &att.ByteSize, &createdAtUnix)
	if err != nil {
		return nil, err
	}
	att.CreatedAt = time.Unix(createdAtUnix, 0)
	return &att, nil
}
