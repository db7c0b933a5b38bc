// Package blobstore stores attachment bytes on disk under a deterministic
// path layout keyed by record id, hashing the bytes as they are written.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store writes and reads attachment bytes under root.
type Store struct {
	root string
}

// New constructs a Store rooted at root, creating it if missing.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// PageImagePath is the deterministic path for a record's page image.
func PageImagePath(recordID int64, seq int) string {
	return filepath.Join("records", fmt.Sprint(recordID), "attachments", "pages", fmt.Sprintf("p%04d.jpg", seq))
}

// OriginalPDFPath is the deterministic path for a record's original PDF.
func OriginalPDFPath(recordID int64) string {
	return filepath.Join("records", fmt.Sprint(recordID), "attachments", "record.pdf")
}

// SearchablePDFPath is the deterministic path for a record's searchable PDF.
func SearchablePDFPath(recordID int64) string {
	return filepath.Join("records", fmt.Sprint(recordID), "derivatives", "pdf", "searchable.pdf")
}

// OCRArtifactPath is the deterministic path for an OCR artifact blob. ext
// should be a short, server-chosen extension (e.g. "hocr", "json") - callers
// must never pass a client-supplied filename here, since it becomes a path
// component.
func OCRArtifactPath(recordID, pageID int64, ext string) string {
	return filepath.Join("records", fmt.Sprint(recordID), "derivatives", "ocr", fmt.Sprintf("page-%d.%s", pageID, ext))
}

// Write streams r to relPath under root, hashing as it goes. Returns the
// SHA-256 hex digest and byte count written.
func (s *Store) Write(relPath string, r io.Reader) (sha256Hex string, size int64, err error) {
	abs := filepath.Join(s.root, relPath)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", 0, fmt.Errorf("failed to create blob directory: %w", err)
	}

	f, err := os.Create(abs)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create blob file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(f, io.TeeReader(r, h))
	if err != nil {
		return "", 0, fmt.Errorf("failed to write blob: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Open opens relPath under root for reading.
func (s *Store) Open(relPath string) (*os.File, error) {
	return os.Open(filepath.Join(s.root, relPath))
}

// DeleteRecordTree removes everything under records/{recordID}/.
func (s *Store) DeleteRecordTree(recordID int64) error {
	return os.RemoveAll(filepath.Join(s.root, "records", fmt.Sprint(recordID)))
}
