package store

import (
	"database/sql"

	"github.com/archivorch/orchestrator/core/apierr"
	"github.com/archivorch/orchestrator/core/data"
)

// Archive is a top-level source, e.g. a national archive.
type Archive struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country"`
}

// Archives provides CRUD access to the archives table.
type Archives struct {
	db *sql.DB
}

func NewArchives(db *sql.DB) *Archives { return &Archives{db: db} }

// Create inserts a new archive and returns its id.
func (a *Archives) Create(name, country string) (int64, error) {
	res, err := data.ExecWithRetry(a.db, `
		INSERT INTO archives (name, country) VALUES (?, ?)
	`, name, country)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Get fetches an archive by id.
func (a *Archives) Get(id int64) (*Archive, error) {
	row := a.db.QueryRow(`SELECT id, name, country FROM archives WHERE id = ?`, id)
	var out Archive
	if err := row.Scan(&out.ID, &out.Name, &out.Country); err != nil {
		if err == sql.ErrNoRows {
			return nil, apierr.NotFound("archive %d not found", id)
		}
		return nil, err
	}
	return &out, nil
}

// List returns every archive, ordered by name.
func (a *Archives) List() ([]Archive, error) {
	rows, err := a.db.Query(`SELECT id, name, country FROM archives ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer data.SafeClose(rows, "list archives")

	var out []Archive
	for rows.Next() {
		var ar Archive
		if err := rows.Scan(&ar.ID, &ar.Name, &ar.Country); err != nil {
			return nil, err
		}
		out = append(out, ar)
	}
	return out, rows.Err()
}
