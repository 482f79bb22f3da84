package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Deletion records a dataset entry removed by the curator.
type Deletion struct {
	ID        int64           `json:"id"`
	Filename  string          `json:"filename"`
	Label     string          `json:"label"`
	Artifacts json.RawMessage `json:"artifacts"`
	DeletedAt time.Time       `json:"deleted_at"`
}

// DeletionRepository provides access to the deletion journal.
type DeletionRepository struct {
	db *sql.DB
}

// Deletions returns the deletion repository for this store.
func (s *Store) Deletions() *DeletionRepository {
	return &DeletionRepository{db: s.db}
}

// Create inserts a deletion record and sets its ID.
func (r *DeletionRepository) Create(d *Deletion) error {
	if d.DeletedAt.IsZero() {
		d.DeletedAt = time.Now()
	}

	artifacts := d.Artifacts
	if artifacts == nil {
		artifacts = json.RawMessage("[]")
	}

	result, err := r.db.Exec(
		`INSERT INTO deletions (filename, label, artifacts, deleted_at) VALUES (?, ?, ?, ?)`,
		d.Filename, d.Label, string(artifacts), d.DeletedAt,
	)
	if err != nil {
		return err
	}

	d.ID, err = result.LastInsertId()
	return err
}

// List retrieves all deletions, newest first.
func (r *DeletionRepository) List() ([]*Deletion, error) {
	rows, err := r.db.Query(
		`SELECT id, filename, label, artifacts, deleted_at FROM deletions ORDER BY deleted_at DESC, id DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deletions []*Deletion
	for rows.Next() {
		d := &Deletion{}
		var artifacts string

		if err := rows.Scan(&d.ID, &d.Filename, &d.Label, &artifacts, &d.DeletedAt); err != nil {
			return nil, err
		}

		d.Artifacts = json.RawMessage(artifacts)
		deletions = append(deletions, d)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return deletions, nil
}
