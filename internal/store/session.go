package store

import (
	"database/sql"
	"errors"
	"time"
)

// Session is the journal record of one capture session.
type Session struct {
	ID             string     `json:"id"`
	Label          string     `json:"label"`
	Source         string     `json:"source"`
	MaxSamples     int        `json:"max_samples"`
	Threshold      float64    `json:"threshold"`
	Frames         int        `json:"frames"`
	Accepted       int        `json:"accepted"`
	Rejected       int        `json:"rejected"`
	DetectorErrors int        `json:"detector_errors"`
	State          string     `json:"state"`
	Error          string     `json:"error,omitempty"`
	Filename       string     `json:"filename,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// SessionRepository provides access to the session journal.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

const sessionColumns = `id, label, source, max_samples, threshold, frames, accepted, rejected,
	detector_errors, state, error, filename, created_at, finished_at`

// Create inserts a new session record.
func (r *SessionRepository) Create(s *Session) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if s.Source == "" {
		s.Source = "camera"
	}

	_, err := r.db.Exec(
		`INSERT INTO sessions (`+sessionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Label, s.Source, s.MaxSamples, s.Threshold, s.Frames, s.Accepted, s.Rejected,
		s.DetectorErrors, s.State, s.Error, s.Filename, s.CreatedAt, nullTime(s.FinishedAt),
	)
	return err
}

// Update stores the counters, state, error, filename and finish time of s.
func (r *SessionRepository) Update(s *Session) error {
	result, err := r.db.Exec(
		`UPDATE sessions SET frames = ?, accepted = ?, rejected = ?, detector_errors = ?,
		 state = ?, error = ?, filename = ?, finished_at = ?
		 WHERE id = ?`,
		s.Frames, s.Accepted, s.Rejected, s.DetectorErrors,
		s.State, s.Error, s.Filename, nullTime(s.FinishedAt), s.ID,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	row := r.db.QueryRow(`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// List retrieves the most recent sessions, newest first. A limit of 0
// returns every session.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY created_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.query(query, args...)
}

// ListByLabel retrieves the sessions recorded for a label, newest first.
func (r *SessionRepository) ListByLabel(label string) ([]*Session, error) {
	return r.query(
		`SELECT `+sessionColumns+` FROM sessions WHERE label = ? ORDER BY created_at DESC, rowid DESC`,
		label,
	)
}

func (r *SessionRepository) query(query string, args ...any) ([]*Session, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	s := &Session{}
	var finished sql.NullTime

	err := row.Scan(&s.ID, &s.Label, &s.Source, &s.MaxSamples, &s.Threshold, &s.Frames, &s.Accepted,
		&s.Rejected, &s.DetectorErrors, &s.State, &s.Error, &s.Filename, &s.CreatedAt, &finished)
	if err != nil {
		return nil, err
	}

	if finished.Valid {
		t := finished.Time
		s.FinishedAt = &t
	}
	return s, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
