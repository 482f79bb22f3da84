package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Sessions table - one row per capture session
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT 'camera',
			max_samples INTEGER NOT NULL,
			threshold REAL NOT NULL,
			frames INTEGER NOT NULL DEFAULT 0,
			accepted INTEGER NOT NULL DEFAULT 0,
			rejected INTEGER NOT NULL DEFAULT 0,
			detector_errors INTEGER NOT NULL DEFAULT 0,
			state TEXT NOT NULL CHECK(state IN ('idle', 'sampling', 'completed', 'cancelled', 'discarded')),
			error TEXT NOT NULL DEFAULT '',
			filename TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			finished_at DATETIME
		)`,

		// Deletions table - one row per dataset entry removed
		`CREATE TABLE IF NOT EXISTS deletions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			filename TEXT NOT NULL,
			label TEXT NOT NULL,
			artifacts TEXT NOT NULL DEFAULT '[]',
			deleted_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Indexes for better query performance
		`CREATE INDEX IF NOT EXISTS idx_sessions_label ON sessions(label)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_deletions_filename ON deletions(filename)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
