package store

import "database/sql"

// migrate runs all database migrations
func migrate(db *sql.DB) error {
	migrations := []string{
		// Raw signal samples, append-only
		`CREATE TABLE IF NOT EXISTS samples (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			metric TEXT NOT NULL,
			value REAL NOT NULL,
			unit TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			source TEXT NOT NULL,
			created_at TEXT DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_samples_metric_ts ON samples(metric, timestamp)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_samples_identity ON samples(metric, timestamp, unit, source)`,

		// Rolling baselines, one row per (metric, window, day)
		`CREATE TABLE IF NOT EXISTS baselines (
			metric TEXT NOT NULL,
			window_days INTEGER NOT NULL,
			day TEXT NOT NULL,
			mean REAL NOT NULL,
			std_dev REAL NOT NULL,
			sample_count INTEGER NOT NULL,
			insufficient_data INTEGER NOT NULL DEFAULT 0,
			computed_at TEXT NOT NULL,
			PRIMARY KEY (metric, window_days, day)
		)`,

		// Score results, append-only; the newest row per (kind, day) wins
		`CREATE TABLE IF NOT EXISTS score_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			day TEXT NOT NULL,
			value INTEGER NOT NULL,
			band TEXT NOT NULL,
			sub_scores TEXT NOT NULL,
			inputs TEXT NOT NULL,
			insufficient INTEGER NOT NULL DEFAULT 0,
			computed_at TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_scores_kind_day ON score_results(kind, day, computed_at)`,

		// Anomaly events; mutated only by dismiss
		`CREATE TABLE IF NOT EXISTS anomaly_events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			confidence TEXT NOT NULL,
			triggered_signals TEXT NOT NULL,
			first_detected TEXT NOT NULL,
			dismissed_until TEXT,
			resolved_at TEXT
		)`,

		`CREATE INDEX IF NOT EXISTS idx_anomalies_open ON anomaly_events(kind, resolved_at)`,

		// Durable cache tier
		`CREATE TABLE IF NOT EXISTS snapshots (
			key TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			stored_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}
