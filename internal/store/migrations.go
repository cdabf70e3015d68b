package store

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS fetch_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    source TEXT NOT NULL,
    url TEXT NOT NULL,
    http_status INTEGER,
    response_size_bytes INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE TABLE IF NOT EXISTS raw_payloads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    fetch_run_id INTEGER REFERENCES fetch_runs(id),
    fetched_at DATETIME NOT NULL,
    source TEXT NOT NULL,
    url TEXT NOT NULL,
    payload_compressed BLOB NOT NULL,
    payload_hash TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS quarterly_records (
    dataset TEXT NOT NULL,
    period DATE NOT NULL,
    dwellings INTEGER NOT NULL,
    lag1 INTEGER,
    change INTEGER,
    pct_change REAL,
    rolling2 REAL,
    is_growth BOOLEAN NOT NULL,
    PRIMARY KEY (dataset, period)
);

CREATE TABLE IF NOT EXISTS monthly_features (
    dataset TEXT NOT NULL,
    month DATE NOT NULL,
    quarter DATE,
    dwellings INTEGER,
    lag1 INTEGER,
    change INTEGER,
    pct_change REAL,
    rolling2 REAL,
    is_growth BOOLEAN,
    PRIMARY KEY (dataset, month)
);

CREATE INDEX IF NOT EXISTS idx_raw_payloads_source ON raw_payloads(source, fetched_at);
`,
	},
	{
		Version:     2,
		Description: "Forecast points and evaluation reports",
		SQL: `
CREATE TABLE IF NOT EXISTS forecast_points (
    source TEXT NOT NULL,
    month DATE NOT NULL,
    value REAL NOT NULL,
    loaded_at DATETIME NOT NULL,
    PRIMARY KEY (source, month)
);

CREATE TABLE IF NOT EXISTS evaluations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    source TEXT NOT NULL,
    horizon INTEGER NOT NULL,
    first_month DATE,
    last_month DATE,
    n INTEGER NOT NULL,
    mae REAL NOT NULL,
    mape REAL NOT NULL,
    smape REAL NOT NULL,
    created_at DATETIME NOT NULL,
    UNIQUE(run_id, source)
);

CREATE INDEX IF NOT EXISTS idx_evaluations_created ON evaluations(created_at);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		log.Printf("migrations: applying %d - %s", m.Version, m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		log.Printf("migrations: completed %d", m.Version)
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
