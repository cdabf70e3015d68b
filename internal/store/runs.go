package store

import (
	"database/sql"
	"time"
)

// FetchRun records a single document retrieval for auditing.
type FetchRun struct {
	ID                int64
	StartedAt         time.Time
	FinishedAt        sql.NullTime
	Source            string // "http", "ftp", "file"
	URL               string
	HTTPStatus        sql.NullInt64
	ResponseSizeBytes sql.NullInt64
	Success           bool
	ErrorMessage      sql.NullString
}

// StartFetchRun creates a new fetch run record and returns it.
func (s *Store) StartFetchRun(source, url string) (*FetchRun, error) {
	run := &FetchRun{
		StartedAt: time.Now().UTC(),
		Source:    source,
		URL:       url,
	}

	result, err := s.db.Exec(`
		INSERT INTO fetch_runs (started_at, source, url, success)
		VALUES (?, ?, ?, FALSE)
	`, run.StartedAt, run.Source, run.URL)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteFetchRun updates the run with its outcome.
func (s *Store) CompleteFetchRun(run *FetchRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE fetch_runs SET
			finished_at = ?,
			http_status = ?,
			response_size_bytes = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.HTTPStatus, run.ResponseSizeBytes, run.Success, run.ErrorMessage, run.ID)
	return err
}

// GetRecentFetchRuns returns the latest runs, newest first.
func (s *Store) GetRecentFetchRuns(limit int) ([]FetchRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, source, url, http_status, response_size_bytes, success, error_message
		FROM fetch_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []FetchRun
	for rows.Next() {
		var r FetchRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Source, &r.URL, &r.HTTPStatus,
			&r.ResponseSizeBytes, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
