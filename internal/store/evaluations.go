package store

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/lox/permitcast/internal/models"
)

// EvaluationRun groups the accuracy rows produced by one evaluate invocation.
type EvaluationRun struct {
	RunID      string
	Horizon    int
	FirstMonth time.Time
	LastMonth  time.Time
	CreatedAt  time.Time
	Rows       []models.EvaluationRow
}

// UpsertForecastPoints stores a forecast source's monthly predictions.
func (s *Store) UpsertForecastPoints(source string, points []models.Point) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO forecast_points (source, month, value, loaded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source, month) DO UPDATE SET
			value = excluded.value,
			loaded_at = excluded.loaded_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, p := range points {
		if _, err := stmt.Exec(source, p.Month.UTC(), p.Value, now); err != nil {
			return fmt.Errorf("upsert %s %s: %w", source, p.Month.Format("2006-01"), err)
		}
	}
	return tx.Commit()
}

// GetForecastPoints returns a source's points ordered by month, optionally bounded.
func (s *Store) GetForecastPoints(source string, from, to time.Time) ([]models.Point, error) {
	q := sq.Select("month", "value").
		From("forecast_points").
		Where(sq.Eq{"source": source}).
		OrderBy("month ASC")
	if !from.IsZero() {
		q = q.Where(sq.GtOrEq{"month": from.UTC()})
	}
	if !to.IsZero() {
		q = q.Where(sq.LtOrEq{"month": to.UTC()})
	}

	rows, err := q.RunWith(s.db).Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []models.Point
	for rows.Next() {
		var p models.Point
		if err := rows.Scan(&p.Month, &p.Value); err != nil {
			return nil, err
		}
		p.Month = p.Month.UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}

// ForecastSources lists the sources with stored forecast points.
func (s *Store) ForecastSources() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT source FROM forecast_points ORDER BY source`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		sources = append(sources, name)
	}
	return sources, rows.Err()
}

// InsertEvaluation persists every row of an evaluation run.
func (s *Store) InsertEvaluation(run EvaluationRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	insert := sq.Insert("evaluations").
		Columns("run_id", "source", "horizon", "first_month", "last_month", "n", "mae", "mape", "smape", "created_at")
	for _, r := range run.Rows {
		insert = insert.Values(run.RunID, r.Source, run.Horizon, nullTime(run.FirstMonth), nullTime(run.LastMonth),
			r.N, r.MAE, r.MAPE, r.SMAPE, run.CreatedAt)
	}
	if len(run.Rows) > 0 {
		if _, err := insert.RunWith(tx).Exec(); err != nil {
			return fmt.Errorf("insert evaluation %s: %w", run.RunID, err)
		}
	}
	return tx.Commit()
}

// GetLatestEvaluation returns the most recent evaluation run, or nil if none exists.
func (s *Store) GetLatestEvaluation() (*EvaluationRun, error) {
	var runID string
	err := s.db.QueryRow(`
		SELECT run_id FROM evaluations
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`).Scan(&runID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetEvaluation(runID)
}

// GetEvaluation returns the rows of one run in insertion order, or nil if unknown.
func (s *Store) GetEvaluation(runID string) (*EvaluationRun, error) {
	rows, err := sq.Select("horizon", "first_month", "last_month", "created_at", "source", "n", "mae", "mape", "smape").
		From("evaluations").
		Where(sq.Eq{"run_id": runID}).
		OrderBy("id ASC").
		RunWith(s.db).
		Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var run *EvaluationRun
	for rows.Next() {
		var first, last sql.NullTime
		var created time.Time
		var horizon int
		var r models.EvaluationRow
		if err := rows.Scan(&horizon, &first, &last, &created, &r.Source, &r.N, &r.MAE, &r.MAPE, &r.SMAPE); err != nil {
			return nil, err
		}
		if run == nil {
			run = &EvaluationRun{
				RunID:      runID,
				Horizon:    horizon,
				FirstMonth: first.Time.UTC(),
				LastMonth:  last.Time.UTC(),
				CreatedAt:  created.UTC(),
			}
		}
		run.Rows = append(run.Rows, r)
	}
	return run, rows.Err()
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
