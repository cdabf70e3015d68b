package store

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/lox/permitcast/internal/models"
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// ReplaceQuarterly swaps the stored quarterly records of a dataset in one transaction.
func (s *Store) ReplaceQuarterly(dataset string, records []models.QuarterlyRecord) error {
	return s.inTx(func(tx *sql.Tx) error {
		return replaceQuarterly(tx, dataset, records)
	})
}

// ReplaceFeatures swaps both feature tables of a dataset in a single
// transaction so readers never see a new quarterly table beside a stale
// monthly one.
func (s *Store) ReplaceFeatures(dataset string, records []models.QuarterlyRecord, months []models.MonthlyRecord) error {
	return s.inTx(func(tx *sql.Tx) error {
		if err := replaceQuarterly(tx, dataset, records); err != nil {
			return err
		}
		return replaceMonthly(tx, dataset, months)
	})
}

func (s *Store) inTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func replaceQuarterly(tx *sql.Tx, dataset string, records []models.QuarterlyRecord) error {
	if _, err := tx.Exec(`DELETE FROM quarterly_records WHERE dataset = ?`, dataset); err != nil {
		return fmt.Errorf("clear quarterly %s: %w", dataset, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO quarterly_records (dataset, period, dwellings, lag1, change, pct_change, rolling2, is_growth)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(dataset, r.Period, r.Dwellings, r.Lag1, r.Change, r.PctChange, r.Rolling2, r.IsGrowth); err != nil {
			return fmt.Errorf("insert quarter %s: %w", r.Period.Format("2006-01-02"), err)
		}
	}
	return nil
}

func (s *Store) GetQuarterly(dataset string) ([]models.QuarterlyRecord, error) {
	rows, err := s.db.Query(`
		SELECT period, dwellings, lag1, change, pct_change, rolling2, is_growth
		FROM quarterly_records
		WHERE dataset = ?
		ORDER BY period ASC
	`, dataset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.QuarterlyRecord
	for rows.Next() {
		var r models.QuarterlyRecord
		if err := rows.Scan(&r.Period, &r.Dwellings, &r.Lag1, &r.Change, &r.PctChange, &r.Rolling2, &r.IsGrowth); err != nil {
			return nil, err
		}
		r.Period = r.Period.UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// ReplaceMonthly swaps the stored monthly feature table of a dataset.
func (s *Store) ReplaceMonthly(dataset string, months []models.MonthlyRecord) error {
	return s.inTx(func(tx *sql.Tx) error {
		return replaceMonthly(tx, dataset, months)
	})
}

func replaceMonthly(tx *sql.Tx, dataset string, months []models.MonthlyRecord) error {
	if _, err := tx.Exec(`DELETE FROM monthly_features WHERE dataset = ?`, dataset); err != nil {
		return fmt.Errorf("clear monthly %s: %w", dataset, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO monthly_features (dataset, month, quarter, dwellings, lag1, change, pct_change, rolling2, is_growth)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range months {
		if _, err := stmt.Exec(dataset, m.Month, m.Quarter, m.Dwellings, m.Lag1, m.Change, m.PctChange, m.Rolling2, m.IsGrowth); err != nil {
			return fmt.Errorf("insert month %s: %w", m.Month.Format("2006-01"), err)
		}
	}
	return nil
}

// GetMonthly returns a dataset's monthly features ordered by month.
// Zero bounds leave that side of the range open.
func (s *Store) GetMonthly(dataset string, from, to time.Time) ([]models.MonthlyRecord, error) {
	q := sq.Select("month", "quarter", "dwellings", "lag1", "change", "pct_change", "rolling2", "is_growth").
		From("monthly_features").
		Where(sq.Eq{"dataset": dataset}).
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

	var months []models.MonthlyRecord
	for rows.Next() {
		var m models.MonthlyRecord
		if err := rows.Scan(&m.Month, &m.Quarter, &m.Dwellings, &m.Lag1, &m.Change, &m.PctChange, &m.Rolling2, &m.IsGrowth); err != nil {
			return nil, err
		}
		m.Month = m.Month.UTC()
		if m.Quarter.Valid {
			m.Quarter.Time = m.Quarter.Time.UTC()
		}
		months = append(months, m)
	}
	return months, rows.Err()
}

// Datasets lists the datasets with stored monthly features.
func (s *Store) Datasets() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT dataset FROM monthly_features ORDER BY dataset`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
