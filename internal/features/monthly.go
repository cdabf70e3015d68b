package features

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/permitcast/internal/models"
	"github.com/lox/permitcast/internal/quarter"
)

// ExpandMonthly spreads quarterly records over every month from the first
// record's quarter start through the last month of the last record's quarter.
func ExpandMonthly(records []models.QuarterlyRecord) ([]models.MonthlyRecord, error) {
	if err := checkOrdered(records); err != nil {
		return nil, err
	}

	first := quarter.Start(records[0].Period)
	last := quarter.End(records[len(records)-1].Period)

	var months []time.Time
	for m := first; !m.After(last); m = m.AddDate(0, 1, 0) {
		months = append(months, m)
	}
	return fold(records, months), nil
}

// ExpandOver aligns quarterly records onto a caller-supplied monthly index.
// Months whose quarter has no record repeat the most recent earlier record;
// months before the first record stay null.
func ExpandOver(records []models.QuarterlyRecord, months []time.Time) ([]models.MonthlyRecord, error) {
	if err := checkOrdered(records); err != nil {
		return nil, err
	}

	index := make([]time.Time, len(months))
	for i, m := range months {
		index[i] = quarter.MonthStart(m)
		if i > 0 && !index[i].After(index[i-1]) {
			return nil, fmt.Errorf("month %s: %w", index[i].Format("2006-01"), models.ErrUnsorted)
		}
	}
	return fold(records, index), nil
}

// fold walks months in order carrying the last matched record.
func fold(records []models.QuarterlyRecord, months []time.Time) []models.MonthlyRecord {
	byQuarter := make(map[time.Time]*models.QuarterlyRecord, len(records))
	for i := range records {
		byQuarter[quarter.Start(records[i].Period)] = &records[i]
	}

	out := make([]models.MonthlyRecord, 0, len(months))
	var carry *models.QuarterlyRecord
	for _, m := range months {
		if rec, ok := byQuarter[quarter.Start(m)]; ok {
			carry = rec
		}
		out = append(out, carried(m, carry))
	}
	return out
}

func carried(month time.Time, rec *models.QuarterlyRecord) models.MonthlyRecord {
	if rec == nil {
		return models.MonthlyRecord{Month: month}
	}
	return models.MonthlyRecord{
		Month:     month,
		Quarter:   sql.NullTime{Time: quarter.Start(rec.Period), Valid: true},
		Dwellings: sql.NullInt64{Int64: rec.Dwellings, Valid: true},
		Lag1:      rec.Lag1,
		Change:    rec.Change,
		PctChange: rec.PctChange,
		Rolling2:  rec.Rolling2,
		IsGrowth:  sql.NullBool{Bool: rec.IsGrowth, Valid: true},
	}
}

func checkOrdered(records []models.QuarterlyRecord) error {
	if len(records) == 0 {
		return models.ErrNoRecords
	}
	for i := 1; i < len(records); i++ {
		prev, cur := quarter.Start(records[i-1].Period), quarter.Start(records[i].Period)
		if cur.Equal(prev) {
			return &models.DuplicatePeriodError{Period: cur}
		}
		if cur.Before(prev) {
			return fmt.Errorf("period %s: %w", cur.Format("2006-01-02"), models.ErrUnsorted)
		}
	}
	return nil
}

// CheckCarryForward verifies that every quarter covered by months has exactly
// three rows and that those rows carry identical features.
func CheckCarryForward(months []models.MonthlyRecord) error {
	groups := make(map[time.Time][]models.MonthlyRecord)
	var order []time.Time
	for _, m := range months {
		q := quarter.Start(m.Month)
		if _, ok := groups[q]; !ok {
			order = append(order, q)
		}
		groups[q] = append(groups[q], m)
	}

	for _, q := range order {
		rows := groups[q]
		if len(rows) != 3 {
			return fmt.Errorf("quarter %s: %d monthly rows, want 3", quarter.Label(q), len(rows))
		}
		for _, r := range rows[1:] {
			if !r.SameFeatures(rows[0]) {
				return fmt.Errorf("quarter %s: month %s differs from %s",
					quarter.Label(q), r.Month.Format("2006-01"), rows[0].Month.Format("2006-01"))
			}
		}
	}
	return nil
}

// QuarterlyMeans averages the Dwellings of each quarter's monthly rows,
// ignoring null months. The result is ordered by quarter.
func QuarterlyMeans(months []models.MonthlyRecord) []models.Point {
	points := make([]models.Point, 0, len(months))
	for _, m := range months {
		if m.Dwellings.Valid {
			points = append(points, models.Point{Month: m.Month, Value: float64(m.Dwellings.Int64)})
		}
	}
	return QuarterlyPointMeans(points)
}

// QuarterlyPointMeans averages monthly points per quarter, keyed by quarter
// start. Quarters appear in order of first occurrence. Used to put monthly
// forecasts on the same footing as the quarterly release.
func QuarterlyPointMeans(points []models.Point) []models.Point {
	type acc struct {
		sum   float64
		count int
	}
	sums := make(map[time.Time]*acc)
	var order []time.Time
	for _, p := range points {
		q := quarter.Start(p.Month)
		a, ok := sums[q]
		if !ok {
			a = &acc{}
			sums[q] = a
			order = append(order, q)
		}
		a.sum += p.Value
		a.count++
	}

	out := make([]models.Point, 0, len(order))
	for _, q := range order {
		out = append(out, models.Point{Month: q, Value: sums[q].sum / float64(sums[q].count)})
	}
	return out
}
