// Package features derives lag and trend indicators from quarterly permit
// counts and aligns them onto a monthly calendar.
package features

import (
	"database/sql"
	"errors"
	"sort"

	"github.com/lox/permitcast/internal/models"
	"github.com/lox/permitcast/internal/quarter"
)

// BuildQuarterly sorts observations by period and derives each record's
// features from itself and the record before it. The input is not modified.
func BuildQuarterly(obs []models.Observation) ([]models.QuarterlyRecord, error) {
	sorted := make([]models.Observation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Period.Before(sorted[j].Period)
	})

	records := make([]models.QuarterlyRecord, 0, len(sorted))
	for i, o := range sorted {
		period := quarter.Start(o.Period)
		if i > 0 && period.Equal(records[i-1].Period) {
			return nil, &models.DuplicatePeriodError{Period: period}
		}

		rec := models.QuarterlyRecord{Period: period, Dwellings: o.Value}
		if i > 0 {
			prev := records[i-1].Dwellings
			change := o.Value - prev
			rec.Lag1 = sql.NullInt64{Int64: prev, Valid: true}
			rec.Change = sql.NullInt64{Int64: change, Valid: true}
			rec.Rolling2 = sql.NullFloat64{Float64: float64(o.Value+prev) / 2, Valid: true}
			rec.IsGrowth = change > 0

			pct, err := PctChange(prev, o.Value)
			var dz *models.DivisionByZeroError
			switch {
			case err == nil:
				rec.PctChange = sql.NullFloat64{Float64: pct, Valid: true}
			case errors.As(err, &dz):
				// zero previous quarter: left undefined
			default:
				return nil, err
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// PctChange returns (cur-prev)/prev as a fraction.
func PctChange(prev, cur int64) (float64, error) {
	if prev == 0 {
		return 0, &models.DivisionByZeroError{Metric: "pct_change", Index: -1}
	}
	return float64(cur-prev) / float64(prev), nil
}
