// Package table renders feature tables and evaluation reports as CSV or
// XLSX and reads monthly series back from CSV.
package table

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/lox/permitcast/internal/models"
)

const dateLayout = "2006-01-02"

// FeatureHeader is the column order of the monthly feature table.
var FeatureHeader = []string{
	"Month",
	"Dwellings",
	"permits_lag1",
	"permits_change",
	"permits_pct_change",
	"permits_rolling2",
	"is_growth_quarter",
}

// WriteFeaturesCSV writes one row per month. Undefined values are empty cells.
func WriteFeaturesCSV(w io.Writer, months []models.MonthlyRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(FeatureHeader); err != nil {
		return err
	}
	for _, m := range months {
		if err := cw.Write(featureRow(m)); err != nil {
			return fmt.Errorf("write %s: %w", m.Month.Format("2006-01"), err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func featureRow(m models.MonthlyRecord) []string {
	return []string{
		m.Month.Format(dateLayout),
		formatInt(m.Dwellings),
		formatInt(m.Lag1),
		formatInt(m.Change),
		formatFloat(m.PctChange),
		formatFloat(m.Rolling2),
		formatBool(m.IsGrowth),
	}
}

func formatInt(v sql.NullInt64) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatInt(v.Int64, 10)
}

func formatFloat(v sql.NullFloat64) string {
	if !v.Valid {
		return ""
	}
	return strconv.FormatFloat(v.Float64, 'f', -1, 64)
}

func formatBool(v sql.NullBool) string {
	switch {
	case !v.Valid:
		return ""
	case v.Bool:
		return "1"
	default:
		return "0"
	}
}
