package table

import (
	"database/sql"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/lox/permitcast/internal/models"
	"github.com/lox/permitcast/internal/quarter"
)

const (
	MonthlySheet   = "Monthly"
	QuarterlySheet = "Quarterly"
)

var quarterlyHeader = []string{
	"Quarter",
	"Dwellings",
	"permits_lag1",
	"permits_change",
	"permits_pct_change",
	"permits_rolling2",
	"is_growth_quarter",
}

// WriteFeaturesXLSX writes a workbook with the monthly table and, when
// quarterly is non-empty, a second sheet with the quarterly records.
func WriteFeaturesXLSX(w io.Writer, months []models.MonthlyRecord, quarterly []models.QuarterlyRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", MonthlySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	if err := setRow(f, MonthlySheet, 1, toCells(FeatureHeader)); err != nil {
		return err
	}
	for i, m := range months {
		row := []interface{}{
			m.Month.Format(dateLayout),
			intCell(m.Dwellings),
			intCell(m.Lag1),
			intCell(m.Change),
			floatCell(m.PctChange),
			floatCell(m.Rolling2),
			boolCell(m.IsGrowth),
		}
		if err := setRow(f, MonthlySheet, i+2, row); err != nil {
			return err
		}
	}

	if len(quarterly) > 0 {
		if _, err := f.NewSheet(QuarterlySheet); err != nil {
			return fmt.Errorf("add sheet: %w", err)
		}
		if err := setRow(f, QuarterlySheet, 1, toCells(quarterlyHeader)); err != nil {
			return err
		}
		for i, q := range quarterly {
			growth := 0
			if q.IsGrowth {
				growth = 1
			}
			row := []interface{}{
				quarter.Label(q.Period),
				q.Dwellings,
				intCell(q.Lag1),
				intCell(q.Change),
				floatCell(q.PctChange),
				floatCell(q.Rolling2),
				growth,
			}
			if err := setRow(f, QuarterlySheet, i+2, row); err != nil {
				return err
			}
		}
	}

	if err := f.SetPanes(MonthlySheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, cells []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("%s row %d: %w", sheet, row, err)
	}
	return nil
}

func toCells(header []string) []interface{} {
	cells := make([]interface{}, len(header))
	for i, h := range header {
		cells[i] = h
	}
	return cells
}

func intCell(v sql.NullInt64) interface{} {
	if !v.Valid {
		return nil
	}
	return v.Int64
}

func floatCell(v sql.NullFloat64) interface{} {
	if !v.Valid {
		return nil
	}
	return v.Float64
}

func boolCell(v sql.NullBool) interface{} {
	if !v.Valid {
		return nil
	}
	if v.Bool {
		return 1
	}
	return 0
}
