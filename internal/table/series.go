package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lox/permitcast/internal/models"
)

const (
	MonthColumn    = "Month"
	ForecastColumn = "Forecasted_Dwellings"
	ActualColumn   = "Dwellings"
)

var ErrNoColumn = errors.New("column not found")

// monthLayouts covers the date renderings forecasting tools commonly emit.
var monthLayouts = []string{
	"2006-01-02",
	"2006-01",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
}

// ReadPoints loads a monthly series from CSV. The value column defaults to
// the last column when valueColumn is empty or absent. Rows with an empty
// value are skipped; the result is ordered by month.
func ReadPoints(r io.Reader, valueColumn string) ([]models.Point, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, models.ErrEmptySeries
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	dateIdx, valueIdx := -1, -1
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		switch {
		case h == MonthColumn || (dateIdx == -1 && (h == "ds" || h == "Date" || h == "date")):
			dateIdx = i
		case valueColumn != "" && h == valueColumn:
			valueIdx = i
		}
	}
	if dateIdx == -1 {
		return nil, fmt.Errorf("%w: %s", ErrNoColumn, MonthColumn)
	}
	if valueIdx == -1 {
		valueIdx = len(header) - 1
		if valueIdx == dateIdx {
			return nil, fmt.Errorf("%w: no value column", ErrNoColumn)
		}
	}

	seen := make(map[time.Time]bool)
	var points []models.Point
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		raw := strings.TrimSpace(rec[valueIdx])
		if raw == "" {
			continue
		}
		month, err := parseMonth(rec[dateIdx])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: value %q: %w", line, raw, err)
		}
		if seen[month] {
			return nil, fmt.Errorf("line %d: %w", line, &models.DuplicatePeriodError{Period: month})
		}
		seen[month] = true
		points = append(points, models.Point{Month: month, Value: value})
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Month.Before(points[j].Month) })
	return points, nil
}

// ReadPointsFile is ReadPoints over a file on disk.
func ReadPointsFile(path, valueColumn string) ([]models.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	points, err := ReadPoints(f, valueColumn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return points, nil
}

func parseMonth(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range monthLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised month %q", s)
}

// MonthlyPoints converts feature rows with a known Dwellings count into points.
func MonthlyPoints(months []models.MonthlyRecord) []models.Point {
	points := make([]models.Point, 0, len(months))
	for _, m := range months {
		if !m.Dwellings.Valid {
			continue
		}
		points = append(points, models.Point{Month: m.Month, Value: float64(m.Dwellings.Int64)})
	}
	return points
}
