package accuracy

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lox/permitcast/internal/models"
	"github.com/lox/permitcast/internal/quarter"
)

var ErrMissingForecast = errors.New("forecast has no value for month")

// Align pairs the first horizon actual months (all when horizon <= 0) with the
// forecast value for the same month. Both inputs are matched on month start.
func Align(actual, forecast []models.Point, horizon int) (a, p []float64, months []time.Time, err error) {
	if len(actual) == 0 {
		return nil, nil, nil, models.ErrEmptySeries
	}

	sorted := make([]models.Point, len(actual))
	copy(sorted, actual)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Month.Before(sorted[j].Month) })

	byMonth := make(map[time.Time]float64, len(forecast))
	for _, pt := range forecast {
		byMonth[quarter.MonthStart(pt.Month)] = pt.Value
	}

	if horizon <= 0 || horizon > len(sorted) {
		horizon = len(sorted)
	}
	for _, pt := range sorted[:horizon] {
		m := quarter.MonthStart(pt.Month)
		if len(months) > 0 && !m.After(months[len(months)-1]) {
			return nil, nil, nil, fmt.Errorf("actual month %s: %w", m.Format("2006-01"), models.ErrUnsorted)
		}
		v, ok := byMonth[m]
		if !ok {
			return nil, nil, nil, fmt.Errorf("%w %s", ErrMissingForecast, m.Format("2006-01"))
		}
		a = append(a, pt.Value)
		p = append(p, v)
		months = append(months, m)
	}
	return a, p, months, nil
}

// Window keeps the points whose month falls in [from, to]. A zero bound is open.
func Window(points []models.Point, from, to time.Time) []models.Point {
	var out []models.Point
	for _, pt := range points {
		if !from.IsZero() && pt.Month.Before(from) {
			continue
		}
		if !to.IsZero() && pt.Month.After(to) {
			continue
		}
		out = append(out, pt)
	}
	return out
}
