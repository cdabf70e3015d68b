// Package accuracy scores forecast sequences against realized values.
package accuracy

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/lox/permitcast/internal/models"
)

// Source is one named forecast aligned index-for-index with the actuals.
type Source struct {
	Name      string
	Predicted []float64
}

// Evaluate computes MAE, MAPE and SMAPE for predicted against actual.
// A zero actual makes MAPE undefined and is reported as an error.
func Evaluate(actual, predicted []float64) (models.EvaluationRow, error) {
	if err := check(actual, predicted); err != nil {
		return models.EvaluationRow{}, err
	}
	for i, a := range actual {
		if a == 0 {
			return models.EvaluationRow{}, &models.DivisionByZeroError{Metric: "mape", Index: i}
		}
	}

	mae, _ := MAE(actual, predicted)
	mape, _ := MAPE(actual, predicted)
	smape, _ := SMAPE(actual, predicted)
	return models.EvaluationRow{
		N:     len(actual),
		MAE:   mae,
		MAPE:  mape,
		SMAPE: smape,
	}, nil
}

// EvaluateSource is Evaluate with the row labelled.
func EvaluateSource(name string, actual, predicted []float64) (models.EvaluationRow, error) {
	row, err := Evaluate(actual, predicted)
	if err != nil {
		return row, &SourceError{Source: name, Err: err}
	}
	row.Source = name
	return row, nil
}

// EvaluateAll scores each source concurrently. Rows are returned in the
// order of sources and do not depend on it.
func EvaluateAll(ctx context.Context, actual []float64, sources []Source) ([]models.EvaluationRow, error) {
	rows := make([]models.EvaluationRow, len(sources))
	g, ctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			row, err := EvaluateSource(src.Name, actual, src.Predicted)
			if err != nil {
				return err
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

// MAE is mean(|p-a|).
func MAE(actual, predicted []float64) (float64, error) {
	if err := check(actual, predicted); err != nil {
		return 0, err
	}
	var sum float64
	for i := range actual {
		sum += math.Abs(predicted[i] - actual[i])
	}
	return sum / float64(len(actual)), nil
}

// MAPE is 100 * mean(|p-a| / |a|).
func MAPE(actual, predicted []float64) (float64, error) {
	if err := check(actual, predicted); err != nil {
		return 0, err
	}
	var sum float64
	for i := range actual {
		if actual[i] == 0 {
			return 0, &models.DivisionByZeroError{Metric: "mape", Index: i}
		}
		sum += math.Abs(predicted[i]-actual[i]) / math.Abs(actual[i])
	}
	return 100 * sum / float64(len(actual)), nil
}

// SMAPE is 100 * mean(2|p-a| / (|p|+|a|)); a term with p and a both zero counts as 0.
func SMAPE(actual, predicted []float64) (float64, error) {
	if err := check(actual, predicted); err != nil {
		return 0, err
	}
	var sum float64
	for i := range actual {
		denom := math.Abs(predicted[i]) + math.Abs(actual[i])
		if denom == 0 {
			continue
		}
		sum += 2 * math.Abs(predicted[i]-actual[i]) / denom
	}
	return 100 * sum / float64(len(actual)), nil
}

func check(actual, predicted []float64) error {
	if len(actual) != len(predicted) {
		return &models.LengthMismatchError{Actual: len(actual), Predicted: len(predicted)}
	}
	if len(actual) == 0 {
		return models.ErrEmptySeries
	}
	for i := range actual {
		if !finite(actual[i]) || !finite(predicted[i]) {
			return models.ErrNonFinite
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// SourceError attributes an evaluation failure to a forecast source.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string { return "source " + e.Source + ": " + e.Err.Error() }

func (e *SourceError) Unwrap() error { return e.Err }
