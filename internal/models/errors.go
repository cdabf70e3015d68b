package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingSeriesKey = errors.New("missing series key")
	ErrMissingPeriod    = errors.New("missing observation period")
	ErrMissingValue     = errors.New("missing observation value")
	ErrBadValue         = errors.New("observation value is not an integer")
	ErrBadPeriod        = errors.New("unparseable period")

	ErrNoRecords   = errors.New("no quarterly records")
	ErrUnsorted    = errors.New("records are not in ascending period order")
	ErrEmptySeries = errors.New("empty series")
	ErrNonFinite   = errors.New("non-finite value")
)

// ParseError identifies the series and observation of a malformed document.
// Observation is -1 for series-level problems.
type ParseError struct {
	Series      int
	Observation int
	Key         string
	Err         error
}

func (e *ParseError) Error() string {
	where := fmt.Sprintf("series %d", e.Series)
	if e.Key != "" {
		where += " [" + e.Key + "]"
	}
	if e.Observation >= 0 {
		where += fmt.Sprintf(" observation %d", e.Observation)
	}
	return fmt.Sprintf("parse %s: %v", where, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// DuplicatePeriodError reports two observations claiming the same quarter.
type DuplicatePeriodError struct {
	Period time.Time
}

func (e *DuplicatePeriodError) Error() string {
	return fmt.Sprintf("duplicate period %s", e.Period.Format("2006-01-02"))
}

type LengthMismatchError struct {
	Actual    int
	Predicted int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("length mismatch: %d actual, %d predicted", e.Actual, e.Predicted)
}

// DivisionByZeroError reports a zero denominator in a percentage computation.
// Index is -1 when the computation is not over a sequence.
type DivisionByZeroError struct {
	Metric string
	Index  int
}

func (e *DivisionByZeroError) Error() string {
	if e.Index < 0 {
		return e.Metric + ": zero denominator"
	}
	return fmt.Sprintf("%s: zero denominator at index %d", e.Metric, e.Index)
}
