package models

import (
	"database/sql"
	"time"
)

// Observation is a single value from a statistical series, tied to a quarter.
type Observation struct {
	SeriesKey   map[string]string
	PeriodLabel string    // as published, e.g. "2024-Q1"
	Period      time.Time // quarter start
	Value       int64
}

// QuarterlyRecord is one quarter of permit counts with its derived features.
// Lag1, Change, PctChange and Rolling2 are invalid for the first quarter.
type QuarterlyRecord struct {
	Period    time.Time
	Dwellings int64
	Lag1      sql.NullInt64
	Change    sql.NullInt64
	PctChange sql.NullFloat64 // also invalid when Lag1 is zero
	Rolling2  sql.NullFloat64
	IsGrowth  bool
}

// MonthlyRecord carries the features of the quarter containing Month.
// Months before the first quarter with data have every field invalid.
type MonthlyRecord struct {
	Month     time.Time
	Quarter   sql.NullTime // quarter the features were taken from
	Dwellings sql.NullInt64
	Lag1      sql.NullInt64
	Change    sql.NullInt64
	PctChange sql.NullFloat64
	Rolling2  sql.NullFloat64
	IsGrowth  sql.NullBool
}

// SameFeatures reports whether two monthly rows carry identical quarter features.
func (m MonthlyRecord) SameFeatures(o MonthlyRecord) bool {
	return m.Quarter.Valid == o.Quarter.Valid &&
		m.Quarter.Time.Equal(o.Quarter.Time) &&
		m.Dwellings == o.Dwellings &&
		m.Lag1 == o.Lag1 &&
		m.Change == o.Change &&
		m.PctChange == o.PctChange &&
		m.Rolling2 == o.Rolling2 &&
		m.IsGrowth == o.IsGrowth
}

// Point is a single monthly value from an actual or forecast table.
type Point struct {
	Month time.Time
	Value float64
}

type EvaluationRow struct {
	Source string
	N      int
	MAE    float64
	MAPE   float64 // percent
	SMAPE  float64 // percent
}
