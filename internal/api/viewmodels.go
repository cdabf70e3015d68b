package api

import (
	"database/sql"
	"time"

	"github.com/lox/permitcast/internal/models"
	"github.com/lox/permitcast/internal/quarter"
	"github.com/lox/permitcast/internal/store"
)

const monthLayout = "2006-01"

type HealthStatus struct {
	Status           string   `json:"status"`
	MigrationVersion int      `json:"migration_version"`
	Datasets         []string `json:"datasets"`
	LastFetch        string   `json:"last_fetch,omitempty"`
	LastFetchOK      *bool    `json:"last_fetch_ok,omitempty"`
	Errors           []string `json:"errors,omitempty"`
}

type QuarterlyView struct {
	Quarter   string   `json:"quarter"`
	Dwellings int64    `json:"dwellings"`
	Lag1      *int64   `json:"permits_lag1"`
	Change    *int64   `json:"permits_change"`
	PctChange *float64 `json:"permits_pct_change"`
	Rolling2  *float64 `json:"permits_rolling2"`
	IsGrowth  bool     `json:"is_growth_quarter"`
}

type MonthlyView struct {
	Month     string   `json:"month"`
	Quarter   *string  `json:"quarter"`
	Dwellings *int64   `json:"dwellings"`
	Lag1      *int64   `json:"permits_lag1"`
	Change    *int64   `json:"permits_change"`
	PctChange *float64 `json:"permits_pct_change"`
	Rolling2  *float64 `json:"permits_rolling2"`
	IsGrowth  *bool    `json:"is_growth_quarter"`
}

type PointView struct {
	Month string  `json:"month"`
	Value float64 `json:"value"`
}

type EvaluationView struct {
	RunID      string              `json:"run_id"`
	Horizon    int                 `json:"horizon"`
	FirstMonth string              `json:"first_month,omitempty"`
	LastMonth  string              `json:"last_month,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	Rows       []EvaluationRowView `json:"rows"`
}

type EvaluationRowView struct {
	Source string  `json:"source"`
	N      int     `json:"n"`
	MAE    float64 `json:"mae"`
	MAPE   float64 `json:"mape"`
	SMAPE  float64 `json:"smape"`
}

type FetchRunView struct {
	ID         int64      `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Source     string     `json:"source"`
	URL        string     `json:"url"`
	HTTPStatus *int64     `json:"http_status"`
	Bytes      *int64     `json:"response_size_bytes"`
	Success    bool       `json:"success"`
	Error      string     `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

func newQuarterlyView(r models.QuarterlyRecord) QuarterlyView {
	return QuarterlyView{
		Quarter:   quarter.Label(r.Period),
		Dwellings: r.Dwellings,
		Lag1:      intPtr(r.Lag1),
		Change:    intPtr(r.Change),
		PctChange: floatPtr(r.PctChange),
		Rolling2:  floatPtr(r.Rolling2),
		IsGrowth:  r.IsGrowth,
	}
}

func newMonthlyView(m models.MonthlyRecord) MonthlyView {
	v := MonthlyView{
		Month:     m.Month.Format(monthLayout),
		Dwellings: intPtr(m.Dwellings),
		Lag1:      intPtr(m.Lag1),
		Change:    intPtr(m.Change),
		PctChange: floatPtr(m.PctChange),
		Rolling2:  floatPtr(m.Rolling2),
	}
	if m.Quarter.Valid {
		label := quarter.Label(m.Quarter.Time)
		v.Quarter = &label
	}
	if m.IsGrowth.Valid {
		v.IsGrowth = &m.IsGrowth.Bool
	}
	return v
}

func newEvaluationView(run *store.EvaluationRun) EvaluationView {
	v := EvaluationView{
		RunID:     run.RunID,
		Horizon:   run.Horizon,
		CreatedAt: run.CreatedAt,
		Rows:      make([]EvaluationRowView, len(run.Rows)),
	}
	if !run.FirstMonth.IsZero() {
		v.FirstMonth = run.FirstMonth.Format(monthLayout)
	}
	if !run.LastMonth.IsZero() {
		v.LastMonth = run.LastMonth.Format(monthLayout)
	}
	for i, r := range run.Rows {
		v.Rows[i] = EvaluationRowView{Source: r.Source, N: r.N, MAE: r.MAE, MAPE: r.MAPE, SMAPE: r.SMAPE}
	}
	return v
}

func newFetchRunView(r store.FetchRun) FetchRunView {
	v := FetchRunView{
		ID:         r.ID,
		StartedAt:  r.StartedAt,
		Source:     r.Source,
		URL:        r.URL,
		HTTPStatus: intPtr(r.HTTPStatus),
		Bytes:      intPtr(r.ResponseSizeBytes),
		Success:    r.Success,
		Error:      r.ErrorMessage.String,
	}
	if r.FinishedAt.Valid {
		v.FinishedAt = &r.FinishedAt.Time
	}
	return v
}
