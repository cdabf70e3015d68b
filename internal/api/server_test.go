package api_test

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/permitcast/internal/api"
	"github.com/lox/permitcast/internal/models"
	"github.com/lox/permitcast/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	if err := s.Migrate(); err != nil {
		t.Fatal(err)
	}
	return s
}

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func seed(t *testing.T, s *store.Store) {
	t.Helper()

	quarterly := []models.QuarterlyRecord{
		{Period: month(2023, 10), Dwellings: 13702},
		{
			Period:    month(2024, 1),
			Dwellings: 14918,
			Lag1:      sql.NullInt64{Int64: 13702, Valid: true},
			Change:    sql.NullInt64{Int64: 1216, Valid: true},
			PctChange: sql.NullFloat64{Float64: 1216.0 / 13702, Valid: true},
			Rolling2:  sql.NullFloat64{Float64: 14310, Valid: true},
			IsGrowth:  true,
		},
	}
	if err := s.ReplaceQuarterly("permits", quarterly); err != nil {
		t.Fatal(err)
	}

	var monthly []models.MonthlyRecord
	for i, q := range quarterly {
		for m := 0; m < 3; m++ {
			rec := models.MonthlyRecord{
				Month:     q.Period.AddDate(0, m, 0),
				Quarter:   sql.NullTime{Time: q.Period, Valid: true},
				Dwellings: sql.NullInt64{Int64: q.Dwellings, Valid: true},
				Lag1:      q.Lag1,
				Change:    q.Change,
				PctChange: q.PctChange,
				Rolling2:  q.Rolling2,
				IsGrowth:  sql.NullBool{Bool: q.IsGrowth, Valid: true},
			}
			if i == 0 && m == 0 {
				rec = models.MonthlyRecord{Month: q.Period}
			}
			monthly = append(monthly, rec)
		}
	}
	if err := s.ReplaceMonthly("permits", monthly); err != nil {
		t.Fatal(err)
	}
}

func get(t *testing.T, srv *api.Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	srv := api.NewServer(s, ":8080", "permits")

	w := get(t, srv, "/health")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var health api.HealthStatus
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" {
		t.Errorf("status = %q, want ok", health.Status)
	}
	if health.MigrationVersion < 1 {
		t.Errorf("migration_version = %d", health.MigrationVersion)
	}
}

func TestHealthEndpoint_FailedFetchDegrades(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	run, err := s.StartFetchRun("http", "https://example.org")
	if err != nil {
		t.Fatal(err)
	}
	run.ErrorMessage = sql.NullString{String: "status 503", Valid: true}
	if err := s.CompleteFetchRun(run); err != nil {
		t.Fatal(err)
	}

	w := get(t, api.NewServer(s, ":8080", "permits"), "/health")
	if !strings.Contains(w.Body.String(), `"degraded"`) {
		t.Errorf("expected degraded status, got %s", w.Body.String())
	}
}

func TestQuarterlyEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	seed(t, s)
	srv := api.NewServer(s, ":8080", "permits")

	w := get(t, srv, "/api/quarterly")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q", ct)
	}

	var views []api.QuarterlyView
	if err := json.Unmarshal(w.Body.Bytes(), &views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 2 {
		t.Fatalf("len = %d, want 2", len(views))
	}
	if views[0].Quarter != "2023-Q4" || views[0].Lag1 != nil {
		t.Errorf("first = %+v", views[0])
	}
	if views[1].Change == nil || *views[1].Change != 1216 || !views[1].IsGrowth {
		t.Errorf("second = %+v", views[1])
	}

	if !strings.Contains(w.Body.String(), `"permits_lag1":null`) {
		t.Error("undefined lag should render as null")
	}
}

func TestMonthlyEndpoint_Range(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	seed(t, s)
	srv := api.NewServer(s, ":8080", "permits")

	w := get(t, srv, "/api/monthly")
	var all []api.MonthlyView
	if err := json.Unmarshal(w.Body.Bytes(), &all); err != nil {
		t.Fatal(err)
	}
	if len(all) != 6 {
		t.Fatalf("len = %d, want 6", len(all))
	}
	if all[0].Dwellings != nil || all[0].Quarter != nil {
		t.Errorf("leading month should be null: %+v", all[0])
	}

	w = get(t, srv, "/api/monthly?from=2024-01&to=2024-02")
	var window []api.MonthlyView
	if err := json.Unmarshal(w.Body.Bytes(), &window); err != nil {
		t.Fatal(err)
	}
	if len(window) != 2 || window[0].Month != "2024-01" {
		t.Errorf("window = %+v", window)
	}
	if window[0].Quarter == nil || *window[0].Quarter != "2024-Q1" {
		t.Errorf("quarter = %v", window[0].Quarter)
	}

	w = get(t, srv, "/api/monthly?dataset=other")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("unknown dataset body = %s, want []", w.Body.String())
	}
}

func TestMonthlyEndpoint_BadRange(t *testing.T) {
	t.Parallel()
	srv := api.NewServer(setupTestStore(t), ":8080", "permits")

	for _, path := range []string{
		"/api/monthly?from=January",
		"/api/monthly?from=2024-05&to=2024-01",
	} {
		if w := get(t, srv, path); w.Code != http.StatusBadRequest {
			t.Errorf("%s: code = %d, want 400", path, w.Code)
		}
	}
}

func TestEvaluationEndpoints(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	srv := api.NewServer(s, ":8080", "permits")

	if w := get(t, srv, "/api/evaluations"); w.Code != http.StatusNotFound {
		t.Errorf("empty store: code = %d, want 404", w.Code)
	}

	err := s.InsertEvaluation(store.EvaluationRun{
		RunID:      "8d4b7f1e-2f4c-4a53-9d3e-0c1b9c2f5a10",
		Horizon:    3,
		FirstMonth: month(2024, 1),
		LastMonth:  month(2024, 3),
		Rows:       []models.EvaluationRow{{Source: "autoai", N: 3, MAE: 830.07, MAPE: 5.56, SMAPE: 5.72}},
	})
	if err != nil {
		t.Fatal(err)
	}

	w := get(t, srv, "/api/evaluations")
	if w.Code != 200 {
		t.Fatalf("code = %d: %s", w.Code, w.Body.String())
	}
	var view api.EvaluationView
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view.FirstMonth != "2024-01" || len(view.Rows) != 1 || view.Rows[0].MAE != 830.07 {
		t.Errorf("view = %+v", view)
	}

	if w := get(t, srv, "/api/evaluations/"+view.RunID); w.Code != 200 {
		t.Errorf("by id: code = %d", w.Code)
	}
	if w := get(t, srv, "/api/evaluations/unknown"); w.Code != http.StatusNotFound {
		t.Errorf("unknown id: code = %d, want 404", w.Code)
	}
}

func TestForecastEndpoints(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	if err := s.UpsertForecastPoints("prophet", []models.Point{
		{Month: month(2024, 1), Value: 14045.9},
		{Month: month(2024, 2), Value: 14103.4},
	}); err != nil {
		t.Fatal(err)
	}
	srv := api.NewServer(s, ":8080", "permits")

	w := get(t, srv, "/api/forecasts")
	if strings.TrimSpace(w.Body.String()) != `["prophet"]` {
		t.Errorf("sources = %s", w.Body.String())
	}

	w = get(t, srv, "/api/forecasts/prophet?to=2024-01")
	var points []api.PointView
	if err := json.Unmarshal(w.Body.Bytes(), &points); err != nil {
		t.Fatal(err)
	}
	if len(points) != 1 || points[0].Month != "2024-01" {
		t.Errorf("points = %+v", points)
	}

	if w := get(t, srv, "/api/forecasts/missing"); w.Code != http.StatusNotFound {
		t.Errorf("missing source: code = %d, want 404", w.Code)
	}
}

func TestFetchRunsEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	run, err := s.StartFetchRun("file", "testdata/permits.xml")
	if err != nil {
		t.Fatal(err)
	}
	run.Success = true
	if err := s.CompleteFetchRun(run); err != nil {
		t.Fatal(err)
	}
	srv := api.NewServer(s, ":8080", "permits")

	w := get(t, srv, "/api/fetch-runs?limit=5")
	var runs []api.FetchRunView
	if err := json.Unmarshal(w.Body.Bytes(), &runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || !runs[0].Success || runs[0].FinishedAt == nil {
		t.Errorf("runs = %+v", runs)
	}

	if w := get(t, srv, "/api/fetch-runs?limit=0"); w.Code != http.StatusBadRequest {
		t.Errorf("limit=0: code = %d, want 400", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv := api.NewServer(setupTestStore(t), ":8080", "permits")

	w := get(t, srv, "/metrics")
	if w.Code != 200 {
		t.Fatalf("code = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("expected default collectors in metrics output")
	}
}

func TestChartEndpoint(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	srv := api.NewServer(s, ":8080", "permits")

	if w := get(t, srv, "/chart.png"); w.Code != http.StatusNotFound {
		t.Errorf("empty store: code = %d, want 404", w.Code)
	}

	seed(t, s)
	srv = api.NewServer(s, ":8080", "permits")
	w := get(t, srv, "/chart.png?forecast=prophet")
	if w.Code != 200 {
		t.Fatalf("code = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.HasPrefix(w.Body.String(), "\x89PNG") {
		t.Error("body is not a PNG")
	}
}

func TestInvalidateCharts(t *testing.T) {
	t.Parallel()
	s := setupTestStore(t)
	srv := api.NewServer(s, ":8080", "permits")

	if w := get(t, srv, "/chart.png"); w.Code != http.StatusNotFound {
		t.Fatalf("empty store: code = %d, want 404", w.Code)
	}
	seed(t, s)
	first := get(t, srv, "/chart.png")
	if first.Code != 200 {
		t.Fatalf("code = %d", first.Code)
	}

	// A cached chart survives a table change until invalidated.
	if err := s.ReplaceMonthly("permits", []models.MonthlyRecord{
		{Month: month(2024, 1), Dwellings: sql.NullInt64{Int64: 500, Valid: true}},
	}); err != nil {
		t.Fatal(err)
	}
	if w := get(t, srv, "/chart.png"); w.Body.String() != first.Body.String() {
		t.Error("expected cached chart before invalidation")
	}

	srv.InvalidateCharts()
	if w := get(t, srv, "/chart.png"); w.Code != 200 || w.Body.String() == first.Body.String() {
		t.Errorf("chart not re-rendered after invalidation: code %d", w.Code)
	}
}
