package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/lox/permitcast/internal/chart"
	"github.com/lox/permitcast/internal/models"
	"github.com/lox/permitcast/internal/table"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{Status: "ok"}

	version, err := s.store.MigrationVersion()
	if err != nil {
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, HealthStatus{Status: "error", Errors: []string{err.Error()}})
		return
	}
	health.MigrationVersion = version

	datasets, err := s.store.Datasets()
	if err != nil {
		health.Errors = append(health.Errors, "datasets: "+err.Error())
	}
	health.Datasets = datasets
	if health.Datasets == nil {
		health.Datasets = []string{}
	}

	runs, err := s.store.GetRecentFetchRuns(1)
	if err != nil {
		health.Errors = append(health.Errors, "fetch runs: "+err.Error())
	} else if len(runs) > 0 {
		health.LastFetch = runs[0].StartedAt.UTC().Format(time.RFC3339)
		ok := runs[0].Success
		health.LastFetchOK = &ok
		if !ok {
			health.Status = "degraded"
		}
	}

	if len(health.Errors) > 0 {
		health.Status = "degraded"
	}
	render.JSON(w, r, health)
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.store.Datasets()
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if datasets == nil {
		datasets = []string{}
	}
	render.JSON(w, r, datasets)
}

func (s *Server) handleQuarterly(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.GetQuarterly(s.datasetParam(r))
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	views := make([]QuarterlyView, len(records))
	for i, rec := range records {
		views[i] = newQuarterlyView(rec)
	}
	render.JSON(w, r, views)
}

func (s *Server) handleMonthly(w http.ResponseWriter, r *http.Request) {
	from, to, err := monthRange(r)
	if err != nil {
		badRequest(w, r, err)
		return
	}

	months, err := s.store.GetMonthly(s.datasetParam(r), from, to)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	views := make([]MonthlyView, len(months))
	for i, m := range months {
		views[i] = newMonthlyView(m)
	}
	render.JSON(w, r, views)
}

func (s *Server) handleForecastSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ForecastSources()
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if sources == nil {
		sources = []string{}
	}
	render.JSON(w, r, sources)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	from, to, err := monthRange(r)
	if err != nil {
		badRequest(w, r, err)
		return
	}

	points, err := s.store.GetForecastPoints(chi.URLParam(r, "source"), from, to)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if len(points) == 0 {
		notFound(w, r, "unknown forecast source")
		return
	}

	views := make([]PointView, len(points))
	for i, p := range points {
		views[i] = PointView{Month: p.Month.Format(monthLayout), Value: p.Value}
	}
	render.JSON(w, r, views)
}

func (s *Server) handleLatestEvaluation(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetLatestEvaluation()
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if run == nil {
		notFound(w, r, "no evaluations stored")
		return
	}
	render.JSON(w, r, newEvaluationView(run))
}

func (s *Server) handleEvaluation(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetEvaluation(chi.URLParam(r, "runID"))
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if run == nil {
		notFound(w, r, "unknown evaluation run")
		return
	}
	render.JSON(w, r, newEvaluationView(run))
}

func (s *Server) handleFetchRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			badRequest(w, r, fmt.Errorf("limit must be between 1 and 500"))
			return
		}
		limit = n
	}

	runs, err := s.store.GetRecentFetchRuns(limit)
	if err != nil {
		s.serverError(w, r, err)
		return
	}

	views := make([]FetchRunView, len(runs))
	for i, run := range runs {
		views[i] = newFetchRunView(run)
	}
	render.JSON(w, r, views)
}

// handleChart renders the monthly permits of a dataset, optionally with a
// stored forecast source drawn over them.
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	dataset := s.datasetParam(r)
	source := r.URL.Query().Get("forecast")
	key := dataset + "|" + source

	png, ok := s.charts.Get(key)
	if !ok {
		months, err := s.store.GetMonthly(dataset, time.Time{}, time.Time{})
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		data := chart.Data{Title: "Dwellings permitted: " + dataset, Actual: table.MonthlyPoints(months)}
		if source != "" {
			if data.Forecast, err = s.store.GetForecastPoints(source, time.Time{}, time.Time{}); err != nil {
				s.serverError(w, r, err)
				return
			}
			data.Title += " vs " + source
		}

		png, err = chart.Render(data)
		if errors.Is(err, models.ErrEmptySeries) {
			notFound(w, r, "nothing to chart")
			return
		}
		if err != nil {
			s.serverError(w, r, err)
			return
		}
		s.charts.Set(key, png)
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(png)
}

func (s *Server) datasetParam(r *http.Request) string {
	if d := r.URL.Query().Get("dataset"); d != "" {
		return d
	}
	return s.dataset
}

// monthRange reads optional from/to query parameters in YYYY-MM form.
func monthRange(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(monthLayout, v); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("from: want YYYY-MM, got %q", v)
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(monthLayout, v); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("to: want YYYY-MM, got %q", v)
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("to %s is before from %s", to.Format(monthLayout), from.Format(monthLayout))
	}
	return from, to, nil
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	log.Printf("api: %s %s: %v", r.Method, r.URL.Path, err)
	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, r *http.Request, err error) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, errorResponse{Error: err.Error()})
}

func notFound(w http.ResponseWriter, r *http.Request, msg string) {
	render.Status(r, http.StatusNotFound)
	render.JSON(w, r, errorResponse{Error: msg})
}
