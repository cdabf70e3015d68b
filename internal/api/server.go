package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/permitcast/internal/chart"
	"github.com/lox/permitcast/internal/store"
)

// Server exposes stored feature tables and evaluation reports as JSON.
type Server struct {
	store   *store.Store
	addr    string
	dataset string
	charts  *chart.Cache
}

func NewServer(store *store.Store, addr, dataset string) *Server {
	return &Server{
		store:   store,
		addr:    addr,
		dataset: dataset,
		charts:  chart.NewCache(5 * time.Minute),
	}
}

// InvalidateCharts drops rendered charts after the stored tables change.
func (s *Server) InvalidateCharts() {
	s.charts.Purge()
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/chart.png", s.handleChart)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/datasets", s.handleDatasets)
		r.Get("/quarterly", s.handleQuarterly)
		r.Get("/monthly", s.handleMonthly)
		r.Get("/forecasts", s.handleForecastSources)
		r.Get("/forecasts/{source}", s.handleForecast)
		r.Get("/evaluations", s.handleLatestEvaluation)
		r.Get("/evaluations/{runID}", s.handleEvaluation)
		r.Get("/fetch-runs", s.handleFetchRuns)
	})
	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
