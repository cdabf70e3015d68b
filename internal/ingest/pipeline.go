package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/lox/permitcast/internal/features"
	"github.com/lox/permitcast/internal/metrics"
	"github.com/lox/permitcast/internal/models"
	"github.com/lox/permitcast/internal/sdmx"
	"github.com/lox/permitcast/internal/store"
)

// Build is the outcome of turning one document into feature tables.
type Build struct {
	Dataset      string
	Observations []models.Observation
	Quarterly    []models.QuarterlyRecord
	Monthly      []models.MonthlyRecord
}

type Pipeline struct {
	store   *store.Store
	fetcher *Fetcher
	filter  sdmx.Filter
}

// NewPipeline wires a pipeline. A nil store skips persistence.
func NewPipeline(st *store.Store, fetcher *Fetcher, filter sdmx.Filter) *Pipeline {
	if filter == nil {
		filter = sdmx.DefaultFilter
	}
	return &Pipeline{store: st, fetcher: fetcher, filter: filter}
}

// FetchDocument retrieves a document and records the attempt and payload.
func (p *Pipeline) FetchDocument(ctx context.Context, location string) ([]byte, error) {
	var run *store.FetchRun
	if p.store != nil {
		var err error
		run, err = p.store.StartFetchRun(schemeOf(location), location)
		if err != nil {
			log.Printf("pipeline: failed to start fetch run: %v", err)
		}
	}

	log.Printf("pipeline: fetching %s", location)
	res, err := p.fetcher.Fetch(ctx, location)

	if run != nil {
		run.Success = err == nil
		if res != nil {
			run.HTTPStatus = sql.NullInt64{Int64: int64(res.HTTPStatus), Valid: res.HTTPStatus > 0}
			run.ResponseSizeBytes = sql.NullInt64{Int64: int64(len(res.Body)), Valid: len(res.Body) > 0}
		}
		if err != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		}
		if cerr := p.store.CompleteFetchRun(run); cerr != nil {
			log.Printf("pipeline: failed to complete fetch run: %v", cerr)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", location, err)
	}

	if p.store != nil {
		var runID *int64
		if run != nil {
			runID = &run.ID
		}
		if _, err := p.store.StoreRawPayload(runID, res.Scheme, location, res.Body); err != nil {
			return nil, fmt.Errorf("store payload: %w", err)
		}
	}

	log.Printf("pipeline: fetched %d bytes", len(res.Body))
	return res.Body, nil
}

// LatestDocument returns the most recently stored payload.
func (p *Pipeline) LatestDocument() ([]byte, error) {
	if p.store == nil {
		return nil, fmt.Errorf("no store configured")
	}
	meta, body, err := p.store.LatestRawPayload()
	if err != nil {
		return nil, fmt.Errorf("load latest payload: %w", err)
	}
	if meta == nil {
		return nil, fmt.Errorf("no stored documents; run fetch first")
	}
	log.Printf("pipeline: using payload %d fetched %s from %s", meta.ID, meta.FetchedAt.Format("2006-01-02 15:04"), meta.URL)
	return body, nil
}

// BuildFeatures extracts the filtered series and derives both feature
// tables, persisting them under dataset when a store is configured.
func (p *Pipeline) BuildFeatures(ctx context.Context, dataset string, document []byte) (*Build, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	obs, err := sdmx.Parse(document, p.filter)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	metrics.ObservationsParsed.WithLabelValues(dataset).Add(float64(len(obs)))
	log.Printf("pipeline: %d observations match %s", len(obs), p.filter)

	quarterly, err := features.BuildQuarterly(obs)
	if err != nil {
		return nil, fmt.Errorf("build quarterly: %w", err)
	}
	monthly, err := features.ExpandMonthly(quarterly)
	if err != nil {
		return nil, fmt.Errorf("expand monthly: %w", err)
	}
	if err := features.CheckCarryForward(monthly); err != nil {
		return nil, fmt.Errorf("check monthly alignment: %w", err)
	}

	metrics.RecordsBuilt.WithLabelValues(dataset, "quarterly").Add(float64(len(quarterly)))
	metrics.RecordsBuilt.WithLabelValues(dataset, "monthly").Add(float64(len(monthly)))
	log.Printf("pipeline: built %d quarterly and %d monthly records", len(quarterly), len(monthly))

	if p.store != nil {
		if err := p.store.ReplaceFeatures(dataset, quarterly, monthly); err != nil {
			return nil, fmt.Errorf("store features: %w", err)
		}
	}

	return &Build{
		Dataset:      dataset,
		Observations: obs,
		Quarterly:    quarterly,
		Monthly:      monthly,
	}, nil
}
