package ingest

import (
	"context"
	"log"
	"time"
)

// Scheduler periodically re-fetches the source document and rebuilds the
// feature tables. ISTAT publishes quarterly, so intervals are long.
type Scheduler struct {
	pipeline *Pipeline
	location string
	dataset  string
	interval time.Duration
	onBuild  []func(*Build)
}

func NewScheduler(pipeline *Pipeline, location, dataset string, interval time.Duration) *Scheduler {
	return &Scheduler{
		pipeline: pipeline,
		location: location,
		dataset:  dataset,
		interval: interval,
	}
}

// OnRefresh registers fn to run after every successful rebuild, e.g. to drop
// caches derived from the stored tables.
func (s *Scheduler) OnRefresh(fn func(*Build)) {
	s.onBuild = append(s.onBuild, fn)
}

func (s *Scheduler) Run(ctx context.Context) {
	s.refresh(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: shutting down")
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

// RefreshOnce fetches and rebuilds a single time.
func (s *Scheduler) RefreshOnce(ctx context.Context) (*Build, error) {
	doc, err := s.pipeline.FetchDocument(ctx, s.location)
	if err != nil {
		return nil, err
	}
	return s.pipeline.BuildFeatures(ctx, s.dataset, doc)
}

func (s *Scheduler) refresh(ctx context.Context) {
	log.Printf("scheduler: refreshing %s", s.dataset)
	build, err := s.RefreshOnce(ctx)
	if err != nil {
		log.Printf("scheduler: refresh %s: %v", s.dataset, err)
		return
	}
	log.Printf("scheduler: %s now covers %d months", s.dataset, len(build.Monthly))
	for _, fn := range s.onBuild {
		fn(build)
	}
}
