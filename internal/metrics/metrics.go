package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permitcast_fetch_calls_total",
			Help: "Total statistical document fetch attempts",
		},
		[]string{"scheme", "status"},
	)

	FetchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "permitcast_fetch_latency_seconds",
			Help:    "Document fetch latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scheme"},
	)

	ObservationsParsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permitcast_observations_parsed_total",
			Help: "Total observations extracted from matching series",
		},
		[]string{"dataset"},
	)

	RecordsBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permitcast_records_built_total",
			Help: "Total feature records built, by granularity",
		},
		[]string{"dataset", "granularity"},
	)

	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permitcast_evaluations_total",
			Help: "Total forecast source evaluations",
		},
		[]string{"source", "status"},
	)
)

// WriteTextfile dumps the default registry for the node_exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
