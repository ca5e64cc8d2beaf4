package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes pipeline instrumentation.
type Metrics struct {
	CollectionRuns     *prometheus.CounterVec
	RecordsCollected   *prometheus.CounterVec
	RecordsDropped     *prometheus.CounterVec
	CollectionDuration *prometheus.HistogramVec
	PipelineRuns       *prometheus.CounterVec
	PipelineDuration   prometheus.Histogram
	RoutesStored       prometheus.Counter
	GeocodingRequests  *prometheus.CounterVec
	GeocodingCacheSize prometheus.Gauge
	ValidationFailures prometheus.Counter
	ActiveCollectors   prometheus.Gauge
}

// New registers and returns the pipeline metrics.
func New() *Metrics {
	return &Metrics{
		CollectionRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "routepipe_collection_runs_total",
			Help: "Collection runs by collector and status",
		}, []string{"collector", "status"}),
		RecordsCollected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "routepipe_records_collected_total",
			Help: "Records collected by source",
		}, []string{"collector"}),
		RecordsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "routepipe_records_dropped_total",
			Help: "Records dropped by source and reason",
		}, []string{"collector", "reason"}),
		CollectionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "routepipe_collection_duration_seconds",
			Help:    "Collection run duration by collector",
			Buckets: prometheus.DefBuckets,
		}, []string{"collector"}),
		PipelineRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "routepipe_pipeline_runs_total",
			Help: "Pipeline runs by status",
		}, []string{"status"}),
		PipelineDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "routepipe_pipeline_duration_seconds",
			Help:    "End to end pipeline run duration",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		RoutesStored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "routepipe_routes_stored_total",
			Help: "Routes written to storage",
		}),
		GeocodingRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "routepipe_geocoding_requests_total",
			Help: "Geocoding requests by outcome",
		}, []string{"outcome"}),
		GeocodingCacheSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "routepipe_geocoding_cache_entries",
			Help: "Entries in the geocoding cache",
		}),
		ValidationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "routepipe_validation_failures_total",
			Help: "Records rejected by validation",
		}),
		ActiveCollectors: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "routepipe_active_collectors",
			Help: "Collectors currently running",
		}),
	}
}
