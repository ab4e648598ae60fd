// Package metrics defines the prometheus collectors shared across corpusd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all corpusd collectors, registered on a single registry so
// tests can use isolated instances.
type Metrics struct {
	DocumentsIngested *prometheus.CounterVec
	IngestDuration    prometheus.Histogram
	ServiceRequests   *prometheus.CounterVec
	ServiceRetries    prometheus.Counter
	SearchRequests    *prometheus.CounterVec
	RerankCacheHits   prometheus.Counter
	RerankCacheMisses prometheus.Counter
	RerankFailures    prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DocumentsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corpusd_documents_ingested_total",
			Help: "Documents that finished ingestion, by terminal status.",
		}, []string{"status"}),
		IngestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "corpusd_ingest_duration_seconds",
			Help:    "Wall-clock duration of document ingestion runs.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		ServiceRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corpusd_service_requests_total",
			Help: "Requests to the embedding/generation service, by operation and outcome.",
		}, []string{"op", "outcome"}),
		ServiceRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "corpusd_service_retries_total",
			Help: "Retried requests to the embedding/generation service.",
		}),
		SearchRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corpusd_search_requests_total",
			Help: "Retrieval searches, by scope.",
		}, []string{"scope"}),
		RerankCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "corpusd_rerank_cache_hits_total",
			Help: "Reranker score cache hits.",
		}),
		RerankCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "corpusd_rerank_cache_misses_total",
			Help: "Reranker score cache misses.",
		}),
		RerankFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "corpusd_rerank_failures_total",
			Help: "Reranker scorer failures recovered by falling back to vector order.",
		}),
	}
}
