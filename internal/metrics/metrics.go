// Package metrics exposes the worker's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "essaypipe_jobs_claimed_total",
		Help: "Jobs claimed from the queue.",
	})
	JobsFinished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "essaypipe_jobs_finished_total",
		Help: "Jobs finished successfully.",
	})
	JobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "essaypipe_jobs_failed_total",
		Help: "Jobs that ended in a terminal failure.",
	})
	DuplicatesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "essaypipe_duplicates_skipped_total",
		Help: "Jobs short-circuited by the idempotency probe.",
	})
	StageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "essaypipe_stage_errors_total",
		Help: "Pipeline stage errors by error kind.",
	}, []string{"kind"})
	OCRFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "essaypipe_ocr_failures_total",
		Help: "OCR passes that produced no usable text.",
	})
	LLMCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "essaypipe_llm_cache_hits_total",
		Help: "Extraction responses served from the on-disk cache.",
	})
	JobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "essaypipe_job_duration_seconds",
		Help:    "Wall-clock job processing time.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	})
)

// Handler serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
