// Package metrics provides Prometheus collectors for uploads and AI evaluation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"RevAI/internal/domain"
	"RevAI/internal/ports"
)

// ReviewMetrics contains Prometheus metrics for the ingestion and evaluation pipeline
type ReviewMetrics struct {
	// Ingestion
	uploadsTotal          prometheus.Counter
	articlesIngestedTotal prometheus.Counter

	// Evaluation
	evaluationsTotal  *prometheus.CounterVec
	attemptsTotal     *prometheus.CounterVec
	fallbacksTotal    prometheus.Counter
	batchArticles     *prometheus.CounterVec
	batchDuration     prometheus.Histogram
	lastBatchUnixTime prometheus.Gauge
}

var _ ports.Recorder = (*ReviewMetrics)(nil)

// NewReviewMetrics creates and registers the pipeline metrics
func NewReviewMetrics(registry *prometheus.Registry) (*ReviewMetrics, error) {
	m := &ReviewMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ReviewMetrics) initMetrics() {
	m.uploadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "revai_uploads_total",
		Help: "Total number of accepted file uploads",
	})
	m.articlesIngestedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "revai_articles_ingested_total",
		Help: "Total number of articles stored from uploads",
	})

	m.evaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revai_evaluations_total",
			Help: "Total number of stored AI evaluations by decision",
		},
		[]string{"decision"},
	)
	m.attemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revai_evaluation_attempts_total",
			Help: "Model calls spent per evaluation, by outcome",
		},
		[]string{"outcome"}, // outcome: parsed, fallback
	)
	m.fallbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "revai_evaluation_fallbacks_total",
		Help: "Evaluations that exhausted retries and fell back to Unsure",
	})
	m.batchArticles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "revai_batch_articles_total",
			Help: "Articles claimed by batch runs, by status",
		},
		[]string{"status"}, // status: evaluated, failed
	)
	m.batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "revai_batch_duration_seconds",
		Help: "Wall time of one batch evaluation run",
		// 100ms to ~100s; a batch is bounded by sequential model calls.
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 11),
	})
	m.lastBatchUnixTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "revai_batch_last_run_timestamp_seconds",
		Help: "Unix time of the last finished batch run",
	})
}

// Describe implements the Collector interface
func (m *ReviewMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.uploadsTotal.Describe(ch)
	m.articlesIngestedTotal.Describe(ch)
	m.evaluationsTotal.Describe(ch)
	m.attemptsTotal.Describe(ch)
	m.fallbacksTotal.Describe(ch)
	m.batchArticles.Describe(ch)
	m.batchDuration.Describe(ch)
	m.lastBatchUnixTime.Describe(ch)
}

// Collect implements the Collector interface
func (m *ReviewMetrics) Collect(ch chan<- prometheus.Metric) {
	m.uploadsTotal.Collect(ch)
	m.articlesIngestedTotal.Collect(ch)
	m.evaluationsTotal.Collect(ch)
	m.attemptsTotal.Collect(ch)
	m.fallbacksTotal.Collect(ch)
	m.batchArticles.Collect(ch)
	m.batchDuration.Collect(ch)
	m.lastBatchUnixTime.Collect(ch)
}

// ObserveUpload records one stored upload.
func (m *ReviewMetrics) ObserveUpload(articles int) {
	m.uploadsTotal.Inc()
	m.articlesIngestedTotal.Add(float64(articles))
}

// ObserveEvaluation records one stored evaluation.
func (m *ReviewMetrics) ObserveEvaluation(eval domain.Evaluation) {
	m.evaluationsTotal.WithLabelValues(string(eval.Decision)).Inc()

	outcome := "parsed"
	if eval.Fallback {
		outcome = "fallback"
		m.fallbacksTotal.Inc()
	}
	m.attemptsTotal.WithLabelValues(outcome).Add(float64(eval.Attempts))
}

// ObserveBatch records a finished batch run.
func (m *ReviewMetrics) ObserveBatch(claimed, failed int, elapsed time.Duration) {
	m.batchArticles.WithLabelValues("evaluated").Add(float64(claimed - failed))
	m.batchArticles.WithLabelValues("failed").Add(float64(failed))
	m.batchDuration.Observe(elapsed.Seconds())
	m.lastBatchUnixTime.Set(float64(time.Now().Unix()))
}
