package triage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the SOS pipeline.
type Metrics struct {
	IntakesTotal     *prometheus.CounterVec
	PipelinesTotal   *prometheus.CounterVec
	PipelineDuration *prometheus.HistogramVec
	StageDuration    *prometheus.HistogramVec
	ProcessedUrgency *prometheus.CounterVec
	KeywordOverrides prometheus.Counter
	ManualReviews    prometheus.Counter
	DegradedAnalyses prometheus.Counter
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IntakesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_intakes_total",
			Help: "Total intake requests by report kind and result.",
		}, []string{"kind", "result"}),
		PipelinesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_pipelines_total",
			Help: "Total pipeline runs by terminal status.",
		}, []string{"status"}),
		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beacon_pipeline_duration_seconds",
			Help:    "End-to-end pipeline duration in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s .. ~256s
		}, []string{"status"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "beacon_pipeline_stage_duration_seconds",
			Help:    "Duration of individual pipeline stages in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 0.25s .. ~128s
		}, []string{"stage"}),
		ProcessedUrgency: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "beacon_processed_urgency_total",
			Help: "Processed cases by validated urgency.",
		}, []string{"urgency"}),
		KeywordOverrides: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_keyword_overrides_total",
			Help: "Cases whose urgency the keyword safety rules escalated.",
		}),
		ManualReviews: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_manual_reviews_total",
			Help: "Processed cases flagged for manual human review.",
		}),
		DegradedAnalyses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "beacon_degraded_analyses_total",
			Help: "Cases processed with the conservative fallback analysis.",
		}),
	}

	reg.MustRegister(
		m.IntakesTotal,
		m.PipelinesTotal,
		m.PipelineDuration,
		m.StageDuration,
		m.ProcessedUrgency,
		m.KeywordOverrides,
		m.ManualReviews,
		m.DegradedAnalyses,
	)

	return m
}

func (s *Service) observeStage(stage string, start time.Time) {
	if s.metrics != nil {
		s.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}
