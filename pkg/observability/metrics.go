package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every termit metric.
const Namespace = "termit"

// Metrics holds the Prometheus metrics for text analysis and annotation.
type Metrics struct {
	// Analysis runs
	AnalysesTotal   *prometheus.CounterVec
	AnalysisSeconds *prometheus.HistogramVec
	ServiceSeconds  *prometheus.HistogramVec

	// Annotation output
	OccurrencesGenerated *prometheus.CounterVec
	OccurrencesRemoved   *prometheus.CounterVec
	GroupsSkippedTotal   *prometheus.CounterVec
	OccurrenceScore      prometheus.Histogram

	// Promotion
	PromotionsTotal *prometheus.CounterVec
}

// DefaultMetrics registers the metrics with the default Prometheus registry.
func DefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// NewMetrics creates and registers the metrics with reg.
// A nil reg creates unregistered metrics, which is what tests usually want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AnalysesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "analyses_total",
				Help:      "Total text analysis runs by outcome",
			},
			[]string{"status", "error_code"},
		),
		AnalysisSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "analysis_duration_seconds",
				Help:      "End-to-end duration of a text analysis run",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),
		ServiceSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "text_analysis_call_seconds",
				Help:      "Latency of calls to the text analysis service",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		OccurrencesGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "occurrences_generated_total",
				Help:      "Suggested occurrences stored by annotation",
			},
			[]string{"kind"},
		),
		OccurrencesRemoved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "occurrences_removed_total",
				Help:      "Occurrences removed, by reason",
			},
			[]string{"reason"},
		),
		GroupsSkippedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "mention_groups_skipped_total",
				Help:      "Mention groups dropped during annotation",
			},
			[]string{"reason"},
		),
		OccurrenceScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "occurrence_score",
				Help:      "Confidence score of generated occurrences",
				Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
			},
		),
		PromotionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "promotions_total",
				Help:      "Term assignments promoted from high-score occurrences",
			},
			[]string{"status"},
		),
	}
}

// Status label values
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Skip reasons
const (
	SkipEmptyExactMatch = "empty_exact_match"
	SkipSelectorError   = "selector_error"
)

// RecordAnalysis records the outcome of one analysis run.
func (m *Metrics) RecordAnalysis(status, errorCode string, seconds float64) {
	m.AnalysesTotal.WithLabelValues(status, errorCode).Inc()
	m.AnalysisSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordServiceCall records the latency of one text analysis service call.
func (m *Metrics) RecordServiceCall(status string, seconds float64) {
	m.ServiceSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordOccurrence records one generated occurrence and its score.
func (m *Metrics) RecordOccurrence(score float64) {
	m.OccurrencesGenerated.WithLabelValues("suggested").Inc()
	m.OccurrenceScore.Observe(score)
}

// RecordRemoved records occurrences removed for reason.
func (m *Metrics) RecordRemoved(reason string, count int) {
	m.OccurrencesRemoved.WithLabelValues(reason).Add(float64(count))
}

// RecordSkippedGroup records a mention group that produced no occurrence.
func (m *Metrics) RecordSkippedGroup(reason string) {
	m.GroupsSkippedTotal.WithLabelValues(reason).Inc()
}

// RecordPromotion records one promotion attempt.
func (m *Metrics) RecordPromotion(status string) {
	m.PromotionsTotal.WithLabelValues(status).Inc()
}
