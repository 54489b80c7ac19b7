package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the reference harvester service.
// Metrics are organized by subsystem: harvests, sources, enrichment, storage,
// search, and LLM operations. All counters and histograms are registered via
// promauto for automatic registration with the default Prometheus registry.
type Metrics struct {
	// HarvestsStarted counts harvest runs initiated.
	HarvestsStarted prometheus.Counter

	// HarvestsCompleted counts harvest runs that finished successfully.
	HarvestsCompleted prometheus.Counter

	// HarvestsFailed counts harvest runs that ended in failure.
	HarvestsFailed prometheus.Counter

	// HarvestDuration observes end-to-end harvest duration in seconds.
	HarvestDuration prometheus.Histogram

	// ReferencesFetched counts references returned by sources, labeled by source.
	ReferencesFetched *prometheus.CounterVec

	// ReferencesStored counts references persisted by the batch writer.
	ReferencesStored prometheus.Counter

	// ReferencesDegraded counts references stored with fallback enrichment
	// after a per-item failure, labeled by stage.
	ReferencesDegraded *prometheus.CounterVec

	// SourceRequestsTotal counts HTTP requests to reference source APIs,
	// labeled by source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed HTTP requests to reference source
	// APIs, labeled by source, endpoint, and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes HTTP request duration to reference
	// source APIs in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// SourceRateLimited counts rate-limited responses from source APIs,
	// labeled by source.
	SourceRateLimited *prometheus.CounterVec

	// EnrichmentsTotal counts entity-extraction calls, labeled by outcome.
	EnrichmentsTotal *prometheus.CounterVec

	// EnrichmentDuration observes entity-extraction call duration in seconds.
	EnrichmentDuration prometheus.Histogram

	// BatchWrites counts sub-batch writes issued to the store, labeled by outcome.
	BatchWrites *prometheus.CounterVec

	// SearchesServed counts search requests served.
	SearchesServed prometheus.Counter

	// SearchResults observes the distribution of result counts per search.
	SearchResults prometheus.Histogram

	// InsightsGenerated counts insight-generation calls, labeled by outcome.
	InsightsGenerated *prometheus.CounterVec

	// LLMRequestsTotal counts LLM API requests, labeled by operation and model.
	LLMRequestsTotal *prometheus.CounterVec

	// LLMRequestsFailed counts failed LLM API requests, labeled by operation,
	// model, and error type.
	LLMRequestsFailed *prometheus.CounterVec

	// LLMRequestDuration observes LLM API request duration in seconds,
	// labeled by operation and model.
	LLMRequestDuration *prometheus.HistogramVec

	// EventsPublished counts harvest events published to the broker,
	// labeled by outcome.
	EventsPublished *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Harvests
		HarvestsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "harvests_started_total",
			Help:      "Total number of harvest runs started",
		}),
		HarvestsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "harvests_completed_total",
			Help:      "Total number of harvest runs completed successfully",
		}),
		HarvestsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "harvests_failed_total",
			Help:      "Total number of harvest runs that failed",
		}),
		HarvestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "harvest_duration_seconds",
			Help:      "Duration of harvest runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),

		// References
		ReferencesFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "references_fetched_total",
			Help:      "Total number of references fetched by source",
		}, []string{"source"}),
		ReferencesStored: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "references_stored_total",
			Help:      "Total number of references persisted",
		}),
		ReferencesDegraded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "references_degraded_total",
			Help:      "Total number of references stored with fallback enrichment by stage",
		}, []string{"stage"}),

		// Sources
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of requests to reference sources",
		}, []string{"source", "endpoint"}),
		SourceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed requests to reference sources",
		}, []string{"source", "endpoint", "error_type"}),
		SourceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of requests to reference sources in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source", "endpoint"}),
		SourceRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate limit responses from reference sources",
		}, []string{"source"}),

		// Enrichment
		EnrichmentsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichments_total",
			Help:      "Total number of entity extraction calls by outcome",
		}, []string{"outcome"}),
		EnrichmentDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "enrichment_duration_seconds",
			Help:      "Duration of entity extraction calls in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		// Storage
		BatchWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_writes_total",
			Help:      "Total number of sub-batch writes by outcome",
		}, []string{"outcome"}),

		// Search
		SearchesServed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "searches_served_total",
			Help:      "Total number of search requests served",
		}),
		SearchResults: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_results",
			Help:      "Number of results returned per search",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		}),

		// Insights
		InsightsGenerated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insights_generated_total",
			Help:      "Total number of insight generation calls by outcome",
		}, []string{"outcome"}),

		// LLM
		LLMRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests by operation",
		}, []string{"operation", "model"}),
		LLMRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_failed_total",
			Help:      "Total number of failed LLM requests by operation",
		}, []string{"operation", "model", "error_type"}),
		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Duration of LLM requests in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"operation", "model"}),

		// Events
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of harvest events published by outcome",
		}, []string{"outcome"}),
	}
}

// RecordHarvestStarted records that a harvest run has started.
func (m *Metrics) RecordHarvestStarted() {
	m.HarvestsStarted.Inc()
}

// RecordHarvestCompleted records that a harvest run has completed.
func (m *Metrics) RecordHarvestCompleted(durationSeconds float64) {
	m.HarvestsCompleted.Inc()
	m.HarvestDuration.Observe(durationSeconds)
}

// RecordHarvestFailed records that a harvest run has failed.
func (m *Metrics) RecordHarvestFailed(durationSeconds float64) {
	m.HarvestsFailed.Inc()
	m.HarvestDuration.Observe(durationSeconds)
}

// RecordReferencesFetched records references returned by a source.
func (m *Metrics) RecordReferencesFetched(source string, count int) {
	m.ReferencesFetched.WithLabelValues(source).Add(float64(count))
}

// RecordReferencesStored records references persisted by the batch writer.
func (m *Metrics) RecordReferencesStored(count int) {
	m.ReferencesStored.Add(float64(count))
}

// RecordReferenceDegraded records a reference that fell back to default
// enrichment after a failure at the given stage.
func (m *Metrics) RecordReferenceDegraded(stage string) {
	m.ReferencesDegraded.WithLabelValues(stage).Inc()
}

// RecordSourceRequest records a request to a reference source.
func (m *Metrics) RecordSourceRequest(source, endpoint string, durationSeconds float64) {
	m.SourceRequestsTotal.WithLabelValues(source, endpoint).Inc()
	m.SourceRequestDuration.WithLabelValues(source, endpoint).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed request to a reference source.
func (m *Metrics) RecordSourceRequestFailed(source, endpoint, errorType string) {
	m.SourceRequestsFailed.WithLabelValues(source, endpoint, errorType).Inc()
}

// RecordSourceRateLimited records a rate limit response from a source.
func (m *Metrics) RecordSourceRateLimited(source string) {
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// RecordEnrichment records an entity extraction call.
func (m *Metrics) RecordEnrichment(outcome string, durationSeconds float64) {
	m.EnrichmentsTotal.WithLabelValues(outcome).Inc()
	m.EnrichmentDuration.Observe(durationSeconds)
}

// RecordBatchWrite records a sub-batch write outcome.
func (m *Metrics) RecordBatchWrite(outcome string) {
	m.BatchWrites.WithLabelValues(outcome).Inc()
}

// RecordSearch records a served search request and its result count.
func (m *Metrics) RecordSearch(resultCount int) {
	m.SearchesServed.Inc()
	m.SearchResults.Observe(float64(resultCount))
}

// RecordInsightGenerated records an insight generation outcome.
func (m *Metrics) RecordInsightGenerated(outcome string) {
	m.InsightsGenerated.WithLabelValues(outcome).Inc()
}

// RecordLLMRequest records an LLM request.
func (m *Metrics) RecordLLMRequest(operation, model string, durationSeconds float64) {
	m.LLMRequestsTotal.WithLabelValues(operation, model).Inc()
	m.LLMRequestDuration.WithLabelValues(operation, model).Observe(durationSeconds)
}

// RecordLLMRequestFailed records a failed LLM request.
func (m *Metrics) RecordLLMRequestFailed(operation, model, errorType string) {
	m.LLMRequestsFailed.WithLabelValues(operation, model, errorType).Inc()
}

// RecordEventPublished records a harvest event publish outcome.
func (m *Metrics) RecordEventPublished(outcome string) {
	m.EventsPublished.WithLabelValues(outcome).Inc()
}
