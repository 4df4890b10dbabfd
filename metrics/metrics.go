// Package metrics bundles the Prometheus collectors shared by the crawler,
// the index manager and the query engine. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors on a dedicated registry.
type Metrics struct {
	Registry          *prometheus.Registry
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	ItemsScrapedTotal prometheus.Counter
	ErrorsTotal       *prometheus.CounterVec
	ChunksIndexed     prometheus.Counter
	EmbeddingsTotal   *prometheus.CounterVec
	QueriesTotal      *prometheus.CounterVec
	QueryDuration     prometheus.Histogram
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookrag_requests_total",
			Help: "Total HTTP requests issued by the crawler.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bookrag_request_duration_seconds",
			Help:    "HTTP request latency for crawler requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	itemsScraped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookrag_items_scraped_total",
			Help: "Total number of items extracted from detail pages.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookrag_errors_total",
			Help: "Total number of crawler errors by type.",
		},
		[]string{"error_type"},
	)
	chunksIndexed := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bookrag_chunks_indexed_total",
			Help: "Total number of chunks embedded into a built index.",
		},
	)
	embeddings := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookrag_embeddings_total",
			Help: "Embedding provider calls by outcome.",
		},
		[]string{"outcome"},
	)
	queries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookrag_queries_total",
			Help: "Conversational queries by outcome.",
		},
		[]string{"outcome"},
	)
	queryDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bookrag_query_duration_seconds",
			Help:    "End-to-end latency of answered queries.",
			Buckets: prometheus.DefBuckets,
		},
	)

	registry.MustRegister(requests, requestDuration, itemsScraped, errorsTotal,
		chunksIndexed, embeddings, queries, queryDuration)

	return &Metrics{
		Registry:          registry,
		RequestsTotal:     requests,
		RequestDuration:   requestDuration,
		ItemsScrapedTotal: itemsScraped,
		ErrorsTotal:       errorsTotal,
		ChunksIndexed:     chunksIndexed,
		EmbeddingsTotal:   embeddings,
		QueriesTotal:      queries,
		QueryDuration:     queryDuration,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncItems increments the items scraped counter.
func (m *Metrics) IncItems() {
	if m == nil {
		return
	}
	m.ItemsScrapedTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// AddChunks adds n to the indexed chunks counter.
func (m *Metrics) AddChunks(n int) {
	if m == nil {
		return
	}
	m.ChunksIndexed.Add(float64(n))
}

// IncEmbedding counts one embedding call.
func (m *Metrics) IncEmbedding(outcome string) {
	if m == nil {
		return
	}
	m.EmbeddingsTotal.WithLabelValues(outcome).Inc()
}

// ObserveQuery counts a query and, when it succeeded, records its latency.
func (m *Metrics) ObserveQuery(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.QueryDuration.Observe(d.Seconds())
	}
}
