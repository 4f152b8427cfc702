// Package observe provides domain.EventSink implementations and the
// service's Prometheus collectors.
package observe

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blackmichael/readercache/internal/domain"
)

// LogSink writes every event to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink that logs events at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Emit logs e.
func (s *LogSink) Emit(e domain.Event) {
	attrs := []any{"kind", string(e.Kind), "count", e.Count}
	if e.Stream != "" {
		attrs = append(attrs, "stream", e.Stream)
	}
	s.logger.Info("reader cache event", attrs...)
}

// Metrics holds the collectors exported on /metrics.
type Metrics struct {
	// Events counts emitted events by kind.
	Events *prometheus.CounterVec

	// Rows counts rows affected by maintenance, by event kind.
	Rows *prometheus.CounterVec

	// IngestBatches counts ingested batches by action and result.
	IngestBatches *prometheus.CounterVec

	// HTTPRequests records request latency by route and status.
	HTTPRequests *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "readercache_events_total",
			Help: "Total number of reader cache maintenance events by kind",
		}, []string{"kind"}),
		Rows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "readercache_rows_total",
			Help: "Total number of rows affected by maintenance, by event kind",
		}, []string{"kind"}),
		IngestBatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "readercache_ingest_batches_total",
			Help: "Total number of ingested post batches by action and result",
		}, []string{"action", "result"}),
		HTTPRequests: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "readercache_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}

// Emit counts e by kind. The stream name is not a label.
func (m *Metrics) Emit(e domain.Event) {
	m.Events.WithLabelValues(string(e.Kind)).Inc()
	m.Rows.WithLabelValues(string(e.Kind)).Add(float64(e.Count))
}

// ObserveIngest counts one ingested batch.
func (m *Metrics) ObserveIngest(action domain.UpdateAction, result domain.UpdateResult) {
	m.IngestBatches.WithLabelValues(action.String(), result.String()).Inc()
}

// ObserveRequest records the latency of one HTTP request.
func (m *Metrics) ObserveRequest(route string, status int, start time.Time) {
	m.HTTPRequests.WithLabelValues(route, statusClass(status)).Observe(time.Since(start).Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// MultiSink fans each event out to every sink in order.
type MultiSink []domain.EventSink

// Emit forwards e to every sink.
func (m MultiSink) Emit(e domain.Event) {
	for _, s := range m {
		s.Emit(e)
	}
}
