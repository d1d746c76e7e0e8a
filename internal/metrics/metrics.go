// Package metrics defines Prometheus collectors updated on the trading path.
//
//   - exec_http_requests_total{method,status} — outbound signed requests by result
//   - exec_http_retries_total                 — retry attempts after transient failures
//   - exec_commands_total{command}            — commands enqueued on the command bus
//   - exec_events_published_total{event}      — events published on the event bus
//   - exec_records_dropped_total              — observability records dropped on overflow
//   - exec_sink_write_failures_total          — sink write errors swallowed by the recorder
//
// Collectors are registered in init() on the default registry; serving them is
// up to the embedding process.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_http_requests_total",
			Help: "Outbound signed HTTP requests by method and status class",
		},
		[]string{"method", "status"},
	)

	HTTPRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exec_http_retries_total",
			Help: "Retry attempts after retryable request failures",
		},
	)

	Commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_commands_total",
			Help: "Execution commands enqueued on the command bus",
		},
		[]string{"command"},
	)

	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_events_published_total",
			Help: "Execution events published on the event bus",
		},
		[]string{"event"},
	)

	RecordsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exec_records_dropped_total",
			Help: "Observability records dropped because the recorder queue was full",
		},
	)

	SinkWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exec_sink_write_failures_total",
			Help: "Observability sink write failures swallowed by the recorder",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequests,
		HTTPRetries,
		Commands,
		EventsPublished,
		RecordsDropped,
		SinkWriteFailures,
	)
}
