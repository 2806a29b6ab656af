package metrics

import (
	"database/sql"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "safety_"

	resultSuccess = "success"
	resultError   = "error"

	fanoutUnrecorded   = "unrecorded"
	fanoutDuplicate    = "duplicate"
	fanoutGatewayError = "gateway_error"
)

var (
	registerOnce sync.Once

	incidentsOpened *prometheus.CounterVec
	incidentsClosed prometheus.Counter
	incidentEvents  *prometheus.CounterVec
	eventPublishErr *prometheus.CounterVec

	fanoutTotal        *prometheus.CounterVec
	fanoutLatency      *prometheus.HistogramVec
	deliveriesTotal    *prometheus.CounterVec
	unrecordedDispatch prometheus.Counter
	readReceiptsTotal  prometheus.Counter

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		incidentsOpened = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "incidents_opened_total",
				Help: "Total incidents opened by type and level",
			},
			[]string{"type", "level"},
		)
		incidentsClosed = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "incidents_closed_total",
				Help: "Total incident close operations",
			},
		)
		incidentEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "incident_events_total",
				Help: "Total incident lifecycle events by type",
			},
			[]string{"event"},
		)
		eventPublishErr = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "incident_event_publish_errors_total",
				Help: "Total incident event publish failures by sink",
			},
			[]string{"sink"},
		)

		fanoutTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "fanout_total",
				Help: "Total incident fan-outs by outcome",
			},
			[]string{"result"},
		)
		fanoutLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "fanout_latency_seconds",
				Help:    "Incident fan-out latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		deliveriesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "deliveries_total",
				Help: "Total per-recipient delivery records by state",
			},
			[]string{"state"},
		)
		unrecordedDispatch = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "fanout_unrecorded_total",
				Help: "Fan-outs dispatched to the gateway whose records were not committed",
			},
		)
		readReceiptsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "read_receipts_total",
				Help: "Total notifications transitioned to read",
			},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "incident_export_total",
				Help: "Total incident report exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "incident_export_latency_seconds",
				Help:    "Incident report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		httpRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total HTTP requests by route and status",
			},
			[]string{"route", "status"},
		)
		httpLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		)

		prometheus.MustRegister(
			incidentsOpened,
			incidentsClosed,
			incidentEvents,
			eventPublishErr,
			fanoutTotal,
			fanoutLatency,
			deliveriesTotal,
			unrecordedDispatch,
			readReceiptsTotal,
			exportTotal,
			exportLatency,
			httpRequests,
			httpLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// IncIncidentOpened counts an opened incident.
func IncIncidentOpened(incidentType, level string) {
	if incidentsOpened != nil {
		incidentsOpened.WithLabelValues(incidentType, level).Inc()
	}
}

// IncIncidentClosed counts a close operation.
func IncIncidentClosed() {
	if incidentsClosed != nil {
		incidentsClosed.Inc()
	}
}

// IncIncidentEvent increments incident lifecycle counters.
func IncIncidentEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if incidentEvents != nil {
		incidentEvents.WithLabelValues(event).Inc()
	}
}

// IncEventPublishError counts a failed event publish.
func IncEventPublishError(sink string) {
	if sink == "" {
		sink = "unknown"
	}
	if eventPublishErr != nil {
		eventPublishErr.WithLabelValues(sink).Inc()
	}
}

// ObserveFanout records fan-out duration and outcome.
func ObserveFanout(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if fanoutTotal != nil {
		fanoutTotal.WithLabelValues(result).Inc()
	}
	if fanoutLatency != nil {
		fanoutLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddDeliveries counts committed delivery records.
func AddDeliveries(sent, failed, skipped int) {
	if deliveriesTotal == nil {
		return
	}
	if sent > 0 {
		deliveriesTotal.WithLabelValues("sent").Add(float64(sent))
	}
	if failed > 0 {
		deliveriesTotal.WithLabelValues("failed").Add(float64(failed))
	}
	if skipped > 0 {
		deliveriesTotal.WithLabelValues("skipped").Add(float64(skipped))
	}
}

// IncDispatchUnrecorded counts a dispatch that needs reconciliation.
func IncDispatchUnrecorded() {
	if unrecordedDispatch != nil {
		unrecordedDispatch.Inc()
	}
}

// AddReadReceipts counts rows transitioned to read.
func AddReadReceipts(count int64) {
	if count <= 0 {
		return
	}
	if readReceiptsTotal != nil {
		readReceiptsTotal.Add(float64(count))
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// ObserveHTTPRequest records request latency by route and status.
func ObserveHTTPRequest(route string, status int, duration time.Duration) {
	if route == "" {
		route = "other"
	}
	if httpRequests != nil {
		httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	}
	if httpLatency != nil {
		httpLatency.WithLabelValues(route).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	FanoutUnrecorded   = fanoutUnrecorded
	FanoutDuplicate    = fanoutDuplicate
	FanoutGatewayError = fanoutGatewayError
)
