package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API and dispatch flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	deliveriesSentTotal    *prometheus.CounterVec
	deliveriesSkippedTotal *prometheus.CounterVec
	deliveriesFailedTotal  *prometheus.CounterVec
	outboxRetriesTotal     prometheus.Counter
	outboxFailedTotal      prometheus.Counter
	outboxReclaimedTotal   prometheus.Counter
	outboxProcessDuration  prometheus.Histogram
	workerInflight         prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fanout",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fanout",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		deliveriesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fanout",
				Name:      "deliveries_sent_total",
				Help:      "Total number of channel deliveries sent successfully.",
			},
			[]string{"channel"},
		),
		deliveriesSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fanout",
				Name:      "deliveries_skipped_total",
				Help:      "Total number of channel deliveries settled as skipped, by reason.",
			},
			[]string{"channel", "reason"},
		),
		deliveriesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fanout",
				Name:      "deliveries_failed_total",
				Help:      "Total number of channel deliveries failed terminally.",
			},
			[]string{"channel"},
		),
		outboxRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fanout",
				Name:      "outbox_retries_total",
				Help:      "Total number of outbox entries rescheduled after a transient failure.",
			},
		),
		outboxFailedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fanout",
				Name:      "outbox_failed_total",
				Help:      "Total number of outbox entries that exhausted their attempt budget.",
			},
		),
		outboxReclaimedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fanout",
				Name:      "outbox_reclaimed_total",
				Help:      "Total number of outbox entries reclaimed past the visibility timeout.",
			},
		),
		outboxProcessDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "fanout",
				Name:      "outbox_process_duration_seconds",
				Help:      "Duration of one outbox entry processing pass in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		workerInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "fanout",
				Name:      "worker_inflight",
				Help:      "Current number of in-flight outbox entry processors.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.deliveriesSentTotal,
		m.deliveriesSkippedTotal,
		m.deliveriesFailedTotal,
		m.outboxRetriesTotal,
		m.outboxFailedTotal,
		m.outboxReclaimedTotal,
		m.outboxProcessDuration,
		m.workerInflight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncDeliverySent(channel string) {
	if m == nil {
		return
	}
	m.deliveriesSentTotal.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) IncDeliverySkipped(channel string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.deliveriesSkippedTotal.WithLabelValues(normalizeChannel(channel), reasonLabel).Inc()
}

func (m *Metrics) IncDeliveryFailed(channel string) {
	if m == nil {
		return
	}
	m.deliveriesFailedTotal.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) IncOutboxRetry() {
	if m == nil {
		return
	}
	m.outboxRetriesTotal.Inc()
}

func (m *Metrics) IncOutboxFailed() {
	if m == nil {
		return
	}
	m.outboxFailedTotal.Inc()
}

func (m *Metrics) AddOutboxReclaimed(count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.outboxReclaimedTotal.Add(float64(count))
}

func (m *Metrics) ObserveProcessDuration(duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.outboxProcessDuration.Observe(seconds)
}

func (m *Metrics) IncWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Inc()
}

func (m *Metrics) DecWorkerInFlight() {
	if m == nil {
		return
	}
	m.workerInflight.Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeChannel(channel string) string {
	normalized := strings.ToLower(strings.TrimSpace(channel))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
