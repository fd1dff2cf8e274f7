package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	pollCyclesTotal     prometheus.Counter
	pollCycleDuration   prometheus.Histogram
	printerPolls        *prometheus.CounterVec
	printerPollDuration prometheus.Histogram
	commandsTotal       *prometheus.CounterVec
	printersByStatus    *prometheus.GaugeVec
}

// New creates a fresh Metrics registry with HTTP, polling and command metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "printfarm",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by core-go",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "printfarm",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by core-go",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	pollCyclesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "printfarm",
		Name:      "poll_cycles_total",
		Help:      "Total number of fleet-wide poll cycles",
	})

	pollCycleDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "printfarm",
		Name:      "poll_cycle_duration_seconds",
		Help:      "Duration of fleet-wide poll cycles from start to finish",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	printerPolls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "printfarm",
		Name:      "printer_polls_total",
		Help:      "Per-printer polls by outcome (ok, offline, stale)",
	}, []string{"outcome"})

	printerPollDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "printfarm",
		Name:      "printer_poll_duration_seconds",
		Help:      "Duration of a single printer poll including secondary queries",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	commandsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "printfarm",
		Name:      "commands_total",
		Help:      "Printer commands dispatched by verb and outcome",
	}, []string{"verb", "outcome"})

	printersByStatus := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "printfarm",
		Name:      "printers",
		Help:      "Number of registered printers by status",
	}, []string{"status"})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		pollCyclesTotal,
		pollCycleDuration,
		printerPolls,
		printerPollDuration,
		commandsTotal,
		printersByStatus,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		pollCyclesTotal:     pollCyclesTotal,
		pollCycleDuration:   pollCycleDuration,
		printerPolls:        printerPolls,
		printerPollDuration: printerPollDuration,
		commandsTotal:       commandsTotal,
		printersByStatus:    printersByStatus,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObservePollCycle records one fleet-wide poll cycle.
func (m *Metrics) ObservePollCycle(duration time.Duration) {
	if m == nil {
		return
	}
	m.pollCyclesTotal.Inc()
	m.pollCycleDuration.Observe(duration.Seconds())
}

// ObservePrinterPoll records one per-printer poll.
func (m *Metrics) ObservePrinterPoll(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.printerPolls.WithLabelValues(outcome).Inc()
	m.printerPollDuration.Observe(duration.Seconds())
}

// IncCommand counts a dispatched command.
func (m *Metrics) IncCommand(verb, outcome string) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(verb, outcome).Inc()
}

// SetPrintersByStatus replaces the per-status printer gauge. Statuses absent
// from counts are reset to zero.
func (m *Metrics) SetPrintersByStatus(counts map[string]int) {
	if m == nil {
		return
	}
	m.printersByStatus.Reset()
	for status, n := range counts {
		m.printersByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
