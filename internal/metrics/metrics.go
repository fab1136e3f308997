package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for tallercheck runs
type Metrics struct {
	registry *prometheus.Registry

	// Target exchange metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Monitor API metrics
	APIRequestsTotal *prometheus.CounterVec

	// Check metrics
	ChecksTotal *prometheus.CounterVec

	// Run metrics
	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	LastRunTimestamp prometheus.Gauge
	LastRunFailures  prometheus.Gauge
	RunInProgress    prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tallercheck_http_requests_total",
			Help: "Total number of requests sent to the target by module and status",
		},
		[]string{"method", "module", "status"},
	)

	httpRequestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tallercheck_http_request_duration_seconds",
			Help:    "Target response time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "module"},
	)

	apiRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tallercheck_api_requests_total",
			Help: "Total number of requests served by the monitor API",
		},
		[]string{"method", "route", "status"},
	)

	checksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tallercheck_checks_total",
			Help: "Total number of checks by suite and outcome",
		},
		[]string{"suite", "outcome"},
	)

	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tallercheck_runs_total",
			Help: "Total number of runs by result",
		},
		[]string{"result"},
	)

	runDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tallercheck_run_duration_seconds",
			Help:    "Wall time of a complete run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	lastRunTimestamp := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tallercheck_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		},
	)

	lastRunFailures := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tallercheck_last_run_failures",
			Help: "Number of failed checks in the last run",
		},
	)

	runInProgress := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tallercheck_run_in_progress",
			Help: "1 while a run is executing",
		},
	)

	// Register all metrics with the custom registry
	registry.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		apiRequestsTotal,
		checksTotal,
		runsTotal,
		runDuration,
		lastRunTimestamp,
		lastRunFailures,
		runInProgress,
	)

	return &Metrics{
		registry:            registry,
		HTTPRequestsTotal:   httpRequestsTotal,
		HTTPRequestDuration: httpRequestDuration,
		APIRequestsTotal:    apiRequestsTotal,
		ChecksTotal:         checksTotal,
		RunsTotal:           runsTotal,
		RunDuration:         runDuration,
		LastRunTimestamp:    lastRunTimestamp,
		LastRunFailures:     lastRunFailures,
		RunInProgress:       runInProgress,
	}
}

// GetRegistry returns the Prometheus registry for this metrics instance
func (m *Metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest records an exchange with the target
func (m *Metrics) RecordHTTPRequest(method, module string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, module, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, module).Observe(duration.Seconds())
}

// RecordAPIRequest records a request served by the monitor API
func (m *Metrics) RecordAPIRequest(method, route string, status int) {
	m.APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// RecordCheck records a check outcome
func (m *Metrics) RecordCheck(suite, outcome string) {
	m.ChecksTotal.WithLabelValues(suite, outcome).Inc()
}

// RecordRun records a finished run
func (m *Metrics) RecordRun(failed int, duration time.Duration, finished time.Time) {
	result := "passed"
	if failed > 0 {
		result = "failed"
	}
	m.RunsTotal.WithLabelValues(result).Inc()
	m.RunDuration.Observe(duration.Seconds())
	m.LastRunTimestamp.Set(float64(finished.Unix()))
	m.LastRunFailures.Set(float64(failed))
}

// SetRunInProgress flips the in-progress gauge
func (m *Metrics) SetRunInProgress(running bool) {
	if running {
		m.RunInProgress.Set(1)
	} else {
		m.RunInProgress.Set(0)
	}
}

// WriteTextfile writes all metrics in the node-exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
