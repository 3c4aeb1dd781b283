// Package metrics exposes Prometheus collectors for sync runs and the HTTP API.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	runsTotal                  *prometheus.CounterVec
	rowsTotal                  *prometheus.CounterVec
	runDurationSeconds         *prometheus.HistogramVec
	lastSuccessTimestamp       *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthsync_runs_total",
				Help: "Total number of sync runs, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		rowsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "healthsync_rows_total",
				Help: "Total number of rows written, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "healthsync_run_duration_seconds",
				Help:    "Histogram of sync run durations, labeled by source.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"source"},
		)

		lastSuccessTimestamp = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "healthsync_last_success_timestamp_seconds",
				Help: "Unix time of the last successful run, labeled by source.",
			},
			[]string{"source"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRun counts a finished run and records its duration.
func ObserveRun(source, status string, duration time.Duration) {
	runsTotal.WithLabelValues(source, status).Inc()
	runDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveRow counts one upserted row.
func ObserveRow(source, outcome string) {
	rowsTotal.WithLabelValues(source, outcome).Inc()
}

// MarkSuccess records the time of the latest successful run.
func MarkSuccess(source string, at time.Time) {
	lastSuccessTimestamp.WithLabelValues(source).Set(float64(at.Unix()))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Push sends the default registry to a Pushgateway under job, grouped by source.
func Push(ctx context.Context, url, job, source string) error {
	pusher := push.New(url, job).Gatherer(prometheus.DefaultGatherer)
	if source != "" {
		pusher = pusher.Grouping("source", source)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
