// Package metrics holds the Prometheus instruments for the auth flows.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

var (
	// operations counts auth operations by name and outcome (success, error
	// kind such as bad_refresh, or "error" for store failures).
	operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_operations_total",
		Help: "Total number of auth operations by outcome",
	}, []string{"operation", "outcome"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auth_operation_duration_seconds",
		Help:    "Histogram of auth operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	replayDetections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_replay_detections_total",
		Help: "Total number of refresh-token replays that triggered revoke-all",
	})

	rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_rate_limited_total",
		Help: "Total number of requests rejected by the fixed-window limiter",
	}, []string{"action"})
)

// ObserveOperation records one finished operation.
func ObserveOperation(operation, outcome string, elapsed time.Duration) {
	operations.WithLabelValues(operation, outcome).Inc()
	operationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func RecordReplay() {
	replayDetections.Inc()
}

func RecordRateLimited(action string) {
	rateLimited.WithLabelValues(action).Inc()
}
