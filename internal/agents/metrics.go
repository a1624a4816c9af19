package agents

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WorkerMetrics holds the per-worker Prometheus instruments. The worker
// name is embedded in the metric names, so each name registers once per
// process.
type WorkerMetrics struct {
	StepsTotal    prometheus.Counter
	StepDuration  prometheus.Histogram
	MessagesTotal prometheus.Counter
	ErrorsTotal   prometheus.Counter
	Status        prometheus.Gauge
}

func newWorkerMetrics(name string) *WorkerMetrics {
	name = sanitizeMetricName(name)

	return &WorkerMetrics{
		StepsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("agent_%s_steps_total", name),
			Help: fmt.Sprintf("Total decision steps for worker %s", name),
		}),
		StepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    fmt.Sprintf("agent_%s_step_duration_seconds", name),
			Help:    fmt.Sprintf("Decision step duration for worker %s", name),
			Buckets: prometheus.DefBuckets,
		}),
		MessagesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("agent_%s_messages_total", name),
			Help: fmt.Sprintf("Bus messages handled by worker %s", name),
		}),
		ErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("agent_%s_errors_total", name),
			Help: fmt.Sprintf("Step and handler errors for worker %s", name),
		}),
		Status: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("agent_%s_status", name),
			Help: fmt.Sprintf("Status of worker %s (1=running, 0=stopped)", name),
		}),
	}
}

// sanitizeMetricName makes a configured worker name legal inside a
// Prometheus metric name.
func sanitizeMetricName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
