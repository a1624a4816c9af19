package exchange

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

var (
	breakerMetricsOnce sync.Once

	breakerStateGauge *prometheus.GaugeVec
	breakerRequests   *prometheus.CounterVec
	breakerFailures   *prometheus.CounterVec
)

func initBreakerMetrics() {
	breakerMetricsOnce.Do(func() {
		breakerStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "exchange_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"gateway"})

		breakerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by result",
		}, []string{"gateway", "result"})

		breakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_circuit_breaker_failures_total",
			Help: "Failures counted by the circuit breaker",
		}, []string{"gateway"})
	})
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}

// Breaker shields the pipeline from a failing venue. After 5+ requests
// in a 10s window with a failure ratio of 0.6 or worse it opens for
// 30s, then lets 3 probe requests through half-open.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker creates a circuit breaker for the named gateway.
func NewBreaker(name string) *Breaker {
	initBreakerMetrics()
	breakerStateGauge.WithLabelValues(name).Set(breakerStateValue(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breakerStateGauge.WithLabelValues(name).Set(breakerStateValue(to))
			log.Warn().
				Str("gateway", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return &Breaker{name: name, cb: cb}
}

// Do executes fn through the breaker. When the breaker is open the
// call fails fast with gobreaker.ErrOpenState, which IsRetryable
// treats as permanent.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err != nil {
		breakerRequests.WithLabelValues(b.name, "failure").Inc()
		breakerFailures.WithLabelValues(b.name).Inc()
		return err
	}
	breakerRequests.WithLabelValues(b.name, "success").Inc()
	return nil
}

// State returns the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}
