// Package metrics defines the shared Prometheus metrics for the trading
// pipeline and the HTTP server that exposes them. Per-worker runtime
// metrics (step counters, worker status) live with the worker runtime;
// everything that describes the pipeline itself is here: signals,
// intents, risk verdicts, orders, fills, slippage.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded cardinality constants for metric labels.
// Free-form reason strings are normalized before use as label values.
const (
	// Risk rejection reasons (bounded set)
	RejectLowConfidence       = "low_confidence"
	RejectPoorRiskReward      = "poor_risk_reward"
	RejectPortfolioLimit      = "portfolio_limit"
	RejectCorrelatedExposure  = "correlated_exposure"
	RejectStalePrice          = "stale_price"
	RejectInsufficientBalance = "insufficient_balance"
	RejectExcessiveRisk       = "excessive_trade_risk"
	RejectOther               = "other"
)

// NormalizeRejectionReason maps a free-form rejection message to the
// bounded label set.
func NormalizeRejectionReason(reason string) string {
	lower := strings.ToLower(reason)
	switch {
	case strings.Contains(lower, "confidence"):
		return RejectLowConfidence
	case strings.Contains(lower, "reward"):
		return RejectPoorRiskReward
	case strings.Contains(lower, "portfolio"):
		return RejectPortfolioLimit
	case strings.Contains(lower, "correlat"):
		return RejectCorrelatedExposure
	case strings.Contains(lower, "price"):
		return RejectStalePrice
	case strings.Contains(lower, "balance"):
		return RejectInsufficientBalance
	case strings.Contains(lower, "risk"):
		return RejectExcessiveRisk
	default:
		return RejectOther
	}
}

// Signal and decision flow metrics
var (
	SignalsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewind_signals_published_total",
		Help: "Signals published by analysis workers, by worker type and direction",
	}, []string{"agent_type", "direction"})

	SignalConfidence = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradewind_signal_confidence",
		Help: "Confidence of the most recent signal per worker type (0.0 to 1.0)",
	}, []string{"agent_type"})

	TradeIntents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewind_trade_intents_total",
		Help: "Trade intents emitted by the fusion engine, by strategy and direction",
	}, []string{"strategy", "direction"})

	FusionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewind_fusion_decisions_total",
		Help: "Fusion decisions by outcome (published, suppressed, hold)",
	}, []string{"outcome"})
)

// Risk metrics
var (
	RiskApprovals = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradewind_risk_approvals_total",
		Help: "Trade intents approved by the risk worker",
	})

	RiskRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewind_risk_rejections_total",
		Help: "Trade intents rejected by the risk worker, by normalized reason",
	}, []string{"reason"})

	RiskScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradewind_risk_score",
		Help:    "Risk score of assessed intents (0.0 to 1.0)",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	PortfolioRisk = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradewind_portfolio_risk_ratio",
		Help: "Current portfolio risk as a fraction of account balance",
	})
)

// Execution metrics
var (
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewind_orders_placed_total",
		Help: "Orders submitted to the exchange gateway, by exchange and order type",
	}, []string{"exchange", "order_type"})

	OrdersFilled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradewind_orders_filled_total",
		Help: "Orders confirmed fully filled",
	})

	OrdersRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradewind_orders_rejected_total",
		Help: "Orders rejected by the exchange",
	})

	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradewind_orders_cancelled_total",
		Help: "Orders cancelled before filling",
	})

	OrderExecutionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradewind_order_execution_latency_ms",
		Help:    "Time from order submission to terminal status in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000},
	})

	FillSlippageBps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradewind_fill_slippage_bps",
		Help:    "Absolute slippage per fill in basis points",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
	})
)

// Portfolio metrics, refreshed by the Updater
var (
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradewind_open_positions",
		Help: "Number of currently open positions",
	})

	PositionValueBySymbol = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradewind_position_value_by_symbol",
		Help: "Open position value in quote currency by symbol",
	}, []string{"symbol"})

	RealizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradewind_realized_pnl",
		Help: "Realized profit and loss summed over all positions",
	})

	UnrealizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradewind_unrealized_pnl",
		Help: "Unrealized profit and loss summed over open positions",
	})

	WinRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradewind_win_rate",
		Help: "Fraction of closed positions with positive realized P&L",
	})
)

// Infrastructure metrics
var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradewind_price_cache_hits_total",
		Help: "Price cache lookups served from Redis",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradewind_price_cache_misses_total",
		Help: "Price cache lookups that fell through to the time-series store",
	})

	RedisOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewind_redis_operations_total",
		Help: "Redis operations by type",
	}, []string{"operation"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewind_http_requests_total",
		Help: "HTTP requests served, by method, path and status code",
	}, []string{"method", "path", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradewind_http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
	}, []string{"method", "path"})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradewind_errors_total",
		Help: "Errors by component",
	}, []string{"component"})
)

// RecordSignal records a published signal and its confidence.
func RecordSignal(agentType, direction string, confidence float64) {
	SignalsPublished.WithLabelValues(agentType, direction).Inc()
	SignalConfidence.WithLabelValues(agentType).Set(confidence)
}

// RecordTradeIntent records an emitted trade intent.
func RecordTradeIntent(strategy, direction string) {
	TradeIntents.WithLabelValues(strategy, direction).Inc()
	FusionDecisions.WithLabelValues("published").Inc()
}

// RecordFusionOutcome records a fusion cycle that did not emit an intent.
func RecordFusionOutcome(outcome string) {
	FusionDecisions.WithLabelValues(outcome).Inc()
}

// RecordRiskApproval records an approved intent and its risk score.
func RecordRiskApproval(riskScore float64) {
	RiskApprovals.Inc()
	RiskScore.Observe(riskScore)
}

// RecordRiskRejection records a rejected intent with a normalized reason.
func RecordRiskRejection(reason string, riskScore float64) {
	RiskRejections.WithLabelValues(NormalizeRejectionReason(reason)).Inc()
	RiskScore.Observe(riskScore)
}

// RecordOrderPlaced records an order handed to the gateway.
func RecordOrderPlaced(exchange, orderType string) {
	OrdersPlaced.WithLabelValues(exchange, orderType).Inc()
}

// RecordOrderFilled records a completed fill with its execution latency
// and absolute slippage.
func RecordOrderFilled(executionMs, slippageBps float64) {
	OrdersFilled.Inc()
	OrderExecutionLatency.Observe(executionMs)
	if slippageBps < 0 {
		slippageBps = -slippageBps
	}
	FillSlippageBps.Observe(slippageBps)
}

// RecordOrderRejected records an exchange-rejected order.
func RecordOrderRejected() {
	OrdersRejected.Inc()
}

// RecordOrderCancelled records a cancelled order.
func RecordOrderCancelled() {
	OrdersCancelled.Inc()
}

// RecordCacheHit records a price cache hit.
func RecordCacheHit() {
	CacheHits.Inc()
	RedisOperations.WithLabelValues("get").Inc()
}

// RecordCacheMiss records a price cache miss.
func RecordCacheMiss() {
	CacheMisses.Inc()
	RedisOperations.WithLabelValues("get").Inc()
}

// RecordRedisOperation records a Redis operation by type.
func RecordRedisOperation(operation string) {
	RedisOperations.WithLabelValues(operation).Inc()
}

// RecordHTTPRequest records a served HTTP request.
func RecordHTTPRequest(method, path, statusCode string, durationMs float64) {
	HTTPRequests.WithLabelValues(method, path, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(durationMs)
}

// RecordError records an error against a component.
func RecordError(component string) {
	Errors.WithLabelValues(component).Inc()
}

// UpdatePositionValue sets the open position value for a symbol.
func UpdatePositionValue(symbol string, value float64) {
	PositionValueBySymbol.WithLabelValues(symbol).Set(value)
}
