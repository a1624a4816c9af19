package fusion

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

// signalBuffer collects signals for one symbol between decisions.
type signalBuffer struct {
	signals      []*protocol.Signal
	lastDecision time.Time
	pendingCount int
}

// Decision is the outcome of one engine evaluation for a symbol.
// Suppressed decisions are persisted for the audit trail but never
// become trade intents.
type Decision struct {
	Symbol     string
	Direction  protocol.Direction
	Confidence float64
	Policy     string
	NumSignals int
	// Sources lists the contributing agent classes in arrival order.
	Sources   []string
	Reasoning []string
	// Details carries the policy internals persisted as fusion_details.
	Details map[string]interface{}
	// ExpectedPrice is the most recent contributing signal's price
	// target. Zero when no contributing signal priced the move.
	ExpectedPrice float64
	// PriceTarget, StopLoss and TakeProfit are averages over the
	// contributing signals that set them. Zero when none did.
	PriceTarget float64
	StopLoss    float64
	TakeProfit  float64

	Suppressed     bool
	SuppressReason string
}

// Engine owns the per-symbol signal buffers and runs the configured
// policy over them on demand. Buffer access is serialized; signals
// arriving mid-evaluation wait for the pass to finish.
type Engine struct {
	cfg    Config
	policy Policy

	mu      sync.Mutex
	buffers map[string]*signalBuffer

	log zerolog.Logger
}

// NewEngine builds an engine around a policy.
func NewEngine(cfg Config, policy Policy, log *zerolog.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		policy:  policy,
		buffers: make(map[string]*signalBuffer),
		log:     log.With().Str("component", "fusion_engine").Logger(),
	}
}

// AddSignal buffers a signal for its symbol. No decision is made on
// arrival; the periodic evaluation pass decides.
func (e *Engine) AddSignal(sig *protocol.Signal) {
	e.mu.Lock()
	defer e.mu.Unlock()

	buf, ok := e.buffers[sig.Symbol]
	if !ok {
		buf = &signalBuffer{}
		e.buffers[sig.Symbol] = buf
	}

	buf.signals = append(buf.signals, sig)
	buf.pendingCount++

	e.log.Debug().
		Str("symbol", sig.Symbol).
		Str("agent_type", sig.AgentType).
		Str("direction", string(sig.Direction)).
		Float64("confidence", sig.Confidence).
		Int("buffer_size", len(buf.signals)).
		Msg("Signal buffered")
}

// PendingSymbols reports how many symbols hold buffered signals.
func (e *Engine) PendingSymbols() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buffers)
}

// Evaluate runs one decision pass over every symbol with enough pending
// signals. Signals older than the timeout do not contribute. Decisions
// below the confidence floor or resolving to HOLD come back suppressed.
func (e *Engine) Evaluate(now time.Time) []Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	symbols := make([]string, 0, len(e.buffers))
	for symbol, buf := range e.buffers {
		if buf.pendingCount >= e.cfg.MinSignals {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)

	var decisions []Decision
	for _, symbol := range symbols {
		buf := e.buffers[symbol]
		buf.pendingCount = 0

		recent := recentSignals(buf.signals, now, e.cfg.SignalTimeout)
		if len(recent) < e.cfg.MinSignals {
			e.log.Debug().
				Str("symbol", symbol).
				Int("required", e.cfg.MinSignals).
				Int("available", len(recent)).
				Msg("Insufficient fresh signals, skipping symbol")
			continue
		}

		result := e.policy.Fuse(recent, now)
		decision := e.buildDecision(symbol, recent, result)

		switch {
		case result.Confidence < e.cfg.MinConfidence:
			decision.Suppressed = true
			decision.SuppressReason = "low_confidence"
			e.log.Info().
				Str("symbol", symbol).
				Str("direction", string(result.Direction)).
				Float64("confidence", result.Confidence).
				Float64("threshold", e.cfg.MinConfidence).
				Msg("Decision below confidence floor, suppressed")
		case result.Direction == protocol.DirectionHold:
			decision.Suppressed = true
			decision.SuppressReason = "hold"
			e.log.Info().
				Str("symbol", symbol).
				Float64("confidence", result.Confidence).
				Msg("Hold decision, no intent")
		default:
			buf.lastDecision = now
			e.log.Info().
				Str("symbol", symbol).
				Str("direction", string(result.Direction)).
				Float64("confidence", result.Confidence).
				Int("num_signals", len(recent)).
				Str("policy", e.policy.Name()).
				Msg("Decision made")
		}

		decisions = append(decisions, decision)
	}

	return decisions
}

// Prune drops stale signals and evicts buffers left empty. Run after
// each evaluation pass.
func (e *Engine) Prune(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for symbol, buf := range e.buffers {
		buf.signals = recentSignals(buf.signals, now, e.cfg.SignalTimeout)
		if len(buf.signals) == 0 && buf.pendingCount == 0 {
			delete(e.buffers, symbol)
		}
	}
}

func (e *Engine) buildDecision(symbol string, recent []*protocol.Signal, result Result) Decision {
	d := Decision{
		Symbol:     symbol,
		Direction:  result.Direction,
		Confidence: result.Confidence,
		Policy:     e.policy.Name(),
		NumSignals: len(recent),
		Reasoning:  result.Reasoning,
		Details:    fusionDetails(result, len(recent)),
	}

	seen := make(map[string]bool, len(recent))
	for _, s := range recent {
		if !seen[s.AgentType] {
			seen[s.AgentType] = true
			d.Sources = append(d.Sources, s.AgentType)
		}
	}

	// The risk core resolves a live price when this is zero.
	d.ExpectedPrice = recent[len(recent)-1].PriceTarget

	var targetSum, stopSum, takeSum float64
	var targets, stops, takes int
	for _, s := range recent {
		if s.PriceTarget > 0 {
			targetSum += s.PriceTarget
			targets++
		}
		if s.StopLoss > 0 {
			stopSum += s.StopLoss
			stops++
		}
		if s.TakeProfit > 0 {
			takeSum += s.TakeProfit
			takes++
		}
	}
	if targets > 0 {
		d.PriceTarget = targetSum / float64(targets)
	}
	if stops > 0 {
		d.StopLoss = stopSum / float64(stops)
	}
	if takes > 0 {
		d.TakeProfit = takeSum / float64(takes)
	}

	return d
}

func fusionDetails(result Result, numSignals int) map[string]interface{} {
	details := map[string]interface{}{
		"buy_score":   result.BuyScore,
		"sell_score":  result.SellScore,
		"num_signals": numSignals,
	}
	if result.Agreement > 0 {
		details["agreement"] = result.Agreement
	}
	if len(result.Weights) > 0 {
		details["weights"] = result.Weights
	}
	if len(result.Votes) > 0 {
		votes := make(map[string]string, len(result.Votes))
		for policy, direction := range result.Votes {
			votes[policy] = string(direction)
		}
		details["votes"] = votes
	}
	return details
}

// recentSignals keeps signals younger than the timeout, preserving
// arrival order.
func recentSignals(signals []*protocol.Signal, now time.Time, timeout time.Duration) []*protocol.Signal {
	recent := make([]*protocol.Signal, 0, len(signals))
	for _, s := range signals {
		if now.Sub(s.Timestamp) < timeout {
			recent = append(recent, s)
		}
	}
	return recent
}
