// Package fusion combines heterogeneous trading signals into trade
// decisions. Signals from the analysis workers are buffered per symbol
// and periodically fused by a configured policy; decisions above the
// confidence floor become trade intents for the risk core.
package fusion

import (
	"fmt"
	"time"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

// Policy names accepted in configuration.
const (
	PolicyBayesian  = "bayesian"
	PolicyConsensus = "consensus"
	PolicyTimeDecay = "time_decay"
	PolicyHybrid    = "hybrid"
)

// scoreThreshold is the minimum normalized directional score the
// weighted policies require before committing to a direction.
const scoreThreshold = 0.30

// Policy fuses a batch of signals for one symbol into a single result.
// Implementations are deterministic: the same signals and clock produce
// the same result, and exact ties resolve to HOLD.
type Policy interface {
	Name() string
	Fuse(signals []*protocol.Signal, now time.Time) Result
}

// Result is the outcome of one policy evaluation.
type Result struct {
	Direction  protocol.Direction
	Confidence float64
	BuyScore   float64
	SellScore  float64
	// Agreement is the fraction of strong signals behind the winning
	// direction. Only the consensus policy sets it.
	Agreement float64
	// Weights holds the normalized per-agent-class weights. Only the
	// bayesian policy sets it.
	Weights map[string]float64
	// Votes holds the per-policy directions. Only the hybrid policy
	// sets it.
	Votes     map[string]protocol.Direction
	Reasoning []string
}

// Config holds the fusion knobs shared by the engine and policies.
type Config struct {
	// Policy selects the fusion policy by name.
	Policy string
	// MinSignals is the minimum buffered signals before a symbol is
	// evaluated.
	MinSignals int
	// SignalTimeout is the age past which a buffered signal no longer
	// contributes.
	SignalTimeout time.Duration
	// MinConfidence is the emission floor. A decision at exactly this
	// confidence is emitted.
	MinConfidence float64
	// HistoryWindow bounds the bayesian per-agent accuracy history.
	HistoryWindow int
	// MinAgreement is the consensus fraction required for a direction.
	MinAgreement float64
	// HalfLife controls the time-decay weighting.
	HalfLife time.Duration
}

// DefaultConfig returns the documented fusion defaults.
func DefaultConfig() Config {
	return Config{
		Policy:        PolicyHybrid,
		MinSignals:    2,
		SignalTimeout: 300 * time.Second,
		MinConfidence: 0.60,
		HistoryWindow: 100,
		MinAgreement:  0.60,
		HalfLife:      30 * time.Minute,
	}
}

// NewPolicy builds the named policy. The bayesian and hybrid policies
// share the given tracker so accuracy updates reach both.
func NewPolicy(cfg Config, tracker *PerformanceTracker) (Policy, error) {
	switch cfg.Policy {
	case PolicyBayesian:
		return NewBayesianPolicy(tracker), nil
	case PolicyConsensus:
		return NewConsensusPolicy(cfg.MinConfidence, cfg.MinAgreement), nil
	case PolicyTimeDecay:
		return NewTimeDecayPolicy(cfg.HalfLife), nil
	case PolicyHybrid:
		return NewHybridPolicy(cfg, tracker), nil
	default:
		return nil, fmt.Errorf("unknown fusion policy: %s", cfg.Policy)
	}
}
