package fusion

import (
	"time"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

// HybridPolicy runs the bayesian, consensus and time-decay policies and
// lets them vote, weighting each vote by the policy's own confidence.
type HybridPolicy struct {
	bayesian  *BayesianPolicy
	consensus *ConsensusPolicy
	timeDecay *TimeDecayPolicy
}

// NewHybridPolicy builds the three constituent policies from the shared
// config and tracker.
func NewHybridPolicy(cfg Config, tracker *PerformanceTracker) *HybridPolicy {
	return &HybridPolicy{
		bayesian:  NewBayesianPolicy(tracker),
		consensus: NewConsensusPolicy(cfg.MinConfidence, cfg.MinAgreement),
		timeDecay: NewTimeDecayPolicy(cfg.HalfLife),
	}
}

// Name returns the configured policy name.
func (p *HybridPolicy) Name() string { return PolicyHybrid }

// Fuse sums each policy's confidence behind its vote and emits the
// direction with the highest total, averaged over the three voters.
// Any tie for the top score holds.
func (p *HybridPolicy) Fuse(signals []*protocol.Signal, now time.Time) Result {
	if len(signals) == 0 {
		return Result{Direction: protocol.DirectionHold, Reasoning: []string{"no signals"}}
	}

	bayesian := p.bayesian.Fuse(signals, now)
	consensus := p.consensus.Fuse(signals, now)
	timeDecay := p.timeDecay.Fuse(signals, now)

	votes := map[string]protocol.Direction{
		PolicyBayesian:  bayesian.Direction,
		PolicyConsensus: consensus.Direction,
		PolicyTimeDecay: timeDecay.Direction,
	}

	scores := map[protocol.Direction]float64{}
	for _, r := range []Result{bayesian, consensus, timeDecay} {
		scores[r.Direction] += r.Confidence
	}

	buy, sell, hold := scores[protocol.DirectionBuy], scores[protocol.DirectionSell], scores[protocol.DirectionHold]

	direction := protocol.DirectionHold
	switch {
	case buy > sell && buy > hold:
		direction = protocol.DirectionBuy
	case sell > buy && sell > hold:
		direction = protocol.DirectionSell
	}

	return Result{
		Direction:  direction,
		Confidence: scores[direction] / 3,
		BuyScore:   buy,
		SellScore:  sell,
		Votes:      votes,
		Reasoning:  bayesian.Reasoning,
	}
}
