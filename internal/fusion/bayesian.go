package fusion

import (
	"fmt"
	"math"
	"time"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

// BayesianPolicy weights each signal by its agent class's historical
// accuracy times the signal's own confidence, normalizes the weights
// and sums them per direction.
type BayesianPolicy struct {
	tracker *PerformanceTracker
}

// NewBayesianPolicy builds the policy around a shared tracker.
func NewBayesianPolicy(tracker *PerformanceTracker) *BayesianPolicy {
	if tracker == nil {
		tracker = NewPerformanceTracker(0)
	}
	return &BayesianPolicy{tracker: tracker}
}

// Name returns the configured policy name.
func (p *BayesianPolicy) Name() string { return PolicyBayesian }

// Tracker exposes the accuracy history for performance updates and
// state persistence.
func (p *BayesianPolicy) Tracker() *PerformanceTracker { return p.tracker }

// Fuse combines signals by weighted posterior vote.
func (p *BayesianPolicy) Fuse(signals []*protocol.Signal, now time.Time) Result {
	if len(signals) == 0 {
		return Result{Direction: protocol.DirectionHold, Reasoning: []string{"no signals"}}
	}

	// Per-class weight: decayed accuracy times the class's latest
	// signal confidence.
	weights := make(map[string]float64, len(signals))
	for _, s := range signals {
		weights[s.AgentType] = p.tracker.Weight(s.AgentType) * s.Confidence
	}

	var total float64
	for _, w := range weights {
		total += w
	}
	if total > 0 {
		for agentType, w := range weights {
			weights[agentType] = w / total
		}
	}

	var buyScore, sellScore float64
	for _, s := range signals {
		w := weights[s.AgentType]
		switch s.Direction {
		case protocol.DirectionBuy:
			buyScore += w
		case protocol.DirectionSell:
			sellScore += w
		}
	}

	direction, confidence := scoreDirection(buyScore, sellScore)

	reasoning := make([]string, 0, len(signals))
	for _, s := range signals {
		reasoning = append(reasoning, describeSignal(s))
	}

	return Result{
		Direction:  direction,
		Confidence: confidence,
		BuyScore:   buyScore,
		SellScore:  sellScore,
		Weights:    weights,
		Reasoning:  reasoning,
	}
}

// scoreDirection resolves normalized directional scores against the
// score threshold. Ties and weak scores hold.
func scoreDirection(buyScore, sellScore float64) (protocol.Direction, float64) {
	switch {
	case buyScore > sellScore && buyScore > scoreThreshold:
		return protocol.DirectionBuy, buyScore
	case sellScore > buyScore && sellScore > scoreThreshold:
		return protocol.DirectionSell, sellScore
	default:
		return protocol.DirectionHold, math.Max(buyScore, sellScore)
	}
}

func describeSignal(s *protocol.Signal) string {
	return fmt.Sprintf("%s: %s (%.2f) %s", s.AgentType, s.Direction, s.Confidence, s.Reasoning)
}
