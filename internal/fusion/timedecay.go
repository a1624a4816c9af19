package fusion

import (
	"math"
	"time"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

// TimeDecayPolicy weights each signal by an exponential decay over its
// age times its confidence, so fresh opinions dominate stale ones.
type TimeDecayPolicy struct {
	halfLife time.Duration
}

// NewTimeDecayPolicy builds the policy. A non-positive half-life falls
// back to the documented 30 minutes.
func NewTimeDecayPolicy(halfLife time.Duration) *TimeDecayPolicy {
	if halfLife <= 0 {
		halfLife = 30 * time.Minute
	}
	return &TimeDecayPolicy{halfLife: halfLife}
}

// Name returns the configured policy name.
func (p *TimeDecayPolicy) Name() string { return PolicyTimeDecay }

// timeWeight computes 0.5^(age/half_life) for a signal timestamp.
func (p *TimeDecayPolicy) timeWeight(timestamp, now time.Time) float64 {
	ageMinutes := now.Sub(timestamp).Minutes()
	return math.Pow(0.5, ageMinutes/p.halfLife.Minutes())
}

// Fuse combines signals with age-decayed confidence weighting.
func (p *TimeDecayPolicy) Fuse(signals []*protocol.Signal, now time.Time) Result {
	if len(signals) == 0 {
		return Result{Direction: protocol.DirectionHold, Reasoning: []string{"no signals"}}
	}

	var buyScore, sellScore, totalWeight float64
	reasoning := make([]string, 0, len(signals))

	for _, s := range signals {
		w := p.timeWeight(s.Timestamp, now) * s.Confidence
		totalWeight += w

		switch s.Direction {
		case protocol.DirectionBuy:
			buyScore += w
		case protocol.DirectionSell:
			sellScore += w
		}
		reasoning = append(reasoning, describeSignal(s))
	}

	if totalWeight > 0 {
		buyScore /= totalWeight
		sellScore /= totalWeight
	}

	direction, confidence := scoreDirection(buyScore, sellScore)

	return Result{
		Direction:  direction,
		Confidence: confidence,
		BuyScore:   buyScore,
		SellScore:  sellScore,
		Reasoning:  reasoning,
	}
}
