package fusion

import (
	"time"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

// ConsensusPolicy keeps only strong signals and requires a fraction of
// them to agree on a direction before emitting it.
type ConsensusPolicy struct {
	minConfidence float64
	minAgreement  float64
}

// NewConsensusPolicy builds the policy. Non-positive arguments fall
// back to the documented 0.60 defaults.
func NewConsensusPolicy(minConfidence, minAgreement float64) *ConsensusPolicy {
	if minConfidence <= 0 {
		minConfidence = 0.60
	}
	if minAgreement <= 0 {
		minAgreement = 0.60
	}
	return &ConsensusPolicy{minConfidence: minConfidence, minAgreement: minAgreement}
}

// Name returns the configured policy name.
func (p *ConsensusPolicy) Name() string { return PolicyConsensus }

// Fuse emits the direction a qualified majority of strong signals agree
// on, with the mean confidence of the agreeing signals.
func (p *ConsensusPolicy) Fuse(signals []*protocol.Signal, now time.Time) Result {
	if len(signals) == 0 {
		return Result{Direction: protocol.DirectionHold, Reasoning: []string{"no signals"}}
	}

	strong := make([]*protocol.Signal, 0, len(signals))
	for _, s := range signals {
		if s.Confidence >= p.minConfidence {
			strong = append(strong, s)
		}
	}
	if len(strong) == 0 {
		return Result{Direction: protocol.DirectionHold, Reasoning: []string{"no strong signals"}}
	}

	var buyCount, sellCount int
	for _, s := range strong {
		switch s.Direction {
		case protocol.DirectionBuy:
			buyCount++
		case protocol.DirectionSell:
			sellCount++
		}
	}

	total := float64(len(strong))
	buyAgreement := float64(buyCount) / total
	sellAgreement := float64(sellCount) / total

	if buyAgreement >= p.minAgreement {
		return p.agree(strong, protocol.DirectionBuy, buyAgreement)
	}
	if sellAgreement >= p.minAgreement {
		return p.agree(strong, protocol.DirectionSell, sellAgreement)
	}

	return Result{Direction: protocol.DirectionHold, Reasoning: []string{"no consensus reached"}}
}

func (p *ConsensusPolicy) agree(strong []*protocol.Signal, direction protocol.Direction, agreement float64) Result {
	var sum float64
	var n int
	reasoning := make([]string, 0, len(strong))
	for _, s := range strong {
		if s.Direction != direction {
			continue
		}
		sum += s.Confidence
		n++
		reasoning = append(reasoning, describeSignal(s))
	}

	return Result{
		Direction:  direction,
		Confidence: sum / float64(n),
		Agreement:  agreement,
		Reasoning:  reasoning,
	}
}
