package risk

import (
	"fmt"
	"math"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

// Stop placement methods.
const (
	StopATR               = "atr"
	StopPercent           = "percentage"
	StopVolatility        = "volatility"
	StopSupportResistance = "support_resistance"
	StopTrailing          = "trailing"
)

const (
	defaultATRMultiplier = 2.0
	defaultStopPct       = 0.05
	defaultStdMultiplier = 2.0
	defaultBufferPct     = 0.01
	defaultRewardRisk    = 2.0
	defaultTrailPct      = 0.03
	defaultActivationPct = 0.05
)

// StopLevels is the planned stop-loss and take-profit placement for an
// order, with the distances expressed as fractions of the entry price.
type StopLevels struct {
	StopLoss        float64
	TakeProfit      float64
	StopLossPct     float64
	TakeProfitPct   float64
	RewardRiskRatio float64
	Method          string
	Reasoning       string
}

// StopInputs carries the market statistics stop planning can use. All
// fields are optional; zero means unavailable and the planner falls
// back to the fixed-percentage method.
type StopInputs struct {
	ATR              float64
	PriceStdDev      float64
	Support          float64
	Resistance       float64
	CustomStop       float64 // explicit level from the intent, used as-is
	CustomTakeProfit float64
}

// StopPlanner places stop-loss and take-profit levels around an entry
// price. The method is chosen at construction; planning falls back to
// the fixed-percentage method when the chosen method's inputs are
// missing.
type StopPlanner struct {
	method        string
	atrMultiplier float64
	stopPct       float64
	stdMultiplier float64
	bufferPct     float64
	rrRatio       float64
	trailPct      float64
	activationPct float64
}

// NewStopPlanner returns a planner using the given method. Unknown or
// empty methods plan fixed-percentage stops.
func NewStopPlanner(method string) *StopPlanner {
	if method == "" {
		method = StopATR
	}
	return &StopPlanner{
		method:        method,
		atrMultiplier: defaultATRMultiplier,
		stopPct:       defaultStopPct,
		stdMultiplier: defaultStdMultiplier,
		bufferPct:     defaultBufferPct,
		rrRatio:       defaultRewardRisk,
		trailPct:      defaultTrailPct,
		activationPct: defaultActivationPct,
	}
}

// Method returns the configured placement method.
func (p *StopPlanner) Method() string { return p.method }

// TrailParams returns the trailing distance and activation threshold as
// fractions of the entry price.
func (p *StopPlanner) TrailParams() (trailPct, activationPct float64) {
	return p.trailPct, p.activationPct
}

// Plan computes stop-loss and take-profit levels for an entry at price.
// Explicit levels from the intent win over every method; otherwise the
// configured method is used when its inputs are present, and the
// fixed-percentage method covers the rest.
func (p *StopPlanner) Plan(price float64, side protocol.Direction, in StopInputs) StopLevels {
	var stop, tp float64
	var method string

	switch {
	case in.CustomStop > 0 && in.CustomTakeProfit > 0:
		stop, tp = in.CustomStop, in.CustomTakeProfit
		method = "custom"

	case p.method == StopATR && in.ATR > 0:
		stop, tp = distanceStops(price, in.ATR*p.atrMultiplier, p.rrRatio, side)
		method = StopATR

	case p.method == StopVolatility && in.PriceStdDev > 0:
		stop, tp = distanceStops(price, in.PriceStdDev*p.stdMultiplier, p.rrRatio, side)
		method = StopVolatility

	case p.method == StopSupportResistance && in.Support > 0 && in.Resistance > 0:
		stop, tp = p.levelStops(price, in.Support, in.Resistance, side)
		method = StopSupportResistance

	case p.method == StopTrailing:
		stop, tp = distanceStops(price, price*p.trailPct, p.rrRatio, side)
		method = StopTrailing

	default:
		stop, tp = p.percentStops(price, side)
		method = StopPercent
	}

	stop = round2(stop)
	tp = round2(tp)

	stopPct := 0.0
	tpPct := 0.0
	if price > 0 {
		stopPct = math.Abs(price-stop) / price
		tpPct = math.Abs(tp-price) / price
	}

	rr := 1.0
	if stopPct > 0 {
		rr = tpPct / stopPct
	}

	return StopLevels{
		StopLoss:        stop,
		TakeProfit:      tp,
		StopLossPct:     stopPct,
		TakeProfitPct:   tpPct,
		RewardRiskRatio: rr,
		Method:          method,
		Reasoning: fmt.Sprintf("stop %.2f (%.1f%%), tp %.2f (%.1f%%), rr %.2f, method %s",
			stop, stopPct*100, tp, tpPct*100, rr, method),
	}
}

// UpdateTrailingStop ratchets a trailing stop toward profit. The stop
// only moves once price has cleared the activation threshold, and it
// never loosens: up for longs, down for shorts.
func (p *StopPlanner) UpdateTrailingStop(currentPrice, currentStop, entryPrice float64, side protocol.Direction) float64 {
	if side == protocol.DirectionBuy {
		if currentPrice >= entryPrice*(1+p.activationPct) {
			return math.Max(currentStop, currentPrice*(1-p.trailPct))
		}
		return currentStop
	}
	if currentPrice <= entryPrice*(1-p.activationPct) {
		return math.Min(currentStop, currentPrice*(1+p.trailPct))
	}
	return currentStop
}

// distanceStops places the stop a fixed distance from price and the
// take profit at rr times that distance on the profitable side.
func distanceStops(price, distance, rr float64, side protocol.Direction) (stop, tp float64) {
	if side == protocol.DirectionBuy {
		return price - distance, price + distance*rr
	}
	return price + distance, price - distance*rr
}

func (p *StopPlanner) percentStops(price float64, side protocol.Direction) (stop, tp float64) {
	if side == protocol.DirectionBuy {
		return price * (1 - p.stopPct), price * (1 + p.stopPct*p.rrRatio)
	}
	return price * (1 + p.stopPct), price * (1 - p.stopPct*p.rrRatio)
}

// levelStops places the stop just beyond the protecting level and takes
// profit at the far level or the rr-based target, whichever is further.
func (p *StopPlanner) levelStops(price, support, resistance float64, side protocol.Direction) (stop, tp float64) {
	if side == protocol.DirectionBuy {
		stop = support * (1 - p.bufferPct)
		risk := price - stop
		tp = math.Max(price+risk*p.rrRatio, resistance*(1-p.bufferPct))
		return stop, tp
	}
	stop = resistance * (1 + p.bufferPct)
	risk := stop - price
	tp = math.Min(price-risk*p.rrRatio, support*(1+p.bufferPct))
	return stop, tp
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
