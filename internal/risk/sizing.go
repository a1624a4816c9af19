package risk

import (
	"fmt"
	"math"
	"sync"
)

// Position sizing methods.
const (
	SizeKelly      = "kelly"
	SizeFixed      = "fixed"
	SizeVolatility = "volatility"
	SizeHybrid     = "hybrid"
)

const (
	riskPerTrade     = 0.02 // fraction of balance risked per trade
	maxKellyFraction = 0.25
	minKellyFraction = 0.01
	kellyConfidence  = 0.5 // below this win probability, half Kelly
)

// SizeInputs is everything sizing needs for one intent. StopLoss,
// TakeProfit and ATR are optional; PortfolioRisk is the current open
// risk as a fraction of balance.
type SizeInputs struct {
	Price         float64
	Confidence    float64
	StopLoss      float64
	TakeProfit    float64
	ATR           float64
	PortfolioRisk float64
}

// SizeResult is the sizing verdict for one intent.
type SizeResult struct {
	Quantity       float64
	SizeUSD        float64
	RiskAmount     float64
	KellyFraction  float64
	WinProbability float64
	RewardRisk     float64
	StopLossPct    float64
	Method         string
	Reasoning      string
}

// Sizer turns signal confidence and stop distance into a position size.
// The per-position cap adapts to the account: small accounts get a
// higher cap so orders can clear exchange minimums.
type Sizer struct {
	mu             sync.RWMutex
	balance        float64
	maxPositionPct float64
	maxTotalRisk   float64
	method         string
}

// NewSizer returns a sizer for the given balance. Unknown or empty
// methods size fixed-fractional.
func NewSizer(balance, maxPortfolioRisk float64, method string) *Sizer {
	if method == "" {
		method = SizeHybrid
	}
	if maxPortfolioRisk <= 0 {
		maxPortfolioRisk = 0.20
	}
	return &Sizer{
		balance:        balance,
		maxPositionPct: maxPositionPctFor(balance),
		maxTotalRisk:   maxPortfolioRisk,
		method:         method,
	}
}

// maxPositionPctFor picks the per-position cap by account size.
func maxPositionPctFor(balance float64) float64 {
	switch {
	case balance < 100:
		return 0.80
	case balance < 1000:
		return 0.30
	default:
		return 0.10
	}
}

// Balance returns the account balance sizing is working from.
func (s *Sizer) Balance() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance
}

// SetBalance updates the working balance and re-derives the adaptive
// per-position cap.
func (s *Sizer) SetBalance(balance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = balance
	s.maxPositionPct = maxPositionPctFor(balance)
}

// MaxPositionPct returns the current per-position cap.
func (s *Sizer) MaxPositionPct() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxPositionPct
}

// Kelly computes the Kelly fraction f* = (p*b - (1-p)) / b for win
// probability p and reward/risk b, clamped to [0.01, 0.25] and halved
// when p is below 0.5. Degenerate inputs return the minimum fraction.
func (s *Sizer) Kelly(winProb, rewardRisk float64) float64 {
	if winProb <= 0 || winProb >= 1 || rewardRisk <= 0 {
		return minKellyFraction
	}

	f := (winProb*rewardRisk - (1 - winProb)) / rewardRisk
	f = math.Max(minKellyFraction, f)
	f = math.Min(maxKellyFraction, f)

	if winProb < kellyConfidence {
		f *= 0.5
	}
	return f
}

// winProbFromConfidence maps signal confidence onto a win probability:
// 0.6 confidence -> 53%, 0.8 -> 59%, clamped to [0.51, 0.70].
func winProbFromConfidence(confidence float64) float64 {
	p := 0.50 + (confidence-0.5)*0.30
	return math.Max(0.51, math.Min(0.70, p))
}

// fixedSize risks a fixed fraction of balance per trade: size such that
// hitting the stop loses balance*riskPerTrade.
func (s *Sizer) fixedSize(balance, stopLossPct float64) float64 {
	maxSize := balance * s.maxPositionPct
	if stopLossPct <= 0 {
		return maxSize
	}
	size := balance * riskPerTrade / stopLossPct
	return math.Min(size, maxSize)
}

// Size computes the position for one intent. The method order of
// precedence follows the configuration; volatility sizing needs an ATR
// and otherwise degrades to fixed-fractional.
func (s *Sizer) Size(in SizeInputs) SizeResult {
	s.mu.RLock()
	balance := s.balance
	maxPct := s.maxPositionPct
	maxTotal := s.maxTotalRisk
	method := s.method
	s.mu.RUnlock()

	if in.Price <= 0 || balance <= 0 {
		return SizeResult{Method: method, Reasoning: "no price or balance, sized to zero"}
	}

	rr := 1.5
	if in.StopLoss > 0 && in.TakeProfit > 0 {
		risk := math.Abs(in.Price - in.StopLoss)
		if risk > 0 {
			rr = math.Abs(in.TakeProfit-in.Price) / risk
		}
	}

	stopPct := defaultStopPct
	switch {
	case in.StopLoss > 0:
		stopPct = math.Abs(in.Price-in.StopLoss) / in.Price
	case in.ATR > 0:
		stopPct = in.ATR * defaultATRMultiplier / in.Price
	}

	winProb := winProbFromConfidence(in.Confidence)

	var size, kf float64
	var label string

	switch {
	case method == SizeKelly:
		kf = s.Kelly(winProb, rr)
		size = balance * kf
		label = SizeKelly

	case method == SizeVolatility && in.ATR > 0:
		volStopPct := in.ATR * defaultATRMultiplier / in.Price
		size = balance * riskPerTrade / volStopPct
		kf = size / balance
		label = SizeVolatility

	case method == SizeHybrid:
		kf = s.Kelly(winProb, rr)
		kellySize := balance * kf
		fixed := s.fixedSize(balance, stopPct)
		conservative := math.Min(kellySize, fixed)

		maxAllowed := balance * maxPct
		if conservative < maxAllowed && maxAllowed <= balance*0.80 {
			// Small accounts take the full cap so the order clears
			// exchange minimums.
			size = maxAllowed
			label = "hybrid (max-adjusted)"
		} else {
			size = conservative
			label = SizeHybrid
		}
		kf = size / balance

	default:
		size = s.fixedSize(balance, stopPct)
		kf = size / balance
		label = SizeFixed
	}

	if size > balance*maxPct {
		size = balance * maxPct
		kf = maxPct
	}

	riskAmount := size * stopPct
	newTotal := in.PortfolioRisk + riskAmount/balance
	if newTotal > maxTotal {
		headroom := math.Max(0, maxTotal-in.PortfolioRisk)
		size = headroom * balance / stopPct
		kf = size / balance
		label += " (risk-adjusted)"
	}

	quantity := round8(size / in.Price)
	size = round2(size)
	riskAmount = round2(size * stopPct)

	return SizeResult{
		Quantity:       quantity,
		SizeUSD:        size,
		RiskAmount:     riskAmount,
		KellyFraction:  kf,
		WinProbability: winProb,
		RewardRisk:     rr,
		StopLossPct:    stopPct,
		Method:         label,
		Reasoning: fmt.Sprintf("size $%.2f (%.1f%% of balance), risk $%.2f (%.1f%% stop), rr %.2f, win prob %.1f%%, method %s",
			size, kf*100, riskAmount, stopPct*100, rr, winProb*100, label),
	}
}

func round8(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}
