package risk

import (
	"fmt"
	"math"
	"strings"
)

// Validator default thresholds.
const (
	defaultMaxPortfolioRisk = 0.20
	defaultMaxTradeRisk     = 0.05
	defaultMinRewardRisk    = 1.5
	defaultMinConfidence    = 0.60
	defaultMaxCorrelated    = 0.30
)

// VaR scaling for a one-sided 95% normal quantile.
const varZScore = 1.65

// Exposure is an open position's footprint for the correlation check.
type Exposure struct {
	Symbol  string
	SizeUSD float64
}

// ValidationInput is a sized intent awaiting approval.
type ValidationInput struct {
	Symbol        string
	Confidence    float64
	PositionSize  float64
	RiskAmount    float64
	RewardRisk    float64
	PortfolioRisk float64 // current open risk, fraction of balance
	Balance       float64
	Exposures     []Exposure
}

// Verdict is the outcome of validating one sized intent. RiskScore
// accumulates a fixed delta per failed check and caps at 1.0; the trade
// is approved only when no check fails.
type Verdict struct {
	Approved           bool
	RiskScore          float64
	RejectionReason    string // failed checks joined with "; ", empty when approved
	VaRContribution    float64
	TradeRiskPct       float64
	PortfolioRiskAfter float64
}

// Validator applies the desk's trade-approval rules.
type Validator struct {
	maxPortfolioRisk float64
	maxTradeRisk     float64
	minRewardRisk    float64
	minConfidence    float64
	maxCorrelated    float64
}

// NewValidator builds a validator; non-positive limits take the desk
// defaults.
func NewValidator(maxPortfolioRisk, maxTradeRisk, minRewardRisk float64) *Validator {
	if maxPortfolioRisk <= 0 {
		maxPortfolioRisk = defaultMaxPortfolioRisk
	}
	if maxTradeRisk <= 0 {
		maxTradeRisk = defaultMaxTradeRisk
	}
	if minRewardRisk <= 0 {
		minRewardRisk = defaultMinRewardRisk
	}
	return &Validator{
		maxPortfolioRisk: maxPortfolioRisk,
		maxTradeRisk:     maxTradeRisk,
		minRewardRisk:    minRewardRisk,
		minConfidence:    defaultMinConfidence,
		maxCorrelated:    defaultMaxCorrelated,
	}
}

// Validate runs every check and returns the combined verdict.
func (v *Validator) Validate(in ValidationInput) Verdict {
	var reasons []string
	score := 0.0

	if in.Confidence < v.minConfidence {
		reasons = append(reasons, fmt.Sprintf("low confidence: %.2f < %.2f", in.Confidence, v.minConfidence))
		score += 0.3
	}

	if in.RewardRisk < v.minRewardRisk {
		reasons = append(reasons, fmt.Sprintf("poor reward/risk: %.2f < %.2f", in.RewardRisk, v.minRewardRisk))
		score += 0.2
	}

	tradeRiskPct := 0.0
	if in.Balance > 0 {
		tradeRiskPct = in.RiskAmount / in.Balance
	}
	if tradeRiskPct > v.maxTradeRisk {
		reasons = append(reasons, fmt.Sprintf("excessive trade risk: %.1f%% > %.1f%%", tradeRiskPct*100, v.maxTradeRisk*100))
		score += 0.3
	}

	after := in.PortfolioRisk + tradeRiskPct
	if after > v.maxPortfolioRisk {
		reasons = append(reasons, fmt.Sprintf("portfolio risk limit: %.1f%% > %.1f%%", after*100, v.maxPortfolioRisk*100))
		score += 0.4
	}

	if in.Balance > 0 && len(in.Exposures) > 0 {
		base := baseAsset(in.Symbol)
		var correlated float64
		for _, e := range in.Exposures {
			if baseAsset(e.Symbol) == base {
				correlated += e.SizeUSD
			}
		}
		if pct := correlated / in.Balance; pct > v.maxCorrelated {
			reasons = append(reasons, fmt.Sprintf("high correlated exposure: %.1f%%", pct*100))
			score += 0.2
		}
	}

	return Verdict{
		Approved:           len(reasons) == 0,
		RiskScore:          math.Min(1.0, score),
		RejectionReason:    strings.Join(reasons, "; "),
		VaRContribution:    in.RiskAmount * varZScore,
		TradeRiskPct:       tradeRiskPct,
		PortfolioRiskAfter: after,
	}
}

// baseAsset extracts the base asset from a unified "BASE/QUOTE" symbol.
func baseAsset(symbol string) string {
	if i := strings.Index(symbol, "/"); i >= 0 {
		return symbol[:i]
	}
	return symbol
}
