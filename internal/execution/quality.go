package execution

import (
	"math"
	"time"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

// Quality ratings by absolute slippage percentage.
const (
	RatingExcellent  = "excellent"  // < 0.1%
	RatingGood       = "good"       // < 0.3%
	RatingAcceptable = "acceptable" // < 0.5%
	RatingPoor       = "poor"       // < 1.0%
	RatingVeryPoor   = "very_poor"
)

// Slippage compares the average fill price against the price expected at
// decision time. Amount is per unit of quantity, signed so that positive
// always means worse than expected regardless of side.
type Slippage struct {
	Amount     float64
	Pct        float64
	Bps        float64
	CostImpact float64
	Rating     string
	Favorable  bool
}

// MeasureSlippage grades a fill group against its expected price. For
// buys, paying more than expected is adverse; for sells, receiving less
// is. A non-positive expected price yields zero slippage.
func MeasureSlippage(side protocol.Direction, expected, actual, quantity float64) Slippage {
	if expected <= 0 {
		return Slippage{Rating: rateSlippage(0)}
	}

	amount := actual - expected
	if side == protocol.DirectionSell {
		amount = -amount
	}
	pct := amount / expected * 100

	return Slippage{
		Amount:     amount,
		Pct:        pct,
		Bps:        pct * 100,
		CostImpact: math.Abs(amount * quantity),
		Rating:     rateSlippage(math.Abs(pct)),
		Favorable:  amount < 0,
	}
}

func rateSlippage(absPct float64) string {
	switch {
	case absPct < 0.1:
		return RatingExcellent
	case absPct < 0.3:
		return RatingGood
	case absPct < 0.5:
		return RatingAcceptable
	case absPct < 1.0:
		return RatingPoor
	default:
		return RatingVeryPoor
	}
}

// Costs is the full cost breakdown of a fill group. Pct counts only the
// friction (fees plus adverse slippage) against the gross notional.
type Costs struct {
	Gross        float64
	Fees         float64
	SlippageCost float64
	Total        float64
	PerUnit      float64
	Pct          float64
}

// MeasureCosts breaks down what the fill group actually cost.
// slippageAmount is the signed per-unit figure from MeasureSlippage.
func MeasureCosts(quantity, avgPrice, fees, slippageAmount float64) Costs {
	gross := quantity * avgPrice
	slipCost := slippageAmount * quantity
	total := gross + fees + math.Abs(slipCost)

	var perUnit float64
	if quantity > 0 {
		perUnit = total / quantity
	}
	var pct float64
	if gross > 0 {
		pct = (fees + math.Abs(slipCost)) / gross * 100
	}

	return Costs{
		Gross:        gross,
		Fees:         fees,
		SlippageCost: slipCost,
		Total:        total,
		PerUnit:      perUnit,
		Pct:          pct,
	}
}

// ScoreExecution folds slippage, cost, and speed into a single 0-100
// score, weighted 50/30/20 and rounded to one decimal.
func ScoreExecution(absSlippagePct, costPct, executionMs float64) float64 {
	score := slippageScore(absSlippagePct)*0.5 + costScore(costPct)*0.3 + speedScore(executionMs)*0.2
	return math.Round(score*10) / 10
}

func slippageScore(absPct float64) float64 {
	switch {
	case absPct < 0.1:
		return 100
	case absPct < 0.3:
		return 80
	case absPct < 0.5:
		return 60
	case absPct < 1.0:
		return 40
	default:
		return math.Max(0, 20-(absPct-1.0)*10)
	}
}

func costScore(pct float64) float64 {
	switch {
	case pct < 0.1:
		return 100
	case pct < 0.3:
		return 80
	case pct < 0.5:
		return 60
	default:
		return math.Max(0, 40-(pct-0.5)*20)
	}
}

func speedScore(ms float64) float64 {
	switch {
	case ms < 1000:
		return 100
	case ms < 5000:
		return 80
	case ms < 10000:
		return 60
	case ms < 30000:
		return 40
	default:
		return 20
	}
}

// FillGroup is the aggregate of all fills for one order, the unit the
// quality metrics are computed over.
type FillGroup struct {
	OrderID       string
	Symbol        string
	Side          protocol.Direction
	Quantity      float64
	ExpectedPrice float64
	AveragePrice  float64
	Fees          float64
	FillCount     int
	SubmittedAt   time.Time
	CompletedAt   time.Time
}

// QualityReport is the graded outcome of a fill group.
type QualityReport struct {
	OrderID       string
	Symbol        string
	Side          protocol.Direction
	Quantity      float64
	ExpectedPrice float64
	AveragePrice  float64
	Slippage      Slippage
	Costs         Costs
	ExecutionMs   float64
	Score         float64
	FillCount     int
}

// Grade measures a completed fill group end to end.
func Grade(g FillGroup) QualityReport {
	slip := MeasureSlippage(g.Side, g.ExpectedPrice, g.AveragePrice, g.Quantity)
	costs := MeasureCosts(g.Quantity, g.AveragePrice, g.Fees, slip.Amount)
	ms := float64(g.CompletedAt.Sub(g.SubmittedAt).Milliseconds())
	if ms < 0 {
		ms = 0
	}

	return QualityReport{
		OrderID:       g.OrderID,
		Symbol:        g.Symbol,
		Side:          g.Side,
		Quantity:      g.Quantity,
		ExpectedPrice: g.ExpectedPrice,
		AveragePrice:  g.AveragePrice,
		Slippage:      slip,
		Costs:         costs,
		ExecutionMs:   ms,
		Score:         ScoreExecution(math.Abs(slip.Pct), costs.Pct, ms),
		FillCount:     g.FillCount,
	}
}
