package indicators

import (
	"fmt"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

// Vote is one indicator's directional opinion. Strength is 0 to 1;
// HOLD votes carry zero strength.
type Vote struct {
	Direction protocol.Direction `json:"direction"`
	Strength  float64            `json:"strength"`
	Reason    string             `json:"reason"`
}

// Combined is the merged opinion of a set of votes.
type Combined struct {
	Direction    protocol.Direction `json:"direction"`
	Confidence   float64            `json:"confidence"`
	BuyStrength  float64            `json:"buy_strength"`
	SellStrength float64            `json:"sell_strength"`
	Reasons      []string           `json:"reasons"`
}

func hold(reason string) Vote {
	return Vote{Direction: protocol.DirectionHold, Reason: reason}
}

// AnalyzeRSI votes BUY below 30 and SELL above 70, with strength
// growing as the reading moves deeper into the extreme.
func AnalyzeRSI(rsi float64) Vote {
	switch {
	case rsi < 30:
		return Vote{
			Direction: protocol.DirectionBuy,
			Strength:  clampStrength((30 - rsi) / 30),
			Reason:    fmt.Sprintf("RSI oversold at %.2f", rsi),
		}
	case rsi > 70:
		return Vote{
			Direction: protocol.DirectionSell,
			Strength:  clampStrength((rsi - 70) / 30),
			Reason:    fmt.Sprintf("RSI overbought at %.2f", rsi),
		}
	default:
		return hold(fmt.Sprintf("RSI neutral at %.2f", rsi))
	}
}

// AnalyzeMACD votes with the crossover direction when the histogram
// confirms it, scaled by histogram magnitude.
func AnalyzeMACD(macd, signal, histogram float64) Vote {
	diff := macd - signal
	switch {
	case diff > 0 && histogram > 0:
		return Vote{
			Direction: protocol.DirectionBuy,
			Strength:  clampStrength(abs(histogram) / 10),
			Reason:    fmt.Sprintf("MACD bullish crossover (hist: %.4f)", histogram),
		}
	case diff < 0 && histogram < 0:
		return Vote{
			Direction: protocol.DirectionSell,
			Strength:  clampStrength(abs(histogram) / 10),
			Reason:    fmt.Sprintf("MACD bearish crossover (hist: %.4f)", histogram),
		}
	default:
		return hold("MACD no clear signal")
	}
}

// AnalyzeBollinger votes BUY at or below the lower band and SELL at
// or above the upper band, scaled by how far price sits outside.
func AnalyzeBollinger(closePrice float64, b Bands) Vote {
	if b.Width <= 0 {
		return hold("Bollinger Bands not available")
	}
	switch {
	case closePrice <= b.Lower:
		return Vote{
			Direction: protocol.DirectionBuy,
			Strength:  clampStrength((b.Lower - closePrice) / b.Width * 2),
			Reason:    fmt.Sprintf("Price at lower BB (%.2f <= %.2f)", closePrice, b.Lower),
		}
	case closePrice >= b.Upper:
		return Vote{
			Direction: protocol.DirectionSell,
			Strength:  clampStrength((closePrice - b.Upper) / b.Width * 2),
			Reason:    fmt.Sprintf("Price at upper BB (%.2f >= %.2f)", closePrice, b.Upper),
		}
	default:
		return hold("Price within BB range")
	}
}

// AnalyzeMovingAverages votes with the trend when price sits on the
// same side of both moving averages. Trend votes are capped at 0.3 so
// a drift never outweighs an oscillator extreme.
func AnalyzeMovingAverages(closePrice, shortMA, longMA float64) Vote {
	if shortMA == 0 {
		return hold("MA not available")
	}
	switch {
	case closePrice > shortMA && closePrice > longMA:
		strength := (closePrice - shortMA) / shortMA
		if strength > 0.3 {
			strength = 0.3
		}
		return Vote{
			Direction: protocol.DirectionBuy,
			Strength:  strength,
			Reason:    "Price above MAs (uptrend)",
		}
	case closePrice < shortMA && closePrice < longMA:
		strength := (shortMA - closePrice) / shortMA
		if strength > 0.3 {
			strength = 0.3
		}
		return Vote{
			Direction: protocol.DirectionSell,
			Strength:  strength,
			Reason:    "Price below MAs (downtrend)",
		}
	default:
		return hold("Mixed MA signals")
	}
}

// Combine merges votes by summed strength per side. Confidence is the
// winning side's total divided by the number of votes. When both
// sides are silent the result is HOLD.
func Combine(votes []Vote) Combined {
	if len(votes) == 0 {
		return Combined{Direction: protocol.DirectionHold, Reasons: []string{"No signals available"}}
	}

	var buy, sell float64
	reasons := make([]string, 0, len(votes))
	for _, v := range votes {
		switch v.Direction {
		case protocol.DirectionBuy:
			buy += v.Strength
		case protocol.DirectionSell:
			sell += v.Strength
		}
		reasons = append(reasons, v.Reason)
	}

	out := Combined{
		BuyStrength:  buy,
		SellStrength: sell,
		Reasons:      reasons,
	}

	switch {
	case buy+sell == 0:
		out.Direction = protocol.DirectionHold
	case buy > sell:
		out.Direction = protocol.DirectionBuy
		out.Confidence = clampStrength(buy / float64(len(votes)))
	default:
		out.Direction = protocol.DirectionSell
		out.Confidence = clampStrength(sell / float64(len(votes)))
	}
	return out
}

func clampStrength(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
