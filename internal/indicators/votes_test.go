package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ajitpratap0/tradewind/internal/protocol"
)

func TestAnalyzeRSI(t *testing.T) {
	v := AnalyzeRSI(25)
	assert.Equal(t, protocol.DirectionBuy, v.Direction)
	assert.InDelta(t, (30.0-25.0)/30.0, v.Strength, 1e-9)

	v = AnalyzeRSI(75)
	assert.Equal(t, protocol.DirectionSell, v.Direction)
	assert.InDelta(t, (75.0-70.0)/30.0, v.Strength, 1e-9)

	v = AnalyzeRSI(50)
	assert.Equal(t, protocol.DirectionHold, v.Direction)
	assert.Zero(t, v.Strength)

	// Extreme readings clamp at full strength.
	v = AnalyzeRSI(0)
	assert.Equal(t, 1.0, v.Strength)
}

func TestAnalyzeMACD(t *testing.T) {
	v := AnalyzeMACD(1.0, 0.5, 0.5)
	assert.Equal(t, protocol.DirectionBuy, v.Direction)
	assert.InDelta(t, 0.05, v.Strength, 1e-9)

	v = AnalyzeMACD(-1.0, -0.5, -0.5)
	assert.Equal(t, protocol.DirectionSell, v.Direction)
	assert.InDelta(t, 0.05, v.Strength, 1e-9)

	// Divergence without histogram confirmation stays flat.
	v = AnalyzeMACD(1.0, 0.5, -0.1)
	assert.Equal(t, protocol.DirectionHold, v.Direction)

	// Huge histogram clamps at 1.
	v = AnalyzeMACD(20, 5, 15)
	assert.Equal(t, 1.0, v.Strength)
}

func TestAnalyzeBollinger(t *testing.T) {
	bands := Bands{Upper: 104, Middle: 101, Lower: 99, Width: 5}

	v := AnalyzeBollinger(98, bands)
	assert.Equal(t, protocol.DirectionBuy, v.Direction)
	assert.InDelta(t, (99.0-98.0)/5.0*2.0, v.Strength, 1e-9)

	v = AnalyzeBollinger(105, bands)
	assert.Equal(t, protocol.DirectionSell, v.Direction)
	assert.InDelta(t, (105.0-104.0)/5.0*2.0, v.Strength, 1e-9)

	v = AnalyzeBollinger(101, bands)
	assert.Equal(t, protocol.DirectionHold, v.Direction)

	v = AnalyzeBollinger(100, Bands{})
	assert.Equal(t, protocol.DirectionHold, v.Direction)
}

func TestAnalyzeMovingAverages(t *testing.T) {
	v := AnalyzeMovingAverages(110, 100, 95)
	assert.Equal(t, protocol.DirectionBuy, v.Direction)
	assert.InDelta(t, 0.1, v.Strength, 1e-9)

	// Trend strength is capped at 0.3.
	v = AnalyzeMovingAverages(200, 100, 95)
	assert.Equal(t, protocol.DirectionBuy, v.Direction)
	assert.Equal(t, 0.3, v.Strength)

	v = AnalyzeMovingAverages(90, 100, 95)
	assert.Equal(t, protocol.DirectionSell, v.Direction)
	assert.InDelta(t, 0.1, v.Strength, 1e-9)

	v = AnalyzeMovingAverages(97, 100, 95)
	assert.Equal(t, protocol.DirectionHold, v.Direction)
}

func TestCombineSumsStrengthPerSide(t *testing.T) {
	votes := []Vote{
		{Direction: protocol.DirectionBuy, Strength: 0.4, Reason: "a"},
		{Direction: protocol.DirectionSell, Strength: 0.1, Reason: "b"},
		{Direction: protocol.DirectionHold, Strength: 0, Reason: "c"},
		{Direction: protocol.DirectionBuy, Strength: 0.2, Reason: "d"},
	}

	combined := Combine(votes)
	assert.Equal(t, protocol.DirectionBuy, combined.Direction)
	assert.InDelta(t, 0.6, combined.BuyStrength, 1e-9)
	assert.InDelta(t, 0.1, combined.SellStrength, 1e-9)
	assert.InDelta(t, 0.6/4.0, combined.Confidence, 1e-9)
	assert.Len(t, combined.Reasons, 4)
}

func TestCombineAllHoldsIsHold(t *testing.T) {
	votes := []Vote{
		{Direction: protocol.DirectionHold},
		{Direction: protocol.DirectionHold},
	}
	combined := Combine(votes)
	assert.Equal(t, protocol.DirectionHold, combined.Direction)
	assert.Zero(t, combined.Confidence)
}

func TestCombineEmptyVotes(t *testing.T) {
	combined := Combine(nil)
	assert.Equal(t, protocol.DirectionHold, combined.Direction)
	assert.Zero(t, combined.Confidence)
}

func TestCombineEqualStrengthFavorsSell(t *testing.T) {
	// An exact tie resolves to the defensive side.
	votes := []Vote{
		{Direction: protocol.DirectionBuy, Strength: 0.3},
		{Direction: protocol.DirectionSell, Strength: 0.3},
	}
	combined := Combine(votes)
	assert.Equal(t, protocol.DirectionSell, combined.Direction)
	assert.InDelta(t, 0.15, combined.Confidence, 1e-9)
}
