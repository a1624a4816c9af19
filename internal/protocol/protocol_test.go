package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalRoundTrip(t *testing.T) {
	sig := &Signal{
		Header:      NewHeader(TypeSignal, "technical_analyzer"),
		AgentType:   "technical",
		Symbol:      "BTC/USDT",
		Direction:   DirectionBuy,
		Confidence:  0.80,
		PriceTarget: 50000,
		StopLoss:    48000,
		TakeProfit:  54000,
		Reasoning:   "RSI oversold",
		Indicators:  map[string]float64{"rsi": 25.5, "macd": 12.0},
	}

	data, err := Encode(sig)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	got, ok := decoded.(*Signal)
	require.True(t, ok, "expected *Signal, got %T", decoded)
	assert.Equal(t, sig.Symbol, got.Symbol)
	assert.Equal(t, sig.Direction, got.Direction)
	assert.InDelta(t, sig.Confidence, got.Confidence, 1e-9)
	assert.Equal(t, sig.PriceTarget, got.PriceTarget)
	assert.Equal(t, sig.Reasoning, got.Reasoning)
	assert.Equal(t, 25.5, got.Indicators["rsi"])
	assert.Equal(t, SchemaVersion, got.Version)
	assert.Equal(t, "technical_analyzer", got.SourceAgent)
	assert.True(t, sig.Timestamp.Equal(got.Timestamp))
}

func TestTradeIntentCorrelationThreading(t *testing.T) {
	corrID := NewCorrelationID()
	intent := &TradeIntent{
		Header:        NewHeader(TypeTradeIntent, "strategy").WithCorrelation(corrID),
		IntentID:      corrID,
		Symbol:        "ETH/USDT",
		Side:          DirectionBuy,
		ExpectedPrice: 3000,
		Strategy:      "hybrid",
		Confidence:    0.75,
		SignalCount:   2,
		Sources:       []string{"technical", "sentiment"},
	}

	data, err := Encode(intent)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	got := decoded.(*TradeIntent)
	assert.Equal(t, corrID, got.CorrelationID)
	assert.Equal(t, corrID, got.IntentID)
	assert.Zero(t, got.Quantity, "intent quantity is sized by the risk core")
	assert.Equal(t, []string{"technical", "sentiment"}, got.Sources)
}

func TestEncodeStampsEnvelopeDefaults(t *testing.T) {
	order := &Order{
		Symbol:    "BTC/USDT",
		Side:      DirectionSell,
		OrderType: OrderTypeMarket,
		Quantity:  0.5,
	}

	data, err := Encode(order)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	got := decoded.(*Order)
	assert.Equal(t, SchemaVersion, got.Version)
	assert.Equal(t, TypeOrder, got.Type)
	assert.False(t, got.Timestamp.IsZero())
	assert.WithinDuration(t, time.Now().UTC(), got.Timestamp, 5*time.Second)
}

func TestDecodeUnknownType(t *testing.T) {
	data := []byte(`{"version":"1.0","type":"weather_report","timestamp":"2026-01-02T15:04:05Z","source_agent":"x"}`)

	_, err := Decode(data)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	data := []byte(`{
		"version": "1.1",
		"type": "signal",
		"timestamp": "2026-01-02T15:04:05Z",
		"source_agent": "sentiment_analyzer",
		"symbol": "BTC/USDT",
		"direction": "SELL",
		"confidence": 0.9,
		"novel_field": {"nested": true},
		"another_extra": 42
	}`)

	decoded, err := Decode(data)
	require.NoError(t, err)

	got, ok := decoded.(*Signal)
	require.True(t, ok)
	assert.Equal(t, "BTC/USDT", got.Symbol)
	assert.Equal(t, DirectionSell, got.Direction)
	assert.Equal(t, 0.9, got.Confidence)
	assert.Equal(t, "1.1", got.Version, "newer minor versions still decode")
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"type": "order", "quantity": `))
	require.Error(t, err)
}

func TestHeaderMetadataHelpers(t *testing.T) {
	h := NewHeader(TypeTradeIntent, "strategy").
		WithMeta("avg_stop_loss", 48000.0).
		WithMeta("fusion_policy", "bayesian")

	v, ok := h.MetaFloat("avg_stop_loss")
	require.True(t, ok)
	assert.Equal(t, 48000.0, v)

	s, ok := h.MetaString("fusion_policy")
	require.True(t, ok)
	assert.Equal(t, "bayesian", s)

	_, ok = h.MetaFloat("missing")
	assert.False(t, ok)
	_, ok = h.MetaFloat("fusion_policy")
	assert.False(t, ok, "string metadata is not a float")
}

func TestMetadataSurvivesRoundTrip(t *testing.T) {
	intent := &TradeIntent{
		Header: NewHeader(TypeTradeIntent, "strategy").
			WithMeta("avg_stop_loss", 47500.0).
			WithMeta("avg_take_profit", 53000.0),
		IntentID: NewCorrelationID(),
		Symbol:   "BTC/USDT",
		Side:     DirectionBuy,
	}

	data, err := Encode(intent)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	got := decoded.(*TradeIntent)
	stop, ok := got.MetaFloat("avg_stop_loss")
	require.True(t, ok)
	assert.Equal(t, 47500.0, stop)
	tp, ok := got.MetaFloat("avg_take_profit")
	require.True(t, ok)
	assert.Equal(t, 53000.0, tp)
}

func TestOrderStatusTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}

	live := []OrderStatus{OrderStatusPending, OrderStatusOpen, OrderStatusPartial}
	for _, s := range live {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestExecutionReportRoundTrip(t *testing.T) {
	execTime := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	report := &ExecutionReport{
		Header:          NewHeader(TypeExecutionReport, "execution").WithCorrelation("corr-1"),
		OrderID:         "ord-1",
		ExchangeOrderID: "12345",
		Exchange:        "binance",
		Symbol:          "BTC/USDT",
		Side:            DirectionBuy,
		Status:          OrderStatusFilled,
		FilledQuantity:  0.1,
		AveragePrice:    50050,
		TotalValue:      5005,
		Fee:             5.0,
		FeeCurrency:     "USDT",
		ExecutionTime:   execTime,
	}

	data, err := Encode(report)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	got := decoded.(*ExecutionReport)
	assert.Equal(t, OrderStatusFilled, got.Status)
	assert.Equal(t, "corr-1", got.CorrelationID)
	assert.Equal(t, 0.1, got.FilledQuantity)
	assert.True(t, execTime.Equal(got.ExecutionTime))
}

func TestPositionRoundTrip(t *testing.T) {
	pos := &Position{
		Header:           NewHeader(TypePosition, "execution"),
		PositionID:       "pos-1",
		Symbol:           "BTC/USDT",
		Side:             PositionLong,
		EntryPrice:       50000,
		CurrentPrice:     52000,
		Quantity:         0.05,
		InitialQuantity:  0.1,
		UnrealizedPnL:    100,
		UnrealizedPnLPct: 4.0,
		RealizedPnL:      100,
		TotalPnL:         200,
		Status:           PositionPartiallyClosed,
	}

	data, err := Encode(pos)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	got := decoded.(*Position)
	assert.Equal(t, PositionPartiallyClosed, got.Status)
	assert.Equal(t, PositionLong, got.Side)
	assert.Equal(t, 0.05, got.Quantity)
	assert.Equal(t, 0.1, got.InitialQuantity)
}

func TestRiskAssessmentRejection(t *testing.T) {
	ra := &RiskAssessment{
		Header:          NewHeader(TypeRiskAssessment, "risk").WithCorrelation("corr-9"),
		IntentID:        "corr-9",
		Symbol:          "BTC/USDT",
		Approved:        false,
		RiskScore:       0.7,
		RejectionReason: "risk violations: confidence below minimum",
	}

	data, err := Encode(ra)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	got := decoded.(*RiskAssessment)
	assert.False(t, got.Approved)
	assert.Equal(t, "corr-9", got.IntentID)
	assert.NotEmpty(t, got.RejectionReason)
}
