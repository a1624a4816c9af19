// Package indicators computes technical indicators over candle series
// and turns them into directional votes. Calculations delegate to
// cinar/indicator where its channel API fits a single close series;
// the multi-input ATR and ADX are computed directly.
package indicators

import (
	"fmt"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
)

// Default periods used by Snapshot.
const (
	DefaultRSIPeriod    = 14
	DefaultMACDFast     = 12
	DefaultMACDSlow     = 26
	DefaultMACDSignal   = 9
	DefaultBBPeriod     = 20
	DefaultATRPeriod    = 14
	DefaultShortMA      = 20
	DefaultLongMA       = 50
	DefaultADXPeriod    = 14
	snapshotMinimumBars = DefaultLongMA
)

// MACDValues holds the most recent MACD line, signal line and
// histogram.
type MACDValues struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// Bands holds the most recent Bollinger Bands. Width is the absolute
// band width (upper minus lower).
type Bands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
	Width  float64 `json:"width"`
}

func sliceChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

func lastValue(ch <-chan float64) (float64, bool) {
	var last float64
	var seen bool
	for v := range ch {
		last = v
		seen = true
	}
	return last, seen
}

// RSI returns the most recent Relative Strength Index value.
func RSI(closes []float64, period int) (float64, error) {
	if period < 1 || period > len(closes) {
		return 0, fmt.Errorf("rsi: invalid period %d for %d closes", period, len(closes))
	}

	rsi := momentum.NewRsiWithPeriod[float64](period)
	value, ok := lastValue(rsi.Compute(sliceChan(closes)))
	if !ok {
		return 0, fmt.Errorf("rsi: no values produced")
	}
	return value, nil
}

// MACD returns the most recent MACD line, signal line and histogram.
func MACD(closes []float64, fast, slow, signalPeriod int) (MACDValues, error) {
	if fast < 1 || slow < 1 || signalPeriod < 1 {
		return MACDValues{}, fmt.Errorf("macd: invalid periods %d/%d/%d", fast, slow, signalPeriod)
	}
	if fast >= slow {
		return MACDValues{}, fmt.Errorf("macd: fast period %d must be less than slow period %d", fast, slow)
	}
	if len(closes) < slow+signalPeriod {
		return MACDValues{}, fmt.Errorf("macd: need at least %d closes, got %d", slow+signalPeriod, len(closes))
	}

	macd := trend.NewMacdWithPeriod[float64](fast, slow, signalPeriod)
	macdChan, signalChan := macd.Compute(sliceChan(closes))

	var macdVal, signalVal float64
	var seen bool
	for {
		m, mok := <-macdChan
		s, sok := <-signalChan
		if !mok || !sok {
			break
		}
		macdVal, signalVal = m, s
		seen = true
	}
	if !seen {
		return MACDValues{}, fmt.Errorf("macd: no values produced")
	}
	return MACDValues{
		MACD:      macdVal,
		Signal:    signalVal,
		Histogram: macdVal - signalVal,
	}, nil
}

// BollingerBands returns the most recent bands at 2 standard
// deviations around a simple moving average.
func BollingerBands(closes []float64, period int) (Bands, error) {
	if period < 2 || period > len(closes) {
		return Bands{}, fmt.Errorf("bollinger: invalid period %d for %d closes", period, len(closes))
	}

	bb := volatility.NewBollingerBandsWithPeriod[float64](period)
	upperChan, middleChan, lowerChan := bb.Compute(sliceChan(closes))

	var upper, middle, lower float64
	var seen bool
	for {
		u, uok := <-upperChan
		m, mok := <-middleChan
		l, lok := <-lowerChan
		if !uok || !mok || !lok {
			break
		}
		upper, middle, lower = u, m, l
		seen = true
	}
	if !seen {
		return Bands{}, fmt.Errorf("bollinger: no values produced")
	}
	return Bands{
		Upper:  upper,
		Middle: middle,
		Lower:  lower,
		Width:  upper - lower,
	}, nil
}

// SMA returns the most recent simple moving average.
func SMA(closes []float64, period int) (float64, error) {
	if period < 1 || period > len(closes) {
		return 0, fmt.Errorf("sma: invalid period %d for %d closes", period, len(closes))
	}

	sma := trend.NewSmaWithPeriod[float64](period)
	value, ok := lastValue(sma.Compute(sliceChan(closes)))
	if !ok {
		return 0, fmt.Errorf("sma: no values produced")
	}
	return value, nil
}

// EMA returns the most recent exponential moving average.
func EMA(closes []float64, period int) (float64, error) {
	if period < 1 || period > len(closes) {
		return 0, fmt.Errorf("ema: invalid period %d for %d closes", period, len(closes))
	}

	ema := trend.NewEmaWithPeriod[float64](period)
	value, ok := lastValue(ema.Compute(sliceChan(closes)))
	if !ok {
		return 0, fmt.Errorf("ema: no values produced")
	}
	return value, nil
}

// ATR returns the most recent Average True Range using Wilder
// smoothing.
func ATR(highs, lows, closes []float64, period int) (float64, error) {
	n := len(closes)
	if len(highs) != n || len(lows) != n {
		return 0, fmt.Errorf("atr: mismatched series lengths %d/%d/%d", len(highs), len(lows), n)
	}
	if period < 1 || n < period+1 {
		return 0, fmt.Errorf("atr: need at least %d bars, got %d", period+1, n)
	}

	tr := trueRanges(highs, lows, closes)

	// Seed with the mean of the first period, then Wilder-smooth.
	var atr float64
	for i := 1; i <= period; i++ {
		atr += tr[i]
	}
	atr /= float64(period)
	for i := period + 1; i < n; i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
	}
	return atr, nil
}

func trueRanges(highs, lows, closes []float64) []float64 {
	n := len(closes)
	tr := make([]float64, n)
	tr[0] = highs[0] - lows[0]
	for i := 1; i < n; i++ {
		hl := highs[i] - lows[i]
		hc := abs(highs[i] - closes[i-1])
		lc := abs(lows[i] - closes[i-1])
		tr[i] = max3(hl, hc, lc)
	}
	return tr
}

// ADX returns the most recent Average Directional Index, a 0-100
// trend strength reading.
func ADX(highs, lows, closes []float64, period int) (float64, error) {
	n := len(closes)
	if len(highs) != n || len(lows) != n {
		return 0, fmt.Errorf("adx: mismatched series lengths %d/%d/%d", len(highs), len(lows), n)
	}
	if period < 1 || n < period*2+1 {
		return 0, fmt.Errorf("adx: need at least %d bars, got %d", period*2+1, n)
	}

	tr := trueRanges(highs, lows, closes)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		upMove := highs[i] - highs[i-1]
		downMove := lows[i-1] - lows[i]
		if upMove > downMove && upMove > 0 {
			plusDM[i] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i] = downMove
		}
	}

	// Wilder-smoothed sums over the first period.
	var smTR, smPlus, smMinus float64
	for i := 1; i <= period; i++ {
		smTR += tr[i]
		smPlus += plusDM[i]
		smMinus += minusDM[i]
	}

	dx := func() float64 {
		if smTR == 0 {
			return 0
		}
		plusDI := 100 * smPlus / smTR
		minusDI := 100 * smMinus / smTR
		sum := plusDI + minusDI
		if sum == 0 {
			return 0
		}
		return 100 * abs(plusDI-minusDI) / sum
	}

	adx := dx()
	count := 1
	for i := period + 1; i < n; i++ {
		smTR = smTR - smTR/float64(period) + tr[i]
		smPlus = smPlus - smPlus/float64(period) + plusDM[i]
		smMinus = smMinus - smMinus/float64(period) + minusDM[i]

		if count < period {
			adx += dx()
			count++
			if count == period {
				adx /= float64(period)
			}
		} else {
			adx = (adx*float64(period-1) + dx()) / float64(period)
		}
	}
	if count < period {
		adx /= float64(count)
	}
	return adx, nil
}

// Snapshot computes the standard indicator set from aligned OHLC
// series with default periods. Keys match the indicators table:
// rsi, macd, macd_signal, macd_hist, bb_upper, bb_middle, bb_lower,
// sma_20, sma_50, ema_20, atr_14, adx_14.
func Snapshot(highs, lows, closes []float64) (map[string]float64, error) {
	if len(closes) < snapshotMinimumBars {
		return nil, fmt.Errorf("snapshot: need at least %d bars, got %d", snapshotMinimumBars, len(closes))
	}

	rsi, err := RSI(closes, DefaultRSIPeriod)
	if err != nil {
		return nil, err
	}
	macd, err := MACD(closes, DefaultMACDFast, DefaultMACDSlow, DefaultMACDSignal)
	if err != nil {
		return nil, err
	}
	bands, err := BollingerBands(closes, DefaultBBPeriod)
	if err != nil {
		return nil, err
	}
	sma20, err := SMA(closes, DefaultShortMA)
	if err != nil {
		return nil, err
	}
	sma50, err := SMA(closes, DefaultLongMA)
	if err != nil {
		return nil, err
	}
	ema20, err := EMA(closes, DefaultShortMA)
	if err != nil {
		return nil, err
	}
	atr, err := ATR(highs, lows, closes, DefaultATRPeriod)
	if err != nil {
		return nil, err
	}
	adx, err := ADX(highs, lows, closes, DefaultADXPeriod)
	if err != nil {
		return nil, err
	}

	return map[string]float64{
		"rsi":         rsi,
		"macd":        macd.MACD,
		"macd_signal": macd.Signal,
		"macd_hist":   macd.Histogram,
		"bb_upper":    bands.Upper,
		"bb_middle":   bands.Middle,
		"bb_lower":    bands.Lower,
		"sma_20":      sma20,
		"sma_50":      sma50,
		"ema_20":      ema20,
		"atr_14":      atr,
		"adx_14":      adx,
	}, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}
