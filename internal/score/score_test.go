package score

import (
	"math"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "marketflow/config"
	"marketflow/internal/model"
)

func series(n int, f func(i int) float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = f(i)
	}
	return out
}

func barsFrom(closes []float64, volume func(i int) float64) []model.DailyBar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]model.DailyBar, len(closes))
	for i, c := range closes {
		v := volume(i)
		bars[i] = model.DailyBar{
			Date: start.AddDate(0, 0, i), Open: c, High: c * 1.01, Low: c * 0.99, Close: c,
			Volume: v, Amount: v * c,
		}
	}
	return bars
}

func TestSMA(t *testing.T) {
	out := SMA([]float64{1, 2, 3, 4}, 2)
	assert.True(t, math.IsNaN(out[0]))
	assert.Equal(t, []float64{1.5, 2.5, 3.5}, out[1:])
}

func TestEMASeededWithFirstValue(t *testing.T) {
	out := EMA([]float64{10, 20}, 3)
	assert.Equal(t, 10.0, out[0])
	assert.InDelta(t, 15.0, out[1], 1e-12)
}

func TestMACDHistIsTwiceDifMinusDea(t *testing.T) {
	closes := series(60, func(i int) float64 { return 10 + math.Sin(float64(i)/5) })
	dif, dea, hist := MACD(closes, 12, 26, 9)
	for i := range closes {
		assert.InDelta(t, 2*(dif[i]-dea[i]), hist[i], 1e-12)
	}
}

func TestRSIBounds(t *testing.T) {
	closes := series(100, func(i int) float64 { return 10 + 3*math.Sin(float64(i)*0.7) + float64(i%7)*0.1 })
	for i, v := range RSI(closes, 14) {
		if i < 14 {
			assert.True(t, math.IsNaN(v))
			continue
		}
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
	}
}

func TestRSIAllGainsIsHundred(t *testing.T) {
	closes := series(30, func(i int) float64 { return float64(i + 1) })
	v := last(RSI(closes, 14))
	assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	assert.InDelta(t, 100, v, 1e-6)
}

func TestRSIAllLossesIsZeroAndFlatIsFifty(t *testing.T) {
	down := series(30, func(i int) float64 { return float64(100 - i) })
	assert.InDelta(t, 0, last(RSI(down, 14)), 1e-9)

	flat := series(30, func(int) float64 { return 5 })
	assert.Equal(t, 50.0, last(RSI(flat, 14)))
}

func TestBollingerUsesPopulationStdev(t *testing.T) {
	mid, upper, lower := Bollinger([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8, 2)
	assert.InDelta(t, 5, last(mid), 1e-12)
	assert.InDelta(t, 9, last(upper), 1e-12)
	assert.InDelta(t, 1, last(lower), 1e-12)
}

func TestKDJ(t *testing.T) {
	closes := series(30, func(i int) float64 { return 10 + float64(i)*0.1 })
	highs := series(30, func(i int) float64 { return closes[i] + 0.05 })
	lows := series(30, func(i int) float64 { return closes[i] - 0.05 })

	k, d, j := KDJ(highs, lows, closes, 9, 3, 3)
	for i := range closes {
		assert.InDelta(t, 3*k[i]-2*d[i], j[i], 1e-9)
		assert.GreaterOrEqual(t, k[i], 0.0)
		assert.LessOrEqual(t, k[i], 100.0)
	}
	assert.Greater(t, last(k), 80.0, "steady uptrend should read overbought")
}

func TestMaxDrawdownAndVolatility(t *testing.T) {
	assert.InDelta(t, 0.5, MaxDrawdown([]float64{10, 20, 10, 15}), 1e-12)
	assert.Equal(t, 0.0, MaxDrawdown([]float64{1, 2, 3}))
	assert.Equal(t, 0.0, Volatility([]float64{1, 1, 1, 1}))
	assert.Greater(t, Volatility([]float64{1, 1.1, 0.9, 1.2}), 0.0)
}

func TestWeightsValidate(t *testing.T) {
	assert.NoError(t, Weights{0.25, 0.2, 0.25, 0.15, 0.15}.Validate())
	assert.ErrorIs(t, Weights{0.3, 0.2, 0.25, 0.15, 0.15}.Validate(), ErrInvalidWeights)
	assert.ErrorIs(t, Weights{1.2, -0.2, 0, 0, 0}.Validate(), ErrInvalidWeights)
}

func TestShippedWeightsSumToOne(t *testing.T) {
	_, file, _, _ := runtime.Caller(0)
	path := filepath.Join(filepath.Dir(file), "..", "..", "config", "config.yml")

	cfg, err := appconfig.LoadConfig(path)
	require.NoError(t, err)
	assert.NoError(t, WeightsFromConfig(cfg.Scoring.Weights).Validate())
}

func defaultScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer(appconfig.Default().Scoring)
	require.NoError(t, err)
	return s
}

func TestTenBarsIsInsufficient(t *testing.T) {
	bars := barsFrom(series(10, func(i int) float64 { return 10 }), func(int) float64 { return 1e6 })

	res, err := defaultScorer(t).Score(bars)
	require.ErrorIs(t, err, ErrInsufficientHistory)
	assert.True(t, res.Insufficient)
	assert.Equal(t, 10, res.Bars)
}

func TestScoreBounds(t *testing.T) {
	closes := series(120, func(i int) float64 { return 3 + 0.3*math.Sin(float64(i)/6) + float64(i)*0.002 })
	bars := barsFrom(closes, func(i int) float64 { return 2e7 + float64(i%5)*1e6 })

	res, err := defaultScorer(t).Score(bars)
	require.NoError(t, err)
	assert.False(t, res.Insufficient)
	for name, v := range map[string]float64{
		"composite": res.Composite, "liquidity": res.Liquidity, "risk": res.Risk,
		"return": res.Return, "sentiment": res.Sentiment, "premium": res.Premium,
	} {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 100.0, name)
	}
	assert.True(t, res.Date.Equal(bars[len(bars)-1].Date))
}

func TestNewScorerRejectsBadWeights(t *testing.T) {
	cfg := appconfig.Default().Scoring
	cfg.Weights.Premium = 0.5
	_, err := NewScorer(cfg)
	assert.ErrorIs(t, err, ErrInvalidWeights)
}

func TestSignalDetectorInsufficient(t *testing.T) {
	d := NewSignalDetector(appconfig.SignalConfig{MAPeriod: 5, MinConsecutiveDays: 2, VolumeChangeRatio: 1.2})
	_, _, err := d.Evaluate(barsFrom(series(6, func(int) float64 { return 1 }), func(int) float64 { return 1 }))
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestSignalDetectorConfirmsBuyAfterConsecutiveDaysWithVolume(t *testing.T) {
	closes := []float64{10, 10, 10, 10, 10, 8, 8, 8, 12, 12, 12}
	volumes := []float64{100, 100, 100, 100, 100, 100, 200, 100, 100, 300, 100}
	bars := barsFrom(closes, func(i int) float64 { return volumes[i] })

	d := NewSignalDetector(appconfig.SignalConfig{MAPeriod: 3, MinConsecutiveDays: 2, VolumeChangeRatio: 1.5})
	signals, side, err := d.Evaluate(bars)
	require.NoError(t, err)

	require.Len(t, signals, 2)
	assert.Equal(t, Sell, signals[0].Type)
	assert.True(t, signals[0].Date.Equal(bars[6].Date))
	assert.Equal(t, Buy, signals[1].Type)
	assert.True(t, signals[1].Date.Equal(bars[9].Date))
	assert.Equal(t, Above, side)
}

func TestSignalDetectorVolumeGuardBlocks(t *testing.T) {
	closes := []float64{10, 10, 10, 10, 8, 8, 8}
	bars := barsFrom(closes, func(int) float64 { return 100 })

	d := NewSignalDetector(appconfig.SignalConfig{MAPeriod: 3, MinConsecutiveDays: 1, VolumeChangeRatio: 1.2})
	signals, _, err := d.Evaluate(bars)
	require.NoError(t, err)
	assert.Empty(t, signals)
}
