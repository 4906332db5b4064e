// Package score computes technical indicators, a weighted composite score
// and moving-average cross signals from daily bars.
package score

import (
	"errors"
	"fmt"
	"math"
	"time"

	appconfig "marketflow/config"
	"marketflow/internal/model"
)

var (
	// ErrInsufficientHistory means too few bars to score or detect signals.
	ErrInsufficientHistory = errors.New("insufficient history")
	// ErrInvalidWeights means the composite weights do not sum to one.
	ErrInvalidWeights = errors.New("weights must sum to 1")
)

// WeightTolerance is the allowed deviation of the weight sum from 1.
const WeightTolerance = 0.001

type Weights struct {
	Liquidity float64 `json:"liquidity"`
	Risk      float64 `json:"risk"`
	Return    float64 `json:"return"`
	Sentiment float64 `json:"sentiment"`
	Premium   float64 `json:"premium"`
}

func WeightsFromConfig(w appconfig.WeightsConfig) Weights {
	return Weights{
		Liquidity: w.Liquidity,
		Risk:      w.Risk,
		Return:    w.Return,
		Sentiment: w.Sentiment,
		Premium:   w.Premium,
	}
}

func (w Weights) Sum() float64 {
	return w.Liquidity + w.Risk + w.Return + w.Sentiment + w.Premium
}

func (w Weights) Validate() error {
	for _, v := range []float64{w.Liquidity, w.Risk, w.Return, w.Sentiment, w.Premium} {
		if v < 0 {
			return fmt.Errorf("%w: negative weight %v", ErrInvalidWeights, v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > WeightTolerance {
		return fmt.Errorf("%w: got %.4f", ErrInvalidWeights, sum)
	}
	return nil
}

// Indicators are the latest indicator readings behind a score.
type Indicators struct {
	RSI         float64 `json:"rsi"`
	MACDHist    float64 `json:"macd_hist"`
	K           float64 `json:"k"`
	D           float64 `json:"d"`
	J           float64 `json:"j"`
	PercentB    float64 `json:"percent_b"`
	MaxDrawdown float64 `json:"max_drawdown"`
	Volatility  float64 `json:"volatility"`
	Return      float64 `json:"return"`
	MeanAmount  float64 `json:"mean_amount"`
}

// Result is one instrument's score. When Insufficient is set every score
// field is meaningless and must not be ranked.
type Result struct {
	Code         string     `json:"code"`
	Name         string     `json:"name,omitempty"`
	Date         time.Time  `json:"date"`
	Close        float64    `json:"close"`
	Composite    float64    `json:"composite"`
	Liquidity    float64    `json:"liquidity"`
	Risk         float64    `json:"risk"`
	Return       float64    `json:"return"`
	Sentiment    float64    `json:"sentiment"`
	Premium      float64    `json:"premium"`
	Indicators   Indicators `json:"indicators"`
	Bars         int        `json:"bars"`
	Insufficient bool       `json:"insufficient"`
}

// Indicator periods.
const (
	rsiPeriod      = 14
	macdFast       = 12
	macdSlow       = 26
	macdSignal     = 9
	bollPeriod     = 20
	bollWidth      = 2
	kdjPeriod      = 9
	kdjSmoothing   = 3
	defaultHistory = 30
	defaultReturnN = 20
)

// Liquidity maps log10(mean amount) linearly from 1e6 yuan (0) to 1e10 yuan (100).
const (
	liquidityFloor   = 6.0
	liquidityCeiling = 10.0
)

type Scorer struct {
	weights      Weights
	minHistory   int
	returnWindow int
}

// NewScorer validates the weights from cfg.
func NewScorer(cfg appconfig.ScoringConfig) (*Scorer, error) {
	w := WeightsFromConfig(cfg.Weights)
	if err := w.Validate(); err != nil {
		return nil, err
	}
	s := &Scorer{weights: w, minHistory: cfg.MinHistory, returnWindow: cfg.ReturnWindow}
	if s.minHistory <= 0 {
		s.minHistory = defaultHistory
	}
	if s.returnWindow <= 0 {
		s.returnWindow = defaultReturnN
	}
	if s.minHistory <= s.returnWindow {
		s.minHistory = s.returnWindow + 1
	}
	return s, nil
}

// Score rates bars (ascending by date). Short histories return
// Result{Insufficient: true} together with ErrInsufficientHistory.
func (s *Scorer) Score(bars []model.DailyBar) (Result, error) {
	if len(bars) < s.minHistory {
		return Result{Insufficient: true, Bars: len(bars)}, fmt.Errorf("%w: have %d bars, need %d", ErrInsufficientHistory, len(bars), s.minHistory)
	}

	closes := model.Closes(bars)
	window := closes[len(closes)-s.returnWindow-1:]
	ind := Indicators{
		MaxDrawdown: MaxDrawdown(window),
		Volatility:  Volatility(window),
		Return:      last(window)/window[0] - 1,
		MeanAmount:  mean(model.Amounts(bars[len(bars)-s.returnWindow:])),
	}

	ind.RSI = last(RSI(closes, rsiPeriod))
	_, _, hist := MACD(closes, macdFast, macdSlow, macdSignal)
	ind.MACDHist = last(hist)
	k, d, j := KDJ(model.Highs(bars), model.Lows(bars), closes, kdjPeriod, kdjSmoothing, kdjSmoothing)
	ind.K, ind.D, ind.J = last(k), last(d), last(j)
	_, upper, lower := Bollinger(closes, bollPeriod, bollWidth)
	ind.PercentB = percentB(last(closes), last(upper), last(lower))

	res := Result{
		Date:       bars[len(bars)-1].Date,
		Close:      last(closes),
		Bars:       len(bars),
		Indicators: ind,
		Liquidity:  liquidityScore(ind.MeanAmount),
		Risk:       riskScore(ind.MaxDrawdown, ind.Volatility),
		Return:     returnScore(ind.Return),
		Sentiment:  sentimentScore(ind.RSI, ind.MACDHist, ind.K),
		Premium:    premiumScore(ind.PercentB),
	}
	res.Composite = clamp(
		s.weights.Liquidity*res.Liquidity+
			s.weights.Risk*res.Risk+
			s.weights.Return*res.Return+
			s.weights.Sentiment*res.Sentiment+
			s.weights.Premium*res.Premium,
		0, 100)
	return res, nil
}

func liquidityScore(meanAmount float64) float64 {
	if meanAmount <= 0 {
		return 0
	}
	return clamp((math.Log10(meanAmount)-liquidityFloor)/(liquidityCeiling-liquidityFloor)*100, 0, 100)
}

// riskScore averages two penalties: a 50% drawdown or 50% annual volatility
// each score zero.
func riskScore(mdd, vol float64) float64 {
	return (clamp(100-mdd*200, 0, 100) + clamp(100-vol*200, 0, 100)) / 2
}

// returnScore centres a flat return at 50; +/-10% saturate.
func returnScore(r float64) float64 {
	return clamp(50+r*500, 0, 100)
}

func sentimentScore(rsi, hist, k float64) float64 {
	macd := 0.0
	if hist > 0 {
		macd = 100
	}
	return clamp(0.4*clamp(rsi, 0, 100)+0.3*macd+0.3*clamp(k, 0, 100), 0, 100)
}

func percentB(close, upper, lower float64) float64 {
	if math.IsNaN(upper) || math.IsNaN(lower) || upper-lower < Epsilon {
		return 0.5
	}
	return (close - lower) / (upper - lower)
}

// premiumScore favours closes near the lower band.
func premiumScore(pb float64) float64 {
	return clamp((1-pb)*100, 0, 100)
}
