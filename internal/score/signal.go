package score

import (
	"fmt"
	"math"
	"time"

	appconfig "marketflow/config"
	"marketflow/internal/model"
)

// Side is where the close sits relative to the moving average.
type Side int

const (
	Below Side = iota
	Above
)

func (s Side) String() string {
	if s == Above {
		return "above"
	}
	return "below"
}

type SignalType string

const (
	Buy  SignalType = "buy"
	Sell SignalType = "sell"
)

// Signal is a confirmed moving-average cross.
type Signal struct {
	Code  string     `json:"code,omitempty"`
	Type  SignalType `json:"type"`
	Date  time.Time  `json:"date"`
	Close float64    `json:"close"`
	MA    float64    `json:"ma"`
}

// volumeLookback is the number of prior bars averaged by the volume guard.
const volumeLookback = 5

// SignalDetector confirms a side change only after MinConsecutiveDays closes
// on the new side and a volume expansion of at least VolumeChangeRatio
// against the previous five days.
type SignalDetector struct {
	maPeriod    int
	minDays     int
	volumeRatio float64
}

func NewSignalDetector(cfg appconfig.SignalConfig) *SignalDetector {
	d := &SignalDetector{maPeriod: cfg.MAPeriod, minDays: cfg.MinConsecutiveDays, volumeRatio: cfg.VolumeChangeRatio}
	if d.maPeriod <= 0 {
		d.maPeriod = 20
	}
	if d.minDays <= 0 {
		d.minDays = 1
	}
	return d
}

// MinBars is the shortest history Evaluate accepts.
func (d *SignalDetector) MinBars() int {
	return d.maPeriod + d.minDays
}

// Evaluate replays bars through the state machine and returns every
// confirmed signal plus the side it ends on.
func (d *SignalDetector) Evaluate(bars []model.DailyBar) ([]Signal, Side, error) {
	if len(bars) < d.MinBars() {
		return nil, Below, fmt.Errorf("%w: have %d bars, need %d", ErrInsufficientHistory, len(bars), d.MinBars())
	}

	closes := model.Closes(bars)
	volumes := model.Volumes(bars)
	ma := SMA(closes, d.maPeriod)

	start := d.maPeriod - 1
	current := sideOf(closes[start], ma[start])
	pending := 0

	var signals []Signal
	for i := start + 1; i < len(bars); i++ {
		side := sideOf(closes[i], ma[i])
		if side == current {
			pending = 0
			continue
		}
		pending++
		if pending < d.minDays || !d.volumeConfirms(volumes, i) {
			continue
		}

		current, pending = side, 0
		sig := Signal{Type: Sell, Date: bars[i].Date, Close: closes[i], MA: ma[i]}
		if side == Above {
			sig.Type = Buy
		}
		signals = append(signals, sig)
	}
	return signals, current, nil
}

func sideOf(close, ma float64) Side {
	if close >= ma {
		return Above
	}
	return Below
}

// volumeConfirms compares volume at i with the mean of up to five prior bars.
func (d *SignalDetector) volumeConfirms(volumes []float64, i int) bool {
	if d.volumeRatio <= 0 {
		return true
	}
	from := i - volumeLookback
	if from < 0 {
		from = 0
	}
	prior := mean(volumes[from:i])
	if prior <= 0 || math.IsNaN(prior) {
		return false
	}
	return volumes[i]/prior >= d.volumeRatio
}
