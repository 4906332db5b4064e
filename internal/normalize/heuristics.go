package normalize

import (
	"sort"
)

// Fund size thresholds. Providers report fund size in yuan, in 10k-yuan or
// in 100M-yuan without saying which. The mean of a column decides:
// above FundSizeYuanThreshold the column is raw yuan, above
// FundSizeWanThreshold it is 10k-yuan, otherwise it is already 100M-yuan.
// A universe made only of very large funds reported in 100M-yuan would be
// misread as 10k-yuan; callers log every time the heuristic rescales.
const (
	FundSizeYuanThreshold = 1e6
	FundSizeWanThreshold  = 1e3
)

// FundSizeUnit is the unit ScaleFundSize concluded a column was in.
type FundSizeUnit string

const (
	UnitYuan    FundSizeUnit = "yuan"
	UnitWanYuan FundSizeUnit = "10k_yuan"
	UnitYiYuan  FundSizeUnit = "100m_yuan"
)

// ScaleFundSize converts a fund-size column to 100M-yuan. It returns the
// scaled copy, the unit it inferred and whether any rescaling happened.
func ScaleFundSize(values []float64) ([]float64, FundSizeUnit, bool) {
	out := make([]float64, len(values))
	copy(out, values)
	if len(values) == 0 {
		return out, UnitYiYuan, false
	}

	var sum float64
	var n int
	for _, v := range values {
		if v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return out, UnitYiYuan, false
	}
	mean := sum / float64(n)

	var divisor float64
	var unit FundSizeUnit
	switch {
	case mean > FundSizeYuanThreshold:
		divisor, unit = 1e8, UnitYuan
	case mean > FundSizeWanThreshold:
		divisor, unit = 1e4, UnitWanYuan
	default:
		return out, UnitYiYuan, false
	}
	for i := range out {
		out[i] /= divisor
	}
	return out, unit, true
}

// Lot ratio bounds. A-shares trade in lots of 100 shares. When a source's
// volume is in lots, amount/(close*volume) sits near 100 instead of near 1.
const (
	LotRatioMin = 50.0
	LotRatioMax = 200.0
)

// InferVolumeInLots reports whether the median of amount/(close*volume) over
// rows with all three values positive falls in [LotRatioMin, LotRatioMax].
func InferVolumeInLots(amount, closes, volume []float64) bool {
	n := len(amount)
	if len(closes) < n {
		n = len(closes)
	}
	if len(volume) < n {
		n = len(volume)
	}

	ratios := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if amount[i] > 0 && closes[i] > 0 && volume[i] > 0 {
			ratios = append(ratios, amount[i]/(closes[i]*volume[i]))
		}
	}
	if len(ratios) == 0 {
		return false
	}
	sort.Float64s(ratios)
	median := ratios[len(ratios)/2]
	return median >= LotRatioMin && median <= LotRatioMax
}
