package model

import (
	"sort"
	"time"
)

// DateLayout is the on-disk and canonical date format of a bar.
const DateLayout = "2006-01-02"

// Canonical column names, in output order.
const (
	ColDate         = "date"
	ColOpen         = "open"
	ColHigh         = "high"
	ColLow          = "low"
	ColClose        = "close"
	ColVolume       = "volume"
	ColAmount       = "amount"
	ColAmplitude    = "amplitude"
	ColPctChange    = "pct_change"
	ColPriceChange  = "price_change"
	ColTurnoverRate = "turnover_rate"
)

// CanonicalColumns is the full normalized schema.
var CanonicalColumns = []string{
	ColDate, ColOpen, ColHigh, ColLow, ColClose, ColVolume,
	ColAmount, ColAmplitude, ColPctChange, ColPriceChange, ColTurnoverRate,
}

// BaselineColumns must be present in every provider reply.
var BaselineColumns = []string{ColOpen, ColHigh, ColLow, ColClose, ColVolume}

// DailyBar is one trading day for one instrument. Volume is in shares and
// Amount in yuan; percentage fields are in percent units.
type DailyBar struct {
	Date         time.Time `json:"date"`
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       float64   `json:"volume"`
	Amount       float64   `json:"amount"`
	Amplitude    float64   `json:"amplitude"`
	PctChange    float64   `json:"pct_change"`
	PriceChange  float64   `json:"price_change"`
	TurnoverRate float64   `json:"turnover_rate"`
}

// DateString renders the bar date as YYYY-MM-DD.
func (b DailyBar) DateString() string {
	return b.Date.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD date in UTC.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// Day truncates t to a UTC calendar date so dates from different sources compare equal.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Closes extracts the close column.
func Closes(bars []DailyBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// Highs extracts the high column.
func Highs(bars []DailyBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

// Lows extracts the low column.
func Lows(bars []DailyBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}

// Volumes extracts the volume column.
func Volumes(bars []DailyBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Volume
	}
	return out
}

// Amounts extracts the amount column.
func Amounts(bars []DailyBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Amount
	}
	return out
}

// DedupeSort keeps the last bar seen for each date and returns them ascending.
func DedupeSort(bars []DailyBar) []DailyBar {
	index := make(map[time.Time]int, len(bars))
	out := make([]DailyBar, 0, len(bars))
	for _, b := range bars {
		d := Day(b.Date)
		b.Date = d
		if i, ok := index[d]; ok {
			out[i] = b
			continue
		}
		index[d] = len(out)
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// LastDate returns the date of the final bar, or the zero time for an empty series.
func LastDate(bars []DailyBar) time.Time {
	if len(bars) == 0 {
		return time.Time{}
	}
	return bars[len(bars)-1].Date
}
