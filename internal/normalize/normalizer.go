// Package normalize reshapes provider replies into the canonical daily bar schema.
package normalize

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"marketflow/internal/model"
	"marketflow/logger"
)

// SharesLookup supplies circulating share counts for turnover derivation.
type SharesLookup interface {
	CirculatingShares(ctx context.Context, code string) (float64, error)
}

// Options tunes derivation behavior.
type Options struct {
	// RequireTurnover makes normalization fail when turnover_rate is absent
	// and cannot be derived. Otherwise the column is left at zero.
	RequireTurnover bool
}

type Normalizer struct {
	shares SharesLookup
	opts   Options
	log    *logger.Log
}

func NewNormalizer(shares SharesLookup, opts Options) *Normalizer {
	return &Normalizer{
		shares: shares,
		opts:   opts,
		log:    logger.GetLogger(),
	}
}

var dateLayouts = []string{
	model.DateLayout,
	"20060102",
	"2006/01/02",
	"2006-01-02 15:04:05",
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.Day(t), true
		}
	}
	return time.Time{}, false
}

// parseNumber returns (value, present, ok). Blank and placeholder cells are
// absent rather than invalid.
func parseNumber(s string) (float64, bool, bool) {
	s = strings.TrimSpace(s)
	switch s {
	case "", "-", "--", "None", "null", "NaN", "nan":
		return 0, false, true
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(s, "%")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false, false
	}
	return v, true, true
}

// Normalize maps table onto the canonical schema for instrument code. prev is
// the stored bar preceding the table, if any; it seeds the change columns of
// the first row when the source does not report them.
func (n *Normalizer) Normalize(ctx context.Context, code string, table *model.RawTable, prev *model.DailyBar) ([]model.DailyBar, error) {
	log := n.log.WithComponent("normalizer").WithInstrument(code).WithFields(logger.Fields{"source": table.Source})

	idx := canonicalIndex(table.Source, table.Columns)

	var missing []string
	if _, ok := idx[model.ColDate]; !ok {
		missing = append(missing, model.ColDate)
	}
	for _, col := range model.BaselineColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Source: table.Source, Missing: missing}
	}

	rows, dropped := n.coerce(idx, table.Rows)
	if dropped > 0 {
		log.WithFields(logger.Fields{"dropped_rows": dropped}).Warn("dropped rows that failed numeric coercion")
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: %w", table.Source, ErrNoValidRows)
	}

	bars := model.DedupeSort(rows)

	spec := unitSpecFor(table.Source)
	_, hasAmount := idx[model.ColAmount]
	applyUnits(bars, spec, hasAmount)

	if hasAmount && InferVolumeInLots(model.Amounts(bars), model.Closes(bars), model.Volumes(bars)) {
		for i := range bars {
			bars[i].Volume *= 100
		}
		log.WithFields(logger.Fields{"heuristic": "volume_in_lots"}).Warn("unit heuristic fired: volume rescaled from lots to shares")
	}

	prevClose := math.NaN()
	if prev != nil && prev.Date.Before(bars[0].Date) && prev.Close > 0 {
		prevClose = prev.Close
	}
	if err := n.derive(ctx, code, bars, idx, prevClose, log); err != nil {
		return nil, err
	}

	return bars, nil
}

// coerce parses every row. Optional columns the source lacks, or left blank,
// are NaN so derive can fill them.
func (n *Normalizer) coerce(idx map[string]int, cells [][]string) ([]model.DailyBar, int) {
	out := make([]model.DailyBar, 0, len(cells))
	dropped := 0

	for _, r := range cells {
		date, ok := parseDate(cellAt(r, idx[model.ColDate]))
		if !ok {
			dropped++
			continue
		}

		bar := model.DailyBar{Date: date}
		valid := true
		for _, col := range model.CanonicalColumns[1:] {
			i, present := idx[col]
			if !present {
				setColumn(&bar, col, math.NaN())
				continue
			}
			v, has, ok := parseNumber(cellAt(r, i))
			if !ok || (!has && isBaseline(col)) {
				valid = false
				break
			}
			if !has {
				v = math.NaN()
			}
			setColumn(&bar, col, v)
		}
		if !valid {
			dropped++
			continue
		}
		out = append(out, bar)
	}
	return out, dropped
}

// applyUnits rescales reported values only; NaN cells are derived later
// already in canonical units.
func applyUnits(bars []model.DailyBar, spec UnitSpec, hasAmount bool) {
	pct := spec.PercentMultiplier
	if pct == 0 {
		pct = 1
	}
	for i := range bars {
		b := &bars[i]
		b.Volume *= spec.VolumeMultiplier
		if hasAmount && !math.IsNaN(b.Amount) {
			b.Amount *= spec.AmountMultiplier
		}
		for _, v := range []*float64{&b.Amplitude, &b.PctChange, &b.TurnoverRate} {
			if !math.IsNaN(*v) {
				*v *= pct
			}
		}
	}
}

// derive fills every NaN cell from the other columns of the sorted series.
// prevClose is the close before bars[0], NaN when unknown.
func (n *Normalizer) derive(ctx context.Context, code string, bars []model.DailyBar, idx map[string]int, prevClose float64, log *logger.Entry) error {
	var shares float64
	needShares := false
	for _, b := range bars {
		if math.IsNaN(b.TurnoverRate) {
			needShares = true
			break
		}
	}
	if needShares {
		var err error
		shares, err = n.lookupShares(ctx, code)
		if err != nil {
			if n.opts.RequireTurnover {
				return fmt.Errorf("derive turnover_rate for %s: %w", code, err)
			}
			log.WithError(err).Warn("turnover_rate unavailable; leaving it at zero")
		}
	}

	if _, ok := idx[model.ColAmount]; !ok {
		log.Debug("amount derived from close*volume")
	}

	for i := range bars {
		b := &bars[i]
		prev := prevClose
		if i > 0 {
			prev = bars[i-1].Close
		}
		known := !math.IsNaN(prev)

		if math.IsNaN(b.PriceChange) {
			b.PriceChange = 0
			if known {
				b.PriceChange = b.Close - prev
			}
		}
		if math.IsNaN(b.Amplitude) {
			b.Amplitude = 0
			if known && prev != 0 {
				b.Amplitude = (b.High - b.Low) / prev * 100
			}
		}
		if math.IsNaN(b.PctChange) {
			b.PctChange = 0
			if known && prev != 0 {
				b.PctChange = (b.Close - prev) / prev * 100
			}
		}
		if math.IsNaN(b.Amount) {
			b.Amount = b.Close * b.Volume
		}
		if math.IsNaN(b.TurnoverRate) {
			b.TurnoverRate = 0
			if shares > 0 {
				b.TurnoverRate = b.Volume / shares * 100
			}
		}
	}
	return nil
}

func (n *Normalizer) lookupShares(ctx context.Context, code string) (float64, error) {
	if n.shares == nil {
		return 0, ErrSharesUnavailable
	}
	shares, err := n.shares.CirculatingShares(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSharesUnavailable, err)
	}
	if shares <= 0 {
		return 0, ErrSharesUnavailable
	}
	return shares, nil
}

func cellAt(r []string, i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return r[i]
}

func isBaseline(col string) bool {
	for _, c := range model.BaselineColumns {
		if c == col {
			return true
		}
	}
	return false
}

func setColumn(b *model.DailyBar, col string, v float64) {
	switch col {
	case model.ColOpen:
		b.Open = v
	case model.ColHigh:
		b.High = v
	case model.ColLow:
		b.Low = v
	case model.ColClose:
		b.Close = v
	case model.ColVolume:
		b.Volume = v
	case model.ColAmount:
		b.Amount = v
	case model.ColAmplitude:
		b.Amplitude = v
	case model.ColPctChange:
		b.PctChange = v
	case model.ColPriceChange:
		b.PriceChange = v
	case model.ColTurnoverRate:
		b.TurnoverRate = v
	}
}
