package normalize

import (
	"strings"

	"marketflow/internal/model"
)

// Source tags understood by the normalizer.
const (
	SourceEastmoney = "eastmoney"
	SourceSina      = "sina"
	SourceTencent   = "tencent"
	SourceNetease   = "netease"
	SourceCSV       = "csv"
)

// renameMaps translate provider headers to canonical column names. Lookups
// are case-insensitive and ignore surrounding whitespace.
var renameMaps = map[string]map[string]string{
	SourceEastmoney: {
		"f51": model.ColDate,
		"f52": model.ColOpen,
		"f53": model.ColClose,
		"f54": model.ColHigh,
		"f55": model.ColLow,
		"f56": model.ColVolume,
		"f57": model.ColAmount,
		"f58": model.ColAmplitude,
		"f59": model.ColPctChange,
		"f60": model.ColPriceChange,
		"f61": model.ColTurnoverRate,
	},
	SourceSina: {
		"day":    model.ColDate,
		"open":   model.ColOpen,
		"high":   model.ColHigh,
		"low":    model.ColLow,
		"close":  model.ColClose,
		"volume": model.ColVolume,
	},
	SourceTencent: {
		"date":   model.ColDate,
		"open":   model.ColOpen,
		"close":  model.ColClose,
		"high":   model.ColHigh,
		"low":    model.ColLow,
		"vol":    model.ColVolume,
		"amount": model.ColAmount,
	},
	SourceNetease: {
		"日期":      model.ColDate,
		"开盘价":     model.ColOpen,
		"最高价":     model.ColHigh,
		"最低价":     model.ColLow,
		"收盘价":     model.ColClose,
		"涨跌额":     model.ColPriceChange,
		"涨跌幅(%)":  model.ColPctChange,
		"成交量(手)":  model.ColVolume,
		"成交金额(万元)": model.ColAmount,
		"振幅(%)":   model.ColAmplitude,
		"换手率(%)":  model.ColTurnoverRate,
	},
	SourceCSV: {
		"日期":  model.ColDate,
		"开盘":  model.ColOpen,
		"最高":  model.ColHigh,
		"最低":  model.ColLow,
		"收盘":  model.ColClose,
		"成交量": model.ColVolume,
		"成交额": model.ColAmount,
		"振幅":  model.ColAmplitude,
		"涨跌幅": model.ColPctChange,
		"涨跌额": model.ColPriceChange,
		"换手率": model.ColTurnoverRate,
	},
}

// UnitSpec converts a source's native units into shares, yuan and percent.
// PercentMultiplier is 100 for sources that report amplitude, pct_change and
// turnover_rate as fractions.
type UnitSpec struct {
	VolumeMultiplier  float64
	AmountMultiplier  float64
	PercentMultiplier float64
}

var unitSpecs = map[string]UnitSpec{
	SourceEastmoney: {VolumeMultiplier: 100, AmountMultiplier: 1, PercentMultiplier: 1},
	SourceSina:      {VolumeMultiplier: 1, AmountMultiplier: 1, PercentMultiplier: 1},
	SourceTencent:   {VolumeMultiplier: 100, AmountMultiplier: 10000, PercentMultiplier: 1},
	SourceNetease:   {VolumeMultiplier: 100, AmountMultiplier: 10000, PercentMultiplier: 1},
	SourceCSV:       {VolumeMultiplier: 1, AmountMultiplier: 1, PercentMultiplier: 1},
}

func unitSpecFor(source string) UnitSpec {
	if spec, ok := unitSpecs[source]; ok {
		return spec
	}
	return UnitSpec{VolumeMultiplier: 1, AmountMultiplier: 1, PercentMultiplier: 1}
}

// canonicalIndex maps each canonical column present in columns to its index.
// Canonical names are always accepted so already-normalized tables pass through.
func canonicalIndex(source string, columns []string) map[string]int {
	rename := renameMaps[source]
	lowered := make(map[string]string, len(rename))
	for k, v := range rename {
		lowered[strings.ToLower(k)] = v
	}

	canonical := make(map[string]bool, len(model.CanonicalColumns))
	for _, c := range model.CanonicalColumns {
		canonical[c] = true
	}

	idx := make(map[string]int, len(columns))
	for i, col := range columns {
		key := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(col), "\ufeff"))
		name, ok := lowered[key]
		if !ok && canonical[key] {
			name, ok = key, true
		}
		if !ok {
			continue
		}
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
	}
	return idx
}

// SupportedSources lists the source tags with a rename map.
func SupportedSources() []string {
	return []string{SourceEastmoney, SourceSina, SourceTencent, SourceNetease, SourceCSV}
}
