package normalize

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketflow/internal/model"
)

type fakeShares struct {
	shares float64
	err    error
	calls  int
}

func (f *fakeShares) CirculatingShares(context.Context, string) (float64, error) {
	f.calls++
	return f.shares, f.err
}

func TestDerivesPriceChangeFromCloses(t *testing.T) {
	table := &model.RawTable{
		Source:  SourceSina,
		Columns: []string{"day", "open", "high", "low", "close", "volume"},
		Rows: [][]string{
			{"2024-01-02", "10", "10.5", "9.5", "10", "1000"},
			{"2024-01-03", "10", "11.5", "9.8", "11", "1200"},
			{"2024-01-04", "11", "11.2", "8.9", "9", "1500"},
		},
	}

	bars, err := NewNormalizer(nil, Options{}).Normalize(context.Background(), "510300", table, nil)
	require.NoError(t, err)
	require.Len(t, bars, 3)

	assert.Equal(t, 0.0, bars[0].PriceChange)
	assert.InDelta(t, 1.0, bars[1].PriceChange, 1e-9)
	assert.InDelta(t, -2.0, bars[2].PriceChange, 1e-9)

	assert.Equal(t, 0.0, bars[0].Amplitude)
	assert.InDelta(t, (11.5-9.8)/10*100, bars[1].Amplitude, 1e-9)
	assert.InDelta(t, 10.0, bars[1].PctChange, 1e-9)
	assert.InDelta(t, 11*1200.0, bars[1].Amount, 1e-9)
	assert.Equal(t, 0.0, bars[1].TurnoverRate)
}

func TestPreviousBarSeedsFirstRow(t *testing.T) {
	table := &model.RawTable{
		Source:  SourceSina,
		Columns: []string{"day", "open", "high", "low", "close", "volume"},
		Rows:    [][]string{{"2024-01-05", "10.5", "11.2", "10.4", "11", "1000"}},
	}
	prev := &model.DailyBar{Date: time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), Close: 10}

	bars, err := NewNormalizer(nil, Options{}).Normalize(context.Background(), "510300", table, prev)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.InDelta(t, 1.0, bars[0].PriceChange, 1e-9)
	assert.InDelta(t, 10.0, bars[0].PctChange, 1e-9)
	assert.InDelta(t, 8.0, bars[0].Amplitude, 1e-9)

	// A previous bar dated on or after the first row is ignored.
	later := &model.DailyBar{Date: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), Close: 5}
	bars, err = NewNormalizer(nil, Options{}).Normalize(context.Background(), "510300", table, later)
	require.NoError(t, err)
	assert.Equal(t, 0.0, bars[0].PriceChange)
}

func TestSuppliedChangeColumnsAreKept(t *testing.T) {
	table := &model.RawTable{
		Source:  SourceCSV,
		Columns: []string{"日期", "开盘", "最高", "最低", "收盘", "成交量", "涨跌额"},
		Rows:    [][]string{{"2024-01-05", "10.5", "11.2", "10.4", "11", "1000", "0.7"}},
	}
	prev := &model.DailyBar{Date: time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), Close: 10}

	bars, err := NewNormalizer(nil, Options{}).Normalize(context.Background(), "510300", table, prev)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, bars[0].PriceChange, 1e-9)
	assert.InDelta(t, 10.0, bars[0].PctChange, 1e-9)
}

func TestEverySupportedSchemeProducesCanonicalBars(t *testing.T) {
	tables := []*model.RawTable{
		{
			Source:  SourceEastmoney,
			Columns: []string{"f51", "f52", "f53", "f54", "f55", "f56", "f57", "f58", "f59", "f60", "f61"},
			Rows: [][]string{
				{"2024-01-02", "3.50", "3.55", "3.60", "3.48", "1000", "355000", "3.4", "1.4", "0.05", "0.8"},
			},
		},
		{
			Source:  SourceSina,
			Columns: []string{"day", "open", "high", "low", "close", "volume"},
			Rows:    [][]string{{"2024-01-02", "3.50", "3.60", "3.48", "3.55", "100000"}},
		},
		{
			Source:  SourceTencent,
			Columns: []string{"date", "open", "close", "high", "low", "vol"},
			Rows:    [][]string{{"2024-01-02", "3.50", "3.55", "3.60", "3.48", "1000"}},
		},
		{
			Source:  SourceNetease,
			Columns: []string{"日期", "股票代码", "开盘价", "最高价", "最低价", "收盘价", "涨跌额", "涨跌幅(%)", "成交量(手)", "成交金额(万元)", "振幅(%)", "换手率(%)"},
			Rows:    [][]string{{"2024-01-02", "'510300", "3.50", "3.60", "3.48", "3.55", "0.05", "1.4", "1,000", "35.5", "3.4", "0.8"}},
		},
		{
			Source:  SourceCSV,
			Columns: []string{"日期", "开盘", "最高", "最低", "收盘", "成交量", "成交额", "振幅", "涨跌幅", "涨跌额", "换手率"},
			Rows:    [][]string{{"2024-01-02", "3.50", "3.60", "3.48", "3.55", "100000", "355000", "3.4", "1.4", "0.05", "0.8"}},
		},
	}

	n := NewNormalizer(nil, Options{})
	for _, table := range tables {
		t.Run(table.Source, func(t *testing.T) {
			bars, err := n.Normalize(context.Background(), "510300", table, nil)
			require.NoError(t, err)
			require.Len(t, bars, 1)
			b := bars[0]
			assert.Equal(t, "2024-01-02", b.DateString())
			assert.InDelta(t, 3.50, b.Open, 1e-9)
			assert.InDelta(t, 3.60, b.High, 1e-9)
			assert.InDelta(t, 3.48, b.Low, 1e-9)
			assert.InDelta(t, 3.55, b.Close, 1e-9)
			assert.InDelta(t, 100000, b.Volume, 1e-6)
			for _, v := range []float64{b.Amount, b.Amplitude, b.PctChange, b.PriceChange, b.TurnoverRate} {
				assert.False(t, math.IsNaN(v))
			}
		})
	}

	covered := make([]string, len(tables))
	for i, table := range tables {
		covered[i] = table.Source
	}
	assert.ElementsMatch(t, SupportedSources(), covered)
}

func TestMissingBaselineColumnIsTotalFailure(t *testing.T) {
	table := &model.RawTable{
		Source:  SourceSina,
		Columns: []string{"day", "open", "high", "low", "close"},
		Rows:    [][]string{{"2024-01-02", "1", "1", "1", "1"}},
	}

	_, err := NewNormalizer(nil, Options{}).Normalize(context.Background(), "510300", table, nil)
	require.ErrorIs(t, err, ErrMissingRequiredColumns)

	var mce *MissingColumnsError
	require.True(t, errors.As(err, &mce))
	assert.Equal(t, []string{"volume"}, mce.Missing)
}

func TestDropsRowsFailingCoercionAndDedupes(t *testing.T) {
	table := &model.RawTable{
		Source:  SourceCSV,
		Columns: []string{"date", "open", "high", "low", "close", "volume"},
		Rows: [][]string{
			{"2024-01-03", "2", "2", "2", "2", "20"},
			{"2024-01-02", "1", "1", "1", "1", "10"},
			{"not-a-date", "1", "1", "1", "1", "10"},
			{"2024-01-04", "x", "1", "1", "1", "10"},
			{"2024-01-05", "1", "1", "1", "1", "--"},
			{"2024-01-03", "3", "3", "3", "3", "30"},
		},
	}

	bars, err := NewNormalizer(nil, Options{}).Normalize(context.Background(), "510300", table, nil)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, "2024-01-02", bars[0].DateString())
	assert.Equal(t, "2024-01-03", bars[1].DateString())
	assert.InDelta(t, 3.0, bars[1].Close, 1e-9, "last occurrence wins")
}

func TestAllRowsInvalid(t *testing.T) {
	table := &model.RawTable{
		Source:  SourceCSV,
		Columns: []string{"date", "open", "high", "low", "close", "volume"},
		Rows:    [][]string{{"bad", "1", "1", "1", "1", "1"}},
	}
	_, err := NewNormalizer(nil, Options{}).Normalize(context.Background(), "510300", table, nil)
	require.ErrorIs(t, err, ErrNoValidRows)
}

func TestTurnoverDerivedFromShares(t *testing.T) {
	shares := &fakeShares{shares: 1e6}
	table := &model.RawTable{
		Source:  SourceSina,
		Columns: []string{"day", "open", "high", "low", "close", "volume"},
		Rows:    [][]string{{"2024-01-02", "1", "1", "1", "1", "50000"}},
	}

	bars, err := NewNormalizer(shares, Options{RequireTurnover: true}).Normalize(context.Background(), "510300", table, nil)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, bars[0].TurnoverRate, 1e-9)
	assert.Equal(t, 1, shares.calls)
}

func TestTurnoverFailsClosedWhenRequired(t *testing.T) {
	table := &model.RawTable{
		Source:  SourceSina,
		Columns: []string{"day", "open", "high", "low", "close", "volume"},
		Rows:    [][]string{{"2024-01-02", "1", "1", "1", "1", "50000"}},
	}

	_, err := NewNormalizer(nil, Options{RequireTurnover: true}).Normalize(context.Background(), "510300", table, nil)
	require.ErrorIs(t, err, ErrSharesUnavailable)

	lookupErr := &fakeShares{err: errors.New("boom")}
	_, err = NewNormalizer(lookupErr, Options{RequireTurnover: true}).Normalize(context.Background(), "510300", table, nil)
	require.ErrorIs(t, err, ErrSharesUnavailable)
}

func TestVolumeInLotsHeuristicRescales(t *testing.T) {
	// amount is yuan while volume is lots: amount/(close*volume) == 100
	table := &model.RawTable{
		Source:  SourceCSV,
		Columns: []string{"date", "open", "high", "low", "close", "volume", "amount"},
		Rows: [][]string{
			{"2024-01-02", "4", "4", "4", "4", "10", "4000"},
			{"2024-01-03", "4", "4", "4", "4", "20", "8000"},
		},
	}

	bars, err := NewNormalizer(nil, Options{}).Normalize(context.Background(), "510300", table, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1000.0, bars[0].Volume, 1e-9)
	assert.InDelta(t, 2000.0, bars[1].Volume, 1e-9)
}

func TestApplyUnitsScalesFractionPercents(t *testing.T) {
	bars := []model.DailyBar{{
		Volume:       10,
		Amount:       2,
		Amplitude:    0.034,
		PctChange:    -0.012,
		TurnoverRate: math.NaN(),
	}}
	applyUnits(bars, UnitSpec{VolumeMultiplier: 100, AmountMultiplier: 10000, PercentMultiplier: 100}, true)

	assert.InDelta(t, 1000.0, bars[0].Volume, 1e-9)
	assert.InDelta(t, 20000.0, bars[0].Amount, 1e-9)
	assert.InDelta(t, 3.4, bars[0].Amplitude, 1e-9)
	assert.InDelta(t, -1.2, bars[0].PctChange, 1e-9)
	assert.True(t, math.IsNaN(bars[0].TurnoverRate))
}

func TestUnitSpecsCoverEverySource(t *testing.T) {
	for _, src := range SupportedSources() {
		spec, ok := unitSpecs[src]
		require.True(t, ok, src)
		assert.Positive(t, spec.PercentMultiplier, src)
	}
	assert.Equal(t, 1.0, unitSpecFor("unknown").PercentMultiplier)
}
