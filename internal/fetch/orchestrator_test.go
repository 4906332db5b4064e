package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "marketflow/config"
	"marketflow/internal/model"
	"marketflow/internal/normalize"
	"marketflow/internal/provider"
	"marketflow/internal/state"
	"marketflow/internal/store"
)

type fakeProvider struct {
	name  string
	calls int
	fetch func(model.Window) (*model.RawTable, error)
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Fetch(_ context.Context, _ model.Instrument, w model.Window) (*model.RawTable, error) {
	f.calls++
	return f.fetch(w)
}

type fixedCalendar time.Time

func (c fixedCalendar) LatestTradingDay(time.Time) time.Time { return time.Time(c) }

func d(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func sinaTable(rows ...[]string) *model.RawTable {
	return &model.RawTable{
		Source:  normalize.SourceSina,
		Columns: []string{"day", "open", "high", "low", "close", "volume"},
		Rows:    rows,
	}
}

func emptyProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, fetch: func(model.Window) (*model.RawTable, error) {
		return nil, provider.ErrSourceEmpty
	}}
}

func missingVolumeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, fetch: func(model.Window) (*model.RawTable, error) {
		return &model.RawTable{
			Source:  normalize.SourceSina,
			Columns: []string{"day", "open", "high", "low", "close"},
			Rows:    [][]string{{"2024-01-05", "1", "1", "1", "1"}},
		}, nil
	}}
}

func goodProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, fetch: func(model.Window) (*model.RawTable, error) {
		return sinaTable(
			[]string{"2024-01-04", "3.50", "3.60", "3.48", "3.55", "1000000"},
			[]string{"2024-01-05", "3.55", "3.57", "3.50", "3.52", "1200000"},
		), nil
	}}
}

type harness struct {
	orch   *Orchestrator
	states *state.Memory
	bars   *store.CSVBarStore
}

func newHarness(t *testing.T, latest string, providers ...*fakeProvider) harness {
	t.Helper()
	cfg := appconfig.Default()
	cfg.Fetch.InitialCrawlDays = 10
	cfg.Fetch.RetentionDays = 250

	entries := make([]provider.Entry, len(providers))
	for i, p := range providers {
		entries[i] = provider.Entry{Provider: p}
	}

	states := state.NewMemory()
	bars := store.NewCSVBarStore(t.TempDir())
	orch := NewOrchestrator(&cfg, entries,
		normalize.NewNormalizer(nil, normalize.Options{}),
		states, bars, fixedCalendar(d(latest)),
		WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)
	return harness{orch: orch, states: states, bars: bars}
}

func instrument(t *testing.T) model.Instrument {
	t.Helper()
	inst, err := model.NewInstrument("510300", "")
	require.NoError(t, err)
	return inst
}

func TestEmptyThenMissingVolumeIsExhausted(t *testing.T) {
	a, b := emptyProvider("eastmoney"), missingVolumeProvider("sina")
	h := newHarness(t, "2024-01-05", a, b)
	ctx := context.Background()
	require.NoError(t, h.states.Advance(ctx, "510300", d("2024-01-03")))

	bfc := h.orch.NewContext()
	res, err := h.orch.FetchInstrument(ctx, bfc, instrument(t))

	require.ErrorIs(t, err, ErrAllSourcesExhausted)
	assert.Equal(t, StatusExhausted, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, bfc.Start(), "pointer advances after exhaustion")

	st, err := h.states.Get(ctx, "510300")
	require.NoError(t, err)
	assert.True(t, st.LastDate.Equal(d("2024-01-03")), "state must be unchanged")

	stored, err := h.bars.Load("510300")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestUpToDateIsNoOpWithoutProviderCalls(t *testing.T) {
	p := goodProvider("eastmoney")
	h := newHarness(t, "2024-01-05", p)
	ctx := context.Background()
	require.NoError(t, h.states.Advance(ctx, "510300", d("2024-01-05")))

	res, err := h.orch.FetchInstrument(ctx, h.orch.NewContext(), instrument(t))
	require.NoError(t, err)
	assert.Equal(t, StatusNoOp, res.Status)
	assert.Equal(t, 0, p.calls)
}

func TestFallbackLocksPointerAndAdvancesState(t *testing.T) {
	a, b := emptyProvider("eastmoney"), goodProvider("sina")
	h := newHarness(t, "2024-01-05", a, b)
	ctx := context.Background()

	bfc := h.orch.NewContext()
	res, err := h.orch.FetchInstrument(ctx, bfc, instrument(t))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, "sina", res.Source)
	assert.Equal(t, 1, bfc.Start())

	st, err := h.states.Get(ctx, "510300")
	require.NoError(t, err)
	assert.True(t, st.LastDate.Equal(d("2024-01-05")))

	stored, err := h.bars.Load("510300")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.InDelta(t, -0.03, stored[1].PriceChange, 1e-9)
}

func TestWindowStartsAfterLastDate(t *testing.T) {
	var seen model.Window
	p := &fakeProvider{name: "eastmoney", fetch: func(w model.Window) (*model.RawTable, error) {
		seen = w
		return sinaTable([]string{"2024-01-05", "1", "1", "1", "1", "100"}), nil
	}}
	h := newHarness(t, "2024-01-05", p)
	ctx := context.Background()
	require.NoError(t, h.states.Advance(ctx, "510300", d("2024-01-03")))

	_, err := h.orch.FetchInstrument(ctx, h.orch.NewContext(), instrument(t))
	require.NoError(t, err)
	assert.True(t, seen.Start.Equal(d("2024-01-04")))
	assert.True(t, seen.End.Equal(d("2024-01-05")))
}

func TestIncrementalBarDerivesChangeFromStoredClose(t *testing.T) {
	p := &fakeProvider{name: "sina", fetch: func(model.Window) (*model.RawTable, error) {
		return sinaTable([]string{"2024-01-05", "10.5", "11.2", "10.4", "11", "1000"}), nil
	}}
	h := newHarness(t, "2024-01-05", p)
	ctx := context.Background()
	require.NoError(t, h.bars.Save("510300", []model.DailyBar{
		{Date: d("2024-01-04"), Open: 10, High: 10.2, Low: 9.8, Close: 10, Volume: 900, Amount: 9000},
	}))
	require.NoError(t, h.states.Advance(ctx, "510300", d("2024-01-04")))

	res, err := h.orch.FetchInstrument(ctx, h.orch.NewContext(), instrument(t))
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)

	stored, err := h.bars.Load("510300")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.InDelta(t, 1.0, stored[1].PriceChange, 1e-9)
	assert.InDelta(t, 10.0, stored[1].PctChange, 1e-9)
	assert.InDelta(t, 8.0, stored[1].Amplitude, 1e-9)
}

func TestInitialWindowUsesInitialCrawlDays(t *testing.T) {
	var seen model.Window
	p := &fakeProvider{name: "eastmoney", fetch: func(w model.Window) (*model.RawTable, error) {
		seen = w
		return nil, provider.ErrSourceEmpty
	}}
	h := newHarness(t, "2024-01-15", p)

	_, err := h.orch.FetchInstrument(context.Background(), h.orch.NewContext(), instrument(t))
	require.Error(t, err)
	assert.True(t, seen.Start.Equal(d("2024-01-05")))
}

func TestRunBatchContinuesPastFailures(t *testing.T) {
	calls := 0
	p := &fakeProvider{name: "eastmoney", fetch: func(model.Window) (*model.RawTable, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("boom")
		}
		return sinaTable([]string{"2024-01-05", "1", "1", "1", "1", "100"}), nil
	}}
	h := newHarness(t, "2024-01-05", p)

	summary := h.orch.RunBatch(context.Background(), []model.RegistryEntry{
		{Code: "510300"}, {Code: "abc123"}, {Code: "159915"},
	})

	assert.Equal(t, 1, summary.Exhausted)
	assert.Equal(t, 1, summary.Invalid)
	assert.Equal(t, 1, summary.Success)
	assert.ElementsMatch(t, []string{"510300", "abc123"}, summary.FailedCodes)
	assert.Contains(t, summary.Updated, "159915")
	assert.False(t, summary.AllExhausted())
}

func TestMergeIsIdempotent(t *testing.T) {
	history := []model.DailyBar{{Date: d("2024-01-02"), Close: 1}, {Date: d("2024-01-03"), Close: 2}}
	fresh := []model.DailyBar{{Date: d("2024-01-03"), Close: 2.5}, {Date: d("2024-01-04"), Close: 3}}

	once := Merge(history, fresh, 0)
	twice := Merge(once, fresh, 0)
	assert.Equal(t, once, twice)
	require.Len(t, once, 3)
	assert.Equal(t, 2.5, once[1].Close, "fresh bar wins on duplicate date")
}

func TestMergeRetainsNewest(t *testing.T) {
	history := []model.DailyBar{{Date: d("2024-01-02")}, {Date: d("2024-01-03")}}
	fresh := []model.DailyBar{{Date: d("2024-01-04")}}

	merged := Merge(history, fresh, 2)
	require.Len(t, merged, 2)
	assert.True(t, merged[0].Date.Equal(d("2024-01-03")))
}

func TestBatchFetchContextRotation(t *testing.T) {
	bfc := NewBatchFetchContext(3)
	assert.Equal(t, 0, bfc.Start())
	bfc.Advance()
	bfc.Advance()
	bfc.Advance()
	assert.Equal(t, 0, bfc.Start())
	bfc.Lock(2)
	assert.Equal(t, 2, bfc.Start())
}
