// Package fetch pulls incremental daily bars for a batch of instruments,
// falling back across providers in priority order.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	appconfig "marketflow/config"
	"marketflow/internal/metrics"
	"marketflow/internal/model"
	"marketflow/internal/provider"
	"marketflow/internal/state"
	"marketflow/internal/store"
	"marketflow/logger"
)

// Normalizer turns a provider table into canonical bars.
type Normalizer interface {
	Normalize(ctx context.Context, code string, table *model.RawTable, prev *model.DailyBar) ([]model.DailyBar, error)
}

// TradingCalendar supplies the most recent closed session.
type TradingCalendar interface {
	LatestTradingDay(now time.Time) time.Time
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type Orchestrator struct {
	providers   []provider.Entry
	normalizer  Normalizer
	states      state.Store
	bars        store.BarStore
	calendar    TradingCalendar
	initialDays int
	retain      int

	now   func() time.Time
	sleep Sleeper
	log   *logger.Log
}

type Option func(*Orchestrator)

// WithSleeper replaces the jitter sleep, typically with a no-op in tests.
func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

// WithClock fixes the time used to compute the latest trading day.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(cfg *appconfig.Config, providers []provider.Entry, normalizer Normalizer, states state.Store, bars store.BarStore, calendar TradingCalendar, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		providers:   providers,
		normalizer:  normalizer,
		states:      states,
		bars:        bars,
		calendar:    calendar,
		initialDays: cfg.Fetch.InitialCrawlDays,
		retain:      cfg.Fetch.RetentionDays,
		now:         time.Now,
		sleep:       sleepContext,
		log:         logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewContext returns a fresh rotating pointer sized to the provider list.
func (o *Orchestrator) NewContext() *BatchFetchContext {
	return NewBatchFetchContext(len(o.providers))
}

func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

// window computes the date range still missing for code. ok is false when
// the stored history already reaches the latest trading day.
func (o *Orchestrator) window(ctx context.Context, code string) (model.Window, *state.FetchState, bool, error) {
	latest := model.Day(o.calendar.LatestTradingDay(o.now()))

	st, err := o.states.Get(ctx, code)
	switch {
	case errors.Is(err, state.ErrNotFound):
		days := o.initialDays
		if days <= 0 {
			days = 365
		}
		return model.Window{Start: latest.AddDate(0, 0, -days), End: latest}, nil, true, nil
	case err != nil:
		return model.Window{}, nil, false, err
	}

	if !st.LastDate.Before(latest) {
		return model.Window{}, &st, false, nil
	}
	return model.Window{Start: st.LastDate.AddDate(0, 0, 1), End: latest}, &st, true, nil
}

// FetchInstrument brings one instrument up to date. Provider failures move
// on to the next provider; when all fail the batch pointer advances and the
// stored state is left untouched.
func (o *Orchestrator) FetchInstrument(ctx context.Context, bfc *BatchFetchContext, inst model.Instrument) (Result, error) {
	log := o.log.WithComponent("fetch").WithInstrument(inst.Code)
	res := Result{Code: inst.Code}

	win, prev, needed, err := o.window(ctx, inst.Code)
	if err != nil {
		res.Status, res.Err = StatusFailed, err
		return res, fmt.Errorf("failed to read state for %s: %w", inst.Code, err)
	}
	if !needed {
		res.Status, res.LastDate = StatusNoOp, prev.LastDate
		log.WithFields(logger.Fields{"last_date": prev.LastDate.Format(model.DateLayout)}).Debug("already up to date")
		return res, nil
	}

	history, err := o.bars.Load(inst.Code)
	if err != nil {
		res.Status, res.Err = StatusFailed, err
		return res, err
	}
	before := lastBefore(history, win.Start)

	n := len(o.providers)
	start := bfc.Start()
	for k := 0; k < n; k++ {
		i := (start + k) % n
		entry := o.providers[i]
		name := entry.Provider.Name()
		plog := log.WithFields(logger.Fields{"provider": name, "window": win.String()})

		if err := o.sleep(ctx, jitter(entry.JitterMin, entry.JitterMax)); err != nil {
			res.Status, res.Err = StatusFailed, err
			return res, err
		}
		res.Attempts++

		table, err := entry.Provider.Fetch(ctx, inst, win)
		if err == nil && table.Empty() {
			err = provider.ErrSourceEmpty
		}
		if err != nil {
			plog.WithError(err).Warn("provider fetch failed; trying next source")
			metrics.EmitProviderFailure(o.log, name, inst.Code, "fetch")
			continue
		}

		fresh, err := o.normalizer.Normalize(ctx, inst.Code, table, before)
		if err != nil {
			plog.WithError(err).Warn("provider data rejected by normalizer; trying next source")
			metrics.EmitProviderFailure(o.log, name, inst.Code, "normalize")
			continue
		}
		fresh = clip(fresh, win)
		if len(fresh) == 0 {
			plog.Warn("provider returned no bars inside the window; trying next source")
			metrics.EmitProviderFailure(o.log, name, inst.Code, "window")
			continue
		}

		bfc.Lock(i)
		return o.store(ctx, log, res, name, history, fresh)
	}

	bfc.Advance()
	res.Status, res.Err = StatusExhausted, ErrAllSourcesExhausted
	log.WithFields(logger.Fields{"attempts": res.Attempts, "window": win.String()}).Error("all sources exhausted")
	return res, fmt.Errorf("%s: %w", inst.Code, ErrAllSourcesExhausted)
}

func (o *Orchestrator) store(ctx context.Context, log *logger.Entry, res Result, source string, history, fresh []model.DailyBar) (Result, error) {
	res.Source = source
	res.NewBars = len(fresh)
	merged := Merge(history, fresh, o.retain)
	if err := o.bars.Save(res.Code, merged); err != nil {
		res.Status, res.Err = StatusFailed, err
		return res, err
	}

	last := model.LastDate(merged)
	if err := o.states.Advance(ctx, res.Code, last); err != nil {
		res.Status, res.Err = StatusFailed, err
		return res, err
	}

	res.Status, res.Stored, res.LastDate = StatusSuccess, len(merged), last
	logger.LogDataFlowEntry(log, source, "bar_store", len(fresh), "daily_bar")
	return res, nil
}

// lastBefore returns the latest stored bar dated before d, or nil.
func lastBefore(history []model.DailyBar, d time.Time) *model.DailyBar {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Date.Before(d) {
			return &history[i]
		}
	}
	return nil
}

// clip keeps bars inside the window; some sources ignore the requested range.
func clip(bars []model.DailyBar, win model.Window) []model.DailyBar {
	out := bars[:0:0]
	for _, b := range bars {
		if win.Contains(b.Date) {
			out = append(out, b)
		}
	}
	return out
}

// RunBatch fetches entries one after another with a shared BatchFetchContext.
// Individual failures are recorded in the summary and never stop the batch.
func (o *Orchestrator) RunBatch(ctx context.Context, entries []model.RegistryEntry) BatchSummary {
	started := time.Now()
	summary := BatchSummary{Updated: make(map[string]time.Time)}
	bfc := o.NewContext()
	log := o.log.WithComponent("fetch")

	for _, entry := range entries {
		if ctx.Err() != nil {
			summary.add(Result{Code: entry.Code, Status: StatusFailed, Err: ctx.Err()})
			continue
		}

		inst, err := entry.Instrument()
		if err != nil {
			log.WithFields(logger.Fields{"raw_code": entry.Code}).WithError(err).Warn("skipping instrument with invalid code")
			summary.add(Result{Code: entry.Code, Status: StatusInvalid, Err: err})
			continue
		}

		res, err := o.FetchInstrument(ctx, bfc, inst)
		if err != nil && res.Status == StatusFailed {
			log.WithInstrument(inst.Code).WithError(err).Error("instrument fetch failed")
		}
		summary.add(res)
	}

	summary.Duration = time.Since(started)
	metrics.ReportBatch(o.log, metrics.BatchStats{
		Success:   summary.Success,
		NoOp:      summary.NoOp,
		Exhausted: summary.Exhausted,
		Invalid:   summary.Invalid,
		Failed:    summary.Failed,
	})
	return summary
}
