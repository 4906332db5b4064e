// Package task wires the pipeline components into the named tasks the
// binary and the scheduler run.
package task

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	appconfig "marketflow/config"
	"marketflow/internal/dashboard"
	"marketflow/internal/fetch"
	"marketflow/internal/metrics"
	"marketflow/internal/model"
	"marketflow/internal/notify"
	"marketflow/internal/provider"
	"marketflow/internal/score"
	"marketflow/internal/state"
	"marketflow/internal/store"
	"marketflow/internal/universe"
	"marketflow/logger"
)

const (
	CrawlDaily      = "crawl_daily"
	ComputeSignal   = "compute_signal"
	RefreshUniverse = "refresh_universe"
	RealtimeQuote   = "realtime_quote"
)

// UnknownTaskError is returned for a task name nothing is registered under.
type UnknownTaskError struct {
	Task  string
	Valid []string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("unknown task %q (valid: %s)", e.Task, strings.Join(e.Valid, ", "))
}

// Calendar is the subset of the trading calendar tasks need.
type Calendar interface {
	LatestTradingDay(now time.Time) time.Time
	IsSessionOpen(now time.Time) bool
}

type UniverseRefresher interface {
	Refresh(ctx context.Context, path string) (universe.Stats, error)
}

type QuoteSource interface {
	Quotes(ctx context.Context, codes []string) (map[string]model.Quote, error)
}

type Publisher interface {
	PublishSignals(ctx context.Context, runID string, signals []score.Signal) error
	PublishScores(ctx context.Context, runID string, results []score.Result) error
}

type SnapshotExporter interface {
	Export(ctx context.Context, runID string, date time.Time, series map[string][]model.DailyBar) (int, error)
}

type RunRecorder interface {
	RecordRun(r dashboard.RunRecord)
}

// Deps are the components tasks run against. Publisher, Exporter, Quotes,
// Universe and Recorder are optional.
type Deps struct {
	Config     *appconfig.Config
	Calendar   Calendar
	States     state.Store
	Bars       store.BarStore
	Providers  []provider.Entry
	Normalizer fetch.Normalizer
	Notifier   notify.Sender
	Guard      *notify.Guard
	Universe   UniverseRefresher
	Quotes     QuoteSource
	Publisher  Publisher
	Exporter   SnapshotExporter
	Recorder   RunRecorder
	// FetchOptions are passed to every orchestrator, e.g. to disable jitter in tests.
	FetchOptions []fetch.Option
	Now          func() time.Time
}

type details map[string]interface{}

type taskFunc func(ctx context.Context, runID string) (details, error)

type Dispatcher struct {
	deps  Deps
	tasks map[string]taskFunc
	log   *logger.Log
}

func NewDispatcher(deps Deps) *Dispatcher {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	d := &Dispatcher{deps: deps, log: logger.GetLogger()}
	d.tasks = map[string]taskFunc{
		CrawlDaily:      d.crawlDaily,
		ComputeSignal:   d.computeSignal,
		RefreshUniverse: d.refreshUniverse,
		RealtimeQuote:   d.realtimeQuote,
	}
	return d
}

// SetRecorder attaches a run recorder after construction.
func (d *Dispatcher) SetRecorder(r RunRecorder) {
	d.deps.Recorder = r
}

// Tasks lists the registered task names in sorted order.
func (d *Dispatcher) Tasks() []string {
	names := make([]string, 0, len(d.tasks))
	for name := range d.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes task under a fresh run id. An unknown name yields an
// *UnknownTaskError and a failure notification.
func (d *Dispatcher) Run(ctx context.Context, name string) error {
	runID := uuid.NewString()
	started := d.deps.Now()
	log := d.log.WithComponent("task").WithFields(logger.Fields{"task": name, "run_id": runID})

	fn, ok := d.tasks[name]
	if !ok {
		err := &UnknownTaskError{Task: name, Valid: d.Tasks()}
		log.WithError(err).Error("unknown task")
		if d.deps.Notifier != nil {
			_ = d.deps.Notifier.Notify(ctx, fmt.Sprintf("[%s] task failed: %s", d.title(), err.Error()))
		}
		d.record(runID, name, started, details{"valid": err.Valid}, err)
		return err
	}

	log.Info("task started")
	out, err := fn(ctx, runID)
	elapsed := d.deps.Now().Sub(started)

	metrics.EmitMetric(d.log, "task", metrics.MetricTaskDuration, elapsed.Seconds(), "gauge", logger.Fields{
		"task": name,
		"unit": "seconds",
	})
	logger.LogPerformanceEntry(log, "task", name, elapsed, nil)
	if err != nil {
		log.WithError(err).Error("task failed")
	} else {
		log.WithFields(logger.Fields(out)).Info("task finished")
	}
	d.record(runID, name, started, out, err)
	return err
}

func (d *Dispatcher) record(runID, name string, started time.Time, out details, err error) {
	if d.deps.Recorder == nil {
		return
	}
	rec := dashboard.RunRecord{
		RunID:      runID,
		Task:       name,
		StartedAt:  started,
		DurationMs: d.deps.Now().Sub(started).Milliseconds(),
		Status:     "ok",
		Details:    out,
	}
	if err != nil {
		rec.Status = "failed"
		rec.Error = err.Error()
	}
	d.deps.Recorder.RecordRun(rec)
}

func (d *Dispatcher) title() string {
	if d.deps.Config != nil && d.deps.Config.Notify.Title != "" {
		return d.deps.Config.Notify.Title
	}
	return "MarketFlow"
}

func (d *Dispatcher) registry() ([]model.RegistryEntry, error) {
	entries, err := store.LoadRegistry(d.deps.Config.Storage.RegistryPath)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("registry %s is empty; run %s first", d.deps.Config.Storage.RegistryPath, RefreshUniverse)
	}
	return entries, nil
}
