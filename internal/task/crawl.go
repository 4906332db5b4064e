package task

import (
	"context"
	"errors"
	"fmt"

	"marketflow/internal/fetch"
	"marketflow/internal/model"
	"marketflow/internal/report"
	"marketflow/internal/store"
	"marketflow/logger"
)

// failureTask is the guard key for the all-sources-down alert.
const failureTask = "crawl_daily_failure"

func (d *Dispatcher) crawlDaily(ctx context.Context, runID string) (details, error) {
	cfg := d.deps.Config
	entries, err := d.registry()
	if err != nil {
		return nil, err
	}

	batch, updated := store.NextBatch(entries, cfg.Fetch.BatchSize)
	opts := append([]fetch.Option{fetch.WithClock(d.deps.Now)}, d.deps.FetchOptions...)
	orch := fetch.NewOrchestrator(cfg, d.deps.Providers, d.deps.Normalizer, d.deps.States, d.deps.Bars, d.deps.Calendar, opts...)
	summary := orch.RunBatch(ctx, batch)

	// Cursors advance for failed instruments too.
	if err := store.SaveRegistry(cfg.Storage.RegistryPath, updated); err != nil {
		return nil, fmt.Errorf("save registry: %w", err)
	}

	out := details{
		"batch":     len(batch),
		"success":   summary.Success,
		"noop":      summary.NoOp,
		"exhausted": summary.Exhausted,
		"invalid":   summary.Invalid,
		"failed":    summary.Failed,
	}
	date := d.deps.Calendar.LatestTradingDay(d.deps.Now())
	log := d.log.WithComponent("task").WithFields(logger.Fields{"task": CrawlDaily, "run_id": runID})
	log.Info(report.FormatCrawl(d.title(), date, summary))

	if summary.AllExhausted() {
		outcome, nerr := d.deps.Guard.Once(ctx, failureTask, date, report.FormatFailure(d.title(), date, summary))
		out["alert"] = outcome.String()
		if nerr != nil {
			log.WithError(nerr).Warn("failure alert not delivered")
		}
		return out, fmt.Errorf("crawl %d instrument(s): %w", summary.Exhausted, fetch.ErrAllSourcesExhausted)
	}

	if d.deps.Exporter != nil && len(summary.Updated) > 0 {
		n, err := d.exportUpdated(ctx, runID, summary)
		out["exported"] = n
		if err != nil {
			log.WithError(err).Warn("snapshot export incomplete")
		}
	}
	return out, nil
}

func (d *Dispatcher) exportUpdated(ctx context.Context, runID string, summary fetch.BatchSummary) (int, error) {
	series := make(map[string][]model.DailyBar, len(summary.Updated))
	var errs []error
	for code := range summary.Updated {
		bars, err := d.deps.Bars.Load(code)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", code, err))
			continue
		}
		series[code] = bars
	}
	n, err := d.deps.Exporter.Export(ctx, runID, d.deps.Calendar.LatestTradingDay(d.deps.Now()), series)
	if err != nil {
		errs = append(errs, err)
	}
	return n, errors.Join(errs...)
}
