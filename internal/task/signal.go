package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"marketflow/internal/metrics"
	"marketflow/internal/model"
	"marketflow/internal/report"
	"marketflow/internal/score"
	"marketflow/logger"
)

func (d *Dispatcher) computeSignal(ctx context.Context, runID string) (details, error) {
	cfg := d.deps.Config
	entries, err := d.registry()
	if err != nil {
		return nil, err
	}
	scorer, err := score.NewScorer(cfg.Scoring)
	if err != nil {
		return nil, fmt.Errorf("scorer: %w", err)
	}
	detector := score.NewSignalDetector(cfg.Signal)
	date := d.deps.Calendar.LatestTradingDay(d.deps.Now())
	log := d.log.WithComponent("task").WithFields(logger.Fields{"task": ComputeSignal, "run_id": runID})

	var (
		results      []score.Result
		signals      []score.Signal
		insufficient []string
		names        = make(map[string]string, len(entries))
	)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		names[e.Code] = e.Name
		bars, err := d.deps.Bars.Load(e.Code)
		if err != nil {
			log.WithInstrument(e.Code).WithError(err).Warn("bars unreadable")
			continue
		}

		res, err := scorer.Score(bars)
		res.Code, res.Name = e.Code, e.Name
		switch {
		case errors.Is(err, score.ErrInsufficientHistory):
			insufficient = append(insufficient, e.Code)
		case err != nil:
			log.WithInstrument(e.Code).WithError(err).Warn("scoring failed")
			continue
		}
		results = append(results, res)

		if sig, ok := latestSignal(detector, bars, date); ok {
			sig.Code = e.Code
			signals = append(signals, sig)
		}
	}
	sort.Slice(signals, func(i, j int) bool { return signals[i].Code < signals[j].Code })

	scored := len(results) - len(insufficient)
	metrics.EmitMetric(d.log, "signal", metrics.MetricScored, float64(scored), "counter", logger.Fields{"run_id": runID})
	metrics.EmitMetric(d.log, "signal", metrics.MetricInsufficient, float64(len(insufficient)), "counter", logger.Fields{"run_id": runID})
	metrics.EmitMetric(d.log, "signal", metrics.MetricSignals, float64(len(signals)), "counter", logger.Fields{"run_id": runID})

	text := report.FormatDaily(report.Daily{
		Title:        d.title(),
		Date:         date,
		TopN:         cfg.Scoring.TopN,
		Scores:       results,
		Signals:      signals,
		Insufficient: insufficient,
		Names:        names,
	})
	outcome, nerr := d.deps.Guard.Once(ctx, ComputeSignal, date, text)
	out := details{
		"scored":       scored,
		"insufficient": len(insufficient),
		"signals":      len(signals),
		"notification": outcome.String(),
	}

	if d.deps.Publisher != nil {
		if err := d.deps.Publisher.PublishScores(ctx, runID, results); err != nil {
			log.WithError(err).Warn("publish scores failed")
		}
		if err := d.deps.Publisher.PublishSignals(ctx, runID, signals); err != nil {
			log.WithError(err).Warn("publish signals failed")
		}
	}

	if nerr != nil {
		return out, fmt.Errorf("daily report: %w", nerr)
	}
	return out, nil
}

// latestSignal returns the signal confirmed on the final bar, provided that
// bar is the latest closed session. Older crosses were reported on their day.
func latestSignal(detector *score.SignalDetector, bars []model.DailyBar, session time.Time) (score.Signal, bool) {
	if len(bars) == 0 || !model.Day(bars[len(bars)-1].Date).Equal(model.Day(session)) {
		return score.Signal{}, false
	}
	signals, _, err := detector.Evaluate(bars)
	if err != nil || len(signals) == 0 {
		return score.Signal{}, false
	}
	sig := signals[len(signals)-1]
	if !model.Day(sig.Date).Equal(model.Day(session)) {
		return score.Signal{}, false
	}
	return sig, true
}
