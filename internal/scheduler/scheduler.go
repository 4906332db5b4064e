// Package scheduler runs tasks at fixed exchange-local wall-clock times.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-co-op/gocron"

	appconfig "marketflow/config"
	"marketflow/internal/task"
	"marketflow/logger"
)

// Runner executes one named task.
type Runner interface {
	Run(ctx context.Context, task string) error
}

// TradingDayFunc reports whether the exchange trades on the given date.
type TradingDayFunc func(time.Time) bool

type Scheduler struct {
	cron         *gocron.Scheduler
	cfg          appconfig.ScheduleConfig
	runner       Runner
	isTradingDay TradingDayFunc
	loc          *time.Location
	now          func() time.Time
	log          *logger.Log
}

func New(cfg appconfig.ScheduleConfig, loc *time.Location, runner Runner, isTradingDay TradingDayFunc) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	cron := gocron.NewScheduler(loc)
	cron.SingletonModeAll()
	return &Scheduler{
		cron:         cron,
		cfg:          cfg,
		runner:       runner,
		isTradingDay: isTradingDay,
		loc:          loc,
		now:          time.Now,
		log:          logger.GetLogger(),
	}
}

// Start registers the daily crawl and signal jobs and the weekly universe
// refresh, then starts the scheduler in the background.
func (s *Scheduler) Start(ctx context.Context) error {
	log := s.log.WithComponent("scheduler")

	day, err := ParseWeekday(s.cfg.UniverseDay)
	if err != nil {
		return err
	}

	jobs := []struct {
		task  string
		at    string
		build func() *gocron.Scheduler
		fn    func()
	}{
		{task.CrawlDaily, s.cfg.CrawlAt, func() *gocron.Scheduler { return s.cron.Every(1).Day() }, func() { s.runOnTradingDay(ctx, task.CrawlDaily) }},
		{task.ComputeSignal, s.cfg.SignalAt, func() *gocron.Scheduler { return s.cron.Every(1).Day() }, func() { s.runOnTradingDay(ctx, task.ComputeSignal) }},
		{task.RefreshUniverse, s.cfg.UniverseAt, func() *gocron.Scheduler { return s.cron.Every(1).Week().Weekday(day) }, func() { s.run(ctx, task.RefreshUniverse) }},
	}

	for _, j := range jobs {
		if _, err := j.build().At(j.at).Tag(j.task).Do(j.fn); err != nil {
			return fmt.Errorf("schedule %s at %q: %w", j.task, j.at, err)
		}
	}

	s.cron.StartAsync()
	for _, job := range s.cron.Jobs() {
		log.WithFields(logger.Fields{
			"task":     strings.Join(job.Tags(), ","),
			"next_run": job.NextRun().In(s.loc).Format(time.RFC3339),
		}).Info("job scheduled")
	}
	return nil
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.log.WithComponent("scheduler").Info("scheduler stopped")
}

// runOnTradingDay skips weekends and holidays.
func (s *Scheduler) runOnTradingDay(ctx context.Context, name string) bool {
	today := s.now().In(s.loc)
	if s.isTradingDay != nil && !s.isTradingDay(today) {
		s.log.WithComponent("scheduler").WithFields(logger.Fields{
			"task": name,
			"date": today.Format("2006-01-02"),
		}).Info("not a trading day; skipping")
		return false
	}
	s.run(ctx, name)
	return true
}

func (s *Scheduler) run(ctx context.Context, name string) {
	if ctx.Err() != nil {
		return
	}
	if err := s.runner.Run(ctx, name); err != nil {
		s.log.WithComponent("scheduler").WithFields(logger.Fields{"task": name}).WithError(err).Error("scheduled task failed")
	}
}

// ParseWeekday accepts English weekday names and three-letter abbreviations.
func ParseWeekday(s string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if key == name || key == name[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", s)
}
