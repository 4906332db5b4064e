package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "marketflow/config"
	"marketflow/internal/task"
)

type recordingRunner struct {
	mu    sync.Mutex
	tasks []string
	err   error
}

func (r *recordingRunner) Run(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, name)
	return r.err
}

func testScheduleConfig() appconfig.ScheduleConfig {
	return appconfig.ScheduleConfig{CrawlAt: "16:00", SignalAt: "17:30", UniverseDay: "saturday", UniverseAt: "10:00"}
}

func TestParseWeekday(t *testing.T) {
	cases := map[string]time.Weekday{
		"saturday": time.Saturday,
		" Sat ":    time.Saturday,
		"monday":   time.Monday,
		"SUN":      time.Sunday,
	}
	for in, want := range cases {
		got, err := ParseWeekday(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseWeekday("someday")
	assert.Error(t, err)
}

func TestStartRegistersJobs(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	s := New(testScheduleConfig(), loc, &recordingRunner{}, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	var tags []string
	for _, job := range s.cron.Jobs() {
		tags = append(tags, job.Tags()...)
		assert.False(t, job.NextRun().IsZero())
	}
	sort.Strings(tags)
	assert.Equal(t, []string{task.ComputeSignal, task.CrawlDaily, task.RefreshUniverse}, tags)
}

func TestScheduledTasksAreDispatchable(t *testing.T) {
	s := New(testScheduleConfig(), time.UTC, &recordingRunner{}, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	known := task.NewDispatcher(task.Deps{}).Tasks()
	for _, job := range s.cron.Jobs() {
		for _, tag := range job.Tags() {
			assert.Contains(t, known, tag)
		}
	}
}

func TestStartRejectsBadConfig(t *testing.T) {
	cfg := testScheduleConfig()
	cfg.UniverseDay = "someday"
	assert.Error(t, New(cfg, time.UTC, &recordingRunner{}, nil).Start(context.Background()))

	cfg = testScheduleConfig()
	cfg.CrawlAt = "25:99"
	assert.Error(t, New(cfg, time.UTC, &recordingRunner{}, nil).Start(context.Background()))
}

func TestRunOnTradingDaySkipsHolidays(t *testing.T) {
	runner := &recordingRunner{}
	saturday := time.Date(2024, 3, 16, 16, 0, 0, 0, time.UTC)
	s := New(testScheduleConfig(), time.UTC, runner, func(d time.Time) bool {
		return d.Weekday() != time.Saturday && d.Weekday() != time.Sunday
	})

	s.now = func() time.Time { return saturday }
	assert.False(t, s.runOnTradingDay(context.Background(), task.CrawlDaily))

	s.now = func() time.Time { return saturday.AddDate(0, 0, 2) }
	assert.True(t, s.runOnTradingDay(context.Background(), task.CrawlDaily))

	assert.Equal(t, []string{task.CrawlDaily}, runner.tasks)
}

func TestRunLogsRunnerErrors(t *testing.T) {
	runner := &recordingRunner{err: errors.New("boom")}
	s := New(testScheduleConfig(), time.UTC, runner, nil)
	s.run(context.Background(), task.RefreshUniverse)
	assert.Equal(t, []string{task.RefreshUniverse}, runner.tasks)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.run(ctx, task.RefreshUniverse)
	assert.Len(t, runner.tasks, 1)
}
