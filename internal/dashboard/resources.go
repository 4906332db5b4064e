package dashboard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"marketflow/internal/metrics"
	"marketflow/logger"
)

// collectFn is replaced in tests.
var collectFn = metrics.CollectReport

// resourceSampler keeps a history of runtime reports for /api/resources.
type resourceSampler struct {
	history  *ring[metrics.RuntimeReport]
	interval time.Duration
	diskPath string

	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup
	log     *logger.Log
}

func newResourceSampler(limit int, interval time.Duration, diskPath string, log *logger.Log) *resourceSampler {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &resourceSampler{
		history:  newRing[metrics.RuntimeReport](limit),
		interval: interval,
		diskPath: diskPath,
		log:      log,
	}
}

func (s *resourceSampler) start(ctx context.Context) {
	if s == nil || s.running.Swap(true) {
		return
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.run(childCtx)
	}()
}

func (s *resourceSampler) stop() {
	if s == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *resourceSampler) snapshot() []metrics.RuntimeReport {
	if s == nil {
		return nil
	}
	return s.history.snapshot()
}

func (s *resourceSampler) run(ctx context.Context) {
	s.history.push(collectFn(ctx, s.diskPath))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.WithComponent("resource_sampler").Debug("resource sampler stopped")
			return
		case <-ticker.C:
			s.history.push(collectFn(ctx, s.diskPath))
		}
	}
}
