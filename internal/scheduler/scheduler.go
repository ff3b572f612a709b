// Package scheduler drives reconciliation runs on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fee-recon/internal/domain"
	"fee-recon/pkg/logger"
)

// Runner executes one reconciliation pass over all tenants.
type Runner interface {
	RunAll(ctx context.Context) (*domain.RunSummary, error)
}

// Stats are cumulative counters since the scheduler was created.
type Stats struct {
	Ticks        int64     `json:"ticks"`
	SkippedTicks int64     `json:"skippedTicks"`
	FailedTicks  int64     `json:"failedTicks"`
	Processed    int64     `json:"processed"`
	Matched      int64     `json:"matched"`
	Unmatched    int64     `json:"unmatched"`
	Errors       int64     `json:"errors"`
	LastRunAt    time.Time `json:"lastRunAt"`
	LastDuration string    `json:"lastDuration"`
}

// Scheduler runs Runner.RunAll every interval. A tick that fires while the
// previous run is still in progress is dropped.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	running  atomic.Bool
	wg       sync.WaitGroup

	mu    sync.Mutex
	stats Stats
}

func New(runner Runner, interval time.Duration) *Scheduler {
	return &Scheduler{
		runner:   runner,
		interval: interval,
	}
}

// Start ticks in the background until ctx is cancelled. The first run happens
// immediately. Use Wait to block until the loop and its runs have returned.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Wait blocks until the loop started by Start has stopped and every run it
// began has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	logger.GetLogger().WithField("interval", s.interval.String()).Info("Reconciliation scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.spawn(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.GetLogger().Info("Reconciliation scheduler stopped")
			return
		case <-ticker.C:
			s.spawn(ctx)
		}
	}
}

func (s *Scheduler) spawn(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Tick(ctx)
	}()
}

// Tick performs one run unless another is in progress. It reports whether a
// run happened.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.stats.SkippedTicks++
		s.mu.Unlock()
		logger.GetLogger().Debug("Previous reconciliation still running, skipping tick")
		return false
	}
	defer s.running.Store(false)

	start := time.Now()
	summary, err := s.run(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Ticks++
	s.stats.LastRunAt = start
	s.stats.LastDuration = elapsed.String()
	if err != nil {
		s.stats.FailedTicks++
		logger.GetLogger().WithError(err).Error("Reconciliation run failed")
		return true
	}
	s.stats.Processed += int64(summary.Processed)
	s.stats.Matched += int64(summary.Matched)
	s.stats.Unmatched += int64(summary.Unmatched)
	s.stats.Errors += int64(summary.Errors)
	return true
}

func (s *Scheduler) run(ctx context.Context) (summary *domain.RunSummary, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during reconciliation run: %v", r)
		}
	}()

	summary, err = s.runner.RunAll(ctx)
	if err == nil && summary == nil {
		summary = &domain.RunSummary{}
	}
	return summary, err
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Running reports whether a run is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}
