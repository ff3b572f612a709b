package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fee-recon/internal/domain"
)

type runnerFunc func(ctx context.Context) (*domain.RunSummary, error)

func (f runnerFunc) RunAll(ctx context.Context) (*domain.RunSummary, error) {
	return f(ctx)
}

func TestTick_AccumulatesCounters(t *testing.T) {
	s := New(runnerFunc(func(context.Context) (*domain.RunSummary, error) {
		return &domain.RunSummary{Processed: 3, Matched: 2, Unmatched: 1}, nil
	}), time.Hour)

	assert.True(t, s.Tick(context.Background()))
	assert.True(t, s.Tick(context.Background()))

	stats := s.Stats()
	assert.Equal(t, int64(2), stats.Ticks)
	assert.Equal(t, int64(6), stats.Processed)
	assert.Equal(t, int64(4), stats.Matched)
	assert.Equal(t, int64(2), stats.Unmatched)
	assert.False(t, stats.LastRunAt.IsZero())
}

func TestTick_SkipsWhileRunning(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32

	s := New(runnerFunc(func(context.Context) (*domain.RunSummary, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return &domain.RunSummary{}, nil
	}), time.Hour)

	done := make(chan bool)
	go func() { done <- s.Tick(context.Background()) }()
	<-started

	assert.True(t, s.Running())
	assert.False(t, s.Tick(context.Background()), "overlapping tick must be skipped")
	assert.False(t, s.Tick(context.Background()))

	close(release)
	require.True(t, <-done)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(2), s.Stats().SkippedTicks)
	assert.True(t, s.Tick(context.Background()), "tick after completion runs")
}

func TestTick_RecoversPanicsAndErrors(t *testing.T) {
	var calls atomic.Int32
	s := New(runnerFunc(func(context.Context) (*domain.RunSummary, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil, errors.New("list tenants failed")
	}), time.Hour)

	assert.True(t, s.Tick(context.Background()))
	assert.True(t, s.Tick(context.Background()))

	stats := s.Stats()
	assert.Equal(t, int64(2), stats.FailedTicks)
	assert.False(t, s.Running())
}

func TestStart_StopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	s := New(runnerFunc(func(context.Context) (*domain.RunSummary, error) {
		calls.Add(1)
		return &domain.RunSummary{}, nil
	}), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	stopped := make(chan struct{})
	go func() {
		s.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestWait_BlocksUntilRunFinishes(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var finished atomic.Bool

	s := New(runnerFunc(func(context.Context) (*domain.RunSummary, error) {
		close(started)
		<-release
		finished.Store(true)
		return &domain.RunSummary{}, nil
	}), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	<-started
	cancel()

	waited := make(chan struct{})
	go func() {
		s.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while a run was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the run finished")
	}
	assert.True(t, finished.Load())
	assert.False(t, s.Running())
}
