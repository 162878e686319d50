package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/reclamflow/feed/pkg/clock"
	"github.com/reclamflow/feed/pkg/logger"
	"github.com/reclamflow/feed/pkg/metrics"
)

type fakeLock struct {
	mu       sync.Mutex
	acquired bool
	deny     bool
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deny || f.acquired {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.mu.Lock()
	f.acquired = false
	f.mu.Unlock()
	return nil
}

type testJob struct {
	name string
	err  error
	runs chan struct{}
	mu   sync.Mutex
	n    int
}

func newTestJob(name string, err error) *testJob {
	return &testJob{name: name, err: err, runs: make(chan struct{}, 16)}
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.mu.Lock()
	t.n++
	t.mu.Unlock()
	t.runs <- struct{}{}
	return t.err
}

func (t *testJob) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

func waitRun(t *testing.T, job *testJob) {
	t.Helper()
	select {
	case <-job.runs:
	case <-time.After(2 * time.Second):
		t.Fatalf("job %s did not run", job.name)
	}
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	success := newTestJob("success", nil)
	failure := newTestJob("fail", errors.New("boom"))
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(success, failure),
		Lock:     &fakeLock{},
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if success.count() != 1 || failure.count() != 1 {
		t.Fatalf("expected both jobs to run once, got %d and %d", success.count(), failure.count())
	}
}

func TestServiceSkipsCycleWhenLockHeld(t *testing.T) {
	job := newTestJob("endpoint-poll", nil)
	reg := prometheus.NewRegistry()
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(job),
		Lock:     &fakeLock{deny: true},
		Metrics:  metrics.NewJobMetrics(reg),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	if err := service.runCycle(context.Background()); err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if job.count() != 0 {
		t.Fatalf("job must not run without the lock")
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "feed_job_lock_skipped_total" {
			found = mf.GetMetric()[0].GetCounter().GetValue() == 1
		}
	}
	if !found {
		t.Fatal("expected lock skip to be counted")
	}
}

func TestServiceRunsImmediatelyThenEveryInterval(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))
	job := newTestJob("endpoint-poll", nil)
	service, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(job),
		Interval: 30 * time.Second,
		Clock:    clk,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	waitRun(t, job)
	clk.WaitForTimers(1)

	clk.Advance(29 * time.Second)
	select {
	case <-job.runs:
		t.Fatal("job ran before the interval elapsed")
	case <-time.After(50 * time.Millisecond):
	}

	clk.Advance(time.Second)
	waitRun(t, job)

	service.RunNow()
	waitRun(t, job)

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if job.count() != 3 {
		t.Fatalf("expected 3 runs, got %d", job.count())
	}
}

func TestServiceWaitsForStartSignal(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC))
	job := newTestJob("endpoint-poll", nil)
	start := make(chan struct{})
	service, err := NewService(ServiceParams{
		Logger:     logger.Nop(),
		Registry:   NewRegistry(job),
		Interval:   30 * time.Second,
		Clock:      clk,
		StartAfter: start,
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	service.RunNow()
	clk.Advance(time.Minute)
	select {
	case <-job.runs:
		t.Fatal("job ran before the start signal")
	case <-time.After(50 * time.Millisecond):
	}
	if clk.Pending() != 0 {
		t.Fatalf("ticker must not start before the signal, pending=%d", clk.Pending())
	}

	close(start)
	waitRun(t, job)
	clk.WaitForTimers(1)
	select {
	case <-job.runs:
		t.Fatal("pending RunNow should merge into the first cycle")
	case <-time.After(50 * time.Millisecond):
	}

	clk.Advance(30 * time.Second)
	waitRun(t, job)

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if job.count() != 2 {
		t.Fatalf("expected 2 runs, got %d", job.count())
	}
}

func TestServiceStopsWhileWaitingForStart(t *testing.T) {
	job := newTestJob("endpoint-poll", nil)
	service, err := NewService(ServiceParams{
		Logger:     logger.Nop(),
		Registry:   NewRegistry(job),
		Clock:      clock.Fake(time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)),
		StartAfter: make(chan struct{}),
	})
	if err != nil {
		t.Fatalf("construct service: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := service.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if job.count() != 0 {
		t.Fatalf("expected no runs, got %d", job.count())
	}
}

func TestRegistryStoresJobs(t *testing.T) {
	jobA := newTestJob("a", nil)
	jobB := newTestJob("b", nil)
	registry := NewRegistry(jobA, nil)
	registry.Register(jobB)
	jobs := registry.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0] != jobA || jobs[1] != jobB {
		t.Fatalf("jobs returned out of order")
	}
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatalf("internal slice leaked")
	}
}
