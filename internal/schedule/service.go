package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/reclamflow/feed/pkg/clock"
	"github.com/reclamflow/feed/pkg/logger"
	"github.com/reclamflow/feed/pkg/metrics"
)

const defaultInterval = 30 * time.Second

// ServiceParams configure the scheduler.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.JobMetrics
	Interval time.Duration
	Clock    clock.Clock
	// StartAfter, when set, holds the first cycle and the ticker until the
	// channel is closed.
	StartAfter <-chan struct{}
}

// Service executes registered jobs immediately and then on a fixed cadence.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.JobMetrics
	interval time.Duration
	clock    clock.Clock
	trigger  chan struct{}
	start    <-chan struct{}
}

// NewService builds a scheduler.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	lock := params.Lock
	if lock == nil {
		lock = NopLock{}
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     lock,
		metrics:  params.Metrics,
		interval: interval,
		clock:    clk,
		trigger:  make(chan struct{}, 1),
		start:    params.StartAfter,
	}, nil
}

// Run starts the loop until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = s.logg.WithField(ctx, "interval", s.interval.String())
	if s.start != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.start:
		}
		// The first cycle below covers any RunNow made while waiting.
		select {
		case <-s.trigger:
		default:
		}
	}
	if err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "scheduled run failed", err)
	}
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-s.trigger:
		}
		if err := s.runCycle(ctx); err != nil {
			s.logg.Error(ctx, "scheduled run failed", err)
		}
	}
}

// RunNow asks the loop for an extra cycle without waiting for the next tick.
// Requests made while one is already pending are merged.
func (s *Service) RunNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "another process holds the poll lock; skipping this cycle")
		for _, job := range s.registry.Jobs() {
			s.metrics.IncLockSkipped(job.Name())
		}
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release poll lock", relErr)
		}
	}()

	for _, job := range s.registry.Jobs() {
		s.runJob(ctx, job)
	}
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	s.logg.Debug(jobCtx, "job start")
	start := s.clock.Now()
	err := job.Run(jobCtx)
	duration := s.clock.Now().Sub(start)
	s.metrics.ObserveDuration(job.Name(), duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.IncFailure(job.Name())
		return
	}
	s.logg.Debug(jobCtx, "job completed")
	s.metrics.IncSuccess(job.Name())
}
