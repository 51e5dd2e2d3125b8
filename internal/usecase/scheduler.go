package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"RevAI/internal/domain"
	"RevAI/internal/ports"
)

// Scheduler wires the interval driver with the batch orchestrator.
type Scheduler struct {
	driver          ports.Scheduler
	batch           *BatchOrchestrator
	settingsVersion int64
	logger          *slog.Logger
}

// NewScheduler returns a helper to start/stop recurring batch runs.
func NewScheduler(driver ports.Scheduler, batch *BatchOrchestrator, settingsVersion int64, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		driver:          driver,
		batch:           batch,
		settingsVersion: settingsVersion,
		logger:          logger.With("component", "scheduler"),
	}
}

// Start registers the orchestrator with the provided driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.driver == nil || s.batch == nil {
		return nil
	}

	job := func(trigger time.Time) {
		if _, err := s.batch.ProcessBatch(ctx, s.settingsVersion); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			level := slog.LevelError
			if errors.Is(err, domain.ErrNotConfigured) {
				level = slog.LevelWarn
			}
			s.logger.Log(ctx, level, "scheduled batch failed", "trigger", trigger, "error", err)
		}
	}

	return s.driver.Start(ctx, job)
}

// Stop gracefully tears down the underlying driver.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}

	return s.driver.Stop(ctx)
}
