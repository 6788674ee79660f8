// Package scheduler is intentionally minimal in build mode.
//
// The contracts require deterministic, bounded execution. Build mode does not
// auto-execute agents, so the scheduler is disabled by default and exists to
// keep the runtime modular: the API submits jobs, the scheduler would select
// runnable jobs, the engine performs bounded work under the JobContract.
package scheduler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Mindburn-Labs/foundry/pkg/config"
)

// ErrNotImplemented is returned when an enabled scheduler is started in
// build mode.
var ErrNotImplemented = errors.New("scheduler is not implemented in build mode")

// Scheduler selects runnable jobs for execution. Disabled in build mode.
type Scheduler struct {
	config config.Scheduler
	logger *slog.Logger
}

// New builds a Scheduler.
func New(cfg config.Scheduler, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{config: cfg, logger: logger.With("component", "scheduler")}
}

// Run blocks until ctx is done when disabled; an enabled scheduler refuses
// to start until a polling implementation lands.
//
// TODO: polling loop that picks up created jobs and runs them once execution
// leaves build mode.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.InfoContext(ctx, "scheduler disabled")
		return nil
	}
	return ErrNotImplemented
}
