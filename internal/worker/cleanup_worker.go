// Package worker runs background jobs on a schedule.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/llmportal/orchestrator/internal/cache"
	"github.com/llmportal/orchestrator/internal/model"
	"github.com/llmportal/orchestrator/internal/service"
)

const (
	// DefaultLockTTL bounds how long a crashed replica can block cleanup.
	DefaultLockTTL = 10 * time.Minute
	// cleanupLockName is the Redis lock shared by all replicas.
	cleanupLockName = "cleanup"
	// persistTimeout bounds saving a run after it finished.
	persistTimeout = 5 * time.Second
)

var (
	// ErrCleanupInProgress is returned when another run holds the lock.
	ErrCleanupInProgress = errors.New("cleanup already in progress")
	// ErrCleanupLockLost is returned when the lock expired or was taken over mid-run.
	ErrCleanupLockLost = errors.New("cleanup lock lost during run")
)

// CleanupRunner performs one reconciliation pass.
type CleanupRunner interface {
	Run(ctx context.Context, trigger string) (*model.CleanupRun, error)
}

// Locker hands out the cross-replica lock. A nil lock means it is taken.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (*cache.Lock, error)
}

// heldLock is the part of a held lock the worker keeps alive.
type heldLock interface {
	Refresh(ctx context.Context, ttl time.Duration) error
}

// RunStore persists finished runs.
type RunStore interface {
	CreateCleanupRun(ctx context.Context, run *model.CleanupRun) error
}

// CleanupWorker runs reconciliation on a cron schedule, one replica at a time.
type CleanupWorker struct {
	runner   CleanupRunner
	locker   Locker
	store    RunStore
	schedule cron.Schedule
	lockTTL  time.Duration
	logger   *slog.Logger
	started  atomic.Bool
}

// ParseSchedule parses a standard five-field cron spec or a descriptor such as "@every 1h".
func ParseSchedule(spec string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	return schedule, nil
}

// NewCleanupWorker creates a CleanupWorker. locker and store may be nil,
// in which case runs are neither serialized nor recorded.
func NewCleanupWorker(runner CleanupRunner, locker Locker, store RunStore, schedule cron.Schedule, lockTTL time.Duration, logger *slog.Logger) *CleanupWorker {
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupWorker{
		runner:   runner,
		locker:   locker,
		store:    store,
		schedule: schedule,
		lockTTL:  lockTTL,
		logger:   logger.With("component", "cleanup.worker"),
	}
}

// Run starts the schedule loop. Blocks until context is cancelled.
func (w *CleanupWorker) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("worker already started")
	}

	w.logger.Info("cleanup worker started")

	for {
		next := w.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			w.logger.Info("cleanup worker stopping")
			return ctx.Err()
		case <-timer.C:
			if _, err := w.RunOnce(ctx, service.TriggerSchedule); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(err, ErrCleanupInProgress) {
					w.logger.Debug("cleanup skipped, another replica holds the lock")
					continue
				}
				w.logger.Error("cleanup run error", "error", err)
			}
		}
	}
}

// RunOnce performs a single locked run and records it. The lock is refreshed
// while the run is in progress; if it is lost the run is cancelled.
func (w *CleanupWorker) RunOnce(ctx context.Context, trigger string) (*model.CleanupRun, error) {
	runCtx := ctx
	if w.locker != nil {
		lock, err := w.locker.TryLock(ctx, cleanupLockName, w.lockTTL)
		if err != nil {
			return nil, err
		}
		if lock == nil {
			return nil, ErrCleanupInProgress
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				w.logger.Warn("failed to release cleanup lock", "error", err)
			}
		}()

		var cancel context.CancelCauseFunc
		runCtx, cancel = context.WithCancelCause(ctx)
		done := make(chan struct{})
		go w.keepAlive(runCtx, lock, cancel, done)
		defer func() {
			cancel(nil)
			<-done
		}()
	}

	run, err := w.runner.Run(runCtx, trigger)
	if err != nil && errors.Is(context.Cause(runCtx), ErrCleanupLockLost) {
		err = fmt.Errorf("%w: %w", ErrCleanupLockLost, err)
	}
	if run != nil {
		w.persist(ctx, run)
	}
	return run, err
}

// keepAlive refreshes lock every third of its TTL until ctx ends. A lost
// lock cancels ctx with ErrCleanupLockLost.
func (w *CleanupWorker) keepAlive(ctx context.Context, lock heldLock, cancel context.CancelCauseFunc, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(max(w.lockTTL/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := lock.Refresh(ctx, w.lockTTL)
			switch {
			case err == nil:
			case errors.Is(err, cache.ErrLockNotHeld):
				w.logger.Error("cleanup lock lost, cancelling run")
				cancel(ErrCleanupLockLost)
				return
			case ctx.Err() != nil:
				return
			default:
				w.logger.Warn("failed to refresh cleanup lock", "error", err)
			}
		}
	}
}

// persist stores the run. Failures are logged and never fail the run.
func (w *CleanupWorker) persist(ctx context.Context, run *model.CleanupRun) {
	if w.store == nil {
		return
	}
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err := w.store.CreateCleanupRun(storeCtx, run); err != nil {
		w.logger.Warn("failed to record cleanup run", "run_id", run.ID, "error", err)
	}
}
