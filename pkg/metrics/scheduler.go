package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// pruneSchedule runs retention hourly, offset from the minute boundary
// so it never contends with a rollup pass.
const pruneSchedule = "17 * * * *"

// Scheduler drives the rollup job and retention purge on cron schedules,
// independently of the request path.
type Scheduler struct {
	store          *Store
	rollupSchedule string
	cron           *cron.Cron
	mu             sync.Mutex
	running        bool
	logger         *slog.Logger
}

// NewScheduler creates a scheduler for the store. rollupSchedule is a
// standard cron expression; "* * * * *" runs rollups every minute.
func NewScheduler(store *Store, rollupSchedule string) *Scheduler {
	return &Scheduler{
		store:          store,
		rollupSchedule: rollupSchedule,
		cron:           cron.New(),
		logger:         slog.Default().With("component", "metrics.scheduler"),
	}
}

// Start begins scheduled rollups and purges. The context cancels the
// scheduler when done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if _, err := cron.ParseStandard(s.rollupSchedule); err != nil {
		return fmt.Errorf("invalid rollup schedule %q: %w", s.rollupSchedule, err)
	}

	if _, err := s.cron.AddFunc(s.rollupSchedule, func() { s.runRollup(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule rollup: %w", err)
	}
	if _, err := s.cron.AddFunc(pruneSchedule, func() { s.runPrune(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule retention purge: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("metrics scheduler started",
		"rollup_schedule", s.rollupSchedule,
		"prune_schedule", pruneSchedule,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// runRollup executes one rollup pass.
func (s *Scheduler) runRollup(ctx context.Context) {
	if err := s.store.RunRollup(ctx, time.Now()); err != nil {
		s.logger.Error("scheduled rollup failed", "error", err)
	}
}

// runPrune executes one retention pass.
func (s *Scheduler) runPrune(ctx context.Context) {
	if _, err := s.store.RunPrune(ctx, time.Now()); err != nil {
		s.logger.Error("scheduled retention purge failed", "error", err)
	}
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		s.running = false
		s.logger.Info("metrics scheduler stopped")
	}
}
