package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionScheduler periodically deletes conversations that have not been
// updated within the retention window.
type RetentionScheduler struct {
	store         Store
	retentionDays int
	schedule      string
	now           func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	logger  *slog.Logger
	running bool
}

// NewRetentionScheduler creates a scheduler. retentionDays <= 0 disables
// pruning. schedule accepts standard cron syntax and descriptors such as
// "@daily".
func NewRetentionScheduler(s Store, retentionDays int, schedule string) *RetentionScheduler {
	return &RetentionScheduler{
		store:         s,
		retentionDays: retentionDays,
		schedule:      schedule,
		now:           time.Now,
		cron:          cron.New(),
		logger:        slog.Default().With("component", "store.retention"),
	}
}

// Start registers the pruning job and starts the cron runner. The runner
// stops when ctx is cancelled.
func (r *RetentionScheduler) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.retentionDays <= 0 || r.schedule == "" {
		r.logger.Info("conversation retention disabled")
		return nil
	}
	if _, err := cron.ParseStandard(r.schedule); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", r.schedule, err)
	}
	if _, err := r.cron.AddFunc(r.schedule, func() { r.run(ctx) }); err != nil {
		return fmt.Errorf("schedule pruning: %w", err)
	}

	r.cron.Start()
	r.running = true
	r.logger.Info("retention scheduler started", "schedule", r.schedule, "retention_days", r.retentionDays)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()
	return nil
}

// RunOnce prunes immediately and returns the number of deleted conversations.
func (r *RetentionScheduler) RunOnce(ctx context.Context) (int, error) {
	if r.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := r.now().AddDate(0, 0, -r.retentionDays)
	return r.store.PruneBefore(ctx, cutoff)
}

func (r *RetentionScheduler) run(ctx context.Context) {
	deleted, err := r.RunOnce(ctx)
	if err != nil {
		r.logger.Error("scheduled pruning failed", "error", err)
		return
	}
	if deleted > 0 {
		r.logger.Info("scheduled pruning completed", "deleted_count", deleted)
	} else {
		r.logger.Debug("scheduled pruning completed, nothing to delete")
	}
}

// Stop stops the cron runner and waits for a running job.
func (r *RetentionScheduler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		<-r.cron.Stop().Done()
		r.running = false
		r.logger.Info("retention scheduler stopped")
	}
}

// NextRun returns the next scheduled pruning time, or the zero time when the
// scheduler is not running.
func (r *RetentionScheduler) NextRun() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return time.Time{}
	}
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
