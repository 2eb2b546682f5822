// Package jobs schedules background maintenance of the rollup tables.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/referral/internal/aggregate"
	"github.com/roach88/referral/internal/store"
)

// DefaultSchedule rebuilds every rollup once a day at 03:00 UTC.
const DefaultSchedule = "0 3 * * *"

// Rebuilder periodically recomputes all rollups from the base records,
// repairing any drift left behind by crashed or partial refreshes.
type Rebuilder struct {
	store   *store.Store
	agg     *aggregate.Aggregator
	cron    *cron.Cron
	timeout time.Duration

	mu      sync.Mutex
	entry   cron.EntryID
	lastRun []aggregate.RebuildStats
}

// Option configures a Rebuilder.
type Option func(*Rebuilder)

// WithTimeout bounds a single scheduled run. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Rebuilder) {
		r.timeout = d
	}
}

// New creates a Rebuilder. Nothing is scheduled until Schedule is called.
func New(s *store.Store, agg *aggregate.Aggregator, opts ...Option) *Rebuilder {
	r := &Rebuilder{
		store:   s,
		agg:     agg,
		timeout: 30 * time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(slogCronLogger{}),
		cron.WithChain(cron.SkipIfStillRunning(slogCronLogger{})),
	)
	return r
}

// Schedule registers the rebuild job under a standard five-field cron
// expression (or a descriptor such as "@hourly"). A later call replaces
// the earlier schedule.
func (r *Rebuilder) Schedule(spec string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.cron.AddFunc(spec, r.runScheduled)
	if err != nil {
		return fmt.Errorf("invalid rebuild schedule %q: %w", spec, err)
	}
	if r.entry != 0 {
		r.cron.Remove(r.entry)
	}
	r.entry = id
	slog.Info("rebuild job scheduled", "schedule", spec)
	return nil
}

// Start starts the scheduler in its own goroutine.
func (r *Rebuilder) Start() {
	slog.Info("starting rebuild scheduler")
	r.cron.Start()
}

// Stop stops the scheduler and waits for a running rebuild to finish or
// for ctx to end, whichever comes first.
func (r *Rebuilder) Stop(ctx context.Context) {
	slog.Info("stopping rebuild scheduler")
	done := r.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// LastRun returns the stats of the most recent completed run.
func (r *Rebuilder) LastRun() []aggregate.RebuildStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]aggregate.RebuildStats(nil), r.lastRun...)
}

func (r *Rebuilder) runScheduled() {
	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	if _, err := r.RunOnce(ctx); err != nil {
		slog.Error("scheduled rebuild failed", "error", err)
	}
}

// RunOnce rebuilds every configured program. Programs rebuild in separate
// transactions; the store serializes them on its single connection. The
// first error cancels programs not yet started.
func (r *Rebuilder) RunOnce(ctx context.Context) ([]aggregate.RebuildStats, error) {
	programs, err := r.store.ListPrograms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}

	stats := make([]aggregate.RebuildStats, len(programs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, programID := range programs {
		i, programID := i, programID
		g.Go(func() error {
			st, err := r.agg.Rebuild(gctx, r.store, programID)
			if err != nil {
				return fmt.Errorf("rebuild program %s: %w", programID, err)
			}
			stats[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.lastRun = stats
	r.mu.Unlock()
	return stats, nil
}

// slogCronLogger routes the scheduler's own logging through slog.
type slogCronLogger struct{}

func (slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
