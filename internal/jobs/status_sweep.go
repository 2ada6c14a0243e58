// Package jobs defines River Queue job types for background maintenance of
// the media library.
//
// Jobs carry identifiers only; workers load current state through the
// persistence context when they run.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"reelkit.io/reelkit/internal/media"
	"reelkit.io/reelkit/internal/persistence"
	"reelkit.io/reelkit/internal/pkg/logger"
	"reelkit.io/reelkit/internal/pkg/metrics"
)

// DefaultSweepInterval is how often the status sweep runs when no interval is
// configured.
const DefaultSweepInterval = time.Hour

// StatusSweepArgs is a periodic job that re-applies the status handlers of
// finished and banned videos, then flushes deferred writes.
type StatusSweepArgs struct{}

// Kind returns the job kind identifier for the status sweep.
func (StatusSweepArgs) Kind() string { return "status_sweep" }

// InsertOpts ensures at most one sweep is enqueued per hour.
func (StatusSweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: time.Hour,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// StatusSweepPeriodicJob schedules the sweep every interval, starting at
// boot. Non-positive intervals fall back to DefaultSweepInterval.
func StatusSweepPeriodicJob(interval time.Duration) *river.PeriodicJob {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return StatusSweepArgs{}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}

// StatusSweepWorker runs the sweep. Videos past their retention are deleted
// by the DONE handler; banned videos still stored are deleted by theirs.
type StatusSweepWorker struct {
	river.WorkerDefaults[StatusSweepArgs]
	lib *media.Library
	pc  *persistence.Context
}

// NewStatusSweepWorker creates a sweep worker.
func NewStatusSweepWorker(lib *media.Library, pc *persistence.Context) *StatusSweepWorker {
	return &StatusSweepWorker{lib: lib, pc: pc}
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Checked int
	Deleted int
}

// Work runs one sweep.
func (w *StatusSweepWorker) Work(ctx context.Context, _ *river.Job[StatusSweepArgs]) error {
	_, err := w.Sweep(ctx)
	return err
}

// Sweep reloads the account directory, dispatches the handler of every DONE
// or BANNED video and flushes the context.
func (w *StatusSweepWorker) Sweep(ctx context.Context) (SweepResult, error) {
	if w == nil || w.lib == nil || w.pc == nil {
		return SweepResult{}, fmt.Errorf("status sweep worker is not initialized")
	}
	w.lib.Lock()
	defer w.lib.Unlock()

	if err := w.lib.ReloadAccounts(ctx); err != nil {
		return SweepResult{}, fmt.Errorf("reload accounts: %w", err)
	}

	q := persistence.Q(
		persistence.Where("status", "IN", []persistence.Status{media.VideoDone, media.VideoBanned}),
	)
	before, err := w.lib.Videos.Count(ctx, q)
	if err != nil {
		return SweepResult{}, fmt.Errorf("count finished videos: %w", err)
	}
	// Loading runs the handlers of videos not yet in memory; StatusAction
	// covers the live ones.
	videos, err := w.lib.Videos.LoadMany(ctx, q)
	if err != nil {
		return SweepResult{}, fmt.Errorf("load finished videos: %w", err)
	}
	actionErr := videos.StatusAction(ctx)
	after, err := w.lib.Videos.Count(ctx, q)
	if err != nil {
		return SweepResult{}, fmt.Errorf("count finished videos: %w", err)
	}
	res := SweepResult{Checked: int(before), Deleted: int(before - after)}
	metrics.RecordSweepDeleted(res.Deleted)
	flushErr := w.pc.Flush(ctx)

	logger.Info("status sweep completed",
		zap.Int("checked", res.Checked),
		zap.Int("deleted", res.Deleted),
	)
	return res, errors.Join(actionErr, flushErr)
}
