package jobs

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"reelkit.io/reelkit/internal/cloudsync"
	"reelkit.io/reelkit/internal/media"
	apperrors "reelkit.io/reelkit/internal/pkg/errors"
	"reelkit.io/reelkit/internal/pkg/logger"
)

// MirrorSyncArgs requests a mirror upload of one video.
type MirrorSyncArgs struct {
	VideoID   string   `json:"video_id"`
	Platforms []string `json:"platforms,omitempty"`
}

// Kind returns the job kind identifier for mirror uploads.
func (MirrorSyncArgs) Kind() string { return "mirror_sync" }

// InsertOpts retries transient storage failures.
func (MirrorSyncArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 3,
	}
}

// MirrorSyncWorker uploads a video's converted files to the mirror.
type MirrorSyncWorker struct {
	river.WorkerDefaults[MirrorSyncArgs]
	lib    *media.Library
	syncer *cloudsync.Syncer
}

// NewMirrorSyncWorker creates a mirror upload worker.
func NewMirrorSyncWorker(lib *media.Library, syncer *cloudsync.Syncer) *MirrorSyncWorker {
	return &MirrorSyncWorker{lib: lib, syncer: syncer}
}

// Work loads the video and uploads it. A video deleted since the job was
// enqueued is not an error.
func (w *MirrorSyncWorker) Work(ctx context.Context, job *river.Job[MirrorSyncArgs]) error {
	if w == nil || w.lib == nil || w.syncer == nil {
		return fmt.Errorf("mirror sync worker is not initialized")
	}
	id := job.Args.VideoID

	logger.Info("Processing mirror sync",
		zap.String("video_id", id),
		zap.Int64("attempt", int64(job.Attempt)),
	)

	w.lib.Lock()
	defer w.lib.Unlock()

	v, err := w.lib.Videos.Get(ctx, id)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeEntityNotFound) {
			logger.Warn("mirror sync skipped: video not found", zap.String("video_id", id))
			return nil
		}
		return fmt.Errorf("load video %s: %w", id, err)
	}
	if err := w.syncer.Upload(ctx, v, job.Args.Platforms...); err != nil {
		return fmt.Errorf("mirror video %s: %w", id, err)
	}
	return nil
}

// Register adds the media workers to workers. The mirror worker is only
// registered when a syncer is configured.
func Register(workers *river.Workers, lib *media.Library, sweep *StatusSweepWorker, syncer *cloudsync.Syncer) {
	river.AddWorker(workers, sweep)
	if syncer != nil {
		river.AddWorker(workers, NewMirrorSyncWorker(lib, syncer))
	}
}
