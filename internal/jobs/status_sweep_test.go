package jobs

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelkit.io/reelkit/internal/media"
	"reelkit.io/reelkit/internal/persistence"
	"reelkit.io/reelkit/internal/testutil"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newLibrary(t *testing.T, clk *clock) (*media.Library, *persistence.Context) {
	t.Helper()
	pc := testutil.NewSQLiteContext(t, testutil.SQLitePath(t), persistence.Options{})
	lib, err := media.NewLibrary(pc, media.Options{
		FS:        afero.NewMemMapFs(),
		ExportDir: "/exports",
		Now:       clk.Now,
	})
	require.NoError(t, err)
	_, err = lib.AddAccount(context.Background(), media.AccountSpec{
		Uniquename: "main",
		Platforms:  []string{"tiktok", "youtube"},
	}, false)
	require.NoError(t, err)
	return lib, pc
}

func TestStatusSweepArgsKind(t *testing.T) {
	t.Parallel()

	if got := (StatusSweepArgs{}).Kind(); got != "status_sweep" {
		t.Fatalf("Kind() = %q, want %q", got, "status_sweep")
	}
}

func TestStatusSweepArgsInsertOpts(t *testing.T) {
	t.Parallel()

	opts := (StatusSweepArgs{}).InsertOpts()
	if opts.Queue != river.QueueDefault {
		t.Fatalf("Queue = %q, want %q", opts.Queue, river.QueueDefault)
	}
	if opts.MaxAttempts != 1 {
		t.Fatalf("MaxAttempts = %d, want 1", opts.MaxAttempts)
	}
	if opts.UniqueOpts.ByPeriod != time.Hour {
		t.Fatalf("UniqueOpts.ByPeriod = %s, want %s", opts.UniqueOpts.ByPeriod, time.Hour)
	}
	if !opts.UniqueOpts.ByQueue || !opts.UniqueOpts.ByArgs {
		t.Fatalf("UniqueOpts = %+v, want ByQueue and ByArgs", opts.UniqueOpts)
	}
}

func TestStatusSweepPeriodicJob(t *testing.T) {
	t.Parallel()

	if StatusSweepPeriodicJob(0) == nil {
		t.Fatal("StatusSweepPeriodicJob(0) = nil")
	}
	if StatusSweepPeriodicJob(15*time.Minute) == nil {
		t.Fatal("StatusSweepPeriodicJob(15m) = nil")
	}
}

func TestStatusSweepWorkerWork_Uninitialized(t *testing.T) {
	t.Parallel()

	t.Run("nil receiver", func(t *testing.T) {
		var w *StatusSweepWorker
		err := w.Work(context.Background(), nil)
		if err == nil || !strings.Contains(err.Error(), "not initialized") {
			t.Fatalf("Work() error = %v, want contains %q", err, "not initialized")
		}
	})

	t.Run("nil library", func(t *testing.T) {
		w := &StatusSweepWorker{}
		err := w.Work(context.Background(), nil)
		if err == nil || !strings.Contains(err.Error(), "not initialized") {
			t.Fatalf("Work() error = %v, want contains %q", err, "not initialized")
		}
	})
}

func TestStatusSweep_DeletesExpiredAndFlushes(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
	lib, pc := newLibrary(t, clk)

	done, err := lib.NewVideo(ctx, "main", nil)
	require.NoError(t, err)
	_, err = lib.RegisterPost(ctx, done, "tiktok", "")
	require.NoError(t, err)
	_, err = lib.SkipPost(ctx, done, "youtube")
	require.NoError(t, err)
	require.Equal(t, media.VideoDone, done.Status())
	require.NoError(t, lib.Videos.Save(ctx, done))

	pending, err := lib.NewVideo(ctx, "main", nil)
	require.NoError(t, err)
	pending.SetAutoSave(true)

	w := NewStatusSweepWorker(lib, pc)

	res, err := w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Checked: 1, Deleted: 0}, res, "retention not elapsed")

	n, err := lib.Videos.Count(ctx, persistence.ByID(pending.ID()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "auto-save video is flushed")

	clk.Advance(40 * 24 * time.Hour)
	res, err = w.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Checked: 1, Deleted: 1}, res)
	assert.False(t, lib.Videos.Cached(done))

	n, err = lib.Videos.Count(ctx, persistence.ByID(done.ID()))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStatusSweep_DeletesStoredBannedVideos(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)}
	lib, pc := newLibrary(t, clk)

	v, err := lib.NewVideo(ctx, "main", nil)
	require.NoError(t, err)
	require.NoError(t, lib.Videos.Save(ctx, v))
	exec, err := pc.Connect(ctx)
	require.NoError(t, err)
	_, err = exec.Exec(ctx, `UPDATE "Video" SET status = 'BANNED' WHERE id = $1`, v.ID())
	require.NoError(t, err)
	lib.Videos.ClearCache()

	res, err := NewStatusSweepWorker(lib, pc).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Checked)
	assert.Equal(t, 1, res.Deleted)
}
