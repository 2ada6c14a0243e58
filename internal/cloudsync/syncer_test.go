package cloudsync_test

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelkit.io/reelkit/internal/cloudsync"
	"reelkit.io/reelkit/internal/media"
	"reelkit.io/reelkit/internal/persistence"
	"reelkit.io/reelkit/internal/pkg/worker"
	"reelkit.io/reelkit/internal/testutil"
)

func newSyncer(t *testing.T) (*media.Library, *cloudsync.Syncer, afero.Fs) {
	t.Helper()
	ctx := context.Background()
	pc := testutil.NewSQLiteContext(t, testutil.SQLitePath(t), persistence.Options{})
	lib, err := media.NewLibrary(pc, media.Options{FS: afero.NewMemMapFs(), ExportDir: "/exports"})
	require.NoError(t, err)
	_, err = lib.AddAccount(ctx, media.AccountSpec{Uniquename: "main", Platforms: []string{"tiktok", "youtube"}}, false)
	require.NoError(t, err)

	pool, err := worker.NewPool("sync", 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Release(0) })

	mirror := afero.NewMemMapFs()
	s := cloudsync.New(lib, mirror, "/mirror", pool)
	lib.SetMirror(s)
	return lib, s, mirror
}

func exportFile(t *testing.T, lib *media.Library, v *media.Video, platform string) {
	t.Helper()
	require.NoError(t, lib.FS().MkdirAll(lib.VideoDir(v), 0o755))
	require.NoError(t, afero.WriteFile(lib.FS(), lib.ConvertedPath(v, platform), []byte("data-"+platform), 0o644))
}

func TestSyncer_InitiatePostMirrorsAndSaves(t *testing.T) {
	ctx := context.Background()
	lib, s, mirror := newSyncer(t)

	v, err := lib.NewVideo(ctx, "main", nil)
	require.NoError(t, err)
	exportFile(t, lib, v, "tiktok")

	out, err := lib.InitiatePost(ctx, v, "tiktok")
	require.NoError(t, err)
	assert.Equal(t, media.PostApplied, out)

	ok, err := s.Mirrored(v, "tiktok")
	require.NoError(t, err)
	assert.True(t, ok)
	data, err := afero.ReadFile(mirror, s.MirrorPath(v, "tiktok"))
	require.NoError(t, err)
	assert.Equal(t, "data-tiktok", string(data))

	n, err := lib.Videos.Count(ctx, persistence.ByID(v.ID()))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "mirrored video must be saved")

	require.NoError(t, v.SetStatus(ctx, media.VideoBanned))
	exists, err := afero.DirExists(mirror, "/mirror/"+v.ID())
	require.NoError(t, err)
	assert.False(t, exists, "deleting a video removes its mirror")
}

func TestSyncer_UploadAllUploaders(t *testing.T) {
	ctx := context.Background()
	lib, s, _ := newSyncer(t)

	v, err := lib.NewVideo(ctx, "main", nil)
	require.NoError(t, err)
	exportFile(t, lib, v, "tiktok")

	err = s.Upload(ctx, v)
	require.Error(t, err, "youtube file is not exported")
	ok, _ := s.Mirrored(v, "tiktok")
	assert.True(t, ok, "successful copies are kept")

	exportFile(t, lib, v, "youtube")
	require.NoError(t, s.Upload(ctx, v))
	ok, _ = s.Mirrored(v, "youtube")
	assert.True(t, ok)
}

func TestSyncer_MissingFileFailsInitiate(t *testing.T) {
	ctx := context.Background()
	lib, _, _ := newSyncer(t)

	v, err := lib.NewVideo(ctx, "main", nil)
	require.NoError(t, err)

	out, err := lib.InitiatePost(ctx, v, "tiktok")
	require.Error(t, err)
	assert.Equal(t, media.PostUnchanged, out)
	assert.Empty(t, v.PublicationDates)
}
