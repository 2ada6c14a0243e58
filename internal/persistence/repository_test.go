package persistence_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelkit.io/reelkit/internal/persistence"
	apperrors "reelkit.io/reelkit/internal/pkg/errors"
	"reelkit.io/reelkit/internal/testutil"
)

const (
	clipNew    persistence.Status = "NEW"
	clipReady  persistence.Status = "READY"
	clipDone   persistence.Status = "DONE"
	clipBanned persistence.Status = "BANNED"
)

var clipStatuses = persistence.NewStatusSet(clipNew, clipBanned, clipNew, clipReady, clipDone)

type clip struct {
	persistence.Record
	Title  string            `db:"title"`
	Views  int64             `db:"views"`
	Score  float64           `db:"score"`
	Public bool              `db:"public"`
	Tags   []string          `db:"tags"`
	Dates  map[string]string `db:"dates"`
	Niche  string            `db:"niche" default:"COMMON"`
}

// hookLog counts hook invocations per status.
type hookLog struct {
	mu    sync.Mutex
	calls map[persistence.Status]int
}

func (h *hookLog) hook(s persistence.Status) persistence.Hook[*clip] {
	return func(context.Context, *persistence.Repository[*clip], *clip) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.calls == nil {
			h.calls = map[persistence.Status]int{}
		}
		h.calls[s]++
		return nil
	}
}

func (h *hookLog) count(s persistence.Status) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[s]
}

func clipType(h *hookLog) persistence.EntityType[*clip] {
	t := persistence.EntityType[*clip]{
		Name:     "Clip",
		Statuses: clipStatuses,
		Indexes: []persistence.Index{
			{Name: "idx_clip_status", Columns: []string{"status"}},
		},
		Hooks: map[persistence.Status]persistence.Hook[*clip]{
			clipBanned: func(ctx context.Context, repo *persistence.Repository[*clip], c *clip) error {
				return repo.Delete(ctx, c, persistence.DeleteOptions{})
			},
		},
	}
	if h != nil {
		for _, s := range []persistence.Status{clipNew, clipReady, clipDone} {
			t.Hooks[s] = h.hook(s)
		}
	}
	return t
}

func newClipRepo(t *testing.T, path string, h *hookLog) (*persistence.Context, *persistence.Repository[*clip]) {
	t.Helper()
	pc := testutil.NewSQLiteContext(t, path, persistence.Options{})
	repo, err := persistence.Register(pc, clipType(h))
	require.NoError(t, err)
	return pc, repo
}

func newClip(t *testing.T, repo *persistence.Repository[*clip], init func(*clip)) *clip {
	t.Helper()
	c, err := repo.New(context.Background(), init)
	require.NoError(t, err)
	return c
}

func TestRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := testutil.SQLitePath(t)
	_, repo := newClipRepo(t, path, nil)

	c := newClip(t, repo, func(c *clip) {
		c.Title = "sunset"
		c.Views = 1 << 40
		c.Score = 0.75
		c.Public = true
		c.Tags = []string{"sky", "sea"}
		c.Dates = map[string]string{"tiktok": "01-10-2026_10-00-00-00"}
		c.Metadata = "m"
	})
	require.NoError(t, c.SetStatus(ctx, clipReady))
	require.NoError(t, repo.Save(ctx, c))

	// A fresh context has an empty identity cache, so the row is decoded.
	_, other := newClipRepo(t, path, nil)
	got, found, err := other.Load(ctx, persistence.ByID(c.ID()))
	require.NoError(t, err)
	require.True(t, found)
	assert.NotSame(t, c, got)

	assert.Equal(t, c.ID(), got.ID())
	assert.Equal(t, c.CreationDate, got.CreationDate)
	assert.Equal(t, "m", got.Metadata)
	assert.Equal(t, clipReady, got.Status())
	assert.Equal(t, "sunset", got.Title)
	assert.Equal(t, int64(1<<40), got.Views)
	assert.Equal(t, 0.75, got.Score)
	assert.True(t, got.Public)
	assert.Equal(t, []string{"sky", "sea"}, got.Tags)
	assert.Equal(t, map[string]string{"tiktok": "01-10-2026_10-00-00-00"}, got.Dates)
	assert.Equal(t, "COMMON", got.Niche)
}

func TestRepository_IDDefaultsToCreationToken(t *testing.T) {
	_, repo := newClipRepo(t, testutil.SQLitePath(t), nil)

	a := newClip(t, repo, nil)
	b := newClip(t, repo, nil)
	assert.Equal(t, a.CreationDate, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, clipNew, a.Status())
	assert.Equal(t, []string{}, a.Tags)
	assert.Equal(t, "COMMON", a.Niche)
}

func TestRepository_UpsertIdempotence(t *testing.T) {
	ctx := context.Background()
	_, repo := newClipRepo(t, testutil.SQLitePath(t), nil)

	c := newClip(t, repo, func(c *clip) { c.Title = "first" })
	require.NoError(t, repo.Save(ctx, c))
	require.NoError(t, repo.Save(ctx, c))

	n, err := repo.Count(ctx, persistence.Query{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	c.Title = "second"
	require.NoError(t, repo.Save(ctx, c))
	n, err = repo.Count(ctx, persistence.ByID(c.ID()).Eq("title", "second"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, repo.Dirty())
	repo.MarkClean()
	assert.False(t, repo.Dirty())
}

func TestRepository_IdentityCoherence(t *testing.T) {
	ctx := context.Background()
	path := testutil.SQLitePath(t)
	_, writer := newClipRepo(t, path, nil)
	seed := newClip(t, writer, func(c *clip) { c.Title = "stored" })
	require.NoError(t, writer.Save(ctx, seed))

	_, repo := newClipRepo(t, path, nil)
	first, found, err := repo.Load(ctx, persistence.ByID(seed.ID()))
	require.NoError(t, err)
	require.True(t, found)

	first.Title = "edited in memory"
	second, found, err := repo.Load(ctx, persistence.Q(persistence.Where("title", "=", "stored")))
	require.NoError(t, err)
	require.True(t, found)
	assert.Same(t, first, second)
	assert.Equal(t, "edited in memory", second.Title)

	again, created, err := repo.GetOrCreate(ctx, seed.ID(), func(c *clip) { c.Title = "ignored" })
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, first, again)
	assert.Equal(t, "edited in memory", again.Title)
}

func TestRepository_GetOrCreateFresh(t *testing.T) {
	ctx := context.Background()
	_, repo := newClipRepo(t, testutil.SQLitePath(t), nil)

	c, created, err := repo.GetOrCreate(ctx, "custom-id", func(c *clip) {
		c.Title = "t"
		_ = c.SetStatus(ctx, clipReady)
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "custom-id", c.ID())
	assert.Equal(t, clipReady, c.Status())
	assert.True(t, repo.Cached(c))

	n, err := repo.Count(ctx, persistence.Query{})
	require.NoError(t, err)
	assert.Zero(t, n, "creation does not write")

	_, _, err = repo.GetOrCreate(ctx, "bad-status", func(c *clip) { _ = c.SetStatus(ctx, "LOST") })
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidStatus))
}

func TestRepository_StatusDispatchOncePerTransition(t *testing.T) {
	ctx := context.Background()
	h := &hookLog{}
	_, repo := newClipRepo(t, testutil.SQLitePath(t), h)

	c := newClip(t, repo, nil)
	assert.Equal(t, 1, h.count(clipNew), "initialization dispatches once")

	require.NoError(t, c.SetStatus(ctx, clipReady))
	require.NoError(t, c.SetStatus(ctx, clipReady))
	assert.Equal(t, 1, h.count(clipReady))

	require.NoError(t, c.SetStatus(ctx, clipDone))
	require.NoError(t, c.SetStatus(ctx, ""))
	assert.Equal(t, 1, h.count(clipDone))
	assert.Equal(t, 2, h.count(clipNew), "empty status resolves to the default")
	assert.Equal(t, clipNew, c.Status())

	err := c.SetStatus(ctx, "LOST")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidStatus))
	assert.Equal(t, clipNew, c.Status())
}

func TestRepository_ReconcileAdjustsWithoutRedispatch(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewSQLiteContext(t, testutil.SQLitePath(t), persistence.Options{})
	h := &hookLog{}
	typ := clipType(h)
	// DONE needs a publication date; otherwise the clip stays READY.
	typ.Reconcile = func(c *clip) persistence.Status {
		if c.Status() == clipDone && len(c.Dates) == 0 {
			return clipReady
		}
		return ""
	}
	repo, err := persistence.Register(pc, typ)
	require.NoError(t, err)

	c := newClip(t, repo, func(c *clip) { _ = c.SetStatus(ctx, clipReady) })
	require.NoError(t, c.SetStatus(ctx, clipDone))
	assert.Equal(t, clipReady, c.Status())
	assert.Equal(t, 0, h.count(clipDone))
	assert.Equal(t, 1, h.count(clipReady))

	c.Dates = map[string]string{"x": "18-10-2026_10-00-00-00"}
	require.NoError(t, c.SetStatus(ctx, clipDone))
	assert.Equal(t, clipDone, c.Status())
	assert.Equal(t, 1, h.count(clipDone))
}

func TestRepository_HookErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewSQLiteContext(t, testutil.SQLitePath(t), persistence.Options{})
	boom := errors.New("boom")
	typ := clipType(nil)
	typ.Hooks[clipDone] = func(context.Context, *persistence.Repository[*clip], *clip) error { return boom }
	repo, err := persistence.Register(pc, typ)
	require.NoError(t, err)

	c := newClip(t, repo, nil)
	err = c.SetStatus(ctx, clipDone)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, clipDone, c.Status())
}

func TestRepository_HookDeletesDuringHydration(t *testing.T) {
	ctx := context.Background()
	path := testutil.SQLitePath(t)

	_, writer := newClipRepo(t, path, nil)
	banned := newClip(t, writer, nil)
	require.NoError(t, writer.Save(ctx, banned))
	// Write BANNED without going through the hook, as another process might.
	writer.Evict(banned)
	require.NoError(t, banned.SetStatus(ctx, clipBanned))
	require.NoError(t, writer.Save(ctx, banned))

	_, reader := newClipRepo(t, path, nil)
	_, found, err := reader.Load(ctx, persistence.ByID(banned.ID()))
	require.NoError(t, err)
	assert.False(t, found, "the BANNED hook deletes the clip while it loads")

	n, err := reader.LoadColumn(ctx, "id")
	require.NoError(t, err)
	assert.Empty(t, n)
}

func TestRepository_DeleteAndArchive(t *testing.T) {
	ctx := context.Background()
	path := testutil.SQLitePath(t)
	_, repo := newClipRepo(t, path, nil)

	gone := newClip(t, repo, nil)
	archived := newClip(t, repo, nil)
	require.NoError(t, repo.Save(ctx, gone))
	require.NoError(t, repo.Save(ctx, archived))
	archived.SetAutoSave(true)

	require.NoError(t, repo.Delete(ctx, gone, persistence.DeleteOptions{}))
	require.NoError(t, repo.Delete(ctx, archived, persistence.DeleteOptions{Archive: true}))
	assert.False(t, archived.AutoSave())
	assert.False(t, repo.Cached(archived))

	// Deleting twice is a logged no-op.
	require.NoError(t, repo.Delete(ctx, gone, persistence.DeleteOptions{}))

	_, reader := newClipRepo(t, path, nil)
	_, found, err := reader.Load(ctx, persistence.ByID(archived.ID()))
	require.NoError(t, err)
	assert.False(t, found, "archived rows are not found")

	_, err = reader.Get(ctx, archived.ID())
	assert.True(t, apperrors.HasCode(err, apperrors.CodeEntityNotFound))

	ids, err := reader.LoadColumn(ctx, "id")
	require.NoError(t, err)
	assert.Equal(t, []any{archived.ID()}, ids, "the tombstone keeps its id")

	statuses, err := reader.LoadColumn(ctx, "status")
	require.NoError(t, err)
	assert.Equal(t, []any{nil}, statuses)

	purged, err := reader.PurgeArchived(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestRepository_StreamAndLoadMany(t *testing.T) {
	ctx := context.Background()
	path := testutil.SQLitePath(t)
	_, repo := newClipRepo(t, path, nil)

	for i, title := range []string{"a", "b", "c", "d"} {
		c := newClip(t, repo, func(c *clip) {
			c.Title = title
			c.Views = int64(i * 10)
			c.Tags = []string{title, "all"}
		})
		require.NoError(t, repo.Save(ctx, c))
	}

	_, reader := newClipRepo(t, path, nil)
	coll, err := reader.LoadMany(ctx, persistence.Q(persistence.Where("views", ">=", 10)))
	require.NoError(t, err)
	assert.Equal(t, 3, coll.Len())

	var titles []string
	for c, err := range reader.Stream(ctx, persistence.Q(persistence.Where("tags", "CONTAINS", "b"))) {
		require.NoError(t, err)
		titles = append(titles, c.Title)
	}
	assert.Equal(t, []string{"b"}, titles)

	limited, err := reader.LoadMany(ctx, persistence.Query{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, limited.Len())

	_, err = reader.LoadMany(ctx, persistence.Q(persistence.Where("nope", "=", 1)))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidFilter))
}

func TestRepository_DefaultFilterDistinguishesNull(t *testing.T) {
	ctx := context.Background()
	_, repo := newClipRepo(t, testutil.SQLitePath(t), nil)

	common := newClip(t, repo, nil)
	custom := newClip(t, repo, func(c *clip) { c.Niche = "GAMING" })
	require.NoError(t, repo.Save(ctx, common))
	require.NoError(t, repo.Save(ctx, custom))

	n, err := repo.Count(ctx, persistence.Q(persistence.Where("niche", "=", persistence.Default)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.Count(ctx, persistence.Q(persistence.Where("niche", "!=", persistence.Default)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.Count(ctx, persistence.Q(persistence.Where("niche", "=", nil)))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRepository_ClearDataAndDeleteRow(t *testing.T) {
	ctx := context.Background()
	_, repo := newClipRepo(t, testutil.SQLitePath(t), nil)

	a := newClip(t, repo, nil)
	b := newClip(t, repo, nil)
	require.NoError(t, repo.Save(ctx, a))
	require.NoError(t, repo.Save(ctx, b))

	require.NoError(t, repo.DeleteRow(ctx, a.ID()))
	assert.Zero(t, repo.CacheLen())
	n, err := repo.Count(ctx, persistence.Query{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, repo.ClearData(ctx))
	n, err = repo.Count(ctx, persistence.Query{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRepository_AsMapAndInfo(t *testing.T) {
	_, repo := newClipRepo(t, testutil.SQLitePath(t), nil)
	c := newClip(t, repo, func(c *clip) { c.Title = "x" })

	m := repo.AsMap(c)
	assert.Equal(t, c.ID(), m["id"])
	assert.Equal(t, "x", m["title"])
	assert.Equal(t, clipNew, m["status"])

	info := repo.Info(c)
	assert.Contains(t, info, "Clip:\n")
	assert.Contains(t, info, " - title: x\n")
}

func TestRegister_Rejections(t *testing.T) {
	pc := testutil.NewSQLiteContext(t, testutil.SQLitePath(t), persistence.Options{})

	_, err := persistence.Register(pc, clipType(nil))
	require.NoError(t, err)
	_, err = persistence.Register(pc, clipType(nil))
	assert.True(t, apperrors.HasCode(err, apperrors.CodeDuplicateType))

	type broken struct {
		persistence.Record
		Fn func() `db:"fn"`
	}
	_, err = persistence.Register(pc, persistence.EntityType[*broken]{Statuses: persistence.NewStatusSet("NEW")})
	assert.True(t, apperrors.HasCode(err, apperrors.CodeUnsupportedField))

	other := clipType(nil)
	other.Name = "Clip2"
	other.Indexes = []persistence.Index{{Name: "idx_bad", Columns: []string{"missing"}}}
	_, err = persistence.Register(pc, other)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidFilter))

	noDefault := clipType(nil)
	noDefault.Name = "Clip3"
	noDefault.Statuses = persistence.StatusSet{}
	_, err = persistence.Register(pc, noDefault)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConfigInvalid))
}

func TestRepository_ConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	_, repo := newClipRepo(t, testutil.SQLitePath(t), nil)

	clips := make([]*clip, 20)
	for i := range clips {
		clips[i] = newClip(t, repo, nil)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(clips))
	for _, c := range clips {
		wg.Add(1)
		go func(c *clip) {
			defer wg.Done()
			errs <- repo.Save(ctx, c)
		}(c)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	n, err := repo.Count(ctx, persistence.Query{})
	require.NoError(t, err)
	assert.Equal(t, int64(len(clips)), n)
}

func TestRepository_ClockOption(t *testing.T) {
	fixed := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	pc := testutil.NewSQLiteContext(t, testutil.SQLitePath(t), persistence.Options{Now: func() time.Time { return fixed }})
	repo, err := persistence.Register(pc, clipType(nil))
	require.NoError(t, err)

	a := newClip(t, repo, nil)
	b := newClip(t, repo, nil)
	assert.Equal(t, "18-10-2026_12-00-00-00", a.ID())
	assert.Equal(t, "18-10-2026_12-00-00-01", b.ID())
}

func TestRepository_NewAcrossZoneChange(t *testing.T) {
	edt := time.FixedZone("EDT", -4*3600)
	est := time.FixedZone("EST", -5*3600)
	// 01:30 local twice on the night clocks fall back.
	times := []time.Time{
		time.Date(2026, 11, 1, 1, 30, 0, 0, edt),
		time.Date(2026, 11, 1, 1, 30, 0, 0, est),
	}
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tm := times[0]
		if len(times) > 1 {
			times = times[1:]
		}
		return tm
	}
	pc := testutil.NewSQLiteContext(t, testutil.SQLitePath(t), persistence.Options{Now: now})
	repo, err := persistence.Register(pc, clipType(nil))
	require.NoError(t, err)

	a := newClip(t, repo, func(c *clip) { c.Title = "first" })
	b := newClip(t, repo, func(c *clip) { c.Title = "second" })
	assert.Equal(t, "01-11-2026_05-30-00-00", a.ID())
	assert.Equal(t, "01-11-2026_06-30-00-00", b.ID())
	assert.NotSame(t, a, b)
	assert.Equal(t, "first", a.Title)
	assert.Equal(t, "second", b.Title)
}

func TestRepository_NewSkipsTakenToken(t *testing.T) {
	ctx := context.Background()
	path := testutil.SQLitePath(t)
	fixed := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	opts := persistence.Options{Now: func() time.Time { return fixed }}

	pc1 := testutil.NewSQLiteContext(t, path, opts)
	repo1, err := persistence.Register(pc1, clipType(nil))
	require.NoError(t, err)
	old := newClip(t, repo1, func(c *clip) { c.Title = "old" })
	require.NoError(t, repo1.Save(ctx, old))
	require.NoError(t, pc1.Close(ctx))

	// A fresh context restarts the clock at the same instant.
	pc2 := testutil.NewSQLiteContext(t, path, opts)
	repo2, err := persistence.Register(pc2, clipType(nil))
	require.NoError(t, err)
	loaded, err := repo2.Get(ctx, old.ID())
	require.NoError(t, err)

	fresh := newClip(t, repo2, func(c *clip) { c.Title = "new" })
	assert.NotSame(t, loaded, fresh)
	assert.NotEqual(t, old.ID(), fresh.ID())
	assert.Equal(t, "new", fresh.Title)
	assert.Equal(t, "old", loaded.Title)
}
