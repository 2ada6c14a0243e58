package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"reelkit.io/reelkit/internal/api/middleware"
	"reelkit.io/reelkit/internal/governance/audit"
	"reelkit.io/reelkit/internal/media"
	"reelkit.io/reelkit/internal/persistence"
	"reelkit.io/reelkit/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testJWT = middleware.JWTConfig{
	SigningKey: []byte("handlers-test-key-123456789012345678"),
	Issuer:     "reelkit",
	ExpiresIn:  time.Hour,
}

type fakeJobs struct {
	inserted []river.JobArgs
}

func (f *fakeJobs) Insert(_ context.Context, args river.JobArgs, _ *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	f.inserted = append(f.inserted, args)
	return &rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: int64(len(f.inserted))}}, nil
}

type testEnv struct {
	srv    *Server
	lib    *media.Library
	pc     *persistence.Context
	fs     afero.Fs
	jobs   *fakeJobs
	router *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	pc := testutil.NewSQLiteContext(t, testutil.SQLitePath(t), persistence.Options{})
	fs := afero.NewMemMapFs()
	lib, err := media.NewLibrary(pc, media.Options{FS: fs, ExportDir: "/exports"})
	require.NoError(t, err)
	_, err = lib.AddAccount(context.Background(), media.AccountSpec{
		Uniquename: "main",
		Name:       "Main",
		Platforms:  []string{"tiktok", "youtube"},
	}, false)
	require.NoError(t, err)

	auditLog, err := audit.NewLogger(pc)
	require.NoError(t, err)

	jobs := &fakeJobs{}
	srv := NewServer(ServerDeps{Library: lib, Context: pc, JWTCfg: testJWT, Jobs: jobs, Audit: auditLog})
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.ErrorHandler())
	srv.Register(router)
	return &testEnv{srv: srv, lib: lib, pc: pc, fs: fs, jobs: jobs, router: router}
}

func (e *testEnv) token(t *testing.T, scopes ...string) string {
	t.Helper()
	tok, _, err := middleware.GenerateToken(testJWT, "test-bot", scopes)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// exportedVideo stores a video whose converted tiktok and youtube files exist.
func (e *testEnv) exportedVideo(t *testing.T) *media.Video {
	t.Helper()
	ctx := context.Background()
	v, err := e.lib.NewVideo(ctx, "main", func(v *media.Video) {
		v.Description = "hello"
		v.Hashtags = []string{"fyp"}
	})
	require.NoError(t, err)
	require.NoError(t, v.SetStatus(ctx, media.VideoReady))
	require.NoError(t, e.fs.MkdirAll(e.lib.VideoDir(v), 0o755))
	for _, p := range []string{"tiktok", "youtube"} {
		require.NoError(t, afero.WriteFile(e.fs, e.lib.ConvertedPath(v, p), []byte("mp4"), 0o644))
	}
	require.NoError(t, e.lib.Videos.Save(ctx, v))
	return v
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v body=%s", err, w.Body.String())
	}
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodGet, "/health/live", "", ""); w.Code != http.StatusOK {
		t.Fatalf("live status = %d, want %d", w.Code, http.StatusOK)
	}
	w := env.do(t, http.MethodGet, "/health/ready", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("ready status = %d, want %d body=%s", w.Code, http.StatusOK, w.Body.String())
	}
	if got := decode[Health](t, w).Checks["database"]; got != "ok" {
		t.Fatalf("database check = %q, want ok", got)
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	if w := env.do(t, http.MethodGet, "/accounts", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	readOnly := env.token(t, middleware.ScopePostsRead)
	if w := env.do(t, http.MethodPost, "/accounts", `{"uniquename":"x"}`, readOnly); w.Code != http.StatusForbidden {
		t.Fatalf("create with read scope = %d, want %d", w.Code, http.StatusForbidden)
	}
}
