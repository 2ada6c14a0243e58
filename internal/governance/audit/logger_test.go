package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reelkit.io/reelkit/internal/persistence"
	"reelkit.io/reelkit/internal/testutil"
)

func TestLogger_LogAndList(t *testing.T) {
	ctx := context.Background()
	path := testutil.SQLitePath(t)
	l, err := NewLogger(testutil.NewSQLiteContext(t, path, persistence.Options{}))
	require.NoError(t, err)

	require.NoError(t, l.LogPostStep(ctx, "register", "v1", "tiktok", "applied", "bot"))
	require.NoError(t, l.LogAccountOperation(ctx, "delete", "main", "admin"))
	require.NoError(t, l.LogAction(ctx, "post.skip", ResourceVideo, "v2", "bot", nil))
	assert.Equal(t, 0, l.repo.CacheLen(), "entries are not cached")

	// A fresh context on the same file sees every entry.
	reopened, err := NewLogger(testutil.NewSQLiteContext(t, path, persistence.Options{}))
	require.NoError(t, err)

	all, err := reopened.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "post.skip", all[0].Action)
	assert.Equal(t, "post.register", all[2].Action)
	assert.Equal(t, map[string]any{"platform": "tiktok", "outcome": "applied"}, all[2].Details)
	assert.Equal(t, StatusRecorded, all[2].Status())

	videos, err := reopened.List(ctx, Filter{ResourceType: ResourceVideo, Actor: "bot", Limit: 1})
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, "v2", videos[0].ResourceID)

	accounts, err := reopened.List(ctx, Filter{ResourceType: ResourceAccount, ResourceID: "main"})
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "account.delete", accounts[0].Action)
	assert.Equal(t, "admin", accounts[0].Actor)
}

func TestGenerateAuditID(t *testing.T) {
	a, b := generateAuditID(), generateAuditID()
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^audit-[0-9a-f-]{36}$`, a)
}
