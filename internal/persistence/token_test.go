package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatToken(t *testing.T) {
	ts := time.Date(2026, 10, 18, 14, 3, 59, 76_000_000, time.UTC)
	assert.Equal(t, "18-10-2026_14-03-59-07", FormatToken(ts))

	back, err := ParseToken("18-10-2026_14-03-59-07")
	require.NoError(t, err)
	assert.True(t, back.Equal(ts.Truncate(tokenStep)))

	_, err = ParseToken("18-10-2026_14-03-59")
	assert.Error(t, err)
	_, err = ParseToken("garbage-xx")
	assert.Error(t, err)
}

func TestTokenClock_StrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	c := newTokenClock(func() time.Time { return fixed })

	seen := map[string]bool{}
	var prev time.Time
	for i := 0; i < 250; i++ {
		tok := c.next()
		require.False(t, seen[tok], "duplicate token %s", tok)
		seen[tok] = true

		ts, err := ParseToken(tok)
		require.NoError(t, err)
		require.True(t, ts.After(prev) || i == 0)
		prev = ts
	}
}

func TestFormatToken_UTC(t *testing.T) {
	edt := time.FixedZone("EDT", -4*3600)
	est := time.FixedZone("EST", -5*3600)
	a := time.Date(2026, 11, 1, 1, 30, 0, 0, edt)
	b := time.Date(2026, 11, 1, 1, 30, 0, 0, est)
	require.True(t, b.After(a))

	assert.Equal(t, "01-11-2026_05-30-00-00", FormatToken(a))
	assert.NotEqual(t, FormatToken(a), FormatToken(b))

	back, err := ParseToken(FormatToken(b))
	require.NoError(t, err)
	assert.True(t, back.Equal(b))
}
