package persistence

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// tokenLayout renders a time at centisecond resolution, e.g.
// 18-10-2026_14-03-59-07. Tokens double as default ids.
const tokenLayout = "02-01-2006_15-04-05"

const tokenStep = 10 * time.Millisecond

// FormatToken renders t as a creation token. Tokens are always UTC so that
// increasing instants never render the same across a zone offset change.
func FormatToken(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s-%02d", t.Format(tokenLayout), t.Nanosecond()/int(tokenStep))
}

// ParseToken is the inverse of FormatToken. The result is in UTC.
func ParseToken(s string) (time.Time, error) {
	i := strings.LastIndexByte(s, '-')
	if i < 0 {
		return time.Time{}, fmt.Errorf("parse token %q: missing fraction", s)
	}
	base, err := time.ParseInLocation(tokenLayout, s[:i], time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse token %q: %w", s, err)
	}
	cs, err := strconv.Atoi(s[i+1:])
	if err != nil || cs < 0 || cs > 99 {
		return time.Time{}, fmt.Errorf("parse token %q: invalid fraction", s)
	}
	return base.Add(time.Duration(cs) * tokenStep), nil
}

// tokenClock issues strictly increasing creation tokens. When two requests
// land in the same centisecond the later one is pushed forward rather than
// sleeping.
type tokenClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func newTokenClock(now func() time.Time) *tokenClock {
	if now == nil {
		now = time.Now
	}
	return &tokenClock{now: now}
}

func (c *tokenClock) next() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().Truncate(tokenStep)
	if !t.After(c.last) {
		t = c.last.Add(tokenStep)
	}
	c.last = t
	return FormatToken(t)
}
