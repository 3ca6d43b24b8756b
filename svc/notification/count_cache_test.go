package notification_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/auditdesk/portal/pkg/cache"
	"github.com/auditdesk/portal/svc/notification"
)

func TestMemoryCountCache(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := notification.NewMemoryCountCache(2, time.Minute, cache.WithClock[string, int](clock))
	ctx := context.Background()

	_, ok := c.Get(ctx, "u1")
	assert.False(t, ok)

	c.Set(ctx, "u1", 4, c.Generation(ctx, "u1"))
	n, ok := c.Get(ctx, "u1")
	assert.True(t, ok)
	assert.Equal(t, 4, n)

	c.Invalidate(ctx, "u1")
	_, ok = c.Get(ctx, "u1")
	assert.False(t, ok)

	c.Set(ctx, "u2", 1, c.Generation(ctx, "u2"))
	now = now.Add(2 * time.Minute)
	_, ok = c.Get(ctx, "u2")
	assert.False(t, ok, "expired")
}

func TestMemoryCountCache_InvalidateBeatsInFlightSet(t *testing.T) {
	t.Parallel()

	c := notification.NewMemoryCountCache(10, time.Minute)
	ctx := context.Background()

	gen := c.Generation(ctx, "u1")
	c.Invalidate(ctx, "u1")
	c.Set(ctx, "u1", 7, gen)
	_, ok := c.Get(ctx, "u1")
	assert.False(t, ok, "value counted before the invalidate is dropped")

	c.Set(ctx, "u1", 8, c.Generation(ctx, "u1"))
	n, ok := c.Get(ctx, "u1")
	assert.True(t, ok)
	assert.Equal(t, 8, n)

	assert.Equal(t, int64(0), c.Generation(ctx, "u2"), "other users are untouched")
}
