package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimiter(perMinute, perHour int) (*Limiter, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := NewLimiter(NewMemoryStore(), perMinute, perHour)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAllowUnderLimit(t *testing.T) {
	ctx := context.Background()
	l, _ := testLimiter(3, 100)

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "user_1", "tool_a")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d should be allowed", i+1)
	}
}

func TestDenyFourthWithRetryAfter(t *testing.T) {
	ctx := context.Background()
	l, _ := testLimiter(3, 100)

	for i := 0; i < 3; i++ {
		res, _ := l.Allow(ctx, "user_1", "tool_a")
		require.True(t, res.Allowed)
	}

	res, err := l.Allow(ctx, "user_1", "tool_a")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestDeniedRequestDoesNotCount(t *testing.T) {
	ctx := context.Background()
	l, now := testLimiter(2, 100)

	l.Allow(ctx, "u", "t")
	l.Allow(ctx, "u", "t")
	for i := 0; i < 5; i++ {
		res, _ := l.Allow(ctx, "u", "t")
		require.False(t, res.Allowed)
	}

	// Once the first two age out, capacity returns: the denials above did
	// not record anything.
	*now = now.Add(61 * time.Second)
	res, _ := l.Allow(ctx, "u", "t")
	assert.True(t, res.Allowed)
}

func TestKeysAreIsolated(t *testing.T) {
	ctx := context.Background()
	l, _ := testLimiter(1, 100)

	res, _ := l.Allow(ctx, "userA", "toolX")
	require.True(t, res.Allowed)
	res, _ = l.Allow(ctx, "userA", "toolX")
	require.False(t, res.Allowed)

	// Exhausting (userA, toolX) affects neither a different tool nor a
	// different subject.
	res, _ = l.Allow(ctx, "userA", "toolY")
	assert.True(t, res.Allowed)
	res, _ = l.Allow(ctx, "userB", "toolX")
	assert.True(t, res.Allowed)
}

func TestHourWindow(t *testing.T) {
	ctx := context.Background()
	l, now := testLimiter(10, 3)

	for i := 0; i < 3; i++ {
		res, _ := l.Allow(ctx, "u", "t")
		require.True(t, res.Allowed)
		*now = now.Add(2 * time.Minute)
	}

	// Minute window is clear but the hour window is full.
	res, _ := l.Allow(ctx, "u", "t")
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, res.RetryAfter, time.Hour)
}

func TestSlidingWindowRecovers(t *testing.T) {
	ctx := context.Background()
	l, now := testLimiter(2, 100)

	l.Allow(ctx, "u", "t")
	*now = now.Add(30 * time.Second)
	l.Allow(ctx, "u", "t")

	res, _ := l.Allow(ctx, "u", "t")
	require.False(t, res.Allowed)

	// 31s later the first admission has left the minute window.
	*now = now.Add(31 * time.Second)
	res, _ = l.Allow(ctx, "u", "t")
	assert.True(t, res.Allowed)
}

func TestMemoryStorePrunesOldEntries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, "k", base))
	require.NoError(t, s.Record(ctx, "k", base.Add(2*time.Hour)))

	assert.Len(t, s.entries["k"], 1)
}

func TestConcurrentAllowNoLostUpdates(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter(NewMemoryStore(), 50, 50)

	var wg sync.WaitGroup
	var mu sync.Mutex
	n := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Allow(ctx, "u", "t")
			assert.NoError(t, err)
			if res.Allowed {
				mu.Lock()
				n++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, n)
}
