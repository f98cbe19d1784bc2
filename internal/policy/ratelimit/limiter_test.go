package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterWaitDelaysSameHost(t *testing.T) {
	t.Parallel()
	// 10 RPS = one token every 100ms, starting with one.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://api.twitter.com/2/tweets/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://api.twitter.com/2/tweets/2"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()
	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://graph.instagram.com/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.tiktok.com/@a/video/1"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 2, l.Hosts())
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	t.Parallel()
	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()
	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 20; i++ {
		require.NoError(t, l.Wait(ctx, "not a url"))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}
