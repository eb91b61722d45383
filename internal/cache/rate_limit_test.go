package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		raw    string
		count  int
		period time.Duration
		err    bool
	}{
		{raw: "60/hour", count: 60, period: time.Hour},
		{raw: "1/second", count: 1, period: time.Second},
		{raw: "120 per minute", count: 120, period: time.Minute},
		{raw: "5/days", count: 5, period: 24 * time.Hour},
		{raw: ""},
		{raw: "ten/hour", err: true},
		{raw: "0/hour", err: true},
		{raw: "10/fortnight", err: true},
		{raw: "10", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			l, err := ParseLimit(tt.raw)
			if tt.err {
				assert.True(t, errors.Is(err, ErrInvalidLimit))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.count, l.Count)
			assert.Equal(t, tt.period, l.Period)
		})
	}
}

func TestLimiterFixedWindow(t *testing.T) {
	limit, err := ParseLimit("2/minute")
	require.NoError(t, err)
	l := NewLimiter(NewMemoryCounterStore(), limit, "complete")
	current := time.Date(2026, 1, 1, 10, 0, 5, 0, time.UTC)
	l.now = func() time.Time { return current }
	ctx := context.Background()

	for i, want := range []bool{true, true, false} {
		ok, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.Equal(t, want, ok, "hit %d", i)
	}

	ok, err := l.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ok, "clients are counted separately")

	current = current.Add(time.Minute)
	ok, err = l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok, "a new window starts from zero")
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(NewMemoryCounterStore(), Limit{}, "models")
	for i := 0; i < 100; i++ {
		ok, err := l.Allow(context.Background(), "c")
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestRedisCounterStore(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	opts, err := redisv9.ParseURL(url)
	require.NoError(t, err)
	client := redisv9.NewClient(opts)
	defer client.Close()

	store := NewRedisCounterStore(client)
	key := "ratelimit:test:" + time.Now().Format(time.RFC3339Nano)
	defer client.Del(context.Background(), key)

	n, err := store.Incr(context.Background(), key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = store.Incr(context.Background(), key, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
