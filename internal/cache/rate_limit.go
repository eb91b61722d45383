package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	redisv9 "github.com/redis/go-redis/v9"
)

var ErrInvalidLimit = errors.New("invalid rate limit")

// Limit is a parsed "<count>/<period>" expression such as "60/hour".
type Limit struct {
	Count  int
	Period time.Duration
	Raw    string
}

func (l Limit) String() string { return l.Raw }

// ParseLimit accepts "<n>/<second|minute|hour|day>" and "<n> per <period>".
// An empty string means no limit and returns a zero Limit.
func ParseLimit(raw string) (Limit, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Limit{}, nil
	}
	count, unit, ok := strings.Cut(raw, "/")
	if !ok {
		count, unit, ok = strings.Cut(raw, " per ")
	}
	if !ok {
		return Limit{}, fmt.Errorf("%w: %q", ErrInvalidLimit, raw)
	}
	n, err := strconv.Atoi(strings.TrimSpace(count))
	if err != nil || n <= 0 {
		return Limit{}, fmt.Errorf("%w: %q", ErrInvalidLimit, raw)
	}

	var period time.Duration
	switch strings.TrimSuffix(strings.ToLower(strings.TrimSpace(unit)), "s") {
	case "second":
		period = time.Second
	case "minute":
		period = time.Minute
	case "hour":
		period = time.Hour
	case "day":
		period = 24 * time.Hour
	default:
		return Limit{}, fmt.Errorf("%w: %q", ErrInvalidLimit, raw)
	}
	return Limit{Count: n, Period: period, Raw: raw}, nil
}

func (l Limit) Enabled() bool { return l.Count > 0 }

// CounterStore increments a counter that expires after window.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type RedisCounterStore struct {
	client *redisv9.Client
}

func NewRedisCounterStore(client *redisv9.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client}
}

func (s *RedisCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr rate counter failed: %w", err)
	}
	return incr.Val(), nil
}

// MemoryCounterStore keeps counters in process, for single-instance deployments.
type MemoryCounterStore struct {
	mu    sync.Mutex
	items *gocache.Cache
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{items: gocache.New(time.Minute, 5*time.Minute)}
}

func (s *MemoryCounterStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.items.Add(key, int64(1), window); err == nil {
		return 1, nil
	}
	n, err := s.items.IncrementInt64(key, 1)
	if err != nil {
		return 0, fmt.Errorf("memory incr rate counter failed: %w", err)
	}
	return n, nil
}

// Limiter applies one Limit per client using fixed windows.
type Limiter struct {
	store  CounterStore
	limit  Limit
	prefix string
	now    func() time.Time
}

func NewLimiter(store CounterStore, limit Limit, prefix string) *Limiter {
	return &Limiter{store: store, limit: limit, prefix: prefix, now: time.Now}
}

func (l *Limiter) Limit() Limit { return l.limit }

// Allow counts one hit for client and reports whether it is within the limit.
func (l *Limiter) Allow(ctx context.Context, client string) (bool, error) {
	if !l.limit.Enabled() {
		return true, nil
	}
	n, err := l.store.Incr(ctx, l.key(client), l.limit.Period)
	if err != nil {
		return false, err
	}
	return n <= int64(l.limit.Count), nil
}

func (l *Limiter) key(client string) string {
	window := l.now().Truncate(l.limit.Period).Unix()
	return fmt.Sprintf("ratelimit:%s:%s:%d", l.prefix, client, window)
}
