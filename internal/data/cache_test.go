package data

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable clock for lazy expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestRedisBackend_RoundTrip(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	b := NewRedisBackend(rdb)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "dashboard:metrics:all", []byte(`{"grand_total":7}`), time.Minute))

	got, err := b.Get(ctx, "dashboard:metrics:all")
	require.NoError(t, err)
	assert.JSONEq(t, `{"grand_total":7}`, string(got))
	assert.Equal(t, time.Minute, mr.TTL("dashboard:metrics:all"))
	assert.Equal(t, "redis", b.Name())
	assert.NoError(t, b.Ping(ctx))
}

func TestRedisBackend_NotFoundAndExpiry(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	b := NewRedisBackend(rdb)
	ctx := context.Background()

	_, err := b.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheNotFound)

	require.NoError(t, b.Set(ctx, "k", []byte("v"), 10*time.Second))
	mr.FastForward(11 * time.Second)

	_, err = b.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheNotFound)
}

func TestRedisBackend_Delete(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	b := NewRedisBackend(rdb)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, b.Delete(ctx, "k"))
	assert.False(t, mr.Exists("k"))
}

func TestRedisBackend_Unreachable(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	b := NewRedisBackend(rdb)
	mr.Close()

	ctx := context.Background()
	assert.Error(t, b.Ping(ctx))

	_, err := b.Get(ctx, "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheNotFound)
}

func TestRedisBackend_NilClient(t *testing.T) {
	b := NewRedisBackend(nil)
	ctx := context.Background()

	assert.ErrorIs(t, b.Ping(ctx), errNoRedis)
	_, err := b.Get(ctx, "k")
	assert.ErrorIs(t, err, errNoRedis)
	assert.ErrorIs(t, b.Set(ctx, "k", nil, time.Second), errNoRedis)
	assert.ErrorIs(t, b.Delete(ctx, "k"), errNoRedis)
}

func TestLocalBackend_RoundTripWithinTTL(t *testing.T) {
	clock := newFakeClock()
	b, err := newLocalBackend(8, clock.Now)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", []byte("value"), time.Minute))
	clock.Advance(59 * time.Second)

	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)
}

func TestLocalBackend_LazyExpiry(t *testing.T) {
	clock := newFakeClock()
	b, err := newLocalBackend(8, clock.Now)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", []byte("value"), time.Minute))
	clock.Advance(time.Minute)

	// still physically present until read
	assert.True(t, b.entries.Contains("k"))

	_, err = b.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheNotFound)
	assert.False(t, b.entries.Contains("k"))
}

func TestLocalBackend_CopiesValue(t *testing.T) {
	b, err := newLocalBackend(8, time.Now)
	require.NoError(t, err)
	ctx := context.Background()

	value := []byte("abc")
	require.NoError(t, b.Set(ctx, "k", value, time.Minute))
	value[0] = 'x'

	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestLocalBackend_Eviction(t *testing.T) {
	b, err := newLocalBackend(2, time.Now)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, b.Set(ctx, "b", []byte("2"), time.Minute))
	require.NoError(t, b.Set(ctx, "c", []byte("3"), time.Minute))

	_, err = b.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheNotFound)
	_, err = b.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestLocalBackend_RejectsNonPositiveTTL(t *testing.T) {
	b, err := newLocalBackend(0, time.Now)
	require.NoError(t, err)

	assert.Error(t, b.Set(context.Background(), "k", []byte("v"), 0))
	assert.Equal(t, "local", b.Name())
	assert.NoError(t, b.Ping(context.Background()))
}

func TestBuildCacheKey(t *testing.T) {
	tests := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{CacheKeyDashboard, []string{"metrics", "all"}, "dashboard:metrics:all"},
		{"helpdeskpulse", []string{"dashboard:metrics:2024-01-01:2024-01-31"}, "helpdeskpulse:dashboard:metrics:2024-01-01:2024-01-31"},
		{"", []string{"probe"}, "probe"},
		{CacheKeyProbe, nil, "probe"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, BuildCacheKey(tt.prefix, tt.parts...))
	}
}
