package data

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"HelpdeskPulse/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dashboardValue struct {
	GrandTotal int64            `json:"grand_total"`
	Counters   map[string]int64 `json:"counters"`
}

func newTestLayer(t *testing.T, shared Backend) (*CacheLayer, *localBackend, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	local, err := newLocalBackend(64, clock.Now)
	require.NoError(t, err)

	layer, err := newCacheLayer(shared, local, "helpdeskpulse", -1, log.DefaultLogger)
	require.NoError(t, err)
	t.Cleanup(layer.Close)
	return layer, local, clock
}

// flakyBackend wraps a backend and fails on demand.
type flakyBackend struct {
	Backend
	down atomic.Bool
}

var errBackendDown = errors.New("connection refused")

func (f *flakyBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if f.down.Load() {
		return nil, errBackendDown
	}
	return f.Backend.Get(ctx, key)
}

func (f *flakyBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.down.Load() {
		return errBackendDown
	}
	return f.Backend.Set(ctx, key, value, ttl)
}

func (f *flakyBackend) Ping(ctx context.Context) error {
	if f.down.Load() {
		return errBackendDown
	}
	return f.Backend.Ping(ctx)
}

func TestCacheLayer_RoundTripShared(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	layer, _, _ := newTestLayer(t, NewRedisBackend(rdb))
	ctx := context.Background()

	want := dashboardValue{GrandTotal: 12, Counters: map[string]int64{"N1.new": 5, "N2.new": 7}}
	require.NoError(t, layer.Set(ctx, "dashboard:metrics:all", want, 5*time.Minute))

	assert.True(t, mr.Exists("helpdeskpulse:dashboard:metrics:all"))

	var got dashboardValue
	ok, err := layer.Get(ctx, "dashboard:metrics:all", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, "redis", layer.Info().Backend)
}

func TestCacheLayer_ExpiresAfterTTL(t *testing.T) {
	t.Run("shared", func(t *testing.T) {
		rdb, mr := setupTestRedis(t)
		layer, _, _ := newTestLayer(t, NewRedisBackend(rdb))
		ctx := context.Background()

		require.NoError(t, layer.Set(ctx, "k", dashboardValue{GrandTotal: 1}, time.Minute))
		mr.FastForward(time.Minute)

		var got dashboardValue
		ok, err := layer.Get(ctx, "k", &got)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("local", func(t *testing.T) {
		layer, local, clock := newTestLayer(t, NewRedisBackend(nil))
		ctx := context.Background()

		require.NoError(t, layer.Set(ctx, "k", dashboardValue{GrandTotal: 1}, time.Minute))
		clock.Advance(30 * time.Second)

		var got dashboardValue
		ok, err := layer.Get(ctx, "k", &got)
		require.NoError(t, err)
		assert.True(t, ok)

		clock.Advance(30 * time.Second)
		assert.True(t, local.entries.Contains("helpdeskpulse:k"))

		ok, err = layer.Get(ctx, "k", &got)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCacheLayer_StartsOnLocalWhenSharedDown(t *testing.T) {
	layer, local, _ := newTestLayer(t, NewRedisBackend(nil))
	ctx := context.Background()

	info := layer.Info()
	assert.Equal(t, "local", info.Backend)
	assert.False(t, info.Healthy)
	assert.False(t, info.LastProbe.IsZero())

	require.NoError(t, layer.Set(ctx, "k", dashboardValue{GrandTotal: 3}, time.Minute))
	assert.True(t, local.entries.Contains("helpdeskpulse:k"))
}

func TestCacheLayer_FallbackAndRestore(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	shared := &flakyBackend{Backend: NewRedisBackend(rdb)}
	layer, _, _ := newTestLayer(t, shared)
	ctx := context.Background()
	require.Equal(t, "redis", layer.Info().Backend)

	shared.down.Store(true)

	// the failing write is served by the local backend without surfacing an error
	require.NoError(t, layer.Set(ctx, "k", dashboardValue{GrandTotal: 4}, time.Minute))
	assert.Equal(t, "local", layer.Info().Backend)
	assert.Equal(t, int64(1), layer.Info().Errors)

	var got dashboardValue
	ok, err := layer.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(4), got.GrandTotal)

	// probe keeps local routing while shared is down
	layer.Probe(ctx)
	assert.Equal(t, "local", layer.Info().Backend)

	shared.down.Store(false)
	layer.Probe(ctx)
	info := layer.Info()
	assert.Equal(t, "redis", info.Backend)
	assert.True(t, info.Healthy)

	ok, err = layer.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok, "entries written during the outage stay local")
}

func TestCacheLayer_GetFailureFallsBackToLocal(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	shared := &flakyBackend{Backend: NewRedisBackend(rdb)}
	layer, local, _ := newTestLayer(t, shared)
	ctx := context.Background()

	require.NoError(t, local.Set(ctx, "helpdeskpulse:k", []byte(`{"grand_total":9}`), time.Minute))
	shared.down.Store(true)

	var got dashboardValue
	ok, err := layer.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(9), got.GrandTotal)

	info := layer.Info()
	assert.Equal(t, "local", info.Backend)
	assert.Equal(t, int64(1), info.Errors)
	assert.Equal(t, int64(0), info.Hits)
}

func TestCacheLayer_RedisOutageWithMiniredis(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	layer, _, _ := newTestLayer(t, NewRedisBackend(rdb))
	ctx := context.Background()

	mr.Close()

	var got dashboardValue
	ok, err := layer.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "local", layer.Info().Backend)

	require.NoError(t, mr.Restart())
	layer.Probe(ctx)
	assert.Equal(t, "redis", layer.Info().Backend)
}

func TestCacheLayer_Counters(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	layer, _, _ := newTestLayer(t, NewRedisBackend(rdb))
	ctx := context.Background()

	var got dashboardValue
	_, _ = layer.Get(ctx, "a", &got) // miss
	require.NoError(t, layer.Set(ctx, "a", dashboardValue{GrandTotal: 1}, time.Minute))

	// A stored value only feeds latency
	afterSet := layer.Info()
	assert.Equal(t, int64(0), afterSet.Hits)
	assert.Equal(t, int64(1), afterSet.Misses)
	assert.Equal(t, int64(0), afterSet.Errors)
	assert.InDelta(t, 0.0, afterSet.HitRate, 1e-9)

	_, _ = layer.Get(ctx, "a", &got) // hit
	_, _ = layer.Get(ctx, "a", &got) // hit
	_, _ = layer.Get(ctx, "b", &got) // miss

	info := layer.Info()
	assert.Equal(t, int64(2), info.Hits)
	assert.Equal(t, int64(2), info.Misses)
	assert.Equal(t, int64(0), info.Errors)
	assert.InDelta(t, 0.5, info.HitRate, 1e-9)
	assert.GreaterOrEqual(t, info.AvgLatencyMs, 0.0)
}

func TestCacheLayer_DecodeError(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	layer, _, _ := newTestLayer(t, NewRedisBackend(rdb))
	require.NoError(t, mr.Set("helpdeskpulse:k", "not json"))

	var got dashboardValue
	ok, err := layer.Get(context.Background(), "k", &got)
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal")
	assert.Equal(t, int64(1), layer.Info().Errors)
	assert.Equal(t, "redis", layer.Info().Backend, "a bad value is not a backend failure")
}

func TestCacheLayer_SetRejectsBadInput(t *testing.T) {
	layer, _, _ := newTestLayer(t, NewRedisBackend(nil))
	ctx := context.Background()

	assert.Error(t, layer.Set(ctx, "k", dashboardValue{}, 0))
	assert.Error(t, layer.Set(ctx, "k", make(chan int), time.Minute))
	assert.Equal(t, int64(2), layer.Info().Errors)
}

func TestCacheLayer_Delete(t *testing.T) {
	rdb, mr := setupTestRedis(t)
	layer, _, _ := newTestLayer(t, NewRedisBackend(rdb))
	ctx := context.Background()

	require.NoError(t, layer.Set(ctx, "k", dashboardValue{GrandTotal: 1}, time.Minute))
	require.NoError(t, layer.Delete(ctx, "k"))
	assert.False(t, mr.Exists("helpdeskpulse:k"))
}

func TestCacheLayer_ScheduledProbe(t *testing.T) {
	rdb, _ := setupTestRedis(t)
	shared := &flakyBackend{Backend: NewRedisBackend(rdb)}
	shared.down.Store(true)

	local, err := newLocalBackend(8, time.Now)
	require.NoError(t, err)
	layer, err := newCacheLayer(shared, local, "", time.Second, log.DefaultLogger)
	require.NoError(t, err)
	defer layer.Close()

	require.Equal(t, "local", layer.Info().Backend)
	shared.down.Store(false)

	assert.Eventually(t, func() bool {
		return layer.Info().Backend == "redis"
	}, 3*time.Second, 50*time.Millisecond)
}

func TestNewCacheLayer_FromConfig(t *testing.T) {
	rdb, _ := setupTestRedis(t)

	layer, cleanup, err := NewCacheLayer(&conf.Cache{
		ProbeInterval: time.Minute,
		LocalSize:     16,
		KeyPrefix:     "hp",
	}, rdb, log.DefaultLogger)
	require.NoError(t, err)
	defer cleanup()

	assert.Equal(t, "redis", layer.Info().Backend)

	// cleanup twice is harmless
	cleanup()
}
