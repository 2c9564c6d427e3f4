package data

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"HelpdeskPulse/internal/conf"
	pkglog "HelpdeskPulse/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

const (
	opGet    = "get"
	opSet    = "set"

	resultHit   = "hit"
	resultMiss  = "miss"
	resultOK    = "ok"
	resultError = "error"

	defaultProbeInterval = 30 * time.Second
	probeTimeout         = 2 * time.Second
)

var (
	cacheOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "helpdeskpulse",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache operations by backend, operation and result.",
	}, []string{"backend", "op", "result"})

	cacheOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "helpdeskpulse",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Cache operation latency.",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	}, []string{"backend", "op"})

	cacheSharedHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "helpdeskpulse",
		Subsystem: "cache",
		Name:      "shared_backend_healthy",
		Help:      "1 when the shared cache backend answered the last probe.",
	})
)

// CacheInfo is the observable state of a CacheLayer.
type CacheInfo struct {
	Backend      string    `json:"backend"`
	Healthy      bool      `json:"shared_backend_healthy"`
	Hits         int64     `json:"hits"`
	Misses       int64     `json:"misses"`
	Errors       int64     `json:"errors"`
	HitRate      float64   `json:"hit_rate"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
	LastProbe    time.Time `json:"last_probe"`
}

// CacheLayer routes cache operations to the shared backend while it is
// healthy and to the local backend otherwise. Health is established by a
// probe at construction and on every ProbeInterval tick; a failed shared
// operation marks the shared backend unhealthy immediately.
type CacheLayer struct {
	shared Backend
	local  Backend
	prefix string

	healthy   atomic.Bool
	lastProbe atomic.Int64 // unix nanos

	hits      atomic.Int64
	misses    atomic.Int64
	errors    atomic.Int64
	ops       atomic.Int64
	latencyNs atomic.Int64

	cron      *cron.Cron
	closeOnce sync.Once
	log       *pkglog.LogHelper
}

// NewCacheLayer builds the layer over Redis and a local LRU backend and starts
// the health probe. The cleanup stops the probe.
func NewCacheLayer(c *conf.Cache, rdb *redis.Client, logger log.Logger) (*CacheLayer, func(), error) {
	if c == nil {
		c = &conf.Cache{}
	}

	local, err := NewLocalBackend(c.LocalSize)
	if err != nil {
		return nil, nil, err
	}

	layer, err := newCacheLayer(NewRedisBackend(rdb), local, c.KeyPrefix, c.ProbeInterval, logger)
	if err != nil {
		return nil, nil, err
	}
	return layer, layer.Close, nil
}

// newCacheLayer probes once and, for a positive interval, schedules the
// probe. A negative interval disables scheduling.
func newCacheLayer(shared, local Backend, prefix string, interval time.Duration, logger log.Logger) (*CacheLayer, error) {
	l := &CacheLayer{
		shared: shared,
		local:  local,
		prefix: prefix,
		log:    pkglog.NewLogHelper(log.With(logger, "module", "data/cache")),
	}

	l.Probe(context.Background())

	if interval == 0 {
		interval = defaultProbeInterval
	}
	if interval > 0 {
		l.cron = cron.New()
		if _, err := l.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
			l.Probe(context.Background())
		}); err != nil {
			return nil, fmt.Errorf("cache: failed to schedule health probe: %w", err)
		}
		l.cron.Start()
		l.log.Scheduler("Cache health probe scheduled", "interval", interval.String())
	}

	return l, nil
}

// Probe pings the shared backend and updates routing.
func (l *CacheLayer) Probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := l.shared.Ping(ctx)
	l.lastProbe.Store(time.Now().UnixNano())

	if err != nil {
		l.markUnhealthy(err)
		return
	}
	if l.healthy.CompareAndSwap(false, true) {
		cacheSharedHealthy.Set(1)
		l.log.Success("Shared cache reachable, routing to shared backend", "backend", l.shared.Name())
	}
}

func (l *CacheLayer) markUnhealthy(err error) {
	if l.healthy.CompareAndSwap(true, false) {
		cacheSharedHealthy.Set(0)
		l.log.Cache("Shared cache unavailable, routing to local backend",
			"backend", l.shared.Name(), "error", err)
	}
}

func (l *CacheLayer) active() Backend {
	if l.healthy.Load() {
		return l.shared
	}
	return l.local
}

// sharedFailed reports a shared-backend failure that is not caused by the
// caller giving up, and marks the backend unhealthy.
func (l *CacheLayer) sharedFailed(ctx context.Context, b Backend, err error) bool {
	if b == l.local || err == nil || errors.Is(err, ErrCacheNotFound) || ctx.Err() != nil {
		return false
	}
	l.markUnhealthy(err)
	return true
}

func (l *CacheLayer) key(key string) string {
	return BuildCacheKey(l.prefix, key)
}

// Get decodes the cached value for key into dest. It reports false when the
// key is absent or expired.
func (l *CacheLayer) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	start := time.Now()
	b := l.active()
	result := resultHit

	raw, err := b.Get(ctx, l.key(key))
	if l.sharedFailed(ctx, b, err) {
		result = resultError
		raw, err = l.local.Get(ctx, l.key(key))
	}

	switch {
	case errors.Is(err, ErrCacheNotFound):
		if result != resultError {
			result = resultMiss
		}
		l.record(b, opGet, result, start)
		return false, nil
	case err != nil:
		l.record(b, opGet, resultError, start)
		return false, err
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		l.record(b, opGet, resultError, start)
		return false, fmt.Errorf("cache: failed to unmarshal value for key %s: %w", key, err)
	}

	l.record(b, opGet, result, start)
	return true, nil
}

// Set stores value as JSON under key for ttl.
func (l *CacheLayer) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	start := time.Now()
	b := l.active()

	if ttl <= 0 {
		l.record(b, opSet, resultError, start)
		return fmt.Errorf("cache: ttl must be positive, got %s", ttl)
	}

	data, err := json.Marshal(value)
	if err != nil {
		l.record(b, opSet, resultError, start)
		return fmt.Errorf("cache: failed to marshal value for key %s: %w", key, err)
	}

	err = b.Set(ctx, l.key(key), data, ttl)
	if l.sharedFailed(ctx, b, err) {
		l.record(b, opSet, resultError, start)
		return l.local.Set(ctx, l.key(key), data, ttl)
	}
	if err != nil {
		l.record(b, opSet, resultError, start)
		return err
	}

	l.record(b, opSet, resultOK, start)
	return nil
}

// Delete removes key from both backends.
func (l *CacheLayer) Delete(ctx context.Context, key string) error {
	_ = l.local.Delete(ctx, l.key(key))
	if !l.healthy.Load() {
		return nil
	}

	err := l.shared.Delete(ctx, l.key(key))
	if l.sharedFailed(ctx, l.shared, err) {
		return nil
	}
	return err
}

func (l *CacheLayer) record(b Backend, op, result string, start time.Time) {
	elapsed := time.Since(start)

	switch result {
	case resultHit:
		l.hits.Add(1)
	case resultMiss:
		l.misses.Add(1)
	case resultError:
		l.errors.Add(1)
	}
	l.ops.Add(1)
	l.latencyNs.Add(elapsed.Nanoseconds())

	cacheOpsTotal.WithLabelValues(b.Name(), op, result).Inc()
	cacheOpDuration.WithLabelValues(b.Name(), op).Observe(elapsed.Seconds())
}

// Info reports the active backend and the running counters.
//
// Gets count as a hit, a miss or an error. A failed Set counts as an error; a
// successful Set is recorded as "ok", which only feeds AvgLatencyMs and the
// Prometheus collectors, so HitRate stays a pure lookup ratio.
func (l *CacheLayer) Info() CacheInfo {
	hits, misses := l.hits.Load(), l.misses.Load()
	info := CacheInfo{
		Backend: l.active().Name(),
		Healthy: l.healthy.Load(),
		Hits:    hits,
		Misses:  misses,
		Errors:  l.errors.Load(),
	}
	if lookups := hits + misses; lookups > 0 {
		info.HitRate = float64(hits) / float64(lookups)
	}
	if ops := l.ops.Load(); ops > 0 {
		info.AvgLatencyMs = float64(l.latencyNs.Load()) / float64(ops) / float64(time.Millisecond)
	}
	if ns := l.lastProbe.Load(); ns > 0 {
		info.LastProbe = time.Unix(0, ns)
	}
	return info
}

// Close stops the health probe. It is safe to call more than once.
func (l *CacheLayer) Close() {
	l.closeOnce.Do(func() {
		if l.cron != nil {
			<-l.cron.Stop().Done()
		}
		hits, misses := l.hits.Load(), l.misses.Load()
		l.log.CacheStats(l.active().Name(), hits, misses, l.errors.Load())
	})
}
