package biz

import (
	"context"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/singleflight"
)

// CachedOperation is compute-or-fetch over a Cache. Concurrent misses for the
// same key run the computation once; failed computations are never cached and
// cache errors degrade to computing.
type CachedOperation[T any] struct {
	cache Cache
	ttl   func(T) time.Duration
	group singleflight.Group
	log   *log.Helper
}

// NewCachedOperation creates a CachedOperation. ttl picks the lifetime of each
// computed value; a non-positive result skips caching it. A nil cache always
// computes.
func NewCachedOperation[T any](cache Cache, ttl func(T) time.Duration, logger log.Logger) *CachedOperation[T] {
	return &CachedOperation[T]{
		cache: cache,
		ttl:   ttl,
		log:   log.NewHelper(log.With(logger, "module", "biz/cached")),
	}
}

// FixedTTL caches every value for d.
func FixedTTL[T any](d time.Duration) func(T) time.Duration {
	return func(T) time.Duration { return d }
}

// Do returns the cached value for key, or runs op and caches its result. The
// boolean reports a cache hit. op runs detached from ctx cancellation so a
// caller giving up does not fail the other waiters; the caller itself stops
// waiting when ctx is done.
func (c *CachedOperation[T]) Do(ctx context.Context, key string, op func(context.Context) (T, error)) (T, bool, error) {
	if c.cache != nil {
		var cached T
		ok, err := c.cache.Get(ctx, key, &cached)
		if err != nil {
			c.log.Warnw("msg", "cache read failed, computing", "key", key, "error", err)
		}
		if ok {
			return cached, true, nil
		}
	}

	v, err := c.run(ctx, key, op)
	return v, false, err
}

// Refresh runs op without reading the cache and stores the result over the
// current entry. It shares the in-flight computation with concurrent misses.
func (c *CachedOperation[T]) Refresh(ctx context.Context, key string, op func(context.Context) (T, error)) (T, error) {
	return c.run(ctx, key, op)
}

func (c *CachedOperation[T]) run(ctx context.Context, key string, op func(context.Context) (T, error)) (T, error) {
	var zero T

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		v, err := op(detached)
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			if ttl := c.ttl(v); ttl > 0 {
				if err := c.cache.Set(detached, key, v, ttl); err != nil {
					c.log.Warnw("msg", "cache write failed", "key", key, "error", err)
				}
			}
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}
