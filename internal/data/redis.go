package data

import (
	"context"
	"time"

	"HelpdeskPulse/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates the Redis client used by the shared cache backend.
// An unreachable Redis does not prevent startup: the client is returned
// anyway and CacheLayer serves from the local backend until a probe succeeds.
func NewRedisClient(c *conf.Data, logger log.Logger) (*redis.Client, func(), error) {
	helper := log.NewHelper(log.With(logger, "module", "data/redis"))

	if c == nil || c.Redis == nil || c.Redis.Addr == "" {
		helper.Warn("Redis address is empty, shared cache disabled")
		return nil, func() {}, nil
	}

	dialTimeout := c.Redis.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 3 * time.Second
	}

	rdb := redis.NewClient(&redis.Options{
		Network:         c.Redis.Network,
		Addr:            c.Redis.Addr,
		Password:        c.Redis.Password,
		DB:              c.Redis.DB,
		PoolSize:        100,
		MinIdleConns:    10,
		DialTimeout:     dialTimeout,
		ReadTimeout:     c.Redis.ReadTimeout,
		WriteTimeout:    c.Redis.WriteTimeout,
		ConnMaxIdleTime: 5 * time.Minute,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		helper.Warnw("msg", "Failed to connect to Redis, continuing with local cache", "addr", c.Redis.Addr, "error", err)
	} else {
		helper.Infow("msg", "Connected to Redis", "addr", c.Redis.Addr)
	}

	cleanup := func() {
		helper.Info("Closing Redis client")
		if err := rdb.Close(); err != nil {
			helper.Errorf("Failed to close Redis client: %v", err)
		}
	}

	return rdb, cleanup, nil
}
