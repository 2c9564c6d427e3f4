package log

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"
)

// LogHelper extends log.Helper with categorized methods. Each one adds a
// "type" field that EmojiConsoleEncoder maps to a prefix.
type LogHelper struct {
	*log.Helper
}

// NewLogHelper creates a LogHelper.
func NewLogHelper(logger log.Logger) *LogHelper {
	return &LogHelper{
		Helper: log.NewHelper(logger),
	}
}

func withType(msg, logType string, kvs []interface{}) []interface{} {
	allKvs := make([]interface{}, 0, len(kvs)+4)
	allKvs = append(allKvs, "msg", msg)
	allKvs = append(allKvs, kvs...)
	return append(allKvs, "type", logType)
}

// API logs outbound API activity.
func (h *LogHelper) API(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "api", kvs)...)
}

// Auth logs GLPI session lifecycle events.
func (h *LogHelper) Auth(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "auth", kvs)...)
}

// Breaker logs circuit breaker transitions that need attention.
func (h *LogHelper) Breaker(msg string, kvs ...interface{}) {
	h.Warnw(withType(msg, "breaker", kvs)...)
}

// Success logs a completed operation or a recovery.
func (h *LogHelper) Success(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "success", kvs)...)
}

// Cache logs cache layer events such as backend switches.
func (h *LogHelper) Cache(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "cache", kvs)...)
}

// Aggregate logs dashboard aggregation progress.
func (h *LogHelper) Aggregate(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "aggregate", kvs)...)
}

// Database logs history store operations.
func (h *LogHelper) Database(msg string, kvs ...interface{}) {
	h.Debugw(withType(msg, "database", kvs)...)
}

// Redis logs Redis operations.
func (h *LogHelper) Redis(msg string, kvs ...interface{}) {
	h.Debugw(withType(msg, "redis", kvs)...)
}

// Scheduler logs cron jobs.
func (h *LogHelper) Scheduler(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "scheduler", kvs)...)
}

// Startup logs boot and shutdown.
func (h *LogHelper) Startup(msg string, kvs ...interface{}) {
	h.Infow(withType(msg, "startup", kvs)...)
}

// Performance logs timing information.
func (h *LogHelper) Performance(msg string, kvs ...interface{}) {
	h.Debugw(withType(msg, "performance", kvs)...)
}

// Request logs an inbound HTTP request.
func (h *LogHelper) Request(method, url string, status int, durationMs int64, kvs ...interface{}) {
	msg := fmt.Sprintf("%s %s - %d (%s)", method, url, status, formatDuration(durationMs))
	allKvs := append(kvs,
		"method", method,
		"url", url,
		"status", status,
		"duration_ms", durationMs,
	)
	h.Infow(withType(msg, "request", allKvs)...)
}

// RequestWithContext logs an inbound HTTP request with the request id from ctx.
func (h *LogHelper) RequestWithContext(ctx context.Context, method, url string, status int, durationMs int64, kvs ...interface{}) {
	h.Request(method, url, status, durationMs, append([]interface{}{"request_id", GetRequestID(ctx)}, kvs...)...)
}

// SlowRequest warns about a request that exceeded threshold milliseconds.
func (h *LogHelper) SlowRequest(ctx context.Context, method, url string, duration, threshold int64, kvs ...interface{}) {
	msg := fmt.Sprintf("Slow request: %s %s took %s (threshold %s)",
		method, url, formatDuration(duration), formatDuration(threshold))
	allKvs := append([]interface{}{
		"request_id", GetRequestID(ctx),
		"method", method,
		"url", url,
		"duration_ms", duration,
		"threshold_ms", threshold,
	}, kvs...)
	h.Warnw(withType(msg, "slow_request", allKvs)...)
}

// CacheStats logs cache counters.
func (h *LogHelper) CacheStats(backend string, hits, misses, errors int64, kvs ...interface{}) {
	total := hits + misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	msg := fmt.Sprintf("Cache %s: %d hits, %d misses (%.1f%%)", backend, hits, misses, hitRate)
	allKvs := append([]interface{}{
		"backend", backend,
		"hits", hits,
		"misses", misses,
		"errors", errors,
		"hit_rate", hitRate,
	}, kvs...)
	h.Infow(withType(msg, "cache_stats", allKvs)...)
}
