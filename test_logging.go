//go:build ignore
// +build ignore

// Prints one line per log type so the console encoder can be checked by eye:
//
//	go run test_logging.go
package main

import (
	"context"
	"errors"

	"HelpdeskPulse/internal/conf"
	pkglog "HelpdeskPulse/pkg/log"
)

func main() {
	logConf := &conf.Log{
		Level:  "debug",
		Format: "console", // console format enables the emoji encoder
		Env:    "development",
	}

	zapLogger, err := pkglog.NewZapLogger(logConf)
	if err != nil {
		panic(err)
	}
	defer zapLogger.Sync()

	helper := pkglog.NewLogHelper(pkglog.NewKratosAdapter(zapLogger))
	ctx := pkglog.WithRequestContext(context.Background(), pkglog.GenerateRequestID(), "/helpdeskpulse.v1.Dashboard/GetMetrics")

	println("=== log output ===\n")

	helper.Startup("HelpdeskPulse service starting", "version", "1.0.0", "http.addr", ":8080")
	helper.API("Calling GLPI", "endpoint", "/search/Ticket", "method", "GET")
	helper.Auth("GLPI session opened", "session_token", "7d3c2a1b9f8e6d5c4b3a", "took_ms", 84)
	helper.Breaker("Circuit breaker opened", "name", "glpi", "consecutive_failures", 5)
	helper.Request("GET", "/api/v1/dashboard/metrics", 200, 342, "ip", "192.168.1.100")
	helper.RequestWithContext(ctx, "GET", "/api/v1/health/glpi", 503, 2)
	helper.SlowRequest(ctx, "GET", "/api/v1/dashboard/metrics?trends=true", 6438, 5000)
	helper.Cache("Shared cache backend unhealthy, serving from local", "error", errors.New("dial tcp 127.0.0.1:6379: connection refused"))
	helper.CacheStats("local", 120, 14, 3)
	helper.Aggregate("Dashboard snapshot computed", "queries", 30, "partial", true, "failed_levels", []string{"N2"})
	helper.Scheduler("Dashboard warmup completed", "grand_total", 621)
	helper.Database("Snapshot stored", "table", "metric_snapshots", "dsn", "pulse:secret@tcp(db:3306)/pulse")
	helper.Redis("Cache probe ok", "addr", "127.0.0.1:6379")
	helper.Performance("Fan-out finished", "workers", 8, "took_ms", 912)
	helper.Success("Request completed successfully")

	println("\n=== done ===")
}
