// Package main is the entry point of the HelpdeskPulse service.
// It wires the GLPI client, cache and aggregator behind a Kratos HTTP server.
package main

import (
	"context"
	"flag"
	"os"

	"HelpdeskPulse/internal/biz"
	"HelpdeskPulse/internal/conf"
	zapLogger "HelpdeskPulse/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/tracing"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/robfig/cron/v3"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = zapLogger.ServiceName
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "", "config path, eg: -conf config.yaml")
}

func newApp(logger log.Logger, hs *http.Server, warmup *biz.WarmupTask, dc *conf.Dashboard) *kratos.App {
	var warmupCron *cron.Cron

	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(hs),
		kratos.AfterStart(func(context.Context) error {
			warmupCron = StartWarmupCron(warmup, dc, logger)
			return nil
		}),
		kratos.BeforeStop(func(context.Context) error {
			if warmupCron != nil {
				<-warmupCron.Stop().Done()
			}
			return nil
		}),
	)
}

func main() {
	flag.Parse()

	// Load configuration using Viper with environment variable and CLI flag support
	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		// Use fallback logger before Zap is initialized
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLog, err := zapLogger.NewZapLogger(bc.Log)
	if err != nil {
		log.Fatalf("failed to initialize zap logger: %v", err)
	}
	defer zapLog.Sync()

	logger := zapLogger.NewKratosAdapter(zapLog)

	logger = log.With(logger,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
		"trace.id", tracing.TraceID(),
		"span.id", tracing.SpanID(),
	)

	zapLogger.NewLogHelper(logger).Startup("HelpdeskPulse service starting",
		"glpi.base_url", bc.GLPI.BaseURL,
		"http.addr", bc.Server.HTTP.Addr,
		"levels", len(bc.Dashboard.Levels),
		"history", bc.Data.Database.Source != "",
		"log.level", bc.Log.Level,
		"log.format", bc.Log.Format,
	)

	app, cleanup, err := wireApp(bc.Server, bc.Data, bc.GLPI, bc.Cache, bc.Dashboard, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}
