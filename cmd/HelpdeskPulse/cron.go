package main

import (
	"context"
	"time"

	"HelpdeskPulse/internal/biz"
	"HelpdeskPulse/internal/conf"
	pkglog "HelpdeskPulse/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

const (
	defaultWarmupSpec = "@every 5m"
	warmupTimeout     = 2 * time.Minute
)

// StartWarmupCron schedules the dashboard warmup and runs it once right away.
// An empty spec uses the default; "off" disables warmup and returns nil.
func StartWarmupCron(task *biz.WarmupTask, dc *conf.Dashboard, logger log.Logger) *cron.Cron {
	helper := pkglog.NewLogHelper(log.With(logger, "module", "cron/warmup"))

	spec := defaultWarmupSpec
	if dc != nil && dc.WarmupSpec != "" {
		spec = dc.WarmupSpec
	}
	if spec == "off" {
		helper.Scheduler("Dashboard warmup disabled")
		return nil
	}

	run := func() {
		ctx, cancel := context.WithTimeout(context.Background(), warmupTimeout)
		defer cancel()

		if err := task.Run(ctx); err != nil {
			helper.Warnw("msg", "dashboard warmup failed", "error", err)
		}
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(spec, run); err != nil {
		helper.Errorw("msg", "failed to register dashboard warmup cron job", "spec", spec, "error", err)
		return nil
	}

	c.Start()
	helper.Scheduler("Dashboard warmup cron job started", "spec", spec)

	go run()

	return c
}
