package main

import (
	"context"
	"time"

	"montage/internal/bootstrap"
	"montage/internal/config"
	"montage/internal/events"
	"montage/internal/pkg/shutdown"
	"montage/internal/worker"
)

func main() {
	cfg := config.Load()
	log := bootstrap.NewLogger(cfg, "worker")
	if err := cfg.Validate(); err != nil {
		log.LogFatal("invalid configuration", err)
	}

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, 2*time.Minute)

	rt, err := bootstrap.New(ctx, cfg, log, shutdownMgr, bootstrap.Options{
		RequirePostgres: true,
		RequireRedis:    true,
	})
	if err != nil {
		log.LogFatal("failed to initialize", err)
	}

	shutdownMgr.Go("staging-sweeper", func(ctx context.Context) {
		rt.Store.RunSweeper(ctx, cfg.Staging.SweepInterval)
	})

	shutdownMgr.Go("worker", func(ctx context.Context) {
		pending, _ := rt.Queue.Len(ctx)
		log.Info("montage worker started",
			"queue", rt.Queue.Name(),
			"pending", pending,
			"max_concurrent", cfg.Jobs.MaxConcurrent,
		)
		err := worker.Run(ctx, worker.Deps{
			Queue:   rt.Queue,
			Repo:    rt.Repo,
			Manager: rt.Jobs,
			Sinks: func(jobID string) []events.Sink {
				return []events.Sink{rt.Events.Sink(jobID)}
			},
			Concurrency: cfg.Jobs.MaxConcurrent,
			Log:         log,
		})
		if err != nil && ctx.Err() == nil {
			log.LogError(ctx, "worker stopped", err)
			go shutdownMgr.Shutdown()
		}
	})

	shutdownMgr.Wait()
}
