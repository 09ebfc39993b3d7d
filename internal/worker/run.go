package worker

import (
	"context"
	"sync"
	"time"

	"montage/internal/events"
	"montage/internal/models"
	"montage/internal/pkg/errors"
	"montage/internal/pkg/logger"
	"montage/internal/worker/processor"
)

// Run consumes queued job ids until ctx is done. Jobs still running at that
// point are aborted and waited for.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")

	slots := d.Concurrency
	if slots <= 0 {
		slots = 1
	}
	sem := make(chan struct{}, slots)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			log.Info("worker context canceled, stopping")
			return ctx.Err()
		case sem <- struct{}{}:
		}

		jobID, err := d.Queue.Dequeue(ctx)
		if err != nil {
			<-sem
			if ctx.Err() != nil {
				log.Info("worker stopping due to context cancellation")
				return ctx.Err()
			}
			log.Warn("queue pop error, retrying", "error", err.Error())
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if jobID == "" {
			<-sem
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			process(ctx, d, log, jobID)
		}()
	}
}

func process(ctx context.Context, d Deps, log *logger.Logger, jobID string) {
	ctx = logger.ContextWithJobID(ctx, jobID)
	jobLog := log.WithJobID(jobID)

	rec, err := d.Repo.Get(ctx, jobID)
	if err != nil {
		if errors.IsNotFound(err) {
			jobLog.Warn("queued job has no record, dropping")
			return
		}
		jobLog.Error("failed to load queued job", "error", err.Error())
		return
	}
	if rec.Status.Terminal() {
		jobLog.Info("queued job already finished", "status", string(rec.Status))
		return
	}
	if rec.Status != models.JobQueued && rec.Status != models.JobCreated {
		// A previous worker died mid-render; its scratch is gone, so start over.
		jobLog.Warn("restarting interrupted job", "status", string(rec.Status))
	}

	var sinks []events.Sink
	if d.Sinks != nil {
		sinks = d.Sinks(jobID)
	}
	job := processor.JobFromRecord(rec)
	stream := events.NewStream(jobID, jobLog, sinks...)

	jobLog.Info("processing job")
	startTime := time.Now()

	if err := d.Manager.Run(ctx, job, nil, stream); err != nil {
		jobLog.Error("job failed",
			"code", string(errors.GetCode(err)),
			"duration_ms", time.Since(startTime).Milliseconds(),
		)
		return
	}
	jobLog.Info("job completed", "duration_ms", time.Since(startTime).Milliseconds())
}
