package processor

import (
	"context"
	"os"
	"time"

	"montage/internal/pkg/logger"
	"montage/internal/worker/renderer"
)

type Cleanup struct {
	store  Releaser
	engine renderer.Engine
	log    *logger.Logger
}

func NewCleanup(store Releaser, engine renderer.Engine, log *logger.Logger) *Cleanup {
	return &Cleanup{store: store, engine: engine, log: log}
}

// Run releases what the job holds: staged assets, the bundle and the job
// scratch directory. It runs once per job and only logs failures.
func (c *Cleanup) Run(ctx context.Context, r *run) {
	r.cleanupOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		log := c.log.FromContext(ctx).WithJobID(r.job.ID)

		released := 0
		if c.store != nil {
			for _, id := range r.job.Assets() {
				if c.store.Release(id) {
					released++
				}
			}
		}

		if c.engine != nil && (r.bundle.ID != "" || r.bundle.Dir != "") {
			if err := c.engine.Cleanup(ctx, r.bundle); err != nil {
				log.Warn("bundle cleanup failed", "bundle", r.bundle.ID, "error", err.Error())
			}
		}

		if r.scratch != "" {
			if err := os.RemoveAll(r.scratch); err != nil {
				log.Warn("scratch cleanup failed", "dir", r.scratch, "error", err.Error())
			}
		}

		log.Debug("job resources released", "assets", released)
	})
}
