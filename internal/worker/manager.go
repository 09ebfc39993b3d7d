package worker

import (
	"context"
	"sync"

	"montage/internal/events"
	"montage/internal/pkg/logger"
	"montage/internal/stager"
	"montage/internal/worker/processor"
)

const recentJobs = 256

type entry struct {
	job    *processor.Job
	cancel context.CancelFunc
}

// Manager runs render jobs with a bound on how many render at once and
// keeps a registry so running jobs can be inspected and aborted.
type Manager struct {
	proc *processor.Processor
	sem  chan struct{}
	log  *logger.Logger

	mu      sync.Mutex
	running map[string]entry
	recent  map[string]processor.Snapshot
	order   []string
}

func NewManager(proc *processor.Processor, maxConcurrent int, log *logger.Logger) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Manager{
		proc:    proc,
		sem:     make(chan struct{}, maxConcurrent),
		log:     log.WithComponent("jobs"),
		running: make(map[string]entry),
		recent:  make(map[string]processor.Snapshot),
	}
}

func (m *Manager) Processor() *processor.Processor { return m.proc }

// Run executes job on the calling goroutine once a slot is free. Canceling
// ctx, or Abort(job.ID), aborts it.
func (m *Manager) Run(ctx context.Context, job *processor.Job, files []stager.File, stream *events.Stream) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	m.running[job.ID] = entry{job: job, cancel: cancel}
	m.mu.Unlock()
	defer m.finish(job)

	select {
	case m.sem <- struct{}{}:
	default:
		stream.Status(ctx, events.Status{Message: "Waiting for a free render slot...", Stage: string(processor.StageCreated)})
		select {
		case m.sem <- struct{}{}:
		case <-ctx.Done():
			// Run reports the abort and releases what the job owns.
			return m.proc.Run(ctx, job, files, stream)
		}
	}
	defer func() { <-m.sem }()

	return m.proc.Run(ctx, job, files, stream)
}

func (m *Manager) finish(job *processor.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, job.ID)

	if _, ok := m.recent[job.ID]; !ok {
		m.order = append(m.order, job.ID)
	}
	m.recent[job.ID] = job.Snapshot()
	for len(m.order) > recentJobs {
		delete(m.recent, m.order[0])
		m.order = m.order[1:]
	}
}

// Abort cancels a running job. It reports false for unknown or finished jobs.
func (m *Manager) Abort(id string) bool {
	m.mu.Lock()
	e, ok := m.running[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.log.WithJobID(id).Info("abort requested")
	e.cancel()
	return true
}

// Snapshot returns a running or recently finished job.
func (m *Manager) Snapshot(id string) (processor.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.running[id]; ok {
		return e.job.Snapshot(), true
	}
	s, ok := m.recent[id]
	return s, ok
}

// Active is the number of registered jobs, including those waiting for a slot.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}
