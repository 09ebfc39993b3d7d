package worker

import (
	"montage/internal/events"
	"montage/internal/pkg/logger"
	"montage/internal/ports"
)

type Deps struct {
	Queue   ports.JobQueue
	Repo    ports.JobRepository
	Manager *Manager
	// Sinks builds the event sinks of one queued job, typically its redis channel.
	Sinks func(jobID string) []events.Sink
	// Concurrency bounds how many queued jobs are pulled at once.
	Concurrency int
	Log         *logger.Logger
}
