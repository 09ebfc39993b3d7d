package handlers

import (
	"context"
	"time"

	"montage/internal/events"
	"montage/internal/pkg/logger"
	"montage/internal/ports"
	"montage/internal/stager"
	"montage/internal/tempstore"
	"montage/internal/worker"
)

// EventRelay fans job events out beyond the request that started the job
// and lets other connections follow them.
type EventRelay interface {
	Sink(jobID string) events.Sink
	Follow(ctx context.Context, jobID string, fn func(raw []byte) error) error
}

// Check is one dependency probe of the deep health check.
type Check func(ctx context.Context) error

type Deps struct {
	Store   *tempstore.Store
	Stager  *stager.Stager
	Jobs    *worker.Manager
	Storage ports.StorageProvider

	// Optional: queue mode needs Repo and Queue, /events needs Relay.
	Repo  ports.JobRepository
	Queue ports.JobQueue
	Relay EventRelay

	Checks         map[string]Check
	ServiceName    string
	MaxUploadBytes int64
	PingInterval   time.Duration
	// SweepToken enables POST /staged/sweep for callers presenting it.
	SweepToken string
	Log        *logger.Logger
}

type Handler struct {
	store   *tempstore.Store
	stager  *stager.Stager
	jobs    *worker.Manager
	sp      ports.StorageProvider
	repo    ports.JobRepository
	queue   ports.JobQueue
	relay   EventRelay
	checks  map[string]Check
	service string

	maxUpload  int64
	ping       time.Duration
	sweepToken string
	log        *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	h := &Handler{
		store:      d.Store,
		stager:     d.Stager,
		jobs:       d.Jobs,
		sp:         d.Storage,
		repo:       d.Repo,
		queue:      d.Queue,
		relay:      d.Relay,
		checks:     d.Checks,
		service:    d.ServiceName,
		maxUpload:  d.MaxUploadBytes,
		ping:       d.PingInterval,
		sweepToken: d.SweepToken,
		log:        log.WithComponent("http"),
	}
	if h.maxUpload <= 0 {
		h.maxUpload = 2 << 30
	}
	if h.ping <= 0 {
		h.ping = 15 * time.Second
	}
	if h.service == "" {
		h.service = "montage"
	}
	return h
}
