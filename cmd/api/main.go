package main

import (
	"context"
	"net/http"
	"time"

	"montage/internal/bootstrap"
	"montage/internal/config"
	"montage/internal/httpapi"
	"montage/internal/httpapi/handlers"
	"montage/internal/pkg/shutdown"
)

func main() {
	cfg := config.Load()
	log := bootstrap.NewLogger(cfg, "api")
	if err := cfg.Validate(); err != nil {
		log.LogFatal("invalid configuration", err)
	}

	log.Info("starting montage API",
		"version", "0.1.0",
		"renderer", cfg.Render.Mode,
		"reference_mode", cfg.Staging.ReferenceMode,
	)

	ctx := context.Background()

	// Initialize shutdown manager
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

	rt, err := bootstrap.New(ctx, cfg, log, shutdownMgr, bootstrap.Options{})
	if err != nil {
		log.LogFatal("failed to initialize", err)
	}

	// Expired staged files are swept for the lifetime of the process.
	shutdownMgr.Go("staging-sweeper", func(ctx context.Context) {
		rt.Store.RunSweeper(ctx, cfg.Staging.SweepInterval)
	})

	deps := handlers.Deps{
		Store:          rt.Store,
		Stager:         rt.Stager,
		Jobs:           rt.Jobs,
		Storage:        rt.Storage,
		Checks:         map[string]handlers.Check{},
		ServiceName:    cfg.ServiceName,
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
		PingInterval:   cfg.HTTP.PingInterval,
		SweepToken:     cfg.Staging.SweepToken,
		Log:            log,
	}
	if rt.Repo != nil {
		deps.Repo = rt.Repo
		deps.Checks["postgres"] = rt.Repo.Ping
	}
	if rt.Redis != nil {
		deps.Queue = rt.Queue
		deps.Relay = rt.Events
		deps.Checks["redis"] = func(ctx context.Context) error { return rt.Redis.Ping(ctx).Err() }
	}

	// Create HTTP router
	router := httpapi.NewRouter(httpapi.Deps{
		Handlers:       deps,
		AllowedOrigins: cfg.HTTP.CORSOrigins,
		Log:            log,
	})

	// Renders stream for minutes, so there is no write timeout; SSE lifts
	// it per response anyway.
	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Register server shutdown
	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	// Start server in goroutine
	go func() {
		log.Info("HTTP server listening",
			"addr", server.Addr,
			"port", cfg.HTTP.Port,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	// Wait for shutdown signal
	shutdownMgr.Wait()
}
