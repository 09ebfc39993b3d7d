// Package bootstrap wires the components shared by the api, worker and
// render commands from a loaded config.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	redisevents "montage/internal/adapters/events/redis"
	"montage/internal/adapters/jobs/postgres"
	"montage/internal/config"
	"montage/internal/pkg/logger"
	"montage/internal/pkg/shutdown"
	"montage/internal/stager"
	"montage/internal/storage"
	"montage/internal/tempstore"
	"montage/internal/timeline"
	"montage/internal/worker"
	"montage/internal/worker/processor"
	"montage/internal/worker/queue"
	"montage/internal/worker/renderer"
)

// Options select which backing services are mandatory.
type Options struct {
	RequirePostgres bool
	RequireRedis    bool
}

// Runtime holds the wired components. Pool, Redis, Repo, Events and Queue
// are nil when their service is not configured.
type Runtime struct {
	Config *config.Config
	Log    *logger.Logger

	Store     *tempstore.Store
	Stager    *stager.Stager
	Storage   storage.Provider
	Engine    renderer.Engine
	Processor *processor.Processor
	Jobs      *worker.Manager

	Pool   *pgxpool.Pool
	Repo   *postgres.JobRepository
	Redis  *redis.Client
	Events *redisevents.Publisher
	Queue  *queue.RedisQueue
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg *config.Config, component string) *logger.Logger {
	return logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		AddSource:   cfg.Log.Source,
		ServiceName: cfg.ServiceName + "-" + component,
	})
}

// New connects the configured services and builds the render pipeline.
// Connections are registered with sd so they close on shutdown.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, sd *shutdown.Manager, opts Options) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Log: log}

	if cfg.Postgres.URL != "" {
		if err := rt.connectPostgres(ctx, sd); err != nil {
			return nil, err
		}
	} else if opts.RequirePostgres {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.Redis.Addr != "" {
		if err := rt.connectRedis(ctx, sd); err != nil {
			return nil, err
		}
	} else if opts.RequireRedis {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}

	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage provider: %w", err)
	}
	rt.Storage = sp
	log.Info("storage provider initialized", "provider", sp.Provider())

	store, err := tempstore.New(tempstore.Options{
		Dir:     cfg.Staging.Dir,
		TTL:     cfg.Staging.TTL,
		Retries: cfg.Staging.WriteRetries,
		Backoff: cfg.Staging.RetryBackoff,
		Log:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("staging store: %w", err)
	}
	rt.Store = store
	rt.Stager = stager.New(store, cfg.Staging.ReferenceMode, cfg.HTTP.PublicBaseURL)

	intro, err := timeline.ParseIntroBlocks(cfg.Timeline.IntroBlocks)
	if err != nil {
		return nil, fmt.Errorf("INTRO_BLOCKS: %w", err)
	}

	rt.Engine = NewEngine(cfg, log)
	proc := processor.Deps{
		Store:   store,
		Stager:  rt.Stager,
		Engine:  rt.Engine,
		Storage: sp,
		HTTP:    &http.Client{},
		Log:     log,
		Settings: processor.Settings{
			FPS:              cfg.Timeline.FPS,
			Intro:            intro,
			IntroImage:       cfg.Timeline.IntroImage,
			VisualFadeFrames: cfg.Timeline.VisualFadeFrames,
			AudioFadeFrames:  cfg.Timeline.AudioFadeFrames,
			AudioPeak:        cfg.Timeline.AudioPeak,
			Bundle: renderer.BundleSpec{
				Entry:     cfg.Render.CompositionEntry,
				PublicDir: cfg.Render.PublicDir,
			},
			CompositionID:     cfg.Render.CompositionID,
			Codec:             cfg.Render.Codec,
			ScratchDir:        cfg.Render.ScratchDir,
			VerifyConcurrency: cfg.Jobs.VerifyConcurrency,
			VerifyTimeout:     cfg.Jobs.VerifyTimeout,
			PublicBaseURL:     cfg.HTTP.PublicBaseURL,
			OutputURLTTL:      cfg.Storage.OutputURLTTL,
		},
	}
	if rt.Repo != nil {
		proc.Repo = rt.Repo
	}
	rt.Processor = processor.New(proc)
	rt.Jobs = worker.NewManager(rt.Processor, cfg.Jobs.MaxConcurrent, log)
	return rt, nil
}

// NewEngine returns the render engine selected by RENDERER_MODE.
func NewEngine(cfg *config.Config, log *logger.Logger) renderer.Engine {
	if cfg.Render.Mode == "ffmpeg" {
		return renderer.NewFFmpegEngine(renderer.FFmpegOptions{
			Bin:           cfg.Render.FFmpegBin,
			ScratchDir:    cfg.Render.ScratchDir,
			CompositionID: cfg.Render.CompositionID,
			Log:           log,
		})
	}
	return renderer.NewHTTPClient(cfg.Render.BaseURL, cfg.Render.Timeout)
}

func (rt *Runtime) connectPostgres(ctx context.Context, sd *shutdown.Manager) error {
	rt.Log.Info("connecting to PostgreSQL")
	pool, err := pgxpool.New(ctx, rt.Config.Postgres.URL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	sd.Register("postgres", func(ctx context.Context) error {
		pool.Close()
		return nil
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	applied, err := postgres.Migrate(ctx, pool)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	rt.Log.Info("PostgreSQL connected", "migrations_applied", applied)

	rt.Pool = pool
	rt.Repo = postgres.NewJobRepository(pool)
	return nil
}

func (rt *Runtime) connectRedis(ctx context.Context, sd *shutdown.Manager) error {
	rt.Log.Info("connecting to Redis")
	rdb := redis.NewClient(&redis.Options{
		Addr:     rt.Config.Redis.Addr,
		Password: rt.Config.Redis.Password,
		DB:       rt.Config.Redis.DB,
	})
	sd.Register("redis", func(ctx context.Context) error {
		return rdb.Close()
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	rt.Log.Info("Redis connected")

	rt.Redis = rdb
	rt.Events = redisevents.NewPublisher(rdb, rt.Config.Redis.Prefix)
	rt.Queue = queue.NewRedisQueue(rdb, rt.Config.Jobs.QueueName)
	return nil
}
