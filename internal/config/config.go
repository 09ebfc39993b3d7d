// Package config loads the service configuration from the environment.
// Canonical render constants live here so every component reads the same
// values: 25 fps, three 80-frame intro blocks, 30/15 frame fades, 30 minute
// staging TTL and a 5 minute sweep.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type HTTP struct {
	Port           string `validate:"required,numeric"`
	PublicBaseURL  string `validate:"required,url"`
	CORSOrigins    []string
	MaxUploadBytes int64 `validate:"gt=0"`
	PingInterval   time.Duration
}

type Log struct {
	Level  string `validate:"oneof=debug info warn warning error"`
	Format string `validate:"oneof=json text"`
	Source bool
}

type Staging struct {
	Dir           string        `validate:"required"`
	TTL           time.Duration `validate:"gt=0"`
	SweepInterval time.Duration `validate:"gt=0"`
	WriteRetries  int           `validate:"gte=0,lte=10"`
	RetryBackoff  time.Duration `validate:"gte=0"`
	// SweepToken guards POST /staged/sweep; empty disables the route.
	SweepToken string
	// ReferenceMode is "url" (served back through /staged) or "path".
	ReferenceMode string `validate:"oneof=url path"`
}

type Timeline struct {
	FPS              int     `validate:"gt=0"`
	IntroBlocks      string  `validate:"required"`
	VisualFadeFrames int     `validate:"gte=0"`
	AudioFadeFrames  int     `validate:"gte=0"`
	AudioPeak        float64 `validate:"gt=0,lte=1"`
	IntroImage       string
}

type Render struct {
	// Mode selects the engine: "http" for a remote render service, "ffmpeg" for local encoding.
	Mode             string `validate:"oneof=http ffmpeg"`
	BaseURL          string `validate:"required_if=Mode http"`
	Timeout          time.Duration
	CompositionEntry string `validate:"required"`
	PublicDir        string
	CompositionID    string `validate:"required"`
	Codec            string `validate:"required"`
	ScratchDir       string `validate:"required"`
	FFmpegBin        string
}

type Jobs struct {
	MaxConcurrent     int           `validate:"gt=0"`
	VerifyConcurrency int           `validate:"gt=0"`
	VerifyTimeout     time.Duration `validate:"gt=0"`
	QueueName         string        `validate:"required"`
}

type Storage struct {
	Provider     string `validate:"oneof=localfs gdrive s3"`
	LocalRoot    string `validate:"required_if=Provider localfs"`
	OutputURLTTL time.Duration

	S3Bucket       string `validate:"required_if=Provider s3"`
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3Endpoint     string
	S3UsePathStyle bool

	GDriveClientID     string `validate:"required_if=Provider gdrive"`
	GDriveClientSecret string `validate:"required_if=Provider gdrive"`
	GDriveRefreshToken string `validate:"required_if=Provider gdrive"`
	GDriveFolderID     string
}

type Postgres struct {
	URL string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Config is the full service configuration.
type Config struct {
	ServiceName string
	HTTP        HTTP
	Log         Log
	Staging     Staging
	Timeline    Timeline
	Render      Render
	Jobs        Jobs
	Storage     Storage
	Postgres    Postgres
	Redis       Redis
}

// Load reads the environment and applies defaults.
func Load() *Config {
	port := Env("HTTP_PORT", "8080")

	return &Config{
		ServiceName: Env("SERVICE_NAME", "montage"),
		HTTP: HTTP{
			Port:           port,
			PublicBaseURL:  strings.TrimRight(Env("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
			CORSOrigins:    strings.Split(Env("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:8081"), ","),
			MaxUploadBytes: int64(IntEnv("MAX_UPLOAD_MB", 2048)) << 20,
			PingInterval:   DurationEnv("SSE_PING_INTERVAL", 15*time.Second),
		},
		Log: Log{
			Level:  Env("LOG_LEVEL", "info"),
			Format: Env("LOG_FORMAT", "json"),
			Source: BoolEnv("LOG_SOURCE", false),
		},
		Staging: Staging{
			Dir:           Env("STAGING_DIR", "/tmp/montage/staged"),
			TTL:           DurationEnv("STAGING_TTL", 30*time.Minute),
			SweepInterval: DurationEnv("SWEEP_INTERVAL", 5*time.Minute),
			WriteRetries:  IntEnv("STAGE_WRITE_RETRIES", 3),
			RetryBackoff:  DurationEnv("STAGE_RETRY_BACKOFF", 100*time.Millisecond),
			SweepToken:    Env("STAGING_SWEEP_TOKEN", ""),
			ReferenceMode: Env("REFERENCE_MODE", "url"),
		},
		Timeline: Timeline{
			FPS:              IntEnv("FPS", 25),
			IntroBlocks:      Env("INTRO_BLOCKS", "80,80,80"),
			VisualFadeFrames: IntEnv("VISUAL_FADE_FRAMES", 30),
			AudioFadeFrames:  IntEnv("AUDIO_FADE_FRAMES", 15),
			AudioPeak:        FloatEnv("AUDIO_PEAK_VOLUME", 0.2),
			IntroImage:       Env("INTRO_IMAGE", ""),
		},
		Render: Render{
			Mode:             Env("RENDERER_MODE", "http"),
			BaseURL:          strings.TrimRight(Env("RENDERER_HTTP_BASEURL", "http://localhost:3001"), "/"),
			Timeout:          DurationEnv("RENDERER_TIMEOUT", 30*time.Minute),
			CompositionEntry: Env("COMPOSITION_ENTRY", "src/remotion/index.ts"),
			PublicDir:        Env("COMPOSITION_PUBLIC_DIR", "public"),
			CompositionID:    Env("COMPOSITION_ID", "MasterComposition"),
			Codec:            Env("RENDER_CODEC", "h264"),
			ScratchDir:       Env("RENDER_SCRATCH_DIR", "/tmp/montage/scratch"),
			FFmpegBin:        Env("FFMPEG_BIN", ""),
		},
		Jobs: Jobs{
			MaxConcurrent:     IntEnv("MAX_CONCURRENT_JOBS", 2),
			VerifyConcurrency: IntEnv("VERIFY_CONCURRENCY", 4),
			VerifyTimeout:     DurationEnv("VERIFY_TIMEOUT", 15*time.Second),
			QueueName:         Env("JOB_QUEUE_NAME", "montage:renders"),
		},
		Storage: Storage{
			Provider:           Env("STORAGE_PROVIDER", "localfs"),
			LocalRoot:          Env("STORAGE_LOCAL_ROOT", "/data"),
			OutputURLTTL:       DurationEnv("OUTPUT_URL_TTL", 24*time.Hour),
			S3Bucket:           Env("S3_BUCKET", ""),
			S3Region:           Env("S3_REGION", "us-east-1"),
			S3AccessKey:        Env("AWS_S3_ACCESS_KEY", ""),
			S3SecretKey:        Env("AWS_S3_SECRET_KEY", ""),
			S3Endpoint:         Env("S3_ENDPOINT", ""),
			S3UsePathStyle:     BoolEnv("S3_USE_PATH_STYLE", false),
			GDriveClientID:     Env("GDRIVE_CLIENT_ID", ""),
			GDriveClientSecret: Env("GDRIVE_CLIENT_SECRET", ""),
			GDriveRefreshToken: Env("GDRIVE_REFRESH_TOKEN", ""),
			GDriveFolderID:     Env("GDRIVE_FOLDER_ID", ""),
		},
		Postgres: Postgres{URL: Env("DATABASE_URL", "")},
		Redis: Redis{
			Addr:     Env("REDIS_ADDR", ""),
			Password: Env("REDIS_PASSWORD", ""),
			DB:       IntEnv("REDIS_DB", 0),
			Prefix:   Env("REDIS_PREFIX", "montage"),
		},
	}
}

var validate = validator.New()

// Validate checks field constraints and reports the first few violations.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
