// Command render runs one render job in-process and prints its events as
// JSON lines on stdout. Interrupting it aborts the job.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"montage/internal/bootstrap"
	"montage/internal/config"
	"montage/internal/events"
	"montage/internal/models"
	"montage/internal/pkg/shutdown"
	"montage/internal/stager"
	"montage/internal/worker/processor"
)

func main() {
	reqPath := flag.String("request", "-", "render request JSON file, - for stdin")
	filesDir := flag.String("files", "", "directory of clip videos matched to clips by name")
	flag.Parse()

	cfg := config.Load()
	log := bootstrap.NewLogger(cfg, "render")
	if err := cfg.Validate(); err != nil {
		log.LogFatal("invalid configuration", err)
	}

	req, err := readRequest(*reqPath)
	if err != nil {
		log.LogFatal("failed to read request", err)
	}
	if err := req.Validate(); err != nil {
		log.LogFatal("invalid request", err)
	}
	files, err := clipFiles(*filesDir)
	if err != nil {
		log.LogFatal("failed to list clip files", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownMgr := shutdown.NewManager(log, 10*time.Second)
	defer shutdownMgr.Shutdown()

	rt, err := bootstrap.New(ctx, cfg, log, shutdownMgr, bootstrap.Options{})
	if err != nil {
		log.LogFatal("failed to initialize", err)
	}

	job := processor.NewJob(uuid.NewString(), req)
	enc := json.NewEncoder(os.Stdout)
	sinks := []events.Sink{events.SinkFunc(func(_ context.Context, e events.Event) error {
		return enc.Encode(e)
	})}
	if rt.Events != nil {
		sinks = append(sinks, rt.Events.Sink(job.ID))
	}

	err = rt.Jobs.Run(ctx, job, files, events.NewStream(job.ID, log, sinks...))
	if err != nil {
		shutdownMgr.Shutdown()
		os.Exit(1)
	}
}

func readRequest(path string) (models.RenderRequest, error) {
	var req models.RenderRequest
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return req, err
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func clipFiles(dir string) ([]stager.File, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []stager.File
	for _, e := range entries {
		if e.IsDir() || !models.IsVideoFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		files = append(files, stager.File{
			Name: e.Name(),
			Open: func() (io.ReadCloser, error) { return os.Open(path) },
		})
	}
	return files, nil
}
