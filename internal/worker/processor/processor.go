package processor

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	contracts "montage/internal/contracts/renderer/v1"
	"montage/internal/events"
	"montage/internal/pkg/errors"
	"montage/internal/pkg/logger"
	"montage/internal/ports"
	"montage/internal/stager"
	"montage/internal/timeline"
	"montage/internal/worker/renderer"
)

// Releaser frees a staged asset. *tempstore.Store implements it.
type Releaser interface {
	Release(id string) bool
}

// Settings are the render constants and limits a processor runs with.
type Settings struct {
	FPS              int
	Intro            []timeline.IntroBlock
	IntroImage       string
	VisualFadeFrames int
	AudioFadeFrames  int
	AudioPeak        float64

	Bundle        renderer.BundleSpec
	CompositionID string
	Codec         string
	ScratchDir    string

	VerifyConcurrency int
	VerifyTimeout     time.Duration

	// PublicBaseURL prefixes /outputs/<key> when the storage provider has no signed URLs.
	PublicBaseURL string
	OutputURLTTL  time.Duration
}

type Deps struct {
	Store   Releaser
	Stager  *stager.Stager
	Engine  renderer.Engine
	Storage ports.StorageProvider
	// Repo is optional; without it jobs live only as long as their stream.
	Repo ports.JobRepository
	// HTTP probes asset references during verification.
	HTTP     *http.Client
	Log      *logger.Logger
	Settings Settings
}

type Processor struct {
	stager   *stager.Stager
	engine   renderer.Engine
	repo     ports.JobRepository
	log      *logger.Logger
	settings Settings

	inputHandler    *InputHandler
	outputHandler   *OutputHandler
	rendererAdapter *RendererAdapter
	cleanup         *Cleanup
}

func New(d Deps) *Processor {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("processor")

	s := d.Settings
	if s.FPS <= 0 {
		s.FPS = 25
	}
	if s.VerifyConcurrency <= 0 {
		s.VerifyConcurrency = 4
	}
	if s.VerifyTimeout <= 0 {
		s.VerifyTimeout = 10 * time.Second
	}
	if s.OutputURLTTL <= 0 {
		s.OutputURLTTL = 24 * time.Hour
	}

	return &Processor{
		stager:          d.Stager,
		engine:          d.Engine,
		repo:            d.Repo,
		log:             log,
		settings:        s,
		inputHandler:    NewInputHandler(d.HTTP, s.VerifyConcurrency, s.VerifyTimeout),
		outputHandler:   NewOutputHandler(d.Storage, s.PublicBaseURL, s.OutputURLTTL),
		rendererAdapter: NewRendererAdapter(d.Engine, s),
		cleanup:         NewCleanup(d.Store, d.Engine, log),
	}
}

// Plan resolves clip durations and lays out the timeline without touching
// any asset. Handlers use it to reject bad requests before streaming.
func (p *Processor) Plan(j *Job) (timeline.Layout, error) {
	clips, err := timeline.ResolveDurations(j.Clips(), p.settings.FPS)
	if err != nil {
		return timeline.Layout{}, err
	}
	return timeline.Compose(clips, p.settings.Intro)
}

// run carries what a single job acquires along the way so cleanup can
// give it back.
type run struct {
	job     *Job
	stream  *events.Stream
	scratch string

	bundle      renderer.Bundle
	composition contracts.Composition
	props       contracts.InputProps
	output      renderer.Output

	cleanupOnce sync.Once
}

type step struct {
	stage   Stage
	message string
	do      func(ctx context.Context, r *run) error
}

// Run drives job through every stage and emits exactly one terminal event
// on stream. Owned assets, the bundle and the job scratch directory are
// released once the terminal event is out, whatever the outcome.
func (p *Processor) Run(ctx context.Context, job *Job, files []stager.File, stream *events.Stream) error {
	ctx = logger.ContextWithJobID(ctx, job.ID)
	log := p.log.FromContext(ctx).WithJobID(job.ID)

	r := &run{
		job:     job,
		stream:  stream,
		scratch: filepath.Join(p.settings.ScratchDir, job.ID),
	}
	defer p.cleanup.Run(ctx, r)

	// Assets staged ahead of the job belong to it even if it never starts.
	for _, c := range job.Clips() {
		if c.StagedID != "" {
			_, _ = p.stager.Adopt(job, c.StagedID)
		}
	}

	p.record(ctx, job, true)
	log.Info("render job started", "clips", len(job.Clips()))

	if err := p.process(ctx, r, files); err != nil {
		return p.failJob(ctx, r, err)
	}

	snap := job.Snapshot()
	log.Info("render job completed",
		"total_frames", snap.TotalFrames,
		"output_key", snap.Output.Key,
	)
	return nil
}

func (p *Processor) process(ctx context.Context, r *run, files []stager.File) error {
	job := r.job

	// 1. Stage uploads and resolve references
	r.stream.Status(ctx, events.Status{Message: "Staging clips...", Stage: string(StageCreated)})
	clips, err := p.stager.StageClips(ctx, job, job.Clips(), files)
	if err != nil {
		return err
	}
	job.setClips(clips)

	// 2. Lay out the timeline
	layout, err := p.Plan(job)
	if err != nil {
		return err
	}
	job.setLayout(layout)
	if len(layout.Skipped) > 0 {
		p.log.FromContext(ctx).Warn("clips without frames skipped", "clips", layout.Skipped)
	}

	steps := []step{
		{StageVerifying, "Verifying assets...", p.verify},
		{StageBundling, "Bundling composition...", p.bundle},
		{StageRendering, "Starting render...", p.render},
		{StagePersisting, "Saving output...", p.persist},
	}
	for _, s := range steps {
		if ctx.Err() != nil {
			return errors.Aborted(string(job.Stage()))
		}
		if err := job.advance(s.stage); err != nil {
			return errors.Wrap(err, "processor.advance", "invalid stage transition")
		}
		p.record(ctx, job, false)
		r.stream.Status(ctx, events.Status{
			Message:     s.message,
			Stage:       string(s.stage),
			TotalFrames: layout.TotalFrames,
		})
		if err := s.do(ctx, r); err != nil {
			return err
		}
	}

	// 3. Done
	if err := job.advance(StageCompleted); err != nil {
		return errors.Wrap(err, "processor.advance", "invalid stage transition")
	}
	p.record(ctx, job, false)
	out := job.Snapshot().Output
	r.stream.Complete(ctx, events.Complete{
		DownloadURL: out.DownloadURL,
		Filename:    out.Filename,
		JobID:       job.ID,
	})
	return nil
}

func (p *Processor) verify(ctx context.Context, r *run) error {
	return p.inputHandler.Verify(ctx, r.job.Layout())
}

func (p *Processor) bundle(ctx context.Context, r *run) error {
	return p.rendererAdapter.Bundle(ctx, r)
}

func (p *Processor) render(ctx context.Context, r *run) error {
	return p.rendererAdapter.Render(ctx, r)
}

func (p *Processor) persist(ctx context.Context, r *run) error {
	out, err := p.outputHandler.Persist(ctx, r.job.ID, r.job.OutputName, r.output)
	if err != nil {
		return err
	}
	r.job.setOutput(out)
	return nil
}

// failJob moves the job to Failed and emits the error event. A canceled
// context always reports ABORTED, naming the stage it interrupted.
func (p *Processor) failJob(ctx context.Context, r *run, cause error) error {
	log := p.log.FromContext(ctx).WithJobID(r.job.ID)
	stage := r.job.Stage()

	e := asError(cause)
	if ctx.Err() != nil && e.Code != errors.CodeAborted {
		e = errors.Aborted(string(stage))
	}

	r.job.setFailure(e)
	if err := r.job.advance(StageFailed); err != nil {
		log.Warn("failed job already terminal", "error", err.Error())
	}
	p.record(ctx, r.job, false)

	log.Error("render job failed",
		"stage", string(stage),
		"code", string(e.Code),
		"op", e.Op,
		"message", e.Message,
		"fields", e.Fields,
	)

	r.stream.Fail(ctx, events.Failure{Message: errors.Public(e), Code: string(e.Code)})
	return e
}

// record pushes the job state to the repository. Repository failures are
// logged and never fail the job.
func (p *Processor) record(ctx context.Context, job *Job, create bool) {
	if p.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var err error
	if create {
		err = p.repo.Create(ctx, job.Record())
	} else {
		err = p.repo.Update(ctx, job.Record())
	}
	if err != nil {
		p.log.FromContext(ctx).WithJobID(job.ID).Warn("job record not saved", "error", err.Error())
	}
}
