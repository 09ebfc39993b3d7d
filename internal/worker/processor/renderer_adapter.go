package processor

import (
	"context"
	"strings"

	contracts "montage/internal/contracts/renderer/v1"
	"montage/internal/events"
	"montage/internal/pkg/errors"
	"montage/internal/timeline"
	"montage/internal/worker/renderer"
)

// RendererAdapter translates a job layout into engine calls.
type RendererAdapter struct {
	engine   renderer.Engine
	settings Settings
}

func NewRendererAdapter(engine renderer.Engine, s Settings) *RendererAdapter {
	return &RendererAdapter{engine: engine, settings: s}
}

// Bundle prepares the composition and checks the configured composition
// is among those the bundle exposes.
func (ra *RendererAdapter) Bundle(ctx context.Context, r *run) error {
	r.stream.Status(ctx, events.Status{Message: "Starting bundling...", Stage: string(StageBundling)})

	b, err := ra.engine.PrepareBundle(ctx, ra.settings.Bundle)
	if err != nil {
		return engineFailure(ctx, err, errors.CodeBundle, StageBundling, "processor.bundle", "failed to bundle composition")
	}
	r.bundle = b

	r.props = ra.InputProps(r.job.Layout())
	comps, err := ra.engine.ListCompositions(ctx, b, r.props)
	if err != nil {
		return engineFailure(ctx, err, errors.CodeBundle, StageBundling, "processor.compositions", "failed to list compositions")
	}

	ids := make([]string, 0, len(comps))
	found := false
	for _, c := range comps {
		ids = append(ids, c.ID)
		if c.ID == ra.settings.CompositionID {
			r.composition = c
			found = true
		}
	}
	r.stream.Status(ctx, events.Status{
		Message:      "Found compositions:",
		Stage:        string(StageBundling),
		Compositions: ids,
	})
	if !found {
		return errors.Newf(errors.CodeBundle, "composition %q not found, available: %s",
			ra.settings.CompositionID, strings.Join(ids, ", ")).
			WithField("compositions", ids)
	}

	// The composition length always follows the layout.
	r.composition.DurationInFrames = r.props.TotalFrames
	if r.composition.FPS == 0 {
		r.composition.FPS = r.props.FPS
	}
	return nil
}

// Render runs the engine and forwards its counters to the job and stream.
func (ra *RendererAdapter) Render(ctx context.Context, r *run) error {
	total := r.props.TotalFrames
	out, err := ra.engine.Render(ctx, renderer.RenderInput{
		JobID:       r.job.ID,
		Bundle:      r.bundle,
		Composition: r.composition,
		Codec:       ra.settings.Codec,
		OutputName:  r.job.OutputName,
		Props:       r.props,
		ScratchDir:  r.scratch,
	}, func(rendered, encoded int) {
		rendered, encoded = min(rendered, total), min(encoded, total)
		r.job.setProgress(rendered, encoded)
		r.stream.Progress(ctx, rendered, encoded, total)
	})
	if err != nil {
		return engineFailure(ctx, err, errors.CodeRenderEngine, StageRendering, "processor.render", "render failed")
	}
	r.output = out
	return nil
}

// InputProps flattens a layout into what the composition draws.
func (ra *RendererAdapter) InputProps(l timeline.Layout) contracts.InputProps {
	props := contracts.InputProps{
		FPS:              ra.settings.FPS,
		TotalFrames:      l.TotalFrames,
		IntroFrames:      l.IntroFrames,
		IntroImage:       ra.settings.IntroImage,
		VisualFadeFrames: ra.settings.VisualFadeFrames,
		AudioFadeFrames:  ra.settings.AudioFadeFrames,
		AudioPeakVolume:  ra.settings.AudioPeak,
		Intro:            make([]contracts.IntroBlock, 0, len(l.Intro)),
		Segments:         make([]contracts.Segment, 0, len(l.Segments)),
	}
	for _, b := range l.Intro {
		props.Intro = append(props.Intro, contracts.IntroBlock{Name: b.Name, DurationInFrames: b.Frames})
	}
	for _, s := range l.Segments {
		seg := contracts.Segment{ClipRecord: s.Clip, From: s.StartFrame, IsRendering: true}
		seg.DurationInFrames = s.Frames
		if s.Clip.Comments != "" || s.Clip.CommentAuthors != "" {
			for _, c := range timeline.CommentCues(s.Clip.Comments, s.Clip.CommentAuthors, s.Frames) {
				seg.Cues = append(seg.Cues, contracts.Cue{
					Author:           c.Author,
					Text:             c.Text,
					From:             c.StartFrame,
					DurationInFrames: c.Frames,
				})
			}
		}
		props.Segments = append(props.Segments, seg)
	}
	return props
}

// engineFailure keeps coded engine errors, turns cancellation into
// ABORTED and gives everything else code. The engine's own first line is
// appended to msg so callers see what actually broke.
func engineFailure(ctx context.Context, err error, code errors.Code, stage Stage, op, msg string) error {
	if ctx.Err() != nil {
		return errors.Aborted(string(stage))
	}
	var e *errors.Error
	if errors.As(err, &e) && e.Code != errors.CodeInternal {
		return e
	}
	if detail := errors.Sanitize(err.Error()); detail != "" {
		msg += ": " + detail
	}
	return errors.WrapWithCode(err, code, op, msg)
}
