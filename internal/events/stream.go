package events

import (
	"context"
	"sync"
	"time"

	"montage/internal/pkg/logger"
)

// Stream emits one job's events to its sinks. It drops progress that does
// not advance, drops everything after the terminal event and closes Done
// exactly once. Only the stream's own mutex is held while sinks run.
type Stream struct {
	jobID string
	sinks []Sink
	log   *logger.Logger
	now   func() time.Time

	mu       sync.Mutex
	last     Progress
	terminal bool
	done     chan struct{}
}

func NewStream(jobID string, log *logger.Logger, sinks ...Sink) *Stream {
	if log == nil {
		log = logger.Nop()
	}
	return &Stream{
		jobID: jobID,
		sinks: sinks,
		log:   log.WithComponent("events").WithJobID(jobID),
		now:   time.Now,
		done:  make(chan struct{}),
	}
}

// Done is closed right after the terminal event.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Closed reports whether the terminal event was emitted.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminal
}

// LastProgress returns the most recent emitted progress.
func (s *Stream) LastProgress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Stream) Status(ctx context.Context, st Status) bool {
	return s.emit(ctx, TypeStatus, st)
}

// Progress emits only when at least one counter grows and neither shrinks.
func (s *Stream) Progress(ctx context.Context, rendered, encoded, total int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return false
	}
	if rendered < s.last.RenderedFrames || encoded < s.last.EncodedFrames {
		return false
	}
	if rendered == s.last.RenderedFrames && encoded == s.last.EncodedFrames {
		return false
	}
	p := NewProgress(rendered, encoded, total)
	s.last = p
	s.publish(ctx, Event{JobID: s.jobID, Type: TypeProgress, Data: p, Timestamp: s.now()})
	return true
}

func (s *Stream) Complete(ctx context.Context, c Complete) bool {
	return s.emit(ctx, TypeComplete, c)
}

func (s *Stream) Fail(ctx context.Context, f Failure) bool {
	return s.emit(ctx, TypeError, f)
}

func (s *Stream) emit(ctx context.Context, t Type, data any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		s.log.Debug("event dropped after terminal", "type", string(t))
		return false
	}
	s.publish(ctx, Event{JobID: s.jobID, Type: t, Data: data, Timestamp: s.now()})
	if t.Terminal() {
		s.terminal = true
		close(s.done)
	}
	return true
}

// publish runs with s.mu held. The terminal event still reaches every sink
// when the job context is already canceled.
func (s *Stream) publish(ctx context.Context, e Event) {
	if e.Type.Terminal() {
		ctx = context.WithoutCancel(ctx)
	}
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, e); err != nil {
			s.log.Warn("event sink failed", "type", string(e.Type), "error", err.Error())
		}
	}
}

// Recorder is an in-memory Sink.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
