// Package events defines the typed render events sent to callers and the
// per-job stream that enforces their ordering.
package events

import (
	"context"
	"encoding/json"
	"math"
	"time"
)

type Type string

const (
	TypeStatus   Type = "status"
	TypeProgress Type = "progress"
	TypeComplete Type = "complete"
	TypeError    Type = "error"
)

// Terminal reports whether no event may follow one of this type.
func (t Type) Terminal() bool { return t == TypeComplete || t == TypeError }

// Event is one frame of the stream. It marshals as
// {"type":..,"data":..,"timestamp":<unix ms>}.
type Event struct {
	JobID     string    `json:"-"`
	Type      Type      `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"-"`
}

type wire struct {
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire{Type: e.Type, Data: data, Timestamp: e.Timestamp.UnixMilli()})
}

// UnmarshalJSON leaves Data as json.RawMessage.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	e.Type = w.Type
	e.Data = w.Data
	e.Timestamp = time.UnixMilli(w.Timestamp)
	return nil
}

type Status struct {
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
	// TotalFrames is set once the layout is known.
	TotalFrames  int      `json:"totalFrames,omitempty"`
	Compositions []string `json:"compositions,omitempty"`
}

type Progress struct {
	RenderedFrames  int `json:"renderedFrames"`
	EncodedFrames   int `json:"encodedFrames"`
	TotalFrames     int `json:"totalFrames"`
	RenderedPercent int `json:"renderedPercent"`
	EncodedPercent  int `json:"encodedPercent"`
}

type Complete struct {
	DownloadURL string `json:"downloadUrl"`
	Filename    string `json:"filename"`
	JobID       string `json:"jobId,omitempty"`
}

type Failure struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewProgress fills the percentages by rounding frames/total*100.
func NewProgress(rendered, encoded, total int) Progress {
	return Progress{
		RenderedFrames:  rendered,
		EncodedFrames:   encoded,
		TotalFrames:     total,
		RenderedPercent: Percent(rendered, total),
		EncodedPercent:  Percent(encoded, total),
	}
}

// Percent is round(frames/total*100), 0 when total is not positive.
func Percent(frames, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(frames) / float64(total) * 100))
}

// Sink receives every event a job emits, in order. Sinks other than the
// caller's connection (pub/sub fan-out, status hashes) must not block for long.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }
