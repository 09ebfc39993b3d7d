// Package v1 is the wire contract of the remote render service.
//
//	POST   /bundle        BundleRequest       -> BundleResponse
//	POST   /compositions  CompositionsRequest -> CompositionsResponse
//	POST   /render        RenderRequest       -> NDJSON RenderEvent lines, or the encoded video itself
//	DELETE /bundle/{id}
//
// Errors are any non-2xx status with an optional ErrorResponse body.
package v1

import "montage/internal/models"

type BundleRequest struct {
	Entry     string            `json:"entry"`
	PublicDir string            `json:"public_dir,omitempty"`
	Aliases   map[string]string `json:"aliases,omitempty"`
}

type BundleResponse struct {
	BundleID string `json:"bundle_id"`
	ServeURL string `json:"serve_url,omitempty"`
}

type CompositionsRequest struct {
	BundleID   string     `json:"bundle_id"`
	InputProps InputProps `json:"input_props"`
}

type Composition struct {
	ID               string `json:"id"`
	DurationInFrames int    `json:"durationInFrames"`
	FPS              int    `json:"fps,omitempty"`
	Width            int    `json:"width,omitempty"`
	Height           int    `json:"height,omitempty"`
}

type CompositionsResponse struct {
	Compositions []Composition `json:"compositions"`
}

// InputProps is everything the composition needs to draw the montage.
type InputProps struct {
	FPS              int          `json:"fps"`
	TotalFrames      int          `json:"totalFrames"`
	IntroFrames      int          `json:"introFrames"`
	Intro            []IntroBlock `json:"intro"`
	IntroImage       string       `json:"introImage,omitempty"`
	Segments         []Segment    `json:"segments"`
	VisualFadeFrames int          `json:"visualFadeFrames"`
	AudioFadeFrames  int          `json:"audioFadeFrames"`
	AudioPeakVolume  float64      `json:"audioPeakVolume"`
}

type IntroBlock struct {
	Name             string `json:"name"`
	DurationInFrames int    `json:"durationInFrames"`
}

// Segment is a clip record flattened with its placement, as the
// composition reads it.
type Segment struct {
	models.ClipRecord
	From        int   `json:"from"`
	IsRendering bool  `json:"isRendering"`
	Cues        []Cue `json:"cues,omitempty"`
}

type Cue struct {
	Author           string `json:"author"`
	Text             string `json:"text"`
	From             int    `json:"from"`
	DurationInFrames int    `json:"durationInFrames"`
}

type RenderRequest struct {
	JobID         string     `json:"job_id"`
	BundleID      string     `json:"bundle_id"`
	CompositionID string     `json:"composition_id"`
	Codec         string     `json:"codec"`
	OutputName    string     `json:"output_name,omitempty"`
	InputProps    InputProps `json:"input_props"`
}

// Render event types.
const (
	EventProgress = "progress"
	EventDone     = "done"
	EventError    = "error"
)

// RenderEvent is one NDJSON line of a /render response. A done event
// carries either a path on a shared volume or a URL to download from.
type RenderEvent struct {
	Type           string `json:"type"`
	RenderedFrames int    `json:"renderedFrames,omitempty"`
	EncodedFrames  int    `json:"encodedFrames,omitempty"`
	OutputPath     string `json:"output_path,omitempty"`
	OutputURL      string `json:"output_url,omitempty"`
	Size           int64  `json:"size,omitempty"`
	Message        string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}
