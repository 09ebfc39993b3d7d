// Package renderer drives the render engine. The processor only sees the
// Engine interface; HTTPClient talks to a remote render service and
// FFmpegEngine encodes locally.
package renderer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	contracts "montage/internal/contracts/renderer/v1"
	"montage/internal/pkg/errors"
)

// BundleSpec locates the composition program and its static assets.
type BundleSpec struct {
	Entry     string
	PublicDir string
	Aliases   map[string]string
}

// Bundle is a prepared composition. Dir, when set, is local scratch owned
// by the bundle.
type Bundle struct {
	ID       string
	ServeURL string
	Dir      string
}

type RenderInput struct {
	JobID       string
	Bundle      Bundle
	Composition contracts.Composition
	Codec       string
	OutputName  string
	Props       contracts.InputProps
	// ScratchDir receives output files; the processor removes it on cleanup.
	ScratchDir string
}

// ProgressFunc receives frame counters as the engine reports them.
type ProgressFunc func(rendered, encoded int)

// Output is either the encoded bytes or a file path.
type Output struct {
	Bytes []byte
	Path  string
}

type Engine interface {
	PrepareBundle(ctx context.Context, spec BundleSpec) (Bundle, error)
	ListCompositions(ctx context.Context, b Bundle, props contracts.InputProps) ([]contracts.Composition, error)
	Render(ctx context.Context, in RenderInput, onProgress ProgressFunc) (Output, error)
	Cleanup(ctx context.Context, b Bundle) error
}

const maxErrorBody = 4 << 10

// engineError builds a coded error from a failed response. The public
// message is the service's own message when it sent one; the raw body is
// kept in fields for logs only.
func engineError(code errors.Code, op string, res *http.Response) *errors.Error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	body := strings.TrimSpace(string(raw))

	msg := ""
	var er contracts.ErrorResponse
	if json.Unmarshal(raw, &er) == nil {
		msg = er.Message
		if msg == "" {
			msg = er.Error
		}
	}
	if msg == "" {
		msg = errors.Sanitize(body)
	}
	if msg == "" {
		msg = http.StatusText(res.StatusCode)
	}

	e := errors.Newf(code, "renderer: %s", msg).
		WithField("status", res.StatusCode).
		WithField("body", body)
	e.Op = op
	return e
}
