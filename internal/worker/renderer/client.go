package renderer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	contracts "montage/internal/contracts/renderer/v1"
	"montage/internal/pkg/errors"
)

// HTTPClient speaks the v1 contract with a remote render service.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *HTTPClient) WithHTTPClient(hc *http.Client) *HTTPClient {
	c.client = hc
	return c
}

func (c *HTTPClient) PrepareBundle(ctx context.Context, spec BundleSpec) (Bundle, error) {
	var out contracts.BundleResponse
	err := c.postJSON(ctx, "/bundle", errors.CodeBundle, contracts.BundleRequest{
		Entry:     spec.Entry,
		PublicDir: spec.PublicDir,
		Aliases:   spec.Aliases,
	}, &out)
	if err != nil {
		return Bundle{}, err
	}
	if out.BundleID == "" {
		return Bundle{}, errors.New(errors.CodeBundle, "renderer returned no bundle id")
	}
	return Bundle{ID: out.BundleID, ServeURL: out.ServeURL}, nil
}

func (c *HTTPClient) ListCompositions(ctx context.Context, b Bundle, props contracts.InputProps) ([]contracts.Composition, error) {
	var out contracts.CompositionsResponse
	err := c.postJSON(ctx, "/compositions", errors.CodeBundle, contracts.CompositionsRequest{
		BundleID:   b.ID,
		InputProps: props,
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Compositions, nil
}

// Render posts the job and follows the response. An NDJSON body is read as
// progress events until done or error; a video body is the output itself
// and is written under the job's scratch dir.
func (c *HTTPClient) Render(ctx context.Context, in RenderInput, onProgress ProgressFunc) (Output, error) {
	const op = "renderer.render"

	body, err := json.Marshal(contracts.RenderRequest{
		JobID:         in.JobID,
		BundleID:      in.Bundle.ID,
		CompositionID: in.Composition.ID,
		Codec:         in.Codec,
		OutputName:    in.OutputName,
		InputProps:    in.Props,
	})
	if err != nil {
		return Output{}, errors.Wrap(err, op, "encode render request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return Output{}, errors.Wrap(err, op, "build render request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson, video/mp4")

	res, err := c.client.Do(req)
	if err != nil {
		return Output{}, transportError(ctx, err, op)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return Output{}, engineError(errors.CodeRenderEngine, op, res)
	}

	mt, _, _ := mime.ParseMediaType(res.Header.Get("Content-Type"))
	if strings.HasPrefix(mt, "video/") || mt == "application/octet-stream" {
		path, err := saveBody(in.ScratchDir, in.JobID, res.Body)
		if err != nil {
			return Output{}, transportError(ctx, err, op)
		}
		return Output{Path: path}, nil
	}
	return c.followEvents(ctx, in, res.Body, onProgress)
}

func (c *HTTPClient) followEvents(ctx context.Context, in RenderInput, r io.Reader, onProgress ProgressFunc) (Output, error) {
	const op = "renderer.render"

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev contracts.RenderEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return Output{}, errors.New(errors.CodeRenderEngine, "renderer sent an unreadable event").
				WithField("body", string(line))
		}

		switch ev.Type {
		case contracts.EventProgress:
			if onProgress != nil {
				onProgress(ev.RenderedFrames, ev.EncodedFrames)
			}
		case contracts.EventError:
			msg := errors.Sanitize(ev.Message)
			if msg == "" {
				msg = "render failed"
			}
			return Output{}, errors.Newf(errors.CodeRenderEngine, "renderer: %s", msg).
				WithField("body", ev.Message)
		case contracts.EventDone:
			switch {
			case ev.OutputPath != "":
				return Output{Path: ev.OutputPath}, nil
			case ev.OutputURL != "":
				path, err := c.download(ctx, ev.OutputURL, in)
				if err != nil {
					return Output{}, err
				}
				return Output{Path: path}, nil
			default:
				return Output{}, errors.New(errors.CodePersist, "renderer finished without an output")
			}
		}
	}
	if err := sc.Err(); err != nil {
		return Output{}, transportError(ctx, err, op)
	}
	if ctx.Err() != nil {
		return Output{}, errors.Aborted("rendering")
	}
	return Output{}, errors.New(errors.CodeRenderEngine, "renderer closed the stream without a result")
}

func (c *HTTPClient) download(ctx context.Context, ref string, in RenderInput) (string, error) {
	const op = "renderer.download"

	u, err := url.Parse(ref)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.CodeRenderEngine, op, "renderer returned an invalid output url")
	}
	if !u.IsAbs() {
		base, _ := url.Parse(c.baseURL + "/")
		u = base.ResolveReference(u)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", errors.Wrap(err, op, "build download request")
	}
	res, err := c.client.Do(req)
	if err != nil {
		return "", transportError(ctx, err, op)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", engineError(errors.CodeRenderEngine, op, res)
	}
	path, err := saveBody(in.ScratchDir, in.JobID, res.Body)
	if err != nil {
		return "", transportError(ctx, err, op)
	}
	return path, nil
}

// Cleanup asks the service to drop the bundle. Unknown bundles are fine.
func (c *HTTPClient) Cleanup(ctx context.Context, b Bundle) error {
	if b.ID == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/bundle/"+url.PathEscape(b.ID), nil)
	if err != nil {
		return err
	}
	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound || (res.StatusCode >= 200 && res.StatusCode < 300) {
		return nil
	}
	return engineError(errors.CodeRenderEngine, "renderer.cleanup", res)
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, code errors.Code, in, out any) error {
	op := "renderer.post" + strings.ReplaceAll(path, "/", ".")

	body, err := json.Marshal(in)
	if err != nil {
		return errors.Wrap(err, op, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, op, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.Aborted(strings.TrimPrefix(path, "/"))
		}
		return errors.WrapWithCode(err, code, op, "renderer unreachable")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return engineError(code, op, res)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return errors.WrapWithCode(err, code, op, "decode renderer response")
	}
	return nil
}

func transportError(ctx context.Context, err error, op string) error {
	if ctx.Err() != nil {
		return errors.Aborted("rendering")
	}
	return errors.WrapWithCode(err, errors.CodeRenderEngine, op, "renderer connection failed")
}

func saveBody(dir, jobID string, r io.Reader) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.mp4", jobID, uuid.NewString()[:8]))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", err
	}
	return path, f.Close()
}
