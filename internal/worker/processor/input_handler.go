package processor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"montage/internal/models"
	"montage/internal/pkg/errors"
	"montage/internal/timeline"
)

// InputHandler checks that every clip reference can be fetched before any
// render resources are spent.
type InputHandler struct {
	client      *http.Client
	concurrency int
	timeout     time.Duration
}

func NewInputHandler(client *http.Client, concurrency int, timeout time.Duration) *InputHandler {
	if client == nil {
		client = &http.Client{}
	}
	return &InputHandler{client: client, concurrency: concurrency, timeout: timeout}
}

// Verify probes all segment references concurrently. It returns only after
// every probe has finished; the first failure names its clip.
func (ih *InputHandler) Verify(ctx context.Context, layout timeline.Layout) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ih.concurrency)

	for _, seg := range layout.Segments {
		clip := seg.Clip
		g.Go(func() error {
			return ih.probe(gctx, clip)
		})
	}
	return g.Wait()
}

func (ih *InputHandler) probe(ctx context.Context, clip models.ClipRecord) error {
	ref := strings.TrimSpace(clip.RenderSrc)
	if ref == "" {
		return errors.AssetUnavailable(clip.ClipName, fmt.Errorf("no render reference"))
	}

	u, err := url.Parse(ref)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return ih.probeURL(ctx, clip, ref)
	}

	path := ref
	if err == nil && u.Scheme == "file" {
		path = u.Path
	}
	st, err := os.Stat(path)
	if err != nil {
		return errors.AssetUnavailable(clip.ClipName, err)
	}
	if st.IsDir() || st.Size() == 0 {
		return errors.AssetUnavailable(clip.ClipName, fmt.Errorf("%s is not a readable video file", path)).
			WithField("ref", ref)
	}
	return nil
}

func (ih *InputHandler) probeURL(ctx context.Context, clip models.ClipRecord, ref string) error {
	ctx, cancel := context.WithTimeout(ctx, ih.timeout)
	defer cancel()

	status, err := ih.do(ctx, http.MethodHead, ref)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		status, err = ih.do(ctx, http.MethodGet, ref)
	}
	if err != nil {
		return errors.AssetUnavailable(clip.ClipName, err).WithField("ref", ref)
	}
	if status < 200 || status > 299 {
		return errors.AssetUnavailable(clip.ClipName, fmt.Errorf("HTTP %d", status)).
			WithField("ref", ref).
			WithField("status", status)
	}
	return nil
}

// do issues one probe. GET asks for a single byte so large clips are not
// downloaded twice.
func (ih *InputHandler) do(ctx context.Context, method, ref string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, ref, nil)
	if err != nil {
		return 0, err
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	res, err := ih.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<10))
	return res.StatusCode, nil
}
