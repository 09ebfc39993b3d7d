package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"montage/internal/pkg/errors"
	"montage/internal/ports"
	"montage/internal/worker/renderer"
)

// OutputHandler uploads the rendered file and derives its download reference.
type OutputHandler struct {
	sp      ports.StorageProvider
	baseURL string
	urlTTL  time.Duration
}

func NewOutputHandler(sp ports.StorageProvider, publicBaseURL string, urlTTL time.Duration) *OutputHandler {
	return &OutputHandler{
		sp:      sp,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		urlTTL:  urlTTL,
	}
}

// Persist stores out under renders/<jobID>/<uuid>.mp4. Missing or empty
// output fails with PERSIST_FAILED.
func (oh *OutputHandler) Persist(ctx context.Context, jobID, filename string, out renderer.Output) (Output, error) {
	if oh.sp == nil {
		return Output{}, errors.New(errors.CodePersist, "no storage provider configured")
	}

	body, size, err := openOutput(out)
	if err != nil {
		return Output{}, err
	}
	defer body.Close()

	key := OutputKey(jobID)
	res, err := oh.sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   key,
		ContentType: "video/mp4",
		Reader:      body,
		Size:        size,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Output{}, errors.Aborted(string(StagePersisting))
		}
		return Output{}, errors.WrapWithCode(err, errors.CodePersist, "processor.persist",
			fmt.Sprintf("failed to store output via %s", oh.sp.Provider())).
			WithField("key", key)
	}
	if res.Size > 0 {
		size = res.Size
	}

	return Output{
		Key:         res.ObjectKey,
		DownloadURL: oh.downloadURL(ctx, res.ObjectKey),
		Filename:    filename,
		Size:        size,
	}, nil
}

// downloadURL prefers a provider signed URL and falls back to the API's
// /outputs route.
func (oh *OutputHandler) downloadURL(ctx context.Context, key string) string {
	signed, err := oh.sp.GetSignedURL(ctx, key, oh.urlTTL)
	if err == nil && signed.URL != "" {
		return signed.URL
	}
	return oh.baseURL + "/outputs/" + key
}

func openOutput(out renderer.Output) (io.ReadCloser, int64, error) {
	if len(out.Bytes) > 0 {
		return io.NopCloser(bytes.NewReader(out.Bytes)), int64(len(out.Bytes)), nil
	}
	if out.Path == "" {
		return nil, 0, errors.New(errors.CodePersist, "render produced no output")
	}

	f, err := os.Open(out.Path)
	if err != nil {
		return nil, 0, errors.WrapWithCode(err, errors.CodePersist, "processor.persist", "render output is missing").
			WithField("path", out.Path)
	}
	st, err := f.Stat()
	if err != nil || st.Size() == 0 {
		f.Close()
		return nil, 0, errors.New(errors.CodePersist, "render output is empty").WithField("path", out.Path)
	}
	return f, st.Size(), nil
}
