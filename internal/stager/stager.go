// Package stager turns uploaded clip files into references the render
// engine can fetch. Every staged file is registered with the owning job so
// it is released when the job ends.
package stager

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/url"
	"strings"

	"montage/internal/models"
	"montage/internal/pkg/errors"
	"montage/internal/tempstore"
)

// Reference modes.
const (
	ModeURL  = "url"
	ModePath = "path"
)

// Owner records the staged assets a job must release.
type Owner interface {
	Own(assetID string)
}

// File is one uploaded clip file.
type File struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// BytesFile wraps in-memory data.
func BytesFile(name string, data []byte) File {
	return File{Name: name, Open: func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}}
}

// MultipartFile wraps a parsed multipart upload.
func MultipartFile(fh *multipart.FileHeader) File {
	return File{Name: fh.Filename, Open: func() (io.ReadCloser, error) { return fh.Open() }}
}

type Stager struct {
	store   *tempstore.Store
	mode    string
	baseURL string
}

// New returns a stager producing URL references under baseURL, or store
// paths when mode is "path".
func New(store *tempstore.Store, mode, baseURL string) *Stager {
	if mode != ModePath {
		mode = ModeURL
	}
	return &Stager{store: store, mode: mode, baseURL: strings.TrimRight(baseURL, "/")}
}

// Reference derives the fetchable reference of a staged asset.
func (s *Stager) Reference(a tempstore.Asset) string {
	if s.mode == ModePath {
		return a.Path
	}
	return s.baseURL + "/staged/" + a.FileName()
}

// StageClipFile stages one file for clip and returns the clip with its
// render reference and staged ID set. The asset is owned by owner from the
// moment it exists.
func (s *Stager) StageClipFile(ctx context.Context, owner Owner, clip models.ClipRecord, f File) (models.ClipRecord, error) {
	rc, err := f.Open()
	if err != nil {
		return clip, errors.WrapWithCode(err, errors.CodeStageWrite, "stager.stage", "open uploaded file").
			WithField("clip", clip.ClipName)
	}
	defer rc.Close()

	a, err := s.store.StageReader(ctx, rc, f.Name)
	if err != nil {
		return clip, errors.Wrap(err, "stager.stage", "stage clip "+clip.ClipName).WithField("clip", clip.ClipName)
	}
	owner.Own(a.ID)

	clip.StagedID = a.ID
	clip.RenderSrc = s.Reference(a)
	return clip, nil
}

// Adopt hands a live staged asset to owner. Unknown and expired ids are
// NOT_FOUND and never owned, so a job cannot release what it cannot see.
// Any caller holding a live id may adopt it: ids are random and the
// service trusts every caller.
func (s *Stager) Adopt(owner Owner, id string) (tempstore.Asset, error) {
	a, err := s.store.Resolve(id)
	if err != nil {
		return tempstore.Asset{}, err
	}
	owner.Own(a.ID)
	return a, nil
}

// StageClips resolves a render reference for every clip, in order:
//   - a clip with StagedID adopts that asset, deriving RenderSrc if unset,
//   - a clip with RenderSrc is left as is,
//   - otherwise the uploaded file whose name minus video extension equals
//     the clip name is staged,
//   - failing that an http(s) or relative VideoSrc is made absolute.
//
// A clip with none of these fails with MISSING_CLIP_MATCH. Assets staged
// before a failure stay owned by owner.
func (s *Stager) StageClips(ctx context.Context, owner Owner, clips []models.ClipRecord, files []File) ([]models.ClipRecord, error) {
	byKey := make(map[string]File, len(files))
	for _, f := range files {
		byKey[models.ClipKey(f.Name)] = f
	}

	out := make([]models.ClipRecord, len(clips))
	for i, c := range clips {
		if err := ctx.Err(); err != nil {
			return nil, errors.Aborted("staging")
		}

		switch {
		case c.StagedID != "":
			a, err := s.Adopt(owner, c.StagedID)
			if err != nil {
				return nil, errors.MissingClipMatch(c.ClipName).WithField("stagedId", c.StagedID)
			}
			if c.RenderSrc == "" {
				c.RenderSrc = s.Reference(a)
			}
			out[i] = c

		case c.RenderSrc != "":
			out[i] = c

		default:
			if f, ok := byKey[models.ClipKey(c.ClipName)]; ok {
				staged, err := s.StageClipFile(ctx, owner, c, f)
				if err != nil {
					return nil, err
				}
				out[i] = staged
				continue
			}
			ref := NormalizeReference(s.baseURL, c.VideoSrc)
			if ref == "" {
				return nil, errors.MissingClipMatch(c.ClipName)
			}
			c.RenderSrc = ref
			out[i] = c
		}
	}
	return out, nil
}

// NormalizeReference makes a preview reference absolute against origin.
// Browser-local blob: and data: references cannot be fetched by a renderer
// and yield "".
func NormalizeReference(origin, src string) string {
	src = strings.TrimSpace(src)
	if src == "" || strings.HasPrefix(src, "blob:") || strings.HasPrefix(src, "data:") {
		return ""
	}
	if u, err := url.Parse(src); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return src
	}
	if origin == "" {
		return ""
	}
	origin = strings.TrimRight(origin, "/")
	if strings.HasPrefix(src, "/") {
		return origin + src
	}
	return origin + "/" + src
}
