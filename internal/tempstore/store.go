// Package tempstore owns staged uploads: files written under one managed
// directory, tracked in a registry and removed on release or after their
// TTL. Callers hold asset IDs only.
package tempstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"montage/internal/pkg/errors"
	"montage/internal/pkg/logger"
)

// Asset is a staged upload.
type Asset struct {
	ID           string    `json:"id"`
	Path         string    `json:"-"`
	Ext          string    `json:"ext"`
	OriginalName string    `json:"originalName"`
	Size         int64     `json:"size"`
	SHA256       string    `json:"sha256"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// FileName is the on-disk name, also used as the public reference.
func (a Asset) FileName() string { return a.ID + a.Ext }

// Expired reports whether now is strictly past the expiry.
func (a Asset) Expired(now time.Time) bool { return now.After(a.ExpiresAt) }

type Options struct {
	Dir     string
	TTL     time.Duration
	Retries int
	Backoff time.Duration
	Now     func() time.Time
	Log     *logger.Logger
}

// Store is safe for concurrent use. The registry is a sync.Map keyed by
// asset ID; file writes happen outside any lock.
type Store struct {
	dir     string
	ttl     time.Duration
	retries int
	backoff time.Duration
	now     func() time.Time
	log     *logger.Logger

	entries sync.Map // id -> Asset

	// readBack is swapped in tests to simulate flaky storage.
	readBack func(path string) (int64, string, error)
}

// New creates the managed directory if needed.
func New(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.Validation("staging dir is required")
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "tempstore.new", "resolve staging dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "tempstore.new", "create staging dir")
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	return &Store{
		dir:      dir,
		ttl:      opts.TTL,
		retries:  opts.Retries,
		backoff:  opts.Backoff,
		now:      opts.Now,
		log:      opts.Log.WithComponent("tempstore"),
		readBack: hashFile,
	}, nil
}

// Dir is the absolute managed directory.
func (s *Store) Dir() string { return s.dir }

// TTL is the lifetime given to new assets.
func (s *Store) TTL() time.Duration { return s.ttl }

// Stage writes data under a fresh ID. See StageReader.
func (s *Store) Stage(ctx context.Context, data []byte, name string) (Asset, error) {
	return s.StageReader(ctx, bytes.NewReader(data), name)
}

// StageReader streams r to <dir>/<uuid><ext>, fsyncs it, then reads it
// back and compares size and SHA-256. The read-back is retried with
// exponential backoff; when it never matches the file is removed and a
// STAGE_WRITE_FAILED error is returned. The asset is registered only after
// verification, with expiry now+TTL.
func (s *Store) StageReader(ctx context.Context, r io.Reader, name string) (Asset, error) {
	const op = "tempstore.stage"

	ext := VideoExt(name)
	id := uuid.NewString()
	path := filepath.Join(s.dir, id+ext)

	size, sum, err := writeSynced(ctx, path, r)
	if err != nil {
		_ = os.Remove(path)
		if ctx.Err() != nil {
			return Asset{}, errors.Aborted("staging")
		}
		return Asset{}, errors.WrapWithCode(err, errors.CodeStageWrite, op, "write staged file").
			WithField("name", name)
	}

	if err := s.verify(ctx, path, size, sum); err != nil {
		_ = os.Remove(path)
		return Asset{}, err
	}

	now := s.now()
	a := Asset{
		ID:           id,
		Path:         path,
		Ext:          ext,
		OriginalName: filepath.Base(name),
		Size:         size,
		SHA256:       sum,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
	}
	if _, loaded := s.entries.LoadOrStore(id, a); loaded {
		// uuid collision; never expected, but the registry stays consistent.
		_ = os.Remove(path)
		return Asset{}, errors.New(errors.CodeStageWrite, "staged id collision").WithField("id", id)
	}

	s.log.Debug("asset staged", "id", id, "name", a.OriginalName, "size", size)
	return a, nil
}

func (s *Store) verify(ctx context.Context, path string, size int64, sum string) error {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * s.backoff
			if delay > 5*time.Second {
				delay = 5 * time.Second
			}
			select {
			case <-ctx.Done():
				return errors.Aborted("staging")
			case <-time.After(delay):
			}
		}

		gotSize, gotSum, err := s.readBack(path)
		switch {
		case err != nil:
			lastErr = err
		case gotSize != size || gotSum != sum:
			lastErr = fmt.Errorf("read back %d bytes (%s), wrote %d (%s)", gotSize, short(gotSum), size, short(sum))
		default:
			return nil
		}
		s.log.Warn("staged file verification failed", "path", path, "attempt", attempt+1, "error", lastErr.Error())
	}
	return errors.WrapWithCode(lastErr, errors.CodeStageWrite, "tempstore.verify", "staged file could not be verified").
		WithField("attempts", s.retries+1)
}

// Release deletes the asset's file and registry entry. It is idempotent and
// reports whether anything was removed. IDs unknown to this process are
// still matched against files in the managed directory, so a worker can
// release uploads staged by the API on a shared volume.
func (s *Store) Release(id string) bool {
	if v, ok := s.entries.LoadAndDelete(id); ok {
		a := v.(Asset)
		if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("release: remove failed", "id", id, "error", err.Error())
		}
		return true
	}

	if _, err := uuid.Parse(id); err != nil {
		return false
	}
	matches, _ := filepath.Glob(filepath.Join(s.dir, id+".*"))
	removed := false
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			removed = true
		}
	}
	return removed
}

// Resolve returns a live asset or NOT_FOUND once released or expired.
func (s *Store) Resolve(id string) (Asset, error) {
	v, ok := s.entries.Load(id)
	if !ok {
		return Asset{}, errors.NotFound("staged asset", id)
	}
	a := v.(Asset)
	if a.Expired(s.now()) {
		return Asset{}, errors.NotFound("staged asset", id)
	}
	return a, nil
}

// Len counts registered assets.
func (s *Store) Len() int {
	n := 0
	s.entries.Range(func(_, _ any) bool { n++; return true })
	return n
}

func writeSynced(ctx context.Context, path string, r io.Reader) (int64, string, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, "", err
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), ctxReader{ctx: ctx, r: r})
	if err != nil {
		f.Close()
		return 0, "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return 0, "", err
	}
	if err := f.Close(); err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".webm": "video/webm",
}

// VideoExt returns the lowercased extension of name when it is a supported
// container, ".mp4" otherwise.
func VideoExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if _, ok := videoTypes[ext]; ok {
		return ext
	}
	return ".mp4"
}

// IsVideoExt reports whether ext is a supported video container.
func IsVideoExt(ext string) bool {
	_, ok := videoTypes[strings.ToLower(ext)]
	return ok
}

// ContentType maps a staged file extension to its MIME type.
func ContentType(ext string) string {
	if ct, ok := videoTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	return "application/octet-stream"
}
