package tempstore

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"montage/internal/pkg/errors"
)

// Open resolves a public reference ("<id><ext>" or a bare id) to a readable
// file. References that are not a single path element, or that resolve
// outside the managed directory, are NOT_FOUND, as are registered assets
// past their expiry. Files staged by another process on the same volume
// are served when their name is a valid id this store never registered.
func (s *Store) Open(ref string) (*os.File, Asset, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.ContainsAny(ref, `/\`) {
		return nil, Asset{}, errors.NotFound("staged asset", ref)
	}
	ext := filepath.Ext(ref)
	id := strings.TrimSuffix(ref, ext)

	var a Asset
	if v, ok := s.entries.Load(id); ok {
		// Registered here: expiry is final even before the sweeper runs.
		a = v.(Asset)
		if a.Expired(s.now()) {
			return nil, Asset{}, errors.NotFound("staged asset", ref)
		}
	} else {
		if _, perr := uuid.Parse(id); perr != nil || ext == "" {
			return nil, Asset{}, errors.NotFound("staged asset", ref)
		}
		a = Asset{ID: id, Ext: strings.ToLower(ext), Path: filepath.Join(s.dir, ref)}
	}
	if ext != "" && !strings.EqualFold(ext, a.Ext) {
		return nil, Asset{}, errors.NotFound("staged asset", ref)
	}
	if !s.contains(a.Path) {
		return nil, Asset{}, errors.NotFound("staged asset", ref)
	}

	f, err := os.Open(a.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, Asset{}, errors.NotFound("staged asset", ref)
		}
		return nil, Asset{}, errors.Wrap(err, "tempstore.open", "open staged file")
	}
	if a.Size == 0 {
		if info, err := f.Stat(); err == nil {
			a.Size = info.Size()
		}
	}
	return f, a, nil
}

func (s *Store) contains(path string) bool {
	rel, err := filepath.Rel(s.dir, filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel)
}
