package handlers

import (
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"montage/internal/pkg/errors"
)

// GetOutput streams a persisted render from the storage provider.
func (h *Handler) GetOutput(w http.ResponseWriter, r *http.Request) error {
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if key == "" || strings.Contains(key, "..") {
		return errors.NotFound("output", key)
	}

	rc, contentType, size, err := h.sp.GetObject(r.Context(), key)
	if err != nil {
		if errors.IsNotFound(err) {
			return err
		}
		return errors.Wrap(err, "http.outputs.get", "failed to read output")
	}
	defer rc.Close()

	if contentType == "" {
		contentType = "video/mp4"
	}
	w.Header().Set("Content-Type", contentType)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(key)+`"`)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		h.log.FromContext(r.Context()).Warn("output stream interrupted", "key", key, "error", err.Error())
	}
	return nil
}
