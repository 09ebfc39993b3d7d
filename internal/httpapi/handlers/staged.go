package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"montage/internal/httpkit"
	"montage/internal/pkg/errors"
	"montage/internal/tempstore"
)

// PostStaged stages one uploaded video ("video" field) ahead of a render.
// The returned id can be sent as a clip's stagedId.
func (h *Handler) PostStaged(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return errors.ValidationField("video", "invalid multipart form")
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("video")
	if err != nil {
		return errors.ValidationField("video", "video file is required")
	}
	defer file.Close()

	a, err := h.store.StageReader(ctx, file, header.Filename)
	if err != nil {
		return err
	}

	h.log.FromContext(ctx).Info("video staged", "asset_id", a.ID, "size", a.Size)
	httpkit.WriteJSON(w, http.StatusCreated, map[string]any{
		"id":         a.ID,
		"url":        h.stager.Reference(a),
		"size":       a.Size,
		"expires_at": a.ExpiresAt,
	})
	return nil
}

// GetStaged serves a staged file so a remote renderer can fetch it.
func (h *Handler) GetStaged(w http.ResponseWriter, r *http.Request) error {
	ref := chi.URLParam(r, "ref")

	f, a, err := h.store.Open(ref)
	if err != nil {
		return err
	}
	defer f.Close()

	w.Header().Set("Content-Type", tempstore.ContentType(a.Ext))
	w.Header().Set("Cache-Control", "private, no-store")
	http.ServeContent(w, r, a.FileName(), a.CreatedAt, f)
	return nil
}

// DeleteStaged releases a staged file. Unknown ids succeed too.
func (h *Handler) DeleteStaged(w http.ResponseWriter, r *http.Request) error {
	h.store.Release(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// PostStagedSweep runs one staging sweep on demand, for cron jobs that
// cannot wait for the next tick. The route is NOT_FOUND unless a token is
// configured; the token is read from X-Cleanup-Token or a Bearer header.
func (h *Handler) PostStagedSweep(w http.ResponseWriter, r *http.Request) error {
	if h.sweepToken == "" {
		return errors.NotFound("route", r.URL.Path)
	}
	token := r.Header.Get("X-Cleanup-Token")
	if token == "" {
		if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			token = strings.TrimSpace(v)
		}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.sweepToken)) != 1 {
		return errors.Unauthorized("invalid cleanup token")
	}

	res := h.store.Sweep(time.Now())
	h.log.FromContext(r.Context()).Info("manual staging sweep",
		"expired", res.Expired,
		"orphans", res.Orphans,
		"failed", res.Failed,
	)
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"expired":   res.Expired,
		"orphans":   res.Orphans,
		"failed":    res.Failed,
		"remaining": h.store.Len(),
	})
	return nil
}
