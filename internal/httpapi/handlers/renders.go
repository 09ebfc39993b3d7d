package handlers

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"montage/internal/events"
	"montage/internal/httpkit"
	"montage/internal/models"
	"montage/internal/pkg/errors"
	"montage/internal/stager"
	"montage/internal/worker/processor"
)

// PostRender starts a render. By default the job runs on this connection
// and its events stream back as SSE; with queue=true it is handed to the
// worker and 202 is returned.
func (h *Handler) PostRender(w http.ResponseWriter, r *http.Request) error {
	req, files, cleanup, err := h.decodeRenderRequest(w, r)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := req.Validate(); err != nil {
		return err
	}

	job := processor.NewJob(uuid.NewString(), req)
	if _, err := h.jobs.Processor().Plan(job); err != nil {
		return err
	}

	if req.Queue {
		return h.enqueue(w, r, job, files)
	}
	return h.stream(w, r, job, files)
}

// decodeRenderRequest accepts a JSON body or a multipart form with a
// "clips" JSON field and the clip videos under "files".
func (h *Handler) decodeRenderRequest(w http.ResponseWriter, r *http.Request) (models.RenderRequest, []stager.File, func(), error) {
	var req models.RenderRequest
	noop := func() {}

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "multipart/form-data" {
		if err := httpkit.DecodeJSON(r, &req); err != nil {
			return req, nil, noop, errors.Validation("invalid json body")
		}
		return req, nil, noop, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return req, nil, noop, errors.Validation("invalid multipart form")
	}
	cleanup := func() { _ = r.MultipartForm.RemoveAll() }

	if err := json.Unmarshal([]byte(r.FormValue("clips")), &req.Clips); err != nil {
		cleanup()
		return req, nil, noop, errors.ValidationField("clips", "clips must be a JSON array")
	}
	req.OutputName = strings.TrimSpace(r.FormValue("outputName"))
	req.Queue, _ = strconv.ParseBool(r.FormValue("queue"))

	var files []stager.File
	for _, fh := range r.MultipartForm.File["files"] {
		if !models.IsVideoFile(fh.Filename) {
			cleanup()
			return req, nil, noop, errors.ValidationField("files", "unsupported video file "+fh.Filename)
		}
		files = append(files, stager.MultipartFile(fh))
	}
	return req, files, cleanup, nil
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request, job *processor.Job, files []stager.File) error {
	ctx := r.Context()
	log := h.log.FromContext(ctx).WithJobID(job.ID)

	w.Header().Set("X-Job-ID", job.ID)
	sse, err := httpkit.NewSSE(w)
	if err != nil {
		return errors.Wrap(err, "http.renders.stream", "streaming not supported")
	}

	sinks := []events.Sink{events.SinkFunc(func(_ context.Context, e events.Event) error {
		if e.Type.Terminal() {
			return sse.SendLast(e)
		}
		return sse.Send(e)
	})}
	if h.relay != nil {
		sinks = append(sinks, h.relay.Sink(job.ID))
	}
	stream := events.NewStream(job.ID, log, sinks...)

	go h.keepAlive(ctx, sse, stream)

	// The job's outcome is on the stream; the status line is already sent.
	_ = h.jobs.Run(ctx, job, files, stream)
	return nil
}

// keepAlive pings the connection until the stream ends. The terminal frame
// closes the SSE writer, so a tick racing it writes nothing.
func (h *Handler) keepAlive(ctx context.Context, sse *httpkit.SSE, stream *events.Stream) {
	ticker := time.NewTicker(h.ping)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stream.Done():
			return
		case <-ticker.C:
			if err := sse.Ping(); err != nil {
				return
			}
		}
	}
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, job *processor.Job, files []stager.File) error {
	ctx := r.Context()
	if h.queue == nil || h.repo == nil {
		return errors.Unavailable("render queue")
	}

	// Uploads are staged here; the worker adopts them through their staged ids.
	clips, err := h.stager.StageClips(ctx, job, job.Clips(), files)
	release := func() {
		for _, id := range job.Assets() {
			h.store.Release(id)
		}
	}
	if err != nil {
		release()
		return err
	}

	rec := job.Record()
	rec.Clips = clips
	rec.Status = models.JobQueued
	if err := h.repo.Create(ctx, rec); err != nil {
		release()
		return errors.Wrap(err, "http.renders.enqueue", "failed to save job")
	}
	if err := h.queue.Enqueue(ctx, job.ID); err != nil {
		release()
		rec.Status = models.JobFailed
		rec.ErrorCode, rec.Error = string(errors.CodeUnavailable), "render queue unavailable"
		_ = h.repo.Update(context.WithoutCancel(ctx), rec)
		return errors.WrapWithCode(err, errors.CodeUnavailable, "http.renders.enqueue", "failed to queue job")
	}

	h.log.FromContext(ctx).WithJobID(job.ID).Info("render job queued", "clips", len(clips))
	httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{
		"jobId":     job.ID,
		"status":    models.JobQueued,
		"eventsUrl": "/renders/" + job.ID + "/events",
	})
	return nil
}

// GetRender returns a live snapshot, or the stored record of a finished job.
func (h *Handler) GetRender(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "jobId")

	if snap, ok := h.jobs.Snapshot(id); ok {
		httpkit.WriteJSON(w, http.StatusOK, map[string]any{"job": snap})
		return nil
	}
	if h.repo == nil {
		return errors.NotFound("job", id)
	}
	rec, err := h.repo.Get(r.Context(), id)
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"job": rec})
	return nil
}

// ListRenders returns recent job records.
func (h *Handler) ListRenders(w http.ResponseWriter, r *http.Request) error {
	if h.repo == nil {
		return errors.Unavailable("job repository")
	}
	limit := 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	jobs, err := h.repo.List(r.Context(), limit)
	if err != nil {
		return err
	}
	if jobs == nil {
		jobs = []models.JobRecord{}
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
	return nil
}

// DeleteRender aborts a job running in this process.
func (h *Handler) DeleteRender(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "jobId")
	if !h.jobs.Abort(id) {
		if snap, ok := h.jobs.Snapshot(id); ok && snap.Stage.Terminal() {
			return errors.Newf(errors.CodeConflict, "job %s already %s", id, snap.Stage)
		}
		return errors.NotFound("running job", id)
	}
	httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{"jobId": id, "aborted": true})
	return nil
}

// GetRenderEvents follows a job's events as SSE, typically a queued job
// rendering on a worker.
func (h *Handler) GetRenderEvents(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	id := chi.URLParam(r, "jobId")
	if h.relay == nil {
		return errors.Unavailable("event relay")
	}
	if _, ok := h.jobs.Snapshot(id); !ok && h.repo != nil {
		if _, err := h.repo.Get(ctx, id); err != nil {
			return err
		}
	}

	sse, err := httpkit.NewSSE(w)
	if err != nil {
		return errors.Wrap(err, "http.renders.events", "streaming not supported")
	}
	err = h.relay.Follow(ctx, id, func(raw []byte) error {
		return sse.Send(json.RawMessage(raw))
	})
	if err != nil && ctx.Err() == nil {
		h.log.FromContext(ctx).WithJobID(id).Warn("event relay ended", "error", err.Error())
	}
	return nil
}
