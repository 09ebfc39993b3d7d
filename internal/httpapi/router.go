package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"montage/internal/httpapi/handlers"
	"montage/internal/httpkit"
	"montage/internal/pkg/logger"
	"montage/internal/pkg/middleware"
)

type Deps struct {
	Handlers       handlers.Deps
	AllowedOrigins []string
	Log            *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	if d.Handlers.Log == nil {
		d.Handlers.Log = log
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))

	// ---- CORS (composer frontend) ----
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		ExposedHeaders:   []string{"X-Job-ID", "X-Request-ID"},
		AllowCredentials: false,
		MaxAgeSeconds:    600,
	}))

	h := handlers.New(d.Handlers)
	wrap := func(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(log, fn)
	}

	// ---- HEALTH ----
	r.Get("/health", h.Health)

	// ---- STAGED UPLOADS ----
	r.Post("/staged", wrap(h.PostStaged))
	r.Post("/staged/sweep", wrap(h.PostStagedSweep))
	r.Get("/staged/{ref}", wrap(h.GetStaged))
	r.Delete("/staged/{id}", wrap(h.DeleteStaged))

	// ---- RENDERS ----
	r.Post("/renders", wrap(h.PostRender))
	r.Get("/renders", wrap(h.ListRenders))
	r.Get("/renders/{jobId}", wrap(h.GetRender))
	r.Delete("/renders/{jobId}", wrap(h.DeleteRender))
	r.Get("/renders/{jobId}/events", wrap(h.GetRenderEvents))

	// ---- OUTPUTS ----
	r.Get("/outputs/*", wrap(h.GetOutput))

	return r
}
