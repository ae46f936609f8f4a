// Package api wires the hosted-mode HTTP surface: the chi router, shared
// middleware, and the job endpoints.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/timf34/blogpack/internal/api/handlers"
	"github.com/timf34/blogpack/internal/jobs"
)

// NewRouter creates and configures the HTTP router with all API routes.
func NewRouter(queue *jobs.Queue) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(RequestLogger)
	r.Use(Recovery)
	r.Use(CORS)

	r.Route("/api", func(api chi.Router) {
		api.Post("/jobs", handlers.SubmitJob(queue))
		api.Get("/jobs/{id}", handlers.JobStatus(queue))
		api.Get("/jobs/{id}/download", handlers.DownloadArtifact(queue))
		api.Delete("/jobs/{id}", handlers.AbandonJob(queue))
		api.Get("/queue", handlers.QueueStats(queue))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
