package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/timf34/blogpack/internal/export"
	"github.com/timf34/blogpack/internal/jobs"
)

// SubmitRequest is the body of POST /api/jobs.
type SubmitRequest struct {
	URL      string `json:"url"`
	Formats  string `json:"formats,omitempty"`
	MaxPosts int    `json:"max_posts,omitempty"`
}

// JobResponse is a job's status payload. Summary is present once the job
// has succeeded.
type JobResponse struct {
	*jobs.Job
	Summary     json.RawMessage `json:"summary,omitempty"`
	DownloadURL string          `json:"download_url,omitempty"`
}

func jobResponse(job *jobs.Job) JobResponse {
	resp := JobResponse{Job: job}
	if job.SummaryJSON != "" {
		resp.Summary = json.RawMessage(job.SummaryJSON)
	}
	if job.State == jobs.StateSucceeded && job.ArtifactPath != "" {
		resp.DownloadURL = fmt.Sprintf("/api/jobs/%s/download", job.ID)
	}
	return resp
}

// SubmitJob handles POST /api/jobs: validate, admit, and enqueue one archive
// job. Admission refusals map to 429 (queue full) and 503 (memory pressure).
func SubmitJob(queue *jobs.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.URL == "" {
			writeError(w, http.StatusBadRequest, "url is required")
			return
		}

		formats, err := export.ParseFormats(req.Formats)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		job, err := queue.Submit(r.Context(), req.URL, formats, req.MaxPosts)
		switch {
		case errors.Is(err, jobs.ErrQueueFull):
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		case errors.Is(err, jobs.ErrMemoryPressure):
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		case err != nil:
			slog.Error("submitting job", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to submit job")
			return
		}

		writeJSON(w, http.StatusAccepted, jobResponse(job))
	}
}

// JobStatus handles GET /api/jobs/{id}.
func JobStatus(queue *jobs.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		job, err := queue.Status(r.Context(), id)
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		if err != nil {
			slog.Error("getting job status", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to get job status")
			return
		}

		writeJSON(w, http.StatusOK, jobResponse(job))
	}
}

// DownloadArtifact handles GET /api/jobs/{id}/download. The artifact is a
// single zip; the job is removed after a served download, so each artifact
// can be fetched once.
func DownloadArtifact(queue *jobs.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		job, err := queue.Status(r.Context(), id)
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		if err != nil {
			slog.Error("getting job for download", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to get job")
			return
		}

		if job.State != jobs.StateSucceeded || job.ArtifactPath == "" {
			writeError(w, http.StatusConflict,
				fmt.Sprintf("job is %s; artifact not available", job.State))
			return
		}

		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", `attachment; filename="download.zip"`)
		http.ServeFile(w, r, job.ArtifactPath)

		if err := queue.Remove(r.Context(), id); err != nil {
			slog.Warn("removing job after download", "id", id, "error", err)
		}
	}
}

// AbandonJob handles DELETE /api/jobs/{id}: dequeue a waiting job or cancel
// a running one.
func AbandonJob(queue *jobs.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		err := queue.Abandon(r.Context(), id)
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		if err != nil {
			slog.Error("abandoning job", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to abandon job")
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// QueueStats handles GET /api/queue.
func QueueStats(queue *jobs.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := queue.Stats(r.Context())
		if err != nil {
			slog.Error("getting queue stats", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to get queue stats")
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
