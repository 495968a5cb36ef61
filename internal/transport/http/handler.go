package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"video-search-bot/internal/cleanup"
	"video-search-bot/internal/domain"
	"video-search-bot/internal/history"
	"video-search-bot/internal/jobs"
	"video-search-bot/internal/logging"
)

// Service is the application surface exposed over HTTP.
type Service interface {
	Search(ctx context.Context, keyword string) ([]domain.Video, error)
	StartDownload(bvid string) (domain.Job, error)
	Job(jobID string) (domain.Job, error)
	JobEvents(jobID string, sinceSeq int64) []jobs.Event
	RemoveOutput(jobID string) (cleanup.Report, error)
	History(ctx context.Context, limit int) ([]history.Record, error)
	Diagnostics() domain.DiagnosticReport
}

// Handler serves the download API.
type Handler struct {
	service Service
}

// NewHandler constructs the API handler.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// NewRouter mounts the API routes behind the standard middleware chain.
func NewRouter(service Service, log zerolog.Logger) http.Handler {
	h := NewHandler(service)

	r := chi.NewRouter()
	r.Use(RequestID(log))
	r.Use(Logging)
	r.Use(Recovery)

	r.Get("/search", h.handleSearch)
	r.Post("/downloads", h.handleCreate)
	r.Get("/downloads/{id}", h.handleGet)
	r.Get("/downloads/{id}/file", h.handleGetFile)
	r.Delete("/downloads/{id}", h.handleDelete)
	r.Get("/history", h.handleHistory)
	r.Get("/diagnostics", h.handleDiagnostics)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
	return r
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(r.URL.Query().Get("keyword"))
	if keyword == "" {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "keyword is required")
		return
	}

	videos, err := h.service.Search(r.Context(), keyword)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if videos == nil {
		videos = []domain.Video{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Keyword: keyword, Results: videos})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body createDownloadBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}

	job, err := h.service.StartDownload(body.BVID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/downloads/"+job.ID)
	writeJSON(w, http.StatusAccepted, jobResponse{Job: job})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.service.Job(id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || since < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "since must be a non-negative integer")
			return
		}
	}
	writeJSON(w, http.StatusOK, jobResponse{Job: job, Events: h.service.JobEvents(id, since)})
}

func (h *Handler) handleGetFile(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Job(chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if job.OutputPath == "" {
		writeError(w, http.StatusConflict, "OUTPUT_UNAVAILABLE", "job has no merged output")
		return
	}

	file, err := os.Open(job.OutputPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusGone, "OUTPUT_REMOVED", "merged output no longer exists")
			return
		}
		writeServiceError(w, r, err)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(job.OutputPath)+`"`)
	http.ServeContent(w, r, filepath.Base(job.OutputPath), info.ModTime(), file)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	report, err := h.service.RemoveOutput(id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if report == nil {
		report = cleanup.Report{}
	}
	writeJSON(w, http.StatusOK, removeResponse{ID: id, Cleanup: report})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := h.service.History(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	report := h.service.Diagnostics()
	status := http.StatusOK
	if report.HasFailures {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.Is(err, jobs.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, jobs.ErrAlreadyDownloading):
		writeError(w, http.StatusConflict, "ALREADY_DOWNLOADING", err.Error())
	case errors.Is(err, jobs.ErrJobRunning):
		writeError(w, http.StatusConflict, "JOB_RUNNING", err.Error())
	case errors.Is(err, jobs.ErrTooManyJobs):
		writeError(w, http.StatusTooManyRequests, "TOO_MANY_JOBS", err.Error())
	case errors.Is(err, domain.ErrNetwork):
		writeError(w, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error())
	default:
		logging.FromContext(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code string, msg string) {
	writeJSON(w, status, errorResponse{Error: errorInfo{Code: code, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
}
