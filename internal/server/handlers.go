package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/showrunner/internal/job"
	"github.com/maauso/showrunner/internal/show"
)

// maxShowBytes caps the size of a submitted show file.
const maxShowBytes = 1 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *job.EpisodeService
	validator          *validator.Validate
	logger             *slog.Logger
	operations         []string
	enableAsyncProcess bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateEpisode only stores the job.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithOperations lists the available segment operations in health responses.
func WithOperations(names []string) HandlerOption {
	return func(h *Handlers) {
		h.operations = names
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.EpisodeService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Operations: h.operations})
}

// CreateEpisode handles POST /episodes. The body is either a JSON
// CreateEpisodeRequest or, with a YAML content type, the show file itself.
func (h *Handlers) CreateEpisode(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.decodeShow(w, r)
	if !ok {
		return
	}

	created, err := h.service.CreateJob(r.Context(), cfg)
	if err != nil {
		if errors.Is(err, show.ErrInvalidConfig) || errors.Is(err, show.ErrNoStorage) {
			h.logger.Warn("show validation failed", slog.String("error", err.Error()))
			writeError(w, http.StatusBadRequest, err.Error(), "INVALID_SHOW")
			return
		}
		h.logger.Error("failed to create job", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create episode", "JOB_CREATION_FAILED")
		return
	}

	// The run outlives the request.
	if h.enableAsyncProcess {
		go func(ctx context.Context, jobID string) {
			if _, err := h.service.ProcessExistingJob(ctx, jobID); err != nil {
				h.logger.Error("background processing failed",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}(context.WithoutCancel(r.Context()), created.ID)
	}

	h.logger.Info("episode accepted",
		slog.String("job_id", created.ID),
		slog.String("show", created.ShowName),
	)

	writeJSON(w, http.StatusAccepted, CreateEpisodeResponse{
		ID:     created.ID,
		Status: string(created.Status),
	})
}

func (h *Handlers) decodeShow(w http.ResponseWriter, r *http.Request) (show.Config, bool) {
	body := http.MaxBytesReader(w, r.Body, maxShowBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/yaml" || mediaType == "application/x-yaml" || mediaType == "text/yaml" {
		cfg, err := show.Decode(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "INVALID_SHOW")
			return show.Config{}, false
		}
		return cfg, true
	}

	var req CreateEpisodeRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return show.Config{}, false
	}
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return show.Config{}, false
	}

	cfg, err := show.Parse([]byte(req.Show))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_SHOW")
		return show.Config{}, false
	}
	if req.Archive != nil {
		cfg.Archive = *req.Archive
	}
	if req.KeepIntermediate != nil {
		cfg.KeepIntermediate = *req.KeepIntermediate
	}
	return cfg, true
}

// ListEpisodes handles GET /episodes. The optional show and status query
// parameters filter the list.
func (h *Handlers) ListEpisodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := job.Filter{
		ShowName: q.Get("show"),
		Status:   job.Status(strings.ToUpper(q.Get("status"))),
	}
	if filter.Status != "" && !job.KnownStatus(filter.Status) {
		writeError(w, http.StatusBadRequest, "unknown status "+q.Get("status"), "INVALID_STATUS")
		return
	}

	jobs, err := h.service.ListJobs(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list episodes", "JOB_FETCH_FAILED")
		return
	}
	resp := ListEpisodesResponse{Episodes: make([]EpisodeResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Episodes = append(resp.Episodes, episodeResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetEpisode handles GET /episodes/{id}.
func (h *Handlers) GetEpisode(w http.ResponseWriter, r *http.Request) {
	found, ok := h.findJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, episodeResponse(found))
}

// GetEpisodeAudio handles GET /episodes/{id}/audio.
func (h *Handlers) GetEpisodeAudio(w http.ResponseWriter, r *http.Request) {
	found, ok := h.findJob(w, r)
	if !ok {
		return
	}
	h.serveOutput(w, r, found, found.AudioPath, "audio")
}

// GetEpisodeTimeline handles GET /episodes/{id}/timeline.
func (h *Handlers) GetEpisodeTimeline(w http.ResponseWriter, r *http.Request) {
	found, ok := h.findJob(w, r)
	if !ok {
		return
	}
	h.serveOutput(w, r, found, found.TimelinePath, "timeline")
}

func (h *Handlers) serveOutput(w http.ResponseWriter, r *http.Request, j *job.Job, path, what string) {
	if j.Status != job.StatusCompleted {
		writeError(w, http.StatusConflict, "episode is "+string(j.Status), "EPISODE_NOT_READY")
		return
	}
	if path == "" {
		writeError(w, http.StatusNotFound, "episode has no "+what, "OUTPUT_NOT_FOUND")
		return
	}

	f, err := os.Open(path) // #nosec G304 - path was produced by the runner
	if err != nil {
		h.logger.Error("failed to open episode output",
			slog.String("job_id", j.ID),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusNotFound, what+" file is gone", "OUTPUT_NOT_FOUND")
		return
	}
	defer func() { _ = f.Close() }()

	var modTime time.Time
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}
	http.ServeContent(w, r, path, modTime, f)
}

// CancelEpisode handles POST /episodes/{id}/cancel.
func (h *Handlers) CancelEpisode(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "episode ID is required", "MISSING_JOB_ID")
		return
	}

	err := h.service.CancelJob(r.Context(), jobID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusAccepted)
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "episode not found", "JOB_NOT_FOUND")
	case errors.Is(err, job.ErrJobNotRunning):
		writeError(w, http.StatusConflict, err.Error(), "JOB_NOT_RUNNING")
	default:
		h.logger.Error("failed to cancel job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to cancel episode", "JOB_CANCEL_FAILED")
	}
}

// DeleteEpisode handles DELETE /episodes/{id}.
func (h *Handlers) DeleteEpisode(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "episode ID is required", "MISSING_JOB_ID")
		return
	}

	err := h.service.DeleteJob(r.Context(), jobID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "episode not found", "JOB_NOT_FOUND")
	case errors.Is(err, job.ErrJobNotTerminal):
		writeError(w, http.StatusConflict, err.Error(), "JOB_NOT_FINISHED")
	default:
		h.logger.Error("failed to delete job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to delete episode", "JOB_DELETE_FAILED")
	}
}

func (h *Handlers) findJob(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "episode ID is required", "MISSING_JOB_ID")
		return nil, false
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "episode not found", "JOB_NOT_FOUND")
			return nil, false
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get episode", "JOB_FETCH_FAILED")
		return nil, false
	}
	return found, true
}

func episodeResponse(j *job.Job) EpisodeResponse {
	resp := EpisodeResponse{
		ID:         j.ID,
		ShowName:   j.ShowName,
		Status:     string(j.Status),
		Progress:   j.Progress,
		Error:      j.Error,
		Entries:    j.Entries,
		DurationMs: j.DurationMs,
		ArchiveURL: j.ArchiveURL,
		CreatedAt:  j.CreatedAt,
	}
	if !j.StartedAt.IsZero() {
		resp.StartedAt = &j.StartedAt
	}
	if !j.CompletedAt.IsZero() {
		resp.CompletedAt = &j.CompletedAt
	}
	if j.Status == job.StatusCompleted {
		if j.AudioPath != "" {
			resp.AudioURL = "/episodes/" + j.ID + "/audio"
		}
		if j.TimelinePath != "" {
			resp.TimelineURL = "/episodes/" + j.ID + "/timeline"
		}
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
