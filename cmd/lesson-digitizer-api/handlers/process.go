package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/spherical/lesson-digitizer/internal/domain"
	"github.com/spherical/lesson-digitizer/internal/observability"
	"github.com/spherical/lesson-digitizer/internal/pipeline"
)

// Processor starts runs and reports job state.
type Processor interface {
	StartProcessing(ctx context.Context, lessonID int64) (*pipeline.Task, error)
	Status(ctx context.Context, jobID string) (*domain.Job, error)
	LessonStatus(ctx context.Context, lessonID int64) (*domain.Job, error)
}

// ProcessHandler serves the processing endpoints.
type ProcessHandler struct {
	logger    *observability.Logger
	processor Processor
}

// NewProcessHandler creates a new process handler.
func NewProcessHandler(logger *observability.Logger, processor Processor) *ProcessHandler {
	return &ProcessHandler{logger: logger, processor: processor}
}

// ProcessRequest is the body of POST /lessons/process.
type ProcessRequest struct {
	LessonID LessonID `json:"lessonId" validate:"required,gt=0"`
}

// ProcessResponse acknowledges an accepted run.
type ProcessResponse struct {
	JobID    string           `json:"jobId"`
	LessonID int64            `json:"lessonId"`
	Status   domain.JobStatus `json:"status"`
	Message  string           `json:"message"`
}

// Start handles POST /lessons/process.
func (h *ProcessHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body", err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeBadRequest(w, "lessonId is required", err)
		return
	}

	lessonID := int64(req.LessonID)
	task, err := h.processor.StartProcessing(r.Context(), lessonID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info().
		Str("job_id", task.JobID).
		Int64("lesson_id", lessonID).
		Msg("Processing accepted")

	writeJSON(w, http.StatusAccepted, ProcessResponse{
		JobID:    task.JobID,
		LessonID: lessonID,
		Status:   domain.JobStatusProcessing,
		Message:  "Processing started",
	})
}

// LessonStatus handles GET /lessons/process?lessonId=N.
func (h *ProcessHandler) LessonStatus(w http.ResponseWriter, r *http.Request) {
	lessonID, err := parseLessonID(r.URL.Query().Get("lessonId"))
	if err != nil {
		writeBadRequest(w, "invalid lessonId", err)
		return
	}

	job, err := h.processor.LessonStatus(r.Context(), lessonID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Job handles GET /jobs/{jobId}.
func (h *ProcessHandler) Job(w http.ResponseWriter, r *http.Request) {
	job, err := h.processor.Status(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}
