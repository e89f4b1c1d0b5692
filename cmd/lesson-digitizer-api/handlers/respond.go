// Package handlers provides HTTP handlers for the lesson digitizer API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/spherical/lesson-digitizer/internal/domain"
	"github.com/spherical/lesson-digitizer/internal/observability"
	"github.com/spherical/lesson-digitizer/internal/pipeline"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// LessonID accepts a lesson id sent either as a JSON number or a numeric string.
type LessonID int64

func (id *LessonID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return errors.New("lessonId must be an integer")
	}
	*id = LessonID(n)
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func parseLessonID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("lessonId must be a positive integer")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, http.StatusBadRequest, resp)
}

// writeError maps err to a status code and writes the error body.
func writeError(w http.ResponseWriter, log *observability.Logger, err error) {
	status := statusFor(err)
	message := http.StatusText(status)

	var de *domain.DomainError
	if errors.As(err, &de) {
		message = de.Message
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", status).Msg("Request failed")
	}
	writeJSON(w, status, ErrorResponse{Error: message, Details: err.Error()})
}

func statusFor(err error) int {
	if errors.Is(err, pipeline.ErrShuttingDown) {
		return http.StatusServiceUnavailable
	}
	switch domain.TypeOf(err) {
	case domain.ErrorTypeNotFound:
		return http.StatusNotFound
	case domain.ErrorTypeValidation:
		return http.StatusUnprocessableEntity
	case domain.ErrorTypeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
