package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/spherical/lesson-digitizer/internal/blob"
	"github.com/spherical/lesson-digitizer/internal/domain"
	"github.com/spherical/lesson-digitizer/internal/observability"
	"github.com/spherical/lesson-digitizer/internal/pdf"
)

// BlobStore is the part of blob storage uploads need.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
}

// CoverRenderer renders a PDF's first page as a JPEG.
type CoverRenderer interface {
	Cover(data []byte) ([]byte, error)
}

// LessonHandler serves uploads and lesson content.
type LessonHandler struct {
	logger    *observability.Logger
	lessons   domain.LessonRepository
	topics    domain.TopicRepository
	blobs     BlobStore
	covers    CoverRenderer
	validator *pdf.Validator
	maxBytes  int64
}

// NewLessonHandler creates a new lesson handler. covers may be nil, in
// which case uploads leave the thumbnail pointing at the PDF.
func NewLessonHandler(logger *observability.Logger, lessons domain.LessonRepository, topics domain.TopicRepository, blobs BlobStore, covers CoverRenderer, maxBytes int64) *LessonHandler {
	if maxBytes <= 0 {
		maxBytes = 100 << 20
	}
	return &LessonHandler{
		logger:    logger,
		lessons:   lessons,
		topics:    topics,
		blobs:     blobs,
		covers:    covers,
		validator: pdf.NewValidator(),
		maxBytes:  maxBytes,
	}
}

// UploadResponse describes a stored PDF.
type UploadResponse struct {
	LessonID  int64  `json:"lessonId"`
	PDFRef    string `json:"pdfRef"`
	PDFURL    string `json:"pdfUrl"`
	Thumbnail string `json:"thumbnail"`
}

// TopicsResponse lists a lesson's active topics.
type TopicsResponse struct {
	LessonID int64                `json:"lessonId"`
	Topics   []domain.TopicRecord `json:"topics"`
}

// Upload handles POST /lessons/upload (multipart: pdf, lessonId).
func (h *LessonHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeBadRequest(w, "invalid multipart form", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	lessonID, err := parseLessonID(r.FormValue("lessonId"))
	if err != nil {
		writeBadRequest(w, "invalid lessonId", err)
		return
	}

	file, _, err := r.FormFile("pdf")
	if err != nil {
		writeBadRequest(w, "pdf file is required", err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		writeBadRequest(w, "failed to read upload", err)
		return
	}
	if err := h.validator.ValidatePDFBytes(data); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if _, err := h.lessons.GetLesson(ctx, lessonID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	key := blob.PDFKey(lessonID)
	pdfURL, err := h.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/pdf")
	if err != nil {
		writeError(w, h.logger, domain.IOError("Failed to store PDF", err))
		return
	}

	thumbnail := h.storeCover(ctx, lessonID, data, pdfURL)
	if err := h.lessons.UpdateLesson(ctx, lessonID, domain.LessonUpdate{PDFRef: &key, Thumbnail: &thumbnail}); err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.logger.Info().
		Int64("lesson_id", lessonID).
		Int("bytes", len(data)).
		Str("pdf_ref", key).
		Msg("PDF uploaded")

	writeJSON(w, http.StatusOK, UploadResponse{
		LessonID:  lessonID,
		PDFRef:    key,
		PDFURL:    pdfURL,
		Thumbnail: thumbnail,
	})
}

// storeCover returns the thumbnail URL, falling back to the PDF URL when
// the cover cannot be rendered.
func (h *LessonHandler) storeCover(ctx context.Context, lessonID int64, data []byte, pdfURL string) string {
	if h.covers == nil {
		return pdfURL
	}
	img, err := h.covers.Cover(data)
	if err != nil {
		h.logger.Warn().Err(err).Int64("lesson_id", lessonID).Msg("Failed to render cover")
		return pdfURL
	}
	url, err := h.blobs.Put(ctx, blob.ThumbnailKey(lessonID), bytes.NewReader(img), int64(len(img)), "image/jpeg")
	if err != nil {
		h.logger.Warn().Err(err).Int64("lesson_id", lessonID).Msg("Failed to store cover")
		return pdfURL
	}
	return url
}

// Topics handles GET /lessons/{lessonId}/topics.
func (h *LessonHandler) Topics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lessonID, err := parseLessonID(chi.URLParam(r, "lessonId"))
	if err != nil {
		writeBadRequest(w, "invalid lessonId", err)
		return
	}

	if _, err := h.lessons.GetLesson(ctx, lessonID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	topics, err := h.topics.ListTopics(ctx, lessonID)
	if err != nil {
		writeError(w, h.logger, domain.PersistenceError(fmt.Sprintf("Failed to list topics of lesson %d", lessonID), err))
		return
	}
	writeJSON(w, http.StatusOK, TopicsResponse{LessonID: lessonID, Topics: topics})
}
