package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/spherical/lesson-digitizer/cmd/lesson-digitizer-api/handlers"
	"github.com/spherical/lesson-digitizer/internal/domain"
	"github.com/spherical/lesson-digitizer/internal/observability"
)

// RouterDeps are the collaborators the HTTP layer needs.
type RouterDeps struct {
	Logger    *observability.Logger
	Metrics   *observability.Metrics // nil hides /metrics
	Processor handlers.Processor
	Lessons   domain.LessonRepository
	Topics    domain.TopicRepository
	Blobs     handlers.BlobStore
	Covers    handlers.CoverRenderer
	Ready     func(ctx context.Context) error
	FilesDir  string // served under /files when set

	AllowedOrigins []string
	RequestTimeout time.Duration
	MaxUploadBytes int64
}

// NewRouter creates the API router with all routes configured.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"lesson-digitizer"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if deps.Ready != nil {
			if err := deps.Ready(r.Context()); err != nil {
				deps.Logger.Warn().Err(err).Msg("Readiness check failed")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.Write([]byte(`{"status":"ready"}`))
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	if deps.FilesDir != "" {
		r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(deps.FilesDir))))
	}

	processHandler := handlers.NewProcessHandler(deps.Logger, deps.Processor)
	lessonHandler := handlers.NewLessonHandler(deps.Logger, deps.Lessons, deps.Topics, deps.Blobs, deps.Covers, deps.MaxUploadBytes)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if deps.RequestTimeout > 0 {
				r.Use(chimiddleware.Timeout(deps.RequestTimeout))
			}
			r.Post("/lessons/process", processHandler.Start)
			r.Get("/lessons/process", processHandler.LessonStatus)
			r.Get("/lessons/{lessonId}/topics", lessonHandler.Topics)
			r.Get("/jobs/{jobId}", processHandler.Job)
		})

		// Uploads stream large bodies and are bounded by MaxUploadBytes instead.
		r.Post("/lessons/upload", lessonHandler.Upload)
	})

	return r
}

// requestLogger logs one line per request through the service logger.
func requestLogger(log *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Debug().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("took", time.Since(start)).
					Str("request_id", chimiddleware.GetReqID(r.Context())).
					Msg("HTTP request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
