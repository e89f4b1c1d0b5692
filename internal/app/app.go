// Package app builds the lesson digitizer from configuration.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spherical/lesson-digitizer/internal/blob"
	"github.com/spherical/lesson-digitizer/internal/config"
	"github.com/spherical/lesson-digitizer/internal/llm"
	"github.com/spherical/lesson-digitizer/internal/observability"
	"github.com/spherical/lesson-digitizer/internal/ocr"
	"github.com/spherical/lesson-digitizer/internal/pdf"
	"github.com/spherical/lesson-digitizer/internal/pipeline"
	"github.com/spherical/lesson-digitizer/internal/segment"
	"github.com/spherical/lesson-digitizer/internal/storage"
	"github.com/spherical/lesson-digitizer/internal/tts"
)

// App holds the wired components shared by the server and the CLI.
type App struct {
	Config       *config.Config
	Logger       *observability.Logger
	Metrics      *observability.Metrics
	Stores       *storage.Stores
	Blobs        blob.Store
	Converter    *pdf.Converter
	Orchestrator *pipeline.Orchestrator
}

// New opens the stores and blob storage and builds the provider clients
// and the orchestrator. Close releases what New opened.
func New(ctx context.Context, cfg *config.Config, log *observability.Logger) (*App, error) {
	if err := cfg.RequireProviders(); err != nil {
		return nil, err
	}

	blobs, err := NewBlobStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("blob storage: %w", err)
	}

	stores, err := storage.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics()
	}

	converter := pdf.NewConverter(blobs, pdf.Options{
		Quality:  cfg.Pipeline.ImageQuality,
		MaxPages: cfg.Pipeline.MaxPages,
	}, log)

	httpClient := &http.Client{Timeout: cfg.LLM.RequestTimeout}
	ocrClient := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.OCRModel,
		llm.WithBaseURL(cfg.LLM.BaseURL),
		llm.WithHTTPClient(httpClient),
		llm.WithLogger(log.WithOperation("ocr_llm")),
	)
	segClient := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.SegmentationModel,
		llm.WithBaseURL(cfg.LLM.BaseURL),
		llm.WithHTTPClient(httpClient),
		llm.WithLogger(log.WithOperation("segmentation_llm")),
	)

	var figures blob.Store
	if cfg.Pipeline.CropImages {
		figures = blobs
	}
	engine := ocr.NewBatch(ocr.NewVisionEngine(ocrClient, figures, cfg.Pipeline.ImageQuality, log), cfg.Pipeline.OCRConcurrency)

	speaker := tts.NewClient(tts.ClientConfig{
		APIKey:  cfg.TTS.APIKey,
		BaseURL: cfg.TTS.BaseURL,
		VoiceID: cfg.TTS.VoiceID,
		Model:   cfg.TTS.Model,
		Timeout: cfg.TTS.RequestTimeout,
	}, log.WithOperation("tts"))

	orch, err := pipeline.New(pipeline.Deps{
		Jobs:      stores.Jobs,
		Lessons:   stores.Lessons,
		Topics:    stores.Topics,
		Tx:        stores.Tx,
		Locator:   blob.NewLocator(stores.Lessons, blobs),
		Extractor: converter,
		OCR:       engine,
		Segmenter: segment.NewLLMSegmenter(segClient, cfg.LLM.MaxInputChars, log),
		Narrator:  tts.NewNarrator(speaker, blobs),
	}, pipeline.Options{
		MaxConcurrentJobs: cfg.Pipeline.MaxConcurrentJobs,
		JobTimeout:        cfg.Pipeline.JobTimeout,
		Logger:            log,
		Metrics:           metrics,
	})
	if err != nil {
		stores.Close()
		return nil, err
	}

	return &App{
		Config:       cfg,
		Logger:       log,
		Metrics:      metrics,
		Stores:       stores,
		Blobs:        blobs,
		Converter:    converter,
		Orchestrator: orch,
	}, nil
}

// NewBlobStore opens the configured blob driver.
func NewBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.Storage.Driver {
	case "minio":
		m := cfg.Storage.Minio
		store, err := blob.NewMinioStore(ctx,
			blob.WithEndpoint(m.Endpoint),
			blob.WithBucket(m.Bucket),
			blob.WithAccessKey(m.AccessKey),
			blob.WithSecretKey(m.SecretKey),
			blob.WithSSL(m.UseSSL),
			blob.WithPublicBaseURL(m.PublicBaseURL),
		)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := blob.NewLocalStore(cfg.Storage.Local.Dir, cfg.Storage.Local.PublicBaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

// Close drains running jobs and releases the stores.
func (a *App) Close(ctx context.Context) error {
	shutdownErr := a.Orchestrator.Shutdown(ctx)
	if err := a.Stores.Close(); err != nil {
		return err
	}
	return shutdownErr
}
