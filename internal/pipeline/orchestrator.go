// Package pipeline sequences the lesson digitization stages and records
// their progress in the job store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/lesson-digitizer/internal/domain"
	"github.com/spherical/lesson-digitizer/internal/observability"
)

// ErrShuttingDown is returned by StartProcessing after Shutdown was called.
var ErrShuttingDown = errors.New("orchestrator is shutting down")

// errAbandoned marks a run whose job record disappeared.
var errAbandoned = errors.New("job record missing, run abandoned")

const storeWriteTimeout = 10 * time.Second

// Deps are the collaborators of the orchestrator.
type Deps struct {
	Jobs      domain.JobStore
	Lessons   domain.LessonRepository
	Topics    domain.TopicRepository
	Tx        domain.Transactor
	Locator   domain.PDFLocator // optional; the lesson's pdfRef is used when nil
	Extractor domain.PageExtractor
	OCR       domain.OCREngine
	Segmenter domain.ContentSegmenter
	Narrator  domain.NarrationSynthesizer
}

// Options tune scheduling.
type Options struct {
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	Logger            *observability.Logger
	Metrics           *observability.Metrics
	NewID             func() string
	Now               func() time.Time
}

// Orchestrator runs processing jobs in the background.
type Orchestrator struct {
	deps    Deps
	log     *observability.Logger
	metrics *observability.Metrics
	timeout time.Duration
	newID   func() string
	now     func() time.Time

	sem     chan struct{}
	startMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New validates the dependencies and returns an orchestrator.
func New(deps Deps, opts Options) (*Orchestrator, error) {
	var missing []string
	if deps.Jobs == nil {
		missing = append(missing, "Jobs")
	}
	if deps.Lessons == nil {
		missing = append(missing, "Lessons")
	}
	if deps.Topics == nil {
		missing = append(missing, "Topics")
	}
	if deps.Tx == nil {
		missing = append(missing, "Tx")
	}
	if deps.Extractor == nil {
		missing = append(missing, "Extractor")
	}
	if deps.OCR == nil {
		missing = append(missing, "OCR")
	}
	if deps.Segmenter == nil {
		missing = append(missing, "Segmenter")
	}
	if deps.Narrator == nil {
		missing = append(missing, "Narrator")
	}
	if len(missing) > 0 {
		return nil, domain.ConfigError("missing pipeline dependencies: "+strings.Join(missing, ", "), nil)
	}

	if opts.MaxConcurrentJobs < 1 {
		opts.MaxConcurrentJobs = 1
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = observability.Nop()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		deps:    deps,
		log:     opts.Logger.WithOperation("pipeline"),
		metrics: opts.Metrics,
		timeout: opts.JobTimeout,
		newID:   opts.NewID,
		now:     opts.Now,
		sem:     make(chan struct{}, opts.MaxConcurrentJobs),
		baseCtx: baseCtx,
		cancel:  cancel,
	}, nil
}

// StartProcessing registers a job for the lesson and runs the pipeline in
// the background. The returned task's job is already readable from the job
// store as {processing, starting, 0}.
func (o *Orchestrator) StartProcessing(ctx context.Context, lessonID int64) (*Task, error) {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return nil, ErrShuttingDown
	}

	lesson, err := o.deps.Lessons.GetLesson(ctx, lessonID)
	if err != nil {
		return nil, asType(err, domain.ErrorTypePersistence, "Failed to load lesson")
	}

	pdfRef, err := o.locatePDF(ctx, lesson)
	if err != nil {
		return nil, err
	}

	// Serializes the live-job check with job creation within this process.
	o.startMu.Lock()
	defer o.startMu.Unlock()

	latest, err := o.deps.Jobs.GetByLesson(ctx, lessonID)
	switch {
	case err == nil && latest.Status == domain.JobStatusProcessing:
		return nil, domain.ConflictError(fmt.Sprintf("lesson %d is already being processed by job %s", lessonID, latest.ID), nil)
	case err != nil && !errors.Is(err, domain.ErrJobNotFound):
		return nil, asType(err, domain.ErrorTypePersistence, "Failed to check existing jobs")
	}

	job := domain.NewJob(o.newID(), lessonID, o.now())
	if err := o.deps.Jobs.Create(ctx, job); err != nil {
		return nil, asType(err, domain.ErrorTypePersistence, "Failed to create job")
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		_ = o.writeFailure(context.Background(), job.ID, ErrShuttingDown)
		return nil, ErrShuttingDown
	}
	o.wg.Add(1)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.JobsStarted.Inc()
	}

	task := newTask(job.ID, lessonID)
	r := &run{
		jobID:    job.ID,
		lessonID: lessonID,
		pdfRef:   pdfRef,
		meta:     map[string]int{},
		log:      o.log.WithJob(job.ID, lessonID),
	}
	r.log.Info().Str("pdf_ref", pdfRef).Msg("Processing started")

	go o.run(o.baseCtx, task, r)
	return task, nil
}

func (o *Orchestrator) locatePDF(ctx context.Context, lesson *domain.Lesson) (string, error) {
	if o.deps.Locator != nil {
		ref, err := o.deps.Locator.LocatePDF(ctx, lesson.ID)
		if err != nil {
			return "", asType(err, domain.ErrorTypeValidation, "Failed to locate lesson PDF")
		}
		return ref, nil
	}
	if lesson.PDFRef == "" {
		return "", domain.ValidationError(fmt.Sprintf("lesson %d has no uploaded PDF", lesson.ID), nil)
	}
	return lesson.PDFRef, nil
}

// Status returns the job with the given id.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := o.deps.Jobs.Get(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, domain.NotFoundError(fmt.Sprintf("job %s not found", jobID), err)
	}
	if err != nil {
		return nil, asType(err, domain.ErrorTypePersistence, "Failed to load job")
	}
	return job, nil
}

// LessonStatus returns the latest job of the lesson, or the pending
// snapshot when the lesson was never processed.
func (o *Orchestrator) LessonStatus(ctx context.Context, lessonID int64) (*domain.Job, error) {
	job, err := o.deps.Jobs.GetByLesson(ctx, lessonID)
	if errors.Is(err, domain.ErrJobNotFound) {
		return domain.PendingJob(lessonID), nil
	}
	if err != nil {
		return nil, asType(err, domain.ErrorTypePersistence, "Failed to load job")
	}
	return job, nil
}

// Shutdown stops accepting runs and waits for in-flight ones. When ctx
// ends first the remaining runs are cancelled and recorded as failed.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}

// run is the per-job state carried through the stages.
type run struct {
	jobID    string
	lessonID int64
	pdfRef   string
	meta     map[string]int
	log      *observability.Logger

	pages     []domain.PageImage
	results   []domain.OCRResult
	fullText  string
	images    []domain.DetectedImage
	topics    []domain.Topic
	startedAt time.Time
}

func (o *Orchestrator) run(parent context.Context, task *Task, r *run) {
	defer o.wg.Done()
	defer close(task.done)
	defer func() {
		if p := recover(); p != nil {
			err := domain.InternalError(fmt.Sprintf("panic in pipeline: %v", p), nil)
			r.log.Error().Err(err).Msg("Pipeline panicked")
			task.err = err
			o.finish(r, err)
		}
	}()

	select {
	case o.sem <- struct{}{}:
	case <-parent.Done():
		task.err = fmt.Errorf("run not started: %w", parent.Err())
		o.finish(r, task.err)
		return
	}
	defer func() { <-o.sem }()

	if o.metrics != nil {
		o.metrics.JobsInFlight.Inc()
		defer o.metrics.JobsInFlight.Dec()
	}

	ctx, cancel := context.WithTimeout(parent, o.timeout)
	defer cancel()
	ctx = domain.WithAssetScope(ctx, fmt.Sprintf("lessons/%d/%s", r.lessonID, r.jobID))

	r.startedAt = time.Now()
	err := o.execute(ctx, r)
	task.err = err
	o.finish(r, err)
}

func (o *Orchestrator) finish(r *run, err error) {
	if releaser, ok := o.deps.Extractor.(domain.PageReleaser); ok && len(r.pages) > 0 {
		if rerr := releaser.Release(r.pages); rerr != nil {
			r.log.Warn().Err(rerr).Msg("Failed to release page images")
		}
		r.pages = nil
	}

	status := domain.JobStatusCompleted
	if err != nil {
		status = domain.JobStatusFailed
		if errors.Is(err, errAbandoned) {
			return
		}
		if werr := o.writeFailure(context.Background(), r.jobID, err); werr != nil {
			r.log.Error().Err(werr).Msg("Failed to record job failure")
		}
		r.log.Error().Err(err).Str("error_type", string(domain.TypeOf(err))).Msg("Processing failed")
	}
	if o.metrics != nil {
		o.metrics.JobsFinished.WithLabelValues(string(status)).Inc()
	}
}

func (o *Orchestrator) writeFailure(ctx context.Context, jobID string, cause error) error {
	ctx, cancel := context.WithTimeout(ctx, storeWriteTimeout)
	defer cancel()

	status, stage, msg := domain.JobStatusFailed, domain.StageError, cause.Error()
	_, err := o.deps.Jobs.Update(ctx, jobID, domain.JobUpdate{Status: &status, Stage: &stage, Error: &msg})
	return err
}

// checkpoint records stage and progress along with the accumulated metadata.
func (o *Orchestrator) checkpoint(ctx context.Context, r *run, stage domain.Stage, progress int) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer cancel()

	_, err := o.deps.Jobs.Update(wctx, r.jobID, domain.JobUpdate{
		Stage:    &stage,
		Progress: &progress,
		Metadata: maps.Clone(r.meta),
	})
	if errors.Is(err, domain.ErrJobNotFound) {
		r.log.Error().Err(err).Str("stage", string(stage)).Msg("Job disappeared from the store")
		return errAbandoned
	}
	if err != nil {
		return asType(err, domain.ErrorTypePersistence, "Failed to record progress")
	}

	r.log.Info().Str("stage", string(stage)).Int("progress", progress).Msg("Stage checkpoint")
	return nil
}

type stage struct {
	name      domain.Stage
	entry     int
	exit      int
	errorType domain.ErrorType
	work      func(ctx context.Context, r *run) error
}

func (o *Orchestrator) stages() []stage {
	return []stage{
		{domain.StagePDFExtraction, 10, 20, domain.ErrorTypeExtraction, o.extractPages},
		{domain.StageOCRProcessing, 30, 50, domain.ErrorTypeOCR, o.readPages},
		{domain.StageAISegmentation, 60, 70, domain.ErrorTypeSegmentation, o.segmentContent},
		{domain.StageTTSGeneration, 75, 90, domain.ErrorTypeSynthesis, o.narrateSegments},
	}
}

func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	for _, st := range o.stages() {
		if err := o.checkpoint(ctx, r, st.name, st.entry); err != nil {
			return err
		}

		began := time.Now()
		err := st.work(ctx, r)
		if o.metrics != nil {
			o.metrics.ObserveStage(string(st.name), time.Since(began), err)
		}
		if err != nil {
			return asType(err, st.errorType, fmt.Sprintf("%s failed", st.name))
		}

		if err := o.checkpoint(ctx, r, st.name, st.exit); err != nil {
			return err
		}
	}

	if err := o.checkpoint(ctx, r, domain.StageDatabaseSave, 95); err != nil {
		return err
	}
	began := time.Now()
	err := o.deps.Tx.InTx(ctx, func(ctx context.Context) error {
		if err := o.saveTopics(ctx, r); err != nil {
			return asType(err, domain.ErrorTypePersistence, "database_save failed")
		}
		return o.complete(ctx, r)
	})
	if o.metrics != nil {
		o.metrics.ObserveStage(string(domain.StageDatabaseSave), time.Since(began), err)
	}
	if err != nil {
		return asType(err, domain.ErrorTypePersistence, "database_save failed")
	}

	r.log.Info().
		Int("topics", r.meta[domain.MetaTopicsCount]).
		Int("segments", r.meta[domain.MetaSegmentsCount]).
		Dur("took", time.Since(r.startedAt)).
		Msg("Processing completed")
	return nil
}

func (o *Orchestrator) extractPages(ctx context.Context, r *run) error {
	pages, err := o.deps.Extractor.Extract(ctx, r.pdfRef)
	if err != nil {
		return err
	}
	r.pages = pages
	if len(pages) == 0 {
		return domain.ExtractionError("PDF has no pages", nil)
	}
	r.meta[domain.MetaTotalPages] = len(pages)
	return nil
}

func (o *Orchestrator) readPages(ctx context.Context, r *run) error {
	var results []domain.OCRResult
	if batch, ok := o.deps.OCR.(domain.BatchOCREngine); ok {
		out, err := batch.ProcessBatch(ctx, r.pages)
		if err != nil {
			return err
		}
		results = out
	} else {
		results = make([]domain.OCRResult, 0, len(r.pages))
		for _, page := range r.pages {
			res, err := o.deps.OCR.Process(ctx, page)
			if err != nil {
				return err
			}
			if res == nil {
				return domain.OCRError(fmt.Sprintf("no OCR result for page %d", page.PageNumber), nil)
			}
			results = append(results, *res)
		}
	}
	if len(results) != len(r.pages) {
		return domain.OCRError(fmt.Sprintf("OCR returned %d results for %d pages", len(results), len(r.pages)), nil)
	}

	texts := make([]string, len(results))
	var images []domain.DetectedImage
	for i, res := range results {
		texts[i] = res.FullText
		images = append(images, res.DetectedImages...)
	}

	r.results = results
	r.fullText = strings.Join(texts, "\n\n")
	r.images = images
	r.meta[domain.MetaDetectedImages] = len(images)
	return nil
}

func (o *Orchestrator) segmentContent(ctx context.Context, r *run) error {
	topics, err := o.deps.Segmenter.Segment(ctx, r.fullText, r.results)
	if err != nil {
		return err
	}
	if len(topics) == 0 {
		return domain.SegmentationError("No topics produced", nil)
	}
	topics = o.deps.Segmenter.MapImages(topics, r.images)

	segments := 0
	for _, t := range topics {
		segments += len(t.Segments)
	}
	r.topics = topics
	r.meta[domain.MetaTopicsCount] = len(topics)
	r.meta[domain.MetaSegmentsCount] = segments
	return nil
}

func (o *Orchestrator) narrateSegments(ctx context.Context, r *run) error {
	for ti := range r.topics {
		segs := r.topics[ti].Segments
		for si := range segs {
			ref := fmt.Sprintf("lessons/%d/%s/%s", r.lessonID, r.jobID, segs[si].ID)
			narration, err := o.deps.Narrator.Synthesize(ctx, segs[si].Text, ref)
			if err != nil {
				return err
			}
			segs[si].AudioURL = narration.AudioURL
			segs[si].DurationSeconds = narration.DurationSeconds
		}
	}
	return nil
}

// saveTopics replaces the lesson's active topics and updates its topic
// count. It must run inside the transaction opened by execute.
func (o *Orchestrator) saveTopics(ctx context.Context, r *run) error {
	if err := o.deps.Topics.DeactivateTopics(ctx, r.lessonID); err != nil {
		return err
	}
	for _, t := range r.topics {
		rec := &domain.TopicRecord{
			LessonID: r.lessonID,
			JobID:    r.jobID,
			TopicID:  t.TopicID,
			Topic:    t.Topic,
			Subtopic: t.Subtopic,
			Order:    t.Order,
			Segments: t.Segments,
		}
		if err := o.deps.Topics.CreateTopic(ctx, rec); err != nil {
			return err
		}
	}
	n := len(r.topics)
	return o.deps.Lessons.UpdateLesson(ctx, r.lessonID, domain.LessonUpdate{NumTopics: &n})
}

// complete marks the job completed. A failed write rolls back the topic
// save it shares a transaction with, so a failed job never leaves topics
// behind.
func (o *Orchestrator) complete(ctx context.Context, r *run) error {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeWriteTimeout)
	defer cancel()

	status, stage, progress, now := domain.JobStatusCompleted, domain.StageCompleted, 100, o.now()
	_, err := o.deps.Jobs.Update(wctx, r.jobID, domain.JobUpdate{
		Status:      &status,
		Stage:       &stage,
		Progress:    &progress,
		Metadata:    maps.Clone(r.meta),
		CompletedAt: &now,
	})
	if errors.Is(err, domain.ErrJobNotFound) {
		r.log.Error().Err(err).Msg("Job disappeared from the store")
		return errAbandoned
	}
	if err != nil {
		return asType(err, domain.ErrorTypePersistence, "Failed to mark job completed")
	}
	return nil
}

// asType returns err unchanged when it already carries a domain type,
// otherwise wraps it with t.
func asType(err error, t domain.ErrorType, msg string) error {
	var de *domain.DomainError
	if errors.As(err, &de) {
		return err
	}
	return domain.NewError(t, msg, err)
}
