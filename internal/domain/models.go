package domain

import (
	"errors"
	"fmt"
	"maps"
	"time"
)

// JobStatus is the coarse lifecycle state of a processing job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Stage is the pipeline phase a job is currently in.
type Stage string

const (
	StageQueued         Stage = "queued"
	StageStarting       Stage = "starting"
	StagePDFExtraction  Stage = "pdf_extraction"
	StageOCRProcessing  Stage = "ocr_processing"
	StageAISegmentation Stage = "ai_segmentation"
	StageTTSGeneration  Stage = "tts_generation"
	StageDatabaseSave   Stage = "database_save"
	StageCompleted      Stage = "completed"
	StageError          Stage = "error"
)

// StageOrder lists the non-error stages in the only order a job may visit them.
var StageOrder = []Stage{
	StageQueued,
	StageStarting,
	StagePDFExtraction,
	StageOCRProcessing,
	StageAISegmentation,
	StageTTSGeneration,
	StageDatabaseSave,
	StageCompleted,
}

// Rank returns the position of s in StageOrder, or -1 for StageError and
// unknown stages.
func (s Stage) Rank() int {
	for i, st := range StageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Metadata keys written by the pipeline.
const (
	MetaTotalPages     = "totalPages"
	MetaDetectedImages = "detectedImages"
	MetaTopicsCount    = "topicsCount"
	MetaSegmentsCount  = "segmentsCount"
)

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrLessonNotFound     = errors.New("lesson not found")
	ErrJobTerminal        = errors.New("job is in a terminal state")
	ErrProgressRegression = errors.New("job progress cannot decrease")
	ErrStageRegression    = errors.New("job stage cannot move backwards")
)

// Job tracks one processing attempt for a lesson.
type Job struct {
	ID          string         `json:"id"`
	LessonID    int64          `json:"lessonId"`
	Status      JobStatus      `json:"status"`
	Stage       Stage          `json:"stage"`
	Progress    int            `json:"progress"`
	Metadata    map[string]int `json:"metadata,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
}

// NewJob returns a job in the state a freshly accepted request starts in.
func NewJob(id string, lessonID int64, now time.Time) *Job {
	return &Job{
		ID:        id,
		LessonID:  lessonID,
		Status:    JobStatusProcessing,
		Stage:     StageStarting,
		Progress:  0,
		Metadata:  map[string]int{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// PendingJob is the snapshot reported for a lesson that has never been processed.
func PendingJob(lessonID int64) *Job {
	return &Job{
		LessonID: lessonID,
		Status:   JobStatusPending,
		Stage:    StageQueued,
		Progress: 0,
	}
}

// IsTerminal reports whether the job has completed or failed.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	c := *j
	c.Metadata = maps.Clone(j.Metadata)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Validate checks the status/stage/progress invariants.
func (j *Job) Validate() error {
	if j.Progress < 0 || j.Progress > 100 {
		return fmt.Errorf("progress %d out of range", j.Progress)
	}
	completed := j.Status == JobStatusCompleted
	if completed != (j.Stage == StageCompleted) || completed != (j.Progress == 100) {
		return fmt.Errorf("inconsistent completion: status=%s stage=%s progress=%d", j.Status, j.Stage, j.Progress)
	}
	failed := j.Status == JobStatusFailed
	if failed != (j.Stage == StageError) {
		return fmt.Errorf("inconsistent failure: status=%s stage=%s", j.Status, j.Stage)
	}
	if j.Error != "" && !failed {
		return fmt.Errorf("error set on %s job", j.Status)
	}
	return nil
}

// JobUpdate is a partial update. Nil fields are left untouched; non-nil
// fields replace the current value wholesale.
type JobUpdate struct {
	Status      *JobStatus
	Stage       *Stage
	Progress    *int
	Metadata    map[string]int
	Error       *string
	CompletedAt *time.Time
}

// Apply merges u into the job, refusing updates that would break the
// lifecycle rules.
func (j *Job) Apply(u JobUpdate, now time.Time) error {
	if j.IsTerminal() {
		return ErrJobTerminal
	}

	next := j.Clone()
	if u.Status != nil {
		next.Status = *u.Status
	}
	if u.Stage != nil {
		if *u.Stage != StageError && u.Stage.Rank() < j.Stage.Rank() {
			return fmt.Errorf("%w: %s -> %s", ErrStageRegression, j.Stage, *u.Stage)
		}
		next.Stage = *u.Stage
	}
	if u.Progress != nil {
		if *u.Progress < j.Progress {
			return fmt.Errorf("%w: %d -> %d", ErrProgressRegression, j.Progress, *u.Progress)
		}
		next.Progress = *u.Progress
	}
	if u.Metadata != nil {
		next.Metadata = maps.Clone(u.Metadata)
	}
	if u.Error != nil {
		next.Error = *u.Error
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		next.CompletedAt = &t
	}
	if err := next.Validate(); err != nil {
		return err
	}

	next.UpdatedAt = now
	*j = *next
	return nil
}

// MediaItem is a piece of media attached to a segment.
type MediaItem struct {
	Type    string `json:"type"`
	URL     string `json:"url"`
	Caption string `json:"caption"`
	Key     string `json:"key,omitempty"`
}

// Segment is the smallest unit of lesson content.
type Segment struct {
	ID              string      `json:"id"`
	OriginalText    string      `json:"originalText"`
	Text            string      `json:"text"`
	AudioURL        string      `json:"audioUrl,omitempty"`
	DurationSeconds int         `json:"durationSeconds,omitempty"`
	MediaMap        []MediaItem `json:"mediaMap"`
}

// Topic is a named content unit produced by segmentation.
type Topic struct {
	TopicID  string    `json:"topicId"`
	Topic    string    `json:"topic"`
	Subtopic string    `json:"subtopic,omitempty"`
	Order    int       `json:"order"`
	Segments []Segment `json:"segments"`
}

// TopicRecord is a persisted topic row owned by a lesson.
type TopicRecord struct {
	ID        int64     `json:"id"`
	LessonID  int64     `json:"lessonId"`
	JobID     string    `json:"jobId"`
	TopicID   string    `json:"topicId"`
	Topic     string    `json:"topic"`
	Subtopic  string    `json:"subtopic,omitempty"`
	Order     int       `json:"order"`
	Segments  []Segment `json:"segments"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// Lesson is the external lesson entity the pipeline reads and updates.
type Lesson struct {
	ID        int64     `json:"id"`
	BookID    int64     `json:"bookId"`
	Title     string    `json:"title"`
	NumTopics int       `json:"numTopics"`
	Thumbnail string    `json:"thumbnail,omitempty"`
	PDFRef    string    `json:"pdfRef,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LessonUpdate is a partial lesson update; nil fields are left untouched.
type LessonUpdate struct {
	NumTopics *int
	Thumbnail *string
	PDFRef    *string
}

// PageImage represents a single converted PDF page
type PageImage struct {
	PageNumber int    `json:"pageNumber"`
	ImagePath  string `json:"imagePath"` // Path to temporary JPG file
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// BoundingBox locates a region on a page image, in pixels.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// TextBlock is a run of recognized text.
type TextBlock struct {
	Text        string      `json:"text"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"boundingBox"`
}

// DetectedImage is a non-text region (figure, diagram, photo) found on a page.
type DetectedImage struct {
	PageNumber  int         `json:"pageNumber"`
	Description string      `json:"description"`
	URL         string      `json:"url,omitempty"`
	BoundingBox BoundingBox `json:"boundingBox"`
	Confidence  float64     `json:"confidence"`
}

// OCRResult is the output of running OCR over one page.
type OCRResult struct {
	PageNumber     int             `json:"pageNumber"`
	FullText       string          `json:"fullText"`
	TextBlocks     []TextBlock     `json:"textBlocks"`
	DetectedImages []DetectedImage `json:"detectedImages"`
	Confidence     float64         `json:"confidence"`
}

// Narration is the audio produced for one segment.
type Narration struct {
	AudioURL        string `json:"audioUrl"`
	DurationSeconds int    `json:"durationSeconds"`
}
