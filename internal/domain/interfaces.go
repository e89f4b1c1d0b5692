package domain

import "context"

// PageExtractor turns a PDF into an ordered sequence of page images
type PageExtractor interface {
	// Extract renders every page of the PDF behind pdfRef, in page order
	Extract(ctx context.Context, pdfRef string) ([]PageImage, error)
}

// PageReleaser is implemented by extractors that keep page images on disk
type PageReleaser interface {
	Release(pages []PageImage) error
}

// OCREngine extracts text and image regions from a page image
type OCREngine interface {
	Process(ctx context.Context, page PageImage) (*OCRResult, error)
}

// BatchOCREngine processes many pages at once; results follow input order
type BatchOCREngine interface {
	ProcessBatch(ctx context.Context, pages []PageImage) ([]OCRResult, error)
}

// ContentSegmenter divides lesson text into ordered topics
type ContentSegmenter interface {
	Segment(ctx context.Context, fullText string, pages []OCRResult) ([]Topic, error)
	MapImages(topics []Topic, images []DetectedImage) []Topic
}

// NarrationSynthesizer produces audio for one segment of text
type NarrationSynthesizer interface {
	Synthesize(ctx context.Context, text, segmentRef string) (*Narration, error)
}

// JobStore persists job lifecycle state
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	// GetByLesson returns the most recently created job for the lesson
	GetByLesson(ctx context.Context, lessonID int64) (*Job, error)
	Update(ctx context.Context, jobID string, update JobUpdate) (*Job, error)
}

// LessonRepository is the lesson collaborator
type LessonRepository interface {
	GetLesson(ctx context.Context, id int64) (*Lesson, error)
	UpdateLesson(ctx context.Context, id int64, update LessonUpdate) error
}

// TopicRepository is the lesson topic collaborator
type TopicRepository interface {
	CreateTopic(ctx context.Context, topic *TopicRecord) error
	// DeactivateTopics soft-deletes the lesson's currently active topics
	DeactivateTopics(ctx context.Context, lessonID int64) error
	ListTopics(ctx context.Context, lessonID int64) ([]TopicRecord, error)
}

// Transactor runs fn atomically; repositories called with the ctx passed to
// fn take part in the transaction
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PDFLocator resolves a lesson to the reference of its uploaded PDF
type PDFLocator interface {
	LocatePDF(ctx context.Context, lessonID int64) (string, error)
}
