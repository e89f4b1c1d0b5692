package storage

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/spherical/lesson-digitizer/internal/domain"
)

// MemoryJobStore keeps jobs in process memory.
type MemoryJobStore struct {
	mu       sync.RWMutex
	jobs     map[string]*domain.Job
	byLesson map[int64]string // latest job per lesson
}

// NewMemoryJobStore creates an empty in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:     make(map[string]*domain.Job),
		byLesson: make(map[int64]string),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return domain.ValidationError("Invalid job", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return domain.ConflictError(fmt.Sprintf("job %s already exists", job.ID), nil)
	}
	s.jobs[job.ID] = job.Clone()
	s.byLesson[job.LessonID] = job.ID
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryJobStore) GetByLesson(_ context.Context, lessonID int64) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byLesson[lessonID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return s.jobs[id].Clone(), nil
}

func (s *MemoryJobStore) Update(_ context.Context, jobID string, update domain.JobUpdate) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	if err := job.Apply(update, time.Now().UTC()); err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// MemoryStore is an in-memory lesson and topic repository with
// snapshot-based transactions. Transactions are serialized.
type MemoryStore struct {
	txMu sync.Mutex

	mu          sync.RWMutex
	lessons     map[int64]domain.Lesson
	topics      []domain.TopicRecord
	nextLesson  int64
	nextTopicID int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lessons: make(map[int64]domain.Lesson)}
}

// CreateLesson adds a lesson. A zero ID is assigned.
func (s *MemoryStore) CreateLesson(_ context.Context, lesson *domain.Lesson) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lesson.ID == 0 {
		s.nextLesson++
		for s.lessons[s.nextLesson].ID != 0 {
			s.nextLesson++
		}
		lesson.ID = s.nextLesson
	} else if _, ok := s.lessons[lesson.ID]; ok {
		return domain.ConflictError(fmt.Sprintf("lesson %d already exists", lesson.ID), nil)
	}
	now := time.Now().UTC()
	lesson.CreatedAt, lesson.UpdatedAt = now, now
	s.lessons[lesson.ID] = *lesson
	return nil
}

func (s *MemoryStore) GetLesson(_ context.Context, id int64) (*domain.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lesson, ok := s.lessons[id]
	if !ok {
		return nil, lessonNotFound(id)
	}
	return &lesson, nil
}

func (s *MemoryStore) UpdateLesson(_ context.Context, id int64, update domain.LessonUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lesson, ok := s.lessons[id]
	if !ok {
		return lessonNotFound(id)
	}
	applyLessonUpdate(&lesson, update)
	lesson.UpdatedAt = time.Now().UTC()
	s.lessons[id] = lesson
	return nil
}

func (s *MemoryStore) CreateTopic(_ context.Context, topic *domain.TopicRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTopicID++
	topic.ID = s.nextTopicID
	topic.Active = true
	topic.CreatedAt = time.Now().UTC()

	rec := *topic
	rec.Segments = slices.Clone(topic.Segments)
	s.topics = append(s.topics, rec)
	return nil
}

func (s *MemoryStore) DeactivateTopics(_ context.Context, lessonID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.topics {
		if s.topics[i].LessonID == lessonID {
			s.topics[i].Active = false
		}
	}
	return nil
}

func (s *MemoryStore) ListTopics(_ context.Context, lessonID int64) ([]domain.TopicRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.TopicRecord{}
	for _, t := range s.topics {
		if t.LessonID == lessonID && t.Active {
			t.Segments = slices.Clone(t.Segments)
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

type memTxKey struct{}

// InTx runs fn and restores the previous state if it fails.
func (s *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	lessons := make(map[int64]domain.Lesson, len(s.lessons))
	for k, v := range s.lessons {
		lessons[k] = v
	}
	topics := slices.Clone(s.topics)
	nextTopicID := s.nextTopicID
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.mu.Lock()
		s.lessons = lessons
		s.topics = topics
		s.nextTopicID = nextTopicID
		s.mu.Unlock()
		return err
	}
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
