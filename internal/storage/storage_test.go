package storage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spherical/lesson-digitizer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func openSQLite(t *testing.T) *Database {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, Options{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "test.db"), MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))
	return db
}

// testJobStore exercises the JobStore contract against any backend.
func testJobStore(t *testing.T, store domain.JobStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("create and get", func(t *testing.T) {
		job := domain.NewJob(uuid.NewString(), 1, now)
		require.NoError(t, store.Create(ctx, job))

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, domain.JobStatusProcessing, got.Status)
		assert.Equal(t, domain.StageStarting, got.Stage)
		assert.Equal(t, 0, got.Progress)
		assert.WithinDuration(t, now, got.CreatedAt, time.Second)
	})

	t.Run("unknown job", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrJobNotFound)

		_, err = store.Update(ctx, "missing", domain.JobUpdate{Progress: ptr(10)})
		assert.ErrorIs(t, err, ErrJobNotFound)

		_, err = store.GetByLesson(ctx, 999)
		assert.ErrorIs(t, err, ErrJobNotFound)
	})

	t.Run("latest by lesson", func(t *testing.T) {
		first := domain.NewJob(uuid.NewString(), 2, now)
		second := domain.NewJob(uuid.NewString(), 2, now)
		require.NoError(t, store.Create(ctx, first))
		require.NoError(t, store.Create(ctx, second))

		got, err := store.GetByLesson(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, second.ID, got.ID)
	})

	t.Run("partial updates", func(t *testing.T) {
		job := domain.NewJob(uuid.NewString(), 3, now)
		require.NoError(t, store.Create(ctx, job))

		got, err := store.Update(ctx, job.ID, domain.JobUpdate{
			Stage:    ptr(domain.StagePDFExtraction),
			Progress: ptr(10),
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StagePDFExtraction, got.Stage)

		got, err = store.Update(ctx, job.ID, domain.JobUpdate{
			Progress: ptr(20),
			Metadata: map[string]int{domain.MetaTotalPages: 2},
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StagePDFExtraction, got.Stage, "untouched field kept")
		assert.Equal(t, 20, got.Progress)

		reread, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{domain.MetaTotalPages: 2}, reread.Metadata)
		assert.Equal(t, 20, reread.Progress)

		_, err = store.Update(ctx, job.ID, domain.JobUpdate{Progress: ptr(5)})
		assert.ErrorIs(t, err, domain.ErrProgressRegression)
	})

	t.Run("terminal job is immutable", func(t *testing.T) {
		job := domain.NewJob(uuid.NewString(), 4, now)
		require.NoError(t, store.Create(ctx, job))

		done := time.Now().UTC()
		got, err := store.Update(ctx, job.ID, domain.JobUpdate{
			Status:      ptr(domain.JobStatusCompleted),
			Stage:       ptr(domain.StageCompleted),
			Progress:    ptr(100),
			CompletedAt: &done,
		})
		require.NoError(t, err)
		require.NotNil(t, got.CompletedAt)

		_, err = store.Update(ctx, job.ID, domain.JobUpdate{Status: ptr(domain.JobStatusFailed), Stage: ptr(domain.StageError), Error: ptr("late")})
		assert.ErrorIs(t, err, domain.ErrJobTerminal)

		reread, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, reread.Status)
		assert.Empty(t, reread.Error)
		require.NotNil(t, reread.CompletedAt)
		assert.WithinDuration(t, done, *reread.CompletedAt, time.Second)
	})

	t.Run("failure", func(t *testing.T) {
		job := domain.NewJob(uuid.NewString(), 5, now)
		require.NoError(t, store.Create(ctx, job))

		got, err := store.Update(ctx, job.ID, domain.JobUpdate{
			Status: ptr(domain.JobStatusFailed),
			Stage:  ptr(domain.StageError),
			Error:  ptr("OCR failed"),
		})
		require.NoError(t, err)
		assert.Equal(t, "OCR failed", got.Error)
	})
}

func testLessonsAndTopics(t *testing.T, lessons LessonStore, topics domain.TopicRepository, tx domain.Transactor) {
	ctx := context.Background()

	lesson := &domain.Lesson{BookID: 3, Title: "Plants"}
	require.NoError(t, lessons.CreateLesson(ctx, lesson))
	require.NotZero(t, lesson.ID)

	t.Run("get and update lesson", func(t *testing.T) {
		got, err := lessons.GetLesson(ctx, lesson.ID)
		require.NoError(t, err)
		assert.Equal(t, "Plants", got.Title)

		require.NoError(t, lessons.UpdateLesson(ctx, lesson.ID, domain.LessonUpdate{PDFRef: ptr("lessons/1/original.pdf")}))
		require.NoError(t, lessons.UpdateLesson(ctx, lesson.ID, domain.LessonUpdate{NumTopics: ptr(4)}))

		got, err = lessons.GetLesson(ctx, lesson.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, got.NumTopics)
		assert.Equal(t, "lessons/1/original.pdf", got.PDFRef)
	})

	t.Run("missing lesson", func(t *testing.T) {
		_, err := lessons.GetLesson(ctx, 424242)
		assert.ErrorIs(t, err, ErrLessonNotFound)
		assert.True(t, domain.IsType(err, domain.ErrorTypeNotFound))

		err = lessons.UpdateLesson(ctx, 424242, domain.LessonUpdate{NumTopics: ptr(1)})
		assert.ErrorIs(t, err, ErrLessonNotFound)
	})

	t.Run("topics ordered and replaced", func(t *testing.T) {
		for _, order := range []int{2, 1} {
			rec := &domain.TopicRecord{
				LessonID: lesson.ID, JobID: "job-a", TopicID: "topic", Topic: "T", Order: order,
				Segments: []domain.Segment{{ID: "s1", Text: "one", MediaMap: []domain.MediaItem{}}, {ID: "s2", Text: "two"}},
			}
			require.NoError(t, topics.CreateTopic(ctx, rec))
			assert.NotZero(t, rec.ID)
		}

		got, err := topics.ListTopics(ctx, lesson.ID)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 1, got[0].Order)
		assert.Equal(t, 2, got[1].Order)
		require.Len(t, got[0].Segments, 2)
		assert.Equal(t, "s1", got[0].Segments[0].ID)
		assert.Equal(t, "s2", got[0].Segments[1].ID)
		assert.True(t, got[0].Active)

		err = tx.InTx(ctx, func(ctx context.Context) error {
			if err := topics.DeactivateTopics(ctx, lesson.ID); err != nil {
				return err
			}
			return topics.CreateTopic(ctx, &domain.TopicRecord{LessonID: lesson.ID, JobID: "job-b", TopicID: "topic-1", Topic: "New", Order: 1})
		})
		require.NoError(t, err)

		got, err = topics.ListTopics(ctx, lesson.ID)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "job-b", got[0].JobID)
	})

	t.Run("rollback on error", func(t *testing.T) {
		boom := errors.New("boom")
		err := tx.InTx(ctx, func(ctx context.Context) error {
			if err := topics.DeactivateTopics(ctx, lesson.ID); err != nil {
				return err
			}
			if err := topics.CreateTopic(ctx, &domain.TopicRecord{LessonID: lesson.ID, JobID: "job-c", TopicID: "topic-1", Topic: "Doomed", Order: 1}); err != nil {
				return err
			}
			if err := lessons.UpdateLesson(ctx, lesson.ID, domain.LessonUpdate{NumTopics: ptr(99)}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := topics.ListTopics(ctx, lesson.ID)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "job-b", got[0].JobID)

		l, err := lessons.GetLesson(ctx, lesson.ID)
		require.NoError(t, err)
		assert.Equal(t, 4, l.NumTopics)
	})
}

func TestMemoryJobStore(t *testing.T) {
	testJobStore(t, NewMemoryJobStore())
}

func TestSQLJobStore_SQLite(t *testing.T) {
	testJobStore(t, NewSQLJobStore(openSQLite(t)))
}

func TestMemoryStore(t *testing.T) {
	mem := NewMemoryStore()
	testLessonsAndTopics(t, mem, mem, mem)
}

func TestSQLRepositories_SQLite(t *testing.T) {
	db := openSQLite(t)
	testLessonsAndTopics(t, NewLessonRepository(db), NewTopicRepository(db), db)
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openSQLite(t)
	require.NoError(t, db.Migrate(context.Background()))

	var n int
	require.NoError(t, db.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestMemoryJobStore_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryJobStore()
	job := domain.NewJob("j", 1, time.Now())
	require.NoError(t, store.Create(ctx, job))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Get(ctx, "j")
			_, _ = store.GetByLesson(ctx, 1)
		}()
	}
	for p := 1; p <= 10; p++ {
		_, err := store.Update(ctx, "j", domain.JobUpdate{Progress: ptr(p)})
		require.NoError(t, err)
	}
	wg.Wait()

	got, err := store.Get(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Progress)
}

func TestMemoryJobStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryJobStore()
	require.NoError(t, store.Create(ctx, domain.NewJob("j", 1, time.Now())))

	got, err := store.Get(ctx, "j")
	require.NoError(t, err)
	got.Progress = 77
	got.Metadata["x"] = 1

	again, err := store.Get(ctx, "j")
	require.NoError(t, err)
	assert.Equal(t, 0, again.Progress)
	assert.Empty(t, again.Metadata)
}
