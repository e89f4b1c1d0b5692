package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spherical/lesson-digitizer/internal/domain"
)

// LessonRepository handles lesson reads and the fields the pipeline owns.
type LessonRepository struct {
	db *Database
}

// NewLessonRepository creates a new lesson repository.
func NewLessonRepository(db *Database) *LessonRepository {
	return &LessonRepository{db: db}
}

// CreateLesson inserts a lesson. A zero ID is assigned by the database.
func (r *LessonRepository) CreateLesson(ctx context.Context, lesson *domain.Lesson) error {
	now := time.Now().UTC()
	lesson.CreatedAt = now
	lesson.UpdatedAt = now

	conn := r.db.conn(ctx)
	if lesson.ID == 0 {
		query := `
			INSERT INTO lessons (book_id, title, num_topics, thumbnail, pdf_ref, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`
		return conn.QueryRowContext(ctx, query,
			lesson.BookID, lesson.Title, lesson.NumTopics, lesson.Thumbnail, lesson.PDFRef,
			lesson.CreatedAt, lesson.UpdatedAt,
		).Scan(&lesson.ID)
	}

	query := `
		INSERT INTO lessons (id, book_id, title, num_topics, thumbnail, pdf_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := conn.ExecContext(ctx, query,
		lesson.ID, lesson.BookID, lesson.Title, lesson.NumTopics, lesson.Thumbnail, lesson.PDFRef,
		lesson.CreatedAt, lesson.UpdatedAt,
	)
	return err
}

// GetLesson retrieves a lesson by ID.
func (r *LessonRepository) GetLesson(ctx context.Context, id int64) (*domain.Lesson, error) {
	query := `
		SELECT id, book_id, title, num_topics, thumbnail, pdf_ref, created_at, updated_at
		FROM lessons WHERE id = $1
	`
	lesson := &domain.Lesson{}
	err := r.db.conn(ctx).QueryRowContext(ctx, query, id).Scan(
		&lesson.ID, &lesson.BookID, &lesson.Title, &lesson.NumTopics,
		&lesson.Thumbnail, &lesson.PDFRef, &lesson.CreatedAt, &lesson.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, lessonNotFound(id)
	}
	if err != nil {
		return nil, domain.PersistenceError("Failed to load lesson", err)
	}
	return lesson, nil
}

// UpdateLesson writes the non-nil fields of update.
func (r *LessonRepository) UpdateLesson(ctx context.Context, id int64, update domain.LessonUpdate) error {
	lesson, err := r.GetLesson(ctx, id)
	if err != nil {
		return err
	}
	applyLessonUpdate(lesson, update)

	query := `
		UPDATE lessons SET num_topics = $1, thumbnail = $2, pdf_ref = $3, updated_at = $4
		WHERE id = $5
	`
	_, err = r.db.conn(ctx).ExecContext(ctx, query,
		lesson.NumTopics, lesson.Thumbnail, lesson.PDFRef, time.Now().UTC(), id,
	)
	if err != nil {
		return domain.PersistenceError("Failed to update lesson", err)
	}
	return nil
}

// TopicRepository handles lesson topic rows.
type TopicRepository struct {
	db *Database
}

// NewTopicRepository creates a new topic repository.
func NewTopicRepository(db *Database) *TopicRepository {
	return &TopicRepository{db: db}
}

// CreateTopic inserts an active topic row and sets its ID.
func (r *TopicRepository) CreateTopic(ctx context.Context, topic *domain.TopicRecord) error {
	segments, err := json.Marshal(topic.Segments)
	if err != nil {
		return domain.PersistenceError("Failed to encode segments", err)
	}
	topic.Active = true
	topic.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO lesson_topics (lesson_id, job_id, topic_id, topic, subtopic, topic_order, segments, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err = r.db.conn(ctx).QueryRowContext(ctx, query,
		topic.LessonID, topic.JobID, topic.TopicID, topic.Topic, topic.Subtopic,
		topic.Order, string(segments), topic.Active, topic.CreatedAt,
	).Scan(&topic.ID)
	if err != nil {
		return domain.PersistenceError(fmt.Sprintf("Failed to save topic %s", topic.TopicID), err)
	}
	return nil
}

// DeactivateTopics soft-deletes the lesson's active topics.
func (r *TopicRepository) DeactivateTopics(ctx context.Context, lessonID int64) error {
	_, err := r.db.conn(ctx).ExecContext(ctx,
		`UPDATE lesson_topics SET active = $1 WHERE lesson_id = $2 AND active = $3`,
		false, lessonID, true,
	)
	if err != nil {
		return domain.PersistenceError("Failed to deactivate topics", err)
	}
	return nil
}

// ListTopics returns the lesson's active topics in order.
func (r *TopicRepository) ListTopics(ctx context.Context, lessonID int64) ([]domain.TopicRecord, error) {
	query := `
		SELECT id, lesson_id, job_id, topic_id, topic, subtopic, topic_order, segments, active, created_at
		FROM lesson_topics
		WHERE lesson_id = $1 AND active = $2
		ORDER BY topic_order, id
	`
	rows, err := r.db.conn(ctx).QueryContext(ctx, query, lessonID, true)
	if err != nil {
		return nil, domain.PersistenceError("Failed to list topics", err)
	}
	defer rows.Close()

	topics := []domain.TopicRecord{}
	for rows.Next() {
		var (
			t        domain.TopicRecord
			segments []byte
		)
		if err := rows.Scan(
			&t.ID, &t.LessonID, &t.JobID, &t.TopicID, &t.Topic, &t.Subtopic,
			&t.Order, &segments, &t.Active, &t.CreatedAt,
		); err != nil {
			return nil, domain.PersistenceError("Failed to read topic", err)
		}
		if err := json.Unmarshal(segments, &t.Segments); err != nil {
			return nil, domain.PersistenceError("Failed to decode segments", err)
		}
		topics = append(topics, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.PersistenceError("Failed to list topics", err)
	}
	return topics, nil
}

func lessonNotFound(id int64) error {
	return domain.NotFoundError(fmt.Sprintf("lesson %d not found", id), ErrLessonNotFound)
}

func applyLessonUpdate(lesson *domain.Lesson, u domain.LessonUpdate) {
	if u.NumTopics != nil {
		lesson.NumTopics = *u.NumTopics
	}
	if u.Thumbnail != nil {
		lesson.Thumbnail = *u.Thumbnail
	}
	if u.PDFRef != nil {
		lesson.PDFRef = *u.PDFRef
	}
}
