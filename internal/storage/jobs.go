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

// SQLJobStore keeps jobs in the processing_jobs table.
type SQLJobStore struct {
	db *Database
}

// NewSQLJobStore creates a new job store.
func NewSQLJobStore(db *Database) *SQLJobStore {
	return &SQLJobStore{db: db}
}

const jobColumns = `id, lesson_id, status, stage, progress, metadata, error, created_at, updated_at, completed_at`

// Create inserts a new job.
func (s *SQLJobStore) Create(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return domain.ValidationError("Invalid job", err)
	}
	meta, err := encodeMeta(job.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO processing_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.db.conn(ctx).ExecContext(ctx, query,
		job.ID, job.LessonID, job.Status, job.Stage, job.Progress, meta, job.Error,
		job.CreatedAt.UTC(), job.UpdatedAt.UTC(), nullTime(job.CompletedAt),
	)
	if err != nil {
		return domain.PersistenceError("Failed to create job", err)
	}
	return nil
}

// Get retrieves a job by ID.
func (s *SQLJobStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	row := s.db.conn(ctx).QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs WHERE id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, domain.PersistenceError("Failed to load job", err)
	}
	return job, nil
}

// GetByLesson retrieves the most recently created job for a lesson.
func (s *SQLJobStore) GetByLesson(ctx context.Context, lessonID int64) (*domain.Job, error) {
	row := s.db.conn(ctx).QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM processing_jobs WHERE lesson_id = $1 ORDER BY seq DESC LIMIT 1`, lessonID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, domain.PersistenceError("Failed to load job", err)
	}
	return job, nil
}

// Update applies a partial update and returns the new job state.
func (s *SQLJobStore) Update(ctx context.Context, jobID string, update domain.JobUpdate) (*domain.Job, error) {
	var out *domain.Job
	err := s.db.InTx(ctx, func(ctx context.Context) error {
		job, err := s.Get(ctx, jobID)
		if err != nil {
			return err
		}
		if err := job.Apply(update, time.Now().UTC()); err != nil {
			return err
		}
		meta, err := encodeMeta(job.Metadata)
		if err != nil {
			return err
		}

		query := `
			UPDATE processing_jobs
			SET status = $1, stage = $2, progress = $3, metadata = $4, error = $5, updated_at = $6, completed_at = $7
			WHERE id = $8
		`
		_, err = s.db.conn(ctx).ExecContext(ctx, query,
			job.Status, job.Stage, job.Progress, meta, job.Error,
			job.UpdatedAt.UTC(), nullTime(job.CompletedAt), jobID,
		)
		if err != nil {
			return domain.PersistenceError("Failed to update job", err)
		}
		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job       domain.Job
		meta      []byte
		completed sql.NullTime
	)
	if err := row.Scan(
		&job.ID, &job.LessonID, &job.Status, &job.Stage, &job.Progress, &meta, &job.Error,
		&job.CreatedAt, &job.UpdatedAt, &completed,
	); err != nil {
		return nil, err
	}
	job.Metadata = map[string]int{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &job.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if completed.Valid {
		t := completed.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

func encodeMeta(m map[string]int) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", domain.PersistenceError("Failed to encode job metadata", err)
	}
	return string(b), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
