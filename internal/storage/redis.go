package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spherical/lesson-digitizer/internal/domain"
)

const maxUpdateAttempts = 5

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Prefix   string
	TTL      time.Duration
}

// RedisJobStore keeps jobs as JSON values in Redis.
type RedisJobStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisJobStore connects to Redis and verifies the connection.
func NewRedisJobStore(cfg RedisConfig) (*RedisJobStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ld:"
	}

	return &RedisJobStore{client: client, prefix: prefix, ttl: cfg.TTL}, nil
}

func (s *RedisJobStore) jobKey(id string) string {
	return s.prefix + "job:" + id
}

func (s *RedisJobStore) lessonKey(lessonID int64) string {
	return s.prefix + "lesson:" + strconv.FormatInt(lessonID, 10) + ":latest"
}

func (s *RedisJobStore) Create(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return domain.ValidationError("Invalid job", err)
	}
	data, err := json.Marshal(job)
	if err != nil {
		return domain.PersistenceError("Failed to encode job", err)
	}

	ok, err := s.client.SetNX(ctx, s.jobKey(job.ID), data, s.ttl).Result()
	if err != nil {
		return domain.PersistenceError("Failed to create job", fmt.Errorf("redis setnx: %w", err))
	}
	if !ok {
		return domain.ConflictError(fmt.Sprintf("job %s already exists", job.ID), nil)
	}
	if err := s.client.Set(ctx, s.lessonKey(job.LessonID), job.ID, s.ttl).Err(); err != nil {
		return domain.PersistenceError("Failed to index job", fmt.Errorf("redis set: %w", err))
	}
	return nil
}

func (s *RedisJobStore) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.load(ctx, s.client, jobID)
}

func (s *RedisJobStore) GetByLesson(ctx context.Context, lessonID int64) (*domain.Job, error) {
	id, err := s.client.Get(ctx, s.lessonKey(lessonID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, domain.PersistenceError("Failed to load job", fmt.Errorf("redis get: %w", err))
	}
	return s.Get(ctx, id)
}

// Update applies the change under WATCH so concurrent writers cannot
// interleave a read-modify-write.
func (s *RedisJobStore) Update(ctx context.Context, jobID string, update domain.JobUpdate) (*domain.Job, error) {
	key := s.jobKey(jobID)

	var out *domain.Job
	txf := func(tx *redis.Tx) error {
		job, err := s.load(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if err := job.Apply(update, time.Now().UTC()); err != nil {
			return err
		}
		data, err := json.Marshal(job)
		if err != nil {
			return domain.PersistenceError("Failed to encode job", err)
		}
		// The lesson pointer must outlive the job it points at.
		lessonKey := s.lessonKey(job.LessonID)
		latest, err := tx.Get(ctx, lessonKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			if latest == jobID && s.ttl > 0 {
				pipe.Expire(ctx, lessonKey, s.ttl)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = job
		return nil
	}

	for i := 0; i < maxUpdateAttempts; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, domain.PersistenceError("Failed to update job", fmt.Errorf("too much contention on %s", key))
}

// Ping checks that Redis is reachable.
func (s *RedisJobStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisJobStore) Close() error {
	return s.client.Close()
}

func (s *RedisJobStore) load(ctx context.Context, c getter, jobID string) (*domain.Job, error) {
	data, err := c.Get(ctx, s.jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, domain.PersistenceError("Failed to load job", fmt.Errorf("redis get: %w", err))
	}
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, domain.PersistenceError("Failed to decode job", err)
	}
	if job.Metadata == nil {
		job.Metadata = map[string]int{}
	}
	return &job, nil
}
