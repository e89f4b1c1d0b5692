//go:build integration

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/spherical/lesson-digitizer/internal/domain"
)

func TestRedisJobStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	redisContainer, err := redis.Run(ctx,
		"redis:7.4-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate redis container: %v", err)
		}
	})

	host, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	port, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)

	store, err := NewRedisJobStore(RedisConfig{
		Addr:   fmt.Sprintf("%s:%s", host, port.Port()),
		Prefix: "test:",
		TTL:    time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	testJobStore(t, store)
	testRedisLessonPointerTTL(t, store)
}

func testRedisLessonPointerTTL(t *testing.T, store *RedisJobStore) {
	ctx := context.Background()
	progress := 40

	tests := []struct {
		name       string
		superseded bool
		wantLonger bool
	}{
		{name: "latest job refreshes pointer", wantLonger: true},
		{name: "superseded job leaves pointer alone", superseded: true},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lessonID := int64(9000 + i)
			job := domain.NewJob(uuid.NewString(), lessonID, time.Now().UTC())
			require.NoError(t, store.Create(ctx, job))
			if tt.superseded {
				require.NoError(t, store.Create(ctx, domain.NewJob(uuid.NewString(), lessonID, time.Now().UTC())))
			}

			lessonKey := store.lessonKey(lessonID)
			require.NoError(t, store.client.Expire(ctx, lessonKey, time.Minute).Err())

			_, err := store.Update(ctx, job.ID, domain.JobUpdate{Progress: &progress})
			require.NoError(t, err)

			ttl, err := store.client.TTL(ctx, lessonKey).Result()
			require.NoError(t, err)
			if tt.wantLonger {
				assert.Greater(t, ttl, 30*time.Minute)
			} else {
				assert.LessOrEqual(t, ttl, time.Minute)
			}
		})
	}
}

func TestPostgres_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("lessons_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate postgres container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := Open(ctx, Options{
		Driver: "postgres",
		DSN:    fmt.Sprintf("postgres://test:test@%s:%s/lessons_test?sslmode=disable", host, port.Port()),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(ctx))

	t.Run("jobs", func(t *testing.T) {
		testJobStore(t, NewSQLJobStore(db))
	})
	t.Run("lessons and topics", func(t *testing.T) {
		testLessonsAndTopics(t, NewLessonRepository(db), NewTopicRepository(db), db)
	})
}
