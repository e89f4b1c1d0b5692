package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/spherical/lesson-digitizer/internal/config"
	"github.com/spherical/lesson-digitizer/internal/domain"
)

// LessonStore is a lesson repository that can also create lessons.
type LessonStore interface {
	domain.LessonRepository
	CreateLesson(ctx context.Context, lesson *domain.Lesson) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Stores bundles the backends selected by configuration.
type Stores struct {
	Jobs    domain.JobStore
	Lessons LessonStore
	Topics  domain.TopicRepository
	Tx      domain.Transactor

	pingers []pinger
	closers []func() error
}

// New opens the configured database and job store and runs migrations.
func New(ctx context.Context, cfg *config.Config) (*Stores, error) {
	s := &Stores{}

	switch cfg.Database.Driver {
	case "memory":
		mem := NewMemoryStore()
		s.Lessons, s.Topics, s.Tx = mem, mem, mem
		s.pingers = append(s.pingers, mem)
	default:
		opts := Options{Driver: cfg.Database.Driver, DSN: cfg.DatabaseDSN()}
		if cfg.Database.Driver == "sqlite" {
			opts.MaxOpenConns = cfg.Database.SQLite.MaxOpenConns
			opts.JournalMode = cfg.Database.SQLite.JournalMode
		} else {
			opts.MaxOpenConns = cfg.Database.Postgres.MaxOpenConns
			opts.MaxIdleConns = cfg.Database.Postgres.MaxIdleConns
			opts.ConnMaxLifetime = cfg.Database.Postgres.ConnMaxLifetime
		}
		db, err := Open(ctx, opts)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		s.Lessons = NewLessonRepository(db)
		s.Topics = NewTopicRepository(db)
		s.Tx = db
		s.pingers = append(s.pingers, db)
		if cfg.Jobs.Store == "database" {
			s.Jobs = NewSQLJobStore(db)
		}
	}

	switch cfg.Jobs.Store {
	case "memory":
		s.Jobs = NewMemoryJobStore()
	case "redis":
		r := cfg.Jobs.Redis
		rs, err := NewRedisJobStore(RedisConfig{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			PoolSize: r.PoolSize,
			Prefix:   r.Prefix,
			TTL:      r.TTL,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Jobs = rs
		s.pingers = append(s.pingers, rs)
		s.closers = append(s.closers, rs.Close)
	}

	if s.Jobs == nil {
		s.Close()
		return nil, fmt.Errorf("job store %q is not available with database driver %q", cfg.Jobs.Store, cfg.Database.Driver)
	}
	return s, nil
}

// Ping checks every backend.
func (s *Stores) Ping(ctx context.Context) error {
	for _, p := range s.pingers {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close releases every backend.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}
