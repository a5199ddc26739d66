package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"github.com/rpattn/gist/internal/domain"
)

// MemoryJobStore keeps job state in process memory.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]domain.IntegrityJob
}

// NewMemoryJobStore creates an empty job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[uuid.UUID]domain.IntegrityJob)}
}

// Save implements JobStore.
func (s *MemoryJobStore) Save(_ context.Context, job domain.IntegrityJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

// Get implements JobStore.
func (s *MemoryJobStore) Get(_ context.Context, id uuid.UUID) (domain.IntegrityJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.IntegrityJob{}, ErrJobNotFound
	}
	return job, nil
}

// RedisJobStore shares job state between instances through Redis.
type RedisJobStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisJobStore creates a store writing keys under prefix. Finished jobs
// expire after ttl; zero keeps them forever.
func NewRedisJobStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisJobStore {
	if prefix == "" {
		prefix = "gist:integrity:"
	}
	return &RedisJobStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisJobStore) key(id uuid.UUID) string {
	return s.prefix + id.String()
}

// Save implements JobStore.
func (s *RedisJobStore) Save(ctx context.Context, job domain.IntegrityJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode integrity job: %w", err)
	}
	var ttl time.Duration
	if job.Status.Done() {
		ttl = s.ttl
	}
	if err := s.client.Set(ctx, s.key(job.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save integrity job: %w", err)
	}
	return nil
}

// Get implements JobStore.
func (s *RedisJobStore) Get(ctx context.Context, id uuid.UUID) (domain.IntegrityJob, error) {
	payload, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.IntegrityJob{}, ErrJobNotFound
	}
	if err != nil {
		return domain.IntegrityJob{}, fmt.Errorf("failed to load integrity job: %w", err)
	}
	var job domain.IntegrityJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return domain.IntegrityJob{}, fmt.Errorf("failed to decode integrity job: %w", err)
	}
	return job, nil
}

// PostgresJobStore keeps job state next to the entities.
type PostgresJobStore struct {
	db DBTX
}

// NewPostgresJobStore creates a job store over db.
func NewPostgresJobStore(db DBTX) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

// Save implements JobStore.
func (s *PostgresJobStore) Save(ctx context.Context, job domain.IntegrityJob) error {
	var report []byte
	if job.Report != nil {
		encoded, err := json.Marshal(job.Report)
		if err != nil {
			return fmt.Errorf("failed to encode integrity report: %w", err)
		}
		report = encoded
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO gist_integrity_jobs
			(id, entity_type, status, report, error_message, enqueued_at, started_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			report = EXCLUDED.report,
			error_message = EXCLUDED.error_message,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			updated_at = EXCLUDED.updated_at`,
		job.ID.String(), job.EntityType, string(job.Status), report, job.ErrorMessage,
		job.EnqueuedAt, job.StartedAt, job.CompletedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save integrity job: %w", err)
	}
	return nil
}

// Get implements JobStore.
func (s *PostgresJobStore) Get(ctx context.Context, id uuid.UUID) (domain.IntegrityJob, error) {
	var (
		job    domain.IntegrityJob
		rawID  string
		status string
		report []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT id::text, entity_type, status, report, error_message, enqueued_at, started_at, completed_at, updated_at
		FROM gist_integrity_jobs WHERE id = $1`, id.String()).
		Scan(&rawID, &job.EntityType, &status, &report, &job.ErrorMessage,
			&job.EnqueuedAt, &job.StartedAt, &job.CompletedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.IntegrityJob{}, ErrJobNotFound
	}
	if err != nil {
		return domain.IntegrityJob{}, fmt.Errorf("failed to load integrity job: %w", err)
	}
	if job.ID, err = uuid.Parse(rawID); err != nil {
		return domain.IntegrityJob{}, fmt.Errorf("failed to parse integrity job id: %w", err)
	}
	job.Status = domain.IntegrityJobStatus(status)
	if len(report) > 0 {
		job.Report = &domain.IntegrityReport{}
		if err := json.Unmarshal(report, job.Report); err != nil {
			return domain.IntegrityJob{}, fmt.Errorf("failed to decode integrity report: %w", err)
		}
	}
	return job, nil
}
