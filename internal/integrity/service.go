// Package integrity runs asynchronous consistency checks over hierarchical
// entity types.
package integrity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/registry"
	"github.com/rpattn/gist/internal/repository"
)

// ErrNotHierarchical is returned when a job is requested for a flat type.
var ErrNotHierarchical = errors.New("entity type is not hierarchical")

// Recorder receives one observation per finished job.
type Recorder interface {
	ObserveJob(entityType, status string)
}

type Service struct {
	registry *registry.Registry
	store    repository.HierarchyStore
	jobs     repository.JobStore
	logger   *zap.Logger
	recorder Recorder

	jobTimeout   time.Duration
	pollInterval time.Duration
	now          func() time.Time

	mu            sync.Mutex
	workerCancels sync.Map // map[uuid.UUID]context.CancelFunc
}

type Option func(*Service)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

func WithJobTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.jobTimeout = timeout
		}
	}
}

func NewService(reg *registry.Registry, store repository.HierarchyStore, jobs repository.JobStore, opts ...Option) *Service {
	service := &Service{
		registry:     reg,
		store:        store,
		jobs:         jobs,
		logger:       zap.NewNop(),
		jobTimeout:   5 * time.Minute,
		pollInterval: 20 * time.Millisecond,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Start enqueues a check of typeName and returns the pending job.
func (s *Service) Start(ctx context.Context, typeName string) (domain.IntegrityJob, error) {
	t, err := s.registry.Describe(typeName)
	if err != nil {
		return domain.IntegrityJob{}, err
	}
	if !t.IsHierarchical() {
		return domain.IntegrityJob{}, fmt.Errorf("%s: %w", t.Name, ErrNotHierarchical)
	}

	now := s.now().UTC()
	job := domain.IntegrityJob{
		ID:         uuid.New(),
		EntityType: t.Name,
		Status:     domain.IntegrityJobStatusPending,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return domain.IntegrityJob{}, err
	}
	s.launchWorker(job, t)
	return job, nil
}

// Get returns the current state of a job.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.IntegrityJob, error) {
	return s.jobs.Get(ctx, id)
}

// Wait polls a job until it finishes or timeout elapses, and returns the last
// state seen. A zero timeout returns immediately.
func (s *Service) Wait(ctx context.Context, id uuid.UUID, timeout time.Duration) (domain.IntegrityJob, error) {
	deadline := s.now().Add(timeout)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		job, err := s.jobs.Get(ctx, id)
		if err != nil {
			return domain.IntegrityJob{}, err
		}
		if job.Status.Done() || !s.now().Before(deadline) {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cancel stops a pending or running job.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (domain.IntegrityJob, error) {
	job, changed, err := s.transition(ctx, id, func(job *domain.IntegrityJob) {
		job.Status = domain.IntegrityJobStatusCancelled
		reason := "Cancelled by user"
		job.ErrorMessage = &reason
	})
	if err != nil {
		return domain.IntegrityJob{}, err
	}
	if changed {
		if cancel, ok := s.workerCancels.LoadAndDelete(id); ok {
			cancel.(context.CancelFunc)()
		}
		s.observe(job)
	}
	return job, nil
}

func (s *Service) launchWorker(job domain.IntegrityJob, t *registry.EntityType) {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	s.workerCancels.Store(job.ID, cancel)
	go func() {
		defer func() {
			cancel()
			s.workerCancels.Delete(job.ID)
		}()
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic while checking integrity", zap.Stringer("job", job.ID), zap.Any("panic", rec))
				s.failJob(job.ID, fmt.Errorf("panic: %v", rec))
			}
		}()
		if err := s.run(ctx, job.ID, t); err != nil {
			if errors.Is(err, context.Canceled) {
				s.logger.Info("integrity job cancelled", zap.Stringer("job", job.ID))
				return
			}
			s.failJob(job.ID, err)
		}
	}()
}

func (s *Service) run(ctx context.Context, id uuid.UUID, t *registry.EntityType) error {
	_, changed, err := s.transition(ctx, id, func(job *domain.IntegrityJob) {
		now := s.now().UTC()
		job.Status = domain.IntegrityJobStatusRunning
		job.StartedAt = &now
	})
	if err != nil || !changed {
		return err
	}

	forest, err := s.store.Forest(ctx, t)
	if err != nil {
		return fmt.Errorf("failed to read %s forest: %w", t.Name, err)
	}
	report, err := Check(ctx, t, forest)
	if err != nil {
		return err
	}

	job, changed, err := s.transition(ctx, id, func(job *domain.IntegrityJob) {
		job.Status = domain.IntegrityJobStatusCompleted
		job.Report = &report
	})
	if err != nil {
		return err
	}
	if changed {
		s.logger.Info("integrity job completed",
			zap.Stringer("job", id),
			zap.String("type", t.Name),
			zap.Int("checked", report.Checked),
			zap.Bool("clean", report.Clean()))
		s.observe(job)
	}
	return nil
}

func (s *Service) failJob(id uuid.UUID, cause error) {
	ctx := context.Background()
	job, changed, err := s.transition(ctx, id, func(job *domain.IntegrityJob) {
		message := truncateError(cause)
		job.Status = domain.IntegrityJobStatusFailed
		job.ErrorMessage = &message
	})
	if err != nil {
		s.logger.Error("failed to mark integrity job as failed", zap.Stringer("job", id), zap.Error(err), zap.NamedError("cause", cause))
		return
	}
	if changed {
		s.logger.Warn("integrity job failed", zap.Stringer("job", id), zap.Error(cause))
		s.observe(job)
	}
}

// transition applies mutate to a job that has not finished yet. Jobs that
// already reached a terminal status are returned unchanged.
func (s *Service) transition(ctx context.Context, id uuid.UUID, mutate func(*domain.IntegrityJob)) (domain.IntegrityJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Outcomes are recorded even after the worker context ended.
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	job, err := s.jobs.Get(ctx, id)
	if err != nil {
		return domain.IntegrityJob{}, false, err
	}
	if job.Status.Done() {
		return job, false, nil
	}
	mutate(&job)
	now := s.now().UTC()
	job.UpdatedAt = now
	if job.Status.Done() {
		job.CompletedAt = &now
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return domain.IntegrityJob{}, false, err
	}
	return job, true, nil
}

func (s *Service) observe(job domain.IntegrityJob) {
	if s.recorder != nil {
		s.recorder.ObserveJob(job.EntityType, string(job.Status))
	}
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	const maxLen = 512
	msg := err.Error()
	if len(msg) > maxLen {
		return msg[:maxLen]
	}
	return msg
}
