package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/query"
	"github.com/rpattn/gist/internal/registry"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")
	// ErrJobNotFound is returned when an integrity job id is unknown.
	ErrJobNotFound = errors.New("integrity job not found")
)

// ListQuery is a filtered, ordered, windowed read of one entity type.
type ListQuery struct {
	Type *registry.EntityType
	// IDs, when non-nil, restricts the candidates before filters apply.
	IDs      []string
	Filters  []query.Filter
	Junction domain.Junction
	Orders   []query.OrderKey
	Offset   int
	// Limit <= 0 means no limit.
	Limit int
}

// EntityStore is the read interface the query engine consumes. Filters and
// orders must be applied before the window.
type EntityStore interface {
	List(ctx context.Context, q ListQuery) ([]domain.Record, error)
	Count(ctx context.Context, q ListQuery) (int, error)
	// GetByIDs returns the records that exist, in no particular order.
	GetByIDs(ctx context.Context, entityType string, ids []string) ([]domain.Record, error)
}

// HierarchyStore reads whole forests of a hierarchical type.
type HierarchyStore interface {
	// Forest returns every node of the type. Siblings appear in their
	// persisted order.
	Forest(ctx context.Context, t *registry.EntityType) ([]domain.Record, error)
}

// EntityWriter stores records; used for seeding and tests.
type EntityWriter interface {
	Put(ctx context.Context, rec domain.Record) error
}

// Reader is what the query engine reads through.
type Reader interface {
	EntityStore
	HierarchyStore
}

// Store bundles everything a storage backend provides.
type Store interface {
	Reader
	EntityWriter
}

// JobStore persists integrity job state.
type JobStore interface {
	Save(ctx context.Context, job domain.IntegrityJob) error
	Get(ctx context.Context, id uuid.UUID) (domain.IntegrityJob, error)
}
