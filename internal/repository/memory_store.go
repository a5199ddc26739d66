package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/filter"
	"github.com/rpattn/gist/internal/registry"
)

// MemoryStore keeps records in process memory. Records of a type keep their
// insertion order, which doubles as the persisted sibling order.
type MemoryStore struct {
	registry *registry.Registry
	eval     *filter.Evaluator

	mu      sync.RWMutex
	records map[string][]domain.Record
	index   map[string]map[string]int
}

// NewMemoryStore creates an empty store for the types of reg.
func NewMemoryStore(reg *registry.Registry) *MemoryStore {
	s := &MemoryStore{
		registry: reg,
		records:  make(map[string][]domain.Record),
		index:    make(map[string]map[string]int),
	}
	s.eval = filter.NewEvaluator(s)
	return s
}

// Put inserts or replaces a record after materializing derived values.
func (s *MemoryStore) Put(ctx context.Context, rec domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t, err := s.registry.Describe(rec.Type)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", rec.ID, err)
	}
	if rec.ID == "" {
		return fmt.Errorf("failed to store %s record: id is required", rec.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var parent *domain.Record
	if parentID := t.Parent(rec); parentID != "" {
		if i, ok := s.index[t.Name][parentID]; ok {
			p := s.records[t.Name][i]
			parent = &p
		}
	}
	rec = Materialize(t, rec, parent)

	idx, ok := s.index[t.Name]
	if !ok {
		idx = make(map[string]int)
		s.index[t.Name] = idx
	}
	affected := []string{rec.ID, t.Parent(rec)}
	if i, exists := idx[rec.ID]; exists {
		affected = append(affected, t.Parent(s.records[t.Name][i]))
		s.records[t.Name][i] = rec
	} else {
		idx[rec.ID] = len(s.records[t.Name])
		s.records[t.Name] = append(s.records[t.Name], rec)
	}
	s.deriveChildren(t, affected)
	return nil
}

// deriveChildren rebuilds the children association of the given nodes from
// the parent links of their siblings. Callers hold the write lock.
func (s *MemoryStore) deriveChildren(t *registry.EntityType, ids []string) {
	children, ok := t.ChildrenProperty()
	if !ok {
		return
	}
	nodes := s.records[t.Name]
	for _, id := range ids {
		i, ok := s.index[t.Name][id]
		if id == "" || !ok {
			continue
		}
		kids := make([]string, 0)
		for _, node := range nodes {
			if t.Parent(node) == id {
				kids = append(kids, node.ID)
			}
		}
		nodes[i] = nodes[i].With(children.Name, kids)
	}
}

// List filters, sorts and windows the records of q.Type.
func (s *MemoryStore) List(ctx context.Context, q ListQuery) ([]domain.Record, error) {
	matched, err := s.eval.Apply(ctx, s.candidates(q), q.Filters, q.Junction)
	if err != nil {
		return nil, fmt.Errorf("failed to filter %s: %w", q.Type.Name, err)
	}
	if err := s.eval.Sort(ctx, matched, q.Orders); err != nil {
		return nil, fmt.Errorf("failed to sort %s: %w", q.Type.Name, err)
	}
	return window(matched, q.Offset, q.Limit), nil
}

// Count returns the number of records matching the filters of q.
func (s *MemoryStore) Count(ctx context.Context, q ListQuery) (int, error) {
	matched, err := s.eval.Apply(ctx, s.candidates(q), q.Filters, q.Junction)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", q.Type.Name, err)
	}
	return len(matched), nil
}

// GetByIDs returns the stored records among ids.
func (s *MemoryStore) GetByIDs(ctx context.Context, entityType string, ids []string) ([]domain.Record, error) {
	return s.Records(ctx, entityType, ids)
}

// Records implements filter.Lookup; results follow the order of ids.
func (s *MemoryStore) Records(ctx context.Context, entityType string, ids []string) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.index[entityType]
	out := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		if i, ok := idx[id]; ok {
			out = append(out, s.records[entityType][i])
		}
	}
	return out, nil
}

// Forest returns every node of t in insertion order.
func (s *MemoryStore) Forest(ctx context.Context, t *registry.EntityType) ([]domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.snapshot(t.Name), nil
}

func (s *MemoryStore) candidates(q ListQuery) []domain.Record {
	all := s.snapshot(q.Type.Name)
	if q.IDs == nil {
		return all
	}
	wanted := make(map[string]struct{}, len(q.IDs))
	for _, id := range q.IDs {
		wanted[id] = struct{}{}
	}
	out := make([]domain.Record, 0, len(q.IDs))
	for _, rec := range all {
		if _, ok := wanted[rec.ID]; ok {
			out = append(out, rec)
		}
	}
	return out
}

func (s *MemoryStore) snapshot(entityType string) []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Record(nil), s.records[entityType]...)
}

func window(records []domain.Record, offset, limit int) []domain.Record {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(records) {
		return []domain.Record{}
	}
	end := len(records)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return records[offset:end]
}
