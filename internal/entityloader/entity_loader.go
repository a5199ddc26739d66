// Package entityloader batches association reads issued while one request is
// projected or filtered.
package entityloader

import (
	"context"
	"strings"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/repository"
)

type ctxKey string

const entityLoaderKey ctxKey = "entityLoader"

// EntityLoader resolves records by type and id. Keys are "type/id" so one
// loader serves every entity type.
type EntityLoader struct {
	Loader *dataloader.Loader
}

// NewEntityLoader creates a loader reading through store. Loaded records are
// cached for the lifetime of the loader, so one loader must serve one request.
func NewEntityLoader(store repository.EntityStore, wait time.Duration) *EntityLoader {
	if wait <= 0 {
		wait = 2 * time.Millisecond
	}
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		results := make([]*dataloader.Result, len(keys))

		// Group ids per entity type, remembering where each key sits.
		byType := make(map[string][]string)
		positions := make(map[string][]int)
		for i, k := range keys {
			entityType, id := splitKey(k.String())
			byType[entityType] = append(byType[entityType], id)
			positions[entityType] = append(positions[entityType], i)
		}

		for entityType, ids := range byType {
			records, err := store.GetByIDs(ctx, entityType, ids)
			if err != nil {
				for _, i := range positions[entityType] {
					results[i] = &dataloader.Result{Error: err}
				}
				continue
			}
			found := make(map[string]domain.Record, len(records))
			for _, rec := range records {
				found[rec.ID] = rec
			}
			for j, i := range positions[entityType] {
				if rec, ok := found[ids[j]]; ok {
					results[i] = &dataloader.Result{Data: rec}
				} else {
					results[i] = &dataloader.Result{Data: nil}
				}
			}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(wait))
	return &EntityLoader{Loader: loader}
}

// Records implements filter.Lookup. Results follow the order of ids and leave
// out ids that do not exist.
func (l *EntityLoader) Records(ctx context.Context, entityType string, ids []string) ([]domain.Record, error) {
	if len(ids) == 0 {
		return []domain.Record{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys := make(dataloader.Keys, len(ids))
	for i, id := range ids {
		keys[i] = dataloader.StringKey(entityType + "/" + id)
	}
	data, errs := l.Loader.LoadMany(ctx, keys)()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	out := make([]domain.Record, 0, len(data))
	for _, d := range data {
		if rec, ok := d.(domain.Record); ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// NewContext returns a context carrying l.
func NewContext(ctx context.Context, l *EntityLoader) context.Context {
	return context.WithValue(ctx, entityLoaderKey, l)
}

// FromContext retrieves the loader attached to ctx, if any.
func FromContext(ctx context.Context) *EntityLoader {
	if l, ok := ctx.Value(entityLoaderKey).(*EntityLoader); ok {
		return l
	}
	return nil
}

// Direct reads straight from a store without batching or caching.
type Direct struct {
	Store repository.EntityStore
}

// Records implements filter.Lookup.
func (d Direct) Records(ctx context.Context, entityType string, ids []string) ([]domain.Record, error) {
	if len(ids) == 0 {
		return []domain.Record{}, nil
	}
	records, err := d.Store.GetByIDs(ctx, entityType, ids)
	if err != nil {
		return nil, err
	}
	found := make(map[string]domain.Record, len(records))
	for _, rec := range records {
		found[rec.ID] = rec
	}
	out := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := found[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func splitKey(key string) (string, string) {
	entityType, id, _ := strings.Cut(key, "/")
	return entityType, id
}
