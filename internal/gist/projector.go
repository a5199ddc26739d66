package gist

import (
	"context"

	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/filter"
	"github.com/rpattn/gist/internal/query"
	"github.com/rpattn/gist/internal/registry"
)

// projector shapes records into documents. Associations are resolved one
// path segment at a time for the whole batch of records, so each hop costs a
// single lookup regardless of page size.
type projector struct {
	lookup filter.Lookup
}

func (p projector) project(ctx context.Context, records []domain.Record, fields []query.FieldPath) ([]Document, error) {
	keys := make([]string, len(fields))
	for i, f := range fields {
		keys[i] = f.Key
	}
	docs := make([]Document, len(records))
	for i := range docs {
		docs[i] = Document{Keys: keys, Values: make([]any, len(fields))}
	}

	for fi, f := range fields {
		values, err := p.column(ctx, records, f.Chain, f.Transform)
		if err != nil {
			return nil, err
		}
		for i := range docs {
			docs[i].Values[fi] = values[i]
		}
	}
	return docs, nil
}

// column evaluates the remaining chain for every record.
func (p projector) column(ctx context.Context, records []domain.Record, chain []*registry.PropertyDescriptor, transform query.Transform) ([]any, error) {
	step := chain[0]
	out := make([]any, len(records))

	if len(chain) == 1 {
		for i, rec := range records {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out[i] = terminalValue(step, rec, transform)
		}
		return out, nil
	}

	related := make([][]string, len(records))
	var wanted []string
	seen := make(map[string]struct{})
	for i, rec := range records {
		related[i] = associatedIDs(step, rec)
		for _, id := range related[i] {
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				wanted = append(wanted, id)
			}
		}
	}

	targets, err := p.lookup.Records(ctx, step.Target.Name, wanted)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int, len(targets))
	for i, rec := range targets {
		index[rec.ID] = i
	}
	values, err := p.column(ctx, targets, chain[1:], transform)
	if err != nil {
		return nil, err
	}

	for i := range records {
		if step.Kind == domain.KindToOne {
			if len(related[i]) == 1 {
				if j, ok := index[related[i][0]]; ok {
					out[i] = values[j]
				}
			}
			continue
		}
		items := make([]any, 0, len(related[i]))
		for _, id := range related[i] {
			if j, ok := index[id]; ok {
				items = append(items, values[j])
			}
		}
		out[i] = items
	}
	return out, nil
}

func associatedIDs(p *registry.PropertyDescriptor, rec domain.Record) []string {
	switch v := p.Get(rec).(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	default:
		return nil
	}
}

func terminalValue(p *registry.PropertyDescriptor, rec domain.Record, transform query.Transform) any {
	switch p.Kind {
	case domain.KindToMany:
		ids := associatedIDs(p, rec)
		if transform == query.TransformSize {
			return len(ids)
		}
		if ids == nil {
			return []string{}
		}
		return ids
	case domain.KindToOne:
		ids := associatedIDs(p, rec)
		if transform == query.TransformSize {
			return len(ids)
		}
		if len(ids) == 0 {
			return nil
		}
		return ids[0]
	default:
		return p.Get(rec)
	}
}
