package repository

import (
	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/registry"
	"github.com/rpattn/gist/pkg/orgpath"
)

// Materialize derives the stored values a record of t carries besides what
// the caller supplied: computed properties with a materializer, and the level
// and path of hierarchy nodes. parent is the stored parent node, if any.
// Supplied values are converted to their canonical types first.
func Materialize(t *registry.EntityType, rec domain.Record, parent *domain.Record) domain.Record {
	rec = canonicalize(t, rec)
	for _, p := range t.Properties {
		if p.Kind == domain.KindComputed && p.Materialize != nil {
			rec = rec.With(p.Name, p.Materialize(rec))
		}
	}

	h := t.Hierarchy
	if h == nil {
		return rec
	}
	parentID := t.Parent(rec)
	var path string
	switch {
	case parentID == "":
		path = orgpath.Join("", rec.ID)
	case parent != nil:
		parentPath := ""
		if h.PathProperty != "" {
			parentPath, _ = registryString(t, h.PathProperty, *parent)
		}
		if parentPath == "" {
			return withLevel(t, rec, parent)
		}
		path = orgpath.Join(parentPath, rec.ID)
	default:
		return rec
	}
	if h.PathProperty != "" {
		rec = rec.With(h.PathProperty, path)
	}
	if h.LevelProperty != "" {
		rec = rec.With(h.LevelProperty, int64(orgpath.Level(path)))
	}
	return rec
}

func canonicalize(t *registry.EntityType, rec domain.Record) domain.Record {
	values := make(map[string]any, len(rec.Values))
	for k, v := range rec.Values {
		values[k] = v
	}
	for _, p := range t.Properties {
		raw, ok := values[p.Name]
		if !ok || raw == nil || p.Name == registry.IDProperty {
			continue
		}
		if p.Kind == domain.KindToMany {
			if ids, ok := registry.CoerceIDs(raw); ok {
				values[p.Name] = ids
			}
			continue
		}
		if v, ok := registry.Coerce(p.ValueType, raw); ok {
			values[p.Name] = v
		}
	}
	values[registry.IDProperty] = rec.ID
	rec.Values = values
	return rec
}

// withLevel handles parents stored without a path.
func withLevel(t *registry.EntityType, rec domain.Record, parent *domain.Record) domain.Record {
	h := t.Hierarchy
	if h.LevelProperty == "" {
		return rec
	}
	p, _ := t.Property(h.LevelProperty)
	parentLevel, ok := p.Get(*parent).(int64)
	if !ok {
		return rec
	}
	return rec.With(h.LevelProperty, parentLevel+1)
}

func registryString(t *registry.EntityType, name string, rec domain.Record) (string, bool) {
	p, ok := t.Property(name)
	if !ok {
		return "", false
	}
	s, ok := p.Get(rec).(string)
	return s, ok
}
