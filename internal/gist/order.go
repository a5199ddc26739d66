package gist

import (
	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/query"
	"github.com/rpattn/gist/internal/registry"
)

// resolveOrder picks the effective sort keys: explicit keys, else the declared
// default order. An ascending id key closes the list unless id is already
// ordered on, so equal keys still page deterministically.
func resolveOrder(t *registry.EntityType, explicit []query.OrderKey) []query.OrderKey {
	keys := make([]query.OrderKey, 0, len(explicit)+len(t.DefaultOrder)+1)
	if len(explicit) > 0 {
		keys = append(keys, explicit...)
	} else {
		for _, o := range t.DefaultOrder {
			p, ok := t.Property(o.Property)
			if !ok {
				continue
			}
			keys = append(keys, query.OrderKey{
				Path:      p.Name,
				Chain:     []*registry.PropertyDescriptor{p},
				Direction: o.Direction,
			})
		}
	}

	for _, k := range keys {
		if len(k.Chain) == 1 && k.Chain[0].Name == registry.IDProperty {
			return keys
		}
	}
	id, _ := t.Property(registry.IDProperty)
	return append(keys, query.OrderKey{
		Path:      registry.IDProperty,
		Chain:     []*registry.PropertyDescriptor{id},
		Direction: domain.SortDirectionAsc,
	})
}
