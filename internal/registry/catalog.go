package registry

import (
	"strings"

	"github.com/rpattn/gist/internal/domain"
)

// CatalogDefs returns the built-in entity types served when no schema file is
// configured.
func CatalogDefs() []TypeDef {
	return []TypeDef{
		{
			Name:       "organisationUnit",
			Collection: "organisationUnits",
			Properties: []PropertyDef{
				{Name: "code", ValueType: domain.TypeString, Filterable: true, Sortable: true},
				{Name: "name", ValueType: domain.TypeString, Filterable: true, Sortable: true},
				{Name: "shortName", ValueType: domain.TypeString, Filterable: true, Sortable: true},
				{
					Name:        "displayName",
					Kind:        domain.KindComputed,
					ValueType:   domain.TypeString,
					Filterable:  true,
					Sortable:    true,
					Expression:  "coalesce(shortName, name)",
					Materialize: firstNonEmpty("shortName", "name"),
				},
				{Name: "comment", ValueType: domain.TypeString, Filterable: true},
				{Name: "openingDate", ValueType: domain.TypeDateTime, Filterable: true, Sortable: true},
				{Name: "level", ValueType: domain.TypeInteger, Filterable: true, Sortable: true},
				{Name: "path", ValueType: domain.TypeString, Filterable: true, Sortable: true},
				{Name: "parent", Kind: domain.KindToOne, Target: "organisationUnit", Filterable: true},
				{Name: "children", Kind: domain.KindToMany, Target: "organisationUnit", Filterable: true},
				{Name: "users", Kind: domain.KindToMany, Target: "user", Filterable: true},
			},
			DisplayFields: []string{"name"},
			Hierarchy: &HierarchySpec{
				ParentProperty:   "parent",
				LevelProperty:    "level",
				PathProperty:     "path",
				ChildrenProperty: "children",
			},
		},
		{
			Name:       "user",
			Collection: "users",
			Properties: []PropertyDef{
				{Name: "code", ValueType: domain.TypeString, Filterable: true, Sortable: true},
				{Name: "firstName", ValueType: domain.TypeString, Filterable: true, Sortable: true},
				{Name: "surname", ValueType: domain.TypeString, Filterable: true, Sortable: true},
				{
					Name:        "name",
					Kind:        domain.KindComputed,
					ValueType:   domain.TypeString,
					Filterable:  true,
					Sortable:    true,
					Expression:  "firstName || ' ' || surname",
					Materialize: joinValues(" ", "firstName", "surname"),
				},
				{Name: "email", ValueType: domain.TypeString, Filterable: true},
				{Name: "created", ValueType: domain.TypeDateTime, Filterable: true, Sortable: true},
				{Name: "disabled", ValueType: domain.TypeBoolean, Filterable: true, Sortable: true},
				{Name: "manager", Kind: domain.KindToOne, Target: "user", Filterable: true, Sortable: true},
				{Name: "organisationUnits", Kind: domain.KindToMany, Target: "organisationUnit", Filterable: true},
				{Name: "userGroups", Kind: domain.KindToMany, Target: "userGroup", Filterable: true},
			},
			DisplayFields: []string{"code", "name"},
			DefaultOrder: []OrderSpec{
				{Property: "surname", Direction: domain.SortDirectionAsc},
				{Property: "firstName", Direction: domain.SortDirectionAsc},
			},
		},
		{
			Name:       "userGroup",
			Collection: "userGroups",
			Properties: []PropertyDef{
				{Name: "code", ValueType: domain.TypeString, Filterable: true, Sortable: true},
				{Name: "name", ValueType: domain.TypeString, Filterable: true, Sortable: true},
				{Name: "users", Kind: domain.KindToMany, Target: "user", Filterable: true},
			},
			DisplayFields: []string{"name"},
			DefaultOrder:  []OrderSpec{{Property: "name", Direction: domain.SortDirectionAsc}},
		},
	}
}

// Catalog builds a registry from CatalogDefs.
func Catalog() (*Registry, error) {
	b := NewBuilder()
	for _, def := range CatalogDefs() {
		b.Add(def)
	}
	return b.Build()
}

func firstNonEmpty(names ...string) func(domain.Record) any {
	return func(rec domain.Record) any {
		for _, name := range names {
			if v, ok := rec.Raw(name); ok {
				if s, ok := v.(string); ok && s != "" {
					return s
				}
			}
		}
		return nil
	}
}

func joinValues(sep string, names ...string) func(domain.Record) any {
	return func(rec domain.Record) any {
		parts := make([]string, 0, len(names))
		for _, name := range names {
			if v, ok := rec.Raw(name); ok {
				if s, ok := v.(string); ok && s != "" {
					parts = append(parts, s)
				}
			}
		}
		if len(parts) == 0 {
			return nil
		}
		return strings.Join(parts, sep)
	}
}
