package registry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/gist/internal/domain"
)

// PropertyDef declares one property of a TypeDef.
type PropertyDef struct {
	Name        string
	Kind        domain.PropertyKind
	ValueType   domain.ValueType
	Target      string
	Filterable  bool
	Sortable    bool
	Expression  string
	Materialize func(domain.Record) any
}

// TypeDef declares an entity type for the Builder.
type TypeDef struct {
	Name          string
	Collection    string
	Properties    []PropertyDef
	DisplayFields []string
	DefaultOrder  []OrderSpec
	Hierarchy     *HierarchySpec
}

// Builder collects type definitions and produces an immutable Registry.
type Builder struct {
	defs []TypeDef
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add queues a type definition.
func (b *Builder) Add(def TypeDef) *Builder {
	b.defs = append(b.defs, def)
	return b
}

// Build validates all definitions and returns the registry.
func (b *Builder) Build() (*Registry, error) {
	reg := &Registry{types: make(map[string]*EntityType, len(b.defs))}

	for _, def := range b.defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return nil, errors.New("entity type name is required")
		}
		if _, exists := reg.types[name]; exists {
			return nil, fmt.Errorf("entity type %s is declared twice", name)
		}
		t, err := newEntityType(def)
		if err != nil {
			return nil, err
		}
		reg.types[name] = t
	}

	// Second pass: associations may point at types declared later.
	for _, def := range b.defs {
		t := reg.types[def.Name]
		for _, pd := range def.Properties {
			if !pd.Kind.IsAssociation() {
				continue
			}
			target, ok := reg.types[pd.Target]
			if !ok {
				return nil, fmt.Errorf("property %s.%s targets unknown entity type %q", def.Name, pd.Name, pd.Target)
			}
			t.byName[pd.Name].Target = target
		}
	}

	for _, t := range reg.types {
		if err := validateType(reg, t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func newEntityType(def TypeDef) (*EntityType, error) {
	collection := def.Collection
	if collection == "" {
		collection = def.Name + "s"
	}
	t := &EntityType{
		Name:          def.Name,
		Collection:    collection,
		DisplayFields: append([]string(nil), def.DisplayFields...),
		DefaultOrder:  append([]OrderSpec(nil), def.DefaultOrder...),
		byName:        make(map[string]*PropertyDescriptor, len(def.Properties)+1),
	}
	if def.Hierarchy != nil {
		h := *def.Hierarchy
		t.Hierarchy = &h
	}

	props := def.Properties
	if !hasProperty(props, IDProperty) {
		props = append([]PropertyDef{{
			Name:       IDProperty,
			Kind:       domain.KindSimple,
			ValueType:  domain.TypeString,
			Filterable: true,
			Sortable:   true,
		}}, props...)
	}

	for _, pd := range props {
		if pd.Name == "" || strings.ContainsAny(pd.Name, ".:,") {
			return nil, fmt.Errorf("entity type %s has invalid property name %q", def.Name, pd.Name)
		}
		if _, dup := t.byName[pd.Name]; dup {
			return nil, fmt.Errorf("entity type %s declares property %s twice", def.Name, pd.Name)
		}
		vt := pd.ValueType
		if pd.Kind.IsAssociation() {
			vt = domain.TypeReference
		}
		if pd.Kind == domain.KindToMany && pd.Sortable {
			return nil, fmt.Errorf("property %s.%s: to-many properties cannot be sortable", def.Name, pd.Name)
		}
		p := &PropertyDescriptor{
			Name:        pd.Name,
			Kind:        pd.Kind,
			ValueType:   vt,
			Filterable:  pd.Filterable,
			Sortable:    pd.Sortable,
			Expression:  pd.Expression,
			Materialize: pd.Materialize,
			Get:         getterFor(pd.Name, pd.Kind, vt),
			owner:       def.Name,
		}
		t.Properties = append(t.Properties, p)
		t.byName[p.Name] = p
	}
	return t, nil
}

func validateType(reg *Registry, t *EntityType) error {
	for _, field := range t.DisplayFields {
		if _, err := reg.ResolvePath(t, field); err != nil {
			return fmt.Errorf("entity type %s display field %s: %w", t.Name, field, err)
		}
	}
	for _, o := range t.DefaultOrder {
		chain, err := reg.ResolvePath(t, o.Property)
		if err != nil {
			return fmt.Errorf("entity type %s default order %s: %w", t.Name, o.Property, err)
		}
		if !chain[len(chain)-1].Sortable {
			return fmt.Errorf("entity type %s default order %s: property is not sortable", t.Name, o.Property)
		}
	}
	if h := t.Hierarchy; h != nil {
		parent, ok := t.Property(h.ParentProperty)
		if !ok || parent.Kind != domain.KindToOne || parent.Target != t {
			return fmt.Errorf("entity type %s hierarchy parent %q must be a to-one association to itself", t.Name, h.ParentProperty)
		}
		if h.LevelProperty != "" {
			level, ok := t.Property(h.LevelProperty)
			if !ok || level.ValueType != domain.TypeInteger {
				return fmt.Errorf("entity type %s hierarchy level %q must be an integer property", t.Name, h.LevelProperty)
			}
		}
		if h.ChildrenProperty != "" {
			children, ok := t.Property(h.ChildrenProperty)
			if !ok || children.Kind != domain.KindToMany || children.Target != t {
				return fmt.Errorf("entity type %s hierarchy children %q must be a to-many association to itself", t.Name, h.ChildrenProperty)
			}
		}
		if h.PathProperty != "" {
			path, ok := t.Property(h.PathProperty)
			if !ok || path.ValueType != domain.TypeString {
				return fmt.Errorf("entity type %s hierarchy path %q must be a string property", t.Name, h.PathProperty)
			}
		}
	}
	return nil
}

func hasProperty(props []PropertyDef, name string) bool {
	for _, p := range props {
		if p.Name == name {
			return true
		}
	}
	return false
}
