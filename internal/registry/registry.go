// Package registry holds the immutable catalog of entity types the query
// engine can serve. A Registry is assembled once by a Builder and only read
// afterwards, so it can be shared by concurrent requests without locking.
package registry

import (
	"sort"
	"strings"

	"github.com/rpattn/gist/internal/domain"
)

// IDProperty is the identifier property every entity type carries.
const IDProperty = "id"

// Getter is a typed accessor for one property. It returns nil when the
// record holds no usable value.
type Getter func(domain.Record) any

// PropertyDescriptor describes one property of an entity type.
type PropertyDescriptor struct {
	Name       string
	Kind       domain.PropertyKind
	ValueType  domain.ValueType
	Target     *EntityType
	Filterable bool
	Sortable   bool
	// Expression documents how a computed value is derived.
	Expression string
	// Materialize lets a store derive a computed value at write time.
	Materialize func(domain.Record) any
	Get         Getter

	owner string
}

// Owner is the name of the entity type declaring the property.
func (p *PropertyDescriptor) Owner() string {
	return p.owner
}

// OrderSpec is a declared default ordering step.
type OrderSpec struct {
	Property  string
	Direction domain.SortDirection
}

// HierarchySpec marks an entity type as a forest.
type HierarchySpec struct {
	ParentProperty string
	LevelProperty  string
	// PathProperty is optional; when set, stores keep a "/a/b/c" path.
	PathProperty string
	// ChildrenProperty is optional; when set, stores derive it as the ids of
	// the nodes naming this one as parent, in persisted order.
	ChildrenProperty string
}

// EntityType is a registered type and its ordered property descriptors.
type EntityType struct {
	Name          string
	Collection    string
	Properties    []*PropertyDescriptor
	DisplayFields []string
	DefaultOrder  []OrderSpec
	Hierarchy     *HierarchySpec

	byName map[string]*PropertyDescriptor
}

// Property looks up a descriptor by name.
func (t *EntityType) Property(name string) (*PropertyDescriptor, bool) {
	p, ok := t.byName[name]
	return p, ok
}

// IsHierarchical reports whether hierarchy traversal modes apply.
func (t *EntityType) IsHierarchical() bool {
	return t.Hierarchy != nil
}

// Parent returns the parent id of a node of a hierarchical type.
func (t *EntityType) Parent(rec domain.Record) string {
	if t.Hierarchy == nil {
		return ""
	}
	p := t.byName[t.Hierarchy.ParentProperty]
	id, _ := p.Get(rec).(string)
	return id
}

// ChildrenProperty returns the derived children association, if declared.
func (t *EntityType) ChildrenProperty() (*PropertyDescriptor, bool) {
	if t.Hierarchy == nil || t.Hierarchy.ChildrenProperty == "" {
		return nil, false
	}
	return t.Property(t.Hierarchy.ChildrenProperty)
}

// Registry is the immutable set of entity types.
type Registry struct {
	types map[string]*EntityType
}

// Describe returns the entity type registered under name.
func (r *Registry) Describe(name string) (*EntityType, error) {
	t, ok := r.types[name]
	if !ok {
		return nil, domain.NewQueryError(domain.ErrUnknownEntityType, name, "Entity type `%s` is not known.", name)
	}
	return t, nil
}

// Names lists registered type names in alphabetical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolvePath resolves a dotted property path against t. Every segment but the
// last must be an association; the returned chain has one descriptor per
// segment.
func (r *Registry) ResolvePath(t *EntityType, path string) ([]*PropertyDescriptor, error) {
	segments := strings.Split(path, ".")
	chain := make([]*PropertyDescriptor, 0, len(segments))
	current := t
	for i, segment := range segments {
		if current == nil {
			return nil, domain.NewQueryError(domain.ErrInvalidField, segment,
				"Property `%s` of path `%s` cannot be reached because `%s` is not an association.", segment, path, segments[i-1])
		}
		p, ok := current.Property(segment)
		if !ok {
			return nil, domain.NewQueryError(domain.ErrInvalidField, segment,
				"Property `%s` does not exist in %s.", segment, current.Name)
		}
		chain = append(chain, p)
		if p.Kind.IsAssociation() {
			current = p.Target
		} else {
			current = nil
		}
	}
	return chain, nil
}
