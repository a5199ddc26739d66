// Package query turns raw request parameters into a validated Spec.
package query

import (
	"strings"
	"time"

	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/registry"
)

// Transform changes how an association field is rendered.
type Transform string

const (
	TransformNone Transform = ""
	TransformIDs  Transform = "ids"
	TransformSize Transform = "size"
)

// FieldPath is a resolved projection target.
type FieldPath struct {
	Path      string
	Segments  []string
	Chain     []*registry.PropertyDescriptor
	Transform Transform
	// Key is the name the value is rendered under.
	Key string
}

// Terminal returns the descriptor of the last segment.
func (f FieldPath) Terminal() *registry.PropertyDescriptor {
	return f.Chain[len(f.Chain)-1]
}

// Filter is a resolved filter expression.
type Filter struct {
	Raw      string
	Path     string
	Chain    []*registry.PropertyDescriptor
	Operator domain.Operator
	Negate   bool
	// Values holds typed literals; pattern operators keep the raw text.
	Values []any
}

// Terminal returns the descriptor of the filtered property.
func (f Filter) Terminal() *registry.PropertyDescriptor {
	return f.Chain[len(f.Chain)-1]
}

// Value returns the single argument of a binary filter.
func (f Filter) Value() any {
	if len(f.Values) == 0 {
		return nil
	}
	return f.Values[0]
}

// LikePattern renders the argument of a pattern filter as a SQL LIKE pattern
// with backslash escapes. `*` and `?` act as wildcards; a plain like without
// wildcards matches anywhere in the value.
func (f Filter) LikePattern() string {
	raw, _ := f.Value().(string)
	hasWildcard := strings.ContainsAny(raw, "*?")

	var b strings.Builder
	for _, r := range raw {
		switch r {
		case '%', '_', '\\':
			b.WriteRune('\\')
			b.WriteRune(r)
		case '*':
			b.WriteRune('%')
		case '?':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	pattern := b.String()

	switch f.Operator {
	case domain.OpStartsWith, domain.OpIStartsWith:
		return pattern + "%"
	case domain.OpEndsWith, domain.OpIEndsWith:
		return "%" + pattern
	default:
		if hasWildcard {
			return pattern
		}
		return "%" + pattern + "%"
	}
}

// OrderKey is a resolved sort key.
type OrderKey struct {
	Path      string
	Chain     []*registry.PropertyDescriptor
	Direction domain.SortDirection
}

// Terminal returns the descriptor of the sorted property.
func (o OrderKey) Terminal() *registry.PropertyDescriptor {
	return o.Chain[len(o.Chain)-1]
}

// Spec is the validated form of one request.
type Spec struct {
	Type     *registry.EntityType
	Fields   []FieldPath
	Filters  []Filter
	Junction domain.Junction
	Orders   []OrderKey
	Page     int
	PageSize int
	Headless bool
	Mode     domain.HierarchyMode
	AnchorID string
}

// Offset is the index of the first row of the requested page.
func (s *Spec) Offset() int {
	return (s.Page - 1) * s.PageSize
}

// Keys lists the output keys in request order.
func (s *Spec) Keys() []string {
	keys := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		keys[i] = f.Key
	}
	return keys
}

// Options bounds what a request may ask for.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	MaxFieldDepth   int
	Now             func() time.Time
}

// DefaultOptions returns the limits used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		DefaultPageSize: 50,
		MaxPageSize:     1000,
		MaxFieldDepth:   4,
		Now:             time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = d.DefaultPageSize
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = d.MaxPageSize
	}
	if o.DefaultPageSize > o.MaxPageSize {
		o.DefaultPageSize = o.MaxPageSize
	}
	if o.MaxFieldDepth <= 0 {
		o.MaxFieldDepth = d.MaxFieldDepth
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}
