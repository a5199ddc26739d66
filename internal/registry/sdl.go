package registry

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/rpattn/gist/internal/domain"
)

var scalarTypes = map[string]domain.ValueType{
	"ID":       domain.TypeString,
	"String":   domain.TypeString,
	"Int":      domain.TypeInteger,
	"Float":    domain.TypeNumber,
	"Boolean":  domain.TypeBoolean,
	"DateTime": domain.TypeDateTime,
	"Date":     domain.TypeDateTime,
	"Time":     domain.TypeDateTime,
}

var rootOperationTypes = map[string]struct{}{
	"Query":        {},
	"Mutation":     {},
	"Subscription": {},
}

// LoadSDL builds a registry from GraphQL SDL. Every object type becomes an
// entity type named after the type with a lower-case first letter. Type
// directives: @collection(name), @display(fields), @defaultOrder(by),
// @hierarchy(parent, level, path, children). Field directives: @filterable,
// @sortable, @computed(expr).
func LoadSDL(name, source string) (*Registry, error) {
	defs, err := ParseSDL(name, source)
	if err != nil {
		return nil, err
	}
	b := NewBuilder()
	for _, def := range defs {
		b.Add(def)
	}
	return b.Build()
}

// ParseSDL converts SDL into type definitions without building a registry.
func ParseSDL(name, source string) ([]TypeDef, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: name, Input: source})
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema %s: %w", name, err)
	}

	objects := make(map[string]struct{})
	enums := make(map[string]struct{})
	for _, def := range doc.Definitions {
		switch def.Kind {
		case ast.Object:
			objects[def.Name] = struct{}{}
		case ast.Enum:
			enums[def.Name] = struct{}{}
		}
	}

	var defs []TypeDef
	for _, def := range doc.Definitions {
		if def.Kind != ast.Object {
			continue
		}
		if _, skip := rootOperationTypes[def.Name]; skip {
			continue
		}
		td, err := typeDefFromSDL(def, objects, enums)
		if err != nil {
			return nil, err
		}
		defs = append(defs, td)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("schema %s declares no entity types", name)
	}
	return defs, nil
}

func typeDefFromSDL(def *ast.Definition, objects, enums map[string]struct{}) (TypeDef, error) {
	td := TypeDef{Name: entityName(def.Name)}

	if d := def.Directives.ForName("collection"); d != nil {
		td.Collection = stringArg(d, "name")
	}
	if d := def.Directives.ForName("display"); d != nil {
		td.DisplayFields = listArg(d, "fields")
	}
	if d := def.Directives.ForName("defaultOrder"); d != nil {
		for _, item := range listArg(d, "by") {
			prop, dir, _ := strings.Cut(item, ":")
			direction, ok := domain.ParseSortDirection(dir)
			if !ok {
				return TypeDef{}, fmt.Errorf("type %s: invalid default order %q", def.Name, item)
			}
			td.DefaultOrder = append(td.DefaultOrder, OrderSpec{Property: strings.TrimSpace(prop), Direction: direction})
		}
	}
	if d := def.Directives.ForName("hierarchy"); d != nil {
		td.Hierarchy = &HierarchySpec{
			ParentProperty:   stringArg(d, "parent"),
			LevelProperty:    stringArg(d, "level"),
			PathProperty:     stringArg(d, "path"),
			ChildrenProperty: stringArg(d, "children"),
		}
		if td.Hierarchy.ParentProperty == "" {
			td.Hierarchy.ParentProperty = "parent"
		}
	}

	for _, field := range def.Fields {
		pd := PropertyDef{
			Name:       field.Name,
			Filterable: field.Directives.ForName("filterable") != nil,
			Sortable:   field.Directives.ForName("sortable") != nil,
		}
		named := field.Type.Name()
		switch {
		case field.Type.Elem != nil:
			if _, ok := objects[named]; !ok {
				return TypeDef{}, fmt.Errorf("type %s field %s: lists must hold entity types", def.Name, field.Name)
			}
			pd.Kind = domain.KindToMany
			pd.Target = entityName(named)
		default:
			if vt, ok := scalarTypes[named]; ok {
				pd.ValueType = vt
			} else if _, ok := enums[named]; ok {
				pd.ValueType = domain.TypeString
			} else if _, ok := objects[named]; ok {
				pd.Kind = domain.KindToOne
				pd.Target = entityName(named)
			} else {
				return TypeDef{}, fmt.Errorf("type %s field %s: unsupported type %s", def.Name, field.Name, named)
			}
		}
		if d := field.Directives.ForName("computed"); d != nil {
			if pd.Kind != domain.KindSimple {
				return TypeDef{}, fmt.Errorf("type %s field %s: associations cannot be computed", def.Name, field.Name)
			}
			pd.Kind = domain.KindComputed
			pd.Expression = stringArg(d, "expr")
		}
		td.Properties = append(td.Properties, pd)
	}
	return td, nil
}

func entityName(typeName string) string {
	if typeName == "" {
		return typeName
	}
	runes := []rune(typeName)
	runes[0] = unicode.ToLower(runes[0])
	return string(runes)
}

func stringArg(d *ast.Directive, name string) string {
	arg := d.Arguments.ForName(name)
	if arg == nil || arg.Value == nil {
		return ""
	}
	return arg.Value.Raw
}

func listArg(d *ast.Directive, name string) []string {
	arg := d.Arguments.ForName(name)
	if arg == nil || arg.Value == nil {
		return nil
	}
	if arg.Value.Kind != ast.ListValue {
		return []string{arg.Value.Raw}
	}
	items := make([]string, 0, len(arg.Value.Children))
	for _, child := range arg.Value.Children {
		items = append(items, child.Value.Raw)
	}
	return items
}
