package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/gist/internal/domain"
)

func TestCatalogDescribe(t *testing.T) {
	reg, err := Catalog()
	require.NoError(t, err)

	ou, err := reg.Describe("organisationUnit")
	require.NoError(t, err)
	assert.Equal(t, "organisationUnits", ou.Collection)
	assert.True(t, ou.IsHierarchical())

	id, ok := ou.Property(IDProperty)
	require.True(t, ok)
	assert.True(t, id.Filterable)
	assert.True(t, id.Sortable)

	_, err = reg.Describe("dataElement")
	require.Error(t, err)
	assert.True(t, domain.IsQueryError(err, domain.ErrUnknownEntityType))
	assert.Equal(t, []string{"organisationUnit", "user", "userGroup"}, reg.Names())
}

func TestResolvePath(t *testing.T) {
	reg, err := Catalog()
	require.NoError(t, err)
	user, err := reg.Describe("user")
	require.NoError(t, err)

	t.Run("nested association", func(t *testing.T) {
		chain, err := reg.ResolvePath(user, "manager.userGroups.name")
		require.NoError(t, err)
		require.Len(t, chain, 3)
		assert.Equal(t, domain.KindToOne, chain[0].Kind)
		assert.Equal(t, domain.KindToMany, chain[1].Kind)
		assert.Equal(t, "userGroup", chain[2].Owner())
	})

	t.Run("unknown segment is named", func(t *testing.T) {
		_, err := reg.ResolvePath(user, "manager.shoeSize")
		var qe *domain.QueryError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, domain.ErrInvalidField, qe.Kind)
		assert.Equal(t, "shoeSize", qe.Token)
	})

	t.Run("step through a simple property", func(t *testing.T) {
		_, err := reg.ResolvePath(user, "surname.length")
		var qe *domain.QueryError
		require.ErrorAs(t, err, &qe)
		assert.Equal(t, domain.ErrInvalidField, qe.Kind)
		assert.Equal(t, "length", qe.Token)
	})
}

func TestBuildRejectsBrokenDefinitions(t *testing.T) {
	cases := []struct {
		name string
		def  TypeDef
	}{
		{
			name: "unknown association target",
			def: TypeDef{Name: "a", Properties: []PropertyDef{
				{Name: "b", Kind: domain.KindToOne, Target: "missing"},
			}},
		},
		{
			name: "default order on unsortable property",
			def: TypeDef{
				Name:         "a",
				Properties:   []PropertyDef{{Name: "code", ValueType: domain.TypeString}},
				DefaultOrder: []OrderSpec{{Property: "code", Direction: domain.SortDirectionAsc}},
			},
		},
		{
			name: "hierarchy without self parent",
			def: TypeDef{
				Name:       "a",
				Properties: []PropertyDef{{Name: "parent", ValueType: domain.TypeString}},
				Hierarchy:  &HierarchySpec{ParentProperty: "parent"},
			},
		},
		{
			name: "hierarchy children not a to-many",
			def: TypeDef{
				Name: "a",
				Properties: []PropertyDef{
					{Name: "parent", Kind: domain.KindToOne, Target: "a"},
					{Name: "children", Kind: domain.KindToOne, Target: "a"},
				},
				Hierarchy: &HierarchySpec{ParentProperty: "parent", ChildrenProperty: "children"},
			},
		},
		{
			name: "sortable to-many",
			def: TypeDef{Name: "a", Properties: []PropertyDef{
				{Name: "items", Kind: domain.KindToMany, Target: "a", Sortable: true},
			}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewBuilder().Add(tc.def).Build()
			assert.Error(t, err)
		})
	}
}

func TestTypedAccessors(t *testing.T) {
	reg, err := Catalog()
	require.NoError(t, err)
	ou, err := reg.Describe("organisationUnit")
	require.NoError(t, err)

	rec := domain.NewRecord("organisationUnit", "ou1")
	rec.Values["level"] = float64(3)
	rec.Values["openingDate"] = "2020-05-01"
	rec.Values["children"] = []any{"c1", "c2"}
	rec.Values["parent"] = "p1"

	level, _ := ou.Property("level")
	assert.Equal(t, int64(3), level.Get(rec))

	opening, _ := ou.Property("openingDate")
	assert.Equal(t, time.Date(2020, 5, 1, 0, 0, 0, 0, time.UTC), opening.Get(rec))

	children, _ := ou.Property("children")
	assert.Equal(t, []string{"c1", "c2"}, children.Get(rec))

	name, _ := ou.Property("name")
	assert.Nil(t, name.Get(rec))

	assert.Equal(t, "p1", ou.Parent(rec))
}

const testSDL = `
type OrgUnit @collection(name: "orgUnits") @hierarchy(parent: "parent", level: "level", children: "children") @display(fields: ["name"]) {
  id: ID! @filterable @sortable
  code: String @filterable @sortable
  name: String @filterable @sortable
  level: Int @filterable @sortable
  parent: OrgUnit @filterable
  children: [OrgUnit!]
  label: String @computed(expr: "code || name") @filterable
}

type Person @defaultOrder(by: ["code:asc", "name:desc"]) {
  code: String @sortable
  name: String @sortable
  unit: OrgUnit
}

type Query {
  ignored: String
}
`

func TestLoadSDL(t *testing.T) {
	reg, err := LoadSDL("test.graphql", testSDL)
	require.NoError(t, err)
	assert.Equal(t, []string{"orgUnit", "person"}, reg.Names())

	unit, err := reg.Describe("orgUnit")
	require.NoError(t, err)
	assert.Equal(t, "orgUnits", unit.Collection)
	require.NotNil(t, unit.Hierarchy)
	assert.Equal(t, "level", unit.Hierarchy.LevelProperty)
	derived, ok := unit.ChildrenProperty()
	require.True(t, ok)
	assert.Equal(t, "children", derived.Name)

	label, ok := unit.Property("label")
	require.True(t, ok)
	assert.Equal(t, domain.KindComputed, label.Kind)
	assert.Equal(t, "code || name", label.Expression)

	children, _ := unit.Property("children")
	assert.Equal(t, domain.KindToMany, children.Kind)
	assert.Same(t, unit, children.Target)

	person, err := reg.Describe("person")
	require.NoError(t, err)
	assert.Equal(t, "persons", person.Collection)
	assert.Equal(t, []OrderSpec{
		{Property: "code", Direction: domain.SortDirectionAsc},
		{Property: "name", Direction: domain.SortDirectionDesc},
	}, person.DefaultOrder)
}

func TestLoadSDLRejectsScalarLists(t *testing.T) {
	_, err := LoadSDL("bad.graphql", `type A { tags: [String] }`)
	assert.Error(t, err)
}
