package repository

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/query"
	"github.com/rpattn/gist/internal/registry"
)

func catalog(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Catalog()
	require.NoError(t, err)
	return reg
}

func record(entityType, id string, values map[string]any) domain.Record {
	rec := domain.NewRecord(entityType, id)
	for k, v := range values {
		rec.Values[k] = v
	}
	return rec
}

func listQuery(t *testing.T, reg *registry.Registry, entityType string, params url.Values) ListQuery {
	t.Helper()
	spec, err := query.Parse(reg, entityType, params, query.DefaultOptions())
	require.NoError(t, err)
	return ListQuery{
		Type:     spec.Type,
		Filters:  spec.Filters,
		Junction: spec.Junction,
		Orders:   spec.Orders,
		Offset:   spec.Offset(),
		Limit:    spec.PageSize,
	}
}

func recordIDs(records []domain.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestMemoryStore_PutMaterializesDerivedValues(t *testing.T) {
	reg := catalog(t)
	store := NewMemoryStore(reg)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, record("organisationUnit", "L1", map[string]any{"name": "Country"})))
	require.NoError(t, store.Put(ctx, record("organisationUnit", "L2", map[string]any{"name": "Region", "parent": "L1"})))
	require.NoError(t, store.Put(ctx, record("user", "u1", map[string]any{"firstName": "Mike", "surname": "Tango", "created": "2020-01-02"})))

	units, err := store.GetByIDs(ctx, "organisationUnit", []string{"L2", "L1"})
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "/L1/L2", units[0].Values["path"])
	assert.Equal(t, int64(2), units[0].Values["level"])
	assert.Equal(t, "Region", units[0].Values["displayName"])
	assert.Equal(t, int64(1), units[1].Values["level"])

	users, err := store.GetByIDs(ctx, "user", []string{"u1"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Mike Tango", users[0].Values["name"])
	_, isString := users[0].Values["created"].(string)
	assert.False(t, isString, "datetime values are stored canonically")
}

func TestMemoryStore_PutReplacesInPlace(t *testing.T) {
	reg := catalog(t)
	store := NewMemoryStore(reg)
	ctx := context.Background()

	for _, id := range []string{"g1", "g2", "g3"} {
		require.NoError(t, store.Put(ctx, record("userGroup", id, map[string]any{"name": id})))
	}
	require.NoError(t, store.Put(ctx, record("userGroup", "g1", map[string]any{"name": "renamed"})))

	forest, err := store.Forest(ctx, mustDescribe(t, reg, "userGroup"))
	require.NoError(t, err)
	assert.Equal(t, []string{"g1", "g2", "g3"}, recordIDs(forest))
	assert.Equal(t, "renamed", forest[0].Values["name"])
}

func TestMemoryStore_PutDerivesChildren(t *testing.T) {
	reg := catalog(t)
	store := NewMemoryStore(reg)
	ctx := context.Background()

	children := func(id string) any {
		t.Helper()
		found, err := store.GetByIDs(ctx, "organisationUnit", []string{id})
		require.NoError(t, err)
		require.Len(t, found, 1)
		return found[0].Values["children"]
	}

	require.NoError(t, store.Put(ctx, record("organisationUnit", "A", map[string]any{"parent": "R"})))
	require.NoError(t, store.Put(ctx, record("organisationUnit", "R", map[string]any{"children": []string{"bogus"}})))
	require.NoError(t, store.Put(ctx, record("organisationUnit", "B", map[string]any{"parent": "R"})))
	require.NoError(t, store.Put(ctx, record("organisationUnit", "S", nil)))

	assert.Equal(t, []string{"A", "B"}, children("R"))
	assert.Equal(t, []string{}, children("A"))
	assert.Equal(t, []string{}, children("S"))

	require.NoError(t, store.Put(ctx, record("organisationUnit", "A", map[string]any{"parent": "S"})))
	assert.Equal(t, []string{"B"}, children("R"))
	assert.Equal(t, []string{"A"}, children("S"))

	matched, err := store.List(ctx, listQuery(t, reg, "organisationUnit", url.Values{"filter": {"children:empty"}}))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, recordIDs(matched))
}

func TestMemoryStore_PutRejectsInvalidRecords(t *testing.T) {
	store := NewMemoryStore(catalog(t))
	ctx := context.Background()

	assert.Error(t, store.Put(ctx, record("unknown", "x", nil)))
	assert.Error(t, store.Put(ctx, record("user", "", nil)))
}

func TestMemoryStore_ListAndCount(t *testing.T) {
	reg := catalog(t)
	store := NewMemoryStore(reg)
	ctx := context.Background()

	people := []struct{ id, first, surname string }{
		{"u1", "Paul", "Zulu"},
		{"u2", "Mike", "Tango"},
		{"u3", "Anna", "Alpha"},
		{"u4", "Bob", "Tango"},
	}
	for _, p := range people {
		require.NoError(t, store.Put(ctx, record("user", p.id, map[string]any{"firstName": p.first, "surname": p.surname})))
	}

	tests := []struct {
		name     string
		params   url.Values
		expected []string
		total    int
	}{
		{name: "insertion order", params: url.Values{}, expected: []string{"u1", "u2", "u3", "u4"}, total: 4},
		{name: "ordered", params: url.Values{"order": {"surname,firstName"}}, expected: []string{"u3", "u4", "u2", "u1"}, total: 4},
		{name: "filtered", params: url.Values{"filter": {"surname:eq:Tango"}}, expected: []string{"u2", "u4"}, total: 2},
		{name: "second page", params: url.Values{"order": {"firstName"}, "pageSize": {"3"}, "page": {"2"}}, expected: []string{"u1"}, total: 4},
		{name: "past the end", params: url.Values{"pageSize": {"3"}, "page": {"5"}}, expected: []string{}, total: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := listQuery(t, reg, "user", tt.params)
			out, err := store.List(ctx, q)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, recordIDs(out))

			total, err := store.Count(ctx, q)
			require.NoError(t, err)
			assert.Equal(t, tt.total, total)
		})
	}
}

func TestMemoryStore_HonoursCancellation(t *testing.T) {
	reg := catalog(t)
	store := NewMemoryStore(reg)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.GetByIDs(ctx, "user", []string{"u1"})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = store.Forest(ctx, mustDescribe(t, reg, "organisationUnit"))
	assert.ErrorIs(t, err, context.Canceled)
}

func mustDescribe(t *testing.T, reg *registry.Registry, name string) *registry.EntityType {
	t.Helper()
	et, err := reg.Describe(name)
	require.NoError(t, err)
	return et
}
