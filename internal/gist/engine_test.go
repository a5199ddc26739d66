package gist

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/gist/internal/auth"
	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/entityloader"
	"github.com/rpattn/gist/internal/registry"
	"github.com/rpattn/gist/internal/repository"
)

func put(t *testing.T, store repository.EntityWriter, entityType, id string, values map[string]any) {
	t.Helper()
	rec := domain.NewRecord(entityType, id)
	for k, v := range values {
		rec.Values[k] = v
	}
	require.NoError(t, store.Put(context.Background(), rec))
}

// seed stores the forest L1 -> L2 -> {L3a -> L4a, L3b -> L4b} plus a few users.
func seed(t *testing.T) (*registry.Registry, *repository.MemoryStore) {
	t.Helper()
	reg, err := registry.Catalog()
	require.NoError(t, err)
	store := repository.NewMemoryStore(reg)

	put(t, store, "organisationUnit", "L1", map[string]any{"name": "Country"})
	put(t, store, "organisationUnit", "L2", map[string]any{"name": "Region", "parent": "L1"})
	put(t, store, "organisationUnit", "L3a", map[string]any{"name": "District A", "parent": "L2"})
	put(t, store, "organisationUnit", "L4a", map[string]any{"name": "Facility A", "parent": "L3a"})
	put(t, store, "organisationUnit", "L3b", map[string]any{"name": "District B", "parent": "L2"})
	put(t, store, "organisationUnit", "L4b", map[string]any{"name": "Facility B", "parent": "L3b"})

	put(t, store, "userGroup", "g1", map[string]any{"name": "Admins"})
	put(t, store, "userGroup", "g2", map[string]any{"name": "Clerks"})
	put(t, store, "user", "u1", map[string]any{"code": "admin", "firstName": "Ada", "surname": "Admin", "userGroups": []string{"g1"}})
	put(t, store, "user", "u2", map[string]any{"code": "mike", "firstName": "Mike", "surname": "Tango", "manager": "u1", "userGroups": []string{"g2", "g1"}})
	put(t, store, "user", "u3", map[string]any{"code": "paul", "firstName": "Paul", "surname": "Zulu", "manager": "u2"})
	return reg, store
}

func ids(t *testing.T, env *Envelope) []string {
	t.Helper()
	out := make([]string, 0, len(env.Items))
	for _, doc := range env.Items {
		id, ok := doc.Get("id")
		require.True(t, ok, "document carries no id")
		out = append(out, id.(string))
	}
	return out
}

func TestEngine_OfflineIsPreOrder(t *testing.T) {
	reg, store := seed(t)
	engine := NewEngine(reg, store)

	env, err := engine.Query(context.Background(), "organisationUnit", url.Values{"orgUnitsOffline": {"true"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"L1", "L2", "L3a", "L4a", "L3b", "L4b"}, ids(t, env))
	assert.Nil(t, env.Pager)
}

func TestEngine_OfflinePostFilterKeepsOrder(t *testing.T) {
	reg, store := seed(t)
	engine := NewEngine(reg, store)

	env, err := engine.Query(context.Background(), "organisationUnit", url.Values{
		"orgUnitsOffline": {"true"},
		"filter":          {"level:le:3"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"L1", "L2", "L3a", "L3b"}, ids(t, env))
}

func TestEngine_OfflineHonoursScopeAndLevels(t *testing.T) {
	reg, store := seed(t)

	ctx := auth.ContextWithHierarchyRoots(context.Background(), []string{"L3b"})
	env, err := NewEngine(reg, store).Query(ctx, "organisationUnit", url.Values{"orgUnitsOffline": {""}})
	require.NoError(t, err)
	assert.Equal(t, []string{"L3b", "L4b"}, ids(t, env))

	env, err = NewEngine(reg, store, WithOfflineLevels(2)).Query(context.Background(), "organisationUnit", url.Values{"orgUnitsOffline": {"true"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"L1", "L2"}, ids(t, env))
}

func TestEngine_TreeReturnsAncestorChain(t *testing.T) {
	reg, store := seed(t)
	engine := NewEngine(reg, store)

	tests := []struct {
		anchor   string
		expected []string
	}{
		{anchor: "L4a", expected: []string{"L1", "L2", "L3a", "L4a"}},
		{anchor: "L3b", expected: []string{"L1", "L2", "L3b"}},
		{anchor: "L1", expected: []string{"L1"}},
	}
	for _, tt := range tests {
		t.Run(tt.anchor, func(t *testing.T) {
			env, err := engine.Query(context.Background(), "organisationUnit", url.Values{
				"orgUnitsTree": {"true"},
				"filter":       {"id:eq:" + tt.anchor},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ids(t, env))
		})
	}
}

func TestEngine_TreeAnchorNotFound(t *testing.T) {
	reg, store := seed(t)
	engine := NewEngine(reg, store)
	params := url.Values{"orgUnitsTree": {"true"}, "filter": {"id:eq:nowhere"}}

	_, err := engine.Query(context.Background(), "organisationUnit", params)
	assert.True(t, domain.IsQueryError(err, domain.ErrAnchorNotFound), "got %v", err)

	ctx := auth.ContextWithHierarchyRoots(context.Background(), []string{"L3b"})
	params.Set("filter", "id:eq:L4a")
	_, err = engine.Query(ctx, "organisationUnit", params)
	assert.True(t, domain.IsQueryError(err, domain.ErrAnchorNotFound), "got %v", err)
}

func TestEngine_EmptyScopeHidesForest(t *testing.T) {
	reg, store := seed(t)
	engine := NewEngine(reg, store)
	ctx := auth.ContextWithHierarchyRoots(context.Background(), []string{" "})

	env, err := engine.Query(ctx, "organisationUnit", url.Values{"orgUnitsOffline": {"true"}})
	require.NoError(t, err)
	assert.Empty(t, ids(t, env))

	_, err = engine.Query(ctx, "organisationUnit", url.Values{"orgUnitsTree": {"true"}, "filter": {"id:eq:L4a"}})
	assert.True(t, domain.IsQueryError(err, domain.ErrAnchorNotFound), "got %v", err)
}

func TestEngine_TreeDetectsCycles(t *testing.T) {
	reg, store := seed(t)
	put(t, store, "organisationUnit", "C1", map[string]any{"parent": "C2"})
	put(t, store, "organisationUnit", "C2", map[string]any{"parent": "C1"})

	_, err := NewEngine(reg, store).Query(context.Background(), "organisationUnit", url.Values{
		"orgUnitsTree": {"true"},
		"filter":       {"id:eq:C1"},
	})
	assert.ErrorIs(t, err, ErrInternal)
}

func TestEngine_DefaultOrder(t *testing.T) {
	reg, err := registry.NewBuilder().Add(registry.TypeDef{
		Name: "category",
		Properties: []registry.PropertyDef{
			{Name: "code", ValueType: domain.TypeString, Filterable: true, Sortable: true},
		},
		DisplayFields: []string{"code"},
		DefaultOrder:  []registry.OrderSpec{{Property: "code", Direction: domain.SortDirectionAsc}},
	}).Build()
	require.NoError(t, err)
	store := repository.NewMemoryStore(reg)
	for _, code := range []string{"c", "a", "b"} {
		put(t, store, "category", "id-"+code, map[string]any{"code": code})
	}

	env, err := NewEngine(reg, store).Query(context.Background(), "category", url.Values{"fields": {"code"}})
	require.NoError(t, err)
	var codes []string
	for _, doc := range env.Items {
		v, _ := doc.Get("code")
		codes = append(codes, v.(string))
	}
	assert.Equal(t, []string{"a", "b", "c"}, codes)

	env, err = NewEngine(reg, store).Query(context.Background(), "category", url.Values{"fields": {"code"}, "order": {"code:desc"}})
	require.NoError(t, err)
	v, _ := env.Items[0].Get("code")
	assert.Equal(t, "c", v)
}

func TestEngine_ComputedPropertyFilter(t *testing.T) {
	reg, store := seed(t)

	env, err := NewEngine(reg, store).Query(context.Background(), "user", url.Values{"filter": {"name:like:ike Tan"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, ids(t, env))
	name, _ := env.Items[0].Get("name")
	assert.Equal(t, "Mike Tango", name)
}

func TestEngine_HeadlessMatchesCollection(t *testing.T) {
	reg, store := seed(t)
	engine := NewEngine(reg, store)
	params := url.Values{"fields": {"id,surname"}, "order": {"surname"}}

	wrapped, err := engine.Query(context.Background(), "user", params)
	require.NoError(t, err)
	params.Set("headless", "true")
	bare, err := engine.Query(context.Background(), "user", params)
	require.NoError(t, err)

	wrappedJSON, err := json.Marshal(wrapped)
	require.NoError(t, err)
	bareJSON, err := json.Marshal(bare)
	require.NoError(t, err)

	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(wrappedJSON, &envelope))
	assert.Contains(t, envelope, "pager")
	assert.JSONEq(t, string(envelope["users"]), string(bareJSON))
}

func TestEngine_PagerAndWindow(t *testing.T) {
	reg, store := seed(t)

	env, err := NewEngine(reg, store).Query(context.Background(), "user", url.Values{"pageSize": {"2"}, "page": {"2"}})
	require.NoError(t, err)
	require.NotNil(t, env.Pager)
	assert.Equal(t, Pager{Page: 2, PageSize: 2, Total: 3, PageCount: 2}, *env.Pager)
	// Default order is surname, firstName: Admin, Tango, Zulu.
	assert.Equal(t, []string{"u3"}, ids(t, env))

	out, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pager":{"page":2,"pageSize":2,"total":3,"pageCount":2},"users":[{"id":"u3","code":"paul","name":"Paul Zulu"}]}`, string(out))
}

func TestEngine_ProjectsRequestedFieldsOnly(t *testing.T) {
	reg, store := seed(t)
	engine := NewEngine(reg, store)

	tests := []struct {
		name     string
		fields   string
		expected string
	}{
		{name: "single simple", fields: "surname", expected: `[{"surname":"Tango"}]`},
		{name: "to-one leaf", fields: "manager.surname", expected: `[{"surname":"Admin"}]`},
		{name: "to-many leaf", fields: "userGroups.name", expected: `[{"name":["Clerks","Admins"]}]`},
		{name: "reference id", fields: "manager", expected: `[{"manager":"u1"}]`},
		{name: "ids transform", fields: "userGroups::ids", expected: `[{"userGroups":["g2","g1"]}]`},
		{name: "size transform", fields: "userGroups::size", expected: `[{"userGroups":2}]`},
		{name: "shared leaf uses full path", fields: "name,manager.name", expected: `[{"name":"Mike Tango","manager.name":"Ada Admin"}]`},
		{name: "two hops", fields: "manager.userGroups.name", expected: `[{"name":["Admins"]}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := engine.Query(context.Background(), "user", url.Values{
				"fields":   {tt.fields},
				"filter":   {"id:eq:u2"},
				"headless": {"true"},
			})
			require.NoError(t, err)
			out, err := json.Marshal(env)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(out))
		})
	}
}

func TestEngine_ChildrenFollowParentLinks(t *testing.T) {
	reg, store := seed(t)
	engine := NewEngine(reg, store)

	env, err := engine.Query(context.Background(), "organisationUnit", url.Values{
		"fields":   {"id,children::size"},
		"headless": {"true"},
	})
	require.NoError(t, err)
	out, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"id":"L1","children":1},
		{"id":"L2","children":2},
		{"id":"L3a","children":1},
		{"id":"L4a","children":0},
		{"id":"L3b","children":1},
		{"id":"L4b","children":0}
	]`, string(out))

	env, err = engine.Query(context.Background(), "organisationUnit", url.Values{"filter": {"children:empty"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"L4a", "L4b"}, ids(t, env))

	env, err = engine.Query(context.Background(), "organisationUnit", url.Values{"filter": {"children.name:like:District"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"L2"}, ids(t, env))

	v, err := engine.Property(context.Background(), "organisationUnit", "L2", "children", url.Values{"fields": {"id"}, "headless": {"true"}})
	require.NoError(t, err)
	out, err = json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"L3a"},{"id":"L3b"}]`, string(out))
}

func TestEngine_MissingReferenceProjectsNull(t *testing.T) {
	reg, store := seed(t)
	put(t, store, "user", "u9", map[string]any{"surname": "Lost", "manager": "ghost"})

	env, err := NewEngine(reg, store).Query(context.Background(), "user", url.Values{
		"fields": {"manager.surname"},
		"filter": {"id:eq:u9"},
	})
	require.NoError(t, err)
	require.Len(t, env.Items, 1)
	v, ok := env.Items[0].Get("surname")
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestEngine_ValidationFailsBeforeStorage(t *testing.T) {
	reg, _ := seed(t)
	store := &failingStore{err: errors.New("should not be reached")}
	engine := NewEngine(reg, store)

	_, err := engine.Query(context.Background(), "user", url.Values{"fields": {"nope"}})
	assert.True(t, domain.IsQueryError(err, domain.ErrInvalidField))
	_, err = engine.Query(context.Background(), "nothing", url.Values{})
	assert.True(t, domain.IsQueryError(err, domain.ErrUnknownEntityType))
	_, err = engine.Query(context.Background(), "user", url.Values{"page": {"9223372036854775807"}, "pageSize": {"2"}})
	assert.True(t, domain.IsQueryError(err, domain.ErrInvalidPagination), "got %v", err)
	assert.Zero(t, store.calls)
}

func TestEngine_SanitizesStorageErrors(t *testing.T) {
	reg, _ := seed(t)
	store := &failingStore{err: errors.New("pq: relation gist_entities does not exist")}
	recorder := &recordingRecorder{}
	engine := NewEngine(reg, store, WithRecorder(recorder))

	_, err := engine.Query(context.Background(), "user", url.Values{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
	assert.NotContains(t, err.Error(), "gist_entities")
	assert.Equal(t, []string{"user/none/internal"}, recorder.seen())
}

func TestEngine_HonoursCancellation(t *testing.T) {
	reg, store := seed(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(reg, store).Query(ctx, "organisationUnit", url.Values{"orgUnitsOffline": {"true"}})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = NewEngine(reg, store).Query(ctx, "user", url.Values{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_Object(t *testing.T) {
	reg, store := seed(t)
	engine := NewEngine(reg, store)

	doc, err := engine.Object(context.Background(), "user", "u2", url.Values{"fields": {"code,manager.code"}, "page": {"7"}})
	require.NoError(t, err)
	out, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"mike","manager.code":"admin"}`, string(out))

	_, err = engine.Object(context.Background(), "user", "missing", nil)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestEngine_Property(t *testing.T) {
	reg, store := seed(t)
	engine := NewEngine(reg, store)
	ctx := context.Background()

	v, err := engine.Property(ctx, "user", "u2", "surname", nil)
	require.NoError(t, err)
	assert.Equal(t, "Tango", v)

	v, err = engine.Property(ctx, "user", "u2", "manager", nil)
	require.NoError(t, err)
	assert.Equal(t, "u1", v)

	v, err = engine.Property(ctx, "user", "u2", "userGroups", url.Values{"fields": {"name"}})
	require.NoError(t, err)
	env, ok := v.(*Envelope)
	require.True(t, ok)
	out, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{"pager":{"page":1,"pageSize":50,"total":2,"pageCount":1},"userGroups":[{"name":"Admins"},{"name":"Clerks"}]}`, string(out))

	v, err = engine.Property(ctx, "user", "u3", "userGroups", url.Values{"headless": {"true"}})
	require.NoError(t, err)
	out, err = json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(out))

	_, err = engine.Property(ctx, "user", "u2", "nothing", nil)
	assert.True(t, domain.IsQueryError(err, domain.ErrInvalidField))
	_, err = engine.Property(ctx, "user", "missing", "surname", nil)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestEngine_UsesRequestLoader(t *testing.T) {
	reg, store := seed(t)
	counting := &countingReader{Reader: store}
	loader := entityloader.NewEntityLoader(counting, time.Millisecond)
	ctx := entityloader.NewContext(context.Background(), loader)

	_, err := NewEngine(reg, counting).Query(ctx, "user", url.Values{"fields": {"manager.code,manager.surname"}})
	require.NoError(t, err)
	// Both fields hop through manager; the second hop is served from the loader cache.
	assert.Equal(t, 1, counting.lookups())
}

type failingStore struct {
	err   error
	calls int
}

func (s *failingStore) List(context.Context, repository.ListQuery) ([]domain.Record, error) {
	s.calls++
	return nil, s.err
}

func (s *failingStore) Count(context.Context, repository.ListQuery) (int, error) {
	s.calls++
	return 0, s.err
}

func (s *failingStore) GetByIDs(context.Context, string, []string) ([]domain.Record, error) {
	s.calls++
	return nil, s.err
}

func (s *failingStore) Forest(context.Context, *registry.EntityType) ([]domain.Record, error) {
	s.calls++
	return nil, s.err
}

type countingReader struct {
	repository.Reader
	mu    sync.Mutex
	count int
}

func (c *countingReader) GetByIDs(ctx context.Context, entityType string, ids []string) ([]domain.Record, error) {
	c.mu.Lock()
	c.count++
	c.mu.Unlock()
	return c.Reader.GetByIDs(ctx, entityType, ids)
}

func (c *countingReader) lookups() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

type recordingRecorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *recordingRecorder) ObserveQuery(entityType, mode, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entityType+"/"+mode+"/"+outcome)
}

func (r *recordingRecorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entries...)
}
