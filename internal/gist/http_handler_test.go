package gist

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, engine *Engine) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Mount("/api", NewHTTPHandler(engine, zap.NewNop()).Routes())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestHandler_List(t *testing.T) {
	reg, store := seed(t)
	srv := newTestServer(t, NewEngine(reg, store))

	resp, body := get(t, srv.URL+"/api/user/gist?fields=id,name&filter=code:eq:mike")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"pager":{"page":1,"pageSize":50,"total":1,"pageCount":1},"users":[{"id":"u2","name":"Mike Tango"}]}`, string(body))
}

func TestHandler_ErrorStatus(t *testing.T) {
	reg, store := seed(t)
	srv := newTestServer(t, NewEngine(reg, store))

	tests := []struct {
		name   string
		path   string
		status int
		kind   string
	}{
		{name: "unknown type", path: "/api/nope/gist", status: http.StatusNotFound, kind: "UnknownEntityType"},
		{name: "invalid field", path: "/api/user/gist?fields=shoeSize", status: http.StatusBadRequest, kind: "InvalidField"},
		{name: "anchor", path: "/api/organisationUnit/gist?orgUnitsTree=true&filter=id:eq:nope", status: http.StatusNotFound, kind: "AnchorNotFound"},
		{name: "missing object", path: "/api/user/u9/gist", status: http.StatusNotFound, kind: "NotFound"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := get(t, srv.URL+tt.path)
			assert.Equal(t, tt.status, resp.StatusCode)

			var payload errorResponse
			require.NoError(t, json.Unmarshal(body, &payload))
			assert.Equal(t, "ERROR", payload.Status)
			assert.Equal(t, tt.status, payload.HTTPStatusCode)
			assert.Equal(t, http.StatusText(tt.status), payload.HTTPStatus)
			assert.Equal(t, tt.kind, payload.ErrorKind)
			assert.NotEmpty(t, payload.Message)
		})
	}
}

func TestHandler_InternalErrorIsSanitized(t *testing.T) {
	reg, _ := seed(t)
	srv := newTestServer(t, NewEngine(reg, &failingStore{err: errors.New("dial tcp 10.0.0.5:5432: connection refused")}))

	resp, body := get(t, srv.URL+"/api/user/gist")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var payload errorResponse
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "internal error while evaluating query", payload.Message)
	assert.NotContains(t, string(body), "connection refused")
}

func TestHandler_ObjectAndProperty(t *testing.T) {
	reg, store := seed(t)
	srv := newTestServer(t, NewEngine(reg, store))

	resp, body := get(t, srv.URL+"/api/user/u2/gist?fields=name,manager.name")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"name":"Mike Tango","manager.name":"Ada Admin"}`, string(body))

	resp, body = get(t, srv.URL+"/api/user/u2/userGroups/gist?fields=id,name&headless=true")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[{"id":"g1","name":"Admins"},{"id":"g2","name":"Clerks"}]`, string(body))

	resp, body = get(t, srv.URL+"/api/user/u2/code/gist")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `"mike"`, string(body))
}

func TestHandler_CSV(t *testing.T) {
	reg, store := seed(t)
	srv := newTestServer(t, NewEngine(reg, store))

	resp, body := get(t, srv.URL+"/api/user/gist.csv?fields=id,name,userGroups::ids")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename="user.csv"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, "id,name,userGroups\n"+
		"u1,Ada Admin,g1\n"+
		"u2,Mike Tango,\"g2,g1\"\n"+
		"u3,Paul Zulu,\n", string(body))
}

func TestHandler_XLSX(t *testing.T) {
	reg, store := seed(t)
	srv := newTestServer(t, NewEngine(reg, store))

	resp, body := get(t, srv.URL+"/api/user/gist.xlsx?fields=id,code")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f, err := excelize.OpenReader(bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows("users")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"id", "code"}, {"u1", "admin"}, {"u2", "mike"}, {"u3", "paul"}}, rows)
}
