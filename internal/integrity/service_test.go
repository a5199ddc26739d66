package integrity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/registry"
	"github.com/rpattn/gist/internal/repository"
)

type forestStub struct {
	forest []domain.Record
	err    error
	block  chan struct{}
}

func (s *forestStub) Forest(ctx context.Context, _ *registry.EntityType) ([]domain.Record, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.forest, s.err
}

type jobRecorder struct {
	mu  sync.Mutex
	got []string
}

func (r *jobRecorder) ObserveJob(entityType, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, entityType+"/"+status)
}

func (r *jobRecorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestService_CompletesJob(t *testing.T) {
	reg, _ := orgUnitType(t)
	store := &forestStub{forest: []domain.Record{
		node("A", "", 1, "/A"),
		node("B", "A", 5, "/A/B"),
	}}
	rec := &jobRecorder{}
	svc := NewService(reg, store, repository.NewMemoryJobStore(), WithRecorder(rec))

	job, err := svc.Start(context.Background(), "organisationUnit")
	require.NoError(t, err)
	assert.Equal(t, domain.IntegrityJobStatusPending, job.Status)

	job, err = svc.Wait(context.Background(), job.ID, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, domain.IntegrityJobStatusCompleted, job.Status)
	require.NotNil(t, job.Report)
	assert.Equal(t, []domain.LevelMismatch{{ID: "B", Stored: 5, Expected: 2}}, job.Report.LevelMismatches)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)
	assert.Equal(t, []string{"organisationUnit/COMPLETED"}, rec.seen())
}

func TestService_FailsJobOnStoreError(t *testing.T) {
	reg, _ := orgUnitType(t)
	svc := NewService(reg, &forestStub{err: errors.New("connection reset")}, repository.NewMemoryJobStore())

	job, err := svc.Start(context.Background(), "organisationUnit")
	require.NoError(t, err)
	job, err = svc.Wait(context.Background(), job.ID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.IntegrityJobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "connection reset")
}

func TestService_TimesOutJob(t *testing.T) {
	reg, _ := orgUnitType(t)
	store := &forestStub{block: make(chan struct{})}
	svc := NewService(reg, store, repository.NewMemoryJobStore(), WithJobTimeout(20*time.Millisecond))

	job, err := svc.Start(context.Background(), "organisationUnit")
	require.NoError(t, err)
	job, err = svc.Wait(context.Background(), job.ID, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, domain.IntegrityJobStatusFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, context.DeadlineExceeded.Error())
}

func TestService_Cancel(t *testing.T) {
	reg, _ := orgUnitType(t)
	store := &forestStub{block: make(chan struct{})}
	rec := &jobRecorder{}
	svc := NewService(reg, store, repository.NewMemoryJobStore(), WithRecorder(rec))

	job, err := svc.Start(context.Background(), "organisationUnit")
	require.NoError(t, err)
	job, err = svc.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IntegrityJobStatusCancelled, job.Status)

	// A later outcome does not overwrite the cancellation.
	close(store.block)
	job, err = svc.Wait(context.Background(), job.ID, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, domain.IntegrityJobStatusCancelled, job.Status)
	assert.Equal(t, []string{"organisationUnit/CANCELLED"}, rec.seen())
}

func TestService_RejectsFlatAndUnknownTypes(t *testing.T) {
	reg, _ := orgUnitType(t)
	svc := NewService(reg, &forestStub{}, repository.NewMemoryJobStore())

	_, err := svc.Start(context.Background(), "user")
	assert.ErrorIs(t, err, ErrNotHierarchical)

	_, err = svc.Start(context.Background(), "nope")
	assert.True(t, domain.IsQueryError(err, domain.ErrUnknownEntityType))
}

func TestHandler_StartAndPoll(t *testing.T) {
	reg, _ := orgUnitType(t)
	svc := NewService(reg, &forestStub{forest: []domain.Record{node("A", "", 1, "/A")}}, repository.NewMemoryJobStore())
	r := chi.NewRouter()
	r.Mount("/api/integrity", NewHTTPHandler(svc).Routes())
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/integrity/organisationUnit?timeout=2s", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var job domain.IntegrityJob
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	assert.Equal(t, domain.IntegrityJobStatusCompleted, job.Status)
	require.NotNil(t, job.Report)
	assert.True(t, job.Report.Clean())

	poll, err := http.Get(srv.URL + "/api/integrity/jobs/" + job.ID.String())
	require.NoError(t, err)
	defer poll.Body.Close()
	assert.Equal(t, http.StatusOK, poll.StatusCode)

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodPost, "/api/integrity/user", http.StatusBadRequest},
		{http.MethodPost, "/api/integrity/nope", http.StatusNotFound},
		{http.MethodPost, "/api/integrity/organisationUnit?timeout=soon", http.StatusBadRequest},
		{http.MethodGet, "/api/integrity/jobs/not-a-uuid", http.StatusBadRequest},
		{http.MethodGet, "/api/integrity/jobs/6f1c1f5e-8a0e-4d44-9a43-3f9b7f0e2a10", http.StatusNotFound},
	}
	for _, tt := range tests {
		req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
		require.NoError(t, err)
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		res.Body.Close()
		assert.Equal(t, tt.status, res.StatusCode, "%s %s", tt.method, tt.path)
	}
}
