package integrity

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/repository"
)

// maxWait caps the timeout a caller may ask a request to block for.
const maxWait = time.Minute

// Handler exposes integrity jobs over HTTP.
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the service with job endpoints.
func NewHTTPHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the job endpoints on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{type}", h.start)
	r.Get("/jobs/{id}", h.get)
	r.Delete("/jobs/{id}", h.cancel)
	return r
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	timeout, err := parseTimeout(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	job, err := h.service.Start(r.Context(), chi.URLParam(r, "type"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if timeout > 0 {
		if job, err = h.service.Wait(r.Context(), job.ID, timeout); err != nil {
			writeServiceError(w, err)
			return
		}
	}
	writeJSON(w, statusFor(job), job)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid job id: "+err.Error(), http.StatusBadRequest)
		return
	}
	timeout, err := parseTimeout(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	job, err := h.service.Wait(r.Context(), id, timeout)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, statusFor(job), job)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid job id: "+err.Error(), http.StatusBadRequest)
		return
	}
	job, err := h.service.Cancel(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// statusFor answers 202 while the job is still in flight.
func statusFor(job domain.IntegrityJob) int {
	if job.Status.Done() {
		return http.StatusOK
	}
	return http.StatusAccepted
}

func parseTimeout(r *http.Request) (time.Duration, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("timeout"))
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, errors.New("timeout must be a non-negative duration such as 5s")
	}
	if d > maxWait {
		d = maxWait
	}
	return d, nil
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case domain.IsQueryError(err, domain.ErrUnknownEntityType), errors.Is(err, repository.ErrJobNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrNotHierarchical):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(payload)
}
