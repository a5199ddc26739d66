package gist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/export"
	"github.com/rpattn/gist/internal/repository"
)

// Handler exposes the engine over HTTP.
type Handler struct {
	engine *Engine
	logger *zap.Logger
}

// NewHTTPHandler wraps engine with the gist routes.
func NewHTTPHandler(engine *Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, logger: logger}
}

// Routes mounts the query endpoints on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{type}/gist", h.list)
	r.Get("/{type}/gist.csv", h.download(export.FormatCSV))
	r.Get("/{type}/gist.xlsx", h.download(export.FormatXLSX))
	r.Get("/{type}/{id}/gist", h.object)
	r.Get("/{type}/{id}/{property}/gist", h.property)
	return r
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	env, err := h.engine.Query(r.Context(), chi.URLParam(r, "type"), r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, env)
}

func (h *Handler) download(format export.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		typeName := chi.URLParam(r, "type")
		env, err := h.engine.Query(r.Context(), typeName, r.URL.Query())
		if err != nil {
			h.writeError(w, err)
			return
		}

		table := export.Table{Name: env.Collection, Headers: env.Keys, Rows: make([][]any, len(env.Items))}
		for i, doc := range env.Items {
			table.Rows[i] = doc.Values
		}

		w.Header().Set("Content-Type", format.ContentType())
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(typeName, format)))
		if err := export.Write(w, format, table); err != nil {
			h.logger.Error("failed to write export", zap.String("type", typeName), zap.Error(err))
		}
	}
}

func (h *Handler) object(w http.ResponseWriter, r *http.Request) {
	doc, err := h.engine.Object(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"), r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) property(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.Property(r.Context(), chi.URLParam(r, "type"), chi.URLParam(r, "id"),
		chi.URLParam(r, "property"), r.URL.Query())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type errorResponse struct {
	HTTPStatus     string `json:"httpStatus"`
	HTTPStatusCode int    `json:"httpStatusCode"`
	Status         string `json:"status"`
	ErrorKind      string `json:"errorKind"`
	Message        string `json:"message"`
}

// writeError maps an engine error to its status code and error body.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status, kind, message := classify(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{
		HTTPStatus:     http.StatusText(status),
		HTTPStatusCode: status,
		Status:         "ERROR",
		ErrorKind:      kind,
		Message:        message,
	})
}

func classify(err error) (int, string, string) {
	var qe *domain.QueryError
	switch {
	case errors.As(err, &qe):
		switch qe.Kind {
		case domain.ErrUnknownEntityType, domain.ErrAnchorNotFound:
			return http.StatusNotFound, string(qe.Kind), qe.Message
		default:
			return http.StatusBadRequest, string(qe.Kind), qe.Message
		}
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "NotFound", err.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "Canceled", "request canceled before the query completed"
	default:
		return http.StatusInternalServerError, "Internal", ErrInternal.Error()
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(payload)
}
