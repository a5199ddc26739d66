package middleware

import (
	"net/http"
	"time"

	"github.com/rpattn/gist/internal/entityloader"
	"github.com/rpattn/gist/internal/repository"
)

// DataLoader attaches a fresh batching entity loader to each request context.
func DataLoader(store repository.EntityStore, wait time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := entityloader.NewEntityLoader(store, wait)
			next.ServeHTTP(w, r.WithContext(entityloader.NewContext(r.Context(), loader)))
		})
	}
}
