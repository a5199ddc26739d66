package middleware

import (
	"net/http"
	"strings"

	"github.com/rpattn/gist/internal/auth"
)

// HierarchyScope restricts hierarchy queries to the comma separated roots
// named in auth.HierarchyRootsHeader. Requests without the header are
// unrestricted; a header naming no root grants an empty scope.
func HierarchyScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := r.Header[http.CanonicalHeaderKey(auth.HierarchyRootsHeader)]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		var roots []string
		for _, value := range raw {
			roots = append(roots, strings.Split(value, ",")...)
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithHierarchyRoots(r.Context(), roots)))
	})
}
