package auth

import (
	"context"
	"strings"
)

type contextKey string

const hierarchyRootsKey contextKey = "hierarchyRoots"

// HierarchyRootsHeader carries the comma separated ids of the hierarchy nodes
// a caller may see, as set by the fronting gateway.
const HierarchyRootsHeader = "X-Gist-Hierarchy-Roots"

// ContextWithHierarchyRoots returns a new context that restricts hierarchy
// traversal to the subtrees below ids. Blank ids are dropped; when none is
// left the scope is empty and no node is visible.
func ContextWithHierarchyRoots(ctx context.Context, ids []string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	roots := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			roots = append(roots, id)
		}
	}
	return context.WithValue(ctx, hierarchyRootsKey, roots)
}

// HierarchyRootsFromContext retrieves the authorized hierarchy roots. ok is
// false when ctx carries no scope, which means the whole forest is visible.
// A present scope may be empty.
func HierarchyRootsFromContext(ctx context.Context) ([]string, bool) {
	if ctx == nil {
		return nil, false
	}
	roots, ok := ctx.Value(hierarchyRootsKey).([]string)
	if !ok {
		return nil, false
	}
	return roots, true
}

// InHierarchyScope reports whether a node whose root-to-node chain of ids is
// chain lies inside the authorized scope of ctx.
func InHierarchyScope(ctx context.Context, chain []string) bool {
	roots, ok := HierarchyRootsFromContext(ctx)
	if !ok {
		return true
	}
	allowed := make(map[string]struct{}, len(roots))
	for _, id := range roots {
		allowed[id] = struct{}{}
	}
	for _, id := range chain {
		if _, ok := allowed[id]; ok {
			return true
		}
	}
	return false
}
