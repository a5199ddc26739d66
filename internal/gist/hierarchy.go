package gist

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rpattn/gist/internal/auth"
	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/filter"
	"github.com/rpattn/gist/internal/registry"
)

// offline enumerates the forest below the selected roots in depth-first
// pre-order. Siblings keep the order the store returns them in.
func (e *Engine) offline(ctx context.Context, t *registry.EntityType) ([]domain.Record, error) {
	ctx, span := e.tracer.Start(ctx, "gist.hierarchy.offline",
		trace.WithAttributes(attribute.String("gist.type", t.Name)))
	defer span.End()

	forest, err := e.store.Forest(ctx, t)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]domain.Record, len(forest))
	children := make(map[string][]string)
	var parentless []string
	for _, node := range forest {
		byID[node.ID] = node
		if parent := t.Parent(node); parent != "" {
			children[parent] = append(children[parent], node.ID)
		} else {
			parentless = append(parentless, node.ID)
		}
	}

	roots := parentless
	if scoped, ok := auth.HierarchyRootsFromContext(ctx); ok {
		roots = make([]string, 0, len(scoped))
		for _, id := range scoped {
			if _, exists := byID[id]; exists {
				roots = append(roots, id)
			}
		}
	}

	type frame struct {
		id    string
		depth int
	}
	out := make([]domain.Record, 0, len(forest))
	visited := make(map[string]struct{}, len(forest))
	for _, root := range roots {
		stack := []frame{{id: root, depth: 1}}
		for len(stack) > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, done := visited[top.id]; done {
				continue
			}
			visited[top.id] = struct{}{}
			out = append(out, byID[top.id])

			if e.offlineLevels > 0 && top.depth >= e.offlineLevels {
				continue
			}
			kids := children[top.id]
			for i := len(kids) - 1; i >= 0; i-- {
				stack = append(stack, frame{id: kids[i], depth: top.depth + 1})
			}
		}
	}
	span.SetAttributes(attribute.Int("gist.nodes", len(out)))
	return out, nil
}

// tree returns the ancestor chain of anchorID from its top-level root down to
// the anchor itself.
func (e *Engine) tree(ctx context.Context, t *registry.EntityType, anchorID string, lookup filter.Lookup) ([]domain.Record, error) {
	ctx, span := e.tracer.Start(ctx, "gist.hierarchy.tree",
		trace.WithAttributes(attribute.String("gist.type", t.Name), attribute.String("gist.anchor", anchorID)))
	defer span.End()

	var chain []domain.Record
	visited := make(map[string]struct{})
	for id := anchorID; id != ""; {
		if _, loop := visited[id]; loop {
			return nil, fmt.Errorf("failed to walk ancestors of %s: cycle at %s", anchorID, id)
		}
		visited[id] = struct{}{}

		found, err := lookup.Records(ctx, t.Name, []string{id})
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			if id == anchorID {
				return nil, anchorNotFound(anchorID)
			}
			return nil, fmt.Errorf("failed to walk ancestors of %s: parent %s does not exist", anchorID, id)
		}
		chain = append(chain, found[0])
		id = t.Parent(found[0])
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	ids := make([]string, len(chain))
	for i, node := range chain {
		ids[i] = node.ID
	}
	if !auth.InHierarchyScope(ctx, ids) {
		return nil, anchorNotFound(anchorID)
	}
	return chain, nil
}

func anchorNotFound(id string) error {
	return domain.NewQueryError(domain.ErrAnchorNotFound, id, "Anchor `%s` does not exist or is not accessible.", id)
}
