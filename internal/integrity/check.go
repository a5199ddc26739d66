package integrity

import (
	"context"

	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/registry"
	"github.com/rpattn/gist/pkg/orgpath"
)

type nodeState int

const (
	stateUnknown nodeState = iota
	stateResolved
	stateBroken
)

// Check inspects one forest. Nodes on or below a cycle or an orphan are
// reported once at the defect and are not checked for level or path.
func Check(ctx context.Context, t *registry.EntityType, forest []domain.Record) (domain.IntegrityReport, error) {
	report := domain.IntegrityReport{
		Checked:         len(forest),
		Orphans:         []string{},
		Cycles:          [][]string{},
		LevelMismatches: []domain.LevelMismatch{},
		PathMismatches:  []domain.PathMismatch{},
	}

	byID := make(map[string]domain.Record, len(forest))
	for _, node := range forest {
		byID[node.ID] = node
	}

	state := make(map[string]nodeState, len(forest))
	depth := make(map[string]int, len(forest))
	path := make(map[string]string, len(forest))

	for _, node := range forest {
		if err := ctx.Err(); err != nil {
			return domain.IntegrityReport{}, err
		}
		if t.Parent(node) == "" {
			report.Roots++
		}
		if state[node.ID] != stateUnknown {
			continue
		}

		// Climb until a resolved node, a root, a missing parent or a loop.
		var walk []string
		onWalk := make(map[string]int)
		broken := false
		for id := node.ID; ; {
			if state[id] != stateUnknown {
				break
			}
			if at, loop := onWalk[id]; loop {
				report.Cycles = append(report.Cycles, append([]string(nil), walk[at:]...))
				broken = true
				break
			}
			rec, ok := byID[id]
			if !ok {
				report.Orphans = append(report.Orphans, walk[len(walk)-1])
				broken = true
				break
			}
			onWalk[id] = len(walk)
			walk = append(walk, id)
			if id = t.Parent(rec); id == "" {
				break
			}
		}
		if broken {
			for _, id := range walk {
				state[id] = stateBroken
			}
			continue
		}

		for i := len(walk) - 1; i >= 0; i-- {
			id := walk[i]
			parent := t.Parent(byID[id])
			switch {
			case parent == "":
				depth[id] = 1
				path[id] = orgpath.Join("", id)
				state[id] = stateResolved
			case state[parent] == stateResolved:
				depth[id] = depth[parent] + 1
				path[id] = orgpath.Join(path[parent], id)
				state[id] = stateResolved
			default:
				state[id] = stateBroken
			}
		}
	}

	h := t.Hierarchy
	if h == nil {
		return report, nil
	}
	for _, node := range forest {
		if state[node.ID] != stateResolved {
			continue
		}
		if p, ok := propertyOf(t, h.LevelProperty); ok {
			stored, _ := p.Get(node).(int64)
			if expected := int64(depth[node.ID]); stored != expected {
				report.LevelMismatches = append(report.LevelMismatches, domain.LevelMismatch{ID: node.ID, Stored: stored, Expected: expected})
			}
		}
		if p, ok := propertyOf(t, h.PathProperty); ok {
			stored, _ := p.Get(node).(string)
			if expected := path[node.ID]; stored != expected {
				report.PathMismatches = append(report.PathMismatches, domain.PathMismatch{ID: node.ID, Stored: stored, Expected: expected})
			}
		}
	}
	return report, nil
}

func propertyOf(t *registry.EntityType, name string) (*registry.PropertyDescriptor, bool) {
	if name == "" {
		return nil, false
	}
	return t.Property(name)
}
