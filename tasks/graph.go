package tasks

import (
	"fmt"

	"github.com/gammazero/toposort"
)

// ValidateDependencyGraph topologically sorts the given tasks and
// returns the execution order, or an error naming the problem when the
// dependency edges contain a cycle. The engine itself never requires an
// acyclic graph (cascades carry visited sets), so this check is opt-in
// for callers that build task sets programmatically.
func ValidateDependencyGraph(all []*Task) ([]string, error) {
	byID := indexByID(all)

	var edges []toposort.Edge
	for _, t := range all {
		deps := 0
		for _, dep := range t.Dependencies {
			if _, exists := byID[dep]; !exists {
				// Unknown IDs are dropped on write; tolerate stale ones.
				continue
			}
			edges = append(edges, toposort.Edge{dep, t.ID})
			deps++
		}
		if deps == 0 {
			// Roots still need an edge to appear in the sort.
			edges = append(edges, toposort.Edge{nil, t.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency graph contains a cycle: %w", err)
	}

	order := make([]string, 0, len(all))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	return order, nil
}
