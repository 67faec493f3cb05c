// Package graphrepo stores compiled flow definitions by ID.
package graphrepo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fruitflow/fruitflow/internal/core/graph"
	"github.com/fruitflow/fruitflow/pkg/validation"
)

// InMemoryGraphRepository keeps flow definitions in a map. Graphs are
// validated and compiled on Save, so everything it returns is sealed.
type InMemoryGraphRepository struct {
	mu     sync.RWMutex
	graphs map[string]*graph.Graph
}

// NewInMemoryGraphRepository creates an empty repository.
func NewInMemoryGraphRepository() *InMemoryGraphRepository {
	return &InMemoryGraphRepository{
		graphs: make(map[string]*graph.Graph),
	}
}

// Save validates, compiles and stores g, replacing any graph with its ID.
func (r *InMemoryGraphRepository) Save(_ context.Context, g *graph.Graph) error {
	if err := validation.ValidateFlowGraph(g); err != nil {
		return fmt.Errorf("invalid graph: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graphs[g.ID] = g
	return nil
}

// Get returns the graph with the given ID.
func (r *InMemoryGraphRepository) Get(_ context.Context, id string) (*graph.Graph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.graphs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrGraphNotFound, id)
	}
	return g, nil
}

// List returns every stored graph ordered by ID.
func (r *InMemoryGraphRepository) List(_ context.Context) ([]*graph.Graph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*graph.Graph, 0, len(r.graphs))
	for _, g := range r.graphs {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
