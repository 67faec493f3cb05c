// Package graph provides the flow graph domain entities: steps, the triggers
// that gate them, and the edges derived from those triggers. It has no
// dependencies outside the standard library.
package graph

import (
	"fmt"
	"sort"
	"time"
)

// Graph is a static flow definition. Build it with AddStep, then Compile it
// once; a compiled graph is immutable and safe for concurrent readers.
type Graph struct {
	ID        string           `json:"id" validate:"required"`
	Name      string           `json:"name" validate:"required,max=200"`
	Steps     map[string]*Step `json:"steps" validate:"required,min=1,dive"`
	Edges     []*Edge          `json:"edges,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`

	compiled   bool
	order      []string
	dependents map[string][]string
}

// New creates an empty graph.
func New(id, name string) *Graph {
	now := time.Now()
	return &Graph{
		ID:        id,
		Name:      name,
		Steps:     make(map[string]*Step),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks graph-level fields only; Compile performs the structural checks.
func (g *Graph) Validate() error {
	if g.ID == "" {
		return ErrInvalidGraphID
	}
	if g.Name == "" {
		return ErrInvalidGraphName
	}
	if len(g.StartSteps()) == 0 {
		return ErrNoStartStep
	}
	return nil
}

// AddStep adds a step to the graph
func (g *Graph) AddStep(step *Step) error {
	if g.compiled {
		return ErrGraphSealed
	}
	if step == nil {
		return ErrNilStep
	}
	if err := step.Validate(); err != nil {
		return fmt.Errorf("step %q: %w", step.ID, err)
	}
	if g.Steps == nil {
		g.Steps = make(map[string]*Step)
	}
	if _, exists := g.Steps[step.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateStep, step.ID)
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now()
	}
	g.Steps[step.ID] = step
	g.UpdatedAt = time.Now()
	return nil
}

// Step looks up a step by ID.
func (g *Graph) Step(id string) (*Step, bool) {
	s, ok := g.Steps[id]
	return s, ok
}

// StepIDs returns every step ID in lexical order.
func (g *Graph) StepIDs() []string {
	ids := make([]string, 0, len(g.Steps))
	for id := range g.Steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StartSteps returns the IDs of entry steps in lexical order.
func (g *Graph) StartSteps() []string {
	var out []string
	for _, id := range g.StepIDs() {
		if s := g.Steps[id]; s != nil && s.IsStart() {
			out = append(out, id)
		}
	}
	return out
}

// Compile resolves triggers into edges, rejects dangling references, cycles
// and unreachable steps, and seals the graph. Calling it twice is a no-op.
func (g *Graph) Compile() error {
	if g.compiled {
		return nil
	}
	if err := g.Validate(); err != nil {
		return err
	}

	routersByLabel := make(map[string][]string)
	for _, id := range g.StepIDs() {
		s := g.Steps[id]
		if s == nil {
			return ErrNilStep
		}
		if err := s.Validate(); err != nil {
			return fmt.Errorf("step %q: %w", id, err)
		}
		for _, l := range s.Labels {
			routersByLabel[l] = append(routersByLabel[l], id)
		}
	}

	g.Edges = nil
	g.dependents = make(map[string][]string)
	for _, id := range g.StepIDs() {
		s := g.Steps[id]
		for _, c := range s.Trigger.Conditions() {
			if err := g.link(s, c, routersByLabel); err != nil {
				return err
			}
		}
	}

	order, err := g.topologicalSort()
	if err != nil {
		return err
	}
	if err := g.checkReachable(); err != nil {
		return err
	}

	g.order = order
	g.compiled = true
	return nil
}

// link records the edges and dependent index for one trigger condition.
func (g *Graph) link(target *Step, c Condition, routersByLabel map[string][]string) error {
	switch c.Type {
	case ConditionStep:
		if _, ok := g.Steps[c.Value]; !ok {
			return fmt.Errorf("%w: %s (referenced by %s)", ErrStepNotFound, c.Value, target.ID)
		}
		if err := g.addEdge(&Edge{Source: c.Value, Target: target.ID, Type: EdgeTypeCompletion}); err != nil {
			return err
		}
	case ConditionLabel:
		routers := routersByLabel[c.Value]
		if len(routers) == 0 {
			return fmt.Errorf("%w: %s (referenced by %s)", ErrUnknownLabel, c.Value, target.ID)
		}
		for _, r := range routers {
			if err := g.addEdge(&Edge{Source: r, Target: target.ID, Type: EdgeTypeLabel, Label: c.Value}); err != nil {
				return err
			}
		}
	}

	key := c.Key()
	for _, existing := range g.dependents[key] {
		if existing == target.ID {
			return nil
		}
	}
	g.dependents[key] = append(g.dependents[key], target.ID)
	return nil
}

// addEdge appends a derived edge; repeated conditions collapse into one edge.
func (g *Graph) addEdge(edge *Edge) error {
	if err := edge.Validate(); err != nil {
		return fmt.Errorf("edge %s->%s: %w", edge.Source, edge.Target, err)
	}
	for _, e := range g.Edges {
		if e.Source == edge.Source && e.Target == edge.Target && e.Type == edge.Type && e.Label == edge.Label {
			return nil
		}
	}
	if edge.IsLabel() {
		edge.ID = fmt.Sprintf("%s-[%s]->%s", edge.Source, edge.Label, edge.Target)
	} else {
		edge.ID = fmt.Sprintf("%s->%s", edge.Source, edge.Target)
	}
	g.Edges = append(g.Edges, edge)
	return nil
}

// topologicalSort runs Kahn's algorithm over the derived edges.
func (g *Graph) topologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.Steps))
	adj := make(map[string][]string, len(g.Steps))
	for id := range g.Steps {
		inDegree[id] = 0
	}
	seen := make(map[[2]string]struct{})
	for _, e := range g.Edges {
		k := [2]string{e.Source, e.Target}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		adj[e.Source] = append(adj[e.Source], e.Target)
		inDegree[e.Target]++
	}

	var queue []string
	for _, id := range g.StepIDs() {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(g.Steps))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		next := adj[id]
		sort.Strings(next)
		for _, t := range next {
			inDegree[t]--
			if inDegree[t] == 0 {
				queue = append(queue, t)
			}
		}
	}
	if len(order) != len(g.Steps) {
		return nil, ErrCyclicGraph
	}
	return order, nil
}

func (g *Graph) checkReachable() error {
	adj := make(map[string][]string, len(g.Steps))
	for _, e := range g.Edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}
	visited := make(map[string]bool, len(g.Steps))
	stack := g.StartSteps()
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true
		stack = append(stack, adj[id]...)
	}
	for _, id := range g.StepIDs() {
		if !visited[id] {
			return fmt.Errorf("%w: %s", ErrUnreachableStep, id)
		}
	}
	return nil
}

// Compiled reports whether Compile has succeeded.
func (g *Graph) Compiled() bool {
	return g.compiled
}

// TopologicalOrder returns a deterministic topological order of the steps.
// Empty until the graph is compiled.
func (g *Graph) TopologicalOrder() []string {
	return append([]string(nil), g.order...)
}

// Dependents returns the steps whose trigger mentions condition c.
func (g *Graph) Dependents(c Condition) []string {
	return g.dependents[c.Key()]
}
