package usecases

import (
	"fmt"
	"sort"

	"github.com/fruitflow/fruitflow/internal/core/graph"
)

// readiness tracks the conditions raised during one run and decides which
// steps become ready. It is owned by the scheduler loop and is not safe for
// concurrent use.
type readiness struct {
	g      *graph.Graph
	raised map[string]bool
	fired  map[string]bool
}

func newReadiness(g *graph.Graph) *readiness {
	return &readiness{
		g:      g,
		raised: make(map[string]bool),
		fired:  make(map[string]bool),
	}
}

func (r *readiness) isRaised(c graph.Condition) bool {
	return r.raised[c.Key()]
}

// fire records that id has been dispatched; it will never be ready again.
func (r *readiness) fire(id string) {
	r.fired[id] = true
}

// complete raises the conditions produced by stepID finishing (and, for a
// router, emitting label) and returns the unfired steps whose triggers are
// now satisfied.
func (r *readiness) complete(stepID, label string) ([]string, error) {
	step, ok := r.g.Step(stepID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrStepNotFound, stepID)
	}

	conds := []graph.Condition{graph.StepDone(stepID)}
	if step.IsRouter() {
		if err := resolveLabel(step, label); err != nil {
			return nil, err
		}
		conds = append(conds, graph.LabelEmitted(label))
	}

	candidates := make(map[string]struct{})
	for _, c := range conds {
		r.raised[c.Key()] = true
		for _, id := range r.g.Dependents(c) {
			candidates[id] = struct{}{}
		}
	}

	var ready []string
	for id := range candidates {
		if r.fired[id] {
			continue
		}
		if s, _ := r.g.Step(id); s.Trigger.Satisfied(r.isRaised) {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready, nil
}

// pending returns the unfired steps that may run now: start steps, and
// steps whose triggers are satisfied by the conditions raised so far.
func (r *readiness) pending() []string {
	var out []string
	for _, id := range r.g.StepIDs() {
		if r.fired[id] {
			continue
		}
		s, _ := r.g.Step(id)
		if s.IsStart() || s.Trigger.Satisfied(r.isRaised) {
			out = append(out, id)
		}
	}
	return out
}

// unfired returns steps that never fired, in topological order.
func (r *readiness) unfired() []string {
	var out []string
	for _, id := range r.g.TopologicalOrder() {
		if !r.fired[id] {
			out = append(out, id)
		}
	}
	return out
}

// resolveLabel checks a router's output against its declared labels.
func resolveLabel(step *graph.Step, label string) error {
	if !step.Declares(label) {
		return fmt.Errorf("%w: router %s emitted %q, declared %v", graph.ErrUnknownLabel, step.ID, label, step.Labels)
	}
	return nil
}
