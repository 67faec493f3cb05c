package validation

import (
	"errors"

	coregraph "github.com/fruitflow/fruitflow/internal/core/graph"
)

// ErrNilGraph is returned for a nil flow definition.
var ErrNilGraph = errors.New("graph is nil")

// ValidateFlowGraph checks a flow definition loaded from outside the
// builder: struct tags on the graph and every step, then Compile, which
// resolves triggers and rejects cycles and unreachable steps.
func ValidateFlowGraph(g *coregraph.Graph) error {
	if g == nil {
		return ErrNilGraph
	}
	for _, s := range g.Steps {
		if s == nil {
			return coregraph.ErrNilStep
		}
	}
	if err := Struct(g); err != nil {
		return err
	}
	return g.Compile()
}
