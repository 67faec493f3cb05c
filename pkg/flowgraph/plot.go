package flowgraph

import (
	"fmt"
	"io"
	"strings"

	coregraph "github.com/fruitflow/fruitflow/internal/core/graph"
)

// Plot renders a compiled graph in Graphviz DOT. Start steps are drawn as
// double circles, routers as diamonds, persisted steps with a bold outline,
// and label edges dashed with their label.
func Plot(w io.Writer, g *Graph) error {
	if g == nil || !g.Compiled() {
		return ErrGraphNotCompiled
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "digraph %q {\n", g.ID)
	fmt.Fprintf(&sb, "  label=%q;\n  rankdir=TB;\n  node [shape=box, style=rounded];\n", g.Name)

	for _, id := range g.TopologicalOrder() {
		step, _ := g.Step(id)
		var attrs []string
		switch step.Kind {
		case coregraph.StepKindStart:
			attrs = append(attrs, "shape=doublecircle")
		case coregraph.StepKindRouter:
			attrs = append(attrs, "shape=diamond")
		}
		if step.Persist {
			attrs = append(attrs, "penwidth=2")
		}
		if step.Trigger != nil && !step.Trigger.IsLeaf() {
			attrs = append(attrs, fmt.Sprintf("tooltip=%q", step.Trigger.String()))
		}
		if len(attrs) == 0 {
			fmt.Fprintf(&sb, "  %q;\n", id)
		} else {
			fmt.Fprintf(&sb, "  %q [%s];\n", id, strings.Join(attrs, ", "))
		}
	}

	for _, e := range g.Edges {
		if e.IsLabel() {
			fmt.Fprintf(&sb, "  %q -> %q [style=dashed, label=%q];\n", e.Source, e.Target, e.Label)
		} else {
			fmt.Fprintf(&sb, "  %q -> %q;\n", e.Source, e.Target)
		}
	}
	sb.WriteString("}\n")

	_, err := io.WriteString(w, sb.String())
	return err
}
