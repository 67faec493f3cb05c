// Package graph provides edge definitions
package graph

// EdgeType represents the type of edge
type EdgeType string

const (
	// EdgeTypeCompletion connects a step to a listener of its completion
	EdgeTypeCompletion EdgeType = "completion"
	// EdgeTypeLabel connects a router to a listener of one of its labels
	EdgeTypeLabel EdgeType = "label"
)

// Edge is a derived connection between steps. Edges are produced from step
// triggers by Compile and are used for topology checks and plotting.
type Edge struct {
	ID     string   `json:"id"`
	Source string   `json:"source"`
	Target string   `json:"target"`
	Type   EdgeType `json:"type"`
	Label  string   `json:"label,omitempty"`
}

// Validate ensures edge integrity
func (e *Edge) Validate() error {
	if e.Source == "" {
		return ErrInvalidSource
	}
	if e.Target == "" {
		return ErrInvalidTarget
	}
	if e.Source == e.Target {
		return ErrSelfLoop
	}
	if e.Type == "" {
		e.Type = EdgeTypeCompletion
	}
	if e.Type == EdgeTypeLabel && e.Label == "" {
		return ErrMissingLabel
	}
	return nil
}

// IsLabel checks if edge is driven by a router label
func (e *Edge) IsLabel() bool {
	return e.Type == EdgeTypeLabel
}
