package graph

import (
	"fmt"
	"strings"
)

// ConditionType distinguishes what a trigger leaf waits for.
type ConditionType string

const (
	// ConditionStep is satisfied when the named step completes
	ConditionStep ConditionType = "step"
	// ConditionLabel is satisfied when a router emits the named label
	ConditionLabel ConditionType = "label"
)

// Condition is a single satisfiable event in a run.
type Condition struct {
	Type  ConditionType `json:"type"`
	Value string        `json:"value"`
}

// Key returns a stable string form, used as a map key by the scheduler.
func (c Condition) Key() string {
	return string(c.Type) + ":" + c.Value
}

// StepDone builds the condition raised when a step completes.
func StepDone(stepID string) Condition {
	return Condition{Type: ConditionStep, Value: stepID}
}

// LabelEmitted builds the condition raised when a router emits label.
func LabelEmitted(label string) Condition {
	return Condition{Type: ConditionLabel, Value: label}
}

// Combinator joins child triggers.
type Combinator string

const (
	// CombinatorAnd requires every child to be satisfied
	CombinatorAnd Combinator = "and"
	// CombinatorOr requires any child to be satisfied
	CombinatorOr Combinator = "or"
)

// Trigger gates when a step may fire. A trigger is either a leaf (Step or
// Label set) or a combinator over Children.
type Trigger struct {
	Combinator Combinator `json:"combinator,omitempty"`
	Step       string     `json:"step,omitempty"`
	Label      string     `json:"label,omitempty"`
	Children   []*Trigger `json:"children,omitempty"`
}

// After fires once stepID has completed.
func After(stepID string) *Trigger {
	return &Trigger{Step: stepID}
}

// OnLabel fires once some router has emitted label.
func OnLabel(label string) *Trigger {
	return &Trigger{Label: label}
}

// And fires once every child has fired.
func And(children ...*Trigger) *Trigger {
	return &Trigger{Combinator: CombinatorAnd, Children: children}
}

// Or fires once any child has fired.
func Or(children ...*Trigger) *Trigger {
	return &Trigger{Combinator: CombinatorOr, Children: children}
}

// IsLeaf reports whether the trigger is a single condition.
func (t *Trigger) IsLeaf() bool {
	return t.Combinator == ""
}

// Validate checks the trigger tree shape.
func (t *Trigger) Validate() error {
	if t == nil {
		return ErrEmptyTrigger
	}
	if t.IsLeaf() {
		if (t.Step == "") == (t.Label == "") || len(t.Children) > 0 {
			return ErrAmbiguousTrigger
		}
		return nil
	}
	if t.Combinator != CombinatorAnd && t.Combinator != CombinatorOr {
		return fmt.Errorf("unknown combinator %q", t.Combinator)
	}
	if t.Step != "" || t.Label != "" {
		return ErrAmbiguousTrigger
	}
	if len(t.Children) == 0 {
		return ErrEmptyTrigger
	}
	for _, c := range t.Children {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Condition returns the leaf condition. Only meaningful for leaves.
func (t *Trigger) Condition() Condition {
	if t.Step != "" {
		return StepDone(t.Step)
	}
	return LabelEmitted(t.Label)
}

// Conditions flattens every leaf of the tree, in declaration order.
func (t *Trigger) Conditions() []Condition {
	if t == nil {
		return nil
	}
	if t.IsLeaf() {
		return []Condition{t.Condition()}
	}
	var out []Condition
	for _, c := range t.Children {
		out = append(out, c.Conditions()...)
	}
	return out
}

// Satisfied evaluates the tree against the set of conditions raised so far.
func (t *Trigger) Satisfied(raised func(Condition) bool) bool {
	if t == nil {
		return true
	}
	if t.IsLeaf() {
		return raised(t.Condition())
	}
	if t.Combinator == CombinatorAnd {
		for _, c := range t.Children {
			if !c.Satisfied(raised) {
				return false
			}
		}
		return true
	}
	for _, c := range t.Children {
		if c.Satisfied(raised) {
			return true
		}
	}
	return false
}

func (t *Trigger) String() string {
	if t == nil {
		return "<start>"
	}
	if t.IsLeaf() {
		if t.Step != "" {
			return "after(" + t.Step + ")"
		}
		return "label(" + t.Label + ")"
	}
	parts := make([]string, len(t.Children))
	for i, c := range t.Children {
		parts[i] = c.String()
	}
	return string(t.Combinator) + "(" + strings.Join(parts, ", ") + ")"
}
