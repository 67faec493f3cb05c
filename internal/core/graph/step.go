package graph

import "time"

// StepKind represents the role a step plays in a flow
type StepKind string

const (
	// StepKindStart has no upstream and fires when a run begins
	StepKindStart StepKind = "start"
	// StepKindListener fires when its trigger is satisfied
	StepKindListener StepKind = "listener"
	// StepKindRouter fires like a listener and emits one of its labels
	StepKindRouter StepKind = "router"
)

// Step represents a vertex in the flow graph. It carries only the wiring;
// the handler is bound by the executor.
type Step struct {
	ID        string    `json:"id" validate:"required,step_id"`
	Name      string    `json:"name" validate:"required,max=100"`
	Kind      StepKind  `json:"kind" validate:"required,oneof=start listener router"`
	Trigger   *Trigger  `json:"trigger,omitempty"`
	Labels    []string  `json:"labels,omitempty" validate:"dive,required,label"`
	Persist   bool      `json:"persist,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the step in isolation.
func (s *Step) Validate() error {
	if s.ID == "" {
		return ErrInvalidStepID
	}
	if s.Name == "" {
		return ErrInvalidStepName
	}
	switch s.Kind {
	case StepKindStart:
		if s.Trigger != nil {
			return ErrStartWithTrigger
		}
	case StepKindListener, StepKindRouter:
		if s.Trigger == nil {
			return ErrMissingTrigger
		}
		if err := s.Trigger.Validate(); err != nil {
			return err
		}
	default:
		return ErrInvalidStepKind
	}
	if s.Kind == StepKindRouter && len(s.Labels) == 0 {
		return ErrRouterNoLabels
	}
	if s.Kind != StepKindRouter && len(s.Labels) > 0 {
		return ErrLabelsOnNonRouter
	}
	seen := make(map[string]struct{}, len(s.Labels))
	for _, l := range s.Labels {
		if _, dup := seen[l]; dup {
			return ErrDuplicateLabel
		}
		seen[l] = struct{}{}
	}
	return nil
}

// IsRouter checks if step is a router
func (s *Step) IsRouter() bool {
	return s.Kind == StepKindRouter
}

// IsStart checks if step is an entry step
func (s *Step) IsStart() bool {
	return s.Kind == StepKindStart
}

// Declares reports whether a router step may emit label.
func (s *Step) Declares(label string) bool {
	for _, l := range s.Labels {
		if l == label {
			return true
		}
	}
	return false
}
