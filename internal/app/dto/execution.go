package dto

import (
	"time"

	"github.com/fruitflow/fruitflow/internal/core/graph"
)

// ExecutionRequest represents a request to run a flow
type ExecutionRequest struct {
	FlowID      string `json:"flow_id" validate:"required,flow_id"`
	RunID       string `json:"run_id,omitempty" validate:"omitempty,max=100"`
	Parallelism int    `json:"parallelism,omitempty" validate:"min=0,max=256"`
}

// ExecutionResponse represents the outcome of a flow run
type ExecutionResponse struct {
	RunID     string          `json:"run_id"`
	FlowID    string          `json:"flow_id"`
	Status    ExecutionStatus `json:"status"`
	Resumed   bool            `json:"resumed,omitempty"`
	Steps     []StepResult    `json:"steps"`
	Labels    []string        `json:"labels,omitempty"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	Duration  time.Duration   `json:"duration"`
	Error     string          `json:"error,omitempty"`
}

// ExecutionStatus represents the status of a flow run
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// StepResult represents the result of a single step. Steps that never
// fired are reported as skipped with zero times.
type StepResult struct {
	Sequence     int            `json:"sequence"`
	StepID       string         `json:"step_id"`
	Kind         graph.StepKind `json:"kind"`
	Status       StepStatus     `json:"status"`
	Label        string         `json:"label,omitempty"`
	StartTime    time.Time      `json:"start_time,omitempty"`
	EndTime      time.Time      `json:"end_time,omitempty"`
	Duration     time.Duration  `json:"duration,omitempty"`
	Error        string         `json:"error,omitempty"`
	CheckpointID string         `json:"checkpoint_id,omitempty"`
}

// StepStatus represents the status of a single step
type StepStatus string

const (
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
	// StepStatusRestored marks a step finished by an earlier attempt of a
	// resumed run.
	StepStatusRestored StepStatus = "restored"
)

// Step returns the result for stepID, if present.
func (r *ExecutionResponse) Step(stepID string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.StepID == stepID {
			return s, true
		}
	}
	return StepResult{}, false
}

// Validate validates the execution request
func (req *ExecutionRequest) Validate() error {
	if req.FlowID == "" {
		return ErrMissingFlowID
	}
	if req.Parallelism < 0 {
		return ErrInvalidParallelism
	}
	return nil
}
