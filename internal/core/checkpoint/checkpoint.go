// Package checkpoint provides the snapshot entity written by flow runs and
// the storage interface that adapters implement. It has no dependencies
// outside the standard library.
package checkpoint

import (
	"time"
)

// CurrentVersion is stamped on snapshots that do not set one.
const CurrentVersion = "1"

// Checkpoint is a durable snapshot of a run's state taken after a step.
type Checkpoint struct {
	ID        string                 `json:"id"`
	FlowID    string                 `json:"flow_id"`
	RunID     string                 `json:"run_id"`
	StepID    string                 `json:"step_id"`
	State     map[string]interface{} `json:"state"`
	Metadata  Metadata               `json:"metadata"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
}

// Metadata contains additional information about a checkpoint
type Metadata struct {
	Sequence  int      `json:"sequence"`
	Source    string   `json:"source"`
	Labels    []string `json:"labels,omitempty"`
	Completed []string `json:"completed,omitempty"`
	CreatedBy string   `json:"created_by,omitempty"`
}

// Validate ensures checkpoint integrity
func (c *Checkpoint) Validate() error {
	if c.ID == "" {
		return ErrInvalidCheckpointID
	}
	if c.FlowID == "" {
		return ErrInvalidFlowID
	}
	if c.RunID == "" {
		return ErrInvalidRunID
	}
	if c.State == nil {
		return ErrNilState
	}
	return nil
}
