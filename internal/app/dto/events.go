package dto

import "time"

// EventType identifies a StepEvent
type EventType string

const (
	EventStepStarted   EventType = "step_started"
	EventStepFinished  EventType = "step_finished"
	EventStepFailed    EventType = "step_failed"
	EventLabelEmitted  EventType = "label_emitted"
	EventSnapshotSaved EventType = "snapshot_saved"
)

// StepEvent is delivered to run observers in the order the scheduler
// observes it.
type StepEvent struct {
	Type         EventType `json:"type"`
	RunID        string    `json:"run_id"`
	StepID       string    `json:"step_id"`
	Label        string    `json:"label,omitempty"`
	CheckpointID string    `json:"checkpoint_id,omitempty"`
	Error        string    `json:"error,omitempty"`
	Time         time.Time `json:"time"`
}
