package usecases

import (
	"context"
	"time"

	"github.com/fruitflow/fruitflow/internal/app/dto"
	"github.com/fruitflow/fruitflow/internal/core/graph"
)

// GraphRepository stores compiled flow definitions
type GraphRepository interface {
	Save(ctx context.Context, g *graph.Graph) error
	Get(ctx context.Context, id string) (*graph.Graph, error)
	List(ctx context.Context) ([]*graph.Graph, error)
}

// Update mutates the run state. Updates are applied by the scheduler one at
// a time, in the order their steps complete.
type Update[S any] func(*S)

// Handler runs a start or listener step against a copy of the state.
// A nil Update leaves the state unchanged.
type Handler[S any] func(ctx context.Context, state S) (Update[S], error)

// Route runs a router step and returns the label to emit. The label must
// be one the router declares.
type Route[S any] func(ctx context.Context, state S) (string, error)

// Rollback undoes the side effects of a step whose snapshot could not be
// written. It receives the state the snapshot would have held.
type Rollback[S any] func(ctx context.Context, state S) error

// Binding attaches behaviour to a step. Exactly one of Handler and Route is
// set, matching the step kind.
type Binding[S any] struct {
	Handler  Handler[S]
	Route    Route[S]
	Rollback Rollback[S]
}

// PersistRequest describes the snapshot taken after a Persist step.
// Completed lists the steps finished so far, so the run can be resumed
// from the snapshot.
type PersistRequest[S any] struct {
	FlowID    string
	RunID     string
	StepID    string
	Sequence  int
	Labels    []string
	Completed []string
	State     S
}

// ResumePoint is where a resumed run picks up: the steps that already
// finished, the labels their routers emitted and the last sequence number.
type ResumePoint struct {
	Completed []string
	Labels    []string
	Sequence  int
}

// Persister writes a durable snapshot and returns its ID.
type Persister[S any] interface {
	Persist(ctx context.Context, req PersistRequest[S]) (string, error)
}

// Metrics receives run and step measurements.
type Metrics interface {
	RunFinished(flowID string, status dto.ExecutionStatus, d time.Duration)
	StepStarted(stepID string)
	StepFinished(stepID string, status dto.StepStatus, d time.Duration)
	LabelEmitted(label string)
	SnapshotSaved(err error)
}

// Observer is called from the scheduler loop for every step event. It must
// not block.
type Observer func(dto.StepEvent)

type nopMetrics struct{}

func (nopMetrics) RunFinished(string, dto.ExecutionStatus, time.Duration) {}
func (nopMetrics) StepStarted(string)                                     {}
func (nopMetrics) StepFinished(string, dto.StepStatus, time.Duration)     {}
func (nopMetrics) LabelEmitted(string)                                    {}
func (nopMetrics) SnapshotSaved(error)                                    {}
