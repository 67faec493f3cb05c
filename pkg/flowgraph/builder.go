package flowgraph

import (
	"errors"
	"fmt"

	"github.com/fruitflow/fruitflow/internal/app/usecases"
	coregraph "github.com/fruitflow/fruitflow/internal/core/graph"
	"github.com/fruitflow/fruitflow/pkg/validation"
)

// Re-exported graph types.
type (
	Graph     = coregraph.Graph
	Step      = coregraph.Step
	Edge      = coregraph.Edge
	Trigger   = coregraph.Trigger
	Condition = coregraph.Condition
	StepKind  = coregraph.StepKind
)

// Re-exported step contracts.
type (
	Update[S any]         = usecases.Update[S]
	Handler[S any]        = usecases.Handler[S]
	Route[S any]          = usecases.Route[S]
	Config[S any]         = usecases.Config[S]
	Executor[S any]       = usecases.Executor[S]
	Persister[S any]      = usecases.Persister[S]
	PersistRequest[S any] = usecases.PersistRequest[S]
	Rollback[S any]       = usecases.Rollback[S]
	ResumePoint           = usecases.ResumePoint
)

// Trigger constructors.
var (
	After   = coregraph.After
	OnLabel = coregraph.OnLabel
	And     = coregraph.And
	Or      = coregraph.Or
)

var (
	// ErrNilHandler is returned when a step is declared without behaviour.
	ErrNilHandler = errors.New("step handler is nil")
	// ErrGraphNotCompiled is returned when plotting an uncompiled graph.
	ErrGraphNotCompiled = coregraph.ErrGraphNotCompiled
	// ErrPersistFailed wraps the error of a run whose snapshot could not be
	// written.
	ErrPersistFailed = usecases.ErrPersistFailed
)

// Flow is a compiled graph together with the behaviour bound to its steps.
type Flow[S any] struct {
	graph    *coregraph.Graph
	bindings map[string]usecases.Binding[S]
}

// Graph returns the compiled definition.
func (f *Flow[S]) Graph() *Graph {
	return f.graph
}

// ID returns the flow ID.
func (f *Flow[S]) ID() string {
	return f.graph.ID
}

// Executor returns a scheduler for the flow.
func (f *Flow[S]) Executor(cfg Config[S]) (*Executor[S], error) {
	return usecases.NewExecutor(f.graph, f.bindings, cfg)
}

// Builder declares a flow step by step. The first error is kept and
// reported by Build.
type Builder[S any] struct {
	graph    *coregraph.Graph
	bindings map[string]usecases.Binding[S]
	persist  []string
	err      error
}

// NewBuilder starts a flow definition.
func NewBuilder[S any](id, name string) *Builder[S] {
	b := &Builder[S]{
		graph:    coregraph.New(id, name),
		bindings: make(map[string]usecases.Binding[S]),
	}
	if err := validation.Var(id, "required,flow_id"); err != nil {
		b.err = fmt.Errorf("flow %q: %w", id, err)
	}
	return b
}

// Start adds a step that fires when a run begins.
func (b *Builder[S]) Start(id string, h Handler[S]) *Builder[S] {
	if h == nil {
		return b.fail(id, ErrNilHandler)
	}
	return b.add(&coregraph.Step{ID: id, Name: id, Kind: coregraph.StepKindStart}, usecases.Binding[S]{Handler: h})
}

// Listen adds a step that fires once trigger is satisfied.
func (b *Builder[S]) Listen(id string, trigger *Trigger, h Handler[S]) *Builder[S] {
	if h == nil {
		return b.fail(id, ErrNilHandler)
	}
	return b.add(&coregraph.Step{ID: id, Name: id, Kind: coregraph.StepKindListener, Trigger: trigger}, usecases.Binding[S]{Handler: h})
}

// Router adds a step that fires once trigger is satisfied and emits one of
// labels.
func (b *Builder[S]) Router(id string, trigger *Trigger, labels []string, r Route[S]) *Builder[S] {
	if r == nil {
		return b.fail(id, ErrNilHandler)
	}
	step := &coregraph.Step{ID: id, Name: id, Kind: coregraph.StepKindRouter, Trigger: trigger, Labels: append([]string(nil), labels...)}
	return b.add(step, usecases.Binding[S]{Route: r})
}

// Persist marks steps whose completion is followed by a state snapshot.
// The snapshot is taken after the step's update is applied, so a step's
// side effects happen before its state is durable; see Rollback.
func (b *Builder[S]) Persist(ids ...string) *Builder[S] {
	b.persist = append(b.persist, ids...)
	return b
}

// Rollback binds fn to undo the side effects of step id when its snapshot
// fails. The step must already be declared.
func (b *Builder[S]) Rollback(id string, fn Rollback[S]) *Builder[S] {
	if b.err != nil {
		return b
	}
	binding, ok := b.bindings[id]
	if !ok {
		return b.fail(id, coregraph.ErrStepNotFound)
	}
	if fn == nil {
		return b.fail(id, ErrNilHandler)
	}
	binding.Rollback = fn
	b.bindings[id] = binding
	return b
}

// Build compiles the graph and returns the flow.
func (b *Builder[S]) Build() (*Flow[S], error) {
	if b.err != nil {
		return nil, b.err
	}
	for _, id := range b.persist {
		step, ok := b.graph.Step(id)
		if !ok {
			return nil, fmt.Errorf("persist %q: %w", id, coregraph.ErrStepNotFound)
		}
		step.Persist = true
	}
	if err := validation.ValidateFlowGraph(b.graph); err != nil {
		return nil, fmt.Errorf("flow %q: %w", b.graph.ID, err)
	}
	return &Flow[S]{graph: b.graph, bindings: b.bindings}, nil
}

func (b *Builder[S]) add(step *coregraph.Step, binding usecases.Binding[S]) *Builder[S] {
	if b.err != nil {
		return b
	}
	if err := b.graph.AddStep(step); err != nil {
		return b.fail(step.ID, err)
	}
	b.bindings[step.ID] = binding
	return b
}

func (b *Builder[S]) fail(id string, err error) *Builder[S] {
	if b.err == nil {
		b.err = fmt.Errorf("step %q: %w", id, err)
	}
	return b
}
