package flowgraph

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	graphrepo "github.com/fruitflow/fruitflow/internal/adapters/repository/graph"
	"github.com/fruitflow/fruitflow/internal/adapters/repository/memory"
	"github.com/fruitflow/fruitflow/internal/app/dto"
	"github.com/fruitflow/fruitflow/internal/app/services"
	"github.com/fruitflow/fruitflow/internal/app/usecases"
	"github.com/fruitflow/fruitflow/internal/core/checkpoint"
)

// Runtime keeps flow definitions and the snapshot store runs persist to.
// The zero configuration uses in-memory components, suitable for local
// usage and tests.
type Runtime struct {
	repo   usecases.GraphRepository
	saver  checkpoint.Saver
	logger *zap.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithSaver sets the snapshot store.
func WithSaver(s checkpoint.Saver) RuntimeOption {
	return func(rt *Runtime) { rt.saver = s }
}

// WithLogger sets the logger handed to executors and services.
func WithLogger(l *zap.Logger) RuntimeOption {
	return func(rt *Runtime) { rt.logger = l }
}

// NewRuntime constructs a runtime; without options it is fully in-memory.
func NewRuntime(opts ...RuntimeOption) *Runtime {
	rt := &Runtime{repo: graphrepo.NewInMemoryGraphRepository()}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.saver == nil {
		rt.saver = memory.NewSaver(memory.Config{})
	}
	if rt.logger == nil {
		rt.logger = zap.NewNop()
	}
	return rt
}

// SaveGraph registers a flow definition.
func (rt *Runtime) SaveGraph(ctx context.Context, g *Graph) error {
	return rt.repo.Save(ctx, g)
}

// Graph returns a registered flow definition.
func (rt *Runtime) Graph(ctx context.Context, id string) (*Graph, error) {
	return rt.repo.Get(ctx, id)
}

// Graphs lists registered flow definitions.
func (rt *Runtime) Graphs(ctx context.Context) ([]*Graph, error) {
	return rt.repo.List(ctx)
}

// Saver returns the snapshot store.
func (rt *Runtime) Saver() checkpoint.Saver {
	return rt.saver
}

// ErrFlowMismatch is returned when resuming a run of another flow.
var ErrFlowMismatch = errors.New("snapshot belongs to another flow")

// Run registers flow and executes it from initial. When cfg has no
// Persister, snapshots go to the runtime's store.
func Run[S any](ctx context.Context, rt *Runtime, flow *Flow[S], req *dto.ExecutionRequest, initial S, cfg Config[S]) (S, *dto.ExecutionResponse, error) {
	exec, err := executorFor(ctx, rt, flow, cfg)
	if err != nil {
		return initial, nil, err
	}
	return exec.Execute(ctx, req, initial)
}

// Resume continues run req.RunID from its newest snapshot in the runtime's
// store. Steps finished before the snapshot do not run again. A restored
// state with a Validate() error method is checked before anything runs.
func Resume[S any](ctx context.Context, rt *Runtime, flow *Flow[S], req *dto.ExecutionRequest, cfg Config[S]) (S, *dto.ExecutionResponse, error) {
	var zero S
	if req == nil || req.RunID == "" {
		return zero, nil, fmt.Errorf("%w: run id is required", usecases.ErrInvalidResume)
	}
	state, cp, err := services.NewSnapshotService[S](rt.saver, rt.logger).Latest(ctx, req.RunID)
	if err != nil {
		return zero, nil, err
	}
	if cp.FlowID != flow.ID() {
		return zero, nil, fmt.Errorf("%w: run %s is a %s run", ErrFlowMismatch, req.RunID, cp.FlowID)
	}
	if v, ok := any(&state).(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return state, nil, fmt.Errorf("snapshot %s: %w", cp.ID, err)
		}
	}
	exec, err := executorFor(ctx, rt, flow, cfg)
	if err != nil {
		return state, nil, err
	}
	rt.logger.Info("resuming run", zap.String("run_id", req.RunID), zap.String("checkpoint_id", cp.ID))
	return exec.Resume(ctx, req, state, services.ResumePoint(cp))
}

// executorFor registers flow and builds an executor that defaults to the
// runtime's logger and snapshot store.
func executorFor[S any](ctx context.Context, rt *Runtime, flow *Flow[S], cfg Config[S]) (*Executor[S], error) {
	if err := rt.SaveGraph(ctx, flow.Graph()); err != nil {
		return nil, fmt.Errorf("register flow: %w", err)
	}
	if cfg.Persister == nil {
		cfg.Persister = services.NewSnapshotService[S](rt.saver, rt.logger)
	}
	if cfg.Logger == nil {
		cfg.Logger = rt.logger
	}
	return flow.Executor(cfg)
}
