package usecases

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fruitflow/fruitflow/internal/app/dto"
	"github.com/fruitflow/fruitflow/internal/core/graph"
)

const tracerName = "github.com/fruitflow/fruitflow/internal/app/usecases"

// Executor errors
var (
	ErrGraphNotCompiled = errors.New("graph must be compiled before execution")
	ErrMissingBinding   = errors.New("step has no binding")
	ErrBindingMismatch  = errors.New("binding does not match step kind")
	ErrUnboundStep      = errors.New("binding refers to unknown step")
	ErrStepPanic        = errors.New("step panicked")
	ErrPersistFailed    = errors.New("snapshot failed")
	ErrInvalidResume    = errors.New("invalid resume point")
)

// Config carries the optional collaborators of an Executor.
type Config[S any] struct {
	Logger      *zap.Logger
	Metrics     Metrics
	Tracer      trace.Tracer
	Observer    Observer
	Persister   Persister[S]
	Parallelism int // defaults to runtime.NumCPU()
}

// Executor runs a compiled flow graph over a state of type S. It is safe to
// call Execute concurrently; each call owns its own state.
type Executor[S any] struct {
	graph       *graph.Graph
	bindings    map[string]Binding[S]
	logger      *zap.Logger
	metrics     Metrics
	tracer      trace.Tracer
	observer    Observer
	persister   Persister[S]
	parallelism int
}

// NewExecutor checks that every step of g is bound to behaviour of the
// right kind and returns an executor for it.
func NewExecutor[S any](g *graph.Graph, bindings map[string]Binding[S], cfg Config[S]) (*Executor[S], error) {
	if g == nil || !g.Compiled() {
		return nil, ErrGraphNotCompiled
	}
	for id := range bindings {
		if _, ok := g.Step(id); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnboundStep, id)
		}
	}
	for _, id := range g.StepIDs() {
		step, _ := g.Step(id)
		b, ok := bindings[id]
		if !ok || (b.Handler == nil && b.Route == nil) {
			return nil, fmt.Errorf("%w: %s", ErrMissingBinding, id)
		}
		if step.IsRouter() != (b.Route != nil) || (b.Handler != nil && b.Route != nil) {
			return nil, fmt.Errorf("%w: %s is a %s step", ErrBindingMismatch, id, step.Kind)
		}
	}

	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = runtime.NumCPU()
	}

	return &Executor[S]{
		graph:       g,
		bindings:    bindings,
		logger:      cfg.Logger.With(zap.String("component", "executor"), zap.String("flow_id", g.ID)),
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
		observer:    cfg.Observer,
		persister:   cfg.Persister,
		parallelism: cfg.Parallelism,
	}, nil
}

// Graph returns the flow definition being executed.
func (e *Executor[S]) Graph() *graph.Graph {
	return e.graph
}

// stepOutcome is what a worker reports back to the scheduler loop.
type stepOutcome[S any] struct {
	stepID string
	update Update[S]
	label  string
	err    error
	start  time.Time
	end    time.Time
}

// run is the per-Execute bookkeeping owned by the scheduler loop.
type run[S any] struct {
	id       string
	state    S
	ready    *readiness
	results  map[string]*dto.StepResult
	order    []string
	labels   []string
	sequence int
}

// Execute runs the flow to quiescence starting from initial. The final
// state is returned even when the run fails. The error, if any, is also
// recorded in the response.
func (e *Executor[S]) Execute(ctx context.Context, req *dto.ExecutionRequest, initial S) (S, *dto.ExecutionResponse, error) {
	return e.execute(ctx, req, initial, nil)
}

// Resume continues a run from a snapshot. Steps in from.Completed are
// reported as restored and never run again; the steps they unblock are
// dispatched first. A run whose snapshot was taken at the end completes
// without running anything.
func (e *Executor[S]) Resume(ctx context.Context, req *dto.ExecutionRequest, state S, from ResumePoint) (S, *dto.ExecutionResponse, error) {
	if req == nil || req.RunID == "" {
		return state, nil, fmt.Errorf("%w: run id is required", ErrInvalidResume)
	}
	return e.execute(ctx, req, state, &from)
}

func (e *Executor[S]) execute(ctx context.Context, req *dto.ExecutionRequest, initial S, from *ResumePoint) (S, *dto.ExecutionResponse, error) {
	if req == nil {
		req = &dto.ExecutionRequest{FlowID: e.graph.ID}
	}
	if req.FlowID == "" {
		req.FlowID = e.graph.ID
	}
	if err := req.Validate(); err != nil {
		return initial, nil, fmt.Errorf("invalid request: %w", err)
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	parallelism := e.parallelism
	if req.Parallelism > 0 {
		parallelism = req.Parallelism
	}

	ctx, span := e.tracer.Start(ctx, "flow "+req.FlowID, trace.WithAttributes(
		attribute.String("flow.id", req.FlowID),
		attribute.String("run.id", req.RunID),
	))
	defer span.End()

	logger := e.logger.With(zap.String("run_id", req.RunID))
	resp := &dto.ExecutionResponse{
		RunID:     req.RunID,
		FlowID:    req.FlowID,
		Status:    dto.ExecutionStatusRunning,
		StartTime: time.Now(),
	}
	r := &run[S]{
		id:      req.RunID,
		state:   initial,
		ready:   newReadiness(e.graph),
		results: make(map[string]*dto.StepResult),
	}
	first := e.graph.StartSteps()
	if from != nil {
		var err error
		if first, err = e.restore(r, *from); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return initial, nil, err
		}
		resp.Resumed = true
		logger.Info("flow run resumed", zap.Strings("completed", from.Completed), zap.Strings("next", first))
	}

	logger.Info("flow run started", zap.Int("parallelism", parallelism))
	runErr := e.loop(ctx, logger, r, parallelism, first)

	resp.EndTime = time.Now()
	resp.Duration = resp.EndTime.Sub(resp.StartTime)
	resp.Labels = r.labels
	resp.Steps = e.stepResults(r)

	switch {
	case runErr == nil:
		resp.Status = dto.ExecutionStatusCompleted
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		resp.Status = dto.ExecutionStatusCancelled
	default:
		resp.Status = dto.ExecutionStatusFailed
	}
	if runErr != nil {
		resp.Error = runErr.Error()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		logger.Error("flow run failed", zap.Error(runErr), zap.Duration("duration", resp.Duration))
	} else {
		logger.Info("flow run completed", zap.Duration("duration", resp.Duration), zap.Strings("labels", r.labels))
	}
	e.metrics.RunFinished(req.FlowID, resp.Status, resp.Duration)
	return r.state, resp, runErr
}

// loop dispatches ready steps and applies their outcomes until nothing is
// running. On the first failure it cancels in-flight steps, stops
// dispatching and drains the remaining outcomes.
func (e *Executor[S]) loop(parent context.Context, logger *zap.Logger, r *run[S], parallelism int, first []string) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var g errgroup.Group
	g.SetLimit(parallelism)

	// every step fires at most once, so this buffer never fills
	outcomes := make(chan stepOutcome[S], len(e.graph.Steps))
	running := 0

	dispatch := func(ids []string) {
		for _, id := range ids {
			r.ready.fire(id)
			view := r.state
			running++
			e.metrics.StepStarted(id)
			e.emit(dto.StepEvent{Type: dto.EventStepStarted, RunID: r.id, StepID: id})
			logger.Debug("step dispatched", zap.String("step_id", id))
			g.Go(func() error {
				outcomes <- e.runStep(ctx, r.id, id, view)
				return nil
			})
		}
	}

	var runErr error
	fail := func(err error) {
		if runErr == nil {
			runErr = err
			cancel()
		}
	}

	if err := parent.Err(); err != nil {
		return err
	}
	dispatch(first)

	for running > 0 {
		out := <-outcomes
		running--

		res := e.record(r, out)
		if out.err != nil {
			fail(fmt.Errorf("step %s: %w", out.stepID, out.err))
			continue
		}
		if runErr != nil {
			continue
		}

		if out.update != nil {
			out.update(&r.state)
		}
		next, err := r.ready.complete(out.stepID, out.label)
		if err != nil {
			res.Status = dto.StepStatusFailed
			res.Error = err.Error()
			fail(fmt.Errorf("step %s: %w", out.stepID, err))
			continue
		}
		if out.label != "" {
			r.labels = append(r.labels, out.label)
			e.metrics.LabelEmitted(out.label)
			e.emit(dto.StepEvent{Type: dto.EventLabelEmitted, RunID: r.id, StepID: out.stepID, Label: out.label})
			logger.Info("router decided", zap.String("step_id", out.stepID), zap.String("label", out.label))
		}

		if step, _ := e.graph.Step(out.stepID); step.Persist && e.persister != nil {
			cpID, err := e.persist(ctx, r, out.stepID)
			e.metrics.SnapshotSaved(err)
			if err != nil {
				err = fmt.Errorf("%w: %w", ErrPersistFailed, err)
				if rbErr := e.rollback(ctx, r, out.stepID); rbErr != nil {
					logger.Error("step rollback failed", zap.String("step_id", out.stepID), zap.Error(rbErr))
					err = errors.Join(err, rbErr)
				}
				res.Status = dto.StepStatusFailed
				res.Error = err.Error()
				fail(fmt.Errorf("step %s: %w", out.stepID, err))
				continue
			}
			res.CheckpointID = cpID
			e.emit(dto.StepEvent{Type: dto.EventSnapshotSaved, RunID: r.id, StepID: out.stepID, CheckpointID: cpID})
		}

		if err := parent.Err(); err != nil {
			fail(err)
			continue
		}
		dispatch(next)
	}

	_ = g.Wait()
	return runErr
}

// record stores the step result and reports it to metrics and observers.
func (e *Executor[S]) record(r *run[S], out stepOutcome[S]) *dto.StepResult {
	r.sequence++
	step, _ := e.graph.Step(out.stepID)
	res := &dto.StepResult{
		Sequence:  r.sequence,
		StepID:    out.stepID,
		Kind:      step.Kind,
		Status:    dto.StepStatusCompleted,
		Label:     out.label,
		StartTime: out.start,
		EndTime:   out.end,
		Duration:  out.end.Sub(out.start),
	}
	ev := dto.StepEvent{Type: dto.EventStepFinished, RunID: r.id, StepID: out.stepID, Label: out.label}
	if out.err != nil {
		res.Status = dto.StepStatusFailed
		res.Error = out.err.Error()
		ev.Type = dto.EventStepFailed
		ev.Error = res.Error
	}
	r.results[out.stepID] = res
	r.order = append(r.order, out.stepID)
	e.metrics.StepFinished(out.stepID, res.Status, res.Duration)
	e.emit(ev)
	return res
}

// runStep invokes the bound handler on a worker goroutine. Panics are
// turned into errors.
func (e *Executor[S]) runStep(ctx context.Context, runID, stepID string, view S) (out stepOutcome[S]) {
	out.stepID = stepID
	out.start = time.Now()

	ctx, span := e.tracer.Start(ctx, "step "+stepID, trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("step.id", stepID),
	))
	defer func() {
		if rec := recover(); rec != nil {
			out.err = fmt.Errorf("%w: %v", ErrStepPanic, rec)
			e.logger.Error("step panicked", zap.String("run_id", runID), zap.String("step_id", stepID),
				zap.Any("panic", rec), zap.ByteString("stack", debug.Stack()))
		}
		out.end = time.Now()
		if out.err != nil {
			span.RecordError(out.err)
			span.SetStatus(codes.Error, out.err.Error())
		}
		if out.label != "" {
			span.SetAttributes(attribute.String("step.label", out.label))
		}
		span.End()
	}()

	if err := ctx.Err(); err != nil {
		out.err = err
		return out
	}

	b := e.bindings[stepID]
	if b.Route != nil {
		out.label, out.err = b.Route(ctx, view)
		return out
	}
	out.update, out.err = b.Handler(ctx, view)
	return out
}

func (e *Executor[S]) persist(ctx context.Context, r *run[S], stepID string) (string, error) {
	ctx, span := e.tracer.Start(ctx, "persist "+stepID, trace.WithAttributes(
		attribute.String("run.id", r.id),
		attribute.String("step.id", stepID),
	))
	defer span.End()

	id, err := e.persister.Persist(ctx, PersistRequest[S]{
		FlowID:    e.graph.ID,
		RunID:     r.id,
		StepID:    stepID,
		Sequence:  r.sequence,
		Labels:    append([]string(nil), r.labels...),
		Completed: r.completed(),
		State:     r.state,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return id, err
}

// rollback runs the step's Rollback, if bound, after its snapshot failed.
func (e *Executor[S]) rollback(ctx context.Context, r *run[S], stepID string) error {
	rb := e.bindings[stepID].Rollback
	if rb == nil {
		return nil
	}
	e.logger.Warn("rolling back step", zap.String("run_id", r.id), zap.String("step_id", stepID))
	return rb(context.WithoutCancel(ctx), r.state)
}

// restore replays a resume point into r and returns the steps to dispatch
// first.
func (e *Executor[S]) restore(r *run[S], from ResumePoint) ([]string, error) {
	for _, id := range from.Completed {
		step, ok := e.graph.Step(id)
		if !ok {
			return nil, fmt.Errorf("%w: %w: %s", ErrInvalidResume, graph.ErrStepNotFound, id)
		}
		if r.ready.fired[id] {
			return nil, fmt.Errorf("%w: step %s listed twice", ErrInvalidResume, id)
		}
		var label string
		if step.IsRouter() {
			label = emittedBy(step, from.Labels)
			if label == "" {
				return nil, fmt.Errorf("%w: router %s has no recorded label", ErrInvalidResume, id)
			}
		}
		r.ready.fire(id)
		if _, err := r.ready.complete(id, label); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidResume, err)
		}
		r.results[id] = &dto.StepResult{StepID: id, Kind: step.Kind, Status: dto.StepStatusRestored, Label: label}
		r.order = append(r.order, id)
	}
	r.labels = append(r.labels, from.Labels...)
	r.sequence = from.Sequence
	return r.ready.pending(), nil
}

// emittedBy returns the recorded label that router declares.
func emittedBy(router *graph.Step, labels []string) string {
	for _, l := range labels {
		if router.Declares(l) {
			return l
		}
	}
	return ""
}

// completed lists the steps that finished without error, in completion
// order.
func (r *run[S]) completed() []string {
	out := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if st := r.results[id].Status; st == dto.StepStatusCompleted || st == dto.StepStatusRestored {
			out = append(out, id)
		}
	}
	return out
}

// stepResults lists finished steps in completion order, then skipped ones.
func (e *Executor[S]) stepResults(r *run[S]) []dto.StepResult {
	out := make([]dto.StepResult, 0, len(e.graph.Steps))
	for _, id := range r.order {
		out = append(out, *r.results[id])
	}
	for _, id := range r.ready.unfired() {
		step, _ := e.graph.Step(id)
		out = append(out, dto.StepResult{StepID: id, Kind: step.Kind, Status: dto.StepStatusSkipped})
	}
	return out
}

func (e *Executor[S]) emit(ev dto.StepEvent) {
	if e.observer == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.observer(ev)
}
