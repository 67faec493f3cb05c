package usecases

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitflow/fruitflow/internal/app/dto"
	"github.com/fruitflow/fruitflow/internal/core/graph"
)

type testHelper interface {
	require.TestingT
	Helper()
}

type testState struct {
	Count     int
	A         string
	B         string
	Length    string
	Finalized int
}

// diamondGraph mirrors the poem flow shape:
// start -> {a, b} -> decide -[short|long]-> {short, long} -> done
func diamondGraph(t testHelper) *graph.Graph {
	t.Helper()
	g := graph.New("diamond", "Diamond")
	steps := []*graph.Step{
		{ID: "start", Name: "Start", Kind: graph.StepKindStart},
		{ID: "a", Name: "A", Kind: graph.StepKindListener, Trigger: graph.After("start")},
		{ID: "b", Name: "B", Kind: graph.StepKindListener, Trigger: graph.After("start")},
		{ID: "decide", Name: "Decide", Kind: graph.StepKindRouter,
			Trigger: graph.And(graph.After("a"), graph.After("b")), Labels: []string{"short", "long"}},
		{ID: "short", Name: "Short", Kind: graph.StepKindListener, Trigger: graph.OnLabel("short")},
		{ID: "long", Name: "Long", Kind: graph.StepKindListener, Trigger: graph.OnLabel("long")},
		{ID: "done", Name: "Done", Kind: graph.StepKindListener, Persist: true,
			Trigger: graph.And(graph.After("b"), graph.Or(graph.After("short"), graph.After("long")))},
	}
	for _, s := range steps {
		require.NoError(t, g.AddStep(s))
	}
	require.NoError(t, g.Compile())
	return g
}

func set(f func(*testState)) Update[testState] { return f }

func diamondBindings(aLen int) map[string]Binding[testState] {
	return map[string]Binding[testState]{
		"start": {Handler: func(context.Context, testState) (Update[testState], error) {
			return set(func(s *testState) { s.Count = 3 }), nil
		}},
		"a": {Handler: func(_ context.Context, s testState) (Update[testState], error) {
			text := strings.Repeat("a", aLen)
			return set(func(st *testState) { st.A = text }), nil
		}},
		"b": {Handler: func(_ context.Context, s testState) (Update[testState], error) {
			text := strings.Repeat("b", s.Count)
			return set(func(st *testState) { st.B = text }), nil
		}},
		"decide": {Route: func(_ context.Context, s testState) (string, error) {
			if len(s.A) < 150 {
				return "short", nil
			}
			return "long", nil
		}},
		"short": {Handler: func(context.Context, testState) (Update[testState], error) {
			return set(func(s *testState) { s.Length = "short" }), nil
		}},
		"long": {Handler: func(context.Context, testState) (Update[testState], error) {
			return set(func(s *testState) { s.Length = "long" }), nil
		}},
		"done": {Handler: func(context.Context, testState) (Update[testState], error) {
			return set(func(s *testState) { s.Finalized++ }), nil
		}},
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []dto.StepEvent
}

func (l *eventLog) observe(ev dto.StepEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

// index returns the position of the first event of type typ for stepID.
func (l *eventLog) index(typ dto.EventType, stepID string) int {
	for i, ev := range l.events {
		if ev.Type == typ && ev.StepID == stepID {
			return i
		}
	}
	return -1
}

type recordingPersister struct {
	mu    sync.Mutex
	calls []PersistRequest[testState]
	err   error
}

func (p *recordingPersister) Persist(_ context.Context, req PersistRequest[testState]) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if p.err != nil {
		return "", p.err
	}
	return req.RunID + "-" + req.StepID, nil
}

func TestExecutor_Execute(t *testing.T) {
	log := &eventLog{}
	persister := &recordingPersister{}
	exec, err := NewExecutor(diamondGraph(t), diamondBindings(100), Config[testState]{
		Observer:    log.observe,
		Persister:   persister,
		Parallelism: 4,
	})
	require.NoError(t, err)

	final, resp, err := exec.Execute(context.Background(), &dto.ExecutionRequest{RunID: "run-1"}, testState{})
	require.NoError(t, err)

	assert.Equal(t, "short", final.Length)
	assert.Equal(t, 1, final.Finalized)
	assert.Equal(t, "bbb", final.B)

	assert.Equal(t, dto.ExecutionStatusCompleted, resp.Status)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "diamond", resp.FlowID)
	assert.Equal(t, []string{"short"}, resp.Labels)
	require.Len(t, resp.Steps, 7)

	long, ok := resp.Step("long")
	require.True(t, ok)
	assert.Equal(t, dto.StepStatusSkipped, long.Status)

	decide, _ := resp.Step("decide")
	assert.Equal(t, "short", decide.Label)

	done, _ := resp.Step("done")
	assert.Equal(t, dto.StepStatusCompleted, done.Status)
	assert.Equal(t, "run-1-done", done.CheckpointID)

	require.Len(t, persister.calls, 1)
	assert.Equal(t, 1, persister.calls[0].State.Finalized, "snapshot taken after the update")
	assert.Equal(t, []string{"short"}, persister.calls[0].Labels)

	// ordering is carried by triggers
	assert.Less(t, log.index(dto.EventStepFinished, "start"), log.index(dto.EventStepStarted, "a"))
	assert.Less(t, log.index(dto.EventStepFinished, "a"), log.index(dto.EventStepStarted, "decide"))
	assert.Less(t, log.index(dto.EventStepFinished, "b"), log.index(dto.EventStepStarted, "decide"))
	assert.Less(t, log.index(dto.EventLabelEmitted, "decide"), log.index(dto.EventStepStarted, "short"))
	assert.Less(t, log.index(dto.EventStepFinished, "short"), log.index(dto.EventStepStarted, "done"))
	assert.Less(t, log.index(dto.EventStepFinished, "done"), log.index(dto.EventSnapshotSaved, "done"))
	assert.Equal(t, -1, log.index(dto.EventStepStarted, "long"))
}

func TestExecutor_LongBranch(t *testing.T) {
	exec, err := NewExecutor(diamondGraph(t), diamondBindings(200), Config[testState]{})
	require.NoError(t, err)

	final, resp, err := exec.Execute(context.Background(), nil, testState{})
	require.NoError(t, err)
	assert.Equal(t, "long", final.Length)
	assert.NotEmpty(t, resp.RunID, "run ID generated")

	short, _ := resp.Step("short")
	assert.Equal(t, dto.StepStatusSkipped, short.Status)
}

func TestExecutor_UnknownLabel(t *testing.T) {
	b := diamondBindings(10)
	b["decide"] = Binding[testState]{Route: func(context.Context, testState) (string, error) {
		return "medium", nil
	}}
	exec, err := NewExecutor(diamondGraph(t), b, Config[testState]{})
	require.NoError(t, err)

	final, resp, err := exec.Execute(context.Background(), nil, testState{})
	require.ErrorIs(t, err, graph.ErrUnknownLabel)
	assert.Equal(t, dto.ExecutionStatusFailed, resp.Status)
	assert.Equal(t, 0, final.Finalized)

	decide, _ := resp.Step("decide")
	assert.Equal(t, dto.StepStatusFailed, decide.Status)
	done, _ := resp.Step("done")
	assert.Equal(t, dto.StepStatusSkipped, done.Status)
}

func TestExecutor_StepErrorStopsRun(t *testing.T) {
	boom := errors.New("llm unavailable")
	b := diamondBindings(10)
	b["a"] = Binding[testState]{Handler: func(context.Context, testState) (Update[testState], error) {
		return nil, boom
	}}
	persister := &recordingPersister{}
	exec, err := NewExecutor(diamondGraph(t), b, Config[testState]{Persister: persister})
	require.NoError(t, err)

	_, resp, err := exec.Execute(context.Background(), nil, testState{})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "step a")
	assert.Equal(t, dto.ExecutionStatusFailed, resp.Status)
	assert.Empty(t, persister.calls)

	for _, id := range []string{"decide", "short", "long", "done"} {
		res, _ := resp.Step(id)
		assert.Equal(t, dto.StepStatusSkipped, res.Status, id)
	}
}

func TestExecutor_PanicRecovered(t *testing.T) {
	b := diamondBindings(10)
	b["b"] = Binding[testState]{Handler: func(context.Context, testState) (Update[testState], error) {
		panic("nil map write")
	}}
	exec, err := NewExecutor(diamondGraph(t), b, Config[testState]{})
	require.NoError(t, err)

	_, resp, err := exec.Execute(context.Background(), nil, testState{})
	require.ErrorIs(t, err, ErrStepPanic)
	assert.Contains(t, resp.Error, "nil map write")
}

func TestExecutor_PersistFailure(t *testing.T) {
	diskFull := errors.New("disk full")
	exec, err := NewExecutor(diamondGraph(t), diamondBindings(10), Config[testState]{
		Persister: &recordingPersister{err: diskFull},
	})
	require.NoError(t, err)

	final, resp, err := exec.Execute(context.Background(), nil, testState{})
	require.ErrorIs(t, err, diskFull)
	assert.Equal(t, 1, final.Finalized, "the step itself ran")
	assert.ErrorIs(t, err, ErrPersistFailed)
	done, _ := resp.Step("done")
	assert.Equal(t, dto.StepStatusFailed, done.Status)
}

func TestExecutor_PersistFailureRollsBack(t *testing.T) {
	diskFull := errors.New("disk full")
	var rolledBack []testState
	b := diamondBindings(10)
	done := b["done"]
	done.Rollback = func(_ context.Context, s testState) error {
		rolledBack = append(rolledBack, s)
		return nil
	}
	b["done"] = done
	exec, err := NewExecutor(diamondGraph(t), b, Config[testState]{Persister: &recordingPersister{err: diskFull}})
	require.NoError(t, err)

	_, _, err = exec.Execute(context.Background(), nil, testState{})
	require.ErrorIs(t, err, diskFull)
	require.Len(t, rolledBack, 1)
	assert.Equal(t, 1, rolledBack[0].Finalized)

	undoFailed := errors.New("undo failed")
	done.Rollback = func(context.Context, testState) error { return undoFailed }
	b["done"] = done
	exec, err = NewExecutor(diamondGraph(t), b, Config[testState]{Persister: &recordingPersister{err: diskFull}})
	require.NoError(t, err)
	_, resp, err := exec.Execute(context.Background(), nil, testState{})
	assert.ErrorIs(t, err, diskFull)
	assert.ErrorIs(t, err, undoFailed)
	assert.Contains(t, resp.Error, "undo failed")
}

func TestExecutor_CancelledContext(t *testing.T) {
	exec, err := NewExecutor(diamondGraph(t), diamondBindings(10), Config[testState]{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, resp, err := exec.Execute(ctx, nil, testState{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, dto.ExecutionStatusCancelled, resp.Status)
	for _, s := range resp.Steps {
		assert.Equal(t, dto.StepStatusSkipped, s.Status)
	}
}

func TestExecutor_CancelDuringStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := diamondBindings(10)
	b["a"] = Binding[testState]{Handler: func(ctx context.Context, _ testState) (Update[testState], error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	exec, err := NewExecutor(diamondGraph(t), b, Config[testState]{})
	require.NoError(t, err)

	_, resp, err := exec.Execute(ctx, nil, testState{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, dto.ExecutionStatusCancelled, resp.Status)
	done, _ := resp.Step("done")
	assert.Equal(t, dto.StepStatusSkipped, done.Status)
}

func TestExecutor_GeneratorsRunConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)
	gen := func() Handler[testState] {
		return func(context.Context, testState) (Update[testState], error) {
			started.Done()
			waitCh := make(chan struct{})
			go func() { started.Wait(); close(waitCh) }()
			select {
			case <-waitCh:
			case <-time.After(5 * time.Second):
				return nil, errors.New("sibling never started")
			}
			return nil, nil
		}
	}
	b := diamondBindings(10)
	b["a"] = Binding[testState]{Handler: gen()}
	b["b"] = Binding[testState]{Handler: gen()}

	exec, err := NewExecutor(diamondGraph(t), b, Config[testState]{Parallelism: 2})
	require.NoError(t, err)
	_, _, err = exec.Execute(context.Background(), nil, testState{})
	require.NoError(t, err)
}

func TestExecutor_ParallelismBound(t *testing.T) {
	var inflight, peak int32
	track := func(context.Context, testState) (Update[testState], error) {
		n := atomic.AddInt32(&inflight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		return nil, nil
	}
	b := diamondBindings(10)
	b["a"] = Binding[testState]{Handler: track}
	b["b"] = Binding[testState]{Handler: track}

	exec, err := NewExecutor(diamondGraph(t), b, Config[testState]{Parallelism: 1})
	require.NoError(t, err)
	_, _, err = exec.Execute(context.Background(), &dto.ExecutionRequest{FlowID: "diamond"}, testState{})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestNewExecutor_Errors(t *testing.T) {
	uncompiled := graph.New("g", "G")
	_, err := NewExecutor(uncompiled, map[string]Binding[testState]{}, Config[testState]{})
	assert.ErrorIs(t, err, ErrGraphNotCompiled)

	g := diamondGraph(t)

	missing := diamondBindings(1)
	delete(missing, "done")
	_, err = NewExecutor(g, missing, Config[testState]{})
	assert.ErrorIs(t, err, ErrMissingBinding)

	mismatch := diamondBindings(1)
	mismatch["decide"] = mismatch["done"]
	_, err = NewExecutor(g, mismatch, Config[testState]{})
	assert.ErrorIs(t, err, ErrBindingMismatch)

	extra := diamondBindings(1)
	extra["ghost"] = extra["done"]
	_, err = NewExecutor(g, extra, Config[testState]{})
	assert.ErrorIs(t, err, ErrUnboundStep)
}

func TestExecutor_InvalidRequest(t *testing.T) {
	exec, err := NewExecutor(diamondGraph(t), diamondBindings(1), Config[testState]{})
	require.NoError(t, err)
	_, _, err = exec.Execute(context.Background(), &dto.ExecutionRequest{Parallelism: -1}, testState{})
	assert.ErrorIs(t, err, dto.ErrInvalidParallelism)
}
