package usecases

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"pgregory.net/rapid"

	"github.com/fruitflow/fruitflow/internal/app/dto"
)

// For any length of a, the router picks exactly one branch by the 150 threshold
// and done runs exactly once, after both a and b.
func TestProperty_RoutingAndSingleFinalize(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		aLen := rapid.IntRange(0, 400).Draw(rt, "aLen")
		parallelism := rapid.IntRange(1, 8).Draw(rt, "parallelism")

		var doneCalls int32
		b := diamondBindings(aLen)
		b["done"] = Binding[testState]{Handler: func(_ context.Context, s testState) (Update[testState], error) {
			atomic.AddInt32(&doneCalls, 1)
			if (aLen > 0 && s.A == "") || s.B == "" {
				rt.Fatalf("done ran before both generators: %+v", s)
			}
			return set(func(st *testState) { st.Finalized++ }), nil
		}}

		exec, err := NewExecutor(diamondGraph(rt), b, Config[testState]{Parallelism: parallelism})
		if err != nil {
			rt.Fatal(err)
		}
		final, resp, err := exec.Execute(context.Background(), nil, testState{})
		if err != nil {
			rt.Fatal(err)
		}

		want := "long"
		if aLen < 150 {
			want = "short"
		}
		if final.Length != want {
			rt.Fatalf("aLen=%d: got %q, want %q", aLen, final.Length, want)
		}
		if len(resp.Labels) != 1 || resp.Labels[0] != want {
			rt.Fatalf("labels %v", resp.Labels)
		}
		if n := atomic.LoadInt32(&doneCalls); n != 1 {
			rt.Fatalf("done ran %d times", n)
		}
		skipped := 0
		for _, s := range resp.Steps {
			if s.Status == dto.StepStatusSkipped {
				skipped++
			}
		}
		if skipped != 1 {
			rt.Fatalf("expected exactly one skipped branch, got %d", skipped)
		}
	})
}

// Every listener of start observes the value start wrote.
func TestProperty_ListenersSeeStartState(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("b receives the count produced by start", prop.ForAll(
		func(count int) bool {
			b := diamondBindings(1)
			b["start"] = Binding[testState]{Handler: func(context.Context, testState) (Update[testState], error) {
				return set(func(s *testState) { s.Count = count }), nil
			}}
			exec, err := NewExecutor(diamondGraph(t), b, Config[testState]{})
			if err != nil {
				return false
			}
			final, _, err := exec.Execute(context.Background(), nil, testState{})
			return err == nil && final.B == strings.Repeat("b", count)
		},
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}
