package crew

import (
	"context"
	"fmt"
	"sort"
)

// BeforeKickoff runs before the first task. It receives a copy of the
// kickoff inputs and returns the inputs the tasks will see.
type BeforeKickoff func(ctx context.Context, inputs map[string]any) (map[string]any, error)

// AfterKickoff runs after the last task and may replace the output.
type AfterKickoff func(ctx context.Context, out *Output) (*Output, error)

// Condition decides whether a conditional task runs, given the output of
// the task before it.
type Condition func(prev TaskOutput) bool

// RequireInputs rejects a kickoff missing any of names.
func RequireInputs(names ...string) BeforeKickoff {
	return func(_ context.Context, inputs map[string]any) (map[string]any, error) {
		var missing []string
		for _, n := range names {
			if _, ok := inputs[n]; !ok {
				missing = append(missing, n)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return nil, fmt.Errorf("%w: %v", ErrMissingInput, missing)
		}
		return inputs, nil
	}
}

// IntInRange rejects a kickoff whose input name is not an integer in
// [lo, hi].
func IntInRange(name string, lo, hi int) BeforeKickoff {
	return func(_ context.Context, inputs map[string]any) (map[string]any, error) {
		n, ok := inputs[name].(int)
		if !ok || n < lo || n > hi {
			return nil, fmt.Errorf("%w: %s must be an integer in [%d, %d], got %v", ErrInvalidInput, name, lo, hi, inputs[name])
		}
		return inputs, nil
	}
}
