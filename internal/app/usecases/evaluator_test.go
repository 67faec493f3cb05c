package usecases

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitflow/fruitflow/internal/core/graph"
)

func TestReadiness_Complete(t *testing.T) {
	r := newReadiness(diamondGraph(t))
	for _, id := range r.g.StartSteps() {
		r.fire(id)
	}

	ready, err := r.complete("start", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ready)
	r.fire("a")
	r.fire("b")

	ready, err = r.complete("a", "")
	require.NoError(t, err)
	assert.Empty(t, ready, "decide waits for b")

	ready, err = r.complete("b", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"decide"}, ready)
	r.fire("decide")

	ready, err = r.complete("decide", "long")
	require.NoError(t, err)
	assert.Equal(t, []string{"long"}, ready)
	r.fire("long")

	ready, err = r.complete("long", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"done"}, ready)
	r.fire("done")

	assert.Equal(t, []string{"short"}, r.unfired())
}

func TestReadiness_FiredStepsNeverReturned(t *testing.T) {
	r := newReadiness(diamondGraph(t))
	r.fire("start")
	ready, err := r.complete("start", "")
	require.NoError(t, err)
	require.Len(t, ready, 2)
	r.fire("a")

	// completing start again must not offer a second time
	ready, err = r.complete("start", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ready)
}

func TestReadiness_Errors(t *testing.T) {
	r := newReadiness(diamondGraph(t))

	_, err := r.complete("ghost", "")
	assert.ErrorIs(t, err, graph.ErrStepNotFound)

	_, err = r.complete("decide", "maybe")
	assert.ErrorIs(t, err, graph.ErrUnknownLabel)

	_, err = r.complete("decide", "")
	assert.ErrorIs(t, err, graph.ErrUnknownLabel, "routers must emit a label")
}
