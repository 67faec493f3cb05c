package flowgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coregraph "github.com/fruitflow/fruitflow/internal/core/graph"
)

type counter struct {
	Hits  int
	Route string
}

func add(n int) Handler[counter] {
	return func(_ context.Context, _ counter) (Update[counter], error) {
		return func(c *counter) { c.Hits += n }, nil
	}
}

func routeBy(label string) Route[counter] {
	return func(context.Context, counter) (string, error) { return label, nil }
}

func branchFlow(t *testing.T, label string) *Flow[counter] {
	t.Helper()
	flow, err := NewBuilder[counter]("branch", "Branch").
		Start("begin", add(1)).
		Router("pick", After("begin"), []string{"left", "right"}, routeBy(label)).
		Listen("left", OnLabel("left"), add(10)).
		Listen("right", OnLabel("right"), add(100)).
		Listen("end", Or(After("left"), After("right")), add(1000)).
		Persist("end").
		Build()
	require.NoError(t, err)
	return flow
}

func TestBuilder_Build(t *testing.T) {
	flow := branchFlow(t, "left")
	assert.Equal(t, "branch", flow.ID())
	assert.True(t, flow.Graph().Compiled())

	end, ok := flow.Graph().Step("end")
	require.True(t, ok)
	assert.True(t, end.Persist)
	pick, _ := flow.Graph().Step("pick")
	assert.Equal(t, coregraph.StepKindRouter, pick.Kind)
}

func TestBuilder_Errors(t *testing.T) {
	_, err := NewBuilder[counter]("bad id", "Bad").Start("s", add(1)).Build()
	assert.Error(t, err)

	_, err = NewBuilder[counter]("f", "F").Start("s", nil).Build()
	assert.ErrorIs(t, err, ErrNilHandler)

	_, err = NewBuilder[counter]("f", "F").
		Start("s", add(1)).
		Start("s", add(2)).
		Build()
	assert.ErrorIs(t, err, coregraph.ErrDuplicateStep)

	_, err = NewBuilder[counter]("f", "F").Start("s", add(1)).Persist("ghost").Build()
	assert.ErrorIs(t, err, coregraph.ErrStepNotFound)

	_, err = NewBuilder[counter]("f", "F").Start("s", add(1)).
		Rollback("ghost", func(context.Context, counter) error { return nil }).Build()
	assert.ErrorIs(t, err, coregraph.ErrStepNotFound)

	_, err = NewBuilder[counter]("f", "F").Start("s", add(1)).Rollback("s", nil).Build()
	assert.ErrorIs(t, err, ErrNilHandler)

	_, err = NewBuilder[counter]("f", "F").
		Start("s", add(1)).
		Listen("l", After("missing"), add(1)).
		Build()
	assert.ErrorIs(t, err, coregraph.ErrStepNotFound)

	// first error wins
	_, err = NewBuilder[counter]("f", "F").
		Start("s", nil).
		Router("r", After("s"), nil, nil).
		Build()
	assert.ErrorContains(t, err, `step "s"`)
}
