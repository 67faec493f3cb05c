package graphrepo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coregraph "github.com/fruitflow/fruitflow/internal/core/graph"
)

func flow(id string) *coregraph.Graph {
	g := coregraph.New(id, "flow "+id)
	g.Steps["begin"] = &coregraph.Step{ID: "begin", Name: "Begin", Kind: coregraph.StepKindStart}
	g.Steps["next"] = &coregraph.Step{ID: "next", Name: "Next", Kind: coregraph.StepKindListener, Trigger: coregraph.After("begin")}
	return g
}

func TestInMemoryGraphRepository_Get_NotFound(t *testing.T) {
	repo := NewInMemoryGraphRepository()

	g, err := repo.Get(context.Background(), "does-not-exist")
	assert.Nil(t, g)
	assert.ErrorIs(t, err, coregraph.ErrGraphNotFound)
}

func TestInMemoryGraphRepository_SaveAndGet(t *testing.T) {
	repo := NewInMemoryGraphRepository()
	g := flow("g1")

	require.NoError(t, repo.Save(context.Background(), g))
	assert.True(t, g.Compiled(), "save compiles the graph")

	loaded, err := repo.Get(context.Background(), "g1")
	require.NoError(t, err)
	assert.Same(t, g, loaded)
	assert.Equal(t, []string{"begin", "next"}, loaded.TopologicalOrder())
}

func TestInMemoryGraphRepository_SaveInvalid(t *testing.T) {
	repo := NewInMemoryGraphRepository()

	g := flow("g-bad")
	g.Steps["next"].Trigger = coregraph.After("missing")

	err := repo.Save(context.Background(), g)
	require.ErrorIs(t, err, coregraph.ErrStepNotFound)

	_, err = repo.Get(context.Background(), "g-bad")
	assert.ErrorIs(t, err, coregraph.ErrGraphNotFound)
}

func TestInMemoryGraphRepository_List(t *testing.T) {
	repo := NewInMemoryGraphRepository()
	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, repo.Save(context.Background(), flow(id)))
	}

	all, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "c", all[2].ID)
}
