package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitflow/fruitflow/internal/core/checkpoint"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func snap(id, run string, seq int, ts time.Time) *checkpoint.Checkpoint {
	return &checkpoint.Checkpoint{
		ID:        id,
		FlowID:    "poem_flow",
		RunID:     run,
		StepID:    "save_poem",
		State:     map[string]interface{}{"poem1": "roses", "sentence_count": 3},
		Metadata:  checkpoint.Metadata{Sequence: seq, Source: "test"},
		Timestamp: ts,
		Version:   checkpoint.CurrentVersion,
	}
}

func TestSaver_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewSaver(Config{})
	now := time.Now()

	require.NoError(t, s.Save(ctx, snap("c1", "r1", 1, now)))

	loaded, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "r1", loaded.RunID)
	assert.Equal(t, "roses", loaded.State["poem1"])
	assert.Equal(t, 1, loaded.Metadata.Sequence)

	// stored copy is isolated from the caller's map
	loaded.State["poem1"] = "mutated"
	again, err := s.Load(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "roses", again.State["poem1"])

	require.NoError(t, s.Delete(ctx, "c1"))
	_, err = s.Load(ctx, "c1")
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "c1"), checkpoint.ErrCheckpointNotFound)
}

func TestSaver_Errors(t *testing.T) {
	ctx := context.Background()
	s := NewSaver(Config{})

	assert.ErrorIs(t, s.Save(ctx, nil), checkpoint.ErrInvalidCheckpointID)
	assert.ErrorIs(t, s.Save(ctx, &checkpoint.Checkpoint{ID: "x", FlowID: "f"}), checkpoint.ErrInvalidRunID)
	_, err := s.Load(ctx, "")
	assert.ErrorIs(t, err, checkpoint.ErrInvalidCheckpointID)
	_, err = s.List(ctx, checkpoint.Filter{Limit: -1})
	assert.ErrorIs(t, err, checkpoint.ErrInvalidLimit)
}

func TestSaver_ListOrderingAndPaging(t *testing.T) {
	ctx := context.Background()
	s := NewSaver(Config{})
	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Save(ctx, snap(fmt.Sprintf("c%d", i), "r1", i, base.Add(time.Duration(i)*time.Second))))
	}
	require.NoError(t, s.Save(ctx, snap("other", "r2", 0, base)))

	all, err := s.List(ctx, checkpoint.Filter{RunID: "r1"})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "c4", all[0].ID)
	assert.Equal(t, "c0", all[4].ID)

	paged, err := s.List(ctx, checkpoint.Filter{RunID: "r1", Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, paged, 2)
	assert.Equal(t, "c3", paged[0].ID)
	assert.Equal(t, "c2", paged[1].ID)

	none, err := s.List(ctx, checkpoint.Filter{RunID: "r1", Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSaver_TTLAndEviction(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Now()}
	s := NewSaver(Config{TTL: time.Minute, MaxEntries: 2, Now: clock.Now})

	require.NoError(t, s.Save(ctx, snap("a", "r", 1, clock.t)))
	require.NoError(t, s.Save(ctx, snap("b", "r", 2, clock.t.Add(time.Second))))
	require.NoError(t, s.Save(ctx, snap("c", "r", 3, clock.t.Add(2*time.Second))))
	assert.Equal(t, 2, s.Len())
	_, err := s.Load(ctx, "a")
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointNotFound, "oldest evicted")

	clock.t = clock.t.Add(2 * time.Minute)
	_, err = s.Load(ctx, "c")
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointNotFound, "expired")
	assert.Equal(t, 0, s.Len())
}
