package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitflow/fruitflow/internal/core/checkpoint"
	"github.com/fruitflow/fruitflow/pkg/serialization"
)

func TestPostgresCheckpointSaver(t *testing.T) {
	dsn := os.Getenv("FRUITFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FRUITFLOW_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	saver, err := Connect(ctx, dsn, nil)
	require.NoError(t, err)
	defer saver.Close()

	runID := uuid.NewString()
	cp := &checkpoint.Checkpoint{
		ID:        runID + "-save_poem",
		FlowID:    "poem_flow",
		RunID:     runID,
		StepID:    "save_poem",
		State:     map[string]interface{}{"poem1_length": "long"},
		Metadata:  checkpoint.Metadata{Sequence: 1, Source: "test"},
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
		Version:   checkpoint.CurrentVersion,
	}
	require.NoError(t, saver.Save(ctx, cp))

	loaded, err := saver.Load(ctx, cp.ID)
	require.NoError(t, err)
	assert.Equal(t, "long", loaded.State["poem1_length"])
	assert.True(t, cp.Timestamp.Equal(loaded.Timestamp))

	list, err := saver.List(ctx, checkpoint.Filter{RunID: runID})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, saver.Delete(ctx, cp.ID))
	_, err = saver.Load(ctx, cp.ID)
	assert.ErrorIs(t, err, checkpoint.ErrCheckpointNotFound)
}

func TestPostgresCheckpointSaver_Errors(t *testing.T) {
	ctx := context.Background()

	// nil pool; every case must fail before touching it
	saver := &CheckpointSaver{
		serializer: serialization.Default(),
		tableName:  "flow_snapshots",
	}

	assert.Equal(t, checkpoint.ErrInvalidCheckpointID, saver.Save(ctx, nil))
	assert.ErrorIs(t, saver.Save(ctx, &checkpoint.Checkpoint{ID: "x"}), checkpoint.ErrInvalidFlowID)

	_, err := saver.Load(ctx, "")
	assert.Equal(t, checkpoint.ErrInvalidCheckpointID, err)

	assert.Equal(t, checkpoint.ErrInvalidCheckpointID, saver.Delete(ctx, ""))

	_, err = saver.List(ctx, checkpoint.Filter{Limit: -1})
	assert.ErrorIs(t, err, checkpoint.ErrInvalidLimit)
}

func TestBuildListQuery(t *testing.T) {
	s := NewCheckpointSaver(nil, nil)
	since := time.Unix(100, 0)

	query, args := s.buildListQuery(checkpoint.Filter{FlowID: "f", RunID: "r", Since: &since, Limit: 5, Offset: 2})
	assert.Contains(t, query, "flow_id = $1")
	assert.Contains(t, query, "run_id = $2")
	assert.Contains(t, query, "timestamp > $3")
	assert.Contains(t, query, "LIMIT $4")
	assert.Contains(t, query, "OFFSET $5")
	assert.Equal(t, []interface{}{"f", "r", since, 5, 2}, args)
}
