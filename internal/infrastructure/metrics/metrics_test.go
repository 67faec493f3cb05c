package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fruitflow/fruitflow/internal/app/dto"
)

func TestRecorder(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry(), nil)

	r.RunFinished("poem_flow", dto.ExecutionStatusCompleted, time.Second)
	r.RunFinished("poem_flow", dto.ExecutionStatusFailed, time.Second)
	r.StepStarted("generate_poem1")
	r.StepFinished("generate_poem1", dto.StepStatusCompleted, 10*time.Millisecond)
	r.LabelEmitted("short1")
	r.LabelEmitted("short1")
	r.SnapshotSaved(nil)
	r.SnapshotSaved(errors.New("disk full"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.runsTotal.WithLabelValues("poem_flow", "completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.labelsTotal.WithLabelValues("short1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.snapshotsTotal.WithLabelValues("error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.inflightSteps))

	expected := `
# HELP fruitflow_steps_total Total number of step executions by status
# TYPE fruitflow_steps_total counter
fruitflow_steps_total{status="completed",step="generate_poem1"} 1
`
	require.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected), "fruitflow_steps_total"))
}

func TestNewRecorder_DefaultRegistry(t *testing.T) {
	a := NewRecorder(nil, nil)
	b := NewRecorder(nil, nil)
	assert.NotSame(t, a.Registry(), b.Registry(), "each recorder gets its own registry")

	families, err := a.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
