package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/fruitflow/fruitflow/internal/app/usecases"
	"github.com/fruitflow/fruitflow/internal/core/checkpoint"
)

// ErrNoSnapshots is returned when a run has no stored snapshot.
var ErrNoSnapshots = errors.New("no snapshots for run")

// SnapshotService stores and restores typed run state through a
// checkpoint.Saver. State is converted to a plain map with mapstructure,
// so any store that can hold a map can hold any state type.
type SnapshotService[S any] struct {
	saver  checkpoint.Saver
	logger *zap.Logger
	source string
	now    func() time.Time
}

// NewSnapshotService creates a snapshot service over saver
func NewSnapshotService[S any](saver checkpoint.Saver, logger *zap.Logger) *SnapshotService[S] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotService[S]{
		saver:  saver,
		logger: logger.With(zap.String("component", "snapshots")),
		source: "flow_executor",
		now:    time.Now,
	}
}

// Persist implements usecases.Persister.
func (s *SnapshotService[S]) Persist(ctx context.Context, req usecases.PersistRequest[S]) (string, error) {
	cp, err := s.Save(ctx, req)
	if err != nil {
		return "", err
	}
	return cp.ID, nil
}

// Save writes a snapshot of req.State and returns it.
func (s *SnapshotService[S]) Save(ctx context.Context, req usecases.PersistRequest[S]) (*checkpoint.Checkpoint, error) {
	state, err := ToMap(req.State)
	if err != nil {
		return nil, err
	}
	cp := &checkpoint.Checkpoint{
		ID:     fmt.Sprintf("%s-%s-%d", req.RunID, req.StepID, req.Sequence),
		FlowID: req.FlowID,
		RunID:  req.RunID,
		StepID: req.StepID,
		State:  state,
		Metadata: checkpoint.Metadata{
			Sequence:  req.Sequence,
			Source:    s.source,
			Labels:    req.Labels,
			Completed: req.Completed,
			CreatedBy: "fruitflow",
		},
		Timestamp: s.now(),
		Version:   checkpoint.CurrentVersion,
	}
	if err := s.saver.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}
	s.logger.Debug("snapshot saved",
		zap.String("checkpoint_id", cp.ID),
		zap.String("run_id", cp.RunID),
		zap.String("step_id", cp.StepID))
	return cp, nil
}

// Restore loads a snapshot and decodes its state.
func (s *SnapshotService[S]) Restore(ctx context.Context, checkpointID string) (S, *checkpoint.Checkpoint, error) {
	var state S
	cp, err := s.saver.Load(ctx, checkpointID)
	if err != nil {
		return state, nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if err := FromMap(cp.State, &state); err != nil {
		return state, nil, err
	}
	return state, cp, nil
}

// Latest restores the newest snapshot of a run.
func (s *SnapshotService[S]) Latest(ctx context.Context, runID string) (S, *checkpoint.Checkpoint, error) {
	var state S
	list, err := s.saver.List(ctx, checkpoint.Filter{RunID: runID, Limit: 1})
	if err != nil {
		return state, nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	if len(list) == 0 {
		return state, nil, fmt.Errorf("%w: %s", ErrNoSnapshots, runID)
	}
	if err := FromMap(list[0].State, &state); err != nil {
		return state, nil, err
	}
	return state, list[0], nil
}

// ResumePoint reads where a run stood when cp was taken.
func ResumePoint(cp *checkpoint.Checkpoint) usecases.ResumePoint {
	return usecases.ResumePoint{
		Completed: append([]string(nil), cp.Metadata.Completed...),
		Labels:    append([]string(nil), cp.Metadata.Labels...),
		Sequence:  cp.Metadata.Sequence,
	}
}

// History returns every snapshot of a run, newest first.
func (s *SnapshotService[S]) History(ctx context.Context, runID string) ([]*checkpoint.Checkpoint, error) {
	list, err := s.saver.List(ctx, checkpoint.Filter{RunID: runID})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return list, nil
}

// Recent returns the newest snapshots of a flow across runs.
func (s *SnapshotService[S]) Recent(ctx context.Context, flowID string, limit int) ([]*checkpoint.Checkpoint, error) {
	list, err := s.saver.List(ctx, checkpoint.Filter{FlowID: flowID, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return list, nil
}

// ToMap converts a state struct into a map keyed by its mapstructure tags.
func ToMap(v interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if err := mapstructure.Decode(v, &out); err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return out, nil
}

// FromMap decodes a snapshot map into out. Numeric kinds are converted, so
// maps that went through msgpack or JSON decode cleanly.
func FromMap(in map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("failed to decode state: %w", err)
	}
	return nil
}
