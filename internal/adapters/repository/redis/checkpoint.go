// Package redis provides a checkpoint.Saver backed by Redis. Snapshots are
// stored as serialized strings with sorted-set indexes per flow and run,
// scored by timestamp.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fruitflow/fruitflow/internal/core/checkpoint"
	"github.com/fruitflow/fruitflow/pkg/serialization"
)

// Options configures a CheckpointSaver.
type Options struct {
	KeyPrefix  string        // defaults to "fruitflow:"
	TTL        time.Duration // zero keeps snapshots until deleted
	Serializer *serialization.Serializer
}

// CheckpointSaver implements checkpoint.Saver on top of a Redis client.
type CheckpointSaver struct {
	client     goredis.UniversalClient
	prefix     string
	ttl        time.Duration
	serializer *serialization.Serializer
}

// Dial connects to the Redis server at url (redis://...) and pings it.
func Dial(ctx context.Context, url string, opts Options) (*CheckpointSaver, error) {
	o, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := goredis.NewClient(o)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewCheckpointSaver(client, opts), nil
}

// NewCheckpointSaver wraps an existing client.
func NewCheckpointSaver(client goredis.UniversalClient, opts Options) *CheckpointSaver {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "fruitflow:"
	}
	if opts.Serializer == nil {
		opts.Serializer = serialization.Default()
	}
	return &CheckpointSaver{
		client:     client,
		prefix:     opts.KeyPrefix + "snapshot:",
		ttl:        opts.TTL,
		serializer: opts.Serializer,
	}
}

func (s *CheckpointSaver) dataKey(id string) string     { return s.prefix + "data:" + id }
func (s *CheckpointSaver) flowKey(flowID string) string { return s.prefix + "flow:" + flowID }
func (s *CheckpointSaver) runKey(runID string) string   { return s.prefix + "run:" + runID }
func (s *CheckpointSaver) allKey() string               { return s.prefix + "all" }

// scores are microseconds so they stay exact in a float64
func score(t time.Time) float64 { return float64(t.UnixMicro()) }

// Save stores a checkpoint and indexes it by flow and run
func (s *CheckpointSaver) Save(ctx context.Context, cp *checkpoint.Checkpoint) error {
	if cp == nil {
		return checkpoint.ErrInvalidCheckpointID
	}
	if err := cp.Validate(); err != nil {
		return err
	}
	data, err := s.serializer.Serialize(cp)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	z := goredis.Z{Score: score(cp.Timestamp), Member: cp.ID}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.dataKey(cp.ID), data, s.ttl)
		pipe.ZAdd(ctx, s.allKey(), z)
		pipe.ZAdd(ctx, s.flowKey(cp.FlowID), z)
		pipe.ZAdd(ctx, s.runKey(cp.RunID), z)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load retrieves a checkpoint by ID
func (s *CheckpointSaver) Load(ctx context.Context, id string) (*checkpoint.Checkpoint, error) {
	if id == "" {
		return nil, checkpoint.ErrInvalidCheckpointID
	}
	data, err := s.client.Get(ctx, s.dataKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, checkpoint.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return s.decode(data)
}

// List returns checkpoints matching the filter, newest first. Index members
// whose data expired are pruned as they are found.
func (s *CheckpointSaver) List(ctx context.Context, filter checkpoint.Filter) ([]*checkpoint.Checkpoint, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	index := s.allKey()
	switch {
	case filter.RunID != "":
		index = s.runKey(filter.RunID)
	case filter.FlowID != "":
		index = s.flowKey(filter.FlowID)
	}

	rng := &goredis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if filter.Since != nil {
		rng.Min = "(" + strconv.FormatInt(filter.Since.UnixMicro(), 10)
	}
	if filter.Before != nil {
		rng.Max = "(" + strconv.FormatInt(filter.Before.UnixMicro(), 10)
	}
	ids, err := s.client.ZRevRangeByScore(ctx, index, rng).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.dataKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch checkpoints: %w", err)
	}

	var (
		out   []*checkpoint.Checkpoint
		stale []interface{}
	)
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		cp, err := s.decode([]byte(str))
		if err != nil {
			return nil, err
		}
		if filter.Matches(cp) {
			out = append(out, cp)
		}
	}
	if len(stale) > 0 {
		s.client.ZRem(ctx, index, stale...)
	}

	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Delete removes a checkpoint and its index entries
func (s *CheckpointSaver) Delete(ctx context.Context, id string) error {
	cp, err := s.Load(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.dataKey(id))
		pipe.ZRem(ctx, s.allKey(), id)
		pipe.ZRem(ctx, s.flowKey(cp.FlowID), id)
		pipe.ZRem(ctx, s.runKey(cp.RunID), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Close closes the underlying client
func (s *CheckpointSaver) Close() error {
	return s.client.Close()
}

func (s *CheckpointSaver) decode(data []byte) (*checkpoint.Checkpoint, error) {
	var cp checkpoint.Checkpoint
	if err := s.serializer.Deserialize(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}
	return &cp, nil
}
