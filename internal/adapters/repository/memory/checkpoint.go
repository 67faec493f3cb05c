// Package memory provides a process-local checkpoint.Saver.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fruitflow/fruitflow/internal/core/checkpoint"
	"github.com/fruitflow/fruitflow/pkg/serialization"
)

// Config holds configuration for Saver
type Config struct {
	TTL        time.Duration             // zero keeps snapshots until deleted
	MaxEntries int                       // zero means unbounded; oldest evicted first
	Serializer *serialization.Serializer // defaults to serialization.Default()
	Now        func() time.Time
}

type entry struct {
	data      []byte
	flowID    string
	runID     string
	timestamp time.Time
	expiresAt time.Time
}

// Saver keeps serialized snapshots in a map. Entries are stored encoded so
// callers cannot mutate stored state through shared maps.
type Saver struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	ttl        time.Duration
	maxEntries int
	serializer *serialization.Serializer
	now        func() time.Time
}

// NewSaver creates a new in-memory snapshot store
func NewSaver(cfg Config) *Saver {
	if cfg.Serializer == nil {
		cfg.Serializer = serialization.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Saver{
		entries:    make(map[string]*entry),
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxEntries,
		serializer: cfg.Serializer,
		now:        cfg.Now,
	}
}

// Save stores a checkpoint in memory
func (s *Saver) Save(_ context.Context, cp *checkpoint.Checkpoint) error {
	if cp == nil {
		return checkpoint.ErrInvalidCheckpointID
	}
	if err := cp.Validate(); err != nil {
		return fmt.Errorf("checkpoint validation failed: %w", err)
	}
	data, err := s.serializer.Serialize(cp)
	if err != nil {
		return fmt.Errorf("checkpoint serialization failed: %w", err)
	}

	now := s.now()
	e := &entry{data: data, flowID: cp.FlowID, runID: cp.RunID, timestamp: cp.Timestamp}
	if s.ttl > 0 {
		e.expiresAt = now.Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[cp.ID] = e
	s.evictLocked(now)
	return nil
}

// Load retrieves a checkpoint from memory
func (s *Saver) Load(_ context.Context, id string) (*checkpoint.Checkpoint, error) {
	if id == "" {
		return nil, checkpoint.ErrInvalidCheckpointID
	}
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok || s.expired(e, s.now()) {
		return nil, checkpoint.ErrCheckpointNotFound
	}
	return s.decode(e)
}

// List returns checkpoints matching the filter, newest first
func (s *Saver) List(_ context.Context, filter checkpoint.Filter) ([]*checkpoint.Checkpoint, error) {
	if err := filter.Validate(); err != nil {
		return nil, fmt.Errorf("filter validation failed: %w", err)
	}

	now := s.now()
	s.mu.RLock()
	var matched []*checkpoint.Checkpoint
	for _, e := range s.entries {
		if s.expired(e, now) {
			continue
		}
		if filter.FlowID != "" && e.flowID != filter.FlowID {
			continue
		}
		if filter.RunID != "" && e.runID != filter.RunID {
			continue
		}
		cp, err := s.decode(e)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		if filter.Matches(cp) {
			matched = append(matched, cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Metadata.Sequence > matched[j].Metadata.Sequence
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	return page(matched, filter.Offset, filter.Limit), nil
}

// Delete removes a checkpoint from memory
func (s *Saver) Delete(_ context.Context, id string) error {
	if id == "" {
		return checkpoint.ErrInvalidCheckpointID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return checkpoint.ErrCheckpointNotFound
	}
	delete(s.entries, id)
	return nil
}

// Len returns the number of live snapshots.
func (s *Saver) Len() int {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if !s.expired(e, now) {
			n++
		}
	}
	return n
}

// Close releases nothing; it satisfies io.Closer like the SQL-backed stores.
func (s *Saver) Close() error { return nil }

func (s *Saver) decode(e *entry) (*checkpoint.Checkpoint, error) {
	var cp checkpoint.Checkpoint
	if err := s.serializer.Deserialize(e.data, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint deserialization failed: %w", err)
	}
	return &cp, nil
}

func (s *Saver) expired(e *entry, now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// evictLocked drops expired entries, then the oldest ones over MaxEntries.
func (s *Saver) evictLocked(now time.Time) {
	for id, e := range s.entries {
		if s.expired(e, now) {
			delete(s.entries, id)
		}
	}
	if s.maxEntries <= 0 || len(s.entries) <= s.maxEntries {
		return
	}
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.entries[ids[i]].timestamp.Before(s.entries[ids[j]].timestamp)
	})
	for _, id := range ids[:len(ids)-s.maxEntries] {
		delete(s.entries, id)
	}
}

func page(in []*checkpoint.Checkpoint, offset, limit int) []*checkpoint.Checkpoint {
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}
