// Package varsync keeps a local copy of parameters published by a learner.
//
// A Source is the remote side: it returns the latest versioned snapshot of a
// set of named variables. A Client pulls from a Source, caches the newest
// snapshot and refreshes it on a fixed episode period.
package varsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNotReady means nothing has been published yet. Callers waiting
	// for the first snapshot keep polling on it.
	ErrNotReady = errors.New("variables not yet available")

	// ErrSyncExhausted is returned once every retry of a fetch has failed.
	ErrSyncExhausted = errors.New("variable sync retries exhausted")

	// ErrUnknownVariable is returned when a requested name was never
	// published.
	ErrUnknownVariable = errors.New("unknown variable")
)

// Snapshot is a versioned set of named parameter vectors.
type Snapshot struct {
	Version int64                `json:"version"`
	Values  map[string][]float64 `json:"values"`
}

// Get returns the named vector.
func (s Snapshot) Get(name string) ([]float64, bool) {
	v, ok := s.Values[name]
	return v, ok
}

// Select returns a copy of the snapshot restricted to names. An empty names
// list selects everything.
func (s Snapshot) Select(names []string) (Snapshot, error) {
	out := Snapshot{Version: s.Version, Values: make(map[string][]float64)}
	if len(names) == 0 {
		for k, v := range s.Values {
			out.Values[k] = append([]float64(nil), v...)
		}
		return out, nil
	}
	for _, name := range names {
		v, ok := s.Values[name]
		if !ok {
			return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownVariable, name)
		}
		out.Values[name] = append([]float64(nil), v...)
	}
	return out, nil
}

// Source returns the latest published variables.
type Source interface {
	Variables(ctx context.Context, names []string) (Snapshot, error)
}

// Publisher is implemented by sources a learner can write to.
type Publisher interface {
	Publish(ctx context.Context, values map[string][]float64) (int64, error)
}

// MemorySource is an in-process Source and Publisher. Every Publish bumps
// the version.
type MemorySource struct {
	mu       sync.RWMutex
	snapshot Snapshot
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{}
}

// Publish replaces the stored variables and returns the new version.
func (m *MemorySource) Publish(_ context.Context, values map[string][]float64) (int64, error) {
	copied := make(map[string][]float64, len(values))
	for k, v := range values {
		copied[k] = append([]float64(nil), v...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshot = Snapshot{Version: m.snapshot.Version + 1, Values: copied}
	return m.snapshot.Version, nil
}

// Variables implements Source.
func (m *MemorySource) Variables(_ context.Context, names []string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.snapshot.Version == 0 {
		return Snapshot{}, ErrNotReady
	}
	return m.snapshot.Select(names)
}

// Version returns the latest published version, 0 if none.
func (m *MemorySource) Version() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.Version
}
