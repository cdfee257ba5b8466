package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/loykin/taskvisor/internal/model"
)

// Store persists the full registry snapshot as a single document.
// Load must return an empty snapshot (not an error) when nothing was saved yet.
// Save must replace the previous document atomically: a failed Save leaves the
// earlier version readable.
type Store interface {
	Load(ctx context.Context) (model.Snapshot, error)
	Save(ctx context.Context, snap model.Snapshot) error
	Close() error
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Encode renders a snapshot as the JSON document body shared by the database backends.
func Encode(snap model.Snapshot) ([]byte, error) {
	if snap.Applications == nil {
		snap.Applications = []model.ManagedApplication{}
	}
	return json.Marshal(snap)
}

// Decode parses a document produced by Encode. Empty input yields an empty snapshot.
func Decode(b []byte) (model.Snapshot, error) {
	var snap model.Snapshot
	if len(b) == 0 {
		return Empty(), nil
	}
	if err := json.Unmarshal(b, &snap); err != nil {
		return model.Snapshot{}, err
	}
	if snap.Applications == nil {
		snap.Applications = []model.ManagedApplication{}
	}
	return snap, nil
}

// Empty is the default snapshot used when no prior state exists.
func Empty() model.Snapshot {
	return model.Snapshot{Applications: []model.ManagedApplication{}}
}

// Memory keeps the snapshot in process memory. Useful for tests and for
// running without durable state ("memory://").
type Memory struct {
	mu     sync.Mutex
	snap   *model.Snapshot
	saves  int
	closed bool
	// FailSave, when set, is returned from Save without touching state.
	FailSave error
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Load(_ context.Context) (model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return model.Snapshot{}, ErrClosed
	}
	if m.snap == nil {
		return Empty(), nil
	}
	return m.snap.Clone(), nil
}

func (m *Memory) Save(_ context.Context, snap model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.FailSave != nil {
		return m.FailSave
	}
	c := snap.Clone()
	m.snap = &c
	m.saves++
	return nil
}

// Saves reports how many successful Save calls were made.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
