package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/loykin/taskvisor/internal/model"
	"github.com/loykin/taskvisor/internal/store"
	"gopkg.in/yaml.v3"
)

// Store keeps the snapshot in a single document on disk. Files ending in
// .yaml or .yml are written as YAML, everything else as JSON.
// Save writes a sibling temp file and renames it over the target.
type Store struct {
	mu   sync.Mutex
	path string
	yaml bool
}

func New(path string) (*Store, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty snapshot path")
	}
	p = filepath.Clean(p)
	ext := strings.ToLower(filepath.Ext(p))
	return &Store{path: p, yaml: ext == ".yaml" || ext == ".yml"}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Load(_ context.Context) (model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return store.Empty(), nil
		}
		return model.Snapshot{}, err
	}
	if !s.yaml {
		snap, err := store.Decode(b)
		if err != nil {
			return model.Snapshot{}, fmt.Errorf("decode %s: %w", s.path, err)
		}
		return snap, nil
	}
	var snap model.Snapshot
	if err := yaml.Unmarshal(b, &snap); err != nil {
		return model.Snapshot{}, fmt.Errorf("decode %s: %w", s.path, err)
	}
	if snap.Applications == nil {
		snap.Applications = []model.ManagedApplication{}
	}
	return snap, nil
}

func (s *Store) Save(_ context.Context, snap model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		b   []byte
		err error
	)
	if s.yaml {
		if snap.Applications == nil {
			snap.Applications = []model.ManagedApplication{}
		}
		b, err = yaml.Marshal(snap)
	} else {
		b, err = store.Encode(snap)
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (s *Store) Close() error { return nil }
