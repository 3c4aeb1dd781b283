// Package runstore keeps the records of on-demand sync runs in memory.
package runstore

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/healthsync/internal/syncer"
)

var (
	// ErrNotFound is returned for unknown run IDs.
	ErrNotFound = errors.New("run not found")
	// ErrExists is returned when a run ID is created twice.
	ErrExists = errors.New("run already exists")
)

// Store provides an in-memory run registry.
type Store struct {
	mu    sync.RWMutex
	runs  map[string]syncer.Report
	order []string
	limit int
}

// New constructs a Store that forgets the oldest runs beyond limit; limit <= 0 keeps everything.
func New(limit int) *Store {
	return &Store{runs: make(map[string]syncer.Report), limit: limit}
}

// Create stores a new run.
func (s *Store) Create(_ context.Context, run syncer.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.RunID]; exists {
		return ErrExists
	}
	s.runs[run.RunID] = run
	s.order = append(s.order, run.RunID)
	if s.limit > 0 && len(s.order) > s.limit {
		evict := s.order[0]
		s.order = s.order[1:]
		delete(s.runs, evict)
	}
	return nil
}

// Update replaces the stored record for run.RunID.
func (s *Store) Update(_ context.Context, run syncer.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.RunID]; !ok {
		return ErrNotFound
	}
	s.runs[run.RunID] = run
	return nil
}

// Get fetches a run by ID.
func (s *Store) Get(_ context.Context, runID string) (syncer.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return syncer.Report{}, ErrNotFound
	}
	return run, nil
}

// List returns runs newest first.
func (s *Store) List(_ context.Context) ([]syncer.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]syncer.Report, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.runs[s.order[i]])
	}
	return out, nil
}
