// Package mock provides an in-memory test double for store.Store.
//
// Unlike a pure stub, it holds real state so that components under test
// (the job manager, resume flows) observe realistic read-after-write
// behavior without a database.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/subtitleworks/core/internal/store"
	"github.com/subtitleworks/core/pkg/types"
)

var _ store.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store, safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	jobs  map[string]*types.Job
	calls []string
}

// New returns an empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]*types.Job)}
}

// Calls returns the names of every method invoked so far, in order.
func (s *Store) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

func (s *Store) record(method string) { s.calls = append(s.calls, method) }

// UpsertJob implements store.Store. The stored job is a deep-enough copy
// (via JSON-free struct copy) that later mutation of the caller's job
// doesn't retroactively change what was "persisted".
func (s *Store) UpsertJob(_ context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("UpsertJob")
	cp := *job
	s.jobs[job.JobID] = &cp
	return nil
}

// GetJob implements store.Store.
func (s *Store) GetJob(_ context.Context, jobID string) (*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("GetJob")
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

// ListJobsByUser implements store.Store.
func (s *Store) ListJobsByUser(_ context.Context, userID string, limit int) ([]*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ListJobsByUser")

	var matched []*types.Job
	for _, job := range s.jobs {
		if job.UserID == userID {
			cp := *job
			matched = append(matched, &cp)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].UpdatedAt.After(matched[j].UpdatedAt) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// ListAll implements store.Store.
func (s *Store) ListAll(_ context.Context) ([]*types.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("ListAll")
	out := make([]*types.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		cp := *job
		out = append(out, &cp)
	}
	return out, nil
}

// DeleteJob implements store.Store.
func (s *Store) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("DeleteJob")
	delete(s.jobs, jobID)
	return nil
}

// SweepOlderThan implements store.Store.
func (s *Store) SweepOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("SweepOlderThan")
	var removed int64
	for id, job := range s.jobs {
		if job.UpdatedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed, nil
}

// Close implements store.Store.
func (s *Store) Close() {}
