// Package memory provides an in-memory job store. It is safe for
// concurrent access and intended for development, tests, and single
// process deployments that do not need durability.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/job"
)

// Ensure Store implements the store contracts at compile time.
var (
	_ job.Store       = (*Store)(nil)
	_ genqueue.Storer = (*Store)(nil)
)

// Store is a fully in-memory implementation of job.Store.
// Reads and writes copy jobs so callers never share memory with the store.
type Store struct {
	mu     sync.RWMutex
	jobs   map[id.JobID]*job.Job
	closed bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs: make(map[id.JobID]*job.Job),
	}
}

// Ping reports ErrStoreClosed after Close.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return genqueue.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Stored jobs stay readable.
func (m *Store) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return genqueue.ErrStoreClosed
	}
	if _, exists := m.jobs[j.ID]; exists {
		return fmt.Errorf("%w: %s", genqueue.ErrJobAlreadyExists, j.ID)
	}
	m.jobs[j.ID] = j.Clone()
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, genqueue.ErrJobNotFound
	}
	return j.Clone(), nil
}

// UpdateJob applies fn to a copy of the stored job under the store lock
// and swaps the copy in when fn succeeds.
func (m *Store) UpdateJob(_ context.Context, jobID id.JobID, fn job.MutateFunc) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, genqueue.ErrStoreClosed
	}
	current, ok := m.jobs[jobID]
	if !ok {
		return nil, genqueue.ErrJobNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.Owner = current.Owner
	m.jobs[jobID] = next
	return next.Clone(), nil
}

// ListJobsByState returns jobs in the given state, oldest first.
func (m *Store) ListJobsByState(_ context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.State != state {
			continue
		}
		result = append(result, j.Clone())
	}

	// IDs are time ordered, so they break CreatedAt ties deterministically.
	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if opts.Owner != "" && j.Owner != opts.Owner {
			continue
		}
		count++
	}
	return count, nil
}

// CountByState counts jobs per state under a single read lock.
func (m *Store) CountByState(_ context.Context) (map[job.State]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[job.State]int64, len(job.States))
	for _, st := range job.States {
		counts[st] = 0
	}
	for _, j := range m.jobs {
		counts[j.State]++
	}
	return counts, nil
}
