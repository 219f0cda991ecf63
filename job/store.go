package job

import (
	"context"

	"github.com/xraph/genqueue/id"
)

// ListOpts controls pagination for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// State filters by job state. Empty means all states.
	State State
	// Owner filters by owning principal. Empty means all owners.
	Owner string
}

// MutateFunc changes a job in place. Returning an error aborts the update
// and leaves the stored job unchanged.
type MutateFunc func(j *Job) error

// Store defines the persistence contract for jobs. Implementations return
// copies; callers never share memory with the store.
type Store interface {
	// CreateJob persists a new job.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob applies fn to the current stored job and persists the
	// result. Writers to the same job are serialized, so fn always sees
	// the latest state. It returns the updated job.
	UpdateJob(ctx context.Context, jobID id.JobID, fn MutateFunc) (*Job, error)

	// ListJobsByState returns jobs in the given state, oldest first.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// CountByState returns the number of jobs in every state, read as one
	// snapshot so each job is counted exactly once.
	CountByState(ctx context.Context) (map[State]int64, error)
}
