// Package ext defines the extension system for genqueue.
// Extensions are notified of lifecycle events (job enqueued, started,
// progressed, completed, failed, cancelled) and can react to them.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/genqueue/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// JobEnqueued is called after a job is accepted into the queue.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a job moves to running.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobProgress is called each time a running job's progress advances.
type JobProgress interface {
	OnJobProgress(ctx context.Context, j *job.Job, progress int) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when execution fails, times out, or is interrupted.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobCancelled is called when an owner cancels a queued job.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
