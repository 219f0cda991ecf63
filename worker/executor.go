// Package worker dispatches queued jobs. A Pool owns the pending sequence
// and the running set; an Executor runs one job through middleware and
// the execution adapter, then records its terminal state.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/ext"
	"github.com/xraph/genqueue/job"
	"github.com/xraph/genqueue/middleware"
)

// Runner produces a job's result. *execution.Adapter satisfies it.
type Runner interface {
	Execute(ctx context.Context, j *job.Job) (json.RawMessage, error)
}

// Executor runs a single job through middleware and the Runner, then
// persists the outcome and emits lifecycle events. Failed jobs are never
// retried.
type Executor struct {
	runner     Runner
	extensions *ext.Registry
	store      job.Store
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	runner Runner,
	extensions *ext.Registry,
	store job.Store,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		runner:     runner,
		extensions: extensions,
		store:      store,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs j, which must already be Running, and stores its terminal
// state. The returned error is the execution failure, if any.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	start := time.Now()

	var result json.RawMessage
	terminal := func(ctx context.Context) error {
		res, err := e.runner.Execute(ctx, j)
		result = res
		return err
	}

	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	// The run context may already be cancelled; persistence must not be.
	storeCtx := context.WithoutCancel(ctx)
	if err != nil {
		return e.handleFailure(storeCtx, j, err)
	}
	return e.handleSuccess(storeCtx, j, result, elapsed)
}

func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, result json.RawMessage, elapsed time.Duration) error {
	updated, updateErr := e.store.UpdateJob(ctx, j.ID, func(cur *job.Job) error {
		return cur.Complete(result, time.Now().UTC())
	})
	if updateErr != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobCompleted(ctx, updated, elapsed)
	return nil
}

func (e *Executor) handleFailure(ctx context.Context, j *job.Job, execErr error) error {
	kind := job.FailureEngine
	var ee *genqueue.ExecutionError
	if errors.As(execErr, &ee) {
		kind = job.KindOf(ee.Kind)
	}

	updated, updateErr := e.store.UpdateJob(ctx, j.ID, func(cur *job.Job) error {
		return cur.Fail(kind, execErr.Error(), time.Now().UTC())
	})
	if updateErr != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return execErr
	}

	e.extensions.EmitJobFailed(ctx, updated, execErr)

	e.logger.Warn("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("owner", j.Owner),
		slog.String("kind", string(kind)),
		slog.String("error", execErr.Error()),
	)
	return execErr
}
