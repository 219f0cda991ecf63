package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/job"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to engine errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("job execution panicked",
					slog.String("job_id", j.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = genqueue.NewExecutionError(genqueue.KindEngine, fmt.Errorf("panic in job %s: %v", j.ID, r))
			}
		}()
		return next(ctx)
	}
}
