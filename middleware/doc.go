// Package middleware provides composable middleware for job execution.
//
// A [Middleware] wraps the call into the execution adapter. Middleware are
// composed into a chain using [Chain] and applied around each execution.
// They are applied right-to-left: the first middleware in the slice is the
// outermost wrapper.
//
//	// logging → recover → adapter
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs job id, owner, priority, duration, and outcome
//   - [Recover]: catches panics and converts them to errors
//   - [Tracing]: wraps execution in an OpenTelemetry span
//   - [Metrics]: records per-job duration and outcome counters
//
// The per-job timeout is not a middleware: the execution adapter enforces
// it so that a timeout is reported even when the engine ignores its
// context.
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) error {
//	        // pre-processing
//	        err := next(ctx)
//	        // post-processing
//	        return err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
