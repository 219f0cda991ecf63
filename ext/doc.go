// Package ext defines the extension system for genqueue.
//
// Extensions are notified of job lifecycle events and can react to them:
// publishing to a message bus, writing audit logs, recording metrics,
// streaming to watchers.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s completed in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Hooks
//
//   - [JobEnqueued]: job was accepted into the queue
//   - [JobStarted]: job moved to running
//   - [JobProgress]: a running job reported more progress
//   - [JobCompleted]: job finished successfully
//   - [JobFailed]: execution failed, timed out, or was interrupted
//   - [JobCancelled]: owner cancelled a queued job
//   - [Shutdown]: the engine is shutting down
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface. Hook errors are logged and
// never reach the job pipeline.
package ext
