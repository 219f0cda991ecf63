// Package job defines the job entity, its state machine, the client view,
// and the store interface.
//
// # Job Entity
//
// A [Job] is one generation request. It carries an opaque JSON payload
// that the queue never inspects beyond checking it is an object, and it
// progresses through a state machine:
//
//	queued → running → completed
//	queued → running → failed
//	queued → failed            (cancelled by owner)
//
// Terminal states absorb: [Job.Start], [Job.Complete], [Job.Fail] and
// [Job.Cancel] return genqueue.ErrInvalidState when called out of order.
//
// Fields of note:
//   - Priority: lower values are dispatched first
//   - Progress: 0..100, non-decreasing while running, reset to 0 on failure
//   - ProgressAtFailure: last progress seen before a failure
//   - Timeout: per-job execution limit copied from configuration
//
// # Store
//
// [Store] mutations go through [Store.UpdateJob], which serializes
// writers per job. Transition checks run inside the mutate function so a
// stale writer cannot move a terminal job.
package job
