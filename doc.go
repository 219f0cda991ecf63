// Package genqueue provides the asynchronous job queue and worker dispatch
// layer of a video-generation backend. It accepts generation requests,
// bounds concurrent execution, tracks per-job state and progress, and
// exposes status and cancellation to clients.
//
// genqueue is usable as a library or through the genqueue binary in
// cmd/genqueue. The root package holds configuration, the sentinel errors,
// and the Dispatcher shell; the engine package wires the subsystems.
//
// # Quick Start
//
//	d, err := genqueue.New(
//	    genqueue.WithStore(memory.New()),
//	    genqueue.WithMaxConcurrent(2),
//	    genqueue.WithJobTimeout(5*time.Minute),
//	)
//
//	eng, err := engine.Build(d, engine.WithEngine(simulated.New()))
//	eng.Start(ctx)
//	jobID, err := eng.Submit(ctx, payload, "alice", 5)
//
// # Architecture
//
// Jobs move queued → running → {completed, failed}. A single dispatch
// goroutine decides what runs next; it is woken by admission and by
// completion and never polls. Lower priority values dispatch first, FIFO
// among equal priorities.
//
// All entity IDs are TypeID-formatted: type-prefixed, K-sortable,
// UUIDv7-based identifiers such as "job_01h2xcejqtf2nbrexx3vqjhp41".
package genqueue
