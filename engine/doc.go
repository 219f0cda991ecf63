// Package engine wires the genqueue subsystems together and provides the
// application-level API for submitting and controlling generation jobs.
//
// The engine sits above the root genqueue package (configuration, errors)
// and the subsystem packages (job, queue, worker, execution, stream), and
// below the HTTP layer.
//
// # Building an Engine
//
//	d, err := genqueue.New(
//	    genqueue.WithStore(memory.New()),
//	    genqueue.WithMaxConcurrent(2),
//	    genqueue.WithJobTimeout(5*time.Minute),
//	)
//
//	eng, err := engine.Build(d,
//	    engine.WithEngine(comfy.New("http://127.0.0.1:8188")),
//	    engine.WithExtension(natshook.New(nc)),
//	    engine.WithLimiter(queue.NewLimiter(queue.OwnerConfig{MaxPending: 20})),
//	)
//
// # Submitting Work
//
//	jobID, err := eng.Submit(ctx, payload, owner, 5)
//	view, err := eng.GetJob(ctx, jobID, owner)
//	err = eng.Cancel(ctx, jobID, owner)
//
// # Options
//
//   - [WithEngine]: set the generation engine
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the execution chain
//   - [WithLimiter]: enable per-owner admission limits
//   - [WithTracerProvider]: set the OpenTelemetry tracer provider
//   - [WithMeterProvider]: set the OpenTelemetry meter provider
package engine
