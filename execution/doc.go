// Package execution runs one job against a generation engine.
//
// An [Engine] is the black box that turns a payload into a result. The
// [Adapter] wraps it with the per-job wall clock limit, progress
// filtering, and error classification:
//
//   - the engine runs in its own goroutine; when the limit expires the
//     adapter returns a timeout immediately, even if the engine never
//     returns
//   - progress reports are clamped to [0, 100], dropped unless they
//     advance the last reported value, and ignored once Execute returns
//   - engine errors come back as *genqueue.ExecutionError with
//     KindEngine; the engine's message is kept verbatim
//
// Two engines ship with genqueue: execution/simulated, a staged stub for
// development, and execution/comfy, an HTTP client for a ComfyUI-style
// server.
package execution
