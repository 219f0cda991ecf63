// Package audithook records genqueue lifecycle events as an audit trail.
//
// Every job lifecycle hook emits a structured audit event through the
// [Recorder] interface, with a severity (info for normal operations,
// warning for cancellations, critical for failures) and metadata such as
// owner, priority, elapsed time and errors.
//
// # Usage with slog
//
//	f, _ := os.OpenFile("audit.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
//	audithook.New(audithook.NewSlogRecorder(slog.New(slog.NewJSONHandler(f, nil))))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobCancelled,
//	    ),
//	)
package audithook
