package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/genqueue/ext"
	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/job"
)

var errStaleProgress = errors.New("stale progress")

// ProgressRecorder persists progress reports and emits JobProgress. It
// satisfies execution.ProgressSink.
type ProgressRecorder struct {
	store      job.Store
	extensions *ext.Registry
	logger     *slog.Logger
}

// NewProgressRecorder creates a ProgressRecorder.
func NewProgressRecorder(store job.Store, extensions *ext.Registry, logger *slog.Logger) *ProgressRecorder {
	return &ProgressRecorder{store: store, extensions: extensions, logger: logger}
}

// RecordProgress stores progress if the job is still Running and the value
// moves forward. Anything else is dropped.
func (r *ProgressRecorder) RecordProgress(ctx context.Context, jobID id.JobID, progress int) {
	updated, err := r.store.UpdateJob(ctx, jobID, func(cur *job.Job) error {
		if !cur.SetProgress(progress, time.Now().UTC()) {
			return errStaleProgress
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, errStaleProgress) {
			r.logger.Warn("failed to record progress",
				slog.String("job_id", jobID.String()),
				slog.Int("progress", progress),
				slog.String("error", err.Error()),
			)
		}
		return
	}
	r.extensions.EmitJobProgress(ctx, updated, updated.Progress)
}
