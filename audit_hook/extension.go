package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/genqueue/ext"
	"github.com/xraph/genqueue/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Extension)(nil)
	_ ext.JobEnqueued  = (*Extension)(nil)
	_ ext.JobStarted   = (*Extension)(nil)
	_ ext.JobCompleted = (*Extension)(nil)
	_ ext.JobFailed    = (*Extension)(nil)
	_ ext.JobCancelled = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit trail entry.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// SlogRecorder writes audit events as structured log records.
type SlogRecorder struct {
	logger *slog.Logger
}

// NewSlogRecorder creates a Recorder that logs to logger.
func NewSlogRecorder(logger *slog.Logger) *SlogRecorder {
	return &SlogRecorder{logger: logger}
}

// Record logs evt at a level matching its severity.
func (r *SlogRecorder) Record(ctx context.Context, evt *AuditEvent) error {
	level := slog.LevelInfo
	switch evt.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}
	attrs := []slog.Attr{
		slog.String("action", evt.Action),
		slog.String("category", evt.Category),
		slog.String("resource", evt.Resource),
		slog.String("resource_id", evt.ResourceID),
		slog.String("actor", evt.Actor),
		slog.String("outcome", evt.Outcome),
		slog.String("severity", evt.Severity),
		slog.Any("metadata", evt.Metadata),
	}
	if evt.Reason != "" {
		attrs = append(attrs, slog.String("reason", evt.Reason))
	}
	r.logger.LogAttrs(ctx, level, "audit", attrs...)
	return nil
}

// Extension records lifecycle events through a Recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// OnJobEnqueued implements ext.JobEnqueued.
func (e *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobEnqueued, SeverityInfo, OutcomeSuccess, j, nil,
		"priority", j.Priority,
		"timeout_ms", j.Timeout.Milliseconds(),
	)
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess, j, nil,
		"priority", j.Priority,
		"queued_ms", queuedFor(j).Milliseconds(),
	)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess, j, nil,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return e.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure, j, jobErr,
		"failure_kind", string(j.FailureKind),
		"progress_at_failure", j.ProgressAtFailure,
	)
}

// OnJobCancelled implements ext.JobCancelled.
func (e *Extension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobCancelled, SeverityWarning, OutcomeFailure, j, nil,
		"reason", j.FailureReason,
	)
}

func queuedFor(j *job.Job) time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	return j.StartedAt.Sub(j.CreatedAt)
}

// record builds and sends an audit event. Recorder errors are logged and
// swallowed.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	j *job.Job,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   ResourceJob,
		Category:   CategoryJob,
		ResourceID: j.ID.String(),
		Actor:      j.Owner,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("job_id", j.ID.String()),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
