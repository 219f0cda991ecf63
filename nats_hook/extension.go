package natshook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/xraph/genqueue/ext"
	"github.com/xraph/genqueue/job"
)

// Event names. Each maps to one ext lifecycle hook and forms the last
// subject token.
const (
	EventJobEnqueued  = "enqueued"
	EventJobStarted   = "started"
	EventJobProgress  = "progress"
	EventJobCompleted = "completed"
	EventJobFailed    = "failed"
	EventJobCancelled = "cancelled"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Extension)(nil)
	_ ext.JobEnqueued  = (*Extension)(nil)
	_ ext.JobStarted   = (*Extension)(nil)
	_ ext.JobProgress  = (*Extension)(nil)
	_ ext.JobCompleted = (*Extension)(nil)
	_ ext.JobFailed    = (*Extension)(nil)
	_ ext.JobCancelled = (*Extension)(nil)
	_ ext.Shutdown     = (*Extension)(nil)
)

// Publisher sends a message on a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// flusher is implemented by *nats.Conn.
type flusher interface {
	FlushTimeout(timeout time.Duration) error
}

// Connect dials NATS with reconnects enabled indefinitely.
func Connect(url string, opts ...nats.Option) (*nats.Conn, error) {
	base := []nats.Option{
		nats.Name("genqueue"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
	}
	nc, err := nats.Connect(url, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("natshook: connect %s: %w", url, err)
	}
	return nc, nil
}

// Extension publishes lifecycle events through a Publisher.
type Extension struct {
	pub     Publisher
	prefix  string
	enabled map[string]bool // nil = all enabled
}

// New creates an Extension publishing through pub.
func New(pub Publisher, opts ...Option) *Extension {
	h := &Extension{pub: pub, prefix: "genqueue"}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements ext.Extension.
func (h *Extension) Name() string { return "nats-hook" }

// Subject returns the subject an event is published on.
func (h *Extension) Subject(event string) string {
	return h.prefix + ".job." + event
}

// OnJobEnqueued implements ext.JobEnqueued.
func (h *Extension) OnJobEnqueued(_ context.Context, j *job.Job) error {
	return h.send(EventJobEnqueued, newJobPayload(j))
}

// OnJobStarted implements ext.JobStarted.
func (h *Extension) OnJobStarted(_ context.Context, j *job.Job) error {
	return h.send(EventJobStarted, newJobPayload(j))
}

// OnJobProgress implements ext.JobProgress.
func (h *Extension) OnJobProgress(_ context.Context, j *job.Job, progress int) error {
	p := newJobPayload(j)
	p.Progress = progress
	return h.send(EventJobProgress, p)
}

// OnJobCompleted implements ext.JobCompleted.
func (h *Extension) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	return h.send(EventJobCompleted, &jobCompletedPayload{
		jobPayload: *newJobPayload(j),
		Result:     j.Result,
		ElapsedMs:  elapsed.Milliseconds(),
	})
}

// OnJobFailed implements ext.JobFailed.
func (h *Extension) OnJobFailed(_ context.Context, j *job.Job, jobErr error) error {
	return h.send(EventJobFailed, &jobFailedPayload{
		jobPayload:  *newJobPayload(j),
		Error:       jobErr.Error(),
		FailureKind: string(j.FailureKind),
	})
}

// OnJobCancelled implements ext.JobCancelled.
func (h *Extension) OnJobCancelled(_ context.Context, j *job.Job) error {
	return h.send(EventJobCancelled, &jobFailedPayload{
		jobPayload:  *newJobPayload(j),
		Error:       j.FailureReason,
		FailureKind: string(j.FailureKind),
	})
}

// OnShutdown flushes buffered messages when the publisher supports it.
func (h *Extension) OnShutdown(ctx context.Context) error {
	f, ok := h.pub.(flusher)
	if !ok {
		return nil
	}
	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return f.FlushTimeout(timeout)
}

func (h *Extension) send(event string, payload any) error {
	if h.enabled != nil && !h.enabled[event] {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("natshook: marshal %s: %w", event, err)
	}
	return h.pub.Publish(h.Subject(event), data)
}

// ── Payload types ───────────────────────────────────

type jobPayload struct {
	JobID    string    `json:"jobId"`
	Owner    string    `json:"owner"`
	State    string    `json:"state"`
	Priority int       `json:"priority"`
	Progress int       `json:"progress"`
	At       time.Time `json:"at"`
}

func newJobPayload(j *job.Job) *jobPayload {
	return &jobPayload{
		JobID:    j.ID.String(),
		Owner:    j.Owner,
		State:    string(j.State),
		Priority: j.Priority,
		Progress: j.Progress,
		At:       time.Now().UTC(),
	}
}

type jobCompletedPayload struct {
	jobPayload
	Result    json.RawMessage `json:"result,omitempty"`
	ElapsedMs int64           `json:"elapsedMs"`
}

type jobFailedPayload struct {
	jobPayload
	Error       string `json:"error"`
	FailureKind string `json:"failureKind,omitempty"`
}
