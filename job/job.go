package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateQueued means the job is waiting for a free execution slot.
	StateQueued State = "queued"
	// StateRunning means the job is executing.
	StateRunning State = "running"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job failed, timed out, or was cancelled.
	StateFailed State = "failed"
)

// States lists every job state.
var States = []State{StateQueued, StateRunning, StateCompleted, StateFailed}

// Terminal reports whether s absorbs all further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// FailureKind classifies a failed job.
type FailureKind string

const (
	FailureEngine      FailureKind = "engine"
	FailureTimeout     FailureKind = "timeout"
	FailureCancelled   FailureKind = "cancelled"
	FailureInterrupted FailureKind = "interrupted"
)

// CancelledReason is recorded on jobs cancelled while queued.
const CancelledReason = "Cancelled by user"

// Job is one generation request and its lifecycle.
type Job struct {
	ID                id.JobID        `json:"id"`
	State             State           `json:"state"`
	Owner             string          `json:"owner"`
	Payload           json.RawMessage `json:"payload"`
	Priority          int             `json:"priority"`
	Progress          int             `json:"progress"`
	ProgressAtFailure int             `json:"progress_at_failure,omitempty"`
	Result            json.RawMessage `json:"result,omitempty"`
	FailureReason     string          `json:"failure_reason,omitempty"`
	FailureKind       FailureKind     `json:"failure_kind,omitempty"`
	Timeout           time.Duration   `json:"timeout,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

// New builds a queued job with a fresh ID.
func New(owner string, payload json.RawMessage, priority int, timeout time.Duration, now time.Time) *Job {
	now = now.UTC()
	return &Job{
		ID:        id.NewJobID(),
		State:     StateQueued,
		Owner:     owner,
		Payload:   payload,
		Priority:  priority,
		Timeout:   timeout,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ValidatePayload checks that payload is a well-formed JSON object.
func ValidatePayload(payload json.RawMessage) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload is required", genqueue.ErrValidation)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return fmt.Errorf("%w: payload must be a JSON object", genqueue.ErrValidation)
	}
	if obj == nil {
		return fmt.Errorf("%w: payload must be a JSON object", genqueue.ErrValidation)
	}
	return nil
}

// Start moves a queued job to running.
func (j *Job) Start(now time.Time) error {
	if j.State != StateQueued {
		return fmt.Errorf("%w: start from %s", genqueue.ErrInvalidState, j.State)
	}
	now = now.UTC()
	j.State = StateRunning
	j.StartedAt = &now
	j.UpdatedAt = now
	return nil
}

// SetProgress records p when the job is running and p advances the
// current value. It reports whether the value changed.
func (j *Job) SetProgress(p int, now time.Time) bool {
	if j.State != StateRunning {
		return false
	}
	p = ClampProgress(p)
	if p <= j.Progress {
		return false
	}
	j.Progress = p
	j.UpdatedAt = now.UTC()
	return true
}

// Complete moves a running job to completed. An empty result is stored
// as an empty object so that completed jobs always carry one.
func (j *Job) Complete(result json.RawMessage, now time.Time) error {
	if j.State != StateRunning {
		return fmt.Errorf("%w: complete from %s", genqueue.ErrInvalidState, j.State)
	}
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}
	now = now.UTC()
	j.State = StateCompleted
	j.Progress = 100
	j.Result = result
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// Fail moves a queued or running job to failed. Progress resets to zero;
// the last observed value is kept in ProgressAtFailure.
func (j *Job) Fail(kind FailureKind, reason string, now time.Time) error {
	if j.State.Terminal() {
		return fmt.Errorf("%w: fail from %s", genqueue.ErrInvalidState, j.State)
	}
	if reason == "" {
		reason = "job failed"
	}
	now = now.UTC()
	j.State = StateFailed
	j.ProgressAtFailure = j.Progress
	j.Progress = 0
	j.Result = nil
	j.FailureReason = reason
	j.FailureKind = kind
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

// Cancel fails a queued job on behalf of its owner. Running and terminal
// jobs cannot be cancelled.
func (j *Job) Cancel(now time.Time) error {
	if j.State != StateQueued {
		return fmt.Errorf("%w: cannot cancel %s job", genqueue.ErrInvalidState, j.State)
	}
	return j.Fail(FailureCancelled, CancelledReason, now)
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Payload = cloneRaw(j.Payload)
	cp.Result = cloneRaw(j.Result)
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// ClampProgress bounds p to [0, 100].
func ClampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// KindOf maps an execution error kind to the recorded failure kind.
func KindOf(k genqueue.ExecutionKind) FailureKind {
	switch k {
	case genqueue.KindTimeout:
		return FailureTimeout
	case genqueue.KindInterrupted:
		return FailureInterrupted
	default:
		return FailureEngine
	}
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	cp := make(json.RawMessage, len(b))
	copy(cp, b)
	return cp
}
