package job

import (
	"encoding/json"
	"time"
)

// View is the client-facing projection of a job.
type View struct {
	ID            string          `json:"id" msgpack:"id"`
	State         State           `json:"state" msgpack:"state"`
	Owner         string          `json:"owner" msgpack:"owner"`
	Priority      int             `json:"priority" msgpack:"priority"`
	Progress      int             `json:"progress" msgpack:"progress"`
	Result        json.RawMessage `json:"result,omitempty" msgpack:"result,omitempty"`
	FailureReason string          `json:"failureReason,omitempty" msgpack:"failureReason,omitempty"`
	FailureKind   FailureKind     `json:"failureKind,omitempty" msgpack:"failureKind,omitempty"`
	CreatedAt     time.Time       `json:"createdAt" msgpack:"createdAt"`
	StartedAt     *time.Time      `json:"startedAt,omitempty" msgpack:"startedAt,omitempty"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty" msgpack:"completedAt,omitempty"`
}

// ToView projects j for API callers.
func (j *Job) ToView() View {
	c := j.Clone()
	return View{
		ID:            c.ID.String(),
		State:         c.State,
		Owner:         c.Owner,
		Priority:      c.Priority,
		Progress:      c.Progress,
		Result:        c.Result,
		FailureReason: c.FailureReason,
		FailureKind:   c.FailureKind,
		CreatedAt:     c.CreatedAt,
		StartedAt:     c.StartedAt,
		CompletedAt:   c.CompletedAt,
	}
}
