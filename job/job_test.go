package job_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/job"
)

func newJob() *job.Job {
	return job.New("alice", json.RawMessage(`{"prompt":"a cat"}`), 5, time.Minute, time.Now())
}

func TestNewJob(t *testing.T) {
	j := newJob()
	if j.ID.IsNil() || j.ID.Prefix() != "job" {
		t.Fatalf("unexpected id %q", j.ID)
	}
	if j.State != job.StateQueued {
		t.Errorf("state = %s, want queued", j.State)
	}
	if j.StartedAt != nil || j.CompletedAt != nil {
		t.Error("new job should carry no start or completion time")
	}
}

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		ok      bool
	}{
		{"object", `{"prompt":"x"}`, true},
		{"empty object", `{}`, true},
		{"empty", ``, false},
		{"null", `null`, false},
		{"array", `[1,2]`, false},
		{"string", `"x"`, false},
		{"malformed", `{"prompt":`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := job.ValidatePayload(json.RawMessage(tt.payload))
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, genqueue.ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestLifecycleComplete(t *testing.T) {
	j := newJob()
	now := time.Now()

	if err := j.Start(now); err != nil {
		t.Fatal(err)
	}
	if j.StartedAt == nil {
		t.Fatal("StartedAt not set")
	}
	if err := j.Start(now); !errors.Is(err, genqueue.ErrInvalidState) {
		t.Errorf("second Start: expected ErrInvalidState, got %v", err)
	}

	if !j.SetProgress(30, now) {
		t.Error("expected progress to advance")
	}
	if j.SetProgress(20, now) {
		t.Error("progress must not decrease")
	}
	if j.Progress != 30 {
		t.Errorf("progress = %d, want 30", j.Progress)
	}

	if err := j.Complete(nil, now); err != nil {
		t.Fatal(err)
	}
	if string(j.Result) != `{}` {
		t.Errorf("result = %s, want {}", j.Result)
	}
	if j.FailureReason != "" {
		t.Error("completed job must not carry a failure reason")
	}
	if err := j.Fail(job.FailureEngine, "late", now); !errors.Is(err, genqueue.ErrInvalidState) {
		t.Errorf("Fail after Complete: expected ErrInvalidState, got %v", err)
	}
	if j.SetProgress(50, now) {
		t.Error("progress must not change once terminal")
	}
}

func TestLifecycleFail(t *testing.T) {
	j := newJob()
	now := time.Now()
	_ = j.Start(now)
	j.SetProgress(80, now)

	if err := j.Fail(job.FailureTimeout, "", now); err != nil {
		t.Fatal(err)
	}
	if j.Progress != 0 || j.ProgressAtFailure != 80 {
		t.Errorf("progress = %d at failure = %d, want 0 and 80", j.Progress, j.ProgressAtFailure)
	}
	if j.FailureReason == "" {
		t.Error("failed job must carry a reason")
	}
	if j.Result != nil {
		t.Error("failed job must not carry a result")
	}
	if err := j.Complete(json.RawMessage(`{}`), now); !errors.Is(err, genqueue.ErrInvalidState) {
		t.Errorf("Complete after Fail: expected ErrInvalidState, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	j := newJob()
	if err := j.Cancel(time.Now()); err != nil {
		t.Fatal(err)
	}
	if j.State != job.StateFailed || j.FailureReason != job.CancelledReason || j.FailureKind != job.FailureCancelled {
		t.Errorf("unexpected cancelled job %+v", j)
	}

	running := newJob()
	_ = running.Start(time.Now())
	if err := running.Cancel(time.Now()); !errors.Is(err, genqueue.ErrInvalidState) {
		t.Errorf("cancel running: expected ErrInvalidState, got %v", err)
	}
}

func TestClampProgress(t *testing.T) {
	for in, want := range map[int]int{-5: 0, 0: 0, 42: 42, 100: 100, 150: 100} {
		if got := job.ClampProgress(in); got != want {
			t.Errorf("ClampProgress(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	j := newJob()
	_ = j.Start(time.Now())
	cp := j.Clone()
	cp.Payload[0] = '['
	*cp.StartedAt = time.Time{}
	if j.Payload[0] != '{' {
		t.Error("payload shared with clone")
	}
	if j.StartedAt.IsZero() {
		t.Error("StartedAt shared with clone")
	}
}

func TestKindOf(t *testing.T) {
	if job.KindOf(genqueue.KindTimeout) != job.FailureTimeout {
		t.Error("timeout kind")
	}
	if job.KindOf(genqueue.KindInterrupted) != job.FailureInterrupted {
		t.Error("interrupted kind")
	}
	if job.KindOf(genqueue.KindEngine) != job.FailureEngine {
		t.Error("engine kind")
	}
}

func TestViewJSON(t *testing.T) {
	j := newJob()
	data, err := json.Marshal(j.ToView())
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if m["id"] != j.ID.String() || m["state"] != "queued" {
		t.Errorf("unexpected view %s", data)
	}
	if _, ok := m["createdAt"]; !ok {
		t.Errorf("view should use camelCase keys: %s", data)
	}
}
