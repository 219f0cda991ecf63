package ext_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/genqueue/ext"
	"github.com/xraph/genqueue/job"
)

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobEnqueued")
	return nil
}

func (e *allHooksExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobStarted")
	return nil
}

func (e *allHooksExt) OnJobProgress(_ context.Context, _ *job.Job, _ int) error {
	e.calls = append(e.calls, "OnJobProgress")
	return nil
}

func (e *allHooksExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

func (e *allHooksExt) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	e.calls = append(e.calls, "OnJobFailed")
	return nil
}

func (e *allHooksExt) OnJobCancelled(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobCancelled")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// enqueueOnlyExt only implements the enqueue and completion hooks.
type enqueueOnlyExt struct {
	calls []string
}

func (e *enqueueOnlyExt) Name() string { return "enqueue-only" }

func (e *enqueueOnlyExt) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobEnqueued")
	return nil
}

func (e *enqueueOnlyExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	return errors.New("boom")
}

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(&allHooksExt{})

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	eo := &enqueueOnlyExt{}
	r.Register(all)
	r.Register(eo)

	ctx := context.Background()
	j := &job.Job{Owner: "alice"}

	r.EmitJobEnqueued(ctx, j)
	if len(all.calls) != 1 || len(eo.calls) != 1 {
		t.Fatalf("expected both extensions notified, got %v and %v", all.calls, eo.calls)
	}

	r.EmitJobStarted(ctx, j)
	if len(all.calls) != 2 || all.calls[1] != "OnJobStarted" {
		t.Fatalf("all: expected OnJobStarted as 2nd, got %v", all.calls)
	}
	if len(eo.calls) != 1 {
		t.Fatalf("enqueue-only: should still have 1 call, got %v", eo.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	j := &job.Job{}

	r.EmitJobEnqueued(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobProgress(ctx, j, 30)
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobFailed(ctx, j, errors.New("fail"))
	r.EmitJobCancelled(ctx, j)
	r.EmitShutdown(ctx)

	expected := []string{
		"OnJobEnqueued", "OnJobStarted", "OnJobProgress", "OnJobCompleted",
		"OnJobFailed", "OnJobCancelled", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	var buf bytes.Buffer
	r := ext.NewRegistry(slog.New(slog.NewTextHandler(&buf, nil)))
	all := &allHooksExt{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(&failingExt{})
	r.Register(all)

	r.EmitJobEnqueued(context.Background(), &job.Job{})

	if len(all.calls) != 1 || all.calls[0] != "OnJobEnqueued" {
		t.Fatalf("all: expected [OnJobEnqueued] despite failing ext, got %v", all.calls)
	}
	if !strings.Contains(buf.String(), "extension=failing") {
		t.Errorf("expected hook error to be logged, got %q", buf.String())
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ctx := context.Background()

	r.EmitJobEnqueued(ctx, &job.Job{})
	r.EmitJobStarted(ctx, &job.Job{})
	r.EmitJobProgress(ctx, &job.Job{}, 10)
	r.EmitJobCompleted(ctx, &job.Job{}, time.Second)
	r.EmitJobFailed(ctx, &job.Job{}, errors.New("x"))
	r.EmitJobCancelled(ctx, &job.Job{})
	r.EmitShutdown(ctx)
}
