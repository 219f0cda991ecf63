package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/auth"
	"github.com/xraph/genqueue/engine"
	"github.com/xraph/genqueue/execution"
	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/job"
	"github.com/xraph/genqueue/queue"
	"github.com/xraph/genqueue/store/memory"
	"github.com/xraph/genqueue/stream"
)

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

var testPayload = json.RawMessage(`{"prompt":"a red fox","workflow":{}}`)

func buildEngine(t *testing.T, g execution.Engine, dopts []genqueue.Option, opts ...engine.Option) *engine.Engine {
	t.Helper()
	dopts = append([]genqueue.Option{genqueue.WithStore(memory.New())}, dopts...)
	d, err := genqueue.New(dopts...)
	if err != nil {
		t.Fatalf("genqueue.New: %v", err)
	}
	opts = append([]engine.Option{engine.WithEngine(g)}, opts...)
	eng, err := engine.Build(d, opts...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return eng
}

func stopEngine(t *testing.T, eng *engine.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func okEngine(delay time.Duration) execution.EngineFunc {
	return func(ctx context.Context, _ *job.Job, report execution.ProgressFunc) (json.RawMessage, error) {
		report(50)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		report(100)
		return json.RawMessage(`{"videoPath":"/tmp/out.mp4"}`), nil
	}
}

// blockingEngine runs until release is closed.
func blockingEngine(release <-chan struct{}) execution.EngineFunc {
	return func(ctx context.Context, _ *job.Job, _ execution.ProgressFunc) (json.RawMessage, error) {
		select {
		case <-release:
			return json.RawMessage(`{}`), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func waitForState(t *testing.T, eng *engine.Engine, jobID id.JobID, want job.State) job.View {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		v, err := eng.GetJob(context.Background(), jobID, "")
		if err == nil && v.State == want {
			return v
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for job %s to reach %s (last: %+v, err: %v)", jobID, want, v, err)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// ──────────────────────────────────────────────────
// End-to-end: Submit → Run → Complete
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd_SubmitProcess(t *testing.T) {
	var running, peak atomic.Int32
	g := execution.EngineFunc(func(ctx context.Context, j *job.Job, report execution.ProgressFunc) (json.RawMessage, error) {
		n := running.Add(1)
		for {
			cur := peak.Load()
			if n <= cur || peak.CompareAndSwap(cur, n) {
				break
			}
		}
		defer running.Add(-1)
		return okEngine(30*time.Millisecond)(ctx, j, report)
	})
	eng := buildEngine(t, g, []genqueue.Option{genqueue.WithMaxConcurrent(1)})

	ctx := context.Background()
	var ids []id.JobID
	for range 3 {
		jobID, err := eng.Submit(ctx, testPayload, "alice", eng.DefaultPriority())
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		ids = append(ids, jobID)
	}

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	for _, jobID := range ids {
		stats, err := eng.QueueStats(ctx)
		if err != nil {
			t.Fatalf("QueueStats: %v", err)
		}
		if stats.Total != 3 {
			t.Errorf("total = %d, want 3", stats.Total)
		}
		v := waitForState(t, eng, jobID, job.StateCompleted)
		if v.Progress != 100 {
			t.Errorf("progress = %d, want 100", v.Progress)
		}
		if v.Priority != 5 {
			t.Errorf("priority = %d, want default 5", v.Priority)
		}
		if v.Owner != "alice" {
			t.Errorf("owner = %q, want alice", v.Owner)
		}
	}

	if got := peak.Load(); got != 1 {
		t.Errorf("peak concurrency = %d, want 1", got)
	}

	stats, err := eng.QueueStats(ctx)
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	want := engine.QueueStats{Completed: 3, Total: 3}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestEngine_QueueStatsConsistentWhileRunning(t *testing.T) {
	instant := execution.EngineFunc(func(context.Context, *job.Job, execution.ProgressFunc) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	})
	eng := buildEngine(t, instant, []genqueue.Option{genqueue.WithMaxConcurrent(1)})

	ctx := context.Background()
	const n = 200
	for range n {
		if _, err := eng.Submit(ctx, testPayload, "alice", 1); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	deadline := time.After(10 * time.Second)
	for samples := 0; ; samples++ {
		stats, err := eng.QueueStats(ctx)
		if err != nil {
			t.Fatalf("QueueStats: %v", err)
		}
		if stats.Total != n || stats.Pending+stats.Running+stats.Completed+stats.Failed != n {
			t.Fatalf("sample %d: stats = %+v, want total %d", samples, stats, n)
		}
		if stats.Completed == n {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out after %d samples; last stats %+v", samples, stats)
		default:
		}
	}
}

func TestEngine_NegativePriorityRunsFirst(t *testing.T) {
	var mu sync.Mutex
	var order []id.JobID
	g := execution.EngineFunc(func(_ context.Context, j *job.Job, _ execution.ProgressFunc) (json.RawMessage, error) {
		mu.Lock()
		order = append(order, j.ID)
		mu.Unlock()
		return json.RawMessage(`{}`), nil
	})
	eng := buildEngine(t, g, []genqueue.Option{genqueue.WithMaxConcurrent(1)})

	ctx := context.Background()
	zero, err := eng.Submit(ctx, testPayload, "alice", 0)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	negative, err := eng.Submit(ctx, testPayload, "alice", -1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	v, err := eng.GetJob(ctx, negative, "alice")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if v.Priority != -1 {
		t.Errorf("priority = %d, want -1 kept as given", v.Priority)
	}

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	waitForState(t, eng, zero, job.StateCompleted)
	waitForState(t, eng, negative, job.StateCompleted)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != negative || order[1] != zero {
		t.Errorf("dispatch order = %v, want [%s %s]", order, negative, zero)
	}
}

func TestEngine_FailedJob(t *testing.T) {
	g := execution.EngineFunc(func(context.Context, *job.Job, execution.ProgressFunc) (json.RawMessage, error) {
		return nil, errors.New("model exploded")
	})
	eng := buildEngine(t, g, nil)

	ctx := context.Background()
	jobID, err := eng.Submit(ctx, testPayload, "alice", 1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	v := waitForState(t, eng, jobID, job.StateFailed)
	if v.FailureReason != "model exploded" {
		t.Errorf("failure reason = %q, want %q", v.FailureReason, "model exploded")
	}
	if v.FailureKind != job.FailureEngine {
		t.Errorf("failure kind = %q, want %q", v.FailureKind, job.FailureEngine)
	}
}

func TestEngine_JobTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	// The engine ignores ctx so only the adapter can end the job.
	g := execution.EngineFunc(func(context.Context, *job.Job, execution.ProgressFunc) (json.RawMessage, error) {
		<-release
		return nil, nil
	})
	eng := buildEngine(t, g, []genqueue.Option{genqueue.WithJobTimeout(50 * time.Millisecond)})

	ctx := context.Background()
	jobID, err := eng.Submit(ctx, testPayload, "alice", 1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	v := waitForState(t, eng, jobID, job.StateFailed)
	if v.FailureKind != job.FailureTimeout {
		t.Errorf("failure kind = %q, want %q", v.FailureKind, job.FailureTimeout)
	}
	if v.FailureReason == "" {
		t.Error("expected a failure reason")
	}
}

// ──────────────────────────────────────────────────
// Admission
// ──────────────────────────────────────────────────

func TestEngine_SubmitValidation(t *testing.T) {
	eng := buildEngine(t, okEngine(0), nil)

	tests := []struct {
		name    string
		payload json.RawMessage
	}{
		{"missing", nil},
		{"malformed", json.RawMessage(`{"prompt":`)},
		{"not an object", json.RawMessage(`["a","b"]`)},
		{"null", json.RawMessage(`null`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.Submit(context.Background(), tt.payload, "alice", 1)
			if !errors.Is(err, genqueue.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}

	stats, err := eng.QueueStats(context.Background())
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("rejected submissions created %d jobs", stats.Total)
	}
}

func TestEngine_SubmitOwnerLimit(t *testing.T) {
	eng := buildEngine(t, okEngine(0), nil,
		engine.WithLimiter(queue.NewLimiter(queue.OwnerConfig{MaxPending: 2})),
	)

	ctx := context.Background()
	for range 2 {
		if _, err := eng.Submit(ctx, testPayload, "alice", 1); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if _, err := eng.Submit(ctx, testPayload, "alice", 1); !errors.Is(err, genqueue.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if _, err := eng.Submit(ctx, testPayload, "bob", 1); err != nil {
		t.Fatalf("other owner should be admitted: %v", err)
	}
}

func TestEngine_AnonymousOwner(t *testing.T) {
	eng := buildEngine(t, okEngine(0), nil)

	jobID, err := eng.Submit(context.Background(), testPayload, "", 1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	v, err := eng.GetJob(context.Background(), jobID, auth.AnonymousSubject)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if v.Owner != auth.AnonymousSubject {
		t.Errorf("owner = %q, want %q", v.Owner, auth.AnonymousSubject)
	}
}

// ──────────────────────────────────────────────────
// Status & control
// ──────────────────────────────────────────────────

func TestEngine_GetJobOwnership(t *testing.T) {
	eng := buildEngine(t, okEngine(0), nil)
	ctx := context.Background()

	jobID, err := eng.Submit(ctx, testPayload, "alice", 1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := eng.GetJob(ctx, jobID, "alice"); err != nil {
		t.Errorf("owner lookup: %v", err)
	}
	if _, err := eng.GetJob(ctx, jobID, "mallory"); !errors.Is(err, genqueue.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
	if _, err := eng.GetJob(ctx, id.NewJobID(), "alice"); !errors.Is(err, genqueue.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}

	// The anonymous subject is an ordinary principal; only an empty owner
	// bypasses the check.
	if _, err := eng.GetJob(ctx, jobID, auth.AnonymousSubject); !errors.Is(err, genqueue.ErrForbidden) {
		t.Errorf("expected ErrForbidden for %q, got %v", auth.AnonymousSubject, err)
	}
	if err := eng.Cancel(ctx, jobID, auth.AnonymousSubject); !errors.Is(err, genqueue.ErrForbidden) {
		t.Errorf("expected ErrForbidden cancelling as %q, got %v", auth.AnonymousSubject, err)
	}
	if _, err := eng.GetJob(ctx, jobID, ""); err != nil {
		t.Errorf("unverified lookup: %v", err)
	}
}

func TestEngine_CancelQueued(t *testing.T) {
	eng := buildEngine(t, okEngine(0), nil)
	ctx := context.Background()

	jobID, err := eng.Submit(ctx, testPayload, "alice", 1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if err := eng.Cancel(ctx, jobID, "mallory"); !errors.Is(err, genqueue.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := eng.Cancel(ctx, id.NewJobID(), "alice"); !errors.Is(err, genqueue.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if err := eng.Cancel(ctx, jobID, "alice"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	v, err := eng.GetJob(ctx, jobID, "alice")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if v.State != job.StateFailed || v.FailureReason != job.CancelledReason {
		t.Errorf("got state=%s reason=%q", v.State, v.FailureReason)
	}
	if n := eng.Pool().PendingLen(); n != 0 {
		t.Errorf("pending = %d, want 0", n)
	}

	// Terminal jobs cannot be cancelled again.
	if err := eng.Cancel(ctx, jobID, "alice"); !errors.Is(err, genqueue.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestEngine_CancelRunning(t *testing.T) {
	release := make(chan struct{})
	eng := buildEngine(t, blockingEngine(release), nil)
	ctx := context.Background()

	jobID, err := eng.Submit(ctx, testPayload, "alice", 1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	waitForState(t, eng, jobID, job.StateRunning)
	if err := eng.Cancel(ctx, jobID, "alice"); !errors.Is(err, genqueue.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	ws := eng.WorkerStats()
	if ws.Total != 2 || ws.Running != 1 || ws.Idle != 1 {
		t.Errorf("worker stats = %+v", ws)
	}

	close(release)
	waitForState(t, eng, jobID, job.StateCompleted)
}

// ──────────────────────────────────────────────────
// Event stream
// ──────────────────────────────────────────────────

func TestEngine_BrokerStreamsJobEvents(t *testing.T) {
	eng := buildEngine(t, okEngine(10*time.Millisecond), nil)
	ctx := context.Background()

	jobID, err := eng.Submit(ctx, testPayload, "alice", 1)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	sub := eng.Broker().Subscribe("watcher", stream.JobTopic(jobID.String()))
	defer eng.Broker().RemoveSubscriber("watcher")

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopEngine(t, eng)

	var got []stream.EventType
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt := <-sub.C():
			got = append(got, evt.Type)
			if evt.Type.Terminal() {
				if got[0] != stream.EventJobStarted {
					t.Errorf("first event = %s, want %s", got[0], stream.EventJobStarted)
				}
				if evt.Type != stream.EventJobCompleted {
					t.Errorf("terminal event = %s, want %s", evt.Type, stream.EventJobCompleted)
				}
				return
			}
		case <-deadline:
			t.Fatalf("timed out; events so far: %v", got)
		}
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestEngine_GracefulShutdown(t *testing.T) {
	eng := buildEngine(t, okEngine(0), []genqueue.Option{genqueue.WithMaxConcurrent(4)})

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := eng.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	stopEngine(t, eng)

	if _, err := eng.Submit(context.Background(), testPayload, "alice", 1); err == nil {
		t.Fatal("expected submit after stop to fail")
	}
}

func TestEngine_BuildNoStore(t *testing.T) {
	d, err := genqueue.New()
	if err != nil {
		t.Fatalf("genqueue.New: %v", err)
	}

	_, err = engine.Build(d)
	if !errors.Is(err, genqueue.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got: %v", err)
	}
}

// badStore only implements Storer but not job.Store.
type badStore struct{}

func (badStore) Ping(_ context.Context) error { return nil }
func (badStore) Close() error                 { return nil }

func TestEngine_BuildBadStore(t *testing.T) {
	d, err := genqueue.New(genqueue.WithStore(badStore{}))
	if err != nil {
		t.Fatalf("genqueue.New: %v", err)
	}

	_, err = engine.Build(d)
	if err == nil {
		t.Fatal("expected error for store that doesn't implement job.Store")
	}
}
