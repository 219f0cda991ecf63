package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/xraph/genqueue/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testJob() *job.Job {
	return job.New("alice", json.RawMessage(`{"prompt":"x"}`), 3, time.Minute, time.Now())
}

func receive(t *testing.T, sub *Subscriber) *Event {
	t.Helper()
	select {
	case evt := <-sub.C():
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBrokerSubscribeAndPublish(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	j := testJob()
	sub := b.Subscribe("sub-1", JobTopic(j.ID.String()))

	if err := b.OnJobEnqueued(context.Background(), j); err != nil {
		t.Fatal(err)
	}

	evt := receive(t, sub)
	if evt.Type != EventJobEnqueued {
		t.Errorf("Type = %q, want %q", evt.Type, EventJobEnqueued)
	}
	if evt.Job.JobID != j.ID.String() || evt.Job.Owner != "alice" || evt.Job.Priority != 3 {
		t.Errorf("unexpected payload %+v", evt.Job)
	}
	if evt.Job.State != string(job.StateQueued) {
		t.Errorf("State = %q", evt.Job.State)
	}
}

func TestBrokerLifecyclePayloads(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("all", TopicFirehose)
	j := testJob()
	ctx := context.Background()

	_ = b.OnJobProgress(ctx, j, 42)
	_ = b.OnJobCompleted(ctx, j, 1500*time.Millisecond)
	_ = b.OnJobFailed(ctx, j, errors.New("boom"))

	if evt := receive(t, sub); evt.Type != EventJobProgress || evt.Job.Progress != 42 {
		t.Errorf("progress event = %+v", evt)
	}
	if evt := receive(t, sub); evt.Type != EventJobCompleted || evt.Job.ElapsedMs != 1500 {
		t.Errorf("completed event = %+v", evt)
	}
	if evt := receive(t, sub); evt.Type != EventJobFailed || evt.Job.Error != "boom" {
		t.Errorf("failed event = %+v", evt)
	}
}

func TestBrokerTopicsIsolated(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	a, other := testJob(), testJob()
	other.Owner = "bob"

	jobSub := b.Subscribe("job-sub", JobTopic(a.ID.String()))
	ownerSub := b.Subscribe("owner-sub", OwnerTopic("bob"))
	jobsSub := b.Subscribe("jobs-sub", TopicJobs)

	_ = b.OnJobStarted(context.Background(), other)

	if got := receive(t, ownerSub); got.Job.JobID != other.ID.String() {
		t.Errorf("owner subscriber got %s", got.Job.JobID)
	}
	if got := receive(t, jobsSub); got.Job.JobID != other.ID.String() {
		t.Errorf("jobs subscriber got %s", got.Job.JobID)
	}
	select {
	case evt := <-jobSub.C():
		t.Errorf("job subscriber received unrelated event %+v", evt)
	default:
	}
}

func TestBrokerRemoveSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	sub := b.Subscribe("sub-1", TopicJobs)
	b.RemoveSubscriber("sub-1")

	if _, ok := <-sub.C(); ok {
		t.Error("expected channel to be closed")
	}
	_ = b.OnJobEnqueued(context.Background(), testJob())

	if st := b.Stats(); st.SubscriberCount != 0 || st.TopicCount != 0 || st.TotalPublished != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestBrokerShutdownClosesSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	s1 := b.Subscribe("s1", TopicJobs)
	s2 := b.Subscribe("s2", TopicFirehose)

	if err := b.OnShutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, s := range []*Subscriber{s1, s2} {
		if _, ok := <-s.C(); ok {
			t.Errorf("subscriber %s still open", s.ID())
		}
	}
	// Publishing after shutdown must not panic.
	_ = b.OnJobEnqueued(context.Background(), testJob())
}

func TestSubscriberDropsWhenFull(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger(), WithBufferSize(1))
	sub := b.Subscribe("slow", TopicJobs)

	_ = b.OnJobEnqueued(context.Background(), testJob())
	_ = b.OnJobEnqueued(context.Background(), testJob())

	if d := sub.Dropped(); d != 1 {
		t.Errorf("dropped = %d, want 1", d)
	}
	if st := b.Stats(); st.TotalPublished != 1 {
		t.Errorf("published = %d, want 1", st.TotalPublished)
	}
}

func TestSubscriberFilter(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("f", 4)
	sub.SetFilter(func(e *Event) bool { return e.Type.Terminal() })

	if sub.send(&Event{Type: EventJobProgress}) {
		t.Error("progress should be filtered")
	}
	if !sub.send(&Event{Type: EventJobCompleted}) {
		t.Error("completed should pass")
	}
}

func TestBroadcastDeduplication(t *testing.T) {
	t.Parallel()

	b := NewBroker(testLogger())
	j := testJob()
	sub := b.Subscribe("multi", TopicJobs, TopicFirehose, JobTopic(j.ID.String()), OwnerTopic("alice"))

	_ = b.OnJobEnqueued(context.Background(), j)

	receive(t, sub)
	select {
	case evt := <-sub.C():
		t.Errorf("duplicate delivery %+v", evt)
	default:
	}
}

func TestResolveTopics(t *testing.T) {
	t.Parallel()

	evt := &Event{Type: EventJobStarted, Topic: "job:x", Job: JobEventData{Owner: "alice"}}
	got := resolveTopics(evt)
	want := []string{TopicFirehose, TopicJobs, "job:x", "owner:alice"}
	if len(got) != len(want) {
		t.Fatalf("topics = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("topics[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCodecs(t *testing.T) {
	t.Parallel()

	evt := &Event{
		Type:      EventJobProgress,
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Topic:     "job:x",
		Job:       JobEventData{JobID: "x", Owner: "alice", State: "running", Progress: 30},
	}

	for _, name := range []string{CodecNameJSON, CodecNameMsgpack} {
		c, err := GetCodec(name)
		if err != nil {
			t.Fatal(err)
		}
		data, err := c.Encode(evt)
		if err != nil {
			t.Fatalf("%s encode: %v", name, err)
		}
		got, err := c.Decode(data)
		if err != nil {
			t.Fatalf("%s decode: %v", name, err)
		}
		if got.Type != evt.Type || got.Job != evt.Job || !got.Timestamp.Equal(evt.Timestamp) {
			t.Errorf("%s round trip = %+v", name, got)
		}
	}

	if _, err := GetCodec("protobuf"); err == nil {
		t.Error("expected error for unknown codec")
	}
}

func TestSnapshotEvent(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		mutate func(j *job.Job)
		want   EventType
	}{
		{"queued", func(*job.Job) {}, EventJobEnqueued},
		{"running", func(j *job.Job) { _ = j.Start(now) }, EventJobProgress},
		{"completed", func(j *job.Job) {
			_ = j.Start(now)
			_ = j.Complete(json.RawMessage(`{}`), now)
		}, EventJobCompleted},
		{"failed", func(j *job.Job) {
			_ = j.Start(now)
			_ = j.Fail(job.FailureEngine, "boom", now)
		}, EventJobFailed},
		{"cancelled", func(j *job.Job) { _ = j.Cancel(now) }, EventJobCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := testJob()
			tt.mutate(j)
			evt := SnapshotEvent(j.ToView())
			if evt.Type != tt.want {
				t.Errorf("type = %s, want %s", evt.Type, tt.want)
			}
			if evt.Topic != JobTopic(j.ID.String()) {
				t.Errorf("topic = %q", evt.Topic)
			}
			if evt.Job.State != string(j.State) {
				t.Errorf("state = %q, want %q", evt.Job.State, j.State)
			}
		})
	}
}
