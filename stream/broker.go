package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/genqueue/ext"
	"github.com/xraph/genqueue/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Broker)(nil)
	_ ext.JobEnqueued  = (*Broker)(nil)
	_ ext.JobStarted   = (*Broker)(nil)
	_ ext.JobProgress  = (*Broker)(nil)
	_ ext.JobCompleted = (*Broker)(nil)
	_ ext.JobFailed    = (*Broker)(nil)
	_ ext.JobCancelled = (*Broker)(nil)
	_ ext.Shutdown     = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// Broker receives lifecycle events as an extension and fans them out to
// subscribers by topic.
type Broker struct {
	topics *TopicRegistry
	logger *slog.Logger

	subscribers sync.Map // subscriberID → *Subscriber

	totalPublished atomic.Int64

	bufferSize int
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// NewBroker creates a new stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	b := &Broker{
		topics:     NewTopicRegistry(),
		logger:     logger,
		bufferSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements ext.Extension.
func (b *Broker) Name() string { return "stream-broker" }

// Topics returns the topic registry.
func (b *Broker) Topics() *TopicRegistry { return b.topics }

// Subscribe creates a new subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize)
	b.subscribers.Store(subscriberID, sub)
	for _, topic := range topics {
		b.topics.Subscribe(topic, sub)
	}
	return sub
}

// RemoveSubscriber removes a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.UnsubscribeAll(subscriberID)
	if val, ok := b.subscribers.LoadAndDelete(subscriberID); ok {
		val.(*Subscriber).Close() //nolint:errcheck // sync.Map always stores *Subscriber
	}
}

// Stats returns broker statistics.
func (b *Broker) Stats() BrokerStats {
	count := 0
	b.subscribers.Range(func(_, _ any) bool {
		count++
		return true
	})
	return BrokerStats{
		TopicCount:      b.topics.TopicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
	}
}

// BrokerStats contains broker metrics.
type BrokerStats struct {
	TopicCount      int   `json:"topicCount"`
	SubscriberCount int   `json:"subscriberCount"`
	TotalPublished  int64 `json:"totalPublished"`
}

func (b *Broker) publish(evt *Event) {
	delivered := b.topics.Broadcast(resolveTopics(evt), evt)
	b.totalPublished.Add(int64(delivered))
}

func (b *Broker) publishJob(t EventType, j *job.Job, mutate func(*JobEventData)) {
	data := JobEventData{
		JobID:       j.ID.String(),
		Owner:       j.Owner,
		State:       string(j.State),
		Priority:    j.Priority,
		Progress:    j.Progress,
		FailureKind: string(j.FailureKind),
	}
	if mutate != nil {
		mutate(&data)
	}
	b.publish(&Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(j.ID.String()),
		Job:       data,
	})
}

// ── Job lifecycle hooks ─────────────────────────────

func (b *Broker) OnJobEnqueued(_ context.Context, j *job.Job) error {
	b.publishJob(EventJobEnqueued, j, nil)
	return nil
}

func (b *Broker) OnJobStarted(_ context.Context, j *job.Job) error {
	b.publishJob(EventJobStarted, j, nil)
	return nil
}

func (b *Broker) OnJobProgress(_ context.Context, j *job.Job, progress int) error {
	b.publishJob(EventJobProgress, j, func(d *JobEventData) { d.Progress = progress })
	return nil
}

func (b *Broker) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	b.publishJob(EventJobCompleted, j, func(d *JobEventData) { d.ElapsedMs = elapsed.Milliseconds() })
	return nil
}

func (b *Broker) OnJobFailed(_ context.Context, j *job.Job, jobErr error) error {
	b.publishJob(EventJobFailed, j, func(d *JobEventData) { d.Error = jobErr.Error() })
	return nil
}

func (b *Broker) OnJobCancelled(_ context.Context, j *job.Job) error {
	b.publishJob(EventJobCancelled, j, func(d *JobEventData) { d.Error = j.FailureReason })
	return nil
}

// ── Shutdown ────────────────────────────────────────

func (b *Broker) OnShutdown(_ context.Context) error {
	b.subscribers.Range(func(key, value any) bool {
		b.topics.UnsubscribeAll(key.(string)) //nolint:errcheck // keys are always strings
		value.(*Subscriber).Close()           //nolint:errcheck // sync.Map always stores *Subscriber
		b.subscribers.Delete(key)
		return true
	})
	b.logger.Info("stream broker shut down")
	return nil
}
