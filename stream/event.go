// Package stream fans job lifecycle events out to in-process subscribers.
// The Broker is an ext.Extension; the HTTP watch endpoint subscribes to a
// job's topic and forwards events over a WebSocket.
package stream

import (
	"time"

	"github.com/xraph/genqueue/job"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventJobEnqueued  EventType = "job.enqueued"
	EventJobStarted   EventType = "job.started"
	EventJobProgress  EventType = "job.progress"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobCancelled EventType = "job.cancelled"
)

// Terminal reports whether no further events follow for the job.
func (t EventType) Terminal() bool {
	return t == EventJobCompleted || t == EventJobFailed || t == EventJobCancelled
}

// Event is the envelope sent to subscribers.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type" msgpack:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts" msgpack:"ts"`

	// Topic is the job topic this event belongs to.
	Topic string `json:"topic" msgpack:"topic"`

	// Job is the event payload.
	Job JobEventData `json:"job" msgpack:"job"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID       string `json:"jobId" msgpack:"jobId"`
	Owner       string `json:"owner" msgpack:"owner"`
	State       string `json:"state" msgpack:"state"`
	Priority    int    `json:"priority" msgpack:"priority"`
	Progress    int    `json:"progress" msgpack:"progress"`
	ElapsedMs   int64  `json:"elapsedMs,omitempty" msgpack:"elapsedMs,omitempty"`
	Error       string `json:"error,omitempty" msgpack:"error,omitempty"`
	FailureKind string `json:"failureKind,omitempty" msgpack:"failureKind,omitempty"`
}

// SnapshotEvent describes the current state of a job as an event, so a
// watcher that subscribes late still learns where the job stands.
func SnapshotEvent(v job.View) *Event {
	t := EventJobEnqueued
	switch v.State {
	case job.StateRunning:
		t = EventJobProgress
	case job.StateCompleted:
		t = EventJobCompleted
	case job.StateFailed:
		t = EventJobFailed
		if v.FailureKind == job.FailureCancelled {
			t = EventJobCancelled
		}
	}
	return &Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Topic:     JobTopic(v.ID),
		Job: JobEventData{
			JobID:       v.ID,
			Owner:       v.Owner,
			State:       string(v.State),
			Priority:    v.Priority,
			Progress:    v.Progress,
			Error:       v.FailureReason,
			FailureKind: string(v.FailureKind),
		},
	}
}
