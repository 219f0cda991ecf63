package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber receives events from the topics it is subscribed to. Sends
// never block: when the buffer is full the event is dropped and counted.
type Subscriber struct {
	id string

	// mu guards ch against a send racing Close.
	mu     sync.RWMutex
	ch     chan *Event
	closed bool

	topicsMu sync.RWMutex
	topics   map[string]struct{}

	// filter is an optional predicate. If set, only events
	// matching the filter are delivered.
	filter func(*Event) bool

	dropped atomic.Int64
}

// NewSubscriber creates a subscriber with the given buffer size.
func NewSubscriber(id string, bufferSize int) *Subscriber {
	return &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel. It is closed by Close.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// SetFilter sets an optional event filter predicate. Call it before the
// subscriber is registered with a broker.
func (s *Subscriber) SetFilter(fn func(*Event) bool) {
	s.filter = fn
}

// Dropped returns how many events were lost to a full buffer.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

func (s *Subscriber) addTopic(topic string) {
	s.topicsMu.Lock()
	s.topics[topic] = struct{}{}
	s.topicsMu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.topicsMu.Lock()
	delete(s.topics, topic)
	s.topicsMu.Unlock()
}

// Topics returns a copy of all subscribed topic names.
func (s *Subscriber) Topics() []string {
	s.topicsMu.RLock()
	defer s.topicsMu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// send attempts to deliver an event. It returns false if the event was
// filtered out, the buffer was full, or the subscriber is closed.
func (s *Subscriber) send(evt *Event) bool {
	if s.filter != nil && !s.filter(evt) {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Close closes the subscriber channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
