package session

import (
	"sync"
	"time"
)

// Event topics published through an EventSink.
const (
	TopicSessionCreated      = "session-created"
	TopicSessionStateChanged = "session-state-changed"
	TopicSessionOutput       = "session-output"
	TopicSessionTerminated   = "session-terminated"
	TopicSessionCompleted    = "session-completed"
)

// EventSink receives best-effort notifications about session activity.
// Implementations must not block for long; delivery failures are the
// sink's own concern.
type EventSink interface {
	Notify(topic string, payload any)
}

type CreatedEvent struct {
	SessionID string `json:"sessionId"`
	ProjectID string `json:"projectId"`
}

type StateChangedEvent struct {
	SessionID string `json:"sessionId"`
	State     Status `json:"state"`
}

type OutputEvent struct {
	SessionID string    `json:"sessionId"`
	Line      string    `json:"line"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
}

type TerminatedEvent struct {
	SessionID string `json:"sessionId"`
}

type CompletedEvent struct {
	SessionID string `json:"sessionId"`
	ExitCode  int    `json:"exitCode"`
}

// NopSink discards every notification.
type NopSink struct{}

func (NopSink) Notify(string, any) {}

// MultiSink fans notifications out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Notify(topic string, payload any) {
	for _, s := range m {
		s.Notify(topic, payload)
	}
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(topic string, payload any)

func (f SinkFunc) Notify(topic string, payload any) { f(topic, payload) }

// Recorded is one notification captured by a Recorder.
type Recorded struct {
	Topic   string
	Payload any
}

// Recorder is an EventSink that keeps every notification in memory.
// It is intended for tests and debugging.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

func (r *Recorder) Notify(topic string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{Topic: topic, Payload: payload})
}

// Events returns a copy of the recorded notifications.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}

// Topic returns the payloads recorded under topic, in order.
func (r *Recorder) Topic(topic string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, e := range r.events {
		if e.Topic == topic {
			out = append(out, e.Payload)
		}
	}
	return out
}
