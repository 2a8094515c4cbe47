// Package callog accumulates one CallRecord per call and flushes it
// exactly once on teardown.
//
// The logger observes the call's event bus: selected events are appended
// to the record's timeline, and tool completion events populate the tool
// invocation list. Every teardown path, normal or not, ends in Finish.
package callog

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/voxsec/voxsec/internal/bus"
)

// Outcome classifies how a call concluded.
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeTransferred  Outcome = "transferred"
	OutcomeMessageTaken Outcome = "message_taken"
	OutcomeNoAnswer     Outcome = "no_answer"
	OutcomeError        Outcome = "error"
)

// RecordedEvent is one timeline entry of a call record.
type RecordedEvent struct {
	Kind string         `json:"kind"`
	TS   time.Time      `json:"ts"`
	Data map[string]any `json:"data,omitempty"`
}

// ToolInvocation is one tool call made during the conversation.
type ToolInvocation struct {
	Name       string `json:"name"`
	Input      string `json:"input"`
	Output     string `json:"output"`
	DurationMS int64  `json:"duration_ms"`
	Success    bool   `json:"success"`
}

// Record is the JSON object delivered to the call record sink.
type Record struct {
	CallUUID    string           `json:"call_uuid"`
	TenantID    string           `json:"tenant_id"`
	SecretaryID string           `json:"secretary_id"`
	CallerID    string           `json:"caller_id"`
	CallerName  string           `json:"caller_name,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	EndedAt     time.Time        `json:"ended_at"`
	DurationMS  int64            `json:"duration_ms"`
	FinalState  string           `json:"final_state"`
	Outcome     Outcome          `json:"outcome"`
	Events      []RecordedEvent  `json:"events"`
	Metrics     map[string]any   `json:"metrics"`
	Tools       []ToolInvocation `json:"tools"`
}

// Sink delivers a finished record. Implementations must be safe to retry:
// delivery is at-least-once keyed by call uuid.
type Sink interface {
	Deliver(ctx context.Context, rec *Record) error
}

// Fanout returns a Sink delivering to every given sink. All sinks are
// attempted; errors are joined.
func Fanout(sinks ...Sink) Sink {
	return fanoutSink(sinks)
}

type fanoutSink []Sink

func (f fanoutSink) Deliver(ctx context.Context, rec *Record) error {
	var errs []error
	for _, s := range f {
		if err := s.Deliver(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// observedKinds are the bus events appended to the record timeline.
var observedKinds = []bus.Kind{
	bus.CallStarted, bus.CallConnected, bus.CallEnding, bus.CallEnded,
	bus.StateChanged, bus.StateTransitionBlocked,
	bus.UserDTMF, bus.UserTranscript,
	bus.TransferRequested, bus.TransferValidated, bus.TransferDialing,
	bus.TransferAnswered, bus.TransferAccepted, bus.TransferRejected,
	bus.TransferTimeout, bus.TransferCompleted, bus.TransferFailed,
	bus.TransferCancelled,
	bus.ConnectionDegraded, bus.ConnectionLost, bus.ProviderTimeout,
	bus.ToolStarted, bus.ToolCompleted, bus.ToolFailed,
}

// Logger accumulates one call's record and flushes it once.
type Logger struct {
	sink Sink

	mu       sync.Mutex
	record   Record
	flushed  bool
	subs     []*bus.Subscription
	detached bool
}

// Meta identifies the call being logged.
type Meta struct {
	CallUUID    string
	TenantID    string
	SecretaryID string
	CallerID    string
	CallerName  string
}

// NewLogger creates a Logger and attaches it to the call's bus. sink may be
// nil, in which case Finish only finalizes the record.
func NewLogger(events *bus.Bus, meta Meta, sink Sink) *Logger {
	l := &Logger{
		sink: sink,
		record: Record{
			CallUUID:    meta.CallUUID,
			TenantID:    meta.TenantID,
			SecretaryID: meta.SecretaryID,
			CallerID:    meta.CallerID,
			CallerName:  meta.CallerName,
			StartedAt:   time.Now(),
			Outcome:     OutcomeCompleted,
			Metrics:     make(map[string]any),
		},
	}
	for _, kind := range observedKinds {
		l.subs = append(l.subs, events.Subscribe(kind, l.observe))
	}
	return l
}

// observe appends one bus event to the timeline and harvests tool results.
func (l *Logger) observe(evt bus.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.flushed {
		return
	}

	l.record.Events = append(l.record.Events, RecordedEvent{
		Kind: string(evt.Kind),
		TS:   evt.Timestamp,
		Data: evt.Payload,
	})

	if evt.Kind == bus.ToolCompleted || evt.Kind == bus.ToolFailed {
		inv := ToolInvocation{Success: evt.Kind == bus.ToolCompleted}
		inv.Name, _ = evt.Payload["tool"].(string)
		inv.Input, _ = evt.Payload["input"].(string)
		inv.Output, _ = evt.Payload["output"].(string)
		if ms, ok := evt.Payload["duration_ms"].(int64); ok {
			inv.DurationMS = ms
		}
		l.record.Tools = append(l.record.Tools, inv)
	}
}

// SetOutcome records how the call concluded. The last call before Finish
// wins.
func (l *Logger) SetOutcome(o Outcome) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.flushed {
		l.record.Outcome = o
	}
}

// SetFinalState records the state machine's terminal state.
func (l *Logger) SetFinalState(state string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.flushed {
		l.record.FinalState = state
	}
}

// AddMetric records one named metric value.
func (l *Logger) AddMetric(name string, value any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.flushed {
		l.record.Metrics[name] = value
	}
}

// Snapshot returns a copy of the record as accumulated so far.
func (l *Logger) Snapshot() Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.record
	rec.Events = append([]RecordedEvent(nil), l.record.Events...)
	rec.Tools = append([]ToolInvocation(nil), l.record.Tools...)
	return rec
}

// Finish finalizes and delivers the record. Exactly one Finish flushes;
// later calls are no-ops. A sink failure is logged, not propagated: the
// sink's retry policy has already run and teardown must continue.
func (l *Logger) Finish(ctx context.Context) {
	l.mu.Lock()
	if l.flushed {
		l.mu.Unlock()
		return
	}
	l.flushed = true
	for _, sub := range l.subs {
		sub.Cancel()
	}
	l.subs = nil
	l.record.EndedAt = time.Now()
	l.record.DurationMS = l.record.EndedAt.Sub(l.record.StartedAt).Milliseconds()
	rec := l.record
	sink := l.sink
	l.mu.Unlock()

	if sink == nil {
		return
	}
	if err := sink.Deliver(ctx, &rec); err != nil {
		slog.Error("callog: record delivery failed",
			"call_uuid", rec.CallUUID, "err", err)
	}
}
