// Package bus provides the per-call typed event bus.
//
// Every component of a call session communicates through a [Bus]: the switch
// adapter publishes normalized channel events, the state machine announces
// transitions, the audio pipeline reports playback conditions, and the
// transfer orchestrator awaits decisions with [Bus.WaitFor]. Each call owns
// exactly one Bus; buses are never shared across calls.
//
// Publication is serialized per bus: handlers for one event run to completion,
// in registration order, before the next event is delivered. A handler that
// panics is logged and skipped — it never suppresses delivery to the remaining
// handlers. Handlers may publish from within a handler up to a small fixed
// re-entrancy depth; deeper publishes are dropped with a log warning.
//
// A bounded history of recent events is retained for diagnostics and for the
// call record.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"
)

const (
	// historyLimit bounds the number of events retained by History.
	historyLimit = 100

	// maxPublishDepth is the maximum synchronous re-entrancy depth allowed
	// for Publish calls made from inside a handler.
	maxPublishDepth = 4
)

// ErrWaitTimeout is returned by WaitFor and WaitForAny when no matching event
// arrives before the timeout elapses.
var ErrWaitTimeout = errors.New("bus: wait timed out")

// ErrClosed is returned when an operation is attempted on a closed bus.
var ErrClosed = errors.New("bus: closed")

// Event is a single typed occurrence within one call.
type Event struct {
	// Kind identifies the event type. Always one of the Kind constants.
	Kind Kind

	// CallID is the call this event belongs to.
	CallID string

	// Payload carries event-specific data. May be nil.
	Payload map[string]any

	// Timestamp is when the event was published.
	Timestamp time.Time

	// Source tags the component that published the event ("switch",
	// "provider", "statemachine", "pacer", ...).
	Source string
}

// Handler consumes a single event. Handlers run on the publisher's goroutine
// and must return promptly; long-running work belongs in a separate goroutine.
type Handler func(Event)

// Subscription identifies a registered handler so it can be removed.
// A Subscription is returned by Subscribe and SubscribeOnce and is passed to
// Unsubscribe (or cancelled via its Cancel method).
type Subscription struct {
	bus  *Bus
	kind Kind
	id   uint64
}

// Cancel removes the subscription from its bus. Cancelling an already-removed
// subscription is a no-op.
func (s *Subscription) Cancel() {
	if s != nil && s.bus != nil {
		s.bus.Unsubscribe(s)
	}
}

type subscription struct {
	id      uint64
	handler Handler
	once    bool
}

type waiter struct {
	kinds []Kind
	pred  func(Event) bool
	ch    chan Event
}

// Bus is a per-call publish/subscribe event bus with bounded history.
// All methods are safe for concurrent use.
type Bus struct {
	callID string

	mu           sync.Mutex
	nextID       uint64
	subs         map[Kind][]subscription
	waiters      []*waiter
	history      []Event
	queue        []queued
	dispatching  bool
	currentDepth int
	closed       bool
}

// queued pairs an event with its causal re-entrancy depth while it waits for
// dispatch.
type queued struct {
	evt   Event
	depth int
}

// New creates a Bus for the given call.
func New(callID string) *Bus {
	return &Bus{
		callID: callID,
		subs:   make(map[Kind][]subscription),
	}
}

// Publish delivers an event to all handlers registered for its kind, appends
// it to history, and wakes all matching waiters. The CallID and Timestamp
// fields are filled in if unset.
//
// Delivery is run-to-completion: if a publish arrives while another event is
// being delivered (from a handler, or from another goroutine), the event is
// queued and delivered by the goroutine currently dispatching. This keeps
// handler execution serialized per bus while allowing bounded re-entrancy.
func (b *Bus) Publish(evt Event) {
	if evt.CallID == "" {
		evt.CallID = b.callID
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}

	// Record history and wake waiters at enqueue time so ordering matches
	// publication order even for queued events.
	b.history = append(b.history, evt)
	if len(b.history) > historyLimit {
		b.history = b.history[len(b.history)-historyLimit:]
	}
	remaining := b.waiters[:0]
	for _, w := range b.waiters {
		if w.matches(evt) {
			w.ch <- evt
		} else {
			remaining = append(remaining, w)
		}
	}
	b.waiters = slices.Clone(remaining)

	// Publishes that arrive during dispatch are causally downstream of the
	// event being delivered; they inherit its depth plus one. A chain deeper
	// than maxPublishDepth (a handler endlessly republishing) is cut off.
	depth := 0
	if b.dispatching {
		depth = b.currentDepth + 1
		if depth > maxPublishDepth {
			b.mu.Unlock()
			slog.Warn("bus: publish depth exceeded, dropping event",
				"call_id", evt.CallID, "kind", evt.Kind, "depth", maxPublishDepth)
			return
		}
		b.queue = append(b.queue, queued{evt: evt, depth: depth})
		b.mu.Unlock()
		return
	}

	b.dispatching = true
	b.queue = append(b.queue, queued{evt: evt})
	for len(b.queue) > 0 {
		next := b.queue[0]
		b.queue = b.queue[1:]
		b.currentDepth = next.depth

		// Snapshot handlers so subscribe/unsubscribe inside a handler cannot
		// corrupt iteration. One-shot subscriptions are removed before delivery.
		subs := b.subs[next.evt.Kind]
		handlers := make([]Handler, 0, len(subs))
		kept := subs[:0]
		for _, s := range subs {
			handlers = append(handlers, s.handler)
			if !s.once {
				kept = append(kept, s)
			}
		}
		b.subs[next.evt.Kind] = slices.Clone(kept)
		b.mu.Unlock()

		for _, h := range handlers {
			b.invoke(h, next.evt)
		}

		b.mu.Lock()
	}
	b.dispatching = false
	b.currentDepth = 0
	b.mu.Unlock()
}

// invoke runs a single handler, recovering and logging any panic so one
// faulty handler cannot suppress delivery to the others.
func (b *Bus) invoke(h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus: handler panicked, skipping",
				"call_id", evt.CallID, "kind", evt.Kind, "panic", r)
		}
	}()
	h(evt)
}

// Subscribe registers handler for all future events of the given kind.
// Handlers for the same kind are invoked in registration order.
func (b *Bus) Subscribe(kind Kind, handler Handler) *Subscription {
	return b.subscribe(kind, handler, false)
}

// SubscribeOnce registers handler for the next event of the given kind only.
// The subscription is removed before the handler runs.
func (b *Bus) SubscribeOnce(kind Kind, handler Handler) *Subscription {
	return b.subscribe(kind, handler, true)
}

func (b *Bus) subscribe(kind Kind, handler Handler, once bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(slices.Clone(b.subs[kind]), subscription{id: id, handler: handler, once: once})
	return &Subscription{bus: b, kind: kind, id: id}
}

// Unsubscribe removes a previously registered subscription. Removing a
// subscription that has already been removed (or has fired, for one-shot
// subscriptions) is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[sub.kind]
	for i, s := range subs {
		if s.id == sub.id {
			b.subs[sub.kind] = slices.Delete(slices.Clone(subs), i, i+1)
			return
		}
	}
}

// WaitFor suspends until an event of the given kind matching pred arrives,
// the timeout elapses, or ctx is cancelled. A nil pred matches any event of
// the kind. Returns [ErrWaitTimeout] on timeout.
func (b *Bus) WaitFor(ctx context.Context, kind Kind, timeout time.Duration, pred func(Event) bool) (Event, error) {
	return b.wait(ctx, []Kind{kind}, timeout, pred)
}

// WaitForAny suspends until the first event whose kind is in kinds arrives,
// the timeout elapses, or ctx is cancelled.
func (b *Bus) WaitForAny(ctx context.Context, kinds []Kind, timeout time.Duration) (Event, error) {
	return b.wait(ctx, kinds, timeout, nil)
}

func (b *Bus) wait(ctx context.Context, kinds []Kind, timeout time.Duration, pred func(Event) bool) (Event, error) {
	w := &waiter{
		kinds: kinds,
		pred:  pred,
		// Buffered so Publish never blocks handing off to a waiter.
		ch: make(chan Event, 1),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Event{}, ErrClosed
	}
	b.waiters = append(b.waiters, w)
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case evt, ok := <-w.ch:
		if !ok {
			return Event{}, ErrClosed
		}
		return evt, nil
	case <-timer.C:
		b.removeWaiter(w)
		return Event{}, ErrWaitTimeout
	case <-ctx.Done():
		b.removeWaiter(w)
		return Event{}, ctx.Err()
	}
}

func (b *Bus) removeWaiter(w *waiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, other := range b.waiters {
		if other == w {
			b.waiters = slices.Delete(slices.Clone(b.waiters), i, i+1)
			return
		}
	}
}

func (w *waiter) matches(evt Event) bool {
	if !slices.Contains(w.kinds, evt.Kind) {
		return false
	}
	if w.pred != nil && !w.pred(evt) {
		return false
	}
	return true
}

// History returns up to limit most-recent events, oldest first. A zero kind
// matches all kinds; limit <= 0 means no limit beyond the retained bound.
// The returned slice is a copy and purely diagnostic.
func (b *Bus) History(kind Kind, limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Event
	for _, evt := range b.history {
		if kind == "" || evt.Kind == kind {
			out = append(out, evt)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return slices.Clone(out)
}

// Close releases all waiters with [ErrClosed] and drops all subscriptions.
// Subsequent publishes are ignored. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	waiters := b.waiters
	b.waiters = nil
	b.subs = make(map[Kind][]subscription)
	b.mu.Unlock()

	for _, w := range waiters {
		close(w.ch)
	}
}
