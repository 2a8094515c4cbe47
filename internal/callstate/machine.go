package callstate

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/voxsec/voxsec/internal/bus"
)

// transitionHistoryLimit bounds the retained transition log.
const transitionHistoryLimit = 50

// Guard decides whether a transition may fire. It receives the trigger
// payload and returns false to block the transition.
type Guard func(payload map[string]any) bool

// sourceMatcher matches the machine's current state against a transition's
// "from" column. The table uses three forms: an exact state, a family
// wildcard ("active.*" meaning the family including the parent), and the
// any-state wildcard ("*", optionally excluding states).
type sourceMatcher struct {
	exact   State
	family  State
	any     bool
	exclude []State
}

func from(s State) sourceMatcher       { return sourceMatcher{exact: s} }
func fromFamily(s State) sourceMatcher { return sourceMatcher{family: s} }
func fromAny(exclude ...State) sourceMatcher {
	return sourceMatcher{any: true, exclude: exclude}
}

func (m sourceMatcher) matches(s State) bool {
	switch {
	case m.any:
		return !slices.Contains(m.exclude, s)
	case m.family != "":
		return s.Is(m.family)
	default:
		return s == m.exact
	}
}

// transition is one row of the machine's table.
type transition struct {
	trigger Trigger
	from    sourceMatcher
	to      State
	guard   Guard
}

// guardTransferRequest requires a destination and an identified caller before
// a transfer may start.
func guardTransferRequest(payload map[string]any) bool {
	dest, _ := payload["destination"].(string)
	caller, _ := payload["caller"].(string)
	return dest != "" && caller != ""
}

// table is the full transition table. Order matters: the first row whose
// trigger, source, and guard all match is applied.
var table = []transition{
	{trigger: TriggerStartCall, from: from(Idle), to: Connecting},
	{trigger: TriggerCallConnected, from: from(Connecting), to: ActiveListening},

	{trigger: TriggerUserStartsSpeaking, from: from(ActiveListening), to: ActiveListening},
	// Barge-in: the caller talking over the AI returns the call to listening.
	{trigger: TriggerUserStartsSpeaking, from: from(ActiveSpeaking), to: ActiveListening},
	{trigger: TriggerUserStopsSpeaking, from: from(ActiveListening), to: ActiveProcessing},
	{trigger: TriggerAIStartsSpeaking, from: from(ActiveProcessing), to: ActiveSpeaking},
	// The greeting and other unprompted utterances start from listening.
	{trigger: TriggerAIStartsSpeaking, from: from(ActiveListening), to: ActiveSpeaking},
	{trigger: TriggerAIStopsSpeaking, from: from(ActiveSpeaking), to: ActiveListening},

	{trigger: TriggerHold, from: fromFamily(Active), to: OnHold},
	{trigger: TriggerUnhold, from: from(OnHold), to: ActiveListening},

	{trigger: TriggerRequestTransfer, from: fromFamily(Active), to: TransferringValidating, guard: guardTransferRequest},
	{trigger: TriggerDestinationValidated, from: from(TransferringValidating), to: TransferringDialing},
	{trigger: TriggerAttendantAnswered, from: from(TransferringDialing), to: TransferringAnnouncing},
	{trigger: TriggerAnnouncementDone, from: from(TransferringAnnouncing), to: TransferringWaiting},
	{trigger: TriggerTransferAccepted, from: from(TransferringWaiting), to: TransferringBridging},
	{trigger: TriggerTransferRejected, from: from(TransferringWaiting), to: ActiveListening},
	{trigger: TriggerTransferTimeout, from: fromFamily(Transferring), to: ActiveListening},
	{trigger: TriggerTransferCancelled, from: fromFamily(Transferring), to: ActiveListening},
	{trigger: TriggerBridgeComplete, from: from(TransferringBridging), to: Bridged},

	{trigger: TriggerEndCall, from: fromAny(Ended), to: Ending},
	{trigger: TriggerCallEnded, from: from(Ending), to: Ended},
	{trigger: TriggerForceEnd, from: fromAny(), to: Ended},
}

// Transition records one applied transition for diagnostics.
type Transition struct {
	Trigger Trigger
	From    State
	To      State
	At      time.Time
}

// Machine is the authoritative call-lifecycle state machine. Transitions are
// serialized: a trigger is fully applied, including the state.changed event,
// before the next trigger from the same goroutine chain is dispatched.
// All methods are safe for concurrent use.
type Machine struct {
	callID string
	events *bus.Bus

	mu        sync.Mutex
	current   State
	enteredAt time.Time
	history   []Transition
}

// New creates a Machine in the idle state, publishing its transitions on the
// given bus.
func New(callID string, events *bus.Bus) *Machine {
	return &Machine{
		callID:    callID,
		events:    events,
		current:   Idle,
		enteredAt: time.Now(),
	}
}

// Current returns the authoritative state. The read is consistent with the
// last applied transition.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// EnteredAt returns when the current state was entered.
func (m *Machine) EnteredAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enteredAt
}

// Fire dispatches a trigger with an optional payload. It applies the first
// table row whose trigger, source state, and guard all match, publishes
// state.changed, and returns true. A trigger with no matching row (or a
// failing guard) is dropped: state.transition.blocked is published and Fire
// returns false.
func (m *Machine) Fire(trigger Trigger, payload map[string]any) bool {
	m.mu.Lock()
	old := m.current

	var applied *transition
	blockedByGuard := false
	for i := range table {
		row := &table[i]
		if row.trigger != trigger || !row.from.matches(old) {
			continue
		}
		if row.guard != nil && !row.guard(payload) {
			blockedByGuard = true
			continue
		}
		applied = row
		break
	}

	if applied == nil {
		m.mu.Unlock()
		slog.Debug("callstate: transition blocked",
			"call_id", m.callID, "trigger", trigger, "state", old, "guard", blockedByGuard)
		m.events.Publish(bus.Event{
			Kind:   bus.StateTransitionBlocked,
			Source: "statemachine",
			Payload: map[string]any{
				"trigger": string(trigger),
				"state":   string(old),
				"guard":   blockedByGuard,
			},
		})
		return false
	}

	now := time.Now()
	m.current = applied.to
	m.enteredAt = now
	m.history = append(m.history, Transition{Trigger: trigger, From: old, To: applied.to, At: now})
	if len(m.history) > transitionHistoryLimit {
		m.history = m.history[len(m.history)-transitionHistoryLimit:]
	}
	m.mu.Unlock()

	slog.Debug("callstate: transition",
		"call_id", m.callID, "trigger", trigger, "from", old, "to", applied.to)
	m.events.Publish(bus.Event{
		Kind:   bus.StateChanged,
		Source: "statemachine",
		Payload: map[string]any{
			"trigger": string(trigger),
			"old":     string(old),
			"new":     string(applied.to),
		},
	})
	return true
}

// Can reports whether trigger would be applied in the current state, without
// firing it. Guards are evaluated against the given payload.
func (m *Machine) Can(trigger Trigger, payload map[string]any) bool {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()

	for i := range table {
		row := &table[i]
		if row.trigger != trigger || !row.from.matches(current) {
			continue
		}
		if row.guard != nil && !row.guard(payload) {
			continue
		}
		return true
	}
	return false
}

// History returns a copy of the bounded transition log, oldest first.
func (m *Machine) History() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history)
}
