// Package transfer implements the announced-transfer protocol.
//
// A transfer rendezvouses both legs in a temporary conference room: the
// caller (A-leg) enters muted while the attendant (B-leg) is dialed
// directly into the room. Once the attendant answers, a side-channel
// provider session announces the call and collects an explicit accept or
// reject decision before the caller is unmuted. Park-and-bridge
// approaches are deliberately avoided: parking mutes the B-leg on some
// switches and strands the A-leg when the far end hangs up.
//
// One call runs at most one orchestrator at a time. The main provider
// session is suspended, not torn down, while a transfer is in flight;
// only a completed bridge retires it.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/voxsec/voxsec/internal/bus"
	"github.com/voxsec/voxsec/internal/callstate"
	"github.com/voxsec/voxsec/internal/config"
	"github.com/voxsec/voxsec/internal/heartbeat"
	"github.com/voxsec/voxsec/internal/provider/realtime"
	"github.com/voxsec/voxsec/internal/switchctl"
	"github.com/voxsec/voxsec/internal/tools"
)

const (
	// defaultDialTimeout bounds one B-leg dial attempt.
	defaultDialTimeout = 25 * time.Second

	// defaultResponseTimeout bounds the attendant's accept/reject decision.
	defaultResponseTimeout = 15 * time.Second

	// defaultBudget bounds one whole transfer run, dial retries included.
	defaultBudget = 2 * time.Minute
)

// ErrInFlight is returned when a transfer is requested while another one
// is still running on the same call.
var ErrInFlight = errors.New("transfer: already in progress")

// ErrCallEnded is returned when the caller hangs up mid-transfer. The
// orchestrator has already released the conference and the B-leg when
// this is returned.
var ErrCallEnded = errors.New("transfer: caller hung up")

// errBudgetExhausted aborts a run whose overall time budget elapsed while
// a dial or decision wait was still pending.
var errBudgetExhausted = errors.New("transfer: time budget exhausted")

// Request carries the model's handoff request into the orchestrator.
type Request struct {
	// Destination is the spoken name of the person or department.
	Destination string

	// Reason is the model's summary of why the caller wants the transfer.
	Reason string

	// CallerID and CallerName identify the caller for the announcement and
	// for caller id presentation on the B-leg.
	CallerID   string
	CallerName string
}

// Result reports how a transfer run concluded.
type Result struct {
	// Bridged is true when the attendant accepted and both legs converse.
	// The owning session must now retire the main provider session without
	// dropping the call.
	Bridged bool

	// Conference is the rendezvous room id.
	Conference string

	// BLegUUID is the attendant's channel, set once a dial attempt
	// produced a leg.
	BLegUUID string

	// Fallback is the action executed when the transfer did not bridge.
	Fallback config.FallbackAction

	// TicketID is set when the fallback created a ticket.
	TicketID string
}

// Deps are the collaborators an orchestrator borrows from its session.
// The orchestrator owns none of them.
type Deps struct {
	CallID   string
	ALegUUID string

	Events  *bus.Bus
	Machine *callstate.Machine
	Switch  switchctl.Commander
	Dialer  realtime.Dialer

	Tenant    *config.Tenant
	Secretary *config.Secretary

	// Main is the caller-facing provider session, used to speak fallback
	// explanations after a failed transfer. May be nil in tests.
	Main realtime.Handle

	// Ticketer creates callback tickets for ticket fallbacks. Nil degrades
	// auto_ticket to offer_ticket.
	Ticketer Ticketer

	// BindSideMedia attaches the side session's audio to the B-leg. The
	// returned func detaches it. Nil skips media binding.
	BindSideMedia func(ctx context.Context, uuid string, h realtime.Handle) (func(), error)

	// Budget bounds one whole transfer run. Zero takes the default (2 m).
	Budget time.Duration
}

// Orchestrator runs one announced transfer at a time for one call.
type Orchestrator struct {
	d       Deps
	running atomic.Bool
}

// New creates an Orchestrator for one call.
func New(d Deps) *Orchestrator {
	return &Orchestrator{d: d}
}

// Run executes the announced-transfer protocol and blocks until the
// transfer bridged, fell back, or failed. Concurrent runs are rejected
// with [ErrInFlight].
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	if !o.running.CompareAndSwap(false, true) {
		return Result{}, ErrInFlight
	}
	defer o.running.Store(false)

	budget := o.d.Budget
	if budget <= 0 {
		budget = defaultBudget
	}
	// The watchdog is the root of the run's deadline tree: every dial and
	// decision wait hangs off it, so an exhausted budget cancels them all.
	watchdog := heartbeat.NewScope(budget, func() {
		slog.Warn("transfer: time budget exhausted",
			"call_id", o.d.CallID, "budget", budget)
	})
	defer watchdog.Cancel()

	if !o.d.Machine.Fire(callstate.TriggerRequestTransfer, map[string]any{
		"destination": req.Destination,
		"caller":      req.CallerID,
	}) {
		return Result{}, fmt.Errorf("transfer: call not in a transferable state (%s)", o.d.Machine.Current())
	}

	dest := Resolve(req.Destination, o.d.Tenant.Destinations)
	if dest == nil {
		slog.Info("transfer: no destination resolved",
			"call_id", o.d.CallID, "requested", req.Destination)
		return o.abort(ctx, callstate.TriggerTransferCancelled, config.FallbackOfferTicket,
			req, req.Destination, "no matching destination")
	}

	if reason, ok := o.available(ctx, dest); !ok {
		slog.Info("transfer: destination unavailable",
			"call_id", o.d.CallID, "destination", dest.Name, "reason", reason)
		return o.abort(ctx, callstate.TriggerTransferCancelled, dest.Fallback,
			req, dest.Name, reason)
	}

	o.d.Machine.Fire(callstate.TriggerDestinationValidated, nil)
	o.d.Events.Publish(bus.Event{
		Kind:   bus.TransferValidated,
		CallID: o.d.CallID,
		Source: "transfer",
		Payload: map[string]any{
			"destination": dest.Name,
			"address":     dest.Address,
		},
	})

	conference := conferenceID(o.d.CallID)
	res := Result{Conference: conference}

	if err := o.d.Switch.ConferenceEnter(ctx, conference, o.d.ALegUUID, switchctl.ConferenceOptions{
		Muted:     true,
		Moderator: true,
	}); err != nil {
		o.d.Machine.Fire(callstate.TriggerTransferCancelled, nil)
		o.publishFailed("conference enter failed", err)
		return res, fmt.Errorf("transfer: enter conference: %w", err)
	}

	bUUID, err := o.dialAttendant(ctx, watchdog, dest, conference, req)
	res.BLegUUID = bUUID
	switch {
	case errors.Is(err, ErrCallEnded):
		o.unwind(ctx, conference, bUUID, nil, nil)
		return res, err
	case err != nil:
		o.d.Switch.ConferenceKick(ctx, conference, o.d.ALegUUID)
		return o.completeFallback(ctx, res, callstate.TriggerTransferTimeout,
			dest.Fallback, req, dest.Name, "did not answer")
	}

	o.d.Machine.Fire(callstate.TriggerAttendantAnswered, nil)

	decision, side, detach, err := o.announceAndDecide(ctx, watchdog, dest, bUUID, req)
	if err != nil {
		o.unwind(ctx, conference, bUUID, side, detach)
		if errors.Is(err, ErrCallEnded) {
			return res, err
		}
		o.publishFailed("announcement failed", err)
		return o.completeFallback(ctx, res, callstate.TriggerTransferCancelled,
			dest.Fallback, req, dest.Name, "announcement failed")
	}

	switch decision {
	case bus.TransferAccepted:
		return o.bridge(ctx, res, conference, bUUID, side, detach, dest, req)

	case bus.CallEnded:
		o.unwind(ctx, conference, bUUID, side, detach)
		return res, ErrCallEnded

	case bus.TransferTimeout:
		o.releaseAttendant(ctx, conference, bUUID, side, detach)
		o.d.Events.Publish(bus.Event{
			Kind:    bus.TransferTimeout,
			CallID:  o.d.CallID,
			Source:  "transfer",
			Payload: map[string]any{"destination": dest.Name},
		})
		o.d.Switch.ConferenceKick(ctx, conference, o.d.ALegUUID)
		return o.completeFallback(ctx, res, callstate.TriggerTransferTimeout,
			dest.Fallback, req, dest.Name, "did not respond in time")

	default: // rejected or B-leg hangup
		trigger := callstate.TriggerTransferRejected
		detail := "declined the call"
		if decision == bus.TransferCancelled {
			trigger = callstate.TriggerTransferCancelled
			detail = "hung up before deciding"
		}
		o.releaseAttendant(ctx, conference, bUUID, side, detach)
		o.d.Switch.ConferenceKick(ctx, conference, o.d.ALegUUID)
		return o.completeFallback(ctx, res, trigger, dest.Fallback, req, dest.Name, detail)
	}
}

// available checks working hours and registration for a destination. A
// destination's own windows take precedence over the tenant's. Queues and
// external numbers have no registration to query.
func (o *Orchestrator) available(ctx context.Context, dest *config.TransferDestination) (string, bool) {
	if !o.d.Tenant.OpenFor(dest, time.Now()) {
		return "outside working hours", false
	}
	switch dest.Kind {
	case config.KindExtension, config.KindRingGroup:
		registered, err := o.d.Switch.QueryRegistration(ctx, dest.Address)
		if err != nil {
			return fmt.Sprintf("registration query failed: %v", err), false
		}
		if !registered {
			return "not registered", false
		}
	}
	return "", true
}

// dialAttendant originates the B-leg into the conference, retrying per the
// destination's policy. It returns the answered leg's uuid. Every ring wait
// is a child of the run's watchdog scope.
func (o *Orchestrator) dialAttendant(ctx context.Context, watchdog *heartbeat.Scope, dest *config.TransferDestination, conference string, req Request) (string, error) {
	dialTimeout := dest.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}

	attempts := dest.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && dest.RetryDelay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-watchdog.Done():
				return "", errBudgetExhausted
			case <-time.After(dest.RetryDelay):
			}
		}

		// Watch before dialing so a fast answer cannot slip past.
		events, stop := o.watch(bus.TransferAnswered, bus.TransferCancelled, bus.CallEnded)

		o.d.Events.Publish(bus.Event{
			Kind:   bus.TransferDialing,
			CallID: o.d.CallID,
			Source: "transfer",
			Payload: map[string]any{
				"destination": dest.Name,
				"address":     dest.Address,
				"attempt":     attempt,
			},
		})

		// Pre-assigning the leg uuid lets events for the new leg route to
		// this call before the originate reply arrives.
		legUUID := uuid.NewString()
		bUUID, err := o.d.Switch.Originate(ctx, switchctl.OriginateRequest{
			Destination:    dest.Address,
			CallerIDNumber: req.CallerID,
			CallerIDName:   req.CallerName,
			Timeout:        int(dialTimeout / time.Second),
			Conference:     conference,
			Variables: map[string]string{
				"origination_uuid": legUUID,
				"voxsec_call_id":   o.d.CallID,
			},
		})
		if err != nil {
			stop()
			lastErr = err
			slog.Warn("transfer: originate failed",
				"call_id", o.d.CallID, "destination", dest.Address,
				"attempt", attempt, "err", err)
			continue
		}

		evt, err := waitEvent(ctx, events, watchdog.Child(dialTimeout, func() {}))
		stop()
		switch {
		case errors.Is(err, bus.ErrWaitTimeout):
			// Ring timeout: release the unanswered leg and redial.
			o.d.Switch.Hangup(ctx, bUUID, "NO_ANSWER")
			lastErr = fmt.Errorf("transfer: dial attempt %d timed out", attempt)
			continue
		case err != nil:
			// Budget exhausted or caller context gone.
			o.d.Switch.Hangup(ctx, bUUID, "ORIGINATOR_CANCEL")
			return "", err
		case evt.Kind == bus.TransferAnswered:
			return bUUID, nil
		case evt.Kind == bus.CallEnded:
			o.d.Switch.Hangup(ctx, bUUID, "ORIGINATOR_CANCEL")
			return "", ErrCallEnded
		default: // TransferCancelled: the leg failed before answering
			lastErr = fmt.Errorf("transfer: attendant leg ended before answering")
			continue
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("transfer: no dial attempts made")
	}
	return "", lastErr
}

// announceAndDecide runs the side-channel session against the attendant
// and waits for an accept or reject decision. It returns the decisive bus
// kind; bus.TransferTimeout stands in for an elapsed response timeout.
func (o *Orchestrator) announceAndDecide(ctx context.Context, watchdog *heartbeat.Scope, dest *config.TransferDestination, bUUID string, req Request) (bus.Kind, realtime.Handle, func(), error) {
	sideReg := tools.NewRegistry(&tools.CallContext{
		CallID:    o.d.CallID,
		Tenant:    o.d.Tenant,
		Secretary: o.d.Secretary,
		Events:    o.d.Events,
		Switch:    o.d.Switch,
		State:     o.d.Machine.Current,
	}, nil)
	for _, t := range tools.SideChannelTools() {
		if err := sideReg.Register(t); err != nil {
			return "", nil, nil, fmt.Errorf("transfer: side tools: %w", err)
		}
	}

	side, err := o.d.Dialer.Connect(ctx, realtime.SessionConfig{
		Voice:        o.d.Secretary.Voice,
		Instructions: sideInstructions,
		Turn:         realtime.TurnDetection{Mode: realtime.TurnServerVAD},
		Tools:        sideReg.Definitions(),
		// The announcement channel is short-lived; a transport loss ends it.
		Reconnect: func() bool { return false },
	}, o.d.Events)
	if err != nil {
		return "", nil, nil, fmt.Errorf("transfer: side session: %w", err)
	}
	side.OnToolCall(func(name, argsJSON string) (string, error) {
		return sideReg.Dispatch(ctx, name, argsJSON), nil
	})

	var detach func()
	if o.d.BindSideMedia != nil {
		detach, err = o.d.BindSideMedia(ctx, bUUID, side)
		if err != nil {
			side.Close()
			return "", nil, nil, fmt.Errorf("transfer: bind side media: %w", err)
		}
	}

	// Watch for the decision before speaking: an eager attendant may
	// answer during the announcement.
	events, stop := o.watch(bus.TransferAccepted, bus.TransferRejected,
		bus.TransferCancelled, bus.CallEnded)
	defer stop()

	o.d.Events.Publish(bus.Event{
		Kind:    bus.TransferAnnouncing,
		CallID:  o.d.CallID,
		Source:  "transfer",
		Payload: map[string]any{"destination": dest.Name},
	})
	if err := side.Say(buildAnnouncement(o.d.Tenant, req)); err != nil {
		return "", side, detach, fmt.Errorf("transfer: announce: %w", err)
	}
	o.d.Machine.Fire(callstate.TriggerAnnouncementDone, nil)

	responseTimeout := dest.ResponseTimeout
	if responseTimeout <= 0 {
		responseTimeout = defaultResponseTimeout
	}
	evt, err := waitEvent(ctx, events, watchdog.Child(responseTimeout, func() {}))
	if err != nil {
		if ctx.Err() != nil {
			return "", side, detach, ctx.Err()
		}
		if !errors.Is(err, bus.ErrWaitTimeout) {
			return "", side, detach, err
		}
		return bus.TransferTimeout, side, detach, nil
	}
	if evt.Kind == bus.CallEnded {
		return bus.CallEnded, side, detach, nil
	}
	return evt.Kind, side, detach, nil
}

// bridge completes an accepted transfer: the caller is unmuted, the side
// session closed, and the call left in the bridged state. The caller's
// provider session is the owning session's to retire.
func (o *Orchestrator) bridge(ctx context.Context, res Result, conference, bUUID string, side realtime.Handle, detach func(), dest *config.TransferDestination, req Request) (Result, error) {
	o.d.Machine.Fire(callstate.TriggerTransferAccepted, nil)

	if err := o.d.Switch.ConferenceUnmute(ctx, conference, o.d.ALegUUID); err != nil {
		o.unwind(ctx, conference, bUUID, side, detach)
		o.publishFailed("unmute failed", err)
		return o.completeFallback(ctx, res, callstate.TriggerTransferCancelled,
			dest.Fallback, req, dest.Name, "bridge failed")
	}

	if detach != nil {
		detach()
	}
	side.Close()

	o.d.Events.Publish(bus.Event{
		Kind:   bus.TransferCompleted,
		CallID: o.d.CallID,
		Source: "transfer",
		Payload: map[string]any{
			"destination": dest.Name,
			"conference":  conference,
			"b_leg":       bUUID,
		},
	})
	o.d.Machine.Fire(callstate.TriggerBridgeComplete, nil)

	slog.Info("transfer: bridged",
		"call_id", o.d.CallID, "destination", dest.Name, "conference", conference)
	res.Bridged = true
	return res, nil
}

// abort handles failures before any switch-side effects exist: fire the
// return trigger and run the fallback.
func (o *Orchestrator) abort(ctx context.Context, trigger callstate.Trigger, action config.FallbackAction, req Request, destName, detail string) (Result, error) {
	return o.completeFallback(ctx, Result{}, trigger, action, req, destName, detail)
}

// completeFallback returns the call to the agent and executes the
// configured fallback action.
func (o *Orchestrator) completeFallback(ctx context.Context, res Result, trigger callstate.Trigger, action config.FallbackAction, req Request, destName, detail string) (Result, error) {
	o.d.Machine.Fire(trigger, nil)
	res.Fallback, res.TicketID = o.runFallback(ctx, action, req, destName, detail)
	return res, nil
}

// runFallback executes one fallback action and returns the action that was
// actually performed plus any created ticket id.
func (o *Orchestrator) runFallback(ctx context.Context, action config.FallbackAction, req Request, destName, detail string) (config.FallbackAction, string) {
	if action == "" {
		action = config.FallbackOfferTicket
	}

	switch action {
	case config.FallbackAutoTicket:
		if o.d.Ticketer == nil {
			return o.runFallback(ctx, config.FallbackOfferTicket, req, destName, detail)
		}
		id, err := o.d.Ticketer.Create(ctx, Ticket{
			CallUUID:    o.d.CallID,
			TenantID:    o.d.Tenant.ID,
			CallerID:    req.CallerID,
			CallerName:  req.CallerName,
			Destination: destName,
			Reason:      req.Reason,
		})
		if err != nil {
			slog.Error("transfer: ticket creation failed", "call_id", o.d.CallID, "err", err)
			return o.runFallback(ctx, config.FallbackOfferTicket, req, destName, detail)
		}
		o.say(fmt.Sprintf("Tell the caller that %s %s and that a callback ticket has been created; someone will get back to them.", destName, detail))
		return config.FallbackAutoTicket, id

	case config.FallbackVoicemail:
		vm := voicemailDestination(o.d.Tenant)
		if vm == nil {
			return o.runFallback(ctx, config.FallbackOfferTicket, req, destName, detail)
		}
		o.say(fmt.Sprintf("Tell the caller that %s %s and that they are being connected to voicemail now.", destName, detail))
		if err := o.d.Switch.Transfer(ctx, o.d.ALegUUID, vm.Address); err != nil {
			slog.Error("transfer: voicemail transfer failed", "call_id", o.d.CallID, "err", err)
			return o.runFallback(ctx, config.FallbackOfferTicket, req, destName, detail)
		}
		return config.FallbackVoicemail, ""

	case config.FallbackReturnToAgent:
		o.say(fmt.Sprintf("Tell the caller that %s %s and ask how else you can help.", destName, detail))
		return config.FallbackReturnToAgent, ""

	case config.FallbackHangUp:
		if msg := o.d.Secretary.FallbackMessage; msg != "" {
			o.say(msg)
		}
		o.d.Events.Publish(bus.Event{
			Kind:    bus.CallEnding,
			CallID:  o.d.CallID,
			Source:  "transfer",
			Payload: map[string]any{"reason": "transfer fallback"},
		})
		return config.FallbackHangUp, ""

	default: // offer_ticket
		o.say(fmt.Sprintf("Tell the caller that %s %s and offer to take a message so someone can call back.", destName, detail))
		return config.FallbackOfferTicket, ""
	}
}

// releaseAttendant removes the B-leg from the call: conference kick,
// hangup, side session teardown.
func (o *Orchestrator) releaseAttendant(ctx context.Context, conference, bUUID string, side realtime.Handle, detach func()) {
	if detach != nil {
		detach()
	}
	if side != nil {
		side.Close()
	}
	if bUUID != "" {
		o.d.Switch.ConferenceKick(ctx, conference, bUUID)
		o.d.Switch.Hangup(ctx, bUUID, "NORMAL_CLEARING")
	}
}

// unwind releases every switch-side effect of a failed transfer: the
// attendant leg, the side session, and the caller's conference membership.
func (o *Orchestrator) unwind(ctx context.Context, conference, bUUID string, side realtime.Handle, detach func()) {
	o.releaseAttendant(ctx, conference, bUUID, side, detach)
	o.d.Switch.ConferenceKick(ctx, conference, o.d.ALegUUID)
}

func (o *Orchestrator) publishFailed(reason string, err error) {
	o.d.Events.Publish(bus.Event{
		Kind:   bus.TransferFailed,
		CallID: o.d.CallID,
		Source: "transfer",
		Payload: map[string]any{
			"reason": reason,
			"error":  err.Error(),
		},
	})
}

// say speaks through the main provider session, tolerating its absence.
func (o *Orchestrator) say(instruction string) {
	if o.d.Main == nil {
		return
	}
	if err := o.d.Main.Say(instruction); err != nil {
		slog.Warn("transfer: fallback message failed", "call_id", o.d.CallID, "err", err)
	}
}

// watch subscribes to the given kinds and funnels matches into a buffered
// channel. Subscription happens synchronously, so events published after
// watch returns cannot be missed. stop cancels the subscriptions.
func (o *Orchestrator) watch(kinds ...bus.Kind) (<-chan bus.Event, func()) {
	ch := make(chan bus.Event, 8)
	subs := make([]*bus.Subscription, 0, len(kinds))
	for _, kind := range kinds {
		subs = append(subs, o.d.Events.Subscribe(kind, func(evt bus.Event) {
			select {
			case ch <- evt:
			default:
			}
		}))
	}
	return ch, func() {
		for _, sub := range subs {
			sub.Cancel()
		}
	}
}

// waitEvent blocks for the next watched event, the deadline scope, or ctx.
// A deadline that fired on its own reports bus.ErrWaitTimeout; one cancelled
// by its parent reports the exhausted run budget.
func waitEvent(ctx context.Context, events <-chan bus.Event, deadline *heartbeat.Scope) (bus.Event, error) {
	defer deadline.Cancel()
	select {
	case evt := <-events:
		return evt, nil
	case <-deadline.Done():
		if deadline.Fired() {
			return bus.Event{}, bus.ErrWaitTimeout
		}
		return bus.Event{}, errBudgetExhausted
	case <-ctx.Done():
		return bus.Event{}, ctx.Err()
	}
}

// conferenceID builds the rendezvous room name from the call id and the
// current time.
func conferenceID(callID string) string {
	return fmt.Sprintf("transfer_%s_%d", shortID(callID), time.Now().Unix())
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func voicemailDestination(t *config.Tenant) *config.TransferDestination {
	for i := range t.Destinations {
		d := &t.Destinations[i]
		if d.Enabled && d.Kind == config.KindVoicemail {
			return d
		}
	}
	return nil
}

// sideInstructions is the system prompt for the announcement session.
const sideInstructions = "You are announcing an incoming call to a colleague. " +
	"Deliver the announcement, then listen. If they agree to take the call, " +
	"call the accept_transfer tool. If they decline or cannot take it, call " +
	"the reject_transfer tool with their reason. Do not discuss anything else."

// buildAnnouncement renders the spoken announcement for the attendant.
func buildAnnouncement(tenant *config.Tenant, req Request) string {
	caller := req.CallerName
	if caller == "" {
		caller = req.CallerID
	}
	if caller == "" {
		caller = "an unidentified caller"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Announce the call now: you have a call from %s", caller)
	if tenant.Name != "" {
		fmt.Fprintf(&sb, " for %s", tenant.Name)
	}
	if req.Reason != "" {
		fmt.Fprintf(&sb, " regarding %s", req.Reason)
	}
	sb.WriteString(". Ask whether they can take the call.")
	return sb.String()
}
