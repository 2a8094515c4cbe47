package switchctl

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/voxsec/voxsec/internal/bus"
)

// Target identifies the session a switch event belongs to: its event bus and
// the UUID of its primary (A-leg) channel. Events for other UUIDs routed to
// the same session belong to legs the session originated (transfer B-legs).
type Target struct {
	Events   *bus.Bus
	CallUUID string
}

// Router resolves a call id from the event stream to its owning session.
// Lookups tolerate late registration: the stream retries briefly before
// dropping an event.
type Router interface {
	Route(callID string) (Target, bool)
}

// routeRetries and routeRetryDelay bound the late-registration window during
// which an unroutable event is retried instead of dropped.
const (
	routeRetries    = 5
	routeRetryDelay = 20 * time.Millisecond
)

// NewCall describes a freshly parked inbound channel that no session owns.
// The dialplan parks inbound calls destined for the secretary; the park event
// is the signal to spin up a session for the channel.
type NewCall struct {
	UUID        string
	CallerID    string
	CallerName  string
	Destination string
}

// EventStream consumes the switch's outbound event channel, normalizes each
// event into a bus event, and publishes it on the owning session's bus.
type EventStream struct {
	cfg    Config
	router Router

	// OnNewCall, when set, is invoked on its own goroutine for each parked
	// inbound channel with no owning session.
	OnNewCall func(ctx context.Context, call NewCall)
}

// NewEventStream creates an EventStream routing events through router.
func NewEventStream(cfg Config, router Router) *EventStream {
	return &EventStream{cfg: cfg, router: router}
}

// Run connects the outbound event channel and consumes events until ctx is
// cancelled or the connection fails. Callers are expected to supervise Run
// and reconnect with backoff.
func (s *EventStream) Run(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("switchctl: event stream dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	rd := bufio.NewReader(conn)

	// Authenticate and subscribe to all channel events.
	_ = conn.SetDeadline(time.Now().Add(connectTimeout))
	if greeting, err := readBlock(rd); err != nil {
		return fmt.Errorf("switchctl: event stream greeting: %w", err)
	} else if !strings.Contains(greeting, "auth/request") {
		return fmt.Errorf("switchctl: unexpected event stream greeting %q", firstLine(greeting))
	}
	if _, err := fmt.Fprintf(conn, "auth %s\n\n", s.cfg.Password); err != nil {
		return fmt.Errorf("switchctl: event stream auth: %w", err)
	}
	if reply, err := readBlock(rd); err != nil {
		return fmt.Errorf("switchctl: event stream auth reply: %w", err)
	} else if !strings.HasPrefix(replyText(reply), "+OK") {
		return fmt.Errorf("switchctl: event stream auth rejected")
	}
	if _, err := fmt.Fprintf(conn, "events plain ALL\n\n"); err != nil {
		return fmt.Errorf("switchctl: subscribe events: %w", err)
	}
	if _, err := readBlock(rd); err != nil {
		return fmt.Errorf("switchctl: subscribe reply: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})

	slog.Info("switchctl: event stream connected", "addr", s.cfg.Addr)

	for {
		block, err := readBlock(rd)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("switchctl: event stream read: %w", err)
		}
		s.dispatch(ctx, parseHeaders(block))
	}
}

// dispatch routes one parsed event to its session and publishes the
// normalized bus event. Events without a routable call id are retried
// briefly (late registration) and then dropped.
func (s *EventStream) dispatch(ctx context.Context, headers map[string]string) {
	callID := eventCallID(headers)
	if callID == "" {
		return
	}

	if headers["Event-Name"] == "CHANNEL_PARK" {
		if _, owned := s.router.Route(callID); !owned && s.OnNewCall != nil {
			go s.OnNewCall(ctx, NewCall{
				UUID:        headers["Unique-ID"],
				CallerID:    headers["Caller-Caller-ID-Number"],
				CallerName:  headers["Caller-Caller-ID-Name"],
				Destination: headers["Caller-Destination-Number"],
			})
		}
		return
	}

	var target Target
	var ok bool
	for attempt := 0; attempt < routeRetries; attempt++ {
		if target, ok = s.router.Route(callID); ok {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(routeRetryDelay):
		}
	}
	if !ok {
		slog.Debug("switchctl: dropping event for unknown call",
			"call_id", callID, "event", headers["Event-Name"])
		return
	}

	evt, ok := normalizeEvent(headers, target.CallUUID)
	if !ok {
		return
	}
	evt.CallID = callID
	target.Events.Publish(evt)
}

// eventCallID extracts the owning call id: an explicit routing variable set
// at originate time wins over the channel's own UUID.
func eventCallID(headers map[string]string) string {
	if id := headers["Variable-Voxsec-Call-Id"]; id != "" {
		return id
	}
	return headers["Unique-ID"]
}

// normalizeEvent translates one switch event into a bus event. Events on the
// session's primary channel describe the caller; events on any other routed
// UUID describe a leg the session originated.
func normalizeEvent(headers map[string]string, primaryUUID string) (bus.Event, bool) {
	uuid := headers["Unique-ID"]
	primary := uuid == primaryUUID
	payload := map[string]any{"uuid": uuid}

	switch headers["Event-Name"] {
	case "CHANNEL_ANSWER":
		if primary {
			return bus.Event{Kind: bus.CallConnected, Source: "switch", Payload: payload}, true
		}
		return bus.Event{Kind: bus.TransferAnswered, Source: "switch", Payload: payload}, true

	case "CHANNEL_PROGRESS", "CHANNEL_RING":
		if primary {
			return bus.Event{}, false
		}
		return bus.Event{Kind: bus.TransferRinging, Source: "switch", Payload: payload}, true

	case "CHANNEL_HANGUP":
		payload["cause"] = headers["Hangup-Cause"]
		if primary {
			return bus.Event{Kind: bus.CallEnded, Source: "switch", Payload: payload}, true
		}
		return bus.Event{Kind: bus.TransferCancelled, Source: "switch", Payload: payload}, true

	case "DTMF":
		payload["digit"] = headers["DTMF-Digit"]
		return bus.Event{Kind: bus.UserDTMF, Source: "switch", Payload: payload}, true

	default:
		// Bridge/unbridge and housekeeping events carry no state the core
		// acts on directly.
		return bus.Event{}, false
	}
}

// parseHeaders splits a "Key: Value" block into a map.
func parseHeaders(block string) map[string]string {
	headers := make(map[string]string)
	for line := range strings.Lines(block) {
		line = strings.TrimRight(line, "\n")
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return headers
}
