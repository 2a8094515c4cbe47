// Package mock provides an in-memory realtime.Dialer and Handle for tests.
//
// A mock Handle records everything the session asks of it and lets the test
// script the provider side: emit audio deltas, drive the tool-call handler,
// fail the dial.
package mock

import (
	"context"
	"sync"

	"github.com/voxsec/voxsec/internal/bus"
	"github.com/voxsec/voxsec/internal/provider/realtime"
)

// Injection is one recorded InjectContext call.
type Injection struct {
	Role string
	Text string
}

// Handle is a scriptable realtime.Handle.
type Handle struct {
	cfg realtime.SessionConfig

	mu         sync.Mutex
	handler    realtime.ToolCallHandler
	says       []string
	injections []Injection
	sentFrames int
	cancels    int
	commits    int
	closed     bool
	sendErr    error

	audio     chan []byte
	closeOnce sync.Once
}

var _ realtime.Handle = (*Handle)(nil)

// NewHandle creates a standalone mock handle. Handles vended by a Dialer
// carry the session config they were dialed with.
func NewHandle() *Handle {
	return &Handle{audio: make(chan []byte, 64)}
}

func (h *Handle) SendAudio([]byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return h.sendErr
	}
	h.sentFrames++
	return nil
}

func (h *Handle) Commit() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commits++
	return nil
}

func (h *Handle) CreateResponse() error { return nil }

func (h *Handle) CancelResponse() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancels++
	return nil
}

func (h *Handle) InjectContext(role, text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.injections = append(h.injections, Injection{Role: role, Text: text})
	return nil
}

func (h *Handle) Say(instruction string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.says = append(h.says, instruction)
	return nil
}

func (h *Handle) SetTools([]realtime.ToolDefinition) error { return nil }
func (h *Handle) UpdateInstructions(string) error          { return nil }
func (h *Handle) Audio() <-chan []byte                     { return h.audio }
func (h *Handle) Err() error                               { return nil }

func (h *Handle) OnToolCall(handler realtime.ToolCallHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

func (h *Handle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.closeOnce.Do(func() { close(h.audio) })
	return nil
}

// Config returns the session config this handle was dialed with.
func (h *Handle) Config() realtime.SessionConfig { return h.cfg }

// Spoken returns a copy of all Say instructions received so far.
func (h *Handle) Spoken() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.says...)
}

// Injections returns a copy of all InjectContext calls received so far.
func (h *Handle) Injections() []Injection {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Injection(nil), h.injections...)
}

// SentFrames returns the number of audio frames the session sent.
func (h *Handle) SentFrames() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sentFrames
}

// Cancels returns the number of CancelResponse calls.
func (h *Handle) Cancels() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancels
}

// Closed reports whether Close was called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// FailSends makes subsequent SendAudio calls return err.
func (h *Handle) FailSends(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendErr = err
}

// EmitAudio delivers one audio delta as if the model produced it.
func (h *Handle) EmitAudio(data []byte) {
	h.audio <- data
}

// Dispatch drives the registered tool-call handler as the model would.
func (h *Handle) Dispatch(name, argsJSON string) (string, error) {
	h.mu.Lock()
	handler := h.handler
	h.mu.Unlock()
	if handler == nil {
		return "", nil
	}
	return handler(name, argsJSON)
}

// Dialer vends mock handles, one per Connect call.
type Dialer struct {
	mu      sync.Mutex
	err     error
	handles []*Handle
}

var _ realtime.Dialer = (*Dialer)(nil)

// NewDialer creates a Dialer whose Connect succeeds.
func NewDialer() *Dialer { return &Dialer{} }

// Fail makes subsequent Connect calls return err.
func (d *Dialer) Fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// Connect implements realtime.Dialer.
func (d *Dialer) Connect(_ context.Context, cfg realtime.SessionConfig, _ *bus.Bus) (realtime.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	h := NewHandle()
	h.cfg = cfg
	d.handles = append(d.handles, h)
	return h, nil
}

// Handles returns every handle vended so far, in dial order.
func (d *Dialer) Handles() []*Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Handle(nil), d.handles...)
}

// Handle returns the i-th vended handle, nil when absent.
func (d *Dialer) Handle(i int) *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.handles) {
		return nil
	}
	return d.handles[i]
}
