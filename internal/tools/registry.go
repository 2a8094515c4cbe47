// Package tools keeps the catalog of named, typed tools the speech model
// may invoke during a call.
//
// A Registry is per call: invocations are serialized, filtered by the
// tenant's allow-list, and reported on the call's event bus so the call
// record captures timing, inputs and outputs.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxsec/voxsec/internal/bus"
	"github.com/voxsec/voxsec/internal/callstate"
	"github.com/voxsec/voxsec/internal/config"
	"github.com/voxsec/voxsec/internal/provider/realtime"
	"github.com/voxsec/voxsec/internal/switchctl"
)

// Status is the outcome of a tool invocation.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Category groups tools for reporting.
type Category string

const (
	CategoryCallControl Category = "call_control"
	CategoryTransfer    Category = "transfer"
	CategoryMessaging   Category = "messaging"
	CategoryInformation Category = "information"
)

// Result is what a tool hands back to the model.
type Result struct {
	Status Status `json:"status"`

	// Data carries structured results.
	Data map[string]any `json:"data,omitempty"`

	// Speak is an optional natural-language instruction for the model to
	// relay to the caller.
	Speak string `json:"speak,omitempty"`

	// Error describes the failure when Status is StatusError.
	Error string `json:"error,omitempty"`
}

// OK returns a success result with the given data.
func OK(data map[string]any) Result {
	return Result{Status: StatusOK, Data: data}
}

// Say returns a success result with a spoken instruction.
func Say(speak string) Result {
	return Result{Status: StatusOK, Speak: speak}
}

// Fail returns a structured error result. Tools fail this way instead of
// raising; the conversation continues.
func Fail(format string, args ...any) Result {
	return Result{Status: StatusError, Error: fmt.Sprintf(format, args...)}
}

// CallContext is what a tool handler receives about its call.
type CallContext struct {
	CallID    string
	Tenant    *config.Tenant
	Secretary *config.Secretary
	Events    *bus.Bus
	Switch    switchctl.Commander

	// State returns a snapshot of the call's current state.
	State func() callstate.State
}

// Handler executes one tool invocation with validated arguments.
type Handler func(ctx context.Context, call *CallContext, args map[string]any) Result

// Tool is one registry entry.
type Tool struct {
	Name        string
	Description string
	Category    Category

	// Parameters is a JSON-schema-shaped description of the arguments.
	Parameters map[string]any

	Handler Handler
}

// Registry is the per-call tool catalog. All methods are safe for
// concurrent use; Dispatch serializes invocations.
type Registry struct {
	call  *CallContext
	allow func(name string) bool

	mu    sync.Mutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates a Registry for one call. allow filters which tools
// are visible and dispatchable; nil permits everything.
func NewRegistry(call *CallContext, allow func(name string) bool) *Registry {
	if allow == nil {
		allow = func(string) bool { return true }
	}
	return &Registry{
		call:  call,
		allow: allow,
		tools: make(map[string]Tool),
	}
}

// Register adds a tool. Duplicate names are an error.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tools: register: name is required")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: register %q: handler is required", t.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tools: register %q: already registered", t.Name)
	}
	r.tools[t.Name] = t
	r.order = append(r.order, t.Name)
	return nil
}

// Definitions returns the allowed tools in registration order, shaped for
// the provider's session configuration.
func (r *Registry) Definitions() []realtime.ToolDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()
	var defs []realtime.ToolDefinition
	for _, name := range r.order {
		if !r.allow(name) {
			continue
		}
		t := r.tools[name]
		defs = append(defs, realtime.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

// Dispatch runs one tool invocation and returns the JSON result for the
// model. It never returns an error: failures are encoded in the result.
// Invocations are serialized per registry; tool.started/completed/failed
// events carry timing, inputs and outputs for the call record.
func (r *Registry) Dispatch(ctx context.Context, name, argsJSON string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	tool, exists := r.tools[name]
	switch {
	case !exists:
		return r.report(name, argsJSON, time.Now(), Fail("unknown tool %q", name))
	case !r.allow(name):
		return r.report(name, argsJSON, time.Now(), Fail("tool %q is not permitted for this tenant", name))
	}

	args := map[string]any{}
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return r.report(name, argsJSON, time.Now(), Fail("invalid arguments: %v", err))
		}
	}

	started := time.Now()
	r.call.Events.Publish(bus.Event{
		Kind:    bus.ToolStarted,
		CallID:  r.call.CallID,
		Source:  "tools",
		Payload: map[string]any{"tool": name, "input": argsJSON},
	})

	result := r.invoke(ctx, tool, args)
	return r.report(name, argsJSON, started, result)
}

// invoke runs the handler with panic containment: a panicking tool becomes
// a structured error.
func (r *Registry) invoke(ctx context.Context, tool Tool, args map[string]any) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tools: handler panicked", "tool", tool.Name, "panic", rec)
			result = Fail("tool %q failed internally", tool.Name)
		}
	}()
	return tool.Handler(ctx, r.call, args)
}

// report publishes the completion event and serializes the result.
func (r *Registry) report(name, input string, started time.Time, result Result) string {
	out, err := json.Marshal(result)
	if err != nil {
		out = []byte(`{"status":"error","error":"result serialization failed"}`)
	}

	kind := bus.ToolCompleted
	if result.Status == StatusError {
		kind = bus.ToolFailed
	}
	r.call.Events.Publish(bus.Event{
		Kind:   kind,
		CallID: r.call.CallID,
		Source: "tools",
		Payload: map[string]any{
			"tool":        name,
			"input":       input,
			"output":      string(out),
			"duration_ms": time.Since(started).Milliseconds(),
			"success":     result.Status == StatusOK,
		},
	})
	return string(out)
}

// stringArg extracts an optional string argument.
func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// requireString extracts a mandatory string argument.
func requireString(args map[string]any, key string) (string, error) {
	s := stringArg(args, key)
	if s == "" {
		return "", fmt.Errorf("argument %q is required", key)
	}
	return s, nil
}
