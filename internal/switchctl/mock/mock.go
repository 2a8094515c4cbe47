// Package mock provides a scriptable [switchctl.Commander] for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxsec/voxsec/internal/switchctl"
)

// Call records one command issued against the mock.
type Call struct {
	// Op is the Commander method name ("Originate", "Bridge", ...).
	Op string

	// Args are the positional string arguments of the call.
	Args []string

	// Originate holds the full request for Originate calls.
	Originate *switchctl.OriginateRequest
}

// Commander is an in-memory [switchctl.Commander] that records every call
// and answers from scripted results. The zero value succeeds every command.
type Commander struct {
	mu    sync.Mutex
	calls []Call

	// Errs maps an op name to the error its next invocations return.
	Errs map[string]error

	// OriginateUUIDs are returned by successive Originate calls. When
	// exhausted, Originate synthesizes "leg-<n>".
	OriginateUUIDs []string
	originated     int

	// Registered controls QueryRegistration replies by address. Addresses
	// not present report unregistered.
	Registered map[string]bool

	// Members is returned by ConferenceList.
	Members []switchctl.ConferenceMember
}

var _ switchctl.Commander = (*Commander)(nil)

// Calls returns a copy of the recorded calls.
func (m *Commander) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsTo returns the recorded calls for one op.
func (m *Commander) CallsTo(op string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (m *Commander) record(c Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
	return m.Errs[c.Op]
}

func (m *Commander) Originate(_ context.Context, req switchctl.OriginateRequest) (string, error) {
	if err := m.record(Call{Op: "Originate", Originate: &req}); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.originated++
	if m.originated <= len(m.OriginateUUIDs) {
		return m.OriginateUUIDs[m.originated-1], nil
	}
	return fmt.Sprintf("leg-%d", m.originated), nil
}

func (m *Commander) Bridge(_ context.Context, aUUID, bUUID string) error {
	return m.record(Call{Op: "Bridge", Args: []string{aUUID, bUUID}})
}

func (m *Commander) Unbridge(_ context.Context, uuid string) error {
	return m.record(Call{Op: "Unbridge", Args: []string{uuid}})
}

func (m *Commander) Transfer(_ context.Context, uuid, target string) error {
	return m.record(Call{Op: "Transfer", Args: []string{uuid, target}})
}

func (m *Commander) Hold(_ context.Context, uuid string) error {
	return m.record(Call{Op: "Hold", Args: []string{uuid}})
}

func (m *Commander) Unhold(_ context.Context, uuid string) error {
	return m.record(Call{Op: "Unhold", Args: []string{uuid}})
}

func (m *Commander) Hangup(_ context.Context, uuid, cause string) error {
	return m.record(Call{Op: "Hangup", Args: []string{uuid, cause}})
}

func (m *Commander) ConferenceEnter(_ context.Context, conference, uuid string, opts switchctl.ConferenceOptions) error {
	args := []string{conference, uuid}
	if opts.Muted {
		args = append(args, "muted")
	}
	if opts.Moderator {
		args = append(args, "moderator")
	}
	return m.record(Call{Op: "ConferenceEnter", Args: args})
}

func (m *Commander) ConferenceKick(_ context.Context, conference, uuid string) error {
	return m.record(Call{Op: "ConferenceKick", Args: []string{conference, uuid}})
}

func (m *Commander) ConferenceMute(_ context.Context, conference, uuid string) error {
	return m.record(Call{Op: "ConferenceMute", Args: []string{conference, uuid}})
}

func (m *Commander) ConferenceUnmute(_ context.Context, conference, uuid string) error {
	return m.record(Call{Op: "ConferenceUnmute", Args: []string{conference, uuid}})
}

func (m *Commander) ConferenceList(_ context.Context, conference string) ([]switchctl.ConferenceMember, error) {
	if err := m.record(Call{Op: "ConferenceList", Args: []string{conference}}); err != nil {
		return nil, err
	}
	return append([]switchctl.ConferenceMember(nil), m.Members...), nil
}

func (m *Commander) StartMediaStream(_ context.Context, uuid, url string, sampleRate int) error {
	return m.record(Call{Op: "StartMediaStream", Args: []string{uuid, url, fmt.Sprint(sampleRate)}})
}

func (m *Commander) StopMediaStream(_ context.Context, uuid string) error {
	return m.record(Call{Op: "StopMediaStream", Args: []string{uuid}})
}

func (m *Commander) QueryRegistration(_ context.Context, address string) (bool, error) {
	if err := m.record(Call{Op: "QueryRegistration", Args: []string{address}}); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Registered[address], nil
}

func (m *Commander) ExecuteOnUUID(_ context.Context, uuid, app, args string) error {
	return m.record(Call{Op: "ExecuteOnUUID", Args: []string{uuid, app, args}})
}
