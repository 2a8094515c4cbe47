// Package heartbeat watches a call's liveness: inbound audio, outbound
// audio, and provider responsiveness.
//
// The monitor runs alongside the session. Components stamp it on every
// frame and provider event; the monitor raises connection.degraded and
// provider.timeout on the call's bus when thresholds elapse. Checks are
// paused while a transfer is in flight or after bridging, where silence on
// the media path is expected.
package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/voxsec/voxsec/internal/bus"
	"github.com/voxsec/voxsec/internal/callstate"
)

const (
	defaultAudioSilence    = 10 * time.Second
	defaultProviderTimeout = 30 * time.Second

	tickInterval = 100 * time.Millisecond
)

// Config holds the monitor thresholds. Zero values take defaults.
type Config struct {
	// AudioSilenceThreshold is how long inbound audio may be absent while
	// the call is active before connection.degraded is raised.
	AudioSilenceThreshold time.Duration

	// ProviderTimeoutThreshold is how long the provider may stay silent
	// while a response is expected before provider.timeout is raised.
	ProviderTimeoutThreshold time.Duration
}

func (c Config) withDefaults() Config {
	if c.AudioSilenceThreshold <= 0 {
		c.AudioSilenceThreshold = defaultAudioSilence
	}
	if c.ProviderTimeoutThreshold <= 0 {
		c.ProviderTimeoutThreshold = defaultProviderTimeout
	}
	return c
}

// Monitor tracks liveness timestamps for one call.
type Monitor struct {
	cfg    Config
	events *bus.Bus
	state  func() callstate.State

	mu           sync.Mutex
	lastInbound  time.Time
	lastOutbound time.Time
	lastProvider time.Time
	expecting    bool

	// degraded suppresses repeat connection.degraded events until inbound
	// audio resumes.
	degraded bool

	stopOnce sync.Once
	stop     chan struct{}
}

// NewMonitor creates a Monitor for one call. state supplies the call's
// current state for pause decisions.
func NewMonitor(events *bus.Bus, state func() callstate.State, cfg Config) *Monitor {
	now := time.Now()
	return &Monitor{
		cfg:          cfg.withDefaults(),
		events:       events,
		state:        state,
		lastInbound:  now,
		lastOutbound: now,
		lastProvider: now,
		stop:         make(chan struct{}),
	}
}

// Start launches the check loop. It stops when ctx is cancelled or Close is
// called.
func (m *Monitor) Start(ctx context.Context) {
	go m.run(ctx)
}

func (m *Monitor) run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.check(time.Now())
		}
	}
}

// check evaluates thresholds at instant now.
func (m *Monitor) check(now time.Time) {
	state := m.state()

	m.mu.Lock()
	// Silence is expected during a transfer, after bridging, and once the
	// call is winding down. Reset baselines so checks restart cleanly.
	if state.IsTransferring() || state == callstate.Bridged || state.Terminal() || state == callstate.Ending {
		m.lastInbound = now
		m.lastProvider = now
		m.mu.Unlock()
		return
	}

	var raiseDegraded, raiseTimeout bool

	if state.IsActive() && !m.degraded &&
		now.Sub(m.lastInbound) >= m.cfg.AudioSilenceThreshold {
		m.degraded = true
		raiseDegraded = true
	}
	if m.expecting && now.Sub(m.lastProvider) >= m.cfg.ProviderTimeoutThreshold {
		m.expecting = false
		raiseTimeout = true
	}
	silence := now.Sub(m.lastInbound)
	m.mu.Unlock()

	if raiseDegraded {
		slog.Warn("heartbeat: inbound audio silent", "silence", silence)
		m.events.Publish(bus.Event{
			Kind:    bus.ConnectionDegraded,
			Source:  "heartbeat",
			Payload: map[string]any{"silence_ms": silence.Milliseconds()},
		})
	}
	if raiseTimeout {
		slog.Warn("heartbeat: provider unresponsive")
		m.events.Publish(bus.Event{Kind: bus.ProviderTimeout, Source: "heartbeat"})
	}
}

// TouchInboundAudio stamps the arrival of one caller audio frame.
func (m *Monitor) TouchInboundAudio() {
	m.mu.Lock()
	m.lastInbound = time.Now()
	m.degraded = false
	m.mu.Unlock()
}

// TouchOutboundAudio stamps the release of one frame towards the caller.
func (m *Monitor) TouchOutboundAudio() {
	m.mu.Lock()
	m.lastOutbound = time.Now()
	m.mu.Unlock()
}

// TouchProvider stamps any provider activity.
func (m *Monitor) TouchProvider() {
	m.mu.Lock()
	m.lastProvider = time.Now()
	m.mu.Unlock()
}

// ExpectResponse arms or disarms the provider timeout. Armed after a user
// turn ends; disarmed when the provider responds.
func (m *Monitor) ExpectResponse(expecting bool) {
	m.mu.Lock()
	m.expecting = expecting
	if expecting {
		m.lastProvider = time.Now()
	}
	m.mu.Unlock()
}

// Close stops the monitor. Idempotent.
func (m *Monitor) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}
