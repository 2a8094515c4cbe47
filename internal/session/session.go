// Package session composes the per-call runtime: event bus, state machine,
// audio pipeline, switch adapter handle, provider session, tool registry,
// heartbeat monitor, transfer orchestrator, and call logger.
//
// A Session owns all of its components exclusively; nothing outside the
// session touches them. The process-wide [Registry] holds weak references
// only, so an abandoned session can still be collected.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxsec/voxsec/internal/audio"
	"github.com/voxsec/voxsec/internal/bus"
	"github.com/voxsec/voxsec/internal/callog"
	"github.com/voxsec/voxsec/internal/callstate"
	"github.com/voxsec/voxsec/internal/config"
	"github.com/voxsec/voxsec/internal/heartbeat"
	"github.com/voxsec/voxsec/internal/provider/realtime"
	"github.com/voxsec/voxsec/internal/store"
	"github.com/voxsec/voxsec/internal/switchctl"
	"github.com/voxsec/voxsec/internal/tools"
	"github.com/voxsec/voxsec/internal/transfer"
)

const (
	// providerRate is the PCM16 rate spoken with the speech model.
	providerRate = 24000

	// switchRate is the rate requested from the switch's media stream.
	switchRate = 8000

	// farewellGrace bounds how long a goodbye may play before hangup.
	farewellGrace = 5 * time.Second

	// flushTimeout bounds the final record delivery during teardown.
	flushTimeout = 15 * time.Second

	// connectionLostPrompt is played by the switch when the provider
	// transport dies mid-call. The model is gone, so the apology has to
	// come from the switch's own sound files.
	connectionLostPrompt = "ivr/ivr-call_cannot_be_completed_as_dialed.wav"
)

// MessageStore persists messages taken for absent parties. *store.Store
// satisfies it.
type MessageStore interface {
	SaveMessage(ctx context.Context, m store.Message) (int64, error)
}

// Config wires one call's collaborators into a Session.
type Config struct {
	CallUUID   string
	CallerID   string
	CallerName string

	Tenant    *config.Tenant
	Secretary *config.Secretary

	Switch   switchctl.Commander
	Provider realtime.Dialer

	// ProviderLimit is the provider's hard session cap. Zero takes the
	// provider default.
	ProviderLimit time.Duration

	// Sink receives the finished call record. May be nil.
	Sink callog.Sink

	// Ticketer backs transfer ticket fallbacks. May be nil.
	Ticketer transfer.Ticketer

	// Messages persists taken messages for later delivery. May be nil.
	Messages MessageStore

	// MediaURL is advertised to the switch for its media stream connection.
	// Empty skips the start-media-stream command (tests drive media directly).
	MediaURL string

	// Registry, when set, carries the session between Start and teardown.
	Registry *Registry
}

// Session is one live call.
type Session struct {
	cfg Config

	events  *bus.Bus
	machine *callstate.Machine
	monitor *heartbeat.Monitor
	logger  *callog.Logger
	tools   *tools.Registry
	pacer   *audio.Pacer
	aec     *audio.EchoCanceller
	orch    *transfer.Orchestrator

	mu         sync.Mutex
	provider   realtime.Handle
	media      *mediaConn
	codec      *audio.Codec
	ingressUp  *audio.Resampler
	egressDown *audio.Resampler

	egressMu  sync.Mutex
	egressBuf []byte

	connected    atomic.Bool
	transferred  atomic.Bool
	messageTaken atomic.Bool
	errored      atomic.Bool
	wrappingUp   atomic.Bool
	nudged       atomic.Bool
	turns        atomic.Int64
	framesIn     atomic.Int64
	framesOut    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
}

// New builds a Session and its owned components. The provider is not dialed
// until [Session.Start].
func New(cfg Config) *Session {
	b := bus.New(cfg.CallUUID)
	m := callstate.New(cfg.CallUUID, b)

	s := &Session{
		cfg:     cfg,
		events:  b,
		machine: m,
		done:    make(chan struct{}),
	}
	s.monitor = heartbeat.NewMonitor(b, m.Current, heartbeat.Config{})
	s.logger = callog.NewLogger(b, callog.Meta{
		CallUUID:    cfg.CallUUID,
		TenantID:    cfg.Tenant.ID,
		SecretaryID: cfg.Secretary.ID,
		CallerID:    cfg.CallerID,
		CallerName:  cfg.CallerName,
	}, cfg.Sink)
	s.aec = audio.NewEchoCanceller(audio.EchoCancellerConfig{SampleRate: providerRate})
	s.pacer = audio.NewPacer(b, s.egressSink)

	s.tools = tools.NewRegistry(&tools.CallContext{
		CallID:    cfg.CallUUID,
		Tenant:    cfg.Tenant,
		Secretary: cfg.Secretary,
		Events:    b,
		Switch:    cfg.Switch,
		State:     m.Current,
	}, cfg.Secretary.Allows)
	if err := tools.RegisterBuiltins(s.tools); err != nil {
		// Builtins registering twice would be a programming error.
		panic(fmt.Sprintf("session: builtins: %v", err))
	}
	return s
}

// CallUUID returns the call's primary channel uuid.
func (s *Session) CallUUID() string { return s.cfg.CallUUID }

// Events returns the call's event bus.
func (s *Session) Events() *bus.Bus { return s.events }

// State returns the call's current state.
func (s *Session) State() callstate.State { return s.machine.Current() }

// Done is closed when the session has fully torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start dials the provider, wires the bus handlers, and asks the switch for
// the call's media stream. The session then runs until the call ends.
func (s *Session) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.cfg.Registry != nil {
		s.cfg.Registry.Add(s)
	}
	s.machine.Fire(callstate.TriggerStartCall, nil)
	s.events.Publish(bus.Event{
		Kind:   bus.CallStarted,
		CallID: s.cfg.CallUUID,
		Source: "session",
		Payload: map[string]any{
			"caller_id":   s.cfg.CallerID,
			"caller_name": s.cfg.CallerName,
			"tenant":      s.cfg.Tenant.ID,
		},
	})

	handle, err := s.cfg.Provider.Connect(s.ctx, s.providerConfig(), s.events)
	if err != nil {
		s.errored.Store(true)
		s.Shutdown("provider connect failed")
		return fmt.Errorf("session: connect provider: %w", err)
	}
	handle.OnToolCall(func(name, argsJSON string) (string, error) {
		return s.tools.Dispatch(s.ctx, name, argsJSON), nil
	})
	s.mu.Lock()
	s.provider = handle
	s.mu.Unlock()

	s.orch = transfer.New(transfer.Deps{
		CallID:    s.cfg.CallUUID,
		ALegUUID:  s.cfg.CallUUID,
		Events:    s.events,
		Machine:   s.machine,
		Switch:    s.cfg.Switch,
		Dialer:    s.cfg.Provider,
		Tenant:    s.cfg.Tenant,
		Secretary: s.cfg.Secretary,
		Main:      handle,
		Ticketer:  s.cfg.Ticketer,
	})

	s.subscribe()
	s.pacer.Start(s.ctx)
	s.monitor.Start(s.ctx)
	go s.pumpProviderAudio(handle)
	go func() {
		<-s.ctx.Done()
		s.Shutdown("context cancelled")
	}()

	if s.cfg.MediaURL != "" {
		if err := s.cfg.Switch.StartMediaStream(s.ctx, s.cfg.CallUUID, s.cfg.MediaURL, switchRate); err != nil {
			slog.Warn("session: start media stream failed",
				"call_id", s.cfg.CallUUID, "err", err)
		}
	}

	slog.Info("session: started",
		"call_id", s.cfg.CallUUID, "tenant", s.cfg.Tenant.ID,
		"secretary", s.cfg.Secretary.ID, "caller", s.cfg.CallerID)
	return nil
}

// providerConfig maps the secretary profile onto a provider session.
func (s *Session) providerConfig() realtime.SessionConfig {
	sec := s.cfg.Secretary
	return realtime.SessionConfig{
		Voice:        sec.Voice,
		Instructions: sec.Instructions,
		Turn:         turnDetection(sec.VAD),
		Tools:        s.tools.Definitions(),
		SessionLimit: s.cfg.ProviderLimit,
		// Reconnect while conversing; a transfer or bridge makes the main
		// session expendable.
		Reconnect: func() bool {
			st := s.machine.Current()
			return st == callstate.Connecting || st.IsActive()
		},
	}
}

func turnDetection(v config.VADConfig) realtime.TurnDetection {
	mode := realtime.TurnServerVAD
	switch v.Mode {
	case config.VADSemantic:
		mode = realtime.TurnSemanticVAD
	case config.VADDisabled:
		mode = realtime.TurnDisabled
	}
	return realtime.TurnDetection{
		Mode:            mode,
		Threshold:       v.Threshold,
		PrefixPadding:   v.PrefixPadding,
		SilenceDuration: v.SilenceDuration,
		Eagerness:       v.Eagerness,
	}
}

// subscribe wires the session's reactions to bus events.
func (s *Session) subscribe() {
	s.events.Subscribe(bus.CallConnected, func(bus.Event) {
		s.connected.Store(true)
		s.machine.Fire(callstate.TriggerCallConnected, nil)
		if greeting := s.cfg.Secretary.Greeting; greeting != "" {
			s.say("Greet the caller with: " + greeting)
			s.monitor.ExpectResponse(true)
		}
	})

	s.events.Subscribe(bus.UserSpeakingStarted, func(bus.Event) {
		s.machine.Fire(callstate.TriggerUserStartsSpeaking, nil)
		// Barge-in: stop the model and flush queued playback.
		if s.pacer.Speaking() {
			if h := s.handle(); h != nil {
				h.CancelResponse()
			}
			s.pacer.Drain()
		}
	})
	s.events.Subscribe(bus.UserSpeakingDone, func(bus.Event) {
		s.machine.Fire(callstate.TriggerUserStopsSpeaking, nil)
		s.monitor.ExpectResponse(true)
	})
	s.events.Subscribe(bus.AISpeakingStarted, func(bus.Event) {
		s.machine.Fire(callstate.TriggerAIStartsSpeaking, nil)
	})
	s.events.Subscribe(bus.AISpeakingDone, func(bus.Event) {
		s.machine.Fire(callstate.TriggerAIStopsSpeaking, nil)
	})
	s.events.Subscribe(bus.AIAudioComplete, func(bus.Event) {
		s.pacer.Complete()
		s.monitor.ExpectResponse(false)
	})

	s.events.Subscribe(bus.UserTranscript, func(evt bus.Event) {
		if role, _ := evt.Payload["role"].(string); role != "user" {
			return
		}
		text, _ := evt.Payload["text"].(string)
		s.userTurn(text)
	})
	s.events.Subscribe(bus.UserDTMF, func(evt bus.Event) {
		digit, _ := evt.Payload["digit"].(string)
		if digit == "" {
			return
		}
		if h := s.handle(); h != nil {
			h.InjectContext("system", fmt.Sprintf("The caller pressed the %s key on their phone.", digit))
		}
	})

	s.events.Subscribe(bus.TransferRequested, func(evt bus.Event) {
		if evt.Source != "tools" {
			return
		}
		dest, _ := evt.Payload["destination"].(string)
		reason, _ := evt.Payload["reason"].(string)
		go s.runTransfer(dest, reason)
	})

	s.events.Subscribe(bus.ToolCompleted, func(evt bus.Event) {
		if name, _ := evt.Payload["tool"].(string); name == "take_message" {
			s.messageTaken.Store(true)
			go s.persistMessage(evt)
		}
	})

	s.events.Subscribe(bus.HoldStarted, func(evt bus.Event) {
		if evt.Source != "tools" {
			return
		}
		go s.holdCall()
	})
	s.events.Subscribe(bus.HoldEnded, func(evt bus.Event) {
		if evt.Source != "tools" {
			return
		}
		go s.resumeCall()
	})

	s.events.Subscribe(bus.CallEnding, func(evt bus.Event) {
		reason, _ := evt.Payload["reason"].(string)
		go s.gracefulEnd(reason)
	})
	s.events.Subscribe(bus.CallEnded, func(bus.Event) {
		go s.Shutdown("remote hangup")
	})

	s.events.Subscribe(bus.ProviderTimeout, func(bus.Event) {
		go s.abortWithFallback("provider timeout")
	})
	s.events.Subscribe(bus.ConnectionDegraded, func(evt bus.Event) {
		if evt.Source != "provider" {
			return
		}
		go s.providerRejected(evt)
	})
	s.events.Subscribe(bus.WebsocketDisconnected, func(evt bus.Event) {
		if reason, _ := evt.Payload["reason"].(string); reason == "session_cap" {
			go s.sessionCapReached()
		}
	})
	s.events.Subscribe(bus.ConnectionLost, func(bus.Event) {
		go s.connectionLost()
	})
}

// userTurn counts a completed user turn, applies the handoff keyword nudge,
// and enforces the max-turn budget.
func (s *Session) userTurn(text string) {
	turns := s.turns.Add(1)
	lower := strings.ToLower(text)

	for _, kw := range s.cfg.Secretary.HandoffKeywords {
		if kw == "" || !strings.Contains(lower, strings.ToLower(kw)) {
			continue
		}
		if s.machine.Current().IsTransferring() || !s.nudged.CompareAndSwap(false, true) {
			break
		}
		if h := s.handle(); h != nil {
			h.InjectContext("system", fmt.Sprintf(
				"The caller mentioned %q. If they want to speak to a person, offer to connect them using request_handoff.", kw))
		}
		break
	}

	if max := s.cfg.Secretary.MaxTurns; max > 0 && int(turns) >= max {
		if s.wrappingUp.CompareAndSwap(false, true) {
			s.say("The conversation has gone on long enough. Politely bring it to a close, offer to take a message if anything is unresolved, and then use end_call.")
		}
	}
}

// runTransfer drives one announced transfer. On a completed bridge the main
// provider session is retired without dropping the call.
func (s *Session) runTransfer(dest, reason string) {
	res, err := s.orch.Run(s.ctx, transfer.Request{
		Destination: dest,
		Reason:      reason,
		CallerID:    s.cfg.CallerID,
		CallerName:  s.cfg.CallerName,
	})
	switch {
	case errors.Is(err, transfer.ErrCallEnded):
		return
	case errors.Is(err, transfer.ErrInFlight):
		return
	case err != nil:
		slog.Error("session: transfer failed", "call_id", s.cfg.CallUUID, "err", err)
		return
	}
	if res.Bridged {
		s.transferred.Store(true)
		s.retireProvider()
	}
}

// retireProvider closes the model session while leaving the call up. Used
// after a successful bridge: the humans converse without the AI.
func (s *Session) retireProvider() {
	s.mu.Lock()
	h := s.provider
	s.provider = nil
	s.mu.Unlock()
	if h != nil {
		h.Close()
	}
	s.pacer.Drain()
	slog.Info("session: provider retired after bridge", "call_id", s.cfg.CallUUID)
}

// gracefulEnd lets the farewell play out, then hangs up.
func (s *Session) gracefulEnd(reason string) {
	if !s.machine.Fire(callstate.TriggerEndCall, nil) {
		return
	}
	// Let a goodbye already queued in the pacer finish playing.
	if s.pacer.Speaking() || s.pacer.Depth() > 0 {
		s.events.WaitFor(s.ctx, bus.AISpeakingDone, farewellGrace, nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cfg.Switch.Hangup(ctx, s.cfg.CallUUID, "NORMAL_CLEARING"); err != nil {
		slog.Warn("session: hangup failed", "call_id", s.cfg.CallUUID, "err", err)
	}
	s.machine.Fire(callstate.TriggerCallEnded, nil)
	slog.Info("session: call ended", "call_id", s.cfg.CallUUID, "reason", reason)
	s.Shutdown("call ended")
}

// abortWithFallback apologizes through the still-open session and ends the
// call. Used when the provider is alive but unusable for this call.
func (s *Session) abortWithFallback(reason string) {
	s.errored.Store(true)
	if msg := s.cfg.Secretary.FallbackMessage; msg != "" {
		s.say(msg)
	}
	s.events.Publish(bus.Event{
		Kind:    bus.CallEnding,
		CallID:  s.cfg.CallUUID,
		Source:  "session",
		Payload: map[string]any{"reason": reason},
	})
}

// providerRejected handles the provider refusing the session's configuration.
// The socket is still up, so the fallback message can be spoken before the
// call ends.
func (s *Session) providerRejected(evt bus.Event) {
	msg, _ := evt.Payload["error"].(string)
	slog.Error("session: provider rejected configuration",
		"call_id", s.cfg.CallUUID, "err", msg)
	s.abortWithFallback("provider rejected configuration")
}

// sessionCapReached winds the call down when the provider's hard session
// limit expires. Not an error: the caller simply talked past the cap.
func (s *Session) sessionCapReached() {
	st := s.machine.Current()
	if st.IsTransferring() || st == callstate.Bridged || st.Terminal() {
		return
	}
	slog.Info("session: provider session cap reached", "call_id", s.cfg.CallUUID)
	s.events.Publish(bus.Event{
		Kind:    bus.CallEnding,
		CallID:  s.cfg.CallUUID,
		Source:  "session",
		Payload: map[string]any{"reason": "session limit reached"},
	})
}

// holdCall parks the caller: state machine first, then switch-side music.
func (s *Session) holdCall() {
	if !s.machine.Fire(callstate.TriggerHold, nil) {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	if err := s.cfg.Switch.Hold(ctx, s.cfg.CallUUID); err != nil {
		slog.Warn("session: hold failed", "call_id", s.cfg.CallUUID, "err", err)
	}
}

// resumeCall takes the caller off hold.
func (s *Session) resumeCall() {
	if !s.machine.Fire(callstate.TriggerUnhold, nil) {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	if err := s.cfg.Switch.Unhold(ctx, s.cfg.CallUUID); err != nil {
		slog.Warn("session: unhold failed", "call_id", s.cfg.CallUUID, "err", err)
	}
}

// persistMessage writes a taken message to the store. The tool result rides
// in the ToolCompleted payload as the serialized output.
func (s *Session) persistMessage(evt bus.Event) {
	if s.cfg.Messages == nil {
		return
	}
	raw, _ := evt.Payload["output"].(string)
	var out struct {
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out.Data == nil {
		slog.Warn("session: message payload unreadable",
			"call_id", s.cfg.CallUUID, "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := s.cfg.Messages.SaveMessage(ctx, store.Message{
		CallUUID:       s.cfg.CallUUID,
		TenantID:       s.cfg.Tenant.ID,
		CallerName:     out.Data["caller_name"],
		Message:        out.Data["message"],
		CallbackNumber: out.Data["callback_number"],
		TakenAt:        time.Now(),
	})
	if err != nil {
		slog.Error("session: save message", "call_id", s.cfg.CallUUID, "err", err)
		return
	}
	slog.Info("session: message saved", "call_id", s.cfg.CallUUID, "message_id", id)
}

// connectionLost tears the call down when the provider transport is gone
// for good. During a transfer or after bridging the loss is irrelevant.
func (s *Session) connectionLost() {
	st := s.machine.Current()
	if st.IsTransferring() || st == callstate.Bridged {
		return
	}
	s.errored.Store(true)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	// The model can no longer speak, so the switch plays the apology.
	if err := s.cfg.Switch.ExecuteOnUUID(ctx, s.cfg.CallUUID, "playback", connectionLostPrompt); err != nil {
		slog.Warn("session: lost-connection prompt failed",
			"call_id", s.cfg.CallUUID, "err", err)
	}
	s.cfg.Switch.Hangup(ctx, s.cfg.CallUUID, "TEMPORARY_FAILURE")
	s.Shutdown("provider connection lost")
}

// attachMedia binds the switch's media stream to the session and runs the
// ingress loop until the stream closes. Called by the media server.
func (s *Session) attachMedia(ctx context.Context, mc *mediaConn, enc audio.Encoding, rate int) {
	codec, err := audio.NewCodec(enc)
	if err != nil {
		slog.Error("session: media codec", "call_id", s.cfg.CallUUID, "err", err)
		mc.Close()
		return
	}
	up, err := audio.NewResampler(rate, providerRate)
	if err != nil {
		slog.Error("session: media resampler", "call_id", s.cfg.CallUUID, "err", err)
		mc.Close()
		return
	}
	down, err := audio.NewResampler(providerRate, rate)
	if err != nil {
		slog.Error("session: media resampler", "call_id", s.cfg.CallUUID, "err", err)
		mc.Close()
		return
	}

	s.mu.Lock()
	if s.media != nil {
		s.media.Close()
	}
	s.media = mc
	s.codec = codec
	s.ingressUp = up
	s.egressDown = down
	s.mu.Unlock()

	slog.Info("session: media attached",
		"call_id", s.cfg.CallUUID, "encoding", enc, "rate", rate)
	s.ingressLoop(ctx, mc, codec, up)
}

// ingressLoop pumps caller audio: decode, resample up, echo-cancel, send.
func (s *Session) ingressLoop(ctx context.Context, mc *mediaConn, codec *audio.Codec, up *audio.Resampler) {
	for {
		payload, err := mc.readFrame()
		if err != nil {
			if ctx.Err() == nil && s.ctx.Err() == nil {
				slog.Debug("session: media stream closed",
					"call_id", s.cfg.CallUUID, "err", err)
			}
			return
		}
		s.monitor.TouchInboundAudio()
		s.framesIn.Add(1)

		pcm := codec.Decode(payload)
		pcm = up.Process(pcm)
		if len(pcm) == 0 {
			continue
		}
		pcm = s.aec.Process(pcm)
		if h := s.handle(); h != nil {
			if err := h.SendAudio(pcm); err != nil {
				slog.Debug("session: send audio", "call_id", s.cfg.CallUUID, "err", err)
			}
		}
	}
}

// egressSink receives paced frames and pushes them to the switch. Every
// released frame also seeds the echo canceller's reference line.
func (s *Session) egressSink(f audio.Frame) {
	s.aec.PushReference(f.Data)

	s.mu.Lock()
	mc, codec, down := s.media, s.codec, s.egressDown
	s.mu.Unlock()
	if mc == nil {
		return
	}

	pcm := down.Process(f.Data)
	if len(pcm) == 0 {
		return
	}
	if err := mc.writeFrame(codec.Encode(pcm)); err != nil {
		slog.Debug("session: media write", "call_id", s.cfg.CallUUID, "err", err)
		return
	}
	s.framesOut.Add(1)
	s.monitor.TouchOutboundAudio()
}

// pumpProviderAudio chops the provider's audio deltas into 20 ms frames for
// the pacer. Deltas arrive in arbitrary sizes; a carry buffer keeps frame
// boundaries exact.
func (s *Session) pumpProviderAudio(h realtime.Handle) {
	frameBytes := audio.SamplesPerFrame(providerRate) * 2
	for chunk := range h.Audio() {
		s.monitor.TouchProvider()

		s.egressMu.Lock()
		s.egressBuf = append(s.egressBuf, chunk...)
		var frames [][]byte
		for len(s.egressBuf) >= frameBytes {
			frame := make([]byte, frameBytes)
			copy(frame, s.egressBuf[:frameBytes])
			s.egressBuf = s.egressBuf[frameBytes:]
			frames = append(frames, frame)
		}
		s.egressMu.Unlock()

		for _, data := range frames {
			s.pacer.Enqueue(audio.Frame{
				SampleRate: providerRate,
				Encoding:   audio.EncodingPCM16,
				Direction:  audio.ToSwitch,
				Data:       data,
			})
		}
	}
}

// handle returns the current provider handle, nil after retirement.
func (s *Session) handle() realtime.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider
}

// say speaks through the provider session, tolerating its absence.
func (s *Session) say(instruction string) {
	h := s.handle()
	if h == nil {
		return
	}
	if err := h.Say(instruction); err != nil {
		slog.Warn("session: say failed", "call_id", s.cfg.CallUUID, "err", err)
	}
}

// Outcome classifies the finished call. Only meaningful once Done is closed.
func (s *Session) Outcome() callog.Outcome { return s.outcome() }

// outcome classifies the finished call for its record.
func (s *Session) outcome() callog.Outcome {
	switch {
	case s.transferred.Load():
		return callog.OutcomeTransferred
	case s.errored.Load():
		return callog.OutcomeError
	case !s.connected.Load():
		return callog.OutcomeNoAnswer
	case s.messageTaken.Load():
		return callog.OutcomeMessageTaken
	default:
		return callog.OutcomeCompleted
	}
}

// Shutdown tears the session down exactly once: provider closed, media
// detached, record finalized and flushed, registry entry removed.
func (s *Session) Shutdown(reason string) {
	s.closeOnce.Do(func() {
		slog.Info("session: shutting down",
			"call_id", s.cfg.CallUUID, "reason", reason)

		if !s.machine.Current().Terminal() {
			s.machine.Fire(callstate.TriggerForceEnd, nil)
		}

		if h := s.handle(); h != nil {
			h.Close()
		}
		s.pacer.Close()
		s.monitor.Close()

		s.mu.Lock()
		mc := s.media
		s.media = nil
		s.provider = nil
		s.mu.Unlock()
		if mc != nil {
			mc.Close()
		}
		if s.cfg.MediaURL != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			s.cfg.Switch.StopMediaStream(ctx, s.cfg.CallUUID)
			cancel()
		}

		s.logger.SetFinalState(string(s.machine.Current()))
		s.logger.SetOutcome(s.outcome())
		s.logger.AddMetric("frames_in", s.framesIn.Load())
		s.logger.AddMetric("frames_out", s.framesOut.Load())
		s.logger.AddMetric("user_turns", s.turns.Load())

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		s.logger.Finish(ctx)
		cancel()

		if s.cfg.Registry != nil {
			s.cfg.Registry.Remove(s.cfg.CallUUID)
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.events.Close()
		close(s.done)
	})
}
