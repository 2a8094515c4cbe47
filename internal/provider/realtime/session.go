package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxsec/voxsec/internal/bus"
)

var _ Handle = (*Session)(nil)

// reconnectAttempts caps how many redials follow one transport loss.
// Delays grow from reconnectBaseDelay with exponential backoff.
const (
	reconnectAttempts  = 3
	reconnectBaseDelay = 500 * time.Millisecond
)

// Session is a live provider session. All methods are safe for concurrent
// use; writes to the connection are serialized.
type Session struct {
	provider *Provider
	cfg      SessionConfig
	events   *bus.Bus

	audioCh chan []byte

	mu          sync.Mutex
	conn        *websocket.Conn
	toolHandler ToolCallHandler
	errVal      error
	closed      bool

	// currentTxText accumulates response.audio_transcript.delta events until
	// the matching done event.
	currentTxText string

	// pending accumulates function-call argument deltas keyed by call id.
	pending map[string]string

	capTimer  *time.Timer
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate configures voice, instructions, turn detection, input
// transcription and tools.
func (s *Session) sendSessionUpdate() error {
	return s.writeJSON(sessionUpdateMessage{Type: "session.update", Session: s.sessionParams()})
}

func (s *Session) sessionParams() sessionParams {
	params := sessionParams{
		InputAudioFormat:   "pcm16",
		OutputAudioFormat:  "pcm16",
		Voice:              s.cfg.Voice,
		Instructions:       s.cfg.Instructions,
		TurnDetection:      toWireTurnDetection(s.cfg.Turn),
		InputTranscription: &transcriptionParams{Model: "whisper-1"},
	}
	if len(s.cfg.Tools) > 0 {
		params.Tools = toWireTools(s.cfg.Tools)
	}
	return params
}

func toWireTurnDetection(td TurnDetection) *turnDetection {
	switch td.Mode {
	case TurnServerVAD, "":
		return &turnDetection{
			Type:              string(TurnServerVAD),
			Threshold:         td.Threshold,
			PrefixPaddingMs:   int(td.PrefixPadding / time.Millisecond),
			SilenceDurationMs: int(td.SilenceDuration / time.Millisecond),
		}
	case TurnSemanticVAD:
		return &turnDetection{Type: string(TurnSemanticVAD), Eagerness: td.Eagerness}
	default:
		// Push-to-talk: turn_detection is explicitly null.
		return nil
	}
}

func toWireTools(tools []ToolDefinition) []wireTool {
	out := make([]wireTool, len(tools))
	for i, t := range tools {
		out[i] = wireTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}

// writeJSON marshals v and writes it as a text message on the current
// connection.
func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	s.mu.Lock()
	conn := s.conn
	closed := s.closed
	s.mu.Unlock()
	if closed || conn == nil {
		return fmt.Errorf("realtime: session closed")
	}
	return conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads provider events and dispatches them. It owns audioCh and
// closes it on exit. A transport loss is retried with capped backoff when
// the config's Reconnect callback allows it.
func (s *Session) receiveLoop() {
	defer s.closeChannels()

	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if s.reconnect(err) {
				continue
			}
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			// Framing fault: drop the event, keep the conversation alive.
			slog.Warn("realtime: dropping malformed provider event", "err", err)
			continue
		}
		s.handleServerEvent(&evt)
	}
}

// reconnect redials after a transport loss. Returns true when the session
// has a fresh connection and the receive loop should continue.
func (s *Session) reconnect(cause error) bool {
	s.events.Publish(bus.Event{
		Kind:    bus.WebsocketDisconnected,
		Source:  "provider",
		Payload: map[string]any{"error": cause.Error()},
	})

	if s.cfg.Reconnect == nil || !s.cfg.Reconnect() {
		s.fail(cause)
		return false
	}

	delay := reconnectBaseDelay
	for attempt := 1; attempt <= reconnectAttempts; attempt++ {
		select {
		case <-s.ctx.Done():
			return false
		case <-time.After(delay):
		}
		delay *= 2

		dialCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		conn, err := s.provider.dial(dialCtx)
		cancel()
		if err != nil {
			slog.Warn("realtime: reconnect attempt failed",
				"attempt", attempt, "err", err)
			continue
		}

		s.mu.Lock()
		old := s.conn
		s.conn = conn
		s.mu.Unlock()
		if old != nil {
			old.Close(websocket.StatusGoingAway, "reconnecting")
		}

		if err := s.sendSessionUpdate(); err != nil {
			slog.Warn("realtime: session update after reconnect failed", "err", err)
			continue
		}

		s.events.Publish(bus.Event{Kind: bus.ConnectionHealthy, Source: "provider"})
		slog.Info("realtime: session reconnected", "attempt", attempt)
		return true
	}

	s.fail(fmt.Errorf("realtime: reconnect exhausted after %d attempts: %w",
		reconnectAttempts, cause))
	return false
}

// fail records the terminal error and publishes connection.lost.
func (s *Session) fail(err error) {
	s.setErr(err)
	s.events.Publish(bus.Event{
		Kind:    bus.ConnectionLost,
		Source:  "provider",
		Payload: map[string]any{"error": err.Error()},
	})
}

// capExpired fires when the session approaches the provider's hard duration
// limit. The session closes gracefully; the owning call decides what to do.
func (s *Session) capExpired() {
	slog.Info("realtime: session duration cap reached")
	s.events.Publish(bus.Event{
		Kind:    bus.WebsocketDisconnected,
		Source:  "provider",
		Payload: map[string]any{"reason": "session_cap"},
	})
	s.Close()
}

func (s *Session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "input_audio_buffer.speech_started":
		s.events.Publish(bus.Event{Kind: bus.UserSpeakingStarted, Source: "provider"})

	case "input_audio_buffer.speech_stopped":
		s.events.Publish(bus.Event{Kind: bus.UserSpeakingDone, Source: "provider"})

	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		audioData, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(audioData) == 0 {
			return
		}
		select {
		case s.audioCh <- audioData:
		case <-s.ctx.Done():
		}

	case "response.audio.done":
		s.events.Publish(bus.Event{Kind: bus.AIAudioComplete, Source: "provider"})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		s.mu.Lock()
		s.currentTxText += evt.Delta
		s.mu.Unlock()

	case "response.audio_transcript.done":
		s.mu.Lock()
		text := s.currentTxText
		s.currentTxText = ""
		s.mu.Unlock()
		if text == "" {
			return
		}
		s.events.Publish(bus.Event{
			Kind:    bus.UserTranscript,
			Source:  "provider",
			Payload: map[string]any{"role": "assistant", "text": text},
		})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		s.events.Publish(bus.Event{
			Kind:    bus.UserTranscript,
			Source:  "provider",
			Payload: map[string]any{"role": "user", "text": evt.Transcript},
		})

	case "response.function_call_arguments.delta":
		if evt.CallID == "" || evt.Delta == "" {
			return
		}
		s.mu.Lock()
		s.pending[evt.CallID] += evt.Delta
		s.mu.Unlock()

	case "response.function_call_arguments.done":
		s.handleFunctionCall(evt)

	case "rate_limits.updated":
		slog.Debug("realtime: rate limits updated")

	case "error":
		s.handleErrorEvent(evt)
	}
}

func (s *Session) handleFunctionCall(evt *serverEvent) {
	s.mu.Lock()
	handler := s.toolHandler
	args := evt.Arguments
	if args == "" {
		args = s.pending[evt.CallID]
	}
	delete(s.pending, evt.CallID)
	s.mu.Unlock()

	if handler == nil {
		return
	}

	result, callErr := handler(evt.Name, args)
	if callErr != nil {
		result = fmt.Sprintf(`{"error": %q}`, callErr.Error())
	}

	// Return the tool result and trigger the next model response.
	_ = s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: evt.CallID,
			Output: result,
		},
	})
	_ = s.writeJSON(createResponseMessage{Type: "response.create"})
}

// handleErrorEvent classifies provider error events. A rejected session
// configuration degrades the connection and aborts the call; anything else
// is a protocol fault that is logged and dropped.
func (s *Session) handleErrorEvent(evt *serverEvent) {
	msg := "unknown error"
	code := ""
	errType := ""
	if evt.Error != nil {
		if evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		code = evt.Error.Code
		errType = evt.Error.Type
	}

	if errType == "invalid_request_error" {
		s.events.Publish(bus.Event{
			Kind:    bus.ConnectionDegraded,
			Source:  "provider",
			Payload: map[string]any{"error": msg, "code": code},
		})
		return
	}
	slog.Warn("realtime: provider error event", "type", errType, "code", code, "msg", msg)
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *Session) closeChannels() {
	s.closeOnce.Do(func() { close(s.audioCh) })
}

// SendAudio implements [Handle].
func (s *Session) SendAudio(frame []byte) error {
	return s.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(frame),
	})
}

// Commit implements [Handle].
func (s *Session) Commit() error {
	return s.writeJSON(map[string]string{"type": "input_audio_buffer.commit"})
}

// CreateResponse implements [Handle].
func (s *Session) CreateResponse() error {
	return s.writeJSON(createResponseMessage{Type: "response.create"})
}

// CancelResponse implements [Handle].
func (s *Session) CancelResponse() error {
	return s.writeJSON(map[string]string{"type": "response.cancel"})
}

// InjectContext implements [Handle]. Unknown roles are coerced to "user".
func (s *Session) InjectContext(role, text string) error {
	switch role {
	case "assistant", "system":
	default:
		role = "user"
	}
	partType := "input_text"
	if role == "assistant" {
		partType = "text"
	}
	return s.writeJSON(createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    role,
			Content: []conversationPart{{Type: partType, Text: text}},
		},
	})
}

// Say implements [Handle].
func (s *Session) Say(instruction string) error {
	return s.writeJSON(createResponseMessage{
		Type:     "response.create",
		Response: &responseParams{Instructions: instruction},
	})
}

// SetTools implements [Handle].
func (s *Session) SetTools(tools []ToolDefinition) error {
	s.mu.Lock()
	s.cfg.Tools = tools
	s.mu.Unlock()
	return s.sendSessionUpdate()
}

// UpdateInstructions implements [Handle].
func (s *Session) UpdateInstructions(instructions string) error {
	s.mu.Lock()
	s.cfg.Instructions = instructions
	s.mu.Unlock()
	return s.sendSessionUpdate()
}

// Audio implements [Handle].
func (s *Session) Audio() <-chan []byte { return s.audioCh }

// OnToolCall implements [Handle].
func (s *Session) OnToolCall(handler ToolCallHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolHandler = handler
}

// Err implements [Handle].
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close implements [Handle].
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	if s.capTimer != nil {
		s.capTimer.Stop()
	}
	s.cancel()
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "session closed")
	}
	return nil
}
