// Package realtime implements the provider session against a streaming
// conversational speech model.
//
// It maintains a bidirectional WebSocket connection and exchanges JSON
// events: audio is transmitted as base64-encoded PCM16 frames, tool calls
// are surfaced through the ToolCallHandler callback, and conversation
// signals (speech detection, transcripts, audio completion) are published
// on the owning call's event bus. Mid-session updates (instructions, tools,
// barge-in cancellation) are supported throughout the session's life.
package realtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/voxsec/voxsec/internal/bus"
)

var _ Dialer = (*Provider)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"

	// sessionCapMargin is subtracted from the provider's hard session limit
	// so the session can close gracefully before the provider cuts it.
	sessionCapMargin = time.Minute

	defaultSessionLimit = 30 * time.Minute
)

// Dialer opens provider sessions. *Provider implements it against the live
// service; tests use the mock subpackage.
type Dialer interface {
	Connect(ctx context.Context, cfg SessionConfig, events *bus.Bus) (Handle, error)
}

// Handle is one live provider session bound to a single call.
type Handle interface {
	// SendAudio appends one 20 ms PCM16 frame to the provider's input buffer.
	SendAudio(frame []byte) error

	// Commit ends the current user turn explicitly. Only meaningful with
	// turn detection disabled (push-to-talk).
	Commit() error

	// CreateResponse asks the model to respond to the committed input.
	CreateResponse() error

	// CancelResponse aborts the in-flight model response (barge-in).
	CancelResponse() error

	// InjectContext inserts a text item into the conversation without
	// triggering a response.
	InjectContext(role, text string) error

	// Say injects an instruction and triggers a spoken response. Used for
	// greetings, announcements and fallback messages.
	Say(instruction string) error

	// SetTools replaces the registered tool list mid-session.
	SetTools(tools []ToolDefinition) error

	// UpdateInstructions replaces the system instructions mid-session.
	UpdateInstructions(instructions string) error

	// Audio is the stream of decoded PCM16 audio deltas from the model.
	// Closed when the session ends.
	Audio() <-chan []byte

	// OnToolCall registers the function-call dispatch callback.
	OnToolCall(handler ToolCallHandler)

	// Err returns the first error that terminated the session, if any.
	Err() error

	// Close tears the session down. Idempotent.
	Close() error
}

// ToolCallHandler executes one model-requested tool call. It receives the
// tool name and the raw JSON argument string and returns the JSON result
// posted back to the model. A returned error is reported to the model as a
// structured error result; the conversation continues.
type ToolCallHandler func(name, argsJSON string) (string, error)

// ToolDefinition describes one tool exposed to the model.
type ToolDefinition struct {
	Name        string
	Description string
	// Parameters is a JSON-schema-shaped description of the arguments.
	Parameters map[string]any
}

// TurnMode selects how user turns are delimited.
type TurnMode string

const (
	// TurnServerVAD lets the provider detect speech boundaries from audio.
	TurnServerVAD TurnMode = "server_vad"

	// TurnSemanticVAD uses the provider's semantic end-of-turn detection.
	TurnSemanticVAD TurnMode = "semantic_vad"

	// TurnDisabled requires explicit Commit/CreateResponse (push-to-talk).
	TurnDisabled TurnMode = "none"
)

// TurnDetection configures the provider's voice activity detection.
type TurnDetection struct {
	Mode TurnMode

	// Server VAD tunables. Zero values take provider defaults.
	Threshold       float64
	PrefixPadding   time.Duration
	SilenceDuration time.Duration

	// Eagerness tier for semantic VAD: "low", "medium", "high" or "auto".
	Eagerness string
}

// SessionConfig describes one provider session.
type SessionConfig struct {
	Voice        string
	Instructions string
	Turn         TurnDetection
	Tools        []ToolDefinition

	// SessionLimit is the provider's hard session duration cap. The session
	// closes gracefully sessionCapMargin before it. Zero takes the default.
	SessionLimit time.Duration

	// Reconnect reports whether a transport loss should be retried. The
	// owning session wires this to its state: reconnect while conversing,
	// tear down during a transfer or after bridging.
	Reconnect func() bool
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider dials realtime sessions against the speech model service.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect establishes a provider session for one call. Conversation signals
// are published on events; audio deltas arrive on the session's Audio
// channel. The session is ready for audio as soon as Connect returns.
func (p *Provider) Connect(ctx context.Context, cfg SessionConfig, events *bus.Bus) (Handle, error) {
	conn, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}

	limit := cfg.SessionLimit
	if limit <= 0 {
		limit = defaultSessionLimit
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &Session{
		provider: p,
		cfg:      cfg,
		events:   events,
		conn:     conn,
		audioCh:  make(chan []byte, 64),
		pending:  make(map[string]string),
		ctx:      sessCtx,
		cancel:   sessCancel,
	}

	if err := sess.sendSessionUpdate(); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("realtime: session update: %w", err)
	}

	sess.capTimer = time.AfterFunc(limit-sessionCapMargin, sess.capExpired)
	go sess.receiveLoop()

	return sess, nil
}

// dial opens one WebSocket connection to the provider.
func (p *Provider) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL := fmt.Sprintf("%s?model=%s", p.baseURL, p.model)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}
	return conn, nil
}
