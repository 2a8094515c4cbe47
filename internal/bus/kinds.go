package bus

// Kind identifies an event type on the bus. The set of kinds is closed:
// components must not invent kinds outside this list.
type Kind string

// Call lifecycle.
const (
	CallStarted   Kind = "call.started"
	CallConnected Kind = "call.connected"
	CallEnding    Kind = "call.ending"
	CallEnded     Kind = "call.ended"
)

// AI speech and audio.
const (
	AISpeakingStarted Kind = "ai.speaking.started"
	AISpeakingDone    Kind = "ai.speaking.done"
	AIAudioChunk      Kind = "ai.audio.chunk"
	AIAudioBufferLow  Kind = "ai.audio.buffer.low"
	AIAudioComplete   Kind = "ai.audio.complete"
)

// User speech and input.
const (
	UserSpeakingStarted Kind = "user.speaking.started"
	UserSpeakingDone    Kind = "user.speaking.done"
	UserAudioReceived   Kind = "user.audio.received"
	UserTranscript      Kind = "user.transcript"
	UserDTMF            Kind = "user.dtmf"
)

// Announced transfer protocol.
const (
	TransferRequested  Kind = "transfer.requested"
	TransferValidated  Kind = "transfer.validated"
	TransferDialing    Kind = "transfer.dialing"
	TransferRinging    Kind = "transfer.ringing"
	TransferAnswered   Kind = "transfer.answered"
	TransferAnnouncing Kind = "transfer.announcing"
	TransferAccepted   Kind = "transfer.accepted"
	TransferRejected   Kind = "transfer.rejected"
	TransferTimeout    Kind = "transfer.timeout"
	TransferCompleted  Kind = "transfer.completed"
	TransferFailed     Kind = "transfer.failed"
	TransferCancelled  Kind = "transfer.cancelled"
)

// Hold.
const (
	HoldStarted Kind = "hold.started"
	HoldEnded   Kind = "hold.ended"
)

// State machine.
const (
	StateChanged           Kind = "state.changed"
	StateTransitionBlocked Kind = "state.transition.blocked"
)

// Connection health.
const (
	ConnectionHealthy     Kind = "connection.healthy"
	ConnectionDegraded    Kind = "connection.degraded"
	ConnectionLost        Kind = "connection.lost"
	WebsocketDisconnected Kind = "websocket.disconnected"
	ProviderTimeout       Kind = "provider.timeout"
)

// Tool execution.
const (
	ToolStarted   Kind = "tool.started"
	ToolCompleted Kind = "tool.completed"
	ToolFailed    Kind = "tool.failed"
)

// allKinds lists every recognised kind. Used by IsValid and in tests.
var allKinds = map[Kind]struct{}{
	CallStarted: {}, CallConnected: {}, CallEnding: {}, CallEnded: {},
	AISpeakingStarted: {}, AISpeakingDone: {}, AIAudioChunk: {},
	AIAudioBufferLow: {}, AIAudioComplete: {},
	UserSpeakingStarted: {}, UserSpeakingDone: {}, UserAudioReceived: {},
	UserTranscript: {}, UserDTMF: {},
	TransferRequested: {}, TransferValidated: {}, TransferDialing: {},
	TransferRinging: {}, TransferAnswered: {}, TransferAnnouncing: {},
	TransferAccepted: {}, TransferRejected: {}, TransferTimeout: {},
	TransferCompleted: {}, TransferFailed: {}, TransferCancelled: {},
	HoldStarted: {}, HoldEnded: {},
	StateChanged: {}, StateTransitionBlocked: {},
	ConnectionHealthy: {}, ConnectionDegraded: {}, ConnectionLost: {},
	WebsocketDisconnected: {}, ProviderTimeout: {},
	ToolStarted: {}, ToolCompleted: {}, ToolFailed: {},
}

// IsValid reports whether k is a recognised event kind.
func (k Kind) IsValid() bool {
	_, ok := allKinds[k]
	return ok
}
