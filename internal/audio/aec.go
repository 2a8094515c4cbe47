package audio

import (
	"math"
	"sync"
	"time"
)

const (
	// defaultEchoDelay is the assumed round-trip delay between an outbound
	// TTS frame leaving the pacer and its echo arriving on the mic leg.
	defaultEchoDelay = 200 * time.Millisecond

	// aecFilterTaps is the adaptive filter length in samples. At 24 kHz this
	// covers a little over 5 ms of echo-tail spread around the seeded delay.
	aecFilterTaps = 128

	// aecStepSize is the NLMS adaptation step. Values near 1 adapt fast but
	// ring on double-talk; 0.5 is a stable middle ground for speech.
	aecStepSize = 0.5

	aecRegularization = 1e-3
)

// EchoCanceller removes the AI's own voice from captured caller audio using
// a normalized LMS adaptive filter over linear PCM16. Outbound TTS frames
// are pushed into a delay line sized for the configured round-trip echo;
// each inbound mic frame consumes the head-of-line delayed reference.
//
// The canceller fails open: an inbound frame with no available reference
// passes through unchanged.
//
// Safe for concurrent use by one reference writer and one mic reader.
type EchoCanceller struct {
	sampleRate int
	delayLine  int // reference delay in frames

	mu      sync.Mutex
	refs    [][]int16 // queued reference frames, oldest first
	weights []float64
	refHist []float64 // most recent reference samples, newest last
}

// EchoCancellerConfig tunes an [EchoCanceller]. Zero values select defaults.
type EchoCancellerConfig struct {
	// SampleRate is the PCM rate of both legs. Required.
	SampleRate int

	// EchoDelay is the expected round-trip echo delay. Default 200 ms.
	EchoDelay time.Duration
}

// NewEchoCanceller creates an echo canceller for the given configuration.
func NewEchoCanceller(cfg EchoCancellerConfig) *EchoCanceller {
	delay := cfg.EchoDelay
	if delay <= 0 {
		delay = defaultEchoDelay
	}
	return &EchoCanceller{
		sampleRate: cfg.SampleRate,
		delayLine:  int(delay / FrameDuration),
		weights:    make([]float64, aecFilterTaps),
		refHist:    make([]float64, aecFilterTaps),
	}
}

// PushReference queues one outbound 20 ms PCM16 frame as a future echo
// reference. Call this for every frame released toward the caller.
func (ec *EchoCanceller) PushReference(pcm []byte) {
	samples := BytesToPCM16(pcm)
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.refs = append(ec.refs, samples)
	// Keep at most the delay line plus a small margin; older references can
	// no longer correlate with incoming audio.
	if maxQueue := ec.delayLine + 5; len(ec.refs) > maxQueue {
		ec.refs = ec.refs[len(ec.refs)-maxQueue:]
	}
}

// Reset drops all queued references and adaptation state. Used when playback
// is drained on barge-in, since queued references no longer reach the caller.
func (ec *EchoCanceller) Reset() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.refs = nil
	clear(ec.refHist)
}

// Process cleans one inbound 20 ms PCM16 mic frame. If enough reference
// audio has been queued to cover the configured delay, the head-of-line
// reference frame is consumed and the NLMS filter subtracts its estimated
// echo; otherwise the frame passes through unchanged.
func (ec *EchoCanceller) Process(pcm []byte) []byte {
	ec.mu.Lock()
	defer ec.mu.Unlock()

	// Fail open until the delay line has filled.
	if len(ec.refs) <= ec.delayLine {
		return pcm
	}
	ref := ec.refs[0]
	ec.refs = ec.refs[1:]

	mic := BytesToPCM16(pcm)
	out := make([]int16, len(mic))

	for i := range mic {
		var r float64
		if i < len(ref) {
			r = float64(ref[i])
		}
		// Shift the reference history and append the new sample.
		copy(ec.refHist, ec.refHist[1:])
		ec.refHist[len(ec.refHist)-1] = r

		// Echo estimate: dot product of weights and reference history.
		var est, energy float64
		for j, w := range ec.weights {
			h := ec.refHist[len(ec.refHist)-1-j]
			est += w * h
			energy += h * h
		}

		e := float64(mic[i]) - est
		out[i] = clampPCM16(e)

		// NLMS weight update, normalized by reference energy.
		if energy > 0 {
			step := aecStepSize * e / (aecRegularization + energy)
			for j := range ec.weights {
				ec.weights[j] += step * ec.refHist[len(ec.refHist)-1-j]
			}
		}
	}
	return PCM16ToBytes(out)
}

// delayFrames reports the configured reference delay in whole frames.
func (ec *EchoCanceller) delayFrames() int { return ec.delayLine }

// erle computes the echo-return-loss enhancement between an input and output
// frame in dB. Diagnostic helper for tests and metrics.
func erle(in, out []int16) float64 {
	var ei, eo float64
	for _, s := range in {
		ei += float64(s) * float64(s)
	}
	for _, s := range out {
		eo += float64(s) * float64(s)
	}
	if eo == 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(ei/eo)
}
