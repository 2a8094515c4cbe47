package audio

import (
	"math"
	"testing"
	"time"
)

func TestEchoCanceller_FailsOpenWithoutReference(t *testing.T) {
	ec := NewEchoCanceller(EchoCancellerConfig{SampleRate: 8000})

	in := sinePCM16(160, 440, 8000, 8000)
	out := ec.Process(in)

	if len(out) != len(in) {
		t.Fatalf("output = %d bytes, want %d", len(out), len(in))
	}
	inS, outS := BytesToPCM16(in), BytesToPCM16(out)
	for i := range inS {
		if inS[i] != outS[i] {
			t.Fatal("frame must pass through unchanged without a reference")
		}
	}
}

func TestEchoCanceller_DelayLineFromConfig(t *testing.T) {
	ec := NewEchoCanceller(EchoCancellerConfig{SampleRate: 8000, EchoDelay: 100 * time.Millisecond})
	if ec.delayFrames() != 5 {
		t.Errorf("delay = %d frames, want 5", ec.delayFrames())
	}

	def := NewEchoCanceller(EchoCancellerConfig{SampleRate: 8000})
	if def.delayFrames() != 10 {
		t.Errorf("default delay = %d frames, want 10 (200 ms)", def.delayFrames())
	}
}

func TestEchoCanceller_AttenuatesPureEcho(t *testing.T) {
	// 40 ms configured delay keeps the test short.
	ec := NewEchoCanceller(EchoCancellerConfig{SampleRate: 8000, EchoDelay: 40 * time.Millisecond})

	// The mic hears an attenuated copy of the reference, aligned with the
	// delay line: reference frame k comes back as mic frame k+delay.
	makeFrame := func(k int) []int16 {
		out := make([]int16, 160)
		for i := range out {
			// Deterministic pseudo-speech: two mixed tones.
			n := k*160 + i
			out[i] = int16(4000*sin01(440, 8000, n) + 2500*sin01(317, 8000, n))
		}
		return out
	}

	var lastIn, lastOut []int16
	const frames = 50
	for k := range frames {
		ec.PushReference(PCM16ToBytes(makeFrame(k)))

		// Mic signal is the reference scaled by the echo path (0.6), delayed
		// by the delay line (2 frames at 40 ms).
		var mic []int16
		if k >= 2 {
			src := makeFrame(k - 2)
			mic = make([]int16, len(src))
			for i, s := range src {
				mic[i] = int16(float64(s) * 0.6)
			}
		} else {
			mic = make([]int16, 160)
		}

		out := BytesToPCM16(ec.Process(PCM16ToBytes(mic)))
		lastIn, lastOut = mic, out
	}

	// After adaptation the residual echo must be well below the input.
	if gain := erle(lastIn, lastOut); gain < 6 {
		t.Errorf("ERLE after %d frames = %.1f dB, want >= 6 dB", frames, gain)
	}
}

func TestEchoCanceller_ResetDropsReferences(t *testing.T) {
	ec := NewEchoCanceller(EchoCancellerConfig{SampleRate: 8000, EchoDelay: 40 * time.Millisecond})
	for range 5 {
		ec.PushReference(sinePCM16(160, 440, 8000, 4000))
	}
	ec.Reset()

	// With references gone the canceller fails open again.
	in := sinePCM16(160, 440, 8000, 4000)
	out := ec.Process(in)
	inS, outS := BytesToPCM16(in), BytesToPCM16(out)
	for i := range inS {
		if inS[i] != outS[i] {
			t.Fatal("expected pass-through after Reset")
		}
	}
}

// sin01 returns sin(2π·freq·n/rate).
func sin01(freq, rate float64, n int) float64 {
	return math.Sin(2 * math.Pi * freq * float64(n) / rate)
}
