// Package audio implements the per-call audio pipeline: G.711 codec
// conversion, sample-rate conversion, echo cancellation, and paced playback.
//
// The pipeline works on 20 ms frames. Inbound frames (switch to provider) are
// decoded to linear PCM16, resampled to the provider rate, and cleaned by the
// echo canceller. Outbound frames (provider to switch) are resampled to the
// switch rate, encoded, and released by the pacer on a strict wall-clock
// schedule.
package audio

import (
	"encoding/binary"
	"time"
)

// FrameDuration is the fixed duration of every frame in the pipeline.
const FrameDuration = 20 * time.Millisecond

// Encoding identifies the byte layout of a frame's payload.
type Encoding string

const (
	// EncodingPCM16 is little-endian linear 16-bit PCM.
	EncodingPCM16 Encoding = "pcm16"

	// EncodingULaw is G.711 μ-law, 8 bits per sample.
	EncodingULaw Encoding = "ulaw"

	// EncodingALaw is G.711 A-law, 8 bits per sample.
	EncodingALaw Encoding = "alaw"
)

// IsValid reports whether e is a recognised encoding.
func (e Encoding) IsValid() bool {
	switch e {
	case EncodingPCM16, EncodingULaw, EncodingALaw:
		return true
	}
	return false
}

// Direction tags which way a frame is travelling.
type Direction int

const (
	// ToProvider marks caller audio on its way to the speech model.
	ToProvider Direction = iota

	// ToSwitch marks model audio on its way to the caller.
	ToSwitch
)

// Frame is one 20 ms frame of audio. Frames are transient: they flow through
// the pipeline and are never stored.
type Frame struct {
	SampleRate int
	Encoding   Encoding
	Direction  Direction
	Data       []byte
}

// SamplesPerFrame returns the number of samples in one 20 ms frame at the
// given rate.
func SamplesPerFrame(sampleRate int) int {
	return sampleRate / 50
}

// BytesToPCM16 converts little-endian PCM bytes to int16 samples.
func BytesToPCM16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// PCM16ToBytes converts int16 samples to little-endian PCM bytes.
func PCM16ToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}
