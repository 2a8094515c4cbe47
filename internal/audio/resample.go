package audio

import (
	"fmt"
	"math"
	"time"
)

// tapsPerPhase is the number of filter taps applied per output sample. The
// prototype low-pass filter has tapsPerPhase*up coefficients.
const tapsPerPhase = 24

// Resampler converts 16-bit mono PCM between two sample rates using a
// polyphase FIR low-pass filter (windowed sinc, Hamming). The filter history
// is primed with zeros so that every 20 ms input frame yields exactly one
// 20 ms output frame; the start-up transient is absorbed into the first
// frame. Group delay is deterministic and reported by [Resampler.GroupDelay]
// so the echo canceller can compensate.
//
// A Resampler is stateful and streaming: create one per direction per call.
// Not safe for concurrent use.
type Resampler struct {
	inRate  int
	outRate int
	up      int // interpolation factor L
	down    int // decimation factor M

	// taps holds the prototype filter, laid out so that output phase p uses
	// taps[j*up+p] against input sample base-j.
	taps []float64

	// hist holds the most recent tapsPerPhase-1 input samples from prior calls.
	hist []int16

	// inCount is the absolute index of the next input sample to arrive.
	inCount int64

	// nextOut is the absolute index of the next output sample to produce.
	nextOut int64
}

// NewResampler creates a streaming resampler from inRate to outRate Hz.
func NewResampler(inRate, outRate int) (*Resampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("audio: invalid resample rates %d -> %d", inRate, outRate)
	}
	g := gcd(inRate, outRate)
	r := &Resampler{
		inRate:  inRate,
		outRate: outRate,
		up:      outRate / g,
		down:    inRate / g,
		hist:    make([]int16, tapsPerPhase-1),
	}
	r.taps = designLowpass(r.up, r.down)
	return r, nil
}

// designLowpass builds a Hamming-windowed sinc prototype filter for an
// upsample-by-L, downsample-by-M polyphase structure. Cutoff is half the
// narrower of the two rates, expressed in the upsampled domain. The filter
// gain is L so amplitude is preserved through zero-stuffing.
func designLowpass(up, down int) []float64 {
	n := tapsPerPhase * up
	// Normalized cutoff in the upsampled domain (cycles per sample).
	fc := 0.5 / float64(max(up, down))
	mid := float64(n-1) / 2

	taps := make([]float64, n)
	var sum float64
	for i := range n {
		x := float64(i) - mid
		var s float64
		if x == 0 {
			s = 2 * fc
		} else {
			s = math.Sin(2*math.Pi*fc*x) / (math.Pi * x)
		}
		// Hamming window.
		w := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		taps[i] = s * w
		sum += taps[i]
	}
	// Normalize DC gain to L.
	scale := float64(up) / sum
	for i := range taps {
		taps[i] *= scale
	}
	return taps
}

// Ratio returns the conversion ratio as (up, down) integer factors.
func (r *Resampler) Ratio() (up, down int) { return r.up, r.down }

// GroupDelay returns the deterministic delay introduced by the filter,
// expressed in input-time.
func (r *Resampler) GroupDelay() time.Duration {
	delaySamples := float64(tapsPerPhase-1) / 2
	return time.Duration(delaySamples / float64(r.inRate) * float64(time.Second))
}

// Process consumes one chunk of PCM16 bytes and returns the resampled chunk.
// For frame-aligned input (20 ms at the input rate) the output is exactly
// 20 ms at the output rate. Passing an empty slice returns an empty slice.
func (r *Resampler) Process(pcm []byte) []byte {
	if r.inRate == r.outRate {
		return pcm
	}
	in := BytesToPCM16(pcm)
	if len(in) == 0 {
		return nil
	}

	// Assemble history + new samples. buf[i] holds absolute input index
	// r.inCount - len(hist) + i.
	histLen := len(r.hist)
	buf := make([]int16, histLen+len(in))
	copy(buf, r.hist)
	copy(buf[histLen:], in)
	bufStart := r.inCount - int64(histLen)

	lastAvail := r.inCount + int64(len(in)) - 1
	var out []int16
	for {
		// Output sample nextOut is anchored at input position
		// floor(nextOut*down/up) with polyphase offset nextOut*down mod up.
		idx := r.nextOut * int64(r.down)
		base := idx / int64(r.up)
		phase := int(idx % int64(r.up))
		if base > lastAvail {
			break
		}

		var acc float64
		for j := range tapsPerPhase {
			sampleIdx := base - int64(j)
			if sampleIdx < bufStart {
				break
			}
			acc += r.taps[j*r.up+phase] * float64(buf[sampleIdx-bufStart])
		}
		out = append(out, clampPCM16(acc))
		r.nextOut++
	}

	// Retain the most recent tapsPerPhase-1 samples for the next call.
	copy(r.hist, buf[len(buf)-histLen:])
	r.inCount += int64(len(in))

	return PCM16ToBytes(out)
}

func clampPCM16(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(math.Round(v))
	}
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
