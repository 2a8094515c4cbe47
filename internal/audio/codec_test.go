package audio

import (
	"math"
	"testing"
)

// sinePCM16 generates n samples of a sine wave at freq Hz / rate Hz with the
// given amplitude, as little-endian PCM bytes.
func sinePCM16(n int, freq, rate float64, amp float64) []byte {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(amp * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	return PCM16ToBytes(samples)
}

func TestNewCodec_RejectsUnknownEncoding(t *testing.T) {
	if _, err := NewCodec(Encoding("opus")); err == nil {
		t.Fatal("expected error for unknown encoding")
	}
}

func TestCodec_ULawRoundTripIsIdentityModuloQuantization(t *testing.T) {
	c, err := NewCodec(EncodingULaw)
	if err != nil {
		t.Fatal(err)
	}

	in := sinePCM16(160, 440, 8000, 8000)
	decoded := c.Decode(c.Encode(in))

	if len(decoded) != len(in) {
		t.Fatalf("round-trip length = %d, want %d", len(decoded), len(in))
	}

	// G.711 μ-law quantization error is bounded; verify the round-tripped
	// signal stays close to the original.
	inS := BytesToPCM16(in)
	outS := BytesToPCM16(decoded)
	var maxErr int
	for i := range inS {
		diff := int(inS[i]) - int(outS[i])
		if diff < 0 {
			diff = -diff
		}
		if diff > maxErr {
			maxErr = diff
		}
	}
	// Worst-case μ-law step at this amplitude is well under 512.
	if maxErr > 512 {
		t.Errorf("max quantization error = %d, want <= 512", maxErr)
	}
}

func TestCodec_ALawRoundTrip(t *testing.T) {
	c, err := NewCodec(EncodingALaw)
	if err != nil {
		t.Fatal(err)
	}

	in := sinePCM16(160, 300, 8000, 12000)
	encoded := c.Encode(in)
	if len(encoded) != 160 {
		t.Fatalf("A-law frame = %d bytes, want 160", len(encoded))
	}
	decoded := c.Decode(encoded)
	if len(decoded) != len(in) {
		t.Fatalf("round-trip length = %d, want %d", len(decoded), len(in))
	}
}

func TestCodec_PCM16PassThrough(t *testing.T) {
	c, err := NewCodec(EncodingPCM16)
	if err != nil {
		t.Fatal(err)
	}
	in := sinePCM16(320, 440, 16000, 1000)
	if got := c.Encode(in); &got[0] != &in[0] {
		t.Error("PCM16 encode should pass data through")
	}
	if got := c.Decode(in); &got[0] != &in[0] {
		t.Error("PCM16 decode should pass data through")
	}
}

func TestPCM16ByteConversionRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345, -12345}
	got := BytesToPCM16(PCM16ToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("length = %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestSamplesPerFrame(t *testing.T) {
	tests := []struct {
		rate int
		want int
	}{
		{8000, 160},
		{16000, 320},
		{24000, 480},
	}
	for _, tt := range tests {
		if got := SamplesPerFrame(tt.rate); got != tt.want {
			t.Errorf("SamplesPerFrame(%d) = %d, want %d", tt.rate, got, tt.want)
		}
	}
}
