package audio

import (
	"fmt"

	"github.com/zaf/g711"
)

// Codec converts between a telephony leg encoding (G.711 μ-law or A-law at
// 8 kHz, or already-linear PCM16) and linear PCM16. Conversions other than
// rate conversion are lossless modulo G.711 quantization.
type Codec struct {
	encoding Encoding
}

// NewCodec creates a codec for the switch leg's declared encoding.
func NewCodec(encoding Encoding) (*Codec, error) {
	if !encoding.IsValid() {
		return nil, fmt.Errorf("audio: unknown encoding %q", encoding)
	}
	return &Codec{encoding: encoding}, nil
}

// Encoding returns the switch-leg encoding this codec was created for.
func (c *Codec) Encoding() Encoding { return c.encoding }

// Decode converts switch-leg payload bytes to linear PCM16 bytes.
func (c *Codec) Decode(data []byte) []byte {
	switch c.encoding {
	case EncodingULaw:
		return g711.DecodeUlaw(data)
	case EncodingALaw:
		return g711.DecodeAlaw(data)
	default:
		return data
	}
}

// Encode converts linear PCM16 bytes to the switch-leg encoding.
func (c *Codec) Encode(pcm []byte) []byte {
	switch c.encoding {
	case EncodingULaw:
		return g711.EncodeUlaw(pcm)
	case EncodingALaw:
		return g711.EncodeAlaw(pcm)
	default:
		return pcm
	}
}
