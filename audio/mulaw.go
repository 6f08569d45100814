package audio

import "github.com/BaSui01/callflow/types"

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// MulawToLinear expands one G.711 μ-law byte to a 16-bit sample.
func MulawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := ((int32(mantissa) << 3) + mulawBias) << exponent
	sample -= mulawBias
	if sign != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

// LinearToMulaw compresses a 16-bit sample to one G.711 μ-law byte.
func LinearToMulaw(sample int16) byte {
	s := int32(sample)
	sign := byte(0)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := byte(7)
	for mask := int32(0x4000); s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// DecodeMulaw converts μ-law bytes to little-endian PCM16.
func DecodeMulaw(src []byte) []byte {
	out := make([]byte, len(src)*2)
	for i, u := range src {
		s := MulawToLinear(u)
		out[2*i] = byte(s)
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}

// EncodeMulaw converts little-endian PCM16 to μ-law bytes. A trailing odd
// byte is ignored.
func EncodeMulaw(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		s := int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
		out[i] = LinearToMulaw(s)
	}
	return out
}

// ToPCM16 returns data as little-endian PCM16 regardless of its encoding.
func ToPCM16(data []byte, encoding types.AudioEncoding) []byte {
	if encoding == types.EncodingMulaw {
		return DecodeMulaw(data)
	}
	return data
}
