package audio

// ResamplePCM16 converts mono PCM16 between sample rates by linear
// interpolation. Telephony paths only need modest ratios such as 24k to 8k.
func ResamplePCM16(pcm []byte, from, to int) []byte {
	if from == to || from <= 0 || to <= 0 {
		return pcm
	}
	in := len(pcm) / 2
	if in == 0 {
		return nil
	}
	sample := func(i int) float64 {
		return float64(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
	}

	outLen := int(int64(in) * int64(to) / int64(from))
	out := make([]byte, outLen*2)
	ratio := float64(from) / float64(to)
	for i := 0; i < outLen; i++ {
		pos := float64(i) * ratio
		j := int(pos)
		frac := pos - float64(j)
		v := sample(j)
		if j+1 < in {
			v += (sample(j+1) - v) * frac
		}
		s := int16(v)
		out[2*i] = byte(s)
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}
