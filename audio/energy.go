package audio

import (
	"math"

	"github.com/BaSui01/callflow/types"
)

// RMSEnergy returns the root-mean-square energy of little-endian PCM16 audio,
// normalized to 0.0-1.0.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// PeakAmplitude returns the maximum absolute amplitude in PCM16 audio, 0.0-1.0.
func PeakAmplitude(pcm []byte) float64 {
	var maxAbs float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(uint16(pcm[i]) | uint16(pcm[i+1])<<8)
		if abs := math.Abs(float64(sample)); abs > maxAbs {
			maxAbs = abs
		}
	}
	return maxAbs / 32768.0
}

// Detector classifies frames as speech or silence by RMS energy.
type Detector struct {
	Threshold float64
}

// NewDetector creates a detector; thresholds outside (0, 1] fall back to 0.02.
func NewDetector(threshold float64) Detector {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.02
	}
	return Detector{Threshold: threshold}
}

// IsSpeech reports whether the frame's energy reaches the threshold.
func (d Detector) IsSpeech(frame types.AudioFrame) bool {
	return RMSEnergy(ToPCM16(frame.Data, frame.Encoding)) >= d.Threshold
}
