package audio

import (
	"time"

	"github.com/BaSui01/callflow/types"
)

// FrameBytes returns the byte size of one frame of the given duration.
func FrameBytes(encoding types.AudioEncoding, sampleRate int, d time.Duration) int {
	samples := int(int64(sampleRate) * int64(d) / int64(time.Second))
	if encoding == types.EncodingPCM16 {
		return samples * 2
	}
	return samples
}

// SplitFrames cuts data into frames of size bytes; the last frame may be short.
func SplitFrames(data []byte, size int) [][]byte {
	if size <= 0 || len(data) == 0 {
		return nil
	}
	frames := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > 0 {
		n := size
		if len(data) < n {
			n = len(data)
		}
		frame := make([]byte, n)
		copy(frame, data[:n])
		frames = append(frames, frame)
		data = data[n:]
	}
	return frames
}
