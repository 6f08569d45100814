package speech

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/callflow/audio"
	"github.com/BaSui01/callflow/provider"
	"github.com/BaSui01/callflow/types"
)

// maxUtteranceDuration bounds buffered audio per utterance.
const maxUtteranceDuration = 30 * time.Second

// transcribeFunc sends one complete utterance upstream.
type transcribeFunc func(ctx context.Context, data []byte, encoding types.AudioEncoding, sampleRate int) (types.TranscriptDelta, error)

// sttStream 累积一段话语的音频，收到 flush 后整段提交识别。
type sttStream struct {
	*jobStream
	transcribe transcribeFunc

	mu         sync.Mutex
	audio      []byte
	encoding   types.AudioEncoding
	sampleRate int
}

func newSTTStream(ctx context.Context, transcribe transcribeFunc) *sttStream {
	return &sttStream{
		jobStream:  newJobStream(ctx),
		transcribe: transcribe,
		encoding:   types.EncodingMulaw,
		sampleRate: 8000,
	}
}

func (s *sttStream) Push(c provider.Chunk) error {
	switch c.Kind {
	case provider.ChunkAudio:
		s.mu.Lock()
		defer s.mu.Unlock()
		enc, rate := s.encoding, s.sampleRate
		if len(s.audio) == 0 {
			// 首帧决定整段话语的编码与采样率
			if c.Audio.Encoding != "" {
				enc = c.Audio.Encoding
			}
			if c.Audio.SampleRate > 0 {
				rate = c.Audio.SampleRate
			}
		}
		if len(s.audio)+len(c.Audio.Data) > audio.FrameBytes(enc, rate, maxUtteranceDuration) {
			return provider.ErrBackpressure
		}
		s.encoding, s.sampleRate = enc, rate
		s.audio = append(s.audio, c.Audio.Data...)
		return nil

	case provider.ChunkFlush:
		s.mu.Lock()
		defer s.mu.Unlock()
		utterance, enc, rate := s.audio, s.encoding, s.sampleRate

		err := s.submit(func(ctx context.Context, emit func(provider.Chunk) error) error {
			if len(utterance) == 0 {
				return emit(provider.TranscriptChunk(types.TranscriptDelta{Final: true}))
			}
			delta, err := s.transcribe(ctx, utterance, enc, rate)
			if err != nil {
				return err
			}
			delta.Final = true
			return emit(provider.TranscriptChunk(delta))
		}, true)
		if err != nil {
			return err
		}
		s.audio = nil
		return nil

	default:
		return fmt.Errorf("stt stream does not accept chunk kind %d", c.Kind)
	}
}
