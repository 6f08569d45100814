package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BaSui01/callflow/audio"
	"github.com/BaSui01/callflow/provider"
	"github.com/BaSui01/callflow/types"
)

const (
	outputSampleRate = 8000
	outputFrame      = 20 * time.Millisecond
)

// synthesizeFunc returns a reader of μ-law 8kHz audio for text.
type synthesizeFunc func(ctx context.Context, text string) (io.ReadCloser, error)

// ttsStream 每个文本块提交一次合成，输出按帧切分的 μ-law 音频。
type ttsStream struct {
	*jobStream
	name       string
	synthesize synthesizeFunc
	seq        int64
}

func newTTSStream(ctx context.Context, name string, synthesize synthesizeFunc) *ttsStream {
	return &ttsStream{
		jobStream:  newJobStream(ctx),
		name:       name,
		synthesize: synthesize,
	}
}

func (s *ttsStream) Push(c provider.Chunk) error {
	if c.Kind != provider.ChunkText {
		return fmt.Errorf("tts stream does not accept chunk kind %d", c.Kind)
	}
	text := strings.TrimSpace(c.Text)
	if text == "" {
		if !c.Final {
			return nil
		}
		return s.submit(func(context.Context, func(provider.Chunk) error) error { return nil }, true)
	}
	return s.submit(func(ctx context.Context, emit func(provider.Chunk) error) error {
		return s.speak(ctx, text, emit)
	}, c.Final)
}

func (s *ttsStream) speak(ctx context.Context, text string, emit func(provider.Chunk) error) error {
	rc, err := s.synthesize(ctx, text)
	if err != nil {
		return err
	}
	defer rc.Close()

	size := audio.FrameBytes(types.EncodingMulaw, outputSampleRate, outputFrame)
	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(rc, buf)
		if n > 0 {
			frame := types.AudioFrame{
				Seq:        s.seq,
				Data:       buf[:n],
				Encoding:   types.EncodingMulaw,
				SampleRate: outputSampleRate,
				Timestamp:  time.Now(),
			}
			s.seq++
			if emitErr := emit(provider.AudioChunk(frame)); emitErr != nil {
				return emitErr
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return requestError(ctx, s.name, err)
		}
	}
}

// pcmToMulaw 把 PCM16 流重采样到 8kHz 并编码为 μ-law。
type pcmToMulaw struct {
	src  io.ReadCloser
	from int
	in   []byte
	out  []byte
	err  error
}

func newPCMToMulaw(src io.ReadCloser, sampleRate int) *pcmToMulaw {
	// 每次读取 20ms 的输入，保证重采样块大小为整数帧
	size := audio.FrameBytes(types.EncodingPCM16, sampleRate, outputFrame)
	return &pcmToMulaw{src: src, from: sampleRate, in: make([]byte, size)}
}

func (r *pcmToMulaw) Read(p []byte) (int, error) {
	for len(r.out) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		n, err := io.ReadFull(r.src, r.in)
		if n > 0 {
			pcm := audio.ResamplePCM16(r.in[:n-n%2], r.from, outputSampleRate)
			r.out = audio.EncodeMulaw(pcm)
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = io.EOF
			}
			r.err = err
		}
	}
	n := copy(p, r.out)
	r.out = r.out[n:]
	return n, nil
}

func (r *pcmToMulaw) Close() error { return r.src.Close() }
