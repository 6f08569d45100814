// MockSTT / MockTTS 是语音供应商适配器的测试模拟实现。
//
// 支持固定转写、合成帧数、启动失败、流中途失败与阻塞启动等场景。
package mocks

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/callflow/provider"
	"github.com/BaSui01/callflow/types"
)

// ErrMockStream 是模拟流注入的默认错误
var ErrMockStream = errors.New("mock stream failure")

// --- MockSTT ---

// MockSTT 是 STT 适配器的模拟实现。收到 flush 后输出 final 转写并结束流。
type MockSTT struct {
	name string

	mu            sync.RWMutex
	transcript    string
	partials      []string
	startErr      error
	streamErr     error
	blockingStart bool
	withholdFinal bool

	starts atomic.Int64
	frames atomic.Int64
	flushs atomic.Int64
}

// NewMockSTT 创建新的 MockSTT，默认转写为 "hello"
func NewMockSTT(name string) *MockSTT {
	return &MockSTT{name: name, transcript: "hello"}
}

// WithTranscript 设置 final 转写文本
func (m *MockSTT) WithTranscript(text string) *MockSTT {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcript = text
	return m
}

// WithPartials 设置收到第一帧后输出的 partial 转写
func (m *MockSTT) WithPartials(partials ...string) *MockSTT {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.partials = partials
	return m
}

// WithStartError 让 Start 返回 err
func (m *MockSTT) WithStartError(err error) *MockSTT {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
	return m
}

// WithStreamError 让流在收到第一帧后通过 Pull 返回 err
func (m *MockSTT) WithStreamError(err error) *MockSTT {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamErr = err
	return m
}

// WithBlockingStart 让 Start 阻塞直到 ctx 结束
func (m *MockSTT) WithBlockingStart() *MockSTT {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockingStart = true
	return m
}

// WithoutFinal 让流在 flush 后不再输出任何结果
func (m *MockSTT) WithoutFinal() *MockSTT {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.withholdFinal = true
	return m
}

// Name implements provider.Adapter.
func (m *MockSTT) Name() string { return m.name }

// Capability implements provider.Adapter.
func (m *MockSTT) Capability() provider.Capability { return provider.CapabilitySTT }

// Start implements provider.Adapter.
func (m *MockSTT) Start(ctx context.Context, sessionID string) (provider.Stream, error) {
	m.starts.Add(1)
	m.mu.RLock()
	startErr, blocking := m.startErr, m.blockingStart
	m.mu.RUnlock()

	if blocking {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if startErr != nil {
		return nil, startErr
	}
	return &mockSTTStream{
		owner:   m,
		out:     make(chan provider.Chunk, 64),
		errc:    make(chan error, 1),
		stopped: make(chan struct{}),
	}, nil
}

// Starts 返回 Start 被调用的次数
func (m *MockSTT) Starts() int { return int(m.starts.Load()) }

// Frames 返回所有流收到的音频帧总数
func (m *MockSTT) Frames() int { return int(m.frames.Load()) }

// Flushes 返回收到的 flush 次数
func (m *MockSTT) Flushes() int { return int(m.flushs.Load()) }

type mockSTTStream struct {
	owner   *MockSTT
	out     chan provider.Chunk
	errc    chan error
	stopped chan struct{}

	mu       sync.Mutex
	frames   int
	finished bool
	halted   bool
	stopOnce sync.Once
}

func (s *mockSTTStream) Push(chunk provider.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return provider.ErrStreamStopped
	}
	if s.finished {
		return nil
	}

	s.owner.mu.RLock()
	transcript, partials := s.owner.transcript, s.owner.partials
	streamErr, withhold := s.owner.streamErr, s.owner.withholdFinal
	s.owner.mu.RUnlock()

	switch chunk.Kind {
	case provider.ChunkAudio:
		s.frames++
		s.owner.frames.Add(1)
		if streamErr != nil {
			s.finished = true
			s.errc <- streamErr
			return nil
		}
		if s.frames == 1 {
			for _, p := range partials {
				s.out <- provider.TranscriptChunk(types.TranscriptDelta{Text: p})
			}
		}
	case provider.ChunkFlush:
		s.owner.flushs.Add(1)
		if withhold {
			return nil
		}
		s.finished = true
		s.out <- provider.TranscriptChunk(types.TranscriptDelta{Text: transcript, Final: true, Confidence: 0.98})
		close(s.out)
	}
	return nil
}

func (s *mockSTTStream) Pull(ctx context.Context) (provider.Chunk, error) {
	select {
	case err := <-s.errc:
		return provider.Chunk{}, err
	case c, ok := <-s.out:
		if !ok {
			return provider.Chunk{}, io.EOF
		}
		return c, nil
	case <-s.stopped:
		return provider.Chunk{}, io.EOF
	case <-ctx.Done():
		return provider.Chunk{}, ctx.Err()
	}
}

func (s *mockSTTStream) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.halted = true
		s.mu.Unlock()
		close(s.stopped)
	})
	return nil
}

// --- MockTTS ---

// MockTTS 是 TTS 适配器的模拟实现。每段文本输出固定数量的音频帧。
type MockTTS struct {
	name string

	mu         sync.RWMutex
	frames     int
	frameDelay time.Duration
	startErr   error
	streamErr  error
	failAfter  int
	texts      []string

	starts atomic.Int64
}

// NewMockTTS 创建新的 MockTTS，默认每段输出 2 帧
func NewMockTTS(name string) *MockTTS {
	return &MockTTS{name: name, frames: 2, failAfter: -1}
}

// WithFrames 设置每段文本输出的帧数
func (m *MockTTS) WithFrames(n int) *MockTTS {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = n
	return m
}

// WithFrameDelay 设置相邻两帧之间的延迟
func (m *MockTTS) WithFrameDelay(d time.Duration) *MockTTS {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frameDelay = d
	return m
}

// WithStartError 让 Start 返回 err
func (m *MockTTS) WithStartError(err error) *MockTTS {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
	return m
}

// WithStreamError 让流输出 after 帧后返回 err
func (m *MockTTS) WithStreamError(err error, after int) *MockTTS {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamErr = err
	m.failAfter = after
	return m
}

// Name implements provider.Adapter.
func (m *MockTTS) Name() string { return m.name }

// Capability implements provider.Adapter.
func (m *MockTTS) Capability() provider.Capability { return provider.CapabilityTTS }

// Start implements provider.Adapter.
func (m *MockTTS) Start(ctx context.Context, sessionID string) (provider.Stream, error) {
	m.starts.Add(1)
	m.mu.RLock()
	startErr := m.startErr
	m.mu.RUnlock()
	if startErr != nil {
		return nil, startErr
	}
	return &mockTTSStream{owner: m, out: make(chan provider.Chunk, 64), stopped: make(chan struct{})}, nil
}

// Starts 返回 Start 被调用的次数
func (m *MockTTS) Starts() int { return int(m.starts.Load()) }

// Texts 返回收到的全部合成文本
func (m *MockTTS) Texts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.texts))
	copy(out, m.texts)
	return out
}

type mockTTSStream struct {
	owner   *MockTTS
	out     chan provider.Chunk
	stopped chan struct{}

	mu       sync.Mutex
	started  bool
	halted   bool
	fail     error
	stopOnce sync.Once
}

func (s *mockTTSStream) Push(chunk provider.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		return provider.ErrStreamStopped
	}
	if chunk.Kind != provider.ChunkText || s.started {
		return nil
	}
	s.started = true

	s.owner.mu.Lock()
	s.owner.texts = append(s.owner.texts, chunk.Text)
	frames, delay := s.owner.frames, s.owner.frameDelay
	streamErr, failAfter := s.owner.streamErr, s.owner.failAfter
	s.owner.mu.Unlock()

	go s.generate(frames, delay, streamErr, failAfter)
	return nil
}

func (s *mockTTSStream) generate(frames int, delay time.Duration, streamErr error, failAfter int) {
	defer close(s.out)
	for i := 0; i < frames; i++ {
		if streamErr != nil && i == failAfter {
			s.mu.Lock()
			s.fail = streamErr
			s.mu.Unlock()
			return
		}
		if delay > 0 && i > 0 {
			select {
			case <-time.After(delay):
			case <-s.stopped:
				return
			}
		}
		data := make([]byte, 160)
		for j := range data {
			data[j] = byte(i + 1)
		}
		frame := types.AudioFrame{Seq: int64(i + 1), Data: data, Encoding: types.EncodingMulaw, SampleRate: 8000}
		select {
		case s.out <- provider.AudioChunk(frame):
		case <-s.stopped:
			return
		}
	}
	if streamErr != nil && failAfter >= frames {
		s.mu.Lock()
		s.fail = streamErr
		s.mu.Unlock()
	}
}

func (s *mockTTSStream) Pull(ctx context.Context) (provider.Chunk, error) {
	select {
	case c, ok := <-s.out:
		if !ok {
			s.mu.Lock()
			err := s.fail
			s.mu.Unlock()
			if err != nil {
				return provider.Chunk{}, err
			}
			return provider.Chunk{}, io.EOF
		}
		return c, nil
	case <-s.stopped:
		return provider.Chunk{}, io.EOF
	case <-ctx.Done():
		return provider.Chunk{}, ctx.Err()
	}
}

func (s *mockTTSStream) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.halted = true
		s.mu.Unlock()
		close(s.stopped)
	})
	return nil
}
