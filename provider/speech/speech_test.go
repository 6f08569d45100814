package speech

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/callflow/config"
	"github.com/BaSui01/callflow/internal/retry"
	"github.com/BaSui01/callflow/provider"
	"github.com/BaSui01/callflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryer() retry.Retryer {
	return retry.NewBackoffRetryer(&retry.RetryPolicy{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2,
		ShouldRetry:  types.IsTransient,
	}, nil)
}

func mulawFrame(seq int64) types.AudioFrame {
	data := make([]byte, 160)
	for i := range data {
		data[i] = 0x10
	}
	return types.AudioFrame{Seq: seq, Data: data, Encoding: types.EncodingMulaw, SampleRate: 8000}
}

func pullAll(t *testing.T, s provider.Stream) ([]provider.Chunk, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var chunks []provider.Chunk
	for {
		c, err := s.Pull(ctx)
		if err != nil {
			if err == io.EOF {
				return chunks, nil
			}
			return chunks, err
		}
		chunks = append(chunks, c)
	}
}

func TestDeepgramSTT_TranscribesUtterance(t *testing.T) {
	var gotBytes int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/listen", r.URL.Path)
		assert.Equal(t, "mulaw", r.URL.Query().Get("encoding"))
		assert.Equal(t, "8000", r.URL.Query().Get("sample_rate"))
		assert.Equal(t, "Token dg-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		gotBytes = len(body)
		_, _ = w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"hello","confidence":0.93}]}]}}`))
	}))
	defer srv.Close()

	cfg := config.DefaultProvidersConfig().Deepgram
	cfg.BaseURL = srv.URL
	cfg.APIKey = "dg-key"
	stt := NewDeepgramSTT(cfg, fastRetryer(), nil)

	stream, err := stt.Start(context.Background(), "s-1")
	require.NoError(t, err)
	defer stream.Stop()

	for i := int64(0); i < 3; i++ {
		require.NoError(t, stream.Push(provider.AudioChunk(mulawFrame(i))))
	}
	require.NoError(t, stream.Push(provider.FlushChunk()))
	assert.ErrorIs(t, stream.Push(provider.FlushChunk()), provider.ErrStreamStopped)

	chunks, err := pullAll(t, stream)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, provider.ChunkTranscript, chunks[0].Kind)
	assert.Equal(t, "hello", chunks[0].Transcript.Text)
	assert.True(t, chunks[0].Transcript.Final)
	assert.InDelta(t, 0.93, chunks[0].Transcript.Confidence, 1e-9)
	assert.Equal(t, 480, gotBytes)
}

func TestDeepgramSTT_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"ok"}]}]}}`))
	}))
	defer srv.Close()

	cfg := config.DefaultProvidersConfig().Deepgram
	cfg.BaseURL, cfg.APIKey = srv.URL, "k"
	stream, err := NewDeepgramSTT(cfg, fastRetryer(), nil).Start(context.Background(), "s-1")
	require.NoError(t, err)
	defer stream.Stop()

	require.NoError(t, stream.Push(provider.AudioChunk(mulawFrame(0))))
	require.NoError(t, stream.Push(provider.FlushChunk()))

	chunks, err := pullAll(t, stream)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "ok", chunks[0].Transcript.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeepgramSTT_FatalStatusIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"err_msg":"invalid credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := config.DefaultProvidersConfig().Deepgram
	cfg.BaseURL, cfg.APIKey = srv.URL, "bad"
	stream, err := NewDeepgramSTT(cfg, fastRetryer(), nil).Start(context.Background(), "s-1")
	require.NoError(t, err)
	defer stream.Stop()

	require.NoError(t, stream.Push(provider.AudioChunk(mulawFrame(0))))
	require.NoError(t, stream.Push(provider.FlushChunk()))

	_, err = pullAll(t, stream)
	require.Error(t, err)
	assert.True(t, types.IsFatal(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestSTTStream_EmptyUtteranceSkipsUpstream(t *testing.T) {
	called := false
	s := newSTTStream(context.Background(), func(context.Context, []byte, types.AudioEncoding, int) (types.TranscriptDelta, error) {
		called = true
		return types.TranscriptDelta{}, nil
	})
	defer s.Stop()

	require.NoError(t, s.Push(provider.FlushChunk()))
	chunks, err := pullAll(t, s)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Empty(t, chunks[0].Transcript.Text)
	assert.False(t, called)
}

func TestSTTStream_BackpressureOnOversizedUtterance(t *testing.T) {
	s := newSTTStream(context.Background(), nil)
	defer s.Stop()

	big := types.AudioFrame{Data: make([]byte, 30*8000), Encoding: types.EncodingMulaw, SampleRate: 8000}
	require.NoError(t, s.Push(provider.AudioChunk(big)))
	assert.ErrorIs(t, s.Push(provider.AudioChunk(mulawFrame(1))), provider.ErrBackpressure)
	assert.Error(t, s.Push(provider.TextChunk("nope", true)))
}

func TestSTTStream_UtteranceLimitFollowsFormat(t *testing.T) {
	tests := []struct {
		name       string
		encoding   types.AudioEncoding
		sampleRate int
		limit      int
	}{
		{"mulaw 8k", types.EncodingMulaw, 8000, 30 * 8000},
		{"pcm16 8k", types.EncodingPCM16, 8000, 30 * 8000 * 2},
		{"pcm16 16k", types.EncodingPCM16, 16000, 30 * 16000 * 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSTTStream(context.Background(), nil)
			defer s.Stop()

			frame := func(n int) types.AudioFrame {
				return types.AudioFrame{Data: make([]byte, n), Encoding: tt.encoding, SampleRate: tt.sampleRate}
			}
			require.NoError(t, s.Push(provider.AudioChunk(frame(tt.limit-2))))
			require.NoError(t, s.Push(provider.AudioChunk(frame(2))))
			assert.ErrorIs(t, s.Push(provider.AudioChunk(frame(2))), provider.ErrBackpressure)
		})
	}
}

func TestSTTStream_FailedFlushKeepsAudio(t *testing.T) {
	var got atomic.Int32
	s := newSTTStream(context.Background(), func(_ context.Context, data []byte, _ types.AudioEncoding, _ int) (types.TranscriptDelta, error) {
		got.Store(int32(len(data)))
		return types.TranscriptDelta{Text: "hello"}, nil
	})
	defer s.Stop()

	require.NoError(t, s.Push(provider.AudioChunk(mulawFrame(1))))
	require.NoError(t, s.Push(provider.AudioChunk(mulawFrame(2))))

	s.Stop()
	assert.ErrorIs(t, s.Push(provider.FlushChunk()), provider.ErrStreamStopped)

	s.mu.Lock()
	buffered := len(s.audio)
	s.mu.Unlock()
	assert.Equal(t, 320, buffered)
	assert.Zero(t, got.Load())
}

func TestSTTStream_FlushSubmitsWholeUtterance(t *testing.T) {
	var got atomic.Int32
	s := newSTTStream(context.Background(), func(_ context.Context, data []byte, enc types.AudioEncoding, rate int) (types.TranscriptDelta, error) {
		got.Store(int32(len(data)))
		return types.TranscriptDelta{Text: "hello"}, nil
	})
	defer s.Stop()

	require.NoError(t, s.Push(provider.AudioChunk(mulawFrame(1))))
	require.NoError(t, s.Push(provider.AudioChunk(mulawFrame(2))))
	require.NoError(t, s.Push(provider.FlushChunk()))

	chunks, err := pullAll(t, s)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello", chunks[0].Transcript.Text)
	assert.True(t, chunks[0].Transcript.Final)
	assert.EqualValues(t, 320, got.Load())

	s.mu.Lock()
	assert.Empty(t, s.audio)
	s.mu.Unlock()
}

func TestWhisperSTT_UploadsWAV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "utterance.wav", hdr.Filename)
		assert.Equal(t, "RIFF", string(data[:4]))
		assert.Equal(t, 44+320, len(data), "160 μ-law samples become 320 PCM bytes")

		_ = json.NewEncoder(w).Encode(map[string]string{"text": " hello there "})
	}))
	defer srv.Close()

	cfg := config.DefaultProvidersConfig().OpenAIWhisper
	cfg.BaseURL, cfg.APIKey = srv.URL, "sk-test"
	stream, err := NewWhisperSTT(cfg, fastRetryer(), nil).Start(context.Background(), "s-1")
	require.NoError(t, err)
	defer stream.Stop()

	require.NoError(t, stream.Push(provider.AudioChunk(mulawFrame(0))))
	require.NoError(t, stream.Push(provider.FlushChunk()))

	chunks, err := pullAll(t, stream)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello there", chunks[0].Transcript.Text)
}

func TestElevenLabsTTS_FramesUlawStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/voice-1/stream", r.URL.Path)
		assert.Equal(t, "ulaw_8000", r.URL.Query().Get("output_format"))
		assert.Equal(t, "xi-key", r.Header.Get("xi-api-key"))

		var req elevenLabsTTSRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hi there", req.Text)
		_, _ = w.Write(make([]byte, 400))
	}))
	defer srv.Close()

	cfg := config.DefaultProvidersConfig().ElevenLabs
	cfg.BaseURL, cfg.APIKey, cfg.VoiceID = srv.URL, "xi-key", "voice-1"
	stream, err := NewElevenLabsTTS(cfg, fastRetryer(), nil).Start(context.Background(), "s-1")
	require.NoError(t, err)
	defer stream.Stop()

	require.NoError(t, stream.Push(provider.TextChunk("hi there", true)))

	chunks, err := pullAll(t, stream)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	sizes := []int{160, 160, 80}
	for i, c := range chunks {
		assert.Equal(t, provider.ChunkAudio, c.Kind)
		assert.Equal(t, int64(i), c.Audio.Seq)
		assert.Len(t, c.Audio.Data, sizes[i])
		assert.Equal(t, types.EncodingMulaw, c.Audio.Encoding)
	}
}

func TestOpenAITTS_ResamplesPCMToMulaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAITTSRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "pcm", req.ResponseFormat)
		assert.Equal(t, "alloy", req.Voice)
		// 40ms of 24kHz PCM16
		_, _ = w.Write(make([]byte, 2*960))
	}))
	defer srv.Close()

	cfg := config.DefaultProvidersConfig().OpenAITTS
	cfg.BaseURL, cfg.APIKey = srv.URL, "sk"
	stream, err := NewOpenAITTS(cfg, fastRetryer(), nil).Start(context.Background(), "s-1")
	require.NoError(t, err)
	defer stream.Stop()

	require.NoError(t, stream.Push(provider.TextChunk("one", false)))
	require.NoError(t, stream.Push(provider.TextChunk("", true)))

	chunks, err := pullAll(t, stream)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.Len(t, c.Audio.Data, 160)
		assert.Equal(t, 8000, c.Audio.SampleRate)
	}
}

func TestAdapters_MissingAPIKeyIsFatal(t *testing.T) {
	defaults := config.DefaultProvidersConfig()
	adapters := []provider.Adapter{
		NewDeepgramSTT(defaults.Deepgram, nil, nil),
		NewWhisperSTT(defaults.OpenAIWhisper, nil, nil),
		NewElevenLabsTTS(defaults.ElevenLabs, nil, nil),
		NewOpenAITTS(defaults.OpenAITTS, nil, nil),
	}
	for _, a := range adapters {
		t.Run(a.Name(), func(t *testing.T) {
			_, err := a.Start(context.Background(), "s-1")
			assert.True(t, types.IsFatal(err))
			assert.True(t, types.IsFatal(a.(provider.HealthChecker).HealthCheck(context.Background())))
		})
	}
}

func TestHealthCheck_ClassifiesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/v1/models") {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	tts := config.DefaultProvidersConfig().OpenAITTS
	tts.BaseURL, tts.APIKey = srv.URL, "sk"
	assert.True(t, types.IsTransient(NewOpenAITTS(tts, nil, nil).HealthCheck(context.Background())))

	dg := config.DefaultProvidersConfig().Deepgram
	dg.BaseURL, dg.APIKey = srv.URL, "k"
	assert.NoError(t, NewDeepgramSTT(dg, nil, nil).HealthCheck(context.Background()))
}

func TestJobStream_StopCancelsInflight(t *testing.T) {
	started := make(chan struct{})
	s := newTTSStream(context.Background(), "slow", func(ctx context.Context, text string) (io.ReadCloser, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, s.Push(provider.TextChunk("hello", true)))
	<-started

	done := make(chan struct{})
	go func() {
		_ = s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}

	_, err := s.Pull(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, s.Push(provider.TextChunk("again", true)), provider.ErrStreamStopped)
}

func TestBuildRegistry(t *testing.T) {
	reg, err := BuildRegistry(config.DefaultProvidersConfig(), nil)
	require.NoError(t, err)

	snap := reg.Snapshot()
	require.Len(t, snap[provider.CapabilitySTT], 2)
	assert.Equal(t, "deepgram", snap[provider.CapabilitySTT][0].Name)
	assert.Equal(t, "openai_whisper", snap[provider.CapabilitySTT][1].Name)
	require.Len(t, snap[provider.CapabilityTTS], 2)
	assert.Equal(t, "elevenlabs", snap[provider.CapabilityTTS][0].Name)

	cfg := config.DefaultProvidersConfig()
	cfg.OpenAIWhisper.Priority = -1
	reg, err = BuildRegistry(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai_whisper", reg.Snapshot()[provider.CapabilitySTT][0].Name)

	cfg = config.DefaultProvidersConfig()
	cfg.Deepgram.Enabled = false
	cfg.OpenAIWhisper.Enabled = false
	_, err = BuildRegistry(cfg, nil)
	assert.Error(t, err)
}
