package provider

import (
	"context"
	"errors"

	"github.com/BaSui01/callflow/types"
)

// Capability is the closed set of adapter variants.
type Capability string

const (
	CapabilitySTT       Capability = "stt"
	CapabilityTTS       Capability = "tts"
	CapabilityTelephony Capability = "telephony"
)

// ChunkKind tags what a Chunk carries.
type ChunkKind int

const (
	// ChunkAudio carries an audio frame (STT input, TTS output, telephony both ways).
	ChunkAudio ChunkKind = iota
	// ChunkText carries text to synthesize; Final marks the end of the utterance.
	ChunkText
	// ChunkTranscript carries a partial or final transcript delta.
	ChunkTranscript
	// ChunkFlush asks an STT stream to finalize whatever audio it holds.
	ChunkFlush
)

// Chunk is the unit moved through Stream.Push and Stream.Pull.
type Chunk struct {
	Kind       ChunkKind
	Audio      types.AudioFrame
	Text       string
	Final      bool
	Transcript types.TranscriptDelta
}

// AudioChunk wraps an audio frame.
func AudioChunk(frame types.AudioFrame) Chunk {
	return Chunk{Kind: ChunkAudio, Audio: frame}
}

// TextChunk wraps text for synthesis.
func TextChunk(text string, final bool) Chunk {
	return Chunk{Kind: ChunkText, Text: text, Final: final}
}

// TranscriptChunk wraps a transcript delta.
func TranscriptChunk(delta types.TranscriptDelta) Chunk {
	return Chunk{Kind: ChunkTranscript, Transcript: delta, Final: delta.Final}
}

// FlushChunk builds an end-of-utterance marker.
func FlushChunk() Chunk {
	return Chunk{Kind: ChunkFlush, Final: true}
}

// ErrBackpressure is returned by Stream.Push when the stream cannot accept
// more input right now.
var ErrBackpressure = errors.New("provider stream back-pressure")

// ErrStreamStopped is returned by Push after Stop.
var ErrStreamStopped = errors.New("provider stream stopped")

// Adapter wraps one external speech or telephony endpoint. Adapters are
// long-lived and shared by every session.
type Adapter interface {
	// Name identifies the adapter inside its pool.
	Name() string

	// Capability returns the adapter variant.
	Capability() Capability

	// Start opens a stream for one session.
	Start(ctx context.Context, sessionID string) (Stream, error)
}

// Stream is the per-session handle returned by Adapter.Start.
//
// Push never blocks: it accepts the chunk or returns ErrBackpressure. Pull
// blocks until a chunk is available, the stream ends (io.EOF) or ctx is done.
// Errors from Pull are *types.Error values with a provider error code.
type Stream interface {
	Push(chunk Chunk) error
	Pull(ctx context.Context) (Chunk, error)
	Stop() error
}

// HealthChecker is implemented by adapters that can check their upstream.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
