package types

import "time"

// AudioEncoding names the byte layout of an audio frame.
type AudioEncoding string

const (
	EncodingMulaw AudioEncoding = "mulaw"
	EncodingPCM16 AudioEncoding = "pcm16"
)

// AudioFrame is one fixed-duration slice of call audio.
//
// Mark is set on the last outbound frame of an agent utterance; the transport
// forwards it to the call leg as a playback marker after the frame's audio.
type AudioFrame struct {
	Seq        int64         `json:"seq"`
	Data       []byte        `json:"-"`
	Encoding   AudioEncoding `json:"encoding"`
	SampleRate int           `json:"sample_rate"`
	Timestamp  time.Time     `json:"timestamp"`
	Mark       string        `json:"mark,omitempty"`
}

// EndsUtterance reports whether the frame is the last one of an utterance.
func (f AudioFrame) EndsUtterance() bool { return f.Mark != "" }

// Duration returns the playback length of the frame.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	samples := len(f.Data)
	if f.Encoding == EncodingPCM16 {
		samples /= 2
	}
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// TranscriptDelta is a piece of recognized speech for the current utterance.
type TranscriptDelta struct {
	Text       string  `json:"text"`
	Final      bool    `json:"final"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Role represents the speaker of a conversation entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)
