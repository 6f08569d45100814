package session

import (
	"fmt"
	"time"
)

// TurnState 轮次状态
type TurnState string

const (
	TurnListening    TurnState = "listening"
	TurnTranscribing TurnState = "transcribing"
	TurnReasoning    TurnState = "reasoning"
	TurnSynthesizing TurnState = "synthesizing"
	TurnCompleted    TurnState = "completed"
	TurnAborted      TurnState = "aborted"
)

var turnOrder = map[TurnState]TurnState{
	TurnListening:    TurnTranscribing,
	TurnTranscribing: TurnReasoning,
	TurnReasoning:    TurnSynthesizing,
	TurnSynthesizing: TurnCompleted,
}

// Terminal reports whether the turn can no longer change.
func (s TurnState) Terminal() bool {
	return s == TurnCompleted || s == TurnAborted
}

// Turn 一次“来电者话语 → Agent 回复”的循环。
type Turn struct {
	Seq         int64     `json:"seq"`
	State       TurnState `json:"state"`
	Transcript  string    `json:"transcript"`
	Response    string    `json:"response"`
	Fallback    bool      `json:"fallback,omitempty"` // Response 是兜底话术而非 Agent 回复
	AbortReason string    `json:"abort_reason,omitempty"`
	STTProvider string    `json:"stt_provider,omitempty"`
	TTSProvider string    `json:"tts_provider,omitempty"`
	BytesIn     int64     `json:"bytes_in"`
	BytesOut    int64     `json:"bytes_out"`

	StartedAt     time.Time `json:"started_at"`
	TranscribedAt time.Time `json:"transcribed_at,omitempty"`
	RespondedAt   time.Time `json:"responded_at,omitempty"`
	EndedAt       time.Time `json:"ended_at,omitempty"`
}

// Advance moves the turn to the next stage; stages cannot be skipped.
func (t *Turn) Advance(to TurnState, now time.Time) error {
	if t.State.Terminal() {
		return fmt.Errorf("turn %d is already %s", t.Seq, t.State)
	}
	if to == TurnAborted {
		return fmt.Errorf("use Abort to abort turn %d", t.Seq)
	}
	if turnOrder[t.State] != to {
		return fmt.Errorf("turn %d cannot move from %s to %s", t.Seq, t.State, to)
	}
	t.State = to
	switch to {
	case TurnReasoning:
		t.TranscribedAt = now
	case TurnSynthesizing:
		t.RespondedAt = now
	case TurnCompleted:
		t.EndedAt = now
	}
	return nil
}

// Abort ends the turn without adding it to the conversation.
func (t *Turn) Abort(reason string, now time.Time) error {
	if t.State.Terminal() {
		return fmt.Errorf("turn %d is already %s", t.Seq, t.State)
	}
	t.State = TurnAborted
	t.AbortReason = reason
	t.EndedAt = now
	return nil
}

// Latency returns the time from end of transcription to first response.
func (t *Turn) Latency() time.Duration {
	if t.TranscribedAt.IsZero() || t.RespondedAt.IsZero() {
		return 0
	}
	return t.RespondedAt.Sub(t.TranscribedAt)
}
