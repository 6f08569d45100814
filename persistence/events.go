package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/callflow/session"
)

// EventType 事件类型
type EventType string

const (
	EventTurnCompleted EventType = "turn_completed"
	EventSessionEnded  EventType = "session_ended"
)

// TurnCompleted 是一轮完成后发往外部存储的事件。
type TurnCompleted struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	CallSID       string    `json:"call_sid,omitempty"`
	Turn          int64     `json:"turn"`
	Transcript    string    `json:"transcript"`
	Response      string    `json:"response"`
	STTProvider   string    `json:"stt_provider,omitempty"`
	TTSProvider   string    `json:"tts_provider,omitempty"`
	BytesIn       int64     `json:"bytes_in"`
	BytesOut      int64     `json:"bytes_out"`
	StartedAt     time.Time `json:"started_at"`
	TranscribedAt time.Time `json:"transcribed_at"`
	RespondedAt   time.Time `json:"responded_at"`
	EndedAt       time.Time `json:"ended_at"`
}

// NewTurnCompleted builds the event for a completed turn.
func NewTurnCompleted(sessionID, callSID string, t *session.Turn) TurnCompleted {
	return TurnCompleted{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		CallSID:       callSID,
		Turn:          t.Seq,
		Transcript:    t.Transcript,
		Response:      t.Response,
		STTProvider:   t.STTProvider,
		TTSProvider:   t.TTSProvider,
		BytesIn:       t.BytesIn,
		BytesOut:      t.BytesOut,
		StartedAt:     t.StartedAt,
		TranscribedAt: t.TranscribedAt,
		RespondedAt:   t.RespondedAt,
		EndedAt:       t.EndedAt,
	}
}

// SessionEnded 是会话结束时的汇总事件。
type SessionEnded struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	CallSID       string    `json:"call_sid,omitempty"`
	Reason        string    `json:"reason"`
	Turns         int64     `json:"turns"`
	Completed     int64     `json:"completed"`
	InboundDrops  int64     `json:"inbound_drops"`
	OutboundDrops int64     `json:"outbound_drops"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
}

// Event 是投递给 Sink 的统一载体，二者恰有一个非空。
type Event struct {
	Type    EventType      `json:"type"`
	Turn    *TurnCompleted `json:"turn,omitempty"`
	Session *SessionEnded  `json:"session,omitempty"`
}

// Key returns the idempotency key of the event.
func (e Event) Key() string {
	switch {
	case e.Turn != nil:
		return e.Turn.ID
	case e.Session != nil:
		return e.Session.ID
	default:
		return ""
	}
}

// SessionID returns the session the event belongs to.
func (e Event) SessionID() string {
	switch {
	case e.Turn != nil:
		return e.Turn.SessionID
	case e.Session != nil:
		return e.Session.SessionID
	default:
		return ""
	}
}

// Sink 把事件写入外部存储。实现必须对重复投递保持幂等（按 Event.Key）。
type Sink interface {
	Name() string
	Write(ctx context.Context, ev Event) error
	Close(ctx context.Context) error
}

// Pinger 由能探测后端连通性的 Sink 实现，用于就绪检查。
type Pinger interface {
	Ping(ctx context.Context) error
}

// Publisher 是编排器看到的持久化协作方，调用方不会被阻塞。
type Publisher interface {
	PublishTurn(ev TurnCompleted)
	PublishSessionEnded(ev SessionEnded)
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) PublishTurn(TurnCompleted) {}
func (NopPublisher) PublishSessionEnded(SessionEnded) {}
