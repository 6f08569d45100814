package fixtures

import (
	"time"

	"github.com/BaSui01/callflow/session"
	"github.com/BaSui01/callflow/types"
)

// CompletedTurn 返回一个已完成的轮次
func CompletedTurn(seq int64, transcript, response string) *session.Turn {
	start := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC).Add(time.Duration(seq) * time.Minute)
	return &session.Turn{
		Seq:           seq,
		State:         session.TurnCompleted,
		Transcript:    transcript,
		Response:      response,
		STTProvider:   "deepgram",
		TTSProvider:   "elevenlabs",
		BytesIn:       4800,
		BytesOut:      9600,
		StartedAt:     start,
		TranscribedAt: start.Add(1200 * time.Millisecond),
		RespondedAt:   start.Add(2 * time.Second),
		EndedAt:       start.Add(4 * time.Second),
	}
}

// SimpleConversation 返回两轮对话的上下文条目
func SimpleConversation() []session.Entry {
	return []session.Entry{
		{Role: types.RoleUser, Text: "Hi, I ordered headphones last week.", Turn: 1},
		{Role: types.RoleAssistant, Text: "Sure, what seems to be the problem?", Turn: 1},
		{Role: types.RoleUser, Text: "The left side is silent.", Turn: 2},
		{Role: types.RoleAssistant, Text: "I'm sorry to hear that. I can open a claim for you.", Turn: 2},
	}
}
