package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/callflow/types"
)

// Entry 对话上下文中的一条发言。
type Entry struct {
	Role      types.Role `json:"role"`
	Text      string     `json:"text"`
	Turn      int64      `json:"turn"`
	Timestamp time.Time  `json:"timestamp"`
}

// ConversationContext 按顺序保存已完成轮次的发言。
// 编排协程追加，Agent 调用并发读取。
type ConversationContext struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewConversationContext creates an empty context.
func NewConversationContext() *ConversationContext {
	return &ConversationContext{}
}

// AppendTurn 把已完成轮次的用户话语与 Agent 回复追加到上下文。
func (c *ConversationContext) AppendTurn(t *Turn) error {
	if t.State != TurnCompleted {
		return fmt.Errorf("turn %d is %s, only completed turns enter the context", t.Seq, t.State)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.entries); n > 0 && c.entries[n-1].Turn >= t.Seq {
		return fmt.Errorf("turn %d appended after turn %d", t.Seq, c.entries[n-1].Turn)
	}
	c.entries = append(c.entries,
		Entry{Role: types.RoleUser, Text: t.Transcript, Turn: t.Seq, Timestamp: t.TranscribedAt},
		Entry{Role: types.RoleAssistant, Text: t.Response, Turn: t.Seq, Timestamp: t.EndedAt},
	)
	return nil
}

// Entries returns a copy of the context.
func (c *ConversationContext) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of entries.
func (c *ConversationContext) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
