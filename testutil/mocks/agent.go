package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/callflow/agent"
	"github.com/BaSui01/callflow/session"
	"github.com/BaSui01/callflow/types"
)

// MockAgentCall 记录单次 Invoke 调用
type MockAgentCall struct {
	Utterance    string
	Conversation []session.Entry
	Tools        []string
	Deadline     time.Time
}

// MockAgent 是 agent.Capability 的模拟实现
type MockAgent struct {
	mu           sync.RWMutex
	reply        string
	err          error
	delay        time.Duration
	ignoreCancel bool
	replyFunc    func(utterance string) (string, error)
	calls        []MockAgentCall
}

var _ agent.Capability = (*MockAgent)(nil)

// NewMockAgent 创建新的 MockAgent，默认回复 "hi there"
func NewMockAgent() *MockAgent {
	return &MockAgent{reply: "hi there"}
}

// WithReply 设置固定回复
func (m *MockAgent) WithReply(reply string) *MockAgent {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply = reply
	return m
}

// WithError 设置返回错误
func (m *MockAgent) WithError(err error) *MockAgent {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay 设置回复延迟；超过 ctx 截止时间时返回 AgentTimeout
func (m *MockAgent) WithDelay(d time.Duration) *MockAgent {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithIgnoreCancel 让延迟无视 ctx，模拟迟到的回复
func (m *MockAgent) WithIgnoreCancel() *MockAgent {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ignoreCancel = true
	return m
}

// WithReplyFunc 按话语动态生成回复
func (m *MockAgent) WithReplyFunc(fn func(utterance string) (string, error)) *MockAgent {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replyFunc = fn
	return m
}

// Invoke implements agent.Capability.
func (m *MockAgent) Invoke(ctx context.Context, conversation []session.Entry, utterance string, tools []agent.Tool) (string, error) {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	deadline, _ := ctx.Deadline()

	m.mu.Lock()
	m.calls = append(m.calls, MockAgentCall{
		Utterance:    utterance,
		Conversation: conversation,
		Tools:        names,
		Deadline:     deadline,
	})
	reply, err, delay, ignore, fn := m.reply, m.err, m.delay, m.ignoreCancel, m.replyFunc
	m.mu.Unlock()

	if delay > 0 {
		if ignore {
			time.Sleep(delay)
		} else {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", types.NewAgentError(types.AgentTimeout, ctx.Err())
			}
		}
	}
	if fn != nil {
		return fn(utterance)
	}
	return reply, err
}

// Calls 返回全部调用记录
func (m *MockAgent) Calls() []MockAgentCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MockAgentCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount 返回调用次数
func (m *MockAgent) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}
