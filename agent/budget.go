package agent

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// 模型到 tiktoken 编码的映射，未知模型按前缀匹配，兜底 cl100k_base。
var modelEncodings = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4.1":       "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

func encodingFor(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	best := ""
	for prefix := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		return modelEncodings[best]
	}
	return "cl100k_base"
}

// TokenCounter counts the tokens of a text.
type TokenCounter func(text string) int

// EstimateTokens 在编码不可用时按 4 字符 ≈ 1 Token 粗略估算。
func EstimateTokens(text string) int {
	n := len([]rune(text))
	return (n + 3) / 4
}

// Budget 负责把对话消息裁剪到 Token 预算之内。
type Budget struct {
	model    string
	encoding string
	limit    int
	logger   *zap.Logger

	once  sync.Once
	count TokenCounter
}

// NewBudget creates a budget for model. A limit <= 0 disables trimming.
func NewBudget(model string, limit int, logger *zap.Logger) *Budget {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Budget{
		model:    model,
		encoding: encodingFor(model),
		limit:    limit,
		logger:   logger,
	}
}

// WithCounter replaces the tokenizer. Used when the BPE files cannot be loaded.
func (b *Budget) WithCounter(count TokenCounter) *Budget {
	b.once.Do(func() {})
	b.count = count
	return b
}

// init lazily 初始化 tiktoken 编码（首次使用时可能下载数据）。
func (b *Budget) init() {
	b.once.Do(func() {
		enc, err := tiktoken.GetEncoding(b.encoding)
		if err != nil {
			b.logger.Warn("tiktoken unavailable, falling back to estimate",
				zap.String("encoding", b.encoding),
				zap.Error(err))
			b.count = EstimateTokens
			return
		}
		b.count = func(text string) int {
			return len(enc.Encode(text, nil, nil))
		}
	})
}

// Encoding returns the tiktoken encoding name used for the model.
func (b *Budget) Encoding() string { return b.encoding }

// CountMessages 计算消息总 Token 数：每条消息 4 个开销 + 角色 + 内容，末尾 3 个。
func (b *Budget) CountMessages(messages []chatMessage) int {
	b.init()
	total := 0
	for _, m := range messages {
		total += b.messageTokens(m)
	}
	return total + 3
}

func (b *Budget) messageTokens(m chatMessage) int {
	n := 4 + b.count(m.Role) + b.count(m.Content)
	for _, tc := range m.ToolCalls {
		n += b.count(tc.Function.Name) + b.count(string(tc.Function.Arguments))
	}
	return n
}

// Trim 丢弃最早的历史消息直到总量不超过预算。
// messages[0] 为系统提示，最后一条为当前用户话语，两者始终保留。
func (b *Budget) Trim(messages []chatMessage) ([]chatMessage, error) {
	if b.limit <= 0 || len(messages) <= 2 {
		return messages, nil
	}
	b.init()

	sizes := make([]int, len(messages))
	total := 3
	for i, m := range messages {
		sizes[i] = b.messageTokens(m)
		total += sizes[i]
	}
	if total <= b.limit {
		return messages, nil
	}

	fixed := 3 + sizes[0] + sizes[len(sizes)-1]
	if fixed > b.limit {
		return nil, fmt.Errorf("prompt needs %d tokens, budget is %d", fixed, b.limit)
	}

	drop := 1
	for ; drop < len(messages)-1 && total > b.limit; drop++ {
		total -= sizes[drop]
	}
	// 不从一条 assistant tool_calls 与其 tool 结果之间截断
	for drop < len(messages)-1 && messages[drop].Role == "tool" {
		drop++
	}

	b.logger.Debug("trimmed conversation history",
		zap.Int("dropped", drop-1),
		zap.Int("limit", b.limit))

	out := make([]chatMessage, 0, len(messages)-drop+1)
	out = append(out, messages[0])
	out = append(out, messages[drop:]...)
	return out, nil
}
