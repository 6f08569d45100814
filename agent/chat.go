// =============================================================================
// CallFlow OpenAI 兼容对话 Agent
// =============================================================================
// 通过 /v1/chat/completions 调用模型，支持多轮工具调用
// =============================================================================

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/callflow/config"
	"github.com/BaSui01/callflow/internal/ctxkeys"
	"github.com/BaSui01/callflow/internal/tlsutil"
	"github.com/BaSui01/callflow/session"
	"github.com/BaSui01/callflow/types"
	"go.uber.org/zap"
)

const chatEndpoint = "/v1/chat/completions"

// ErrToolRoundsExceeded 模型在允许的轮数内没有给出最终回复。
var ErrToolRoundsExceeded = errors.New("agent exceeded tool rounds")

// chatMessage 是 OpenAI 兼容接口的消息结构。
type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type toolSpec struct {
	Type     string       `json:"type"`
	Function functionSpec `json:"function"`
}

type functionSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []toolSpec    `json:"tools,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Index        int         `json:"index"`
		FinishReason string      `json:"finish_reason"`
		Message      chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// ChatAgent 是基于 OpenAI 兼容接口的 Capability 实现。
type ChatAgent struct {
	cfg    config.AgentConfig
	client *http.Client
	budget *Budget
	logger *zap.Logger
}

// ChatOption configures a ChatAgent.
type ChatOption func(*ChatAgent)

// WithHTTPClient replaces the hardened default client.
func WithHTTPClient(client *http.Client) ChatOption {
	return func(a *ChatAgent) { a.client = client }
}

// WithBudget replaces the token budget.
func WithBudget(b *Budget) ChatOption {
	return func(a *ChatAgent) { a.budget = b }
}

// NewChatAgent creates a chat agent from configuration.
func NewChatAgent(cfg config.AgentConfig, logger *zap.Logger, opts ...ChatOption) *ChatAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 1
	}
	a := &ChatAgent{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
		logger: logger.With(zap.String("component", "chat_agent")),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.budget == nil {
		a.budget = NewBudget(cfg.Model, cfg.MaxContextTokens, a.logger)
	}
	return a
}

// Invoke 把对话上下文与当前话语发送给模型，必要时执行工具调用，返回最终回复文本。
func (a *ChatAgent) Invoke(ctx context.Context, conversation []session.Entry, utterance string, tools []Tool) (string, error) {
	messages := a.buildMessages(conversation, utterance)
	messages, err := a.budget.Trim(messages)
	if err != nil {
		return "", types.NewAgentError(types.AgentInvocationFailure, err)
	}

	byName := make(map[string]Tool, len(tools))
	specs := make([]toolSpec, 0, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
		specs = append(specs, toolSpec{
			Type: "function",
			Function: functionSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	for round := 0; round <= a.cfg.MaxToolRounds; round++ {
		req := chatRequest{
			Model:       a.cfg.Model,
			Messages:    messages,
			MaxTokens:   a.cfg.MaxTokens,
			Temperature: a.cfg.Temperature,
		}
		// 最后一轮不再提供工具，迫使模型给出文字回复
		if round < a.cfg.MaxToolRounds {
			req.Tools = specs
		}

		reply, err := a.complete(ctx, req)
		if err != nil {
			return "", err
		}
		if len(reply.ToolCalls) == 0 {
			return strings.TrimSpace(reply.Content), nil
		}

		messages = append(messages, reply)
		for _, tc := range reply.ToolCalls {
			result := a.runTool(ctx, byName, tc)
			messages = append(messages, chatMessage{
				Role:       string(types.RoleTool),
				Content:    result,
				Name:       tc.Function.Name,
				ToolCallID: tc.ID,
			})
		}
	}

	return "", types.NewAgentError(types.AgentInvocationFailure, ErrToolRoundsExceeded)
}

func (a *ChatAgent) buildMessages(conversation []session.Entry, utterance string) []chatMessage {
	messages := make([]chatMessage, 0, len(conversation)+2)
	messages = append(messages, chatMessage{Role: string(types.RoleSystem), Content: a.cfg.SystemPrompt})
	for _, e := range conversation {
		messages = append(messages, chatMessage{Role: string(e.Role), Content: e.Text})
	}
	return append(messages, chatMessage{Role: string(types.RoleUser), Content: utterance})
}

func (a *ChatAgent) runTool(ctx context.Context, byName map[string]Tool, tc toolCall) string {
	t, ok := byName[tc.Function.Name]
	if !ok {
		a.logger.Warn("model requested unknown tool", zap.String("tool", tc.Function.Name))
		return errorResult(fmt.Errorf("unknown tool %q", tc.Function.Name))
	}
	args := normalizeArguments(tc.Function.Arguments)
	start := time.Now()
	result := t.Call(ctx, args)

	fields := []zap.Field{zap.String("tool", t.Name), zap.Duration("latency", time.Since(start))}
	if id, ok := ctxkeys.SessionID(ctx); ok {
		fields = append(fields, zap.String("session_id", id))
	}
	if seq, ok := ctxkeys.Turn(ctx); ok {
		fields = append(fields, zap.Int64("turn", seq))
	}
	a.logger.Debug("tool call finished", fields...)
	return result
}

// normalizeArguments 兼容把 arguments 编码成 JSON 字符串的实现。
func normalizeArguments(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return json.RawMessage("{}")
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			if s == "" {
				return json.RawMessage("{}")
			}
			return json.RawMessage(s)
		}
	}
	return trimmed
}

func (a *ChatAgent) complete(ctx context.Context, body chatRequest) (chatMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return chatMessage{}, types.NewAgentError(types.AgentInvocationFailure, err)
	}

	endpoint := strings.TrimRight(a.cfg.BaseURL, "/") + chatEndpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return chatMessage{}, types.NewAgentError(types.AgentInvocationFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return chatMessage{}, mapTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return chatMessage{}, types.NewAgentError(types.AgentInvocationFailure,
			fmt.Errorf("status=%d body=%s", resp.StatusCode, string(msg))).
			WithHTTPStatus(resp.StatusCode).
			WithRetryable(types.ClassifyHTTPStatus(resp.StatusCode) == types.ProviderTransient)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return chatMessage{}, mapTransportError(ctx, fmt.Errorf("decode response: %w", err))
	}
	if len(out.Choices) == 0 {
		return chatMessage{}, types.NewAgentError(types.AgentInvocationFailure, errors.New("empty choices"))
	}

	a.logger.Debug("chat completion",
		zap.String("id", out.ID),
		zap.String("finish_reason", out.Choices[0].FinishReason),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens))

	msg := out.Choices[0].Message
	if msg.Role == "" {
		msg.Role = string(types.RoleAssistant)
	}
	return msg, nil
}

// mapTransportError 截止时间映射为 AgentTimeout，其余为调用失败。
func mapTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return types.NewAgentError(types.AgentTimeout, err)
	}
	return types.NewAgentError(types.AgentInvocationFailure, err)
}
