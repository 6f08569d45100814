package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/callflow/session"
)

// Capability is the reasoning step of a turn.
type Capability interface {
	Invoke(ctx context.Context, conversation []session.Entry, utterance string, tools []Tool) (string, error)
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, conversation []session.Entry, utterance string, tools []Tool) (string, error)

// Invoke calls f.
func (f CapabilityFunc) Invoke(ctx context.Context, conversation []session.Entry, utterance string, tools []Tool) (string, error) {
	return f(ctx, conversation, utterance, tools)
}

// ToolHandler 执行一次工具调用，返回值会被序列化为 JSON 交给模型。
type ToolHandler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool 是提供给 Agent 的一个可调用工具。
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// Call runs the handler and returns the JSON result. Handler errors are
// reported back to the model as {"error": ...} instead of failing the turn.
func (t Tool) Call(ctx context.Context, args json.RawMessage) string {
	if t.Handler == nil {
		return errorResult(fmt.Errorf("tool %s has no handler", t.Name))
	}
	out, err := t.Handler(ctx, args)
	if err != nil {
		return errorResult(err)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return errorResult(fmt.Errorf("marshal tool result: %w", err))
	}
	return string(data)
}

func errorResult(err error) string {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(data)
}

// SelectTools 按名称筛选工具，保持 names 的顺序；未知名称返回错误。
func SelectTools(all []Tool, names []string) ([]Tool, error) {
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]Tool, len(all))
	for _, t := range all {
		byName[t.Name] = t
	}
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		t, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown tool %q", name)
		}
		out = append(out, t)
	}
	return out, nil
}
