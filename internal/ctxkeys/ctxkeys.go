package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	sessionIDKey contextKey = "session_id"
	callSIDKey   contextKey = "call_sid"
	turnKey      contextKey = "turn"
	subjectKey   contextKey = "subject"
	rolesKey     contextKey = "roles"
)

// WithRequestID 设置 RequestID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 获取 RequestID
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithSessionID 设置会话 ID
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionID 获取会话 ID
func SessionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sessionIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithCallSID 设置电话侧的呼叫 ID
func WithCallSID(ctx context.Context, callSID string) context.Context {
	return context.WithValue(ctx, callSIDKey, callSID)
}

// CallSID 获取电话侧的呼叫 ID
func CallSID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(callSIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithTurn 设置当前轮次序号
func WithTurn(ctx context.Context, seq int64) context.Context {
	return context.WithValue(ctx, turnKey, seq)
}

// Turn 获取当前轮次序号
func Turn(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(turnKey).(int64)
	if !ok || v <= 0 {
		return 0, false
	}
	return v, true
}

// WithSubject 设置已认证调用方（JWT sub）
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// Subject 获取已认证调用方
func Subject(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(subjectKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRoles 设置调用方角色
func WithRoles(ctx context.Context, roles []string) context.Context {
	return context.WithValue(ctx, rolesKey, roles)
}

// Roles 获取调用方角色
func Roles(ctx context.Context) ([]string, bool) {
	v, ok := ctx.Value(rolesKey).([]string)
	if !ok || len(v) == 0 {
		return nil, false
	}
	return v, true
}
