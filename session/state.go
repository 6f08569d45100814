package session

import (
	"errors"
	"fmt"
)

// State 会话生命周期状态
type State string

const (
	StateIdle         State = "idle"
	StateListening    State = "listening"
	StateTranscribing State = "transcribing"
	StateReasoning    State = "reasoning"
	StateSynthesizing State = "synthesizing"
	StateSpeaking     State = "speaking"
	StateEnded        State = "ended"
)

// AllStates lists every state in lifecycle order.
var AllStates = []State{
	StateIdle, StateListening, StateTranscribing, StateReasoning,
	StateSynthesizing, StateSpeaking, StateEnded,
}

// validTransitions 定义合法的状态转换（Ended 由任意状态可达，单独处理）
var validTransitions = map[State][]State{
	StateIdle:         {StateListening},
	StateListening:    {StateTranscribing},
	StateTranscribing: {StateReasoning, StateListening, StateSynthesizing}, // 静默中止 / 致歉
	StateReasoning:    {StateSynthesizing},
	StateSynthesizing: {StateSpeaking, StateListening}, // TTS 无输出
	StateSpeaking:     {StateListening},
	StateEnded:        {},
}

// CanTransition 检查状态转换是否合法
func CanTransition(from, to State) bool {
	if from == StateEnded {
		return false
	}
	if to == StateEnded {
		return true
	}
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition 非法状态转换错误
type ErrInvalidTransition struct {
	From State
	To   State
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// IsInvalidTransition reports whether err is an ErrInvalidTransition.
func IsInvalidTransition(err error) bool {
	var target ErrInvalidTransition
	return errors.As(err, &target)
}
