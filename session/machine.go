package session

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// TransitionFunc observes state changes, e.g. for metrics.
type TransitionFunc func(from, to State)

// Option configures a Machine.
type Option func(*Machine)

// WithOnTransition registers a transition observer.
func WithOnTransition(fn TransitionFunc) Option {
	return func(m *Machine) { m.onTransition = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Machine 会话状态机。只有拥有会话的编排协程可以调用修改方法；
// State / TurnCount 可以被任意协程读取。
type Machine struct {
	sessionID    string
	logger       *zap.Logger
	onTransition TransitionFunc

	state     atomic.Value // State
	turnCount atomic.Int64
	current   *Turn
	endReason string
}

// NewMachine creates a machine in Idle.
func NewMachine(sessionID string, opts ...Option) *Machine {
	m := &Machine{sessionID: sessionID, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("session_id", sessionID))
	m.state.Store(StateIdle)
	return m
}

// SessionID returns the owning session id.
func (m *Machine) SessionID() string { return m.sessionID }

// State returns the current state.
func (m *Machine) State() State { return m.state.Load().(State) }

// Ended reports whether the machine reached Ended.
func (m *Machine) Ended() bool { return m.State() == StateEnded }

// EndReason returns why the session ended.
func (m *Machine) EndReason() string { return m.endReason }

// Transition moves to the next state or returns ErrInvalidTransition.
func (m *Machine) Transition(to State) error {
	from := m.State()
	if !CanTransition(from, to) {
		return ErrInvalidTransition{From: from, To: to}
	}
	m.state.Store(to)
	m.logger.Debug("session state changed", zap.String("from", string(from)), zap.String("to", string(to)))
	if m.onTransition != nil {
		m.onTransition(from, to)
	}
	return nil
}

// End moves to Ended. It returns false when the machine had already ended.
// An open turn is aborted with the same reason.
func (m *Machine) End(reason string, now time.Time) bool {
	if m.Ended() {
		return false
	}
	if m.current != nil && !m.current.State.Terminal() {
		_ = m.current.Abort(reason, now)
	}
	m.endReason = reason
	_ = m.Transition(StateEnded)
	return true
}

// BeginTurn opens the next turn. The previous turn must be terminal.
func (m *Machine) BeginTurn(now time.Time) (*Turn, error) {
	if m.Ended() {
		return nil, ErrInvalidTransition{From: StateEnded, To: StateTranscribing}
	}
	if m.current != nil && !m.current.State.Terminal() {
		return nil, fmt.Errorf("turn %d is still %s", m.current.Seq, m.current.State)
	}
	seq := m.turnCount.Add(1)
	m.current = &Turn{Seq: seq, State: TurnListening, StartedAt: now}
	return m.current, nil
}

// Current returns the latest turn, which may already be terminal.
func (m *Machine) Current() *Turn { return m.current }

// TurnCount returns the number of turns begun so far.
func (m *Machine) TurnCount() int64 { return m.turnCount.Load() }
