package session

import (
	"testing"
	"time"

	"github.com/BaSui01/callflow/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateListening, true},
		{StateIdle, StateSpeaking, false},
		{StateListening, StateTranscribing, true},
		{StateListening, StateReasoning, false},
		{StateTranscribing, StateReasoning, true},
		{StateTranscribing, StateListening, true},
		{StateTranscribing, StateSynthesizing, true},
		{StateReasoning, StateSynthesizing, true},
		{StateReasoning, StateListening, false},
		{StateSynthesizing, StateSpeaking, true},
		{StateSynthesizing, StateListening, true},
		{StateSpeaking, StateListening, true},
		{StateSpeaking, StateTranscribing, false},
		{StateReasoning, StateEnded, true},
		{StateEnded, StateListening, false},
		{StateEnded, StateEnded, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestMachine_HappyPathLoop(t *testing.T) {
	var seen []string
	m := NewMachine("s-1", WithOnTransition(func(from, to State) {
		seen = append(seen, string(from)+">"+string(to))
	}))
	assert.Equal(t, StateIdle, m.State())

	for _, s := range []State{StateListening, StateTranscribing, StateReasoning, StateSynthesizing, StateSpeaking, StateListening} {
		require.NoError(t, m.Transition(s))
	}
	assert.Equal(t, StateListening, m.State())
	assert.Len(t, seen, 6)

	err := m.Transition(StateSpeaking)
	assert.True(t, IsInvalidTransition(err))
	assert.Equal(t, StateListening, m.State())
}

func TestMachine_EndIsIdempotentAndAbsorbing(t *testing.T) {
	m := NewMachine("s-1")
	require.NoError(t, m.Transition(StateListening))
	turn, err := m.BeginTurn(time.Now())
	require.NoError(t, err)

	assert.True(t, m.End("caller hung up", time.Now()))
	assert.False(t, m.End("again", time.Now()))
	assert.Equal(t, "caller hung up", m.EndReason())
	assert.Equal(t, TurnAborted, turn.State)
	assert.Error(t, m.Transition(StateListening))

	_, err = m.BeginTurn(time.Now())
	assert.Error(t, err)
}

func TestMachine_TurnOrdering(t *testing.T) {
	m := NewMachine("s-1")
	now := time.Now()

	t1, err := m.BeginTurn(now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), t1.Seq)

	_, err = m.BeginTurn(now)
	assert.Error(t, err, "turn 1 is still open")

	require.NoError(t, t1.Abort("no speech", now))
	t2, err := m.BeginTurn(now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), t2.Seq)
	assert.Same(t, t2, m.Current())
	assert.Equal(t, int64(2), m.TurnCount())
}

func TestTurn_AdvanceRejectsSkips(t *testing.T) {
	now := time.Now()
	turn := &Turn{Seq: 1, State: TurnListening}

	assert.Error(t, turn.Advance(TurnReasoning, now))
	require.NoError(t, turn.Advance(TurnTranscribing, now))
	require.NoError(t, turn.Advance(TurnReasoning, now))
	require.NoError(t, turn.Advance(TurnSynthesizing, now.Add(300*time.Millisecond)))
	require.NoError(t, turn.Advance(TurnCompleted, now))
	assert.Equal(t, 300*time.Millisecond, turn.Latency())

	assert.Error(t, turn.Advance(TurnCompleted, now))
	assert.Error(t, turn.Abort("late", now))
	assert.Error(t, (&Turn{State: TurnReasoning}).Advance(TurnAborted, now))
}

func TestConversationContext_OnlyCompletedTurns(t *testing.T) {
	c := NewConversationContext()
	now := time.Now()

	aborted := &Turn{Seq: 1, State: TurnAborted}
	assert.Error(t, c.AppendTurn(aborted))

	done := &Turn{Seq: 2, State: TurnCompleted, Transcript: "hello", Response: "hi there", TranscribedAt: now, EndedAt: now}
	require.NoError(t, c.AppendTurn(done))
	assert.Error(t, c.AppendTurn(done), "same turn twice")

	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, types.RoleUser, entries[0].Role)
	assert.Equal(t, "hello", entries[0].Text)
	assert.Equal(t, types.RoleAssistant, entries[1].Role)
	assert.Equal(t, "hi there", entries[1].Text)
	assert.Equal(t, 2, c.Len())
}

// 属性：任意事件序列都不会产生非法转换，Ended 之后状态不再变化。
func TestProperty_MachineTransitions(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	stateGen := gen.IntRange(0, len(AllStates)-1).Map(func(i int) State { return AllStates[i] })

	properties.Property("machine only follows legal transitions", prop.ForAll(
		func(targets []State) bool {
			m := NewMachine("prop")
			for _, to := range targets {
				from := m.State()
				err := m.Transition(to)
				legal := CanTransition(from, to)
				if legal != (err == nil) {
					t.Logf("%s -> %s: legal=%v err=%v", from, to, legal, err)
					return false
				}
				if err != nil && m.State() != from {
					return false
				}
				if from == StateEnded && m.State() != StateEnded {
					return false
				}
			}
			return true
		},
		gen.SliceOf(stateGen),
	))

	properties.TestingRun(t)
}

// 属性：轮次序号从 1 开始严格递增 1，直到会话结束。
func TestProperty_TurnNumbering(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := NewMachine("prop")
		now := time.Now()
		var last int64
		steps := rapid.IntRange(1, 50).Draw(t, "turns")
		for i := 0; i < steps; i++ {
			turn, err := m.BeginTurn(now)
			if err != nil {
				t.Fatalf("begin turn %d: %v", i, err)
			}
			if turn.Seq != last+1 {
				t.Fatalf("turn seq %d after %d", turn.Seq, last)
			}
			last = turn.Seq
			if rapid.Bool().Draw(t, "complete") {
				for _, s := range []TurnState{TurnTranscribing, TurnReasoning, TurnSynthesizing, TurnCompleted} {
					if err := turn.Advance(s, now); err != nil {
						t.Fatal(err)
					}
				}
			} else if err := turn.Abort("aborted", now); err != nil {
				t.Fatal(err)
			}
		}
		m.End("done", now)
		if _, err := m.BeginTurn(now); err == nil {
			t.Fatal("turn began after end")
		}
		if m.TurnCount() != last {
			t.Fatalf("turn count %d, last seq %d", m.TurnCount(), last)
		}
	})
}
