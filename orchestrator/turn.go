package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/callflow/internal/ctxkeys"
	"github.com/BaSui01/callflow/persistence"
	"github.com/BaSui01/callflow/provider"
	"github.com/BaSui01/callflow/session"
	"github.com/BaSui01/callflow/types"
)

// 轮次中止原因
const (
	abortNoTranscript   = "no_transcript"
	abortSTTUnavailable = "stt_unavailable"
	abortAgentTimeout   = "agent_timeout"
	abortAgentError     = "agent_error"
	abortTTSInterrupted = "tts_interrupted"
)

func (c *call) onFrame(frame types.AudioFrame) {
	resetTimer(&c.idle, c.o.cfg.IdleTimeout)
	voiced := c.o.detector.IsSpeech(frame)

	switch c.machine.State() {
	case session.StateListening:
		if voiced {
			c.beginTurn(frame)
		}
	case session.StateTranscribing:
		c.feedSTT(frame, voiced)
	default:
		// Agent 持有话轮期间不支持插话，帧直接丢弃并计数
		c.heldDrops++
	}
}

func (c *call) beginTurn(first types.AudioFrame) {
	now := time.Now()
	turn, err := c.machine.BeginTurn(now)
	if err != nil {
		c.logger.Error("cannot begin turn", zap.Error(err))
		return
	}
	_ = turn.Advance(session.TurnTranscribing, now)
	c.turn = turn
	c.turnCtx, c.turnSpan = c.o.tracer.Start(ctxkeys.WithTurn(c.ctx, turn.Seq), "callflow.turn",
		trace.WithAttributes(attribute.Int64("callflow.turn", turn.Seq)))
	c.transition(session.StateTranscribing)

	c.utterance = c.utterance[:0]
	c.utteranceBytes = 0
	c.flushed = false
	c.partial = ""

	c.sttAttempt = c.o.stt.NewAttempt()
	if !c.openSTT() {
		return
	}
	c.feedSTT(first, true)
}

func (c *call) maxTries(pool *provider.Pool) int {
	return 2*pool.Len() + 2
}

// openSTT binds an STT stream from the current attempt and replays the
// utterance captured so far. It returns false when the turn had to be
// abandoned.
func (c *call) openSTT() bool {
	for i := 0; i < c.maxTries(c.o.stt); i++ {
		lease, err := c.sttAttempt.Acquire(c.ctx)
		if err != nil {
			if types.IsNoProviderAvailable(err) {
				c.sttUnavailable(err)
			}
			return false
		}
		c.track(lease)

		ctx, cancel := context.WithCancel(c.turnCtx)
		stream, err := lease.Adapter().Start(ctx, c.id)
		if err != nil {
			cancel()
			c.logger.Warn("stt start failed", zap.String("provider", lease.Name()), zap.Error(err))
			lease.ReportError(err)
			lease.Release()
			c.untrack(lease)
			continue
		}

		c.gen++
		b := &binding{gen: c.gen, lease: lease, stream: stream, cancel: cancel}
		if err := c.replay(b); err != nil {
			c.logger.Warn("stt replay failed", zap.String("provider", lease.Name()), zap.Error(err))
			lease.ReportError(err)
			c.release(b)
			continue
		}
		c.stt = b
		c.turn.STTProvider = lease.Name()
		c.setProvider(provider.CapabilitySTT, lease.Name())
		c.group.Go(func() error {
			c.pumpSTT(ctx, b)
			return nil
		})
		return true
	}
	c.sttUnavailable(types.NewNoProviderAvailable(string(provider.CapabilitySTT)))
	return false
}

// replay 把本轮已缓存的音频补发给新绑定的 STT 流。
func (c *call) replay(b *binding) error {
	for _, frame := range c.utterance {
		if err := b.stream.Push(provider.AudioChunk(frame)); err != nil {
			if errors.Is(err, provider.ErrBackpressure) {
				c.inbound.RecordDrop(1, "stt_backpressure")
				continue
			}
			return err
		}
	}
	if c.flushed {
		return b.stream.Push(provider.FlushChunk())
	}
	return nil
}

func (c *call) pushSTT(chunk provider.Chunk) {
	if c.stt == nil {
		return
	}
	err := c.stt.stream.Push(chunk)
	switch {
	case err == nil:
	case errors.Is(err, provider.ErrBackpressure):
		c.inbound.RecordDrop(1, "stt_backpressure")
	default:
		c.failoverSTT(err)
	}
}

func (c *call) feedSTT(frame types.AudioFrame, voiced bool) {
	if c.flushed {
		// 已发出 flush，等待最终转写期间的帧不再送入 STT
		c.inbound.RecordDrop(1, "awaiting_final")
		return
	}
	c.turn.BytesIn += int64(len(frame.Data))
	c.utterance = append(c.utterance, frame)
	c.utteranceBytes += len(frame.Data)
	if voiced {
		resetTimer(&c.eos, c.o.cfg.EndOfSpeechTimeout)
	}
	c.pushSTT(provider.AudioChunk(frame))

	if c.machine.State() == session.StateTranscribing && c.utteranceBytes >= c.maxUtterance {
		c.logger.Debug("utterance reached max length", zap.Int("bytes", c.utteranceBytes))
		stopTimer(&c.eos)
		c.onEndOfSpeech()
	}
}

func (c *call) failoverSTT(err error) {
	if c.stt == nil {
		return
	}
	c.logger.Warn("stt stream failed, failing over",
		zap.String("provider", c.stt.lease.Name()), zap.Error(err))
	c.span.AddEvent("stt_failover", trace.WithAttributes(attribute.String("provider", c.stt.lease.Name())))
	c.stt.lease.ReportError(err)
	c.closeSTT()
	c.openSTT()
}

func (c *call) closeSTT() {
	if c.stt == nil {
		return
	}
	b := c.stt
	c.stt = nil
	c.release(b)
}

// onEndOfSpeech: 已有 partial 时直接进入推理；否则请求 STT 给出 final。
func (c *call) onEndOfSpeech() {
	if c.machine.State() != session.StateTranscribing || c.flushed {
		return
	}
	if c.partial != "" {
		c.transcribed(c.partial)
		return
	}
	c.flushed = true
	c.pushSTT(provider.FlushChunk())
	if c.machine.State() == session.StateTranscribing {
		resetTimer(&c.sttFinal, c.o.cfg.STTFinalTimeout)
	}
}

func (c *call) onSTTFinalTimeout() {
	if c.machine.State() != session.StateTranscribing {
		return
	}
	if c.partial != "" {
		c.transcribed(c.partial)
		return
	}
	c.logger.Debug("no transcript before deadline, back to listening")
	c.abortTurn(abortNoTranscript)
	c.closeSTT()
	c.transition(session.StateListening)
}

func (c *call) onTranscript(ev event) {
	if c.stt == nil || ev.gen != c.stt.gen || c.machine.State() != session.StateTranscribing {
		return
	}
	text := strings.TrimSpace(ev.delta.Text)
	if !ev.delta.Final {
		if text != "" {
			c.partial = text
		}
		return
	}
	if text == "" {
		text = c.partial
	}
	if text == "" {
		c.stt.lease.Report(provider.OutcomeSuccess)
		stopTimer(&c.eos)
		stopTimer(&c.sttFinal)
		c.abortTurn(abortNoTranscript)
		c.closeSTT()
		c.transition(session.StateListening)
		return
	}
	c.transcribed(text)
}

func (c *call) onSTTError(ev event) {
	if c.stt == nil || ev.gen != c.stt.gen || c.machine.State() != session.StateTranscribing {
		return
	}
	c.failoverSTT(ev.err)
}

func (c *call) onSTTEnd(ev event) {
	if c.stt == nil || ev.gen != c.stt.gen || c.machine.State() != session.StateTranscribing {
		return
	}
	if c.partial != "" {
		c.transcribed(c.partial)
		return
	}
	c.failoverSTT(types.NewProviderError(c.stt.lease.Name(), types.ProviderTransient, io.ErrUnexpectedEOF))
}

// sttUnavailable 本轮无可用 STT：致歉并回到监听；连续多次则转人工并结束会话。
func (c *call) sttUnavailable(err error) {
	stopTimer(&c.eos)
	stopTimer(&c.sttFinal)
	c.closeSTT()
	c.consecutiveAborts++
	c.logger.Warn("no stt provider available",
		zap.Int("consecutive_aborts", c.consecutiveAborts), zap.Error(err))
	c.abortTurn(abortSTTUnavailable)

	text := c.o.cfg.ApologyUtterance
	if c.consecutiveAborts >= c.o.cfg.MaxConsecutiveAborts {
		text = c.o.cfg.TransferUtterance
		c.endAfter = true
	}
	c.transition(session.StateSynthesizing)
	c.speak(text)
}

func (c *call) transcribed(text string) {
	stopTimer(&c.eos)
	stopTimer(&c.sttFinal)
	if c.stt != nil {
		c.stt.lease.Report(provider.OutcomeSuccess)
		c.closeSTT()
	}

	c.turn.Transcript = text
	_ = c.turn.Advance(session.TurnReasoning, time.Now())
	c.turnSpan.AddEvent("transcribed")
	c.transition(session.StateReasoning)
	c.invokeAgent()
}

func (c *call) invokeAgent() {
	seq := c.turn.Seq
	c.pendingSeq = seq
	history := c.conv.Entries()
	utterance := c.turn.Transcript
	timeout := c.o.cfg.ReasoningTimeout
	resetTimer(&c.reasoning, timeout)

	parent := c.turnCtx
	c.group.Go(func() error {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()
		ctx, span := c.o.tracer.Start(ctx, "callflow.agent.invoke")
		reply, err := c.o.agent.Invoke(ctx, history, utterance, c.o.tools)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		c.send(event{kind: evAgentReply, seq: seq, text: reply, err: err})
		return nil
	})
}

func (c *call) onAgentReply(ev event) {
	if c.pendingSeq == 0 || ev.seq != c.pendingSeq || c.machine.State() != session.StateReasoning {
		c.logger.Debug("discarding stale agent reply", zap.Int64("turn", ev.seq))
		return
	}
	c.pendingSeq = 0
	stopTimer(&c.reasoning)

	reply := strings.TrimSpace(ev.text)
	if ev.err != nil || reply == "" {
		reason := abortAgentError
		if types.IsAgentTimeout(ev.err) {
			reason = abortAgentTimeout
		}
		c.agentFailed(reason, ev.err)
		return
	}

	c.turn.Response = reply
	_ = c.turn.Advance(session.TurnSynthesizing, time.Now())
	c.transition(session.StateSynthesizing)
	c.speak(reply)
}

func (c *call) onReasoningTimeout() {
	if c.pendingSeq == 0 || c.machine.State() != session.StateReasoning {
		return
	}
	c.pendingSeq = 0
	c.agentFailed(abortAgentTimeout, types.NewAgentError(types.AgentTimeout, context.DeadlineExceeded))
}

// agentFailed 中止本轮（不进入对话上下文），播报兜底话术。
func (c *call) agentFailed(reason string, err error) {
	if reason == abortAgentTimeout {
		c.o.recorder.ReasoningTimeout()
	}
	c.logger.Warn("agent failed, speaking fallback", zap.String("reason", reason), zap.Error(err))
	c.turn.Response = c.o.cfg.FallbackUtterance
	c.turn.Fallback = true
	c.abortTurn(reason)
	c.transition(session.StateSynthesizing)
	c.speak(c.o.cfg.FallbackUtterance)
}

func (c *call) speak(text string) {
	c.ttsAttempt = c.o.tts.NewAttempt()
	c.openTTS(text)
}

func (c *call) openTTS(text string) {
	for i := 0; i < c.maxTries(c.o.tts); i++ {
		lease, err := c.ttsAttempt.Acquire(c.ctx)
		if err != nil {
			if types.IsNoProviderAvailable(err) {
				c.ttsUnavailable(err)
			}
			return
		}
		c.track(lease)

		ctx, cancel := context.WithCancel(c.turnCtx)
		stream, err := lease.Adapter().Start(ctx, c.id)
		if err != nil {
			cancel()
			c.logger.Warn("tts start failed", zap.String("provider", lease.Name()), zap.Error(err))
			lease.ReportError(err)
			lease.Release()
			c.untrack(lease)
			continue
		}

		c.gen++
		b := &binding{gen: c.gen, lease: lease, stream: stream, cancel: cancel, text: text, seq: c.turn.Seq}
		if err := stream.Push(provider.TextChunk(text, true)); err != nil {
			c.logger.Warn("tts push failed", zap.String("provider", lease.Name()), zap.Error(err))
			lease.ReportError(err)
			c.release(b)
			continue
		}
		c.tts = b
		c.turn.TTSProvider = lease.Name()
		c.setProvider(provider.CapabilityTTS, lease.Name())
		c.group.Go(func() error {
			c.pumpTTS(ctx, b)
			return nil
		})
		return
	}
	c.ttsUnavailable(types.NewNoProviderAvailable(string(provider.CapabilityTTS)))
}

func (c *call) ttsUnavailable(err error) {
	c.logger.Error("no tts provider available, ending session", zap.Error(err))
	c.abortTurn(ReasonTTSUnavailable)
	c.stop(ReasonTTSUnavailable)
}

func (c *call) closeTTS() {
	if c.tts == nil {
		return
	}
	b := c.tts
	c.tts = nil
	c.release(b)
}

func (c *call) onFirstAudio(ev event) {
	if c.tts == nil || ev.gen != c.tts.gen {
		return
	}
	if c.machine.State() == session.StateSynthesizing {
		c.transition(session.StateSpeaking)
	}
}

// onTTSError: 尚未输出音频时换供应商重试；已输出部分音频则保留已排队的帧，本轮中止。
func (c *call) onTTSError(ev event) {
	if c.tts == nil || ev.gen != c.tts.gen {
		return
	}
	b := c.tts
	b.lease.ReportError(ev.err)
	if ev.frames == 0 {
		c.logger.Warn("tts stream failed, failing over",
			zap.String("provider", b.lease.Name()), zap.Error(ev.err))
		c.span.AddEvent("tts_failover", trace.WithAttributes(attribute.String("provider", b.lease.Name())))
		c.closeTTS()
		c.openTTS(b.text)
		return
	}
	c.logger.Warn("tts stream interrupted mid-utterance",
		zap.String("provider", b.lease.Name()), zap.Int("frames", ev.frames), zap.Error(ev.err))
	b.failed = true
	c.abortTurn(abortTTSInterrupted)
}

func (c *call) onSpoken(ev event) {
	if c.tts == nil || ev.gen != c.tts.gen {
		return
	}
	if !c.tts.failed {
		c.tts.lease.Report(provider.OutcomeSuccess)
	}
	c.closeTTS()

	if t := c.turn; t != nil && !t.State.Terminal() {
		t.BytesOut = ev.bytes
		_ = t.Advance(session.TurnCompleted, time.Now())
		if err := c.conv.AppendTurn(t); err != nil {
			c.logger.Error("append turn to conversation", zap.Error(err))
		}
		c.o.publisher.PublishTurn(persistence.NewTurnCompleted(c.id, c.info.CallSID, t))
		c.mu.Lock()
		c.completed++
		c.mu.Unlock()
		c.consecutiveAborts = 0
		c.o.recorder.TurnFinished(string(session.TurnCompleted), t.Latency())
		c.endTurnSpan("")
		c.logger.Debug("turn completed",
			zap.Int64("turn", t.Seq),
			zap.Duration("latency", t.Latency()),
			zap.Int("frames", ev.frames))
	}

	if c.heldDrops > 0 {
		c.inbound.RecordDrop(c.heldDrops, "floor_held")
		c.heldDrops = 0
	}
	if c.endAfter {
		c.stop(ReasonTransferred)
		return
	}
	c.transition(session.StateListening)
}

func (c *call) abortTurn(reason string) {
	t := c.turn
	if t == nil || t.State.Terminal() {
		return
	}
	_ = t.Abort(reason, time.Now())
	c.o.recorder.TurnFinished(string(session.TurnAborted), 0)
	c.endTurnSpan(reason)
}

func (c *call) endTurnSpan(abortReason string) {
	if c.turnSpan == nil {
		return
	}
	if t := c.turn; t != nil {
		c.turnSpan.SetAttributes(
			attribute.String("callflow.turn.state", string(t.State)),
			attribute.String("callflow.stt_provider", t.STTProvider),
			attribute.String("callflow.tts_provider", t.TTSProvider))
	}
	if abortReason != "" {
		c.turnSpan.SetStatus(codes.Error, abortReason)
	}
	c.turnSpan.End()
	c.turnSpan = nil
}
