package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/callflow/audio"
	"github.com/BaSui01/callflow/buffer"
	"github.com/BaSui01/callflow/internal/ctxkeys"
	"github.com/BaSui01/callflow/persistence"
	"github.com/BaSui01/callflow/provider"
	"github.com/BaSui01/callflow/session"
	"github.com/BaSui01/callflow/types"
)

type eventKind int

const (
	evFrame eventKind = iota
	evTranscript
	evSTTError
	evSTTEnd
	evAgentReply
	evFirstAudio
	evTTSError
	evSpoken
)

// event 是各泵协程发给控制协程的消息；gen 标识产生它的供应商绑定。
type event struct {
	kind   eventKind
	gen    uint64
	seq    int64
	frame  types.AudioFrame
	delta  types.TranscriptDelta
	text   string
	err    error
	frames int
	bytes  int64
}

// binding 是本会话当前持有的一条供应商流。
type binding struct {
	gen    uint64
	lease  *provider.Lease
	stream provider.Stream
	cancel context.CancelFunc

	// TTS
	text   string
	seq    int64
	failed bool
}

// call 是单个会话。machine 与 turn 相关字段只由控制协程修改。
type call struct {
	o         *Orchestrator
	id        string
	info      CallInfo
	logger    *zap.Logger
	machine   *session.Machine
	conv      *session.ConversationContext
	inbound   *buffer.TurnBuffer[types.AudioFrame]
	outbound  *buffer.TurnBuffer[types.AudioFrame]
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span
	group  errgroup.Group
	events chan event
	done   chan struct{}

	stopOnce   sync.Once
	stopReason atomic.Value // string
	outSeq     atomic.Int64

	mu        sync.Mutex
	leases    map[*provider.Lease]struct{}
	sttName   string
	ttsName   string
	completed int64

	// 以下字段只由控制协程访问
	turn              *session.Turn
	turnCtx           context.Context
	turnSpan          trace.Span
	stt               *binding
	tts               *binding
	sttAttempt        *provider.Attempt
	ttsAttempt        *provider.Attempt
	gen               uint64
	utterance         []types.AudioFrame
	utteranceBytes    int
	maxUtterance      int
	flushed           bool
	partial           string
	pendingSeq        int64
	heldDrops         int
	consecutiveAborts int
	endAfter          bool

	idle      *time.Timer
	eos       *time.Timer
	sttFinal  *time.Timer
	reasoning *time.Timer
}

func newCall(o *Orchestrator, id string, info CallInfo, span trace.Span) *call {
	logger := o.logger.With(zap.String("session_id", id), zap.String("call_sid", info.CallSID))
	c := &call{
		o:            o,
		id:           id,
		info:         info,
		logger:       logger,
		conv:         session.NewConversationContext(),
		startedAt:    time.Now(),
		span:         span,
		events:       make(chan event, 8),
		done:         make(chan struct{}),
		leases:       make(map[*provider.Lease]struct{}),
		maxUtterance: audio.FrameBytes(info.Encoding, info.SampleRate, o.cfg.MaxUtterance),
	}

	onDrop := func(name string, dropped int, total int64, reason string) {
		o.recorder.BufferDropped(name, reason, dropped)
	}
	c.inbound = buffer.New[types.AudioFrame]("inbound", o.cfg.InboundCapacity,
		buffer.WithOnDrop(onDrop), buffer.WithLogger(logger))
	c.outbound = buffer.New[types.AudioFrame]("outbound", o.cfg.OutboundCapacity,
		buffer.WithOnDrop(onDrop), buffer.WithLogger(logger))

	c.machine = session.NewMachine(id,
		session.WithLogger(logger),
		session.WithOnTransition(func(from, to session.State) {
			o.recorder.StateTransition(string(from), string(to))
			span.AddEvent("state", trace.WithAttributes(
				attribute.String("from", string(from)),
				attribute.String("to", string(to))))
		}))

	ctx := trace.ContextWithSpan(context.Background(), span)
	ctx = ctxkeys.WithSessionID(ctx, id)
	if info.CallSID != "" {
		ctx = ctxkeys.WithCallSID(ctx, info.CallSID)
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	// 进入 Listening 后才启动协程，保证调用方拿到 ID 时状态已就绪
	_ = c.machine.Transition(session.StateListening)
	return c
}

func (c *call) start() {
	c.group.Go(c.pumpInbound)
	c.group.Go(c.run)
	go func() {
		_ = c.group.Wait()
		close(c.done)
	}()
}

// stop asks the controller to end the session; the first reason wins.
func (c *call) stop(reason string) {
	c.stopOnce.Do(func() {
		c.stopReason.Store(reason)
		c.cancel()
	})
}

func (c *call) endReason() string {
	if r, ok := c.stopReason.Load().(string); ok {
		return r
	}
	return ReasonCallerHangup
}

// send delivers ev unless the session is shutting down.
func (c *call) send(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *call) pumpInbound() error {
	for {
		frame, err := c.inbound.Pull(c.ctx)
		if err != nil {
			return nil
		}
		if !c.send(event{kind: evFrame, frame: frame}) {
			return nil
		}
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func resetTimer(t **time.Timer, d time.Duration) {
	stopTimer(t)
	*t = time.NewTimer(d)
}

// run 是控制协程：唯一修改状态机的地方。
func (c *call) run() error {
	defer c.finish()
	resetTimer(&c.idle, c.o.cfg.IdleTimeout)

	for {
		if c.ctx.Err() != nil {
			return nil
		}
		select {
		case <-c.ctx.Done():
			return nil
		case ev := <-c.events:
			c.handle(ev)
		case <-timerC(c.idle):
			c.idle = nil
			c.logger.Info("session idle, ending",
				zap.Error(types.NewSessionTimeout(c.id, c.o.cfg.IdleTimeout)))
			c.stop(ReasonSessionTimeout)
		case <-timerC(c.eos):
			c.eos = nil
			c.onEndOfSpeech()
		case <-timerC(c.sttFinal):
			c.sttFinal = nil
			c.onSTTFinalTimeout()
		case <-timerC(c.reasoning):
			c.reasoning = nil
			c.onReasoningTimeout()
		}
	}
}

func (c *call) handle(ev event) {
	switch ev.kind {
	case evFrame:
		c.onFrame(ev.frame)
	case evTranscript:
		c.onTranscript(ev)
	case evSTTError:
		c.onSTTError(ev)
	case evSTTEnd:
		c.onSTTEnd(ev)
	case evAgentReply:
		c.onAgentReply(ev)
	case evFirstAudio:
		c.onFirstAudio(ev)
	case evTTSError:
		c.onTTSError(ev)
	case evSpoken:
		c.onSpoken(ev)
	}
}

func (c *call) transition(to session.State) {
	if err := c.machine.Transition(to); err != nil {
		c.logger.Error("unexpected state transition", zap.Error(err))
	}
}

// finish 在控制协程退出时执行：结束状态机、释放绑定并清空缓冲。
func (c *call) finish() {
	reason := c.endReason()
	now := time.Now()

	open := c.turn != nil && !c.turn.State.Terminal()
	c.machine.End(reason, now)
	if open {
		c.o.recorder.TurnFinished(string(session.TurnAborted), 0)
		c.endTurnSpan(reason)
	}

	stopTimer(&c.idle)
	stopTimer(&c.eos)
	stopTimer(&c.sttFinal)
	stopTimer(&c.reasoning)
	c.pendingSeq = 0
	c.closeSTT()
	c.closeTTS()

	if c.heldDrops > 0 {
		c.inbound.RecordDrop(c.heldDrops, "floor_held")
		c.heldDrops = 0
	}
	c.inbound.Close()
	c.inbound.Discard("session_ended")
	c.outbound.Close()
	c.outbound.Discard("session_ended")

	c.mu.Lock()
	completed := c.completed
	c.mu.Unlock()
	c.o.publisher.PublishSessionEnded(persistence.SessionEnded{
		ID:            c.id + ":ended",
		SessionID:     c.id,
		CallSID:       c.info.CallSID,
		Reason:        reason,
		Turns:         c.machine.TurnCount(),
		Completed:     completed,
		InboundDrops:  c.inbound.Drops(),
		OutboundDrops: c.outbound.Drops(),
		StartedAt:     c.startedAt,
		EndedAt:       now,
	})
	c.o.recorder.SessionEnded(reason, now.Sub(c.startedAt))

	c.span.SetAttributes(
		attribute.String("callflow.end_reason", reason),
		attribute.Int64("callflow.turns", c.machine.TurnCount()))
	if reason != ReasonCallerHangup && reason != ReasonTransferred && reason != ReasonShutdown {
		c.span.SetStatus(codes.Error, reason)
	}
	c.span.End()

	c.o.forget(c)
	go c.reap(c.o.cfg.EndSessionGrace)

	c.logger.Info("session ended",
		zap.String("reason", reason),
		zap.Int64("turns", c.machine.TurnCount()),
		zap.Int64("completed", completed),
		zap.Duration("duration", now.Sub(c.startedAt)))
}

// reap force-releases leases whose tasks outlive the grace period.
func (c *call) reap(grace time.Duration) {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-c.done:
	case <-timer.C:
		c.forceRelease()
	}
}

func (c *call) track(l *provider.Lease) {
	c.mu.Lock()
	c.leases[l] = struct{}{}
	c.mu.Unlock()
}

func (c *call) untrack(l *provider.Lease) {
	c.mu.Lock()
	delete(c.leases, l)
	c.mu.Unlock()
}

func (c *call) forceRelease() {
	c.mu.Lock()
	held := make([]*provider.Lease, 0, len(c.leases))
	for l := range c.leases {
		held = append(held, l)
	}
	c.leases = make(map[*provider.Lease]struct{})
	c.mu.Unlock()

	for _, l := range held {
		l.ForceRelease()
	}
	if len(held) > 0 {
		c.logger.Warn("session tasks did not exit in time", zap.Int("leases", len(held)))
	}
}

// release stops a stream and returns its lease without blocking the controller.
func (c *call) release(b *binding) {
	b.cancel()
	c.group.Go(func() error {
		if err := b.stream.Stop(); err != nil {
			c.logger.Debug("stream stop failed", zap.String("provider", b.lease.Name()), zap.Error(err))
		}
		b.lease.Release()
		c.untrack(b.lease)
		return nil
	})
}

func (c *call) setProvider(capability provider.Capability, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if capability == provider.CapabilitySTT {
		c.sttName = name
	} else {
		c.ttsName = name
	}
}

func (c *call) snapshot() SessionInfo {
	c.mu.Lock()
	stt, tts := c.sttName, c.ttsName
	c.mu.Unlock()
	return SessionInfo{
		ID:          c.id,
		CallSID:     c.info.CallSID,
		StreamSID:   c.info.StreamSID,
		State:       c.machine.State(),
		Turns:       c.machine.TurnCount(),
		STTProvider: stt,
		TTSProvider: tts,
		StartedAt:   c.startedAt,
		Inbound:     c.inbound.Stats(),
		Outbound:    c.outbound.Stats(),
	}
}

func (c *call) pumpSTT(ctx context.Context, b *binding) {
	for {
		chunk, err := b.stream.Pull(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				c.send(event{kind: evSTTEnd, gen: b.gen})
			} else {
				c.send(event{kind: evSTTError, gen: b.gen, err: err})
			}
			return
		}
		if chunk.Kind != provider.ChunkTranscript {
			continue
		}
		if !c.send(event{kind: evTranscript, gen: b.gen, delta: chunk.Transcript}) {
			return
		}
	}
}

// pumpTTS 把合成音频按序写入出站缓冲。每帧晚一帧写入，以便在流结束时给
// 最后一帧打上发言结束标记；最后一帧被取走后本轮即播放完毕。
func (c *call) pumpTTS(ctx context.Context, b *binding) {
	var (
		pending *types.AudioFrame
		pushed  int
		frames  int
		bytes   int64
		failure error
	)
	push := func(frame types.AudioFrame) bool {
		frame.Seq = c.outSeq.Add(1)
		if err := c.outbound.Push(ctx, frame); err != nil {
			return false
		}
		pushed++
		bytes += int64(len(frame.Data))
		if pushed == 1 && !c.send(event{kind: evFirstAudio, gen: b.gen}) {
			return false
		}
		return true
	}

	for {
		chunk, err := b.stream.Pull(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if frames == 0 {
				if errors.Is(err, io.EOF) {
					err = types.NewProviderError(b.lease.Name(), types.ProviderTransient,
						errors.New("stream ended without audio"))
				}
				c.send(event{kind: evTTSError, gen: b.gen, err: err})
				return
			}
			if !errors.Is(err, io.EOF) {
				failure = err
			}
			break
		}
		if chunk.Kind != provider.ChunkAudio || len(chunk.Audio.Data) == 0 {
			continue
		}

		frame := chunk.Audio
		frame.Mark = ""
		if frame.Timestamp.IsZero() {
			frame.Timestamp = time.Now()
		}
		frames++
		if pending != nil && !push(*pending) {
			return
		}
		pending = &frame
	}

	last := *pending
	last.Mark = markName(b.seq)
	if !push(last) {
		return
	}
	if failure != nil {
		c.send(event{kind: evTTSError, gen: b.gen, err: failure, frames: frames})
	}
	if err := c.outbound.WaitEmpty(ctx); err != nil {
		return
	}
	c.send(event{kind: evSpoken, gen: b.gen, frames: frames, bytes: bytes})
}

func markName(seq int64) string { return fmt.Sprintf("turn-%d", seq) }
