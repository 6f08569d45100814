package orchestrator

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/callflow/agent"
	"github.com/BaSui01/callflow/audio"
	"github.com/BaSui01/callflow/buffer"
	"github.com/BaSui01/callflow/config"
	"github.com/BaSui01/callflow/persistence"
	"github.com/BaSui01/callflow/provider"
	"github.com/BaSui01/callflow/session"
	"github.com/BaSui01/callflow/types"
)

const tracerName = "github.com/BaSui01/callflow/orchestrator"

// 会话结束原因
const (
	ReasonCallerHangup   = "caller_hangup"
	ReasonSessionTimeout = "session_timeout"
	ReasonBufferOverrun  = "buffer_overrun"
	ReasonTTSUnavailable = "tts_unavailable"
	ReasonTransferred    = "transferred"
	ReasonShutdown       = "shutdown"
)

// tombstoneTTL 已结束会话 ID 的保留时长，在此期间重复的 EndSession 仍视为成功。
const tombstoneTTL = 10 * time.Minute

// CallInfo describes the telephony leg a session serves.
type CallInfo struct {
	CallSID    string              `json:"call_sid,omitempty"`
	StreamSID  string              `json:"stream_sid,omitempty"`
	From       string              `json:"from,omitempty"`
	CustomerID string              `json:"customer_id,omitempty"`
	Encoding   types.AudioEncoding `json:"encoding,omitempty"`
	SampleRate int                 `json:"sample_rate,omitempty"`
	Metadata   map[string]string   `json:"metadata,omitempty"`
}

// SessionInfo is a point-in-time view of a live session.
type SessionInfo struct {
	ID          string        `json:"id"`
	CallSID     string        `json:"call_sid,omitempty"`
	StreamSID   string        `json:"stream_sid,omitempty"`
	State       session.State `json:"state"`
	Turns       int64         `json:"turns"`
	STTProvider string        `json:"stt_provider,omitempty"`
	TTSProvider string        `json:"tts_provider,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	Inbound     buffer.Stats  `json:"inbound"`
	Outbound    buffer.Stats  `json:"outbound"`
}

// Orchestrator owns every live call session. It is safe for concurrent use;
// each session is driven by its own controller goroutine.
type Orchestrator struct {
	cfg       config.OrchestratorConfig
	registry  *provider.Registry
	stt       *provider.Pool
	tts       *provider.Pool
	agent     agent.Capability
	tools     []agent.Tool
	publisher persistence.Publisher
	recorder  Recorder
	tracer    trace.Tracer
	newID     func() string
	detector  audio.Detector
	logger    *zap.Logger

	mu     sync.RWMutex
	calls  map[string]*call
	ended  map[string]time.Time
	closed bool
}

// New creates an orchestrator. The registry must hold STT and TTS pools.
func New(cfg config.OrchestratorConfig, registry *provider.Registry, capability agent.Capability, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if registry == nil {
		return nil, errors.New("provider registry is required")
	}
	if capability == nil {
		return nil, errors.New("agent capability is required")
	}
	stt, ok := registry.Pool(provider.CapabilitySTT)
	if !ok || stt.Len() == 0 {
		return nil, errors.New("no stt providers registered")
	}
	tts, ok := registry.Pool(provider.CapabilityTTS)
	if !ok || tts.Len() == 0 {
		return nil, errors.New("no tts providers registered")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg = withDefaults(cfg)
	o := &Orchestrator{
		cfg:       cfg,
		registry:  registry,
		stt:       stt,
		tts:       tts,
		agent:     capability,
		publisher: persistence.NopPublisher{},
		recorder:  nopRecorder{},
		tracer:    otel.Tracer(tracerName),
		newID:     defaultID,
		detector:  audio.NewDetector(cfg.SilenceThreshold),
		logger:    logger.With(zap.String("component", "orchestrator")),
		calls:     make(map[string]*call),
		ended:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func withDefaults(cfg config.OrchestratorConfig) config.OrchestratorConfig {
	def := config.DefaultOrchestratorConfig()
	if cfg.Encoding == "" {
		cfg.Encoding = def.Encoding
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = def.FrameDuration
	}
	if cfg.InboundCapacity <= 0 {
		cfg.InboundCapacity = def.InboundCapacity
	}
	if cfg.OutboundCapacity <= 0 {
		cfg.OutboundCapacity = def.OutboundCapacity
	}
	if cfg.OverrunTimeout <= 0 {
		cfg.OverrunTimeout = def.OverrunTimeout
	}
	if cfg.EndOfSpeechTimeout <= 0 {
		cfg.EndOfSpeechTimeout = def.EndOfSpeechTimeout
	}
	if cfg.STTFinalTimeout <= 0 {
		cfg.STTFinalTimeout = def.STTFinalTimeout
	}
	if cfg.ReasoningTimeout <= 0 {
		cfg.ReasoningTimeout = def.ReasoningTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	if cfg.EndSessionGrace <= 0 {
		cfg.EndSessionGrace = def.EndSessionGrace
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = def.MaxUtterance
	}
	if cfg.MaxConsecutiveAborts <= 0 {
		cfg.MaxConsecutiveAborts = def.MaxConsecutiveAborts
	}
	if cfg.FallbackUtterance == "" {
		cfg.FallbackUtterance = def.FallbackUtterance
	}
	if cfg.ApologyUtterance == "" {
		cfg.ApologyUtterance = def.ApologyUtterance
	}
	if cfg.TransferUtterance == "" {
		cfg.TransferUtterance = def.TransferUtterance
	}
	return cfg
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() config.OrchestratorConfig { return o.cfg }

// Registry returns the provider registry.
func (o *Orchestrator) Registry() *provider.Registry { return o.registry }

// CreateSession starts a session in Listening and returns its id. The
// session outlives ctx; ctx only parents the session span.
func (o *Orchestrator) CreateSession(ctx context.Context, info CallInfo) (string, error) {
	if info.Encoding == "" {
		info.Encoding = types.AudioEncoding(o.cfg.Encoding)
	}
	if info.SampleRate <= 0 {
		info.SampleRate = o.cfg.SampleRate
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", types.NewError(types.ErrSessionEnded, "orchestrator is shutting down").WithHTTPStatus(503)
	}
	id := o.newID()
	if _, dup := o.calls[id]; dup {
		o.mu.Unlock()
		return "", types.NewError(types.ErrInvalidRequest, "duplicate session id "+id)
	}

	_, span := o.tracer.Start(ctx, "callflow.session",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("callflow.session_id", id),
			attribute.String("callflow.call_sid", info.CallSID),
		))
	c := newCall(o, id, info, span)
	o.calls[id] = c
	o.mu.Unlock()

	o.recorder.SessionStarted()
	c.start()
	o.logger.Info("session created",
		zap.String("session_id", id),
		zap.String("call_sid", info.CallSID),
		zap.String("encoding", string(info.Encoding)),
		zap.Int("sample_rate", info.SampleRate))
	return id, nil
}

func (o *Orchestrator) lookup(id string) (*call, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if c, ok := o.calls[id]; ok {
		return c, false
	}
	_, ended := o.ended[id]
	return nil, ended
}

// forget removes an ended session and leaves a tombstone.
func (o *Orchestrator) forget(c *call) {
	now := time.Now()
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calls[c.id] == c {
		delete(o.calls, c.id)
	}
	o.ended[c.id] = now
	for id, at := range o.ended {
		if now.Sub(at) > tombstoneTTL {
			delete(o.ended, id)
		}
	}
}

func sessionEnded(id string) error {
	return types.NewError(types.ErrSessionEnded, "session "+id+" has ended").WithHTTPStatus(410)
}

// FeedInboundAudio queues one caller frame. It blocks while the inbound
// buffer is full; past OverrunTimeout the session ends with BufferOverrun.
func (o *Orchestrator) FeedInboundAudio(ctx context.Context, id string, frame types.AudioFrame) error {
	c, ended := o.lookup(id)
	if c == nil {
		if ended {
			return sessionEnded(id)
		}
		return types.NewSessionNotFound(id)
	}
	if frame.Encoding == "" {
		frame.Encoding = c.info.Encoding
	}
	if frame.SampleRate <= 0 {
		frame.SampleRate = c.info.SampleRate
	}
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}

	pushCtx, cancel := context.WithTimeout(ctx, o.cfg.OverrunTimeout)
	defer cancel()
	err := c.inbound.Push(pushCtx, frame)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, buffer.ErrClosed):
		return sessionEnded(id)
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		overrun := types.NewBufferOverrun(c.inbound.Name(), o.cfg.OverrunTimeout)
		c.inbound.RecordDrop(1, "overrun")
		c.logger.Warn("inbound buffer overrun, ending session", zap.Error(overrun))
		c.stop(ReasonBufferOverrun)
		return overrun
	default:
		return err
	}
}

// DrainOutboundAudio returns the next synthesized frame in order. It blocks
// until a frame is available and returns io.EOF once the session has ended.
func (o *Orchestrator) DrainOutboundAudio(ctx context.Context, id string) (types.AudioFrame, error) {
	c, ended := o.lookup(id)
	if c == nil {
		if ended {
			return types.AudioFrame{}, io.EOF
		}
		return types.AudioFrame{}, types.NewSessionNotFound(id)
	}
	return c.outbound.Pull(ctx)
}

// EndSession ends a session and releases its provider leases. Ending an
// already ended session is a no-op. Tasks that do not exit within
// EndSessionGrace have their leases force-released.
func (o *Orchestrator) EndSession(id string) error {
	c, ended := o.lookup(id)
	if c == nil {
		if ended {
			return nil
		}
		return types.NewSessionNotFound(id)
	}
	c.stop(ReasonCallerHangup)

	timer := time.NewTimer(o.cfg.EndSessionGrace)
	defer timer.Stop()
	select {
	case <-c.done:
	case <-timer.C:
		c.forceRelease()
	}
	return nil
}

// State returns the state of a session; ended sessions report Ended.
func (o *Orchestrator) State(id string) (session.State, error) {
	c, ended := o.lookup(id)
	if c == nil {
		if ended {
			return session.StateEnded, nil
		}
		return "", types.NewSessionNotFound(id)
	}
	return c.machine.State(), nil
}

// Session returns a snapshot of one live session.
func (o *Orchestrator) Session(id string) (SessionInfo, error) {
	c, _ := o.lookup(id)
	if c == nil {
		return SessionInfo{}, types.NewSessionNotFound(id)
	}
	return c.snapshot(), nil
}

// Sessions returns a snapshot of every live session, oldest first.
func (o *Orchestrator) Sessions() []SessionInfo {
	o.mu.RLock()
	calls := make([]*call, 0, len(o.calls))
	for _, c := range o.calls {
		calls = append(calls, c)
	}
	o.mu.RUnlock()

	out := make([]SessionInfo, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Len returns the number of live sessions.
func (o *Orchestrator) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.calls)
}

// Shutdown refuses new sessions, ends every live one and waits for them
// until ctx is done.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	calls := make([]*call, 0, len(o.calls))
	for _, c := range o.calls {
		calls = append(calls, c)
	}
	o.mu.Unlock()

	o.logger.Info("shutting down orchestrator", zap.Int("sessions", len(calls)))
	for _, c := range calls {
		c.stop(ReasonShutdown)
	}
	for _, c := range calls {
		select {
		case <-c.done:
		case <-ctx.Done():
			for _, rest := range calls {
				rest.forceRelease()
			}
			return ctx.Err()
		}
	}
	return nil
}
