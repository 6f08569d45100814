package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/callflow/orchestrator"
	"github.com/BaSui01/callflow/provider"
	"github.com/BaSui01/callflow/provider/telephony"
	"github.com/BaSui01/callflow/types"
)

// =============================================================================
// 🎧 Twilio 媒体流桥接
// =============================================================================

// droppedBuffer 限流丢帧在指标中使用的缓冲区名
const droppedBuffer = "media_bridge"

// CallOrchestrator 是媒体桥接所需的编排器操作
type CallOrchestrator interface {
	CreateSession(ctx context.Context, info orchestrator.CallInfo) (string, error)
	FeedInboundAudio(ctx context.Context, id string, frame types.AudioFrame) error
	DrainOutboundAudio(ctx context.Context, id string) (types.AudioFrame, error)
	EndSession(id string) error
}

// DropRecorder 记录桥接层丢弃的帧
type DropRecorder interface {
	BufferDropped(buffer, reason string, n int)
}

type nopDrops struct{}

func (nopDrops) BufferDropped(string, string, int) {}

// MediaStreamConfig 媒体桥接参数
type MediaStreamConfig struct {
	// 每秒允许送入编排器的入站帧数，<=0 表示不限
	MaxFramesPerSecond float64
	FrameBurst         int
	// 等待 start 事件的最长时间
	HandshakeTimeout time.Duration
	// 出站队列满时的重试间隔
	BackpressureWait time.Duration
}

// DefaultMediaStreamConfig 默认 100 帧/秒、突发 50、握手 10s
func DefaultMediaStreamConfig() MediaStreamConfig {
	return MediaStreamConfig{
		MaxFramesPerSecond: 100,
		FrameBurst:         50,
		HandshakeTimeout:   10 * time.Second,
		BackpressureWait:   20 * time.Millisecond,
	}
}

// MediaStreamHandler 把一条 Twilio Media Streams WebSocket 桥接到一个编排会话：
// 入站 media 经限流后 FeedInboundAudio，出站 DrainOutboundAudio 写回 media，
// 每段发言的最后一帧在音频之后追加一条 Twilio mark。
type MediaStreamHandler struct {
	calls   CallOrchestrator
	adapter *telephony.Adapter
	config  MediaStreamConfig
	drops   DropRecorder
	logger  *zap.Logger
}

// MediaStreamOption configures a MediaStreamHandler.
type MediaStreamOption func(*MediaStreamHandler)

// WithDropRecorder 设置丢帧记录器
func WithDropRecorder(r DropRecorder) MediaStreamOption {
	return func(h *MediaStreamHandler) {
		if r != nil {
			h.drops = r
		}
	}
}

// NewMediaStreamHandler 创建媒体桥接处理器
func NewMediaStreamHandler(calls CallOrchestrator, adapter *telephony.Adapter, cfg MediaStreamConfig, logger *zap.Logger, opts ...MediaStreamOption) *MediaStreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultMediaStreamConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if cfg.BackpressureWait <= 0 {
		cfg.BackpressureWait = defaults.BackpressureWait
	}
	if cfg.FrameBurst <= 0 {
		cfg.FrameBurst = defaults.FrameBurst
	}
	h := &MediaStreamHandler{
		calls:   calls,
		adapter: adapter,
		config:  cfg,
		drops:   nopDrops{},
		logger:  logger.With(zap.String("handler", "media_stream")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP 升级连接并阻塞到通话结束
func (h *MediaStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := telephony.Accept(w, r, h.logger)
	if err != nil {
		// Accept 已写出错误响应
		h.logger.Warn("media stream upgrade failed", zap.Error(err))
		return
	}
	// 劫持后的连接不受 server Shutdown 约束，会话结束即返回
	ctx := context.WithoutCancel(r.Context())

	hsCtx, cancel := context.WithTimeout(ctx, h.config.HandshakeTimeout)
	info, err := conn.Handshake(hsCtx)
	cancel()
	if err != nil {
		h.logger.Warn("media stream handshake failed", zap.Error(err))
		_ = conn.Close("handshake failed")
		return
	}

	if err := h.adapter.Attach(conn); err != nil {
		h.logger.Warn("media stream rejected", zap.Error(err))
		_ = conn.Close("duplicate stream")
		return
	}
	stream, err := h.adapter.Start(ctx, info.StreamSID)
	if err != nil {
		h.adapter.Detach(info.StreamSID)
		_ = conn.Close("stream unavailable")
		return
	}
	defer func() { _ = stream.Stop() }()

	id, err := h.calls.CreateSession(ctx, callInfoFrom(info))
	if err != nil {
		h.logger.Error("create session failed",
			zap.String("call_sid", info.CallSID),
			zap.Error(err))
		return
	}
	logger := h.logger.With(
		zap.String("session_id", id),
		zap.String("call_sid", info.CallSID),
		zap.String("stream_sid", info.StreamSID))
	logger.Info("media bridge started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.pumpInbound(gctx, id, stream, logger) })
	g.Go(func() error { return h.pumpOutbound(gctx, id, stream) })
	if err := g.Wait(); err != nil {
		logger.Warn("media bridge stopped with error", zap.Error(err))
	}
	if err := h.calls.EndSession(id); err != nil {
		logger.Debug("end session", zap.Error(err))
	}
	logger.Info("media bridge closed")
}

// pumpInbound 把来电音频送入编排器，直到来电挂断或会话结束。
func (h *MediaStreamHandler) pumpInbound(ctx context.Context, id string, stream provider.Stream, logger *zap.Logger) error {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if h.config.MaxFramesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(h.config.MaxFramesPerSecond), h.config.FrameBurst)
	}
	var dropped int
	for {
		chunk, err := stream.Pull(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				// 来电侧结束，会话随之结束，出站 drain 将返回 EOF
				return h.calls.EndSession(id)
			}
			_ = h.calls.EndSession(id)
			return err
		}
		if chunk.Kind != provider.ChunkAudio {
			continue
		}
		if !limiter.Allow() {
			dropped++
			h.drops.BufferDropped(droppedBuffer, "rate_limited", 1)
			if dropped == 1 || dropped%100 == 0 {
				logger.Warn("inbound frame rate exceeded, dropping", zap.Int("dropped", dropped))
			}
			continue
		}
		if err := h.calls.FeedInboundAudio(ctx, id, chunk.Audio); err != nil {
			if types.IsErrorCode(err, types.ErrSessionEnded) ||
				types.IsErrorCode(err, types.ErrSessionNotFound) ||
				types.IsErrorCode(err, types.ErrBufferOverrun) {
				return nil
			}
			return err
		}
	}
}

// pumpOutbound 按序把合成音频写回电话侧；会话结束后关闭媒体流。
func (h *MediaStreamHandler) pumpOutbound(ctx context.Context, id string, stream provider.Stream) error {
	for {
		frame, err := h.calls.DrainOutboundAudio(ctx, id)
		if err != nil {
			// Stop 先冲刷已排队音频，再关闭连接，入站 Pull 随之返回 EOF
			_ = stream.Stop()
			if errors.Is(err, io.EOF) || types.IsErrorCode(err, types.ErrSessionNotFound) {
				return nil
			}
			return err
		}

		chunks := make([]provider.Chunk, 0, 2)
		if len(frame.Data) > 0 {
			chunks = append(chunks, provider.AudioChunk(frame))
		}
		if frame.EndsUtterance() {
			chunks = append(chunks, provider.Chunk{Kind: provider.ChunkFlush, Text: frame.Mark, Final: true})
		}
		for _, chunk := range chunks {
			if err := h.push(ctx, stream, chunk); err != nil {
				if errors.Is(err, provider.ErrStreamStopped) {
					return nil
				}
				return err
			}
		}
	}
}

func (h *MediaStreamHandler) push(ctx context.Context, stream provider.Stream, chunk provider.Chunk) error {
	for {
		err := stream.Push(chunk)
		if !errors.Is(err, provider.ErrBackpressure) {
			return err
		}
		timer := time.NewTimer(h.config.BackpressureWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func callInfoFrom(info telephony.CallInfo) orchestrator.CallInfo {
	out := orchestrator.CallInfo{
		CallSID:    info.CallSID,
		StreamSID:  info.StreamSID,
		Encoding:   info.Encoding,
		SampleRate: info.SampleRate,
	}
	if len(info.Parameters) > 0 {
		out.From = info.Parameters["from"]
		out.CustomerID = info.Parameters["customer_id"]
		out.Metadata = make(map[string]string, len(info.Parameters))
		for k, v := range info.Parameters {
			out.Metadata[k] = v
		}
	}
	return out
}
