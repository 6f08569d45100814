package handlers

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/callflow/orchestrator"
	"github.com/BaSui01/callflow/provider/telephony"
	"github.com/BaSui01/callflow/testutil/fixtures"
	"github.com/BaSui01/callflow/types"
)

// echoCalls 把每个入站帧原样作为出站帧返回，每 markEvery 帧给该帧打上发言结束标记。
type echoCalls struct {
	markEvery int

	mu      sync.Mutex
	created []orchestrator.CallInfo
	frames  []types.AudioFrame
	ends    int

	out     chan types.AudioFrame
	ended   chan struct{}
	endOnce sync.Once
}

func newEchoCalls(markEvery int) *echoCalls {
	return &echoCalls{
		markEvery: markEvery,
		out:       make(chan types.AudioFrame, 64),
		ended:     make(chan struct{}),
	}
}

func (e *echoCalls) CreateSession(_ context.Context, info orchestrator.CallInfo) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.created = append(e.created, info)
	return "sess-1", nil
}

func (e *echoCalls) FeedInboundAudio(_ context.Context, id string, frame types.AudioFrame) error {
	select {
	case <-e.ended:
		return types.NewError(types.ErrSessionEnded, "ended")
	default:
	}
	e.mu.Lock()
	e.frames = append(e.frames, frame)
	n := len(e.frames)
	e.mu.Unlock()

	if e.markEvery > 0 && n%e.markEvery == 0 {
		frame.Mark = "turn-1"
	}
	e.out <- frame
	return nil
}

func (e *echoCalls) DrainOutboundAudio(ctx context.Context, id string) (types.AudioFrame, error) {
	select {
	case f := <-e.out:
		return f, nil
	case <-e.ended:
		return types.AudioFrame{}, io.EOF
	case <-ctx.Done():
		return types.AudioFrame{}, ctx.Err()
	}
}

func (e *echoCalls) EndSession(id string) error {
	e.mu.Lock()
	e.ends++
	e.mu.Unlock()
	e.endOnce.Do(func() { close(e.ended) })
	return nil
}

func (e *echoCalls) end() { _ = e.EndSession("sess-1") }

func (e *echoCalls) snapshot() ([]orchestrator.CallInfo, []types.AudioFrame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]orchestrator.CallInfo(nil), e.created...), append([]types.AudioFrame(nil), e.frames...)
}

type countingDrops struct {
	mu sync.Mutex
	n  int
}

func (c *countingDrops) BufferDropped(buffer, reason string, n int) {
	c.mu.Lock()
	c.n += n
	c.mu.Unlock()
}

func (c *countingDrops) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func startBridge(t *testing.T, calls CallOrchestrator, cfg MediaStreamConfig, opts ...MediaStreamOption) (*httptest.Server, *telephony.Adapter) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	adapter := telephony.NewAdapter(logger, telephony.WithFlushTimeout(200*time.Millisecond))
	srv := httptest.NewServer(NewMediaStreamHandler(calls, adapter, cfg, logger, opts...))
	t.Cleanup(srv.Close)
	return srv, adapter
}

func dial(t *testing.T, ctx context.Context, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/media-stream", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.CloseNow() })
	return ws
}

func send(t *testing.T, ctx context.Context, ws *websocket.Conn, data []byte) {
	t.Helper()
	require.NoError(t, ws.Write(ctx, websocket.MessageText, data))
}

func readMessage(t *testing.T, ctx context.Context, ws *websocket.Conn) telephony.Message {
	t.Helper()
	_, data, err := ws.Read(ctx)
	require.NoError(t, err)
	msg, err := telephony.DecodeMessage(data)
	require.NoError(t, err)
	return msg
}

func TestMediaStreamHandler_BridgesCall(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	calls := newEchoCalls(2)
	srv, adapter := startBridge(t, calls, DefaultMediaStreamConfig())
	ws := dial(t, ctx, srv)

	send(t, ctx, ws, fixtures.ConnectedMessage())
	send(t, ctx, ws, fixtures.StartMessage(fixtures.StreamSID, fixtures.CallSID,
		map[string]string{"from": "+15550100", "customer_id": "cust-7"}))
	send(t, ctx, ws, fixtures.MediaMessage(fixtures.StreamSID, 0, []byte{0x01, 0x02}))
	send(t, ctx, ws, fixtures.MediaMessage(fixtures.StreamSID, 1, []byte{0x03, 0x04}))

	first := readMessage(t, ctx, ws)
	assert.Equal(t, telephony.EventMedia, first.Event)
	assert.Equal(t, fixtures.StreamSID, first.StreamSID)
	assert.Equal(t, "AQI=", first.Media.Payload)

	second := readMessage(t, ctx, ws)
	assert.Equal(t, telephony.EventMedia, second.Event)
	assert.Equal(t, "AwQ=", second.Media.Payload)

	mark := readMessage(t, ctx, ws)
	assert.Equal(t, telephony.EventMark, mark.Event)
	require.NotNil(t, mark.Mark)
	assert.Equal(t, "turn-1", mark.Mark.Name)

	assert.Equal(t, 1, adapter.Active())

	send(t, ctx, ws, fixtures.StopMessage(fixtures.StreamSID, fixtures.CallSID))

	// 挂断后服务端结束会话并关闭连接
	_, _, err := ws.Read(ctx)
	require.Error(t, err)

	require.Eventually(t, func() bool { return adapter.Active() == 0 }, 2*time.Second, 10*time.Millisecond)

	created, frames := calls.snapshot()
	require.Len(t, created, 1)
	assert.Equal(t, fixtures.CallSID, created[0].CallSID)
	assert.Equal(t, fixtures.StreamSID, created[0].StreamSID)
	assert.Equal(t, "+15550100", created[0].From)
	assert.Equal(t, "cust-7", created[0].CustomerID)
	assert.Equal(t, types.EncodingMulaw, created[0].Encoding)
	assert.Equal(t, 8000, created[0].SampleRate)

	require.Len(t, frames, 2)
	assert.Equal(t, int64(0), frames[0].Seq)
	assert.Equal(t, int64(1), frames[1].Seq)
}

func TestMediaStreamHandler_SessionEndClosesCall(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	calls := newEchoCalls(0)
	srv, adapter := startBridge(t, calls, DefaultMediaStreamConfig())
	ws := dial(t, ctx, srv)

	send(t, ctx, ws, fixtures.StartMessage(fixtures.StreamSID, fixtures.CallSID, nil))
	require.Eventually(t, func() bool {
		created, _ := calls.snapshot()
		return len(created) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// 编排器侧结束（超时、转人工等）
	calls.end()

	_, _, err := ws.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
	require.Eventually(t, func() bool { return adapter.Active() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestMediaStreamHandler_HandshakeRejected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	calls := newEchoCalls(0)
	srv, _ := startBridge(t, calls, DefaultMediaStreamConfig())
	ws := dial(t, ctx, srv)

	send(t, ctx, ws, fixtures.MediaMessage(fixtures.StreamSID, 0, []byte{0x01}))

	_, _, err := ws.Read(ctx)
	require.Error(t, err)
	created, _ := calls.snapshot()
	assert.Empty(t, created)
}

func TestMediaStreamHandler_HandshakeTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := DefaultMediaStreamConfig()
	cfg.HandshakeTimeout = 50 * time.Millisecond
	calls := newEchoCalls(0)
	srv, _ := startBridge(t, calls, cfg)
	ws := dial(t, ctx, srv)

	_, _, err := ws.Read(ctx)
	require.Error(t, err)
	created, _ := calls.snapshot()
	assert.Empty(t, created)
}

func TestMediaStreamHandler_RateLimitsInbound(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := DefaultMediaStreamConfig()
	cfg.MaxFramesPerSecond = 1
	cfg.FrameBurst = 2
	calls := newEchoCalls(0)
	drops := &countingDrops{}
	srv, _ := startBridge(t, calls, cfg, WithDropRecorder(drops))
	ws := dial(t, ctx, srv)

	send(t, ctx, ws, fixtures.StartMessage(fixtures.StreamSID, fixtures.CallSID, nil))
	for i := 0; i < 6; i++ {
		send(t, ctx, ws, fixtures.MediaMessage(fixtures.StreamSID, i, []byte{byte(i)}))
	}

	require.Eventually(t, func() bool { return drops.count() >= 3 }, 2*time.Second, 10*time.Millisecond)
	_, frames := calls.snapshot()
	assert.LessOrEqual(t, len(frames), 3)
	assert.GreaterOrEqual(t, len(frames), 2)
}

func TestCallInfoFrom(t *testing.T) {
	info := callInfoFrom(telephony.CallInfo{
		StreamSID:  "MZ1",
		CallSID:    "CA1",
		Encoding:   types.EncodingMulaw,
		SampleRate: 8000,
	})
	assert.Equal(t, "CA1", info.CallSID)
	assert.Nil(t, info.Metadata)
	assert.Empty(t, info.CustomerID)
}
