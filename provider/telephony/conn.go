package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/BaSui01/callflow/types"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const readLimit = 1 << 20

// Conn 是一条 Twilio Media Streams WebSocket 连接。
// 写操作通过 mutex 保护，因为 WebSocket 不支持并发写。
type Conn struct {
	ws     *websocket.Conn
	logger *zap.Logger

	mu     sync.Mutex // 保护写操作与 info
	info   CallInfo
	closed bool
}

// Accept upgrades an HTTP request coming from Twilio.
func Accept(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (*Conn, error) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Twilio 不发送浏览器 Origin
		InsecureSkipVerify: true,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket accept: %w", err)
	}
	return NewConn(ws, logger), nil
}

// NewConn wraps an established WebSocket connection.
func NewConn(ws *websocket.Conn, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	ws.SetReadLimit(readLimit)
	return &Conn{
		ws:     ws,
		logger: logger.With(zap.String("component", "twilio_conn")),
	}
}

// Handshake reads until the start event and returns the call description.
func (c *Conn) Handshake(ctx context.Context) (CallInfo, error) {
	for {
		msg, err := c.ReadMessage(ctx)
		if err != nil {
			return CallInfo{}, err
		}
		switch msg.Event {
		case EventConnected:
			c.logger.Debug("media stream connected", zap.String("protocol", msg.Protocol))
		case EventStart:
			info := callInfo(msg)
			if info.StreamSID == "" {
				return CallInfo{}, fmt.Errorf("start event without streamSid")
			}
			c.mu.Lock()
			c.info = info
			c.mu.Unlock()
			c.logger.Info("media stream started",
				zap.String("stream_sid", info.StreamSID),
				zap.String("call_sid", info.CallSID),
			)
			return info, nil
		default:
			return CallInfo{}, fmt.Errorf("unexpected %q event before start", msg.Event)
		}
	}
}

// Info returns the call description captured by Handshake.
func (c *Conn) Info() CallInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// ReadMessage reads one message. Canceling ctx closes the connection.
func (c *Conn) ReadMessage(ctx context.Context) (Message, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("websocket read: %w", err)
	}
	return DecodeMessage(data)
}

func (c *Conn) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// SendAudio writes one outbound media message.
func (c *Conn) SendAudio(ctx context.Context, frame types.AudioFrame) error {
	data, err := EncodeMedia(c.Info().StreamSID, frame)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

// SendMark writes a mark; Twilio echoes it once playback reaches it.
func (c *Conn) SendMark(ctx context.Context, name string) error {
	data, err := EncodeMark(c.Info().StreamSID, name)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

// Clear asks Twilio to drop audio it has buffered but not yet played.
func (c *Conn) Clear(ctx context.Context) error {
	data, err := EncodeClear(c.Info().StreamSID)
	if err != nil {
		return err
	}
	return c.write(ctx, data)
}

// Close 关闭 WebSocket 连接。
func (c *Conn) Close(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close(websocket.StatusNormalClosure, reason)
}

// isNormalClose reports whether err is the peer closing the socket cleanly.
func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
