package telephony

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/BaSui01/callflow/provider"
	"github.com/BaSui01/callflow/types"
	"go.uber.org/zap"
)

const (
	defaultInboundQueue  = 64
	defaultOutboundQueue = 256
	defaultFlushTimeout  = time.Second
)

// Option configures an Adapter.
type Option func(*Adapter)

// WithOutboundQueue sets how many outbound frames a stream queues before
// Push reports back-pressure.
func WithOutboundQueue(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.outboundQueue = n
		}
	}
}

// WithDTMFHandler registers a callback for keypad digits.
func WithDTMFHandler(fn func(streamSID, digit string)) Option {
	return func(a *Adapter) { a.onDTMF = fn }
}

// WithFlushTimeout bounds how long Stop waits for queued audio to be written.
func WithFlushTimeout(d time.Duration) Option {
	return func(a *Adapter) { a.flushTimeout = d }
}

// Adapter is the Telephony-Media variant for Twilio Media Streams. Inbound
// connections are attached by stream SID; Start binds a session to one of them.
type Adapter struct {
	logger        *zap.Logger
	outboundQueue int
	flushTimeout  time.Duration
	onDTMF        func(streamSID, digit string)

	mu    sync.Mutex
	conns map[string]*Conn
}

// NewAdapter creates a Twilio media adapter.
func NewAdapter(logger *zap.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{
		logger:        logger.With(zap.String("component", "twilio_adapter")),
		outboundQueue: defaultOutboundQueue,
		flushTimeout:  defaultFlushTimeout,
		conns:         make(map[string]*Conn),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string                    { return "twilio" }
func (a *Adapter) Capability() provider.Capability { return provider.CapabilityTelephony }

// Attach registers a handshaken connection under its stream SID.
func (a *Adapter) Attach(conn *Conn) error {
	sid := conn.Info().StreamSID
	if sid == "" {
		return errors.New("connection has not completed the handshake")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.conns[sid]; exists {
		return fmt.Errorf("stream %s already attached", sid)
	}
	a.conns[sid] = conn
	return nil
}

// Detach forgets a connection.
func (a *Adapter) Detach(streamSID string) {
	a.mu.Lock()
	delete(a.conns, streamSID)
	a.mu.Unlock()
}

// Active returns the number of attached connections.
func (a *Adapter) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}

// Start binds to the connection attached under streamSID.
func (a *Adapter) Start(ctx context.Context, streamSID string) (provider.Stream, error) {
	a.mu.Lock()
	conn, ok := a.conns[streamSID]
	a.mu.Unlock()
	if !ok {
		return nil, types.NewProviderError(a.Name(), types.ProviderTransient,
			fmt.Errorf("stream %s is not attached", streamSID))
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &mediaStream{
		adapter:   a,
		conn:      conn,
		info:      conn.Info(),
		ctx:       sctx,
		cancel:    cancel,
		in:        make(chan provider.Chunk, defaultInboundQueue),
		out:       make(chan outbound, a.outboundQueue),
		stopping:  make(chan struct{}),
		readDone:  make(chan struct{}),
		writeDone: make(chan struct{}),
		logger:    a.logger.With(zap.String("stream_sid", streamSID)),
	}
	go s.readLoop()
	go s.writeLoop()
	return s, nil
}

type outbound struct {
	frame types.AudioFrame
	mark  string
}

// mediaStream 是单通电话的 provider.Stream。
type mediaStream struct {
	adapter *Adapter
	conn    *Conn
	info    CallInfo
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	in        chan provider.Chunk
	out       chan outbound
	stopping  chan struct{}
	readDone  chan struct{}
	writeDone chan struct{}
	readErr   error

	mu       sync.Mutex
	stopped  bool
	marks    int
	stopOnce sync.Once
}

func (s *mediaStream) readLoop() {
	defer close(s.readDone)
	var seq int64
	for {
		msg, err := s.conn.ReadMessage(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil && !isNormalClose(err) {
				s.readErr = types.NewProviderError(s.adapter.Name(), types.ProviderTransient, err)
			}
			return
		}
		switch msg.Event {
		case EventMedia:
			frame, err := DecodeMedia(msg, s.info, seq)
			if err != nil {
				s.logger.Warn("dropping malformed media event", zap.Error(err))
				continue
			}
			seq = frame.Seq + 1
			select {
			case s.in <- provider.AudioChunk(frame):
			case <-s.ctx.Done():
				return
			}
		case EventMark:
			if msg.Mark != nil {
				s.logger.Debug("mark played", zap.String("mark", msg.Mark.Name))
			}
		case EventDTMF:
			if msg.DTMF != nil && s.adapter.onDTMF != nil {
				s.adapter.onDTMF(s.info.StreamSID, msg.DTMF.Digit)
			}
		case EventStop:
			s.logger.Info("media stream stopped by peer")
			return
		}
	}
}

func (s *mediaStream) writeLoop() {
	defer close(s.writeDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case o := <-s.out:
			s.send(o)
		case <-s.stopping:
			for {
				select {
				case o := <-s.out:
					s.send(o)
				default:
					return
				}
			}
		}
	}
}

func (s *mediaStream) send(o outbound) {
	var err error
	if o.mark != "" {
		err = s.conn.SendMark(s.ctx, o.mark)
	} else {
		err = s.conn.SendAudio(s.ctx, o.frame)
	}
	if err != nil && s.ctx.Err() == nil {
		s.logger.Warn("outbound write failed", zap.Error(err))
	}
}

// Push queues an outbound frame, or a mark for ChunkFlush.
func (s *mediaStream) Push(c provider.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return provider.ErrStreamStopped
	}

	var o outbound
	switch c.Kind {
	case provider.ChunkAudio:
		o.frame = c.Audio
	case provider.ChunkFlush:
		s.marks++
		o.mark = c.Text
		if o.mark == "" {
			o.mark = fmt.Sprintf("utterance-%d", s.marks)
		}
	default:
		return fmt.Errorf("telephony stream does not accept chunk kind %d", c.Kind)
	}

	select {
	case s.out <- o:
		return nil
	default:
		return provider.ErrBackpressure
	}
}

// Pull returns the next inbound frame; io.EOF after the call stops.
func (s *mediaStream) Pull(ctx context.Context) (provider.Chunk, error) {
	select {
	case c := <-s.in:
		return c, nil
	case <-s.readDone:
		select {
		case c := <-s.in:
			return c, nil
		default:
		}
		if s.readErr != nil {
			return provider.Chunk{}, s.readErr
		}
		return provider.Chunk{}, io.EOF
	case <-ctx.Done():
		return provider.Chunk{}, ctx.Err()
	}
}

// Stop flushes queued outbound audio (bounded), then closes the call leg.
func (s *mediaStream) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()

		close(s.stopping)
		select {
		case <-s.writeDone:
		case <-time.After(s.adapter.flushTimeout):
			s.logger.Warn("outbound flush timed out")
		}
		s.cancel()
		_ = s.conn.Close("call ended")
		<-s.readDone
		<-s.writeDone
		s.adapter.Detach(s.info.StreamSID)
	})
	return nil
}
