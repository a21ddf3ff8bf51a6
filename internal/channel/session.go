package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voicechat/internal/domain"
	"voicechat/internal/metrics"
)

const (
	DefaultURL            = "ws://localhost:8000/ws"
	DefaultReconnectDelay = 2 * time.Second

	subscriberBuffer = 32
	closeWriteWait   = time.Second
)

// Config controls the conversational channel.
type Config struct {
	URL            string
	ReconnectDelay time.Duration
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithMetrics records channel activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(s *Session) { s.dialer = d }
}

// Session keeps one logical websocket to the conversational service. Every
// close, clean or not, schedules exactly one reconnect after a fixed delay
// until Close is called.
type Session struct {
	cfg     Config
	dialer  *websocket.Dialer
	logger  *slog.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     domain.ConnectionState
	conn      *websocket.Conn
	dialing   bool
	reconnect *time.Timer
	closed    bool
	// announcing is set while dial is delivering connected. Close leaves the
	// matching disconnected to dial so the two cannot be reordered.
	announcing bool

	// testHookConnected runs after a dial succeeds and before connected is
	// delivered.
	testHookConnected func()

	writeMu sync.Mutex

	subMu      sync.RWMutex
	subs       []chan domain.ChannelEvent
	subsClosed bool

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewSession(cfg Config, opts ...Option) *Session {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		logger: slog.Default().With("component", "channel"),
		ctx:    ctx,
		cancel: cancel,
		state:  domain.ConnectionDisconnected,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect starts the first dial in the background. It is a no-op while a
// connection is open or pending, and after Close.
func (s *Session) Connect() {
	s.mu.Lock()
	if s.closed || s.conn != nil || s.dialing || s.reconnect != nil {
		s.mu.Unlock()
		return
	}
	s.dialing = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.dial()
}

// Subscribe returns a stream of lifecycle and inbound events. The stream is
// closed by Close and must be drained by the subscriber.
func (s *Session) Subscribe() <-chan domain.ChannelEvent {
	ch := make(chan domain.ChannelEvent, subscriberBuffer)

	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.subsClosed {
		close(ch)
		return ch
	}
	s.subs = append(s.subs, ch)
	return ch
}

// State reports whether the channel is currently connected.
func (s *Session) State() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send writes text when connected and reports whether it was handed to the
// transport. While disconnected the message is dropped, never queued.
func (s *Session) Send(text string) bool {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		s.metrics.RecordSend(false)
		s.logger.Debug("channel disconnected, message dropped")
		return false
	}

	payload, err := encodeOutbound(text)
	if err != nil {
		s.logger.Error("encode outbound message", "error", err)
		return false
	}

	s.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	s.writeMu.Unlock()
	if err != nil {
		s.metrics.RecordSend(false)
		s.logger.Warn("channel write failed", "error", fmt.Errorf("%w: %v", domain.ErrChannelTransport, err))
		// The read loop observes the closed socket and takes the reconnect path.
		_ = conn.Close()
		return false
	}

	s.metrics.RecordSend(true)
	return true
}

// Close tears the channel down. Pending reconnects are cancelled, no further
// reconnect is scheduled and every subscriber stream is closed.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		if s.reconnect != nil {
			s.reconnect.Stop()
			s.reconnect = nil
		}
		conn := s.conn
		s.conn = nil
		wasConnected := s.state == domain.ConnectionConnected && !s.announcing
		s.state = domain.ConnectionDisconnected
		s.mu.Unlock()

		s.cancel()
		if conn != nil {
			s.writeMu.Lock()
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeWriteWait),
			)
			s.writeMu.Unlock()
			_ = conn.Close()
		}
		if wasConnected {
			s.offer(domain.ChannelEvent{Kind: domain.ChannelDisconnected})
		}

		close(s.done)
		s.wg.Wait()

		s.subMu.Lock()
		s.subsClosed = true
		for _, ch := range s.subs {
			close(ch)
		}
		s.subs = nil
		s.subMu.Unlock()

		s.logger.Info("channel closed")
	})
	return nil
}

func (s *Session) dial() {
	defer s.wg.Done()

	s.metrics.RecordConnectAttempt()
	conn, _, err := s.dialer.DialContext(s.ctx, s.cfg.URL, nil)

	s.mu.Lock()
	s.dialing = false
	if err != nil {
		closed := s.closed
		if !closed {
			s.scheduleReconnectLocked()
		}
		s.mu.Unlock()
		if !closed {
			s.logger.Warn("channel dial failed",
				"url", s.cfg.URL,
				"retry_in", s.cfg.ReconnectDelay,
				"error", fmt.Errorf("%w: %v", domain.ErrChannelTransport, err),
			)
		}
		return
	}
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.state = domain.ConnectionConnected
	s.announcing = true
	s.wg.Add(1)
	s.mu.Unlock()

	s.metrics.RecordConnected()
	s.logger.Info("channel connected", "url", s.cfg.URL)
	if s.testHookConnected != nil {
		s.testHookConnected()
	}
	s.emit(domain.ChannelEvent{Kind: domain.ChannelConnected})

	s.mu.Lock()
	s.announcing = false
	closed := s.closed
	s.mu.Unlock()
	if closed {
		s.offer(domain.ChannelEvent{Kind: domain.ChannelDisconnected})
	}

	go s.readLoop(conn)
}

func (s *Session) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			s.handleClose(conn, err)
			return
		}
		s.handlePayload(payload)
	}
}

func (s *Session) handlePayload(payload []byte) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		s.metrics.RecordEnvelope("")
		s.logger.Debug("dropping malformed envelope", "error", err)
		return
	}
	s.metrics.RecordEnvelope(env.Type)

	switch env.Type {
	case envelopeTypeAIResponse:
		s.emit(domain.ChannelEvent{Kind: domain.ChannelAIMessage, Text: env.Message})
	case envelopeTypeError:
		s.logger.Warn("service reported an error", "message", env.Message)
	default:
		s.logger.Debug("dropping unrecognized envelope", "type", env.Type)
	}
}

// handleClose collapses transport errors and clean closes into one teardown
// and reconnect path. They differ only in log level.
func (s *Session) handleClose(conn *websocket.Conn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = domain.ConnectionDisconnected
	closed := s.closed
	s.mu.Unlock()

	_ = conn.Close()
	if closed {
		return
	}

	s.metrics.RecordDrop()
	if isCleanClose(err) {
		s.logger.Info("channel closed by peer", "retry_in", s.cfg.ReconnectDelay)
	} else {
		s.logger.Warn("channel connection lost",
			"retry_in", s.cfg.ReconnectDelay,
			"error", fmt.Errorf("%w: %v", domain.ErrChannelTransport, err),
		)
	}
	s.emit(domain.ChannelEvent{Kind: domain.ChannelDisconnected})

	// Scheduled after the disconnected event so subscribers never observe a
	// reconnect before the drop that caused it.
	s.mu.Lock()
	if !s.closed {
		s.scheduleReconnectLocked()
	}
	s.mu.Unlock()
}

// scheduleReconnectLocked arms the reconnect timer unless an attempt is
// already outstanding. Callers hold s.mu.
func (s *Session) scheduleReconnectLocked() {
	if s.reconnect != nil || s.dialing || s.conn != nil {
		return
	}
	s.reconnect = time.AfterFunc(s.cfg.ReconnectDelay, s.redial)
}

func (s *Session) redial() {
	s.mu.Lock()
	s.reconnect = nil
	if s.closed || s.conn != nil || s.dialing {
		s.mu.Unlock()
		return
	}
	s.dialing = true
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("channel reconnecting", "url", s.cfg.URL)
	s.dial()
}

func (s *Session) emit(event domain.ChannelEvent) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	if s.subsClosed {
		return
	}
	for _, ch := range s.subs {
		select {
		case ch <- event:
		case <-s.done:
			return
		}
	}
}

// offer delivers without blocking and is used once the session is closing.
func (s *Session) offer(event domain.ChannelEvent) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	if s.subsClosed {
		return
	}
	for _, ch := range s.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

func isCleanClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	return closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway
}
