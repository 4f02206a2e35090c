package ws

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultConnectTimeout       = 5 * time.Second
	defaultSecureConnectTimeout = 10 * time.Second
	defaultHeartbeatInterval    = 30 * time.Second
	defaultIdleTimeout          = 90 * time.Second
	defaultReconnectDelay       = 5 * time.Second
	defaultCloseTimeout         = 2 * time.Second
	defaultWriteTimeout         = 10 * time.Second

	// Maximum frame size accepted from the hub.
	maxMessageSize = 1 << 20
)

// State is the lifecycle state of the hub link.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateLost
	StateReconnecting
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateLost:
		return "lost"
	case StateReconnecting:
		return "reconnecting"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StatusFunc receives every connectivity transition.
type StatusFunc func(connected bool, reason string)

// SupervisorConfig configures the hub link. Zero durations take defaults.
type SupervisorConfig struct {
	Endpoints            []Endpoint
	ConnectTimeout       time.Duration
	SecureConnectTimeout time.Duration
	HeartbeatInterval    time.Duration
	IdleTimeout          time.Duration
	ReconnectDelay       time.Duration
	CloseTimeout         time.Duration
	WriteTimeout         time.Duration
	InsecureSkipVerify   bool
	Header               http.Header
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.SecureConnectTimeout <= 0 {
		c.SecureConnectTimeout = defaultSecureConnectTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = defaultCloseTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

// SupervisorHooks are invoked by the Supervisor. Frame runs on the read
// goroutine, one frame at a time in arrival order.
type SupervisorHooks struct {
	Status StatusFunc
	Frame  func(raw []byte)
	Open   func()
}

// Supervisor owns the single websocket to the hub: endpoint fallback,
// heartbeats, idle detection, and fixed-delay reconnects.
type Supervisor struct {
	cfg     SupervisorConfig
	hooks   SupervisorHooks
	tls     *tls.Config
	logger  *zap.Logger
	metrics *Metrics

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu               sync.Mutex
	state            State
	conn             *websocket.Conn
	connCancel       context.CancelFunc
	connDone         chan struct{}
	generation       uint64
	endpoint         Endpoint
	lastHeartbeat    time.Time
	retries          int
	reconnectPending bool
	reconnectSeq     uint64
	reconnectTimer   *time.Timer
	closeReason      string
	replies          map[string]func(Reply)

	writeMu sync.Mutex
}

// NewSupervisor creates an idle Supervisor. Call Start to connect.
func NewSupervisor(cfg SupervisorConfig, hooks SupervisorHooks, logger *zap.Logger, metrics *Metrics) *Supervisor {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Supervisor{
		cfg:        cfg,
		hooks:      hooks,
		tls:        &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, //nolint:gosec
		logger:     logger.Named("supervisor"),
		metrics:    metrics,
		baseCtx:    ctx,
		baseCancel: cancel,
		replies:    make(map[string]func(Reply)),
	}

	if cfg.InsecureSkipVerify {
		s.logger.Warn("TLS certificate verification is disabled for hub connections",
			zap.Int("endpoints", len(cfg.Endpoints)),
		)
	}
	return s
}

// Start connects to the first endpoint that completes a handshake. If every
// endpoint fails it returns an error wrapping ErrAllEndpointsFailed, and a
// reconnect has already been scheduled.
// It returns ErrConnectInProgress while another connect attempt is running.
func (s *Supervisor) Start(ctx context.Context) error {
	if len(s.cfg.Endpoints) == 0 {
		return errors.New("no hub endpoints configured")
	}
	return s.connect(ctx)
}

func (s *Supervisor) connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateDisposed:
		s.mu.Unlock()
		return ErrDisposed
	case StateConnecting:
		s.mu.Unlock()
		return ErrConnectInProgress
	case StateOpen, StateClosing:
		state := s.state
		s.mu.Unlock()
		s.logger.Debug("connect skipped", zap.Stringer("state", state))
		return nil
	}
	s.state = StateConnecting
	s.mu.Unlock()

	var errs []error
	for i, ep := range s.cfg.Endpoints {
		s.report(false, fmt.Sprintf("connecting to %s (%d/%d)", ep.URL, i+1, len(s.cfg.Endpoints)))

		conn, err := s.dial(ctx, ep)
		if err != nil {
			s.metrics.connectAttempt(false)
			s.logger.Warn("hub endpoint failed",
				zap.String("url", ep.URL),
				zap.Error(err),
			)
			s.report(false, fmt.Sprintf("connect to %s failed: %v", ep.URL, err))
			errs = append(errs, fmt.Errorf("%s: %w", ep.URL, err))
			if ctx.Err() != nil {
				break
			}
			continue
		}

		s.metrics.connectAttempt(true)
		return s.open(conn, ep)
	}

	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.state = StateLost
	s.retries++
	retries := s.retries
	s.mu.Unlock()

	s.logger.Warn("all hub endpoints failed", zap.Int("retries", retries))
	s.report(false, "all hub endpoints failed")
	s.ScheduleReconnect(s.cfg.ReconnectDelay)

	return errors.Join(append([]error{ErrAllEndpointsFailed}, errs...)...)
}

func (s *Supervisor) dial(ctx context.Context, ep Endpoint) (*websocket.Conn, error) {
	timeout := s.cfg.ConnectTimeout
	if ep.Secure {
		timeout = s.cfg.SecureConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		TLSClientConfig:  s.tls,
	}

	conn, resp, err := dialer.DialContext(ctx, ep.URL, s.cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake status %d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	return conn, nil
}

// open installs conn as the live channel and starts its goroutines.
func (s *Supervisor) open(conn *websocket.Conn, ep Endpoint) error {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrDisposed
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.reconnectPending = false

	s.generation++
	gen := s.generation
	connCtx, cancel := context.WithCancel(s.baseCtx)
	done := make(chan struct{})

	s.conn = conn
	s.connCancel = cancel
	s.connDone = done
	s.endpoint = ep
	s.state = StateOpen
	s.retries = 0
	s.lastHeartbeat = time.Now()
	s.closeReason = ""
	s.mu.Unlock()

	s.metrics.setConnected(true)
	s.logger.Info("hub connected", zap.String("url", ep.URL))

	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()
	go s.heartbeatLoop(connCtx, conn)
	go s.readLoop(connCtx, conn, gen, done)

	s.report(true, "connected to "+ep.URL)
	if s.hooks.Open != nil {
		s.hooks.Open()
	}
	return nil
}

func (s *Supervisor) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64, done chan struct{}) {
	reason := "connection closed"
	defer func() {
		close(done)
		s.teardown(gen, reason)
	}()

	conn.SetReadLimit(maxMessageSize)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			reason = fmt.Sprintf("set read deadline: %v", err)
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			reason = s.describeReadError(ctx, err)
			return
		}
		s.dispatch(data)
	}
}

func (s *Supervisor) describeReadError(ctx context.Context, err error) string {
	if ctx.Err() != nil {
		return "connection cancelled"
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return fmt.Sprintf("closed by hub: %d %s", closeErr.Code, closeErr.Text)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("no frame received for %s", s.cfg.IdleTimeout)
	}
	return fmt.Sprintf("read failed: %v", err)
}

func (s *Supervisor) dispatch(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("frame handler panicked", zap.Any("panic", r))
		}
	}()

	if h, ok := peekHeader(data); ok {
		switch h.Type {
		case KindReply:
			s.deliverReply(data)
			return
		case KindHeartbeatAck:
			s.mu.Lock()
			s.lastHeartbeat = time.Now()
			s.mu.Unlock()
		}
	}

	if s.hooks.Frame != nil {
		s.hooks.Frame(data)
	}
}

func (s *Supervisor) deliverReply(data []byte) {
	reply, err := decodeReply(data)
	if err != nil {
		s.logger.Warn("dropping malformed reply", zap.Error(err))
		return
	}

	s.mu.Lock()
	cb, ok := s.replies[reply.RequestID]
	delete(s.replies, reply.RequestID)
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("reply without pending request", zap.String("requestId", reply.RequestID))
		return
	}
	cb(reply)
}

func (s *Supervisor) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.write(ctx, conn, EncodeHeartbeat(time.Now())); err != nil {
				s.logger.Warn("heartbeat send failed", zap.Error(err))
			}
		}
	}
}

// teardown runs once per connection after its read loop exits.
func (s *Supervisor) teardown(gen uint64, reason string) {
	s.mu.Lock()
	if gen != s.generation || s.conn == nil {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	if s.closeReason != "" {
		reason = s.closeReason
		s.closeReason = ""
	}
	s.conn = nil
	s.connCancel()
	dropped := len(s.replies)
	s.replies = make(map[string]func(Reply))
	disposed := s.state == StateDisposed
	if !disposed {
		s.state = StateLost
	}
	s.mu.Unlock()

	_ = conn.Close()
	s.metrics.setConnected(false)
	if disposed {
		return
	}

	s.logger.Warn("hub connection lost",
		zap.String("reason", reason),
		zap.Int("droppedReplies", dropped),
	)
	s.report(false, reason)
	s.ScheduleReconnect(s.cfg.ReconnectDelay)
}

// ScheduleReconnect arms a single reconnect timer. It returns false without
// side effects if a reconnect is already pending or the Supervisor is
// disposed.
func (s *Supervisor) ScheduleReconnect(delay time.Duration) bool {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return false
	}
	if s.reconnectPending {
		s.mu.Unlock()
		s.logger.Debug("reconnect already pending")
		return false
	}
	s.reconnectPending = true
	s.reconnectSeq++
	seq := s.reconnectSeq
	s.reconnectTimer = time.AfterFunc(delay, func() { s.fireReconnect(seq) })
	s.mu.Unlock()

	s.logger.Info("reconnect scheduled", zap.Duration("delay", delay))
	s.report(false, fmt.Sprintf("reconnecting in %s", delay))
	return true
}

func (s *Supervisor) fireReconnect(seq uint64) {
	s.mu.Lock()
	if s.state == StateDisposed || !s.reconnectPending || seq != s.reconnectSeq {
		s.mu.Unlock()
		return
	}
	s.reconnectPending = false
	s.reconnectTimer = nil
	if s.state != StateOpen && s.state != StateConnecting {
		s.state = StateReconnecting
	}
	s.mu.Unlock()

	s.metrics.reconnectFired()
	s.report(false, "reconnecting")

	if err := s.connect(s.baseCtx); err != nil && !errors.Is(err, ErrDisposed) {
		s.logger.Debug("reconnect attempt failed", zap.Error(err))
	}
}

// Disconnect force-closes the current channel. The normal reconnect path
// follows.
func (s *Supervisor) Disconnect(reason string) {
	s.mu.Lock()
	if s.conn == nil {
		s.mu.Unlock()
		return
	}
	s.closeReason = reason
	s.state = StateClosing
	cancel := s.connCancel
	s.mu.Unlock()

	cancel()
}

// Dispose closes the channel gracefully, cancels timers, and prevents any
// further reconnects. It is safe to call more than once.
func (s *Supervisor) Dispose() {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return
	}
	s.state = StateDisposed
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.reconnectPending = false
	conn, done := s.conn, s.connDone
	s.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disposed")
		if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.CloseTimeout)); err != nil {
			s.logger.Debug("close frame not sent", zap.Error(err))
		}
		select {
		case <-done:
		case <-time.After(s.cfg.CloseTimeout):
		}
	}

	s.baseCancel()
	if done != nil {
		select {
		case <-done:
		case <-time.After(s.cfg.CloseTimeout):
			s.logger.Warn("read loop did not stop in time")
		}
	}

	s.metrics.setConnected(false)
	s.logger.Info("hub link disposed")
	s.report(false, "disposed")
}

// Close disposes the Supervisor.
func (s *Supervisor) Close() error {
	s.Dispose()
	return nil
}

// Send writes one frame. Writes are serialized.
func (s *Supervisor) Send(ctx context.Context, data []byte) error {
	s.mu.Lock()
	conn, state := s.conn, s.state
	s.mu.Unlock()

	if state == StateDisposed {
		return ErrDisposed
	}
	if conn == nil || state != StateOpen {
		return ErrNotConnected
	}
	return s.write(ctx, conn, data)
}

// Invoke sends a frame and registers onReply for the inline reply carrying
// requestID. Pending callbacks are dropped when the channel closes.
func (s *Supervisor) Invoke(ctx context.Context, requestID string, data []byte, onReply func(Reply)) error {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.conn == nil || s.state != StateOpen {
		s.mu.Unlock()
		return ErrNotConnected
	}
	conn := s.conn
	s.replies[requestID] = onReply
	s.mu.Unlock()

	if err := s.write(ctx, conn, data); err != nil {
		s.ForgetReply(requestID)
		return err
	}
	return nil
}

// ForgetReply removes a pending reply callback.
func (s *Supervisor) ForgetReply(requestID string) {
	s.mu.Lock()
	delete(s.replies, requestID)
	s.mu.Unlock()
}

func (s *Supervisor) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(s.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (s *Supervisor) report(connected bool, reason string) {
	s.logger.Debug("status", zap.Bool("connected", connected), zap.String("reason", reason))
	if s.hooks.Status != nil {
		s.hooks.Status(connected, reason)
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Endpoint returns the endpoint of the current or most recent connection.
func (s *Supervisor) Endpoint() Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// LastHeartbeat returns when the hub last answered a heartbeat.
func (s *Supervisor) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// Retries returns the number of consecutive failed connect rounds.
func (s *Supervisor) Retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

// ReconnectPending reports whether a reconnect timer is armed.
func (s *Supervisor) ReconnectPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnectPending
}
