package rpcclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Imnotndesh/TrueHub-sub001/internal/metrics"
	"github.com/Imnotndesh/TrueHub-sub001/internal/rpckit"
)

const (
	componentName         = "rpcclient"
	defaultConnectTimeout = 10 * time.Second
	writeTimeout          = 10 * time.Second
	closeGracePeriod      = time.Second
)

// FrameHandler receives every inbound frame and the end of every session.
// The Dispatcher is the production implementation.
//
// HandleClosed carries the epoch of the session that ended. Work registered
// against a later epoch belongs to a newer session and must survive.
type FrameHandler interface {
	HandleFrame(raw []byte)
	HandleClosed(epoch uint64, kind rpckit.Kind, cause error)
}

type ConnOptions struct {
	// URL is the full WebSocket endpoint, e.g. wss://nas.local/api/current.
	URL            string
	Insecure       bool
	ConnectTimeout time.Duration
	Header         http.Header
	Logger         *slog.Logger
	Metrics        *metrics.Collector
}

// Conn owns the single persistent transport to the middleware and its
// connection state machine.
type Conn struct {
	opts   ConnOptions
	dialer *websocket.Dialer
	logger *slog.Logger

	mu          sync.RWMutex
	state       State
	attempt     *connectAttempt
	sess        *session
	handler     FrameHandler
	observers   []func(State)
	transitions int
	epoch       uint64
}

type connectAttempt struct {
	done   chan struct{}
	cancel context.CancelFunc
	ok     bool
	err    error
}

type session struct {
	id      string
	epoch   uint64
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func NewConn(opts ConnOptions) *Conn {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.ConnectTimeout,
	}
	if opts.Insecure {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed NAS certificates
	}
	return &Conn{
		opts:   opts,
		dialer: dialer,
		logger: logger.With("component", componentName),
		state:  StateDisconnected,
	}
}

// SetHandler installs the frame handler. It must be called before Connect.
func (c *Conn) SetHandler(h FrameHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// OnStateChange registers an observer invoked after every transition, outside
// the connection lock.
func (c *Conn) OnStateChange(fn func(State)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

func (c *Conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Conn) IsConnected() bool {
	return c.State() == StateConnected
}

// Transitions reports how many state changes have happened so far.
func (c *Conn) Transitions() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transitions
}

// Epoch numbers sessions: it increases with every successful Connect.
func (c *Conn) Epoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// Connect opens the transport. It returns true without reopening when the
// connection is already up, and joins an attempt that is already running.
func (c *Conn) Connect(ctx context.Context) (bool, error) {
	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return true, nil
	case StateConnecting:
		attempt := c.attempt
		c.mu.Unlock()
		select {
		case <-attempt.done:
			return attempt.ok, attempt.err
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	attempt := &connectAttempt{done: make(chan struct{}), cancel: cancel}
	c.attempt = attempt
	c.transitionLocked(StateConnecting)
	c.mu.Unlock()
	c.emit(StateConnecting)

	started := time.Now()
	ws, _, err := c.dialer.DialContext(dialCtx, c.opts.URL, c.opts.Header)
	cancel()

	c.mu.Lock()
	if c.attempt != attempt {
		// Disconnect won the race; it already moved the state back.
		c.mu.Unlock()
		if ws != nil {
			_ = ws.Close()
		}
		c.finishAttempt(attempt, false, rpckit.ErrConnectionClosed)
		return false, rpckit.NewCallError(rpckit.KindConnectionClosed, "", rpckit.ErrConnectionClosed)
	}
	c.attempt = nil
	if err != nil {
		c.transitionLocked(StateDisconnected)
		c.mu.Unlock()
		c.emit(StateDisconnected)
		kind := rpckit.KindTransport
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			kind = rpckit.KindTimeout
		}
		connectErr := rpckit.NewCallError(kind, "", fmt.Errorf("connect %s: %w", c.opts.URL, err))
		c.logger.Warn("connect failed", "operation", "connect", "kind", string(kind), "error", err.Error(), "latency_ms", time.Since(started).Milliseconds())
		c.finishAttempt(attempt, false, connectErr)
		return false, connectErr
	}
	c.epoch++
	sess := &session{id: uuid.NewString(), epoch: c.epoch, ws: ws}
	c.sess = sess
	c.transitionLocked(StateConnected)
	c.mu.Unlock()

	c.logger.Info("connected", "operation", "connect", "connection_id", sess.id, "latency_ms", time.Since(started).Milliseconds())
	go c.readLoop(sess)
	c.emit(StateConnected)
	c.finishAttempt(attempt, true, nil)
	return true, nil
}

// Disconnect closes the transport and forces the Disconnected state. Every
// pending request is failed with a connection-closed error right away.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	prev := c.state
	if c.attempt != nil {
		c.attempt.cancel()
		c.attempt = nil
	}
	sess := c.sess
	c.sess = nil
	handler := c.handler
	epoch := c.epoch
	changed := c.transitionLocked(StateDisconnected)
	c.mu.Unlock()

	if sess != nil {
		sess.close()
		c.logger.Info("disconnected", "operation", "disconnect", "connection_id", sess.id, "previous_state", prev.String())
	}
	if changed {
		c.emit(StateDisconnected)
	}
	if handler != nil {
		handler.HandleClosed(epoch, rpckit.KindConnectionClosed, rpckit.ErrConnectionClosed)
	}
}

// Send writes one text frame. Writes are serialized per session.
func (c *Conn) Send(payload []byte) error {
	c.mu.RLock()
	sess := c.sess
	c.mu.RUnlock()
	if sess == nil {
		return rpckit.ErrNotConnected
	}
	sess.writeMu.Lock()
	_ = sess.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := sess.ws.WriteMessage(websocket.TextMessage, payload)
	sess.writeMu.Unlock()
	if err != nil {
		c.drop(sess, err)
		return err
	}
	return nil
}

func (c *Conn) readLoop(sess *session) {
	for {
		_, raw, err := sess.ws.ReadMessage()
		if err != nil {
			c.drop(sess, err)
			return
		}
		c.mu.RLock()
		handler := c.handler
		c.mu.RUnlock()
		if handler != nil {
			handler.HandleFrame(raw)
		}
	}
}

// drop tears down sess after a transport error. It is a no-op when sess is no
// longer current, e.g. after an explicit Disconnect. The handler only drains
// requests of sess's epoch, so a reconnect racing with drop keeps its calls.
func (c *Conn) drop(sess *session, cause error) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	handler := c.handler
	changed := c.transitionLocked(StateDisconnected)
	c.mu.Unlock()

	_ = sess.ws.Close()
	c.logger.Warn("transport lost", "operation", "read", "connection_id", sess.id, "error", cause.Error())
	if changed {
		c.emit(StateDisconnected)
	}
	if handler != nil {
		handler.HandleClosed(sess.epoch, rpckit.KindTransport, fmt.Errorf("%w: %v", rpckit.ErrConnectionClosed, cause))
	}
}

func (c *Conn) finishAttempt(attempt *connectAttempt, ok bool, err error) {
	attempt.ok = ok
	attempt.err = err
	close(attempt.done)
}

func (c *Conn) transitionLocked(next State) bool {
	if c.state == next {
		return false
	}
	if !validTransition(c.state, next) {
		c.logger.Error("invalid state transition", "from", c.state.String(), "to", next.String())
		if next != StateDisconnected {
			return false
		}
	}
	c.state = next
	c.transitions++
	c.opts.Metrics.RecordTransition(next.String())
	return true
}

func (c *Conn) emit(state State) {
	c.mu.RLock()
	observers := slices.Clone(c.observers)
	c.mu.RUnlock()
	for _, fn := range observers {
		fn(state)
	}
}

func (s *session) close() {
	s.writeMu.Lock()
	_ = s.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGracePeriod),
	)
	s.writeMu.Unlock()
	_ = s.ws.Close()
}
