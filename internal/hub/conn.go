// Package hub owns the persistent duplex connection to the platform hub:
// connect, automatic reconnect with backoff, and teardown, with named
// fire-and-forget invocations out and named events in.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"contactbot/internal/backoff"
	"contactbot/internal/domain"
	"contactbot/internal/metrics"
)

// ErrAlreadyClosed is returned by Close on a connection that was already
// torn down. Closing twice is a caller error, not a no-op.
var ErrAlreadyClosed = errors.New("hub connection already closed")

// ConnectionError is a failure to establish the duplex channel.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("hub connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SendError is a failed outbound invocation. It is scoped to the operation
// that issued it and never tears the connection down by itself.
type SendError struct {
	Target string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("hub send %s failed: %v", e.Target, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

const (
	defaultEstablishTimeout = 30 * time.Second
	defaultPingInterval     = 15 * time.Second
	writeTimeout            = 10 * time.Second
)

// Options configures a hub connection.
type Options struct {
	URL           string
	Authorization string // full bearer string
	MachineID     string // per-process client identifier, sent as UID
	AccessKey     string // static platform access key

	// EstablishTimeout bounds the whole connect sequence (dial plus
	// protocol handshake), independent of the websocket library's own
	// handshake timeout; whichever trips first fails the connect.
	EstablishTimeout time.Duration
	PingInterval     time.Duration
	Reconnect        backoff.Policy
	Logger           *slog.Logger
}

// Conn is a supervised hub connection. After a successful Dial it keeps
// itself connected (reconnecting with backoff on unexpected disconnects)
// until Close is called.
type Conn struct {
	opts   Options
	logger *slog.Logger

	state atomic.Int32

	writeMu sync.Mutex // serializes websocket writes
	connMu  sync.Mutex // guards ws swap and closed flag
	ws      *websocket.Conn
	closed  bool
	done    chan struct{}

	handlersMu sync.RWMutex
	handlers   map[string]domain.HubHandler

	loops sync.WaitGroup
}

var _ domain.Hub = (*Conn)(nil)

// Dial establishes the duplex channel and starts its supervision loops.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.EstablishTimeout <= 0 {
		opts.EstablishTimeout = defaultEstablishTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}

	c := &Conn{
		opts:     opts,
		logger:   opts.Logger,
		done:     make(chan struct{}),
		handlers: make(map[string]domain.HubHandler),
	}
	c.setState(domain.HubConnecting)

	ws, err := c.dial(ctx)
	if err != nil {
		c.setState(domain.HubDisconnected)
		return nil, &ConnectionError{Err: err}
	}
	c.ws = ws
	c.setState(domain.HubConnected)
	c.logger.Info("hub connected", "url", c.opts.URL)

	c.loops.Add(2)
	go c.readLoop()
	go c.pingLoop()
	return c, nil
}

// dial opens the websocket and performs the protocol handshake under the
// establish timeout.
func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.EstablishTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", c.opts.Authorization)
	header.Set("UID", c.opts.MachineID)
	header.Set("SecretClientAccessKey", c.opts.AccessKey)

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.EstablishTimeout}
	ws, resp, err := dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", c.opts.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}

	if err := c.handshake(ctx, ws); err != nil {
		ws.Close()
		return nil, err
	}
	return ws, nil
}

func (c *Conn) handshake(ctx context.Context, ws *websocket.Conn) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.opts.EstablishTimeout)
	}

	frame, err := encodeFrame(handshakeRequest{Protocol: "json", Version: 1})
	if err != nil {
		return err
	}
	ws.SetWriteDeadline(deadline)
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("send handshake: %w", err)
	}

	ws.SetReadDeadline(deadline)
	_, data, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("read handshake response: %w", err)
	}
	ws.SetReadDeadline(time.Time{})

	frames := splitFrames(data)
	if len(frames) == 0 {
		return fmt.Errorf("empty handshake response")
	}
	var hr handshakeResponse
	if err := json.Unmarshal(frames[0], &hr); err != nil {
		return fmt.Errorf("decode handshake response: %w", err)
	}
	if hr.Error != "" {
		return fmt.Errorf("handshake rejected: %s", hr.Error)
	}
	return nil
}

// On registers the handler for a named inbound event. One handler per event
// name; a second registration replaces the first.
func (c *Conn) On(target string, handler domain.HubHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[target] = handler
}

// Send issues a fire-and-forget invocation on the channel.
func (c *Conn) Send(ctx context.Context, target string, args ...any) error {
	if s := c.State(); s != domain.HubConnected {
		metrics.SendErrors.Inc()
		return &SendError{Target: target, Err: fmt.Errorf("connection is %s", s)}
	}

	frame, err := encodeInvocation(target, args)
	if err != nil {
		metrics.SendErrors.Inc()
		return &SendError{Target: target, Err: err}
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.connMu.Lock()
	ws := c.ws
	c.connMu.Unlock()

	c.writeMu.Lock()
	ws.SetWriteDeadline(deadline)
	err = ws.WriteMessage(websocket.TextMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		metrics.SendErrors.Inc()
		return &SendError{Target: target, Err: err}
	}
	return nil
}

// State reports the current connection state for health reporting.
func (c *Conn) State() domain.HubState {
	return domain.HubState(c.state.Load())
}

func (c *Conn) setState(s domain.HubState) {
	c.state.Store(int32(s))
	metrics.HubState.Set(int64(s))
}

// Close gracefully tears the channel down. Calling Close on an
// already-closed connection returns ErrAlreadyClosed.
func (c *Conn) Close() error {
	c.connMu.Lock()
	if c.closed {
		c.connMu.Unlock()
		return ErrAlreadyClosed
	}
	c.closed = true
	close(c.done)
	ws := c.ws
	c.connMu.Unlock()

	c.writeMu.Lock()
	ws.SetWriteDeadline(time.Now().Add(time.Second))
	ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	// The peer may already be gone (dropped TCP, mid-reconnect); failing
	// to close a dead socket is not a teardown failure.
	if err := ws.Close(); err != nil {
		c.logger.Debug("hub socket close", "err", err)
	}

	c.loops.Wait()
	c.setState(domain.HubClosed)
	c.logger.Info("hub connection closed")
	return nil
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// readLoop pumps inbound frames and drives reconnection on unexpected
// disconnects. Handlers run synchronously here, so events are delivered in
// the order the channel produced them.
func (c *Conn) readLoop() {
	defer c.loops.Done()

	for {
		c.connMu.Lock()
		ws := c.ws
		c.connMu.Unlock()

		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			c.logger.Warn("hub connection lost, reconnecting", "err", err)
			if !c.reconnect() {
				return
			}
			continue
		}

		for _, frame := range splitFrames(data) {
			c.dispatch(frame)
		}
	}
}

func (c *Conn) dispatch(frame []byte) {
	var msg hubMessage
	if err := json.Unmarshal(frame, &msg); err != nil {
		c.logger.Warn("undecodable hub frame", "err", err)
		return
	}

	switch msg.Type {
	case messageInvocation:
		c.handlersMu.RLock()
		handler, ok := c.handlers[msg.Target]
		c.handlersMu.RUnlock()
		if !ok {
			c.logger.Debug("no handler for hub event", "target", msg.Target)
			return
		}
		handler(msg.Arguments)
	case messagePing:
		// Server keepalive, nothing to do.
	case messageClose:
		c.logger.Warn("hub server requested close", "err", msg.Error)
	default:
		c.logger.Debug("ignoring hub message", "type", msg.Type)
	}
}

// reconnect re-establishes the channel under the backoff policy. Returns
// false once Close has been requested.
func (c *Conn) reconnect() bool {
	c.setState(domain.HubReconnecting)

	for attempt := 0; ; attempt++ {
		if !c.waitReconnect(attempt) {
			return false
		}

		metrics.HubReconnects.Inc()
		ws, err := c.dial(context.Background())
		if err != nil {
			c.logger.Warn("hub reconnect attempt failed", "attempt", attempt+1, "err", err)
			continue
		}

		c.connMu.Lock()
		if c.closed {
			c.connMu.Unlock()
			ws.Close()
			return false
		}
		c.ws = ws
		c.connMu.Unlock()

		c.setState(domain.HubConnected)
		c.logger.Info("hub reconnected", "attempts", attempt+1)
		return true
	}
}

func (c *Conn) waitReconnect(attempt int) bool {
	d := c.opts.Reconnect.Delay(attempt)
	if d <= 0 {
		return !c.isClosed()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.done:
		return false
	case <-timer.C:
		return true
	}
}

// pingLoop keeps the channel alive with protocol pings. Write failures are
// left to the read loop to observe and repair.
func (c *Conn) pingLoop() {
	defer c.loops.Done()

	frame, _ := encodeFrame(hubMessage{Type: messagePing})
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if c.State() != domain.HubConnected {
				continue
			}
			c.connMu.Lock()
			ws := c.ws
			c.connMu.Unlock()

			c.writeMu.Lock()
			ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := ws.WriteMessage(websocket.TextMessage, frame)
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("hub ping failed", "err", err)
			}
		}
	}
}

// Dialer creates supervised hub connections for the bot facade.
type Dialer struct {
	URL              string
	AccessKey        string
	EstablishTimeout time.Duration
	PingInterval     time.Duration
	Reconnect        backoff.Policy
	Logger           *slog.Logger
}

var _ domain.HubDialer = (*Dialer)(nil)

func (d *Dialer) Dial(ctx context.Context, creds domain.HubCredentials) (domain.Hub, error) {
	return Dial(ctx, Options{
		URL:              d.URL,
		Authorization:    creds.Authorization,
		MachineID:        creds.MachineID,
		AccessKey:        d.AccessKey,
		EstablishTimeout: d.EstablishTimeout,
		PingInterval:     d.PingInterval,
		Reconnect:        d.Reconnect,
		Logger:           d.Logger,
	})
}
