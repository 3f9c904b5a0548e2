// Package client is the gateway protocol client: it connects and
// authenticates, correlates RPC calls with their responses, reassembles
// per-session text streams and publishes typed events to subscribers.
//
// All connection state lives in one struct guarded by a single mutex. Frames
// are handled one at a time on the connection's reader goroutine and events
// are published after the lock is released, in arrival order.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/CRMbyRSM/PRSM/internal/gateway/events"
	"github.com/CRMbyRSM/PRSM/internal/gateway/protocol"
	"github.com/CRMbyRSM/PRSM/internal/gateway/session"
	"github.com/CRMbyRSM/PRSM/internal/gateway/stream"
	"github.com/CRMbyRSM/PRSM/internal/gateway/transport"
)

// State is the connection's handshake state.
type State int

const (
	StateDisconnected State = iota
	StateAwaitingChallenge
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAwaitingChallenge:
		return "awaiting-challenge"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "disconnected"
	}
}

type handshakeResult struct {
	hello *protocol.HelloOK
	err   error
}

// Client is a gateway connection. The zero value is not usable; call New.
type Client struct {
	opts   Options
	logger *slog.Logger
	bus    *events.Bus

	mu sync.Mutex
	// connection epoch; bumped on every dial and teardown so callbacks from
	// an older connection are ignored
	epoch     uint64
	state     State
	conn      transport.Conn
	hello     *protocol.HelloOK
	handshake chan handshakeResult
	connectID string

	nextID  uint64
	pending map[string]*pendingCall

	streams  *stream.Reassembler
	sessions *session.Tracker

	// auto-reconnect bookkeeping
	closed       bool // Disconnect was called; never auto-reconnect again
	reconnecting bool
	attempts     int
	retryTimer   *time.Timer
	lastErr      error
}

// New creates a disconnected client.
func New(opts Options) *Client {
	opts = opts.withDefaults()
	logger := opts.Logger.With("component", "gateway-client")
	return &Client{
		opts:     opts,
		logger:   logger,
		bus:      events.NewBus(logger),
		pending:  make(map[string]*pendingCall),
		streams:  stream.New(),
		sessions: session.NewTracker(),
	}
}

// Bus exposes the event bus for typed subscriptions via events.Handle.
func (c *Client) Bus() *events.Bus { return c.bus }

// On registers handler for one event kind, or every kind with
// events.KindAll.
func (c *Client) On(kind events.Kind, handler events.Handler) events.Subscription {
	return c.bus.Subscribe(kind, handler)
}

// Off removes a handler registered with On.
func (c *Client) Off(sub events.Subscription) bool {
	return c.bus.Unsubscribe(sub)
}

// OnEvent registers fn for one pass-through server event name.
func (c *Client) OnEvent(name string, fn func(payload json.RawMessage)) events.Subscription {
	return c.bus.Subscribe(events.KindPassthrough, func(ev events.Event) {
		if p, ok := ev.(events.Passthrough); ok && p.Name == name {
			fn(p.Payload)
		}
	})
}

// State reports the current handshake state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Hello returns the handshake payload of the current connection, or nil.
func (c *Client) Hello() *protocol.HelloOK {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hello
}

// SetPrimarySessionKey designates the default session and adds it to the
// parent set. An empty key clears the designation.
func (c *Client) SetPrimarySessionKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions.SetPrimary(key)
}

// PrimarySessionKey returns the designated default session.
func (c *Client) PrimarySessionKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions.Primary()
}

// Connect opens a connection and waits for the handshake. It resets the
// reconnect counter. Calling Connect on an authenticated client returns the
// current hello.
func (c *Client) Connect(ctx context.Context) (*protocol.HelloOK, error) {
	c.mu.Lock()
	switch c.state {
	case StateAuthenticated:
		hello := c.hello
		c.mu.Unlock()
		return hello, nil
	case StateAwaitingChallenge, StateAuthenticating:
		c.mu.Unlock()
		return nil, ErrConnectInProgress
	}
	c.attempts = 0
	c.reconnecting = false
	c.stopRetryLocked()
	c.mu.Unlock()

	return c.connect(ctx)
}

// connect runs one full dial and handshake. Failures emit error events.
func (c *Client) connect(ctx context.Context) (*protocol.HelloOK, error) {
	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.state = StateAwaitingChallenge
	result := make(chan handshakeResult, 1)
	c.handshake = result
	c.connectID = ""
	c.mu.Unlock()

	c.logger.Debug("dialing gateway", "url", c.opts.URL, "epoch", epoch)
	conn, err := c.opts.Dialer.Dial(ctx, c.opts.URL)
	if err != nil {
		err = transport.ClassifyDialError(c.opts.URL, err)
		c.mu.Lock()
		if c.epoch == epoch {
			c.state = StateDisconnected
			c.handshake = nil
		}
		c.mu.Unlock()
		c.publishConnectFailure(err)
		return nil, err
	}

	c.mu.Lock()
	if c.epoch != epoch {
		// Disconnect ran while dialing
		c.mu.Unlock()
		_ = conn.Close()
		return nil, ErrClientClosed
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(epoch, conn)

	timer := time.NewTimer(c.opts.HandshakeTimeout)
	defer timer.Stop()

	select {
	case res := <-result:
		if res.err != nil {
			c.abort(epoch)
			if !errors.Is(res.err, ErrClientClosed) {
				c.publishConnectFailure(res.err)
			}
			return nil, res.err
		}
		c.logger.Info("gateway connected", "url", c.opts.URL, "server", res.hello.Server.Version, "connId", res.hello.Server.ConnID)
		return res.hello, nil
	case <-timer.C:
		err := fmt.Errorf("%w after %s", ErrHandshakeTimeout, c.opts.HandshakeTimeout)
		c.abort(epoch)
		c.publishConnectFailure(err)
		return nil, err
	case <-ctx.Done():
		c.abort(epoch)
		return nil, ctx.Err()
	}
}

func (c *Client) publishConnectFailure(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()

	c.logger.Warn("gateway connect failed", "url", c.opts.URL, "error", err)
	var certErr *transport.CertError
	if errors.As(err, &certErr) {
		c.bus.Publish(events.CertError{URL: certErr.URL, HTTPSURL: certErr.HTTPSURL, Err: err})
	}
	c.bus.Publish(events.Error{Err: err})
}

// abort tears down a connection whose handshake failed. The epoch bump keeps
// its reader from reporting a disconnect.
func (c *Client) abort(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.epoch++
	c.resetLocked(ErrConnectionClosed)
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Disconnect closes the connection and permanently disables automatic
// reconnection for this client.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closed = true
	c.reconnecting = false
	c.stopRetryLocked()
	wasAuthenticated := c.state == StateAuthenticated
	conn := c.conn
	if c.handshake != nil {
		c.handshake <- handshakeResult{err: ErrClientClosed}
		c.handshake = nil
	}
	c.epoch++
	c.resetLocked(ErrClientClosed)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if wasAuthenticated {
		c.logger.Info("gateway disconnected", "url", c.opts.URL)
		c.bus.Publish(events.Disconnected{WillReconnect: false})
	}
}

// resetLocked returns the client to Disconnected, failing pending calls with
// cause and dropping all stream state.
func (c *Client) resetLocked(cause error) {
	c.state = StateDisconnected
	c.conn = nil
	c.hello = nil
	c.connectID = ""
	c.handshake = nil
	c.failPendingLocked(cause)
	c.streams.Reset()
}

func (c *Client) readLoop(epoch uint64, conn transport.Conn) {
	for {
		data, err := conn.Read(context.Background())
		if err != nil {
			c.handleClose(epoch, err)
			return
		}
		c.handleFrame(epoch, conn, data)
	}
}

// handleClose processes the end of a connection's reader.
func (c *Client) handleClose(epoch uint64, cause error) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	wasAuthenticated := c.state == StateAuthenticated
	conn := c.conn
	if c.handshake != nil {
		c.handshake <- handshakeResult{err: &transport.TransportError{URL: c.opts.URL, Err: fmt.Errorf("closed during handshake: %w", cause)}}
		c.handshake = nil
	}
	c.epoch++
	c.resetLocked(ErrConnectionClosed)

	var evs []events.Event
	if wasAuthenticated {
		willReconnect := !c.closed && c.opts.MaxReconnectAttempts > 0
		evs = append(evs, events.Disconnected{Err: cause, WillReconnect: willReconnect})
		if willReconnect {
			c.attempts = 0
			evs = append(evs, c.scheduleReconnectLocked()...)
		}
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if wasAuthenticated {
		c.logger.Warn("gateway connection lost", "url", c.opts.URL, "error", cause)
	}
	c.publish(evs)
}

// scheduleReconnectLocked arms the next backoff attempt, or reports
// exhaustion once the attempt cap is reached.
func (c *Client) scheduleReconnectLocked() []events.Event {
	if c.closed || c.retryTimer != nil {
		return nil
	}
	if c.attempts >= c.opts.MaxReconnectAttempts {
		c.reconnecting = false
		err := &ReconnectError{Attempts: c.attempts, Last: c.lastErr}
		c.logger.Error("gateway reconnect gave up", "attempts", c.attempts)
		return []events.Event{events.Error{Err: err}}
	}
	delay := c.opts.ReconnectBaseDelay << c.attempts
	c.attempts++
	c.reconnecting = true
	attempt := c.attempts
	c.logger.Info("gateway reconnect scheduled", "attempt", attempt, "delay", delay)
	c.retryTimer = time.AfterFunc(delay, func() { c.reconnectAttempt(attempt) })
	return nil
}

func (c *Client) reconnectAttempt(attempt int) {
	c.mu.Lock()
	c.retryTimer = nil
	if c.closed || !c.reconnecting || c.state != StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	_, err := c.connect(context.Background())
	if err == nil {
		return
	}
	c.logger.Debug("gateway reconnect attempt failed", "attempt", attempt, "error", err)

	c.mu.Lock()
	var evs []events.Event
	if c.reconnecting && c.state == StateDisconnected {
		evs = c.scheduleReconnectLocked()
	}
	c.mu.Unlock()
	c.publish(evs)
}

func (c *Client) stopRetryLocked() {
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

// ReconnectAttempts reports how many automatic attempts the current chain
// has made.
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// handleFrame decodes and dispatches one inbound frame.
func (c *Client) handleFrame(epoch uint64, conn transport.Conn, data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		c.logger.Debug("dropping undecodable frame", "error", err, "bytes", len(data))
		return
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	var (
		evs   []events.Event
		reply []byte
		abort *HandshakeError
	)
	switch f := frame.(type) {
	case *protocol.Response:
		if c.state != StateAuthenticated {
			evs, abort = c.handshakeResponseLocked(f)
		} else {
			evs = c.settleLocked(f)
		}
	case *protocol.Event:
		if f.Name == protocol.EventConnectChallenge {
			reply = c.challengeLocked(f)
		} else if c.state == StateAuthenticated {
			evs = c.routeLocked(f)
		} else {
			c.logger.Debug("dropping event before authentication", "event", f.Name)
		}
	case *protocol.Request:
		c.logger.Debug("ignoring server request", "method", f.Method)
	}
	c.mu.Unlock()

	if reply != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.HandshakeTimeout)
		if err := conn.Write(ctx, reply); err != nil {
			c.logger.Warn("sending connect request failed", "error", err)
		}
		cancel()
	}
	if abort != nil {
		c.logger.Warn("gateway rejected handshake", "code", abort.Code, "message", abort.Message)
	}
	c.publish(evs)
}

func (c *Client) publish(evs []events.Event) {
	for _, ev := range evs {
		c.bus.Publish(ev)
	}
}

func (c *Client) nextIDLocked() string {
	c.nextID++
	return strconv.FormatUint(c.nextID, 10)
}
