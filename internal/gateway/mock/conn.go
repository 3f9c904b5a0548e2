package mock

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CRMbyRSM/PRSM/internal/gateway/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 16 << 20
)

var errConnClosed = errors.New("mock: connection closed")

// Conn is one client connection to the mock gateway.
type Conn struct {
	id     string
	server *Server
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once

	kick     chan struct{}
	kickOnce sync.Once

	mu            sync.Mutex
	authenticated bool
	info          protocol.ClientInfo
}

func newConn(s *Server, id string, ws *websocket.Conn) *Conn {
	return &Conn{
		id:     id,
		server: s,
		ws:     ws,
		send:   make(chan []byte, 256),
		done:   make(chan struct{}),
		kick:   make(chan struct{}),
	}
}

// ID returns the connection id reported in the hello payload.
func (c *Conn) ID() string { return c.id }

// Authenticated reports whether the handshake completed.
func (c *Conn) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Info returns the client identity sent in connect.
func (c *Conn) Info() protocol.ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Emit sends one event frame to this connection.
func (c *Conn) Emit(name string, payload any) error {
	ev, err := protocol.NewEvent(name, payload)
	if err != nil {
		return err
	}
	if name != protocol.EventConnectChallenge {
		seq := c.server.nextSeq()
		ev.Seq = &seq
	}
	return c.sendFrame(ev)
}

func (c *Conn) sendFrame(f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		c.server.logger.Warn("client send buffer full, dropping connection", "conn", c.id)
		c.drop()
		return errConnClosed
	}
}

func (c *Conn) respond(id string, payload any, rerr error) error {
	resp := &protocol.Response{ID: id, OK: rerr == nil}
	if rerr != nil {
		resp.Error = errorShape(rerr)
	} else if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		resp.Payload = raw
	}
	return c.sendFrame(resp)
}

// drop closes the socket without a close frame.
func (c *Conn) drop() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *Conn) readPump() {
	defer func() {
		c.drop()
		c.server.removeConn(c)
	}()

	c.ws.SetReadLimit(readLimit)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Debug("websocket read error", "conn", c.id, "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(message)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.server.logger.Debug("websocket write error", "conn", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.kick:
			c.flush()
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"))
			return

		case <-c.done:
			return

		case <-c.server.ctx.Done():
			return
		}
	}
}

// flush writes whatever is still queued.
func (c *Conn) flush() {
	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// closeAfterFlush asks the write pump to flush queued frames and then send
// a policy-violation close frame.
func (c *Conn) closeAfterFlush() {
	c.kickOnce.Do(func() { close(c.kick) })
}

func (c *Conn) handleMessage(data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		c.server.logger.Warn("invalid frame", "conn", c.id, "error", err)
		return
	}
	req, ok := frame.(*protocol.Request)
	if !ok {
		c.server.logger.Debug("ignoring non-request frame", "conn", c.id)
		return
	}
	c.server.logger.Debug("rpc request", "conn", c.id, "method", req.Method, "id", req.ID)

	if req.Method == protocol.MethodConnect {
		c.handleConnect(req)
		return
	}
	if !c.Authenticated() {
		_ = c.respond(req.ID, nil, Errorf(protocol.ErrCodeInvalidRequest, "connect first"))
		return
	}

	c.server.mu.RLock()
	h, ok := c.server.handlers[req.Method]
	c.server.mu.RUnlock()
	if !ok {
		_ = c.respond(req.ID, nil, Errorf(protocol.ErrCodeInvalidRequest, "unknown method: %s", req.Method))
		return
	}

	call := &Request{Conn: c, ID: req.ID, Method: req.Method, Params: req.Params}
	payload, herr := h(call)
	if err := c.respond(req.ID, payload, herr); err != nil {
		c.server.logger.Warn("sending response failed", "conn", c.id, "method", req.Method, "error", err)
		return
	}
	for _, fn := range call.after {
		fn()
	}
}

func (c *Conn) handleConnect(req *protocol.Request) {
	var params protocol.ConnectParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			_ = c.respond(req.ID, nil, Errorf(protocol.ErrCodeInvalidRequest, "invalid connect params: %v", err))
			return
		}
	}
	if params.MaxProtocol != 0 && params.MaxProtocol < protocol.Version {
		_ = c.respond(req.ID, nil, Errorf(protocol.ErrCodeInvalidRequest, "protocol mismatch"))
		c.closeAfterFlush()
		return
	}
	if msg := c.server.checkAuth(params.Auth); msg != "" {
		c.server.logger.Warn("connect rejected", "conn", c.id, "reason", msg)
		_ = c.respond(req.ID, nil, Errorf(protocol.ErrCodeInvalidRequest, "unauthorized: %s", msg))
		c.closeAfterFlush()
		return
	}

	c.mu.Lock()
	c.authenticated = true
	c.info = params.Client
	c.mu.Unlock()
	c.server.logger.Info("client identified", "conn", c.id, "role", params.Role, "client", params.Client.ID)

	hello := map[string]any{
		"type":     protocol.HelloOKType,
		"protocol": protocol.Version,
		"server":   map[string]any{"version": Version, "connId": c.id, "host": "mock"},
		"features": map[string]any{
			"methods": c.server.Methods(),
			"events":  []string{protocol.EventChat, protocol.EventAgent, protocol.EventPresence, protocol.EventTick},
		},
		"snapshot": map[string]any{"sessionDefaults": map[string]any{"mainKey": MainSessionKey}},
		"policy":   map[string]any{"tickIntervalMs": c.server.opts.TickInterval.Milliseconds()},
	}
	_ = c.respond(req.ID, hello, nil)
}

func (s *Server) checkAuth(auth *protocol.ConnectAuth) string {
	switch {
	case s.opts.Token != "":
		if auth == nil || auth.Token == "" {
			return "gateway token missing"
		}
		if auth.Token != s.opts.Token {
			return "gateway token mismatch"
		}
	case s.opts.Password != "":
		if auth == nil || auth.Password == "" {
			return "gateway password missing"
		}
		if auth.Password != s.opts.Password {
			return "gateway password mismatch"
		}
	}
	return ""
}
