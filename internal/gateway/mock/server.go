// Package mock implements a scripted in-process gateway speaking protocol
// v3. It backs the client's end-to-end tests and the mock-gateway command.
package mock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/CRMbyRSM/PRSM/internal/gateway/protocol"
	"github.com/CRMbyRSM/PRSM/internal/system/logger"
)

// Version is reported in the hello payload.
const Version = "mock-1"

// Options configures a Server.
type Options struct {
	// Token or Password, when set, must match the connect request's auth.
	Token    string
	Password string
	// Reply produces the assistant text for a chat.send message. The default
	// echoes the message.
	Reply func(message string) string
	// StreamDelay spaces scripted stream events. Zero sends them back to back.
	StreamDelay time.Duration
	// TickInterval, when positive, broadcasts tick events.
	TickInterval time.Duration
	Logger       *slog.Logger
	// Logs, when set, is served at GET /api/logs, behind Token if one is set.
	Logs *logger.Ring
}

// Server is the mock gateway. Use Handler with httptest, or ListenAndServe.
type Server struct {
	opts     Options
	logger   *slog.Logger
	router   *gin.Engine
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	conns    map[string]*Conn
	handlers map[string]HandlerFunc
	nextConn int
	seq      int64

	state *store

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a server with the default method handlers installed.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Reply == nil {
		opts.Reply = func(message string) string { return "echo: " + message }
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(opts.Logger))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:   opts,
		logger: opts.Logger.With("component", "mock-gateway"),
		router: router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns:    make(map[string]*Conn),
		handlers: make(map[string]HandlerFunc),
		state:    newStore(),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.installDefaults()
	s.setupRoutes()
	if opts.TickInterval > 0 {
		go s.tickLoop(opts.TickInterval)
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleWebSocket)
	s.router.GET("/ws", s.handleWebSocket)
	s.router.GET("/healthz", s.handleHealth)
	if s.opts.Logs != nil {
		s.router.GET("/api/logs", requireToken(s.opts.Token), s.handleLogs)
	}
}

// Handler exposes the HTTP handler, e.g. for httptest.NewServer.
func (s *Server) Handler() http.Handler { return s.router }

// Handle installs or replaces the handler for method.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// Methods lists the installed method names.
func (s *Server) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.handlers)+1)
	out = append(out, protocol.MethodConnect)
	for m := range s.handlers {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Emit broadcasts an event to every authenticated connection.
func (s *Server) Emit(name string, payload any) {
	for _, c := range s.authenticated() {
		if err := c.Emit(name, payload); err != nil {
			s.logger.Warn("emit failed", "conn", c.id, "event", name, "error", err)
		}
	}
}

// Connections reports the number of authenticated connections.
func (s *Server) Connections() int { return len(s.authenticated()) }

// DropConnections closes every socket without a close frame.
func (s *Server) DropConnections() {
	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()
	for _, c := range conns {
		c.drop()
	}
}

// Close stops background work and drops every connection.
func (s *Server) Close() {
	s.cancel()
	s.DropConnections()
}

func (s *Server) authenticated() []*Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		if c.Authenticated() {
			out = append(out, c)
		}
	}
	return out
}

func (s *Server) nextSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

func (s *Server) handleWebSocket(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "mock-gateway", "version": Version})
		return
	}
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	s.nextConn++
	conn := newConn(s, fmt.Sprintf("conn-%d", s.nextConn), ws)
	s.conns[conn.id] = conn
	s.mu.Unlock()

	s.logger.Info("client connected", "conn", conn.id, "remote", ws.RemoteAddr())
	go conn.writePump()
	go conn.readPump()

	if err := conn.Emit(protocol.EventConnectChallenge, map[string]any{
		"nonce": fmt.Sprintf("nonce-%s-%d", conn.id, time.Now().UnixNano()),
		"ts":    time.Now().UnixMilli(),
	}); err != nil {
		s.logger.Warn("sending challenge failed", "conn", conn.id, "error", err)
	}
}

func (s *Server) removeConn(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	s.logger.Info("client disconnected", "conn", c.id)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"version":     Version,
		"connections": s.Connections(),
	})
}

func (s *Server) handleLogs(c *gin.Context) {
	entries := s.opts.Logs.Entries()
	if lvl := c.Query("level"); lvl != "" {
		floor := logger.ParseLevel(lvl)
		kept := entries[:0]
		for _, e := range entries {
			if logger.ParseLevel(e.Level) >= floor {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	c.JSON(http.StatusOK, gin.H{"count": len(entries), "logs": entries})
}

func (s *Server) tickLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case t := <-ticker.C:
			s.Emit(protocol.EventTick, map[string]any{"ts": t.UnixMilli()})
		case <-s.ctx.Done():
			return
		}
	}
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mock gateway failed to start: %w\n  -> Is another gateway running on %s?", err, addr)
	}
	srv := &http.Server{
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	s.logger.Info("mock gateway listening", "address", ln.Addr().String())

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("mock gateway runtime error: %w", err)
	case <-ctx.Done():
	}

	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down mock gateway")
	return srv.Shutdown(shutdownCtx)
}
