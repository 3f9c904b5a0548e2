package client

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CRMbyRSM/PRSM/internal/gateway/events"
	"github.com/CRMbyRSM/PRSM/internal/gateway/protocol"
	"github.com/CRMbyRSM/PRSM/internal/gateway/transport"
)

const waitTimeout = 2 * time.Second

// fakeConn is an in-memory transport.Conn. The test plays the gateway by
// pushing frames into in and reading the client's frames from out.
type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case b := <-f.in:
		return b, nil
	case <-f.closed:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeConn) Write(ctx context.Context, data []byte) error {
	select {
	case <-f.closed:
		return transport.ErrClosed
	default:
	}
	select {
	case f.out <- data:
		return nil
	case <-f.closed:
		return transport.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

// fakeGateway hands out fakeConns and counts dials.
type fakeGateway struct {
	conns   chan *fakeConn
	dials   atomic.Int32
	dialErr atomic.Pointer[error]
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{conns: make(chan *fakeConn, 16)}
}

func (g *fakeGateway) Dial(ctx context.Context, url string) (transport.Conn, error) {
	g.dials.Add(1)
	if p := g.dialErr.Load(); p != nil {
		return nil, *p
	}
	c := newFakeConn()
	g.conns <- c
	return c, nil
}

func (g *fakeGateway) failDials(err error) { g.dialErr.Store(&err) }

func (g *fakeGateway) next(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-g.conns:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("no dial")
		return nil
	}
}

func send(t *testing.T, fc *fakeConn, f protocol.Frame) {
	t.Helper()
	data, err := protocol.Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	fc.in <- data
}

func emit(t *testing.T, fc *fakeConn, name string, payload any) {
	t.Helper()
	ev, err := protocol.NewEvent(name, payload)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	send(t, fc, ev)
}

func reply(t *testing.T, fc *fakeConn, id string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	send(t, fc, &protocol.Response{ID: id, OK: true, Payload: raw})
}

func nextRequest(t *testing.T, fc *fakeConn) *protocol.Request {
	t.Helper()
	select {
	case data := <-fc.out:
		f, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("decode client frame: %v", err)
		}
		req, ok := f.(*protocol.Request)
		if !ok {
			t.Fatalf("client sent %T, want request", f)
		}
		return req
	case <-time.After(waitTimeout):
		t.Fatal("no request from client")
		return nil
	}
}

func helloPayload() map[string]any {
	return map[string]any{
		"type":     protocol.HelloOKType,
		"protocol": protocol.Version,
		"server":   map[string]any{"version": "test", "connId": "conn-1"},
	}
}

// serveHandshake plays the gateway side of a successful handshake and
// returns the connect request the client sent.
func serveHandshake(t *testing.T, fc *fakeConn) *protocol.Request {
	t.Helper()
	emit(t, fc, protocol.EventConnectChallenge, map[string]any{"nonce": "n-1", "ts": 1})
	req := nextRequest(t, fc)
	if req.Method != protocol.MethodConnect {
		t.Fatalf("first request = %q, want connect", req.Method)
	}
	reply(t, fc, req.ID, helloPayload())
	return req
}

func testOptions(gw *fakeGateway) Options {
	return Options{
		URL:                "ws://gateway.test:18789",
		Auth:               Auth{Mode: protocol.AuthModeToken, Token: "secret"},
		Dialer:             gw,
		RequestTimeout:     time.Second,
		HandshakeTimeout:   time.Second,
		ReconnectBaseDelay: time.Millisecond,
	}
}

// connected returns an authenticated client and the gateway side of its
// connection.
func connected(t *testing.T, opts Options) (*Client, *fakeGateway, *fakeConn) {
	t.Helper()
	gw, ok := opts.Dialer.(*fakeGateway)
	if !ok {
		t.Fatal("options must use a fakeGateway dialer")
	}
	c := New(opts)
	t.Cleanup(c.Disconnect)

	served := make(chan *fakeConn, 1)
	go func() {
		fc := <-gw.conns
		challenge, _ := protocol.Encode(&protocol.Event{Name: protocol.EventConnectChallenge, Payload: json.RawMessage(`{"nonce":"n-1"}`)})
		fc.in <- challenge
		f, err := protocol.Decode(<-fc.out)
		if err != nil {
			served <- fc
			return
		}
		hello, _ := json.Marshal(helloPayload())
		res, _ := protocol.Encode(&protocol.Response{ID: f.(*protocol.Request).ID, OK: true, Payload: hello})
		fc.in <- res
		served <- fc
	}()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if _, err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c, gw, <-served
}

// recorder captures every published event.
type recorder struct {
	mu  sync.Mutex
	evs []events.Event
	ch  chan events.Event
}

func record(c *Client) *recorder {
	r := &recorder{ch: make(chan events.Event, 256)}
	c.On(events.KindAll, func(ev events.Event) {
		r.mu.Lock()
		r.evs = append(r.evs, ev)
		r.mu.Unlock()
		r.ch <- ev
	})
	return r
}

// wait returns the next event of kind, skipping others.
func (r *recorder) wait(t *testing.T, kind events.Kind) events.Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-r.ch:
			if ev.Kind() == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
			return nil
		}
	}
}

// until collects events up to and including the first one of kind.
func (r *recorder) until(t *testing.T, kind events.Kind) []events.Event {
	t.Helper()
	var out []events.Event
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-r.ch:
			out = append(out, ev)
			if ev.Kind() == kind {
				return out
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s (got %d events)", kind, len(out))
			return nil
		}
	}
}

// drain collects events up to a marker passthrough event, so everything the
// client received earlier has been published.
func (r *recorder) drain(t *testing.T, fc *fakeConn) []events.Event {
	t.Helper()
	emit(t, fc, "test.marker", map[string]any{})
	var out []events.Event
	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-r.ch:
			if p, ok := ev.(events.Passthrough); ok && p.Name == "test.marker" {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("timed out waiting for marker")
			return nil
		}
	}
}

func count(evs []events.Event, kind events.Kind) int {
	n := 0
	for _, ev := range evs {
		if ev.Kind() == kind {
			n++
		}
	}
	return n
}
