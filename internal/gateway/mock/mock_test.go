package mock

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/CRMbyRSM/PRSM/internal/gateway/protocol"
	"github.com/CRMbyRSM/PRSM/internal/system/logger"
)

type rawClient struct {
	t  *testing.T
	ws *websocket.Conn
	id int
}

func startServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	srv := New(opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		ts.Close()
	})
	return srv, ts
}

func dialRaw(t *testing.T, ts *httptest.Server) *rawClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return &rawClient{t: t, ws: ws}
}

func (c *rawClient) read() protocol.Frame {
	c.t.Helper()
	c.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	f, err := protocol.Decode(data)
	if err != nil {
		c.t.Fatalf("decode %s: %v", data, err)
	}
	return f
}

func (c *rawClient) call(method string, params any) *protocol.Response {
	c.t.Helper()
	c.id++
	id := strconv.Itoa(c.id)
	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		c.t.Fatalf("request: %v", err)
	}
	data, _ := protocol.Encode(req)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.t.Fatalf("write: %v", err)
	}
	for {
		if resp, ok := c.read().(*protocol.Response); ok && resp.ID == id {
			return resp
		}
	}
}

func (c *rawClient) handshake(token string) *protocol.Response {
	c.t.Helper()
	ev, ok := c.read().(*protocol.Event)
	if !ok || ev.Name != protocol.EventConnectChallenge {
		c.t.Fatalf("first frame = %+v, want challenge", ev)
	}
	info := protocol.ClientInfo{ID: "test", DisplayName: "Test", Version: "1", Platform: "linux", Mode: "cli"}
	return c.call(protocol.MethodConnect, protocol.NewConnectParams(info, protocol.AuthModeToken, token, "", nil))
}

func TestHandshakeAcceptsToken(t *testing.T) {
	srv, ts := startServer(t, Options{Token: "tok"})
	c := dialRaw(t, ts)

	resp := c.handshake("tok")
	if !resp.OK {
		t.Fatalf("connect rejected: %+v", resp.Error)
	}
	hello, ok := protocol.IsHelloOK(resp.Payload)
	if !ok || hello.Protocol != protocol.Version || hello.Server.ConnID == "" {
		t.Fatalf("hello = %s", resp.Payload)
	}
	if len(hello.Features.Methods) == 0 {
		t.Fatal("hello must advertise methods")
	}
	if srv.Connections() != 1 {
		t.Fatalf("connections = %d", srv.Connections())
	}
}

func TestHandshakeRejectsWrongToken(t *testing.T) {
	_, ts := startServer(t, Options{Token: "tok"})
	c := dialRaw(t, ts)

	resp := c.handshake("nope")
	if resp.OK || resp.Error == nil || !strings.Contains(resp.Error.Message, "token mismatch") {
		t.Fatalf("response = %+v", resp)
	}
	c.ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err = %v, want policy-violation close", err)
	}
}

func TestMethodsRequireConnect(t *testing.T) {
	_, ts := startServer(t, Options{})
	c := dialRaw(t, ts)
	c.read() // challenge

	resp := c.call(protocol.MethodSessionsList, nil)
	if resp.OK || resp.Error == nil || resp.Error.Code != protocol.ErrCodeInvalidRequest {
		t.Fatalf("response = %+v", resp)
	}
}

func TestChatSendStreamsTurn(t *testing.T) {
	_, ts := startServer(t, Options{Reply: func(string) string { return "one two" }})
	c := dialRaw(t, ts)
	c.handshake("")

	resp := c.call(protocol.MethodChatSend, map[string]any{"sessionKey": "main", "message": "hi", "idempotencyKey": "run-1"})
	if !resp.OK || !strings.Contains(string(resp.Payload), `"runId":"run-1"`) {
		t.Fatalf("chat.send = %+v %s", resp, resp.Payload)
	}

	var names []string
	for {
		ev, ok := c.read().(*protocol.Event)
		if !ok {
			continue
		}
		var p struct {
			SessionKey string `json:"sessionKey"`
			State      string `json:"state"`
			Stream     string `json:"stream"`
		}
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			t.Fatalf("payload: %v", err)
		}
		if p.SessionKey != MainSessionKey {
			t.Fatalf("session key = %q, want canonical", p.SessionKey)
		}
		if ev.Seq == nil {
			t.Fatal("events must carry seq")
		}
		names = append(names, ev.Name+":"+p.Stream+p.State)
		if ev.Name == protocol.EventChat && p.State == protocol.ChatStateFinal {
			break
		}
	}
	want := []string{
		"agent:lifecycle",
		"agent:assistant", "chat:delta",
		"agent:assistant", "chat:delta",
		"agent:lifecycle",
		"chat:final",
	}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v", names)
	}

	hist := c.call(protocol.MethodChatHistory, map[string]any{"sessionKey": "main"})
	var h struct {
		Messages []storedMessage `json:"messages"`
	}
	if err := json.Unmarshal(hist.Payload, &h); err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(h.Messages) != 2 || h.Messages[0].Role != "user" || h.Messages[1].Role != "assistant" {
		t.Fatalf("history = %+v", h.Messages)
	}
}

func TestSessionLifecycle(t *testing.T) {
	_, ts := startServer(t, Options{})
	c := dialRaw(t, ts)
	c.handshake("")

	if resp := c.call(protocol.MethodSessionsPatch, map[string]any{"key": "agent:main:prsm-1", "label": "Work"}); !resp.OK {
		t.Fatalf("patch: %+v", resp.Error)
	}
	resp := c.call(protocol.MethodSessionsList, map[string]any{"limit": 10})
	if !strings.Contains(string(resp.Payload), `"label":"Work"`) {
		t.Fatalf("list = %s", resp.Payload)
	}
	if resp := c.call(protocol.MethodSessionsDelete, map[string]any{"key": "agent:main:prsm-1"}); !resp.OK {
		t.Fatalf("delete: %+v", resp.Error)
	}
	if resp := c.call(protocol.MethodSessionsReset, map[string]any{"key": "agent:main:prsm-1"}); resp.OK {
		t.Fatal("reset of a deleted session must fail")
	}
	if resp := c.call(protocol.MethodSessionsDelete, map[string]any{"key": "main"}); resp.OK {
		t.Fatal("main session must not be deletable")
	}
}

func TestCustomHandlerAndEmit(t *testing.T) {
	srv, ts := startServer(t, Options{})
	srv.Handle("test.fail", func(*Request) (any, error) {
		return nil, Errorf(protocol.ErrCodeAgentTimeout, "too slow")
	})
	c := dialRaw(t, ts)
	c.handshake("")

	resp := c.call("test.fail", nil)
	if resp.OK || resp.Error.Code != protocol.ErrCodeAgentTimeout || resp.Error.Message != "too slow" {
		t.Fatalf("response = %+v", resp.Error)
	}

	srv.Emit("custom.event", map[string]any{"n": 1})
	for {
		if ev, ok := c.read().(*protocol.Event); ok && ev.Name == "custom.event" {
			if string(ev.Payload) != `{"n":1}` {
				t.Fatalf("payload = %s", ev.Payload)
			}
			return
		}
	}
}

func TestHealthz(t *testing.T) {
	_, ts := startServer(t, Options{})
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Status != "ok" {
		t.Fatalf("healthz = %+v, %v", body, err)
	}
}

func TestLogsEndpoint(t *testing.T) {
	ring := logger.NewRing(50)
	log := slog.New(logger.NewRingHandler(ring, nil, slog.LevelDebug))
	_, ts := startServer(t, Options{Logger: log, Logs: ring})
	c := dialRaw(t, ts)
	c.handshake("")

	resp, err := http.Get(ts.URL + "/api/logs?level=info")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Count int            `json:"count"`
		Logs  []logger.Entry `json:"logs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	found := false
	for _, e := range body.Logs {
		if e.Level == "DEBUG" {
			t.Fatalf("debug entry leaked through level filter: %+v", e)
		}
		if e.Message == "client identified" {
			found = true
		}
	}
	if !found || body.Count != len(body.Logs) {
		t.Fatalf("logs = %+v", body)
	}
}

func TestLogsEndpointRequiresToken(t *testing.T) {
	ring := logger.NewRing(10)
	_, ts := startServer(t, Options{Token: "s3cret", Logs: ring})

	cases := []struct {
		name   string
		query  string
		header string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong bearer", "", "Bearer nope", http.StatusUnauthorized},
		{"bearer", "", "Bearer s3cret", http.StatusOK},
		{"query", "?token=s3cret", "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/logs"+tc.query, nil)
			if err != nil {
				t.Fatal(err)
			}
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}
