package client

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/CRMbyRSM/PRSM/internal/gateway/events"
	"github.com/CRMbyRSM/PRSM/internal/gateway/protocol"
	"github.com/CRMbyRSM/PRSM/internal/gateway/stream"
)

func agentEvent(key, runID, streamName string, data any) map[string]any {
	return map[string]any{"runId": runID, "sessionKey": key, "stream": streamName, "data": data}
}

func chatEvent(key, runID, state string, message any) map[string]any {
	ev := map[string]any{"runId": runID, "sessionKey": key, "state": state}
	if message != nil {
		ev["message"] = message
	}
	return ev
}

func chunkText(evs []events.Event) string {
	var b strings.Builder
	for _, ev := range evs {
		if c, ok := ev.(events.StreamChunk); ok {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

func TestAgentStreamThenChatFinal(t *testing.T) {
	c, _, fc := connected(t, testOptions(newFakeGateway()))
	r := record(c)
	key := "agent:main:main"

	emit(t, fc, protocol.EventAgent, agentEvent(key, "run-1", protocol.AgentStreamLifecycle, map[string]any{"phase": "start"}))
	emit(t, fc, protocol.EventAgent, agentEvent(key, "run-1", protocol.AgentStreamAssistant, map[string]any{"text": "Hello"}))
	emit(t, fc, protocol.EventAgent, agentEvent(key, "run-1", protocol.AgentStreamAssistant, map[string]any{"text": "Hello world"}))
	// the chat channel repeats the text; the agent channel owns the turn
	emit(t, fc, protocol.EventChat, chatEvent(key, "run-1", protocol.ChatStateDelta, map[string]any{"role": "assistant", "content": "Hello world"}))
	emit(t, fc, protocol.EventChat, chatEvent(key, "run-1", protocol.ChatStateFinal, map[string]any{
		"role":    "assistant",
		"content": []any{map[string]any{"type": "text", "text": "Hello world"}},
	}))

	evs := r.until(t, events.KindStreamEnd)
	if count(evs, events.KindStreamStart) != 1 {
		t.Fatalf("stream starts = %d", count(evs, events.KindStreamStart))
	}
	var start events.StreamStart
	for _, ev := range evs {
		if s, ok := ev.(events.StreamStart); ok {
			start = s
		}
	}
	if start.Source != stream.SourceAgent || start.RunID != "run-1" || start.SessionKey != key {
		t.Fatalf("start = %+v", start)
	}
	if got := chunkText(evs); got != "Hello world" {
		t.Fatalf("chunks = %q", got)
	}
	if count(evs, events.KindStreamChunk) != 2 {
		t.Fatalf("chunks = %d, want 2", count(evs, events.KindStreamChunk))
	}

	var msg events.Message
	var end events.StreamEnd
	for i, ev := range evs {
		switch v := ev.(type) {
		case events.Message:
			msg = v
		case events.StreamEnd:
			end = v
			if i == 0 || evs[i-1].Kind() != events.KindMessage {
				t.Fatal("message must be emitted before the stream end")
			}
		}
	}
	if msg.Text != "Hello world" || msg.Role != "assistant" || msg.ID != "run-1" || msg.SessionKey != key {
		t.Fatalf("message = %+v", msg)
	}
	if end.Reason != "final" {
		t.Fatalf("end reason = %q", end.Reason)
	}
}

func TestLifecycleEndBeforeFinal(t *testing.T) {
	c, _, fc := connected(t, testOptions(newFakeGateway()))
	r := record(c)

	emit(t, fc, protocol.EventAgent, agentEvent("s1", "run-2", protocol.AgentStreamAssistant, map[string]any{"delta": "Hi"}))
	emit(t, fc, protocol.EventAgent, agentEvent("s1", "run-2", protocol.AgentStreamAssistant, map[string]any{"delta": " there"}))
	emit(t, fc, protocol.EventAgent, agentEvent("s1", "run-2", protocol.AgentStreamLifecycle, map[string]any{"phase": "end"}))
	emit(t, fc, protocol.EventChat, chatEvent("s1", "run-2", protocol.ChatStateFinal, nil))

	evs := r.drain(t, fc)
	if count(evs, events.KindStreamEnd) != 1 {
		t.Fatalf("stream ends = %d, want 1", count(evs, events.KindStreamEnd))
	}
	for _, ev := range evs {
		if e, ok := ev.(events.StreamEnd); ok && e.Reason != protocol.PhaseEnd {
			t.Fatalf("end reason = %q", e.Reason)
		}
		if m, ok := ev.(events.Message); ok && m.Text != "Hi there" {
			t.Fatalf("fallback text = %q", m.Text)
		}
	}
	if count(evs, events.KindMessage) != 1 {
		t.Fatal("final without content must fall back to the accumulated text")
	}
}

func TestChatDeltaCumulativeAndDuplicate(t *testing.T) {
	c, _, fc := connected(t, testOptions(newFakeGateway()))
	r := record(c)

	for _, text := range []string{"One", "One two", "One two", "Three"} {
		emit(t, fc, protocol.EventChat, chatEvent("s", "run", protocol.ChatStateDelta, map[string]any{"content": text}))
	}
	evs := r.drain(t, fc)
	if got := chunkText(evs); got != "One two\n\nThree" {
		t.Fatalf("chunks = %q", got)
	}
	if count(evs, events.KindStreamChunk) != 3 {
		t.Fatalf("duplicate fragment emitted a chunk: %d chunks", count(evs, events.KindStreamChunk))
	}
}

func TestHeartbeatChunk(t *testing.T) {
	c, _, fc := connected(t, testOptions(newFakeGateway()))
	r := record(c)

	emit(t, fc, protocol.EventChat, chatEvent("s", "run", protocol.ChatStateDelta, map[string]any{"content": "HEARTBEAT_OK"}))
	evs := r.drain(t, fc)
	if got := chunkText(evs); got != stream.HeartbeatPlaceholder {
		t.Fatalf("chunk = %q", got)
	}
}

func TestChatErrorEndsStream(t *testing.T) {
	c, _, fc := connected(t, testOptions(newFakeGateway()))
	r := record(c)

	emit(t, fc, protocol.EventChat, chatEvent("s", "run", protocol.ChatStateDelta, map[string]any{"content": "partial"}))
	ev := chatEvent("s", "run", protocol.ChatStateError, nil)
	ev["errorMessage"] = "model overloaded"
	emit(t, fc, protocol.EventChat, ev)

	end := r.wait(t, events.KindStreamEnd).(events.StreamEnd)
	if end.Reason != protocol.ChatStateError || end.ErrorMessage != "model overloaded" {
		t.Fatalf("end = %+v", end)
	}
}

func TestToolCallEvents(t *testing.T) {
	c, _, fc := connected(t, testOptions(newFakeGateway()))
	r := record(c)

	emit(t, fc, protocol.EventAgent, agentEvent("s", "run-t", protocol.AgentStreamTool, map[string]any{
		"phase": "start", "name": "read", "toolCallId": "call-1", "args": map[string]any{"path": "a.txt"},
	}))
	emit(t, fc, protocol.EventAgent, agentEvent("s", "run-t", protocol.AgentStreamTool, map[string]any{
		"phase": "update", "name": "read", "toolCallId": "call-1",
	}))
	emit(t, fc, protocol.EventAgent, agentEvent("s", "run-t", protocol.AgentStreamTool, map[string]any{
		"phase": "result", "name": "read", "toolCallId": "call-1", "isError": true,
		"result": map[string]any{"content": []any{map[string]any{"type": "text", "text": "not found"}}},
	}))

	evs := r.drain(t, fc)
	if count(evs, events.KindStreamStart) != 1 {
		t.Fatalf("stream starts = %d", count(evs, events.KindStreamStart))
	}
	var calls []events.ToolCall
	for _, ev := range evs {
		if tc, ok := ev.(events.ToolCall); ok {
			calls = append(calls, tc)
		}
	}
	if len(calls) != 2 {
		t.Fatalf("tool calls = %d, want 2 (update ignored)", len(calls))
	}
	if calls[0].Phase != events.ToolPhaseStart || calls[0].ID != "call-1" || string(calls[0].Args) != `{"path":"a.txt"}` {
		t.Fatalf("start = %+v", calls[0])
	}
	if calls[1].Phase != events.ToolPhaseResult || calls[1].Result != "not found" || !calls[1].IsError || calls[1].MessageID != "run-t" {
		t.Fatalf("result = %+v", calls[1])
	}
}

func TestSubagentDetectedOnce(t *testing.T) {
	c, _, fc := connected(t, testOptions(newFakeGateway()))
	c.SetPrimarySessionKey("agent:main:main")
	r := record(c)

	sub := "agent:main:subagent:abc"
	emit(t, fc, protocol.EventAgent, agentEvent("agent:main:main", "r1", protocol.AgentStreamAssistant, map[string]any{"delta": "x"}))
	emit(t, fc, protocol.EventAgent, agentEvent(sub, "r2", protocol.AgentStreamAssistant, map[string]any{"delta": "a"}))
	emit(t, fc, protocol.EventAgent, agentEvent(sub, "r2", protocol.AgentStreamAssistant, map[string]any{"delta": "b"}))

	evs := r.drain(t, fc)
	if n := count(evs, events.KindSubagentDetected); n != 1 {
		t.Fatalf("subagent notifications = %d, want 1", n)
	}
	for _, ev := range evs {
		if s, ok := ev.(events.SubagentDetected); ok && s.SessionKey != sub {
			t.Fatalf("detected %q", s.SessionKey)
		}
	}
}

func TestNoSubagentWithoutParents(t *testing.T) {
	c, _, fc := connected(t, testOptions(newFakeGateway()))
	r := record(c)

	emit(t, fc, protocol.EventAgent, agentEvent("agent:other:x", "r", protocol.AgentStreamAssistant, map[string]any{"delta": "a"}))
	if n := count(r.drain(t, fc), events.KindSubagentDetected); n != 0 {
		t.Fatalf("subagent notifications = %d, want 0", n)
	}
}

func TestServerAssignedSessionKey(t *testing.T) {
	c, _, fc := connected(t, testOptions(newFakeGateway()))
	c.SetPrimarySessionKey("main")
	r := record(c)

	sent := make(chan ChatSendResult, 1)
	go func() {
		res, err := c.ChatSend(context.Background(), ChatRequest{Message: "hi"})
		if err != nil {
			close(sent)
			return
		}
		sent <- res
	}()

	req := nextRequest(t, fc)
	var params struct {
		SessionKey     string `json:"sessionKey"`
		Message        string `json:"message"`
		IdempotencyKey string `json:"idempotencyKey"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.SessionKey != "main" || params.Message != "hi" || params.IdempotencyKey == "" {
		t.Fatalf("chat.send params = %+v", params)
	}
	reply(t, fc, req.ID, map[string]any{"runId": params.IdempotencyKey, "status": "started"})
	res, ok := <-sent
	if !ok || res.RunID != params.IdempotencyKey {
		t.Fatalf("send result = %+v", res)
	}

	canonical := "agent:main:main"
	emit(t, fc, protocol.EventChat, chatEvent(canonical, res.RunID, protocol.ChatStateDelta, map[string]any{"content": "hey"}))
	emit(t, fc, protocol.EventChat, chatEvent(canonical, res.RunID, protocol.ChatStateDelta, map[string]any{"content": "hey you"}))

	evs := r.drain(t, fc)
	if n := count(evs, events.KindStreamSessionKey); n != 1 {
		t.Fatalf("session key events = %d, want 1", n)
	}
	if n := count(evs, events.KindSubagentDetected); n != 0 {
		t.Fatalf("promoted key reported as sub-agent")
	}
	for _, ev := range evs {
		if sk, ok := ev.(events.StreamSessionKey); ok {
			if sk.SessionKey != canonical || sk.Expected != "main" || sk.RunID != res.RunID {
				t.Fatalf("session key event = %+v", sk)
			}
		}
	}
}

func TestAckSessionKeyPrecedesLaterFrames(t *testing.T) {
	c, _, fc := connected(t, testOptions(newFakeGateway()))
	c.SetPrimarySessionKey("main")
	r := record(c)

	sent := make(chan ChatSendResult, 1)
	go func() {
		res, _ := c.ChatSend(context.Background(), ChatRequest{Message: "hi"})
		sent <- res
	}()

	req := nextRequest(t, fc)
	var params struct {
		IdempotencyKey string `json:"idempotencyKey"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.Fatalf("params: %v", err)
	}
	canonical := "agent:main:main"
	// the delta follows the ack on the wire without waiting for ChatSend
	reply(t, fc, req.ID, map[string]any{"runId": "run-srv-1", "sessionKey": canonical})
	emit(t, fc, protocol.EventChat, chatEvent(canonical, "run-srv-1", protocol.ChatStateDelta, map[string]any{"content": "hey"}))

	evs := r.drain(t, fc)
	res := <-sent
	if res.RunID != "run-srv-1" || res.IdempotencyKey != params.IdempotencyKey {
		t.Fatalf("send result = %+v", res)
	}
	if len(evs) < 2 {
		t.Fatalf("events = %v", evs)
	}
	if evs[0].Kind() != events.KindStreamSessionKey {
		t.Fatalf("first event = %s, want %s", evs[0].Kind(), events.KindStreamSessionKey)
	}
	if n := count(evs, events.KindSubagentDetected); n != 0 {
		t.Fatalf("acked key reported as sub-agent")
	}
	if got := chunkText(evs); got != "hey" {
		t.Fatalf("chunks = %q", got)
	}
}

func TestPresenceAndPassthrough(t *testing.T) {
	c, _, fc := connected(t, testOptions(newFakeGateway()))
	r := record(c)

	ticks := make(chan json.RawMessage, 1)
	c.OnEvent(protocol.EventTick, func(payload json.RawMessage) { ticks <- payload })

	emit(t, fc, protocol.EventPresence, map[string]any{"agents": 2})
	emit(t, fc, protocol.EventTick, map[string]any{"ts": 42})

	status := r.wait(t, events.KindAgentStatus).(events.AgentStatus)
	if string(status.Payload) != `{"agents":2}` {
		t.Fatalf("presence payload = %s", status.Payload)
	}
	if got := string(<-ticks); got != `{"ts":42}` {
		t.Fatalf("tick payload = %s", got)
	}
}

func TestMalformedEventIgnored(t *testing.T) {
	c, _, fc := connected(t, testOptions(newFakeGateway()))
	r := record(c)

	fc.in <- []byte(`{"type":"event","event":"chat","payload":"not an object"}`)
	fc.in <- []byte(`not json`)
	emit(t, fc, protocol.EventChat, chatEvent("s", "run", protocol.ChatStateDelta, map[string]any{"content": "ok"}))

	evs := r.drain(t, fc)
	if got := chunkText(evs); got != "ok" {
		t.Fatalf("chunks = %q", got)
	}
	if c.State() != StateAuthenticated {
		t.Fatal("malformed frames must not drop the connection")
	}
}

func TestHandlerPanicDoesNotBreakRouting(t *testing.T) {
	c, _, fc := connected(t, testOptions(newFakeGateway()))
	c.On(events.KindStreamChunk, func(events.Event) { panic("subscriber bug") })
	r := record(c)

	emit(t, fc, protocol.EventChat, chatEvent("s", "run", protocol.ChatStateDelta, map[string]any{"content": "a"}))
	emit(t, fc, protocol.EventChat, chatEvent("s", "run", protocol.ChatStateDelta, map[string]any{"content": "ab"}))
	if got := chunkText(r.drain(t, fc)); got != "ab" {
		t.Fatalf("chunks = %q", got)
	}
}
