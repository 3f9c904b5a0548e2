package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/CRMbyRSM/PRSM/internal/gateway/client"
	"github.com/CRMbyRSM/PRSM/internal/gateway/events"
	"github.com/CRMbyRSM/PRSM/internal/gateway/session"
)

type fakeGateway struct {
	mu       sync.Mutex
	sent     []client.ChatRequest
	aborted  []string
	patches  map[string]client.SessionPatch
	created  []string
	deleted  []string
	primary  string
	sendErr  error
	sessions []client.SessionInfo
	history  []events.Message
}

func (f *fakeGateway) ChatSend(ctx context.Context, req client.ChatRequest) (client.ChatSendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return client.ChatSendResult{}, f.sendErr
	}
	f.sent = append(f.sent, req)
	return client.ChatSendResult{RunID: "run-" + req.Message}, nil
}

func (f *fakeGateway) ChatAbort(ctx context.Context, key, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, runID)
	return nil
}

func (f *fakeGateway) ChatHistory(ctx context.Context, key string, limit int) ([]events.Message, error) {
	return f.history, nil
}

func (f *fakeGateway) ListSessions(ctx context.Context, limit int) ([]client.SessionInfo, error) {
	return f.sessions, nil
}

func (f *fakeGateway) CreateSession(ctx context.Context, agentID, label string) (string, error) {
	key := "agent:" + agentID + ":new"
	f.created = append(f.created, key)
	return key, nil
}

func (f *fakeGateway) PatchSession(ctx context.Context, key string, patch client.SessionPatch) error {
	if f.patches == nil {
		f.patches = make(map[string]client.SessionPatch)
	}
	f.patches[key] = patch
	return nil
}

func (f *fakeGateway) ResetSession(ctx context.Context, key string) error { return nil }

func (f *fakeGateway) DeleteSession(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeGateway) SetPrimarySessionKey(key string) { f.primary = key }

func newTestModel(t *testing.T, gw *fakeGateway, key string) Model {
	t.Helper()
	t.Setenv("PRSM_HOME", t.TempDir())
	m := NewModel(gw, Options{SessionKey: key, GatewayURL: "ws://test"})
	return update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func updateCmd(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func typeLine(t *testing.T, m Model, text string) (Model, tea.Cmd) {
	t.Helper()
	m.textarea.SetValue(text)
	return updateCmd(t, m, tea.KeyMsg{Type: tea.KeyEnter})
}

func lastLine(m Model) chatLine {
	if len(m.lines) == 0 {
		return chatLine{}
	}
	return m.lines[len(m.lines)-1]
}

func TestParseAndFindCommand(t *testing.T) {
	name, args := parseCommand("  /switch  agent:main:work  now ")
	if name != "switch" || len(args) != 2 || args[0] != "agent:main:work" {
		t.Fatalf("parseCommand = %q %v", name, args)
	}
	if name, _ := parseCommand("hello"); name != "" {
		t.Errorf("plain text parsed as command %q", name)
	}
	if cmd := findCommand("Q"); cmd == nil || cmd.Name != "quit" {
		t.Errorf("alias lookup failed: %+v", cmd)
	}
	if findCommand("nope") != nil {
		t.Error("unknown command found")
	}
}

func TestStreamingTurn(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestModel(t, gw, "main")

	m, cmd := typeLine(t, m, "hi")
	if !m.pending || cmd == nil {
		t.Fatal("expected a pending turn")
	}
	if l := lastLine(m); l.Role != "user" || l.Content != "hi" {
		t.Fatalf("last line = %+v", l)
	}

	m = update(t, m, sentMsg{Seq: m.sendSeq, RunID: "r1"})
	m = update(t, m, eventMsg{events.StreamSessionKey{RunID: "r1", SessionKey: "agent:main:main", Expected: "main"}})
	if m.currentSession != "agent:main:main" || gw.primary != "agent:main:main" {
		t.Fatalf("session not promoted: %q / %q", m.currentSession, gw.primary)
	}
	if cur, _ := session.Current(); cur != "agent:main:main" {
		t.Errorf("persisted session = %q", cur)
	}

	m = update(t, m, eventMsg{events.StreamStart{SessionKey: "agent:main:main", RunID: "r1"}})
	m = update(t, m, eventMsg{events.StreamChunk{SessionKey: "agent:main:main", RunID: "r1", Text: "hel"}})
	m = update(t, m, eventMsg{events.StreamChunk{SessionKey: "agent:main:main", RunID: "r1", Text: "lo"}})
	if l := lastLine(m); l.Role != "assistant" || l.Content != "hello" {
		t.Fatalf("streaming line = %+v", l)
	}

	m = update(t, m, eventMsg{events.Message{SessionKey: "agent:main:main", RunID: "r1", Role: "assistant", Text: "hello!"}})
	if m.pending {
		t.Error("turn still pending after final message")
	}
	if l := lastLine(m); l.Content != "hello!" {
		t.Errorf("final line = %+v", l)
	}
	if len(m.streams) != 0 {
		t.Errorf("streams not cleared: %v", m.streams)
	}
	if !strings.Contains(m.View(), "agent:main:main") {
		t.Error("header does not show the session key")
	}
}

func TestQueuedMessageSentAfterTurn(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestModel(t, gw, "agent:main:main")

	m, _ = typeLine(t, m, "first")
	m = update(t, m, sentMsg{Seq: m.sendSeq, RunID: "r1"})
	m, cmd := typeLine(t, m, "second")
	if cmd != nil || len(m.messageQueue) != 1 {
		t.Fatalf("second message not queued: %v", m.messageQueue)
	}

	m, cmd = updateCmd(t, m, eventMsg{events.Message{SessionKey: "agent:main:main", RunID: "r1", Role: "assistant", Text: "done"}})
	if cmd == nil || !m.pending || len(m.messageQueue) != 0 {
		t.Fatalf("queued message not sent: pending=%v queue=%v", m.pending, m.messageQueue)
	}
	if l := lastLine(m); l.Role != "user" || l.Content != "second" {
		t.Errorf("last line = %+v", l)
	}

	// A late acknowledgement for an older send must not claim the new turn.
	m = update(t, m, sentMsg{Seq: m.sendSeq - 1, RunID: "r1"})
	if m.activeRun != "" {
		t.Errorf("activeRun = %q, want empty", m.activeRun)
	}
}

func TestEventsForOtherSessionsIgnored(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestModel(t, gw, "agent:main:main")

	m = update(t, m, eventMsg{events.StreamStart{SessionKey: "agent:main:other", RunID: "x"}})
	m = update(t, m, eventMsg{events.StreamChunk{SessionKey: "agent:main:other", RunID: "x", Text: "noise"}})
	m = update(t, m, eventMsg{events.Message{SessionKey: "agent:main:other", RunID: "x", Role: "assistant", Text: "noise"}})
	if len(m.lines) != 0 {
		t.Errorf("lines = %+v", m.lines)
	}

	m = update(t, m, eventMsg{events.SubagentDetected{SessionKey: "agent:main:sub"}})
	if l := lastLine(m); !strings.Contains(l.Content, "agent:main:sub") {
		t.Errorf("sub-agent notice missing: %+v", l)
	}
}

func TestStreamErrorEndsTurn(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestModel(t, gw, "agent:main:main")

	m, _ = typeLine(t, m, "fail please")
	m = update(t, m, eventMsg{events.StreamStart{SessionKey: "agent:main:main", RunID: "r1"}})
	m = update(t, m, eventMsg{events.StreamEnd{SessionKey: "agent:main:main", RunID: "r1", Reason: "error", ErrorMessage: "model overloaded"}})
	if m.pending {
		t.Error("turn still pending after error")
	}
	if l := lastLine(m); !strings.Contains(l.Content, "model overloaded") {
		t.Errorf("last line = %+v", l)
	}
}

func TestSendFailureReported(t *testing.T) {
	gw := &fakeGateway{sendErr: errors.New("not connected")}
	m := newTestModel(t, gw, "main")

	msg := sendMessageCmd(gw, 1, "main", "hi", "")()
	sent, ok := msg.(sentMsg)
	if !ok || sent.Err == nil {
		t.Fatalf("msg = %#v", msg)
	}

	m, _ = typeLine(t, m, "hi")
	m = update(t, m, sentMsg{Seq: m.sendSeq, Err: sent.Err})
	if m.pending {
		t.Error("turn still pending after send failure")
	}
	if l := lastLine(m); !strings.Contains(l.Content, "not connected") {
		t.Errorf("last line = %+v", l)
	}
}

func TestEscapeTwiceAborts(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestModel(t, gw, "agent:main:main")

	m, _ = typeLine(t, m, "long task")
	m = update(t, m, sentMsg{Seq: m.sendSeq, RunID: "r1"})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if !m.pending || m.interrupt != 1 {
		t.Fatalf("first esc: pending=%v interrupt=%d", m.pending, m.interrupt)
	}
	m, cmd := updateCmd(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.pending || cmd == nil {
		t.Fatal("second esc should end the turn")
	}
	if msg := abortCmd(gw, m.currentSession, "r1")(); msg.(abortedMsg).Err != nil {
		t.Fatal(msg)
	}
	if len(gw.aborted) != 1 || gw.aborted[0] != "r1" {
		t.Errorf("aborted = %v", gw.aborted)
	}
}

func TestSlashCommands(t *testing.T) {
	gw := &fakeGateway{sessions: []client.SessionInfo{
		{Key: "agent:main:main"},
		{Key: "agent:main:work", Label: "Work"},
	}}
	m := newTestModel(t, gw, "agent:main:main")

	m, _ = typeLine(t, m, "/sessions")
	if l := lastLine(m); !strings.Contains(l.Content, "* [0] agent:main:main") || !strings.Contains(l.Content, "Work") {
		t.Errorf("/sessions = %q", l.Content)
	}

	m, cmd := typeLine(t, m, "/switch 1")
	if m.currentSession != "agent:main:work" || cmd == nil {
		t.Errorf("/switch: session=%q cmd=%v", m.currentSession, cmd)
	}

	m, _ = typeLine(t, m, "/rename Deep Work")
	if p := gw.patches["agent:main:work"]; p.Label == nil || *p.Label != "Deep Work" {
		t.Errorf("/rename patch = %+v", p)
	}
	m, _ = typeLine(t, m, "/model openai/gpt-5")
	if p := gw.patches["agent:main:work"]; p.Model == nil || *p.Model != "openai/gpt-5" {
		t.Errorf("/model patch = %+v", p)
	}

	m, _ = typeLine(t, m, "/delete agent:main:work")
	if len(gw.deleted) != 0 {
		t.Error("deleted the current session")
	}

	m, _ = typeLine(t, m, "/new scratch")
	if len(gw.created) != 1 || m.currentSession != "agent:main:new" {
		t.Errorf("/new: created=%v session=%q", gw.created, m.currentSession)
	}

	m, _ = typeLine(t, m, "/thinking HIGH")
	if m.opts.Thinking != "high" {
		t.Errorf("thinking = %q", m.opts.Thinking)
	}

	m, _ = typeLine(t, m, "/help")
	if l := lastLine(m); !strings.Contains(l.Content, "/sessions") {
		t.Errorf("/help = %q", l.Content)
	}

	m, _ = typeLine(t, m, "/bogus")
	if l := lastLine(m); l.Content != "Unknown command: bogus" {
		t.Errorf("unknown = %q", l.Content)
	}

	_, cmd = typeLine(t, m, "/quit")
	if cmd == nil {
		t.Fatal("/quit returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("/quit did not quit")
	}
}

func TestBootLoadsHistory(t *testing.T) {
	gw := &fakeGateway{history: []events.Message{
		{Role: "user", Text: "earlier"},
		{Role: "assistant", Text: "reply"},
		{Role: "assistant", Text: "   "},
	}}
	m := newTestModel(t, gw, "agent:main:main")

	msg := loadBootCmd(gw, m.currentSession)()
	m = update(t, m, msg)
	if len(m.lines) != 2 || m.page != pageSession {
		t.Errorf("lines = %+v page = %v", m.lines, m.page)
	}
}
