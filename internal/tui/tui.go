// Package tui implements the terminal chat interface.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/CRMbyRSM/PRSM/internal/gateway/client"
	"github.com/CRMbyRSM/PRSM/internal/gateway/events"
	"github.com/CRMbyRSM/PRSM/internal/gateway/session"
)

// 页面类型
type pageType int

const (
	pageHome    pageType = iota // 首页
	pageSession                 // 会话页面
)

const (
	callTimeout  = 10 * time.Second
	historyLimit = 100
)

// Options 配置 TUI 启动参数
type Options struct {
	SessionKey string
	Thinking   string
	GatewayURL string
	Version    string
}

// Gateway is the part of the client the TUI drives.
type Gateway interface {
	ChatSend(ctx context.Context, req client.ChatRequest) (client.ChatSendResult, error)
	ChatAbort(ctx context.Context, sessionKey, runID string) error
	ChatHistory(ctx context.Context, sessionKey string, limit int) ([]events.Message, error)
	ListSessions(ctx context.Context, limit int) ([]client.SessionInfo, error)
	CreateSession(ctx context.Context, agentID, label string) (string, error)
	PatchSession(ctx context.Context, key string, patch client.SessionPatch) error
	ResetSession(ctx context.Context, key string) error
	DeleteSession(ctx context.Context, key string) error
	SetPrimarySessionKey(key string)
}

type chatLine struct {
	Role      string
	Content   string
	Timestamp time.Time
}

type bootMsg struct {
	Sessions []client.SessionInfo
	History  []events.Message
	Err      error
}

// eventMsg carries a client event into the program loop.
type eventMsg struct{ ev events.Event }

type sentMsg struct {
	Seq   int
	RunID string
	Err   error
}

type abortedMsg struct{ Err error }

// Model 表示 TUI 状态
type Model struct {
	opts Options
	gw   Gateway

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	lines   []chatLine
	streams map[string]int  // runID -> 正在流式输出的行
	runs    map[string]bool // 本窗口发起的 run

	sessions       []client.SessionInfo
	currentSession string

	width  int
	height int
	ready  bool

	page         pageType
	pending      bool
	activeRun    string
	sendSeq      int
	sentAt       time.Time
	lastError    string
	lastRTT      time.Duration
	toolCalls    int
	messageQueue []string
	interrupt    int
	offline      bool
}

// NewModel 创建新的 TUI Model
func NewModel(gw Gateway, opts Options) Model {
	if strings.TrimSpace(opts.SessionKey) == "" {
		opts.SessionKey = "main"
	}

	ta := textarea.New()
	ta.Placeholder = "Message the agent, or /help"
	ta.Focus()
	ta.CharLimit = 10000
	ta.SetHeight(1)
	ta.ShowLineNumbers = false
	ta.Prompt = ""

	vp := viewport.New(80, 20)
	vp.SetContent("")

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(getTheme().primary)

	return Model{
		opts:           opts,
		gw:             gw,
		textarea:       ta,
		viewport:       vp,
		spinner:        sp,
		streams:        make(map[string]int),
		runs:           make(map[string]bool),
		currentSession: opts.SessionKey,
		page:           pageHome,
		messageQueue:   make([]string, 0),
	}
}

// Init 初始化 TUI
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, loadBootCmd(m.gw, m.currentSession))
}

// Update 处理消息
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height, m.ready = msg.Width, msg.Height, true
		m.resize()
		return m, nil

	case bootMsg:
		if msg.Err != nil {
			m.lastError = msg.Err.Error()
		}
		if msg.Sessions != nil {
			m.sessions = msg.Sessions
		}
		m.loadHistory(msg.History)
		return m, nil

	case sentMsg:
		return m, m.handleSent(msg)

	case abortedMsg:
		if msg.Err != nil {
			m.notice("Abort failed: " + msg.Err.Error())
		}
		return m, nil

	case eventMsg:
		cmd := m.handleEvent(msg.ev)
		m.updateViewport()
		return m, cmd

	case spinner.TickMsg:
		if !m.pending {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEsc:
			return m, m.escape()
		case tea.KeyEnter:
			return m, m.submit()
		}
	}
	return m, m.updateInputs(msg)
}

// handleSent 处理 chat.send 的确认；过期的确认不改变当前 run
func (m *Model) handleSent(msg sentMsg) tea.Cmd {
	latest := msg.Seq == m.sendSeq
	if msg.Err != nil {
		m.lastError = msg.Err.Error()
		m.notice("Error: " + m.lastError)
		if !latest {
			return nil
		}
		return m.finishTurn("")
	}
	m.runs[msg.RunID] = true
	if latest && m.pending {
		m.activeRun = msg.RunID
	}
	return nil
}

// escape 空闲时退出；运行中连按两次中断当前 run
func (m *Model) escape() tea.Cmd {
	if !m.pending {
		return tea.Quit
	}
	if m.interrupt++; m.interrupt < 2 {
		return nil
	}
	runID := m.activeRun
	m.interrupt = 0
	m.notice("Interrupted.")
	return tea.Batch(abortCmd(m.gw, m.currentSession, runID), m.finishTurn(runID))
}

// submit 处理输入框回车：斜杠命令、排队或发送
func (m *Model) submit() tea.Cmd {
	text := strings.TrimSpace(m.textarea.Value())
	if text == "" {
		return nil
	}
	m.textarea.Reset()
	m.textarea.SetHeight(1)
	m.lastError = ""
	m.interrupt = 0
	m.page = pageSession

	if strings.HasPrefix(text, "/") {
		name, args := parseCommand(text)
		return m.runCommand(name, args)
	}
	if m.pending {
		m.messageQueue = append(m.messageQueue, text)
		return nil
	}
	return m.send(text)
}

func (m *Model) runCommand(name string, args []string) tea.Cmd {
	cmd := findCommand(name)
	if cmd == nil {
		m.notice("Unknown command: " + name)
		return nil
	}
	out, err := cmd.Run(m, args)
	switch {
	case err != nil:
		m.notice("Error: " + err.Error())
	case out == resultQuit:
		return tea.Quit
	case out == resultReload:
		return loadBootCmd(m.gw, m.currentSession)
	case out != "":
		m.notice(out)
	}
	return nil
}

func (m *Model) updateInputs(msg tea.Msg) tea.Cmd {
	var taCmd, vpCmd tea.Cmd
	m.textarea, taCmd = m.textarea.Update(msg)
	if m.page == pageSession {
		m.viewport, vpCmd = m.viewport.Update(msg)
	}
	return tea.Batch(taCmd, vpCmd)
}

// handleEvent 把客户端事件映射成聊天记录
func (m *Model) handleEvent(ev events.Event) tea.Cmd {
	switch ev := ev.(type) {
	case events.StreamSessionKey:
		if ev.Expected == m.currentSession || m.runs[ev.RunID] {
			m.switchSession(ev.SessionKey)
		}

	case events.StreamStart:
		if !m.ours(ev.SessionKey, ev.RunID) {
			return nil
		}
		m.page = pageSession
		m.lines = append(m.lines, chatLine{Role: "assistant", Timestamp: time.Now()})
		m.streams[ev.RunID] = len(m.lines) - 1

	case events.StreamChunk:
		if idx, ok := m.streams[ev.RunID]; ok {
			m.lines[idx].Content += ev.Text
		}

	case events.StreamEnd:
		if !m.ours(ev.SessionKey, ev.RunID) {
			return nil
		}
		switch {
		case ev.ErrorMessage != "":
			delete(m.streams, ev.RunID)
			m.appendLine("system", "Error: "+ev.ErrorMessage)
			return m.finishTurn(ev.RunID)
		case ev.Reason == "aborted":
			delete(m.streams, ev.RunID)
			m.appendLine("system", "Aborted.")
			return m.finishTurn(ev.RunID)
		}

	case events.Message:
		if !m.ours(ev.SessionKey, ev.RunID) {
			return nil
		}
		if idx, ok := m.streams[ev.RunID]; ok {
			m.lines[idx].Content = ev.Text
			delete(m.streams, ev.RunID)
		} else if ev.Text != "" {
			m.lines = append(m.lines, chatLine{Role: ev.Role, Content: ev.Text, Timestamp: ev.Timestamp})
		}
		if ev.Role == "assistant" {
			return m.finishTurn(ev.RunID)
		}

	case events.ToolCall:
		if !m.ours(ev.SessionKey, ev.MessageID) {
			return nil
		}
		switch ev.Phase {
		case events.ToolPhaseStart:
			m.toolCalls++
			m.appendLine("tool", "⚙ "+ev.Name)
		case events.ToolPhaseResult:
			if ev.IsError {
				m.appendLine("tool", "✗ "+ev.Name+": "+ev.Result)
			}
		}

	case events.SubagentDetected:
		m.appendLine("system", "Sub-agent session "+ev.SessionKey)

	case events.Disconnected:
		m.offline = true
		if ev.WillReconnect {
			m.appendLine("system", "Connection lost, reconnecting...")
		} else {
			m.appendLine("system", "Disconnected.")
		}

	case events.Connected:
		if m.offline {
			m.appendLine("system", "Reconnected.")
		}
		m.offline = false

	case events.Error:
		m.lastError = ev.Err.Error()
	}
	return nil
}

// ours 判断事件是否属于当前会话或本窗口发起的 run
func (m *Model) ours(key, runID string) bool {
	if key == m.currentSession {
		return true
	}
	return runID != "" && m.runs[runID]
}

func (m *Model) send(text string) tea.Cmd {
	m.pending = true
	m.activeRun = ""
	m.sendSeq++
	m.sentAt = time.Now()
	m.page = pageSession
	m.appendLine("user", text)
	m.updateViewport()
	return tea.Batch(sendMessageCmd(m.gw, m.sendSeq, m.currentSession, text, m.opts.Thinking), m.spinner.Tick)
}

// finishTurn 结束当前 run 并发送排队的下一条消息
func (m *Model) finishTurn(runID string) tea.Cmd {
	if !m.pending || (m.activeRun != "" && runID != "" && runID != m.activeRun) {
		return nil
	}
	m.pending = false
	m.activeRun = ""
	m.lastRTT = time.Since(m.sentAt)
	if len(m.messageQueue) == 0 {
		return nil
	}
	next := m.messageQueue[0]
	m.messageQueue = m.messageQueue[1:]
	return m.send(next)
}

func (m *Model) switchSession(key string) {
	m.currentSession = key
	_ = session.SetCurrent(key)
	if m.gw != nil {
		m.gw.SetPrimarySessionKey(key)
	}
}

func (m *Model) loadHistory(history []events.Message) {
	m.lines = nil
	m.streams = make(map[string]int)
	for _, msg := range history {
		content := strings.TrimSpace(msg.Text)
		if msg.Role == "" || content == "" {
			continue
		}
		m.lines = append(m.lines, chatLine{Role: msg.Role, Content: content, Timestamp: msg.Timestamp})
	}
	if len(m.lines) > 0 {
		m.page = pageSession
	}
	m.updateViewport()
}

// View 渲染界面
func (m Model) View() string {
	switch {
	case !m.ready:
		return "\n  Loading..."
	case m.page == pageSession:
		return m.renderSessionPage()
	default:
		return m.renderHomePage()
	}
}

// renderHomePage 首页：Logo 与输入框居中
func (m *Model) renderHomePage() string {
	st := newStyles()
	input := lipgloss.JoinVertical(lipgloss.Left,
		st.accent.Render("┃ ")+m.textarea.View(),
		st.accent.Render("╹"),
		st.muted.Render("  "+m.currentSession+"  "+m.opts.GatewayURL),
		st.muted.Render("  /help commands  esc quit"),
	)
	body := lipgloss.JoinVertical(lipgloss.Center,
		renderLogo(),
		"",
		lipgloss.NewStyle().Width(min(75, m.width-4)).Render(input),
	)
	page := lipgloss.Place(m.width, max(m.height-1, 1), lipgloss.Center, lipgloss.Center, body)
	return page + "\n" + spread(m.width, st.muted.Render(m.lastError), st.muted.Render(m.opts.Version))
}

// renderSessionPage 会话页：header、聊天记录、输入框、footer
func (m *Model) renderSessionPage() string {
	st := newStyles()
	m.viewport.Width = m.width - 4
	m.viewport.Height = max(m.height-7, 5)

	prompt := m.textarea.View()
	if m.pending {
		status := m.spinner.View() + " "
		if n := len(m.messageQueue); n > 0 {
			status += fmt.Sprintf("(%d queued) ", n)
		}
		prompt = status + prompt
	}

	title := st.title.Render("# " + m.currentSession)
	var state string
	switch {
	case m.offline:
		state = st.warn.Render("offline")
	case m.lastRTT > 0:
		state = st.muted.Render("last turn " + m.lastRTT.Round(100*time.Millisecond).String())
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		spread(m.width, st.border.Render("┃")+" "+title, state),
		st.pad.Render(m.viewport.View()),
		"  "+st.accent.Render("┃ ")+prompt,
		"  "+st.accent.Render("╹"),
		spread(m.width, m.statusLine(st), st.muted.Render("/help commands")),
	)
}

// statusLine 运行中显示 ACTIVE 和中断提示，否则显示最近的错误
func (m *Model) statusLine(st styles) string {
	if !m.pending {
		return st.err.Render(m.lastError)
	}
	hint := st.muted.Render("interrupt")
	if m.interrupt > 0 {
		hint = st.accent.Render("again to interrupt")
	}
	return st.badge.Render("ACTIVE") + " esc " + hint
}

// spread 两端对齐，左右各留两格
func spread(width int, left, right string) string {
	gap := max(width-lipgloss.Width(left)-lipgloss.Width(right)-4, 1)
	return "  " + left + strings.Repeat(" ", gap) + right
}

func (m *Model) resize() {
	m.viewport.Width = m.width - 4
	m.viewport.Height = m.height - 8
	m.textarea.SetWidth(min(70, m.width-10))
}

func (m *Model) appendLine(role, content string) {
	m.lines = append(m.lines, chatLine{Role: role, Content: strings.TrimSpace(content), Timestamp: time.Now()})
}

// notice 追加一条系统提示并刷新视图
func (m *Model) notice(text string) {
	m.appendLine("system", text)
	m.updateViewport()
}

func (m *Model) updateViewport() {
	st := newStyles()
	agent := session.AgentID(m.currentSession)
	blocks := make([]string, 0, len(m.lines))
	for _, line := range m.lines {
		switch line.Role {
		case "user":
			blocks = append(blocks, st.accent.Render("┃")+" "+st.text.Render(line.Content))
		case "assistant":
			body := st.text.Width(max(m.viewport.Width-2, 10)).Render(line.Content)
			blocks = append(blocks, st.muted.Render("▶ "+agent)+"\n"+body)
		case "tool":
			blocks = append(blocks, st.muted.Render("  "+line.Content))
		default:
			blocks = append(blocks, st.muted.Italic(true).Render(line.Content))
		}
	}
	m.viewport.SetContent(strings.Join(blocks, "\n\n"))
	m.viewport.GotoBottom()
}

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

func loadBootCmd(gw Gateway, key string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := callContext()
		defer cancel()
		sessions, err := gw.ListSessions(ctx, 50)
		history, herr := gw.ChatHistory(ctx, key, historyLimit)
		return bootMsg{Sessions: sessions, History: history, Err: errors.Join(err, herr)}
	}
}

func sendMessageCmd(gw Gateway, seq int, key, text, thinking string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := callContext()
		defer cancel()
		res, err := gw.ChatSend(ctx, client.ChatRequest{SessionKey: key, Message: text, Thinking: thinking})
		return sentMsg{Seq: seq, RunID: res.RunID, Err: err}
	}
}

func abortCmd(gw Gateway, key, runID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := callContext()
		defer cancel()
		return abortedMsg{Err: gw.ChatAbort(ctx, key, runID)}
	}
}

func relativeTime(ms int64) string {
	if ms <= 0 {
		return "unknown"
	}
	d := time.Since(time.UnixMilli(ms))
	if d < time.Minute {
		return "just now"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}

// Run 启动 TUI，并把客户端事件送入程序循环，直到用户退出或 ctx 结束
func Run(ctx context.Context, c *client.Client, opts Options) error {
	p := tea.NewProgram(
		NewModel(c, opts),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	sub := c.On(events.KindAll, func(ev events.Event) {
		p.Send(eventMsg{ev: ev})
	})
	defer c.Off(sub)

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run TUI: %w", err)
	}
	return nil
}
