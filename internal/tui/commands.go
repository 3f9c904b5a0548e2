package tui

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/CRMbyRSM/PRSM/internal/gateway/client"
	"github.com/CRMbyRSM/PRSM/internal/gateway/session"
)

// Command results the Update loop acts on instead of printing.
const (
	resultQuit   = "__QUIT__"
	resultReload = "__RELOAD__"
)

// Command 是一个斜杠命令；Run 的返回文本作为系统消息显示
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Category    string
	Run         func(m *Model, args []string) (string, error)
}

// builtinCommands 按分类顺序排列，/help 依此输出
func builtinCommands() []Command {
	return []Command{
		{Name: "sessions", Aliases: []string{"session", "s"}, Description: "List sessions", Category: "Session", Run: cmdListSessions},
		{Name: "switch", Aliases: []string{"sw"}, Description: "Switch to a session by index, key or label", Category: "Session", Run: cmdSwitchSession},
		{Name: "new", Aliases: []string{"n"}, Description: "Create a new session", Category: "Session", Run: cmdNewSession},
		{Name: "rename", Aliases: []string{"ren"}, Description: "Rename the current session", Category: "Session", Run: cmdRenameSession},
		{Name: "reset", Description: "Clear the current session's transcript", Category: "Session", Run: cmdResetSession},
		{Name: "delete", Aliases: []string{"del", "rm"}, Description: "Delete another session", Category: "Session", Run: cmdDeleteSession},

		{Name: "model", Aliases: []string{"m"}, Description: "Set the session's model", Category: "Agent", Run: cmdSetModel},
		{Name: "thinking", Aliases: []string{"think"}, Description: "Set the thinking level", Category: "Agent", Run: cmdThinking},

		{Name: "clear", Aliases: []string{"cls", "c"}, Description: "Clear the screen", Category: "System", Run: cmdClearChat},
		{Name: "reload", Aliases: []string{"r"}, Description: "Reload sessions and history", Category: "System", Run: cmdReload},
		{Name: "info", Aliases: []string{"i"}, Description: "Show connection and session info", Category: "System", Run: cmdInfo},
		{Name: "help", Aliases: []string{"h", "?"}, Description: "Show help", Category: "System", Run: cmdHelp},
		{Name: "quit", Aliases: []string{"q", "exit"}, Description: "Quit", Category: "System", Run: cmdQuit},
	}
}

var commandIndex = sync.OnceValue(func() map[string]Command {
	idx := make(map[string]Command)
	for _, c := range builtinCommands() {
		idx[c.Name] = c
		for _, a := range c.Aliases {
			idx[a] = c
		}
	}
	return idx
})

func findCommand(name string) *Command {
	c, ok := commandIndex()[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil
	}
	return &c
}

// parseCommand 拆分 "/name arg..."；非命令输入返回空名
func parseCommand(input string) (name string, args []string) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(input), "/")
	if !ok {
		return "", nil
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

func cmdListSessions(m *Model, args []string) (string, error) {
	ctx, cancel := callContext()
	defer cancel()
	list, err := m.gw.ListSessions(ctx, 50)
	if err != nil {
		return "", err
	}
	m.sessions = list
	if len(list) == 0 {
		return "No sessions found.", nil
	}
	rows := make([]string, 0, len(list)+1)
	rows = append(rows, "Sessions:")
	for i, s := range list {
		mark := " "
		if s.Key == m.currentSession {
			mark = "*"
		}
		rows = append(rows, fmt.Sprintf(" %s [%d] %s %s (%s)", mark, i, s.Key, s.Title(), relativeTime(s.UpdatedAt)))
	}
	return strings.Join(rows, "\n"), nil
}

func cmdSwitchSession(m *Model, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /switch <index|key|label>", nil
	}
	target := strings.Join(args, " ")
	key, ok := m.matchSession(target)
	if !ok {
		if !strings.HasPrefix(target, "agent:") {
			return "Session not found: " + target, nil
		}
		key = target
	}
	m.switchSession(key)
	return resultReload, nil
}

// matchSession 按列表序号、key 子串或标题查找会话
func (m *Model) matchSession(target string) (string, bool) {
	if i, err := strconv.Atoi(target); err == nil {
		if i >= 0 && i < len(m.sessions) {
			return m.sessions[i].Key, true
		}
		return "", false
	}
	needle := strings.ToLower(target)
	for _, s := range m.sessions {
		if strings.Contains(strings.ToLower(s.Key), needle) || strings.EqualFold(s.Title(), target) {
			return s.Key, true
		}
	}
	return "", false
}

func cmdNewSession(m *Model, args []string) (string, error) {
	ctx, cancel := callContext()
	defer cancel()
	key, err := m.gw.CreateSession(ctx, session.AgentID(m.currentSession), strings.Join(args, " "))
	if err != nil {
		return "", err
	}
	m.switchSession(key)
	m.lines = nil
	m.streams = make(map[string]int)
	m.updateViewport()
	return fmt.Sprintf("Created: %s", key), nil
}

func cmdRenameSession(m *Model, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /rename <label>", nil
	}
	label := strings.Join(args, " ")
	ctx, cancel := callContext()
	defer cancel()
	if err := m.gw.PatchSession(ctx, m.currentSession, client.SessionPatch{Label: &label}); err != nil {
		return "", err
	}
	return fmt.Sprintf("Renamed to %q", label), nil
}

func cmdResetSession(m *Model, args []string) (string, error) {
	ctx, cancel := callContext()
	defer cancel()
	if err := m.gw.ResetSession(ctx, m.currentSession); err != nil {
		return "", err
	}
	m.lines = nil
	m.updateViewport()
	return "Session reset.", nil
}

func cmdDeleteSession(m *Model, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /delete <key>", nil
	}
	key := args[0]
	if key == m.currentSession {
		return "Switch to another session before deleting this one.", nil
	}
	ctx, cancel := callContext()
	defer cancel()
	if err := m.gw.DeleteSession(ctx, key); err != nil {
		return "", err
	}
	return fmt.Sprintf("Deleted: %s", key), nil
}

func cmdSetModel(m *Model, args []string) (string, error) {
	if len(args) == 0 {
		return "Usage: /model <provider/model>", nil
	}
	model := strings.Join(args, " ")
	ctx, cancel := callContext()
	defer cancel()
	if err := m.gw.PatchSession(ctx, m.currentSession, client.SessionPatch{Model: &model}); err != nil {
		return "", err
	}
	return fmt.Sprintf("Model: %s", model), nil
}

func cmdThinking(m *Model, args []string) (string, error) {
	if len(args) == 0 {
		level := m.opts.Thinking
		if level == "" {
			level = "default"
		}
		return fmt.Sprintf("Thinking: %s\nUsage: /thinking <off|low|medium|high>", level), nil
	}
	m.opts.Thinking = strings.ToLower(args[0])
	return fmt.Sprintf("Thinking: %s", m.opts.Thinking), nil
}

func cmdClearChat(m *Model, args []string) (string, error) {
	m.lines = nil
	m.streams = make(map[string]int)
	m.updateViewport()
	return "", nil
}

func cmdReload(m *Model, args []string) (string, error) {
	return resultReload, nil
}

func cmdHelp(m *Model, args []string) (string, error) {
	var b strings.Builder
	b.WriteString("Commands:\n")
	category := ""
	for _, c := range builtinCommands() {
		if c.Category != category {
			category = c.Category
			fmt.Fprintf(&b, "\n[%s]\n", category)
		}
		name := "/" + c.Name
		if len(c.Aliases) > 0 {
			name += " (/" + strings.Join(c.Aliases, ", /") + ")"
		}
		fmt.Fprintf(&b, "  %-26s %s\n", name, c.Description)
	}
	b.WriteString("\nesc twice interrupts a running turn")
	return b.String(), nil
}

func cmdQuit(m *Model, args []string) (string, error) {
	return resultQuit, nil
}

func cmdInfo(m *Model, args []string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Session:   %s\n", m.currentSession)
	fmt.Fprintf(&b, "Gateway:   %s\n", m.opts.GatewayURL)
	state := "connected"
	if m.offline {
		state = "offline"
	}
	fmt.Fprintf(&b, "State:     %s\n", state)
	if m.lastRTT > 0 {
		fmt.Fprintf(&b, "Last turn: %s\n", m.lastRTT.Round(time.Millisecond))
	}
	fmt.Fprintf(&b, "Tools run: %d\n", m.toolCalls)
	if len(m.messageQueue) > 0 {
		fmt.Fprintf(&b, "Queued:    %d\n", len(m.messageQueue))
	}
	return strings.TrimSpace(b.String()), nil
}
