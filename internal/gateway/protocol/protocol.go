// Package protocol defines the WebSocket frame protocol spoken by the agent
// gateway: requests, responses and server-pushed events, plus the handshake
// payloads exchanged before any application RPC is valid.
package protocol

import (
	"encoding/json"
)

// Version is the only gateway protocol revision this client speaks.
const Version = 3

// FrameKind discriminates the three frame variants on the wire.
type FrameKind string

const (
	KindRequest  FrameKind = "req"
	KindResponse FrameKind = "res"
	KindEvent    FrameKind = "event"
)

// Frame is one discrete unit of wire communication.
type Frame interface {
	Kind() FrameKind
}

// Request is a client-to-gateway RPC call.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Kind implements Frame.
func (*Request) Kind() FrameKind { return KindRequest }

// Response answers a prior Request with the same ID.
type Response struct {
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`
}

// Kind implements Frame.
func (*Response) Kind() FrameKind { return KindResponse }

// Event is an asynchronous server push.
type Event struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
}

// Kind implements Frame.
func (*Event) Kind() FrameKind { return KindEvent }

// ErrorShape is the structured error carried by a failed Response.
type ErrorShape struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// Standard error codes used by the gateway.
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeUnavailable    = "UNAVAILABLE"
	ErrCodeNotPaired      = "NOT_PAIRED"
	ErrCodeAgentTimeout   = "AGENT_TIMEOUT"
)

// --- Handshake ---

// Auth modes accepted by the connect request.
const (
	AuthModeToken    = "token"
	AuthModePassword = "password"
	AuthModeNone     = "none"
)

// ConnectParams is sent as the "connect" request after the challenge arrives.
type ConnectParams struct {
	MinProtocol int          `json:"minProtocol"`
	MaxProtocol int          `json:"maxProtocol"`
	Role        string       `json:"role"`
	Client      ClientInfo   `json:"client"`
	Auth        *ConnectAuth `json:"auth,omitempty"`
	Scopes      []string     `json:"scopes,omitempty"`
}

// ClientInfo describes the connecting client.
type ClientInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Version     string `json:"version"`
	Platform    string `json:"platform"` // "macos", "linux", "windows"
	Mode        string `json:"mode"`     // "ui", "cli", "backend"
}

// ConnectAuth carries exactly one credential shape.
type ConnectAuth struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// NewConnectParams builds the connect request for the given auth mode.
// Unknown or empty credentials produce no auth object at all.
func NewConnectParams(info ClientInfo, mode, token, password string, scopes []string) ConnectParams {
	p := ConnectParams{
		MinProtocol: Version,
		MaxProtocol: Version,
		Role:        "operator",
		Client:      info,
		Scopes:      scopes,
	}
	switch mode {
	case AuthModeToken:
		if token != "" {
			p.Auth = &ConnectAuth{Token: token}
		}
	case AuthModePassword:
		if password != "" {
			p.Auth = &ConnectAuth{Password: password}
		}
	}
	return p
}

// Challenge is the connect.challenge event payload.
type Challenge struct {
	Nonce string `json:"nonce"`
	TS    int64  `json:"ts"`
}

// HelloOK is the payload of a successful connect response.
type HelloOK struct {
	Type     string          `json:"type"`
	Protocol int             `json:"protocol"`
	Server   ServerInfo      `json:"server"`
	Features Features        `json:"features"`
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
	Policy   json.RawMessage `json:"policy,omitempty"`
}

// ServerInfo identifies the gateway instance.
type ServerInfo struct {
	Version string `json:"version"`
	ConnID  string `json:"connId"`
	Host    string `json:"host,omitempty"`
}

// Features lists what the gateway advertises.
type Features struct {
	Methods []string `json:"methods,omitempty"`
	Events  []string `json:"events,omitempty"`
}

// HelloOKType marks a successful handshake payload.
const HelloOKType = "hello-ok"

// IsHelloOK reports whether a response payload marks a completed handshake.
func IsHelloOK(payload json.RawMessage) (*HelloOK, bool) {
	if len(payload) == 0 {
		return nil, false
	}
	var hello HelloOK
	if err := json.Unmarshal(payload, &hello); err != nil {
		return nil, false
	}
	if hello.Type != HelloOKType {
		return nil, false
	}
	return &hello, true
}

// --- Gateway events ---

const (
	EventConnectChallenge = "connect.challenge"
	EventChat             = "chat"
	EventAgent            = "agent"
	EventPresence         = "presence"
	EventTick             = "tick"
	EventHealth           = "health"
)

// Agent event sub-streams (payload.stream).
const (
	AgentStreamAssistant = "assistant"
	AgentStreamTool      = "tool"
	AgentStreamLifecycle = "lifecycle"
)

// Chat event states (payload.state).
const (
	ChatStateDelta   = "delta"
	ChatStateFinal   = "final"
	ChatStateAborted = "aborted"
	ChatStateError   = "error"
)

// Lifecycle and tool phases (payload.data.phase).
const (
	PhaseStart  = "start"
	PhaseUpdate = "update"
	PhaseResult = "result"
	PhaseEnd    = "end"
	PhaseError  = "error"
)

// ChatPayload is the payload of a "chat" event.
type ChatPayload struct {
	RunID        string          `json:"runId"`
	SessionKey   string          `json:"sessionKey"`
	Seq          int64           `json:"seq"`
	State        string          `json:"state"`
	Message      json.RawMessage `json:"message,omitempty"`
	Delta        *string         `json:"delta,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// AgentPayload is the payload of an "agent" event.
type AgentPayload struct {
	RunID      string          `json:"runId"`
	SessionKey string          `json:"sessionKey"`
	Seq        int64           `json:"seq"`
	Stream     string          `json:"stream"`
	TS         int64           `json:"ts"`
	Data       json.RawMessage `json:"data"`
}

// AssistantData is agent.data for stream=assistant.
type AssistantData struct {
	Text  *string `json:"text,omitempty"`
	Delta *string `json:"delta,omitempty"`
}

// ToolData is agent.data for stream=tool.
type ToolData struct {
	Phase      string          `json:"phase"`
	Name       string          `json:"name"`
	ToolCallID string          `json:"toolCallId"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	IsError    bool            `json:"isError,omitempty"`
}

// LifecycleData is agent.data for stream=lifecycle.
type LifecycleData struct {
	Phase string `json:"phase"`
	Error string `json:"error,omitempty"`
}

// ChatMessage is the message object carried by chat events and history.
type ChatMessage struct {
	ID        string          `json:"id,omitempty"`
	Role      string          `json:"role"` // "user", "assistant", "system"
	Content   json.RawMessage `json:"content"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// --- RPC methods ---

const (
	MethodConnect        = "connect"
	MethodChatSend       = "chat.send"
	MethodChatAbort      = "chat.abort"
	MethodChatHistory    = "chat.history"
	MethodSessionsList   = "sessions.list"
	MethodSessionsPatch  = "sessions.patch"
	MethodSessionsReset  = "sessions.reset"
	MethodSessionsDelete = "sessions.delete"
	MethodAgentsList     = "agents.list"
	MethodAgentIdentity  = "agent.identity.get"
	MethodAgentFiles     = "agents.files.list"
	MethodSkillsStatus   = "skills.status"
	MethodSkillsUpdate   = "skills.update"
	MethodSkillsInstall  = "skills.install"
	MethodCronList       = "cron.list"
	MethodCronUpdate     = "cron.update"
	MethodCronRuns       = "cron.runs"
	MethodCronStatus     = "cron.status"
)
