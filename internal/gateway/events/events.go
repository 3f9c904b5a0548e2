// Package events defines the subscriber-facing events emitted by the gateway
// client and the bus that fans them out.
package events

import (
	"encoding/json"
	"time"

	"github.com/CRMbyRSM/PRSM/internal/gateway/protocol"
	"github.com/CRMbyRSM/PRSM/internal/gateway/stream"
)

// Kind names an event variant.
type Kind string

const (
	KindConnected        Kind = "connected"
	KindDisconnected     Kind = "disconnected"
	KindError            Kind = "error"
	KindCertError        Kind = "certError"
	KindMessage          Kind = "message"
	KindStreamStart      Kind = "streamStart"
	KindStreamChunk      Kind = "streamChunk"
	KindStreamEnd        Kind = "streamEnd"
	KindStreamSessionKey Kind = "streamSessionKey"
	KindToolCall         Kind = "toolCall"
	KindAgentStatus      Kind = "agentStatus"
	KindSubagentDetected Kind = "subagentDetected"
	KindPassthrough      Kind = "passthrough"

	// KindAll subscribes to every variant.
	KindAll Kind = "*"
)

// Event is implemented by every variant below; the set is closed.
type Event interface {
	Kind() Kind
	event()
}

// Connected fires once the handshake completes.
type Connected struct {
	Hello *protocol.HelloOK
}

// Disconnected fires when an authenticated or connecting socket closes.
type Disconnected struct {
	Err           error
	WillReconnect bool
}

// Error reports a transport, handshake or reconnect failure.
type Error struct {
	Err error
}

// CertError reports a probable TLS certificate failure. HTTPSURL can be
// opened in a browser to inspect and trust the certificate.
type CertError struct {
	URL      string
	HTTPSURL string
	Err      error
}

// Message is one finalized conversational turn. It is never mutated after
// emission.
type Message struct {
	ID          string
	SessionKey  string
	RunID       string
	Role        string // "user", "assistant", "system"
	Text        string
	Thinking    string
	Timestamp   time.Time
	Attachments []stream.Attachment
}

// StreamStart opens a turn's visible stream.
type StreamStart struct {
	SessionKey string
	RunID      string
	Source     stream.Source
}

// StreamChunk carries exactly the newly appended text.
type StreamChunk struct {
	SessionKey string
	RunID      string
	Text       string
}

// StreamEnd closes a turn's visible stream. ErrorMessage is set when the
// server reported the turn as failed.
type StreamEnd struct {
	SessionKey   string
	RunID        string
	Reason       string
	ErrorMessage string
}

// StreamSessionKey reports that the server assigned a session key other than
// the one the caller sent with.
type StreamSessionKey struct {
	RunID      string
	SessionKey string
	Expected   string
}

// Tool call phases.
const (
	ToolPhaseStart  = "start"
	ToolPhaseResult = "result"
)

// ToolCall reports a tool invocation inside an agent run.
type ToolCall struct {
	ID         string
	Name       string
	Phase      string
	Args       json.RawMessage
	Result     string
	IsError    bool
	MessageID  string
	SessionKey string
}

// AgentStatus re-emits a presence event.
type AgentStatus struct {
	Payload json.RawMessage
}

// SubagentDetected fires once per session key seen outside the parent set.
type SubagentDetected struct {
	SessionKey string
	RunID      string
}

// Passthrough carries any server event the client does not interpret.
type Passthrough struct {
	Name    string
	Payload json.RawMessage
}

func (Connected) Kind() Kind        { return KindConnected }
func (Disconnected) Kind() Kind     { return KindDisconnected }
func (Error) Kind() Kind            { return KindError }
func (CertError) Kind() Kind        { return KindCertError }
func (Message) Kind() Kind          { return KindMessage }
func (StreamStart) Kind() Kind      { return KindStreamStart }
func (StreamChunk) Kind() Kind      { return KindStreamChunk }
func (StreamEnd) Kind() Kind        { return KindStreamEnd }
func (StreamSessionKey) Kind() Kind { return KindStreamSessionKey }
func (ToolCall) Kind() Kind         { return KindToolCall }
func (AgentStatus) Kind() Kind      { return KindAgentStatus }
func (SubagentDetected) Kind() Kind { return KindSubagentDetected }
func (Passthrough) Kind() Kind      { return KindPassthrough }

func (Connected) event()        {}
func (Disconnected) event()     {}
func (Error) event()            {}
func (CertError) event()        {}
func (Message) event()          {}
func (StreamStart) event()      {}
func (StreamChunk) event()      {}
func (StreamEnd) event()        {}
func (StreamSessionKey) event() {}
func (ToolCall) event()         {}
func (AgentStatus) event()      {}
func (SubagentDetected) event() {}
func (Passthrough) event()      {}
