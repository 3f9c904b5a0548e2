package client

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CRMbyRSM/PRSM/internal/gateway/events"
	"github.com/CRMbyRSM/PRSM/internal/gateway/protocol"
	"github.com/CRMbyRSM/PRSM/internal/gateway/stream"
)

// routeLocked dispatches one authenticated-state server event.
func (c *Client) routeLocked(ev *protocol.Event) []events.Event {
	switch ev.Name {
	case protocol.EventChat:
		var p protocol.ChatPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			c.logger.Debug("dropping malformed chat event", "error", err)
			return nil
		}
		return c.routeChatLocked(p)
	case protocol.EventAgent:
		var p protocol.AgentPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			c.logger.Debug("dropping malformed agent event", "error", err)
			return nil
		}
		return c.routeAgentLocked(p)
	case protocol.EventPresence:
		return []events.Event{events.AgentStatus{Payload: ev.Payload}}
	default:
		return []events.Event{events.Passthrough{Name: ev.Name, Payload: ev.Payload}}
	}
}

// classifyLocked applies server-assigned key promotion, then sub-agent
// detection, to an event's raw session key.
func (c *Client) classifyLocked(key, runID string) []events.Event {
	var out []events.Event
	if expected, promoted := c.sessions.ResolveRun(runID, key); promoted {
		out = append(out, events.StreamSessionKey{RunID: runID, SessionKey: key, Expected: expected})
	}
	if c.sessions.ObserveSubagent(key) {
		c.logger.Info("sub-agent session detected", "sessionKey", key, "runId", runID)
		out = append(out, events.SubagentDetected{SessionKey: key, RunID: runID})
	}
	return out
}

func (c *Client) routeChatLocked(p protocol.ChatPayload) []events.Event {
	out := c.classifyLocked(p.SessionKey, p.RunID)
	key := c.sessions.Resolve(p.SessionKey, stream.DefaultKey)

	switch p.State {
	case protocol.ChatStateDelta:
		var frag stream.Fragment
		if p.Delta != nil {
			frag.Delta, frag.HasDelta = *p.Delta, true
		}
		if len(p.Message) > 0 {
			if _, text, _, _ := parseMessage(p.Message); text != "" {
				frag.Text, frag.HasText = text, true
			}
		}
		out = append(out, convertOutputs(c.streams.Feed(key, stream.SourceChat, frag, p.RunID), "")...)

	case protocol.ChatStateFinal:
		out = append(out, c.finalizeLocked(key, p)...)

	case protocol.ChatStateAborted, protocol.ChatStateError:
		out = append(out, convertOutputs(c.streams.End(key, stream.SourceChat, p.State), p.ErrorMessage)...)

	default:
		c.logger.Debug("ignoring chat event", "state", p.State, "sessionKey", key)
	}
	return out
}

// finalizeLocked builds the turn's Message, emits it, then closes and
// deletes the session's stream state.
func (c *Client) finalizeLocked(key string, p protocol.ChatPayload) []events.Event {
	msg, text, thinking, attachments := parseMessage(p.Message)
	st, ends := c.streams.Finalize(key)
	if text == "" && st != nil {
		text = st.Text
	}
	text = stream.SanitizeText(text)
	thinking = stream.SanitizeText(thinking)

	var out []events.Event
	if text != "" || thinking != "" || len(attachments) > 0 {
		m := events.Message{
			ID:          msg.ID,
			SessionKey:  key,
			RunID:       p.RunID,
			Role:        msg.Role,
			Text:        text,
			Thinking:    thinking,
			Attachments: attachments,
		}
		if m.ID == "" {
			m.ID = p.RunID
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.Role == "" {
			m.Role = "assistant"
		}
		if msg.Timestamp > 0 {
			m.Timestamp = time.UnixMilli(msg.Timestamp)
		} else {
			m.Timestamp = time.Now()
		}
		if m.RunID == "" && st != nil {
			m.RunID = st.RunID
		}
		out = append(out, m)
	}
	return append(out, convertOutputs(ends, "")...)
}

func (c *Client) routeAgentLocked(p protocol.AgentPayload) []events.Event {
	out := c.classifyLocked(p.SessionKey, p.RunID)
	key := c.sessions.Resolve(p.SessionKey, stream.DefaultKey)

	switch p.Stream {
	case protocol.AgentStreamAssistant:
		var d protocol.AssistantData
		if err := json.Unmarshal(p.Data, &d); err != nil {
			c.logger.Debug("dropping malformed assistant data", "error", err)
			return out
		}
		var frag stream.Fragment
		if d.Text != nil {
			frag.Text, frag.HasText = *d.Text, true
		}
		if d.Delta != nil {
			frag.Delta, frag.HasDelta = *d.Delta, true
		}
		out = append(out, convertOutputs(c.streams.Feed(key, stream.SourceAgent, frag, p.RunID), "")...)

	case protocol.AgentStreamTool:
		var d protocol.ToolData
		if err := json.Unmarshal(p.Data, &d); err != nil {
			c.logger.Debug("dropping malformed tool data", "error", err)
			return out
		}
		if d.Phase != protocol.PhaseStart && d.Phase != protocol.PhaseResult {
			return out
		}
		out = append(out, convertOutputs(c.streams.MarkStarted(key, stream.SourceAgent, p.RunID), "")...)
		call := events.ToolCall{
			ID:         d.ToolCallID,
			Name:       d.Name,
			Phase:      d.Phase,
			MessageID:  p.RunID,
			SessionKey: key,
		}
		if d.Phase == protocol.PhaseStart {
			call.Args = d.Args
		} else {
			call.Result = toolResultText(d.Result)
			call.IsError = d.IsError
		}
		out = append(out, call)

	case protocol.AgentStreamLifecycle:
		var d protocol.LifecycleData
		if err := json.Unmarshal(p.Data, &d); err != nil {
			c.logger.Debug("dropping malformed lifecycle data", "error", err)
			return out
		}
		switch d.Phase {
		case protocol.PhaseEnd, protocol.PhaseError:
			out = append(out, convertOutputs(c.streams.End(key, stream.SourceAgent, d.Phase), d.Error)...)
		case protocol.PhaseStart:
			c.streams.NoteRun(key, p.RunID)
		}

	default:
		c.logger.Debug("ignoring agent stream", "stream", p.Stream)
	}
	return out
}

func convertOutputs(outs []stream.Output, errMessage string) []events.Event {
	if len(outs) == 0 {
		return nil
	}
	evs := make([]events.Event, 0, len(outs))
	for _, o := range outs {
		switch o.Kind {
		case stream.OutputStart:
			evs = append(evs, events.StreamStart{SessionKey: o.SessionKey, RunID: o.RunID, Source: o.Source})
		case stream.OutputChunk:
			evs = append(evs, events.StreamChunk{SessionKey: o.SessionKey, RunID: o.RunID, Text: o.Text})
		case stream.OutputEnd:
			evs = append(evs, events.StreamEnd{SessionKey: o.SessionKey, RunID: o.RunID, Reason: o.Reason, ErrorMessage: errMessage})
		}
	}
	return evs
}

// parseMessage reads a chat message object, or a bare content value.
func parseMessage(raw json.RawMessage) (msg protocol.ChatMessage, text, thinking string, attachments []stream.Attachment) {
	if len(raw) == 0 {
		return msg, "", "", nil
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var probe struct {
			protocol.ChatMessage
			Text     *string `json:"text"`
			Thinking string  `json:"thinking"`
		}
		if err := json.Unmarshal(raw, &probe); err == nil && (probe.Content != nil || probe.Text != nil || probe.Role != "") {
			msg = probe.ChatMessage
			text, thinking, attachments = stream.ExtractContent(msg.Content)
			if text == "" && probe.Text != nil {
				text = *probe.Text
			}
			if thinking == "" {
				thinking = probe.Thinking
			}
			return msg, text, thinking, attachments
		}
	}
	text, thinking, attachments = stream.ExtractContent(raw)
	return msg, text, thinking, attachments
}

// toolResultText flattens a tool result to display text.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && len(obj.Content) > 0 {
		if text, _, _ := stream.ExtractContent(obj.Content); text != "" {
			return text
		}
	}
	if text, _, _ := stream.ExtractContent(raw); text != "" {
		return text
	}
	return string(raw)
}
