package client

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/CRMbyRSM/PRSM/internal/gateway/events"
	"github.com/CRMbyRSM/PRSM/internal/gateway/protocol"
	"github.com/CRMbyRSM/PRSM/internal/gateway/stream"
)

// ChatRequest is one outbound user turn.
type ChatRequest struct {
	SessionKey  string // empty uses the primary session, then "main"
	Message     string
	Thinking    string // optional thinking level
	Attachments []stream.Attachment
}

// ChatSendResult is the server's acknowledgement of chat.send.
type ChatSendResult struct {
	RunID          string `json:"runId"`
	Status         string `json:"status,omitempty"`
	SessionKey     string `json:"sessionKey,omitempty"`
	IdempotencyKey string `json:"-"`
}

// ChatSend starts an agent turn. The reply streams back as events; the
// returned result only acknowledges the run.
func (c *Client) ChatSend(ctx context.Context, req ChatRequest) (ChatSendResult, error) {
	idem := uuid.NewString()

	c.mu.Lock()
	key := c.sessions.Resolve(req.SessionKey, stream.DefaultKey)
	// OpenClaw uses the idempotency key as the run id
	c.sessions.ExpectRun(idem, key)
	c.mu.Unlock()

	params := map[string]any{
		"sessionKey":     key,
		"message":        req.Message,
		"idempotencyKey": idem,
		"deliver":        false,
	}
	if req.Thinking != "" {
		params["thinking"] = req.Thinking
	}
	if len(req.Attachments) > 0 {
		params["attachments"] = req.Attachments
	}

	result := ChatSendResult{RunID: idem, IdempotencyKey: idem}
	raw, err := c.invoke(ctx, protocol.MethodChatSend, params, func(payload json.RawMessage) []events.Event {
		return c.ackRunLocked(idem, payload)
	})
	if err != nil {
		c.mu.Lock()
		c.sessions.ForgetRun(idem)
		c.mu.Unlock()
		return result, err
	}

	ack, ok := decodeChatAck(raw, idem)
	if !ok {
		c.logger.Debug("unexpected response shape", "method", protocol.MethodChatSend)
		return result, nil
	}
	return ack, nil
}

// ackRunLocked applies a chat.send acknowledgement to the run table. It runs
// on the reader goroutine so a promoted session key is announced ahead of
// any frame that arrived after the ack.
func (c *Client) ackRunLocked(idem string, payload json.RawMessage) []events.Event {
	ack, ok := decodeChatAck(payload, idem)
	if !ok {
		return nil
	}
	c.sessions.RenameRun(idem, ack.RunID)
	if ack.SessionKey == "" {
		return nil
	}
	expected, promoted := c.sessions.ResolveRun(ack.RunID, ack.SessionKey)
	if !promoted {
		return nil
	}
	return []events.Event{events.StreamSessionKey{RunID: ack.RunID, SessionKey: ack.SessionKey, Expected: expected}}
}

func decodeChatAck(raw json.RawMessage, idem string) (ChatSendResult, bool) {
	ack, ok := decodeObject[ChatSendResult](raw, "")
	if !ok {
		return ChatSendResult{}, false
	}
	ack.IdempotencyKey = idem
	if ack.RunID == "" {
		ack.RunID = idem
	}
	return ack, true
}

// ChatAbort stops a running turn. An empty runID aborts whatever runs in
// the session.
func (c *Client) ChatAbort(ctx context.Context, sessionKey, runID string) error {
	c.mu.Lock()
	key := c.sessions.Resolve(sessionKey, stream.DefaultKey)
	c.mu.Unlock()

	params := map[string]any{"sessionKey": key}
	if runID != "" {
		params["runId"] = runID
	}
	_, err := c.Call(ctx, protocol.MethodChatAbort, params)
	return err
}

// ChatHistory returns a session's transcript as messages, oldest first.
func (c *Client) ChatHistory(ctx context.Context, sessionKey string, limit int) ([]events.Message, error) {
	c.mu.Lock()
	key := c.sessions.Resolve(sessionKey, stream.DefaultKey)
	c.mu.Unlock()

	params := map[string]any{"sessionKey": key}
	if limit > 0 {
		params["limit"] = limit
	}
	raw, err := c.Call(ctx, protocol.MethodChatHistory, params)
	items, err := callList[json.RawMessage](c, raw, err, protocol.MethodChatHistory, "messages")
	if err != nil {
		return []events.Message{}, err
	}

	out := make([]events.Message, 0, len(items))
	for i, item := range items {
		msg, text, thinking, attachments := parseMessage(item)
		text = stream.SanitizeText(text)
		thinking = stream.SanitizeText(thinking)
		if text == "" && thinking == "" && len(attachments) == 0 {
			continue
		}
		m := events.Message{
			ID:          msg.ID,
			SessionKey:  key,
			Role:        msg.Role,
			Text:        text,
			Thinking:    thinking,
			Attachments: attachments,
		}
		if m.ID == "" {
			m.ID = key + "#" + strconv.Itoa(i)
		}
		if m.Role == "" {
			m.Role = "assistant"
		}
		if msg.Timestamp > 0 {
			m.Timestamp = time.UnixMilli(msg.Timestamp)
		}
		out = append(out, m)
	}
	return out, nil
}
