package client

import (
	"context"

	"github.com/CRMbyRSM/PRSM/internal/gateway/protocol"
	"github.com/CRMbyRSM/PRSM/internal/gateway/session"
)

// SessionInfo is one row of sessions.list.
type SessionInfo struct {
	Key          string `json:"key"`
	Label        string `json:"label,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
	Kind         string `json:"kind,omitempty"`
	Model        string `json:"model,omitempty"`
	UpdatedAt    int64  `json:"updatedAt,omitempty"`
	InputTokens  int64  `json:"inputTokens,omitempty"`
	OutputTokens int64  `json:"outputTokens,omitempty"`
	TotalTokens  int64  `json:"totalTokens,omitempty"`
}

// Title returns the best human-readable name for the session.
func (s SessionInfo) Title() string {
	switch {
	case s.Label != "":
		return s.Label
	case s.DisplayName != "":
		return s.DisplayName
	default:
		return s.Key
	}
}

// SessionPatch holds the mutable session fields. Nil fields are left as is.
type SessionPatch struct {
	Label         *string `json:"label,omitempty"`
	Model         *string `json:"model,omitempty"`
	ThinkingLevel *string `json:"thinkingLevel,omitempty"`
}

// ListSessions returns the gateway's sessions, most recent first as the
// server orders them.
func (c *Client) ListSessions(ctx context.Context, limit int) ([]SessionInfo, error) {
	params := map[string]any{"includeGlobal": true}
	if limit > 0 {
		params["limit"] = limit
	}
	raw, err := c.Call(ctx, protocol.MethodSessionsList, params)
	return callList[SessionInfo](c, raw, err, protocol.MethodSessionsList, "sessions")
}

// PatchSession updates a session, creating it if the key is new.
func (c *Client) PatchSession(ctx context.Context, key string, patch SessionPatch) error {
	params := map[string]any{"key": key}
	if patch.Label != nil {
		params["label"] = *patch.Label
	}
	if patch.Model != nil {
		params["model"] = *patch.Model
	}
	if patch.ThinkingLevel != nil {
		params["thinkingLevel"] = *patch.ThinkingLevel
	}
	_, err := c.Call(ctx, protocol.MethodSessionsPatch, params)
	return err
}

// CreateSession registers a fresh session for agentID and returns its key.
func (c *Client) CreateSession(ctx context.Context, agentID, label string) (string, error) {
	key := session.NewKey(agentID)
	patch := SessionPatch{}
	if label != "" {
		patch.Label = &label
	}
	if err := c.PatchSession(ctx, key, patch); err != nil {
		return "", err
	}
	return key, nil
}

// ResetSession clears a session's transcript.
func (c *Client) ResetSession(ctx context.Context, key string) error {
	_, err := c.Call(ctx, protocol.MethodSessionsReset, map[string]any{"key": key})
	return err
}

// DeleteSession removes a session and its transcript.
func (c *Client) DeleteSession(ctx context.Context, key string) error {
	_, err := c.Call(ctx, protocol.MethodSessionsDelete, map[string]any{"key": key, "deleteTranscript": true})
	return err
}
