package client

import (
	"context"

	"github.com/CRMbyRSM/PRSM/internal/gateway/protocol"
)

// AgentInfo is one row of agents.list.
type AgentInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Emoji     string `json:"emoji,omitempty"`
	Model     string `json:"model,omitempty"`
	Workspace string `json:"workspace,omitempty"`
	Default   bool   `json:"default,omitempty"`
}

// AgentIdentity is the display identity of one agent.
type AgentIdentity struct {
	AgentID string `json:"agentId"`
	Name    string `json:"name,omitempty"`
	Emoji   string `json:"emoji,omitempty"`
	Avatar  string `json:"avatar,omitempty"`
}

// AgentFile is one workspace file of an agent.
type AgentFile struct {
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Size      int64  `json:"size,omitempty"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
	Missing   bool   `json:"missing,omitempty"`
}

// ListAgents returns the configured agents.
func (c *Client) ListAgents(ctx context.Context) ([]AgentInfo, error) {
	raw, err := c.Call(ctx, protocol.MethodAgentsList, nil)
	return callList[AgentInfo](c, raw, err, protocol.MethodAgentsList, "agents")
}

// AgentIdentity fetches an agent's display identity. An unexpected shape
// yields an identity carrying only the requested id.
func (c *Client) AgentIdentity(ctx context.Context, agentID string) (AgentIdentity, error) {
	fallback := AgentIdentity{AgentID: agentID}
	raw, err := c.Call(ctx, protocol.MethodAgentIdentity, map[string]any{"agentId": agentID})
	if err != nil {
		return fallback, err
	}
	id, ok := decodeObject[AgentIdentity](raw, "identity")
	if !ok {
		c.logger.Debug("unexpected response shape", "method", protocol.MethodAgentIdentity)
		return fallback, nil
	}
	if id.AgentID == "" {
		id.AgentID = agentID
	}
	return id, nil
}

// ListAgentFiles returns the files in an agent's workspace.
func (c *Client) ListAgentFiles(ctx context.Context, agentID string) ([]AgentFile, error) {
	raw, err := c.Call(ctx, protocol.MethodAgentFiles, map[string]any{"agentId": agentID})
	return callList[AgentFile](c, raw, err, protocol.MethodAgentFiles, "files")
}
