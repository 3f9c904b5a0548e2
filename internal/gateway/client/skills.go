package client

import (
	"context"

	"github.com/CRMbyRSM/PRSM/internal/gateway/protocol"
)

// SkillInfo is one row of skills.status.
type SkillInfo struct {
	Key         string `json:"skillKey"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Source      string `json:"source,omitempty"`
	Emoji       string `json:"emoji,omitempty"`
	Eligible    bool   `json:"eligible"`
	Disabled    bool   `json:"disabled"`
}

// ID returns the key used to address the skill in updates.
func (s SkillInfo) ID() string {
	if s.Key != "" {
		return s.Key
	}
	return s.Name
}

// ListSkills returns the skill inventory of the default agent.
func (c *Client) ListSkills(ctx context.Context) ([]SkillInfo, error) {
	raw, err := c.Call(ctx, protocol.MethodSkillsStatus, nil)
	return callList[SkillInfo](c, raw, err, protocol.MethodSkillsStatus, "skills")
}

// ToggleSkill enables or disables one skill.
func (c *Client) ToggleSkill(ctx context.Context, skillKey string, enabled bool) error {
	_, err := c.Call(ctx, protocol.MethodSkillsUpdate, map[string]any{"skillKey": skillKey, "enabled": enabled})
	return err
}

// InstallSkill runs an installer for a skill. installID selects one of the
// skill's advertised installers and may be empty.
func (c *Client) InstallSkill(ctx context.Context, name, installID string) error {
	params := map[string]any{"name": name}
	if installID != "" {
		params["installId"] = installID
	}
	_, err := c.Call(ctx, protocol.MethodSkillsInstall, params)
	return err
}
