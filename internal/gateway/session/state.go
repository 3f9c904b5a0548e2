// Package session tracks which gateway session keys belong to the user and
// persists the CLI's current session between runs.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/CRMbyRSM/PRSM/internal/config"
)

// MainKey is the gateway's canonical key for the main agent's main session.
const MainKey = "agent:main:main"

const currentFile = "current_session.json"

type pointer struct {
	Key       string `json:"key"`
	UpdatedAt int64  `json:"updatedAt"`
}

// SetCurrent stores the session key later commands default to. An empty key
// clears it.
func SetCurrent(key string) error {
	path := filepath.Join(config.StateDir(), currentFile)
	key = strings.TrimSpace(key)
	if key == "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("clear current session: %w", err)
		}
		return nil
	}
	data, err := json.MarshalIndent(pointer{Key: key, UpdatedAt: time.Now().UnixMilli()}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode current session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	return writeAtomic(path, data)
}

// Current returns the stored session key, or "" when none is set.
func Current() (string, error) {
	data, err := os.ReadFile(filepath.Join(config.StateDir(), currentFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "", nil
	case err != nil:
		return "", fmt.Errorf("read current session: %w", err)
	}
	var p pointer
	if err := json.Unmarshal(data, &p); err != nil {
		return "", fmt.Errorf("decode current session: %w", err)
	}
	return strings.TrimSpace(p.Key), nil
}

// writeAtomic replaces path via a temp file in the same directory.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write current session: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write current session: %w", err)
	}
	return nil
}

// NewKey returns a fresh session key for agentID in the gateway's
// agent:<id>:<name> form.
func NewKey(agentID string) string {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		agentID = "main"
	}
	return "agent:" + agentID + ":prsm-" + uuid.NewString()[:8]
}

// AgentID extracts the agent id from an agent:<id>:<name> key. Other key
// shapes belong to the main agent.
func AgentID(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) == 3 && parts[0] == "agent" && parts[1] != "" {
		return parts[1]
	}
	return "main"
}
