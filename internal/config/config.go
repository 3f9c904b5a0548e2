// Package config handles loading and validating the PRSM configuration.
// Config is stored at ~/.prsm/prsm.yaml, with fallback to ~/.prsm/prsm.json
// (JSON with comments) when no YAML file exists.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Config is the top-level PRSM configuration.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway" json:"gateway"`
	Session SessionConfig `yaml:"session" json:"session"`
	Log     LogConfig     `yaml:"log" json:"log"`
	CallLog CallLogConfig `yaml:"callLog" json:"callLog"`
}

// GatewayConfig configures the connection to the agent gateway.
type GatewayConfig struct {
	URL                string          `yaml:"url" json:"url"`
	Auth               GatewayAuth     `yaml:"auth" json:"auth"`
	ClientID           string          `yaml:"clientId" json:"clientId"`
	DisplayName        string          `yaml:"displayName" json:"displayName"`
	Scopes             []string        `yaml:"scopes,omitempty" json:"scopes,omitempty"`
	RequestTimeoutMs   int             `yaml:"requestTimeoutMs" json:"requestTimeoutMs"`
	HandshakeTimeoutMs int             `yaml:"handshakeTimeoutMs" json:"handshakeTimeoutMs"`
	Reconnect          ReconnectConfig `yaml:"reconnect" json:"reconnect"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode     string `yaml:"mode" json:"mode"` // "token", "password", "none"
	Token    string `yaml:"token,omitempty" json:"token,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
}

// ReconnectConfig controls automatic reconnection backoff.
type ReconnectConfig struct {
	BaseDelayMs int `yaml:"baseDelayMs" json:"baseDelayMs"`
	MaxAttempts int `yaml:"maxAttempts" json:"maxAttempts"`
}

// SessionConfig holds session defaults.
type SessionConfig struct {
	DefaultKey string `yaml:"defaultKey" json:"defaultKey"`
}

// LogConfig configures the rotating file logger.
type LogConfig struct {
	Level         string `yaml:"level" json:"level"` // "debug", "info", "warn", "error"
	Dir           string `yaml:"dir,omitempty" json:"dir,omitempty"`
	MaxAgeDays    int    `yaml:"maxAgeDays" json:"maxAgeDays"`
	MaxSizeMB     int    `yaml:"maxSizeMB" json:"maxSizeMB"`
	StderrEnabled bool   `yaml:"stderrEnabled" json:"stderrEnabled"`
}

// CallLogConfig configures the SQLite call ledger.
type CallLogConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Dir        string `yaml:"dir,omitempty" json:"dir,omitempty"`
	MaxAgeDays int    `yaml:"maxAgeDays" json:"maxAgeDays"`
	MaxRecords int    `yaml:"maxRecords" json:"maxRecords"`
}

// Auth modes.
const (
	AuthModeToken    = "token"
	AuthModePassword = "password"
	AuthModeNone     = "none"
)

// DefaultGatewayURL is the gateway a fresh install talks to.
const DefaultGatewayURL = "ws://127.0.0.1:18789"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			URL:                DefaultGatewayURL,
			Auth:               GatewayAuth{Mode: AuthModeToken},
			ClientID:           "prsm",
			DisplayName:        "PRSM",
			RequestTimeoutMs:   30000,
			HandshakeTimeoutMs: 15000,
			Reconnect: ReconnectConfig{
				BaseDelayMs: 1000,
				MaxAttempts: 5,
			},
		},
		Session: SessionConfig{DefaultKey: "main"},
		Log: LogConfig{
			Level:      "info",
			MaxAgeDays: 7,
			MaxSizeMB:  50,
		},
		CallLog: CallLogConfig{
			Enabled:    true,
			MaxAgeDays: 30,
			MaxRecords: 10000,
		},
	}
}

// ConfigDir returns the PRSM config directory (~/.prsm, or $PRSM_HOME).
func ConfigDir() string {
	if v := strings.TrimSpace(os.Getenv("PRSM_HOME")); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".prsm"
	}
	return filepath.Join(home, ".prsm")
}

// StateDir returns the directory for runtime state (current session, call log).
func StateDir() string {
	return filepath.Join(ConfigDir(), "state")
}

// LogDir returns the default log directory.
func LogDir() string {
	return filepath.Join(ConfigDir(), "logs")
}

// ConfigPath returns the path to the main config file.
func ConfigPath() string {
	if envPath := strings.TrimSpace(os.Getenv("PRSM_CONFIG")); envPath != "" {
		return envPath
	}
	dir := ConfigDir()
	yamlPath := filepath.Join(dir, "prsm.yaml")
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath
	}
	jsonPath := filepath.Join(dir, "prsm.json")
	if _, err := os.Stat(jsonPath); err == nil {
		return jsonPath
	}
	return yamlPath
}

// Load reads the config from ConfigPath.
// If the config file doesn't exist, it returns defaults.
func Load() (*Config, error) {
	return LoadFile(ConfigPath())
}

// LoadFile reads and parses the config at path. A missing file yields
// defaults with environment overrides applied.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if isJSON(path) {
		clean := preprocessJSONLike(string(data))
		if err := json.Unmarshal([]byte(clean), cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config to ConfigPath.
func Save(cfg *Config) error {
	return SaveFile(ConfigPath(), cfg)
}

// SaveFile writes the config to path, as JSON when path ends in .json and
// YAML otherwise. The file holds credentials, so it is written 0600.
func SaveFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = marshalConfigYAML(cfg)
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.Gateway.URL)
	switch {
	case strings.TrimSpace(c.Gateway.URL) == "":
		errs = append(errs, errors.New("gateway.url is required"))
	case err != nil:
		errs = append(errs, fmt.Errorf("gateway.url: %w", err))
	case u.Scheme != "ws" && u.Scheme != "wss":
		errs = append(errs, fmt.Errorf("gateway.url: scheme must be ws or wss, got %q", u.Scheme))
	}

	switch c.Gateway.Auth.Mode {
	case AuthModeToken, AuthModePassword, AuthModeNone:
	default:
		errs = append(errs, fmt.Errorf("gateway.auth.mode: unknown mode %q", c.Gateway.Auth.Mode))
	}

	if c.Gateway.RequestTimeoutMs < 0 {
		errs = append(errs, errors.New("gateway.requestTimeoutMs must not be negative"))
	}
	if c.Gateway.HandshakeTimeoutMs < 0 {
		errs = append(errs, errors.New("gateway.handshakeTimeoutMs must not be negative"))
	}
	if c.Gateway.Reconnect.MaxAttempts < 0 {
		errs = append(errs, errors.New("gateway.reconnect.maxAttempts must not be negative"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

// normalize fills zero values left by a partial config file.
func (c *Config) normalize() {
	def := Default()
	if c.Gateway.Auth.Mode == "" {
		c.Gateway.Auth.Mode = def.Gateway.Auth.Mode
	}
	if c.Gateway.ClientID == "" {
		c.Gateway.ClientID = def.Gateway.ClientID
	}
	if c.Gateway.DisplayName == "" {
		c.Gateway.DisplayName = def.Gateway.DisplayName
	}
	if c.Gateway.RequestTimeoutMs == 0 {
		c.Gateway.RequestTimeoutMs = def.Gateway.RequestTimeoutMs
	}
	if c.Gateway.HandshakeTimeoutMs == 0 {
		c.Gateway.HandshakeTimeoutMs = def.Gateway.HandshakeTimeoutMs
	}
	if c.Gateway.Reconnect.BaseDelayMs == 0 {
		c.Gateway.Reconnect.BaseDelayMs = def.Gateway.Reconnect.BaseDelayMs
	}
	if c.Session.DefaultKey == "" {
		c.Session.DefaultKey = def.Session.DefaultKey
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

// ResolvedLogDir returns the configured log dir or the default.
func (c *Config) ResolvedLogDir() string {
	if c.Log.Dir != "" {
		return c.Log.Dir
	}
	return LogDir()
}

// ResolvedCallLogDir returns the configured call log dir or the default.
func (c *Config) ResolvedCallLogDir() string {
	if c.CallLog.Dir != "" {
		return c.CallLog.Dir
	}
	return StateDir()
}

// applyEnvOverrides merges environment variables into configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PRSM_GATEWAY_URL"); v != "" {
		cfg.Gateway.URL = v
	}
	// legacy name used by the gateway's own tooling
	if v := os.Getenv("OPENCLAW_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Token = v
	}
	if v := os.Getenv("PRSM_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Token = v
	}
	if v := os.Getenv("PRSM_GATEWAY_PASSWORD"); v != "" {
		cfg.Gateway.Auth.Password = v
		if os.Getenv("PRSM_GATEWAY_TOKEN") == "" {
			cfg.Gateway.Auth.Mode = AuthModePassword
		}
	}
}

func marshalConfigYAML(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

var trailingCommas = regexp.MustCompile(`,(\s*[}\]])`)

// preprocessJSONLike strips comments and trailing commas.
func preprocessJSONLike(input string) string {
	s := input
	for {
		start := strings.Index(s, "/*")
		if start < 0 {
			break
		}
		end := strings.Index(s[start+2:], "*/")
		if end < 0 {
			s = s[:start]
			break
		}
		end += start + 2
		s = s[:start] + s[end+2:]
	}

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		inString := false
		escape := false
		for j := 0; j < len(line)-1; j++ {
			ch := line[j]
			if ch == '\\' && inString {
				escape = !escape
				continue
			}
			if ch == '"' && !escape {
				inString = !inString
			}
			escape = false
			if !inString && ch == '/' && line[j+1] == '/' {
				line = line[:j]
				break
			}
		}
		lines[i] = strings.TrimRight(line, " \t")
	}
	s = strings.Join(lines, "\n")
	return trailingCommas.ReplaceAllString(s, "$1")
}
