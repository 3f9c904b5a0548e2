package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/CRMbyRSM/PRSM/internal/config"
	"github.com/CRMbyRSM/PRSM/internal/gateway/client"
	"github.com/CRMbyRSM/PRSM/internal/gateway/events"
	"github.com/CRMbyRSM/PRSM/internal/gateway/protocol"
	"github.com/CRMbyRSM/PRSM/internal/gateway/session"
	"github.com/CRMbyRSM/PRSM/internal/system/calllog"
	syslogger "github.com/CRMbyRSM/PRSM/internal/system/logger"
)

// app bundles what a gateway command needs: config, logging and the
// optional call ledger.
type app struct {
	cfg     *config.Config
	cfgPath string
	log     *slog.Logger
	logs    *syslogger.Manager
	calls   *calllog.Store
}

func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return config.ConfigPath()
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (*config.Config, string, error) {
	path := configPath()
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("load config: %w", err)
	}
	if flagURL != "" {
		cfg.Gateway.URL = flagURL
	}
	if flagToken != "" {
		cfg.Gateway.Auth.Mode = config.AuthModeToken
		cfg.Gateway.Auth.Token = flagToken
	}
	if err := cfg.Validate(); err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func newApp() (*app, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, err
	}
	rt := &app{cfg: cfg, cfgPath: path}

	logCfg := syslogger.FromConfig(cfg.Log)
	if flagVerbose {
		logCfg.StderrEnabled = true
		logCfg.Level = slog.LevelDebug
	}
	if mgr, err := syslogger.New(logCfg); err == nil {
		rt.logs = mgr
		rt.log = mgr.NewLogger()
	} else {
		rt.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		rt.log.Warn("file logging unavailable", "error", err)
	}

	if cfg.CallLog.Enabled {
		store, err := calllog.Open(calllog.FromConfig(cfg.CallLog))
		if err != nil {
			rt.log.Warn("call log unavailable", "error", err)
		} else {
			rt.calls = store
		}
	}
	return rt, nil
}

func (rt *app) Close() {
	if rt.calls != nil {
		_ = rt.calls.Close()
	}
	if rt.logs != nil {
		_ = rt.logs.Close()
	}
}

// ClientOptions maps the config file onto client options.
func ClientOptions(cfg *config.Config, log *slog.Logger) client.Options {
	g := cfg.Gateway
	maxAttempts := g.Reconnect.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = -1
	}
	return client.Options{
		URL: g.URL,
		Auth: client.Auth{
			Mode:     g.Auth.Mode,
			Token:    g.Auth.Token,
			Password: g.Auth.Password,
		},
		Client: protocol.ClientInfo{
			ID:          g.ClientID,
			DisplayName: g.DisplayName,
			Version:     version,
			Mode:        "cli",
		},
		Scopes:               g.Scopes,
		RequestTimeout:       millis(g.RequestTimeoutMs),
		HandshakeTimeout:     millis(g.HandshakeTimeoutMs),
		ReconnectBaseDelay:   millis(g.Reconnect.BaseDelayMs),
		MaxReconnectAttempts: maxAttempts,
		Logger:               log,
	}
}

func millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// connect dials the gateway and completes the handshake. The client records
// every call and finalized message in the call ledger when it is enabled.
func (rt *app) connect(ctx context.Context) (*client.Client, error) {
	opts := ClientOptions(rt.cfg, rt.log)
	if rt.calls != nil {
		opts.CallObserver = callObserver(rt.calls, rt.log)
	}
	c := client.New(opts)
	if rt.calls != nil {
		events.Handle(c.Bus(), func(m events.Message) {
			if err := rt.calls.LogMessage(m); err != nil {
				rt.log.Warn("recording message failed", "error", err)
			}
		})
	}

	if _, err := c.Connect(ctx); err != nil {
		c.Disconnect()
		var certErr *client.CertError
		if errors.As(err, &certErr) {
			return nil, fmt.Errorf("%w\n  -> open %s in a browser and trust the certificate, then retry", err, certErr.HTTPSURL)
		}
		return nil, fmt.Errorf("connect to %s: %w", rt.cfg.Gateway.URL, err)
	}
	return c, nil
}

type clientFunc func(ctx context.Context, rt *app, c *client.Client) error

// withClient runs fn against a connected client and tears everything down.
func withClient(cmd *cobra.Command, fn clientFunc) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return withClientContext(ctx, fn)
}

func withClientContext(ctx context.Context, fn clientFunc) error {
	rt, err := newApp()
	if err != nil {
		return err
	}
	defer rt.Close()
	c, err := rt.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Disconnect()
	return fn(ctx, rt, c)
}

func callObserver(store *calllog.Store, log *slog.Logger) client.CallObserver {
	return func(rec client.CallRecord) {
		call := callFromRecord(rec)
		if err := store.Log(&call); err != nil {
			log.Warn("recording call failed", "method", rec.Method, "error", err)
		}
	}
}

func callFromRecord(rec client.CallRecord) calllog.Call {
	call := calllog.Call{
		Method:     rec.Method,
		Status:     calllog.StatusOK,
		DurationMs: rec.Duration.Milliseconds(),
	}
	if rec.Err == nil {
		return call
	}
	call.Status = calllog.StatusError
	call.ErrorMessage = rec.Err.Error()
	var failed *client.RequestFailedError
	var timeout *client.RequestTimeoutError
	switch {
	case errors.As(rec.Err, &failed):
		call.ErrorCode = failed.Code
		call.ErrorMessage = failed.Message
	case errors.As(rec.Err, &timeout):
		call.ErrorCode = "TIMEOUT"
	}
	return call
}

// resolveSessionKey picks the session a command acts on: the flag, then the
// persisted current session, then the configured default.
func resolveSessionKey(flag string, cfg *config.Config) string {
	if k := strings.TrimSpace(flag); k != "" {
		return k
	}
	if k, err := session.Current(); err == nil && k != "" {
		return k
	}
	if cfg != nil && cfg.Session.DefaultKey != "" {
		return cfg.Session.DefaultKey
	}
	return "main"
}
