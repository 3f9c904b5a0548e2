package client

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/CRMbyRSM/PRSM/internal/gateway/protocol"
	"github.com/CRMbyRSM/PRSM/internal/gateway/transport"
)

// Defaults applied to zero-valued Options fields.
const (
	DefaultRequestTimeout       = 30 * time.Second
	DefaultHandshakeTimeout     = 15 * time.Second
	DefaultReconnectBaseDelay   = time.Second
	DefaultMaxReconnectAttempts = 5
)

// Auth selects the credential sent in the connect request.
type Auth struct {
	Mode     string // protocol.AuthModeToken, AuthModePassword or AuthModeNone
	Token    string
	Password string
}

// CallRecord describes one settled RPC call.
type CallRecord struct {
	Method   string
	Duration time.Duration
	Err      error
}

// CallObserver is notified after every call settles. It runs on the calling
// goroutine and must not block.
type CallObserver func(CallRecord)

// Options configures a Client.
type Options struct {
	URL    string
	Auth   Auth
	Client protocol.ClientInfo
	Scopes []string

	RequestTimeout       time.Duration
	HandshakeTimeout     time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int // negative disables automatic reconnection

	Dialer       transport.Dialer
	Logger       *slog.Logger
	CallObserver CallObserver
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.MaxReconnectAttempts < 0 {
		o.MaxReconnectAttempts = 0
	}
	if o.Auth.Mode == "" {
		o.Auth.Mode = protocol.AuthModeToken
	}
	if o.Client.ID == "" {
		o.Client.ID = "prsm"
	}
	if o.Client.DisplayName == "" {
		o.Client.DisplayName = "PRSM"
	}
	if o.Client.Version == "" {
		o.Client.Version = "dev"
	}
	if o.Client.Platform == "" {
		o.Client.Platform = platformName()
	}
	if o.Client.Mode == "" {
		o.Client.Mode = "cli"
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Dialer == nil {
		o.Dialer = &transport.WebSocketDialer{Logger: o.Logger}
	}
	return o
}

func platformName() string {
	switch runtime.GOOS {
	case "darwin":
		return "macos"
	default:
		return runtime.GOOS
	}
}
