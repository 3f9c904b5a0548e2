package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/CRMbyRSM/PRSM/internal/gateway/transport"
)

var (
	// ErrNotConnected is returned by Call before the handshake completes.
	ErrNotConnected = errors.New("gateway: not connected")
	// ErrConnectionClosed fails calls still pending when the connection drops.
	ErrConnectionClosed = errors.New("gateway: connection closed")
	// ErrClientClosed fails work interrupted by Disconnect.
	ErrClientClosed = errors.New("gateway: client disconnected")
	// ErrConnectInProgress is returned by Connect while another attempt runs.
	ErrConnectInProgress = errors.New("gateway: connect already in progress")
	// ErrHandshakeTimeout is returned when no hello arrives in time.
	ErrHandshakeTimeout = errors.New("gateway: handshake timed out")
	// ErrReconnectExhausted is reported once automatic reconnection gives up.
	ErrReconnectExhausted = errors.New("gateway: reconnect attempts exhausted")
)

// TransportError and CertError are produced by the transport layer.
type (
	TransportError = transport.TransportError
	CertError      = transport.CertError
)

const defaultHandshakeMessage = "gateway rejected the connection"

// HandshakeError is a rejected or malformed pre-authentication exchange.
type HandshakeError struct {
	Code    string
	Message string
}

func (e *HandshakeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("handshake failed: %s (%s)", e.Message, e.Code)
	}
	return "handshake failed: " + e.Message
}

// RequestTimeoutError reports a call that got no response in time.
type RequestTimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("request %s timed out after %s", e.Method, e.Timeout)
}

// RequestFailedError is a response with ok=false.
type RequestFailedError struct {
	Method  string
	Code    string
	Message string
	Details json.RawMessage
}

func (e *RequestFailedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s failed: %s (%s)", e.Method, e.Message, e.Code)
	}
	return fmt.Sprintf("%s failed: %s", e.Method, e.Message)
}

// ReconnectError wraps the last failure once reconnection has given up.
type ReconnectError struct {
	Attempts int
	Last     error
}

func (e *ReconnectError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("%v after %d attempts: %v", ErrReconnectExhausted, e.Attempts, e.Last)
	}
	return fmt.Sprintf("%v after %d attempts", ErrReconnectExhausted, e.Attempts)
}

func (e *ReconnectError) Unwrap() []error {
	if e.Last == nil {
		return []error{ErrReconnectExhausted}
	}
	return []error{ErrReconnectExhausted, e.Last}
}
